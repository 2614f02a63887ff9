package monitoring

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

var startTime = time.Now()

// SymbolHealth is one controller's view in the health report.
type SymbolHealth struct {
	Phase         string    `json:"phase"`
	Halted        bool      `json:"halted"`
	LastCycle     time.Time `json:"last_cycle"`
	LastTrade     time.Time `json:"last_trade,omitempty"`
	LastError     string    `json:"last_error,omitempty"`
	CurrentPrice  float64   `json:"current_price"`
	BasePrice     float64   `json:"base_price"`
	PositionRatio float64   `json:"position_ratio"`
}

// HealthChecker aggregates per-symbol controller status into one HTTP
// endpoint. Controllers push updates after each cycle.
type HealthChecker struct {
	mu      sync.RWMutex
	symbols map[string]SymbolHealth
}

// HealthStatus is the JSON body served at the health endpoint.
type HealthStatus struct {
	Status    string                  `json:"status"`
	Timestamp time.Time               `json:"timestamp"`
	Uptime    string                  `json:"uptime"`
	Symbols   map[string]SymbolHealth `json:"symbols"`
}

// NewHealthChecker creates an empty health checker
func NewHealthChecker() *HealthChecker {
	return &HealthChecker{
		symbols: make(map[string]SymbolHealth),
	}
}

// Update records the latest status for a symbol
func (h *HealthChecker) Update(symbol string, status SymbolHealth) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.symbols[symbol] = status
}

func (h *HealthChecker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	status := "healthy"
	code := http.StatusOK

	allHalted := len(h.symbols) > 0
	for _, s := range h.symbols {
		if s.Halted {
			status = "degraded"
		} else {
			allHalted = false
		}
	}
	if allHalted && len(h.symbols) > 0 {
		status = "unhealthy"
		code = http.StatusServiceUnavailable
	}

	symbols := make(map[string]SymbolHealth, len(h.symbols))
	for k, v := range h.symbols {
		symbols[k] = v
	}

	health := HealthStatus{
		Status:    status,
		Timestamp: time.Now(),
		Uptime:    time.Since(startTime).String(),
		Symbols:   symbols,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(health)
}
