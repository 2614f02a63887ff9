package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ducminhle1904/crypto-grid-bot/internal/advisory"
	"github.com/ducminhle1904/crypto-grid-bot/internal/orders"
	"github.com/ducminhle1904/crypto-grid-bot/internal/risk"
	"github.com/ducminhle1904/crypto-grid-bot/internal/strategy"
	"github.com/ducminhle1904/crypto-grid-bot/internal/volatility"
)

// Config represents the complete configuration for the grid trading bot
type Config struct {
	// Exchange connection
	Exchange ExchangeConfig `json:"exchange"`

	// Process-wide bot settings
	Bot BotConfig `json:"bot"`

	// Monitoring endpoints (optional)
	Monitoring MonitoringConfig `json:"monitoring"`

	// Per-symbol trading configuration
	Symbols []SymbolConfig `json:"symbols"`
}

// ExchangeConfig holds exchange selection and credentials
type ExchangeConfig struct {
	Name  string       `json:"name"` // currently only "bybit"
	Bybit *BybitConfig `json:"bybit,omitempty"`
}

// BybitConfig holds Bybit-specific settings. Credentials are filled from the
// environment, never from the config file.
type BybitConfig struct {
	APIKey    string `json:"-"`
	APISecret string `json:"-"`
	Testnet   bool   `json:"testnet"`
	Demo      bool   `json:"demo"`
}

// BotConfig holds process-wide settings
type BotConfig struct {
	LogDir               string `json:"log_dir"`
	StateDir             string `json:"state_dir"`
	ReportDir            string `json:"report_dir"`
	SignalDir            string `json:"signal_dir"` // advisory signal files, one per symbol
	StatusRefreshSeconds int    `json:"status_refresh_seconds"` // console status table period
	RateLimitCapacity    int    `json:"rate_limit_capacity"`    // token bucket burst size
	RateLimitRefill      int    `json:"rate_limit_refill"`      // tokens per second
	CallTimeoutSeconds   int    `json:"call_timeout_seconds"`   // per-API-call deadline
}

// MonitoringConfig holds the metrics and health endpoint settings
type MonitoringConfig struct {
	Enabled     bool `json:"enabled"`
	MetricsPort int  `json:"metrics_port"`
	HealthPort  int  `json:"health_port"`
}

// SymbolConfig holds the full trading configuration for one symbol
type SymbolConfig struct {
	Symbol           string  `json:"symbol"`             // e.g. BTCUSDT
	OrderQuantity    float64 `json:"order_quantity"`     // base-asset quantity per grid trade
	MaxPositionRatio float64 `json:"max_position_ratio"` // buy cutoff as a fraction of equity
	CandleInterval   string  `json:"candle_interval"`    // Bybit notation, "240" for 4h

	Grid       strategy.GridSizerConfig `json:"grid"`
	Volatility volatility.Config        `json:"volatility"`
	Risk       RiskSettings             `json:"risk"`
	Orders     OrderSettings            `json:"orders"`
	Advisory   advisory.Policy          `json:"advisory"`
	Intervals  []IntervalRule           `json:"intervals"` // volatility-keyed cycle cadence
}

// RiskSettings mirrors risk.Config with durations in whole seconds so the
// JSON file stays human-editable.
type RiskSettings struct {
	StopLossThreshold         float64 `json:"stop_loss_threshold"`
	DrawdownThreshold         float64 `json:"drawdown_threshold"`
	EmergencyRetries          int     `json:"emergency_retries"`
	EmergencyRetryDelaySecond int     `json:"emergency_retry_delay_seconds"`
	ConsecutiveFailureLimit   int     `json:"consecutive_failure_limit"`
}

// ToRiskConfig converts the settings to the risk package's configuration
func (r RiskSettings) ToRiskConfig() risk.Config {
	return risk.Config{
		StopLossThreshold:       r.StopLossThreshold,
		DrawdownThreshold:       r.DrawdownThreshold,
		EmergencyRetries:        r.EmergencyRetries,
		EmergencyRetryDelay:     time.Duration(r.EmergencyRetryDelaySecond) * time.Second,
		ConsecutiveFailureLimit: r.ConsecutiveFailureLimit,
	}
}

// OrderSettings mirrors orders.Config with durations in milliseconds.
type OrderSettings struct {
	MaxRetries       int `json:"max_retries"`
	InitialBackoffMs int `json:"initial_backoff_ms"`
	MaxBackoffMs     int `json:"max_backoff_ms"`
	PollIntervalMs   int `json:"poll_interval_ms"`
	PollAttempts     int `json:"poll_attempts"`
	ArchiveSize      int `json:"archive_size"`
}

// ToOrderConfig converts the settings to the orders package's configuration
func (o OrderSettings) ToOrderConfig() orders.Config {
	return orders.Config{
		MaxRetries:     o.MaxRetries,
		InitialBackoff: time.Duration(o.InitialBackoffMs) * time.Millisecond,
		MaxBackoff:     time.Duration(o.MaxBackoffMs) * time.Millisecond,
		PollInterval:   time.Duration(o.PollIntervalMs) * time.Millisecond,
		PollAttempts:   o.PollAttempts,
		ArchiveSize:    o.ArchiveSize,
	}
}

// IntervalRule maps a volatility floor to a cycle cadence. The rule with the
// highest MinVolatility not exceeding the current estimate wins.
type IntervalRule struct {
	MinVolatility float64 `json:"min_volatility"`
	Seconds       int     `json:"seconds"`
}

// Load loads configuration from file and applies environment credentials
func Load(configFile string) (*Config, error) {
	// If config file doesn't contain path separators, look in configs/ directory
	if !strings.ContainsAny(configFile, "/\\") {
		configFile = filepath.Join("configs", configFile)
	}
	if !strings.HasSuffix(configFile, ".json") {
		configFile += ".json"
	}

	data, err := os.ReadFile(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
	}

	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.applyEnvironment()

	if err := config.setDefaults(); err != nil {
		return nil, fmt.Errorf("failed to set config defaults: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// applyEnvironment fills credentials from environment variables
func (c *Config) applyEnvironment() {
	if strings.ToLower(c.Exchange.Name) == "bybit" {
		if c.Exchange.Bybit == nil {
			c.Exchange.Bybit = &BybitConfig{}
		}
		c.Exchange.Bybit.APIKey = os.Getenv("BYBIT_API_KEY")
		c.Exchange.Bybit.APISecret = os.Getenv("BYBIT_API_SECRET")
	}
}

// setDefaults sets default values for missing configuration
func (c *Config) setDefaults() error {
	if c.Exchange.Name == "" {
		c.Exchange.Name = "bybit"
	}

	if c.Bot.LogDir == "" {
		c.Bot.LogDir = "logs"
	}
	if c.Bot.StateDir == "" {
		c.Bot.StateDir = "state"
	}
	if c.Bot.ReportDir == "" {
		c.Bot.ReportDir = "reports"
	}
	if c.Bot.SignalDir == "" {
		c.Bot.SignalDir = "signals"
	}
	if c.Bot.StatusRefreshSeconds == 0 {
		c.Bot.StatusRefreshSeconds = 60
	}
	if c.Bot.RateLimitCapacity == 0 {
		c.Bot.RateLimitCapacity = 10
	}
	if c.Bot.RateLimitRefill == 0 {
		c.Bot.RateLimitRefill = 5
	}
	if c.Bot.CallTimeoutSeconds == 0 {
		c.Bot.CallTimeoutSeconds = 15
	}

	if c.Monitoring.MetricsPort == 0 {
		c.Monitoring.MetricsPort = 9090
	}
	if c.Monitoring.HealthPort == 0 {
		c.Monitoring.HealthPort = 8080
	}

	for i := range c.Symbols {
		s := &c.Symbols[i]

		if s.CandleInterval == "" {
			s.CandleInterval = "240"
		}
		if s.MaxPositionRatio == 0 {
			s.MaxPositionRatio = 0.8
		}
		if s.Grid == (strategy.GridSizerConfig{}) {
			s.Grid = strategy.DefaultGridSizerConfig()
		}
		if s.Volatility == (volatility.Config{}) {
			s.Volatility = volatility.DefaultConfig()
		}
		if s.Risk == (RiskSettings{}) {
			def := risk.DefaultConfig()
			s.Risk = RiskSettings{
				StopLossThreshold:         def.StopLossThreshold,
				DrawdownThreshold:         def.DrawdownThreshold,
				EmergencyRetries:          def.EmergencyRetries,
				EmergencyRetryDelaySecond: int(def.EmergencyRetryDelay / time.Second),
				ConsecutiveFailureLimit:   def.ConsecutiveFailureLimit,
			}
		}
		if s.Orders == (OrderSettings{}) {
			def := orders.DefaultConfig()
			s.Orders = OrderSettings{
				MaxRetries:       def.MaxRetries,
				InitialBackoffMs: int(def.InitialBackoff / time.Millisecond),
				MaxBackoffMs:     int(def.MaxBackoff / time.Millisecond),
				PollIntervalMs:   int(def.PollInterval / time.Millisecond),
				PollAttempts:     def.PollAttempts,
				ArchiveSize:      def.ArchiveSize,
			}
		}
		if s.Advisory == (advisory.Policy{}) {
			s.Advisory = advisory.DefaultPolicy()
		}
		if len(s.Intervals) == 0 {
			// Calmer markets cycle slower
			s.Intervals = []IntervalRule{
				{MinVolatility: 0, Seconds: 300},
				{MinVolatility: 0.40, Seconds: 120},
				{MinVolatility: 0.80, Seconds: 60},
			}
		}
	}

	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if strings.ToLower(c.Exchange.Name) != "bybit" {
		return fmt.Errorf("unsupported exchange: %q", c.Exchange.Name)
	}
	if c.Exchange.Bybit == nil || c.Exchange.Bybit.APIKey == "" || c.Exchange.Bybit.APISecret == "" {
		return fmt.Errorf("bybit credentials missing: set BYBIT_API_KEY and BYBIT_API_SECRET")
	}

	if len(c.Symbols) == 0 {
		return fmt.Errorf("at least one symbol must be configured")
	}

	seen := make(map[string]bool)
	for _, s := range c.Symbols {
		if s.Symbol == "" {
			return fmt.Errorf("symbol name is required")
		}
		if seen[s.Symbol] {
			return fmt.Errorf("duplicate symbol: %s", s.Symbol)
		}
		seen[s.Symbol] = true

		if s.OrderQuantity <= 0 {
			return fmt.Errorf("%s: order_quantity must be greater than 0", s.Symbol)
		}
		if s.MaxPositionRatio <= 0 || s.MaxPositionRatio > 1.0 {
			return fmt.Errorf("%s: max_position_ratio must be between 0 and 1.0", s.Symbol)
		}

		if err := s.Grid.Validate(); err != nil {
			return fmt.Errorf("%s: %w", s.Symbol, err)
		}
		if err := s.Volatility.Validate(); err != nil {
			return fmt.Errorf("%s: %w", s.Symbol, err)
		}
		if err := s.Risk.ToRiskConfig().Validate(); err != nil {
			return fmt.Errorf("%s: %w", s.Symbol, err)
		}
		if err := s.Orders.ToOrderConfig().Validate(); err != nil {
			return fmt.Errorf("%s: %w", s.Symbol, err)
		}
		if err := s.Advisory.Validate(); err != nil {
			return fmt.Errorf("%s: %w", s.Symbol, err)
		}

		for _, rule := range s.Intervals {
			if rule.Seconds <= 0 {
				return fmt.Errorf("%s: interval rule seconds must be positive", s.Symbol)
			}
			if rule.MinVolatility < 0 {
				return fmt.Errorf("%s: interval rule min_volatility cannot be negative", s.Symbol)
			}
		}
	}

	return nil
}
