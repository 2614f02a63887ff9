package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ducminhle1904/crypto-grid-bot/internal/orders"
	"github.com/ducminhle1904/crypto-grid-bot/internal/risk"
	"github.com/ducminhle1904/crypto-grid-bot/internal/volatility"
)

// SnapshotVersion is bumped whenever the snapshot layout changes shape.
const SnapshotVersion = 1

// Snapshot is the full durable state of one symbol controller. It is written
// after every trade and every completed cycle so a restart resumes exactly
// where the previous process stopped.
type Snapshot struct {
	Version             int              `json:"version"`
	Symbol              string           `json:"symbol"`
	BasePrice           float64          `json:"base_price"`
	GridSizePct         float64          `json:"grid_size_pct"`
	PositionRatio       float64          `json:"position_ratio"`
	HighestProfitRatio  float64          `json:"highest_profit_ratio"`
	ConsecutiveFailures int              `json:"consecutive_failures"`
	LastTradeTime       time.Time        `json:"last_trade_time"`
	InitialEquity       float64          `json:"initial_equity"`
	Risk                risk.State       `json:"risk"`
	Volatility          volatility.State `json:"volatility"`
	Orders              []orders.Record  `json:"orders"`
	UpdatedAt           time.Time        `json:"updated_at"`
}

// Store persists per-symbol snapshots as JSON files under a state directory.
// Writes go through a temp file plus rename so a crash mid-write can never
// leave a truncated snapshot behind.
type Store struct {
	dir string
}

// NewStore creates the state directory if needed and returns a store
func NewStore(dir string) (*Store, error) {
	if dir == "" {
		dir = "state"
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

// path maps a symbol to its snapshot file, e.g. BTCUSDT -> btcusdt_state.json
func (s *Store) path(symbol string) string {
	name := strings.ToLower(symbol) + "_state.json"
	return filepath.Join(s.dir, name)
}

// Save atomically writes the snapshot for its symbol
func (s *Store) Save(snap *Snapshot) error {
	if snap.Symbol == "" {
		return fmt.Errorf("cannot save snapshot without a symbol")
	}
	snap.Version = SnapshotVersion
	snap.UpdatedAt = time.Now()

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	final := s.path(snap.Symbol)
	tmp := final + ".tmp"

	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write snapshot temp file: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to commit snapshot: %w", err)
	}
	return nil
}

// Load reads the snapshot for a symbol. A missing file is a clean first run
// and returns (nil, nil); a present but unreadable or corrupt file is an
// error so the caller can refuse to trade on unknown state.
func (s *Store) Load(symbol string) (*Snapshot, error) {
	data, err := os.ReadFile(s.path(symbol))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read snapshot for %s: %w", symbol, err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("snapshot for %s is corrupt: %w", symbol, err)
	}
	if snap.Symbol != symbol {
		return nil, fmt.Errorf("snapshot symbol mismatch: file holds %q, expected %q", snap.Symbol, symbol)
	}
	return &snap, nil
}

// Delete removes the snapshot for a symbol. Missing files are not an error.
func (s *Store) Delete(symbol string) error {
	err := os.Remove(s.path(symbol))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete snapshot for %s: %w", symbol, err)
	}
	return nil
}
