package advisory

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// maxSignalAge guards against acting on a signal from a dead producer.
const maxSignalAge = time.Hour

// FileProvider reads advisory signals from per-symbol JSON files written by
// an external process, e.g. signals/btcusdt.json. A missing file means no
// opinion; a stale file is ignored.
type FileProvider struct {
	dir string
}

// NewFileProvider creates a provider reading signals from the given directory
func NewFileProvider(dir string) *FileProvider {
	return &FileProvider{dir: dir}
}

// Fetch reads the current signal for a symbol
func (p *FileProvider) Fetch(ctx context.Context, symbol string) (*Signal, error) {
	path := filepath.Join(p.dir, strings.ToLower(symbol)+".json")

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to stat signal file: %w", err)
	}
	if time.Since(info.ModTime()) > maxSignalAge {
		return nil, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read signal file: %w", err)
	}

	var sig Signal
	if err := json.Unmarshal(data, &sig); err != nil {
		return nil, fmt.Errorf("signal file for %s is malformed: %w", symbol, err)
	}

	switch sig.Action {
	case ActionHold, ActionBuy, ActionSell:
	default:
		return nil, fmt.Errorf("unknown signal action: %q", sig.Action)
	}

	return &sig, nil
}
