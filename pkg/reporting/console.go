package reporting

import (
	"fmt"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
)

// SymbolStatus is one row of the periodic console status table.
type SymbolStatus struct {
	Symbol        string
	Phase         string
	Price         float64
	BasePrice     float64
	GridPct       float64
	Volatility    float64
	PositionRatio float64
	ProfitRatio   float64
	Failures      int
	Halted        bool
	HaltReason    string
}

// ConsoleReporter renders bot status to stdout
type ConsoleReporter struct{}

// NewConsoleReporter creates a console reporter
func NewConsoleReporter() *ConsoleReporter {
	return &ConsoleReporter{}
}

// PrintStartup prints the startup banner with the configured symbols
func (r *ConsoleReporter) PrintStartup(exchangeName string, symbols []string) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetTitle("GRID BOT INITIALIZATION")
	t.SetStyle(table.StyleRounded)

	t.AppendRows([]table.Row{
		{"🏦 Exchange", exchangeName},
		{"📊 Symbols", fmt.Sprintf("%v", symbols)},
		{"⏰ Started", time.Now().Format("2006-01-02 15:04:05")},
	})

	t.Render()
}

// PrintStatus prints the per-symbol status table
func (r *ConsoleReporter) PrintStatus(statuses []SymbolStatus) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetTitle("GRID BOT STATUS @ " + time.Now().Format("15:04:05"))
	t.SetStyle(table.StyleRounded)

	t.AppendHeader(table.Row{"Symbol", "Phase", "Price", "Base", "Grid", "Vol", "Position", "P&L", "Fails"})

	for _, s := range statuses {
		phase := s.Phase
		if s.Halted {
			phase = "🛑 " + phase
		}
		t.AppendRow(table.Row{
			s.Symbol,
			phase,
			fmt.Sprintf("$%.4f", s.Price),
			fmt.Sprintf("$%.4f", s.BasePrice),
			fmt.Sprintf("%.2f%%", s.GridPct*100),
			fmt.Sprintf("%.3f", s.Volatility),
			fmt.Sprintf("%.1f%%", s.PositionRatio*100),
			fmt.Sprintf("%+.2f%%", s.ProfitRatio*100),
			s.Failures,
		})
	}

	t.Render()

	for _, s := range statuses {
		if s.Halted && s.HaltReason != "" {
			fmt.Printf("🛑 %s halted: %s\n", s.Symbol, s.HaltReason)
		}
	}
}
