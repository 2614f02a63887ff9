package bot

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ducminhle1904/crypto-grid-bot/internal/advisory"
	"github.com/ducminhle1904/crypto-grid-bot/internal/config"
	"github.com/ducminhle1904/crypto-grid-bot/internal/controller"
	"github.com/ducminhle1904/crypto-grid-bot/internal/exchange"
	"github.com/ducminhle1904/crypto-grid-bot/internal/exchange/bybit"
	"github.com/ducminhle1904/crypto-grid-bot/internal/logger"
	"github.com/ducminhle1904/crypto-grid-bot/internal/monitoring"
	"github.com/ducminhle1904/crypto-grid-bot/internal/orders"
	"github.com/ducminhle1904/crypto-grid-bot/internal/risk"
	"github.com/ducminhle1904/crypto-grid-bot/internal/safety"
	"github.com/ducminhle1904/crypto-grid-bot/internal/state"
	"github.com/ducminhle1904/crypto-grid-bot/internal/strategy"
	"github.com/ducminhle1904/crypto-grid-bot/internal/volatility"
	"github.com/ducminhle1904/crypto-grid-bot/pkg/reporting"
)

// quoteAssets lists the quote currencies recognized in symbol names,
// longest first so USDT wins over USD.
var quoteAssets = []string{"USDT", "USDC", "USD", "BTC", "ETH", "EUR"}

// Supervisor owns the shared exchange client and one controller goroutine
// per configured symbol. A halted or crashed symbol never affects the rest.
type Supervisor struct {
	cfg     *config.Config
	ex      exchange.Exchange
	health  *monitoring.HealthChecker
	console *reporting.ConsoleReporter

	controllers []*controller.Controller
	loggers     []*logger.Logger
}

// NewSupervisor wires the exchange client, rate limiter and per-symbol
// controllers from configuration.
func NewSupervisor(cfg *config.Config, health *monitoring.HealthChecker) (*Supervisor, error) {
	client, err := bybit.NewClient(bybit.Config{
		APIKey:    cfg.Exchange.Bybit.APIKey,
		APISecret: cfg.Exchange.Bybit.APISecret,
		Testnet:   cfg.Exchange.Bybit.Testnet,
		Demo:      cfg.Exchange.Bybit.Demo,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create exchange client: %w", err)
	}

	limiter := safety.NewRateLimiter("exchange", cfg.Bot.RateLimitCapacity, cfg.Bot.RateLimitRefill)
	ex := exchange.NewRateLimited(client, limiter, time.Duration(cfg.Bot.CallTimeoutSeconds)*time.Second)

	store, err := state.NewStore(cfg.Bot.StateDir)
	if err != nil {
		return nil, fmt.Errorf("failed to create state store: %w", err)
	}

	advisor := advisory.NewFileProvider(cfg.Bot.SignalDir)

	s := &Supervisor{
		cfg:     cfg,
		ex:      ex,
		health:  health,
		console: reporting.NewConsoleReporter(),
	}

	for _, sym := range cfg.Symbols {
		ctrl, log, err := s.buildController(sym, ex, store, advisor)
		if err != nil {
			s.closeLoggers()
			return nil, fmt.Errorf("failed to build controller for %s: %w", sym.Symbol, err)
		}
		s.controllers = append(s.controllers, ctrl)
		s.loggers = append(s.loggers, log)
	}

	return s, nil
}

// buildController assembles one symbol's engine stack
func (s *Supervisor) buildController(
	sym config.SymbolConfig,
	ex exchange.Exchange,
	store *state.Store,
	advisor advisory.Provider,
) (*controller.Controller, *logger.Logger, error) {
	log, err := logger.NewLogger(s.cfg.Bot.LogDir, sym.Symbol)
	if err != nil {
		return nil, nil, err
	}

	volEngine, err := volatility.NewEngine(sym.Volatility)
	if err != nil {
		return nil, nil, err
	}
	sizer, err := strategy.NewGridSizer(sym.Grid)
	if err != nil {
		return nil, nil, err
	}
	riskMgr, err := risk.NewManager(sym.Risk.ToRiskConfig())
	if err != nil {
		return nil, nil, err
	}
	tracker, err := orders.NewTracker(sym.Symbol, ex, sym.Orders.ToOrderConfig(), log)
	if err != nil {
		return nil, nil, err
	}

	base, quote, err := splitSymbol(sym.Symbol)
	if err != nil {
		return nil, nil, err
	}

	intervals := make([]controller.IntervalRule, 0, len(sym.Intervals))
	for _, rule := range sym.Intervals {
		intervals = append(intervals, controller.IntervalRule{
			MinVolatility: rule.MinVolatility,
			Interval:      time.Duration(rule.Seconds) * time.Second,
		})
	}

	ctrl, err := controller.New(
		controller.Config{
			Symbol:           sym.Symbol,
			BaseAsset:        base,
			QuoteAsset:       quote,
			OrderQuantity:    sym.OrderQuantity,
			MaxPositionRatio: sym.MaxPositionRatio,
			CandleInterval:   sym.CandleInterval,
			Intervals:        intervals,
		},
		ex, volEngine, sizer, riskMgr, tracker, store, log, advisor, sym.Advisory,
	)
	if err != nil {
		return nil, nil, err
	}

	return ctrl, log, nil
}

// Run starts all controllers and blocks until the context is cancelled and
// every controller has finished its in-flight cycle.
func (s *Supervisor) Run(ctx context.Context) error {
	symbols := make([]string, 0, len(s.controllers))
	for _, c := range s.controllers {
		symbols = append(symbols, c.Symbol())
	}
	s.console.PrintStartup(s.ex.GetName(), symbols)

	var wg sync.WaitGroup
	for _, c := range s.controllers {
		wg.Add(1)
		go func(c *controller.Controller) {
			defer wg.Done()
			c.Run(ctx)
		}(c)
	}

	refresh := time.Duration(s.cfg.Bot.StatusRefreshSeconds) * time.Second
	ticker := time.NewTicker(refresh)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			s.shutdown()
			return nil
		case <-ticker.C:
			statuses := s.statuses()
			s.console.PrintStatus(statuses)
			s.publishHealth()
		}
	}
}

// statuses collects a reporting row per controller
func (s *Supervisor) statuses() []reporting.SymbolStatus {
	statuses := make([]reporting.SymbolStatus, 0, len(s.controllers))
	for _, c := range s.controllers {
		st := c.Status()
		statuses = append(statuses, reporting.SymbolStatus{
			Symbol:        c.Symbol(),
			Phase:         string(st.Phase),
			Price:         st.CurrentPrice,
			BasePrice:     st.BasePrice,
			GridPct:       st.GridSizePct,
			Volatility:    st.Volatility,
			PositionRatio: st.PositionRatio,
			ProfitRatio:   st.CurrentProfitRatio,
			Failures:      st.ConsecutiveFailures,
			Halted:        st.Phase == controller.PhaseHalted,
			HaltReason:    st.HaltReason,
		})
	}
	return statuses
}

// publishHealth pushes each controller's status into the health endpoint
func (s *Supervisor) publishHealth() {
	for _, c := range s.controllers {
		st := c.Status()
		s.health.Update(c.Symbol(), monitoring.SymbolHealth{
			Phase:         string(st.Phase),
			Halted:        st.Phase == controller.PhaseHalted,
			LastCycle:     st.LastCycleTime,
			LastTrade:     st.LastTradeTime,
			LastError:     st.HaltReason,
			CurrentPrice:  st.CurrentPrice,
			BasePrice:     st.BasePrice,
			PositionRatio: st.PositionRatio,
		})
	}
}

// shutdown exports the session trade history and closes per-symbol logs
func (s *Supervisor) shutdown() {
	history := make(map[string][]orders.Record)
	for _, c := range s.controllers {
		if records := c.TradeHistory(); len(records) > 0 {
			history[c.Symbol()] = records
		}
	}

	if len(history) > 0 {
		path := filepath.Join(s.cfg.Bot.ReportDir,
			fmt.Sprintf("trades_%s.xlsx", time.Now().Format("2006-01-02_150405")))
		if err := reporting.NewExcelReporter().WriteTradeHistory(history, path); err != nil {
			fmt.Printf("⚠️  Trade history export failed: %v\n", err)
		} else {
			fmt.Printf("📄 Trade history written to %s\n", path)
		}
	}

	s.closeLoggers()
}

func (s *Supervisor) closeLoggers() {
	for _, log := range s.loggers {
		log.Close()
	}
}

// splitSymbol derives base and quote assets from a concatenated pair name
func splitSymbol(symbol string) (string, string, error) {
	upper := strings.ToUpper(symbol)
	for _, quote := range quoteAssets {
		if strings.HasSuffix(upper, quote) && len(upper) > len(quote) {
			return upper[:len(upper)-len(quote)], quote, nil
		}
	}
	return "", "", fmt.Errorf("cannot derive base/quote assets from symbol %q", symbol)
}
