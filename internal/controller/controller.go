package controller

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/ducminhle1904/crypto-grid-bot/internal/advisory"
	boterrors "github.com/ducminhle1904/crypto-grid-bot/internal/errors"
	"github.com/ducminhle1904/crypto-grid-bot/internal/exchange"
	"github.com/ducminhle1904/crypto-grid-bot/internal/logger"
	"github.com/ducminhle1904/crypto-grid-bot/internal/monitoring"
	"github.com/ducminhle1904/crypto-grid-bot/internal/orders"
	"github.com/ducminhle1904/crypto-grid-bot/internal/risk"
	"github.com/ducminhle1904/crypto-grid-bot/internal/state"
	"github.com/ducminhle1904/crypto-grid-bot/internal/strategy"
	"github.com/ducminhle1904/crypto-grid-bot/internal/volatility"
	"github.com/ducminhle1904/crypto-grid-bot/pkg/types"
)

// Phase identifies where in the trading cycle a controller currently is.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseFetching   Phase = "fetching"
	PhaseDeciding   Phase = "deciding"
	PhaseExecuting  Phase = "executing"
	PhasePersisting Phase = "persisting"
	PhaseHalted     Phase = "halted"
)

const fetchAttempts = 3

// IntervalRule maps a volatility floor to a cycle cadence.
type IntervalRule struct {
	MinVolatility float64
	Interval      time.Duration
}

// Config holds the per-symbol controller parameters.
type Config struct {
	Symbol           string
	BaseAsset        string // e.g. BTC for BTCUSDT
	QuoteAsset       string // e.g. USDT for BTCUSDT
	OrderQuantity    float64
	MaxPositionRatio float64
	CandleInterval   string
	Intervals        []IntervalRule
}

// Validate checks the configuration bounds
func (c Config) Validate() error {
	if c.Symbol == "" || c.BaseAsset == "" || c.QuoteAsset == "" {
		return fmt.Errorf("symbol and asset names are required")
	}
	if c.OrderQuantity <= 0 {
		return fmt.Errorf("order quantity must be positive, got: %.8f", c.OrderQuantity)
	}
	if c.MaxPositionRatio <= 0 || c.MaxPositionRatio > 1.0 {
		return fmt.Errorf("max position ratio must be between 0 and 1.0, got: %.4f", c.MaxPositionRatio)
	}
	if len(c.Intervals) == 0 {
		return fmt.Errorf("at least one interval rule is required")
	}
	return nil
}

// GridState is the controller's mutable trading state. A copy of it forms
// the persisted snapshot.
type GridState struct {
	Phase               Phase
	BasePrice           float64
	GridSizePct         float64
	CurrentPrice        float64
	Volatility          float64
	PositionRatio       float64
	HighestProfitRatio  float64
	CurrentProfitRatio  float64
	ConsecutiveFailures int
	LastTradeTime       time.Time
	LastCycleTime       time.Time
	InitialEquity       float64
	Risk                risk.State
	HaltReason          string
}

// Controller runs the trading cycle for one symbol: fetch market data,
// evaluate risk, check grid triggers, execute, persist. One goroutine per
// controller; all cross-goroutine reads go through Status.
type Controller struct {
	cfg          Config
	ex           exchange.Exchange
	vol          *volatility.Engine
	sizer        *strategy.GridSizer
	riskMgr      *risk.Manager
	tracker      *orders.Tracker
	store        *state.Store
	log          *logger.Logger
	advisor      advisory.Provider
	policy       advisory.Policy
	failureLimit int

	mu         sync.Mutex
	st         GridState
	reconciled bool
}

// New builds a controller and restores its persisted snapshot. A corrupt
// snapshot does not fail construction: the controller starts halted so the
// operator can inspect the state file before any order is placed.
func New(
	cfg Config,
	ex exchange.Exchange,
	vol *volatility.Engine,
	sizer *strategy.GridSizer,
	riskMgr *risk.Manager,
	tracker *orders.Tracker,
	store *state.Store,
	log *logger.Logger,
	advisor advisory.Provider,
	policy advisory.Policy,
) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("controller config validation failed: %w", err)
	}
	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("advisory policy validation failed: %w", err)
	}

	c := &Controller{
		cfg:          cfg,
		ex:           ex,
		vol:          vol,
		sizer:        sizer,
		riskMgr:      riskMgr,
		tracker:      tracker,
		store:        store,
		log:          log,
		advisor:      advisor,
		policy:       policy,
		failureLimit: riskMgr.Config().ConsecutiveFailureLimit,
		st: GridState{
			Phase: PhaseIdle,
			Risk:  risk.NewState(riskMgr.Config()),
		},
	}

	tracker.SetTradeHandler(c.onTrade)

	snap, err := store.Load(cfg.Symbol)
	if err != nil {
		c.halt(fmt.Sprintf("snapshot load failed: %v", err))
		log.Error("Refusing to trade %s on unreadable state: %v", cfg.Symbol, err)
		return c, nil
	}
	if snap != nil {
		c.restore(snap)
		log.Info("Resumed %s from snapshot: base=%.4f grid=%.4f failures=%d",
			cfg.Symbol, c.st.BasePrice, c.st.GridSizePct, c.st.ConsecutiveFailures)
	}

	return c, nil
}

// restore loads a snapshot into the controller state
func (c *Controller) restore(snap *state.Snapshot) {
	c.st.BasePrice = snap.BasePrice
	c.st.GridSizePct = snap.GridSizePct
	c.st.PositionRatio = snap.PositionRatio
	c.st.HighestProfitRatio = snap.HighestProfitRatio
	c.st.ConsecutiveFailures = snap.ConsecutiveFailures
	c.st.LastTradeTime = snap.LastTradeTime
	c.st.InitialEquity = snap.InitialEquity
	c.st.Risk = snap.Risk
	c.vol.Restore(snap.Volatility)

	if snap.ConsecutiveFailures >= c.failureLimit {
		c.halt("failure ceiling reached before shutdown")
	}
}

// Run executes trading cycles until the context is cancelled. A halted
// controller stays alive for status reporting but never trades again.
func (c *Controller) Run(ctx context.Context) {
	for {
		if c.halted() {
			select {
			case <-ctx.Done():
				return
			case <-time.After(30 * time.Second):
				continue
			}
		}

		c.cycle(ctx)

		select {
		case <-ctx.Done():
			// Shutdown after a completed cycle; state is already persisted
			return
		case <-time.After(c.interval()):
		}
	}
}

// interval picks the cycle cadence for the current volatility: the rule
// with the highest floor not exceeding the estimate wins.
func (c *Controller) interval() time.Duration {
	c.mu.Lock()
	vol := c.st.Volatility
	c.mu.Unlock()

	chosen := c.cfg.Intervals[0].Interval
	best := math.Inf(-1)
	for _, rule := range c.cfg.Intervals {
		if vol >= rule.MinVolatility && rule.MinVolatility > best {
			best = rule.MinVolatility
			chosen = rule.Interval
		}
	}
	return chosen
}

// cycle runs one complete trading cycle
func (c *Controller) cycle(ctx context.Context) {
	c.setPhase(PhaseFetching)

	ticker, candles, balances, err := c.fetchMarketData(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			// Shutdown mid-fetch is not a venue failure
			c.setPhase(PhaseIdle)
			return
		}
		c.log.LogError("market data fetch", err)
		monitoring.RecordError("fetch")
		c.recordFailure()
		c.persist()
		c.setPhase(PhaseIdle)
		return
	}

	if !c.reconciled {
		c.reconcileOrders(ctx)
	}

	price := ticker.Price
	vol := c.vol.Update(candles)

	c.mu.Lock()
	c.st.CurrentPrice = price
	c.st.Volatility = vol
	c.st.LastCycleTime = time.Now()

	// First cycle anchors the grid at the current market price
	if c.st.BasePrice == 0 {
		c.st.BasePrice = price
		c.st.GridSizePct = c.sizer.Size(vol)
		c.st.InitialEquity = equity(balances, c.cfg.BaseAsset, c.cfg.QuoteAsset, price)
		grid := c.st.GridSizePct
		c.mu.Unlock()
		c.log.Info("Grid anchored: base=%.4f grid=%.4f%% vol=%.4f", price, grid*100, vol)
		c.persist()
		c.setPhase(PhaseIdle)
		return
	}

	c.st.GridSizePct = c.sizer.Next(c.st.GridSizePct, vol)

	eq := equity(balances, c.cfg.BaseAsset, c.cfg.QuoteAsset, price)
	baseQty := balances[c.cfg.BaseAsset].Total()
	if eq > 0 {
		c.st.PositionRatio = baseQty * price / eq
	}
	if c.st.InitialEquity > 0 {
		c.st.CurrentProfitRatio = eq/c.st.InitialEquity - 1
		if c.st.CurrentProfitRatio > c.st.HighestProfitRatio {
			c.st.HighestProfitRatio = c.st.CurrentProfitRatio
		}
	}

	snapshot := c.st
	c.mu.Unlock()

	c.log.LogCycleStatus(price, snapshot.BasePrice, snapshot.GridSizePct, vol, snapshot.PositionRatio)
	monitoring.UpdateCycle(c.cfg.Symbol, price, snapshot.BasePrice, snapshot.GridSizePct, vol, snapshot.PositionRatio)

	c.setPhase(PhaseDeciding)

	c.mu.Lock()
	action := c.riskMgr.Evaluate(price, snapshot.BasePrice, snapshot.HighestProfitRatio, snapshot.CurrentProfitRatio, &c.st.Risk)
	c.mu.Unlock()

	if action != risk.ActionNone {
		c.handleRiskAction(ctx, action, baseQty, price)
		c.persist()
		c.setPhase(PhaseIdle)
		return
	}

	failuresBefore := snapshot.ConsecutiveFailures

	c.decideAndTrade(ctx, price, baseQty, snapshot)

	// A cycle that completes without an execution failure breaks the
	// consecutive-failure chain, whether or not it traded.
	c.mu.Lock()
	if c.st.ConsecutiveFailures == failuresBefore {
		c.st.ConsecutiveFailures = 0
	}
	c.mu.Unlock()

	c.persist()
	c.setPhase(PhaseIdle)
}

// fetchMarketData fetches ticker, candles and balances with bounded retries
func (c *Controller) fetchMarketData(ctx context.Context) (*types.Ticker, []types.OHLCV, map[string]types.Balance, error) {
	var lastErr error

	for attempt := 1; attempt <= fetchAttempts; attempt++ {
		ticker, err := c.ex.FetchTicker(ctx, c.cfg.Symbol)
		if err == nil {
			candles, cerr := c.ex.FetchCandles(ctx, c.cfg.Symbol, c.cfg.CandleInterval, 0)
			if cerr == nil {
				balances, berr := c.ex.FetchBalances(ctx)
				if berr == nil {
					return ticker, candles, balances, nil
				}
				err = berr
			} else {
				err = cerr
			}
		}

		lastErr = err
		if ctx.Err() != nil {
			return nil, nil, nil, ctx.Err()
		}
		if attempt < fetchAttempts {
			select {
			case <-ctx.Done():
				return nil, nil, nil, ctx.Err()
			case <-time.After(time.Duration(attempt) * time.Second):
			}
		}
	}

	return nil, nil, nil, fmt.Errorf("market data unavailable after %d attempts: %w", fetchAttempts, lastErr)
}

// reconcileOrders replays persisted in-flight orders against the exchange
// once per process lifetime, before the first trade decision.
func (c *Controller) reconcileOrders(ctx context.Context) {
	snap, err := c.store.Load(c.cfg.Symbol)
	if err != nil || snap == nil || len(snap.Orders) == 0 {
		c.reconciled = true
		return
	}

	if _, err := c.tracker.Reconcile(ctx, snap.Orders); err != nil {
		c.log.LogError("order reconciliation", err)
		monitoring.RecordError("reconcile")
		return // retried next cycle
	}
	c.reconciled = true
}

// decideAndTrade evaluates the grid triggers and executes at most one order
func (c *Controller) decideAndTrade(ctx context.Context, price, baseQty float64, snapshot GridState) {
	buyLevel := snapshot.BasePrice * (1 - snapshot.GridSizePct)
	sellLevel := snapshot.BasePrice * (1 + snapshot.GridSizePct)

	buyTriggered := price <= buyLevel
	sellTriggered := price >= sellLevel
	if !buyTriggered && !sellTriggered {
		return
	}

	sig := c.advisorySignal(ctx)
	if buyTriggered && c.policy.SuppressBuy(sig) {
		c.log.Info("Buy trigger at %.4f vetoed by advisory signal", price)
		buyTriggered = false
	}
	if sellTriggered && c.policy.SuppressSell(sig) {
		c.log.Info("Sell trigger at %.4f vetoed by advisory signal", price)
		sellTriggered = false
	}

	switch {
	case buyTriggered:
		if snapshot.PositionRatio >= c.cfg.MaxPositionRatio {
			c.log.Info("Buy trigger at %.4f skipped: position ratio %.2f%% at cap", price, snapshot.PositionRatio*100)
			return
		}
		c.execute(ctx, exchange.OrderSideBuy, c.cfg.OrderQuantity, price)

	case sellTriggered:
		if baseQty < c.cfg.OrderQuantity {
			c.log.Info("Sell trigger at %.4f skipped: holding %.8f below order size", price, baseQty)
			return
		}
		c.execute(ctx, exchange.OrderSideSell, c.cfg.OrderQuantity, price)
	}
}

// advisorySignal fetches the advisor's opinion; errors never block trading
func (c *Controller) advisorySignal(ctx context.Context) *advisory.Signal {
	if c.advisor == nil || c.policy.Mode == advisory.ModeOff {
		return nil
	}
	sig, err := c.advisor.Fetch(ctx, c.cfg.Symbol)
	if err != nil {
		c.log.Warning("Advisory fetch failed, trading without signal: %v", err)
		return nil
	}
	return sig
}

// execute places one grid order and updates failure accounting
func (c *Controller) execute(ctx context.Context, side exchange.OrderSide, amount, price float64) {
	c.setPhase(PhaseExecuting)

	rec, err := c.tracker.Execute(ctx, side, amount, price)
	if err != nil {
		if boterrors.IsInsufficientBalance(err) && c.recoverBalance(ctx, side, amount, price) {
			rec, err = c.tracker.Execute(ctx, side, amount, price)
		}
	}
	if err != nil {
		c.log.LogError(fmt.Sprintf("%s execution", side), err)
		monitoring.RecordError("order")
		c.recordFailure()
		return
	}

	if rec.State == orders.StateFilled {
		c.mu.Lock()
		c.st.ConsecutiveFailures = 0
		c.mu.Unlock()
	}
}

// recoverBalance tries to redeem quote funds from savings when a buy fails
// on a balance shortfall. Returns true when a retry is worthwhile.
func (c *Controller) recoverBalance(ctx context.Context, side exchange.OrderSide, amount, price float64) bool {
	if side != exchange.OrderSideBuy || !c.ex.Supports(exchange.FeatureSavingsTransfer) {
		return false
	}

	needed := amount * price
	err := c.ex.Transfer(ctx, c.cfg.QuoteAsset, needed, exchange.TransferToSpot)
	if err != nil {
		c.log.Warning("Savings redemption of %.4f %s failed: %v", needed, c.cfg.QuoteAsset, err)
		return false
	}
	c.log.Info("Redeemed %.4f %s from savings to cover buy", needed, c.cfg.QuoteAsset)
	return true
}

// handleRiskAction liquidates the position in response to a risk trigger.
// Emergency liquidation runs on its own retry budget; exhausting it halts
// the symbol.
func (c *Controller) handleRiskAction(ctx context.Context, action risk.Action, baseQty, price float64) {
	c.setPhase(PhaseExecuting)

	c.log.Risk("Risk action triggered: %s (price=%.4f base_qty=%.8f)", action, price, baseQty)
	monitoring.RecordRiskAction(c.cfg.Symbol, string(action))

	if baseQty <= 0 {
		// Nothing to liquidate; treat as recovered
		c.finishRecovery()
		return
	}

	delay := c.riskMgr.Config().EmergencyRetryDelay
	for {
		c.mu.Lock()
		allowed := c.riskMgr.ConsumeEmergencyRetry(&c.st.Risk)
		c.mu.Unlock()
		if !allowed {
			c.halt("emergency liquidation retries exhausted")
			c.log.Risk("Liquidation failed permanently, halting %s", c.cfg.Symbol)
			monitoring.SetHalted(c.cfg.Symbol, true)
			return
		}

		rec, err := c.tracker.Execute(ctx, exchange.OrderSideSell, baseQty, price)
		if err == nil && rec.State == orders.StateFilled {
			c.log.Risk("Position liquidated: %.8f %s at %.4f", rec.FilledAmount, c.cfg.BaseAsset, rec.FillPrice)
			c.finishRecovery()
			return
		}

		c.log.LogError("emergency liquidation attempt", err)
		monitoring.RecordError("liquidation")

		c.mu.Lock()
		c.st.Risk.LiquidationPending = true
		c.mu.Unlock()
		c.persist()

		select {
		case <-ctx.Done():
			return // pending flag survives in the snapshot
		case <-time.After(delay):
		}
	}
}

// finishRecovery resets risk state after a completed liquidation. Base
// price and initial equity are zeroed so the next cycle re-anchors the grid
// from fresh market data.
func (c *Controller) finishRecovery() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.riskMgr.ResetAfterRecovery(&c.st.Risk)
	c.st.BasePrice = 0
	c.st.HighestProfitRatio = 0
	c.st.CurrentProfitRatio = 0
	c.st.InitialEquity = 0
	c.st.ConsecutiveFailures = 0
}

// onTrade reacts to a filled order: the fill price becomes the new grid
// anchor and the grid width is recomputed from current volatility.
func (c *Controller) onTrade(ev orders.TradeEvent) {
	c.mu.Lock()
	c.st.BasePrice = ev.Record.FillPrice
	c.st.GridSizePct = c.sizer.Size(c.st.Volatility)
	c.st.LastTradeTime = time.Now()
	c.st.ConsecutiveFailures = 0
	base := c.st.BasePrice
	c.mu.Unlock()

	c.log.LogTradeExecution(string(ev.Record.Side), ev.Record.ID, ev.Record.FilledAmount, ev.Record.FillPrice, base)
	monitoring.RecordTrade(c.cfg.Symbol, string(ev.Record.Side), ev.Record.FilledAmount)

	c.persist()
}

// recordFailure bumps the consecutive failure counter and halts at the limit
func (c *Controller) recordFailure() {
	c.mu.Lock()
	c.st.ConsecutiveFailures++
	failures := c.st.ConsecutiveFailures
	c.mu.Unlock()

	if failures >= c.failureLimit {
		c.halt(fmt.Sprintf("%d consecutive failures", failures))
		c.log.Error("Halting %s after %d consecutive failures", c.cfg.Symbol, failures)
		monitoring.SetHalted(c.cfg.Symbol, true)
	}
}

// persist writes the current snapshot; persistence failures are logged but
// never interrupt trading.
func (c *Controller) persist() {
	c.setPhase(PhasePersisting)

	c.mu.Lock()
	snap := &state.Snapshot{
		Symbol:              c.cfg.Symbol,
		BasePrice:           c.st.BasePrice,
		GridSizePct:         c.st.GridSizePct,
		PositionRatio:       c.st.PositionRatio,
		HighestProfitRatio:  c.st.HighestProfitRatio,
		ConsecutiveFailures: c.st.ConsecutiveFailures,
		LastTradeTime:       c.st.LastTradeTime,
		InitialEquity:       c.st.InitialEquity,
		Risk:                c.st.Risk,
		Volatility:          c.vol.Snapshot(),
		Orders:              c.tracker.Archive(),
	}
	c.mu.Unlock()

	if err := c.store.Save(snap); err != nil {
		c.log.LogError("snapshot save", err)
		monitoring.RecordError("persist")
	}
}

func (c *Controller) setPhase(p Phase) {
	c.mu.Lock()
	if c.st.Phase != PhaseHalted {
		c.st.Phase = p
	}
	c.mu.Unlock()
}

func (c *Controller) halt(reason string) {
	c.mu.Lock()
	c.st.Phase = PhaseHalted
	c.st.HaltReason = reason
	c.mu.Unlock()
}

func (c *Controller) halted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.st.Phase == PhaseHalted
}

// Status returns a copy of the current controller state
func (c *Controller) Status() GridState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.st
}

// Symbol returns the controller's trading symbol
func (c *Controller) Symbol() string {
	return c.cfg.Symbol
}

// TradeHistory returns the archived terminal order records
func (c *Controller) TradeHistory() []orders.Record {
	return c.tracker.Archive()
}

// equity values the holdings of one symbol pair in quote terms
func equity(balances map[string]types.Balance, baseAsset, quoteAsset string, price float64) float64 {
	return balances[baseAsset].Total()*price + balances[quoteAsset].Total()
}
