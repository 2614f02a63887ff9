package orders

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	boterrors "github.com/ducminhle1904/crypto-grid-bot/internal/errors"
	"github.com/ducminhle1904/crypto-grid-bot/internal/exchange"
	"github.com/ducminhle1904/crypto-grid-bot/internal/logger"
)

// State is the lifecycle state of a tracked order.
type State string

const (
	StatePending         State = "pending"
	StatePartiallyFilled State = "partially_filled"
	StateFilled          State = "filled"
	StateCancelled       State = "cancelled"
	StateFailed          State = "failed"
)

// Terminal reports whether the state absorbs all further transitions.
func (s State) Terminal() bool {
	switch s {
	case StateFilled, StateCancelled, StateFailed:
		return true
	}
	return false
}

// validTransitions encodes the order state machine:
// pending -> {partially_filled -> filled | cancelled | failed}.
var validTransitions = map[State][]State{
	StatePending:         {StatePartiallyFilled, StateFilled, StateCancelled, StateFailed},
	StatePartiallyFilled: {StateFilled, StateCancelled, StateFailed},
}

// Record tracks one in-flight or archived order. Records are created by the
// controller's trade decision and mutated only by the Tracker.
type Record struct {
	ID               string            `json:"id"`        // exchange order ID, empty until accepted
	ClientID         string            `json:"client_id"` // idempotency key sent with the order
	Symbol           string            `json:"symbol"`
	Side             exchange.OrderSide `json:"side"`
	RequestedPrice   float64           `json:"requested_price"`
	RequestedAmount  float64           `json:"requested_amount"`
	FilledAmount     float64           `json:"filled_amount"`
	FillPrice        float64           `json:"fill_price"`
	State            State             `json:"state"`
	RetriesRemaining int               `json:"retries_remaining"`
	Error            string            `json:"error,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// TradeEvent is emitted when an order reaches the filled state. The
// controller consumes it to move the grid anchor and reset risk counters.
type TradeEvent struct {
	Record Record
}

// Config holds tracker retry and polling parameters.
type Config struct {
	MaxRetries     int           `json:"max_retries"`     // placement attempts before the record fails
	InitialBackoff time.Duration `json:"initial_backoff"` // first retry delay, doubled per attempt
	MaxBackoff     time.Duration `json:"max_backoff"`     // backoff cap
	PollInterval   time.Duration `json:"poll_interval"`   // delay between fill-status polls
	PollAttempts   int           `json:"poll_attempts"`   // status polls before the order is failed as unresolved
	ArchiveSize    int           `json:"archive_size"`    // terminal records kept for the status surface
}

// DefaultConfig returns the default tracker parameters
func DefaultConfig() Config {
	return Config{
		MaxRetries:     5,
		InitialBackoff: time.Second,
		MaxBackoff:     30 * time.Second,
		PollInterval:   500 * time.Millisecond,
		PollAttempts:   10,
		ArchiveSize:    100,
	}
}

// Validate checks the configuration bounds
func (c Config) Validate() error {
	if c.MaxRetries < 1 {
		return fmt.Errorf("max_retries must be at least 1, got: %d", c.MaxRetries)
	}
	if c.InitialBackoff <= 0 || c.MaxBackoff < c.InitialBackoff {
		return fmt.Errorf("invalid backoff window: initial %v, max %v", c.InitialBackoff, c.MaxBackoff)
	}
	if c.PollInterval <= 0 || c.PollAttempts < 1 {
		return fmt.Errorf("invalid polling settings: interval %v, attempts %d", c.PollInterval, c.PollAttempts)
	}
	if c.ArchiveSize < 1 {
		return fmt.Errorf("archive_size must be at least 1, got: %d", c.ArchiveSize)
	}
	return nil
}

// Tracker is the per-symbol finite-state machine over in-flight orders. It
// owns every Record mutation and reconciles exchange-reported state against
// local intent. Scoped to one symbol; never shares records across symbols.
type Tracker struct {
	symbol string
	ex     exchange.Exchange
	cfg    Config
	log    *logger.Logger

	mu      sync.Mutex
	archive []Record
	onTrade func(TradeEvent)
}

// NewTracker creates an order tracker for one symbol
func NewTracker(symbol string, ex exchange.Exchange, cfg Config, log *logger.Logger) (*Tracker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("tracker config validation failed: %w", err)
	}
	return &Tracker{
		symbol: symbol,
		ex:     ex,
		cfg:    cfg,
		log:    log,
	}, nil
}

// SetTradeHandler registers the trade-completed callback
func (t *Tracker) SetTradeHandler(fn func(TradeEvent)) {
	t.onTrade = fn
}

// Execute places a market order and drives its record to a terminal state.
// Network and API errors are retried with exponential backoff until the
// record's retry budget runs out, at which point the record fails.
func (t *Tracker) Execute(ctx context.Context, side exchange.OrderSide, amount, referencePrice float64) (*Record, error) {
	rec := &Record{
		ClientID:         uuid.NewString(),
		Symbol:           t.symbol,
		Side:             side,
		RequestedPrice:   referencePrice,
		RequestedAmount:  amount,
		State:            StatePending,
		RetriesRemaining: t.cfg.MaxRetries,
		CreatedAt:        time.Now(),
		UpdatedAt:        time.Now(),
	}

	backoff := t.cfg.InitialBackoff
	for {
		order, err := t.ex.CreateOrder(ctx, exchange.OrderParams{
			Symbol:      t.symbol,
			Side:        side,
			Type:        exchange.OrderTypeMarket,
			Quantity:    amount,
			OrderLinkID: rec.ClientID,
		})
		if err == nil {
			rec.ID = order.OrderID
			if err := t.awaitFill(ctx, rec, order); err != nil {
				return rec, err
			}
			return rec, nil
		}

		botErr := boterrors.Categorize(err, "tracker", "create_order")
		rec.RetriesRemaining--

		if !botErr.IsRetryable() || rec.RetriesRemaining <= 0 {
			t.fail(rec, botErr)
			return rec, botErr
		}

		if t.log != nil {
			t.log.Warning("Order placement failed (%d retries left): %v", rec.RetriesRemaining, botErr)
		}

		select {
		case <-ctx.Done():
			t.fail(rec, ctx.Err())
			return rec, ctx.Err()
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > t.cfg.MaxBackoff {
			backoff = t.cfg.MaxBackoff
		}
	}
}

// awaitFill polls the exchange until the order reaches a terminal state.
// Orders that stay unresolved past the poll budget are failed rather than
// silently dropped.
func (t *Tracker) awaitFill(ctx context.Context, rec *Record, placed *exchange.Order) error {
	current := placed

	for attempt := 0; attempt < t.cfg.PollAttempts; attempt++ {
		switch current.Status {
		case exchange.OrderStatusFilled:
			return t.complete(rec, current)

		case exchange.OrderStatusPartiallyFilled:
			if rec.State == StatePending {
				if err := t.transition(rec, StatePartiallyFilled); err != nil {
					return err
				}
			}
			rec.FilledAmount = current.ExecutedQty

		case exchange.OrderStatusCancelled:
			rec.FilledAmount = current.ExecutedQty
			if err := t.transition(rec, StateCancelled); err != nil {
				return err
			}
			t.archiveRecord(rec)
			return nil

		case exchange.OrderStatusRejected:
			err := fmt.Errorf("order %s rejected by exchange", rec.ID)
			t.fail(rec, err)
			return err
		}

		select {
		case <-ctx.Done():
			t.fail(rec, ctx.Err())
			return ctx.Err()
		case <-time.After(t.cfg.PollInterval):
		}

		status, err := t.ex.OrderStatus(ctx, rec.ID, t.symbol)
		if err != nil {
			// Poll errors are transient; keep the remaining attempts
			if t.log != nil {
				t.log.Warning("Order status poll failed: %v", err)
			}
			continue
		}
		current = status
	}

	err := fmt.Errorf("order %s unresolved after %d status polls", rec.ID, t.cfg.PollAttempts)
	t.fail(rec, err)
	return err
}

// complete moves the record to filled and emits the trade event
func (t *Tracker) complete(rec *Record, order *exchange.Order) error {
	rec.FilledAmount = order.ExecutedQty
	if rec.FilledAmount == 0 {
		rec.FilledAmount = rec.RequestedAmount
	}
	rec.FillPrice = order.AvgPrice
	if rec.FillPrice == 0 {
		rec.FillPrice = rec.RequestedPrice
	}

	if err := t.transition(rec, StateFilled); err != nil {
		return err
	}
	t.archiveRecord(rec)

	if t.log != nil {
		t.log.Trade("%s %s filled: qty=%.8f price=%.4f id=%s", rec.Side, t.symbol, rec.FilledAmount, rec.FillPrice, rec.ID)
	}
	if t.onTrade != nil {
		t.onTrade(TradeEvent{Record: *rec})
	}
	return nil
}

// transition enforces the order state machine; terminal states absorb.
func (t *Tracker) transition(rec *Record, to State) error {
	if rec.State.Terminal() {
		return fmt.Errorf("illegal transition %s -> %s for order %s", rec.State, to, rec.ID)
	}
	for _, allowed := range validTransitions[rec.State] {
		if allowed == to {
			rec.State = to
			rec.UpdatedAt = time.Now()
			return nil
		}
	}
	return fmt.Errorf("illegal transition %s -> %s for order %s", rec.State, to, rec.ID)
}

func (t *Tracker) fail(rec *Record, err error) {
	if rec.State.Terminal() {
		return
	}
	if terr := t.transition(rec, StateFailed); terr != nil {
		return
	}
	if err != nil {
		rec.Error = err.Error()
	}
	t.archiveRecord(rec)
}

func (t *Tracker) archiveRecord(rec *Record) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.archive = append(t.archive, *rec)
	if len(t.archive) > t.cfg.ArchiveSize {
		t.archive = t.archive[len(t.archive)-t.cfg.ArchiveSize:]
	}
}

// Reconcile compares persisted records against the exchange's open orders
// on controller resume. Any non-terminal record the exchange no longer
// knows about is failed rather than silently dropped. Terminal records are
// restored into the archive so the status surface and trade-history export
// keep pre-restart fills.
func (t *Tracker) Reconcile(ctx context.Context, persisted []Record) ([]Record, error) {
	open, err := t.ex.OpenOrders(ctx, t.symbol)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch open orders for reconciliation: %w", err)
	}

	openByID := make(map[string]exchange.Order, len(open))
	for _, o := range open {
		openByID[o.OrderID] = o
	}

	reconciled := make([]Record, 0, len(persisted))
	for i := range persisted {
		rec := persisted[i]
		if rec.State.Terminal() {
			t.archiveRecord(&rec)
			reconciled = append(reconciled, rec)
			continue
		}

		if _, exists := openByID[rec.ID]; !exists {
			t.fail(&rec, fmt.Errorf("order missing on exchange after restart"))
			if t.log != nil {
				t.log.Warning("Reconciliation failed order %s (missing on exchange)", rec.ID)
			}
		}
		reconciled = append(reconciled, rec)
	}

	return reconciled, nil
}

// Archive returns a copy of the terminal-record archive, newest last
func (t *Tracker) Archive() []Record {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Record, len(t.archive))
	copy(out, t.archive)
	return out
}

// LastN returns up to n most recent archived records, newest last
func (t *Tracker) LastN(n int) []Record {
	t.mu.Lock()
	defer t.mu.Unlock()

	if n > len(t.archive) {
		n = len(t.archive)
	}
	out := make([]Record, n)
	copy(out, t.archive[len(t.archive)-n:])
	return out
}
