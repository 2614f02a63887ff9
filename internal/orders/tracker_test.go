package orders

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ducminhle1904/crypto-grid-bot/internal/exchange"
	"github.com/ducminhle1904/crypto-grid-bot/pkg/types"
)

// fakeExchange scripts CreateOrder and OrderStatus behavior for the tracker
type fakeExchange struct {
	mu sync.Mutex

	createErr    error
	createFails  int // fail this many creates before succeeding
	createStatus exchange.OrderStatus
	fillPrice    float64

	statusSeq []exchange.OrderStatus // consumed by OrderStatus calls
	open      []exchange.Order

	creates int
	polls   int
}

func (f *fakeExchange) GetName() string { return "fake" }

func (f *fakeExchange) FetchTicker(ctx context.Context, symbol string) (*types.Ticker, error) {
	return &types.Ticker{Symbol: symbol, Price: 100}, nil
}

func (f *fakeExchange) FetchCandles(ctx context.Context, symbol, interval string, limit int) ([]types.OHLCV, error) {
	return nil, nil
}

func (f *fakeExchange) FetchBalances(ctx context.Context) (map[string]types.Balance, error) {
	return nil, nil
}

func (f *fakeExchange) CreateOrder(ctx context.Context, params exchange.OrderParams) (*exchange.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.creates++
	if f.createErr != nil && (f.createFails == 0 || f.creates <= f.createFails) {
		return nil, f.createErr
	}

	status := f.createStatus
	if status == "" {
		status = exchange.OrderStatusFilled
	}
	price := f.fillPrice
	if price == 0 {
		price = 100
	}

	order := &exchange.Order{
		OrderID:     "order-1",
		OrderLinkID: params.OrderLinkID,
		Symbol:      params.Symbol,
		Side:        params.Side,
		Type:        params.Type,
		Quantity:    params.Quantity,
		Status:      status,
	}
	if status == exchange.OrderStatusFilled {
		order.ExecutedQty = params.Quantity
		order.AvgPrice = price
	}
	return order, nil
}

func (f *fakeExchange) CancelOrder(ctx context.Context, orderID, symbol string) error { return nil }

func (f *fakeExchange) OpenOrders(ctx context.Context, symbol string) ([]exchange.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.open, nil
}

func (f *fakeExchange) OrderStatus(ctx context.Context, orderID, symbol string) (*exchange.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.polls++
	status := exchange.OrderStatusNew
	if len(f.statusSeq) > 0 {
		status = f.statusSeq[0]
		f.statusSeq = f.statusSeq[1:]
	}

	order := &exchange.Order{OrderID: orderID, Symbol: symbol, Status: status}
	if status == exchange.OrderStatusFilled {
		order.ExecutedQty = 0.5
		order.AvgPrice = f.fillPrice
	}
	return order, nil
}

func (f *fakeExchange) Transfer(ctx context.Context, asset string, amount float64, direction exchange.TransferDirection) error {
	return exchange.ErrNotSupported
}

func (f *fakeExchange) Supports(feature exchange.Feature) bool { return false }

func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.InitialBackoff = time.Millisecond
	cfg.MaxBackoff = 2 * time.Millisecond
	cfg.PollInterval = time.Millisecond
	return cfg
}

func newTestTracker(t *testing.T, ex exchange.Exchange, cfg Config) *Tracker {
	tracker, err := NewTracker("BTCUSDT", ex, cfg, nil)
	require.NoError(t, err)
	return tracker
}

func TestState_Terminal(t *testing.T) {
	assert.False(t, StatePending.Terminal())
	assert.False(t, StatePartiallyFilled.Terminal())
	assert.True(t, StateFilled.Terminal())
	assert.True(t, StateCancelled.Terminal())
	assert.True(t, StateFailed.Terminal())
}

func TestExecute_ImmediateFill(t *testing.T) {
	ex := &fakeExchange{fillPrice: 103.5}
	tracker := newTestTracker(t, ex, fastConfig())

	var events []TradeEvent
	tracker.SetTradeHandler(func(ev TradeEvent) { events = append(events, ev) })

	rec, err := tracker.Execute(context.Background(), exchange.OrderSideBuy, 0.5, 103.0)
	require.NoError(t, err)

	assert.Equal(t, StateFilled, rec.State)
	assert.Equal(t, 0.5, rec.FilledAmount)
	assert.Equal(t, 103.5, rec.FillPrice)
	assert.NotEmpty(t, rec.ClientID)
	assert.Equal(t, "order-1", rec.ID)

	require.Len(t, events, 1)
	assert.Equal(t, 103.5, events[0].Record.FillPrice)

	archive := tracker.Archive()
	require.Len(t, archive, 1)
	assert.Equal(t, StateFilled, archive[0].State)
}

func TestExecute_RetriesTransientErrorsThenFills(t *testing.T) {
	ex := &fakeExchange{
		createErr:   errors.New("connection refused"),
		createFails: 2,
		fillPrice:   100,
	}
	tracker := newTestTracker(t, ex, fastConfig())

	rec, err := tracker.Execute(context.Background(), exchange.OrderSideBuy, 1.0, 100.0)
	require.NoError(t, err)

	assert.Equal(t, StateFilled, rec.State)
	assert.Equal(t, 3, ex.creates)
}

func TestExecute_RetryBudgetExhausted(t *testing.T) {
	cfg := fastConfig()
	cfg.MaxRetries = 3
	ex := &fakeExchange{createErr: errors.New("connection refused")}
	tracker := newTestTracker(t, ex, cfg)

	rec, err := tracker.Execute(context.Background(), exchange.OrderSideSell, 1.0, 100.0)
	require.Error(t, err)

	assert.Equal(t, StateFailed, rec.State)
	assert.Equal(t, 3, ex.creates)
	assert.NotEmpty(t, rec.Error)
}

func TestExecute_NonRetryableErrorFailsImmediately(t *testing.T) {
	ex := &fakeExchange{createErr: errors.New("insufficient balance for order")}
	tracker := newTestTracker(t, ex, fastConfig())

	rec, err := tracker.Execute(context.Background(), exchange.OrderSideBuy, 1.0, 100.0)
	require.Error(t, err)

	assert.Equal(t, StateFailed, rec.State)
	assert.Equal(t, 1, ex.creates)
}

func TestExecute_PollsUntilFilled(t *testing.T) {
	ex := &fakeExchange{
		createStatus: exchange.OrderStatusNew,
		fillPrice:    101.0,
		statusSeq: []exchange.OrderStatus{
			exchange.OrderStatusPartiallyFilled,
			exchange.OrderStatusFilled,
		},
	}
	tracker := newTestTracker(t, ex, fastConfig())

	rec, err := tracker.Execute(context.Background(), exchange.OrderSideBuy, 0.5, 100.0)
	require.NoError(t, err)

	assert.Equal(t, StateFilled, rec.State)
	assert.Equal(t, 101.0, rec.FillPrice)
}

func TestExecute_UnresolvedOrderFails(t *testing.T) {
	cfg := fastConfig()
	cfg.PollAttempts = 3
	ex := &fakeExchange{createStatus: exchange.OrderStatusNew} // polls keep returning New
	tracker := newTestTracker(t, ex, cfg)

	rec, err := tracker.Execute(context.Background(), exchange.OrderSideBuy, 0.5, 100.0)
	require.Error(t, err)

	assert.Equal(t, StateFailed, rec.State)
	assert.Contains(t, err.Error(), "unresolved")
}

func TestExecute_RejectedOrderFails(t *testing.T) {
	ex := &fakeExchange{createStatus: exchange.OrderStatusRejected}
	tracker := newTestTracker(t, ex, fastConfig())

	rec, err := tracker.Execute(context.Background(), exchange.OrderSideBuy, 0.5, 100.0)
	require.Error(t, err)
	assert.Equal(t, StateFailed, rec.State)
}

func TestTransition_TerminalStatesAbsorb(t *testing.T) {
	tracker := newTestTracker(t, &fakeExchange{}, fastConfig())

	rec := &Record{ID: "x", State: StateFilled}
	err := tracker.transition(rec, StateCancelled)
	assert.Error(t, err)
	assert.Equal(t, StateFilled, rec.State)
}

func TestTransition_IllegalEdgeRejected(t *testing.T) {
	tracker := newTestTracker(t, &fakeExchange{}, fastConfig())

	rec := &Record{ID: "x", State: StatePartiallyFilled}
	err := tracker.transition(rec, StatePending)
	assert.Error(t, err)
	assert.Equal(t, StatePartiallyFilled, rec.State)
}

func TestReconcile_MissingOrdersFailSafe(t *testing.T) {
	ex := &fakeExchange{
		open: []exchange.Order{{OrderID: "still-open"}},
	}
	tracker := newTestTracker(t, ex, fastConfig())

	persisted := []Record{
		{ID: "done", State: StateFilled},
		{ID: "still-open", State: StatePending},
		{ID: "vanished", State: StatePending},
	}

	reconciled, err := tracker.Reconcile(context.Background(), persisted)
	require.NoError(t, err)
	require.Len(t, reconciled, 3)

	assert.Equal(t, StateFilled, reconciled[0].State)
	assert.Equal(t, StatePending, reconciled[1].State)
	assert.Equal(t, StateFailed, reconciled[2].State)
	assert.Contains(t, reconciled[2].Error, "missing on exchange")
}

func TestReconcile_RestoresTerminalRecordsToArchive(t *testing.T) {
	ex := &fakeExchange{
		open: []exchange.Order{{OrderID: "still-open"}},
	}
	tracker := newTestTracker(t, ex, fastConfig())

	persisted := []Record{
		{ID: "done", State: StateFilled, FillPrice: 101},
		{ID: "still-open", State: StatePending},
		{ID: "vanished", State: StatePending},
	}

	_, err := tracker.Reconcile(context.Background(), persisted)
	require.NoError(t, err)

	// Pre-restart fills and reconciliation failures land in the archive;
	// the order still resting on the exchange does not
	archive := tracker.Archive()
	require.Len(t, archive, 2)
	assert.Equal(t, "done", archive[0].ID)
	assert.Equal(t, StateFilled, archive[0].State)
	assert.Equal(t, 101.0, archive[0].FillPrice)
	assert.Equal(t, "vanished", archive[1].ID)
	assert.Equal(t, StateFailed, archive[1].State)
}

func TestArchive_BoundedSize(t *testing.T) {
	cfg := fastConfig()
	cfg.ArchiveSize = 5
	ex := &fakeExchange{}
	tracker := newTestTracker(t, ex, cfg)

	for i := 0; i < 8; i++ {
		_, err := tracker.Execute(context.Background(), exchange.OrderSideBuy, 0.1, 100.0)
		require.NoError(t, err)
	}

	assert.Len(t, tracker.Archive(), 5)
	assert.Len(t, tracker.LastN(3), 3)
	assert.Len(t, tracker.LastN(100), 5)
}
