package exchange

import (
	"context"
	"sync"
	"time"

	"github.com/ducminhle1904/crypto-grid-bot/internal/safety"
	"github.com/ducminhle1904/crypto-grid-bot/pkg/types"
)

// RateLimited wraps an Exchange with a shared token-bucket limiter and a
// bounded per-call timeout. All symbol controllers go through one instance,
// so a burst from one symbol cannot starve or rate-ban the rest.
type RateLimited struct {
	inner       Exchange
	limiter     *safety.RateLimiter
	callTimeout time.Duration

	// Transfers against the same asset are serialized so two controllers
	// cannot both redeem against the same savings balance.
	transferMu sync.Mutex
	assetLocks map[string]*sync.Mutex
}

// NewRateLimited wraps the exchange. A zero callTimeout disables the
// per-call deadline.
func NewRateLimited(inner Exchange, limiter *safety.RateLimiter, callTimeout time.Duration) *RateLimited {
	return &RateLimited{
		inner:       inner,
		limiter:     limiter,
		callTimeout: callTimeout,
		assetLocks:  make(map[string]*sync.Mutex),
	}
}

func (r *RateLimited) acquire(ctx context.Context) (context.Context, context.CancelFunc, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, nil, err
	}
	if r.callTimeout <= 0 {
		return ctx, func() {}, nil
	}
	callCtx, cancel := context.WithTimeout(ctx, r.callTimeout)
	return callCtx, cancel, nil
}

func (r *RateLimited) assetLock(asset string) *sync.Mutex {
	r.transferMu.Lock()
	defer r.transferMu.Unlock()

	lock, ok := r.assetLocks[asset]
	if !ok {
		lock = &sync.Mutex{}
		r.assetLocks[asset] = lock
	}
	return lock
}

// GetName returns the wrapped exchange name
func (r *RateLimited) GetName() string {
	return r.inner.GetName()
}

// FetchTicker fetches the latest ticker under the rate limit
func (r *RateLimited) FetchTicker(ctx context.Context, symbol string) (*types.Ticker, error) {
	callCtx, cancel, err := r.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()
	return r.inner.FetchTicker(callCtx, symbol)
}

// FetchCandles fetches candles under the rate limit
func (r *RateLimited) FetchCandles(ctx context.Context, symbol, interval string, limit int) ([]types.OHLCV, error) {
	callCtx, cancel, err := r.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()
	return r.inner.FetchCandles(callCtx, symbol, interval, limit)
}

// FetchBalances fetches account balances under the rate limit
func (r *RateLimited) FetchBalances(ctx context.Context) (map[string]types.Balance, error) {
	callCtx, cancel, err := r.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()
	return r.inner.FetchBalances(callCtx)
}

// CreateOrder places an order under the rate limit
func (r *RateLimited) CreateOrder(ctx context.Context, params OrderParams) (*Order, error) {
	callCtx, cancel, err := r.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()
	return r.inner.CreateOrder(callCtx, params)
}

// CancelOrder cancels an order under the rate limit
func (r *RateLimited) CancelOrder(ctx context.Context, orderID, symbol string) error {
	callCtx, cancel, err := r.acquire(ctx)
	if err != nil {
		return err
	}
	defer cancel()
	return r.inner.CancelOrder(callCtx, orderID, symbol)
}

// OpenOrders lists open orders under the rate limit
func (r *RateLimited) OpenOrders(ctx context.Context, symbol string) ([]Order, error) {
	callCtx, cancel, err := r.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()
	return r.inner.OpenOrders(callCtx, symbol)
}

// OrderStatus fetches a single order's status under the rate limit
func (r *RateLimited) OrderStatus(ctx context.Context, orderID, symbol string) (*Order, error) {
	callCtx, cancel, err := r.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()
	return r.inner.OrderStatus(callCtx, orderID, symbol)
}

// Transfer moves funds between spot and savings, serialized per asset
func (r *RateLimited) Transfer(ctx context.Context, asset string, amount float64, direction TransferDirection) error {
	lock := r.assetLock(asset)
	lock.Lock()
	defer lock.Unlock()

	callCtx, cancel, err := r.acquire(ctx)
	if err != nil {
		return err
	}
	defer cancel()
	return r.inner.Transfer(callCtx, asset, amount, direction)
}

// Supports reports the wrapped exchange's feature set
func (r *RateLimited) Supports(feature Feature) bool {
	return r.inner.Supports(feature)
}
