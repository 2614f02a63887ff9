package exchange

import (
	"context"
	"errors"

	"github.com/ducminhle1904/crypto-grid-bot/pkg/types"
)

// ErrNotSupported is returned by optional operations the venue does not offer.
var ErrNotSupported = errors.New("operation not supported by venue")

// Feature identifies an optional venue capability. Adapters declare their
// feature set at construction; callers must query Supports before relying
// on an optional operation.
type Feature string

const (
	FeatureSavingsTransfer Feature = "savings_transfer"
	FeatureLimitOrders     Feature = "limit_orders"
)

// OrderSide represents buy or sell side (string-based for API compatibility)
type OrderSide string

const (
	OrderSideBuy  OrderSide = "Buy"
	OrderSideSell OrderSide = "Sell"
)

// OrderType represents different order types
type OrderType string

const (
	OrderTypeMarket OrderType = "Market"
	OrderTypeLimit  OrderType = "Limit"
)

// OrderStatus represents the exchange-reported status of an order
type OrderStatus string

const (
	OrderStatusNew             OrderStatus = "New"
	OrderStatusPartiallyFilled OrderStatus = "PartiallyFilled"
	OrderStatusFilled          OrderStatus = "Filled"
	OrderStatusCancelled       OrderStatus = "Cancelled"
	OrderStatusRejected        OrderStatus = "Rejected"
)

// TransferDirection selects which way funds move between the spot wallet
// and the interest-bearing savings account.
type TransferDirection string

const (
	TransferToSavings TransferDirection = "to_savings"
	TransferToSpot    TransferDirection = "to_spot"
)

// OrderParams holds parameters for placing an order
type OrderParams struct {
	Symbol      string
	Side        OrderSide
	Type        OrderType
	Quantity    float64
	Price       float64 // required for limit orders
	OrderLinkID string  // client-supplied idempotency ID
}

// Order is the exchange-side view of an order.
type Order struct {
	OrderID     string
	OrderLinkID string
	Symbol      string
	Side        OrderSide
	Type        OrderType
	Quantity    float64
	Price       float64
	ExecutedQty float64
	AvgPrice    float64
	Status      OrderStatus
}

// Exchange is the unified capability interface over a trading venue. One
// instance is shared by all symbol controllers; implementations must be
// safe for concurrent use.
type Exchange interface {
	GetName() string

	// Market data
	FetchTicker(ctx context.Context, symbol string) (*types.Ticker, error)
	FetchCandles(ctx context.Context, symbol, interval string, limit int) ([]types.OHLCV, error)

	// Account
	FetchBalances(ctx context.Context) (map[string]types.Balance, error)

	// Trading
	CreateOrder(ctx context.Context, params OrderParams) (*Order, error)
	CancelOrder(ctx context.Context, orderID, symbol string) error
	OpenOrders(ctx context.Context, symbol string) ([]Order, error)
	OrderStatus(ctx context.Context, orderID, symbol string) (*Order, error)

	// Funds movement between spot and savings. Implementations without
	// FeatureSavingsTransfer return ErrNotSupported.
	Transfer(ctx context.Context, asset string, amount float64, direction TransferDirection) error

	// Capability discovery
	Supports(feature Feature) bool
}
