package bybit

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	bybit_api "github.com/bybit-exchange/bybit.go.api"

	"github.com/ducminhle1904/crypto-grid-bot/internal/exchange"
	"github.com/ducminhle1904/crypto-grid-bot/pkg/types"
)

// Config holds the Bybit client configuration
type Config struct {
	APIKey    string
	APISecret string
	Testnet   bool
	Demo      bool // Demo trading environment
}

// Client implements exchange.Exchange against Bybit's unified trading API.
// All requests go through the spot category. The client is stateless apart
// from the underlying HTTP client and safe for concurrent use.
type Client struct {
	httpClient *bybit_api.Client
	testnet    bool
	demo       bool
}

// NewClient creates a Bybit spot client
func NewClient(config Config) (*Client, error) {
	if config.APIKey == "" || config.APISecret == "" {
		return nil, fmt.Errorf("bybit API credentials are required")
	}

	var baseURL string
	if config.Demo {
		// Demo trading environment (paper trading)
		baseURL = "https://api-demo.bybit.com"
	} else if config.Testnet {
		baseURL = bybit_api.TESTNET
	} else {
		baseURL = bybit_api.MAINNET
	}

	httpClient := bybit_api.NewBybitHttpClient(
		config.APIKey,
		config.APISecret,
		bybit_api.WithBaseURL(baseURL),
	)

	return &Client{
		httpClient: httpClient,
		testnet:    config.Testnet,
		demo:       config.Demo,
	}, nil
}

// GetName returns the venue identifier
func (c *Client) GetName() string {
	if c.demo {
		return "bybit-demo"
	}
	if c.testnet {
		return "bybit-testnet"
	}
	return "bybit"
}

// Supports reports the client's optional feature set. Savings transfers are
// not exposed by the unified API surface this client uses, so insufficient
// balance recovery degrades gracefully upstream.
func (c *Client) Supports(feature exchange.Feature) bool {
	switch feature {
	case exchange.FeatureLimitOrders:
		return true
	default:
		return false
	}
}

// FetchTicker returns the latest spot price for a symbol
func (c *Client) FetchTicker(ctx context.Context, symbol string) (*types.Ticker, error) {
	params := map[string]interface{}{
		"category": "spot",
		"symbol":   symbol,
	}

	result, err := c.httpClient.NewUtaBybitServiceWithParams(params).GetMarketTickers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get ticker: %w", err)
	}

	resultBytes, err := unwrapResult(result)
	if err != nil {
		return nil, fmt.Errorf("failed to parse ticker response: %w", err)
	}

	var tickerResult struct {
		Category string `json:"category"`
		List     []struct {
			Symbol    string `json:"symbol"`
			LastPrice string `json:"lastPrice"`
			Volume24h string `json:"volume24h"`
		} `json:"list"`
	}
	if err := json.Unmarshal(resultBytes, &tickerResult); err != nil {
		return nil, fmt.Errorf("failed to unmarshal ticker result: %w", err)
	}
	if len(tickerResult.List) == 0 {
		return nil, fmt.Errorf("no ticker data found for %s", symbol)
	}

	t := tickerResult.List[0]
	return &types.Ticker{
		Symbol:    t.Symbol,
		Price:     parseFloat64(t.LastPrice),
		Volume:    parseFloat64(t.Volume24h),
		Timestamp: time.Now(),
	}, nil
}

// FetchCandles returns up to limit spot klines, oldest first. Interval uses
// Bybit notation ("240" for 4h, "D" for daily).
func (c *Client) FetchCandles(ctx context.Context, symbol, interval string, limit int) ([]types.OHLCV, error) {
	if limit <= 0 {
		limit = 200
	}
	if limit > 1000 {
		limit = 1000
	}

	params := map[string]interface{}{
		"category": "spot",
		"symbol":   symbol,
		"interval": interval,
		"limit":    limit,
	}

	result, err := c.httpClient.NewUtaBybitServiceWithParams(params).GetMarketKline(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get klines: %w", err)
	}

	resultBytes, err := unwrapResult(result)
	if err != nil {
		return nil, fmt.Errorf("failed to parse kline response: %w", err)
	}

	var klineResult struct {
		Symbol   string     `json:"symbol"`
		Category string     `json:"category"`
		List     [][]string `json:"list"`
	}
	if err := json.Unmarshal(resultBytes, &klineResult); err != nil {
		return nil, fmt.Errorf("failed to unmarshal kline result: %w", err)
	}

	// Bybit kline format: [startTime, open, high, low, close, volume, turnover]
	candles := make([]types.OHLCV, 0, len(klineResult.List))
	for _, item := range klineResult.List {
		if len(item) < 6 {
			continue // Skip incomplete data
		}
		candles = append(candles, types.OHLCV{
			Timestamp: time.UnixMilli(parseInt64(item[0])),
			Open:      parseFloat64(item[1]),
			High:      parseFloat64(item[2]),
			Low:       parseFloat64(item[3]),
			Close:     parseFloat64(item[4]),
			Volume:    parseFloat64(item[5]),
		})
	}

	// Bybit returns newest first; downstream consumers expect oldest first
	sort.Slice(candles, func(i, j int) bool {
		return candles[i].Timestamp.Before(candles[j].Timestamp)
	})

	return candles, nil
}

// FetchBalances returns the unified account's coin balances keyed by asset
func (c *Client) FetchBalances(ctx context.Context) (map[string]types.Balance, error) {
	params := map[string]interface{}{
		"accountType": "UNIFIED",
	}

	result, err := c.httpClient.NewUtaBybitServiceWithParams(params).GetAccountWallet(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get account balance: %w", err)
	}

	resultBytes, err := unwrapResult(result)
	if err != nil {
		return nil, fmt.Errorf("failed to parse balance response: %w", err)
	}

	var walletResult struct {
		List []struct {
			AccountType string `json:"accountType"`
			Coin        []struct {
				Coin            string `json:"coin"`
				WalletBalance   string `json:"walletBalance"`
				Locked          string `json:"locked"`
				CollateralValue string `json:"collateralValue"`
			} `json:"coin"`
		} `json:"list"`
	}
	if err := json.Unmarshal(resultBytes, &walletResult); err != nil {
		return nil, fmt.Errorf("failed to unmarshal wallet result: %w", err)
	}
	if len(walletResult.List) == 0 {
		return nil, fmt.Errorf("no wallet data found")
	}

	balances := make(map[string]types.Balance)
	for _, coin := range walletResult.List[0].Coin {
		wallet := parseFloat64(coin.WalletBalance)
		locked := parseFloat64(coin.Locked)
		free := wallet - locked
		if free < 0 {
			free = 0
		}
		balances[coin.Coin] = types.Balance{
			Asset:  coin.Coin,
			Free:   free,
			Locked: locked,
		}
	}

	return balances, nil
}

// CreateOrder places a spot order and returns the exchange-side view
func (c *Client) CreateOrder(ctx context.Context, params exchange.OrderParams) (*exchange.Order, error) {
	if params.Symbol == "" {
		return nil, fmt.Errorf("symbol is required")
	}
	if params.Quantity <= 0 {
		return nil, fmt.Errorf("quantity must be positive, got: %.8f", params.Quantity)
	}
	if params.Type == exchange.OrderTypeLimit && params.Price <= 0 {
		return nil, fmt.Errorf("price is required for limit orders")
	}

	apiParams := map[string]interface{}{
		"category":  "spot",
		"symbol":    params.Symbol,
		"side":      string(params.Side),
		"orderType": string(params.Type),
		"qty":       formatQty(params.Quantity),
	}
	if params.Type == exchange.OrderTypeMarket {
		// Quote market orders by base quantity, not quote value
		apiParams["marketUnit"] = "baseCoin"
	}
	if params.Type == exchange.OrderTypeLimit {
		apiParams["price"] = formatQty(params.Price)
		apiParams["timeInForce"] = "GTC"
	}
	if params.OrderLinkID != "" {
		apiParams["orderLinkId"] = params.OrderLinkID
	}

	result, err := c.httpClient.NewUtaBybitServiceWithParams(apiParams).PlaceOrder(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to place order: %w", err)
	}

	resultBytes, err := unwrapResult(result)
	if err != nil {
		return nil, fmt.Errorf("failed to parse order response: %w", err)
	}

	var placed struct {
		OrderID     string `json:"orderId"`
		OrderLinkID string `json:"orderLinkId"`
	}
	if err := json.Unmarshal(resultBytes, &placed); err != nil {
		return nil, fmt.Errorf("failed to unmarshal order result: %w", err)
	}
	if placed.OrderID == "" {
		return nil, fmt.Errorf("exchange accepted order without an ID")
	}

	return &exchange.Order{
		OrderID:     placed.OrderID,
		OrderLinkID: placed.OrderLinkID,
		Symbol:      params.Symbol,
		Side:        params.Side,
		Type:        params.Type,
		Quantity:    params.Quantity,
		Price:       params.Price,
		Status:      exchange.OrderStatusNew,
	}, nil
}

// CancelOrder cancels an open spot order
func (c *Client) CancelOrder(ctx context.Context, orderID, symbol string) error {
	params := map[string]interface{}{
		"category": "spot",
		"symbol":   symbol,
		"orderId":  orderID,
	}

	result, err := c.httpClient.NewUtaBybitServiceWithParams(params).CancelOrder(ctx)
	if err != nil {
		return fmt.Errorf("failed to cancel order: %w", err)
	}
	if _, err := unwrapResult(result); err != nil {
		return fmt.Errorf("failed to parse cancel response: %w", err)
	}
	return nil
}

// OpenOrders lists the currently open spot orders for a symbol
func (c *Client) OpenOrders(ctx context.Context, symbol string) ([]exchange.Order, error) {
	params := map[string]interface{}{
		"category": "spot",
		"symbol":   symbol,
	}

	result, err := c.httpClient.NewUtaBybitServiceWithParams(params).GetOpenOrders(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get open orders: %w", err)
	}

	orders, err := parseOrderList(result)
	if err != nil {
		return nil, fmt.Errorf("failed to parse open orders response: %w", err)
	}
	return orders, nil
}

// OrderStatus looks up a single order by ID. Bybit serves recently closed
// orders through the same realtime endpoint as open ones.
func (c *Client) OrderStatus(ctx context.Context, orderID, symbol string) (*exchange.Order, error) {
	params := map[string]interface{}{
		"category": "spot",
		"symbol":   symbol,
		"orderId":  orderID,
	}

	result, err := c.httpClient.NewUtaBybitServiceWithParams(params).GetOpenOrders(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get order status: %w", err)
	}

	orders, err := parseOrderList(result)
	if err != nil {
		return nil, fmt.Errorf("failed to parse order status response: %w", err)
	}
	if len(orders) == 0 {
		return nil, fmt.Errorf("order %s not found", orderID)
	}
	return &orders[0], nil
}

// Transfer is not available through this client; callers must check
// Supports(FeatureSavingsTransfer) first.
func (c *Client) Transfer(ctx context.Context, asset string, amount float64, direction exchange.TransferDirection) error {
	return exchange.ErrNotSupported
}

// unwrapResult validates a ServerResponse and returns its Result re-encoded
// as JSON for typed unmarshalling.
func unwrapResult(response interface{}) ([]byte, error) {
	serverResp, ok := response.(*bybit_api.ServerResponse)
	if !ok {
		return nil, fmt.Errorf("invalid response type")
	}
	if serverResp.RetCode != 0 {
		return nil, fmt.Errorf("API error: %s (code: %d)", serverResp.RetMsg, serverResp.RetCode)
	}
	resultBytes, err := json.Marshal(serverResp.Result)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}
	return resultBytes, nil
}

func parseOrderList(response interface{}) ([]exchange.Order, error) {
	resultBytes, err := unwrapResult(response)
	if err != nil {
		return nil, err
	}

	var orderResult struct {
		List []struct {
			OrderID     string `json:"orderId"`
			OrderLinkID string `json:"orderLinkId"`
			Symbol      string `json:"symbol"`
			Side        string `json:"side"`
			OrderType   string `json:"orderType"`
			Qty         string `json:"qty"`
			Price       string `json:"price"`
			CumExecQty  string `json:"cumExecQty"`
			AvgPrice    string `json:"avgPrice"`
			OrderStatus string `json:"orderStatus"`
		} `json:"list"`
	}
	if err := json.Unmarshal(resultBytes, &orderResult); err != nil {
		return nil, fmt.Errorf("failed to unmarshal order list: %w", err)
	}

	orders := make([]exchange.Order, 0, len(orderResult.List))
	for _, o := range orderResult.List {
		orders = append(orders, exchange.Order{
			OrderID:     o.OrderID,
			OrderLinkID: o.OrderLinkID,
			Symbol:      o.Symbol,
			Side:        exchange.OrderSide(o.Side),
			Type:        exchange.OrderType(o.OrderType),
			Quantity:    parseFloat64(o.Qty),
			Price:       parseFloat64(o.Price),
			ExecutedQty: parseFloat64(o.CumExecQty),
			AvgPrice:    parseFloat64(o.AvgPrice),
			Status:      mapOrderStatus(o.OrderStatus),
		})
	}
	return orders, nil
}

// mapOrderStatus folds Bybit's status vocabulary into the unified set
func mapOrderStatus(status string) exchange.OrderStatus {
	switch status {
	case "New", "Created", "Untriggered":
		return exchange.OrderStatusNew
	case "PartiallyFilled":
		return exchange.OrderStatusPartiallyFilled
	case "Filled":
		return exchange.OrderStatusFilled
	case "Cancelled", "PartiallyFilledCanceled", "Deactivated":
		return exchange.OrderStatusCancelled
	case "Rejected":
		return exchange.OrderStatusRejected
	default:
		return exchange.OrderStatusNew
	}
}

func formatQty(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func parseFloat64(s string) float64 {
	if s == "" {
		return 0
	}
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

func parseInt64(s string) int64 {
	if s == "" {
		return 0
	}
	i, _ := strconv.ParseInt(s, 10, 64)
	return i
}
