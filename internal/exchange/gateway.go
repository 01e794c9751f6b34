package exchange

import (
	"context"

	"github.com/shopspring/decimal"

	"tradingcore/pkg/types"
)

// Gateway is the full surface the rest of the trading core depends on —
// both *Client (the live venue) and *PaperGateway (the in-memory
// simulator used when PaperTrading is enabled, spec §7) implement it.
// Generalizes the teacher's concrete *exchange.Client dependency into an
// interface so paper trading needs no special-casing above this package.
type Gateway interface {
	GetOHLCV(ctx context.Context, symbol, timeframe string, limit int) ([]types.Candle, error)
	GetOpenInterestFunding(ctx context.Context, symbol string) (openInterest, fundingRate decimal.Decimal, err error)
	GetAccount(ctx context.Context) (types.AccountState, error)
	GetPositions(ctx context.Context) ([]ExchangePosition, error)
	CreateOrder(ctx context.Context, req CreateOrderRequest) (types.Order, error)
	CancelOrder(ctx context.Context, symbol, exchangeID string) error
	GetOrder(ctx context.Context, symbol, exchangeID string) (types.Order, error)
}

var (
	_ Gateway = (*Client)(nil)
	_ Gateway = (*PaperGateway)(nil)
)
