// paper.go implements the in-memory simulated exchange used when
// PaperTrading is enabled (spec §7). Market-data reads are delegated to a
// real Client (OHLCV/funding are still fetched live); order submission,
// fills, and account state are simulated entirely in memory so no real
// capital moves. This generalizes the teacher's `dryRun` flag — which
// short-circuited order placement at the strategy level — into a full
// interface-level fake any caller of Gateway can use unmodified.
package exchange

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"tradingcore/internal/errkind"
	"tradingcore/pkg/types"
)

// PaperGateway simulates order execution against the last known mark
// price per symbol, starting from a configurable paper balance.
type PaperGateway struct {
	marketData Gateway // delegate for read-only market data, may be nil in tests

	mu        sync.Mutex
	balance   decimal.Decimal
	orders    map[string]types.Order // keyed by ClientID
	positions map[string]ExchangePosition
	lastPrice map[string]decimal.Decimal
}

// NewPaperGateway creates a simulator seeded with startingBalance USD.
// marketData, if non-nil, is used to serve OHLCV/funding/open-interest
// reads with real data while orders remain simulated.
func NewPaperGateway(startingBalance decimal.Decimal, marketData Gateway) *PaperGateway {
	return &PaperGateway{
		marketData: marketData,
		balance:    startingBalance,
		orders:     make(map[string]types.Order),
		positions:  make(map[string]ExchangePosition),
		lastPrice:  make(map[string]decimal.Decimal),
	}
}

// SetMarkPrice updates the simulated fill price used for subsequent market
// orders on symbol (the orchestrator feeds this from live ticks/candles).
func (p *PaperGateway) SetMarkPrice(symbol string, price decimal.Decimal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastPrice[symbol] = price
}

func (p *PaperGateway) GetOHLCV(ctx context.Context, symbol, timeframe string, limit int) ([]types.Candle, error) {
	if p.marketData == nil {
		return nil, errkind.Wrapf(errkind.Validation, "paper.get_ohlcv", "no market data delegate configured")
	}
	return p.marketData.GetOHLCV(ctx, symbol, timeframe, limit)
}

func (p *PaperGateway) GetOpenInterestFunding(ctx context.Context, symbol string) (decimal.Decimal, decimal.Decimal, error) {
	if p.marketData == nil {
		return decimal.Zero, decimal.Zero, nil
	}
	return p.marketData.GetOpenInterestFunding(ctx, symbol)
}

func (p *PaperGateway) GetAccount(ctx context.Context) (types.AccountState, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var unrealized decimal.Decimal
	for symbol, pos := range p.positions {
		mark, ok := p.lastPrice[symbol]
		if !ok {
			continue
		}
		unrealized = unrealized.Add(unrealizedPnL(pos, mark))
	}

	return types.AccountState{
		Balance:            p.balance,
		AvailableMargin:    p.balance,
		TotalUnrealizedPnL: unrealized,
	}, nil
}

func unrealizedPnL(pos ExchangePosition, mark decimal.Decimal) decimal.Decimal {
	diff := mark.Sub(pos.EntryPrice)
	if pos.Side == types.SideShort {
		diff = diff.Neg()
	}
	return diff.Mul(pos.Quantity)
}

func (p *PaperGateway) GetPositions(ctx context.Context) ([]ExchangePosition, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]ExchangePosition, 0, len(p.positions))
	for _, pos := range p.positions {
		out = append(out, pos)
	}
	return out, nil
}

// CreateOrder fills immediately at the last known mark price (or req.Price
// for limit orders), crediting/debiting the simulated position and balance.
// Idempotent on ClientID like the live venue.
func (p *PaperGateway) CreateOrder(ctx context.Context, req CreateOrderRequest) (types.Order, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if existing, ok := p.orders[req.ClientID]; ok {
		return existing, nil
	}

	fillPrice := p.lastPrice[req.Symbol]
	if req.Type == types.OrderTypeLimit || req.Type == types.OrderTypeStopLimit {
		fillPrice = req.Price
	}
	if fillPrice.IsZero() {
		return types.Order{}, errkind.Wrapf(errkind.Validation, "paper.create_order", "no mark price known for %s", req.Symbol)
	}

	now := time.Now().UTC()
	order := types.Order{
		ClientID:     req.ClientID,
		ExchangeID:   "paper-" + uuid.NewString(),
		Symbol:       req.Symbol,
		Side:         req.Side,
		Type:         req.Type,
		QtyRequested: req.Quantity,
		QtyFilled:    req.Quantity,
		AvgFillPrice: fillPrice,
		Fees:         decimal.Zero,
		Status:       types.OrderStatusFilled,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	p.orders[req.ClientID] = order
	p.applyFillLocked(req, fillPrice)

	return order, nil
}

func (p *PaperGateway) applyFillLocked(req CreateOrderRequest, fillPrice decimal.Decimal) {
	side := types.SideLong
	if req.Side == types.OrderSell {
		side = types.SideShort
	}

	existing, had := p.positions[req.Symbol]
	switch {
	case !had:
		p.positions[req.Symbol] = ExchangePosition{
			Symbol:     req.Symbol,
			Side:       side,
			Quantity:   req.Quantity,
			EntryPrice: fillPrice,
			Leverage:   req.Leverage,
		}
	case existing.Side == side:
		totalQty := existing.Quantity.Add(req.Quantity)
		weighted := existing.EntryPrice.Mul(existing.Quantity).Add(fillPrice.Mul(req.Quantity))
		existing.EntryPrice = weighted.Div(totalQty)
		existing.Quantity = totalQty
		p.positions[req.Symbol] = existing
	default:
		// opposite side: realize P&L on the closed portion, leave any remainder
		realized := unrealizedPnL(existing, fillPrice)
		if req.Quantity.GreaterThanOrEqual(existing.Quantity) {
			p.balance = p.balance.Add(realized)
			remainder := req.Quantity.Sub(existing.Quantity)
			delete(p.positions, req.Symbol)
			if remainder.IsPositive() {
				p.positions[req.Symbol] = ExchangePosition{
					Symbol:     req.Symbol,
					Side:       side,
					Quantity:   remainder,
					EntryPrice: fillPrice,
					Leverage:   req.Leverage,
				}
			}
		} else {
			partial := realized.Mul(req.Quantity).Div(existing.Quantity)
			p.balance = p.balance.Add(partial)
			existing.Quantity = existing.Quantity.Sub(req.Quantity)
			p.positions[req.Symbol] = existing
		}
	}
}

func (p *PaperGateway) CancelOrder(ctx context.Context, symbol, exchangeID string) error {
	return nil // paper orders fill synchronously, nothing pending to cancel
}

func (p *PaperGateway) GetOrder(ctx context.Context, symbol, exchangeID string) (types.Order, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, o := range p.orders {
		if o.ExchangeID == exchangeID {
			return o, nil
		}
	}
	return types.Order{}, errkind.Wrapf(errkind.Validation, "paper.get_order", "order %s not found", exchangeID)
}
