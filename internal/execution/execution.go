// Package execution submits approved risk.Decisions as market orders and
// classifies the fill outcome (spec §4.7). It generalizes the teacher's
// order-submission path in `internal/engine.Engine` (pre-flight check,
// then a resty call into the exchange, then outcome handling) into an
// explicit three-outcome pipeline: full fill, accepted partial, or
// rejected/timeout.
package execution

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"tradingcore/internal/alert"
	"tradingcore/internal/config"
	"tradingcore/internal/errkind"
	"tradingcore/internal/exchange"
	"tradingcore/pkg/types"
)

// Outcome classifies how a submitted order resolved.
type Outcome string

const (
	OutcomeFilled    Outcome = "filled"
	OutcomePartial   Outcome = "partial"
	OutcomeRejected  Outcome = "rejected"
	OutcomeTimeout   Outcome = "timeout"
)

// Result is the fully resolved outcome of one order submission.
type Result struct {
	Outcome        Outcome
	FilledQty      decimal.Decimal
	AvgFillPrice   decimal.Decimal
	ExchangeID     string
	SlippagePct    decimal.Decimal
	SlippageFlag   bool
}

// Pipeline submits market orders idempotently and resolves their fill
// outcome against the timeout/partial-fill rules of spec §4.7.
type Pipeline struct {
	cfg    config.ExecutionConfig
	gw     exchange.Gateway
	alerts alert.Emitter
	logger *slog.Logger
}

// New constructs an execution Pipeline.
func New(cfg config.ExecutionConfig, gw exchange.Gateway, alerts alert.Emitter, logger *slog.Logger) *Pipeline {
	return &Pipeline{cfg: cfg, gw: gw, alerts: alerts, logger: logger.With("component", "execution")}
}

// IdempotencyKey builds the client-side order ID from spec §4.7:
// hash(cycle_id, symbol, side, quantity, timestamp_minute). Using the
// minute-truncated timestamp means a resubmission within the same minute
// after an ambiguous network failure reuses the same key, letting the
// exchange deduplicate it.
func IdempotencyKey(cycleID, symbol string, side types.OrderSide, qty decimal.Decimal, now time.Time) string {
	minute := now.UTC().Truncate(time.Minute).Unix()
	raw := fmt.Sprintf("%s|%s|%s|%s|%d", cycleID, symbol, side, qty.String(), minute)
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])[:32]
}

// PreflightCheck re-verifies margin and exposure against the freshest
// account state from the gateway, since both may have changed since the
// risk check ran. It returns an errkind.Policy error if the candidate no
// longer fits.
func (p *Pipeline) PreflightCheck(ctx context.Context, requiredMargin, notional decimal.Decimal, maxExposure decimal.Decimal, currentExposure decimal.Decimal) error {
	account, err := p.gw.GetAccount(ctx)
	if err != nil {
		return errkind.New(errkind.Transient, "execution.PreflightCheck", err)
	}
	if requiredMargin.GreaterThan(account.AvailableMargin) {
		return errkind.Wrapf(errkind.Policy, "execution.PreflightCheck", "margin requirement %s exceeds available %s", requiredMargin, account.AvailableMargin)
	}
	if currentExposure.Add(notional).GreaterThan(maxExposure) {
		return errkind.Wrapf(errkind.Policy, "execution.PreflightCheck", "exposure %s would exceed max %s", currentExposure.Add(notional), maxExposure)
	}
	return nil
}

// Submit places a market order and resolves it into a Result per the
// three-outcome rule of spec §4.7, polling GetOrder until fill, timeout,
// or terminal rejection.
func (p *Pipeline) Submit(ctx context.Context, cycleID, symbol string, side types.OrderSide, qty decimal.Decimal, leverage int, expectedPrice decimal.Decimal) (Result, error) {
	clientID := IdempotencyKey(cycleID, symbol, side, qty, time.Now())

	order, err := p.gw.CreateOrder(ctx, exchange.CreateOrderRequest{
		ClientID: clientID, Symbol: symbol, Side: side,
		Type: types.OrderTypeMarket, Quantity: qty, Leverage: leverage,
	})
	if err != nil {
		if errkind.Is(err, errkind.Transient) {
			// Ambiguous network failure: resubmit using the same client ID so
			// the venue can deduplicate, per spec §4.7.
			order, err = p.gw.CreateOrder(ctx, exchange.CreateOrderRequest{
				ClientID: clientID, Symbol: symbol, Side: side,
				Type: types.OrderTypeMarket, Quantity: qty, Leverage: leverage,
			})
		}
		if err != nil {
			p.logger.Warn("order submission rejected", "symbol", symbol, "err", err)
			return Result{Outcome: OutcomeRejected}, nil
		}
	}

	return p.awaitFill(ctx, order, symbol, qty, expectedPrice)
}

// CloseAtMarket submits an unconditional market order to exit pos,
// determining the opposite side from its current Side. Every forced exit
// in the system — invalidated-position review, close_position signals,
// the circuit breaker's close-all sweep, and the L2/L3 protective
// monitors — funnels through this one path so idempotency keys and fill
// classification stay consistent regardless of caller.
func (p *Pipeline) CloseAtMarket(ctx context.Context, cycleID string, pos types.Position) (Result, error) {
	side := types.OrderSell
	if pos.Side == types.SideShort {
		side = types.OrderBuy
	}
	return p.Submit(ctx, cycleID, pos.Symbol, side, pos.Quantity, pos.Leverage, pos.EntryPrice)
}

func (p *Pipeline) awaitFill(ctx context.Context, order types.Order, symbol string, requestedQty, expectedPrice decimal.Decimal) (Result, error) {
	deadline := time.Now().Add(p.cfg.OrderFillTimeout)
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	var last types.Order
	for {
		current, err := p.gw.GetOrder(ctx, symbol, order.ExchangeID)
		if err == nil {
			last = current
			if res, done := p.classify(current, requestedQty, expectedPrice, symbol); done {
				return res, nil
			}
		}

		if time.Now().After(deadline) {
			p.gw.CancelOrder(ctx, symbol, order.ExchangeID)
			if last.Status == types.OrderStatusPartial {
				if res := p.resultForFill(last, requestedQty, expectedPrice); res.Outcome == OutcomePartial {
					p.logger.Warn("order partially filled at timeout, remainder canceled", "symbol", symbol, "exchange_id", order.ExchangeID, "filled", last.QtyFilled)
					return res, nil
				}
			}
			p.logger.Warn("order fill timeout, canceled", "symbol", symbol, "exchange_id", order.ExchangeID)
			return Result{Outcome: OutcomeTimeout}, nil
		}

		select {
		case <-ctx.Done():
			return Result{Outcome: OutcomeTimeout}, ctx.Err()
		case <-ticker.C:
		}
	}
}

// classify turns a polled order snapshot into a Result once it reaches a
// decidable state, or reports done=false if still pending.
func (p *Pipeline) classify(order types.Order, requestedQty, expectedPrice decimal.Decimal, symbol string) (Result, bool) {
	switch order.Status {
	case types.OrderStatusRejected, types.OrderStatusCanceled:
		return Result{Outcome: OutcomeRejected}, true
	case types.OrderStatusFilled:
		return p.resultForFill(order, requestedQty, expectedPrice), true
	case types.OrderStatusPartial:
		// Keep polling until timeout expires — the remainder may still fill.
		return Result{}, false
	default:
		return Result{}, false
	}
}

func (p *Pipeline) resultForFill(order types.Order, requestedQty, expectedPrice decimal.Decimal) Result {
	if requestedQty.IsZero() {
		return Result{Outcome: OutcomeRejected}
	}
	filledPct, _ := order.QtyFilled.Div(requestedQty).Float64()

	outcome := OutcomeFilled
	if filledPct < 1 {
		if filledPct < p.cfg.PartialFillMinPct {
			return Result{Outcome: OutcomeRejected}
		}
		outcome = OutcomePartial
	}

	slippage := decimal.Zero
	flagged := false
	if !expectedPrice.IsZero() {
		slippage = order.AvgFillPrice.Sub(expectedPrice).Div(expectedPrice).Abs()
		slippageFloat, _ := slippage.Float64()
		flagged = slippageFloat > p.cfg.SlippageAlertPct
		if flagged {
			p.alerts.Emit(alert.Warning("execution_slippage", "fill slippage exceeded alert threshold", map[string]any{
				"symbol": order.Symbol, "slippage_pct": slippageFloat,
			}))
		}
	}

	return Result{
		Outcome: outcome, FilledQty: order.QtyFilled, AvgFillPrice: order.AvgFillPrice,
		ExchangeID: order.ExchangeID, SlippagePct: slippage, SlippageFlag: flagged,
	}
}
