package position

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"tradingcore/internal/alert"
	"tradingcore/internal/exchange"
	"tradingcore/pkg/types"
)

// Defense-in-depth constants from spec §4.6.
const (
	l1ArmDeadline       = 5 * time.Second
	l2PollNormal        = 5 * time.Second
	l2PollFast          = time.Second
	l2FastLossThreshold = 0.10
	l1GraceWindow       = 10 * time.Second
	defaultEmergencyPct = 0.15
	forceCloseDeadline  = 10 * time.Second
)

// PriceSource returns the latest known price for symbol, or ok=false if
// none is available yet. The orchestrator wires this to the market data
// service's last-tick cache.
type PriceSource func(symbol string) (decimal.Decimal, bool)

// ForceCloser submits an unconditional market order to exit pos and
// reports the resulting fill price. Used by the L2/L3 protective monitors,
// which must close at market rather than go through the ordinary
// Risk-approved entry/exit path (spec §4.6).
type ForceCloser func(ctx context.Context, pos types.Position, reason string) (fillPrice decimal.Decimal, err error)

// armStopLoss places the L1 exchange stop order and, regardless of
// whether L1 succeeds, starts the L2 and L3 monitors — spec §4.6: "a
// position is never left in OPEN without at least L2+L3 armed."
func (m *Manager) armStopLoss(ctx context.Context, positionID string) {
	pos, ok := m.Get(positionID)
	if !ok {
		return
	}

	side := types.OrderSell
	if pos.Side == types.SideShort {
		side = types.OrderBuy
	}

	placeCtx, cancelPlace := context.WithTimeout(ctx, l1ArmDeadline)
	defer cancelPlace()
	order, err := m.gw.CreateOrder(placeCtx, exchange.CreateOrderRequest{
		ClientID: "l1-" + uuid.NewString(),
		Symbol:   pos.Symbol,
		Side:     side,
		Type:     types.OrderTypeStopMarket,
		Quantity: pos.Quantity,
		Price:    pos.StopLossPrice,
		Leverage: pos.Leverage,
	})
	if err != nil {
		m.logger.Error("L1 stop order placement failed, closing at market", "position_id", pos.ID, "err", err)
		m.alerts.Emit(alert.Critical("stop_loss_l1_failed", "L1 stop order placement failed, closing position at market", map[string]any{
			"position_id": pos.ID, "symbol": pos.Symbol,
		}))
		m.mu.Lock()
		if live, ok := m.positions[positionID]; ok {
			m.requestCloseLocked(live, "l1_placement_failed")
		}
		m.mu.Unlock()
	} else {
		m.mu.Lock()
		if live, ok := m.positions[positionID]; ok {
			live.L1OrderID = order.ExchangeID
			m.store.Save(*live)
		}
		m.mu.Unlock()
	}

	monitorCtx, cancel := context.WithCancel(ctx)
	m.monitorsMu.Lock()
	m.monitors[positionID] = cancel
	m.monitorsMu.Unlock()

	go m.monitorL2(monitorCtx, positionID)
	go m.monitorL3(monitorCtx, positionID)
}

// stopMonitors cancels the L2/L3 goroutines for a position, called once it
// leaves OPEN (closing, liquidated, or reconciled away).
func (m *Manager) stopMonitors(positionID string) {
	m.monitorsMu.Lock()
	cancel, ok := m.monitors[positionID]
	delete(m.monitors, positionID)
	m.monitorsMu.Unlock()
	if ok {
		cancel()
	}
}

// monitorL2 polls price and force-closes if price crosses the stop and L1
// has not fired within the grace window. Poll interval tightens to 1s once
// realized-loss exceeds 10%.
func (m *Manager) monitorL2(ctx context.Context, positionID string) {
	ticker := time.NewTicker(l2PollNormal)
	defer ticker.Stop()
	var crossedAt time.Time

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pos, ok := m.Get(positionID)
			if !ok || pos.State != types.PositionOpen {
				return
			}
			price, ok := m.priceSource(pos.Symbol)
			if !ok {
				continue
			}

			lossPct := unrealizedLossPct(pos, price)
			if lossPct > l2FastLossThreshold {
				ticker.Reset(l2PollFast)
			} else {
				ticker.Reset(l2PollNormal)
			}

			if !stopCrossed(pos, price) {
				crossedAt = time.Time{}
				continue
			}
			if crossedAt.IsZero() {
				crossedAt = time.Now()
				continue
			}
			if time.Since(crossedAt) < l1GraceWindow {
				continue
			}

			m.logger.Warn("L2 force-close: price crossed stop without L1 fill", "position_id", positionID, "price", price)
			m.alerts.Emit(alert.Warning("stop_loss_l2_forced", "L2 monitor force-closed position after L1 grace window elapsed", map[string]any{
				"position_id": positionID,
			}))
			m.l2ForceClose(positionID)
			return
		}
	}
}

// l2ForceClose cancels the armed L1 stop order and submits a market close
// for positionID, then confirms the resulting exit fill — spec §4.6: "L2
// ... cancel L1 and emit a market close."
func (m *Manager) l2ForceClose(positionID string) {
	m.mu.Lock()
	live, ok := m.positions[positionID]
	if !ok || live.State != types.PositionOpen {
		m.mu.Unlock()
		return
	}
	snapshot := *live
	if err := m.requestCloseLocked(live, "l2_forced"); err != nil {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	// Use a fresh, independent deadline rather than the monitor's own ctx:
	// requestCloseLocked just triggered stopMonitors, which cancels this
	// monitor's context, and the close order must still go through.
	closeCtx, cancel := context.WithTimeout(context.Background(), forceCloseDeadline)
	defer cancel()

	fillPrice, ok := m.submitForceClose(closeCtx, snapshot, "l2_forced")
	if !ok {
		return
	}
	if err := m.ConfirmClose(positionID, fillPrice, unrealizedPnL(snapshot, fillPrice)); err != nil {
		m.logger.Error("failed to confirm L2 force close", "position_id", positionID, "err", err)
	}
}

// submitForceClose cancels pos's armed L1 stop order (if any) and invokes
// the configured ForceCloser hook to exit at market, alerting CRITICAL and
// returning ok=false if either step fails — spec §8's "no OPEN position
// without an armed protective mechanism" must never degrade into a
// position left open with no exit attempted.
func (m *Manager) submitForceClose(ctx context.Context, pos types.Position, reason string) (fillPrice decimal.Decimal, ok bool) {
	if pos.L1OrderID != "" {
		if err := m.gw.CancelOrder(ctx, pos.Symbol, pos.L1OrderID); err != nil {
			m.logger.Warn("failed to cancel L1 stop order during force close", "position_id", pos.ID, "err", err)
		}
	}

	if m.forceClose == nil {
		m.logger.Error("no force-close hook configured, position left unclosed", "position_id", pos.ID, "reason", reason)
		m.alerts.Emit(alert.Critical("force_close_unconfigured", "protective monitor needs to force-close but no ForceCloser is wired", map[string]any{
			"position_id": pos.ID, "symbol": pos.Symbol, "reason": reason,
		}))
		return decimal.Decimal{}, false
	}

	price, err := m.forceClose(ctx, pos, reason)
	if err != nil {
		m.logger.Error("force-close market order failed", "position_id", pos.ID, "reason", reason, "err", err)
		m.alerts.Emit(alert.Critical("force_close_failed", "force-close market order failed, position left unclosed", map[string]any{
			"position_id": pos.ID, "symbol": pos.Symbol, "reason": reason,
		}))
		return decimal.Decimal{}, false
	}
	return price, true
}

// monitorL3 closes the position unconditionally once unrealized loss
// reaches the emergency liquidation threshold, independent of L1/L2 state.
func (m *Manager) monitorL3(ctx context.Context, positionID string) {
	ticker := time.NewTicker(l2PollFast)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pos, ok := m.Get(positionID)
			if !ok || pos.State != types.PositionOpen {
				return
			}
			price, ok := m.priceSource(pos.Symbol)
			if !ok {
				continue
			}
			threshold := m.emergencyLiquidationPct
			if threshold <= 0 {
				threshold = defaultEmergencyPct
			}
			if unrealizedLossPct(pos, price) < threshold {
				continue
			}

			m.logger.Error("L3 emergency liquidation triggered", "position_id", positionID, "price", price)
			m.alerts.Emit(alert.Critical("stop_loss_l3_liquidation", "L3 emergency liquidator closed position unconditionally", map[string]any{
				"position_id": positionID,
			}))
			m.l3Liquidate(positionID, pos)
			return
		}
	}
}

// l3Liquidate submits an unconditional market close for positionID and
// records it directly as LIQUIDATED (OPEN->LIQUIDATED is legal without
// passing through CLOSING) — spec §4.6: "L3 ... close the position
// unconditionally," independent of L1/L2 outcome.
func (m *Manager) l3Liquidate(positionID string, pos types.Position) {
	// A fresh, independent deadline: this call races nothing in-progress
	// (L3 transitions straight to a terminal state), but matches L2's
	// pattern of never depending on the monitor's own soon-to-be-cancelled
	// context for the exit order itself.
	closeCtx, cancel := context.WithTimeout(context.Background(), forceCloseDeadline)
	defer cancel()

	fillPrice, ok := m.submitForceClose(closeCtx, pos, "l3_liquidation")

	m.mu.Lock()
	live, exists := m.positions[positionID]
	if exists {
		if err := m.transitionLocked(live, types.PositionLiquidated); err == nil {
			now := time.Now().UTC()
			live.ClosedAt = &now
			if ok {
				live.RealizedPnL = unrealizedPnL(pos, fillPrice)
			}
			live.UnrealizedPnL = decimal.Zero
			m.store.Save(*live)
		}
	}
	m.mu.Unlock()
	m.stopMonitors(positionID)
}

// stopCrossed reports whether price has moved through the position's stop
// in the adverse direction.
func stopCrossed(pos types.Position, price decimal.Decimal) bool {
	if pos.Side == types.SideLong {
		return price.LessThanOrEqual(pos.StopLossPrice)
	}
	return price.GreaterThanOrEqual(pos.StopLossPrice)
}

// unrealizedLossPct returns the fractional loss (positive = losing) of a
// leveraged position at the given mark price, relative to margin at entry.
func unrealizedLossPct(pos types.Position, price decimal.Decimal) float64 {
	if pos.EntryPrice.IsZero() || pos.Leverage == 0 {
		return 0
	}
	var priceMove decimal.Decimal
	if pos.Side == types.SideLong {
		priceMove = pos.EntryPrice.Sub(price).Div(pos.EntryPrice)
	} else {
		priceMove = price.Sub(pos.EntryPrice).Div(pos.EntryPrice)
	}
	leveraged := priceMove.Mul(decimal.NewFromInt(int64(pos.Leverage)))
	f, _ := leveraged.Float64()
	if f < 0 {
		return 0
	}
	return f
}
