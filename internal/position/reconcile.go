package position

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"tradingcore/internal/alert"
	"tradingcore/internal/exchange"
	"tradingcore/pkg/types"
)

// mismatchPct is the quantity-divergence threshold above which exchange
// and local state are considered out of sync (spec §4.6: "quantity
// mismatch > 0.01%").
const mismatchPct = 0.0001

// mismatchAlertValueUSD is the local/exchange notional delta above which a
// quantity mismatch additionally raises an alert (spec §4.6: "> $100").
const mismatchAlertValueUSD = 100

// Reconcile fetches exchange positions and diffs them against local OPEN
// state (spec §4.6) in a single pass per call. It runs only when called;
// nothing in this package or its callers runs it on a timer or after an
// exchange error or gateway reconnect:
//   - orphan (exchange-only): inserted locally as OPEN, alerted, L1 armed
//     if absent.
//   - ghost (local-only): marked CLOSED_RECONCILED, alerted.
//   - quantity mismatch beyond mismatchPct: exchange wins and the local
//     quantity is replaced; the stop price and the armed L1 stop order's
//     quantity are left unchanged. Alert if the value delta exceeds
//     mismatchAlertValueUSD.
func (m *Manager) Reconcile(ctx context.Context) error {
	exchangePositions, err := m.gw.GetPositions(ctx)
	if err != nil {
		return err
	}
	bySymbol := make(map[string]exchange.ExchangePosition, len(exchangePositions))
	for _, ep := range exchangePositions {
		bySymbol[ep.Symbol] = ep
	}

	m.mu.Lock()
	localBySymbol := make(map[string]*types.Position)
	for _, p := range m.positions {
		if p.State == types.PositionOpen {
			localBySymbol[p.Symbol] = p
		}
	}
	m.mu.Unlock()

	for symbol, ep := range bySymbol {
		local, ok := localBySymbol[symbol]
		if !ok {
			m.adoptOrphan(ctx, ep)
			continue
		}
		m.reconcileMismatch(local, ep)
	}

	for symbol, local := range localBySymbol {
		if _, ok := bySymbol[symbol]; !ok {
			m.markGhost(local)
		}
	}
	return nil
}

func (m *Manager) adoptOrphan(ctx context.Context, ep exchange.ExchangePosition) {
	pos := types.Position{
		ID: "orphan-" + ep.Symbol, Symbol: ep.Symbol, Side: ep.Side,
		Quantity: ep.Quantity, EntryPrice: ep.EntryPrice, Leverage: ep.Leverage,
		State:    types.PositionOpen,
		OpenedAt: time.Now().UTC(),
	}
	m.mu.Lock()
	m.positions[pos.ID] = &pos
	m.store.Save(pos)
	m.mu.Unlock()

	m.logger.Warn("reconciliation: adopted orphan exchange position", "symbol", ep.Symbol)
	m.alerts.Emit(alert.Warning("reconciliation_orphan", "exchange position with no local record adopted", map[string]any{
		"symbol": ep.Symbol, "quantity": ep.Quantity.String(),
	}))

	if pos.StopLossPrice.IsZero() {
		m.armStopLoss(ctx, pos.ID)
	}
}

func (m *Manager) markGhost(local *types.Position) {
	m.mu.Lock()
	m.transitionLocked(local, types.PositionReconciled)
	now := time.Now().UTC()
	local.ClosedAt = &now
	m.store.Save(*local)
	m.mu.Unlock()
	m.stopMonitors(local.ID)

	m.logger.Warn("reconciliation: local position has no matching exchange position", "position_id", local.ID, "symbol", local.Symbol)
	m.alerts.Emit(alert.Warning("reconciliation_ghost", "local position with no matching exchange position marked closed_reconciled", map[string]any{
		"position_id": local.ID, "symbol": local.Symbol,
	}))
}

func (m *Manager) reconcileMismatch(local *types.Position, ep exchange.ExchangePosition) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if local.Quantity.IsZero() {
		return
	}
	delta := local.Quantity.Sub(ep.Quantity).Abs()
	pct, _ := delta.Div(local.Quantity).Float64()
	if pct <= mismatchPct {
		return
	}

	valueDelta := delta.Mul(ep.EntryPrice)
	local.Quantity = ep.Quantity
	m.store.Save(*local)

	m.logger.Warn("reconciliation: quantity mismatch corrected from exchange", "position_id", local.ID, "symbol", local.Symbol, "delta_pct", pct)
	if valueDelta.GreaterThan(decimal.NewFromInt(mismatchAlertValueUSD)) {
		m.alerts.Emit(alert.Warning("reconciliation_mismatch", "position quantity mismatch exceeded value threshold, exchange quantity adopted", map[string]any{
			"position_id": local.ID, "symbol": local.Symbol, "value_delta_usd": valueDelta.String(),
		}))
	}
}
