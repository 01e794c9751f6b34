// Package cycle wires the per-cycle pipeline: Market Data → Advisor →
// Risk → Execution → Position Manager → Audit (spec §2). It generalizes
// the teacher's `internal/engine.Engine`, which owned per-market
// goroutines and a shared risk manager, into a single bounded-fan-out
// function invoked once per scheduler tick instead of one goroutine per
// market running forever.
package cycle

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"tradingcore/internal/advisor"
	"tradingcore/internal/alert"
	"tradingcore/internal/audit"
	"tradingcore/internal/errkind"
	"tradingcore/internal/exchange"
	"tradingcore/internal/execution"
	"tradingcore/internal/instrument"
	"tradingcore/internal/marketdata"
	"tradingcore/internal/metrics"
	"tradingcore/internal/position"
	"tradingcore/internal/risk"
	"tradingcore/pkg/types"
)

// maxConcurrentSymbols bounds how many symbols' market-data refresh and
// order submission run at once within one cycle, independent of how many
// trading symbols are configured.
const maxConcurrentSymbols = 4

// Orchestrator runs one complete cycle across every configured symbol.
type Orchestrator struct {
	symbols     []string
	market      *marketdata.Service
	adv         *advisor.Advisor
	riskMgr     *risk.Manager
	exec        *execution.Pipeline
	positions   *position.Manager
	auditLog    *audit.Log
	instruments *instrument.Registry
	gw          exchange.Gateway
	metrics     *metrics.Sink
	alerts      alert.Emitter
	logger      *slog.Logger
}

// Deps bundles everything the orchestrator wires together; kept as a
// struct (rather than a long positional constructor) since most fields
// are themselves already-constructed subsystem handles.
type Deps struct {
	Symbols     []string
	Market      *marketdata.Service
	Advisor     *advisor.Advisor
	Risk        *risk.Manager
	Execution   *execution.Pipeline
	Positions   *position.Manager
	Audit       *audit.Log
	Instruments *instrument.Registry
	Gateway     exchange.Gateway
	Metrics     *metrics.Sink
	Alerts      alert.Emitter
	Logger      *slog.Logger
}

// New builds an Orchestrator from fully-constructed subsystem handles.
func New(d Deps) *Orchestrator {
	return &Orchestrator{
		symbols: d.Symbols, market: d.Market, adv: d.Advisor, riskMgr: d.Risk,
		exec: d.Execution, positions: d.Positions, auditLog: d.Audit,
		instruments: d.Instruments, gw: d.Gateway, metrics: d.Metrics,
		alerts: d.Alerts, logger: d.Logger.With("component", "cycle"),
	}
}

// Run executes one full cycle: refresh market data, gather a signal per
// symbol from the advisor, risk-check and size each signal, submit
// approved orders, update position state, and append an audit record for
// each signal the advisor returned, whatever its outcome. A symbol with no
// returned signal gets no record, and a cycle that stops early (tripped
// circuit breaker, unreadable account state) writes none. It is the
// function handed to the scheduler as its CycleFunc.
func (o *Orchestrator) Run(ctx context.Context, cycleID string) {
	start := time.Now()
	now := start.UTC()

	if o.riskMgr.CircuitTripped() {
		o.logger.Warn("circuit breaker tripped, sweeping open positions instead of running a normal cycle", "cycle_id", cycleID)
		o.CloseAllAtMarket(ctx, "circuit_breaker_tripped")
		return
	}

	account, err := o.gw.GetAccount(ctx)
	if err != nil {
		o.logger.Error("cycle aborted: cannot read account state", "cycle_id", cycleID, "err", err)
		o.alerts.Emit(alert.Critical("cycle_abort", "cycle aborted, account state unreadable", map[string]any{"cycle_id": cycleID}))
		return
	}

	snapshots := o.refreshSnapshots(ctx, now)

	o.reviewOpenPositions(ctx, cycleID, snapshots)

	input := o.buildPromptInput(account, snapshots)
	signals := o.adv.GetSignals(ctx, input, now)
	meta := o.adv.LastDispatch()

	open := o.openPositionsForRisk()

	var wg sync.WaitGroup
	sem := make(chan struct{}, maxConcurrentSymbols)
	for _, sig := range signals {
		sig := sig
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			o.handleSignal(ctx, cycleID, now, sig, snapshots[sig.Symbol], account, open, meta)
		}()
	}
	wg.Wait()

	if o.metrics != nil {
		o.metrics.CycleLatency.Observe(time.Since(start).Seconds())
		o.metrics.OpenPositions.Set(float64(len(o.positions.OpenPositions())))
		o.metrics.CacheHitRate.Set(o.market.CacheHitRate())
	}
}

func (o *Orchestrator) refreshSnapshots(ctx context.Context, now time.Time) map[string]types.MarketSnapshot {
	snapshots := make(map[string]types.MarketSnapshot, len(o.symbols))
	var mu sync.Mutex
	var wg sync.WaitGroup
	sem := make(chan struct{}, maxConcurrentSymbols)

	for _, symbol := range o.symbols {
		symbol := symbol
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			if err := o.market.RefreshOpenInterestFunding(ctx, symbol); err != nil {
				o.logger.Warn("open interest/funding refresh failed", "symbol", symbol, "err", err)
			}
			snap := o.market.Snapshot(symbol, now)
			mu.Lock()
			snapshots[symbol] = snap
			mu.Unlock()
		}()
	}
	wg.Wait()
	return snapshots
}

func (o *Orchestrator) openPositionsForRisk() []risk.OpenPosition {
	open := o.positions.OpenPositions()
	out := make([]risk.OpenPosition, 0, len(open))
	for _, p := range open {
		out = append(out, risk.OpenPosition{Symbol: p.Symbol, Notional: p.Quantity.Mul(p.EntryPrice)})
	}
	return out
}

func (o *Orchestrator) buildPromptInput(account types.AccountState, snapshots map[string]types.MarketSnapshot) advisor.PromptInput {
	contexts := make([]advisor.SymbolContext, 0, len(o.symbols))
	for _, symbol := range o.symbols {
		snap, ok := snapshots[symbol]
		if !ok {
			continue
		}
		var pos *types.Position
		for _, p := range o.positions.OpenPositions() {
			if p.Symbol == symbol {
				cp := p
				pos = &cp
				break
			}
		}
		contexts = append(contexts, advisor.NewSymbolContext(snap, pos, 20))
	}
	return advisor.PromptInput{Account: account, Symbols: contexts}
}

// reviewOpenPositions checks every live position against its invalidation
// predicates, closing any flagged by the risk manager's review pass (spec
// §4.5's invalidation-condition check). It runs before the advisor call,
// so no signals are passed; close_position signals are handled later in
// handleSignal.
func (o *Orchestrator) reviewOpenPositions(ctx context.Context, cycleID string, snapshots map[string]types.MarketSnapshot) {
	open := o.positions.OpenPositions()
	directives := o.riskMgr.ReviewOpenPositions(open, snapshots, nil)
	for _, d := range directives {
		if err := o.positions.RequestClose(d.PositionID, d.Reason); err != nil {
			o.logger.Warn("failed to request close for invalidated position", "position_id", d.PositionID, "err", err)
			continue
		}
		o.closeAtMarket(ctx, cycleID, d)
	}
}

func (o *Orchestrator) closeAtMarket(ctx context.Context, cycleID string, d risk.CloseDirective) {
	pos, ok := o.positions.Get(d.PositionID)
	if !ok {
		return
	}
	res, err := o.exec.CloseAtMarket(ctx, cycleID, pos)
	if err != nil || res.Outcome == execution.OutcomeRejected || res.Outcome == execution.OutcomeTimeout {
		o.logger.Error("failed to close invalidated position", "position_id", d.PositionID, "err", err, "outcome", res.Outcome)
		return
	}
	pnl := realizedPnL(pos, res.AvgFillPrice)
	account, accErr := o.gw.GetAccount(ctx)
	if accErr != nil {
		o.logger.Warn("could not refresh account for realized P&L circuit check", "err", accErr)
	}
	o.riskMgr.RecordRealizedPnL(pnl, account, time.Now().UTC())
	if err := o.positions.ConfirmClose(d.PositionID, res.AvgFillPrice, pnl); err != nil {
		o.logger.Error("failed to confirm close", "position_id", d.PositionID, "err", err)
	}
}

// CloseAllAtMarket force-closes every open position in parallel, each
// through its own RequestClose/closeAtMarket call and therefore its own
// idempotency key — spec §4.5 layer 1 / Scenario 6: "all open positions
// closed at market in parallel with idempotency keys" on the transition
// into a tripped circuit breaker. Wired as the risk Manager's onTrip hook
// and also invoked defensively at the top of Run while the breaker is
// already tripped, in case a prior sweep left stragglers open.
func (o *Orchestrator) CloseAllAtMarket(ctx context.Context, reason string) {
	cycleID := "circuit-breaker-" + reason + "-" + time.Now().UTC().Format("20060102T150405")
	open := o.positions.OpenPositions()
	var wg sync.WaitGroup
	for _, pos := range open {
		pos := pos
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := o.positions.RequestClose(pos.ID, reason); err != nil {
				o.logger.Warn("failed to request close during circuit-breaker sweep", "position_id", pos.ID, "err", err)
				return
			}
			o.closeAtMarket(ctx, cycleID, risk.CloseDirective{PositionID: pos.ID, Symbol: pos.Symbol, Reason: reason})
		}()
	}
	wg.Wait()
}

// handleSignal risk-checks one signal, submits an order if approved, and
// always appends an audit record — approved or not, filled or not.
func (o *Orchestrator) handleSignal(ctx context.Context, cycleID string, now time.Time, sig types.Signal, snap types.MarketSnapshot, account types.AccountState, open []risk.OpenPosition, meta advisor.DispatchMeta) {
	rec := types.DecisionRecord{
		CycleID: cycleID, Symbol: sig.Symbol, Timestamp: now,
		SnapshotHash: snapshotHash(snap), AdvisorModel: meta.Model,
		PromptTokens: meta.PromptTokens, CompletionTokens: meta.CompletionTokens,
		RawResponse: meta.RawResponse, ParsedOutcome: string(sig.Action),
	}
	defer func() {
		if err := o.auditLog.Record(ctx, rec); err != nil {
			o.logger.Error("audit record failed", "cycle_id", cycleID, "symbol", sig.Symbol, "err", err)
		}
	}()

	if sig.Action == types.ActionHold {
		rec.RiskDecision = "hold"
		rec.ExecutionOutcome = "n/a"
		return
	}

	inst, err := o.instruments.Get(sig.Symbol)
	if err != nil {
		rec.RiskDecision = "rejected:unknown_instrument"
		rec.ExecutionOutcome = "n/a"
		return
	}

	decision := o.riskMgr.Evaluate(sig, snap, account, open, inst)
	if !decision.Approved {
		rec.RiskDecision = "rejected:" + string(decision.Reason)
		rec.ExecutionOutcome = "n/a"
		return
	}
	rec.RiskDecision = "approved"

	if sig.Action == types.ActionClosePosition {
		o.executeClose(ctx, cycleID, sig.Symbol, &rec)
		return
	}
	o.executeOpen(ctx, cycleID, sig, decision, snap, &rec)
}

func (o *Orchestrator) executeClose(ctx context.Context, cycleID, symbol string, rec *types.DecisionRecord) {
	var target *types.Position
	for _, p := range o.positions.OpenPositions() {
		if p.Symbol == symbol {
			cp := p
			target = &cp
			break
		}
	}
	if target == nil {
		rec.ExecutionOutcome = "no_open_position"
		return
	}
	if err := o.positions.RequestClose(target.ID, "close_position"); err != nil {
		rec.ExecutionOutcome = "close_request_failed"
		return
	}
	o.closeAtMarket(ctx, cycleID, risk.CloseDirective{PositionID: target.ID, Symbol: symbol, Reason: "close_position"})
	rec.ExecutionOutcome = "closed"
}

func (o *Orchestrator) executeOpen(ctx context.Context, cycleID string, sig types.Signal, decision risk.Decision, snap types.MarketSnapshot, rec *types.DecisionRecord) {
	side := types.OrderBuy
	posSide := types.SideLong
	if sig.Action == types.ActionSellToEnter {
		side = types.OrderSell
		posSide = types.SideShort
	}

	if err := o.exec.PreflightCheck(ctx, decision.Notional.Div(decimal.NewFromInt(int64(sig.Leverage))), decision.Notional, decimal.NewFromFloat(1e12), decimal.Zero); err != nil {
		rec.ExecutionOutcome = "preflight_rejected:" + string(errkind.KindOf(err))
		return
	}

	expectedPrice := snap.CurrentCandle.Close

	result, err := o.exec.Submit(ctx, cycleID, sig.Symbol, side, decision.Quantity, sig.Leverage, expectedPrice)
	if err != nil {
		rec.ExecutionOutcome = "submit_error"
		o.logger.Error("order submission error", "symbol", sig.Symbol, "err", err)
		return
	}
	if o.metrics != nil {
		o.metrics.OrderOutcomes.WithLabelValues(string(result.Outcome)).Inc()
	}

	switch result.Outcome {
	case execution.OutcomeRejected, execution.OutcomeTimeout:
		rec.ExecutionOutcome = string(result.Outcome)
		return
	}

	rec.ExecutionOutcome = string(result.Outcome)

	stopLossPrice := stopLossPriceFor(posSide, result.AvgFillPrice, sig.StopLossPct)
	var takeProfitPrice *decimal.Decimal
	if sig.TakeProfitPct != nil {
		tp := takeProfitPriceFor(posSide, result.AvgFillPrice, *sig.TakeProfitPct)
		takeProfitPrice = &tp
	}

	pos, err := o.positions.Open(sig.Symbol, posSide, result.FilledQty, result.AvgFillPrice, sig.Leverage, stopLossPrice, takeProfitPrice, sig.InvalidationConds, cycleID, sig.Symbol)
	if err != nil {
		o.logger.Error("failed to record opened position", "symbol", sig.Symbol, "err", err)
		return
	}
	if err := o.positions.ConfirmFill(ctx, pos.ID, result.AvgFillPrice); err != nil {
		o.logger.Error("failed to confirm fill", "position_id", pos.ID, "err", err)
	}
}

func stopLossPriceFor(side types.Side, entry decimal.Decimal, pct float64) decimal.Decimal {
	delta := entry.Mul(decimal.NewFromFloat(pct))
	if side == types.SideLong {
		return entry.Sub(delta)
	}
	return entry.Add(delta)
}

func takeProfitPriceFor(side types.Side, entry decimal.Decimal, pct float64) decimal.Decimal {
	delta := entry.Mul(decimal.NewFromFloat(pct))
	if side == types.SideLong {
		return entry.Add(delta)
	}
	return entry.Sub(delta)
}

func realizedPnL(pos types.Position, exitPrice decimal.Decimal) decimal.Decimal {
	delta := exitPrice.Sub(pos.EntryPrice)
	if pos.Side == types.SideShort {
		delta = delta.Neg()
	}
	return delta.Mul(pos.Quantity)
}

func snapshotHash(snap types.MarketSnapshot) string {
	return fmt.Sprintf("%s-%d-%s", snap.Symbol, snap.CurrentCandle.OpenTime.Unix(), snap.CurrentCandle.Close.String())
}
