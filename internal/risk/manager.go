package risk

import (
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"tradingcore/internal/alert"
	"tradingcore/internal/config"
	"tradingcore/pkg/types"
)

// highVolBandWidthPct is the Bollinger band width (as a fraction of the
// mid band) above which a symbol is considered high-volatility for the
// confidence-bump rule in spec §4.5 layer 5. The teacher has no
// volatility concept; this heuristic is new, kept to a single constant
// and documented here rather than split across config.
const highVolBandWidthPct = 0.04

// Manager evaluates candidate Signals against the account's risk budget
// in the ordered six-layer chain of spec §4.5, and reviews open positions
// each cycle for invalidation/close triggers. It keeps the teacher's
// short-circuit-on-first-rejection style from `processReport` and its
// kill-switch/cooldown shape from `emitKill`, generalized to a
// synchronous per-signal Evaluate call instead of an async report
// channel (the orchestrator already serializes cycles).
type Manager struct {
	cfg    config.RiskConfig
	alerts alert.Emitter
	logger *slog.Logger

	mu                sync.RWMutex
	circuitTripped    bool
	realizedLossToday decimal.Decimal // negative value accumulates losses
	day               time.Time

	onTrip func()
}

// Option customizes Manager construction.
type Option func(*Manager)

// WithOnTrip installs a hook fired synchronously the instant the circuit
// breaker transitions into TRIPPED. The orchestrator wires this to its
// close-all-at-market sweep (spec §4.5 layer 1 / Scenario 6: "all open
// positions closed at market in parallel with idempotency keys").
func WithOnTrip(fn func()) Option {
	return func(m *Manager) { m.onTrip = fn }
}

// NewManager constructs a risk Manager. now seeds the daily-loss tracking
// window.
func NewManager(cfg config.RiskConfig, alerts alert.Emitter, logger *slog.Logger, now time.Time, opts ...Option) *Manager {
	m := &Manager{
		cfg:    cfg,
		alerts: alerts,
		logger: logger.With("component", "risk"),
		day:    startOfDay(now),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ResetDaily clears the circuit breaker and the realized-loss-today
// counter; wired to the scheduler's daily reset job.
func (m *Manager) ResetDaily(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.circuitTripped = false
	m.realizedLossToday = decimal.Zero
	m.day = startOfDay(now)
}

// RecordRealizedPnL folds a closed position's realized P&L into today's
// running total and trips the circuit breaker if the daily loss limit is
// breached.
func (m *Manager) RecordRealizedPnL(pnl decimal.Decimal, account types.AccountState, now time.Time) {
	m.mu.Lock()
	m.rolloverLocked(now)
	m.realizedLossToday = m.realizedLossToday.Add(pnl)

	tripped := false
	if !m.circuitTripped && !account.Equity().IsZero() {
		lossPct := m.realizedLossToday.Div(account.Equity()).Neg()
		limit := decimal.NewFromFloat(m.cfg.DailyLossLimitPct)
		if lossPct.GreaterThanOrEqual(limit) {
			m.circuitTripped = true
			tripped = true
			m.alerts.Emit(alert.Critical("risk_circuit_breaker", "daily loss limit breached, entries halted and open positions swept to market", map[string]any{
				"realized_loss_today": m.realizedLossToday.String(),
				"limit_pct":           m.cfg.DailyLossLimitPct,
			}))
		}
	}
	m.mu.Unlock()

	// Fired outside the lock: onTrip closes every open position, which
	// itself calls back into RecordRealizedPnL for each fill.
	if tripped && m.onTrip != nil {
		m.onTrip()
	}
}

// SetOnTrip installs (or replaces) the close-all-at-market hook after
// construction, for wiring an orchestrator built from a Manager it
// already depends on — avoids a construction-order cycle between the
// risk Manager and the orchestrator that owns the actual close path.
func (m *Manager) SetOnTrip(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onTrip = fn
}

// CircuitTripped reports whether the daily-loss circuit breaker is
// currently active.
func (m *Manager) CircuitTripped() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.circuitTripped
}

func (m *Manager) rolloverLocked(now time.Time) {
	today := startOfDay(now)
	if today.After(m.day) {
		m.realizedLossToday = decimal.Zero
		m.circuitTripped = false
		m.day = today
	}
}

// OpenPosition is the subset of position state the exposure/sizing layers
// need; kept separate from types.Position so this package doesn't need to
// import internal/position (avoiding an import cycle once that package
// depends on risk for sizing).
type OpenPosition struct {
	Symbol   string
	Notional decimal.Decimal
}

// Evaluate runs signal through the six ordered pre-trade layers of spec
// §4.5 and returns the resulting Decision. hold signals always pass with
// zero quantity (the caller should simply take no action on a hold).
func (m *Manager) Evaluate(signal types.Signal, snap types.MarketSnapshot, account types.AccountState, open []OpenPosition, instrument types.Instrument) Decision {
	if signal.Action == types.ActionHold {
		return Decision{Symbol: signal.Symbol, Approved: true}
	}

	// Layer 1: circuit breaker.
	if m.CircuitTripped() {
		return reject(signal.Symbol, RejectCircuitBreakerTripped)
	}

	// close_position bypasses sizing/exposure layers entirely — it reduces
	// risk, so the remaining layers (which only bound growth) do not apply.
	if signal.Action == types.ActionClosePosition {
		if signal.Confidence < m.cfg.ExitConfidence {
			return reject(signal.Symbol, RejectConfidence)
		}
		return Decision{Symbol: signal.Symbol, Approved: true}
	}

	// Layer 2: max concurrent positions.
	if len(open) >= m.cfg.MaxPositions {
		if !hasSymbol(open, signal.Symbol) {
			return reject(signal.Symbol, RejectMaxPositions)
		}
	}

	// Layer 3: exposure.
	notional := decimal.NewFromFloat(signal.RiskUSD).Mul(decimal.NewFromInt(int64(signal.Leverage)))
	equity := account.Equity()
	totalExposure := notional
	for _, p := range open {
		totalExposure = totalExposure.Add(p.Notional)
	}
	if !equity.IsZero() {
		exposurePct, _ := totalExposure.Div(equity).Float64()
		if exposurePct > m.cfg.MaxExposurePct {
			return reject(signal.Symbol, RejectExposure)
		}
		if exposurePct > m.cfg.ExposureWarnPct {
			m.alerts.Emit(alert.Warning("risk_exposure", "portfolio exposure approaching limit", map[string]any{
				"exposure_pct": exposurePct,
			}))
		}
	}

	// Layer 4: leverage bounds.
	if signal.Leverage < m.cfg.MinLeverage || signal.Leverage > m.cfg.MaxLeverage {
		return reject(signal.Symbol, RejectLeverageBounds)
	}

	// Layer 5: confidence threshold, bumped under high volatility.
	threshold := m.cfg.EntryConfidence
	if isHighVolatility(snap.Indicators) {
		threshold += m.cfg.HighVolConfidenceBump
	}
	if signal.Confidence < threshold {
		return reject(signal.Symbol, RejectConfidence)
	}

	// Layer 6: margin.
	requiredMargin := notional.Div(decimal.NewFromInt(int64(signal.Leverage)))
	maxMargin := account.AvailableMargin.Mul(decimal.NewFromFloat(m.cfg.MaxMarginUtilizationPct))
	if requiredMargin.GreaterThan(maxMargin) {
		return reject(signal.Symbol, RejectMargin)
	}

	// Position sizing, rounded down to the instrument's lot step.
	if snap.CurrentCandle.Close.IsZero() {
		return reject(signal.Symbol, RejectBelowMinNotional)
	}
	qty := instrument.RoundQtyDown(notional.Div(snap.CurrentCandle.Close))
	finalNotional := qty.Mul(snap.CurrentCandle.Close)
	if finalNotional.LessThan(instrument.MinNotional) {
		return reject(signal.Symbol, RejectBelowMinNotional)
	}

	return Decision{Symbol: signal.Symbol, Approved: true, Quantity: qty, Notional: finalNotional}
}

func hasSymbol(open []OpenPosition, symbol string) bool {
	for _, p := range open {
		if p.Symbol == symbol {
			return true
		}
	}
	return false
}

func reject(symbol string, reason RejectionReason) Decision {
	return Decision{Symbol: symbol, Approved: false, Reason: reason}
}

// isHighVolatility flags a symbol whose Bollinger band width exceeds
// highVolBandWidthPct of the mid band, used to raise the entry-confidence
// bar under turbulent conditions (spec §4.5).
func isHighVolatility(ind types.IndicatorSet) bool {
	if ind.Status != types.IndicatorReady || ind.BollingerMid.IsZero() {
		return false
	}
	width := ind.BollingerUpper.Sub(ind.BollingerLower).Div(ind.BollingerMid)
	widthFloat, _ := width.Float64()
	return widthFloat > highVolBandWidthPct
}

// ReviewOpenPositions evaluates every open position's signal (if the
// advisor returned a close_position for it) and invalidation predicates
// against the latest snapshot, returning a CloseDirective for each
// position that must be closed at market this cycle (spec §4.5: "any
// invalidation predicate that evaluates TRUE ... triggers an immediate
// market close with reason invalidated").
func (m *Manager) ReviewOpenPositions(positions []types.Position, snapshots map[string]types.MarketSnapshot, signals map[string]types.Signal) []CloseDirective {
	var directives []CloseDirective
	for _, pos := range positions {
		if sig, ok := signals[pos.Symbol]; ok && sig.Action == types.ActionClosePosition {
			directives = append(directives, CloseDirective{PositionID: pos.ID, Symbol: pos.Symbol, Reason: "close_position"})
			continue
		}
		snap, ok := snapshots[pos.Symbol]
		if !ok {
			continue
		}
		if cond, triggered := AnyPredicateTrue(pos.InvalidationConds, snap); triggered {
			m.logger.Info(describePredicate(cond), "position_id", pos.ID, "symbol", pos.Symbol)
			directives = append(directives, CloseDirective{PositionID: pos.ID, Symbol: pos.Symbol, Reason: "invalidated"})
		}
	}
	return directives
}
