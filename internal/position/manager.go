package position

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"tradingcore/internal/alert"
	"tradingcore/internal/exchange"
	"tradingcore/pkg/types"
)

// Manager owns every Position's lifecycle: legal state transitions,
// defense-in-depth stop-loss arming, and exchange reconciliation (Reconcile).
// A single mutex serializes all mutation (spec §4.6's "single-writer"
// requirement), mirroring the teacher's RWMutex-guarded market-state
// pattern but write-serialized throughout since positions mutate far more
// often than they're merely read.
type Manager struct {
	mu        sync.Mutex
	positions map[string]*types.Position

	monitorsMu sync.Mutex
	monitors   map[string]context.CancelFunc

	store                   *Store
	gw                      exchange.Gateway
	alerts                  alert.Emitter
	logger                  *slog.Logger
	priceSource             PriceSource
	emergencyLiquidationPct float64
	forceClose              ForceCloser
}

// Option customizes Manager construction.
type Option func(*Manager)

// WithForceCloser installs the hook the L2/L3 protective monitors use to
// submit an unconditional market close against the exchange (spec §4.6).
// Wired by the entrypoint to the execution pipeline.
func WithForceCloser(fc ForceCloser) Option {
	return func(m *Manager) { m.forceClose = fc }
}

// NewManager constructs a position Manager. priceSource supplies the
// latest mark price for stop-loss monitoring.
func NewManager(store *Store, gw exchange.Gateway, alerts alert.Emitter, logger *slog.Logger, priceSource PriceSource, emergencyLiquidationPct float64, opts ...Option) *Manager {
	m := &Manager{
		positions:               make(map[string]*types.Position),
		monitors:                make(map[string]context.CancelFunc),
		store:                   store,
		gw:                      gw,
		alerts:                  alerts,
		logger:                  logger.With("component", "position"),
		priceSource:             priceSource,
		emergencyLiquidationPct: emergencyLiquidationPct,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// LoadFromStore hydrates in-memory state from durable storage and re-arms
// L2/L3 monitors for any position already OPEN (e.g. after a restart).
func (m *Manager) LoadFromStore(ctx context.Context) error {
	loaded, err := m.store.LoadOpen()
	if err != nil {
		return err
	}
	m.mu.Lock()
	for i := range loaded {
		p := loaded[i]
		m.positions[p.ID] = &p
	}
	toArm := make([]*types.Position, 0)
	for _, p := range m.positions {
		if p.State == types.PositionOpen {
			toArm = append(toArm, p)
		}
	}
	m.mu.Unlock()

	for _, p := range toArm {
		monitorCtx, cancel := context.WithCancel(ctx)
		m.monitorsMu.Lock()
		m.monitors[p.ID] = cancel
		m.monitorsMu.Unlock()
		go m.monitorL2(monitorCtx, p.ID)
		go m.monitorL3(monitorCtx, p.ID)
	}
	return nil
}

// Stop cancels every running stop-loss monitor goroutine, used on
// graceful shutdown.
func (m *Manager) Stop() {
	m.monitorsMu.Lock()
	defer m.monitorsMu.Unlock()
	for id, cancel := range m.monitors {
		cancel()
		delete(m.monitors, id)
	}
}

// Get returns a copy of the position by ID.
func (m *Manager) Get(id string) (types.Position, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.positions[id]
	if !ok {
		return types.Position{}, false
	}
	return *p, true
}

// OpenPositions returns a copy of every non-terminal position.
func (m *Manager) OpenPositions() []types.Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.Position, 0, len(m.positions))
	for _, p := range m.positions {
		if !isTerminal(p.State) {
			out = append(out, *p)
		}
	}
	return out
}

// Open creates a new position in the OPENING state and persists it. The
// caller (execution pipeline) is responsible for actually submitting the
// entry order; ConfirmFill/RejectOpening report back the outcome.
func (m *Manager) Open(symbol string, side types.Side, qty, entryPrice decimal.Decimal, leverage int, stopLossPrice decimal.Decimal, takeProfitPrice *decimal.Decimal, invalidationConds []types.InvalidationCondition, cycleID, sourceSignalSymbol string) (types.Position, error) {
	pos := types.Position{
		ID: uuid.NewString(), Symbol: symbol, Side: side, Quantity: qty,
		EntryPrice: entryPrice, Leverage: leverage, StopLossPrice: stopLossPrice,
		TakeProfitPrice: takeProfitPrice, InvalidationConds: invalidationConds,
		State: types.PositionOpening, OpenedAt: time.Now().UTC(),
		CycleID: cycleID, SourceSignalSymbol: sourceSignalSymbol,
	}
	if err := validateTransition(types.PositionNone, types.PositionOpening); err != nil {
		return types.Position{}, err
	}

	m.mu.Lock()
	m.positions[pos.ID] = &pos
	err := m.store.Save(pos)
	m.mu.Unlock()
	return pos, err
}

// ConfirmFill transitions a position OPENING->OPEN on entry fill
// confirmation and arms the three stop-loss defense layers within the
// 5-second deadline of spec §4.6.
func (m *Manager) ConfirmFill(ctx context.Context, positionID string, fillPrice decimal.Decimal) error {
	m.mu.Lock()
	pos, ok := m.positions[positionID]
	if !ok {
		m.mu.Unlock()
		return &ErrIllegalTransition{From: types.PositionNone, To: types.PositionOpen}
	}
	if err := m.transitionLocked(pos, types.PositionOpen); err != nil {
		m.mu.Unlock()
		return err
	}
	pos.EntryPrice = fillPrice
	m.store.Save(*pos)
	m.mu.Unlock()

	// ctx here is the long-lived application context: the L2/L3 monitors
	// spawned by armStopLoss must outlive the 5s L1 placement deadline.
	// Only the CreateOrder call itself is bounded to that deadline.
	m.armStopLoss(ctx, positionID)
	return nil
}

// RejectOpening transitions OPENING->FAILED when the entry order is
// rejected by the exchange.
func (m *Manager) RejectOpening(positionID, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	pos, ok := m.positions[positionID]
	if !ok {
		return &ErrIllegalTransition{From: types.PositionNone, To: types.PositionFailed}
	}
	if err := m.transitionLocked(pos, types.PositionFailed); err != nil {
		return err
	}
	m.logger.Warn("position entry rejected", "position_id", positionID, "reason", reason)
	return m.store.Save(*pos)
}

// RetryOpen transitions FAILED->OPENING to allow a fresh entry attempt.
func (m *Manager) RetryOpen(positionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	pos, ok := m.positions[positionID]
	if !ok {
		return &ErrIllegalTransition{From: types.PositionFailed, To: types.PositionOpening}
	}
	if err := m.transitionLocked(pos, types.PositionOpening); err != nil {
		return err
	}
	return m.store.Save(*pos)
}

// RequestClose transitions OPEN->CLOSING, the execution pipeline's signal
// to submit a closing market order, and stops the stop-loss monitors.
func (m *Manager) RequestClose(positionID, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	pos, ok := m.positions[positionID]
	if !ok {
		return &ErrIllegalTransition{From: types.PositionOpen, To: types.PositionClosing}
	}
	return m.requestCloseLocked(pos, reason)
}

func (m *Manager) requestCloseLocked(pos *types.Position, reason string) error {
	if err := m.transitionLocked(pos, types.PositionClosing); err != nil {
		return err
	}
	m.logger.Info("position closing", "position_id", pos.ID, "reason", reason)
	err := m.store.Save(*pos)
	go m.stopMonitors(pos.ID)
	return err
}

// ConfirmClose transitions CLOSING->CLOSED on exit fill confirmation,
// fixing realized P&L (including fees and any funding accrued, both
// folded into realizedPnL by the caller per spec §4.6).
func (m *Manager) ConfirmClose(positionID string, exitPrice decimal.Decimal, realizedPnL decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	pos, ok := m.positions[positionID]
	if !ok {
		return &ErrIllegalTransition{From: types.PositionClosing, To: types.PositionClosed}
	}
	if err := m.transitionLocked(pos, types.PositionClosed); err != nil {
		return err
	}
	now := time.Now().UTC()
	pos.ClosedAt = &now
	pos.RealizedPnL = realizedPnL
	pos.UnrealizedPnL = decimal.Zero
	return m.store.Save(*pos)
}

// UpdateUnrealizedPnL recomputes unrealized P&L for every open position on
// the given symbol from the current mark price (spec §4.6: recomputed
// each cycle).
func (m *Manager) UpdateUnrealizedPnL(symbol string, markPrice decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, pos := range m.positions {
		if pos.Symbol != symbol || pos.State != types.PositionOpen {
			continue
		}
		pos.UnrealizedPnL = unrealizedPnL(*pos, markPrice)
	}
}

func unrealizedPnL(pos types.Position, markPrice decimal.Decimal) decimal.Decimal {
	diff := markPrice.Sub(pos.EntryPrice)
	if pos.Side == types.SideShort {
		diff = diff.Neg()
	}
	return diff.Mul(pos.Quantity)
}

// transitionLocked validates and applies a state transition; caller must
// hold m.mu.
func (m *Manager) transitionLocked(pos *types.Position, to types.PositionState) error {
	if err := validateTransition(pos.State, to); err != nil {
		m.logger.Error("rejected illegal position transition", "position_id", pos.ID, "from", pos.State, "to", to)
		return err
	}
	pos.State = to
	return nil
}
