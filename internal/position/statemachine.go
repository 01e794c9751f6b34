// Package position owns the Position state machine (spec §4.6): legal
// transitions, defense-in-depth stop-loss arming, exchange reconciliation,
// and durable persistence. It generalizes the teacher's JSON-file
// `internal/store.Store` into a GORM-backed store and adds state-machine
// enforcement the teacher's flat position struct never needed (Polymarket
// inventory had no OPENING/CLOSING/FAILED/LIQUIDATED lifecycle).
package position

import (
	"fmt"

	"tradingcore/pkg/types"
)

// legalTransitions enumerates every transition the state machine of spec
// §4.6 permits. Any transition not listed here is rejected and logged
// without mutating state.
var legalTransitions = map[types.PositionState]map[types.PositionState]bool{
	types.PositionNone: {
		types.PositionOpening: true,
	},
	types.PositionOpening: {
		types.PositionOpen:   true,
		types.PositionFailed: true,
	},
	types.PositionOpen: {
		types.PositionClosing:    true,
		types.PositionLiquidated: true,
		types.PositionReconciled: true, // ghost position found during reconciliation, spec §4.6
	},
	types.PositionClosing: {
		types.PositionClosed: true,
	},
	types.PositionFailed: {
		types.PositionOpening: true, // retry allowed
	},
}

// ErrIllegalTransition is returned when a caller attempts a transition not
// present in legalTransitions.
type ErrIllegalTransition struct {
	From, To types.PositionState
}

func (e *ErrIllegalTransition) Error() string {
	return fmt.Sprintf("illegal position transition %s -> %s", e.From, e.To)
}

// validateTransition reports whether moving from `from` to `to` is legal.
func validateTransition(from, to types.PositionState) error {
	allowed, ok := legalTransitions[from]
	if !ok || !allowed[to] {
		return &ErrIllegalTransition{From: from, To: to}
	}
	return nil
}

// isTerminal reports whether a state is CLOSED, LIQUIDATED, or
// CLOSED_RECONCILED — terminal states leaving legalTransitions with no
// further entries.
func isTerminal(state types.PositionState) bool {
	return state == types.PositionClosed || state == types.PositionLiquidated || state == types.PositionReconciled
}
