// Package risk evaluates advisor Signals against the account's risk
// budget before they reach the execution pipeline (spec §4.5), and
// reviews open positions each cycle for close-triggering conditions.
//
// This generalizes the teacher's `risk.Manager` — which aggregated
// per-market/global USD exposure, a daily-loss kill switch, and a
// rapid-price-movement kill switch into a single `KillSignal` channel —
// into an ordered six-layer pre-trade gate chain plus the same
// short-circuiting style the teacher used in `processReport`.
package risk

import (
	"github.com/shopspring/decimal"

	"tradingcore/pkg/types"
)

// RejectionReason names the gate that rejected a candidate, for
// audit logging and operator diagnosis.
type RejectionReason string

const (
	RejectCircuitBreakerTripped RejectionReason = "circuit_breaker_tripped"
	RejectMaxPositions          RejectionReason = "max_positions"
	RejectExposure              RejectionReason = "exposure_limit"
	RejectLeverageBounds        RejectionReason = "leverage_bounds"
	RejectConfidence            RejectionReason = "confidence_threshold"
	RejectMargin                RejectionReason = "insufficient_margin"
	RejectBelowMinNotional      RejectionReason = "below_min_notional"
)

// Decision is the outcome of evaluating one Signal: either Approved with
// concrete order parameters, or rejected with a reason.
type Decision struct {
	Symbol    string
	Approved  bool
	Reason    RejectionReason // empty if Approved
	Quantity  decimal.Decimal // sized and rounded down, only set if Approved
	Notional  decimal.Decimal
}

// CloseDirective is emitted by the per-cycle open-position review when a
// position must be closed at market.
type CloseDirective struct {
	PositionID string
	Symbol     string
	Reason     string // "invalidated" or "close_position"
}
