// Package types defines the shared vocabulary used across every layer of
// the trading core — instrument metadata, candles, market snapshots,
// advisor signals, positions, orders, and decision records. It has no
// dependencies on internal packages so any layer can import it.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// ————————————————————————————————————————————————————————————————————————
// Enums
// ————————————————————————————————————————————————————————————————————————

// Side is the direction of a position or order.
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// OrderSide is BUY or SELL, independent of the resulting position side.
type OrderSide string

const (
	OrderBuy  OrderSide = "buy"
	OrderSell OrderSide = "sell"
)

// OrderType enumerates the order instructions the Exchange Gateway can place.
type OrderType string

const (
	OrderTypeMarket     OrderType = "market"
	OrderTypeStopMarket OrderType = "stop_market"
	OrderTypeStopLimit  OrderType = "stop_limit"
	OrderTypeLimit      OrderType = "limit"
)

// OrderStatus is the lifecycle state of an exchange order.
type OrderStatus string

const (
	OrderStatusNew      OrderStatus = "new"
	OrderStatusPartial  OrderStatus = "partial"
	OrderStatusFilled   OrderStatus = "filled"
	OrderStatusCanceled OrderStatus = "canceled"
	OrderStatusRejected OrderStatus = "rejected"
)

// Action is the advisor's trading instruction for one symbol.
type Action string

const (
	ActionBuyToEnter    Action = "buy_to_enter"
	ActionSellToEnter   Action = "sell_to_enter"
	ActionHold          Action = "hold"
	ActionClosePosition Action = "close_position"
)

// PositionState is the state machine slot a Position currently occupies.
// See internal/position for the legal transition graph.
type PositionState string

const (
	PositionNone        PositionState = "none"
	PositionOpening     PositionState = "opening"
	PositionOpen        PositionState = "open"
	PositionClosing     PositionState = "closing"
	PositionClosed      PositionState = "closed"
	PositionFailed      PositionState = "failed"
	PositionLiquidated  PositionState = "liquidated"
	PositionReconciled  PositionState = "closed_reconciled" // ghost position, no exit fill
)

// ————————————————————————————————————————————————————————————————————————
// Instrument
// ————————————————————————————————————————————————————————————————————————

// Instrument describes one perpetual-futures contract. Immutable after load.
type Instrument struct {
	Symbol       string          // e.g. "BTCUSDT"
	TickSize     decimal.Decimal // minimum price increment
	LotStep      decimal.Decimal // minimum quantity increment
	MinNotional  decimal.Decimal // minimum order notional value
	MaxLeverage  int             // max leverage the exchange allows for this instrument
}

// RoundPriceDown rounds a price down to the instrument's tick size.
func (i Instrument) RoundPriceDown(price decimal.Decimal) decimal.Decimal {
	return roundStepDown(price, i.TickSize)
}

// RoundQtyDown rounds a quantity down to the instrument's lot step.
// Spec §4.5: "rounding is always down to avoid insufficient-margin errors."
func (i Instrument) RoundQtyDown(qty decimal.Decimal) decimal.Decimal {
	return roundStepDown(qty, i.LotStep)
}

func roundStepDown(v, step decimal.Decimal) decimal.Decimal {
	if step.IsZero() {
		return v
	}
	return v.Div(step).Floor().Mul(step)
}

// ————————————————————————————————————————————————————————————————————————
// Candles
// ————————————————————————————————————————————————————————————————————————

// Candle is one OHLCV bar for a fixed timeframe.
type Candle struct {
	Symbol    string
	Timeframe string
	OpenTime  time.Time
	Open      decimal.Decimal
	High      decimal.Decimal
	Low       decimal.Decimal
	Close     decimal.Decimal
	Volume    decimal.Decimal
	ExchangeTimestamp time.Time
}

// Valid checks the candle invariants from spec §3: high >= {open,close} >= low,
// volume >= 0.
func (c Candle) Valid() bool {
	if c.Volume.IsNegative() {
		return false
	}
	if c.High.LessThan(c.Open) || c.High.LessThan(c.Close) || c.High.LessThan(c.Low) {
		return false
	}
	if c.Open.LessThan(c.Low) || c.Close.LessThan(c.Low) {
		return false
	}
	return true
}

// ————————————————————————————————————————————————————————————————————————
// Indicators
// ————————————————————————————————————————————————————————————————————————

// IndicatorStatus flags whether an indicator has enough history to be trusted.
type IndicatorStatus string

const (
	IndicatorReady     IndicatorStatus = "ready"
	IndicatorWarmingUp IndicatorStatus = "warming_up"
)

// IndicatorSet holds the computed technical indicators for one symbol/timeframe.
type IndicatorSet struct {
	Status IndicatorStatus

	EMA9  decimal.Decimal
	EMA20 decimal.Decimal
	EMA50 decimal.Decimal

	MACD       decimal.Decimal
	MACDSignal decimal.Decimal
	MACDHist   decimal.Decimal

	RSI7  decimal.Decimal
	RSI14 decimal.Decimal

	BollingerMid   decimal.Decimal
	BollingerUpper decimal.Decimal
	BollingerLower decimal.Decimal
}

// ————————————————————————————————————————————————————————————————————————
// Market snapshot (§3, §4.3)
// ————————————————————————————————————————————————————————————————————————

// DataQualityWarning enumerates snapshot-level data quality flags.
type DataQualityWarning string

const (
	WarnStaleWS        DataQualityWarning = "stale_ws"
	WarnGap            DataQualityWarning = "gap"
	WarnWarmingUp      DataQualityWarning = "warming_indicator"
	WarnStaleOI        DataQualityWarning = "stale_open_interest"
	WarnStaleFunding   DataQualityWarning = "stale_funding"
)

// MarketSnapshot is the immutable, per-cycle frozen input for one symbol.
// It is constructed once by Market Data and discarded when the cycle ends.
type MarketSnapshot struct {
	Symbol          string
	Timeframe       string
	GeneratedAt     time.Time
	Closes          []decimal.Decimal // most recent closes, oldest first (<=20)
	CurrentCandle   Candle
	Indicators      IndicatorSet
	OpenInterest    decimal.Decimal
	OIStale         bool
	FundingRate     decimal.Decimal
	FundingStale    bool
	StalenessAge    time.Duration
	DataQuality     []DataQualityWarning
}

// ————————————————————————————————————————————————————————————————————————
// Advisor signal (§3, §4.4)
// ————————————————————————————————————————————————————————————————————————

// InvalidationCondition is a parsed predicate over indicators/price/funding,
// e.g. "rsi14 > 70" or "price < ema50".
type InvalidationCondition struct {
	Raw string
}

// Signal is the validated, schema-checked output of the advisor for one
// symbol. Lifetime: one cycle.
type Signal struct {
	Symbol               string
	Action               Action
	Confidence           float64
	RiskUSD              float64
	Leverage             int
	StopLossPct          float64
	TakeProfitPct        *float64
	InvalidationConds    []InvalidationCondition
	Reasoning            string
}

// ————————————————————————————————————————————————————————————————————————
// Orders
// ————————————————————————————————————————————————————————————————————————

// Order is a pending or completed exchange instruction.
type Order struct {
	ClientID       string // idempotency key
	ExchangeID     string
	Symbol         string
	Side           OrderSide
	Type           OrderType
	QtyRequested   decimal.Decimal
	QtyFilled      decimal.Decimal
	AvgFillPrice   decimal.Decimal
	Fees           decimal.Decimal
	Status         OrderStatus
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// IsTerminal reports whether the order is in a state that can no longer change.
func (o Order) IsTerminal() bool {
	switch o.Status {
	case OrderStatusFilled, OrderStatusCanceled, OrderStatusRejected:
		return true
	default:
		return false
	}
}

// ————————————————————————————————————————————————————————————————————————
// Position (§3, §4.6)
// ————————————————————————————————————————————————————————————————————————

// Position is an open (or formerly open) market exposure.
type Position struct {
	ID                     string
	Symbol                 string
	Side                   Side
	Quantity               decimal.Decimal
	EntryPrice             decimal.Decimal
	Leverage               int
	StopLossPrice          decimal.Decimal
	TakeProfitPrice        *decimal.Decimal
	InvalidationConds      []InvalidationCondition
	State                  PositionState
	OpenedAt               time.Time
	ClosedAt               *time.Time
	RealizedPnL            decimal.Decimal
	UnrealizedPnL          decimal.Decimal
	L1OrderID              string // exchange stop order id, empty if none placed
	SourceSignalSymbol     string
	CycleID                string
}

// ————————————————————————————————————————————————————————————————————————
// Decision record (§3, §4.8)
// ————————————————————————————————————————————————————————————————————————

// DecisionRecord is one append-only audit entry per cycle per symbol.
type DecisionRecord struct {
	CycleID           string
	Symbol            string
	Timestamp         time.Time
	SnapshotHash      string
	AdvisorModel      string
	PromptTokens      int
	CompletionTokens  int
	RawResponse       string
	ParsedOutcome     string // signal action: "buy_to_enter" | "sell_to_enter" | "hold" | "close_position"
	RejectionReason   string
	RiskDecision      string
	ExecutionOutcome  string
}

// ————————————————————————————————————————————————————————————————————————
// Account state (§3)
// ————————————————————————————————————————————————————————————————————————

// AccountState is rebuilt each cycle from exchange truth + local positions.
// Never persisted as authoritative.
type AccountState struct {
	Balance           decimal.Decimal
	AvailableMargin   decimal.Decimal
	TotalUnrealizedPnL decimal.Decimal
}

// Equity returns balance + unrealized P&L, the basis for exposure-pct checks.
func (a AccountState) Equity() decimal.Decimal {
	return a.Balance.Add(a.TotalUnrealizedPnL)
}
