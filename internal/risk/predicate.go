package risk

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"tradingcore/pkg/types"
)

// predicateFields are the snapshot/position values an invalidation
// condition may reference, e.g. "rsi14 > 70" or "price < 48000"; the
// right-hand side is always a number.
type predicateFields struct {
	Price  decimal.Decimal
	EMA9   decimal.Decimal
	EMA20  decimal.Decimal
	EMA50  decimal.Decimal
	RSI14  decimal.Decimal
	MACD   decimal.Decimal
	Funding decimal.Decimal
}

func fieldsFromSnapshot(snap types.MarketSnapshot) predicateFields {
	return predicateFields{
		Price:   snap.CurrentCandle.Close,
		EMA9:    snap.Indicators.EMA9,
		EMA20:   snap.Indicators.EMA20,
		EMA50:   snap.Indicators.EMA50,
		RSI14:   snap.Indicators.RSI14,
		MACD:    snap.Indicators.MACD,
		Funding: snap.FundingRate,
	}
}

func (f predicateFields) lookup(name string) (decimal.Decimal, bool) {
	switch strings.ToLower(name) {
	case "price":
		return f.Price, true
	case "ema9":
		return f.EMA9, true
	case "ema20":
		return f.EMA20, true
	case "ema50":
		return f.EMA50, true
	case "rsi14":
		return f.RSI14, true
	case "macd":
		return f.MACD, true
	case "funding", "funding_rate":
		return f.Funding, true
	default:
		return decimal.Zero, false
	}
}

// EvaluatePredicate parses and evaluates a single clause of the form
// "<field> <op> <value>" (op one of >, <, >=, <=, ==) against the current
// snapshot. Unparseable or unknown-field predicates evaluate false rather
// than erroring — a malformed invalidation condition should never itself
// force a close.
func EvaluatePredicate(cond types.InvalidationCondition, snap types.MarketSnapshot) bool {
	field, op, valueStr, ok := tokenizePredicate(cond.Raw)
	if !ok {
		return false
	}
	fields := fieldsFromSnapshot(snap)
	lhs, ok := fields.lookup(field)
	if !ok {
		return false
	}
	rhsFloat, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return false
	}
	rhs := decimal.NewFromFloat(rhsFloat)

	switch op {
	case ">":
		return lhs.GreaterThan(rhs)
	case ">=":
		return lhs.GreaterThanOrEqual(rhs)
	case "<":
		return lhs.LessThan(rhs)
	case "<=":
		return lhs.LessThanOrEqual(rhs)
	case "==":
		return lhs.Equal(rhs)
	default:
		return false
	}
}

// tokenizePredicate splits "field op value" into its three parts. Supports
// single- and two-character comparison operators with optional surrounding
// whitespace.
func tokenizePredicate(raw string) (field, op, value string, ok bool) {
	raw = strings.TrimSpace(raw)
	for _, candidate := range []string{">=", "<=", "==", ">", "<"} {
		idx := strings.Index(raw, candidate)
		if idx <= 0 {
			continue
		}
		field = strings.TrimSpace(raw[:idx])
		op = candidate
		value = strings.TrimSpace(raw[idx+len(candidate):])
		if field == "" || value == "" {
			return "", "", "", false
		}
		return field, op, value, true
	}
	return "", "", "", false
}

// AnyPredicateTrue reports whether any invalidation condition attached to
// a position currently evaluates true against snap (spec §4.5: "any
// invalidation predicate that evaluates TRUE ... triggers an immediate
// market close").
func AnyPredicateTrue(conds []types.InvalidationCondition, snap types.MarketSnapshot) (types.InvalidationCondition, bool) {
	for _, c := range conds {
		if EvaluatePredicate(c, snap) {
			return c, true
		}
	}
	return types.InvalidationCondition{}, false
}

func describePredicate(cond types.InvalidationCondition) string {
	return fmt.Sprintf("invalidation condition %q triggered", cond.Raw)
}
