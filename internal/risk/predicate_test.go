package risk

import (
	"testing"

	"github.com/shopspring/decimal"

	"tradingcore/pkg/types"
)

func TestEvaluatePredicateGreaterThan(t *testing.T) {
	t.Parallel()
	snap := testSnapshot(50000)
	snap.Indicators.RSI14 = decimal.NewFromInt(75)

	if !EvaluatePredicate(types.InvalidationCondition{Raw: "rsi14 > 70"}, snap) {
		t.Error("expected rsi14 > 70 to evaluate true")
	}
	if EvaluatePredicate(types.InvalidationCondition{Raw: "rsi14 > 80"}, snap) {
		t.Error("expected rsi14 > 80 to evaluate false")
	}
}

func TestEvaluatePredicateLessThanOnPrice(t *testing.T) {
	t.Parallel()
	snap := testSnapshot(50000)

	if !EvaluatePredicate(types.InvalidationCondition{Raw: "price < 51000"}, snap) {
		t.Error("expected price < 51000 to evaluate true")
	}
	if EvaluatePredicate(types.InvalidationCondition{Raw: "price < 40000"}, snap) {
		t.Error("expected price < 40000 to evaluate false")
	}
}

func TestEvaluatePredicateUnknownFieldIsFalse(t *testing.T) {
	t.Parallel()
	snap := testSnapshot(50000)
	if EvaluatePredicate(types.InvalidationCondition{Raw: "nonsense_field > 1"}, snap) {
		t.Error("expected unknown field to evaluate false, not error or panic")
	}
}

func TestEvaluatePredicateMalformedIsFalse(t *testing.T) {
	t.Parallel()
	snap := testSnapshot(50000)
	if EvaluatePredicate(types.InvalidationCondition{Raw: "garbage"}, snap) {
		t.Error("expected malformed predicate to evaluate false")
	}
}

func TestAnyPredicateTrueReturnsFirstMatch(t *testing.T) {
	t.Parallel()
	snap := testSnapshot(50000)
	snap.Indicators.RSI14 = decimal.NewFromInt(90)

	conds := []types.InvalidationCondition{
		{Raw: "rsi14 < 10"},
		{Raw: "rsi14 > 80"},
	}
	cond, ok := AnyPredicateTrue(conds, snap)
	if !ok || cond.Raw != "rsi14 > 80" {
		t.Fatalf("got cond=%+v ok=%v", cond, ok)
	}
}
