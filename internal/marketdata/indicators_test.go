package marketdata

import (
	"testing"

	"github.com/shopspring/decimal"

	"tradingcore/pkg/types"
)

func decSeries(vals ...float64) []decimal.Decimal {
	out := make([]decimal.Decimal, len(vals))
	for i, v := range vals {
		out[i] = decimal.NewFromFloat(v)
	}
	return out
}

func TestComputeIndicatorsWarmingUpBelowThreshold(t *testing.T) {
	t.Parallel()
	closes := decSeries(1, 2, 3, 4, 5)

	got := ComputeIndicators(closes)
	if got.Status != types.IndicatorWarmingUp {
		t.Errorf("Status = %v, want warming_up for %d closes", got.Status, len(closes))
	}
}

func TestComputeIndicatorsReadyAboveThreshold(t *testing.T) {
	t.Parallel()

	vals := make([]float64, 60)
	for i := range vals {
		vals[i] = 100 + float64(i)*0.5
	}
	closes := decSeries(vals...)

	got := ComputeIndicators(closes)
	if got.Status != types.IndicatorReady {
		t.Errorf("Status = %v, want ready for %d closes", got.Status, len(closes))
	}
	if got.EMA20.IsZero() {
		t.Error("expected non-zero EMA20 once warmed up")
	}
}
