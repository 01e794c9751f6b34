// indicators.go computes the technical-indicator set spec §3 attaches to
// every MarketSnapshot: EMA(9/20/50), MACD(12,26,9), RSI(7/14), and
// Bollinger Bands(20, 2σ). The teacher has no technical-analysis code;
// this is grounded on aristath-sentinel's use of
// github.com/markcheno/go-talib for the same family of indicators.
package marketdata

import (
	"github.com/markcheno/go-talib"
	"github.com/shopspring/decimal"

	"tradingcore/pkg/types"
)

const (
	warmupBarsEMA50  = 50
	warmupBarsMACD   = 26 + 9
	warmupBarsRSI14  = 14
	warmupBarsBB     = 20
)

// minWarmupBars is the largest lookback any indicator in the set needs
// before its output is trustworthy (spec §3 "warming_up until every
// indicator has enough history").
const minWarmupBars = warmupBarsEMA50

// ComputeIndicators runs go-talib over closes (oldest first) and returns
// the latest value of each indicator, flagged IndicatorWarmingUp until
// closes has at least minWarmupBars entries.
func ComputeIndicators(closes []decimal.Decimal) types.IndicatorSet {
	if len(closes) < minWarmupBars {
		return types.IndicatorSet{Status: types.IndicatorWarmingUp}
	}

	in := toFloat64(closes)

	ema9 := talib.Ema(in, 9)
	ema20 := talib.Ema(in, 20)
	ema50 := talib.Ema(in, 50)
	macd, signal, hist := talib.Macd(in, 12, 26, 9)
	rsi7 := talib.Rsi(in, 7)
	rsi14 := talib.Rsi(in, 14)
	upper, mid, lower := talib.BBands(in, 20, 2, 2, talib.SMA)

	return types.IndicatorSet{
		Status:         types.IndicatorReady,
		EMA9:           lastDecimal(ema9),
		EMA20:          lastDecimal(ema20),
		EMA50:          lastDecimal(ema50),
		MACD:           lastDecimal(macd),
		MACDSignal:     lastDecimal(signal),
		MACDHist:       lastDecimal(hist),
		RSI7:           lastDecimal(rsi7),
		RSI14:          lastDecimal(rsi14),
		BollingerMid:   lastDecimal(mid),
		BollingerUpper: lastDecimal(upper),
		BollingerLower: lastDecimal(lower),
	}
}

func toFloat64(in []decimal.Decimal) []float64 {
	out := make([]float64, len(in))
	for i, d := range in {
		out[i], _ = d.Float64()
	}
	return out
}

func lastDecimal(series []float64) decimal.Decimal {
	if len(series) == 0 {
		return decimal.Zero
	}
	v := series[len(series)-1]
	if v != v { // NaN guard: talib leaves leading warmup entries as NaN
		return decimal.Zero
	}
	return decimal.NewFromFloat(v)
}
