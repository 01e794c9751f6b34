package risk

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"tradingcore/internal/alert"
	"tradingcore/internal/config"
	"tradingcore/pkg/types"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testRiskConfig() config.RiskConfig {
	return config.RiskConfig{
		MaxPositions:            6,
		MaxExposurePct:          0.80,
		ExposureWarnPct:         0.70,
		MaxRiskUSD:              5000,
		MinLeverage:             5,
		MaxLeverage:             40,
		DailyLossLimitPct:       0.05,
		EmergencyLiquidationPct: 0.15,
		EntryConfidence:         0.60,
		ExitConfidence:          0.50,
		HighVolConfidenceBump:   0.10,
		MaxMarginUtilizationPct: 0.90,
	}
}

func testInstrument() types.Instrument {
	return types.Instrument{
		Symbol:      "BTCUSDT",
		TickSize:    decimal.NewFromFloat(0.1),
		LotStep:     decimal.NewFromFloat(0.001),
		MinNotional: decimal.NewFromInt(10),
		MaxLeverage: 100,
	}
}

func testAccount() types.AccountState {
	return types.AccountState{
		Balance:         decimal.NewFromInt(10000),
		AvailableMargin: decimal.NewFromInt(9000),
	}
}

func testSnapshot(price float64) types.MarketSnapshot {
	c := decimal.NewFromFloat(price)
	return types.MarketSnapshot{
		Symbol:        "BTCUSDT",
		CurrentCandle: types.Candle{Close: c},
		Indicators:    types.IndicatorSet{Status: types.IndicatorReady, BollingerMid: c, BollingerUpper: c.Mul(decimal.NewFromFloat(1.01)), BollingerLower: c.Mul(decimal.NewFromFloat(0.99))},
	}
}

func buySignal(confidence float64) types.Signal {
	return types.Signal{
		Symbol:      "BTCUSDT",
		Action:      types.ActionBuyToEnter,
		Confidence:  confidence,
		RiskUSD:     120,
		Leverage:    10,
		StopLossPct: 0.02,
	}
}

func TestEvaluateApprovesWithinAllLimits(t *testing.T) {
	t.Parallel()
	m := NewManager(testRiskConfig(), alert.NewLogEmitter(discardLogger()), discardLogger(), time.Now())

	d := m.Evaluate(buySignal(0.8), testSnapshot(50000), testAccount(), nil, testInstrument())
	if !d.Approved {
		t.Fatalf("Decision = %+v, want approved", d)
	}
	if d.Quantity.IsZero() {
		t.Error("expected non-zero sized quantity")
	}
}

func TestEvaluateRejectsWhenCircuitBreakerTripped(t *testing.T) {
	t.Parallel()
	m := NewManager(testRiskConfig(), alert.NewLogEmitter(discardLogger()), discardLogger(), time.Now())
	m.RecordRealizedPnL(decimal.NewFromInt(-600), testAccount(), time.Now()) // -6% > 5% limit

	d := m.Evaluate(buySignal(0.8), testSnapshot(50000), testAccount(), nil, testInstrument())
	if d.Approved || d.Reason != RejectCircuitBreakerTripped {
		t.Fatalf("Decision = %+v, want circuit_breaker_tripped rejection", d)
	}
}

func TestEvaluateRejectsMaxPositions(t *testing.T) {
	t.Parallel()
	cfg := testRiskConfig()
	cfg.MaxPositions = 1
	m := NewManager(cfg, alert.NewLogEmitter(discardLogger()), discardLogger(), time.Now())

	open := []OpenPosition{{Symbol: "ETHUSDT", Notional: decimal.NewFromInt(1000)}}
	d := m.Evaluate(buySignal(0.8), testSnapshot(50000), testAccount(), open, testInstrument())
	if d.Approved || d.Reason != RejectMaxPositions {
		t.Fatalf("Decision = %+v, want max_positions rejection", d)
	}
}

func TestEvaluateRejectsExposureOverLimit(t *testing.T) {
	t.Parallel()
	m := NewManager(testRiskConfig(), alert.NewLogEmitter(discardLogger()), discardLogger(), time.Now())

	open := []OpenPosition{{Symbol: "ETHUSDT", Notional: decimal.NewFromInt(7000)}}
	d := m.Evaluate(buySignal(0.8), testSnapshot(50000), testAccount(), open, testInstrument())
	if d.Approved || d.Reason != RejectExposure {
		t.Fatalf("Decision = %+v, want exposure_limit rejection", d)
	}
}

func TestEvaluateRejectsLeverageOutOfBounds(t *testing.T) {
	t.Parallel()
	m := NewManager(testRiskConfig(), alert.NewLogEmitter(discardLogger()), discardLogger(), time.Now())

	sig := buySignal(0.8)
	sig.Leverage = 60
	d := m.Evaluate(sig, testSnapshot(50000), testAccount(), nil, testInstrument())
	if d.Approved || d.Reason != RejectLeverageBounds {
		t.Fatalf("Decision = %+v, want leverage_bounds rejection", d)
	}
}

func TestEvaluateRejectsBelowConfidenceThreshold(t *testing.T) {
	t.Parallel()
	m := NewManager(testRiskConfig(), alert.NewLogEmitter(discardLogger()), discardLogger(), time.Now())

	d := m.Evaluate(buySignal(0.4), testSnapshot(50000), testAccount(), nil, testInstrument())
	if d.Approved || d.Reason != RejectConfidence {
		t.Fatalf("Decision = %+v, want confidence_threshold rejection", d)
	}
}

func TestEvaluateBumpsConfidenceThresholdUnderHighVolatility(t *testing.T) {
	t.Parallel()
	m := NewManager(testRiskConfig(), alert.NewLogEmitter(discardLogger()), discardLogger(), time.Now())

	snap := testSnapshot(50000)
	snap.Indicators.BollingerUpper = decimal.NewFromFloat(53000) // wide band -> high vol
	snap.Indicators.BollingerLower = decimal.NewFromFloat(47000)

	// Confidence of 0.65 clears the base 0.60 threshold but not 0.60+0.10.
	d := m.Evaluate(buySignal(0.65), snap, testAccount(), nil, testInstrument())
	if d.Approved || d.Reason != RejectConfidence {
		t.Fatalf("Decision = %+v, want confidence_threshold rejection under high volatility", d)
	}
}

func TestEvaluateRejectsInsufficientMargin(t *testing.T) {
	t.Parallel()
	m := NewManager(testRiskConfig(), alert.NewLogEmitter(discardLogger()), discardLogger(), time.Now())

	account := testAccount()
	account.AvailableMargin = decimal.NewFromInt(50) // far below required margin
	d := m.Evaluate(buySignal(0.8), testSnapshot(50000), account, nil, testInstrument())
	if d.Approved || d.Reason != RejectMargin {
		t.Fatalf("Decision = %+v, want insufficient_margin rejection", d)
	}
}

func TestEvaluateRejectsBelowMinNotional(t *testing.T) {
	t.Parallel()
	m := NewManager(testRiskConfig(), alert.NewLogEmitter(discardLogger()), discardLogger(), time.Now())

	sig := buySignal(0.8)
	sig.RiskUSD = 0.0001
	sig.Leverage = 5
	d := m.Evaluate(sig, testSnapshot(50000), testAccount(), nil, testInstrument())
	if d.Approved || d.Reason != RejectBelowMinNotional {
		t.Fatalf("Decision = %+v, want below_min_notional rejection", d)
	}
}

func TestEvaluateHoldAlwaysApproves(t *testing.T) {
	t.Parallel()
	m := NewManager(testRiskConfig(), alert.NewLogEmitter(discardLogger()), discardLogger(), time.Now())
	d := m.Evaluate(types.Signal{Symbol: "BTCUSDT", Action: types.ActionHold}, testSnapshot(50000), testAccount(), nil, testInstrument())
	if !d.Approved {
		t.Fatalf("Decision = %+v, want hold to always approve", d)
	}
}

func TestEvaluateClosePositionChecksExitConfidenceOnly(t *testing.T) {
	t.Parallel()
	m := NewManager(testRiskConfig(), alert.NewLogEmitter(discardLogger()), discardLogger(), time.Now())

	low := types.Signal{Symbol: "BTCUSDT", Action: types.ActionClosePosition, Confidence: 0.3}
	if d := m.Evaluate(low, testSnapshot(50000), testAccount(), nil, testInstrument()); d.Approved {
		t.Fatalf("Decision = %+v, want rejection below exit confidence", d)
	}

	ok := types.Signal{Symbol: "BTCUSDT", Action: types.ActionClosePosition, Confidence: 0.6}
	if d := m.Evaluate(ok, testSnapshot(50000), testAccount(), nil, testInstrument()); !d.Approved {
		t.Fatalf("Decision = %+v, want approval above exit confidence", d)
	}
}

func TestRecordRealizedPnLResetsOnNewDay(t *testing.T) {
	t.Parallel()
	day1 := time.Date(2026, 7, 30, 23, 0, 0, 0, time.UTC)
	day2 := time.Date(2026, 7, 31, 1, 0, 0, 0, time.UTC)
	m := NewManager(testRiskConfig(), alert.NewLogEmitter(discardLogger()), discardLogger(), day1)

	m.RecordRealizedPnL(decimal.NewFromInt(-600), testAccount(), day1)
	if !m.CircuitTripped() {
		t.Fatal("expected circuit breaker tripped after large loss")
	}

	m.RecordRealizedPnL(decimal.Zero, testAccount(), day2)
	if m.CircuitTripped() {
		t.Error("expected circuit breaker to clear on new day")
	}
}

func TestReviewOpenPositionsFlagsInvalidatedAndClosePosition(t *testing.T) {
	t.Parallel()
	m := NewManager(testRiskConfig(), alert.NewLogEmitter(discardLogger()), discardLogger(), time.Now())

	positions := []types.Position{
		{ID: "p1", Symbol: "BTCUSDT", InvalidationConds: []types.InvalidationCondition{{Raw: "rsi14 > 70"}}},
		{ID: "p2", Symbol: "ETHUSDT"},
	}
	snapshots := map[string]types.MarketSnapshot{
		"BTCUSDT": func() types.MarketSnapshot {
			s := testSnapshot(50000)
			s.Indicators.RSI14 = decimal.NewFromInt(80)
			return s
		}(),
		"ETHUSDT": testSnapshot(3000),
	}
	signals := map[string]types.Signal{
		"ETHUSDT": {Symbol: "ETHUSDT", Action: types.ActionClosePosition},
	}

	directives := m.ReviewOpenPositions(positions, snapshots, signals)
	if len(directives) != 2 {
		t.Fatalf("directives = %+v, want 2", directives)
	}
}
