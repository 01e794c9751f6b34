package advisor

import (
	"testing"

	"github.com/shopspring/decimal"

	"tradingcore/pkg/types"
)

func bigSnapshot(symbol string, closeCount int) types.MarketSnapshot {
	closes := make([]decimal.Decimal, closeCount)
	for i := range closes {
		closes[i] = decimal.NewFromInt(int64(100 + i))
	}
	return types.MarketSnapshot{
		Symbol:    symbol,
		Timeframe: "15m",
		Closes:    closes,
		Indicators: types.IndicatorSet{
			Status: types.IndicatorReady,
			EMA9:   decimal.NewFromInt(1), EMA20: decimal.NewFromInt(2), EMA50: decimal.NewFromInt(3),
			MACD: decimal.NewFromInt(1), RSI14: decimal.NewFromInt(50),
			BollingerUpper: decimal.NewFromInt(110), BollingerLower: decimal.NewFromInt(90),
		},
	}
}

func TestBuildTrimmedPromptFitsWithoutTrimming(t *testing.T) {
	t.Parallel()
	input := PromptInput{
		Account: types.AccountState{Balance: decimal.NewFromInt(10000)},
		Symbols: []SymbolContext{{Snapshot: bigSnapshot("BTCUSDT", 5)}},
	}
	_, _, stage, ok := BuildTrimmedPrompt(input, 8000)
	if !ok {
		t.Fatal("expected prompt to fit")
	}
	if stage != trimStageNone {
		t.Errorf("stage = %v, want none", stage)
	}
}

func TestBuildTrimmedPromptDropsOldestClosesFirst(t *testing.T) {
	t.Parallel()
	// Many symbols with long close histories forces the first trim step.
	symbols := make([]SymbolContext, 30)
	for i := range symbols {
		symbols[i] = SymbolContext{Snapshot: bigSnapshot("SYM", 20)}
	}
	input := PromptInput{Account: types.AccountState{}, Symbols: symbols}

	prompt, _, stage, ok := BuildTrimmedPrompt(input, 2200)
	if !ok {
		t.Fatal("expected trimming to eventually fit")
	}
	if stage != trimStageCloses {
		t.Errorf("stage = %v, want %v (dropping closes alone fits)", stage, trimStageCloses)
	}
	_ = prompt
}

func TestBuildTrimmedPromptTooLargeReturnsNotOk(t *testing.T) {
	t.Parallel()
	symbols := make([]SymbolContext, 50)
	for i := range symbols {
		symbols[i] = SymbolContext{Snapshot: bigSnapshot("SYM", 20)}
	}
	input := PromptInput{Account: types.AccountState{}, Symbols: symbols}

	_, _, stage, ok := BuildTrimmedPrompt(input, 10)
	if ok {
		t.Fatal("expected impossibly small token budget to fail")
	}
	if stage != trimStageTooLarge {
		t.Errorf("stage = %v, want too_large", stage)
	}
}

func TestEstimateTokensScalesWithLength(t *testing.T) {
	t.Parallel()
	short := EstimateTokens("abcd")
	long := EstimateTokens("abcdabcdabcdabcd")
	if long <= short {
		t.Errorf("expected longer text to estimate more tokens: short=%d long=%d", short, long)
	}
}
