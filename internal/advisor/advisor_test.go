package advisor

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
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

func newTestServer(t *testing.T, reply string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := chatResponse{}
		resp.Choices = []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		}{{Message: struct {
			Content string `json:"content"`
		}{Content: reply}}}
		resp.Usage.PromptTokens = 100
		resp.Usage.CompletionTokens = 20
		_ = json.NewEncoder(w).Encode(resp)
	}))
}

func testAdvisorConfig(endpoint string) config.AdvisorConfig {
	return config.AdvisorConfig{
		Models: []config.ModelConfig{
			{Name: "primary", Priority: 1, Endpoint: endpoint, PricePerPromptTok: 0.001, PricePerComplTok: 0.002},
		},
		MaxPromptTokens:  8000,
		RequestTimeout:   5 * time.Second,
		Temperature:      0.2,
		DailyBudgetUSD:   10,
		BreakerCooldown:  10 * time.Minute,
		FailbackCooldown: 10 * time.Minute,
	}
}

func testInput() PromptInput {
	return PromptInput{
		Account: types.AccountState{Balance: decimal.NewFromInt(10000)},
		Symbols: []SymbolContext{
			NewSymbolContext(types.MarketSnapshot{Symbol: "BTCUSDT", Timeframe: "15m", Closes: []decimal.Decimal{
				decimal.NewFromInt(100), decimal.NewFromInt(101), decimal.NewFromInt(102),
			}}, nil, defaultMaxCloses),
		},
	}
}

func TestAdvisorGetSignalsParsesValidResponse(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t, `[{"symbol":"BTCUSDT","action":"hold","confidence":0.5,"reasoning":"range-bound"}]`)
	defer srv.Close()

	a := New(testAdvisorConfig(srv.URL), alert.NewLogEmitter(discardLogger()), discardLogger(), time.Now())
	signals := a.GetSignals(context.Background(), testInput(), time.Now())

	if len(signals) != 1 || signals[0].Action != types.ActionHold {
		t.Fatalf("signals = %+v", signals)
	}
}

func TestAdvisorGetSignalsFallsBackToSyntheticHoldOnGarbage(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t, "I cannot help with that request.")
	defer srv.Close()

	a := New(testAdvisorConfig(srv.URL), alert.NewLogEmitter(discardLogger()), discardLogger(), time.Now())
	signals := a.GetSignals(context.Background(), testInput(), time.Now())

	if len(signals) != 1 {
		t.Fatalf("signals = %+v", signals)
	}
	if signals[0].Action != types.ActionHold {
		t.Errorf("Action = %v, want synthetic hold", signals[0].Action)
	}
}

func TestAdvisorRecordsCostOnSuccessfulCall(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t, `[{"symbol":"BTCUSDT","action":"hold","confidence":0.5,"reasoning":"x"}]`)
	defer srv.Close()

	now := time.Now()
	a := New(testAdvisorConfig(srv.URL), alert.NewLogEmitter(discardLogger()), discardLogger(), now)
	a.GetSignals(context.Background(), testInput(), now)

	if pct := a.cost.PctUsed(now); pct <= 0 {
		t.Errorf("PctUsed = %v, want > 0 after a billed call", pct)
	}
}

func TestAdvisorResetDailyCostZeroesSpend(t *testing.T) {
	t.Parallel()
	now := time.Now()
	a := New(testAdvisorConfig("http://example.invalid"), alert.NewLogEmitter(discardLogger()), discardLogger(), now)
	a.cost.Record(now, 5.0)
	a.ResetDailyCost(now)
	if pct := a.cost.PctUsed(now); pct != 0 {
		t.Errorf("PctUsed after ResetDailyCost = %v, want 0", pct)
	}
}
