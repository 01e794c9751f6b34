package advisor

import (
	"testing"

	"tradingcore/pkg/types"
)

func TestParseResponseDirectArray(t *testing.T) {
	t.Parallel()
	body := `[{"symbol":"BTCUSDT","action":"hold","confidence":0.5,"reasoning":"choppy"}]`
	raw, err := ParseResponse(body)
	if err != nil {
		t.Fatalf("ParseResponse: %v", err)
	}
	if len(raw) != 1 || *raw[0].Symbol != "BTCUSDT" {
		t.Fatalf("raw = %+v", raw)
	}
}

func TestParseResponseFencedBlock(t *testing.T) {
	t.Parallel()
	body := "Here is my analysis:\n```json\n[{\"symbol\":\"ETHUSDT\",\"action\":\"hold\",\"confidence\":0.4,\"reasoning\":\"x\"}]\n```\nLet me know if you need more."
	raw, err := ParseResponse(body)
	if err != nil {
		t.Fatalf("ParseResponse: %v", err)
	}
	if len(raw) != 1 || *raw[0].Symbol != "ETHUSDT" {
		t.Fatalf("raw = %+v", raw)
	}
}

func TestParseResponseBalancedScanWithPreamble(t *testing.T) {
	t.Parallel()
	body := `I think the best move is [{"symbol":"SOLUSDT","action":"hold","confidence":0.3,"reasoning":"y"}] based on the data.`
	raw, err := ParseResponse(body)
	if err != nil {
		t.Fatalf("ParseResponse: %v", err)
	}
	if len(raw) != 1 || *raw[0].Symbol != "SOLUSDT" {
		t.Fatalf("raw = %+v", raw)
	}
}

func TestParseResponseTrailingCommaRepair(t *testing.T) {
	t.Parallel()
	body := `[{"symbol":"BTCUSDT","action":"hold","confidence":0.5,"reasoning":"x",},]`
	raw, err := ParseResponse(body)
	if err != nil {
		t.Fatalf("ParseResponse: %v", err)
	}
	if len(raw) != 1 {
		t.Fatalf("raw = %+v", raw)
	}
}

func TestParseResponseUnparseableReturnsError(t *testing.T) {
	t.Parallel()
	_, err := ParseResponse("not json at all, no brackets")
	if err == nil {
		t.Fatal("expected error for unparseable body")
	}
}

func TestValidateDecisionsAcceptsPartialSet(t *testing.T) {
	t.Parallel()
	sym := "BTCUSDT"
	action := "hold"
	confidence := 0.6
	badSymbol := ""

	raw := []rawDecision{
		{Symbol: &sym, Action: &action, Confidence: &confidence},
		{Symbol: &badSymbol, Action: &action, Confidence: &confidence}, // invalid, dropped
	}
	signals := ValidateDecisions(raw)
	if len(signals) != 1 {
		t.Fatalf("len(signals) = %d, want 1", len(signals))
	}
	if signals[0].Symbol != "BTCUSDT" {
		t.Errorf("Symbol = %q", signals[0].Symbol)
	}
}

func TestValidateDecisionsRejectsEntryWithoutRequiredFields(t *testing.T) {
	t.Parallel()
	sym := "BTCUSDT"
	action := string(types.ActionBuyToEnter)
	confidence := 0.8

	raw := []rawDecision{{Symbol: &sym, Action: &action, Confidence: &confidence}} // missing leverage/risk/stop
	signals := ValidateDecisions(raw)
	if len(signals) != 0 {
		t.Fatalf("expected entry decision missing required fields to be dropped, got %+v", signals)
	}
}

func TestValidateDecisionsRejectsOutOfRangeConfidence(t *testing.T) {
	t.Parallel()
	sym := "BTCUSDT"
	action := "hold"
	confidence := 1.5

	raw := []rawDecision{{Symbol: &sym, Action: &action, Confidence: &confidence}}
	signals := ValidateDecisions(raw)
	if len(signals) != 0 {
		t.Fatalf("expected out-of-range confidence to be dropped, got %+v", signals)
	}
}
