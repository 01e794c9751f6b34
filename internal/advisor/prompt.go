// Package advisor builds prompts for, invokes, and parses responses from
// the LLM trading advisor (spec §4.4). Prompt construction follows the
// teacher's template-driven style absent elsewhere in the teacher (the
// teacher has no LLM call); the structured decision shape is grounded on
// `littleSan-crypto-trading-bot/internal/agents/graph.go`'s `TradeDecision`
// (other_examples, standalone reference).
package advisor

import (
	"strings"
	"text/template"

	"github.com/shopspring/decimal"

	"tradingcore/pkg/types"
)

const promptTemplateText = `You are a risk-averse perpetual-futures trading advisor. Respond with
ONLY a JSON array, one object per symbol, matching this schema exactly:
{"symbol":string,"action":"buy_to_enter"|"sell_to_enter"|"hold"|"close_position",
"confidence":number,"risk_usd":number,"leverage":int,"stop_loss_pct":number,
"take_profit_pct":number|null,"invalidation_conditions":[string],"reasoning":string}

ACCOUNT
Equity: {{.Account.Equity}}
Available margin: {{.Account.AvailableMargin}}

{{range .Symbols}}SYMBOL {{.Snapshot.Symbol}}
Timeframe: {{.Snapshot.Timeframe}}
Recent closes: {{.CloseList}}
Current candle: O={{.Snapshot.CurrentCandle.Open}} H={{.Snapshot.CurrentCandle.High}} L={{.Snapshot.CurrentCandle.Low}} C={{.Snapshot.CurrentCandle.Close}}
{{if eq .Snapshot.Indicators.Status "ready"}}Indicators: EMA9={{.Snapshot.Indicators.EMA9}} EMA20={{.Snapshot.Indicators.EMA20}} EMA50={{.Snapshot.Indicators.EMA50}} MACD={{.Snapshot.Indicators.MACD}} RSI14={{.Snapshot.Indicators.RSI14}} BB_upper={{.Snapshot.Indicators.BollingerUpper}} BB_lower={{.Snapshot.Indicators.BollingerLower}}
{{else}}Indicators: warming up, insufficient history
{{end}}Open interest: {{.Snapshot.OpenInterest}}{{if .Snapshot.OIStale}} (stale){{end}}
Funding rate: {{.Snapshot.FundingRate}}{{if .Snapshot.FundingStale}} (stale){{end}}
{{if .Position}}Current position: {{.Position.Side}} qty={{.Position.Quantity}} entry={{.Position.EntryPrice}} unrealized_pnl={{.Position.UnrealizedPnL}}
{{else}}Current position: none
{{end}}
{{end}}`

var promptTemplate = template.Must(template.New("advisor_prompt").Parse(promptTemplateText))

// SymbolContext bundles one symbol's snapshot, open position (if any), and
// a precomputed close-list string for template rendering.
type SymbolContext struct {
	Snapshot  types.MarketSnapshot
	Position  *types.Position
	CloseList string
}

// PromptInput is everything the template needs to render one advisor call.
type PromptInput struct {
	Account types.AccountState
	Symbols []SymbolContext
}

// BuildPrompt renders the advisor prompt template for input.
func BuildPrompt(input PromptInput) (string, error) {
	var sb strings.Builder
	if err := promptTemplate.Execute(&sb, input); err != nil {
		return "", err
	}
	return sb.String(), nil
}

// closeListString renders closes as a comma-separated string, most recent
// last, capped to the given count (used both for full prompts and for the
// "drop oldest closes beyond 10" trimming step, spec §4.4).
func closeListString(closes []decimal.Decimal, maxCount int) string {
	if len(closes) > maxCount {
		closes = closes[len(closes)-maxCount:]
	}
	parts := make([]string, len(closes))
	for i, c := range closes {
		parts[i] = c.String()
	}
	return strings.Join(parts, ", ")
}

// NewSymbolContext builds a SymbolContext from a snapshot and optional open
// position, rendering its close list capped to maxCloses.
func NewSymbolContext(snap types.MarketSnapshot, pos *types.Position, maxCloses int) SymbolContext {
	return SymbolContext{
		Snapshot:  snap,
		Position:  pos,
		CloseList: closeListString(snap.Closes, maxCloses),
	}
}
