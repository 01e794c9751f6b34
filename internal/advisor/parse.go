package advisor

import (
	"encoding/json"
	"regexp"
	"strings"

	"tradingcore/pkg/types"
)

// rawDecision mirrors the JSON schema given to the model in the prompt
// template; fields are pointers where a missing/null value must be
// distinguishable from a present zero value for per-field validation.
type rawDecision struct {
	Symbol                 *string   `json:"symbol"`
	Action                 *string   `json:"action"`
	Confidence             *float64  `json:"confidence"`
	RiskUSD                *float64  `json:"risk_usd"`
	Leverage               *int      `json:"leverage"`
	StopLossPct            *float64  `json:"stop_loss_pct"`
	TakeProfitPct          *float64  `json:"take_profit_pct"`
	InvalidationConditions *[]string `json:"invalidation_conditions"`
	Reasoning              *string   `json:"reasoning"`
}

var fencedJSONBlock = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")

// trailingCommaPattern repairs the single most common model mistake: a
// trailing comma before a closing bracket/brace.
var trailingCommaPattern = regexp.MustCompile(`,(\s*[}\]])`)

// ParseResponse runs the tolerant parsing ladder from spec §4.4 over a raw
// model response body: direct unmarshal, then a fenced ```json``` block,
// then a balanced-brace/bracket scan, then a light regex repair pass. It
// returns the raw decisions it could extract; ValidateDecisions converts
// and filters them into usable Signals.
func ParseResponse(body string) ([]rawDecision, error) {
	if decisions, err := parseDirect(body); err == nil {
		return decisions, nil
	}

	if block := extractFencedBlock(body); block != "" {
		if decisions, err := parseDirect(block); err == nil {
			return decisions, nil
		}
	}

	if scanned := scanBalancedJSON(body); scanned != "" {
		if decisions, err := parseDirect(scanned); err == nil {
			return decisions, nil
		}
		repaired := trailingCommaPattern.ReplaceAllString(scanned, "$1")
		if decisions, err := parseDirect(repaired); err == nil {
			return decisions, nil
		}
	}

	repaired := trailingCommaPattern.ReplaceAllString(body, "$1")
	return parseDirect(repaired)
}

func parseDirect(body string) ([]rawDecision, error) {
	body = strings.TrimSpace(body)
	var decisions []rawDecision
	if err := json.Unmarshal([]byte(body), &decisions); err == nil {
		return decisions, nil
	}
	// Tolerate a single bare object instead of an array.
	var single rawDecision
	if err := json.Unmarshal([]byte(body), &single); err != nil {
		return nil, err
	}
	return []rawDecision{single}, nil
}

func extractFencedBlock(body string) string {
	m := fencedJSONBlock.FindStringSubmatch(body)
	if len(m) < 2 {
		return ""
	}
	return m[1]
}

// scanBalancedJSON walks body looking for the first top-level [ or { and
// returns the substring up to its matching closing bracket, tolerating
// brackets nested inside string literals.
func scanBalancedJSON(body string) string {
	start := -1
	var open, close byte
	for i := 0; i < len(body); i++ {
		if body[i] == '[' || body[i] == '{' {
			start = i
			if body[i] == '[' {
				open, close = '[', ']'
			} else {
				open, close = '{', '}'
			}
			break
		}
	}
	if start == -1 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(body); i++ {
		c := body[i]
		if inString {
			if escaped {
				escaped = false
			} else if c == '\\' {
				escaped = true
			} else if c == '"' {
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				return body[start : i+1]
			}
		}
	}
	return ""
}

// ValidateDecisions converts raw decisions to Signals, accepting each
// decision independently (partial acceptance per spec §4.4): a decision
// missing required fields or with an out-of-range value is dropped, valid
// ones are kept.
func ValidateDecisions(raw []rawDecision) []types.Signal {
	signals := make([]types.Signal, 0, len(raw))
	for _, d := range raw {
		sig, ok := validateOne(d)
		if ok {
			signals = append(signals, sig)
		}
	}
	return signals
}

func validateOne(d rawDecision) (types.Signal, bool) {
	if d.Symbol == nil || *d.Symbol == "" {
		return types.Signal{}, false
	}
	if d.Action == nil {
		return types.Signal{}, false
	}
	action := types.Action(*d.Action)
	switch action {
	case types.ActionBuyToEnter, types.ActionSellToEnter, types.ActionHold, types.ActionClosePosition:
	default:
		return types.Signal{}, false
	}
	if d.Confidence == nil || *d.Confidence < 0 || *d.Confidence > 1 {
		return types.Signal{}, false
	}

	sig := types.Signal{
		Symbol:     *d.Symbol,
		Action:     action,
		Confidence: *d.Confidence,
		Reasoning:  stringOrEmpty(d.Reasoning),
	}
	if d.RiskUSD != nil {
		sig.RiskUSD = *d.RiskUSD
	}
	if d.Leverage != nil {
		sig.Leverage = *d.Leverage
	}
	if d.StopLossPct != nil {
		sig.StopLossPct = *d.StopLossPct
	}
	sig.TakeProfitPct = d.TakeProfitPct
	if d.InvalidationConditions != nil {
		for _, cond := range *d.InvalidationConditions {
			sig.InvalidationConds = append(sig.InvalidationConds, types.InvalidationCondition{Raw: cond})
		}
	}

	// Entry actions require leverage, risk, and a stop loss; hold/close do not.
	if action == types.ActionBuyToEnter || action == types.ActionSellToEnter {
		if d.Leverage == nil || d.RiskUSD == nil || d.StopLossPct == nil {
			return types.Signal{}, false
		}
		if *d.Leverage <= 0 || *d.RiskUSD <= 0 || *d.StopLossPct <= 0 {
			return types.Signal{}, false
		}
	}

	return sig, true
}

func stringOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
