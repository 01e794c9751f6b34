package advisor

import (
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

var zeroDecimal = decimal.Zero

// defaultMaxCloses is the normal close-history length included per symbol
// before any trimming is applied (spec §4.4).
const defaultMaxCloses = 20

// trimmedCloses is the close count the first trimming step drops down to.
const trimmedCloses = 10

// EstimateTokens approximates token count as utf8 rune count / 4, the
// common whitespace/BPE rule-of-thumb used when no tokenizer is wired in.
func EstimateTokens(prompt string) int {
	return utf8.RuneCountInString(prompt)/4 + 1
}

// trimStage identifies which trimming step produced a given attempt, purely
// for logging/metrics.
type trimStage string

const (
	trimStageNone        trimStage = "none"
	trimStageCloses      trimStage = "dropped_oldest_closes"
	trimStageIndicators  trimStage = "dropped_non_essential_indicators"
	trimStagePositions   trimStage = "dropped_smallest_pnl_positions"
	trimStageTooLarge    trimStage = "prompt_too_large"
)

// BuildTrimmedPrompt renders the advisor prompt, applying the trimming
// ladder from spec §4.4 until it fits under maxTokens or all steps are
// exhausted. It returns the final prompt, the number of estimated tokens,
// the stage reached, and ok=false if no prompt fits even after trimming.
func BuildTrimmedPrompt(input PromptInput, maxTokens int) (prompt string, tokens int, stage trimStage, ok bool) {
	attempt := input
	attempt.Symbols = make([]SymbolContext, len(input.Symbols))
	for i, sym := range input.Symbols {
		sym.CloseList = closeListString(sym.Snapshot.Closes, defaultMaxCloses)
		attempt.Symbols[i] = sym
	}

	stage = trimStageNone
	prompt, err := BuildPrompt(attempt)
	if err == nil {
		tokens = EstimateTokens(prompt)
		if tokens <= maxTokens {
			return prompt, tokens, stage, true
		}
	}

	// Step 1: drop oldest closes beyond 10 per symbol.
	stage = trimStageCloses
	attempt.Symbols = make([]SymbolContext, len(input.Symbols))
	for i, sym := range input.Symbols {
		sym.CloseList = closeListString(sym.Snapshot.Closes, trimmedCloses)
		attempt.Symbols[i] = sym
	}
	prompt, err = BuildPrompt(attempt)
	if err == nil {
		tokens = EstimateTokens(prompt)
		if tokens <= maxTokens {
			return prompt, tokens, stage, true
		}
	}

	// Step 2: zero the non-essential indicator values (EMA9, EMA50, the
	// Bollinger bands, RSI7, MACD histogram). The template still renders
	// EMA9, EMA50 and the Bollinger bands, now as 0, so this step only
	// shortens the digits of those values; no line is removed.
	stage = trimStageIndicators
	for i, sym := range attempt.Symbols {
		ind := sym.Snapshot.Indicators
		ind.EMA9 = zeroDecimal
		ind.EMA50 = zeroDecimal
		ind.BollingerUpper = zeroDecimal
		ind.BollingerLower = zeroDecimal
		ind.BollingerMid = zeroDecimal
		ind.RSI7 = zeroDecimal
		ind.MACDHist = zeroDecimal
		sym.Snapshot.Indicators = ind
		attempt.Symbols[i] = sym
	}
	prompt, err = BuildPrompt(attempt)
	if err == nil {
		tokens = EstimateTokens(prompt)
		if tokens <= maxTokens {
			return prompt, tokens, stage, true
		}
	}

	// Step 3: drop positions with the smallest absolute unrealized P&L
	// until the prompt fits (positions with no open exposure cost the
	// least information if removed first).
	stage = trimStagePositions
	symbolsWithPositions := 0
	for _, sym := range attempt.Symbols {
		if sym.Position != nil {
			symbolsWithPositions++
		}
	}
	for symbolsWithPositions > 0 {
		smallestIdx := -1
		for i, sym := range attempt.Symbols {
			if sym.Position == nil {
				continue
			}
			if smallestIdx == -1 || sym.Position.UnrealizedPnL.Abs().LessThan(attempt.Symbols[smallestIdx].Position.UnrealizedPnL.Abs()) {
				smallestIdx = i
			}
		}
		if smallestIdx == -1 {
			break
		}
		attempt.Symbols[smallestIdx].Position = nil
		symbolsWithPositions--

		prompt, err = BuildPrompt(attempt)
		if err == nil {
			tokens = EstimateTokens(prompt)
			if tokens <= maxTokens {
				return prompt, tokens, stage, true
			}
		}
	}

	return "", EstimateTokens(prompt), trimStageTooLarge, false
}
