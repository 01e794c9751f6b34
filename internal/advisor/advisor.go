package advisor

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"tradingcore/internal/alert"
	"tradingcore/internal/config"
	"tradingcore/internal/errkind"
	"tradingcore/pkg/types"
)

// DispatchMeta records which model answered the most recent GetSignals
// call and its raw token accounting, for the audit log (spec §4.8).
type DispatchMeta struct {
	Model            string
	PromptTokens     int
	CompletionTokens int
	RawResponse      string
}

// retryAddendum is appended to the prompt on the single allowed retry when
// zero decisions parsed out of the first response (spec §4.4).
const retryAddendum = "\n\nYour previous response could not be parsed. Return ONLY the JSON array, with no commentary or markdown fences."

// Advisor builds prompts, dispatches them to configured models in priority
// order with per-model circuit breakers, parses and validates the
// response, and tracks daily spend.
type Advisor struct {
	cfg     config.AdvisorConfig
	models  []*modelClient // sorted by priority ascending
	alerts  alert.Emitter
	cost    *costTracker
	logger  *slog.Logger

	lastMu   sync.Mutex
	lastMeta DispatchMeta
}

// New constructs an Advisor from config. now seeds the cost tracker's day.
func New(cfg config.AdvisorConfig, alerts alert.Emitter, logger *slog.Logger, now time.Time) *Advisor {
	sorted := make([]config.ModelConfig, len(cfg.Models))
	copy(sorted, cfg.Models)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Priority < sorted[j].Priority })

	models := make([]*modelClient, len(sorted))
	for i, m := range sorted {
		models[i] = newModelClient(m, cfg.RequestTimeout, cfg.BreakerCooldown, logger)
	}

	return &Advisor{
		cfg:    cfg,
		models: models,
		alerts: alerts,
		cost:   newCostTracker(cfg.DailyBudgetUSD, now),
		logger: logger.With("component", "advisor"),
	}
}

// DailyBudgetPctUsed reports today's advisor spend as a fraction of the
// configured daily budget, for dashboard display.
func (a *Advisor) DailyBudgetPctUsed(now time.Time) float64 {
	return a.cost.PctUsed(now)
}

// LastDispatch returns metadata for the most recently completed model
// call (which model answered, token counts, raw body), for the caller to
// attach to its audit record. Safe for concurrent use.
func (a *Advisor) LastDispatch() DispatchMeta {
	a.lastMu.Lock()
	defer a.lastMu.Unlock()
	return a.lastMeta
}

// ResetDailyCost zeroes today's spend; wired to the scheduler's daily
// reset job.
func (a *Advisor) ResetDailyCost(now time.Time) {
	a.cost.Reset(now)
}

// cheapestModel returns the model with the lowest combined per-token price,
// used as the forced choice once the daily budget is fully spent.
func (a *Advisor) cheapestModel() *modelClient {
	cheapest := a.models[0]
	for _, m := range a.models[1:] {
		if m.cfg.PricePerPromptTok+m.cfg.PricePerComplTok < cheapest.cfg.PricePerPromptTok+cheapest.cfg.PricePerComplTok {
			cheapest = m
		}
	}
	return cheapest
}

// eligibleModels returns the models to try this cycle, in order: every
// model normally, or just the cheapest once the daily budget is exhausted.
func (a *Advisor) eligibleModels(now time.Time) []*modelClient {
	if a.cost.PctUsed(now) >= 1.0 {
		a.logger.Warn("advisor daily budget exhausted, forcing cheapest model")
		return []*modelClient{a.cheapestModel()}
	}
	if pct := a.cost.PctUsed(now); pct >= 0.70 {
		a.alerts.Emit(alert.Warning("advisor_budget", "advisor daily budget nearing exhaustion", map[string]any{"pct_used": pct}))
	}
	return a.models
}

// GetSignals builds the prompt from input, dispatches it through the model
// fallback chain, parses and validates the response, and returns usable
// Signals. On total model exhaustion (all breakers open) or zero usable
// decisions after retry, it returns a synthetic hold signal per symbol and
// emits a CRITICAL alert, never leaving a cycle with no signal at all.
func (a *Advisor) GetSignals(ctx context.Context, input PromptInput, now time.Time) []types.Signal {
	prompt, tokens, stage, ok := BuildTrimmedPrompt(input, a.cfg.MaxPromptTokens)
	if !ok {
		a.logger.Warn("advisor prompt exceeds max tokens after full trim ladder", "estimated_tokens", tokens)
		return a.syntheticHoldAll(input, "prompt_too_large")
	}
	if stage != trimStageNone {
		a.logger.Info("advisor prompt trimmed", "stage", string(stage), "estimated_tokens", tokens)
	}

	signals, usable := a.dispatch(ctx, prompt, now)
	if usable {
		return signals
	}

	retryPrompt := prompt + retryAddendum
	signals, usable = a.dispatch(ctx, retryPrompt, now)
	if usable {
		return signals
	}

	a.alerts.Emit(alert.Critical("advisor_unavailable", "advisor produced no usable decisions after retry, defaulting to hold", map[string]any{
		"symbols": symbolNames(input.Symbols),
	}))
	return a.syntheticHoldAll(input, "no_usable_decisions")
}

// dispatch tries each eligible model in priority order, returning the
// first parseable, non-empty decision set. usable=false means every
// eligible model's breaker is open or returned unparseable/empty output.
func (a *Advisor) dispatch(ctx context.Context, prompt string, now time.Time) (signals []types.Signal, usable bool) {
	eligible := a.eligibleModels(now)
	allOpen := true

	for _, mc := range eligible {
		if mc.state() == gobreaker.StateOpen {
			continue
		}
		allOpen = false

		result, err := mc.complete(ctx, prompt, a.cfg.Temperature)
		if err != nil {
			a.logger.Warn("advisor model call failed", "model", mc.cfg.Name, "err", err, "kind", errkind.KindOf(err))
			continue
		}

		a.cost.Record(now, cost(mc.cfg, result.PromptTokens, result.CompletionTokens))

		raw, err := ParseResponse(result.Body)
		if err != nil {
			a.logger.Warn("advisor response failed to parse", "model", mc.cfg.Name, "err", err)
			continue
		}
		decisions := ValidateDecisions(raw)
		if len(decisions) == 0 {
			a.logger.Warn("advisor response had zero valid decisions", "model", mc.cfg.Name)
			continue
		}

		a.lastMu.Lock()
		a.lastMeta = DispatchMeta{Model: mc.cfg.Name, PromptTokens: result.PromptTokens, CompletionTokens: result.CompletionTokens, RawResponse: result.Body}
		a.lastMu.Unlock()

		return decisions, true
	}

	if allOpen {
		a.logger.Error("all advisor model breakers open")
	}
	return nil, false
}

func (a *Advisor) syntheticHoldAll(input PromptInput, reason string) []types.Signal {
	signals := make([]types.Signal, 0, len(input.Symbols))
	for _, sym := range input.Symbols {
		signals = append(signals, types.Signal{
			Symbol:     sym.Snapshot.Symbol,
			Action:     types.ActionHold,
			Confidence: 0,
			Reasoning:  "synthetic hold: " + reason,
		})
	}
	return signals
}

func symbolNames(symbols []SymbolContext) []string {
	names := make([]string, len(symbols))
	for i, s := range symbols {
		names[i] = s.Snapshot.Symbol
	}
	return names
}
