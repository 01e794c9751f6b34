package advisor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sony/gobreaker"

	"tradingcore/internal/config"
	"tradingcore/internal/errkind"
)

// modelClient wraps one configured model endpoint with its own circuit
// breaker, mirroring the teacher's per-venue isolation in
// internal/exchange (generalized from per-venue to per-model since every
// model call is an independent external dependency here).
type modelClient struct {
	cfg     config.ModelConfig
	http    *resty.Client
	breaker *gobreaker.CircuitBreaker
	logger  *slog.Logger
}

// completionResult is one model call's raw text body plus token usage for
// cost tracking.
type completionResult struct {
	Body             string
	PromptTokens     int
	CompletionTokens int
}

func newModelClient(cfg config.ModelConfig, timeout, breakerCooldown time.Duration, logger *slog.Logger) *modelClient {
	mc := &modelClient{
		cfg:    cfg,
		http:   resty.New().SetTimeout(timeout).SetBaseURL(cfg.Endpoint),
		logger: logger.With("model", cfg.Name),
	}
	mc.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: 2, // two successes required to close from half-open, spec §4.4
		Interval:    0,
		Timeout:     breakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 2
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			mc.logger.Warn("advisor model breaker state change", "from", from.String(), "to", to.String())
		},
	})
	return mc
}

func (mc *modelClient) state() gobreaker.State {
	return mc.breaker.State()
}

type chatRequest struct {
	Model       string    `json:"model"`
	Temperature float64   `json:"temperature"`
	Messages    []chatMsg `json:"messages"`
}

type chatMsg struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// complete dispatches one prompt through the model's circuit breaker. An
// open breaker returns gobreaker.ErrOpenState without making a request.
func (mc *modelClient) complete(ctx context.Context, systemPrompt string, temperature float64) (completionResult, error) {
	result, err := mc.breaker.Execute(func() (any, error) {
		req := chatRequest{
			Model:       mc.cfg.Name,
			Temperature: temperature,
			Messages:    []chatMsg{{Role: "user", Content: systemPrompt}},
		}
		var resp chatResponse
		r, err := mc.http.R().
			SetContext(ctx).
			SetHeader("Authorization", "Bearer "+mc.cfg.APIKey).
			SetBody(req).
			SetResult(&resp).
			Post("/v1/chat/completions")
		if err != nil {
			return completionResult{}, errkind.New(errkind.Transient, "advisor.complete", err)
		}
		if r.IsError() {
			return completionResult{}, errkind.Wrapf(errkind.Transient, "advisor.complete", "model %s returned status %d", mc.cfg.Name, r.StatusCode())
		}
		if len(resp.Choices) == 0 {
			return completionResult{}, errkind.Wrapf(errkind.Validation, "advisor.complete", "model %s returned no choices", mc.cfg.Name)
		}
		return completionResult{
			Body:             resp.Choices[0].Message.Content,
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
		}, nil
	})
	if err != nil {
		return completionResult{}, err
	}
	cr, ok := result.(completionResult)
	if !ok {
		return completionResult{}, fmt.Errorf("advisor.complete: unexpected result type %T", result)
	}
	return cr, nil
}
