package advisor

import (
	"sync"
	"time"

	"tradingcore/internal/config"
)

// costTracker accumulates today's advisor spend and reports budget state
// per spec §4.4: WARNING at 70% of daily budget, forced cheapest-model at
// 100%. Reset happens on the scheduler's daily reset job via Reset.
type costTracker struct {
	mu          sync.Mutex
	dailyBudget float64
	spentToday  float64
	day         time.Time
}

func newCostTracker(dailyBudget float64, now time.Time) *costTracker {
	return &costTracker{dailyBudget: dailyBudget, day: startOfDay(now)}
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Record adds cost to today's total, rolling over automatically if the
// wall-clock day has changed since the tracker was last touched (belt and
// suspenders alongside the scheduler's explicit daily reset).
func (c *costTracker) Record(now time.Time, usd float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rolloverLocked(now)
	c.spentToday += usd
}

// Reset zeroes today's spend; called from the scheduler's daily reset job.
func (c *costTracker) Reset(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.spentToday = 0
	c.day = startOfDay(now)
}

func (c *costTracker) rolloverLocked(now time.Time) {
	today := startOfDay(now)
	if today.After(c.day) {
		c.spentToday = 0
		c.day = today
	}
}

// PctUsed returns today's spend as a fraction of the daily budget.
func (c *costTracker) PctUsed(now time.Time) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rolloverLocked(now)
	if c.dailyBudget <= 0 {
		return 0
	}
	return c.spentToday / c.dailyBudget
}

// cost computes the USD cost of one completion against a model's per-token
// pricing.
func cost(model config.ModelConfig, promptTokens, completionTokens int) float64 {
	return float64(promptTokens)*model.PricePerPromptTok + float64(completionTokens)*model.PricePerComplTok
}
