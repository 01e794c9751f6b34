package api

import (
	"time"

	"tradingcore/internal/config"
)

// DashboardSnapshot represents the complete dashboard state for one poll.
type DashboardSnapshot struct {
	Timestamp time.Time `json:"timestamp"`

	Account AccountSnapshot    `json:"account"`
	Positions []PositionSnapshot `json:"positions"`
	Risk    RiskSnapshot       `json:"risk"`
	Advisor AdvisorSnapshot    `json:"advisor"`
	Config  ConfigSummary      `json:"config"`
}

// AccountSnapshot mirrors types.AccountState for JSON display.
type AccountSnapshot struct {
	Balance            float64 `json:"balance"`
	AvailableMargin     float64 `json:"available_margin"`
	TotalUnrealizedPnL float64 `json:"total_unrealized_pnl"`
	Equity             float64 `json:"equity"`
}

// PositionSnapshot represents one open or recently-closed position.
type PositionSnapshot struct {
	ID              string    `json:"id"`
	Symbol          string    `json:"symbol"`
	Side            string    `json:"side"`
	State           string    `json:"state"`
	Quantity        float64   `json:"quantity"`
	EntryPrice      float64   `json:"entry_price"`
	Leverage        int       `json:"leverage"`
	StopLossPrice   float64   `json:"stop_loss_price"`
	TakeProfitPrice *float64  `json:"take_profit_price,omitempty"`
	RealizedPnL     float64   `json:"realized_pnl"`
	UnrealizedPnL   float64   `json:"unrealized_pnl"`
	OpenedAt        time.Time `json:"opened_at"`
}

// RiskSnapshot summarizes the risk manager's live state.
type RiskSnapshot struct {
	CircuitBreakerTripped bool    `json:"circuit_breaker_tripped"`
	DailyLossLimitPct     float64 `json:"daily_loss_limit_pct"`
	MaxPositions          int     `json:"max_positions"`
	OpenPositionCount     int     `json:"open_position_count"`
}

// AdvisorSnapshot summarizes today's advisor spend.
type AdvisorSnapshot struct {
	DailyBudgetUSD    float64 `json:"daily_budget_usd"`
	DailyBudgetPctUsed float64 `json:"daily_budget_pct_used"`
}

// ConfigSummary exposes the non-sensitive parts of the frozen startup
// config, for operator visibility.
type ConfigSummary struct {
	PaperTrading         bool     `json:"paper_trading"`
	Symbols              []string `json:"symbols"`
	CycleIntervalSeconds int      `json:"cycle_interval_seconds"`
	MaxLeverage          int      `json:"max_leverage"`
	MaxExposurePct       float64  `json:"max_exposure_pct"`
}

// NewConfigSummary builds a ConfigSummary from the frozen Config.
func NewConfigSummary(cfg config.Config) ConfigSummary {
	return ConfigSummary{
		PaperTrading:         cfg.PaperTrading,
		Symbols:              cfg.Symbols,
		CycleIntervalSeconds: cfg.Scheduler.CycleIntervalSeconds,
		MaxLeverage:          cfg.Risk.MaxLeverage,
		MaxExposurePct:       cfg.Risk.MaxExposurePct,
	}
}
