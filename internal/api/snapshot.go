package api

import (
	"context"
	"time"

	"tradingcore/internal/config"
	"tradingcore/pkg/types"
)

// Provider is the read-only view into the trading core the dashboard
// needs. The cmd entrypoint supplies a small adapter implementing this
// over the already-constructed position manager, risk manager, advisor,
// and exchange gateway, so the api package never imports them directly.
type Provider interface {
	OpenPositions() []types.Position
	Account(ctx context.Context) (types.AccountState, error)
	RiskCircuitTripped() bool
	AdvisorBudgetPctUsed(now time.Time) float64
}

// BuildSnapshot aggregates live state from every subsystem into one
// dashboard snapshot.
func BuildSnapshot(ctx context.Context, provider Provider, cfg config.Config, now time.Time) DashboardSnapshot {
	account, _ := provider.Account(ctx)
	positions := provider.OpenPositions()

	snaps := make([]PositionSnapshot, 0, len(positions))
	for _, p := range positions {
		snaps = append(snaps, toPositionSnapshot(p))
	}

	return DashboardSnapshot{
		Timestamp: now,
		Account:   toAccountSnapshot(account),
		Positions: snaps,
		Risk: RiskSnapshot{
			CircuitBreakerTripped: provider.RiskCircuitTripped(),
			DailyLossLimitPct:     cfg.Risk.DailyLossLimitPct,
			MaxPositions:          cfg.Risk.MaxPositions,
			OpenPositionCount:     len(positions),
		},
		Advisor: AdvisorSnapshot{
			DailyBudgetUSD:     cfg.Advisor.DailyBudgetUSD,
			DailyBudgetPctUsed: provider.AdvisorBudgetPctUsed(now),
		},
		Config: NewConfigSummary(cfg),
	}
}

func toAccountSnapshot(a types.AccountState) AccountSnapshot {
	balance, _ := a.Balance.Float64()
	margin, _ := a.AvailableMargin.Float64()
	unrealized, _ := a.TotalUnrealizedPnL.Float64()
	equity, _ := a.Equity().Float64()
	return AccountSnapshot{Balance: balance, AvailableMargin: margin, TotalUnrealizedPnL: unrealized, Equity: equity}
}

func toPositionSnapshot(p types.Position) PositionSnapshot {
	qty, _ := p.Quantity.Float64()
	entry, _ := p.EntryPrice.Float64()
	stop, _ := p.StopLossPrice.Float64()
	realized, _ := p.RealizedPnL.Float64()
	unrealized, _ := p.UnrealizedPnL.Float64()
	var tp *float64
	if p.TakeProfitPrice != nil {
		v, _ := p.TakeProfitPrice.Float64()
		tp = &v
	}
	return PositionSnapshot{
		ID: p.ID, Symbol: p.Symbol, Side: string(p.Side), State: string(p.State),
		Quantity: qty, EntryPrice: entry, Leverage: p.Leverage, StopLossPrice: stop,
		TakeProfitPrice: tp, RealizedPnL: realized, UnrealizedPnL: unrealized, OpenedAt: p.OpenedAt,
	}
}
