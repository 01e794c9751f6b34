// Trading core — an autonomous LLM-advised perpetual-futures trading
// engine.
//
// Architecture:
//
//	main.go                 — entry point: loads config, wires every
//	                           subsystem, starts the scheduler, waits for
//	                           SIGINT/SIGTERM
//	internal/cycle          — orchestrator: Market Data -> Advisor ->
//	                           Risk -> Execution -> Position Manager ->
//	                           Audit, run once per scheduler tick
//	internal/scheduler       — fixed-cadence cycle ticks with deadline
//	                           cancellation and daily reset
//	internal/exchange        — REST+WS gateway to the venue (or the paper
//	                           simulator when paper_trading is enabled)
//	internal/marketdata      — OHLCV warm-up, indicator cache, OI/funding
//	internal/advisor         — prompt construction, multi-model dispatch
//	                           with circuit breakers, daily cost budget
//	internal/risk            — entry/exit gating, exposure and daily-loss
//	                           circuit breaker
//	internal/execution       — idempotent order submission, fill
//	                           classification
//	internal/position        — position lifecycle, stop-loss monitoring,
//	                           crash-safe persistence
//	internal/audit           — append-only decision log
//	internal/api             — read-only ops HTTP surface: health,
//	                           JSON state snapshot, Prometheus metrics
//
// How it makes decisions:
//
//	Each cycle, the orchestrator snapshots market data per symbol, asks
//	the configured LLM models (in priority order, with per-model circuit
//	breakers) for trade signals, runs every signal through the risk
//	manager, and submits approved signals to the exchange. Open positions
//	are monitored independently for stop-loss triggers between cycles; a
//	take-profit price is stored on the position but nothing acts on it.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"

	"tradingcore/internal/advisor"
	"tradingcore/internal/alert"
	"tradingcore/internal/api"
	"tradingcore/internal/audit"
	"tradingcore/internal/config"
	"tradingcore/internal/cycle"
	"tradingcore/internal/exchange"
	"tradingcore/internal/execution"
	"tradingcore/internal/instrument"
	"tradingcore/internal/marketdata"
	"tradingcore/internal/metrics"
	"tradingcore/internal/position"
	"tradingcore/internal/risk"
	"tradingcore/internal/scheduler"
	"tradingcore/pkg/types"
)

func main() {
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("TRADE_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Logging.Level)}
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)

	now := time.Now().UTC()
	alerts := alert.NewLogEmitter(logger)

	wsFeed := exchange.NewWSFeed(cfg.Exchange.WSMarketURL, cfg.Exchange.APIKey, logger)

	var gw exchange.Gateway
	liveGW := exchange.NewClient(cfg.Exchange, logger)
	if cfg.PaperTrading {
		gw = exchange.NewPaperGateway(decimal.NewFromInt(10000), liveGW)
	} else {
		gw = liveGW
	}

	market := marketdata.NewService(cfg.MarketData, cfg.Exchange.WSStalenessMaxSec, gw, wsFeed, alerts, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for _, sym := range cfg.Symbols {
		if err := market.Warmup(ctx, sym); err != nil {
			logger.Error("market data warmup failed", "symbol", sym, "error", err)
			os.Exit(1)
		}
	}
	go market.RunTickIngestion(ctx)

	adv := advisor.New(cfg.Advisor, alerts, logger, now)
	riskMgr := risk.NewManager(cfg.Risk, alerts, logger, now)
	execPipeline := execution.New(cfg.Execution, gw, alerts, logger)
	instruments := instrument.BuildFromSymbols(cfg.Symbols)
	metricsSink := metrics.NewSink()

	store, err := position.Open(cfg.Store.DSN)
	if err != nil {
		logger.Error("failed to open position store", "error", err)
		os.Exit(1)
	}

	priceSource := func(symbol string) (decimal.Decimal, bool) {
		snap := market.Snapshot(symbol, time.Now().UTC())
		if snap.CurrentCandle.Close.IsZero() {
			return decimal.Decimal{}, false
		}
		return snap.CurrentCandle.Close, true
	}

	forceCloser := func(ctx context.Context, pos types.Position, reason string) (decimal.Decimal, error) {
		res, err := execPipeline.CloseAtMarket(ctx, "force-close-"+reason, pos)
		if err != nil {
			return decimal.Decimal{}, err
		}
		if res.Outcome == execution.OutcomeRejected || res.Outcome == execution.OutcomeTimeout {
			return decimal.Decimal{}, fmt.Errorf("force close %s: %s", pos.ID, res.Outcome)
		}
		return res.AvgFillPrice, nil
	}

	positions := position.NewManager(store, gw, alerts, logger, priceSource, cfg.Risk.EmergencyLiquidationPct, position.WithForceCloser(forceCloser))
	if err := positions.LoadFromStore(ctx); err != nil {
		logger.Error("failed to load positions from store", "error", err)
		os.Exit(1)
	}

	auditLog, err := audit.Open(cfg.Store.DSN)
	if err != nil {
		logger.Error("failed to open audit log", "error", err)
		os.Exit(1)
	}
	defer auditLog.Close()

	orchestrator := cycle.New(cycle.Deps{
		Symbols:     cfg.Symbols,
		Market:      market,
		Advisor:     adv,
		Risk:        riskMgr,
		Execution:   execPipeline,
		Positions:   positions,
		Audit:       auditLog,
		Instruments: instruments,
		Gateway:     gw,
		Metrics:     metricsSink,
		Alerts:      alerts,
		Logger:      logger,
	})
	riskMgr.SetOnTrip(func() {
		orchestrator.CloseAllAtMarket(ctx, "circuit_breaker_tripped")
	})

	sched := scheduler.New(
		time.Duration(cfg.Scheduler.CycleIntervalSeconds)*time.Second,
		time.Duration(cfg.Scheduler.CycleDeadlineMS)*time.Millisecond,
		orchestrator.Run,
		func(ctx context.Context) {
			riskMgr.ResetDaily(time.Now().UTC())
			adv.ResetDailyCost(time.Now().UTC())
		},
		logger,
		scheduler.WithSkipHook(func(reason string) {
			metricsSink.CyclesSkipped.WithLabelValues(reason).Inc()
		}),
	)

	var apiServer *api.Server
	if cfg.Dashboard.Enabled {
		apiServer = api.NewServer(cfg.Dashboard, dashboardAdapter{gw: gw, positions: positions, riskMgr: riskMgr, adv: adv}, *cfg, metricsSink.Registry, logger)
		go func() {
			if err := apiServer.Start(); err != nil {
				logger.Error("dashboard server failed", "error", err)
			}
		}()
		logger.Info("dashboard started", "url", fmt.Sprintf("http://localhost:%d", cfg.Dashboard.Port))
	}

	go sched.Run(ctx)

	logger.Info("trading core started",
		"symbols", cfg.Symbols,
		"paper_trading", cfg.PaperTrading,
		"cycle_interval_seconds", cfg.Scheduler.CycleIntervalSeconds,
		"max_leverage", cfg.Risk.MaxLeverage,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())

	if apiServer != nil {
		if err := apiServer.Stop(); err != nil {
			logger.Error("failed to stop dashboard", "error", err)
		}
	}

	cancel()
	positions.Stop()
	if err := store.Close(); err != nil {
		logger.Error("failed to close position store", "error", err)
	}
}

// dashboardAdapter implements api.Provider over the already-constructed
// subsystem handles, so the api package never needs to import position,
// risk, or advisor directly.
type dashboardAdapter struct {
	gw        exchange.Gateway
	positions *position.Manager
	riskMgr   *risk.Manager
	adv       *advisor.Advisor
}

func (d dashboardAdapter) OpenPositions() []types.Position {
	return d.positions.OpenPositions()
}

func (d dashboardAdapter) Account(ctx context.Context) (types.AccountState, error) {
	return d.gw.GetAccount(ctx)
}

func (d dashboardAdapter) RiskCircuitTripped() bool {
	return d.riskMgr.CircuitTripped()
}

func (d dashboardAdapter) AdvisorBudgetPctUsed(now time.Time) float64 {
	return d.adv.DailyBudgetPctUsed(now)
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
