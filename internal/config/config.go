// Package config defines all configuration for the trading core.
// Config is loaded from a YAML file (default: configs/config.yaml) with
// sensitive fields overridable via TRADE_* environment variables, and is
// frozen for the lifetime of every cycle it governs (spec §3, §6).
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the YAML file structure.
type Config struct {
	PaperTrading bool             `mapstructure:"paper_trading"`
	Symbols      []string         `mapstructure:"trading_symbols"`
	Scheduler    SchedulerConfig  `mapstructure:"scheduler"`
	Exchange     ExchangeConfig   `mapstructure:"exchange"`
	MarketData   MarketDataConfig `mapstructure:"market_data"`
	Advisor      AdvisorConfig    `mapstructure:"advisor"`
	Risk         RiskConfig       `mapstructure:"risk"`
	Execution    ExecutionConfig  `mapstructure:"execution"`
	Store        StoreConfig      `mapstructure:"store"`
	Logging      LoggingConfig    `mapstructure:"logging"`
	Dashboard    DashboardConfig  `mapstructure:"dashboard"`
}

// SchedulerConfig governs cycle cadence and deadline (spec §4.1, §6).
type SchedulerConfig struct {
	CycleIntervalSeconds int           `mapstructure:"cycle_interval_seconds"` // default 180
	CycleDeadlineMS      int           `mapstructure:"cycle_deadline_ms"`      // default 2000
	ShutdownDrain        time.Duration `mapstructure:"shutdown_drain"`         // default 30s
}

// ExchangeConfig holds credentials and endpoints for the Exchange Gateway (spec §4.2, §6).
type ExchangeConfig struct {
	APIKey            string  `mapstructure:"api_key"`
	APISecret         string  `mapstructure:"api_secret"`
	RESTBaseURL       string  `mapstructure:"rest_base_url"`
	WSMarketURL       string  `mapstructure:"ws_market_url"`
	WSAccountURL      string  `mapstructure:"ws_account_url"`
	WSStalenessMaxSec int     `mapstructure:"ws_staleness_max_sec"` // default 30
	RateLimitPct      float64 `mapstructure:"rate_limit_pct"`       // default 0.80
	MaxConcurrentREST int     `mapstructure:"max_concurrent_rest"`  // default 3
	RetryAttempts     int     `mapstructure:"retry_attempts"`       // default 2 (N), total 3
}

// MarketDataConfig governs warm-up, gap policy, and caching (spec §4.3).
type MarketDataConfig struct {
	WarmupCandles     int           `mapstructure:"warmup_candles"`      // default 200
	Timeframe         string        `mapstructure:"timeframe"`           // e.g. "15m"
	GapPauseMinutes   float64       `mapstructure:"gap_pause_minutes"`   // default 3
	GapAlertMinutes   float64       `mapstructure:"gap_alert_minutes"`   // default 10
	OIFundingStaleMin float64       `mapstructure:"oi_funding_stale_min"` // default 15
	CacheTTL          time.Duration `mapstructure:"cache_ttl"`           // default <=5m
}

// AdvisorConfig governs LLM prompt construction, invocation, and cost budget (spec §4.4, §6).
type AdvisorConfig struct {
	Models           []ModelConfig `mapstructure:"models"` // priority order
	MaxPromptTokens  int           `mapstructure:"max_prompt_tokens"`  // default 8000
	RequestTimeout   time.Duration `mapstructure:"request_timeout"`    // default 5s
	Temperature      float64       `mapstructure:"temperature"`        // <= 0.3
	DailyBudgetUSD   float64       `mapstructure:"daily_budget_usd"`   // default 3.33
	BreakerCooldown  time.Duration `mapstructure:"breaker_cooldown"`   // default 10m
	FailbackCooldown time.Duration `mapstructure:"failback_cooldown"`  // default 10m
}

// ModelConfig describes one configured advisor model with per-token pricing.
type ModelConfig struct {
	Name              string  `mapstructure:"name"`
	Priority          int     `mapstructure:"priority"` // lower = tried first
	PricePerPromptTok float64 `mapstructure:"price_per_prompt_token"`
	PricePerComplTok  float64 `mapstructure:"price_per_completion_token"`
	Endpoint          string  `mapstructure:"endpoint"`
	APIKey            string  `mapstructure:"api_key"`
}

// RiskConfig sets hard limits enforced by the Risk Manager (spec §4.5, §6).
type RiskConfig struct {
	MaxPositions            int     `mapstructure:"max_positions"`             // default 6
	MaxExposurePct          float64 `mapstructure:"max_exposure_pct"`          // default 0.80
	ExposureWarnPct         float64 `mapstructure:"exposure_warn_pct"`         // default 0.70
	MaxRiskUSD              float64 `mapstructure:"max_risk_usd"`              // default 5000
	MinLeverage             int     `mapstructure:"min_leverage"`              // default 5
	MaxLeverage             int     `mapstructure:"max_leverage"`              // default 40
	DailyLossLimitPct       float64 `mapstructure:"daily_loss_limit_pct"`      // default 0.05 / 0.07 aggressive
	EmergencyLiquidationPct float64 `mapstructure:"emergency_liquidation_pct"` // default 0.15
	EntryConfidence         float64 `mapstructure:"entry_confidence"`          // default 0.60
	ExitConfidence          float64 `mapstructure:"exit_confidence"`           // default 0.50
	HighVolConfidenceBump   float64 `mapstructure:"high_vol_confidence_bump"`  // default 0.10
	MaxMarginUtilizationPct float64 `mapstructure:"max_margin_utilization_pct"` // default 0.90
}

// ExecutionConfig governs order submission and fill handling (spec §4.7, §6).
type ExecutionConfig struct {
	OrderFillTimeout  time.Duration `mapstructure:"order_fill_timeout"`   // default 5s
	PartialFillMinPct float64       `mapstructure:"partial_fill_min_pct"` // default 0.50
	SlippageAlertPct  float64       `mapstructure:"slippage_alert_pct"`   // default 0.02
}

// StoreConfig sets where position/audit data is persisted.
type StoreConfig struct {
	DSN string `mapstructure:"dsn"` // sqlite DSN, e.g. file path
}

// LoggingConfig governs the slog handler.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DashboardConfig controls the metrics/health HTTP server.
type DashboardConfig struct {
	Enabled        bool     `mapstructure:"enabled"`
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// Load reads config from a YAML file with env var overrides.
// Sensitive fields use env vars: TRADE_EXCHANGE_API_KEY, TRADE_EXCHANGE_API_SECRET,
// TRADE_ADVISOR_API_KEY (applies to the primary model).
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("TRADE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if key := os.Getenv("TRADE_EXCHANGE_API_KEY"); key != "" {
		cfg.Exchange.APIKey = key
	}
	if secret := os.Getenv("TRADE_EXCHANGE_API_SECRET"); secret != "" {
		cfg.Exchange.APISecret = secret
	}
	if key := os.Getenv("TRADE_ADVISOR_API_KEY"); key != "" && len(cfg.Advisor.Models) > 0 {
		cfg.Advisor.Models[0].APIKey = key
	}
	if os.Getenv("TRADE_PAPER_TRADING") == "true" || os.Getenv("TRADE_PAPER_TRADING") == "1" {
		cfg.PaperTrading = true
	}

	applyDefaults(&cfg)

	return &cfg, nil
}

// applyDefaults fills the spec §6 default values for any field left at its
// YAML-absent zero value.
func applyDefaults(c *Config) {
	if c.Scheduler.CycleIntervalSeconds == 0 {
		c.Scheduler.CycleIntervalSeconds = 180
	}
	if c.Scheduler.CycleDeadlineMS == 0 {
		c.Scheduler.CycleDeadlineMS = 2000
	}
	if c.Scheduler.ShutdownDrain == 0 {
		c.Scheduler.ShutdownDrain = 30 * time.Second
	}
	if c.Exchange.WSStalenessMaxSec == 0 {
		c.Exchange.WSStalenessMaxSec = 30
	}
	if c.Exchange.RateLimitPct == 0 {
		c.Exchange.RateLimitPct = 0.80
	}
	if c.Exchange.MaxConcurrentREST == 0 {
		c.Exchange.MaxConcurrentREST = 3
	}
	if c.Exchange.RetryAttempts == 0 {
		c.Exchange.RetryAttempts = 2
	}
	if c.MarketData.WarmupCandles == 0 {
		c.MarketData.WarmupCandles = 200
	}
	if c.MarketData.GapPauseMinutes == 0 {
		c.MarketData.GapPauseMinutes = 3
	}
	if c.MarketData.GapAlertMinutes == 0 {
		c.MarketData.GapAlertMinutes = 10
	}
	if c.MarketData.OIFundingStaleMin == 0 {
		c.MarketData.OIFundingStaleMin = 15
	}
	if c.MarketData.CacheTTL == 0 {
		c.MarketData.CacheTTL = 5 * time.Minute
	}
	if c.Advisor.MaxPromptTokens == 0 {
		c.Advisor.MaxPromptTokens = 8000
	}
	if c.Advisor.RequestTimeout == 0 {
		c.Advisor.RequestTimeout = 5 * time.Second
	}
	if c.Advisor.DailyBudgetUSD == 0 {
		c.Advisor.DailyBudgetUSD = 3.33
	}
	if c.Advisor.BreakerCooldown == 0 {
		c.Advisor.BreakerCooldown = 10 * time.Minute
	}
	if c.Advisor.FailbackCooldown == 0 {
		c.Advisor.FailbackCooldown = 10 * time.Minute
	}
	if c.Risk.MaxPositions == 0 {
		c.Risk.MaxPositions = 6
	}
	if c.Risk.MaxExposurePct == 0 {
		c.Risk.MaxExposurePct = 0.80
	}
	if c.Risk.ExposureWarnPct == 0 {
		c.Risk.ExposureWarnPct = 0.70
	}
	if c.Risk.MaxRiskUSD == 0 {
		c.Risk.MaxRiskUSD = 5000
	}
	if c.Risk.MinLeverage == 0 {
		c.Risk.MinLeverage = 5
	}
	if c.Risk.MaxLeverage == 0 {
		c.Risk.MaxLeverage = 40
	}
	if c.Risk.DailyLossLimitPct == 0 {
		c.Risk.DailyLossLimitPct = 0.05
	}
	if c.Risk.EmergencyLiquidationPct == 0 {
		c.Risk.EmergencyLiquidationPct = 0.15
	}
	if c.Risk.EntryConfidence == 0 {
		c.Risk.EntryConfidence = 0.60
	}
	if c.Risk.ExitConfidence == 0 {
		c.Risk.ExitConfidence = 0.50
	}
	if c.Risk.HighVolConfidenceBump == 0 {
		c.Risk.HighVolConfidenceBump = 0.10
	}
	if c.Risk.MaxMarginUtilizationPct == 0 {
		c.Risk.MaxMarginUtilizationPct = 0.90
	}
	if c.Execution.OrderFillTimeout == 0 {
		c.Execution.OrderFillTimeout = 5 * time.Second
	}
	if c.Execution.PartialFillMinPct == 0 {
		c.Execution.PartialFillMinPct = 0.50
	}
	if c.Execution.SlippageAlertPct == 0 {
		c.Execution.SlippageAlertPct = 0.02
	}
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	if len(c.Symbols) == 0 {
		return fmt.Errorf("trading_symbols is required")
	}
	if !c.PaperTrading {
		if c.Exchange.APIKey == "" {
			return fmt.Errorf("exchange.api_key is required (set TRADE_EXCHANGE_API_KEY)")
		}
		if c.Exchange.APISecret == "" {
			return fmt.Errorf("exchange.api_secret is required (set TRADE_EXCHANGE_API_SECRET)")
		}
	}
	if c.Exchange.RESTBaseURL == "" {
		return fmt.Errorf("exchange.rest_base_url is required")
	}
	if c.Scheduler.CycleIntervalSeconds <= 0 {
		return fmt.Errorf("scheduler.cycle_interval_seconds must be > 0")
	}
	if c.Scheduler.CycleDeadlineMS <= 0 {
		return fmt.Errorf("scheduler.cycle_deadline_ms must be > 0")
	}
	if len(c.Advisor.Models) == 0 {
		return fmt.Errorf("advisor.models must have at least one entry")
	}
	if c.Advisor.Temperature > 0.3 {
		return fmt.Errorf("advisor.temperature must be <= 0.3")
	}
	if c.Risk.MaxPositions <= 0 {
		return fmt.Errorf("risk.max_positions must be > 0")
	}
	if c.Risk.MaxExposurePct <= 0 || c.Risk.MaxExposurePct > 1 {
		return fmt.Errorf("risk.max_exposure_pct must be in (0,1]")
	}
	if c.Risk.MinLeverage <= 0 || c.Risk.MaxLeverage < c.Risk.MinLeverage {
		return fmt.Errorf("risk.min_leverage/max_leverage must form a valid window")
	}
	if c.Risk.MaxRiskUSD <= 0 {
		return fmt.Errorf("risk.max_risk_usd must be > 0")
	}
	return nil
}
