package config

import "testing"

func testConfig() Config {
	cfg := Config{
		PaperTrading: true,
		Symbols:      []string{"BTCUSDT"},
		Exchange:     ExchangeConfig{RESTBaseURL: "https://example.test"},
		Advisor:      AdvisorConfig{Models: []ModelConfig{{Name: "primary"}}},
	}
	applyDefaults(&cfg)
	return cfg
}

func TestApplyDefaults(t *testing.T) {
	t.Parallel()
	cfg := testConfig()

	if cfg.Scheduler.CycleIntervalSeconds != 180 {
		t.Errorf("CycleIntervalSeconds = %d, want 180", cfg.Scheduler.CycleIntervalSeconds)
	}
	if cfg.Scheduler.CycleDeadlineMS != 2000 {
		t.Errorf("CycleDeadlineMS = %d, want 2000", cfg.Scheduler.CycleDeadlineMS)
	}
	if cfg.Risk.MaxPositions != 6 {
		t.Errorf("MaxPositions = %d, want 6", cfg.Risk.MaxPositions)
	}
	if cfg.Risk.MinLeverage != 5 || cfg.Risk.MaxLeverage != 40 {
		t.Errorf("leverage window = [%d,%d], want [5,40]", cfg.Risk.MinLeverage, cfg.Risk.MaxLeverage)
	}
	if cfg.Risk.DailyLossLimitPct != 0.05 {
		t.Errorf("DailyLossLimitPct = %v, want 0.05", cfg.Risk.DailyLossLimitPct)
	}
}

func TestValidateRequiresSymbols(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.Symbols = nil

	if err := cfg.Validate(); err == nil {
		t.Error("expected error for missing trading_symbols")
	}
}

func TestValidateRequiresCredentialsWhenLive(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.PaperTrading = false

	if err := cfg.Validate(); err == nil {
		t.Error("expected error for missing exchange credentials in live mode")
	}
}

func TestValidateRejectsHighTemperature(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.Advisor.Temperature = 0.9

	if err := cfg.Validate(); err == nil {
		t.Error("expected error for temperature > 0.3")
	}
}

func TestValidateRejectsBadLeverageWindow(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.Risk.MaxLeverage = 2 // below MinLeverage default of 5

	if err := cfg.Validate(); err == nil {
		t.Error("expected error for inverted leverage window")
	}
}

func TestValidatePasses(t *testing.T) {
	t.Parallel()
	cfg := testConfig()

	if err := cfg.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
