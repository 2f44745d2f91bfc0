package config

import (
	"testing"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
	rules := cfg.Rules()
	if rules.QtyStep.IsZero() || rules.TickSize.IsZero() {
		t.Fatal("default instrument rules must be non-zero")
	}
}

func TestLoadWithoutFileUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Symbol != "BTCUSDT" || !cfg.DryRun {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.Scorer.BaseThreshold != 2.0 {
		t.Fatalf("expected base threshold 2.0, got %v", cfg.Scorer.BaseThreshold)
	}
}

func TestDisabledIndicatorsZeroTheirWeights(t *testing.T) {
	cfg := Default()
	cfg.DisabledIndicators = []string{"fisher", "OBV"}
	applyDisabled(&cfg)
	if cfg.Scorer.Weights.Fisher != 0 {
		t.Fatal("fisher weight must be zeroed")
	}
	if cfg.Scorer.Weights.OBV != 0 {
		t.Fatal("obv weight must be zeroed, case-insensitively")
	}
	if cfg.Scorer.Weights.SuperTrend == 0 {
		t.Fatal("untouched weights must survive")
	}
}

func TestValidateRejectsBadSteps(t *testing.T) {
	cfg := Default()
	cfg.QtyStep = "not-a-number"
	if err := cfg.Validate(); err == nil {
		t.Fatal("invalid qty_step must fail validation")
	}

	cfg = Default()
	cfg.CandleLimit = 1
	if err := cfg.Validate(); err == nil {
		t.Fatal("candle_limit below 2 must fail validation")
	}
}
