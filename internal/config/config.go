// Package config loads and validates the engine configuration. The result is
// a typed, immutable structure built once at startup; core packages receive
// their sub-structs and never touch raw config files.
package config

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/quantex-labs/trading-engine/internal/api"
	"github.com/quantex-labs/trading-engine/internal/indicator"
	"github.com/quantex-labs/trading-engine/internal/ledger"
	"github.com/quantex-labs/trading-engine/internal/position"
	"github.com/quantex-labs/trading-engine/internal/reconcile"
	"github.com/quantex-labs/trading-engine/internal/regime"
	"github.com/quantex-labs/trading-engine/internal/risk"
	"github.com/quantex-labs/trading-engine/internal/scorer"
	"github.com/quantex-labs/trading-engine/internal/venue"
)

// Config is the full engine configuration.
type Config struct {
	Symbol   string `mapstructure:"symbol"`
	Interval string `mapstructure:"interval"`
	// HigherTimeframes are the confirming intervals whose trend direction
	// feeds the scorer.
	HigherTimeframes []string `mapstructure:"higher_timeframes"`
	CandleLimit      int      `mapstructure:"candle_limit"`
	EquityCurrency   string   `mapstructure:"equity_currency"`
	DryRun           bool     `mapstructure:"dry_run"`
	LogLevel         string   `mapstructure:"log_level"`

	// QtyStep and TickSize are the instrument rounding rules, as decimal
	// strings.
	QtyStep  string `mapstructure:"qty_step"`
	TickSize string `mapstructure:"tick_size"`

	// DisabledIndicators zeroes the matching scorer weights.
	DisabledIndicators []string `mapstructure:"disabled_indicators"`

	Indicators indicator.Config  `mapstructure:"indicators"`
	Regime     regime.Config     `mapstructure:"regime"`
	Scorer     scorer.Config     `mapstructure:"scorer"`
	Risk       risk.Config       `mapstructure:"risk"`
	Position   position.Config   `mapstructure:"position"`
	Ledger     ledger.Config     `mapstructure:"ledger"`
	Reconcile  reconcile.Config  `mapstructure:"reconcile"`
	Retry      venue.RetryConfig `mapstructure:"retry"`
	API        api.Config        `mapstructure:"api"`
}

// Default returns the configuration used when no file overrides anything.
func Default() Config {
	return Config{
		Symbol:           "BTCUSDT",
		Interval:         "5m",
		HigherTimeframes: []string{"1h", "4h"},
		CandleLimit:      300,
		EquityCurrency:   "USDT",
		DryRun:           true,
		LogLevel:         "info",
		QtyStep:          "0.001",
		TickSize:         "0.1",
		Indicators:       indicator.DefaultConfig(),
		Regime:           regime.DefaultConfig(),
		Scorer:           scorer.DefaultConfig(),
		Risk:             risk.DefaultConfig(),
		Position:         position.DefaultConfig(),
		Ledger:           ledger.DefaultConfig(),
		Reconcile:        reconcile.DefaultConfig(),
		Retry:            venue.DefaultRetryConfig(),
		API:              api.DefaultConfig(),
	}
}

// Load reads the configuration from path (YAML) and the ENGINE_* environment,
// layered over defaults, and validates the result. An empty path loads
// defaults plus environment only.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("ENGINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := Default()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	applyDisabled(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDisabled zeroes the scorer weight of every disabled indicator.
func applyDisabled(cfg *Config) {
	for _, name := range cfg.DisabledIndicators {
		w := &cfg.Scorer.Weights
		switch strings.ToLower(name) {
		case "supertrend":
			w.SuperTrend = 0
		case "ema_cross":
			w.EMACross = 0
		case "macd":
			w.MACD = 0
		case "directional_index":
			w.DirectionalIndex = 0
		case "smoother_slope":
			w.SmootherSlope = 0
		case "vwap":
			w.VWAP = 0
		case "bollinger":
			w.Bollinger = 0
		case "fisher":
			w.Fisher = 0
		case "oscillators":
			w.Oscillators = 0
		case "obv":
			w.OBV = 0
		case "cmf":
			w.CMF = 0
		case "volume_delta":
			w.VolumeDelta = 0
		case "imbalance":
			w.Imbalance = 0
		case "higher_timeframe":
			w.HigherTimeframe = 0
		}
	}
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	if c.Symbol == "" {
		return fmt.Errorf("config: symbol required")
	}
	if c.Interval == "" {
		return fmt.Errorf("config: interval required")
	}
	if c.CandleLimit < 2 {
		return fmt.Errorf("config: candle_limit too small: %d", c.CandleLimit)
	}
	if _, err := decimal.NewFromString(c.QtyStep); err != nil {
		return fmt.Errorf("config: qty_step: %w", err)
	}
	if _, err := decimal.NewFromString(c.TickSize); err != nil {
		return fmt.Errorf("config: tick_size: %w", err)
	}
	if err := c.Risk.Validate(); err != nil {
		return err
	}
	return nil
}

// Rules returns the typed instrument rounding rules.
func (c *Config) Rules() venue.InstrumentRules {
	qtyStep, _ := decimal.NewFromString(c.QtyStep)
	tickSize, _ := decimal.NewFromString(c.TickSize)
	return venue.InstrumentRules{QtyStep: qtyStep, TickSize: tickSize}
}
