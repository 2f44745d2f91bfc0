// Package regime classifies the market as TRENDING or RANGING from trend
// strength and band width. The scorer reweights indicator families per
// regime.
package regime

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/quantex-labs/trading-engine/internal/indicator"
	"github.com/quantex-labs/trading-engine/pkg/types"
)

// Config configures the classifier thresholds.
type Config struct {
	// ADXThreshold marks the market TRENDING when ADX is at or above it.
	ADXThreshold float64 `mapstructure:"adx_threshold"`
	// BBWidthThreshold marks the market TRENDING when Bollinger band width
	// divided by the middle band is at or above it.
	BBWidthThreshold float64 `mapstructure:"bb_width_threshold"`
}

// DefaultConfig returns the standard thresholds.
func DefaultConfig() Config {
	return Config{
		ADXThreshold:     23.0,
		BBWidthThreshold: 0.03,
	}
}

// State is one classification with the inputs that produced it.
type State struct {
	Regime    types.Regime `json:"regime"`
	ADX       float64      `json:"adx"`
	BBWidth   float64      `json:"bbWidth"`
	Timestamp time.Time    `json:"timestamp"`
}

// Detector classifies each closed candle's snapshot. It keeps the last state
// for observability.
type Detector struct {
	logger *zap.Logger
	config Config

	mu   sync.RWMutex
	last State
}

// NewDetector creates a regime detector.
func NewDetector(logger *zap.Logger, config Config) *Detector {
	if config.ADXThreshold == 0 {
		config = DefaultConfig()
	}
	return &Detector{
		logger: logger.Named("regime"),
		config: config,
		last:   State{Regime: types.RegimeRanging},
	}
}

// Classify returns TRENDING when either trend-strength input crosses its
// threshold, RANGING otherwise. Inputs whose lookback is not filled count as
// not trending, so early classifications default to RANGING.
func (d *Detector) Classify(snap indicator.Snapshot) types.Regime {
	state := State{Regime: types.RegimeRanging, Timestamp: snap.Timestamp}
	if snap.ADX.OK {
		state.ADX = snap.ADX.Value
	}
	if snap.BBWidth.OK {
		state.BBWidth = snap.BBWidth.Value
	}

	if (snap.ADX.OK && snap.ADX.Value >= d.config.ADXThreshold) ||
		(snap.BBWidth.OK && snap.BBWidth.Value >= d.config.BBWidthThreshold) {
		state.Regime = types.RegimeTrending
	}

	d.mu.Lock()
	changed := state.Regime != d.last.Regime
	d.last = state
	d.mu.Unlock()

	if changed {
		d.logger.Info("regime changed",
			zap.String("regime", string(state.Regime)),
			zap.Float64("adx", state.ADX),
			zap.Float64("bbWidth", state.BBWidth))
	}
	return state.Regime
}

// Last returns the most recent classification.
func (d *Detector) Last() State {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.last
}
