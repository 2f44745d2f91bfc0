// Package scorer fuses per-indicator contributions into one confluence score
// and derives a BUY/SELL/HOLD verdict through a volatility-scaled threshold,
// a hysteresis band, a cooldown window and an expectancy circuit breaker.
package scorer

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/quantex-labs/trading-engine/internal/indicator"
	"github.com/quantex-labs/trading-engine/internal/ledger"
	"github.com/quantex-labs/trading-engine/pkg/types"
)

// Weights is the per-indicator weight table. A zero weight disables the
// contribution.
type Weights struct {
	SuperTrend       float64 `mapstructure:"supertrend"`
	EMACross         float64 `mapstructure:"ema_cross"`
	MACD             float64 `mapstructure:"macd"`
	DirectionalIndex float64 `mapstructure:"directional_index"`
	SmootherSlope    float64 `mapstructure:"smoother_slope"`
	VWAP             float64 `mapstructure:"vwap"`
	Bollinger        float64 `mapstructure:"bollinger"`
	Fisher           float64 `mapstructure:"fisher"`
	Oscillators      float64 `mapstructure:"oscillators"`
	OBV              float64 `mapstructure:"obv"`
	CMF              float64 `mapstructure:"cmf"`
	VolumeDelta      float64 `mapstructure:"volume_delta"`
	Imbalance        float64 `mapstructure:"imbalance"`
	HigherTimeframe  float64 `mapstructure:"higher_timeframe"`
}

// DefaultWeights returns the standard weight table.
func DefaultWeights() Weights {
	return Weights{
		SuperTrend:       1.0,
		EMACross:         0.8,
		MACD:             0.8,
		DirectionalIndex: 0.6,
		SmootherSlope:    0.5,
		VWAP:             0.4,
		Bollinger:        0.9,
		Fisher:           0.7,
		Oscillators:      1.0,
		OBV:              0.5,
		CMF:              0.4,
		VolumeDelta:      0.4,
		Imbalance:        0.5,
		HigherTimeframe:  0.6,
	}
}

// Config holds the scoring constants.
type Config struct {
	Weights Weights `mapstructure:"weights"`
	// BaseThreshold is scaled by clip(ATR/ATR_mean, ThresholdClipLo..Hi).
	BaseThreshold   float64       `mapstructure:"base_threshold"`
	ThresholdClipLo float64       `mapstructure:"threshold_clip_lo"`
	ThresholdClipHi float64       `mapstructure:"threshold_clip_hi"`
	HysteresisRatio float64       `mapstructure:"hysteresis_ratio"`
	Cooldown        time.Duration `mapstructure:"cooldown"`
	// TrendBoost scales trend-family weights up and mean-reversion-family
	// weights down in a TRENDING regime, and the inverse in RANGING.
	TrendBoost float64 `mapstructure:"trend_boost"`
	// VolumeSpikeMult marks a volume spike relative to the rolling mean; a
	// spike amplifies the existing score direction.
	VolumeSpikeMult  float64 `mapstructure:"volume_spike_mult"`
	VolumeSpikeBoost float64 `mapstructure:"volume_spike_boost"`
	// HighVolMult and HighVolDampen shrink the score when the volatility
	// index runs above its rolling mean.
	HighVolMult   float64 `mapstructure:"high_vol_mult"`
	HighVolDampen float64 `mapstructure:"high_vol_dampen"`
	// MaxSpreadBps and SpreadDampen shrink the score when the book spread is
	// too wide to trade cleanly.
	MaxSpreadBps float64 `mapstructure:"max_spread_bps"`
	SpreadDampen float64 `mapstructure:"spread_dampen"`
}

// DefaultConfig returns the standard scoring constants.
func DefaultConfig() Config {
	return Config{
		Weights:          DefaultWeights(),
		BaseThreshold:    2.0,
		ThresholdClipLo:  0.9,
		ThresholdClipHi:  1.5,
		HysteresisRatio:  0.85,
		Cooldown:         60 * time.Second,
		TrendBoost:       0.2,
		VolumeSpikeMult:  1.5,
		VolumeSpikeBoost: 0.2,
		HighVolMult:      1.5,
		HighVolDampen:    0.75,
		MaxSpreadBps:     10.0,
		SpreadDampen:     0.5,
	}
}

// Inputs is everything one evaluation consumes. Book and HigherTimeframes are
// optional; Stats comes from the performance ledger.
type Inputs struct {
	Symbol   string
	Snapshot indicator.Snapshot
	Regime   types.Regime
	Book     *types.TopOfBook
	// HigherTimeframes holds the trend direction (+1/-1) of each confirming
	// timeframe, zero entries ignored.
	HigherTimeframes []int
	Stats            ledger.Stats
	Now              time.Time
}

// Outcome is the scored result plus the intermediates tests and telemetry
// inspect.
type Outcome struct {
	Signal     types.Signal
	RawScore   float64
	Threshold  float64
	Conviction float64
	Acted      bool
}

// Scorer holds the minimal cross-candle state the verdict rules need: the
// previous raw score and the last acted time. Everything else is derived from
// Inputs, so the outcome is deterministic given that state.
type Scorer struct {
	logger *zap.Logger
	config Config

	mu         sync.Mutex
	prevScore  float64
	hasPrev    bool
	lastAction time.Time
}

// NewScorer creates a confluence scorer.
func NewScorer(logger *zap.Logger, config Config) *Scorer {
	if config.BaseThreshold == 0 {
		config = DefaultConfig()
	}
	return &Scorer{logger: logger.Named("scorer"), config: config}
}

// Evaluate scores one closed candle. Metrics whose lookback is not filled are
// excluded from the sum; if the dynamic threshold itself cannot be computed
// the verdict is HOLD.
func (s *Scorer) Evaluate(in Inputs) Outcome {
	raw, reasons := s.rawScore(in)
	raw = s.dampen(raw, in, &reasons)

	out := Outcome{RawScore: raw}
	signal := types.Signal{
		Symbol:    in.Symbol,
		Timestamp: in.Snapshot.Timestamp,
		Regime:    in.Regime,
		Verdict:   types.VerdictHold,
	}

	if !in.Snapshot.ATR.OK || !in.Snapshot.ATRMean.OK || in.Snapshot.ATRMean.Value == 0 {
		signal.Reasons = append(reasons, "threshold unavailable")
		signal.Score = decimal.NewFromFloat(raw)
		out.Signal = signal
		s.remember(raw)
		return out
	}

	ratio := clipf(in.Snapshot.ATR.Value/in.Snapshot.ATRMean.Value, s.config.ThresholdClipLo, s.config.ThresholdClipHi)
	threshold := s.config.BaseThreshold * ratio
	out.Threshold = threshold
	out.Conviction = conviction(raw, threshold)

	verdict := types.VerdictHold
	switch {
	case raw >= threshold:
		verdict = types.VerdictBuy
	case raw <= -threshold:
		verdict = types.VerdictSell
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Hysteresis: a reversal must dominate the prior score or it is noise.
	if verdict != types.VerdictHold && s.hasPrev &&
		sign(raw) != sign(s.prevScore) && sign(s.prevScore) != 0 &&
		math.Abs(raw) < math.Abs(s.prevScore)*s.config.HysteresisRatio {
		reasons = append(reasons, "hysteresis")
		verdict = types.VerdictHold
	}

	// Expectancy circuit breaker.
	if verdict != types.VerdictHold && in.Stats.ExpectancyOK && in.Stats.Expectancy <= 0 {
		reasons = append(reasons, "negative expectancy")
		verdict = types.VerdictHold
	}

	// Cooldown since the last acted verdict.
	if verdict != types.VerdictHold && !s.lastAction.IsZero() &&
		in.Now.Sub(s.lastAction) < s.config.Cooldown {
		reasons = append(reasons, "cooldown")
		verdict = types.VerdictHold
	}

	if verdict != types.VerdictHold {
		s.lastAction = in.Now
		out.Acted = true
	}
	s.prevScore = raw
	s.hasPrev = true

	signal.Verdict = verdict
	signal.Score = decimal.NewFromFloat(raw)
	signal.Reasons = reasons
	out.Signal = signal

	s.logger.Debug("scored candle",
		zap.String("symbol", in.Symbol),
		zap.Float64("score", raw),
		zap.Float64("threshold", threshold),
		zap.String("verdict", string(verdict)),
		zap.String("regime", string(in.Regime)))
	return out
}

func (s *Scorer) remember(raw float64) {
	s.mu.Lock()
	s.prevScore = raw
	s.hasPrev = true
	s.mu.Unlock()
}

// rawScore sums the weighted, regime-adjusted contributions of every enabled
// indicator. Contributions are bounded to [-1, 1] before weighting.
func (s *Scorer) rawScore(in Inputs) (float64, []string) {
	snap := in.Snapshot
	w := s.config.Weights
	trendMult, revMult := 1.0, 1.0
	if in.Regime == types.RegimeTrending {
		trendMult = 1 + s.config.TrendBoost
		revMult = 1 - s.config.TrendBoost
	} else {
		trendMult = 1 - s.config.TrendBoost
		revMult = 1 + s.config.TrendBoost
	}

	score := 0.0
	var reasons []string
	add := func(name string, weight, contrib float64) {
		if weight == 0 || contrib == 0 {
			return
		}
		score += weight * contrib
		reasons = append(reasons, fmt.Sprintf("%s=%+.2f", name, weight*contrib))
	}

	// Trend family.
	if snap.TrendDir.OK {
		add("supertrend", w.SuperTrend*trendMult, snap.TrendDir.Value)
	}
	if snap.EMAFast.OK && snap.EMASlow.OK {
		add("ema", w.EMACross*trendMult, signf(snap.EMAFast.Value-snap.EMASlow.Value))
	}
	if snap.MACDHist.OK {
		add("macd", w.MACD*trendMult, signf(snap.MACDHist.Value))
	}
	if snap.PlusDI.OK && snap.MinusDI.OK {
		add("di", w.DirectionalIndex*trendMult, signf(snap.PlusDI.Value-snap.MinusDI.Value))
	}
	if snap.SmootherSlope.OK {
		add("smoother", w.SmootherSlope*trendMult, signf(snap.SmootherSlope.Value))
	}
	if snap.VWAP.OK {
		add("vwap", w.VWAP*trendMult, signf(snap.Close-snap.VWAP.Value))
	}
	for _, dir := range in.HigherTimeframes {
		if dir != 0 {
			add("htf", w.HigherTimeframe*trendMult, float64(sign(float64(dir))))
		}
	}

	// Mean-reversion family. Band touches are only traded as reversals in a
	// ranging market.
	if in.Regime == types.RegimeRanging && snap.BBUpper.OK && snap.BBLower.OK {
		switch {
		case snap.Close <= snap.BBLower.Value:
			add("bollinger", w.Bollinger*revMult, 1)
		case snap.Close >= snap.BBUpper.Value:
			add("bollinger", w.Bollinger*revMult, -1)
		}
	}
	if snap.Fisher.OK && snap.FisherTrigger.OK {
		rising := snap.Fisher.Value > snap.FisherTrigger.Value
		switch {
		case snap.Fisher.Value < -1.5 && rising:
			add("fisher", w.Fisher*revMult, 1)
		case snap.Fisher.Value > 1.5 && !rising:
			add("fisher", w.Fisher*revMult, -1)
		}
	}
	add("oscillators", w.Oscillators*revMult, oscillatorComposite(snap))

	// Volume flow, regime-neutral.
	if snap.OBV.OK && snap.OBVSignal.OK {
		add("obv", w.OBV, signf(snap.OBV.Value-snap.OBVSignal.Value))
	}
	if snap.CMF.OK {
		add("cmf", w.CMF, clipf(snap.CMF.Value/0.2, -1, 1))
	}
	if snap.VolDelta.OK {
		add("voldelta", w.VolumeDelta, signf(snap.VolDelta.Value))
	}
	if in.Book != nil {
		add("imbalance", w.Imbalance, in.Book.Imbalance())
	}

	// A volume spike amplifies whatever direction the score already has.
	if snap.VolumeMean.OK && snap.VolumeMean.Value > 0 &&
		snap.Volume > s.config.VolumeSpikeMult*snap.VolumeMean.Value && score != 0 {
		score *= 1 + s.config.VolumeSpikeBoost
		reasons = append(reasons, "volume spike")
	}
	return score, reasons
}

// dampen shrinks the score in hostile conditions instead of vetoing outright.
func (s *Scorer) dampen(raw float64, in Inputs, reasons *[]string) float64 {
	snap := in.Snapshot
	if snap.VolIndex.OK && snap.VolIndexMean.OK && snap.VolIndexMean.Value > 0 &&
		snap.VolIndex.Value > s.config.HighVolMult*snap.VolIndexMean.Value {
		raw *= s.config.HighVolDampen
		*reasons = append(*reasons, "high volatility dampen")
	}
	if in.Book != nil {
		spread, _ := in.Book.SpreadBps().Float64()
		if spread > s.config.MaxSpreadBps {
			raw *= s.config.SpreadDampen
			*reasons = append(*reasons, "wide spread dampen")
		}
	}
	return raw
}

// oscillatorComposite tallies overbought/oversold votes across the momentum
// oscillators and maps the sum into [-1, 1]. Oscillators without lookback
// abstain.
func oscillatorComposite(snap indicator.Snapshot) float64 {
	votes := 0.0
	if snap.RSI.OK {
		switch {
		case snap.RSI.Value < 30:
			votes++
		case snap.RSI.Value > 70:
			votes--
		}
	}
	if snap.StochRSI.OK {
		switch {
		case snap.StochRSI.Value < 20:
			votes++
		case snap.StochRSI.Value > 80:
			votes--
		}
	}
	if snap.CCI.OK {
		switch {
		case snap.CCI.Value < -100:
			votes++
		case snap.CCI.Value > 100:
			votes--
		}
	}
	if snap.WilliamsR.OK {
		switch {
		case snap.WilliamsR.Value < -80:
			votes++
		case snap.WilliamsR.Value > -20:
			votes--
		}
	}
	if snap.MFI.OK {
		switch {
		case snap.MFI.Value < 20:
			votes++
		case snap.MFI.Value > 80:
			votes--
		}
	}
	return clipf(votes/5, -1, 1)
}

// conviction maps score dominance over the threshold into [0.5, 1.0].
func conviction(raw, threshold float64) float64 {
	if threshold == 0 {
		return 0.5
	}
	return clipf(math.Abs(raw)/(2*threshold), 0.5, 1.0)
}

func sign(v float64) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}

func signf(v float64) float64 { return float64(sign(v)) }

func clipf(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
