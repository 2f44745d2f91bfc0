package indicator

import (
	"time"

	"go.uber.org/zap"

	"github.com/quantex-labs/trading-engine/pkg/types"
)

// Config holds the indicator periods. Zero values are replaced by defaults
// at construction.
type Config struct {
	ATRPeriod        int     `mapstructure:"atr_period"`
	ATRMeanPeriod    int     `mapstructure:"atr_mean_period"`
	EMAFastPeriod    int     `mapstructure:"ema_fast_period"`
	EMASlowPeriod    int     `mapstructure:"ema_slow_period"`
	MACDFast         int     `mapstructure:"macd_fast"`
	MACDSlow         int     `mapstructure:"macd_slow"`
	MACDSignal       int     `mapstructure:"macd_signal"`
	ADXPeriod        int     `mapstructure:"adx_period"`
	BollingerPeriod  int     `mapstructure:"bollinger_period"`
	BollingerMult    float64 `mapstructure:"bollinger_mult"`
	RSIPeriod        int     `mapstructure:"rsi_period"`
	StochRSIPeriod   int     `mapstructure:"stoch_rsi_period"`
	StochRSISmooth   int     `mapstructure:"stoch_rsi_smooth"`
	CCIPeriod        int     `mapstructure:"cci_period"`
	WilliamsRPeriod  int     `mapstructure:"williams_r_period"`
	MFIPeriod        int     `mapstructure:"mfi_period"`
	OBVSignalPeriod  int     `mapstructure:"obv_signal_period"`
	CMFPeriod        int     `mapstructure:"cmf_period"`
	VWAPPeriod       int     `mapstructure:"vwap_period"`
	VolumeMeanPeriod int     `mapstructure:"volume_mean_period"`
	VolDeltaPeriod   int     `mapstructure:"vol_delta_period"`
	SmootherPeriod   int     `mapstructure:"smoother_period"`
	FisherPeriod     int     `mapstructure:"fisher_period"`
	SuperTrendPeriod int     `mapstructure:"supertrend_period"`
	SuperTrendMult   float64 `mapstructure:"supertrend_mult"`
}

// DefaultConfig returns the standard indicator periods.
func DefaultConfig() Config {
	return Config{
		ATRPeriod:        14,
		ATRMeanPeriod:    50,
		EMAFastPeriod:    21,
		EMASlowPeriod:    55,
		MACDFast:         12,
		MACDSlow:         26,
		MACDSignal:       9,
		ADXPeriod:        14,
		BollingerPeriod:  20,
		BollingerMult:    2.0,
		RSIPeriod:        14,
		StochRSIPeriod:   14,
		StochRSISmooth:   3,
		CCIPeriod:        20,
		WilliamsRPeriod:  14,
		MFIPeriod:        14,
		OBVSignalPeriod:  20,
		CMFPeriod:        20,
		VWAPPeriod:       20,
		VolumeMeanPeriod: 20,
		VolDeltaPeriod:   14,
		SmootherPeriod:   10,
		FisherPeriod:     10,
		SuperTrendPeriod: 10,
		SuperTrendMult:   3.0,
	}
}

// Snapshot is the full indicator state after one closed candle. Metrics whose
// lookback is not yet filled have OK false and are excluded from scoring.
type Snapshot struct {
	Timestamp time.Time
	Close     float64
	High      float64
	Low       float64
	Volume    float64

	ATR     Metric
	ATRMean Metric // rolling mean of ATR, feeds the dynamic threshold

	EMAFast Metric
	EMASlow Metric

	MACDLine   Metric
	MACDSignal Metric
	MACDHist   Metric

	ADX     Metric
	PlusDI  Metric
	MinusDI Metric

	BBUpper Metric
	BBMid   Metric
	BBLower Metric
	BBWidth Metric // (upper-lower)/mid

	RSI       Metric
	StochRSI  Metric
	CCI       Metric
	WilliamsR Metric
	MFI       Metric

	OBV       Metric
	OBVSignal Metric
	CMF       Metric
	VWAP      Metric
	VolDelta  Metric

	VolumeMean   Metric // rolling mean volume
	VolIndex     Metric // ATR / close
	VolIndexMean Metric // rolling mean of VolIndex

	Smoother      Metric
	SmootherSlope Metric
	Fisher        Metric
	FisherTrigger Metric

	TrendDir     Metric // +1 or -1
	TrendLine    Metric
	TrendFlipped bool
}

// Pipeline advances every indicator by one closed candle and produces a
// Snapshot. It never sees the forming candle.
type Pipeline struct {
	logger *zap.Logger
	config Config

	atr        *ATR
	atrMean    *SMA
	emaFast    *EMA
	emaSlow    *EMA
	macd       *MACD
	adx        *ADX
	bollinger  *Bollinger
	rsi        *RSI
	stochRSI   *StochRSI
	cci        *CCI
	williamsR  *WilliamsR
	mfi        *MFI
	obv        *OBV
	cmf        *CMF
	vwap       *VWAP
	volDelta   *VolumeDelta
	volMean    *SMA
	volIdxMean *SMA
	smoother   *SuperSmoother
	fisher     *Fisher
	superTrend *SuperTrend

	seen int
}

// NewPipeline creates an indicator pipeline.
func NewPipeline(logger *zap.Logger, config Config) *Pipeline {
	def := DefaultConfig()
	if config.ATRPeriod == 0 {
		config = def
	}
	return &Pipeline{
		logger:     logger.Named("indicators"),
		config:     config,
		atr:        NewATR(config.ATRPeriod),
		atrMean:    NewSMA(config.ATRMeanPeriod),
		emaFast:    NewEMA(config.EMAFastPeriod),
		emaSlow:    NewEMA(config.EMASlowPeriod),
		macd:       NewMACD(config.MACDFast, config.MACDSlow, config.MACDSignal),
		adx:        NewADX(config.ADXPeriod),
		bollinger:  NewBollinger(config.BollingerPeriod, config.BollingerMult),
		rsi:        NewRSI(config.RSIPeriod),
		stochRSI:   NewStochRSI(config.RSIPeriod, config.StochRSIPeriod, config.StochRSISmooth),
		cci:        NewCCI(config.CCIPeriod),
		williamsR:  NewWilliamsR(config.WilliamsRPeriod),
		mfi:        NewMFI(config.MFIPeriod),
		obv:        NewOBV(config.OBVSignalPeriod),
		cmf:        NewCMF(config.CMFPeriod),
		vwap:       NewVWAP(config.VWAPPeriod),
		volDelta:   NewVolumeDelta(config.VolDeltaPeriod),
		volMean:    NewSMA(config.VolumeMeanPeriod),
		volIdxMean: NewSMA(config.ATRMeanPeriod),
		smoother:   NewSuperSmoother(config.SmootherPeriod),
		fisher:     NewFisher(config.FisherPeriod),
		superTrend: NewSuperTrend(config.SuperTrendPeriod, config.SuperTrendMult),
	}
}

// MinLookback returns the number of closed candles needed before every metric
// in a Snapshot is OK.
func (p *Pipeline) MinLookback() int {
	// ADX double smoothing and the ATR mean dominate; the mean needs a full
	// ATR first.
	n := p.config.ATRPeriod + p.config.ATRMeanPeriod
	if m := 2 * p.config.ADXPeriod; m > n {
		n = m
	}
	if m := p.config.MACDSlow + p.config.MACDSignal; m > n {
		n = m
	}
	return n + 1
}

// Warmup advances the pipeline over a batch of closed candles and returns the
// final snapshot.
func (p *Pipeline) Warmup(candles []types.Candle) Snapshot {
	var snap Snapshot
	for _, c := range candles {
		snap = p.OnClosedCandle(c)
	}
	p.logger.Debug("pipeline warmed up",
		zap.Int("candles", len(candles)),
		zap.Int("minLookback", p.MinLookback()))
	return snap
}

// OnClosedCandle advances every indicator by one closed candle. Candles must
// arrive in timestamp order, exactly once each.
func (p *Pipeline) OnClosedCandle(c types.Candle) Snapshot {
	open := c.Open.InexactFloat64()
	high := c.High.InexactFloat64()
	low := c.Low.InexactFloat64()
	close := c.Close.InexactFloat64()
	volume := c.Volume.InexactFloat64()
	p.seen++

	p.atr.Update(high, low, close)
	p.emaFast.Update(close)
	p.emaSlow.Update(close)
	p.macd.Update(close)
	p.adx.Update(high, low, close)
	p.bollinger.Update(close)
	p.rsi.Update(close)
	p.stochRSI.Update(close)
	p.cci.Update(high, low, close)
	p.williamsR.Update(high, low, close)
	p.mfi.Update(high, low, close, volume)
	p.obv.Update(close, volume)
	p.cmf.Update(high, low, close, volume)
	p.vwap.Update(high, low, close, volume)
	p.volDelta.Update(open, close, volume)
	p.volMean.Update(volume)
	p.smoother.Update(close)
	p.fisher.Update(high, low)
	p.superTrend.Update(high, low, close)

	snap := Snapshot{
		Timestamp: c.Timestamp,
		Close:     close,
		High:      high,
		Low:       low,
		Volume:    volume,
	}

	if atr, ok := p.atr.Value(); ok {
		snap.ATR = metric(atr, true)
		p.atrMean.Update(atr)
		if close > 0 {
			vi := atr / close
			snap.VolIndex = metric(vi, true)
			p.volIdxMean.Update(vi)
		}
	}
	if v, ok := p.atrMean.Value(); ok {
		snap.ATRMean = metric(v, true)
	}
	if v, ok := p.volIdxMean.Value(); ok {
		snap.VolIndexMean = metric(v, true)
	}
	if v, ok := p.emaFast.Value(); ok {
		snap.EMAFast = metric(v, true)
	}
	if v, ok := p.emaSlow.Value(); ok {
		snap.EMASlow = metric(v, true)
	}
	if line, sig, hist, ok := p.macd.Value(); ok {
		snap.MACDLine = metric(line, true)
		snap.MACDSignal = metric(sig, true)
		snap.MACDHist = metric(hist, true)
	}
	if adx, plus, minus, ok := p.adx.Value(); ok {
		snap.ADX = metric(adx, true)
		snap.PlusDI = metric(plus, true)
		snap.MinusDI = metric(minus, true)
	}
	if upper, mid, lower, ok := p.bollinger.Value(); ok {
		snap.BBUpper = metric(upper, true)
		snap.BBMid = metric(mid, true)
		snap.BBLower = metric(lower, true)
		if mid != 0 {
			snap.BBWidth = metric((upper-lower)/mid, true)
		}
	}
	if v, ok := p.rsi.Value(); ok {
		snap.RSI = metric(v, true)
	}
	if v, ok := p.stochRSI.Value(); ok {
		snap.StochRSI = metric(v, true)
	}
	if v, ok := p.cci.Value(); ok {
		snap.CCI = metric(v, true)
	}
	if v, ok := p.williamsR.Value(); ok {
		snap.WilliamsR = metric(v, true)
	}
	if v, ok := p.mfi.Value(); ok {
		snap.MFI = metric(v, true)
	}
	if obv, sig, ok := p.obv.Value(); ok {
		snap.OBV = metric(obv, true)
		snap.OBVSignal = metric(sig, true)
	}
	if v, ok := p.cmf.Value(); ok {
		snap.CMF = metric(v, true)
	}
	if v, ok := p.vwap.Value(); ok {
		snap.VWAP = metric(v, true)
	}
	if v, ok := p.volDelta.Value(); ok {
		snap.VolDelta = metric(v, true)
	}
	if v, ok := p.volMean.Value(); ok {
		snap.VolumeMean = metric(v, true)
	}
	if filt, slope, ok := p.smoother.Value(); ok {
		snap.Smoother = metric(filt, true)
		snap.SmootherSlope = metric(slope, true)
	}
	if fisher, trigger, ok := p.fisher.Value(); ok {
		snap.Fisher = metric(fisher, true)
		snap.FisherTrigger = metric(trigger, true)
	}
	if dir, line, flipped, ok := p.superTrend.Value(); ok {
		snap.TrendDir = metric(float64(dir), true)
		snap.TrendLine = metric(line, true)
		snap.TrendFlipped = flipped
	}
	return snap
}
