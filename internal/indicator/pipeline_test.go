package indicator_test

import (
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/quantex-labs/trading-engine/internal/indicator"
	"github.com/quantex-labs/trading-engine/pkg/types"
)

func makeCandles(n int, price func(i int) float64) []types.Candle {
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	out := make([]types.Candle, n)
	for i := 0; i < n; i++ {
		p := price(i)
		out[i] = types.Candle{
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			Open:      decimal.NewFromFloat(p - 0.5),
			High:      decimal.NewFromFloat(p + 1),
			Low:       decimal.NewFromFloat(p - 1),
			Close:     decimal.NewFromFloat(p),
			Volume:    decimal.NewFromInt(1000),
		}
	}
	return out
}

func TestShortWindowReportsInsufficientData(t *testing.T) {
	pipe := indicator.NewPipeline(zap.NewNop(), indicator.DefaultConfig())
	snap := pipe.Warmup(makeCandles(5, func(i int) float64 { return 100 + float64(i) }))

	if snap.ATR.OK {
		t.Error("ATR must not be available before its lookback")
	}
	if snap.RSI.OK {
		t.Error("RSI must not be available before its lookback")
	}
	if snap.ADX.OK {
		t.Error("ADX must not be available before its lookback")
	}
	if snap.ATRMean.OK {
		t.Error("ATR mean must not be available before its lookback")
	}
}

func TestFullWarmupFillsEveryMetric(t *testing.T) {
	pipe := indicator.NewPipeline(zap.NewNop(), indicator.DefaultConfig())
	n := pipe.MinLookback() + 10
	snap := pipe.Warmup(makeCandles(n, func(i int) float64 {
		return 100 + 5*math.Sin(float64(i)/7)
	}))

	metrics := map[string]indicator.Metric{
		"atr":       snap.ATR,
		"atrMean":   snap.ATRMean,
		"emaFast":   snap.EMAFast,
		"emaSlow":   snap.EMASlow,
		"macdHist":  snap.MACDHist,
		"adx":       snap.ADX,
		"bbWidth":   snap.BBWidth,
		"rsi":       snap.RSI,
		"stochRsi":  snap.StochRSI,
		"cci":       snap.CCI,
		"williamsR": snap.WilliamsR,
		"mfi":       snap.MFI,
		"obv":       snap.OBV,
		"cmf":       snap.CMF,
		"vwap":      snap.VWAP,
		"volDelta":  snap.VolDelta,
		"volIndex":  snap.VolIndex,
		"smoother":  snap.Smoother,
		"fisher":    snap.Fisher,
		"trendDir":  snap.TrendDir,
	}
	for name, m := range metrics {
		if !m.OK {
			t.Errorf("%s not available after %d candles", name, n)
		}
		if math.IsNaN(m.Value) || math.IsInf(m.Value, 0) {
			t.Errorf("%s is not finite: %v", name, m.Value)
		}
	}
}

func TestATRWilderSmoothing(t *testing.T) {
	// Constant 2-point range candles: every true range is 2, so ATR is 2.
	atr := indicator.NewATR(14)
	for i := 0; i < 30; i++ {
		atr.Update(101, 99, 100)
	}
	v, ok := atr.Value()
	if !ok {
		t.Fatal("ATR should be available")
	}
	if math.Abs(v-2.0) > 1e-9 {
		t.Fatalf("expected ATR 2.0, got %v", v)
	}
}

func TestRSIExtremes(t *testing.T) {
	rsi := indicator.NewRSI(14)
	for i := 0; i < 30; i++ {
		rsi.Update(100 + float64(i))
	}
	v, ok := rsi.Value()
	if !ok {
		t.Fatal("RSI should be available")
	}
	if v != 100 {
		t.Fatalf("all-gain series must produce RSI 100, got %v", v)
	}
}

func TestStreamingMatchesBatch(t *testing.T) {
	candles := makeCandles(150, func(i int) float64 {
		return 100 + 3*math.Sin(float64(i)/5) + 0.1*float64(i)
	})

	batch := indicator.NewPipeline(zap.NewNop(), indicator.DefaultConfig())
	batchSnap := batch.Warmup(candles)

	stream := indicator.NewPipeline(zap.NewNop(), indicator.DefaultConfig())
	var streamSnap indicator.Snapshot
	for _, c := range candles {
		streamSnap = stream.OnClosedCandle(c)
	}

	if batchSnap.Smoother.Value != streamSnap.Smoother.Value {
		t.Fatalf("smoother state diverged: %v vs %v",
			batchSnap.Smoother.Value, streamSnap.Smoother.Value)
	}
	if batchSnap.Fisher.Value != streamSnap.Fisher.Value {
		t.Fatalf("fisher state diverged: %v vs %v",
			batchSnap.Fisher.Value, streamSnap.Fisher.Value)
	}
	if batchSnap.TrendDir.Value != streamSnap.TrendDir.Value {
		t.Fatalf("supertrend state diverged: %v vs %v",
			batchSnap.TrendDir.Value, streamSnap.TrendDir.Value)
	}
}
