package types_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantex-labs/trading-engine/pkg/types"
)

func candleAt(ts time.Time, close float64) types.Candle {
	c := decimal.NewFromFloat(close)
	return types.Candle{
		Timestamp: ts,
		Open:      c,
		High:      c,
		Low:       c,
		Close:     c,
		Volume:    decimal.NewFromInt(100),
	}
}

func TestSeriesFormingCandleReplacedInPlace(t *testing.T) {
	series := types.NewCandleSeries(10)
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	if closed := series.Update(candleAt(base, 100)); closed {
		t.Fatal("first candle must not close a bar")
	}
	// Live updates of the forming candle replace it and close nothing.
	if closed := series.Update(candleAt(base, 101)); closed {
		t.Fatal("same-timestamp update must not close a bar")
	}
	if series.Len() != 1 {
		t.Fatalf("expected 1 candle, got %d", series.Len())
	}

	// A newer timestamp closes the forming candle at its last value.
	if closed := series.Update(candleAt(base.Add(time.Minute), 102)); !closed {
		t.Fatal("newer timestamp must close the forming candle")
	}
	last, ok := series.LastClosed()
	if !ok {
		t.Fatal("expected a closed candle")
	}
	if !last.Close.Equal(decimal.NewFromFloat(101)) {
		t.Fatalf("closed candle should hold the last live update, got %s", last.Close)
	}
}

func TestSeriesIgnoresOlderCandles(t *testing.T) {
	series := types.NewCandleSeries(10)
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	series.Update(candleAt(base, 100))
	series.Update(candleAt(base.Add(time.Minute), 101))
	if closed := series.Update(candleAt(base.Add(-time.Minute), 99)); closed {
		t.Fatal("stale candle must be ignored")
	}
	if series.Len() != 2 {
		t.Fatalf("stale candle must not be stored, got %d candles", series.Len())
	}
}

func TestSeriesClosedExcludesFormingCandle(t *testing.T) {
	series := types.NewCandleSeries(10)
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		series.Update(candleAt(base.Add(time.Duration(i)*time.Minute), 100+float64(i)))
	}
	closed := series.Closed()
	if len(closed) != 4 {
		t.Fatalf("expected 4 closed candles, got %d", len(closed))
	}
	for _, c := range closed {
		if c.Timestamp.Equal(base.Add(4 * time.Minute)) {
			t.Fatal("forming candle leaked into closed view")
		}
	}
}

func TestSeriesEviction(t *testing.T) {
	series := types.NewCandleSeries(3)
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 10; i++ {
		series.Update(candleAt(base.Add(time.Duration(i)*time.Minute), 100))
	}
	if series.Len() != 3 {
		t.Fatalf("expected capped length 3, got %d", series.Len())
	}
}
