// Package indicator implements the technical indicator pipeline. All
// indicators are incremental: they carry their own state and are advanced one
// closed candle at a time, so batch warmup and live streaming share one code
// path. Internals are float64; callers cross back to decimal when a value
// feeds order sizing.
package indicator

import "errors"

// ErrInsufficientData is returned while an indicator's lookback window is not
// yet filled. A metric in that state is excluded from scoring, never defaulted.
var ErrInsufficientData = errors.New("indicator: insufficient data")

// Metric is one indicator output. OK is false until the indicator has seen
// its minimum lookback of closed candles.
type Metric struct {
	Value float64
	OK    bool
}

func metric(v float64, ok bool) Metric {
	return Metric{Value: v, OK: ok}
}

// clip bounds v to [lo, hi].
func clip(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
