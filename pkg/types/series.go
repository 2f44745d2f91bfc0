package types

import "time"

// CandleSeries is an append-only candle sequence keyed by timestamp. The last
// candle is treated as still forming and may be replaced in place; all earlier
// candles are closed and immutable. Timestamps must be strictly increasing.
type CandleSeries struct {
	candles []Candle
	maxLen  int
}

// NewCandleSeries creates a series that retains at most maxLen candles.
func NewCandleSeries(maxLen int) *CandleSeries {
	return &CandleSeries{candles: make([]Candle, 0, maxLen), maxLen: maxLen}
}

// Update applies a candle to the series. A candle with the same timestamp as
// the last entry replaces it (live update of the forming candle); a newer
// timestamp closes the previous candle and appends. Candles older than the
// last entry are ignored. It reports whether the previously forming candle
// was closed by this update.
func (s *CandleSeries) Update(c Candle) (closedBar bool) {
	n := len(s.candles)
	if n == 0 {
		s.candles = append(s.candles, c)
		return false
	}
	last := s.candles[n-1].Timestamp
	switch {
	case c.Timestamp.Equal(last):
		s.candles[n-1] = c
		return false
	case c.Timestamp.After(last):
		s.candles = append(s.candles, c)
		if len(s.candles) > s.maxLen {
			s.candles = s.candles[len(s.candles)-s.maxLen:]
		}
		return true
	default:
		return false
	}
}

// Len returns the number of candles held, including the forming one.
func (s *CandleSeries) Len() int { return len(s.candles) }

// Closed returns the closed candles only, excluding the forming candle.
// The returned slice must not be mutated.
func (s *CandleSeries) Closed() []Candle {
	if len(s.candles) == 0 {
		return nil
	}
	return s.candles[:len(s.candles)-1]
}

// LastClosed returns the most recent closed candle.
func (s *CandleSeries) LastClosed() (Candle, bool) {
	if len(s.candles) < 2 {
		return Candle{}, false
	}
	return s.candles[len(s.candles)-2], true
}

// LastClosedTime returns the timestamp of the most recent closed candle.
func (s *CandleSeries) LastClosedTime() (time.Time, bool) {
	c, ok := s.LastClosed()
	return c.Timestamp, ok
}
