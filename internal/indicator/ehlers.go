package indicator

import "math"

// SuperSmoother is Ehlers' two-pole super smoother filter. State is carried
// across updates so warmup and live streaming produce identical series.
type SuperSmoother struct {
	c1, c2, c3 float64
	prevInput  float64
	filt1      float64
	filt2      float64
	count      int
}

// NewSuperSmoother creates a two-pole super smoother with the given cutoff
// period.
func NewSuperSmoother(period int) *SuperSmoother {
	arg := math.Sqrt2 * math.Pi / float64(period)
	a1 := math.Exp(-arg)
	b1 := 2 * a1 * math.Cos(arg)
	s := &SuperSmoother{c2: b1, c3: -a1 * a1}
	s.c1 = 1 - s.c2 - s.c3
	return s
}

// Update advances the filter by one value.
func (s *SuperSmoother) Update(v float64) {
	var filt float64
	if s.count < 2 {
		filt = v
	} else {
		filt = s.c1*(v+s.prevInput)/2 + s.c2*s.filt1 + s.c3*s.filt2
	}
	s.filt2 = s.filt1
	s.filt1 = filt
	s.prevInput = v
	s.count++
}

// Value returns the filtered value and its one-step slope.
func (s *SuperSmoother) Value() (filt, slope float64, ok bool) {
	if s.count < 3 {
		return 0, 0, false
	}
	return s.filt1, s.filt1 - s.filt2, true
}

// Fisher is the Fisher transform of median price normalized over a rolling
// window. Values are clamped before the transform to keep it finite.
type Fisher struct {
	window     *Window
	norm       float64
	fisher     float64
	prevFisher float64
	ready      bool
}

// NewFisher creates a Fisher transform with the given normalization window.
func NewFisher(period int) *Fisher {
	return &Fisher{window: NewWindow(period)}
}

// Update advances the transform by one candle.
func (f *Fisher) Update(high, low float64) {
	mid := (high + low) / 2
	f.window.Update(mid)
	if !f.window.Full() {
		return
	}
	lo, hi := f.window.Min(), f.window.Max()
	raw := 0.0
	if hi != lo {
		raw = 2*((mid-lo)/(hi-lo)) - 1
	}
	f.norm = clip(0.33*raw+0.67*f.norm, -0.999, 0.999)
	f.prevFisher = f.fisher
	f.fisher = 0.5*math.Log((1+f.norm)/(1-f.norm)) + 0.5*f.fisher
	f.ready = true
}

// Value returns the Fisher line and its previous value, which serves as the
// trigger line.
func (f *Fisher) Value() (fisher, trigger float64, ok bool) {
	return f.fisher, f.prevFisher, f.ready
}

// SuperTrend is the ATR-band trend flip indicator. Bands only tighten while
// the trend holds; the direction flips when the close crosses the opposite
// band.
type SuperTrend struct {
	atr        *ATR
	mult       float64
	finalUpper float64
	finalLower float64
	dir        int
	prevClose  float64
	flipped    bool
	ready      bool
}

// NewSuperTrend creates a SuperTrend with the given ATR period and band
// multiplier.
func NewSuperTrend(period int, mult float64) *SuperTrend {
	return &SuperTrend{atr: NewATR(period), mult: mult, dir: 1}
}

// Update advances the indicator by one candle.
func (t *SuperTrend) Update(high, low, close float64) {
	t.atr.Update(high, low, close)
	atr, ok := t.atr.Value()
	if !ok {
		t.prevClose = close
		return
	}

	mid := (high + low) / 2
	upper := mid + t.mult*atr
	lower := mid - t.mult*atr

	if t.ready {
		// Carry the tighter band forward while price has not breached it.
		if upper > t.finalUpper && t.prevClose <= t.finalUpper {
			upper = t.finalUpper
		}
		if lower < t.finalLower && t.prevClose >= t.finalLower {
			lower = t.finalLower
		}
	}

	prevDir := t.dir
	switch {
	case close > upper:
		t.dir = 1
	case close < lower:
		t.dir = -1
	}
	t.flipped = t.ready && t.dir != prevDir

	t.finalUpper = upper
	t.finalLower = lower
	t.prevClose = close
	t.ready = true
}

// Value returns the trend direction (+1 up, -1 down), the active band line
// and whether this candle flipped the trend.
func (t *SuperTrend) Value() (dir int, line float64, flipped, ok bool) {
	if !t.ready {
		return 0, 0, false, false
	}
	line = t.finalLower
	if t.dir < 0 {
		line = t.finalUpper
	}
	return t.dir, line, t.flipped, true
}
