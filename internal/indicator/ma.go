package indicator

import "math"

// SMA is a simple moving average over a fixed window.
type SMA struct {
	period int
	buf    []float64
	sum    float64
}

// NewSMA creates a simple moving average with the given period.
func NewSMA(period int) *SMA {
	return &SMA{period: period, buf: make([]float64, 0, period)}
}

// Update advances the average by one value.
func (s *SMA) Update(v float64) {
	s.buf = append(s.buf, v)
	s.sum += v
	if len(s.buf) > s.period {
		s.sum -= s.buf[0]
		s.buf = s.buf[1:]
	}
}

// Value returns the current average. ok is false until the window is full.
func (s *SMA) Value() (float64, bool) {
	if len(s.buf) < s.period {
		return 0, false
	}
	return s.sum / float64(s.period), true
}

// EMA is an exponential moving average seeded with the SMA of the first
// period values.
type EMA struct {
	period int
	alpha  float64
	seed   *SMA
	value  float64
	ready  bool
}

// NewEMA creates an exponential moving average with the given period.
func NewEMA(period int) *EMA {
	return &EMA{
		period: period,
		alpha:  2.0 / float64(period+1),
		seed:   NewSMA(period),
	}
}

// Update advances the average by one value.
func (e *EMA) Update(v float64) {
	if !e.ready {
		e.seed.Update(v)
		if sv, ok := e.seed.Value(); ok {
			e.value = sv
			e.ready = true
		}
		return
	}
	e.value = e.alpha*v + (1-e.alpha)*e.value
}

// Value returns the current average. ok is false during seeding.
func (e *EMA) Value() (float64, bool) {
	return e.value, e.ready
}

// RMA is Wilder's smoothed moving average (alpha = 1/period), seeded with the
// SMA of the first period values. ATR, RSI and ADX are built on it.
type RMA struct {
	period int
	seed   *SMA
	value  float64
	ready  bool
}

// NewRMA creates a Wilder moving average with the given period.
func NewRMA(period int) *RMA {
	return &RMA{period: period, seed: NewSMA(period)}
}

// Update advances the average by one value.
func (r *RMA) Update(v float64) {
	if !r.ready {
		r.seed.Update(v)
		if sv, ok := r.seed.Value(); ok {
			r.value = sv
			r.ready = true
		}
		return
	}
	n := float64(r.period)
	r.value = (r.value*(n-1) + v) / n
}

// Value returns the current average. ok is false during seeding.
func (r *RMA) Value() (float64, bool) {
	return r.value, r.ready
}

// VWMA is a volume-weighted moving average over a fixed window.
type VWMA struct {
	period  int
	prices  []float64
	volumes []float64
	pvSum   float64
	vSum    float64
}

// NewVWMA creates a volume-weighted moving average with the given period.
func NewVWMA(period int) *VWMA {
	return &VWMA{period: period}
}

// Update advances the average by one price/volume pair.
func (w *VWMA) Update(price, volume float64) {
	w.prices = append(w.prices, price)
	w.volumes = append(w.volumes, volume)
	w.pvSum += price * volume
	w.vSum += volume
	if len(w.prices) > w.period {
		w.pvSum -= w.prices[0] * w.volumes[0]
		w.vSum -= w.volumes[0]
		w.prices = w.prices[1:]
		w.volumes = w.volumes[1:]
	}
}

// Value returns the current average. ok is false until the window is full or
// when the window holds no volume.
func (w *VWMA) Value() (float64, bool) {
	if len(w.prices) < w.period || w.vSum == 0 {
		return 0, false
	}
	return w.pvSum / w.vSum, true
}

// Window is a fixed-size rolling window with min/max/mean/stddev queries.
type Window struct {
	period int
	buf    []float64
}

// NewWindow creates a rolling window with the given period.
func NewWindow(period int) *Window {
	return &Window{period: period, buf: make([]float64, 0, period)}
}

// Update appends one value, evicting the oldest when full.
func (w *Window) Update(v float64) {
	w.buf = append(w.buf, v)
	if len(w.buf) > w.period {
		w.buf = w.buf[1:]
	}
}

// Full reports whether the window holds period values.
func (w *Window) Full() bool { return len(w.buf) >= w.period }

// Len returns the number of held values.
func (w *Window) Len() int { return len(w.buf) }

// Min returns the smallest held value.
func (w *Window) Min() float64 {
	m := math.Inf(1)
	for _, v := range w.buf {
		if v < m {
			m = v
		}
	}
	return m
}

// Max returns the largest held value.
func (w *Window) Max() float64 {
	m := math.Inf(-1)
	for _, v := range w.buf {
		if v > m {
			m = v
		}
	}
	return m
}

// Mean returns the arithmetic mean of held values.
func (w *Window) Mean() float64 {
	if len(w.buf) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range w.buf {
		sum += v
	}
	return sum / float64(len(w.buf))
}

// StdDev returns the population standard deviation of held values.
func (w *Window) StdDev() float64 {
	n := len(w.buf)
	if n == 0 {
		return 0
	}
	mean := w.Mean()
	variance := 0.0
	for _, v := range w.buf {
		d := v - mean
		variance += d * d
	}
	return math.Sqrt(variance / float64(n))
}

// MeanAbsDev returns the mean absolute deviation from the window mean.
func (w *Window) MeanAbsDev() float64 {
	n := len(w.buf)
	if n == 0 {
		return 0
	}
	mean := w.Mean()
	dev := 0.0
	for _, v := range w.buf {
		dev += math.Abs(v - mean)
	}
	return dev / float64(n)
}
