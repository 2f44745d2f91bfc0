package indicator

// RSI is Wilder's relative strength index.
type RSI struct {
	gainRMA   *RMA
	lossRMA   *RMA
	prevClose float64
	seen      bool
}

// NewRSI creates a relative strength index with the given period.
func NewRSI(period int) *RSI {
	return &RSI{gainRMA: NewRMA(period), lossRMA: NewRMA(period)}
}

// Update advances the index by one close.
func (r *RSI) Update(close float64) {
	if !r.seen {
		r.prevClose = close
		r.seen = true
		return
	}
	change := close - r.prevClose
	gain, loss := 0.0, 0.0
	if change > 0 {
		gain = change
	} else {
		loss = -change
	}
	r.gainRMA.Update(gain)
	r.lossRMA.Update(loss)
	r.prevClose = close
}

// Value returns RSI in [0, 100].
func (r *RSI) Value() (float64, bool) {
	gain, gOK := r.gainRMA.Value()
	loss, lOK := r.lossRMA.Value()
	if !gOK || !lOK {
		return 0, false
	}
	if loss == 0 {
		return 100, true
	}
	rs := gain / loss
	return 100 - 100/(1+rs), true
}

// StochRSI applies a stochastic calculation to the RSI series, smoothed with
// a short SMA.
type StochRSI struct {
	rsi    *RSI
	window *Window
	smooth *SMA
}

// NewStochRSI creates a stochastic RSI with rsiPeriod for the underlying RSI,
// stochPeriod for the stochastic window and smoothPeriod for %K smoothing.
func NewStochRSI(rsiPeriod, stochPeriod, smoothPeriod int) *StochRSI {
	return &StochRSI{
		rsi:    NewRSI(rsiPeriod),
		window: NewWindow(stochPeriod),
		smooth: NewSMA(smoothPeriod),
	}
}

// Update advances the oscillator by one close.
func (s *StochRSI) Update(close float64) {
	s.rsi.Update(close)
	rv, ok := s.rsi.Value()
	if !ok {
		return
	}
	s.window.Update(rv)
	if !s.window.Full() {
		return
	}
	lo, hi := s.window.Min(), s.window.Max()
	if hi == lo {
		s.smooth.Update(50)
		return
	}
	s.smooth.Update(100 * (rv - lo) / (hi - lo))
}

// Value returns smoothed stochastic RSI in [0, 100].
func (s *StochRSI) Value() (float64, bool) {
	return s.smooth.Value()
}

// CCI is the commodity channel index over typical prices.
type CCI struct {
	window *Window
}

// NewCCI creates a commodity channel index with the given period.
func NewCCI(period int) *CCI {
	return &CCI{window: NewWindow(period)}
}

// Update advances the index by one candle.
func (c *CCI) Update(high, low, close float64) {
	c.window.Update((high + low + close) / 3)
}

// Value returns the CCI.
func (c *CCI) Value() (float64, bool) {
	if !c.window.Full() {
		return 0, false
	}
	mad := c.window.MeanAbsDev()
	if mad == 0 {
		return 0, true
	}
	tp := c.window.buf[len(c.window.buf)-1]
	return (tp - c.window.Mean()) / (0.015 * mad), true
}

// WilliamsR is the Williams %R oscillator.
type WilliamsR struct {
	highs  *Window
	lows   *Window
	close  float64
}

// NewWilliamsR creates a Williams %R with the given period.
func NewWilliamsR(period int) *WilliamsR {
	return &WilliamsR{highs: NewWindow(period), lows: NewWindow(period)}
}

// Update advances the oscillator by one candle.
func (w *WilliamsR) Update(high, low, close float64) {
	w.highs.Update(high)
	w.lows.Update(low)
	w.close = close
}

// Value returns %R in [-100, 0].
func (w *WilliamsR) Value() (float64, bool) {
	if !w.highs.Full() {
		return 0, false
	}
	hh, ll := w.highs.Max(), w.lows.Min()
	if hh == ll {
		return -50, true
	}
	return -100 * (hh - w.close) / (hh - ll), true
}

// MFI is the money flow index, a volume-weighted RSI over typical prices.
type MFI struct {
	period  int
	posFlow *Window
	negFlow *Window
	prevTP  float64
	seen    bool
}

// NewMFI creates a money flow index with the given period.
func NewMFI(period int) *MFI {
	return &MFI{period: period, posFlow: NewWindow(period), negFlow: NewWindow(period)}
}

// Update advances the index by one candle.
func (m *MFI) Update(high, low, close, volume float64) {
	tp := (high + low + close) / 3
	if !m.seen {
		m.prevTP = tp
		m.seen = true
		return
	}
	flow := tp * volume
	if tp > m.prevTP {
		m.posFlow.Update(flow)
		m.negFlow.Update(0)
	} else if tp < m.prevTP {
		m.posFlow.Update(0)
		m.negFlow.Update(flow)
	} else {
		m.posFlow.Update(0)
		m.negFlow.Update(0)
	}
	m.prevTP = tp
}

// Value returns MFI in [0, 100].
func (m *MFI) Value() (float64, bool) {
	if !m.posFlow.Full() {
		return 0, false
	}
	pos := m.posFlow.Mean() * float64(m.period)
	neg := m.negFlow.Mean() * float64(m.period)
	if neg == 0 {
		return 100, true
	}
	ratio := pos / neg
	return 100 - 100/(1+ratio), true
}
