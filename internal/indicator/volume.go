package indicator

// OBV is on-balance volume with an EMA signal line for trend direction.
type OBV struct {
	value  float64
	signal *EMA
	prev   float64
	seen   bool
}

// NewOBV creates an on-balance volume with the given signal period.
func NewOBV(signalPeriod int) *OBV {
	return &OBV{signal: NewEMA(signalPeriod)}
}

// Update advances the accumulator by one candle.
func (o *OBV) Update(close, volume float64) {
	if o.seen {
		switch {
		case close > o.prev:
			o.value += volume
		case close < o.prev:
			o.value -= volume
		}
	}
	o.prev = close
	o.seen = true
	o.signal.Update(o.value)
}

// Value returns the OBV and its signal line.
func (o *OBV) Value() (obv, signal float64, ok bool) {
	signal, ok = o.signal.Value()
	return o.value, signal, ok
}

// CMF is the Chaikin money flow over a fixed window.
type CMF struct {
	mfv *Window
	vol *Window
}

// NewCMF creates a Chaikin money flow with the given period.
func NewCMF(period int) *CMF {
	return &CMF{mfv: NewWindow(period), vol: NewWindow(period)}
}

// Update advances the flow by one candle.
func (c *CMF) Update(high, low, close, volume float64) {
	mult := 0.0
	if high != low {
		mult = ((close - low) - (high - close)) / (high - low)
	}
	c.mfv.Update(mult * volume)
	c.vol.Update(volume)
}

// Value returns CMF in [-1, 1].
func (c *CMF) Value() (float64, bool) {
	if !c.mfv.Full() {
		return 0, false
	}
	volSum := c.vol.Mean() * float64(c.vol.period)
	if volSum == 0 {
		return 0, true
	}
	return c.mfv.Mean() * float64(c.mfv.period) / volSum, true
}

// VWAP is a rolling volume-weighted average price over typical prices.
type VWAP struct {
	vwma *VWMA
}

// NewVWAP creates a rolling VWAP with the given period.
func NewVWAP(period int) *VWAP {
	return &VWAP{vwma: NewVWMA(period)}
}

// Update advances the average by one candle.
func (v *VWAP) Update(high, low, close, volume float64) {
	v.vwma.Update((high+low+close)/3, volume)
}

// Value returns the rolling VWAP.
func (v *VWAP) Value() (float64, bool) {
	return v.vwma.Value()
}

// VolumeDelta approximates net aggressor volume: candles closing above their
// open count as buy volume, below as sell volume, summed over a window.
type VolumeDelta struct {
	window *Window
}

// NewVolumeDelta creates a volume delta with the given period.
func NewVolumeDelta(period int) *VolumeDelta {
	return &VolumeDelta{window: NewWindow(period)}
}

// Update advances the delta by one candle.
func (d *VolumeDelta) Update(open, close, volume float64) {
	switch {
	case close > open:
		d.window.Update(volume)
	case close < open:
		d.window.Update(-volume)
	default:
		d.window.Update(0)
	}
}

// Value returns the signed volume sum over the window.
func (d *VolumeDelta) Value() (float64, bool) {
	if !d.window.Full() {
		return 0, false
	}
	return d.window.Mean() * float64(d.window.period), true
}
