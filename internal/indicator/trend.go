package indicator

import "math"

// ATR is Wilder's average true range.
type ATR struct {
	rma       *RMA
	prevClose float64
	seen      bool
}

// NewATR creates an average true range with the given period.
func NewATR(period int) *ATR {
	return &ATR{rma: NewRMA(period)}
}

// Update advances the range by one candle.
func (a *ATR) Update(high, low, close float64) {
	tr := high - low
	if a.seen {
		tr = math.Max(tr, math.Max(math.Abs(high-a.prevClose), math.Abs(low-a.prevClose)))
	}
	a.rma.Update(tr)
	a.prevClose = close
	a.seen = true
}

// Value returns the current ATR. ok is false until the period is filled.
func (a *ATR) Value() (float64, bool) {
	return a.rma.Value()
}

// ADX computes Wilder's directional movement system: +DI, -DI and the ADX
// trend-strength line.
type ADX struct {
	period   int
	trRMA    *RMA
	plusRMA  *RMA
	minusRMA *RMA
	adxRMA   *RMA
	prevHigh float64
	prevLow  float64
	prevCls  float64
	seen     bool
}

// NewADX creates a directional movement system with the given period.
func NewADX(period int) *ADX {
	return &ADX{
		period:   period,
		trRMA:    NewRMA(period),
		plusRMA:  NewRMA(period),
		minusRMA: NewRMA(period),
		adxRMA:   NewRMA(period),
	}
}

// Update advances the system by one candle.
func (d *ADX) Update(high, low, close float64) {
	if !d.seen {
		d.prevHigh, d.prevLow, d.prevCls = high, low, close
		d.seen = true
		return
	}

	upMove := high - d.prevHigh
	downMove := d.prevLow - low
	plusDM, minusDM := 0.0, 0.0
	if upMove > downMove && upMove > 0 {
		plusDM = upMove
	}
	if downMove > upMove && downMove > 0 {
		minusDM = downMove
	}
	tr := math.Max(high-low, math.Max(math.Abs(high-d.prevCls), math.Abs(low-d.prevCls)))

	d.trRMA.Update(tr)
	d.plusRMA.Update(plusDM)
	d.minusRMA.Update(minusDM)

	if plusDI, minusDI, ok := d.di(); ok {
		sum := plusDI + minusDI
		if sum > 0 {
			d.adxRMA.Update(100 * math.Abs(plusDI-minusDI) / sum)
		} else {
			d.adxRMA.Update(0)
		}
	}

	d.prevHigh, d.prevLow, d.prevCls = high, low, close
}

func (d *ADX) di() (plusDI, minusDI float64, ok bool) {
	tr, trOK := d.trRMA.Value()
	plus, pOK := d.plusRMA.Value()
	minus, mOK := d.minusRMA.Value()
	if !trOK || !pOK || !mOK || tr == 0 {
		return 0, 0, false
	}
	return 100 * plus / tr, 100 * minus / tr, true
}

// Value returns adx, +DI and -DI. ok is false until the double smoothing has
// filled (roughly 2x period candles).
func (d *ADX) Value() (adx, plusDI, minusDI float64, ok bool) {
	plusDI, minusDI, diOK := d.di()
	adx, adxOK := d.adxRMA.Value()
	if !diOK || !adxOK {
		return 0, 0, 0, false
	}
	return adx, plusDI, minusDI, true
}

// MACD is the moving average convergence/divergence oscillator.
type MACD struct {
	fast   *EMA
	slow   *EMA
	signal *EMA
}

// NewMACD creates a MACD with the given fast/slow/signal periods.
func NewMACD(fastPeriod, slowPeriod, signalPeriod int) *MACD {
	return &MACD{
		fast:   NewEMA(fastPeriod),
		slow:   NewEMA(slowPeriod),
		signal: NewEMA(signalPeriod),
	}
}

// Update advances the oscillator by one close.
func (m *MACD) Update(close float64) {
	m.fast.Update(close)
	m.slow.Update(close)
	f, fOK := m.fast.Value()
	s, sOK := m.slow.Value()
	if fOK && sOK {
		m.signal.Update(f - s)
	}
}

// Value returns the MACD line, signal line and histogram.
func (m *MACD) Value() (line, signal, hist float64, ok bool) {
	f, fOK := m.fast.Value()
	s, sOK := m.slow.Value()
	sig, sigOK := m.signal.Value()
	if !fOK || !sOK || !sigOK {
		return 0, 0, 0, false
	}
	line = f - s
	return line, sig, line - sig, true
}

// Bollinger computes Bollinger Bands over a close-price window.
type Bollinger struct {
	window *Window
	mult   float64
}

// NewBollinger creates Bollinger Bands with the given period and deviation
// multiplier.
func NewBollinger(period int, mult float64) *Bollinger {
	return &Bollinger{window: NewWindow(period), mult: mult}
}

// Update advances the bands by one close.
func (b *Bollinger) Update(close float64) {
	b.window.Update(close)
}

// Value returns the upper, middle and lower bands.
func (b *Bollinger) Value() (upper, middle, lower float64, ok bool) {
	if !b.window.Full() {
		return 0, 0, 0, false
	}
	middle = b.window.Mean()
	dev := b.window.StdDev() * b.mult
	return middle + dev, middle, middle - dev, true
}

// WidthRatio returns (upper-lower)/middle, the band width as a fraction of
// the middle band.
func (b *Bollinger) WidthRatio() (float64, bool) {
	upper, middle, lower, ok := b.Value()
	if !ok || middle == 0 {
		return 0, false
	}
	return (upper - lower) / middle, true
}
