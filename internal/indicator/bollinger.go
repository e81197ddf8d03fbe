package indicator

import "math"

// Bollinger computes Bollinger Bands: middle = SMA(period),
// upper/lower = middle ± mult × population standard deviation of the window.
type Bollinger struct {
	sma  *SMA
	mult float64
}

// NewBollinger creates Bollinger Bands (typically period 20, mult 2).
func NewBollinger(period int, mult float64) *Bollinger {
	return &Bollinger{sma: NewSMA(period), mult: mult}
}

func (b *Bollinger) Update(price float64) { b.sma.Update(price) }

// Value returns the middle band.
func (b *Bollinger) Value() float64 { return b.sma.Value() }
func (b *Bollinger) Ready() bool    { return b.sma.Ready() }

// Bands returns upper, middle and lower. All zero until ready.
func (b *Bollinger) Bands() (upper, middle, lower float64) {
	if !b.Ready() {
		return 0, 0, 0
	}
	middle = b.sma.Value()
	sd := b.StdDev()
	return middle + b.mult*sd, middle, middle - b.mult*sd
}

// StdDev returns the population standard deviation of the current window.
// Computed two-pass over the window so a flat series yields exactly 0.
func (b *Bollinger) StdDev() float64 {
	w := b.sma.Window()
	if len(w) == 0 {
		return 0
	}
	mean := 0.0
	for _, v := range w {
		mean += v
	}
	mean /= float64(len(w))

	variance := 0.0
	for _, v := range w {
		d := v - mean
		variance += d * d
	}
	return math.Sqrt(variance / float64(len(w)))
}

// Reset clears the window.
func (b *Bollinger) Reset() { b.sma.Reset() }
