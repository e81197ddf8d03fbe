package indicator

// RSI calculates the Relative Strength Index using Wilder's smoothing method:
// gains and losses are each smoothed by an SMMA(period) seeded with a simple
// average. Needs period+1 closes. Update is O(1) per price.
type RSI struct {
	period    int
	started   bool
	prevClose float64
	gains     *SMMA
	losses    *SMMA
	current   float64
}

// NewRSI creates a new RSI indicator with the given period (typically 14).
func NewRSI(period int) *RSI {
	if period < 1 {
		period = 1
	}
	return &RSI{
		period: period,
		gains:  NewSMMA(period),
		losses: NewSMMA(period),
	}
}

func (r *RSI) Update(price float64) {
	if !r.started {
		// First close: no delta yet
		r.started = true
		r.prevClose = price
		return
	}

	delta := price - r.prevClose
	r.prevClose = price

	gain, loss := 0.0, 0.0
	if delta > 0 {
		gain = delta
	} else {
		loss = -delta
	}
	r.gains.Update(gain)
	r.losses.Update(loss)

	if r.gains.Ready() {
		r.current = rsiValue(r.gains.Value(), r.losses.Value())
	}
}

// rsiValue maps smoothed averages to 0..100. A flat series reads as neutral 50.
func rsiValue(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		if avgGain == 0 {
			return 50.0
		}
		return 100.0
	}
	rs := avgGain / avgLoss
	return 100.0 - (100.0 / (1.0 + rs))
}

func (r *RSI) Value() float64 { return r.current }
func (r *RSI) Ready() bool    { return r.gains.Ready() }

// Reset clears the RSI state for reuse.
func (r *RSI) Reset() {
	r.started = false
	r.prevClose = 0
	r.current = 0
	r.gains.Reset()
	r.losses.Reset()
}
