package indicator

import "goldscalper/internal/model"

// ATR calculates Average True Range with Wilder smoothing.
// The first bar only seeds the previous close; the first value is the simple
// average of `period` true ranges, then ATR = (prev*(period-1) + TR) / period.
// Values are in points.
type ATR struct {
	period    int
	count     int
	prevClose float64
	sum       float64
	current   float64
}

// NewATR creates a new ATR indicator with the given period.
func NewATR(period int) *ATR {
	return &ATR{period: period}
}

func (a *ATR) Name() string { return "ATR" }

func (a *ATR) Update(bar model.PriceBar) {
	high, low, closePrice := float64(bar.High), float64(bar.Low), float64(bar.Close)
	a.count++

	if a.count == 1 {
		a.prevClose = closePrice
		return
	}

	tr := trueRange(high, low, a.prevClose)
	a.prevClose = closePrice

	if a.count <= a.period+1 {
		// Accumulate for initial SMA seed
		a.sum += tr
		if a.count == a.period+1 {
			a.current = a.sum / float64(a.period)
		}
		return
	}

	a.current = (a.current*float64(a.period-1) + tr) / float64(a.period)
}

func (a *ATR) Value() float64 { return a.current }
func (a *ATR) Ready() bool    { return a.count > a.period }

func trueRange(high, low, prevClose float64) float64 {
	tr := high - low
	if d := high - prevClose; d > tr {
		tr = d
	}
	if d := prevClose - low; d > tr {
		tr = d
	}
	return tr
}
