package indicator

import (
	"math"

	"perptrader/internal/model"
)

// atr computes the Average True Range as the simple mean of the last period
// true ranges. Requires len(bars) >= period+1 because each true range needs
// the previous close.
func atr(bars []model.Bar, period int) float64 {
	var sum float64
	start := len(bars) - period
	for i := start; i < len(bars); i++ {
		sum += trueRange(bars[i], bars[i-1].Close)
	}
	return sum / float64(period)
}

// trueRange = max(high-low, |high-prevClose|, |low-prevClose|).
func trueRange(b model.Bar, prevClose float64) float64 {
	tr := b.High - b.Low
	if hc := math.Abs(b.High - prevClose); hc > tr {
		tr = hc
	}
	if lc := math.Abs(b.Low - prevClose); lc > tr {
		tr = lc
	}
	return tr
}
