package indicator

// emaSeries computes the EMA of closes for the given period.
// The value at index period-1 is seeded with the SMA of the first period
// closes; later values follow the standard recurrence with factor 2/(p+1).
// Indexes before the seed hold 0 and must not be read.
func emaSeries(closes []float64, period int) []float64 {
	out := make([]float64, len(closes))
	if len(closes) < period {
		return out
	}

	var sum float64
	for _, c := range closes[:period] {
		sum += c
	}
	out[period-1] = sum / float64(period)

	multiplier := 2.0 / float64(period+1)
	for i := period; i < len(closes); i++ {
		out[i] = closes[i]*multiplier + out[i-1]*(1-multiplier)
	}
	return out
}
