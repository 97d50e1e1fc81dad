package decision

import (
	"errors"
	"math"
)

// ErrInvalidStopDistance means entry and stop coincide (or entry is zero),
// so the risk-per-distance sizing formula is degenerate. The entry attempt
// is aborted; no order is placed.
var ErrInvalidStopDistance = errors.New("decision: invalid stop distance")

// Sizer converts account risk into order notional.
type Sizer struct {
	RiskFraction float64
	MinOrderSize float64
}

// Size returns the order notional for a trade entered at entryPrice with a
// protective stop at stopPrice: (balance*riskFraction / |entry-stop|) * entry,
// floored at MinOrderSize.
//
// The floor deliberately increases effective risk beyond RiskFraction when
// the raw size is small; callers must not assume the nominal risk fraction
// is respected exactly.
func (s Sizer) Size(balance, entryPrice, stopPrice float64) (float64, error) {
	dist := math.Abs(entryPrice - stopPrice)
	if dist == 0 || entryPrice == 0 {
		return 0, ErrInvalidStopDistance
	}

	riskAmt := balance * s.RiskFraction
	rawSize := (riskAmt / dist) * entryPrice
	if rawSize < s.MinOrderSize {
		return s.MinOrderSize, nil
	}
	return rawSize, nil
}
