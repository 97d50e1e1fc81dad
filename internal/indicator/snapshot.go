package indicator

import (
	"math"
	"time"

	"perptrader/internal/model"
)

// Snapshot is the derived view of one bar close that the decision engine
// consumes. All fields are recomputed from the bar window on every call.
type Snapshot struct {
	TS    time.Time `json:"ts"`    // close time of the evaluated bar
	Close float64   `json:"close"` // last completed close

	FastAvg  float64 `json:"fast_avg"`
	SlowAvg  float64 `json:"slow_avg"`
	MacroAvg float64 `json:"macro_avg"`

	Volatility float64 `json:"volatility"` // ATR
	Momentum   float64 `json:"momentum"`   // RSI, [0,100]

	SlopePct     float64 `json:"slope_pct"`     // fast EMA % change over one bar
	DeviationPct float64 `json:"deviation_pct"` // |close-fastAvg|/fastAvg %
	ChopCrosses  int     `json:"chop_crosses"`  // close/fastAvg sign flips in lookback
}

// Compute derives a Snapshot from the bar history, oldest first with the
// last element being the most recent completed bar.
//
// Fails with ErrInsufficientHistory when the window is shorter than
// cfg.MinBars(), and with ErrDivisionByZero when a ratio divisor (previous
// fast EMA, current fast EMA) is exactly zero.
func Compute(bars []model.Bar, cfg Config) (Snapshot, error) {
	if len(bars) < cfg.MinBars() {
		return Snapshot{}, ErrInsufficientHistory
	}

	closes := make([]float64, len(bars))
	for i, b := range bars {
		closes[i] = b.Close
	}
	last := len(closes) - 1

	fastSeries := emaSeries(closes, cfg.FastPeriod)
	fastAvg := fastSeries[last]
	prevFast := fastSeries[last-1]
	slowAvg := emaSeries(closes, cfg.SlowPeriod)[last]
	macroAvg := emaSeries(closes, cfg.MacroPeriod)[last]

	if prevFast == 0 || fastAvg == 0 {
		return Snapshot{}, ErrDivisionByZero
	}

	snap := Snapshot{
		TS:           bars[last].TS,
		Close:        closes[last],
		FastAvg:      fastAvg,
		SlowAvg:      slowAvg,
		MacroAvg:     macroAvg,
		Volatility:   atr(bars, cfg.VolatilityPeriod),
		Momentum:     rsi(closes, cfg.MomentumPeriod),
		SlopePct:     (fastAvg - prevFast) / prevFast * 100,
		DeviationPct: math.Abs(closes[last]-fastAvg) / fastAvg * 100,
		ChopCrosses:  countCrosses(closes, fastSeries, cfg.ChopLookback, cfg.FastPeriod),
	}
	return snap, nil
}

// countCrosses counts, over the last lookback bars, how often the sign of
// (close - fastAvg) flips between consecutive bars. A flip that passes
// through exact equality still counts as a cross.
func countCrosses(closes, fastSeries []float64, lookback, fastPeriod int) int {
	start := len(closes) - lookback + 1
	// The EMA series is undefined before its seed index.
	if start < fastPeriod {
		start = fastPeriod
	}

	crosses := 0
	for i := start; i < len(closes); i++ {
		prevDiff := closes[i-1] - fastSeries[i-1]
		currDiff := closes[i] - fastSeries[i]
		if (prevDiff <= 0 && currDiff > 0) || (prevDiff >= 0 && currDiff < 0) {
			crosses++
		}
	}
	return crosses
}
