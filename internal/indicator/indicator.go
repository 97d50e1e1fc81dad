// Package indicator computes the per-bar technical snapshot the decision
// engine consumes: trend EMAs, ATR volatility, RSI momentum, fast-EMA slope,
// price deviation, and a sideways-market cross count.
//
// Compute is a pure function of the bar window: no state is carried between
// bar closes, so a restart can never desynchronize indicator values from the
// exchange's candle history.
package indicator

import "errors"

var (
	// ErrInsufficientHistory means the bar window is too short for one or
	// more configured periods. The caller must skip the evaluation.
	ErrInsufficientHistory = errors.New("indicator: insufficient bar history")

	// ErrDivisionByZero means a reference average was exactly zero. Treated
	// as a data-quality fault, never as a trading signal.
	ErrDivisionByZero = errors.New("indicator: division by zero")
)

// Config holds the indicator period lengths. Fast < Slow < Macro.
type Config struct {
	FastPeriod       int `json:"fast_period"`
	SlowPeriod       int `json:"slow_period"`
	MacroPeriod      int `json:"macro_period"`
	VolatilityPeriod int `json:"volatility_period"` // ATR
	MomentumPeriod   int `json:"momentum_period"`   // RSI
	ChopLookback     int `json:"chop_lookback"`
}

// DefaultConfig returns the stock parameter set (7/25/89 EMAs, 14 ATR/RSI,
// 24-bar chop lookback).
func DefaultConfig() Config {
	return Config{
		FastPeriod:       7,
		SlowPeriod:       25,
		MacroPeriod:      89,
		VolatilityPeriod: 14,
		MomentumPeriod:   14,
		ChopLookback:     24,
	}
}

// MinBars returns the minimum history length Compute requires.
func (c Config) MinBars() int {
	n := c.FastPeriod
	for _, p := range []int{c.SlowPeriod, c.MacroPeriod, c.VolatilityPeriod, c.MomentumPeriod, c.ChopLookback} {
		if p > n {
			n = p
		}
	}
	return n + 1
}
