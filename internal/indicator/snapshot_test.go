package indicator

import (
	"errors"
	"math"
	"testing"
	"time"

	"perptrader/internal/model"
)

// ────────────────────────────────────────────────────────────
// Helpers
// ────────────────────────────────────────────────────────────

func testBar(i int, close float64) model.Bar {
	return model.Bar{
		Symbol: "TEST",
		TS:     time.Unix(int64(i)*3600, 0).UTC(),
		Open:   close,
		High:   close + 2,
		Low:    close - 2,
		Close:  close,
	}
}

func testBars(closes []float64) []model.Bar {
	bars := make([]model.Bar, len(closes))
	for i, c := range closes {
		bars[i] = testBar(i, c)
	}
	return bars
}

func assertClose(t *testing.T, label string, got, want, tol float64) {
	t.Helper()
	if math.Abs(got-want) > tol {
		t.Errorf("%s: got %.6f, want %.6f (tol=%.6f, diff=%.6f)", label, got, want, tol, math.Abs(got-want))
	}
}

// smallConfig keeps hand calculations tractable. MinBars = 7.
func smallConfig() Config {
	return Config{
		FastPeriod:       3,
		SlowPeriod:       5,
		MacroPeriod:      6,
		VolatilityPeriod: 3,
		MomentumPeriod:   3,
		ChopLookback:     5,
	}
}

// ────────────────────────────────────────────────────────────
// EMA Correctness
// ────────────────────────────────────────────────────────────

func TestEMASeries_Correctness_Period3(t *testing.T) {
	// Hand-calculated EMA(3), multiplier = 2/4 = 0.5:
	// Closes:         100, 102, 101, 104,   106,    105,     108
	// Seed (SMA3):              101.0
	// Then: 104*0.5 + 101*0.5       = 102.5
	//       106*0.5 + 102.5*0.5     = 104.25
	//       105*0.5 + 104.25*0.5    = 104.625
	//       108*0.5 + 104.625*0.5   = 106.3125
	closes := []float64{100, 102, 101, 104, 106, 105, 108}
	got := emaSeries(closes, 3)
	want := []float64{0, 0, 101.0, 102.5, 104.25, 104.625, 106.3125}

	for i := 2; i < len(closes); i++ {
		assertClose(t, "EMA(3)", got[i], want[i], 0.0001)
	}
}

func TestEMASeries_ShortInput(t *testing.T) {
	got := emaSeries([]float64{100, 101}, 3)
	for i, v := range got {
		if v != 0 {
			t.Errorf("index %d: expected 0 for undersized input, got %v", i, v)
		}
	}
}

// ────────────────────────────────────────────────────────────
// RSI Correctness
// ────────────────────────────────────────────────────────────

func TestRSI_Correctness(t *testing.T) {
	// Deltas: +2, -1, +3, +2, -1, +3 with period 3.
	// Seed: avgGain=(2+3)/3=1.6667, avgLoss=1/3=0.3333
	// Wilder over the remaining deltas gives avgGain=1.790123,
	// avgLoss=0.320988, RSI = 100 - 100/(1+rs) = 84.7953.
	closes := []float64{100, 102, 101, 104, 106, 105, 108}
	assertClose(t, "RSI(3)", rsi(closes, 3), 84.7953, 0.001)
}

func TestRSI_Saturation(t *testing.T) {
	// Monotone rise: average loss is zero, RSI saturates at 100.
	up := []float64{100, 101, 102, 103, 104}
	assertClose(t, "RSI all gains", rsi(up, 3), 100.0, 0.0001)

	// Monotone fall: average gain is zero, RSI saturates at 0.
	down := []float64{104, 103, 102, 101, 100}
	assertClose(t, "RSI all losses", rsi(down, 3), 0.0, 0.0001)
}

// ────────────────────────────────────────────────────────────
// ATR Correctness
// ────────────────────────────────────────────────────────────

func TestATR_Correctness(t *testing.T) {
	// High = close+2, low = close-2, so the base range is 4 and the true
	// range only widens when the gap from the previous close exceeds 2.
	// Closes: 100, 102, 101, 104, 106, 105, 108
	// TRs:          4,   4,   5,   4,   4,   5 (gap bars: |104-2-101|=5 etc.)
	// ATR(3) over the last three = (4+4+5)/3 = 4.3333
	bars := testBars([]float64{100, 102, 101, 104, 106, 105, 108})
	assertClose(t, "ATR(3)", atr(bars, 3), 4.3333, 0.001)
}

func TestTrueRange_GapDominates(t *testing.T) {
	// Gap down: |low - prevClose| exceeds high-low.
	b := model.Bar{High: 95, Low: 92, Close: 93}
	assertClose(t, "gap TR", trueRange(b, 100), 8.0, 0.0001)
}

// ────────────────────────────────────────────────────────────
// Snapshot
// ────────────────────────────────────────────────────────────

func TestCompute_Correctness(t *testing.T) {
	closes := []float64{100, 102, 101, 104, 106, 105, 108}
	bars := testBars(closes)

	snap, err := Compute(bars, smallConfig())
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}

	assertClose(t, "FastAvg", snap.FastAvg, 106.3125, 0.0001)
	assertClose(t, "SlowAvg", snap.SlowAvg, 104.9333, 0.001)
	assertClose(t, "MacroAvg", snap.MacroAvg, 104.4286, 0.001)
	assertClose(t, "Volatility", snap.Volatility, 4.3333, 0.001)
	assertClose(t, "Momentum", snap.Momentum, 84.7953, 0.001)

	// Slope: (106.3125 - 104.625) / 104.625 * 100 = 1.6129%
	assertClose(t, "SlopePct", snap.SlopePct, 1.6129, 0.001)
	// Deviation: |108 - 106.3125| / 106.3125 * 100 = 1.5873%
	assertClose(t, "DeviationPct", snap.DeviationPct, 1.5873, 0.001)

	if snap.Close != 108 {
		t.Errorf("Close: got %v, want 108", snap.Close)
	}
	if !snap.TS.Equal(bars[len(bars)-1].TS) {
		t.Errorf("TS: got %v, want last bar TS", snap.TS)
	}
}

func TestCompute_InsufficientHistory(t *testing.T) {
	bars := testBars([]float64{100, 102, 101, 104, 106, 105}) // 6 < MinBars 7
	_, err := Compute(bars, smallConfig())
	if !errors.Is(err, ErrInsufficientHistory) {
		t.Fatalf("expected ErrInsufficientHistory, got %v", err)
	}
}

func TestCompute_DivisionByZero(t *testing.T) {
	// An all-zero series yields a zero fast EMA, which must surface as a
	// data fault rather than feed NaN ratios downstream.
	bars := testBars(make([]float64, 8))
	_, err := Compute(bars, smallConfig())
	if !errors.Is(err, ErrDivisionByZero) {
		t.Fatalf("expected ErrDivisionByZero, got %v", err)
	}
}

func TestMinBars(t *testing.T) {
	if got := DefaultConfig().MinBars(); got != 90 {
		t.Errorf("default MinBars: got %d, want 90 (macro 89 + 1)", got)
	}
	if got := smallConfig().MinBars(); got != 7 {
		t.Errorf("small MinBars: got %d, want 7", got)
	}
}

// ────────────────────────────────────────────────────────────
// Chop detection
// ────────────────────────────────────────────────────────────

func TestCountCrosses(t *testing.T) {
	// Synthetic series with a flat reference line at 100: closes whipsaw
	// above and below it, flipping sign on every bar.
	closes := []float64{100, 100, 100, 103, 97, 103, 97, 103}
	flat := []float64{100, 100, 100, 100, 100, 100, 100, 100}

	// Lookback 6 with fast period 3: scan starts at index 3.
	// Diffs: 0, +3, -3, +3, -3, +3 → five sign flips.
	if got := countCrosses(closes, flat, 6, 3); got != 5 {
		t.Errorf("whipsaw crosses: got %d, want 5", got)
	}

	// Price stays above the line: no crosses.
	trending := []float64{101, 102, 103, 104, 105, 106, 107, 108}
	if got := countCrosses(trending, flat, 6, 3); got != 0 {
		t.Errorf("trending crosses: got %d, want 0", got)
	}
}

func TestCountCrosses_TouchCountsAsCross(t *testing.T) {
	// A bar that lands exactly on the reference line and then breaks out
	// still registers: prevDiff == 0 satisfies the crossing condition.
	closes := []float64{100, 100, 100, 100, 103}
	flat := []float64{100, 100, 100, 100, 100}
	if got := countCrosses(closes, flat, 5, 3); got != 1 {
		t.Errorf("touch-then-break crosses: got %d, want 1", got)
	}
}
