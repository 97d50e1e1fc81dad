package trader

import (
	"context"
	"io"
	"log/slog"
	"math"
	"testing"
	"time"

	"perptrader/internal/decision"
	"perptrader/internal/exchange"
	"perptrader/internal/indicator"
	"perptrader/internal/model"
)

// ────────────────────────────────────────────────────────────
// Fixtures
// ────────────────────────────────────────────────────────────

// testStrategy disables the momentum and chop filters so a plain uptrend
// or downtrend in the bar fixture deterministically drives the engine.
func testStrategy() decision.Config {
	return decision.Config{
		RiskFraction:       0.03,
		MinOrderSize:       10,
		MaxLayers:          3,
		PyramidStepATR:     1.5,
		HardStopATR:        2.0,
		TrailStopATR:       2.0,
		SlopeMinPct:        0.01,
		DeviationMaxPct:    50,
		ChopMaxCrosses:     99,
		OverboughtLevel:    101,
		OversoldLevel:      -1,
		EntryOverboughtLvl: 101,
		EntryOversoldLvl:   -1,
	}
}

func testIndicator() indicator.Config {
	return indicator.Config{
		FastPeriod:       3,
		SlowPeriod:       5,
		MacroPeriod:      6,
		VolatilityPeriod: 3,
		MomentumPeriod:   3,
		ChopLookback:     5,
	}
}

func testService(t *testing.T, paper *exchange.Paper) *Service {
	t.Helper()
	lg := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(Config{
		Symbol:               "ETHUSDT",
		Timeframe:            "1h",
		Leverage:             5,
		HistoryBars:          7,
		MaxDailyLossFraction: 0.10,
		Indicator:            testIndicator(),
		Strategy:             testStrategy(),
	}, Deps{Exchange: paper}, lg)
}

func fixtureBars(closes []float64) []model.Bar {
	bars := make([]model.Bar, len(closes))
	for i, c := range closes {
		bars[i] = model.Bar{
			Symbol: "ETHUSDT",
			TS:     time.Unix(int64(i+1)*3600, 0).UTC(),
			Open:   c, High: c + 2, Low: c - 2, Close: c,
		}
	}
	return bars
}

// uptrendCloses satisfies every long-entry condition under testStrategy.
func uptrendCloses() []float64 {
	return []float64{100, 102, 101, 104, 106, 105, 108}
}

func nextBar(bars []model.Bar, close float64) model.Bar {
	last := bars[len(bars)-1]
	return model.Bar{
		Symbol: last.Symbol,
		TS:     last.TS.Add(time.Hour),
		Open:   close, High: close + 2, Low: close - 2, Close: close,
	}
}

// ────────────────────────────────────────────────────────────
// Decide → execute → commit
// ────────────────────────────────────────────────────────────

func TestEvaluateBar_OpensPosition(t *testing.T) {
	paper := exchange.NewPaper("ETHUSDT", 1000)
	paper.SetBars(fixtureBars(uptrendCloses()))
	svc := testService(t, paper)

	svc.evaluateBar(context.Background())

	pos := svc.Position()
	if pos == nil || pos.Side != model.SideLong || pos.Layers != 1 {
		t.Fatalf("expected committed long position, got %+v", pos)
	}
	if pos.StopPrice >= pos.EntryPrice {
		t.Errorf("long stop %v must sit below entry %v", pos.StopPrice, pos.EntryPrice)
	}

	fills := paper.Fills()
	if len(fills) != 1 || fills[0].Side != model.SideLong {
		t.Fatalf("expected one long fill, got %+v", fills)
	}

	// The protective stop reached the exchange as well.
	exchPos, _ := paper.GetOpenPosition(context.Background(), "ETHUSDT")
	if math.Abs(exchPos.StopPrice-pos.StopPrice) > 0.0001 {
		t.Errorf("exchange stop %v != committed stop %v", exchPos.StopPrice, pos.StopPrice)
	}
}

func TestEvaluateBar_DuplicateBarIsIgnored(t *testing.T) {
	paper := exchange.NewPaper("ETHUSDT", 1000)
	paper.SetBars(fixtureBars(uptrendCloses()))
	svc := testService(t, paper)

	svc.evaluateBar(context.Background())
	svc.evaluateBar(context.Background()) // same completed bar

	if fills := paper.Fills(); len(fills) != 1 {
		t.Fatalf("duplicate trigger must not act twice, got %d fills", len(fills))
	}
}

func TestEvaluateBar_RollbackOnRejectedOrder(t *testing.T) {
	paper := exchange.NewPaper("ETHUSDT", 1000)
	bars := fixtureBars(uptrendCloses())
	paper.SetBars(bars)
	svc := testService(t, paper)

	paper.FailNext = true
	svc.evaluateBar(context.Background())

	if pos := svc.Position(); pos != nil {
		t.Fatalf("rejected order must not commit state, got %+v", pos)
	}
	if fills := paper.Fills(); len(fills) != 0 {
		t.Fatalf("rejected order must not fill, got %+v", fills)
	}

	// The failed bar is consumed, not retried.
	svc.evaluateBar(context.Background())
	if fills := paper.Fills(); len(fills) != 0 {
		t.Fatal("failed bar must not be retried on a duplicate trigger")
	}

	// A fresh bar with the trend intact re-enters cleanly.
	paper.AppendBar(nextBar(bars, 110))
	svc.evaluateBar(context.Background())
	if pos := svc.Position(); pos == nil || pos.Side != model.SideLong {
		t.Fatalf("expected entry on the next bar, got %+v", pos)
	}
}

func TestEvaluateBar_TrendBreakRealizesPnL(t *testing.T) {
	// Declining series whose last close sits under the slow average.
	paper := exchange.NewPaper("ETHUSDT", 1000)
	bars := fixtureBars([]float64{108, 105, 106, 104, 102, 103, 100})
	paper.SetBars(bars)

	open := &model.Position{
		Symbol: "ETHUSDT", Side: model.SideLong,
		EntryPrice: 104, Size: 1000, Layers: 1, StopPrice: 95,
	}
	paper.SetPosition(open)
	svc := testService(t, paper)
	svc.setPos(open.Clone())

	svc.evaluateBar(context.Background())

	if pos := svc.Position(); pos != nil {
		t.Fatalf("trend break must flatten, got %+v", pos)
	}
	fills := paper.Fills()
	if len(fills) != 1 || fills[0].Reason != decision.ReasonTrendBreak {
		t.Fatalf("expected one trend-break fill, got %+v", fills)
	}

	// Realized on the full notional at the last close:
	// (100 - 104) * (1000/104) = -38.4615
	if got := svc.DailyPnL(); math.Abs(got-(-38.4615)) > 0.001 {
		t.Errorf("daily P&L: got %.4f, want -38.4615", got)
	}
}

// ────────────────────────────────────────────────────────────
// Position sync and reconciliation
// ────────────────────────────────────────────────────────────

func TestEvaluateBar_StopOutSettlesRealized(t *testing.T) {
	paper := exchange.NewPaper("ETHUSDT", 1000)
	bars := fixtureBars(uptrendCloses())
	paper.SetBars(bars)
	svc := testService(t, paper)

	svc.evaluateBar(context.Background())
	if svc.Position() == nil {
		t.Fatal("setup: expected an open position")
	}
	entry := svc.Position().EntryPrice
	stop := svc.Position().StopPrice

	// The stop triggers on the exchange between bar closes.
	paper.SetPosition(nil)
	paper.AppendBar(nextBar(bars, 100)) // slope turns, no immediate re-entry

	svc.evaluateBar(context.Background())

	if pos := svc.Position(); pos != nil {
		t.Fatalf("stop-out must flatten local state, got %+v", pos)
	}
	if got := svc.DailyPnL(); got >= 0 {
		t.Errorf("stop-out below entry %v (stop %v) must realize a loss, got %v", entry, stop, got)
	}
}

func TestEvaluateBar_AdoptsExternalPosition(t *testing.T) {
	paper := exchange.NewPaper("ETHUSDT", 1000)
	paper.SetBars(fixtureBars(uptrendCloses()))
	// Position opened outside the engine, entry near the current close so
	// no management rule fires on adoption.
	paper.SetPosition(&model.Position{
		Symbol: "ETHUSDT", Side: model.SideLong,
		EntryPrice: 107.9, Size: 500, Layers: 1,
	})
	svc := testService(t, paper)

	svc.evaluateBar(context.Background())

	pos := svc.Position()
	if pos == nil || pos.Side != model.SideLong {
		t.Fatalf("expected adopted long position, got %+v", pos)
	}
	if math.Abs(pos.EntryPrice-107.9) > 0.0001 {
		t.Errorf("adopted entry: got %v, want 107.9", pos.EntryPrice)
	}
	if len(paper.Fills()) != 0 {
		t.Error("adoption must not place orders")
	}
}

func TestReconcile_AdoptsExchangePosition(t *testing.T) {
	paper := exchange.NewPaper("ETHUSDT", 1000)
	paper.SetBars(fixtureBars(uptrendCloses()))
	paper.SetPosition(&model.Position{
		Symbol: "ETHUSDT", Side: model.SideShort,
		EntryPrice: 110, Size: 300, Layers: 1,
	})
	svc := testService(t, paper)

	if err := svc.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	pos := svc.Position()
	if pos == nil || pos.Side != model.SideShort {
		t.Fatalf("expected adopted short position, got %+v", pos)
	}
}

func TestReconcile_FlatWhenExchangeFlat(t *testing.T) {
	paper := exchange.NewPaper("ETHUSDT", 1000)
	svc := testService(t, paper)

	if err := svc.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if pos := svc.Position(); pos != nil {
		t.Fatalf("expected flat state, got %+v", pos)
	}
}

// ────────────────────────────────────────────────────────────
// Input validation
// ────────────────────────────────────────────────────────────

func TestEvaluateBar_RejectsUnorderedHistory(t *testing.T) {
	paper := exchange.NewPaper("ETHUSDT", 1000)
	bars := fixtureBars(uptrendCloses())
	bars[3].TS = bars[2].TS // duplicate timestamp
	paper.SetBars(bars)
	svc := testService(t, paper)

	svc.evaluateBar(context.Background())

	if pos := svc.Position(); pos != nil {
		t.Fatalf("unordered history must not trade, got %+v", pos)
	}
	if len(paper.Fills()) != 0 {
		t.Error("unordered history must not place orders")
	}
}

func TestEvaluateBar_SkipsInsufficientHistory(t *testing.T) {
	paper := exchange.NewPaper("ETHUSDT", 1000)
	paper.SetBars(fixtureBars([]float64{100, 102, 101})) // < MinBars
	svc := testService(t, paper)

	svc.evaluateBar(context.Background())

	if len(paper.Fills()) != 0 {
		t.Error("short history must not place orders")
	}
}

// ────────────────────────────────────────────────────────────
// Helpers
// ────────────────────────────────────────────────────────────

func TestRoundQty(t *testing.T) {
	cases := []struct{ in, want float64 }{
		{3.4619, 3.461}, // floors, never rounds up
		{0.0009, 0},
		{1.0, 1.0},
	}
	for _, tc := range cases {
		if got := roundQty(tc.in); math.Abs(got-tc.want) > 1e-9 {
			t.Errorf("roundQty(%v) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestPriceClose(t *testing.T) {
	if !priceClose(100.05, 100.0) {
		t.Error("0.05% apart must count as the same position")
	}
	if priceClose(101, 100) {
		t.Error("1% apart must not count as the same position")
	}
	if !priceClose(0, 0) {
		t.Error("two zero prices are equal")
	}
}
