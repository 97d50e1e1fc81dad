package decision

import (
	"fmt"
	"math"

	"perptrader/internal/indicator"
	"perptrader/internal/model"
)

// Engine is the per-bar decision state machine. It is a pure computation:
// Evaluate never mutates the supplied position and never blocks, so the
// orchestrator can run the decide/execute/commit sequence as one critical
// section over the position state.
type Engine struct {
	symbol string
	cfg    Config
	sizer  Sizer
}

// NewEngine creates a decision engine for one instrument.
func NewEngine(symbol string, cfg Config) *Engine {
	return &Engine{
		symbol: symbol,
		cfg:    cfg,
		sizer:  Sizer{RiskFraction: cfg.RiskFraction, MinOrderSize: cfg.MinOrderSize},
	}
}

// Evaluate runs one bar-close decision cycle.
//
// pos is the committed position state, nil when flat. Evaluate returns the
// action to execute (nil for no-op) together with the position state that
// becomes current once the action is confirmed. Rules run in fixed priority
// order; the first rule that fires wins and nothing else is evaluated this
// bar.
func (e *Engine) Evaluate(snap indicator.Snapshot, balance float64, pos *model.Position) (*Action, *model.Position, error) {
	if pos != nil {
		return e.managePosition(snap, balance, pos)
	}
	return e.tryEntry(snap, balance)
}

func (e *Engine) managePosition(snap indicator.Snapshot, balance float64, pos *model.Position) (*Action, *model.Position, error) {
	// 1. Flash take-profit: one-time 50% close on momentum extremity,
	// stop moved to breakeven.
	if !pos.PartialTpTaken {
		var reason string
		switch {
		case pos.Side == model.SideShort && snap.Momentum < e.cfg.OversoldLevel:
			reason = ReasonFlashTPOversold
		case pos.Side == model.SideLong && snap.Momentum > e.cfg.OverboughtLevel:
			reason = ReasonFlashTPOverbought
		}
		if reason != "" {
			next := pos.Clone()
			next.Size = pos.Size / 2
			next.PartialTpTaken = true
			next.StopPrice = pos.EntryPrice
			return &Action{
				Type:       ActionClosePartial,
				Side:       pos.Side,
				Percentage: 50,
				StopPrice:  pos.EntryPrice,
				Reason:     reason,
			}, next, nil
		}
	}

	// 2. Trend-break exit: close through the slow EMA ends the position.
	if (pos.Side == model.SideLong && snap.Close < snap.SlowAvg) ||
		(pos.Side == model.SideShort && snap.Close > snap.SlowAvg) {
		return &Action{
			Type:   ActionCloseAll,
			Side:   pos.Side,
			Reason: ReasonTrendBreak,
		}, nil, nil
	}

	// 3. Pyramiding: add half a base-risk layer to a winner, tightening
	// the stop toward price.
	distance := math.Abs(snap.Close - pos.EntryPrice)
	if pos.UnrealizedPnL(snap.Close) > 0 &&
		distance > e.cfg.PyramidStepATR*snap.Volatility &&
		pos.Layers < e.cfg.MaxLayers &&
		snap.DeviationPct < e.cfg.DeviationMaxPct {

		stopRef := pos.StopPrice
		if stopRef == 0 {
			stopRef = pos.EntryPrice
		}
		baseSize, err := e.sizer.Size(balance, pos.EntryPrice, stopRef)
		if err != nil {
			return nil, pos, fmt.Errorf("pyramid sizing: %w", err)
		}
		addSize := baseSize * 0.5

		next := pos.Clone()
		next.Layers++
		next.Size = pos.Size + addSize
		next.EntryPrice = (pos.EntryPrice*pos.Size + snap.Close*addSize) / next.Size
		next.StopPrice = e.trailStop(pos, snap)

		return &Action{
			Type:      ActionAddLayer,
			Side:      pos.Side,
			Size:      addSize,
			StopPrice: next.StopPrice,
			Reason:    ReasonPyramidLayer,
		}, next, nil
	}

	// 4. Hold.
	return nil, pos, nil
}

func (e *Engine) tryEntry(snap indicator.Snapshot, balance float64) (*Action, *model.Position, error) {
	// 1. Chop gate: too many price/fast-EMA crosses means sideways market.
	if snap.ChopCrosses >= e.cfg.ChopMaxCrosses {
		return nil, nil, nil
	}

	// 2. Long entry.
	if snap.SlowAvg > snap.MacroAvg &&
		snap.Close > snap.FastAvg &&
		snap.SlopePct > e.cfg.SlopeMinPct &&
		snap.Momentum < e.cfg.EntryOverboughtLvl &&
		snap.DeviationPct < e.cfg.DeviationMaxPct {
		return e.openPosition(model.SideLong, snap, balance, ReasonLongEntry)
	}

	// 3. Short entry: mutually exclusive with long by trend direction.
	if snap.SlowAvg < snap.MacroAvg &&
		snap.Close < snap.FastAvg &&
		snap.SlopePct < -e.cfg.SlopeMinPct &&
		snap.Momentum > e.cfg.EntryOversoldLvl &&
		snap.DeviationPct < e.cfg.DeviationMaxPct {
		return e.openPosition(model.SideShort, snap, balance, ReasonShortEntry)
	}

	// 4. Stay flat.
	return nil, nil, nil
}

func (e *Engine) openPosition(side model.Side, snap indicator.Snapshot, balance float64, reason string) (*Action, *model.Position, error) {
	stop := snap.Close - e.cfg.HardStopATR*snap.Volatility
	if side == model.SideShort {
		stop = snap.Close + e.cfg.HardStopATR*snap.Volatility
	}

	size, err := e.sizer.Size(balance, snap.Close, stop)
	if err != nil {
		return nil, nil, fmt.Errorf("entry sizing: %w", err)
	}

	next := &model.Position{
		Symbol:     e.symbol,
		Side:       side,
		EntryPrice: snap.Close,
		Size:       size,
		Layers:     1,
		StopPrice:  stop,
	}
	return &Action{
		Type:      ActionOpen,
		Side:      side,
		Size:      size,
		StopPrice: stop,
		Reason:    reason,
	}, next, nil
}

// trailStop returns the tightened stop for a pyramid add. Stops only move
// toward price, never away from it.
func (e *Engine) trailStop(pos *model.Position, snap indicator.Snapshot) float64 {
	if pos.Side == model.SideLong {
		ns := snap.Close - e.cfg.TrailStopATR*snap.Volatility
		if ns > pos.StopPrice {
			return ns
		}
		return pos.StopPrice
	}
	ns := snap.Close + e.cfg.TrailStopATR*snap.Volatility
	if pos.StopPrice == 0 || ns < pos.StopPrice {
		return ns
	}
	return pos.StopPrice
}
