package model

// Side is the direction of an open position.
type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

// Opposite returns the closing direction for this side.
func (s Side) Opposite() Side {
	if s == SideLong {
		return SideShort
	}
	return SideLong
}

// Position is the authoritative record of one open position.
// EntryPrice is the size-weighted average across all pyramid layers.
// Size is notional in quote currency (USDT).
type Position struct {
	Symbol         string  `json:"symbol"`
	Side           Side    `json:"side"`
	EntryPrice     float64 `json:"entry_price"`
	Size           float64 `json:"size"`
	Layers         int     `json:"layers"`
	StopPrice      float64 `json:"stop_price"`
	PartialTpTaken bool    `json:"partial_tp_taken"`
}

// UnrealizedPnL computes unrealized profit/loss in quote currency against
// the given mark price. Not stored; recomputed each evaluation.
func (p *Position) UnrealizedPnL(markPrice float64) float64 {
	if p.EntryPrice == 0 {
		return 0
	}
	qty := p.Size / p.EntryPrice
	if p.Side == SideLong {
		return (markPrice - p.EntryPrice) * qty
	}
	return (p.EntryPrice - markPrice) * qty
}

// Clone returns an independent copy, used by the evaluate/commit protocol
// so a proposed transition never aliases the committed state.
func (p *Position) Clone() *Position {
	if p == nil {
		return nil
	}
	cp := *p
	return &cp
}
