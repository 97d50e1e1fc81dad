package exchange

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"perptrader/internal/model"
	"perptrader/internal/ringbuf"
)

// ErrOrderRejected is returned by the paper exchange when a simulated
// rejection has been armed via FailNext.
var ErrOrderRejected = errors.New("exchange: order rejected")

// Fill records one simulated execution.
type Fill struct {
	Time   time.Time  `json:"time"`
	Side   model.Side `json:"side"`
	Qty    float64    `json:"qty"`
	Price  float64    `json:"price"`
	Reason string     `json:"reason,omitempty"`
}

// Paper is an in-memory exchange used for dry-run mode and tests. It fills
// every order at the latest bar close with optional slippage and settles
// realized P&L into the balance.
type Paper struct {
	mu sync.Mutex

	symbol      string
	balance     float64
	hist        *ringbuf.Window
	pos         *model.Position
	leverage    int
	slippageBps float64

	fills []Fill

	// FailNext makes the next order-placing call fail, simulating an
	// exchange rejection. Reset after one use.
	FailNext bool
}

// NewPaper creates a paper exchange with a starting quote balance.
func NewPaper(symbol string, balance float64) *Paper {
	return &Paper{
		symbol:  symbol,
		balance: balance,
		hist:    ringbuf.New(512),
		fills:   make([]Fill, 0, 64),
	}
}

// SetSlippageBps configures simulated slippage in basis points.
func (p *Paper) SetSlippageBps(bps float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.slippageBps = bps
}

// AppendBar adds a completed bar; its close becomes the mark price.
func (p *Paper) AppendBar(bar model.Bar) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.hist.Push(bar)
}

// SetBars replaces the bar history.
func (p *Paper) SetBars(bars []model.Bar) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.hist.Reset()
	for _, b := range bars {
		p.hist.Push(b)
	}
}

// SetPosition seeds an open position (ground truth for reconciliation tests).
func (p *Paper) SetPosition(pos *model.Position) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pos = pos.Clone()
}

// Fills returns a snapshot of all simulated fills.
func (p *Paper) Fills() []Fill {
	p.mu.Lock()
	defer p.mu.Unlock()
	cp := make([]Fill, len(p.fills))
	copy(cp, p.fills)
	return cp
}

func (p *Paper) GetBarHistory(ctx context.Context, symbol, timeframe string, count int) ([]model.Bar, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.hist.Last(count), nil
}

func (p *Paper) GetBalance(ctx context.Context) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.balance, nil
}

func (p *Paper) GetOpenPosition(ctx context.Context, symbol string) (*model.Position, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pos.Clone(), nil
}

func (p *Paper) ExecuteMarketOrder(ctx context.Context, symbol string, side model.Side, qty float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.FailNext {
		p.FailNext = false
		return ErrOrderRejected
	}
	if qty <= 0 {
		return fmt.Errorf("exchange: non-positive qty %f", qty)
	}

	price := p.fillPrice(side)
	if price == 0 {
		return fmt.Errorf("exchange: no bars loaded, cannot price fill")
	}

	switch {
	case p.pos == nil:
		p.pos = &model.Position{
			Symbol:     symbol,
			Side:       side,
			EntryPrice: price,
			Size:       qty * price,
			Layers:     1,
		}
	case p.pos.Side == side:
		// Scale-in: size-weighted average entry.
		add := qty * price
		p.pos.EntryPrice = (p.pos.EntryPrice*p.pos.Size + price*add) / (p.pos.Size + add)
		p.pos.Size += add
		p.pos.Layers++
	default:
		return fmt.Errorf("exchange: opposing market order on open %s position, use ClosePosition", p.pos.Side)
	}

	p.record(Fill{Time: time.Now().UTC(), Side: side, Qty: qty, Price: price})
	return nil
}

func (p *Paper) ClosePosition(ctx context.Context, symbol string, percentage float64, reason string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.FailNext {
		p.FailNext = false
		return ErrOrderRejected
	}
	if p.pos == nil {
		return fmt.Errorf("exchange: no open position on %s to close", symbol)
	}

	price := p.fillPrice(p.pos.Side.Opposite())
	closedNotional := p.pos.Size * percentage / 100
	qty := closedNotional / p.pos.EntryPrice

	// Settle realized P&L on the closed slice.
	var pnl float64
	if p.pos.Side == model.SideLong {
		pnl = (price - p.pos.EntryPrice) * qty
	} else {
		pnl = (p.pos.EntryPrice - price) * qty
	}
	p.balance += pnl

	p.record(Fill{Time: time.Now().UTC(), Side: p.pos.Side.Opposite(), Qty: qty, Price: price, Reason: reason})

	if percentage >= 100 {
		p.pos = nil
	} else {
		p.pos.Size -= closedNotional
	}
	return nil
}

func (p *Paper) UpdateStopLoss(ctx context.Context, symbol string, side model.Side, price float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.FailNext {
		p.FailNext = false
		return ErrOrderRejected
	}
	if p.pos != nil {
		p.pos.StopPrice = price
	}
	return nil
}

func (p *Paper) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.leverage = leverage
	log.Printf("[paper] leverage set to %dx for %s", leverage, symbol)
	return nil
}

// fillPrice is the latest close adjusted for slippage in the adverse
// direction for the taker.
func (p *Paper) fillPrice(side model.Side) float64 {
	last, ok := p.hist.Latest()
	if !ok {
		return 0
	}
	price := last.Close
	slip := price * p.slippageBps / 10000
	if side == model.SideLong {
		return price + slip
	}
	return price - slip
}

func (p *Paper) record(f Fill) {
	p.fills = append(p.fills, f)
	log.Printf("[paper] fill %s qty=%.4f price=%.2f reason=%s", f.Side, f.Qty, f.Price, f.Reason)
}
