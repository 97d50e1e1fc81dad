// Package trader is the orchestrator: it runs the bar-close trigger loop,
// feeds the decision engine, executes emitted actions against the exchange
// port, and commits position state only after the exchange confirms.
package trader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"perptrader/internal/decision"
	"perptrader/internal/indicator"
	"perptrader/internal/journal"
	"perptrader/internal/logger"
	"perptrader/internal/metrics"
	"perptrader/internal/model"
	"perptrader/internal/notification"
	"perptrader/internal/risk"
	redisstore "perptrader/internal/store/redis"
)

// qtyDecimals is the order quantity precision used when converting notional
// size to base-currency quantity.
const qtyDecimals = 3

// ErrStateDivergence reports that local position state disagreed with
// exchange ground truth at reconciliation time.
var ErrStateDivergence = errors.New("trader: position state diverged from exchange")

// Config holds the orchestrator's runtime parameters.
type Config struct {
	Symbol    string
	Timeframe string
	Leverage  int

	// HistoryBars is how many completed bars are fetched per evaluation.
	HistoryBars int

	// PollInterval is the fallback trigger period when no bar stream is
	// wired in.
	PollInterval time.Duration

	MaxDailyLossFraction float64

	Indicator indicator.Config
	Strategy  decision.Config
}

// Deps are the collaborators the service is wired with. State, Journal and
// Metrics are optional; Notifier defaults to the log backend.
type Deps struct {
	Exchange model.Exchange
	State    *redisstore.StateStore
	Journal  *journal.Journal
	Notifier notification.Notifier
	Metrics  *metrics.Metrics
}

// Service owns the committed position state. All evaluation runs on the
// single Run goroutine, so the decide/execute/commit sequence is a critical
// section by construction and triggers can never interleave.
type Service struct {
	cfg  Config
	deps Deps

	engine *decision.Engine
	guard  *risk.Guard
	log    *slog.Logger

	posMu     sync.RWMutex
	pos       *model.Position // committed state, nil when flat
	lastBarTS time.Time       // dedup guard for bar triggers
}

// New creates the trader service.
func New(cfg Config, deps Deps, lg *slog.Logger) *Service {
	if deps.Notifier == nil {
		deps.Notifier = notification.NewLogNotifier()
	}
	if cfg.HistoryBars == 0 {
		cfg.HistoryBars = cfg.Indicator.MinBars() + 50
	}
	return &Service{
		cfg:    cfg,
		deps:   deps,
		engine: decision.NewEngine(cfg.Symbol, cfg.Strategy),
		guard:  risk.NewGuard(cfg.MaxDailyLossFraction),
		log:    lg,
	}
}

// Position returns a copy of the committed position state (nil when flat).
// Safe to call from other goroutines, such as status endpoints.
func (s *Service) Position() *model.Position {
	s.posMu.RLock()
	defer s.posMu.RUnlock()
	return s.pos.Clone()
}

// DailyPnL reports realized P&L accumulated for the current UTC day.
func (s *Service) DailyPnL() float64 {
	return s.guard.DailyPnL()
}

// setPos publishes committed state under the lock that guards Position.
// All loop-internal reads of s.pos stay on the Run goroutine.
func (s *Service) setPos(p *model.Position) {
	s.posMu.Lock()
	s.pos = p
	s.posMu.Unlock()
}

// Init prepares the service for trading: sets leverage, restores the daily
// P&L counter, and reconciles position state against exchange ground truth.
// Must complete before Run.
func (s *Service) Init(ctx context.Context) error {
	if err := s.deps.Exchange.SetLeverage(ctx, s.cfg.Symbol, s.cfg.Leverage); err != nil {
		// Leverage may already be set; trading can proceed.
		s.log.Warn("set leverage failed", "err", err)
	}

	if s.deps.State != nil {
		day, pnl, err := s.deps.State.LoadDailyPnL(ctx)
		if err != nil {
			s.log.Warn("daily pnl restore failed", "err", err)
		} else if day != "" {
			s.guard.Restore(day, pnl)
		}
	}

	return s.Reconcile(ctx)
}

// Reconcile resolves local position state against the exchange. Exchange
// ground truth is authoritative; locally persisted layers, partial-TP flag
// and stop price are merged only when they describe the same position.
func (s *Service) Reconcile(ctx context.Context) error {
	exchPos, err := s.deps.Exchange.GetOpenPosition(ctx, s.cfg.Symbol)
	if err != nil {
		return fmt.Errorf("reconcile: fetch position: %w", err)
	}

	var stored *model.Position
	if s.deps.State != nil {
		if stored, err = s.deps.State.LoadPosition(ctx); err != nil {
			s.log.Warn("stored position load failed", "err", err)
			stored = nil
		}
	}

	switch {
	case exchPos == nil && stored == nil:
		s.setPos(nil)

	case exchPos == nil && stored != nil:
		// Stale local state: position was closed outside our control.
		s.surfaceDivergence(ctx, fmt.Errorf("%w: stored %s position but exchange is flat",
			ErrStateDivergence, stored.Side))
		s.setPos(nil)

	case stored == nil:
		s.log.Info("adopting exchange position",
			"side", exchPos.Side, "entry", exchPos.EntryPrice, "size", exchPos.Size)
		s.setPos(exchPos)

	default:
		if stored.Side == exchPos.Side && priceClose(stored.EntryPrice, exchPos.EntryPrice) {
			// Same position: exchange truth for entry/size, local truth
			// for the decision-engine bookkeeping.
			merged := exchPos.Clone()
			merged.Layers = stored.Layers
			merged.PartialTpTaken = stored.PartialTpTaken
			merged.StopPrice = stored.StopPrice
			s.setPos(merged)
		} else {
			s.surfaceDivergence(ctx, fmt.Errorf("%w: stored %s@%.2f vs exchange %s@%.2f",
				ErrStateDivergence, stored.Side, stored.EntryPrice, exchPos.Side, exchPos.EntryPrice))
			s.setPos(exchPos)
		}
	}

	return s.persistPosition(ctx)
}

// Run consumes bar-close triggers until ctx is cancelled. barCh may be nil,
// in which case an internal poll ticker drives evaluation. A trigger that
// arrives while an evaluation is in flight waits in the channel; duplicate
// triggers for an already-evaluated bar are skipped, never interleaved.
func (s *Service) Run(ctx context.Context, barCh <-chan model.Bar) error {
	s.log.Info("trader loop starting",
		"symbol", s.cfg.Symbol, "timeframe", s.cfg.Timeframe, "poll", s.cfg.PollInterval)

	var tick <-chan time.Time
	if barCh == nil {
		t := time.NewTicker(s.cfg.PollInterval)
		defer t.Stop()
		tick = t.C
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tick:
			s.evaluateBar(ctx)
		case _, ok := <-barCh:
			if !ok {
				return nil
			}
			s.evaluateBar(ctx)
		}
	}
}

// evaluateBar runs one full decision cycle: fetch, compute, decide, execute,
// commit. Any fault aborts the cycle without advancing state.
func (s *Service) evaluateBar(ctx context.Context) {
	bars, err := s.deps.Exchange.GetBarHistory(ctx, s.cfg.Symbol, s.cfg.Timeframe, s.cfg.HistoryBars)
	if err != nil {
		s.skip(ctx, "history_fetch", err)
		return
	}
	if len(bars) == 0 {
		s.skip(ctx, "history_fetch", errors.New("empty bar history"))
		return
	}
	if !model.ValidateHistory(bars) {
		s.skip(ctx, "history_order", errors.New("bar timestamps not strictly increasing"))
		return
	}

	last := bars[len(bars)-1]
	if !last.TS.After(s.lastBarTS) {
		// Same completed bar as the previous trigger.
		return
	}

	ctx = logger.WithTraceID(ctx, logger.GenerateTraceID(s.cfg.Symbol, last.TS))
	lg := s.log.With("trace_id", logger.TraceID(ctx), "bar_ts", last.TS)

	start := time.Now()
	if s.deps.Metrics != nil {
		s.deps.Metrics.EvaluationsTotal.Inc()
		defer func() {
			s.deps.Metrics.EvaluationDur.Observe(time.Since(start).Seconds())
		}()
	}

	snap, err := indicator.Compute(bars, s.cfg.Indicator)
	if err != nil {
		// Data-quality faults never become trading decisions.
		s.skip(ctx, "indicator", err)
		return
	}

	balance, err := s.deps.Exchange.GetBalance(ctx)
	if err != nil {
		s.skip(ctx, "balance_fetch", err)
		return
	}

	if err := s.syncPosition(ctx, snap.Close); err != nil {
		s.skip(ctx, "position_sync", err)
		return
	}

	var unrealized float64
	if s.pos != nil {
		unrealized = s.pos.UnrealizedPnL(snap.Close)
	}
	s.updateGauges(balance, unrealized)

	if s.guard.Blocked(balance, unrealized) {
		s.skip(ctx, "daily_loss_limit", nil)
		return
	}

	action, next, err := s.engine.Evaluate(snap, balance, s.pos)
	if err != nil {
		lg.Warn("evaluation fault, no action this bar", "err", err)
		if s.deps.Metrics != nil {
			s.deps.Metrics.SkippedBars.WithLabelValues("evaluation_fault").Inc()
		}
		s.lastBarTS = last.TS
		return
	}

	// The bar is consumed whether or not an action fires; an execution
	// fault below intentionally leaves lastBarTS advanced so the same bar
	// is not retried (retry policy belongs to the operator, not here).
	s.lastBarTS = last.TS

	if action == nil {
		lg.Debug("no action", "close", snap.Close, "momentum", snap.Momentum,
			"slope_pct", snap.SlopePct, "chop", snap.ChopCrosses)
		return
	}

	lg.Info("action emitted", "type", action.Type, "side", action.Side,
		"size", action.Size, "stop", action.StopPrice, "reason", action.Reason)

	if err := s.execute(ctx, action, snap); err != nil {
		// Confirmation failed: the state transition is NOT committed and
		// the next bar re-evaluates from the pre-failure state.
		lg.Error("action execution failed, state rolled back", "err", err)
		if s.deps.Metrics != nil {
			s.deps.Metrics.ExecutionFaults.Inc()
		}
		s.deps.Notifier.Send(ctx, notification.FaultAlert("action execution failed", err))
		return
	}

	s.commit(ctx, action, next, snap)
}

// syncPosition refreshes position ground truth before deciding. A position
// that disappeared on the exchange (stop-out) settles its realized P&L and
// resets local state; one that appeared outside our control is adopted.
func (s *Service) syncPosition(ctx context.Context, markPrice float64) error {
	exchPos, err := s.deps.Exchange.GetOpenPosition(ctx, s.cfg.Symbol)
	if err != nil {
		return err
	}

	switch {
	case exchPos == nil && s.pos != nil:
		exitPrice := s.pos.StopPrice
		if exitPrice == 0 {
			exitPrice = markPrice
		}
		qty := s.pos.Size / s.pos.EntryPrice
		pnl := (exitPrice - s.pos.EntryPrice) * qty
		if s.pos.Side == model.SideShort {
			pnl = -pnl
		}
		s.log.Warn("position closed on exchange (stop-out assumed)",
			"side", s.pos.Side, "exit", exitPrice, "realized", pnl)
		s.recordRealized(ctx, pnl)
		s.setPos(nil)
		return s.persistPosition(ctx)

	case exchPos != nil && s.pos == nil:
		s.surfaceDivergence(ctx, fmt.Errorf("%w: exchange reports open %s position while local state is flat",
			ErrStateDivergence, exchPos.Side))
		s.setPos(exchPos)
		return s.persistPosition(ctx)
	}
	return nil
}

// execute performs the exchange calls for one action. A nil return means
// the action's state transition may be committed.
func (s *Service) execute(ctx context.Context, act *decision.Action, snap indicator.Snapshot) error {
	switch act.Type {
	case decision.ActionOpen, decision.ActionAddLayer:
		qty := roundQty(act.Size / snap.Close)
		if qty <= 0 {
			return fmt.Errorf("order qty rounds to zero (size=%.2f price=%.2f)", act.Size, snap.Close)
		}
		if err := s.deps.Exchange.ExecuteMarketOrder(ctx, s.cfg.Symbol, act.Side, qty); err != nil {
			return err
		}
		// The entry stands even if the protective stop cannot be placed.
		if err := s.deps.Exchange.UpdateStopLoss(ctx, s.cfg.Symbol, act.Side, act.StopPrice); err != nil {
			s.log.Warn("stop placement failed, position is unprotected", "err", err)
			s.deps.Notifier.Send(ctx, notification.FaultAlert("stop placement failed", err))
		}
		return nil

	case decision.ActionClosePartial:
		if err := s.deps.Exchange.ClosePosition(ctx, s.cfg.Symbol, act.Percentage, act.Reason); err != nil {
			return err
		}
		if err := s.deps.Exchange.UpdateStopLoss(ctx, s.cfg.Symbol, act.Side, act.StopPrice); err != nil {
			s.log.Warn("breakeven stop move failed", "err", err)
		}
		return nil

	case decision.ActionCloseAll:
		return s.deps.Exchange.ClosePosition(ctx, s.cfg.Symbol, 100, act.Reason)

	default:
		return fmt.Errorf("unknown action type %q", act.Type)
	}
}

// commit advances the committed position state after a confirmed action and
// settles realized P&L for closing actions.
func (s *Service) commit(ctx context.Context, act *decision.Action, next *model.Position, snap indicator.Snapshot) {
	prev := s.pos
	s.setPos(next)

	switch act.Type {
	case decision.ActionClosePartial:
		closedNotional := prev.Size * act.Percentage / 100
		s.recordRealized(ctx, realizedPnL(prev, closedNotional, snap.Close))
	case decision.ActionCloseAll:
		s.recordRealized(ctx, realizedPnL(prev, prev.Size, snap.Close))
	}

	if err := s.persistPosition(ctx); err != nil {
		s.log.Warn("position persist failed", "err", err)
	}
	if s.deps.Journal != nil {
		if err := s.deps.Journal.Record(s.cfg.Symbol, *act, snap.Close, snap.TS); err != nil {
			s.log.Warn("journal write failed", "err", err)
		}
	}
	if s.deps.Metrics != nil {
		s.deps.Metrics.ActionsTotal.WithLabelValues(string(act.Type)).Inc()
	}
	s.deps.Notifier.Send(ctx, notification.ActionAlert(s.cfg.Symbol, *act, snap.Close))
}

func (s *Service) recordRealized(ctx context.Context, pnl float64) {
	s.guard.RecordRealized(pnl)
	if s.deps.State != nil {
		day, total := s.guard.Snapshot()
		if err := s.deps.State.SaveDailyPnL(ctx, day, total); err != nil {
			s.log.Warn("daily pnl persist failed", "err", err)
		}
	}
}

func (s *Service) persistPosition(ctx context.Context) error {
	if s.deps.State == nil {
		return nil
	}
	return s.deps.State.SavePosition(ctx, s.pos)
}

func (s *Service) surfaceDivergence(ctx context.Context, err error) {
	s.log.Error("state divergence", "err", err)
	s.deps.Notifier.Send(ctx, notification.FaultAlert("state divergence", err))
}

func (s *Service) skip(ctx context.Context, cause string, err error) {
	if err != nil {
		s.log.Warn("bar skipped", "cause", cause, "err", err)
	} else {
		s.log.Info("bar skipped", "cause", cause)
	}
	if s.deps.Metrics != nil {
		s.deps.Metrics.SkippedBars.WithLabelValues(cause).Inc()
	}
}

func (s *Service) updateGauges(balance, unrealized float64) {
	if s.deps.Metrics == nil {
		return
	}
	s.deps.Metrics.Balance.Set(balance)
	s.deps.Metrics.UnrealizedPnL.Set(unrealized)
	s.deps.Metrics.DailyPnL.Set(s.guard.DailyPnL())
	layers := 0
	if s.pos != nil {
		layers = s.pos.Layers
	}
	s.deps.Metrics.OpenLayers.Set(float64(layers))
}

// realizedPnL settles the P&L on closedNotional of pos at exitPrice.
func realizedPnL(pos *model.Position, closedNotional, exitPrice float64) float64 {
	qty := closedNotional / pos.EntryPrice
	pnl := (exitPrice - pos.EntryPrice) * qty
	if pos.Side == model.SideShort {
		pnl = -pnl
	}
	return pnl
}

// priceClose reports whether two entry prices describe the same position
// (within 0.1%, covering fee-adjusted averaging differences).
func priceClose(a, b float64) bool {
	if b == 0 {
		return a == 0
	}
	return math.Abs(a-b)/b < 0.001
}

func roundQty(qty float64) float64 {
	scale := math.Pow10(qtyDecimals)
	return math.Floor(qty*scale) / scale
}
