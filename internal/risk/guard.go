// Package risk enforces the account-level daily loss limit.
//
// The guard tracks realized P&L for the current UTC day and blocks all
// trading for the remainder of the day once combined realized + unrealized
// losses reach the configured fraction of balance. The counter resets at
// date rollover.
package risk

import (
	"log"
	"sync"
	"time"
)

// Guard is the daily-loss circuit breaker.
type Guard struct {
	mu               sync.Mutex
	maxDailyLossFrac float64
	dailyPnL         float64 // realized, quote currency
	day              string  // "2006-01-02" UTC

	now func() time.Time // injectable for tests
}

// NewGuard creates a guard that blocks trading once daily losses reach
// maxDailyLossFrac of balance.
func NewGuard(maxDailyLossFrac float64) *Guard {
	return &Guard{
		maxDailyLossFrac: maxDailyLossFrac,
		now:              time.Now,
	}
}

// RecordRealized adds a realized P&L delta to the daily counter.
func (g *Guard) RecordRealized(pnl float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rollover()
	g.dailyPnL += pnl
	log.Printf("[risk] realized %+.2f, daily P&L now %+.2f", pnl, g.dailyPnL)
}

// Blocked reports whether trading must be skipped for the rest of the day.
// unrealized is the open position's current unrealized P&L (0 when flat).
func (g *Guard) Blocked(balance, unrealized float64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rollover()

	if balance <= 0 {
		return false
	}
	total := g.dailyPnL + unrealized
	if total >= 0 {
		return false
	}
	lossFrac := -total / balance
	if lossFrac >= g.maxDailyLossFrac {
		log.Printf("[risk] daily loss limit hit: %.2f%% >= %.2f%%",
			lossFrac*100, g.maxDailyLossFrac*100)
		return true
	}
	return false
}

// DailyPnL returns the realized P&L accumulated for the current day.
func (g *Guard) DailyPnL() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rollover()
	return g.dailyPnL
}

// Restore seeds the guard from persisted state. Stale days are discarded.
func (g *Guard) Restore(day string, pnl float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	today := g.now().UTC().Format("2006-01-02")
	if day != today {
		g.day = today
		g.dailyPnL = 0
		return
	}
	g.day = day
	g.dailyPnL = pnl
}

// Snapshot returns the state to persist across restarts.
func (g *Guard) Snapshot() (day string, pnl float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rollover()
	return g.day, g.dailyPnL
}

// rollover resets the counter when the UTC date changes. Caller holds mu.
func (g *Guard) rollover() {
	today := g.now().UTC().Format("2006-01-02")
	if g.day != today {
		if g.day != "" {
			log.Printf("[risk] new trading day %s, daily P&L reset (was %+.2f)", today, g.dailyPnL)
		}
		g.day = today
		g.dailyPnL = 0
	}
}
