package model

import "context"

// ── Exchange Port Interfaces ──
// These interfaces decouple the decision core from concrete exchange
// transports (Binance USD-M REST, paper). Each implementation satisfies one
// or more of these interfaces.

// MarketData supplies completed bars.
type MarketData interface {
	// GetBarHistory returns up to count completed bars, oldest first,
	// most recent = last completed bar.
	GetBarHistory(ctx context.Context, symbol, timeframe string, count int) ([]Bar, error)
}

// Account reads ground-truth balance and position state.
type Account interface {
	// GetBalance returns available quote-currency balance.
	GetBalance(ctx context.Context) (float64, error)

	// GetOpenPosition returns the open position for symbol, or nil if flat.
	GetOpenPosition(ctx context.Context, symbol string) (*Position, error)
}

// OrderExecutor places and manages orders. Every call is synchronous:
// a nil error means the exchange confirmed the action.
type OrderExecutor interface {
	// ExecuteMarketOrder places a market order. qty is in base currency.
	ExecuteMarketOrder(ctx context.Context, symbol string, side Side, qty float64) error

	// ClosePosition closes percentage (0-100] of the open position.
	ClosePosition(ctx context.Context, symbol string, percentage float64, reason string) error

	// UpdateStopLoss replaces the protective stop at the given price.
	UpdateStopLoss(ctx context.Context, symbol string, side Side, price float64) error

	// SetLeverage sets account leverage for symbol (called once at startup).
	SetLeverage(ctx context.Context, symbol string, leverage int) error
}

// Exchange is the full collaborator surface the orchestrator wires up.
type Exchange interface {
	MarketData
	Account
	OrderExecutor
}
