// Package decision provides the per-bar decision engine for a single-asset,
// single-timeframe perpetual-futures strategy.
//
// The Engine consumes one indicator snapshot per bar close together with the
// committed position state and emits at most one trading Action. The caller
// (orchestrator) executes the Action against the exchange and commits the
// proposed next position state only on confirmation.
package decision

import "perptrader/internal/model"

// ActionType identifies what the orchestrator must execute.
type ActionType string

const (
	ActionOpen         ActionType = "OPEN"
	ActionClosePartial ActionType = "CLOSE_PARTIAL"
	ActionCloseAll     ActionType = "CLOSE_ALL"
	ActionAddLayer     ActionType = "ADD_LAYER"
)

// Reason tags attached to emitted actions, journaled and alerted verbatim.
const (
	ReasonFlashTPOverbought = "RSI_OVERBOUGHT_FLASH_TP"
	ReasonFlashTPOversold   = "RSI_OVERSOLD_FLASH_TP"
	ReasonTrendBreak        = "TREND_BREAK_SLOW_EMA"
	ReasonPyramidLayer      = "PYRAMID_LAYER"
	ReasonLongEntry         = "TREND_LONG_ENTRY"
	ReasonShortEntry        = "TREND_SHORT_ENTRY"
)

// Action is one trading instruction for the current bar.
type Action struct {
	Type ActionType `json:"type"`
	Side model.Side `json:"side"`

	// Size is notional in quote currency, set for OPEN and ADD_LAYER.
	Size float64 `json:"size,omitempty"`

	// Percentage of the position to close, set for CLOSE_PARTIAL.
	Percentage float64 `json:"percentage,omitempty"`

	// StopPrice is the protective stop to place or move to. Zero means the
	// stop is unchanged by this action.
	StopPrice float64 `json:"stop_price,omitempty"`

	Reason string `json:"reason"`
}
