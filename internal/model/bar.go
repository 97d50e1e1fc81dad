package model

import (
	"encoding/json"
	"time"
)

// Bar represents one completed OHLCV candle for the traded instrument.
// Prices are float64 in quote currency (USDT); perp contract prices carry
// fractional ticks, so integer minor units are not practical here.
type Bar struct {
	Symbol string    `json:"symbol"`
	TS     time.Time `json:"ts"` // bucket open time (UTC)
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// JSON returns the JSON-encoded bar (ignoring errors for hot-path usage).
func (b *Bar) JSON() []byte {
	data, _ := json.Marshal(b)
	return data
}

// ValidateHistory checks that bars are ordered by strictly increasing
// timestamps. Returns false on the first violation.
func ValidateHistory(bars []Bar) bool {
	for i := 1; i < len(bars); i++ {
		if !bars[i].TS.After(bars[i-1].TS) {
			return false
		}
	}
	return true
}
