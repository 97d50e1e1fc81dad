package decision

// Config holds the immutable strategy parameters.
//
// OverboughtLevel/OversoldLevel trigger the one-time flash take-profit;
// EntryOverboughtLevel/EntryOversoldLevel filter new entries. The two pairs
// are independent constants and must not be conflated.
type Config struct {
	RiskFraction float64 `json:"risk_fraction"`  // fraction of balance risked per base trade
	MinOrderSize float64 `json:"min_order_size"` // exchange minimum notional floor

	MaxLayers          int     `json:"max_layers"`
	PyramidStepATR     float64 `json:"pyramid_step_atr"` // ATR multiple to trigger the next layer
	HardStopATR        float64 `json:"hard_stop_atr"`    // initial stop distance in ATR
	TrailStopATR       float64 `json:"trail_stop_atr"`   // trailing stop distance on pyramid adds
	SlopeMinPct        float64 `json:"slope_min_pct"`
	DeviationMaxPct    float64 `json:"deviation_max_pct"`
	ChopMaxCrosses     int     `json:"chop_max_crosses"`
	OverboughtLevel    float64 `json:"overbought_level"`
	OversoldLevel      float64 `json:"oversold_level"`
	EntryOverboughtLvl float64 `json:"entry_overbought_level"`
	EntryOversoldLvl   float64 `json:"entry_oversold_level"`
}

// DefaultConfig returns the stock parameter set.
func DefaultConfig() Config {
	return Config{
		RiskFraction:       0.03,
		MinOrderSize:       10.0,
		MaxLayers:          3,
		PyramidStepATR:     1.5,
		HardStopATR:        2.0,
		TrailStopATR:       2.0,
		SlopeMinPct:        0.04,
		DeviationMaxPct:    2.5,
		ChopMaxCrosses:     5,
		OverboughtLevel:    75,
		OversoldLevel:      25,
		EntryOverboughtLvl: 70,
		EntryOversoldLvl:   30,
	}
}
