package models

import "time"

// MarketRegime classifies the prevailing trend and volatility of the market.
type MarketRegime string

const (
	RegimeBullTrending    MarketRegime = "bull_trending"
	RegimeBullVolatile    MarketRegime = "bull_volatile"
	RegimeBearTrending    MarketRegime = "bear_trending"
	RegimeBearVolatile    MarketRegime = "bear_volatile"
	RegimeSidewaysLowVol  MarketRegime = "sideways_low_vol"
	RegimeSidewaysHighVol MarketRegime = "sideways_high_vol"
)

// Bias groups regimes for the selector target table.
type Bias string

const (
	BiasBullish Bias = "bullish"
	BiasNeutral Bias = "neutral"
	BiasBearish Bias = "bearish"
)

// Bias maps the regime to its directional group.
func (r MarketRegime) Bias() Bias {
	switch r {
	case RegimeBullTrending, RegimeBullVolatile:
		return BiasBullish
	case RegimeBearTrending, RegimeBearVolatile:
		return BiasBearish
	default:
		return BiasNeutral
	}
}

// IsValid reports whether r is one of the six known regimes.
func (r MarketRegime) IsValid() bool {
	switch r {
	case RegimeBullTrending, RegimeBullVolatile, RegimeBearTrending,
		RegimeBearVolatile, RegimeSidewaysLowVol, RegimeSidewaysHighVol:
		return true
	}
	return false
}

// RegimeReading is the detector output, kept for logging and the run summary.
type RegimeReading struct {
	Regime         MarketRegime `json:"regime"`
	Trend          string       `json:"trend"` // "bull", "bear", "sideways"
	HighVolatility bool         `json:"high_volatility"`
	Price          float64      `json:"price"`
	MA20           float64      `json:"ma20"`
	MA60           float64      `json:"ma60"`
	ATR14          float64      `json:"atr14"`
	ATR60          float64      `json:"atr60"`
	Confidence     float64      `json:"confidence"`
	Reason         string       `json:"reason,omitempty"`
	DetectedAt     time.Time    `json:"detected_at"`
}

// StrategyWeight is the normalized blend weight of one strategy.
type StrategyWeight struct {
	StrategyID string  `json:"strategy_id"`
	Weight     float64 `json:"weight"`
}
