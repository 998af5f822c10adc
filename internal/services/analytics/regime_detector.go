package analytics

import (
	"fmt"
	"time"

	"PickFlow/internal/domain/models"
	domsvc "PickFlow/internal/domain/service"
	"PickFlow/internal/services/features"
)

const (
	regimeMinPoints      = 60
	highVolatilityFactor = 1.2
)

// MarketRegimeDetector classifies trend (price vs MA20/MA60) and volatility (ATR14 vs ATR60).
type MarketRegimeDetector struct {
	now func() time.Time
}

func NewMarketRegimeDetector() *MarketRegimeDetector {
	return &MarketRegimeDetector{now: time.Now}
}

// Detect never fails: insufficient or malformed input yields sideways_low_vol with zero confidence.
func (d *MarketRegimeDetector) Detect(h models.PriceHistory) models.RegimeReading {
	if len(h.Closes) < regimeMinPoints {
		return d.fallback(fmt.Sprintf("need %d points, got %d", regimeMinPoints, len(h.Closes)))
	}
	if err := features.ValidateSeries(h.Closes); err != nil {
		return d.fallback(err.Error())
	}

	r := models.RegimeReading{
		Price:      h.Last(),
		MA20:       features.SMA(h.Closes, 20),
		MA60:       features.SMA(h.Closes, 60),
		DetectedAt: d.now(),
	}
	trs := features.TrueRanges(h)
	r.ATR14 = features.ATR(trs, 14)
	r.ATR60 = features.ATR(trs, 60)

	switch {
	case r.Price > r.MA20 && r.MA20 > r.MA60:
		r.Trend = "bull"
	case r.Price < r.MA20 && r.MA20 < r.MA60:
		r.Trend = "bear"
	default:
		r.Trend = "sideways"
	}
	r.HighVolatility = r.ATR60 > 0 && r.ATR14 > r.ATR60*highVolatilityFactor
	r.Regime = classify(r.Trend, r.HighVolatility)
	r.Confidence = confidence(r)
	r.Reason = fmt.Sprintf("price %.2f ma20 %.2f ma60 %.2f atr14/atr60 %.2f/%.2f", r.Price, r.MA20, r.MA60, r.ATR14, r.ATR60)
	return r
}

func (d *MarketRegimeDetector) fallback(reason string) models.RegimeReading {
	return models.RegimeReading{
		Regime:     models.RegimeSidewaysLowVol,
		Trend:      "sideways",
		Reason:     "fallback: " + reason,
		DetectedAt: d.now(),
	}
}

func classify(trend string, highVol bool) models.MarketRegime {
	switch trend {
	case "bull":
		if highVol {
			return models.RegimeBullVolatile
		}
		return models.RegimeBullTrending
	case "bear":
		if highVol {
			return models.RegimeBearVolatile
		}
		return models.RegimeBearTrending
	default:
		if highVol {
			return models.RegimeSidewaysHighVol
		}
		return models.RegimeSidewaysLowVol
	}
}

// confidence grows with the MA separation; sideways readings stay at 0.5.
func confidence(r models.RegimeReading) float64 {
	if r.Trend == "sideways" || r.MA60 <= 0 {
		return 0.5
	}
	spread := (r.MA20/r.MA60 - 1) * 100
	if spread < 0 {
		spread = -spread
	}
	return features.Clamp(0.5+spread/10, 0.5, 1)
}

var _ domsvc.RegimeDetector = (*MarketRegimeDetector)(nil)
