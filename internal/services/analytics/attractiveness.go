package analytics

import (
	"context"
	"fmt"

	"PickFlow/internal/domain/models"
	domsvc "PickFlow/internal/domain/service"
	"PickFlow/internal/services/features"
)

// AttractivenessAnalyzer derives technical, volume and risk scores plus trade levels
// from a candidate's daily history.
type AttractivenessAnalyzer struct {
	minPoints int
}

func NewAttractivenessAnalyzer() *AttractivenessAnalyzer {
	return &AttractivenessAnalyzer{minPoints: 10}
}

func (a *AttractivenessAnalyzer) Analyze(
	ctx context.Context,
	c models.Candidate,
	h models.PriceHistory,
	q models.Quote,
	regime models.MarketRegime,
) (models.AnalysisResult, error) {
	if err := ctx.Err(); err != nil {
		return models.AnalysisResult{}, err
	}
	if len(h.Closes) < a.minPoints {
		return models.AnalysisResult{}, fmt.Errorf("%w: %d closes for %s", models.ErrEmptyHistory, len(h.Closes), c.InstrumentID)
	}
	if err := features.ValidateSeries(h.Closes); err != nil {
		return models.AnalysisResult{}, fmt.Errorf("%s: %w", c.InstrumentID, err)
	}
	if len(h.Volumes) != 0 && len(h.Volumes) != len(h.Closes) {
		return models.AnalysisResult{}, fmt.Errorf("%w: %d volumes for %d closes", models.ErrMalformedData, len(h.Volumes), len(h.Closes))
	}

	entry := q.Price
	if entry <= 0 {
		entry = h.Last()
	}

	tech := technicalScore(h.Closes, entry)
	vol := volumeScore(h.Volumes)
	risk := riskScore(h.Closes)
	conf := confidenceScore(h, tech, risk)

	atr := features.ATR(features.TrueRanges(h), 14)
	if atr <= 0 {
		atr = entry * 0.02
	}
	targetMult := 3.0
	switch regime.Bias() {
	case models.BiasBearish:
		targetMult = 2.0
	case models.BiasNeutral:
		targetMult = 2.5
	}
	stop := entry - 2*atr
	if stop < 0 {
		stop = 0
	}
	target := entry + targetMult*atr

	total := tech*0.4 + vol*0.2 + (100-risk)*0.2 + conf*100*0.2

	return models.AnalysisResult{
		InstrumentID:        c.InstrumentID,
		DisplayName:         c.DisplayName,
		TotalScore:          total,
		PriceAttractiveness: total,
		TechnicalScore:      tech,
		VolumeScore:         vol,
		RiskScore:           risk,
		Confidence:          conf,
		EntryPrice:          entry,
		TargetPrice:         target,
		StopLoss:            stop,
		ExpectedReturn:      (target/entry - 1) * 100,
		Sector:              c.Sector,
		SelectionReason:     fmt.Sprintf("technical %.0f, volume %.0f, risk %.0f, confidence %.2f", tech, vol, risk, conf),
	}, nil
}

// technicalScore combines RSI position, distance above MA20 and 10-day momentum.
func technicalScore(closes []float64, price float64) float64 {
	rsi := features.RSI(closes, 14)
	rsiPart := 0.0
	switch {
	case rsi >= 50 && rsi <= 70:
		rsiPart = 40
	case rsi > 70:
		rsiPart = features.Clamp(40-(rsi-70)*2, 0, 40)
	default:
		rsiPart = features.Clamp(rsi-10, 0, 40) * 0.75
	}

	period := 20
	if len(closes) < period {
		period = len(closes)
	}
	ma := features.SMA(closes, period)
	maPart := 0.0
	if ma > 0 {
		maPart = features.Clamp(15+(price/ma-1)*100*3, 0, 30)
	}

	rocPart := features.Clamp(15+features.ROC(closes, 10)*1.5, 0, 30)
	return features.Clamp(rsiPart+maPart+rocPart, 0, 100)
}

// volumeScore rates the latest volume against the prior 20-bar average (1x = 50).
func volumeScore(volumes []float64) float64 {
	if len(volumes) < 2 {
		return 0
	}
	prev := volumes[:len(volumes)-1]
	if len(prev) > 20 {
		prev = prev[len(prev)-20:]
	}
	avg := features.Mean(prev)
	if avg <= 0 {
		return 0
	}
	return features.Clamp(volumes[len(volumes)-1]/avg*50, 0, 100)
}

// riskScore grows with annualized volatility and drawdown over the window.
func riskScore(closes []float64) float64 {
	vol, ok := features.AnnualizedVolatilityPct(closes)
	if !ok {
		return 100
	}
	return features.Clamp(vol*1.5+features.MaxDrawdownPct(closes), 0, 100)
}

// confidenceScore scales with history depth and shrinks when signals disagree.
func confidenceScore(h models.PriceHistory, tech, risk float64) float64 {
	depth := features.Clamp(float64(len(h.Closes))/60, 0, 1)
	agreement := 1.0
	if tech >= 60 && risk >= 60 {
		agreement = 0.6
	}
	if len(h.Volumes) == 0 {
		agreement *= 0.8
	}
	return features.Clamp(0.3+0.7*depth*agreement, 0, 1)
}

var _ domsvc.Analyzer = (*AttractivenessAnalyzer)(nil)
