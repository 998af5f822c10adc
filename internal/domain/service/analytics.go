package service

import (
	"context"

	"PickFlow/internal/domain/models"
)

// RegimeDetector classifies the market from an index price series. It never fails.
type RegimeDetector interface {
	Detect(history models.PriceHistory) models.RegimeReading
}

// TrendEvaluator decides whether a close series is in an uptrend.
type TrendEvaluator interface {
	Evaluate(closes []float64) models.TrendResult
}

// Analyzer scores a single candidate from its fetched market data.
type Analyzer interface {
	Analyze(ctx context.Context, c models.Candidate, h models.PriceHistory, q models.Quote, regime models.MarketRegime) (models.AnalysisResult, error)
}
