package analytics

import (
	"sort"

	"PickFlow/internal/domain/models"
	"PickFlow/internal/services/features"
)

// NonOptimalWeight is the raw weight of a strategy outside its optimal regimes.
const NonOptimalWeight = 0.3

// Gates are the per-component minimums (and the risk maximum) of a strategy.
type Gates struct {
	MinPriceAttractiveness float64
	MinTechnical           float64
	MaxRisk                float64
	MinConfidence          float64 // 0..1
}

// ComponentWeights split a strategy fit score across its four components. They sum to 1.
type ComponentWeights struct {
	Price      float64
	Technical  float64
	Risk       float64
	Confidence float64
}

// Strategy is one scoring view blended by the ensemble.
type Strategy struct {
	ID               string
	OptimalRegimes   []models.MarketRegime
	WeightMultiplier float64
	Gates            Gates
	Weights          ComponentWeights
}

func (s Strategy) optimalFor(r models.MarketRegime) bool {
	for _, o := range s.OptimalRegimes {
		if o == r {
			return true
		}
	}
	return false
}

// Fit is the strategy score in [0,100]. A component contributes its value only when its gate holds.
func (s Strategy) Fit(r models.AnalysisResult) float64 {
	fit := 0.0
	if r.PriceAttractiveness >= s.Gates.MinPriceAttractiveness {
		fit += s.Weights.Price * r.PriceAttractiveness
	}
	if r.TechnicalScore >= s.Gates.MinTechnical {
		fit += s.Weights.Technical * r.TechnicalScore
	}
	if r.RiskScore <= s.Gates.MaxRisk {
		fit += s.Weights.Risk * (100 - r.RiskScore)
	}
	if r.Confidence >= s.Gates.MinConfidence {
		fit += s.Weights.Confidence * r.Confidence * 100
	}
	return features.Clamp(fit, 0, 100)
}

// DefaultStrategies is the built-in strategy set.
func DefaultStrategies() []Strategy {
	return []Strategy{
		{
			ID:               "momentum",
			OptimalRegimes:   []models.MarketRegime{models.RegimeBullTrending, models.RegimeBullVolatile},
			WeightMultiplier: 1.2,
			Gates:            Gates{MinPriceAttractiveness: 40, MinTechnical: 60, MaxRisk: 60, MinConfidence: 0.5},
			Weights:          ComponentWeights{Price: 0.2, Technical: 0.4, Risk: 0.2, Confidence: 0.2},
		},
		{
			ID:               "trend_following",
			OptimalRegimes:   []models.MarketRegime{models.RegimeBullTrending, models.RegimeBearTrending},
			WeightMultiplier: 1.0,
			Gates:            Gates{MinPriceAttractiveness: 45, MinTechnical: 55, MaxRisk: 55, MinConfidence: 0.5},
			Weights:          ComponentWeights{Price: 0.3, Technical: 0.3, Risk: 0.2, Confidence: 0.2},
		},
		{
			ID:               "mean_reversion",
			OptimalRegimes:   []models.MarketRegime{models.RegimeSidewaysLowVol, models.RegimeSidewaysHighVol},
			WeightMultiplier: 1.0,
			Gates:            Gates{MinPriceAttractiveness: 50, MinTechnical: 30, MaxRisk: 50, MinConfidence: 0.4},
			Weights:          ComponentWeights{Price: 0.4, Technical: 0.1, Risk: 0.3, Confidence: 0.2},
		},
		{
			ID:               "breakout",
			OptimalRegimes:   []models.MarketRegime{models.RegimeBullVolatile, models.RegimeSidewaysHighVol},
			WeightMultiplier: 0.9,
			Gates:            Gates{MinPriceAttractiveness: 50, MinTechnical: 65, MaxRisk: 65, MinConfidence: 0.4},
			Weights:          ComponentWeights{Price: 0.25, Technical: 0.45, Risk: 0.1, Confidence: 0.2},
		},
		{
			ID:               "defensive",
			OptimalRegimes:   []models.MarketRegime{models.RegimeBearTrending, models.RegimeBearVolatile, models.RegimeSidewaysHighVol},
			WeightMultiplier: 1.1,
			Gates:            Gates{MinPriceAttractiveness: 30, MinTechnical: 30, MaxRisk: 40, MinConfidence: 0.6},
			Weights:          ComponentWeights{Price: 0.2, Technical: 0.1, Risk: 0.5, Confidence: 0.2},
		},
	}
}

// EnsembleScorer blends strategy fits with regime-dependent weights.
type EnsembleScorer struct {
	strategies []Strategy
}

func NewEnsembleScorer(strategies []Strategy) *EnsembleScorer {
	return &EnsembleScorer{strategies: strategies}
}

// Weights returns normalized strategy weights for the regime, in registration order.
func (e *EnsembleScorer) Weights(regime models.MarketRegime) []models.StrategyWeight {
	raw := make([]float64, len(e.strategies))
	total := 0.0
	for i, s := range e.strategies {
		w := NonOptimalWeight
		if s.optimalFor(regime) {
			w = s.WeightMultiplier
		}
		raw[i] = w
		total += w
	}
	out := make([]models.StrategyWeight, len(e.strategies))
	for i, s := range e.strategies {
		out[i] = models.StrategyWeight{StrategyID: s.ID}
		if total > 0 {
			out[i].Weight = raw[i] / total
		}
	}
	return out
}

// Score sets EnsembleScore (and TotalScore) on a copy of the pool and re-ranks it.
// PriceAttractiveness defaults to the incoming TotalScore when unset.
func (e *EnsembleScorer) Score(pool []models.AnalysisResult, regime models.MarketRegime) []models.AnalysisResult {
	weights := e.Weights(regime)
	out := make([]models.AnalysisResult, len(pool))
	for i, r := range pool {
		if r.PriceAttractiveness == 0 {
			r.PriceAttractiveness = r.TotalScore
		}
		score := 0.0
		for j, s := range e.strategies {
			score += weights[j].Weight * s.Fit(r)
		}
		r.EnsembleScore = score
		r.TotalScore = score
		out[i] = r
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].EnsembleScore != out[j].EnsembleScore {
			return out[i].EnsembleScore > out[j].EnsembleScore
		}
		return out[i].InstrumentID < out[j].InstrumentID
	})
	return out
}
