package analytics

import (
	"testing"

	"PickFlow/internal/domain/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var allRegimes = []models.MarketRegime{
	models.RegimeBullTrending, models.RegimeBullVolatile,
	models.RegimeBearTrending, models.RegimeBearVolatile,
	models.RegimeSidewaysLowVol, models.RegimeSidewaysHighVol,
}

func TestEnsembleScorer_WeightsAreNormalized(t *testing.T) {
	t.Parallel()

	e := NewEnsembleScorer(DefaultStrategies())
	for _, r := range allRegimes {
		sum := 0.0
		for _, w := range e.Weights(r) {
			assert.GreaterOrEqual(t, w.Weight, 0.0)
			assert.LessOrEqual(t, w.Weight, 1.0)
			sum += w.Weight
		}
		assert.InDelta(t, 1.0, sum, 1e-9, "regime=%s", r)
	}
}

func TestEnsembleScorer_NonOptimalPenalty(t *testing.T) {
	t.Parallel()

	e := NewEnsembleScorer([]Strategy{
		{ID: "a", OptimalRegimes: []models.MarketRegime{models.RegimeBullTrending}, WeightMultiplier: 1.0},
		{ID: "b", OptimalRegimes: []models.MarketRegime{models.RegimeBearTrending}, WeightMultiplier: 2.0},
	})

	w := e.Weights(models.RegimeBullTrending)
	require.Len(t, w, 2)
	assert.Equal(t, "a", w[0].StrategyID)
	assert.InDelta(t, 1.0/1.3, w[0].Weight, 1e-9)
	assert.InDelta(t, 0.3/1.3, w[1].Weight, 1e-9)

	w = e.Weights(models.RegimeSidewaysLowVol)
	assert.InDelta(t, 0.5, w[0].Weight, 1e-9)
	assert.InDelta(t, 0.5, w[1].Weight, 1e-9)
}

func TestStrategy_FitGates(t *testing.T) {
	t.Parallel()

	s := Strategy{
		Gates:   Gates{MinPriceAttractiveness: 50, MinTechnical: 60, MaxRisk: 40, MinConfidence: 0.5},
		Weights: ComponentWeights{Price: 0.25, Technical: 0.25, Risk: 0.25, Confidence: 0.25},
	}
	base := models.AnalysisResult{PriceAttractiveness: 80, TechnicalScore: 70, RiskScore: 20, Confidence: 0.9}
	assert.InDelta(t, 0.25*80+0.25*70+0.25*80+0.25*90, s.Fit(base), 1e-9)

	lowTech := base
	lowTech.TechnicalScore = 59.9
	assert.InDelta(t, 0.25*80+0.25*80+0.25*90, s.Fit(lowTech), 1e-9)

	risky := base
	risky.RiskScore = 41
	assert.InDelta(t, 0.25*80+0.25*70+0.25*90, s.Fit(risky), 1e-9)

	edge := base
	edge.RiskScore = 40
	edge.Confidence = 0.5
	assert.InDelta(t, 0.25*80+0.25*70+0.25*60+0.25*50, s.Fit(edge), 1e-9)

	none := models.AnalysisResult{RiskScore: 100}
	assert.Zero(t, s.Fit(none))
}

func TestEnsembleScorer_ScoreReranks(t *testing.T) {
	t.Parallel()

	e := NewEnsembleScorer(DefaultStrategies())
	pool := []models.AnalysisResult{
		{InstrumentID: "WEAK", TotalScore: 30, TechnicalScore: 20, RiskScore: 70, Confidence: 0.3},
		{InstrumentID: "STRONG", TotalScore: 80, TechnicalScore: 85, RiskScore: 20, Confidence: 0.9},
		{InstrumentID: "MID_B", TotalScore: 60, TechnicalScore: 60, RiskScore: 40, Confidence: 0.6},
		{InstrumentID: "MID_A", TotalScore: 60, TechnicalScore: 60, RiskScore: 40, Confidence: 0.6},
	}
	got := e.Score(pool, models.RegimeBullTrending)
	require.Len(t, got, 4)
	assert.Equal(t, []string{"STRONG", "MID_A", "MID_B", "WEAK"},
		[]string{got[0].InstrumentID, got[1].InstrumentID, got[2].InstrumentID, got[3].InstrumentID})
	for _, r := range got {
		assert.Equal(t, r.EnsembleScore, r.TotalScore)
		assert.GreaterOrEqual(t, r.EnsembleScore, 0.0)
		assert.LessOrEqual(t, r.EnsembleScore, 100.0)
	}
	assert.Equal(t, 80.0, got[0].PriceAttractiveness)
	// input is not mutated
	assert.Equal(t, 30.0, pool[0].TotalScore)
}

func TestEnsembleScorer_NoStrategies(t *testing.T) {
	t.Parallel()

	e := NewEnsembleScorer(nil)
	assert.Empty(t, e.Weights(models.RegimeBullTrending))
	got := e.Score([]models.AnalysisResult{{InstrumentID: "X", TotalScore: 50}}, models.RegimeBullTrending)
	require.Len(t, got, 1)
	assert.Zero(t, got[0].EnsembleScore)
}
