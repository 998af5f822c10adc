package selection

import (
	"sort"
	"time"

	"PickFlow/internal/domain/models"
	"PickFlow/internal/services/features"
)

// UnknownSector is the cap bucket for candidates without a sector.
const UnknownSector = "UNKNOWN"

// SelectorConfig holds the regime target table and the diversification cap.
type SelectorConfig struct {
	TargetCounts map[models.Bias]int
	MaxPerSector int
}

// DefaultSelectorConfig returns bullish 12, neutral 8, bearish 5 and a cap of 3 per sector.
func DefaultSelectorConfig() SelectorConfig {
	return SelectorConfig{
		TargetCounts: map[models.Bias]int{
			models.BiasBullish: 12,
			models.BiasNeutral: 8,
			models.BiasBearish: 5,
		},
		MaxPerSector: 3,
	}
}

// AdaptiveSelector greedily picks the final list under a hard sector cap.
type AdaptiveSelector struct {
	cfg SelectorConfig
	now func() time.Time
}

func NewAdaptiveSelector(cfg SelectorConfig) *AdaptiveSelector {
	def := DefaultSelectorConfig()
	if cfg.MaxPerSector <= 0 {
		cfg.MaxPerSector = def.MaxPerSector
	}
	if cfg.TargetCounts == nil {
		cfg.TargetCounts = def.TargetCounts
	}
	return &AdaptiveSelector{cfg: cfg, now: time.Now}
}

// CompositeScore = technical*0.35 + volume*0.25 + (100-risk)*0.25 + confidence*100*0.15.
func CompositeScore(r models.AnalysisResult) float64 {
	return r.TechnicalScore*0.35 + r.VolumeScore*0.25 + (100-r.RiskScore)*0.25 + r.Confidence*100*0.15
}

// TargetCount returns the number of picks for the regime.
func (s *AdaptiveSelector) TargetCount(regime models.MarketRegime) int {
	return s.cfg.TargetCounts[regime.Bias()]
}

// Select ranks the pool by composite score and walks it greedily, skipping capped sectors.
func (s *AdaptiveSelector) Select(pool []models.AnalysisResult, regime models.MarketRegime) models.SelectionResult {
	ranked := make([]models.AnalysisResult, len(pool))
	for i, r := range pool {
		r.CompositeScore = CompositeScore(r)
		ranked[i] = r
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.CompositeScore != b.CompositeScore {
			return a.CompositeScore > b.CompositeScore
		}
		if a.TotalScore != b.TotalScore {
			return a.TotalScore > b.TotalScore
		}
		return a.InstrumentID < b.InstrumentID
	})

	target := s.TargetCount(regime)
	res := models.SelectionResult{
		MarketCondition:    regime,
		SelectedAt:         s.now(),
		Selections:         make([]models.AnalysisResult, 0, target),
		SectorDistribution: make(map[string]int),
		TotalConsidered:    len(pool),
		TargetCount:        target,
	}

	scores := make([]float64, 0, target)
	for _, r := range ranked {
		if len(res.Selections) >= target {
			break
		}
		sector := r.Sector
		if sector == "" {
			sector = UnknownSector
		}
		if res.SectorDistribution[sector] >= s.cfg.MaxPerSector {
			continue
		}
		res.SectorDistribution[sector]++
		res.Selections = append(res.Selections, r)
		scores = append(scores, r.CompositeScore)
	}
	res.AverageScore = features.Mean(scores)
	return res
}
