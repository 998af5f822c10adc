package selection

import (
	"sort"

	"PickFlow/internal/domain/models"
	"PickFlow/internal/services/features"
)

const neutralScore = 50.0

// Volatility band (annualized %) that earns a full volatility fit.
const (
	volBandLow  = 10.0
	volBandHigh = 30.0
)

// PriorityRanker orders watchlist candidates before batch distribution.
type PriorityRanker struct{}

func NewPriorityRanker() *PriorityRanker { return &PriorityRanker{} }

// Rank scores every candidate and sorts descending, ties by instrument id.
// Missing inputs fall back to the neutral midpoint and are listed in Defaulted.
func (p *PriorityRanker) Rank(candidates []models.Candidate) []models.RankedCandidate {
	out := make([]models.RankedCandidate, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, p.score(c))
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score.Value != out[j].Score.Value {
			return out[i].Score.Value > out[j].Score.Value
		}
		return out[i].Candidate.InstrumentID < out[j].Candidate.InstrumentID
	})
	return out
}

func (p *PriorityRanker) score(c models.Candidate) models.RankedCandidate {
	var defaulted []string

	tech, ok := technical(c)
	if !ok {
		tech = neutralScore
		defaulted = append(defaulted, "technical")
	}
	vol, ok := volume(c.RecentVolumes)
	if !ok {
		vol = neutralScore
		defaulted = append(defaulted, "volume")
	}
	fit := neutralScore
	if v, ok := features.AnnualizedVolatilityPct(c.RecentCloses); ok {
		fit = VolatilityFit(v)
	} else {
		defaulted = append(defaulted, "volatility")
	}

	value := features.Clamp(tech*0.5+vol*0.3+fit*0.2, 0, 100)
	return models.RankedCandidate{
		Candidate: c,
		Score:     models.PriorityScore{InstrumentID: c.InstrumentID, Value: value},
		Defaulted: defaulted,
	}
}

// VolatilityFit maps annualized volatility (%) to [0,100]: full score inside the band,
// proportional below it, and a linear penalty above it.
func VolatilityFit(v float64) float64 {
	switch {
	case v < volBandLow:
		return features.Clamp(v/volBandLow*100, 0, 100)
	case v <= volBandHigh:
		return 100
	default:
		return features.Clamp(100-2*(v-volBandHigh), 0, 100)
	}
}

func technical(c models.Candidate) (float64, bool) {
	closes := c.RecentCloses
	if len(closes) < 5 {
		return 0, false
	}
	price := c.CurrentPrice
	if price <= 0 {
		price = closes[len(closes)-1]
	}
	period := 20
	if len(closes) < period {
		period = len(closes)
	}
	ma := features.SMA(closes, period)
	if ma <= 0 {
		return 0, false
	}
	dist := (price/ma - 1) * 100
	// ROC5 needs six closes; with exactly five the window shrinks to four bars.
	window := 5
	if len(closes) <= window {
		window = len(closes) - 1
	}
	return features.Clamp(50+2*dist+2*features.ROC(closes, window), 0, 100), true
}

func volume(volumes []float64) (float64, bool) {
	if len(volumes) < 2 {
		return 0, false
	}
	prev := volumes[:len(volumes)-1]
	if len(prev) > 20 {
		prev = prev[len(prev)-20:]
	}
	avg := features.Mean(prev)
	if avg <= 0 {
		return 0, false
	}
	return features.Clamp(volumes[len(volumes)-1]/avg*50, 0, 100), true
}
