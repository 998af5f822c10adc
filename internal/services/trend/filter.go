package trend

import (
	"fmt"
	"strings"

	"PickFlow/internal/domain/models"
	domsvc "PickFlow/internal/domain/service"
	"PickFlow/internal/services/features"
)

// Thresholds are the per-mode acceptance limits.
type Thresholds struct {
	MinStrength float64
	MinDuration int
	MinMomentum float64
}

// ModeRules describes how a mode evaluates a close series.
type ModeRules struct {
	Mode            models.TrendMode
	MinPoints       int
	MAPeriods       []int // shortest first
	DurationPeriod  int
	MomentumWindows []int
	MomentumWeights []float64
	Thresholds      Thresholds
}

// DefaultRules is ordered from the loosest mode to the strictest.
// Thresholds never increase as available history shrinks.
var DefaultRules = []ModeRules{
	{
		Mode:            models.TrendMinimal,
		MinPoints:       10,
		MAPeriods:       []int{5},
		DurationPeriod:  5,
		MomentumWindows: []int{3, 5},
		MomentumWeights: []float64{0.6, 0.4},
		Thresholds:      Thresholds{MinStrength: 0.30, MinDuration: 2, MinMomentum: 45},
	},
	{
		Mode:            models.TrendShort,
		MinPoints:       20,
		MAPeriods:       []int{5, 10},
		DurationPeriod:  10,
		MomentumWindows: []int{5, 10},
		MomentumWeights: []float64{0.6, 0.4},
		Thresholds:      Thresholds{MinStrength: 0.40, MinDuration: 3, MinMomentum: 50},
	},
	{
		Mode:            models.TrendMedium,
		MinPoints:       30,
		MAPeriods:       []int{5, 20},
		DurationPeriod:  20,
		MomentumWindows: []int{5, 10, 20},
		MomentumWeights: []float64{0.5, 0.3, 0.2},
		Thresholds:      Thresholds{MinStrength: 0.50, MinDuration: 4, MinMomentum: 55},
	},
	{
		Mode:            models.TrendFull,
		MinPoints:       60,
		MAPeriods:       []int{5, 20, 60},
		DurationPeriod:  20,
		MomentumWindows: []int{5, 10, 20},
		MomentumWeights: []float64{0.5, 0.3, 0.2},
		Thresholds:      Thresholds{MinStrength: 0.60, MinDuration: 5, MinMomentum: 60},
	},
}

const (
	slopeLookback  = 5
	risingLookback = 10
)

// Filter picks a rule set from the available history length and checks the uptrend.
type Filter struct {
	rules []ModeRules
}

// NewFilter returns a filter using the given rules, or DefaultRules when none are given.
// Rules must be sorted by ascending MinPoints.
func NewFilter(rules ...ModeRules) *Filter {
	if len(rules) == 0 {
		rules = DefaultRules
	}
	return &Filter{rules: rules}
}

// RulesFor returns the rule set for n points, or false if n is below every mode.
func (f *Filter) RulesFor(n int) (ModeRules, bool) {
	var picked ModeRules
	found := false
	for _, r := range f.rules {
		if n >= r.MinPoints {
			picked = r
			found = true
		}
	}
	return picked, found
}

// Evaluate applies the adaptive trend rules to closes (oldest first).
func (f *Filter) Evaluate(closes []float64) models.TrendResult {
	rules, ok := f.RulesFor(len(closes))
	if !ok {
		return models.TrendResult{
			Mode:   models.TrendUnanalyzable,
			Reason: fmt.Sprintf("only %d data points", len(closes)),
		}
	}
	if err := features.ValidateSeries(closes); err != nil {
		return models.TrendResult{Mode: rules.Mode, Reason: err.Error()}
	}

	price := closes[len(closes)-1]
	res := models.TrendResult{Mode: rules.Mode}
	res.Aligned = aligned(closes, price, rules.MAPeriods)
	res.Strength = strength(closes, price, rules)
	res.DurationDays = daysAbove(closes, rules.DurationPeriod)
	res.Momentum = momentum(closes, rules.MomentumWindows, rules.MomentumWeights)

	th := rules.Thresholds
	strengthOK := res.Strength >= th.MinStrength
	durationOK := res.DurationDays >= th.MinDuration
	momentumOK := res.Momentum >= th.MinMomentum
	res.Passed = res.Aligned && strengthOK && durationOK && momentumOK
	res.Reason = reason(rules, res, strengthOK, durationOK, momentumOK)
	return res
}

func aligned(closes []float64, price float64, periods []int) bool {
	prev := price
	for _, p := range periods {
		ma := features.SMA(closes, p)
		if ma <= 0 || !(prev > ma) {
			return false
		}
		prev = ma
	}
	return true
}

// strength blends the duration-MA slope, the distance of price from the longest MA,
// and the fraction of rising duration-MA values. The result is in [0,1].
func strength(closes []float64, price float64, rules ModeRules) float64 {
	series := features.SMASeries(closes, rules.DurationPeriod)
	if len(series) < 2 {
		return 0
	}

	k := slopeLookback
	if k > len(series)-1 {
		k = len(series) - 1
	}
	last := series[len(series)-1]
	base := series[len(series)-1-k]
	slopePct := 0.0
	if base > 0 {
		slopePct = (last/base - 1) * 100
	}
	slope := features.Clamp(slopePct/5, 0, 1)

	longest := features.SMA(closes, rules.MAPeriods[len(rules.MAPeriods)-1])
	dist := 0.0
	if longest > 0 {
		dist = features.Clamp((price/longest-1)*100/10, 0, 1)
	}

	m := risingLookback
	if m > len(series)-1 {
		m = len(series) - 1
	}
	rising := 0
	for i := len(series) - m; i < len(series); i++ {
		if series[i] > series[i-1] {
			rising++
		}
	}
	risingFrac := float64(rising) / float64(m)

	return features.Clamp(0.4*slope+0.3*dist+0.3*risingFrac, 0, 1)
}

// daysAbove counts consecutive latest closes above their moving average.
func daysAbove(closes []float64, period int) int {
	series := features.SMASeries(closes, period)
	offset := period - 1
	days := 0
	for i := len(series) - 1; i >= 0; i-- {
		if closes[i+offset] <= series[i] {
			break
		}
		days++
	}
	return days
}

func momentum(closes []float64, windows []int, weights []float64) float64 {
	blend, total := 0.0, 0.0
	for i, w := range windows {
		if len(closes) <= w {
			continue
		}
		blend += weights[i] * features.ROC(closes, w)
		total += weights[i]
	}
	if total == 0 {
		return 50
	}
	return features.Clamp(50+5*blend/total, 0, 100)
}

func reason(rules ModeRules, res models.TrendResult, strengthOK, durationOK, momentumOK bool) string {
	th := rules.Thresholds
	parts := make([]string, 0, 4)
	if res.Aligned {
		parts = append(parts, "MA aligned")
	} else {
		parts = append(parts, "MA not aligned")
	}
	parts = append(parts, fmt.Sprintf("strength %.2f%s%.2f", res.Strength, cmp(strengthOK), th.MinStrength))
	parts = append(parts, fmt.Sprintf("%dd above MA%d%s%d", res.DurationDays, rules.DurationPeriod, cmp(durationOK), th.MinDuration))
	parts = append(parts, fmt.Sprintf("momentum %.0f%s%.0f", res.Momentum, cmp(momentumOK), th.MinMomentum))
	return fmt.Sprintf("%s: %s", rules.Mode, strings.Join(parts, ", "))
}

func cmp(ok bool) string {
	if ok {
		return ">="
	}
	return "<"
}

var _ domsvc.TrendEvaluator = (*Filter)(nil)
