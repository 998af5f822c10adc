package selection

import (
	"sort"

	"PickFlow/internal/domain/models"
)

// MergeReport is the deduplicated pool plus bookkeeping about which batches were seen.
type MergeReport struct {
	Pool            []models.AnalysisResult
	Available       []int
	Missing         []int
	TotalConsidered int
	Succeeded       int
	Failed          int
	Duplicates      int
}

// ResultMerger combines batch outcomes into one candidate pool.
type ResultMerger struct{}

func NewResultMerger() *ResultMerger { return &ResultMerger{} }

// Merge walks batch indices 0..total-1 in order and keeps the first result per instrument.
// Absent indices are reported in Missing; outcomes outside the range or repeated are ignored.
func (m *ResultMerger) Merge(outcomes []models.BatchOutcome, total int) MergeReport {
	byIndex := make(map[int]models.BatchOutcome, len(outcomes))
	for _, o := range outcomes {
		if o.BatchIndex < 0 || o.BatchIndex >= total {
			continue
		}
		if _, seen := byIndex[o.BatchIndex]; seen {
			continue
		}
		byIndex[o.BatchIndex] = o
	}

	report := MergeReport{Pool: make([]models.AnalysisResult, 0)}
	seen := make(map[string]struct{})
	for i := 0; i < total; i++ {
		o, ok := byIndex[i]
		if !ok {
			report.Missing = append(report.Missing, i)
			continue
		}
		report.Available = append(report.Available, i)
		report.TotalConsidered += o.TotalConsidered
		report.Succeeded += o.Succeeded
		report.Failed += o.Failed
		for _, r := range o.Selected {
			if _, dup := seen[r.InstrumentID]; dup {
				report.Duplicates++
				continue
			}
			seen[r.InstrumentID] = struct{}{}
			report.Pool = append(report.Pool, r)
		}
	}
	return report
}

// SuccessRate is the share of processed candidates that did not fail. It is 0
// when nothing was processed.
func (r MergeReport) SuccessRate() float64 {
	total := r.Succeeded + r.Failed
	if total == 0 {
		return 0
	}
	return float64(r.Succeeded) / float64(total)
}

// SortOutcomes orders outcomes by batch index, in place.
func SortOutcomes(outcomes []models.BatchOutcome) {
	sort.SliceStable(outcomes, func(i, j int) bool { return outcomes[i].BatchIndex < outcomes[j].BatchIndex })
}
