package models

import "time"

// SelectionResult is the final diversified list for a run date.
type SelectionResult struct {
	RunID              string           `json:"run_id"`
	RunDate            string           `json:"run_date"`
	MarketCondition    MarketRegime     `json:"market_condition"`
	SelectedAt         time.Time        `json:"selected_at"`
	Selections         []AnalysisResult `json:"selections"`
	SectorDistribution map[string]int   `json:"sector_distribution"`
	AverageScore       float64          `json:"average_score"`
	TotalConsidered    int              `json:"total_considered"`
	TargetCount        int              `json:"target_count"`
}

// RunSummary is logged at the end of every run and sent to the notifier.
type RunSummary struct {
	RunID           string        `json:"run_id"`
	RunDate         string        `json:"run_date"`
	Mode            string        `json:"mode"` // "single", "distributed"
	BatchIndex      int           `json:"batch_index"`
	TotalConsidered int           `json:"total_considered"`
	Selected        int           `json:"selected"`
	Failed          int           `json:"failed"`
	SuccessRate     float64       `json:"success_rate"`
	AverageScore    float64       `json:"average_score"`
	Regime          MarketRegime  `json:"regime"`
	MissingBatches  []int         `json:"missing_batches,omitempty"`
	Elapsed         time.Duration `json:"elapsed"`
}
