package models

import "time"

// AnalysisResult is the per-candidate output of attractiveness analysis.
type AnalysisResult struct {
	InstrumentID    string  `json:"instrument_id"`
	DisplayName     string  `json:"display_name,omitempty"`
	TotalScore      float64 `json:"total_score"`
	TechnicalScore  float64 `json:"technical_score"`
	VolumeScore     float64 `json:"volume_score"`
	RiskScore       float64 `json:"risk_score"`
	Confidence      float64 `json:"confidence"`
	EntryPrice      float64 `json:"entry_price"`
	TargetPrice     float64 `json:"target_price"`
	StopLoss        float64 `json:"stop_loss"`
	ExpectedReturn  float64 `json:"expected_return"`
	Sector          string  `json:"sector"`
	SelectionReason string  `json:"selection_reason"`

	// Filled in after the merge.
	PriceAttractiveness float64 `json:"price_attractiveness,omitempty"`
	EnsembleScore       float64 `json:"ensemble_score,omitempty"`
	CompositeScore      float64 `json:"composite_score,omitempty"`
}

// BatchOutcome is the durable result of processing one batch.
type BatchOutcome struct {
	BatchIndex      int              `json:"batch_index"`
	Selected        []AnalysisResult `json:"selected"`
	TotalConsidered int              `json:"total_considered"`
	// Succeeded and Failed count candidates that were evaluated or failed.
	Succeeded int       `json:"succeeded"`
	Failed    int       `json:"failed"`
	Timestamp time.Time `json:"timestamp"`
}

// FailureRecord captures a single item failure of a bulk operation.
type FailureRecord struct {
	ItemID       string `json:"item_id"`
	ErrorMessage string `json:"error_message"`
}

// FailureSummary is what an aggregator reports once an operation completes.
type FailureSummary struct {
	Operation   string          `json:"operation"`
	Successes   int             `json:"successes"`
	Failures    []FailureRecord `json:"failures"`
	SuccessRate float64         `json:"success_rate"`
	Acceptable  bool            `json:"acceptable"`
	FinishedAt  time.Time       `json:"finished_at"`
}

// TrendMode is the rule set picked by the trend filter for a given history length.
type TrendMode string

const (
	TrendUnanalyzable TrendMode = "UNANALYZABLE"
	TrendMinimal      TrendMode = "MINIMAL"
	TrendShort        TrendMode = "SHORT"
	TrendMedium       TrendMode = "MEDIUM"
	TrendFull         TrendMode = "FULL"
)

// TrendResult is the verdict of the trend pre-filter.
type TrendResult struct {
	Mode         TrendMode `json:"mode"`
	Passed       bool      `json:"passed"`
	Aligned      bool      `json:"aligned"`
	Strength     float64   `json:"strength"`
	DurationDays int       `json:"duration_days"`
	Momentum     float64   `json:"momentum"`
	Reason       string    `json:"reason"`
}
