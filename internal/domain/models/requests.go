package models

// Requests for the read API. Defined in domain for consistency and reuse.

type OutcomesRequest struct {
	Date string `query:"date" json:"date" validate:"omitempty,datetime=2006-01-02"`
}

type BatchTriggerRequest struct {
	RunDate      string `json:"run_date" validate:"omitempty,datetime=2006-01-02"`
	BatchIndex   int    `json:"batch_index" validate:"gte=0,lte=255"`
	TotalBatches int    `json:"total_batches" default:"18" validate:"gte=1,lte=256"`
}

// BatchTrigger is the queue payload for one distributed batch invocation.
type BatchTrigger struct {
	RunDate      string `json:"run_date"`
	BatchIndex   int    `json:"batch_index"`
	TotalBatches int    `json:"total_batches"`
}
