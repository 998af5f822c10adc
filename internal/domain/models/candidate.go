package models

// Candidate is one watchlist instrument under evaluation for a run.
type Candidate struct {
	InstrumentID  string    `json:"instrument_id"`
	DisplayName   string    `json:"display_name"`
	Sector        string    `json:"sector"`
	MarketCap     float64   `json:"market_cap"`
	RecentCloses  []float64 `json:"recent_closes,omitempty"`
	RecentVolumes []float64 `json:"recent_volumes,omitempty"`
	CurrentPrice  float64   `json:"current_price"`
}

// PriorityScore is the pre-distribution ranking value of a candidate.
type PriorityScore struct {
	InstrumentID string  `json:"instrument_id"`
	Value        float64 `json:"value"`
}

// RankedCandidate pairs a candidate with its priority score.
// Defaulted lists the inputs that fell back to the neutral midpoint.
type RankedCandidate struct {
	Candidate Candidate
	Score     PriorityScore
	Defaulted []string
}

// Batch is a slice of the ranked watchlist processed as one unit.
type Batch struct {
	Index      int         `json:"batch_index"`
	Candidates []Candidate `json:"candidates"`
}

// Assignment is the serializable batch layout shared between distributed invocations.
type Assignment struct {
	RunDate string     `json:"run_date"`
	Total   int        `json:"total_batches"`
	Batches [][]string `json:"batches"`
}

// Quote is the latest price snapshot from the market-data source.
type Quote struct {
	InstrumentID string  `json:"instrument_id"`
	Price        float64 `json:"price"`
	MarketCap    float64 `json:"market_cap"`
}

// PriceHistory holds aligned OHLCV-like series, oldest first.
// Highs and Lows may be empty when the source only provides closes.
type PriceHistory struct {
	InstrumentID string    `json:"instrument_id"`
	Closes       []float64 `json:"closes"`
	Volumes      []float64 `json:"volumes"`
	Highs        []float64 `json:"highs,omitempty"`
	Lows         []float64 `json:"lows,omitempty"`
}

// Last returns the latest close or 0 for an empty series.
func (h PriceHistory) Last() float64 {
	if len(h.Closes) == 0 {
		return 0
	}
	return h.Closes[len(h.Closes)-1]
}
