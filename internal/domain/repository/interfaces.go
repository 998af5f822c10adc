package repository

import (
	"context"
	"time"

	"PickFlow/internal/domain/models"
)

// MarketData is the upstream price source. Implementations apply their own throttling.
type MarketData interface {
	GetCurrentPrice(ctx context.Context, instrumentID string) (models.Quote, error)
	GetHistory(ctx context.Context, instrumentID string, period Period, count int) (models.PriceHistory, error)
}

// Watchlist supplies the active candidates for a run. It is read-only for the pipeline.
type Watchlist interface {
	Candidates(ctx context.Context) ([]models.Candidate, error)
}

type OutcomeStore interface {
	SaveOutcome(ctx context.Context, runDate string, o models.BatchOutcome) error
	ListOutcomes(ctx context.Context, runDate string) ([]models.BatchOutcome, error)
}

type SelectionStore interface {
	SaveSelection(ctx context.Context, s models.SelectionResult) error
	LatestSelection(ctx context.Context) (*models.SelectionResult, error)
}

// FailureSink persists failure lists produced by bulk operations.
type FailureSink interface {
	SaveFailures(ctx context.Context, operation string, at time.Time, records []models.FailureRecord) error
}

type Store interface {
	OutcomeStore
	SelectionStore
	FailureSink
	Init(ctx context.Context) error // ensure tables, directories
	Health(ctx context.Context) error
	Close() error
}

// Notifier delivers run summaries and alerts. Errors are never fatal to a run.
type Notifier interface {
	NotifySummary(ctx context.Context, s models.RunSummary) error
	Alert(ctx context.Context, subject string, cause error) error
}

// PrerequisiteSignal reports whether the upstream stage finished for a run date.
type PrerequisiteSignal interface {
	Completed(ctx context.Context, runDate string) (bool, time.Time, error)
}

type Metrics interface {
	RecordCandidate(result string)
	RecordBatch(index int, seconds float64, successRate float64)
	RecordSelection(count int, averageScore float64)
	RecordError(kind string)
	RecordLatency(op string, seconds float64)
}
