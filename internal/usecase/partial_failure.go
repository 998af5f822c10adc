package usecase

import (
	"context"
	"sync"
	"time"

	"PickFlow/internal/domain/models"
	domrepo "PickFlow/internal/domain/repository"
	applogger "PickFlow/pkg/logger"
)

// DefaultMinSuccessRate is the acceptance floor when none is configured.
const DefaultMinSuccessRate = 0.9

// FailureAggregator counts outcomes of one bulk operation. Safe for concurrent use.
type FailureAggregator struct {
	operation string
	minRate   float64
	sink      domrepo.FailureSink
	l         *applogger.Logger

	mu        sync.Mutex
	successes int
	failures  []models.FailureRecord
}

// NewFailureAggregator creates an aggregator. sink may be nil; minRate <= 0 uses the default.
func NewFailureAggregator(operation string, minRate float64, sink domrepo.FailureSink, l *applogger.Logger) *FailureAggregator {
	if minRate <= 0 {
		minRate = DefaultMinSuccessRate
	}
	if l == nil {
		l = applogger.Nop()
	}
	return &FailureAggregator{operation: operation, minRate: minRate, sink: sink, l: l}
}

func (a *FailureAggregator) RecordSuccess() {
	a.mu.Lock()
	a.successes++
	a.mu.Unlock()
}

func (a *FailureAggregator) RecordFailure(itemID string, err error) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	a.mu.Lock()
	a.failures = append(a.failures, models.FailureRecord{ItemID: itemID, ErrorMessage: msg})
	a.mu.Unlock()
}

// SuccessRate is successes/total, or 0 when nothing was recorded.
func (a *FailureAggregator) SuccessRate() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.rateLocked()
}

func (a *FailureAggregator) rateLocked() float64 {
	total := a.successes + len(a.failures)
	if total == 0 {
		return 0
	}
	return float64(a.successes) / float64(total)
}

// IsAcceptable reports SuccessRate() >= the configured minimum.
func (a *FailureAggregator) IsAcceptable() bool {
	return a.SuccessRate() >= a.minRate
}

func (a *FailureAggregator) Successes() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.successes
}

// Failures returns a copy of the recorded failures.
func (a *FailureAggregator) Failures() []models.FailureRecord {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]models.FailureRecord, len(a.failures))
	copy(out, a.failures)
	return out
}

// Finish logs the summary and persists the failure list. Sink errors are logged, not returned.
func (a *FailureAggregator) Finish(ctx context.Context, at time.Time) models.FailureSummary {
	a.mu.Lock()
	sum := models.FailureSummary{
		Operation:   a.operation,
		Successes:   a.successes,
		Failures:    append([]models.FailureRecord(nil), a.failures...),
		SuccessRate: a.rateLocked(),
		FinishedAt:  at,
	}
	a.mu.Unlock()
	sum.Acceptable = sum.SuccessRate >= a.minRate

	fields := []applogger.Field{
		applogger.String("operation", a.operation),
		applogger.Int("successes", sum.Successes),
		applogger.Int("failures", len(sum.Failures)),
		applogger.Float64("success_rate", sum.SuccessRate),
		applogger.Float64("min_success_rate", a.minRate),
	}
	if sum.Acceptable {
		a.l.Info("operation finished", fields...)
	} else {
		a.l.Warn("operation below success-rate floor", fields...)
	}

	if a.sink != nil && len(sum.Failures) > 0 {
		if err := a.sink.SaveFailures(ctx, a.operation, at, sum.Failures); err != nil {
			a.l.Error("persist failures", applogger.String("operation", a.operation), applogger.Error(err))
		}
	}
	return sum
}
