package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"PickFlow/internal/domain/models"
)

type sinkCall struct {
	operation string
	at        time.Time
	records   []models.FailureRecord
}

type recordingSink struct {
	mu    sync.Mutex
	calls []sinkCall
	err   error
}

func (s *recordingSink) SaveFailures(_ context.Context, op string, at time.Time, recs []models.FailureRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, sinkCall{op, at, recs})
	return s.err
}

func TestFailureAggregator_Rates(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		successes  int
		failures   int
		wantRate   float64
		acceptable bool
	}{
		{"empty is zero and not acceptable", 0, 0, 0, false},
		{"all good", 10, 0, 1, true},
		{"exactly at floor", 9, 1, 0.9, true},
		{"just below floor", 89, 11, 0.89, false},
		{"all failed", 0, 3, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewFailureAggregator("op", 0.9, nil, nil)
			for i := 0; i < tt.successes; i++ {
				a.RecordSuccess()
			}
			for i := 0; i < tt.failures; i++ {
				a.RecordFailure(fmt.Sprintf("id-%d", i), errors.New("boom"))
			}
			assert.InDelta(t, tt.wantRate, a.SuccessRate(), 1e-12)
			assert.Equal(t, tt.acceptable, a.IsAcceptable())
			assert.Len(t, a.Failures(), tt.failures)
		})
	}
}

func TestFailureAggregator_DefaultFloor(t *testing.T) {
	t.Parallel()

	a := NewFailureAggregator("op", 0, nil, nil)
	for i := 0; i < 9; i++ {
		a.RecordSuccess()
	}
	a.RecordFailure("x", nil)
	assert.True(t, a.IsAcceptable())
	assert.Equal(t, "unknown error", a.Failures()[0].ErrorMessage)
}

func TestFailureAggregator_Concurrent(t *testing.T) {
	t.Parallel()

	a := NewFailureAggregator("op", 0.5, nil, nil)
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%4 == 0 {
				a.RecordFailure(fmt.Sprint(i), errors.New("x"))
				return
			}
			a.RecordSuccess()
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 75, a.Successes())
	assert.Len(t, a.Failures(), 25)
	assert.InDelta(t, 0.75, a.SuccessRate(), 1e-12)
}

func TestFailureAggregator_Finish(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{err: errors.New("sink down")}
	a := NewFailureAggregator("batch_2", 0.9, sink, nil)
	a.RecordSuccess()
	a.RecordFailure("6758", errors.New("timeout"))
	at := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)

	sum := a.Finish(context.Background(), at)

	assert.Equal(t, "batch_2", sum.Operation)
	assert.Equal(t, 1, sum.Successes)
	assert.InDelta(t, 0.5, sum.SuccessRate, 1e-12)
	assert.False(t, sum.Acceptable)
	assert.Equal(t, at, sum.FinishedAt)

	require.Len(t, sink.calls, 1)
	assert.Equal(t, "batch_2", sink.calls[0].operation)
	assert.Equal(t, []models.FailureRecord{{ItemID: "6758", ErrorMessage: "timeout"}}, sink.calls[0].records)
}

func TestFailureAggregator_FinishSkipsSinkWithoutFailures(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{}
	a := NewFailureAggregator("batch_0", 0.9, sink, nil)
	a.RecordSuccess()

	sum := a.Finish(context.Background(), time.Now())
	assert.True(t, sum.Acceptable)
	assert.Empty(t, sink.calls)
}
