package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"PickFlow/internal/domain/models"
)

// setupGormStore prepares an in-memory SQLite store for testing.
func setupGormStore(t *testing.T) *GormStore {
	t.Helper()

	db, err := OpenSQLite(":memory:")
	require.NoError(t, err, "failed to open test database")

	s := NewGormStore(db)
	require.NoError(t, s.Init(context.Background()), "failed to migrate tables")
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestGormStore_OutcomeUpsert(t *testing.T) {
	s := setupGormStore(t)
	ctx := context.Background()
	ts := time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.SaveOutcome(ctx, "2025-03-14", models.BatchOutcome{BatchIndex: 2, TotalConsidered: 20, Timestamp: ts}))
	require.NoError(t, s.SaveOutcome(ctx, "2025-03-14", models.BatchOutcome{BatchIndex: 0, TotalConsidered: 20, Timestamp: ts}))
	require.NoError(t, s.SaveOutcome(ctx, "2025-03-13", models.BatchOutcome{BatchIndex: 0, TotalConsidered: 5, Timestamp: ts}))

	// Re-running a batch replaces its row.
	require.NoError(t, s.SaveOutcome(ctx, "2025-03-14", models.BatchOutcome{
		BatchIndex:      2,
		TotalConsidered: 20,
		Selected:        []models.AnalysisResult{{InstrumentID: "8306"}},
		Timestamp:       ts,
	}))

	got, err := s.ListOutcomes(ctx, "2025-03-14")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 0, got[0].BatchIndex)
	assert.Equal(t, 2, got[1].BatchIndex)
	require.Len(t, got[1].Selected, 1)
	assert.Equal(t, "8306", got[1].Selected[0].InstrumentID)
	assert.True(t, ts.Equal(got[1].Timestamp))
}

func TestGormStore_ListOutcomesUnknownDate(t *testing.T) {
	s := setupGormStore(t)

	got, err := s.ListOutcomes(context.Background(), "2020-01-01")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestGormStore_LatestSelection(t *testing.T) {
	s := setupGormStore(t)
	ctx := context.Background()

	_, err := s.LatestSelection(ctx)
	assert.ErrorIs(t, err, models.ErrNotFound)

	base := time.Date(2025, 3, 13, 8, 0, 0, 0, time.UTC)
	require.NoError(t, s.SaveSelection(ctx, models.SelectionResult{RunID: "a", RunDate: "2025-03-13", SelectedAt: base}))
	require.NoError(t, s.SaveSelection(ctx, models.SelectionResult{RunID: "b", RunDate: "2025-03-14", SelectedAt: base.Add(24 * time.Hour)}))
	require.NoError(t, s.SaveSelection(ctx, models.SelectionResult{
		RunID:           "c",
		RunDate:         "2025-03-14",
		SelectedAt:      base.Add(25 * time.Hour),
		MarketCondition: models.RegimeSidewaysLowVol,
		TargetCount:     8,
	}))

	got, err := s.LatestSelection(ctx)
	require.NoError(t, err)
	assert.Equal(t, "c", got.RunID)
	assert.Equal(t, models.RegimeSidewaysLowVol, got.MarketCondition)
	assert.Equal(t, 8, got.TargetCount)
}

func TestGormStore_SaveFailures(t *testing.T) {
	s := setupGormStore(t)
	ctx := context.Background()
	at := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)

	require.NoError(t, s.SaveFailures(ctx, "batch_1", at, nil))
	require.NoError(t, s.SaveFailures(ctx, "batch_1", at, []models.FailureRecord{
		{ItemID: "6758", ErrorMessage: "timeout"},
		{ItemID: "9984", ErrorMessage: "not found"},
	}))

	var rows []FailureModel
	require.NoError(t, s.db.Order("item_id").Find(&rows).Error)
	require.Len(t, rows, 2)
	assert.Equal(t, "batch_1", rows[0].Operation)
	assert.Equal(t, "6758", rows[0].ItemID)
	assert.Equal(t, "not found", rows[1].Error)
}

func TestGormStore_Health(t *testing.T) {
	s := setupGormStore(t)
	assert.NoError(t, s.Health(context.Background()))
}
