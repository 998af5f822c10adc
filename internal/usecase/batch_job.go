package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"PickFlow/internal/domain/models"
	applogger "PickFlow/pkg/logger"
	"PickFlow/pkg/queue"
	"PickFlow/pkg/util"
)

// BatchJobType is the queue message type of a distributed batch trigger.
const BatchJobType = "pipeline.batch"

// BatchDedupeKey identifies one trigger so it is enqueued at most once per run date.
func BatchDedupeKey(t models.BatchTrigger) string {
	return fmt.Sprintf("%s:%d:%d", t.RunDate, t.BatchIndex, t.TotalBatches)
}

type batchRunner interface {
	RunBatch(ctx context.Context, runDate time.Time, index, total int) (*RunResult, error)
}

// BatchJob runs queued batch triggers through the pipeline.
type BatchJob struct {
	runner batchRunner
	loc    *time.Location
	l      *applogger.Logger
	now    func() time.Time
}

var _ queue.Job = (*BatchJob)(nil)

func NewBatchJob(runner batchRunner, loc *time.Location, l *applogger.Logger) *BatchJob {
	if l == nil {
		l = applogger.Nop()
	}
	return &BatchJob{runner: runner, loc: loc, l: l, now: time.Now}
}

func (j *BatchJob) Name() string { return "selection-batch" }

func (j *BatchJob) Type() string { return BatchJobType }

func (j *BatchJob) Handle(ctx context.Context, payload json.RawMessage) error {
	t, err := queue.ParsePayload[models.BatchTrigger](payload)
	if err != nil {
		return err
	}
	runDate, err := util.ParseRunDate(t.RunDate, j.now(), j.loc)
	if err != nil {
		return err
	}
	j.l.Info("batch trigger received",
		applogger.String("run_date", util.RunDateKey(runDate)),
		applogger.Int("batch_index", t.BatchIndex),
		applogger.Int("total_batches", t.TotalBatches),
	)
	_, err = j.runner.RunBatch(ctx, runDate, t.BatchIndex, t.TotalBatches)
	return err
}
