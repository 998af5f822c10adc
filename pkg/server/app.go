package server

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"PickFlow/internal/domain/models"
	"PickFlow/internal/usecase"
	"PickFlow/pkg/config"
	xhttp "PickFlow/pkg/http"
	applogger "PickFlow/pkg/logger"
	"PickFlow/pkg/queue"
	"PickFlow/pkg/util"
)

// Closer releases one infrastructure resource on shutdown.
type Closer struct {
	Name  string
	Close func() error
}

// App encapsulates the application lifecycle.
type App struct {
	cfg        *config.Config
	logger     *applogger.Logger
	pipeline   *usecase.SelectionPipeline
	httpServer *xhttp.Server
	queue      *queue.RedisQueue
	loc        *time.Location
	closers    []Closer
}

// New creates a new App. q may be nil when the batch queue is disabled.
func New(
	cfg *config.Config,
	logger *applogger.Logger,
	pipeline *usecase.SelectionPipeline,
	httpServer *xhttp.Server,
	q *queue.RedisQueue,
	closers ...Closer,
) (*App, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, fmt.Errorf("pipeline timezone: %w", err)
	}
	return &App{
		cfg:        cfg,
		logger:     logger,
		pipeline:   pipeline,
		httpServer: httpServer,
		queue:      q,
		loc:        loc,
		closers:    closers,
	}, nil
}

// Logger returns the application logger.
func (a *App) Logger() *applogger.Logger { return a.logger }

// RunDate parses a YYYY-MM-DD run date in the pipeline timezone. Empty means today.
func (a *App) RunDate(s string) (time.Time, error) {
	return util.ParseRunDate(s, time.Now(), a.loc)
}

// RunOnce processes every batch in-process and selects.
func (a *App) RunOnce(ctx context.Context, runDate time.Time) (*usecase.RunResult, error) {
	return a.pipeline.RunAll(ctx, runDate)
}

// RunBatch processes one distributed batch. total <= 0 uses the configured batch count.
func (a *App) RunBatch(ctx context.Context, runDate time.Time, index, total int) (*usecase.RunResult, error) {
	if total <= 0 {
		total = a.cfg.Pipeline.BatchCount
	}
	return a.pipeline.RunBatch(ctx, runDate, index, total)
}

// Merge selects from the outcomes already persisted for runDate.
func (a *App) Merge(ctx context.Context, runDate time.Time, total int) (*usecase.RunResult, error) {
	if total <= 0 {
		total = a.cfg.Pipeline.BatchCount
	}
	return a.pipeline.Merge(ctx, runDate, total)
}

// EnqueueAll queues one trigger per batch of runDate. Triggers already queued are skipped.
func (a *App) EnqueueAll(ctx context.Context, runDate time.Time, total int) (int, error) {
	if a.queue == nil {
		return 0, fmt.Errorf("batch queue is not enabled")
	}
	if total <= 0 {
		total = a.cfg.Pipeline.BatchCount
	}
	key := util.RunDateKey(runDate)
	queued := 0
	for i := 0; i < total; i++ {
		t := models.BatchTrigger{RunDate: key, BatchIndex: i, TotalBatches: total}
		_, ok, err := a.queue.EnqueueUnique(ctx, usecase.BatchJobType, usecase.BatchDedupeKey(t), t, a.cfg.Pipeline.AssignmentTTL)
		if err != nil {
			return queued, fmt.Errorf("enqueue batch %d: %w", i, err)
		}
		if ok {
			queued++
		}
	}
	a.logger.Info("batch triggers enqueued",
		applogger.String("run_date", key),
		applogger.Int("total_batches", total),
		applogger.Int("queued", queued),
	)
	return queued, nil
}

// Serve runs the HTTP API and, when enabled, the batch queue workers until
// ctx ends or a termination signal arrives.
func (a *App) Serve(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if a.queue != nil {
		if err := a.queue.Start(); err != nil {
			return fmt.Errorf("start queue: %w", err)
		}
	}
	if err := a.httpServer.Start(); err != nil {
		a.logger.Error("http server start error", applogger.Error(err))
		return err
	}

	var serveErr error
	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case serveErr = <-a.httpServer.Errors():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := a.httpServer.Stop(shutdownCtx); err != nil {
		a.logger.Error("http shutdown error", applogger.Error(err))
	}
	if a.queue != nil {
		if err := a.queue.Stop(shutdownCtx); err != nil {
			a.logger.Warn("queue stop error", applogger.Error(err))
		}
	}
	return serveErr
}

// Close flushes the log collector, then releases infrastructure in reverse
// construction order.
func (a *App) Close() {
	a.logger.RemoveCollector()
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.Close(); err != nil {
			a.logger.Warn("close error", applogger.String("resource", c.Name), applogger.Error(err))
		}
	}
	a.logger.Info("shutdown complete")
}
