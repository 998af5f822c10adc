package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"PickFlow/internal/domain/models"
	domrepo "PickFlow/internal/domain/repository"
	applogger "PickFlow/pkg/logger"
)

// FallbackStore writes to the primary store and falls back to a secondary one
// when the primary fails. Reads consult both so that artifacts written during
// a primary outage stay visible. Only a failure of both stores is an error.
type FallbackStore struct {
	primary  domrepo.Store
	fallback domrepo.Store
	l        *applogger.Logger
	metrics  domrepo.Metrics
}

var _ domrepo.Store = (*FallbackStore)(nil)

type FallbackOption func(*FallbackStore)

func WithFallbackLogger(l *applogger.Logger) FallbackOption {
	return func(s *FallbackStore) {
		if l != nil {
			s.l = l
		}
	}
}

func WithFallbackMetrics(m domrepo.Metrics) FallbackOption {
	return func(s *FallbackStore) { s.metrics = m }
}

func NewFallbackStore(primary, fallback domrepo.Store, opts ...FallbackOption) *FallbackStore {
	s := &FallbackStore{primary: primary, fallback: fallback, l: applogger.Nop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *FallbackStore) Init(ctx context.Context) error {
	perr := s.primary.Init(ctx)
	if perr != nil {
		s.l.Warn("primary store init failed", applogger.Error(perr))
	}
	ferr := s.fallback.Init(ctx)
	if ferr != nil {
		s.l.Warn("fallback store init failed", applogger.Error(ferr))
	}
	return bothFailed("init", perr, ferr)
}

func (s *FallbackStore) SaveOutcome(ctx context.Context, runDate string, o models.BatchOutcome) error {
	return s.write("save_outcome", func(st domrepo.Store) error {
		return st.SaveOutcome(ctx, runDate, o)
	}, applogger.String("run_date", runDate), applogger.Int("batch_index", o.BatchIndex))
}

func (s *FallbackStore) SaveSelection(ctx context.Context, sel models.SelectionResult) error {
	return s.write("save_selection", func(st domrepo.Store) error {
		return st.SaveSelection(ctx, sel)
	}, applogger.String("run_date", sel.RunDate), applogger.String("run_id", sel.RunID))
}

func (s *FallbackStore) SaveFailures(ctx context.Context, operation string, at time.Time, records []models.FailureRecord) error {
	return s.write("save_failures", func(st domrepo.Store) error {
		return st.SaveFailures(ctx, operation, at, records)
	}, applogger.String("operation", operation))
}

// ListOutcomes unions both stores by batch index; the primary copy wins.
func (s *FallbackStore) ListOutcomes(ctx context.Context, runDate string) ([]models.BatchOutcome, error) {
	p, perr := s.primary.ListOutcomes(ctx, runDate)
	if perr != nil {
		s.l.Warn("primary store list_outcomes failed", applogger.String("run_date", runDate), applogger.Error(perr))
	}
	f, ferr := s.fallback.ListOutcomes(ctx, runDate)
	if ferr != nil {
		s.l.Warn("fallback store list_outcomes failed", applogger.String("run_date", runDate), applogger.Error(ferr))
	}
	if err := bothFailed("list outcomes", perr, ferr); err != nil {
		return nil, err
	}

	seen := make(map[int]bool, len(p)+len(f))
	out := make([]models.BatchOutcome, 0, len(p)+len(f))
	for _, o := range append(p, f...) {
		if seen[o.BatchIndex] {
			continue
		}
		seen[o.BatchIndex] = true
		out = append(out, o)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].BatchIndex < out[j].BatchIndex })
	return out, nil
}

// LatestSelection returns the newer of the two stores' latest selections.
func (s *FallbackStore) LatestSelection(ctx context.Context) (*models.SelectionResult, error) {
	p, perr := s.primary.LatestSelection(ctx)
	f, ferr := s.fallback.LatestSelection(ctx)
	if errors.Is(perr, models.ErrNotFound) && errors.Is(ferr, models.ErrNotFound) {
		return nil, models.ErrNotFound
	}
	if perr != nil && !errors.Is(perr, models.ErrNotFound) {
		s.l.Warn("primary store latest_selection failed", applogger.Error(perr))
	}
	if ferr != nil && !errors.Is(ferr, models.ErrNotFound) {
		s.l.Warn("fallback store latest_selection failed", applogger.Error(ferr))
	}
	switch {
	case p != nil && f != nil:
		if newer(f, p) {
			return f, nil
		}
		return p, nil
	case p != nil:
		return p, nil
	case f != nil:
		return f, nil
	}
	if err := bothFailed("latest selection", notFoundAsNil(perr), notFoundAsNil(ferr)); err != nil {
		return nil, err
	}
	return nil, models.ErrNotFound
}

// Health reports healthy while at least one store is reachable.
func (s *FallbackStore) Health(ctx context.Context) error {
	perr := s.primary.Health(ctx)
	if perr == nil {
		return nil
	}
	return bothFailed("health", perr, s.fallback.Health(ctx))
}

func (s *FallbackStore) Close() error {
	return errors.Join(s.primary.Close(), s.fallback.Close())
}

func (s *FallbackStore) write(op string, fn func(domrepo.Store) error, fields ...applogger.Field) error {
	perr := fn(s.primary)
	if perr == nil {
		return nil
	}
	s.l.Warn("primary store write failed, using fallback",
		append(fields, applogger.String("op", op), applogger.Error(perr))...)
	if s.metrics != nil {
		s.metrics.RecordError("store_fallback")
	}
	ferr := fn(s.fallback)
	if ferr == nil {
		return nil
	}
	s.l.Error("fallback store write failed",
		append(fields, applogger.String("op", op), applogger.Error(ferr))...)
	if s.metrics != nil {
		s.metrics.RecordError("store_unavailable")
	}
	return bothFailed(op, perr, ferr)
}

func bothFailed(op string, perr, ferr error) error {
	if perr == nil || ferr == nil {
		return nil
	}
	return fmt.Errorf("%s: %w (primary: %v; fallback: %v)", op, models.ErrStorageUnavailable, perr, ferr)
}

func notFoundAsNil(err error) error {
	if errors.Is(err, models.ErrNotFound) {
		return nil
	}
	return err
}

func newer(a, b *models.SelectionResult) bool {
	if a.RunDate != b.RunDate {
		return a.RunDate > b.RunDate
	}
	return a.SelectedAt.After(b.SelectedAt)
}
