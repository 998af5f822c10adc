package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"PickFlow/internal/domain/models"
	domrepo "PickFlow/internal/domain/repository"
	domsvc "PickFlow/internal/domain/service"
	"PickFlow/internal/services/analytics"
	"PickFlow/internal/services/selection"
	"PickFlow/pkg/cache"
	applogger "PickFlow/pkg/logger"
	"PickFlow/pkg/util"
)

// Run modes reported in summaries.
const (
	ModeSingle      = "single"
	ModeDistributed = "distributed"
	ModeMerge       = "merge"
)

type PipelineConfig struct {
	BatchCount int
	// LastBatchIndex is the distributed batch that triggers the merge; negative means the final batch.
	LastBatchIndex   int
	MarketIndex      string
	HistoryCount     int
	Location         *time.Location
	AssignmentTTL    time.Duration
	PrerequisiteWait time.Duration
	PrerequisitePoll time.Duration
}

// PipelineDeps are the collaborators of a SelectionPipeline. Cache, Prerequisite,
// Notifier and Metrics are optional.
type PipelineDeps struct {
	Watchlist    domrepo.Watchlist
	MarketData   domrepo.MarketData
	Store        domrepo.Store
	Cache        cache.Service
	Prerequisite domrepo.PrerequisiteSignal
	Notifier     domrepo.Notifier
	Metrics      domrepo.Metrics

	Ranker      *selection.PriorityRanker
	Distributor *selection.BatchDistributor
	Detector    domsvc.RegimeDetector
	Processor   *BatchProcessor
	Merger      *selection.ResultMerger
	Ensemble    *analytics.EnsembleScorer
	Selector    *selection.AdaptiveSelector
}

// RunResult is what one pipeline invocation produced. Selection is nil when
// the invocation did not merge.
type RunResult struct {
	Summary   models.RunSummary
	Outcomes  []models.BatchOutcome
	Selection *models.SelectionResult
}

// SelectionPipeline orchestrates ranking, distribution, batch processing,
// merge and selection in single-pass or distributed mode.
type SelectionPipeline struct {
	deps PipelineDeps
	cfg  PipelineConfig
	l    *applogger.Logger
	now  func() time.Time
	// newID generates run ids.
	newID func() string
}

type PipelineOption func(*SelectionPipeline)

func WithPipelineLogger(l *applogger.Logger) PipelineOption {
	return func(p *SelectionPipeline) {
		if l != nil {
			p.l = l
		}
	}
}

func WithPipelineClock(now func() time.Time) PipelineOption {
	return func(p *SelectionPipeline) {
		if now != nil {
			p.now = now
		}
	}
}

func NewSelectionPipeline(deps PipelineDeps, cfg PipelineConfig, opts ...PipelineOption) *SelectionPipeline {
	if cfg.BatchCount <= 0 {
		cfg.BatchCount = selection.DefaultBatchCount
	}
	if cfg.HistoryCount <= 0 {
		cfg.HistoryCount = 120
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.AssignmentTTL <= 0 {
		cfg.AssignmentTTL = 36 * time.Hour
	}
	if cfg.PrerequisitePoll <= 0 {
		cfg.PrerequisitePoll = 30 * time.Second
	}
	if deps.Ranker == nil {
		deps.Ranker = selection.NewPriorityRanker()
	}
	if deps.Distributor == nil {
		deps.Distributor = selection.NewBatchDistributor()
	}
	if deps.Detector == nil {
		deps.Detector = analytics.NewMarketRegimeDetector()
	}
	if deps.Merger == nil {
		deps.Merger = selection.NewResultMerger()
	}
	if deps.Ensemble == nil {
		deps.Ensemble = analytics.NewEnsembleScorer(analytics.DefaultStrategies())
	}
	if deps.Selector == nil {
		deps.Selector = selection.NewAdaptiveSelector(selection.DefaultSelectorConfig())
	}
	if deps.Metrics == nil {
		deps.Metrics = nopMetrics{}
	}
	p := &SelectionPipeline{
		deps:  deps,
		cfg:   cfg,
		l:     applogger.Nop(),
		now:   time.Now,
		newID: func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// LastBatchIndex resolves the merge-triggering index for total batches.
func (p *SelectionPipeline) LastBatchIndex(total int) int {
	if p.cfg.LastBatchIndex < 0 || p.cfg.LastBatchIndex >= total {
		return total - 1
	}
	return p.cfg.LastBatchIndex
}

// run carries the per-invocation state.
type run struct {
	id      string
	key     string
	asOf    time.Time
	mode    string
	start   time.Time
	md      domrepo.MarketData
	proc    *BatchProcessor
	outcome []models.BatchOutcome
}

type runScoped interface {
	ForRun(runDate string) domrepo.MarketData
}

func (p *SelectionPipeline) newRun(runDate time.Time, mode string) *run {
	asOf := util.RunDate(runDate, p.cfg.Location)
	key := util.RunDateKey(asOf)
	md := p.deps.MarketData
	if rs, ok := md.(runScoped); ok {
		md = rs.ForRun(key)
	}
	r := &run{id: p.newID(), key: key, asOf: asOf, mode: mode, start: p.now(), md: md}
	if p.deps.Processor != nil {
		r.proc = p.deps.Processor.withMarketData(md)
	}
	return r
}

// RunAll processes every batch in this process, then merges and selects.
func (p *SelectionPipeline) RunAll(ctx context.Context, runDate time.Time) (*RunResult, error) {
	r := p.newRun(runDate, ModeSingle)
	l := p.l.With(applogger.String("run_id", r.id), applogger.String("run_date", r.key))
	l.Info("run started", applogger.String("mode", r.mode), applogger.Int("batches", p.cfg.BatchCount))

	reading := p.regime(ctx, r)
	candidates := p.candidates(ctx, r)
	if candidates == nil {
		// Outcomes and selection already stored for the date stay untouched.
		for i := 0; i < p.cfg.BatchCount; i++ {
			r.outcome = append(r.outcome, emptyOutcome(i, 0, r.asOf))
		}
		l.Warn("no selection", applogger.String("reason", "watchlist unavailable"))
		p.alert(ctx, l, "watchlist unavailable for "+r.key, models.ErrWatchlistUnavailable)
		res := &RunResult{Summary: p.summary(r, reading, -1, nil, nil), Outcomes: r.outcome}
		p.report(ctx, l, res.Summary)
		return res, nil
	}
	ranked := selection.Candidates(p.deps.Ranker.Rank(candidates))
	batches := p.deps.Distributor.Distribute(ranked, p.cfg.BatchCount)

	for _, b := range batches {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("run %s: %w", r.key, err)
		}
		r.outcome = append(r.outcome, p.processBatch(ctx, r, b, reading.Regime))
	}

	return p.finalize(ctx, r, reading, r.outcome, len(batches), -1)
}

// RunBatch processes one batch of a distributed run. Batch 0 waits for the
// prerequisite signal first. The invocation at the last batch index also
// merges every persisted outcome and selects.
func (p *SelectionPipeline) RunBatch(ctx context.Context, runDate time.Time, index, total int) (*RunResult, error) {
	if total <= 0 {
		total = p.cfg.BatchCount
	}
	if index < 0 || index >= total {
		return nil, fmt.Errorf("batch index %d out of range [0,%d)", index, total)
	}
	r := p.newRun(runDate, ModeDistributed)
	l := p.l.With(applogger.String("run_id", r.id), applogger.String("run_date", r.key), applogger.Int("batch_index", index))

	if index == 0 {
		if err := p.waitPrerequisite(ctx, r.key); err != nil {
			l.Error("prerequisite not met", applogger.Error(err))
			p.deps.Metrics.RecordError("prerequisite_timeout")
			return nil, err
		}
	}

	reading := p.regime(ctx, r)
	candidates := p.candidates(ctx, r)

	var outcome models.BatchOutcome
	if candidates == nil {
		outcome = emptyOutcome(index, 0, r.asOf)
	} else {
		assignment, err := p.assignment(ctx, r, candidates, total)
		if err != nil {
			l.Warn("assignment cache unavailable, using local assignment", applogger.Error(err))
		}
		batch, gone := selection.Resolve(assignment.Batches[index], candidates)
		batch.Index = index
		if len(gone) > 0 {
			l.Warn("assigned instruments no longer on watchlist", applogger.Strings("instrument_ids", gone))
		}
		outcome = p.processBatch(ctx, r, batch, reading.Regime)
	}
	r.outcome = []models.BatchOutcome{outcome}

	if index != p.LastBatchIndex(total) {
		res := &RunResult{Summary: p.summary(r, reading, index, nil, nil), Outcomes: r.outcome}
		p.report(ctx, l, res.Summary)
		return res, nil
	}

	stored, err := p.deps.Store.ListOutcomes(ctx, r.key)
	if err != nil {
		l.Error("list outcomes for merge", applogger.Error(err))
		p.alert(ctx, l, "merge could not read batch outcomes for "+r.key, err)
		return nil, fmt.Errorf("merge %s: %w", r.key, err)
	}
	return p.finalize(ctx, r, reading, stored, total, index)
}

// Merge reads the persisted outcomes of a run date and selects from them.
func (p *SelectionPipeline) Merge(ctx context.Context, runDate time.Time, total int) (*RunResult, error) {
	if total <= 0 {
		total = p.cfg.BatchCount
	}
	r := p.newRun(runDate, ModeMerge)
	l := p.l.With(applogger.String("run_id", r.id), applogger.String("run_date", r.key))

	stored, err := p.deps.Store.ListOutcomes(ctx, r.key)
	if err != nil {
		l.Error("list outcomes for merge", applogger.Error(err))
		p.alert(ctx, l, "merge could not read batch outcomes for "+r.key, err)
		return nil, fmt.Errorf("merge %s: %w", r.key, err)
	}
	return p.finalize(ctx, r, p.regime(ctx, r), stored, total, -1)
}

// processBatch runs and persists one batch. A failed write on both stores
// yields an empty outcome and an alert.
func (p *SelectionPipeline) processBatch(ctx context.Context, r *run, b models.Batch, regime models.MarketRegime) models.BatchOutcome {
	if r.proc == nil {
		return emptyOutcome(b.Index, len(b.Candidates), r.asOf)
	}
	outcome, _ := r.proc.Process(ctx, b, regime, r.asOf)

	if err := p.deps.Store.SaveOutcome(ctx, r.key, outcome); err != nil {
		l := p.l.With(applogger.String("run_id", r.id), applogger.String("run_date", r.key), applogger.Int("batch_index", b.Index))
		l.Error("persist batch outcome", applogger.Error(err))
		p.deps.Metrics.RecordError("outcome_write")
		p.alert(ctx, l, fmt.Sprintf("batch %d outcome for %s not persisted", b.Index, r.key), err)
		empty := emptyOutcome(b.Index, outcome.TotalConsidered, r.asOf)
		empty.Succeeded, empty.Failed = outcome.Succeeded, outcome.Failed
		return empty
	}
	return outcome
}

// finalize merges outcomes, scores, selects, persists and reports.
func (p *SelectionPipeline) finalize(ctx context.Context, r *run, reading models.RegimeReading, outcomes []models.BatchOutcome, total, batchIndex int) (*RunResult, error) {
	l := p.l.With(applogger.String("run_id", r.id), applogger.String("run_date", r.key))

	selection.SortOutcomes(outcomes)
	report := p.deps.Merger.Merge(outcomes, total)
	for _, idx := range report.Missing {
		l.Warn("batch outcome missing", applogger.Int("batch_index", idx))
	}
	if report.Duplicates > 0 {
		l.Debug("duplicate instruments dropped in merge", applogger.Int("duplicates", report.Duplicates))
	}

	scored := p.deps.Ensemble.Score(report.Pool, reading.Regime)
	sel := p.deps.Selector.Select(scored, reading.Regime)
	sel.RunID = r.id
	sel.RunDate = r.key
	sel.SelectedAt = p.now()
	sel.TotalConsidered = report.TotalConsidered

	if len(sel.Selections) == 0 {
		l.Warn("no selection",
			applogger.Int("available_batches", len(report.Available)),
			applogger.Int("pool", len(report.Pool)),
		)
	}

	if err := p.deps.Store.SaveSelection(ctx, sel); err != nil {
		l.Error("persist selection", applogger.Error(err))
		p.deps.Metrics.RecordError("selection_write")
		p.alert(ctx, l, "selection for "+r.key+" not persisted", err)
		if errors.Is(err, models.ErrStorageUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", models.ErrStorageUnavailable, err)
	}
	p.deps.Metrics.RecordSelection(len(sel.Selections), sel.AverageScore)

	res := &RunResult{
		Summary:   p.summary(r, reading, batchIndex, &sel, &report),
		Outcomes:  outcomes,
		Selection: &sel,
	}
	p.report(ctx, l, res.Summary)
	return res, nil
}

// summary counts run-wide figures from the merge report when there is one,
// and from this invocation's outcomes otherwise.
func (p *SelectionPipeline) summary(r *run, reading models.RegimeReading, batchIndex int, sel *models.SelectionResult, report *selection.MergeReport) models.RunSummary {
	s := models.RunSummary{
		RunID:      r.id,
		RunDate:    r.key,
		Mode:       r.mode,
		BatchIndex: batchIndex,
		Regime:     reading.Regime,
		Elapsed:    p.now().Sub(r.start),
	}
	var succeeded int
	if report != nil {
		succeeded, s.Failed = report.Succeeded, report.Failed
		s.TotalConsidered = report.TotalConsidered
		s.MissingBatches = report.Missing
		s.SuccessRate = report.SuccessRate()
	} else {
		for _, o := range r.outcome {
			succeeded += o.Succeeded
			s.Failed += o.Failed
			s.TotalConsidered += o.TotalConsidered
		}
		if total := succeeded + s.Failed; total > 0 {
			s.SuccessRate = float64(succeeded) / float64(total)
		}
	}
	if sel != nil {
		s.Selected = len(sel.Selections)
		s.AverageScore = sel.AverageScore
	} else {
		for _, o := range r.outcome {
			s.Selected += len(o.Selected)
		}
	}
	return s
}

// report logs the run summary and forwards it to the notifier.
func (p *SelectionPipeline) report(ctx context.Context, l *applogger.Logger, s models.RunSummary) {
	l.Info("run summary",
		applogger.String("mode", s.Mode),
		applogger.Int("considered", s.TotalConsidered),
		applogger.Int("selected", s.Selected),
		applogger.Int("failed", s.Failed),
		applogger.Float64("success_rate", s.SuccessRate),
		applogger.Float64("average_score", s.AverageScore),
		applogger.String("regime", string(s.Regime)),
		applogger.Ints("missing_batches", s.MissingBatches),
		applogger.Duration("elapsed", s.Elapsed),
	)
	p.deps.Metrics.RecordLatency("run_"+s.Mode, s.Elapsed.Seconds())
	if p.deps.Notifier == nil {
		return
	}
	if err := p.deps.Notifier.NotifySummary(ctx, s); err != nil {
		l.Warn("notify summary", applogger.Error(err))
	}
}

func (p *SelectionPipeline) alert(ctx context.Context, l *applogger.Logger, subject string, cause error) {
	if p.deps.Notifier == nil {
		return
	}
	if err := p.deps.Notifier.Alert(ctx, subject, cause); err != nil {
		l.Warn("send alert", applogger.Error(err))
	}
}

// candidates loads the watchlist. An unavailable watchlist is logged and yields nil.
func (p *SelectionPipeline) candidates(ctx context.Context, r *run) []models.Candidate {
	cs, err := p.deps.Watchlist.Candidates(ctx)
	if err != nil {
		p.l.Error("load watchlist", applogger.String("run_date", r.key), applogger.Error(err))
		p.deps.Metrics.RecordError("watchlist")
		return nil
	}
	if cs == nil {
		cs = []models.Candidate{}
	}
	return cs
}

// regime returns the reading shared by every invocation of the run date.
func (p *SelectionPipeline) regime(ctx context.Context, r *run) models.RegimeReading {
	key := cache.Key("regime", r.key)
	if p.deps.Cache != nil {
		var cached models.RegimeReading
		if err := p.deps.Cache.Get(ctx, key, &cached); err == nil && cached.Regime.IsValid() {
			return cached
		}
	}

	var h models.PriceHistory
	if p.cfg.MarketIndex != "" {
		var err error
		h, err = r.md.GetHistory(ctx, p.cfg.MarketIndex, domrepo.PeriodDay, p.cfg.HistoryCount)
		if err != nil {
			p.l.Warn("market index history unavailable, regime falls back",
				applogger.String("index", p.cfg.MarketIndex), applogger.Error(err))
			p.deps.Metrics.RecordError("regime_history")
		}
	}
	reading := p.deps.Detector.Detect(h)
	fields := []applogger.Field{
		applogger.String("run_date", r.key),
		applogger.String("regime", string(reading.Regime)),
		applogger.Float64("confidence", reading.Confidence),
		applogger.String("reason", reading.Reason),
	}
	if reading.Confidence == 0 {
		p.l.Warn("market regime undetermined, using fallback", fields...)
	} else {
		p.l.Info("market regime detected", fields...)
	}

	if p.deps.Cache == nil {
		return reading
	}
	shared, err := cache.GetOrSetNX(ctx, p.deps.Cache, key, reading, p.cfg.AssignmentTTL)
	if err != nil {
		p.l.Warn("regime cache unavailable", applogger.Error(err))
		return reading
	}
	return shared
}

// assignment returns the batch layout for the run date. The first writer wins;
// later invocations reuse its layout even if the watchlist changed since.
func (p *SelectionPipeline) assignment(ctx context.Context, r *run, candidates []models.Candidate, total int) (models.Assignment, error) {
	key := cache.Key("assignment", r.key, fmt.Sprint(total))
	if p.deps.Cache != nil {
		var cached models.Assignment
		if err := p.deps.Cache.Get(ctx, key, &cached); err == nil && cached.Total == total && len(cached.Batches) == total {
			return cached, nil
		}
	}

	ranked := selection.Candidates(p.deps.Ranker.Rank(candidates))
	local := p.deps.Distributor.Assign(r.key, ranked, total)
	if p.deps.Cache == nil {
		return local, nil
	}
	shared, err := cache.GetOrSetNX(ctx, p.deps.Cache, key, local, p.cfg.AssignmentTTL)
	if err != nil {
		return local, err
	}
	if shared.Total != total || len(shared.Batches) != total {
		return local, fmt.Errorf("cached assignment has %d batches, want %d", len(shared.Batches), total)
	}
	return shared, nil
}

// waitPrerequisite polls the prerequisite signal until it reports completion
// or the configured wait elapses.
func (p *SelectionPipeline) waitPrerequisite(ctx context.Context, runKey string) error {
	if p.deps.Prerequisite == nil {
		return nil
	}
	wctx := ctx
	if p.cfg.PrerequisiteWait > 0 {
		var cancel context.CancelFunc
		wctx, cancel = context.WithTimeout(ctx, p.cfg.PrerequisiteWait)
		defer cancel()
	}

	ticker := time.NewTicker(p.cfg.PrerequisitePoll)
	defer ticker.Stop()
	for {
		done, at, err := p.deps.Prerequisite.Completed(wctx, runKey)
		switch {
		case err != nil:
			p.l.Warn("prerequisite check failed", applogger.String("run_date", runKey), applogger.Error(err))
		case done:
			p.l.Info("prerequisite complete", applogger.String("run_date", runKey), applogger.Time("completed_at", at))
			return nil
		}
		select {
		case <-wctx.Done():
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w: run %s after %s", models.ErrPrerequisiteTimeout, runKey, p.cfg.PrerequisiteWait)
		case <-ticker.C:
		}
	}
}

func emptyOutcome(index, considered int, asOf time.Time) models.BatchOutcome {
	return models.BatchOutcome{
		BatchIndex:      index,
		Selected:        []models.AnalysisResult{},
		TotalConsidered: considered,
		Timestamp:       asOf,
	}
}
