package usecase

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"PickFlow/internal/domain/models"
	domrepo "PickFlow/internal/domain/repository"
	domsvc "PickFlow/internal/domain/service"
	applogger "PickFlow/pkg/logger"
)

// MaxConcurrency bounds outstanding fetches per batch.
const MaxConcurrency = 20

// Candidate outcome labels used for metrics.
const (
	ResultSelected       = "selected"
	ResultTrendRejected  = "trend_rejected"
	ResultSafetyRejected = "safety_rejected"
	ResultFailed         = "failed"
)

type BatchProcessorConfig struct {
	Concurrency    int
	FetchTimeout   time.Duration
	HistoryCount   int
	MaxRisk        float64
	MinVolumeScore float64
	MinSuccessRate float64
}

func DefaultBatchProcessorConfig() BatchProcessorConfig {
	return BatchProcessorConfig{
		Concurrency:    MaxConcurrency,
		FetchTimeout:   10 * time.Second,
		HistoryCount:   120,
		MaxRisk:        60,
		MinVolumeScore: 5,
		MinSuccessRate: DefaultMinSuccessRate,
	}
}

// BatchProcessor analyzes one batch concurrently and keeps the candidates that
// pass the trend pre-filter and the safety filter.
type BatchProcessor struct {
	md       domrepo.MarketData
	trend    domsvc.TrendEvaluator
	analyzer domsvc.Analyzer
	sink     domrepo.FailureSink
	metrics  domrepo.Metrics
	cfg      BatchProcessorConfig
	l        *applogger.Logger
	now      func() time.Time
}

type BatchProcessorOption func(*BatchProcessor)

func WithFailureSink(s domrepo.FailureSink) BatchProcessorOption {
	return func(p *BatchProcessor) { p.sink = s }
}

func WithProcessorMetrics(m domrepo.Metrics) BatchProcessorOption {
	return func(p *BatchProcessor) {
		if m != nil {
			p.metrics = m
		}
	}
}

func WithProcessorLogger(l *applogger.Logger) BatchProcessorOption {
	return func(p *BatchProcessor) {
		if l != nil {
			p.l = l
		}
	}
}

func NewBatchProcessor(md domrepo.MarketData, trend domsvc.TrendEvaluator, analyzer domsvc.Analyzer, cfg BatchProcessorConfig, opts ...BatchProcessorOption) *BatchProcessor {
	def := DefaultBatchProcessorConfig()
	if cfg.Concurrency <= 0 || cfg.Concurrency > MaxConcurrency {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = def.FetchTimeout
	}
	if cfg.HistoryCount <= 0 {
		cfg.HistoryCount = def.HistoryCount
	}
	if cfg.MinSuccessRate <= 0 {
		cfg.MinSuccessRate = def.MinSuccessRate
	}
	if cfg.MaxRisk <= 0 {
		cfg.MaxRisk = def.MaxRisk
	}
	p := &BatchProcessor{
		md:       md,
		trend:    trend,
		analyzer: analyzer,
		metrics:  nopMetrics{},
		cfg:      cfg,
		l:        applogger.Nop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process runs every candidate of the batch. The returned outcome carries
// asOf as its timestamp and lists selections ordered by instrument id, so
// repeated runs over unchanged inputs produce identical outcomes.
func (p *BatchProcessor) Process(ctx context.Context, batch models.Batch, regime models.MarketRegime, asOf time.Time) (models.BatchOutcome, *FailureAggregator) {
	start := p.now()
	agg := NewFailureAggregator(fmt.Sprintf("batch_%d", batch.Index), p.cfg.MinSuccessRate, p.sink, p.l)

	var (
		mu       sync.Mutex
		selected = make([]models.AnalysisResult, 0, len(batch.Candidates))
	)

	var g errgroup.Group
	g.SetLimit(p.cfg.Concurrency)
	for _, c := range batch.Candidates {
		g.Go(func() error {
			res, result, err := p.evaluate(ctx, c, regime)
			p.metrics.RecordCandidate(result)
			if err != nil {
				agg.RecordFailure(c.InstrumentID, err)
				p.l.Debug("candidate failed",
					applogger.Int("batch_index", batch.Index),
					applogger.String("instrument_id", c.InstrumentID),
					applogger.Error(err),
				)
				return nil
			}
			agg.RecordSuccess()
			if result == ResultSelected {
				mu.Lock()
				selected = append(selected, res)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(selected, func(i, j int) bool { return selected[i].InstrumentID < selected[j].InstrumentID })

	summary := agg.Finish(ctx, p.now())
	elapsed := p.now().Sub(start)
	p.metrics.RecordBatch(batch.Index, elapsed.Seconds(), summary.SuccessRate)
	p.l.Info("batch processed",
		applogger.Int("batch_index", batch.Index),
		applogger.Int("considered", len(batch.Candidates)),
		applogger.Int("selected", len(selected)),
		applogger.Int("failed", len(summary.Failures)),
		applogger.Duration("elapsed", elapsed),
	)

	return models.BatchOutcome{
		BatchIndex:      batch.Index,
		Selected:        selected,
		TotalConsidered: len(batch.Candidates),
		Succeeded:       agg.Successes(),
		Failed:          len(summary.Failures),
		Timestamp:       asOf,
	}, agg
}

// evaluate returns the analysis, its outcome label and a non-nil error only for failures.
func (p *BatchProcessor) evaluate(ctx context.Context, c models.Candidate, regime models.MarketRegime) (res models.AnalysisResult, result string, err error) {
	if err := ctx.Err(); err != nil {
		return res, ResultFailed, err
	}

	q, err := p.fetchQuote(ctx, c.InstrumentID)
	if err != nil {
		return res, ResultFailed, fmt.Errorf("quote: %w", err)
	}
	h, err := p.fetchHistory(ctx, c.InstrumentID)
	if err != nil {
		return res, ResultFailed, fmt.Errorf("history: %w", err)
	}
	if len(h.Closes) == 0 {
		return res, ResultFailed, models.ErrEmptyHistory
	}

	if tr := p.trend.Evaluate(h.Closes); !tr.Passed {
		return res, ResultTrendRejected, nil
	}

	if q.Price > 0 {
		c.CurrentPrice = q.Price
	}
	if q.MarketCap > 0 {
		c.MarketCap = q.MarketCap
	}
	res, err = p.analyze(ctx, c, h, q, regime)
	if err != nil {
		return res, ResultFailed, err
	}

	if res.RiskScore > p.cfg.MaxRisk || res.VolumeScore < p.cfg.MinVolumeScore {
		return res, ResultSafetyRejected, nil
	}
	return res, ResultSelected, nil
}

func (p *BatchProcessor) fetchQuote(ctx context.Context, id string) (models.Quote, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.FetchTimeout)
	defer cancel()
	start := p.now()
	q, err := p.md.GetCurrentPrice(ctx, id)
	p.metrics.RecordLatency("fetch_quote", p.now().Sub(start).Seconds())
	return q, err
}

func (p *BatchProcessor) fetchHistory(ctx context.Context, id string) (models.PriceHistory, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.FetchTimeout)
	defer cancel()
	start := p.now()
	h, err := p.md.GetHistory(ctx, id, domrepo.PeriodDay, p.cfg.HistoryCount)
	p.metrics.RecordLatency("fetch_history", p.now().Sub(start).Seconds())
	return h, err
}

// analyze turns a panic inside the analyzer into an error for this candidate.
func (p *BatchProcessor) analyze(ctx context.Context, c models.Candidate, h models.PriceHistory, q models.Quote, regime models.MarketRegime) (res models.AnalysisResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("analysis panic: %v", r)
		}
	}()
	return p.analyzer.Analyze(ctx, c, h, q, regime)
}

type nopMetrics struct{}

func (nopMetrics) RecordCandidate(string)            {}
func (nopMetrics) RecordBatch(int, float64, float64) {}
func (nopMetrics) RecordSelection(int, float64)      {}
func (nopMetrics) RecordError(string)                {}
func (nopMetrics) RecordLatency(string, float64)     {}

// withMarketData returns a copy of p that fetches through md.
func (p *BatchProcessor) withMarketData(md domrepo.MarketData) *BatchProcessor {
	cp := *p
	cp.md = md
	return &cp
}
