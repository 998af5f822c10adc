package di

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"PickFlow/internal/domain/models"
	domrepo "PickFlow/internal/domain/repository"
	"PickFlow/internal/handler/api"
	internalrepo "PickFlow/internal/repository"
	"PickFlow/internal/service/marketdata"
	"PickFlow/internal/service/ratelimit"
	"PickFlow/internal/services/analytics"
	"PickFlow/internal/services/selection"
	"PickFlow/internal/services/trend"
	"PickFlow/internal/usecase"
	"PickFlow/pkg/cache"
	pkgch "PickFlow/pkg/clickhouse"
	"PickFlow/pkg/config"
	xhttp "PickFlow/pkg/http"
	pkgkafka "PickFlow/pkg/kafka"
	applogger "PickFlow/pkg/logger"
	"PickFlow/pkg/metrics"
	"PickFlow/pkg/queue"
	"PickFlow/pkg/server"
)

// PrerequisiteFromCache selects the cache-backed prerequisite marker.
const PrerequisiteFromCache = "cache"

// ProvideKafkaProducer creates a Kafka producer, or nil when Kafka is disabled.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithMaxAttempts(cfg.Kafka.MaxAttempts),
		pkgkafka.WithTimeouts(cfg.Kafka.WriteTimeout, cfg.Kafka.WriteTimeout),
		pkgkafka.WithHashByKey(true),
		pkgkafka.WithBatchTimeout(cfg.Kafka.BatchTimeout),
		pkgkafka.WithAutoCreateTopics(cfg.Kafka.AutoCreate),
		pkgkafka.WithRegisterer(prometheus.DefaultRegisterer),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

// ProvideLogger creates the application logger. With a producer and the
// collector enabled, aggregated log entries are shipped to Kafka.
func ProvideLogger(cfg *config.Config, producer *pkgkafka.Producer) (*applogger.Logger, error) {
	format := "json"
	if cfg.Logger.Pretty {
		format = "console"
	}
	l, err := applogger.New(&applogger.Config{Level: cfg.Logger.Level, Format: format, Output: "stdout"})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	if cfg.Logger.Collector.Enabled && producer != nil {
		l.AddCollector(&applogger.CollectionConfig{
			Source:         "pickflow",
			TimeInterval:   cfg.Logger.Collector.Interval,
			CountThreshold: cfg.Logger.Collector.Threshold,
			Topic:          cfg.Logger.Collector.Topic,
			Publisher:      producer,
		})
	}
	return l, nil
}

// ProvideMetrics creates a Prometheus metrics recorder on the default registry.
func ProvideMetrics() *metrics.Recorder {
	return metrics.New(prometheus.DefaultRegisterer)
}

// ProvideRedisClient connects to Redis, or returns nil when Redis is disabled.
func ProvideRedisClient(cfg *config.Config) (*redis.Client, error) {
	if !cfg.Redis.Enabled {
		return nil, nil
	}
	rc, err := cache.NewRedisCache(
		cache.WithRedisAddr(cfg.Redis.Addr),
		cache.WithRedisPassword(cfg.Redis.Password),
		cache.WithRedisDB(cfg.Redis.DB),
		cache.WithRedisPrefix(cfg.Redis.Prefix),
	)
	if err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}
	return rc.Client(), nil
}

// ProvideCache returns a Redis-backed layered cache shared across processes,
// or a process-local memory cache when Redis is disabled.
func ProvideCache(cfg *config.Config, rc *redis.Client) cache.Service {
	if rc == nil {
		return cache.NewMemoryCache(cache.WithMemoryDefaultTTL(cfg.MarketData.CacheTTL))
	}
	return cache.NewLayeredCache(cache.NewRedisCacheFromClient(rc, cfg.Redis.Prefix), 10*time.Minute)
}

// ProvideClickHouseClient connects to ClickHouse when it is the primary store.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	if cfg.Store.Primary != "clickhouse" {
		return nil, nil
	}
	ch := cfg.ClickHouse
	client, err := pkgch.NewClient(pkgch.Config{
		Host:        ch.Host,
		Port:        ch.Port,
		Database:    ch.Database,
		User:        ch.User,
		Password:    ch.Password,
		UseHTTP:     ch.UseHTTP,
		DialTimeout: ch.DialTimeout,
		ReadTimeout: ch.ReadTimeout,
		MaxExecTime: ch.MaxExecutionTime,
		AsyncInsert: ch.AsyncInsert,
	})
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}
	return client, nil
}

// ProvideStore builds the configured primary store wrapped with the local
// file fallback, and ensures both are initialized.
func ProvideStore(cfg *config.Config, ch *pkgch.Client, l *applogger.Logger, rec *metrics.Recorder) (domrepo.Store, error) {
	fallback := internalrepo.NewFileStore(cfg.Store.FallbackDir)

	var primary domrepo.Store
	switch cfg.Store.Primary {
	case "clickhouse":
		s := internalrepo.NewClickHouseStore(ch, cfg.ClickHouse.Database)
		s.SetLogger(l)
		primary = s
	case "postgres":
		db, err := internalrepo.OpenPostgres(cfg.Postgres.DSN)
		if err != nil {
			return nil, err
		}
		primary = internalrepo.NewGormStore(db)
	case "sqlite":
		db, err := internalrepo.OpenSQLite(cfg.SQLite.Path)
		if err != nil {
			return nil, err
		}
		primary = internalrepo.NewGormStore(db)
	default:
		if err := fallback.Init(context.Background()); err != nil {
			return nil, fmt.Errorf("file store: %w", err)
		}
		return fallback, nil
	}

	store := internalrepo.NewFallbackStore(primary, fallback,
		internalrepo.WithFallbackLogger(l),
		internalrepo.WithFallbackMetrics(rec),
	)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := store.Init(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("store init: %w", err)
	}
	return store, nil
}

// ProvideMarketData builds the throttled upstream client behind the per-run cache.
func ProvideMarketData(cfg *config.Config, c cache.Service, rec *metrics.Recorder, l *applogger.Logger) domrepo.MarketData {
	md := cfg.MarketData
	inner := marketdata.NewClient(md.BaseURL,
		marketdata.WithAPIKey(md.APIKey),
		marketdata.WithLimiter(ratelimit.New(md.RPS, md.Burst)),
		marketdata.WithRetry(md.Retry.MaxAttempts, md.Retry.Backoff),
		marketdata.WithTimeout(md.Timeout),
		marketdata.WithBreaker(md.Breaker.MaxRequests, md.Breaker.Interval, md.Breaker.Timeout, md.Breaker.ConsecutiveFails),
		marketdata.WithMetrics(rec),
		marketdata.WithLogger(l),
	)
	return marketdata.NewCachingClient(inner, c, md.CacheTTL, l)
}

func ProvideWatchlist(cfg *config.Config, l *applogger.Logger) domrepo.Watchlist {
	return internalrepo.NewFileWatchlist(cfg.Watchlist.Path, l)
}

// ProvideNotifier publishes to Kafka when a producer exists and logs otherwise.
func ProvideNotifier(cfg *config.Config, producer *pkgkafka.Producer, l *applogger.Logger) domrepo.Notifier {
	if producer == nil {
		return internalrepo.NewLogNotifier(l)
	}
	return internalrepo.NewKafkaNotifier(producer, cfg.Kafka.SummaryTopic, cfg.Kafka.AlertTopic)
}

// ProvidePrerequisite returns the upstream completion signal, or nil when waiting is disabled.
func ProvidePrerequisite(cfg *config.Config, c cache.Service) domrepo.PrerequisiteSignal {
	switch cfg.Pipeline.PrerequisiteMarker {
	case "":
		return nil
	case PrerequisiteFromCache:
		return internalrepo.NewCacheMarker(c, cfg.Pipeline.AssignmentTTL)
	default:
		return internalrepo.NewFileMarker(cfg.Pipeline.PrerequisiteMarker)
	}
}

func ProvideBatchProcessor(cfg *config.Config, md domrepo.MarketData, store domrepo.Store, rec *metrics.Recorder, l *applogger.Logger) *usecase.BatchProcessor {
	p := cfg.Pipeline
	return usecase.NewBatchProcessor(md, trend.NewFilter(), analytics.NewAttractivenessAnalyzer(),
		usecase.BatchProcessorConfig{
			Concurrency:    p.Concurrency,
			FetchTimeout:   p.FetchTimeout,
			HistoryCount:   p.HistoryCount,
			MaxRisk:        p.MaxRisk,
			MinVolumeScore: p.MinVolumeScore,
			MinSuccessRate: p.MinSuccessRate,
		},
		usecase.WithFailureSink(store),
		usecase.WithProcessorMetrics(rec),
		usecase.WithProcessorLogger(l),
	)
}

func ProvideSelector(cfg *config.Config) *selection.AdaptiveSelector {
	targets := make(map[models.Bias]int, len(cfg.Pipeline.TargetCounts))
	for bias, n := range cfg.Pipeline.TargetCounts {
		targets[models.Bias(bias)] = n
	}
	return selection.NewAdaptiveSelector(selection.SelectorConfig{
		TargetCounts: targets,
		MaxPerSector: cfg.Pipeline.MaxPerSector,
	})
}

// ProvidePipeline assembles the selection pipeline.
func ProvidePipeline(
	cfg *config.Config,
	wl domrepo.Watchlist,
	md domrepo.MarketData,
	store domrepo.Store,
	c cache.Service,
	prereq domrepo.PrerequisiteSignal,
	notifier domrepo.Notifier,
	rec *metrics.Recorder,
	proc *usecase.BatchProcessor,
	selector *selection.AdaptiveSelector,
	l *applogger.Logger,
) (*usecase.SelectionPipeline, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, fmt.Errorf("pipeline timezone: %w", err)
	}
	p := cfg.Pipeline
	return usecase.NewSelectionPipeline(
		usecase.PipelineDeps{
			Watchlist:    wl,
			MarketData:   md,
			Store:        store,
			Cache:        c,
			Prerequisite: prereq,
			Notifier:     notifier,
			Metrics:      rec,
			Detector:     analytics.NewMarketRegimeDetector(),
			Processor:    proc,
			Ensemble:     analytics.NewEnsembleScorer(analytics.DefaultStrategies()),
			Selector:     selector,
		},
		usecase.PipelineConfig{
			BatchCount:       p.BatchCount,
			LastBatchIndex:   cfg.MergeBatchIndex(),
			MarketIndex:      p.MarketIndex,
			HistoryCount:     p.HistoryCount,
			Location:         loc,
			AssignmentTTL:    p.AssignmentTTL,
			PrerequisiteWait: p.PrerequisiteWait,
			PrerequisitePoll: p.PrerequisitePoll,
		},
		usecase.WithPipelineLogger(l),
	), nil
}

// ProvideQueue creates the Redis batch queue with the batch job registered,
// or nil when the queue is disabled.
func ProvideQueue(cfg *config.Config, rc *redis.Client, pipeline *usecase.SelectionPipeline, l *applogger.Logger) (*queue.RedisQueue, error) {
	if !cfg.Queue.Enabled {
		return nil, nil
	}
	if rc == nil {
		return nil, fmt.Errorf("queue requires redis")
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	q := queue.NewRedisQueue(l,
		&queue.QueueConfig{
			Workers:    cfg.Queue.Workers,
			RetryLimit: cfg.Queue.RetryLimit,
			RetryDelay: cfg.Queue.RetryDelay,
		},
		rc,
		queue.WithKeyPrefix(cache.Key(cfg.Redis.Prefix, "queue", cfg.Queue.Name)),
	)
	q.RegisterJob(usecase.NewBatchJob(pipeline, loc, l))
	return q, nil
}

func ProvideHandler(cfg *config.Config, store domrepo.Store, q *queue.RedisQueue, l *applogger.Logger) (*api.SelectionEchoHandler, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	opts := []api.HandlerOption{api.WithLocation(loc)}
	if q != nil {
		opts = append(opts, api.WithQueue(q, q, cfg.Pipeline.AssignmentTTL))
	}
	return api.NewSelectionEchoHandler(l, store, opts...), nil
}

func ProvideHTTPServer(cfg *config.Config, h *api.SelectionEchoHandler, rec *metrics.Recorder, l *applogger.Logger) *xhttp.Server {
	opts := []xhttp.ServerOption{
		xhttp.WithAddr(cfg.Server.Host, cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
		xhttp.WithCORS(cfg.Server.CORS),
		xhttp.WithLogger(l),
	}
	if cfg.Metrics.Enabled {
		opts = append(opts, xhttp.WithMetrics(rec, prometheus.DefaultGatherer, cfg.Metrics.Path))
	}
	return xhttp.NewServer(h, opts...)
}

// ProvideApp creates the application and registers every resource for shutdown.
func ProvideApp(
	cfg *config.Config,
	l *applogger.Logger,
	pipeline *usecase.SelectionPipeline,
	httpServer *xhttp.Server,
	q *queue.RedisQueue,
	store domrepo.Store,
	c cache.Service,
	producer *pkgkafka.Producer,
	rc *redis.Client,
	ch *pkgch.Client,
) (*server.App, error) {
	var closers []server.Closer
	if rc != nil {
		closers = append(closers, server.Closer{Name: "redis", Close: rc.Close})
	}
	if producer != nil {
		closers = append(closers, server.Closer{Name: "kafka", Close: producer.Close})
	}
	if ch != nil {
		closers = append(closers, server.Closer{Name: "clickhouse", Close: ch.Close})
	}
	if cc, ok := c.(interface{ Close() error }); ok {
		closers = append(closers, server.Closer{Name: "cache", Close: cc.Close})
	}
	closers = append(closers, server.Closer{Name: "store", Close: store.Close})
	return server.New(cfg, l, pipeline, httpServer, q, closers...)
}
