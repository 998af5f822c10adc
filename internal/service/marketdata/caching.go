package marketdata

import (
	"context"
	"errors"
	"strconv"
	"time"

	"PickFlow/internal/domain/models"
	"PickFlow/internal/domain/repository"
	"PickFlow/pkg/cache"
	"PickFlow/pkg/logger"
)

// CachingClient memoizes quotes and histories per run date so a re-invoked
// batch sees exactly the inputs of the first invocation.
type CachingClient struct {
	inner   repository.MarketData
	cache   cache.Service
	ttl     time.Duration
	runDate string
	logger  *logger.Logger
}

var _ repository.MarketData = (*CachingClient)(nil)

// NewCachingClient wraps inner. The returned client is unscoped and passes
// calls straight through until ForRun binds it to a run date.
func NewCachingClient(inner repository.MarketData, c cache.Service, ttl time.Duration, lgr *logger.Logger) *CachingClient {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if lgr == nil {
		lgr = logger.Nop()
	}
	return &CachingClient{inner: inner, cache: c, ttl: ttl, logger: lgr}
}

// ForRun returns a view whose cache keys are scoped to runDate.
func (c *CachingClient) ForRun(runDate string) repository.MarketData {
	scoped := *c
	scoped.runDate = runDate
	return &scoped
}

func (c *CachingClient) GetCurrentPrice(ctx context.Context, instrumentID string) (models.Quote, error) {
	if c.runDate == "" {
		return c.inner.GetCurrentPrice(ctx, instrumentID)
	}
	key := cache.Key("quote", c.runDate, instrumentID)

	var q models.Quote
	if c.lookup(ctx, key, &q) {
		return q, nil
	}
	q, err := c.inner.GetCurrentPrice(ctx, instrumentID)
	if err != nil {
		return q, err
	}
	c.store(ctx, key, q)
	return q, nil
}

func (c *CachingClient) GetHistory(ctx context.Context, instrumentID string, period repository.Period, count int) (models.PriceHistory, error) {
	if c.runDate == "" {
		return c.inner.GetHistory(ctx, instrumentID, period, count)
	}
	key := cache.Key("history", c.runDate, instrumentID, string(period), strconv.Itoa(count))

	var h models.PriceHistory
	if c.lookup(ctx, key, &h) {
		return h, nil
	}
	h, err := c.inner.GetHistory(ctx, instrumentID, period, count)
	if err != nil {
		return h, err
	}
	c.store(ctx, key, h)
	return h, nil
}

// lookup treats cache errors as misses.
func (c *CachingClient) lookup(ctx context.Context, key string, dest interface{}) bool {
	err := c.cache.Get(ctx, key, dest)
	if err == nil {
		return true
	}
	if !errors.Is(err, cache.ErrCacheMiss) {
		c.logger.Warn("market data cache read failed", logger.String("key", key), logger.Error(err))
	}
	return false
}

func (c *CachingClient) store(ctx context.Context, key string, v interface{}) {
	if err := c.cache.Set(ctx, key, v, c.ttl); err != nil {
		c.logger.Warn("market data cache write failed", logger.String("key", key), logger.Error(err))
	}
}
