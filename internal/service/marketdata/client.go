// Package marketdata talks to the upstream quote/history HTTP service.
//
// Endpoints:
//
//	GET {base}/v1/quote/{id}                         {"data":{"price":..,"market_cap":..}}
//	GET {base}/v1/history/{id}?period=day&count=120  {"data":{"bars":[{"c":..,"v":..,"h":..,"l":..}, ...]}}
//
// Bars are returned oldest first.
package marketdata

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"PickFlow/internal/domain/models"
	"PickFlow/internal/domain/repository"
	"PickFlow/internal/service/ratelimit"
	xhttp "PickFlow/pkg/http"
	"PickFlow/pkg/logger"

	"github.com/sony/gobreaker"
	"github.com/tidwall/gjson"
)

const limiterKey = "marketdata"

// Option configures Client.
type Option func(*Client)

// Client implements repository.MarketData over HTTP. All requests pass
// through one shared limiter and one circuit breaker.
type Client struct {
	baseURL  string
	apiKey   string
	http     *xhttp.Client
	limiter  *ratelimit.Limiter
	breaker  *gobreaker.CircuitBreaker
	attempts int
	backoff  time.Duration
	timeout  time.Duration
	breakerS gobreaker.Settings
	metrics  repository.Metrics
	logger   *logger.Logger
}

var _ repository.MarketData = (*Client)(nil)

// NewClient builds a client for baseURL.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:  baseURL,
		attempts: 3,
		backoff:  200 * time.Millisecond,
		timeout:  8 * time.Second,
		logger:   logger.Nop(),
		breakerS: gobreaker.Settings{
			Name:        "marketdata",
			MaxRequests: 1,
			Interval:    time.Minute,
			Timeout:     30 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.limiter == nil {
		c.limiter = ratelimit.New(10, 10)
	}
	c.http = xhttp.NewClient(xhttp.WithTimeout(c.timeout), xhttp.WithHeader("X-API-Key", c.apiKey))

	settings := c.breakerS
	trips := uint32(5)
	if settings.ReadyToTrip == nil {
		settings.ReadyToTrip = func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= trips
		}
	}
	settings.IsSuccessful = func(err error) bool {
		return err == nil || !isTransient(err)
	}
	settings.OnStateChange = func(name string, from, to gobreaker.State) {
		c.logger.Warn("circuit breaker state change",
			logger.String("breaker", name),
			logger.String("from", from.String()),
			logger.String("to", to.String()))
	}
	c.breaker = gobreaker.NewCircuitBreaker(settings)
	return c
}

// WithAPIKey sets the X-API-Key header.
func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = key }
}

// WithLimiter shares a throttle across clients.
func WithLimiter(l *ratelimit.Limiter) Option {
	return func(c *Client) { c.limiter = l }
}

// WithRetry sets the attempt count and the linear backoff step.
func WithRetry(attempts int, backoff time.Duration) Option {
	return func(c *Client) {
		if attempts > 0 {
			c.attempts = attempts
		}
		c.backoff = backoff
	}
}

// WithTimeout sets the per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithBreaker configures the circuit breaker. It opens after
// consecutiveFailures transient failures in a row.
func WithBreaker(maxRequests uint32, interval, timeout time.Duration, consecutiveFailures uint32) Option {
	return func(c *Client) {
		c.breakerS.MaxRequests = maxRequests
		c.breakerS.Interval = interval
		c.breakerS.Timeout = timeout
		if consecutiveFailures > 0 {
			c.breakerS.ReadyToTrip = func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= consecutiveFailures
			}
		}
	}
}

// WithMetrics records request latency and errors.
func WithMetrics(m repository.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithLogger sets the client logger.
func WithLogger(l *logger.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// GetCurrentPrice fetches the latest quote.
func (c *Client) GetCurrentPrice(ctx context.Context, instrumentID string) (models.Quote, error) {
	body, err := c.getWithRetry(ctx, "quote", "/v1/quote/"+url.PathEscape(instrumentID), nil)
	if err != nil {
		return models.Quote{}, fmt.Errorf("quote %s: %w", instrumentID, err)
	}
	return parseQuote(body, instrumentID)
}

// GetHistory fetches up to count bars of the given period, oldest first.
func (c *Client) GetHistory(ctx context.Context, instrumentID string, period repository.Period, count int) (models.PriceHistory, error) {
	if !repository.IsValidPeriod(period) {
		period = repository.DefaultPeriod()
	}
	q := map[string][]string{
		"period": {string(period)},
		"count":  {strconv.Itoa(count)},
	}
	body, err := c.getWithRetry(ctx, "history", "/v1/history/"+url.PathEscape(instrumentID), q)
	if err != nil {
		return models.PriceHistory{}, fmt.Errorf("history %s: %w", instrumentID, err)
	}
	return parseHistory(body, instrumentID)
}

// getWithRetry retries transient failures with a linear backoff. Every
// attempt waits on the shared limiter first.
func (c *Client) getWithRetry(ctx context.Context, op, path string, query map[string][]string) ([]byte, error) {
	var lastErr error
	for i := 1; i <= c.attempts; i++ {
		body, err := c.get(ctx, op, path, query)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if !isTransient(err) || errors.Is(err, gobreaker.ErrOpenState) || i == c.attempts {
			break
		}

		select {
		case <-time.After(time.Duration(i) * c.backoff):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, lastErr
}

func (c *Client) get(ctx context.Context, op, path string, query map[string][]string) ([]byte, error) {
	if err := c.limiter.Wait(ctx, limiterKey); err != nil {
		return nil, err
	}

	start := time.Now()
	out, err := c.breaker.Execute(func() (interface{}, error) {
		return c.http.Get(ctx, c.baseURL+path, query)
	})
	if c.metrics != nil {
		c.metrics.RecordLatency("marketdata_"+op, time.Since(start).Seconds())
		if err != nil {
			c.metrics.RecordError("marketdata_" + op)
		}
	}
	if err != nil {
		var se *xhttp.StatusError
		if errors.As(err, &se) && se.Code == http.StatusNotFound {
			return nil, fmt.Errorf("%w: %s", models.ErrNotFound, path)
		}
		return nil, err
	}
	return out.([]byte), nil
}

// isTransient reports whether another attempt may succeed. Client errors
// other than 429 are permanent.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, models.ErrNotFound) || errors.Is(err, models.ErrMalformedData) {
		return false
	}
	var se *xhttp.StatusError
	if errors.As(err, &se) {
		return se.Temporary()
	}
	return true
}

func parseQuote(body []byte, instrumentID string) (models.Quote, error) {
	data := gjson.GetBytes(body, "data")
	if !data.Exists() {
		return models.Quote{}, fmt.Errorf("%w: quote %s: no data", models.ErrMalformedData, instrumentID)
	}
	price := data.Get("price")
	if price.Type != gjson.Number || price.Float() <= 0 {
		return models.Quote{}, fmt.Errorf("%w: quote %s: bad price %q", models.ErrMalformedData, instrumentID, price.Raw)
	}
	return models.Quote{
		InstrumentID: instrumentID,
		Price:        price.Float(),
		MarketCap:    data.Get("market_cap").Float(),
	}, nil
}

func parseHistory(body []byte, instrumentID string) (models.PriceHistory, error) {
	bars := gjson.GetBytes(body, "data.bars")
	if !bars.Exists() || !bars.IsArray() {
		return models.PriceHistory{}, fmt.Errorf("%w: history %s: no data.bars", models.ErrMalformedData, instrumentID)
	}

	arr := bars.Array()
	h := models.PriceHistory{
		InstrumentID: instrumentID,
		Closes:       make([]float64, 0, len(arr)),
		Volumes:      make([]float64, 0, len(arr)),
	}
	withRange := true
	for _, b := range arr {
		cl := b.Get("c")
		if cl.Type != gjson.Number {
			return models.PriceHistory{}, fmt.Errorf("%w: history %s: bar without close", models.ErrMalformedData, instrumentID)
		}
		h.Closes = append(h.Closes, cl.Float())
		h.Volumes = append(h.Volumes, b.Get("v").Float())

		hi, lo := b.Get("h"), b.Get("l")
		if !hi.Exists() || !lo.Exists() {
			withRange = false
			continue
		}
		h.Highs = append(h.Highs, hi.Float())
		h.Lows = append(h.Lows, lo.Float())
	}
	if !withRange {
		h.Highs, h.Lows = nil, nil
	}
	if len(h.Closes) == 0 {
		return models.PriceHistory{}, fmt.Errorf("%w: %s", models.ErrEmptyHistory, instrumentID)
	}
	return h, nil
}
