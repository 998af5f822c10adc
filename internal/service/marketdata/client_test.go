package marketdata

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"PickFlow/internal/domain/models"
	"PickFlow/internal/domain/repository"
	"PickFlow/internal/service/ratelimit"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(srv *httptest.Server, opts ...Option) *Client {
	base := []Option{
		WithAPIKey("secret"),
		WithRetry(3, time.Millisecond),
		WithLimiter(ratelimit.New(1000, 100)),
	}
	return NewClient(srv.URL, append(base, opts...)...)
}

func TestClient_GetCurrentPrice(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/quote/7203.T", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("X-API-Key"))
		_, _ = w.Write([]byte(`{"data":{"price":2850.5,"market_cap":4.6e13}}`))
	}))
	defer srv.Close()

	q, err := newTestClient(srv).GetCurrentPrice(context.Background(), "7203.T")
	require.NoError(t, err)
	assert.Equal(t, models.Quote{InstrumentID: "7203.T", Price: 2850.5, MarketCap: 4.6e13}, q)
}

func TestClient_GetHistory(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/history/AAA", r.URL.Path)
		assert.Equal(t, "day", r.URL.Query().Get("period"))
		assert.Equal(t, "3", r.URL.Query().Get("count"))
		_, _ = w.Write([]byte(`{"data":{"bars":[
			{"c":10,"v":100,"h":11,"l":9},
			{"c":11,"v":120,"h":12,"l":10},
			{"c":12,"v":90,"h":12.5,"l":11}
		]}}`))
	}))
	defer srv.Close()

	h, err := newTestClient(srv).GetHistory(context.Background(), "AAA", repository.PeriodDay, 3)
	require.NoError(t, err)
	assert.Equal(t, []float64{10, 11, 12}, h.Closes)
	assert.Equal(t, []float64{100, 120, 90}, h.Volumes)
	assert.Equal(t, []float64{11, 12, 12.5}, h.Highs)
	assert.Equal(t, []float64{9, 10, 11}, h.Lows)
}

func TestClient_HistoryWithoutRangeDropsHighsLows(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"data":{"bars":[{"c":10,"v":1,"h":11,"l":9},{"c":11,"v":1}]}}`))
	}))
	defer srv.Close()

	h, err := newTestClient(srv).GetHistory(context.Background(), "AAA", repository.PeriodDay, 2)
	require.NoError(t, err)
	assert.Len(t, h.Closes, 2)
	assert.Nil(t, h.Highs)
	assert.Nil(t, h.Lows)
}

func TestClient_RetriesTransientFailures(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"data":{"price":1.5}}`))
	}))
	defer srv.Close()

	q, err := newTestClient(srv).GetCurrentPrice(context.Background(), "AAA")
	require.NoError(t, err)
	assert.InDelta(t, 1.5, q.Price, 1e-9)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClient_DoesNotRetryClientErrors(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := newTestClient(srv).GetCurrentPrice(context.Background(), "GONE")
	require.ErrorIs(t, err, models.ErrNotFound)
	assert.Equal(t, int32(1), calls.Load())
}

func TestClient_MalformedPayload(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/quote/AAA" {
			_, _ = w.Write([]byte(`{"data":{"price":"n/a"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"data":{}}`))
	}))
	defer srv.Close()

	c := newTestClient(srv)
	_, err := c.GetCurrentPrice(context.Background(), "AAA")
	assert.ErrorIs(t, err, models.ErrMalformedData)

	_, err = c.GetHistory(context.Background(), "AAA", repository.PeriodDay, 10)
	assert.ErrorIs(t, err, models.ErrMalformedData)
}

func TestClient_EmptyHistory(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"data":{"bars":[]}}`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv).GetHistory(context.Background(), "AAA", repository.PeriodDay, 10)
	assert.ErrorIs(t, err, models.ErrEmptyHistory)
}

func TestClient_BreakerOpensAfterConsecutiveFailures(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := newTestClient(srv, WithRetry(1, 0), WithBreaker(1, time.Minute, time.Minute, 2))
	for i := 0; i < 2; i++ {
		_, err := c.GetCurrentPrice(context.Background(), "AAA")
		require.Error(t, err)
	}

	_, err := c.GetCurrentPrice(context.Background(), "AAA")
	require.Error(t, err)
	assert.Equal(t, int32(2), calls.Load(), "open breaker must short-circuit")
}

func TestClient_HonoursContextDuringBackoff(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	c := newTestClient(srv, WithRetry(5, time.Second))
	_, err := c.GetCurrentPrice(ctx, "AAA")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
