package usecase

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"PickFlow/internal/domain/models"
	domrepo "PickFlow/internal/domain/repository"
)

// fakeMarketData serves canned series and tracks call concurrency.
type fakeMarketData struct {
	mu        sync.Mutex
	histories map[string]models.PriceHistory
	errs      map[string]error
	delay     time.Duration

	inFlight    int32
	maxInFlight int32
	calls       int32
}

func newFakeMarketData() *fakeMarketData {
	return &fakeMarketData{histories: map[string]models.PriceHistory{}, errs: map[string]error{}}
}

func (f *fakeMarketData) set(id string, h models.PriceHistory) {
	f.mu.Lock()
	defer f.mu.Unlock()
	h.InstrumentID = id
	f.histories[id] = h
}

func (f *fakeMarketData) fail(id string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[id] = err
}

func (f *fakeMarketData) enter(ctx context.Context) error {
	atomic.AddInt32(&f.calls, 1)
	n := atomic.AddInt32(&f.inFlight, 1)
	for {
		m := atomic.LoadInt32(&f.maxInFlight)
		if n <= m || atomic.CompareAndSwapInt32(&f.maxInFlight, m, n) {
			break
		}
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			atomic.AddInt32(&f.inFlight, -1)
			return ctx.Err()
		}
	}
	return nil
}

func (f *fakeMarketData) leave() { atomic.AddInt32(&f.inFlight, -1) }

func (f *fakeMarketData) lookup(id string) (models.PriceHistory, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.errs[id]; ok {
		return models.PriceHistory{}, err
	}
	h, ok := f.histories[id]
	if !ok {
		return models.PriceHistory{}, fmt.Errorf("%s: %w", id, models.ErrNotFound)
	}
	return h, nil
}

func (f *fakeMarketData) GetCurrentPrice(ctx context.Context, id string) (models.Quote, error) {
	if err := f.enter(ctx); err != nil {
		return models.Quote{}, err
	}
	defer f.leave()
	h, err := f.lookup(id)
	if err != nil {
		return models.Quote{}, err
	}
	return models.Quote{InstrumentID: id, Price: h.Last(), MarketCap: 1e11}, nil
}

func (f *fakeMarketData) GetHistory(ctx context.Context, id string, _ domrepo.Period, count int) (models.PriceHistory, error) {
	if err := f.enter(ctx); err != nil {
		return models.PriceHistory{}, err
	}
	defer f.leave()
	h, err := f.lookup(id)
	if err != nil {
		return models.PriceHistory{}, err
	}
	if count > 0 && len(h.Closes) > count {
		cut := len(h.Closes) - count
		h.Closes = h.Closes[cut:]
		h.Volumes = h.Volumes[cut:]
		if len(h.Highs) > 0 {
			h.Highs = h.Highs[cut:]
			h.Lows = h.Lows[cut:]
		}
	}
	return h, nil
}

// geometricHistory grows by rate per bar with flat volume and a lastVolume spike.
func geometricHistory(n int, start, rate, lastVolume float64) models.PriceHistory {
	h := models.PriceHistory{}
	for i := 0; i < n; i++ {
		h.Closes = append(h.Closes, start*math.Pow(1+rate, float64(i)))
		h.Volumes = append(h.Volumes, 1_000_000)
	}
	h.Volumes[n-1] = lastVolume
	return h
}

// indexHistory is a steadily rising index with a 2% daily range.
func indexHistory(n int) models.PriceHistory {
	h := geometricHistory(n, 30000, 0.003, 1_000_000)
	for _, c := range h.Closes {
		h.Highs = append(h.Highs, c*1.01)
		h.Lows = append(h.Lows, c*0.99)
	}
	return h
}

// downtrendHistory fails the trend pre-filter.
func downtrendHistory(n int) models.PriceHistory {
	return geometricHistory(n, 100, -0.004, 1_000_000)
}
