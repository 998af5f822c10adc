package cache

import (
	"container/list"
	"context"
	"sync"
	"time"
)

type memEntry struct {
	key      string
	value    []byte
	expireAt time.Time
}

// MemoryCache implements Service in process with LRU eviction. Values are
// encoded on Set so Get behaves like the Redis cache.
type MemoryCache struct {
	mu         sync.Mutex
	items      map[string]*list.Element
	order      *list.List // front is most recently used
	maxSize    int
	defaultTTL time.Duration
	now        func() time.Time

	done      chan struct{}
	closeOnce sync.Once
}

var _ Service = (*MemoryCache)(nil)

// NewMemoryCache creates an in-memory cache and starts its expiry sweeper.
func NewMemoryCache(opts ...MemoryOption) *MemoryCache {
	cfg := &MemoryConfig{MaxSize: 1000, DefaultTTL: 7 * 24 * time.Hour}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = 1
	}

	mc := &MemoryCache{
		items:      make(map[string]*list.Element),
		order:      list.New(),
		maxSize:    cfg.MaxSize,
		defaultTTL: cfg.DefaultTTL,
		now:        time.Now,
		done:       make(chan struct{}),
	}
	go mc.sweep(time.Minute)
	return mc
}

func (mc *MemoryCache) Set(_ context.Context, key string, value interface{}, expiration time.Duration) error {
	data, err := encode(value)
	if err != nil {
		return err
	}
	mc.mu.Lock()
	mc.put(key, data, expiration)
	mc.mu.Unlock()
	return nil
}

func (mc *MemoryCache) SetNX(_ context.Context, key string, value interface{}, expiration time.Duration) (bool, error) {
	data, err := encode(value)
	if err != nil {
		return false, err
	}
	mc.mu.Lock()
	defer mc.mu.Unlock()
	if mc.live(key) != nil {
		return false, nil
	}
	mc.put(key, data, expiration)
	return true, nil
}

func (mc *MemoryCache) Get(_ context.Context, key string, dest interface{}) error {
	mc.mu.Lock()
	el := mc.live(key)
	if el == nil {
		mc.mu.Unlock()
		return ErrCacheMiss
	}
	mc.order.MoveToFront(el)
	data := el.Value.(*memEntry).value
	mc.mu.Unlock()

	return decode(data, dest)
}

func (mc *MemoryCache) Delete(_ context.Context, keys ...string) error {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	for _, key := range keys {
		if el, ok := mc.items[key]; ok {
			mc.remove(el)
		}
	}
	return nil
}

func (mc *MemoryCache) Exists(_ context.Context, keys ...string) (bool, error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	for _, key := range keys {
		if mc.live(key) != nil {
			return true, nil
		}
	}
	return false, nil
}

func (mc *MemoryCache) TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return mc.SetNX(ctx, key, "locked", ttl)
}

func (mc *MemoryCache) Unlock(ctx context.Context, key string) error {
	return mc.Delete(ctx, key)
}

// Len returns the number of stored entries, expired ones included.
func (mc *MemoryCache) Len() int {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	return mc.order.Len()
}

// Close stops the expiry sweeper.
func (mc *MemoryCache) Close() error {
	mc.closeOnce.Do(func() { close(mc.done) })
	return nil
}

// live returns the element for key, dropping it if expired. Caller holds mu.
func (mc *MemoryCache) live(key string) *list.Element {
	el, ok := mc.items[key]
	if !ok {
		return nil
	}
	if mc.now().After(el.Value.(*memEntry).expireAt) {
		mc.remove(el)
		return nil
	}
	return el
}

// put stores data and evicts the least recently used entry when full.
// Caller holds mu.
func (mc *MemoryCache) put(key string, data []byte, expiration time.Duration) {
	if expiration <= 0 {
		expiration = mc.defaultTTL
	}
	expireAt := mc.now().Add(expiration)

	if el, ok := mc.items[key]; ok {
		e := el.Value.(*memEntry)
		e.value, e.expireAt = data, expireAt
		mc.order.MoveToFront(el)
		return
	}
	if mc.order.Len() >= mc.maxSize {
		if oldest := mc.order.Back(); oldest != nil {
			mc.remove(oldest)
		}
	}
	mc.items[key] = mc.order.PushFront(&memEntry{key: key, value: data, expireAt: expireAt})
}

func (mc *MemoryCache) remove(el *list.Element) {
	mc.order.Remove(el)
	delete(mc.items, el.Value.(*memEntry).key)
}

func (mc *MemoryCache) sweep(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-mc.done:
			return
		case <-ticker.C:
			mc.mu.Lock()
			now := mc.now()
			for el := mc.order.Back(); el != nil; {
				prev := el.Prev()
				if now.After(el.Value.(*memEntry).expireAt) {
					mc.remove(el)
				}
				el = prev
			}
			mc.mu.Unlock()
		}
	}
}
