package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"PickFlow/pkg/logger"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// keySet names the Redis structures behind one queue.
type keySet struct {
	pending string // list, LPUSH in / BRPOP out
	retry   string // sorted set scored by due unix time
	dead    string // list of messages that exhausted retries
	dedupe  string // prefix for EnqueueUnique claims
}

func newKeySet(prefix string) keySet {
	return keySet{
		pending: prefix + ":messages",
		retry:   prefix + ":retry",
		dead:    prefix + ":dlq",
		dedupe:  prefix + ":dedupe:",
	}
}

// RedisQueue is a Redis list backed job queue with a sorted-set retry
// schedule and a dead-letter list.
type RedisQueue struct {
	logger *logger.Logger
	config QueueConfig
	client *redis.Client
	keys   keySet

	mu   sync.RWMutex
	jobs map[string]Job

	// set by Start, cleared by Stop
	cancel context.CancelFunc
	wg     sync.WaitGroup

	newID func() string
	now   func() time.Time
}

type RedisQueueOption func(*RedisQueue)

// WithKeyPrefix namespaces every key the queue touches.
func WithKeyPrefix(prefix string) RedisQueueOption {
	return func(r *RedisQueue) {
		r.keys = newKeySet(prefix)
	}
}

// WithClock overrides the time source and message id generator.
func WithClock(now func() time.Time, newID func() string) RedisQueueOption {
	return func(r *RedisQueue) {
		if now != nil {
			r.now = now
		}
		if newID != nil {
			r.newID = newID
		}
	}
}

// NewRedisQueue creates a queue. Publishing works immediately; consuming
// starts with Start.
func NewRedisQueue(lgr *logger.Logger, config *QueueConfig, client *redis.Client, opts ...RedisQueueOption) *RedisQueue {
	var cfg QueueConfig
	if config != nil {
		cfg = *config
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 10 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if lgr == nil {
		lgr = logger.Nop()
	}

	rq := &RedisQueue{
		logger: lgr,
		config: cfg,
		client: client,
		keys:   newKeySet("pickflow:queue"),
		jobs:   make(map[string]Job),
		newID:  uuid.NewString,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(rq)
	}
	return rq
}

// RegisterJob routes messages of job.Type() to job. The first registration
// for a type wins.
func (r *RedisQueue) RegisterJob(job Job) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.jobs[job.Type()]; exists {
		r.logger.Warn("job already registered", logger.String("job", job.Name()))
		return
	}
	r.jobs[job.Type()] = job
	r.logger.Info("job registered", logger.String("job", job.Name()), logger.String("type", job.Type()))
}

// Start launches the consumer workers and the retry scheduler.
func (r *RedisQueue) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return fmt.Errorf("queue already running")
	}

	pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelPing()
	if err := r.client.Ping(pingCtx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	for i := 0; i < r.config.Workers; i++ {
		r.wg.Add(1)
		go r.consume(ctx, i)
	}
	r.wg.Add(1)
	go r.scheduleRetries(ctx)

	r.logger.Info("redis queue started",
		logger.Int("workers", r.config.Workers),
		logger.String("queue", r.keys.pending))
	return nil
}

// Stop cancels the workers and waits for in-flight jobs until ctx ends.
// A cancelled job is neither retried nor dead-lettered.
func (r *RedisQueue) Stop(ctx context.Context) error {
	r.mu.Lock()
	cancel := r.cancel
	r.cancel = nil
	r.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		r.logger.Info("redis queue stopped")
		return nil
	case <-ctx.Done():
		r.logger.Warn("timeout waiting for queue workers", logger.Error(ctx.Err()))
		return fmt.Errorf("stop queue: %w", ctx.Err())
	}
}

// Enqueue adds a message to the queue and returns its id.
func (r *RedisQueue) Enqueue(ctx context.Context, msgType string, payload interface{}) (string, error) {
	msg, data, err := r.encode(msgType, payload)
	if err != nil {
		return "", err
	}
	if err := r.client.LPush(ctx, r.keys.pending, data).Err(); err != nil {
		return "", fmt.Errorf("lpush: %w", err)
	}
	return msg.ID, nil
}

// EnqueueUnique enqueues only if dedupeKey has not been claimed within ttl.
// It reports whether the message was enqueued.
func (r *RedisQueue) EnqueueUnique(ctx context.Context, msgType, dedupeKey string, payload interface{}, ttl time.Duration) (string, bool, error) {
	msg, data, err := r.encode(msgType, payload)
	if err != nil {
		return "", false, err
	}

	claim := r.keys.dedupe + dedupeKey
	claimed, err := r.client.SetNX(ctx, claim, msg.ID, ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("setnx dedupe: %w", err)
	}
	if !claimed {
		return "", false, nil
	}
	if err := r.client.LPush(ctx, r.keys.pending, data).Err(); err != nil {
		// Release the claim so the trigger can be retried.
		_ = r.client.Del(ctx, claim).Err()
		return "", false, fmt.Errorf("lpush: %w", err)
	}
	return msg.ID, true, nil
}

// Depth reports pending, retrying and dead-lettered message counts.
func (r *RedisQueue) Depth(ctx context.Context) (Depth, error) {
	pipe := r.client.Pipeline()
	pending := pipe.LLen(ctx, r.keys.pending)
	retrying := pipe.ZCard(ctx, r.keys.retry)
	dead := pipe.LLen(ctx, r.keys.dead)
	if _, err := pipe.Exec(ctx); err != nil {
		return Depth{}, fmt.Errorf("queue depth: %w", err)
	}
	return Depth{Pending: pending.Val(), Retrying: retrying.Val(), DeadLetter: dead.Val()}, nil
}

func (r *RedisQueue) encode(msgType string, payload interface{}) (Message, []byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Message{}, nil, fmt.Errorf("marshal payload: %w", err)
	}
	msg := Message{ID: r.newID(), Type: msgType, Payload: raw, Timestamp: r.now().UTC()}
	data, err := json.Marshal(msg)
	if err != nil {
		return Message{}, nil, fmt.Errorf("marshal message: %w", err)
	}
	return msg, data, nil
}

func (r *RedisQueue) consume(ctx context.Context, worker int) {
	defer r.wg.Done()
	for ctx.Err() == nil {
		res, err := r.client.BRPop(ctx, time.Second, r.keys.pending).Result()
		switch {
		case err == nil:
		case errors.Is(err, redis.Nil), ctx.Err() != nil:
			continue
		default:
			r.logger.Error("brpop error", logger.Int("worker", worker), logger.Error(err))
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
			continue
		}
		if len(res) < 2 {
			continue
		}

		var msg Message
		if err := json.Unmarshal([]byte(res[1]), &msg); err != nil {
			r.logger.Error("undecodable message dropped", logger.Error(err))
			continue
		}
		r.processMessage(ctx, msg)
	}
}

func (r *RedisQueue) processMessage(ctx context.Context, msg Message) {
	r.mu.RLock()
	job, ok := r.jobs[msg.Type]
	r.mu.RUnlock()
	if !ok {
		r.logger.Error("no job for message type", logger.String("type", msg.Type), logger.String("id", msg.ID))
		r.push(ctx, r.keys.dead, msg)
		return
	}

	start := r.now()
	err := r.handle(ctx, job, msg.Payload)
	elapsed := r.now().Sub(start)
	switch {
	case err == nil:
		r.logger.Info("message processed",
			logger.String("id", msg.ID),
			logger.String("job", job.Name()),
			logger.Duration("elapsed", elapsed))
	case errors.Is(err, context.Canceled):
		r.logger.Warn("message cancelled", logger.String("id", msg.ID), logger.String("job", job.Name()))
	default:
		r.fail(ctx, msg, job, err)
	}
}

func (r *RedisQueue) handle(ctx context.Context, job Job, payload json.RawMessage) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("job %s panicked: %v", job.Name(), p)
		}
	}()
	return job.Handle(ctx, payload)
}

// fail schedules a retry after Attempts×RetryDelay, or dead-letters the
// message once RetryLimit attempts have been retried.
func (r *RedisQueue) fail(ctx context.Context, msg Message, job Job, err error) {
	r.logger.Error("message processing error",
		logger.String("id", msg.ID),
		logger.String("job", job.Name()),
		logger.Int("attempt", msg.Attempts+1),
		logger.Error(err))

	msg.LastError = err.Error()
	if msg.Attempts >= r.config.RetryLimit {
		r.logger.Error("max retries reached", logger.String("id", msg.ID), logger.String("job", job.Name()))
		r.push(ctx, r.keys.dead, msg)
		return
	}

	msg.Attempts++
	due := r.now().Add(time.Duration(msg.Attempts) * r.config.RetryDelay)
	data, mErr := json.Marshal(msg)
	if mErr != nil {
		r.logger.Error("marshal retry", logger.Error(mErr))
		return
	}
	if zErr := r.client.ZAdd(context.WithoutCancel(ctx), r.keys.retry, redis.Z{
		Score:  float64(due.Unix()),
		Member: data,
	}).Err(); zErr != nil {
		r.logger.Error("zadd retry", logger.Error(zErr))
		return
	}
	r.logger.Info("scheduled retry",
		logger.String("id", msg.ID),
		logger.Int("attempt", msg.Attempts),
		logger.Time("retry_at", due))
}

func (r *RedisQueue) push(ctx context.Context, key string, msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		r.logger.Error("marshal message", logger.Error(err))
		return
	}
	if err := r.client.LPush(context.WithoutCancel(ctx), key, data).Err(); err != nil {
		r.logger.Error("lpush", logger.String("key", key), logger.Error(err))
	}
}

func (r *RedisQueue) scheduleRetries(ctx context.Context) {
	defer r.wg.Done()
	ticker := time.NewTicker(r.config.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.processRetryMessages(ctx)
		}
	}
}

// processRetryMessages moves due retries back onto the pending list.
func (r *RedisQueue) processRetryMessages(ctx context.Context) {
	members, err := r.client.ZRangeByScore(ctx, r.keys.retry, &redis.ZRangeBy{
		Min: "0",
		Max: strconv.FormatInt(r.now().Unix(), 10),
	}).Result()
	if err != nil {
		if ctx.Err() == nil {
			r.logger.Error("fetch retry messages", logger.Error(err))
		}
		return
	}

	for _, m := range members {
		moved, err := requeueScript.Run(ctx, r.client, []string{r.keys.retry, r.keys.pending}, m).Int()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			r.logger.Error("move retry to queue", logger.Error(err))
			continue
		}
		if moved == 0 {
			r.logger.Debug("retry already requeued elsewhere")
		}
	}
}

// requeueScript pushes a retry member onto the pending list only if this
// caller removed it from the retry set.
var requeueScript = redis.NewScript(`
if redis.call("ZREM", KEYS[1], ARGV[1]) == 1 then
	redis.call("LPUSH", KEYS[2], ARGV[1])
	return 1
end
return 0
`)
