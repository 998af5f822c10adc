package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"PickFlow/pkg/logger"

	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type trigger struct {
	RunDate    string `json:"run_date"`
	BatchIndex int    `json:"batch_index"`
}

type stubJob struct {
	err   error
	panic bool
	got   []trigger
}

func (j *stubJob) Name() string { return "stub" }
func (j *stubJob) Type() string { return "batch.run" }
func (j *stubJob) Handle(_ context.Context, payload json.RawMessage) error {
	if j.panic {
		panic("boom")
	}
	p, err := ParsePayload[trigger](payload)
	if err != nil {
		return err
	}
	j.got = append(j.got, *p)
	return j.err
}

var fixedNow = time.Date(2024, 3, 1, 6, 0, 0, 0, time.UTC)

func newTestQueue(t *testing.T, cfg *QueueConfig) (*RedisQueue, redismock.ClientMock) {
	t.Helper()
	rdb, mock := redismock.NewClientMock()
	t.Cleanup(func() { _ = rdb.Close() })
	q := NewRedisQueue(logger.Nop(), cfg, rdb,
		WithKeyPrefix("test:queue"),
		WithClock(func() time.Time { return fixedNow }, func() string { return "m-1" }),
	)
	return q, mock
}

func encodedMessage(t *testing.T, msg Message) []byte {
	t.Helper()
	b, err := json.Marshal(msg)
	require.NoError(t, err)
	return b
}

func TestParsePayload(t *testing.T) {
	t.Parallel()

	p, err := ParsePayload[trigger](json.RawMessage(`{"run_date":"2024-03-01","batch_index":4}`))
	require.NoError(t, err)
	assert.Equal(t, trigger{RunDate: "2024-03-01", BatchIndex: 4}, *p)

	_, err = ParsePayload[trigger](nil)
	assert.Error(t, err)

	_, err = ParsePayload[trigger](json.RawMessage(`[1,2]`))
	assert.Error(t, err)
}

func TestRedisQueue_Enqueue(t *testing.T) {
	t.Parallel()

	q, mock := newTestQueue(t, nil)
	want := encodedMessage(t, Message{
		ID:        "m-1",
		Type:      "batch.run",
		Payload:   json.RawMessage(`{"run_date":"2024-03-01","batch_index":2}`),
		Timestamp: fixedNow,
	})
	mock.ExpectLPush("test:queue:messages", want).SetVal(1)

	id, err := q.Enqueue(context.Background(), "batch.run", trigger{RunDate: "2024-03-01", BatchIndex: 2})
	require.NoError(t, err)
	assert.Equal(t, "m-1", id)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisQueue_EnqueueUniqueSkipsDuplicates(t *testing.T) {
	t.Parallel()

	q, mock := newTestQueue(t, nil)
	payload := trigger{RunDate: "2024-03-01", BatchIndex: 2}
	want := encodedMessage(t, Message{
		ID:        "m-1",
		Type:      "batch.run",
		Payload:   json.RawMessage(`{"run_date":"2024-03-01","batch_index":2}`),
		Timestamp: fixedNow,
	})

	mock.ExpectSetNX("test:queue:dedupe:2024-03-01:2", "m-1", time.Hour).SetVal(true)
	mock.ExpectLPush("test:queue:messages", want).SetVal(1)
	mock.ExpectSetNX("test:queue:dedupe:2024-03-01:2", "m-1", time.Hour).SetVal(false)

	_, ok, err := q.EnqueueUnique(context.Background(), "batch.run", "2024-03-01:2", payload, time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)

	_, ok, err = q.EnqueueUnique(context.Background(), "batch.run", "2024-03-01:2", payload, time.Hour)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisQueue_ProcessMessageSuccess(t *testing.T) {
	t.Parallel()

	q, mock := newTestQueue(t, nil)
	job := &stubJob{}
	q.RegisterJob(job)

	q.processMessage(context.Background(), Message{
		ID:      "m-1",
		Type:    "batch.run",
		Payload: json.RawMessage(`{"run_date":"2024-03-01","batch_index":7}`),
	})

	require.Len(t, job.got, 1)
	assert.Equal(t, 7, job.got[0].BatchIndex)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisQueue_FailedMessageIsScheduledForRetry(t *testing.T) {
	t.Parallel()

	q, mock := newTestQueue(t, &QueueConfig{RetryLimit: 2, RetryDelay: time.Minute})
	q.RegisterJob(&stubJob{err: errors.New("store down")})

	msg := Message{ID: "m-1", Type: "batch.run", Payload: json.RawMessage(`{"batch_index":1}`)}
	retried := msg
	retried.Attempts = 1
	retried.LastError = "store down"

	mock.ExpectZAdd("test:queue:retry", redis.Z{
		Score:  float64(fixedNow.Add(time.Minute).Unix()),
		Member: encodedMessage(t, retried),
	}).SetVal(1)

	q.processMessage(context.Background(), msg)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisQueue_ExhaustedMessageGoesToDeadLetter(t *testing.T) {
	t.Parallel()

	q, mock := newTestQueue(t, &QueueConfig{RetryLimit: 1})
	q.RegisterJob(&stubJob{panic: true})

	msg := Message{ID: "m-1", Type: "batch.run", Payload: json.RawMessage(`{}`), Attempts: 1}
	dead := msg
	dead.LastError = "job stub panicked: boom"

	mock.ExpectLPush("test:queue:dlq", encodedMessage(t, dead)).SetVal(1)

	q.processMessage(context.Background(), msg)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisQueue_UnknownTypeGoesToDeadLetter(t *testing.T) {
	t.Parallel()

	q, mock := newTestQueue(t, nil)
	msg := Message{ID: "m-1", Type: "unknown", Payload: json.RawMessage(`{}`)}
	mock.ExpectLPush("test:queue:dlq", encodedMessage(t, msg)).SetVal(1)

	q.processMessage(context.Background(), msg)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisQueue_Depth(t *testing.T) {
	t.Parallel()

	q, mock := newTestQueue(t, nil)
	mock.ExpectLLen("test:queue:messages").SetVal(3)
	mock.ExpectZCard("test:queue:retry").SetVal(1)
	mock.ExpectLLen("test:queue:dlq").SetVal(0)

	d, err := q.Depth(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Depth{Pending: 3, Retrying: 1}, d)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisQueue_DueRetriesReturnToPending(t *testing.T) {
	t.Parallel()

	q, mock := newTestQueue(t, nil)
	member := string(encodedMessage(t, Message{ID: "m-9", Type: "batch.run", Attempts: 1}))

	mock.ExpectZRangeByScore("test:queue:retry", &redis.ZRangeBy{
		Min: "0",
		Max: "1709272800",
	}).SetVal([]string{member})
	mock.ExpectEvalSha(requeueScript.Hash(), []string{"test:queue:retry", "test:queue:messages"}, member).SetVal(int64(1))

	q.processRetryMessages(context.Background())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisQueue_RetryClaimedByAnotherScheduler(t *testing.T) {
	t.Parallel()

	q, mock := newTestQueue(t, nil)
	a := string(encodedMessage(t, Message{ID: "m-1", Type: "batch.run", Attempts: 1}))
	b := string(encodedMessage(t, Message{ID: "m-2", Type: "batch.run", Attempts: 2}))
	keys := []string{"test:queue:retry", "test:queue:messages"}

	mock.ExpectZRangeByScore("test:queue:retry", &redis.ZRangeBy{
		Min: "0",
		Max: "1709272800",
	}).SetVal([]string{a, b})
	// a was already moved by the other process, so only b is pushed.
	mock.ExpectEvalSha(requeueScript.Hash(), keys, a).SetVal(int64(0))
	mock.ExpectEvalSha(requeueScript.Hash(), keys, b).SetVal(int64(1))

	q.processRetryMessages(context.Background())
	require.NoError(t, mock.ExpectationsWereMet())
}
