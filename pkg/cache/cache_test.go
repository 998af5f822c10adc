package cache

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type assignment struct {
	RunDate string     `json:"run_date"`
	Batches [][]string `json:"batches"`
}

func TestKey(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "assignment:2024-03-01", Key("assignment", "2024-03-01"))
	assert.Equal(t, "single", Key("single"))
}

func TestMemoryCache_RoundTripsStructs(t *testing.T) {
	t.Parallel()

	mc := NewMemoryCache()
	defer mc.Close()
	ctx := context.Background()

	in := assignment{RunDate: "2024-03-01", Batches: [][]string{{"A", "B"}, {"C"}}}
	require.NoError(t, mc.Set(ctx, "k", in, time.Minute))

	var out assignment
	require.NoError(t, mc.Get(ctx, "k", &out))
	assert.Equal(t, in, out)

	var s string
	require.NoError(t, mc.Set(ctx, "s", "plain", time.Minute))
	require.NoError(t, mc.Get(ctx, "s", &s))
	assert.Equal(t, "plain", s)
}

func TestMemoryCache_MissAndExpiry(t *testing.T) {
	t.Parallel()

	mc := NewMemoryCache()
	defer mc.Close()
	ctx := context.Background()

	var out string
	assert.ErrorIs(t, mc.Get(ctx, "absent", &out), ErrCacheMiss)

	require.NoError(t, mc.Set(ctx, "short", "v", time.Millisecond))
	time.Sleep(5 * time.Millisecond)
	assert.ErrorIs(t, mc.Get(ctx, "short", &out), ErrCacheMiss)

	ok, err := mc.Exists(ctx, "short")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryCache_SetNXFirstWriterWins(t *testing.T) {
	t.Parallel()

	mc := NewMemoryCache()
	defer mc.Close()
	ctx := context.Background()

	ok, err := mc.SetNX(ctx, "regime", "bull_trending", time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = mc.SetNX(ctx, "regime", "bear_trending", time.Hour)
	require.NoError(t, err)
	assert.False(t, ok)

	var got string
	require.NoError(t, mc.Get(ctx, "regime", &got))
	assert.Equal(t, "bull_trending", got)
}

func TestMemoryCache_EvictsLeastRecentlyUsed(t *testing.T) {
	t.Parallel()

	mc := NewMemoryCache(WithMemoryMaxSize(2))
	defer mc.Close()
	ctx := context.Background()

	require.NoError(t, mc.Set(ctx, "a", 1, time.Minute))
	time.Sleep(time.Millisecond)
	require.NoError(t, mc.Set(ctx, "b", 2, time.Minute))
	time.Sleep(time.Millisecond)

	var v int
	require.NoError(t, mc.Get(ctx, "a", &v))
	time.Sleep(time.Millisecond)

	require.NoError(t, mc.Set(ctx, "c", 3, time.Minute))
	assert.Equal(t, 2, mc.Len())
	assert.ErrorIs(t, mc.Get(ctx, "b", &v), ErrCacheMiss)
	require.NoError(t, mc.Get(ctx, "a", &v))
	assert.Equal(t, 1, v)
}

func TestMemoryCache_TryLock(t *testing.T) {
	t.Parallel()

	mc := NewMemoryCache()
	defer mc.Close()
	ctx := context.Background()

	ok, err := mc.TryLock(ctx, "lock", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = mc.TryLock(ctx, "lock", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, mc.Unlock(ctx, "lock"))
	ok, err = mc.TryLock(ctx, "lock", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestGetOrSetNX(t *testing.T) {
	t.Parallel()

	mc := NewMemoryCache()
	defer mc.Close()
	ctx := context.Background()

	first := assignment{RunDate: "2024-03-01", Batches: [][]string{{"A"}}}
	second := assignment{RunDate: "2024-03-01", Batches: [][]string{{"Z"}}}

	got, err := GetOrSetNX(ctx, mc, "assignment", first, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, first, got)

	got, err = GetOrSetNX(ctx, mc, "assignment", second, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, first, got)
}

func TestRedisCache_GetMissAndHit(t *testing.T) {
	t.Parallel()

	rdb, mock := redismock.NewClientMock()
	defer func() { _ = rdb.Close() }()
	rc := NewRedisCacheFromClient(rdb, "pickflow")
	ctx := context.Background()

	in := assignment{RunDate: "2024-03-01", Batches: [][]string{{"A"}}}
	raw, _ := json.Marshal(in)

	mock.ExpectGet("pickflow:assignment").RedisNil()
	mock.ExpectGet("pickflow:assignment").SetVal(string(raw))

	var out assignment
	assert.ErrorIs(t, rc.Get(ctx, "assignment", &out), ErrCacheMiss)
	require.NoError(t, rc.Get(ctx, "assignment", &out))
	assert.Equal(t, in, out)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisCache_SetAndSetNX(t *testing.T) {
	t.Parallel()

	rdb, mock := redismock.NewClientMock()
	defer func() { _ = rdb.Close() }()
	rc := NewRedisCacheFromClient(rdb, "pickflow")
	ctx := context.Background()

	in := assignment{RunDate: "2024-03-01"}
	raw, _ := json.Marshal(in)

	mock.ExpectSet("pickflow:a", raw, time.Hour).SetVal("OK")
	mock.ExpectSetNX("pickflow:regime", []byte("bull_trending"), time.Hour).SetVal(true)
	mock.ExpectSetNX("pickflow:regime", []byte("bear_trending"), time.Hour).SetVal(false)

	require.NoError(t, rc.Set(ctx, "a", in, time.Hour))

	ok, err := rc.SetNX(ctx, "regime", "bull_trending", time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = rc.SetNX(ctx, "regime", "bear_trending", time.Hour)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetOrSetNX_LoserRereadsWinner(t *testing.T) {
	t.Parallel()

	rdb, mock := redismock.NewClientMock()
	defer func() { _ = rdb.Close() }()
	rc := NewRedisCacheFromClient(rdb, "pickflow")

	winner := assignment{RunDate: "2024-03-01", Batches: [][]string{{"W"}}}
	mine := assignment{RunDate: "2024-03-01", Batches: [][]string{{"M"}}}
	winnerRaw, _ := json.Marshal(winner)
	mineRaw, _ := json.Marshal(mine)

	mock.ExpectGet("pickflow:assignment").RedisNil()
	mock.ExpectSetNX("pickflow:assignment", mineRaw, time.Hour).SetVal(false)
	mock.ExpectGet("pickflow:assignment").SetVal(string(winnerRaw))

	got, err := GetOrSetNX(context.Background(), rc, "assignment", mine, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, winner, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLayeredCache_ServesFromMemoryAfterRemoteHit(t *testing.T) {
	t.Parallel()

	rdb, mock := redismock.NewClientMock()
	defer func() { _ = rdb.Close() }()
	lc := NewLayeredCache(NewRedisCacheFromClient(rdb, "pickflow"), time.Minute)
	defer lc.Close()
	ctx := context.Background()

	raw, _ := json.Marshal([]float64{1, 2, 3})
	mock.ExpectGet("pickflow:history:AAA").SetVal(string(raw))

	var first, second []float64
	require.NoError(t, lc.Get(ctx, "history:AAA", &first))
	require.NoError(t, lc.Get(ctx, "history:AAA", &second))
	assert.Equal(t, []float64{1, 2, 3}, second)
	require.NoError(t, mock.ExpectationsWereMet())
}
