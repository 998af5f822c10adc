package logger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	mu    sync.Mutex
	topic string
	batch []AggregatedLogEntry
	calls int
}

func (p *recordingPublisher) PublishMessage(_ context.Context, topic string, payload interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topic = topic
	p.batch, _ = payload.([]AggregatedLogEntry)
	p.calls++
	return nil
}

func (p *recordingPublisher) snapshot() (string, []AggregatedLogEntry, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.topic, p.batch, p.calls
}

func TestLogCollector_AggregatesDuplicatesAndFlushesOnClose(t *testing.T) {
	pub := &recordingPublisher{}
	l := Nop()
	l.AddCollector(&CollectionConfig{
		Source:         "pickflow",
		TimeInterval:   time.Hour,
		CountThreshold: 100,
		Topic:          "logs",
		Publisher:      pub,
	})

	for i := 0; i < 3; i++ {
		l.Error("fetch failed", String("instrument", "AAA"), Error(errors.New("timeout")))
	}
	l.Warn("store down")
	l.Info("not collected")
	require.Equal(t, 2, l.collector.Pending())

	l.RemoveCollector()

	topic, batch, calls := pub.snapshot()
	require.Equal(t, 1, calls)
	assert.Equal(t, "logs", topic)
	require.Len(t, batch, 2)
	assert.Equal(t, 3, batch[0].Count)
	assert.Equal(t, "fetch failed", batch[0].Message)
	assert.Equal(t, "pickflow", batch[0].Source)
	assert.Equal(t, "timeout", batch[0].Fields["error"])
}

func TestLogger_NilErrorField(t *testing.T) {
	t.Parallel()

	k, v := Error(nil).GetKeyValue()
	assert.Equal(t, "error", k)
	assert.Nil(t, v)
}

func TestLogCollector_FlushesAtThreshold(t *testing.T) {
	pub := &recordingPublisher{}
	c := NewLogCollector(&CollectionConfig{TimeInterval: time.Hour, CountThreshold: 2, Topic: "logs", Publisher: pub})

	c.AddLog("error", "a", nil, "x.go:1")
	c.AddLog("error", "a", nil, "x.go:1")
	assert.Equal(t, 1, c.Pending())
	c.AddLog("warn", "b", map[string]interface{}{"batch": 3}, "x.go:2")
	assert.Equal(t, 0, c.Pending())

	c.Close()
	_, batch, calls := pub.snapshot()
	require.Equal(t, 1, calls)
	require.Len(t, batch, 2)
	assert.Equal(t, "a", batch[0].Message)
	assert.Equal(t, 2, batch[0].Count)
}
