package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Publisher enqueues messages for a registered job type.
type Publisher interface {
	Enqueue(ctx context.Context, msgType string, payload interface{}) (string, error)
	// EnqueueUnique drops the message when dedupeKey was already enqueued within ttl.
	EnqueueUnique(ctx context.Context, msgType, dedupeKey string, payload interface{}, ttl time.Duration) (string, bool, error)
}

// QueueConfig contains the configuration for the queue
type QueueConfig struct {
	Workers      int           // number of workers
	RetryLimit   int           // number of maximum retries
	RetryDelay   time.Duration // base delay, multiplied by the attempt number
	PollInterval time.Duration // retry-set scan interval
}

// Message represents a message in the queue
type Message struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Attempts  int             `json:"attempts"`
	LastError string          `json:"last_error,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// Depth reports the number of messages waiting in each list.
type Depth struct {
	Pending    int64 `json:"pending"`
	Retrying   int64 `json:"retrying"`
	DeadLetter int64 `json:"dead_letter"`
}

// ParsePayload decodes a message payload into T.
func ParsePayload[T any](payload json.RawMessage) (*T, error) {
	if len(payload) == 0 {
		return nil, fmt.Errorf("empty payload")
	}
	var result T
	if err := json.Unmarshal(payload, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
	}
	return &result, nil
}
