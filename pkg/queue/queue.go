package queue

import (
	"context"
	"encoding/json"
	"time"
)

// Handler processes the payloads enqueued under one topic.
type Handler interface {
	Topic() string
	Handle(ctx context.Context, payload []byte) error
}

// Config contains the configuration for the queue.
type Config struct {
	Workers    int           // number of workers
	RetryLimit int           // number of maximum retries
	RetryDelay time.Duration // time delay between retries
	PollWait   time.Duration // BRPOP block time per poll
}

// Message is the envelope stored in Redis.
type Message struct {
	ID        string          `json:"id"`
	Topic     string          `json:"topic"`
	Payload   json.RawMessage `json:"payload"`
	Attempts  int             `json:"attempts"`
	Timestamp time.Time       `json:"timestamp"`
}

func encodePayload(payload interface{}) (json.RawMessage, error) {
	switch p := payload.(type) {
	case json.RawMessage:
		return p, nil
	case []byte:
		return json.RawMessage(p), nil
	case string:
		return json.RawMessage(p), nil
	default:
		return json.Marshal(p)
	}
}
