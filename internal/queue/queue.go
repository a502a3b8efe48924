// Package queue carries job messages between the enqueue side and the single
// consumer of each job family.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/jorgepascosoto/vaultdb/internal/config"
	"github.com/jorgepascosoto/vaultdb/internal/errors"
)

const (
	FamilyBackup  = "backup"
	FamilyRestore = "restore"
)

// Message is the durable unit of work. ID doubles as the correlation id
// handed back to the caller at enqueue time.
type Message struct {
	ID         string          `json:"id"`
	Family     string          `json:"family"`
	Name       string          `json:"name"`
	Payload    json.RawMessage `json:"payload"`
	EnqueuedAt time.Time       `json:"enqueuedAt"`
}

func encode(msg Message) ([]byte, error) {
	return json.Marshal(msg)
}

func decode(raw []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return Message{}, fmt.Errorf("malformed queue message: %w", err)
	}
	return msg, nil
}

// Delivery is a dequeued message that must be acknowledged once handled.
// Nack with requeue puts it back for another attempt.
type Delivery struct {
	Message Message

	ack  func(ctx context.Context) error
	nack func(ctx context.Context, requeue bool) error
}

func (d *Delivery) Ack(ctx context.Context) error {
	if d.ack == nil {
		return nil
	}
	return d.ack(ctx)
}

func (d *Delivery) Nack(ctx context.Context, requeue bool) error {
	if d.nack == nil {
		return nil
	}
	return d.nack(ctx, requeue)
}

type Queue interface {
	Enqueue(ctx context.Context, msg Message) error
	// Dequeue waits up to the poll timeout and returns nil, nil when nothing
	// arrived so callers can check for shutdown.
	Dequeue(ctx context.Context, family string) (*Delivery, error)
	// Recover returns messages a crashed consumer left unacknowledged to the
	// pending side and reports how many were moved.
	Recover(ctx context.Context, family string) (int, error)
	Close() error
}

// New builds the queue backend selected in cfg.
func New(ctx context.Context, cfg config.QueueConfig, logger zerolog.Logger) (Queue, error) {
	logger = logger.With().Str("component", "queue").Str("backend", cfg.Backend).Logger()

	switch cfg.Backend {
	case config.QueueBackendMemory:
		return NewMemoryQueue(cfg.PollTimeout), nil
	case config.QueueBackendRedis:
		return NewRedisQueue(ctx, cfg, logger)
	case config.QueueBackendAMQP:
		return NewAMQPQueue(cfg, logger)
	default:
		return nil, errors.NewConfigError("queue.backend", fmt.Sprintf("unknown backend %q", cfg.Backend))
	}
}

func pollTimeout(d time.Duration) time.Duration {
	if d <= 0 {
		return 5 * time.Second
	}
	return d
}
