package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jorgepascosoto/vaultdb/internal/errors"
)

const memoryCapacity = 1024

// MemoryQueue keeps messages in process. It is meant for tests and the
// single-process CLI; nothing survives a restart.
type MemoryQueue struct {
	mu       sync.Mutex
	families map[string]chan Message
	timeout  time.Duration
	closed   bool
}

func NewMemoryQueue(timeout time.Duration) *MemoryQueue {
	return &MemoryQueue{
		families: make(map[string]chan Message),
		timeout:  pollTimeout(timeout),
	}
}

func (q *MemoryQueue) channel(family string) (chan Message, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil, fmt.Errorf("queue closed")
	}
	ch, ok := q.families[family]
	if !ok {
		ch = make(chan Message, memoryCapacity)
		q.families[family] = ch
	}
	return ch, nil
}

func (q *MemoryQueue) Enqueue(ctx context.Context, msg Message) error {
	ch, err := q.channel(msg.Family)
	if err != nil {
		return errors.NewQueueError("enqueue", msg.Family, err)
	}

	select {
	case ch <- msg:
		return nil
	default:
		return errors.NewQueueError("enqueue", msg.Family, errors.Kind(errors.ErrEnqueueFailed, fmt.Errorf("queue full")))
	}
}

func (q *MemoryQueue) Dequeue(ctx context.Context, family string) (*Delivery, error) {
	ch, err := q.channel(family)
	if err != nil {
		return nil, errors.NewQueueError("dequeue", family, err)
	}

	timer := time.NewTimer(q.timeout)
	defer timer.Stop()

	select {
	case msg := <-ch:
		return &Delivery{
			Message: msg,
			nack: func(ctx context.Context, requeue bool) error {
				if requeue {
					return q.Enqueue(ctx, msg)
				}
				return nil
			},
		}, nil
	case <-timer.C:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (q *MemoryQueue) Recover(ctx context.Context, family string) (int, error) {
	return 0, nil
}

// Len reports the number of pending messages for family.
func (q *MemoryQueue) Len(family string) int {
	ch, err := q.channel(family)
	if err != nil {
		return 0
	}
	return len(ch)
}

func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	return nil
}
