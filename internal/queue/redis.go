package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/jorgepascosoto/vaultdb/internal/config"
	"github.com/jorgepascosoto/vaultdb/internal/errors"
)

const redisDialTimeout = 5 * time.Second

// RedisQueue is a reliable list queue: producers LPUSH onto the pending list
// and the consumer BLMOVEs each message into an active list until it is
// acknowledged.
type RedisQueue struct {
	client  *redis.Client
	prefix  string
	timeout time.Duration
	logger  zerolog.Logger
}

func NewRedisQueue(ctx context.Context, cfg config.QueueConfig, logger zerolog.Logger) (*RedisQueue, error) {
	client := redis.NewClient(&redis.Options{
		Addr:        cfg.RedisAddr,
		Username:    cfg.RedisUsername,
		Password:    cfg.RedisPassword,
		DB:          cfg.RedisDB,
		DialTimeout: redisDialTimeout,
		// Blocking reads must outlive the poll timeout.
		ReadTimeout: pollTimeout(cfg.PollTimeout) + 5*time.Second,
		PoolSize:    10,
	})

	pingCtx, cancel := context.WithTimeout(ctx, redisDialTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis connect error: %w", err)
	}

	return newRedisQueue(client, cfg.Prefix, cfg.PollTimeout, logger), nil
}

func newRedisQueue(client *redis.Client, prefix string, timeout time.Duration, logger zerolog.Logger) *RedisQueue {
	if prefix == "" {
		prefix = "vaultdb"
	}
	return &RedisQueue{
		client:  client,
		prefix:  prefix,
		timeout: pollTimeout(timeout),
		logger:  logger,
	}
}

func (q *RedisQueue) pendingKey(family string) string {
	return fmt.Sprintf("%s:queue:%s", q.prefix, family)
}

func (q *RedisQueue) activeKey(family string) string {
	return q.pendingKey(family) + ":active"
}

func (q *RedisQueue) Enqueue(ctx context.Context, msg Message) error {
	raw, err := encode(msg)
	if err != nil {
		return errors.NewQueueError("enqueue", msg.Family, err)
	}

	if err := q.client.LPush(ctx, q.pendingKey(msg.Family), raw).Err(); err != nil {
		return errors.NewQueueError("enqueue", msg.Family, errors.Kind(errors.ErrEnqueueFailed, err))
	}
	return nil
}

func (q *RedisQueue) Dequeue(ctx context.Context, family string) (*Delivery, error) {
	pending, active := q.pendingKey(family), q.activeKey(family)

	raw, err := q.client.BLMove(ctx, pending, active, "RIGHT", "LEFT", q.timeout).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errors.NewQueueError("dequeue", family, err)
	}

	msg, err := decode([]byte(raw))
	if err != nil {
		// Unparseable payloads would block recovery forever.
		q.logger.Error().Err(err).Str("family", family).Msg("dropping malformed message")
		q.client.LRem(context.Background(), active, 1, raw)
		return nil, errors.NewQueueError("dequeue", family, err)
	}

	return &Delivery{
		Message: msg,
		ack: func(ctx context.Context) error {
			return q.client.LRem(ctx, active, 1, raw).Err()
		},
		nack: func(ctx context.Context, requeue bool) error {
			if !requeue {
				return q.client.LRem(ctx, active, 1, raw).Err()
			}
			_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.LRem(ctx, active, 1, raw)
				pipe.RPush(ctx, pending, raw)
				return nil
			})
			return err
		},
	}, nil
}

// Recover moves everything left in the active list back to the consuming end
// of the pending list so the oldest is handed out first.
func (q *RedisQueue) Recover(ctx context.Context, family string) (int, error) {
	pending, active := q.pendingKey(family), q.activeKey(family)

	moved := 0
	for {
		err := q.client.LMove(ctx, active, pending, "LEFT", "RIGHT").Err()
		if err == redis.Nil {
			break
		}
		if err != nil {
			return moved, errors.NewQueueError("recover", family, err)
		}
		moved++
	}

	if moved > 0 {
		q.logger.Warn().Str("family", family).Int("messages", moved).Msg("requeued unacknowledged messages")
	}
	return moved, nil
}

func (q *RedisQueue) Close() error {
	return q.client.Close()
}
