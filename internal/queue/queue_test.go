package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jorgepascosoto/vaultdb/internal/config"
	"github.com/jorgepascosoto/vaultdb/internal/errors"
)

func testMessage(id string) Message {
	return Message{
		ID:         id,
		Family:     FamilyBackup,
		Name:       "execute-backup",
		Payload:    json.RawMessage(`{"settingsId":"s1"}`),
		EnqueuedAt: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestMessage_EncodeDecode(t *testing.T) {
	t.Parallel()

	raw, err := encode(testMessage("m1"))
	require.NoError(t, err)

	msg, err := decode(raw)
	require.NoError(t, err)
	assert.Equal(t, "m1", msg.ID)
	assert.Equal(t, FamilyBackup, msg.Family)
	assert.JSONEq(t, `{"settingsId":"s1"}`, string(msg.Payload))

	_, err = decode([]byte("not json"))
	assert.Error(t, err)
}

func TestMemoryQueue_FIFO(t *testing.T) {
	t.Parallel()

	q := NewMemoryQueue(50 * time.Millisecond)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, q.Enqueue(ctx, testMessage(fmt.Sprintf("m%d", i))))
	}
	assert.Equal(t, 3, q.Len(FamilyBackup))

	for i := 0; i < 3; i++ {
		d, err := q.Dequeue(ctx, FamilyBackup)
		require.NoError(t, err)
		require.NotNil(t, d)
		assert.Equal(t, fmt.Sprintf("m%d", i), d.Message.ID)
		require.NoError(t, d.Ack(ctx))
	}
	assert.Zero(t, q.Len(FamilyBackup))
}

func TestMemoryQueue_FamiliesAreIsolated(t *testing.T) {
	t.Parallel()

	q := NewMemoryQueue(20 * time.Millisecond)
	ctx := context.Background()

	msg := testMessage("restore-1")
	msg.Family = FamilyRestore
	require.NoError(t, q.Enqueue(ctx, msg))

	d, err := q.Dequeue(ctx, FamilyBackup)
	require.NoError(t, err)
	assert.Nil(t, d, "Backup consumer must not see restore messages")

	d, err = q.Dequeue(ctx, FamilyRestore)
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, "restore-1", d.Message.ID)
}

func TestMemoryQueue_DequeueTimesOut(t *testing.T) {
	t.Parallel()

	q := NewMemoryQueue(20 * time.Millisecond)

	start := time.Now()
	d, err := q.Dequeue(context.Background(), FamilyBackup)

	require.NoError(t, err)
	assert.Nil(t, d)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestMemoryQueue_DequeueHonoursContext(t *testing.T) {
	t.Parallel()

	q := NewMemoryQueue(time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d, err := q.Dequeue(ctx, FamilyBackup)

	assert.Nil(t, d)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMemoryQueue_NackRequeue(t *testing.T) {
	t.Parallel()

	q := NewMemoryQueue(20 * time.Millisecond)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, testMessage("m1")))

	d, err := q.Dequeue(ctx, FamilyBackup)
	require.NoError(t, err)
	require.NoError(t, d.Nack(ctx, true))

	again, err := q.Dequeue(ctx, FamilyBackup)
	require.NoError(t, err)
	require.NotNil(t, again)
	assert.Equal(t, "m1", again.Message.ID)

	require.NoError(t, again.Nack(ctx, false))
	assert.Zero(t, q.Len(FamilyBackup))
}

func TestMemoryQueue_Full(t *testing.T) {
	t.Parallel()

	q := NewMemoryQueue(time.Millisecond)
	ctx := context.Background()

	for i := 0; i < memoryCapacity; i++ {
		require.NoError(t, q.Enqueue(ctx, testMessage(fmt.Sprintf("m%d", i))))
	}

	err := q.Enqueue(ctx, testMessage("overflow"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrEnqueueFailed))

	var qe *errors.QueueError
	require.True(t, errors.As(err, &qe))
	assert.Equal(t, "enqueue", qe.Operation)
	assert.Equal(t, FamilyBackup, qe.Family)
}

func TestMemoryQueue_Closed(t *testing.T) {
	t.Parallel()

	q := NewMemoryQueue(time.Millisecond)
	require.NoError(t, q.Close())

	assert.Error(t, q.Enqueue(context.Background(), testMessage("m1")))
	_, err := q.Dequeue(context.Background(), FamilyBackup)
	assert.Error(t, err)
}

func TestMemoryQueue_Recover(t *testing.T) {
	t.Parallel()

	n, err := NewMemoryQueue(0).Recover(context.Background(), FamilyBackup)

	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRedisQueue_Keys(t *testing.T) {
	t.Parallel()

	client := redis.NewClient(&redis.Options{Addr: "localhost:0"})
	defer client.Close()

	q := newRedisQueue(client, "", 0, zerolog.Nop())

	assert.Equal(t, "vaultdb:queue:backup", q.pendingKey(FamilyBackup))
	assert.Equal(t, "vaultdb:queue:backup:active", q.activeKey(FamilyBackup))
	assert.Equal(t, 5*time.Second, q.timeout)

	custom := newRedisQueue(client, "staging", time.Second, zerolog.Nop())
	assert.Equal(t, "staging:queue:restore", custom.pendingKey(FamilyRestore))
}

func TestAMQPQueue_Name(t *testing.T) {
	t.Parallel()

	q := &AMQPQueue{prefix: "vaultdb"}
	assert.Equal(t, "vaultdb.backup", q.queueName(FamilyBackup))
}

func TestAMQPQueue_AwaitConfirm(t *testing.T) {
	t.Parallel()

	confirms := make(chan amqp.Confirmation, 1)
	q := &AMQPQueue{confirms: confirms, confirmTimeout: time.Second}

	confirms <- amqp.Confirmation{DeliveryTag: 1, Ack: true}
	require.NoError(t, q.awaitConfirm(context.Background(), FamilyBackup))

	confirms <- amqp.Confirmation{DeliveryTag: 2, Ack: false}
	err := q.awaitConfirm(context.Background(), FamilyBackup)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrEnqueueFailed))
	assert.Contains(t, err.Error(), "broker rejected message")
}

func TestAMQPQueue_ConfirmTimeoutDropsPublisher(t *testing.T) {
	t.Parallel()

	confirms := make(chan amqp.Confirmation, 1)
	q := &AMQPQueue{confirms: confirms, confirmTimeout: 10 * time.Millisecond}

	err := q.awaitConfirm(context.Background(), FamilyBackup)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrEnqueueFailed))
	assert.Contains(t, err.Error(), "publish confirmation timed out")

	// The late confirmation lands on the dropped channel, not the next publish's.
	confirms <- amqp.Confirmation{DeliveryTag: 1, Ack: false}
	assert.Nil(t, q.pub)
	assert.Nil(t, q.confirms)
}

func TestAMQPQueue_CancelledConfirmDropsPublisher(t *testing.T) {
	t.Parallel()

	q := &AMQPQueue{confirms: make(chan amqp.Confirmation, 1), confirmTimeout: time.Minute}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := q.awaitConfirm(ctx, FamilyBackup)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Nil(t, q.confirms)
}

func TestNew_MemoryBackend(t *testing.T) {
	t.Parallel()

	q, err := New(context.Background(), config.QueueConfig{Backend: config.QueueBackendMemory}, zerolog.Nop())

	require.NoError(t, err)
	_, ok := q.(*MemoryQueue)
	assert.True(t, ok)
}

func TestNew_UnknownBackend(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), config.QueueConfig{Backend: "kafka"}, zerolog.Nop())

	var ce *errors.ConfigError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "queue.backend", ce.Field)
}
