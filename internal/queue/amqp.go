package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/jorgepascosoto/vaultdb/internal/config"
	"github.com/jorgepascosoto/vaultdb/internal/errors"
)

const publishConfirmTimeout = 30 * time.Second

// AMQPQueue maps each family onto a durable RabbitMQ queue. Publishing uses
// confirms; consuming uses prefetch 1 and manual acks so an unacked message
// is redelivered by the broker if the consumer dies.
type AMQPQueue struct {
	conn    *amqp.Connection
	prefix  string
	timeout time.Duration
	logger  zerolog.Logger

	pubMu          sync.Mutex
	pub            *amqp.Channel
	confirms       chan amqp.Confirmation
	confirmTimeout time.Duration

	subMu     sync.Mutex
	consumers map[string]<-chan amqp.Delivery
	subs      []*amqp.Channel
}

func NewAMQPQueue(cfg config.QueueConfig, logger zerolog.Logger) (*AMQPQueue, error) {
	conn, err := amqp.Dial(cfg.AMQPURL)
	if err != nil {
		return nil, fmt.Errorf("amqp connect error: %w", err)
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "vaultdb"
	}

	return &AMQPQueue{
		conn:           conn,
		prefix:         prefix,
		timeout:        pollTimeout(cfg.PollTimeout),
		logger:         logger,
		confirmTimeout: publishConfirmTimeout,
		consumers:      make(map[string]<-chan amqp.Delivery),
	}, nil
}

func (q *AMQPQueue) queueName(family string) string {
	return q.prefix + "." + family
}

func declare(ch *amqp.Channel, name string) error {
	_, err := ch.QueueDeclare(
		name,  // queue name
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}
	return nil
}

// publisher lazily opens the confirm-mode channel. Callers hold pubMu.
func (q *AMQPQueue) publisher() (*amqp.Channel, error) {
	if q.pub != nil && !q.pub.IsClosed() {
		return q.pub, nil
	}

	ch, err := q.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	if err := ch.Confirm(false); err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to put channel in confirm mode: %w", err)
	}

	q.pub = ch
	q.confirms = ch.NotifyPublish(make(chan amqp.Confirmation, 1))
	return ch, nil
}

// resetPublisher drops the publisher channel so a confirmation that arrives
// late is never read by the next publish. Callers hold pubMu.
func (q *AMQPQueue) resetPublisher() {
	if q.pub != nil {
		_ = q.pub.Close()
	}
	q.pub = nil
	q.confirms = nil
}

// awaitConfirm waits for the broker to confirm the last publish. Callers
// hold pubMu.
func (q *AMQPQueue) awaitConfirm(ctx context.Context, family string) error {
	timer := time.NewTimer(q.confirmTimeout)
	defer timer.Stop()

	select {
	case confirmed, ok := <-q.confirms:
		if !ok {
			q.resetPublisher()
			return errors.NewQueueError("enqueue", family, errors.Kind(errors.ErrEnqueueFailed, fmt.Errorf("confirmation channel closed")))
		}
		if !confirmed.Ack {
			return errors.NewQueueError("enqueue", family, errors.Kind(errors.ErrEnqueueFailed, fmt.Errorf("broker rejected message")))
		}
		return nil
	case <-timer.C:
		q.resetPublisher()
		return errors.NewQueueError("enqueue", family, errors.Kind(errors.ErrEnqueueFailed, fmt.Errorf("publish confirmation timed out")))
	case <-ctx.Done():
		q.resetPublisher()
		return errors.NewQueueError("enqueue", family, ctx.Err())
	}
}

func (q *AMQPQueue) Enqueue(ctx context.Context, msg Message) error {
	body, err := encode(msg)
	if err != nil {
		return errors.NewQueueError("enqueue", msg.Family, err)
	}

	q.pubMu.Lock()
	defer q.pubMu.Unlock()

	ch, err := q.publisher()
	if err != nil {
		return errors.NewQueueError("enqueue", msg.Family, errors.Kind(errors.ErrEnqueueFailed, err))
	}

	name := q.queueName(msg.Family)
	if err := declare(ch, name); err != nil {
		return errors.NewQueueError("enqueue", msg.Family, errors.Kind(errors.ErrEnqueueFailed, err))
	}

	err = ch.PublishWithContext(ctx,
		"",    // default exchange
		name,  // routing key
		true,  // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    msg.ID,
			Timestamp:    msg.EnqueuedAt,
			Body:         body,
		})
	if err != nil {
		return errors.NewQueueError("enqueue", msg.Family, errors.Kind(errors.ErrEnqueueFailed, err))
	}

	return q.awaitConfirm(ctx, msg.Family)
}

// consumer starts the family's consumer on first use.
func (q *AMQPQueue) consumer(family string) (<-chan amqp.Delivery, error) {
	q.subMu.Lock()
	defer q.subMu.Unlock()

	if deliveries, ok := q.consumers[family]; ok {
		return deliveries, nil
	}

	ch, err := q.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	name := q.queueName(family)
	if err := declare(ch, name); err != nil {
		ch.Close()
		return nil, err
	}

	if err := ch.Qos(
		1,     // prefetch count
		0,     // prefetch size
		false, // global
	); err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to set QoS: %w", err)
	}

	deliveries, err := ch.Consume(
		name,  // queue
		"",    // consumer tag
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,   // args
	)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to register consumer: %w", err)
	}

	q.consumers[family] = deliveries
	q.subs = append(q.subs, ch)
	return deliveries, nil
}

func (q *AMQPQueue) Dequeue(ctx context.Context, family string) (*Delivery, error) {
	deliveries, err := q.consumer(family)
	if err != nil {
		return nil, errors.NewQueueError("dequeue", family, err)
	}

	timer := time.NewTimer(q.timeout)
	defer timer.Stop()

	select {
	case d, ok := <-deliveries:
		if !ok {
			q.subMu.Lock()
			delete(q.consumers, family)
			q.subMu.Unlock()
			return nil, errors.NewQueueError("dequeue", family, fmt.Errorf("consumer channel closed"))
		}

		msg, err := decode(d.Body)
		if err != nil {
			q.logger.Error().Err(err).Str("family", family).Msg("rejecting malformed message")
			d.Nack(false, false)
			return nil, errors.NewQueueError("dequeue", family, err)
		}

		return &Delivery{
			Message: msg,
			ack: func(ctx context.Context) error {
				return d.Ack(false)
			},
			nack: func(ctx context.Context, requeue bool) error {
				return d.Nack(false, requeue)
			},
		}, nil
	case <-timer.C:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Recover is a no-op: the broker requeues unacked deliveries itself when the
// consumer's channel closes.
func (q *AMQPQueue) Recover(ctx context.Context, family string) (int, error) {
	return 0, nil
}

func (q *AMQPQueue) Close() error {
	q.subMu.Lock()
	for _, ch := range q.subs {
		_ = ch.Close()
	}
	q.subs = nil
	q.consumers = make(map[string]<-chan amqp.Delivery)
	q.subMu.Unlock()

	q.pubMu.Lock()
	q.resetPublisher()
	q.pubMu.Unlock()

	return q.conn.Close()
}
