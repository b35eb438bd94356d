// Package rabbitmq adapts a RabbitMQ queue to transport.Transport using basic.get polling.
//
// The broker has no visibility timeout, so deliveries held un-deleted for longer than the
// configured window are nack-requeued on the next Receive. Redrive comes from the quorum
// queue delivery limit and dead-letter exchange declared by shared/rabbitmq.
package rabbitmq

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/cuongbtq/quizjobs/internal/transport"
	"github.com/cuongbtq/quizjobs/shared/rabbitmq"
)

const (
	contentType         = "application/json"
	defaultPollInterval = 200 * time.Millisecond
)

var _ transport.Transport = (*Transport)(nil)

// Broker is the subset of *rabbitmq.Client used by Transport
type Broker interface {
	PublishWithRetry(ctx context.Context, route rabbitmq.Route, body []byte, contentType string) error
	Get(queue string) (amqp.Delivery, bool, error)
	Ack(tag uint64) error
	Nack(tag uint64, requeue bool) error
}

// Config binds a Transport to one queue
type Config struct {
	Queue             string
	Route             rabbitmq.Route
	VisibilityTimeout time.Duration
	PollInterval      time.Duration
}

// Transport reads from Queue and publishes to Route
type Transport struct {
	broker            Broker
	queue             string
	route             rabbitmq.Route
	visibilityTimeout time.Duration
	pollInterval      time.Duration
	logger            *slog.Logger

	mu       sync.Mutex
	inFlight map[uint64]time.Time
}

// New creates a Transport
func New(broker Broker, cfg Config, logger *slog.Logger) *Transport {
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = defaultPollInterval
	}
	return &Transport{
		broker:            broker,
		queue:             cfg.Queue,
		route:             cfg.Route,
		visibilityTimeout: cfg.VisibilityTimeout,
		pollInterval:      poll,
		logger:            logger.With(slog.String("queue", cfg.Queue)),
		inFlight:          make(map[uint64]time.Time),
	}
}

// NewMain binds to the client's main queue
func NewMain(client *rabbitmq.Client, visibility time.Duration, logger *slog.Logger) *Transport {
	return New(client, Config{
		Queue:             client.QueueName(),
		Route:             client.MainRoute(),
		VisibilityTimeout: visibility,
	}, logger)
}

// NewDeadLetter binds to the client's dead-letter queue
func NewDeadLetter(client *rabbitmq.Client, visibility time.Duration, logger *slog.Logger) *Transport {
	return New(client, Config{
		Queue:             client.DeadLetterQueueName(),
		Route:             client.DeadLetterRoute(),
		VisibilityTimeout: visibility,
	}, logger)
}

// Enqueue implements transport.Transport
func (t *Transport) Enqueue(ctx context.Context, body []byte) error {
	if err := t.broker.PublishWithRetry(ctx, t.route, body, contentType); err != nil {
		return fmt.Errorf("failed to enqueue message: %w", err)
	}
	return nil
}

// Receive implements transport.Transport
func (t *Transport) Receive(ctx context.Context, maxMessages int, wait time.Duration) ([]transport.Message, error) {
	if maxMessages <= 0 {
		maxMessages = 1
	}
	deadline := time.Now().Add(wait)

	for {
		t.requeueExpired(time.Now())

		msgs, err := t.drain(maxMessages)
		if err != nil {
			return nil, err
		}
		if len(msgs) > 0 {
			return msgs, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, nil
		}
		if remaining > t.pollInterval {
			remaining = t.pollInterval
		}

		select {
		case <-ctx.Done():
			return nil, nil
		case <-time.After(remaining):
		}
	}
}

func (t *Transport) drain(max int) ([]transport.Message, error) {
	var msgs []transport.Message
	for len(msgs) < max {
		d, ok, err := t.broker.Get(t.queue)
		if err != nil {
			if len(msgs) > 0 {
				return msgs, nil
			}
			return nil, fmt.Errorf("failed to receive message: %w", err)
		}
		if !ok {
			break
		}

		t.mu.Lock()
		t.inFlight[d.DeliveryTag] = time.Now()
		t.mu.Unlock()

		msgs = append(msgs, toMessage(d))
	}
	return msgs, nil
}

func toMessage(d amqp.Delivery) transport.Message {
	id := d.MessageId
	if id == "" {
		id = strconv.FormatUint(d.DeliveryTag, 10)
	}
	return transport.Message{
		ID:           id,
		Body:         d.Body,
		Handle:       strconv.FormatUint(d.DeliveryTag, 10),
		ReceiveCount: deliveryCount(d.Headers) + 1,
	}
}

// deliveryCount reads the quorum queue x-delivery-count header, absent on first delivery
func deliveryCount(headers amqp.Table) int {
	switch v := headers["x-delivery-count"].(type) {
	case int:
		return v
	case int32:
		return int(v)
	case int64:
		return int(v)
	default:
		return 0
	}
}

// requeueExpired returns deliveries held past the visibility window to the queue
func (t *Transport) requeueExpired(now time.Time) {
	if t.visibilityTimeout <= 0 {
		return
	}

	t.mu.Lock()
	var expired []uint64
	for tag, received := range t.inFlight {
		if now.Sub(received) >= t.visibilityTimeout {
			expired = append(expired, tag)
			delete(t.inFlight, tag)
		}
	}
	t.mu.Unlock()

	for _, tag := range expired {
		if err := t.broker.Nack(tag, true); err != nil {
			t.logger.Warn("Failed to requeue expired delivery",
				slog.Uint64("delivery_tag", tag),
				slog.Any("error", err),
			)
			continue
		}
		t.logger.Debug("Expired delivery requeued", slog.Uint64("delivery_tag", tag))
	}
}

// Delete implements transport.Transport. Handles that are unknown or already requeued are ignored.
func (t *Transport) Delete(_ context.Context, handle string) error {
	tag, err := strconv.ParseUint(handle, 10, 64)
	if err != nil {
		return nil
	}

	t.mu.Lock()
	_, ok := t.inFlight[tag]
	delete(t.inFlight, tag)
	t.mu.Unlock()

	if !ok {
		return nil
	}

	if err := t.broker.Ack(tag); err != nil {
		return fmt.Errorf("failed to ack delivery %d: %w", tag, err)
	}
	return nil
}
