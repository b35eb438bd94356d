package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Message is one delivery of a queued body
type Message struct {
	// ID is stable across redeliveries of the same enqueued body
	ID string
	// Body is the serialized envelope
	Body []byte
	// Handle acknowledges this particular delivery
	Handle string
	// ReceiveCount is the transport's delivery counter, starting at 1
	ReceiveCount int
}

// Transport is a durable at-least-once message channel with a redrive policy
// configured on the transport itself.
type Transport interface {
	// Enqueue durably accepts a body; it is visible to receivers immediately
	Enqueue(ctx context.Context, body []byte) error

	// Receive long-polls for up to maxMessages, blocking at most wait when the queue is empty.
	// A cancelled ctx ends the wait early and is not reported as an error.
	Receive(ctx context.Context, maxMessages int, wait time.Duration) ([]Message, error)

	// Delete permanently removes a delivered message. Unknown or expired handles are a no-op.
	Delete(ctx context.Context, handle string) error
}

// ErrClosed is returned by transports used after Close
var ErrClosed = errors.New("transport closed")

// RedriveResult summarises a Redrive run
type RedriveResult struct {
	Moved  int
	Failed int
}

// Redrive moves up to max messages from a dead-letter transport back to the main one.
// Each message is enqueued on main before it is deleted from dlq, so a crash in between
// duplicates rather than loses it.
func Redrive(ctx context.Context, dlq, main Transport, max int, wait time.Duration, logger *slog.Logger) (RedriveResult, error) {
	var result RedriveResult

	for result.Moved+result.Failed < max {
		batch := max - result.Moved - result.Failed
		if batch > 10 {
			batch = 10
		}

		msgs, err := dlq.Receive(ctx, batch, wait)
		if err != nil {
			return result, fmt.Errorf("failed to receive from dead-letter queue: %w", err)
		}
		if len(msgs) == 0 {
			break
		}

		for _, msg := range msgs {
			if err := main.Enqueue(ctx, msg.Body); err != nil {
				logger.Error("Failed to redrive message",
					slog.String("message_id", msg.ID),
					slog.Any("error", err),
				)
				result.Failed++
				continue
			}

			if err := dlq.Delete(ctx, msg.Handle); err != nil {
				logger.Warn("Redriven message could not be deleted from dead-letter queue",
					slog.String("message_id", msg.ID),
					slog.Any("error", err),
				)
			}

			logger.Info("Message redriven to main queue",
				slog.String("message_id", msg.ID),
				slog.Int("receive_count", msg.ReceiveCount),
			)
			result.Moved++
		}

		if ctx.Err() != nil {
			return result, ctx.Err()
		}
	}

	return result, nil
}
