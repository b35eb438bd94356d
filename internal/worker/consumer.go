package worker

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/cuongbtq/quizjobs/internal/backoff"
	"github.com/cuongbtq/quizjobs/internal/transport"
)

// State is the poller lifecycle position
type State int32

// Poller states
const (
	StateIdle State = iota
	StatePolling
	StateProcessing
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePolling:
		return "polling"
	case StateProcessing:
		return "processing"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// poller alternates between receiving a batch and processing it
type poller struct {
	id     int
	worker *Worker
	logger *slog.Logger
	state  atomic.Int32
}

func (p *poller) State() State {
	return State(p.state.Load())
}

func (p *poller) setState(s State) {
	p.state.Store(int32(s))
}

func (p *poller) run(ctx context.Context) {
	w := p.worker
	p.logger.Info("Poller started")
	defer func() {
		p.setState(StateStopped)
		p.logger.Info("Poller stopped")
	}()

	faults := 0
	for ctx.Err() == nil {
		p.setState(StatePolling)

		msgs, err := w.transport.Receive(ctx, w.maxMessages, w.waitTime)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			faults++
			w.stats.receiveErrors.Add(1)
			delay := w.backoff.Delay(faults)
			p.logger.Error("Failed to receive messages",
				slog.Any("error", err),
				slog.Int("consecutive_faults", faults),
				slog.Duration("retry_after", delay),
			)
			if !backoff.Sleep(ctx, delay) {
				return
			}
			continue
		}
		faults = 0

		if len(msgs) == 0 {
			continue
		}

		p.setState(StateProcessing)
		p.processBatch(ctx, msgs)
	}
}

// processBatch finishes every received message even after ctx is cancelled,
// bounded by the shutdown timeout.
func (p *poller) processBatch(ctx context.Context, msgs []transport.Message) {
	w := p.worker

	batchCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-done:
			return
		case <-ctx.Done():
		}

		p.logger.Info("Shutdown requested, finishing in-flight batch",
			slog.Int("batch_size", len(msgs)),
			slog.Duration("shutdown_timeout", w.shutdownTimeout),
		)

		timer := time.NewTimer(w.shutdownTimeout)
		defer timer.Stop()
		select {
		case <-done:
		case <-timer.C:
			cancel()
		}
	}()

	for _, msg := range msgs {
		w.stats.received.Add(1)
		outcome := p.process(batchCtx, msg)
		p.settle(batchCtx, msg, outcome)
	}
}

// settle applies an outcome to the transport
func (p *poller) settle(ctx context.Context, msg transport.Message, outcome Outcome) {
	w := p.worker

	switch outcome {
	case OutcomeDrop:
		w.stats.dropped.Add(1)
	case OutcomeAck:
		w.stats.acked.Add(1)
	case OutcomeRetry:
		w.stats.retried.Add(1)
		p.logger.Warn("Message left for redelivery",
			slog.String("message_id", msg.ID),
			slog.Int("receive_count", msg.ReceiveCount),
		)
		return
	}

	if err := w.transport.Delete(ctx, msg.Handle); err != nil {
		p.logger.Error("Failed to delete message",
			slog.String("message_id", msg.ID),
			slog.String("outcome", outcome.String()),
			slog.Any("error", err),
		)
	}
}
