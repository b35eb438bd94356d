package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/cuongbtq/quizjobs/internal/job"
	"github.com/cuongbtq/quizjobs/internal/transport"
	applog "github.com/cuongbtq/quizjobs/shared/logger"
)

// Outcome is the disposition of one received message
type Outcome int

const (
	// OutcomeDrop deletes a message that can never be processed
	OutcomeDrop Outcome = iota
	// OutcomeAck deletes a message whose job record reached its final state
	OutcomeAck
	// OutcomeRetry leaves the message to reappear after the visibility timeout
	OutcomeRetry
)

func (o Outcome) String() string {
	switch o {
	case OutcomeDrop:
		return "drop"
	case OutcomeAck:
		return "ack"
	case OutcomeRetry:
		return "retry"
	default:
		return "unknown"
	}
}

// process decodes and dispatches one message. Handler panics become OutcomeRetry.
func (p *poller) process(ctx context.Context, msg transport.Message) (outcome Outcome) {
	logger := p.logger.With(
		slog.String("message_id", msg.ID),
		slog.Int("receive_count", msg.ReceiveCount),
	)

	env, err := job.Decode(msg.Body)
	if err != nil {
		logger.Error("Dropping malformed message",
			slog.Any("error", err),
			slog.Int("body_size", len(msg.Body)),
		)
		return OutcomeDrop
	}

	ref := env.Reference()
	logger = applog.ForJob(logger, ref.JobRecordID, string(env.Kind()))
	if msg.ReceiveCount > 1 {
		logger.Info("Processing redelivered message")
	}

	defer func() {
		if r := recover(); r != nil {
			logger.Error("Handler panicked",
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
			outcome = OutcomeRetry
		}
	}()

	jobCtx := ctx
	if p.worker.jobTimeout > 0 {
		var cancel context.CancelFunc
		jobCtx, cancel = context.WithTimeout(ctx, p.worker.jobTimeout)
		defer cancel()
	}

	result, err := p.worker.dispatcher.Dispatch(jobCtx, env)
	if err != nil {
		if errors.Is(err, job.ErrUnknownKind) {
			logger.Error("Dropping message without a handler", slog.Any("error", err))
			return OutcomeDrop
		}
		logger.Error("Job processing failed, will retry",
			slog.Any("error", fmt.Errorf("dispatch: %w", err)),
		)
		return OutcomeRetry
	}

	logger.Debug("Message processed", slog.String("result", string(result)))
	return OutcomeAck
}
