// Package producer accepts work requests, persists the PENDING record and
// enqueues the envelope that references it.
package producer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cuongbtq/quizjobs/internal/backoff"
	"github.com/cuongbtq/quizjobs/internal/job"
	"github.com/cuongbtq/quizjobs/internal/store"
	"github.com/cuongbtq/quizjobs/internal/transport"
)

// Config holds producer dependencies
type Config struct {
	Records   store.Records
	Quizzes   store.Quizzes
	Transport transport.Transport
	Logger    *slog.Logger

	// EnqueueAttempts bounds publish attempts per envelope, default 3
	EnqueueAttempts int
	Backoff         backoff.Strategy

	// Now and NewID are replaceable in tests
	Now   func() time.Time
	NewID func() string
}

// Producer is the write side of the job core
type Producer struct {
	records         store.Records
	quizzes         store.Quizzes
	transport       transport.Transport
	logger          *slog.Logger
	enqueueAttempts int
	backoff         backoff.Strategy
	now             func() time.Time
	newID           func() string
}

// New creates a Producer
func New(cfg Config) *Producer {
	p := &Producer{
		records:         cfg.Records,
		quizzes:         cfg.Quizzes,
		transport:       cfg.Transport,
		logger:          cfg.Logger,
		enqueueAttempts: cfg.EnqueueAttempts,
		backoff:         cfg.Backoff,
		now:             cfg.Now,
		newID:           cfg.NewID,
	}
	if p.enqueueAttempts <= 0 {
		p.enqueueAttempts = 3
	}
	if p.backoff == nil {
		p.backoff = backoff.Exponential{Initial: 100 * time.Millisecond, Max: 2 * time.Second}
	}
	if p.now == nil {
		p.now = func() time.Time { return time.Now().UTC() }
	}
	if p.newID == nil {
		p.newID = func() string { return uuid.New().String() }
	}
	return p
}

func validate(req job.Request) (job.Request, error) {
	kind, err := job.ParseKind(string(req.Kind))
	if err != nil {
		return req, err
	}
	req.Kind = kind

	req.SubjectID = strings.TrimSpace(req.SubjectID)
	if req.SubjectID == "" {
		return req, fmt.Errorf("%w: subject id is required", job.ErrInvalidRequest)
	}

	if kind == job.KindExport {
		req.Answers = nil
	}
	return req, nil
}

// Submit creates a PENDING record and enqueues its envelope.
//
// If the record is written but the envelope cannot be published, the returned
// error wraps job.ErrEnqueue and the record stays PENDING for the reconciler.
func (p *Producer) Submit(ctx context.Context, req job.Request) (job.Submission, error) {
	req, err := validate(req)
	if err != nil {
		return job.Submission{}, err
	}

	if _, err := p.quizzes.GetQuiz(ctx, req.SubjectID); err != nil {
		if errors.Is(err, job.ErrNotFound) {
			return job.Submission{}, fmt.Errorf("quiz %s: %w", req.SubjectID, job.ErrNotFound)
		}
		return job.Submission{}, fmt.Errorf("failed to look up quiz: %w", err)
	}

	now := p.now()
	record := &job.Record{
		ID:        p.newID(),
		Kind:      req.Kind,
		SubjectID: req.SubjectID,
		Status:    job.StatusPending,
		Answers:   req.Answers,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := p.records.CreateIfAbsent(ctx, record); err != nil {
		if errors.Is(err, job.ErrAlreadyExists) {
			p.logger.Error("Generated job id collided with an existing record",
				slog.String("job_id", record.ID),
			)
		}
		return job.Submission{}, fmt.Errorf("failed to create job record: %w", err)
	}

	p.logger.Info("Job record created",
		slog.String("job_id", record.ID),
		slog.String("kind", string(record.Kind)),
		slog.String("subject_id", record.SubjectID),
	)

	if err := p.Enqueue(ctx, record); err != nil {
		p.logger.Error("Job record left PENDING without an envelope",
			slog.String("job_id", record.ID),
			slog.Any("error", err),
		)
		return job.Submission{JobID: record.ID, Status: job.StatusPending}, err
	}

	return job.Submission{JobID: record.ID, Status: job.StatusPending}, nil
}

// Enqueue publishes the envelope for an existing record, retrying transient faults
func (p *Producer) Enqueue(ctx context.Context, record *job.Record) error {
	env, err := job.EnvelopeFor(record)
	if err != nil {
		return err
	}
	body, err := job.Encode(env)
	if err != nil {
		return err
	}

	var lastErr error
	for attempt := 1; attempt <= p.enqueueAttempts; attempt++ {
		lastErr = p.transport.Enqueue(ctx, body)
		if lastErr == nil {
			if attempt > 1 {
				p.logger.Info("Envelope enqueued after retry",
					slog.String("job_id", record.ID),
					slog.Int("attempt", attempt),
				)
			}
			return nil
		}

		if attempt == p.enqueueAttempts {
			break
		}

		delay := p.backoff.Delay(attempt)
		p.logger.Warn("Failed to enqueue envelope, retrying...",
			slog.String("job_id", record.ID),
			slog.Int("attempt", attempt),
			slog.Duration("retry_after", delay),
			slog.Any("error", lastErr),
		)
		if !backoff.Sleep(ctx, delay) {
			lastErr = errors.Join(lastErr, ctx.Err())
			break
		}
	}

	return fmt.Errorf("%w: job %s: %w", job.ErrEnqueue, record.ID, lastErr)
}

// GetJobStatus returns the current record for id
func (p *Producer) GetJobStatus(ctx context.Context, id string) (*job.Record, error) {
	record, err := p.records.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return record, nil
}

// ListJobs returns a page of records. The result holds at most PageSize+1 rows;
// the extra row signals that another page exists.
func (p *Producer) ListJobs(ctx context.Context, filter store.Filter) ([]*job.Record, error) {
	return p.records.List(ctx, filter)
}

// PutQuiz seeds or replaces a quiz
func (p *Producer) PutQuiz(ctx context.Context, quiz *job.Quiz) error {
	if strings.TrimSpace(quiz.ID) == "" {
		return fmt.Errorf("%w: quiz id is required", job.ErrInvalidRequest)
	}
	for i, q := range quiz.Questions {
		if q.CorrectIndex < 0 || q.CorrectIndex >= len(q.Choices) {
			return fmt.Errorf("%w: question %d correct index out of range", job.ErrInvalidRequest, i)
		}
	}
	if quiz.CreatedAt.IsZero() {
		quiz.CreatedAt = p.now()
	}
	return p.quizzes.PutQuiz(ctx, quiz)
}
