// Package handler turns a decoded envelope into exactly one terminal write on its job record.
package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/quizjobs/internal/job"
	"github.com/cuongbtq/quizjobs/internal/store"
	applog "github.com/cuongbtq/quizjobs/shared/logger"
)

// Handler computes the terminal transition for a PENDING record. Business failures are
// expressed as a FAILED transition; a returned error means the work should be retried.
type Handler interface {
	Handle(ctx context.Context, record *job.Record) (job.Transition, error)
}

// Result describes what Dispatch did with an envelope
type Result string

// Dispatch results
const (
	ResultApplied         Result = "applied"
	ResultAlreadyTerminal Result = "already_terminal"
	ResultLostRace        Result = "lost_race"
	ResultRecordMissing   Result = "record_missing"
	ResultKindMismatch    Result = "kind_mismatch"
)

// Registry routes envelopes to the handler for their variant
type Registry struct {
	records store.Records
	grade   Handler
	export  Handler
	logger  *slog.Logger
}

// NewRegistry creates a Registry
func NewRegistry(records store.Records, grade, export Handler, logger *slog.Logger) *Registry {
	return &Registry{
		records: records,
		grade:   grade,
		export:  export,
		logger:  logger,
	}
}

func (r *Registry) handlerFor(env job.Envelope) (Handler, error) {
	switch env.(type) {
	case job.GradeEnvelope:
		return r.grade, nil
	case job.ExportEnvelope:
		return r.export, nil
	default:
		return nil, fmt.Errorf("%w: %T", job.ErrUnknownKind, env)
	}
}

// Dispatch processes one envelope. A nil error means the message can be deleted.
func (r *Registry) Dispatch(ctx context.Context, env job.Envelope) (Result, error) {
	h, err := r.handlerFor(env)
	if err != nil {
		return "", err
	}

	ref := env.Reference()
	logger := applog.ForJob(r.logger, ref.JobRecordID, string(env.Kind()))

	record, err := r.records.Get(ctx, ref.JobRecordID)
	if err != nil {
		if errors.Is(err, job.ErrNotFound) {
			logger.Warn("Job record not found, dropping envelope")
			return ResultRecordMissing, nil
		}
		return "", fmt.Errorf("failed to load job record: %w", err)
	}

	if record.Status.IsTerminal() {
		logger.Info("Job record already terminal, skipping",
			slog.String("status", string(record.Status)),
		)
		return ResultAlreadyTerminal, nil
	}

	if record.Kind != env.Kind() {
		logger.Error("Envelope kind does not match job record",
			slog.String("record_kind", string(record.Kind)),
		)
		return r.failMismatch(ctx, record, env.Kind())
	}

	transition, err := h.Handle(ctx, record)
	if err != nil {
		return "", err
	}

	err = r.records.UpdateIfStatus(ctx, record.ID, job.StatusPending, transition)
	if err != nil {
		if errors.Is(err, job.ErrNotPending) {
			logger.Info("Job record finished by another worker")
			return ResultLostRace, nil
		}
		if errors.Is(err, job.ErrNotFound) {
			logger.Warn("Job record disappeared before update")
			return ResultRecordMissing, nil
		}
		return "", fmt.Errorf("failed to update job record: %w", err)
	}

	logger.Info("Job finished",
		slog.String("status", string(transition.Status)),
		slog.String("error_message", transition.ErrorMessage),
	)
	return ResultApplied, nil
}

// failMismatch records FAILED for a record whose envelope names another kind.
// Retrying cannot help, so the envelope is acked either way.
func (r *Registry) failMismatch(ctx context.Context, record *job.Record, envKind job.Kind) (Result, error) {
	msg := fmt.Sprintf("envelope kind %s does not match record kind %s", envKind, record.Kind)
	err := r.records.UpdateIfStatus(ctx, record.ID, job.StatusPending, job.Failed(msg, utcNow()))
	switch {
	case err == nil, errors.Is(err, job.ErrNotPending), errors.Is(err, job.ErrNotFound):
		return ResultKindMismatch, nil
	default:
		return "", fmt.Errorf("failed to record kind mismatch: %w", err)
	}
}

func utcNow() time.Time { return time.Now().UTC() }

func missingQuiz(id string, at time.Time) job.Transition {
	return job.Failed(fmt.Sprintf("quiz %s not found", id), at)
}
