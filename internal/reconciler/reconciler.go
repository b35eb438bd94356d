// Package reconciler re-enqueues envelopes for PENDING records whose latest
// envelope is older than a threshold, recovering records whose enqueue failed
// after creation. Handlers are idempotent, so a duplicate envelope for a record
// that is merely slow is harmless. Each record is re-enqueued at most MaxRequeues
// times; after that it is left to the dead-letter queue.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/cuongbtq/quizjobs/internal/job"
	"github.com/cuongbtq/quizjobs/internal/store"
)

// Enqueuer publishes the envelope for an existing record
type Enqueuer interface {
	Enqueue(ctx context.Context, record *job.Record) error
}

// Config holds reconciler settings
type Config struct {
	Records  store.Records
	Enqueuer Enqueuer
	Logger   *slog.Logger

	Interval  time.Duration
	Threshold time.Duration
	BatchSize int
	// RatePerSecond limits re-enqueues; zero means unlimited
	RatePerSecond float64
	MaxRequeues   int
}

// Reconciler periodically sweeps stale PENDING records
type Reconciler struct {
	records     store.Records
	enqueuer    Enqueuer
	logger      *slog.Logger
	interval    time.Duration
	threshold   time.Duration
	batchSize   int
	maxRequeues int
	limiter     *rate.Limiter
	now         func() time.Time
}

// New creates a Reconciler
func New(cfg Config) *Reconciler {
	r := &Reconciler{
		records:     cfg.Records,
		enqueuer:    cfg.Enqueuer,
		logger:      cfg.Logger.With(slog.String("component", "reconciler")),
		interval:    cfg.Interval,
		threshold:   cfg.Threshold,
		batchSize:   cfg.BatchSize,
		maxRequeues: cfg.MaxRequeues,
		limiter:     rate.NewLimiter(rate.Inf, 1),
		now:         func() time.Time { return time.Now().UTC() },
	}
	if r.interval <= 0 {
		r.interval = time.Minute
	}
	if r.threshold <= 0 {
		r.threshold = 5 * time.Minute
	}
	if r.batchSize <= 0 {
		r.batchSize = 100
	}
	if r.maxRequeues <= 0 {
		r.maxRequeues = 3
	}
	if cfg.RatePerSecond > 0 {
		burst := int(cfg.RatePerSecond)
		if burst < 1 {
			burst = 1
		}
		r.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
	}
	return r
}

// SweepResult summarises one sweep
type SweepResult struct {
	Found    int
	Requeued int
	Failed   int
}

// Sweep re-enqueues one batch of stale PENDING records
func (r *Reconciler) Sweep(ctx context.Context) (SweepResult, error) {
	var result SweepResult

	stale, err := r.records.ListStalePending(ctx, store.StaleQuery{
		Before:      r.now().Add(-r.threshold),
		MaxRequeues: r.maxRequeues,
		Limit:       r.batchSize,
	})
	if err != nil {
		return result, fmt.Errorf("failed to list stale pending records: %w", err)
	}
	result.Found = len(stale)

	for _, record := range stale {
		if err := r.limiter.Wait(ctx); err != nil {
			return result, err
		}

		if err := r.enqueuer.Enqueue(ctx, record); err != nil {
			result.Failed++
			r.logger.Error("Failed to re-enqueue stale job",
				slog.String("job_id", record.ID),
				slog.Any("error", err),
			)
			continue
		}

		result.Requeued++
		attempt := record.RequeueCount + 1
		r.logger.Info("Stale job re-enqueued",
			slog.String("job_id", record.ID),
			slog.String("kind", string(record.Kind)),
			slog.Duration("age", r.now().Sub(record.CreatedAt)),
			slog.Int("attempt", attempt),
		)
		if attempt >= r.maxRequeues {
			r.logger.Warn("Stale job reached the requeue limit",
				slog.String("job_id", record.ID),
				slog.Int("max_requeues", r.maxRequeues),
			)
		}

		if err := r.records.MarkRequeued(ctx, record.ID, r.now()); err != nil && !errors.Is(err, job.ErrNotPending) {
			r.logger.Error("Failed to record re-enqueue",
				slog.String("job_id", record.ID),
				slog.Any("error", err),
			)
		}
	}

	return result, nil
}

// Run sweeps every interval until ctx is cancelled
func (r *Reconciler) Run(ctx context.Context) error {
	r.logger.Info("Reconciler started",
		slog.Duration("interval", r.interval),
		slog.Duration("threshold", r.threshold),
		slog.Int("batch_size", r.batchSize),
		slog.Int("max_requeues", r.maxRequeues),
	)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Reconciler stopped")
			return nil
		case <-ticker.C:
			result, err := r.Sweep(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				r.logger.Error("Reconciler sweep failed", slog.Any("error", err))
				continue
			}
			if result.Found > 0 {
				r.logger.Info("Reconciler sweep finished",
					slog.Int("found", result.Found),
					slog.Int("requeued", result.Requeued),
					slog.Int("failed", result.Failed),
				)
			}
		}
	}
}
