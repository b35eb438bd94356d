package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cuongbtq/quizjobs/internal/backoff"
	"github.com/cuongbtq/quizjobs/internal/handler"
	"github.com/cuongbtq/quizjobs/internal/job"
	"github.com/cuongbtq/quizjobs/internal/transport"
)

// Dispatcher runs the handler for a decoded envelope
type Dispatcher interface {
	Dispatch(ctx context.Context, env job.Envelope) (handler.Result, error)
}

// Runner is a background loop started alongside the pollers
type Runner interface {
	Run(ctx context.Context) error
}

// Config holds worker configuration
type Config struct {
	Logger     *slog.Logger
	Transport  transport.Transport
	Dispatcher Dispatcher
	// Reconciler is optional
	Reconciler Runner

	Concurrency     int
	MaxMessages     int
	WaitTime        time.Duration
	JobTimeout      time.Duration
	ShutdownTimeout time.Duration
	Backoff         backoff.Strategy
}

// Stats counts message outcomes across all pollers
type Stats struct {
	Received      int64
	Acked         int64
	Dropped       int64
	Retried       int64
	ReceiveErrors int64
}

type counters struct {
	received      atomic.Int64
	acked         atomic.Int64
	dropped       atomic.Int64
	retried       atomic.Int64
	receiveErrors atomic.Int64
}

// Worker runs competing pollers against one transport
type Worker struct {
	logger          *slog.Logger
	transport       transport.Transport
	dispatcher      Dispatcher
	reconciler      Runner
	concurrency     int
	maxMessages     int
	waitTime        time.Duration
	jobTimeout      time.Duration
	shutdownTimeout time.Duration
	backoff         backoff.Strategy

	pollers []*poller
	stats   counters

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	started bool
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) *Worker {
	w := &Worker{
		logger:          cfg.Logger,
		transport:       cfg.Transport,
		dispatcher:      cfg.Dispatcher,
		reconciler:      cfg.Reconciler,
		concurrency:     cfg.Concurrency,
		maxMessages:     cfg.MaxMessages,
		waitTime:        cfg.WaitTime,
		jobTimeout:      cfg.JobTimeout,
		shutdownTimeout: cfg.ShutdownTimeout,
		backoff:         cfg.Backoff,
		done:            make(chan struct{}),
	}
	if w.concurrency <= 0 {
		w.concurrency = 1
	}
	if w.maxMessages <= 0 {
		w.maxMessages = 1
	}
	if w.waitTime <= 0 {
		w.waitTime = 20 * time.Second
	}
	if w.shutdownTimeout <= 0 {
		w.shutdownTimeout = 30 * time.Second
	}
	if w.backoff == nil {
		w.backoff = backoff.Default()
	}

	w.pollers = make([]*poller, w.concurrency)
	for i := range w.pollers {
		w.pollers[i] = &poller{
			id:     i,
			worker: w,
			logger: w.logger.With(slog.Int("poller", i)),
		}
	}
	return w
}

// Start runs the pollers and the optional reconciler until ctx is cancelled or Stop is called
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return fmt.Errorf("worker already started")
	}
	w.started = true
	ctx, w.cancel = context.WithCancel(ctx)
	w.mu.Unlock()
	defer close(w.done)

	w.logger.Info("Starting worker",
		slog.Int("concurrency", w.concurrency),
		slog.Int("max_messages", w.maxMessages),
		slog.Duration("wait_time", w.waitTime),
		slog.Duration("job_timeout", w.jobTimeout),
	)

	g, gctx := errgroup.WithContext(ctx)
	w.spawnPollers(gctx, g)

	if w.reconciler != nil {
		g.Go(func() error {
			return w.reconciler.Run(gctx)
		})
	}

	err := g.Wait()
	stats := w.Stats()
	w.logger.Info("Worker stopped",
		slog.Int64("received", stats.Received),
		slog.Int64("acked", stats.Acked),
		slog.Int64("dropped", stats.Dropped),
		slog.Int64("retried", stats.Retried),
	)
	return err
}

// Stop cancels polling and waits for in-flight batches to finish
func (w *Worker) Stop() {
	w.mu.Lock()
	cancel, started := w.cancel, w.started
	w.mu.Unlock()

	if !started {
		return
	}

	w.logger.Info("Stopping worker...")
	cancel()
	<-w.done
}

// Stats returns a snapshot of the outcome counters
func (w *Worker) Stats() Stats {
	return Stats{
		Received:      w.stats.received.Load(),
		Acked:         w.stats.acked.Load(),
		Dropped:       w.stats.dropped.Load(),
		Retried:       w.stats.retried.Load(),
		ReceiveErrors: w.stats.receiveErrors.Load(),
	}
}

// States returns the current state of every poller
func (w *Worker) States() []State {
	states := make([]State, len(w.pollers))
	for i, p := range w.pollers {
		states[i] = p.State()
	}
	return states
}
