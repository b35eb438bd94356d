package bootstrap

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/quizjobs/internal/config"
	"github.com/cuongbtq/quizjobs/internal/job"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func memoryConfig() *config.Config {
	return &config.Config{
		Store:       config.StoreConfig{Driver: config.DriverMemory},
		Transport:   config.TransportConfig{Driver: config.DriverMemory, VisibilityTimeout: time.Second, MaxReceiveCount: 3},
		ObjectStore: config.ObjectStoreConfig{Driver: config.DriverMemory},
		Worker: config.WorkerConfig{
			Concurrency:     2,
			MaxMessages:     5,
			WaitTime:        50 * time.Millisecond,
			JobTimeout:      time.Second,
			ShutdownTimeout: time.Second,
			Backoff:         config.BackoffConfig{Strategy: "constant", Initial: 10 * time.Millisecond},
		},
	}
}

func TestOpen_MemoryPipeline(t *testing.T) {
	ctx := context.Background()
	cfg := memoryConfig()
	logger := discard()

	b, err := Open(ctx, cfg, logger, Options{ObjectStore: true})
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, b.Close()) })
	require.NotNil(t, b.DeadLetter)

	p := NewProducer(cfg, b, logger)
	require.NoError(t, p.PutQuiz(ctx, &job.Quiz{
		ID: "quiz-1",
		Questions: []job.Question{
			{Prompt: "a?", Choices: []string{"x", "y"}, CorrectIndex: 1},
			{Prompt: "b?", Choices: []string{"x", "y"}, CorrectIndex: 0},
		},
	}))

	grade, err := p.Submit(ctx, job.Request{Kind: job.KindGrade, SubjectID: "quiz-1", Answers: []int{1, 1}})
	require.NoError(t, err)
	export, err := p.Submit(ctx, job.Request{Kind: job.KindExport, SubjectID: "quiz-1"})
	require.NoError(t, err)

	w, err := NewWorker(cfg, b, NewRegistry(b, logger), nil, logger)
	require.NoError(t, err)

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- w.Start(runCtx) }()

	require.Eventually(t, func() bool {
		g, _ := p.GetJobStatus(ctx, grade.JobID)
		e, _ := p.GetJobStatus(ctx, export.JobID)
		return g.Status.IsTerminal() && e.Status.IsTerminal()
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	g, err := p.GetJobStatus(ctx, grade.JobID)
	require.NoError(t, err)
	assert.Equal(t, job.StatusGraded, g.Status)
	require.NotNil(t, g.Score)
	assert.Equal(t, 50, *g.Score)

	e, err := p.GetJobStatus(ctx, export.JobID)
	require.NoError(t, err)
	assert.Equal(t, job.StatusCompleted, e.Status)

	body, err := b.Objects.Get(ctx, e.StorageKey)
	require.NoError(t, err)
	assert.Contains(t, string(body), `"id":"quiz-1"`)
}

func TestBackends_Health(t *testing.T) {
	b := &Backends{}
	assert.Empty(t, b.Health(context.Background()))

	down := errors.New("dial tcp: connection refused")
	b.checks = []healthCheck{
		{name: "postgres", probe: func(context.Context) error { return nil }},
		{name: "rabbitmq", probe: func(context.Context) error { return down }},
	}

	failed := b.Health(context.Background())
	require.Len(t, failed, 1)
	assert.ErrorIs(t, failed["rabbitmq"], down)
}

func TestOpen_UnknownDrivers(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *config.Config)
		errStr string
	}{
		{name: "store", mutate: func(c *config.Config) { c.Store.Driver = "mongo" }, errStr: "unknown store driver"},
		{name: "transport", mutate: func(c *config.Config) { c.Transport.Driver = "kafka" }, errStr: "unknown transport driver"},
		{name: "object store", mutate: func(c *config.Config) { c.ObjectStore.Driver = "gcs" }, errStr: "unknown object store driver"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := memoryConfig()
			tt.mutate(cfg)

			b, err := Open(context.Background(), cfg, discard(), Options{ObjectStore: true})
			require.Error(t, err)
			assert.Nil(t, b)
			assert.Contains(t, err.Error(), tt.errStr)
		})
	}
}

func TestNewWorker_RejectsUnknownBackoff(t *testing.T) {
	cfg := memoryConfig()
	cfg.Worker.Backoff.Strategy = "fibonacci"

	_, err := NewWorker(cfg, &Backends{}, nil, nil, discard())
	assert.Error(t, err)
}

func TestRabbitMQConfig(t *testing.T) {
	cfg := &config.Config{
		Transport: config.TransportConfig{MaxReceiveCount: 4},
		RabbitMQ: config.RabbitMQConfig{
			Host:       "broker",
			Port:       5672,
			Exchange:   config.ExchangeConfig{Name: "jobs_exchange", Type: "direct"},
			Queue:      config.QueueConfig{Name: "jobs_queue", Type: "quorum"},
			RoutingKey: "jobs",
		},
	}

	rc := RabbitMQConfig(cfg)
	assert.Equal(t, "jobs_queue", rc.QueueName)
	assert.Equal(t, "quorum", rc.QueueType)
	assert.Zero(t, rc.DeliveryLimit)

	cfg.RabbitMQ.DeadLetter = config.DeadLetterConfig{Exchange: "jobs_dlx", Queue: "jobs_dlq"}
	rc = RabbitMQConfig(cfg)
	assert.Equal(t, 4, rc.DeliveryLimit)
	assert.Equal(t, "jobs_dlq", rc.DeadLetterQueue)
}
