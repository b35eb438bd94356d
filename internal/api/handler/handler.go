package handler

import (
	"context"
	"log/slog"

	"github.com/cuongbtq/quizjobs/internal/job"
	"github.com/cuongbtq/quizjobs/internal/store"
)

// JobService is the producer surface the HTTP layer drives
type JobService interface {
	Submit(ctx context.Context, req job.Request) (job.Submission, error)
	GetJobStatus(ctx context.Context, id string) (*job.Record, error)
	ListJobs(ctx context.Context, filter store.Filter) ([]*job.Record, error)
	PutQuiz(ctx context.Context, quiz *job.Quiz) error
}

// HealthChecker reports unreachable backends keyed by name
type HealthChecker interface {
	Health(ctx context.Context) map[string]error
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger      *slog.Logger
	Jobs        JobService
	Health      HealthChecker
	ServiceName string
}

// JobHandler handles job-related HTTP requests
type JobHandler struct {
	logger *slog.Logger
	jobs   JobService
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(deps *Dependencies) *JobHandler {
	return &JobHandler{
		logger: deps.Logger,
		jobs:   deps.Jobs,
	}
}
