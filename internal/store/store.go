package store

import (
	"context"
	"time"

	"github.com/cuongbtq/quizjobs/internal/job"
)

// Records is the durable Job Record Store. Its conditional writes are the
// concurrency guard between competing workers.
type Records interface {
	// CreateIfAbsent inserts a new record, failing with job.ErrAlreadyExists on id collision
	CreateIfAbsent(ctx context.Context, record *job.Record) error

	// Get returns the record or job.ErrNotFound
	Get(ctx context.Context, id string) (*job.Record, error)

	// UpdateIfStatus applies the transition only while the record still has the expected status.
	// It returns job.ErrNotPending when the condition fails and job.ErrNotFound when the id is unknown.
	UpdateIfStatus(ctx context.Context, id string, expected job.Status, t job.Transition) error

	// List returns up to filter.PageSize+1 records ordered by (created_at, id) descending
	List(ctx context.Context, filter Filter) ([]*job.Record, error)

	// ListStalePending returns PENDING records matching q, least recently enqueued first
	ListStalePending(ctx context.Context, q StaleQuery) ([]*job.Record, error)

	// MarkRequeued counts one more envelope published for a PENDING record.
	// It returns job.ErrNotPending once the record is terminal.
	MarkRequeued(ctx context.Context, id string, at time.Time) error
}

// StaleQuery selects PENDING records whose latest envelope is older than Before.
// Records already requeued MaxRequeues times are skipped; zero means no cap.
type StaleQuery struct {
	Before      time.Time
	MaxRequeues int
	Limit       int
}

// Matches reports whether r is selected by q
func (q StaleQuery) Matches(r *job.Record) bool {
	if r.Status != job.StatusPending || !r.LastEnqueuedAt().Before(q.Before) {
		return false
	}
	return q.MaxRequeues <= 0 || r.RequeueCount < q.MaxRequeues
}

// Quizzes looks up the subjects referenced by job records
type Quizzes interface {
	// GetQuiz returns the quiz or job.ErrNotFound
	GetQuiz(ctx context.Context, id string) (*job.Quiz, error)

	// PutQuiz creates or replaces a quiz
	PutQuiz(ctx context.Context, quiz *job.Quiz) error
}

// Filter narrows a List query
type Filter struct {
	Kind     job.Kind
	Status   job.Status
	PageSize int
	Cursor   *Cursor
}

// Cursor is a keyset pagination position
type Cursor struct {
	CreatedAt time.Time
	JobID     string
}

// Before reports whether r's (created_at, id) tuple is less than the cursor's,
// i.e. whether r belongs on a later page.
func (c *Cursor) Before(r *job.Record) bool {
	if r.CreatedAt.Equal(c.CreatedAt) {
		return r.ID < c.JobID
	}
	return r.CreatedAt.Before(c.CreatedAt)
}
