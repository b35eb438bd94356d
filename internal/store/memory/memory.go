// Package memory provides in-process implementations of the record and quiz
// stores. Safe for concurrent use. Intended for tests and local runs.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cuongbtq/quizjobs/internal/job"
	"github.com/cuongbtq/quizjobs/internal/store"
)

var (
	_ store.Records = (*Store)(nil)
	_ store.Quizzes = (*Store)(nil)
)

// Store keeps records and quizzes in maps guarded by a single mutex
type Store struct {
	mu      sync.RWMutex
	records map[string]*job.Record
	quizzes map[string]*job.Quiz
}

// New returns an empty Store
func New() *Store {
	return &Store{
		records: make(map[string]*job.Record),
		quizzes: make(map[string]*job.Quiz),
	}
}

// CreateIfAbsent implements store.Records
func (s *Store) CreateIfAbsent(_ context.Context, record *job.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[record.ID]; ok {
		return fmt.Errorf("job record %s: %w", record.ID, job.ErrAlreadyExists)
	}
	s.records[record.ID] = record.Clone()
	return nil
}

// Get implements store.Records
func (s *Store) Get(_ context.Context, id string) (*job.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.records[id]
	if !ok {
		return nil, fmt.Errorf("job record %s: %w", id, job.ErrNotFound)
	}
	return r.Clone(), nil
}

// UpdateIfStatus implements store.Records
func (s *Store) UpdateIfStatus(_ context.Context, id string, expected job.Status, t job.Transition) error {
	if err := t.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[id]
	if !ok {
		return fmt.Errorf("job record %s: %w", id, job.ErrNotFound)
	}
	if r.Status != expected {
		return fmt.Errorf("job record %s is %s: %w", id, r.Status, job.ErrNotPending)
	}
	r.Apply(t)
	return nil
}

// List implements store.Records
func (s *Store) List(_ context.Context, filter store.Filter) ([]*job.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*job.Record
	for _, r := range s.records {
		if filter.Kind != "" && r.Kind != filter.Kind {
			continue
		}
		if filter.Status != "" && r.Status != filter.Status {
			continue
		}
		if filter.Cursor != nil && !filter.Cursor.Before(r) {
			continue
		}
		out = append(out, r.Clone())
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})

	if filter.PageSize > 0 && len(out) > filter.PageSize+1 {
		out = out[:filter.PageSize+1]
	}
	return out, nil
}

// ListStalePending implements store.Records
func (s *Store) ListStalePending(_ context.Context, q store.StaleQuery) ([]*job.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*job.Record
	for _, r := range s.records {
		if q.Matches(r) {
			out = append(out, r.Clone())
		}
	}

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].LastEnqueuedAt(), out[j].LastEnqueuedAt()
		if a.Equal(b) {
			return out[i].ID < out[j].ID
		}
		return a.Before(b)
	})

	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// MarkRequeued implements store.Records
func (s *Store) MarkRequeued(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[id]
	if !ok {
		return fmt.Errorf("job record %s: %w", id, job.ErrNotFound)
	}
	if r.Status != job.StatusPending {
		return fmt.Errorf("job record %s is %s: %w", id, r.Status, job.ErrNotPending)
	}
	r.RequeueCount++
	requeued := at
	r.RequeuedAt = &requeued
	r.UpdatedAt = at
	return nil
}

// GetQuiz implements store.Quizzes
func (s *Store) GetQuiz(_ context.Context, id string) (*job.Quiz, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	q, ok := s.quizzes[id]
	if !ok {
		return nil, fmt.Errorf("quiz %s: %w", id, job.ErrNotFound)
	}
	return q.Clone(), nil
}

// PutQuiz implements store.Quizzes
func (s *Store) PutQuiz(_ context.Context, quiz *job.Quiz) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.quizzes[quiz.ID] = quiz.Clone()
	return nil
}

// DeleteQuiz removes a quiz. Used to simulate a subject disappearing after submission.
func (s *Store) DeleteQuiz(_ context.Context, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.quizzes, id)
}
