package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cuongbtq/quizjobs/internal/job"
	"github.com/cuongbtq/quizjobs/internal/objectstore"
	"github.com/cuongbtq/quizjobs/internal/store"
)

const exportContentType = "application/json"

// Exporter serializes a quiz into the object store
type Exporter struct {
	quizzes store.Quizzes
	objects objectstore.Store
	now     func() time.Time
	marshal func(any) ([]byte, error)
}

// NewExporter creates an Exporter
func NewExporter(quizzes store.Quizzes, objects objectstore.Store) *Exporter {
	return &Exporter{quizzes: quizzes, objects: objects, now: utcNow, marshal: json.Marshal}
}

// ExportKey returns exports/<quizId>/<unix-nanos>.json
func ExportKey(quizID string, at time.Time) string {
	return fmt.Sprintf("exports/%s/%d.json", quizID, at.UnixNano())
}

// Handle implements Handler. A retried export writes a fresh key; only the
// winning transition's key is recorded.
func (e *Exporter) Handle(ctx context.Context, record *job.Record) (job.Transition, error) {
	quiz, err := e.quizzes.GetQuiz(ctx, record.SubjectID)
	if err != nil {
		if errors.Is(err, job.ErrNotFound) {
			return missingQuiz(record.SubjectID, e.now()), nil
		}
		return job.Transition{}, fmt.Errorf("failed to load quiz: %w", err)
	}

	body, err := e.marshal(quiz)
	if err != nil {
		return job.Transition{}, fmt.Errorf("failed to serialize quiz: %w", err)
	}

	now := e.now()
	key := ExportKey(quiz.ID, now)
	if err := e.objects.Put(ctx, key, body, exportContentType); err != nil {
		return job.Transition{}, fmt.Errorf("failed to store export: %w", err)
	}

	return job.Completed(key, now), nil
}
