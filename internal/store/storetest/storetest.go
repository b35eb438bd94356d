// Package storetest holds behaviour tests shared by every store.Records and
// store.Quizzes implementation.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/quizjobs/internal/job"
	"github.com/cuongbtq/quizjobs/internal/store"
)

// NewPending builds a PENDING record created at the given time
func NewPending(kind job.Kind, subjectID string, createdAt time.Time) *job.Record {
	return &job.Record{
		ID:        uuid.New().String(),
		Kind:      kind,
		SubjectID: subjectID,
		Status:    job.StatusPending,
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}
}

// RunRecords exercises the Records contract against a fresh store from newStore
func RunRecords(t *testing.T, newStore func(t *testing.T) store.Records) {
	t.Run("create then get", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		r := NewPending(job.KindGrade, "quiz-1", time.Now().UTC().Truncate(time.Millisecond))
		r.Answers = []int{0, 1, 2}
		require.NoError(t, s.CreateIfAbsent(ctx, r))

		got, err := s.Get(ctx, r.ID)
		require.NoError(t, err)
		assert.Equal(t, r.ID, got.ID)
		assert.Equal(t, job.KindGrade, got.Kind)
		assert.Equal(t, "quiz-1", got.SubjectID)
		assert.Equal(t, job.StatusPending, got.Status)
		assert.Equal(t, []int{0, 1, 2}, got.Answers)
		assert.Nil(t, got.Score)
		assert.Nil(t, got.FinishedAt)
		assert.True(t, r.CreatedAt.Equal(got.CreatedAt))
	})

	t.Run("create is conditioned on absence", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		r := NewPending(job.KindExport, "quiz-1", time.Now().UTC())
		require.NoError(t, s.CreateIfAbsent(ctx, r))

		dup := NewPending(job.KindGrade, "quiz-2", time.Now().UTC())
		dup.ID = r.ID
		err := s.CreateIfAbsent(ctx, dup)
		require.Error(t, err)
		assert.ErrorIs(t, err, job.ErrAlreadyExists)

		got, err := s.Get(ctx, r.ID)
		require.NoError(t, err)
		assert.Equal(t, job.KindExport, got.Kind)
	})

	t.Run("get missing record", func(t *testing.T) {
		s := newStore(t)

		_, err := s.Get(context.Background(), uuid.New().String())
		assert.ErrorIs(t, err, job.ErrNotFound)
	})

	t.Run("update transitions pending exactly once", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		r := NewPending(job.KindGrade, "quiz-1", time.Now().UTC())
		require.NoError(t, s.CreateIfAbsent(ctx, r))

		finished := time.Now().UTC().Truncate(time.Millisecond)
		require.NoError(t, s.UpdateIfStatus(ctx, r.ID, job.StatusPending, job.Graded(75, finished)))

		err := s.UpdateIfStatus(ctx, r.ID, job.StatusPending, job.Failed("late writer", finished.Add(time.Second)))
		require.Error(t, err)
		assert.ErrorIs(t, err, job.ErrNotPending)

		got, err := s.Get(ctx, r.ID)
		require.NoError(t, err)
		assert.Equal(t, job.StatusGraded, got.Status)
		require.NotNil(t, got.Score)
		assert.Equal(t, 75, *got.Score)
		assert.Empty(t, got.ErrorMessage)
		require.NotNil(t, got.FinishedAt)
		assert.True(t, finished.Equal(*got.FinishedAt))
	})

	t.Run("update rejects non terminal transition", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		r := NewPending(job.KindGrade, "quiz-1", time.Now().UTC())
		require.NoError(t, s.CreateIfAbsent(ctx, r))

		err := s.UpdateIfStatus(ctx, r.ID, job.StatusPending, job.Transition{Status: job.StatusPending, FinishedAt: time.Now()})
		assert.ErrorIs(t, err, job.ErrInvalidTransition)
	})

	t.Run("update missing record", func(t *testing.T) {
		s := newStore(t)

		err := s.UpdateIfStatus(context.Background(), uuid.New().String(), job.StatusPending, job.Failed("x", time.Now()))
		assert.ErrorIs(t, err, job.ErrNotFound)
	})

	t.Run("concurrent updates leave a single winner", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		r := NewPending(job.KindExport, "quiz-1", time.Now().UTC())
		require.NoError(t, s.CreateIfAbsent(ctx, r))

		const writers = 8
		var wg sync.WaitGroup
		results := make(chan error, writers)
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				key := fmt.Sprintf("exports/quiz-1/%d.json", i)
				results <- s.UpdateIfStatus(ctx, r.ID, job.StatusPending, job.Completed(key, time.Now().UTC()))
			}(i)
		}
		wg.Wait()
		close(results)

		wins := 0
		for err := range results {
			if err == nil {
				wins++
				continue
			}
			assert.ErrorIs(t, err, job.ErrNotPending)
		}
		assert.Equal(t, 1, wins)

		got, err := s.Get(ctx, r.ID)
		require.NoError(t, err)
		assert.Equal(t, job.StatusCompleted, got.Status)
	})

	t.Run("list paginates newest first", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		base := time.Now().UTC().Truncate(time.Millisecond)
		var ids []string
		for i := 0; i < 5; i++ {
			r := NewPending(job.KindGrade, "quiz-list", base.Add(time.Duration(i)*time.Second))
			require.NoError(t, s.CreateIfAbsent(ctx, r))
			ids = append(ids, r.ID)
		}
		other := NewPending(job.KindExport, "quiz-list", base)
		require.NoError(t, s.CreateIfAbsent(ctx, other))

		page, err := s.List(ctx, store.Filter{Kind: job.KindGrade, PageSize: 2})
		require.NoError(t, err)
		require.Len(t, page, 3)
		assert.Equal(t, ids[4], page[0].ID)
		assert.Equal(t, ids[3], page[1].ID)

		last := page[1]
		next, err := s.List(ctx, store.Filter{
			Kind:     job.KindGrade,
			PageSize: 2,
			Cursor:   &store.Cursor{CreatedAt: last.CreatedAt, JobID: last.ID},
		})
		require.NoError(t, err)
		require.Len(t, next, 3)
		assert.Equal(t, ids[2], next[0].ID)
		assert.Equal(t, ids[1], next[1].ID)
		assert.Equal(t, ids[0], next[2].ID)
	})

	t.Run("list stale pending", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		now := time.Now().UTC()
		old := NewPending(job.KindGrade, "quiz-stale", now.Add(-time.Hour))
		older := NewPending(job.KindGrade, "quiz-stale", now.Add(-2*time.Hour))
		fresh := NewPending(job.KindGrade, "quiz-stale", now)
		done := NewPending(job.KindGrade, "quiz-stale", now.Add(-3*time.Hour))
		for _, r := range []*job.Record{old, older, fresh, done} {
			require.NoError(t, s.CreateIfAbsent(ctx, r))
		}
		require.NoError(t, s.UpdateIfStatus(ctx, done.ID, job.StatusPending, job.Graded(10, now)))

		stale, err := s.ListStalePending(ctx, store.StaleQuery{Before: now.Add(-30 * time.Minute), Limit: 10})
		require.NoError(t, err)
		assert.Equal(t, []string{older.ID, old.ID}, subjectIDs(stale, "quiz-stale"))
	})

	t.Run("requeued records move to the back and stop at the cap", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		now := time.Now().UTC()
		poison := NewPending(job.KindExport, "quiz-requeue", now.Add(-3*time.Hour))
		orphan := NewPending(job.KindExport, "quiz-requeue", now.Add(-time.Hour))
		for _, r := range []*job.Record{poison, orphan} {
			require.NoError(t, s.CreateIfAbsent(ctx, r))
		}

		query := store.StaleQuery{Before: now.Add(-30 * time.Minute), MaxRequeues: 2, Limit: 10}

		require.NoError(t, s.MarkRequeued(ctx, poison.ID, now.Add(-45*time.Minute)))
		stale, err := s.ListStalePending(ctx, query)
		require.NoError(t, err)
		assert.Equal(t, []string{orphan.ID, poison.ID}, subjectIDs(stale, "quiz-requeue"))

		// requeued inside the threshold is not stale yet
		require.NoError(t, s.MarkRequeued(ctx, orphan.ID, now))
		stale, err = s.ListStalePending(ctx, query)
		require.NoError(t, err)
		assert.Equal(t, []string{poison.ID}, subjectIDs(stale, "quiz-requeue"))

		require.NoError(t, s.MarkRequeued(ctx, poison.ID, now.Add(-40*time.Minute)))
		stale, err = s.ListStalePending(ctx, query)
		require.NoError(t, err)
		assert.Empty(t, subjectIDs(stale, "quiz-requeue"))

		got, err := s.Get(ctx, poison.ID)
		require.NoError(t, err)
		assert.Equal(t, 2, got.RequeueCount)
		require.NotNil(t, got.RequeuedAt)
		assert.WithinDuration(t, now.Add(-40*time.Minute), *got.RequeuedAt, time.Millisecond)
		assert.Equal(t, job.StatusPending, got.Status)

		uncapped, err := s.ListStalePending(ctx, store.StaleQuery{Before: now.Add(-30 * time.Minute), Limit: 10})
		require.NoError(t, err)
		assert.Equal(t, []string{poison.ID}, subjectIDs(uncapped, "quiz-requeue"))
	})

	t.Run("mark requeued is conditioned on pending", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		now := time.Now().UTC()
		r := NewPending(job.KindGrade, "quiz-1", now)
		require.NoError(t, s.CreateIfAbsent(ctx, r))
		require.NoError(t, s.UpdateIfStatus(ctx, r.ID, job.StatusPending, job.Graded(10, now)))

		assert.ErrorIs(t, s.MarkRequeued(ctx, r.ID, now), job.ErrNotPending)
		assert.ErrorIs(t, s.MarkRequeued(ctx, uuid.New().String(), now), job.ErrNotFound)

		got, err := s.Get(ctx, r.ID)
		require.NoError(t, err)
		assert.Zero(t, got.RequeueCount)
		assert.Nil(t, got.RequeuedAt)
	})
}

// subjectIDs keeps the ids of records about subjectID, in order. Stores shared
// between tests may hold records from other cases.
func subjectIDs(records []*job.Record, subjectID string) []string {
	var ids []string
	for _, r := range records {
		if r.SubjectID == subjectID {
			ids = append(ids, r.ID)
		}
	}
	return ids
}

// RunQuizzes exercises the Quizzes contract
func RunQuizzes(t *testing.T, newStore func(t *testing.T) store.Quizzes) {
	t.Run("put then get", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		quiz := &job.Quiz{
			ID:    uuid.New().String(),
			Title: "Capitals",
			Questions: []job.Question{
				{Prompt: "France?", Choices: []string{"Paris", "Lyon"}, CorrectIndex: 0},
				{Prompt: "Japan?", Choices: []string{"Osaka", "Tokyo"}, CorrectIndex: 1},
			},
			CreatedAt: time.Now().UTC().Truncate(time.Millisecond),
		}
		require.NoError(t, s.PutQuiz(ctx, quiz))

		got, err := s.GetQuiz(ctx, quiz.ID)
		require.NoError(t, err)
		assert.Equal(t, quiz.Title, got.Title)
		assert.Equal(t, quiz.Questions, got.Questions)
	})

	t.Run("put replaces", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		quiz := &job.Quiz{ID: uuid.New().String(), Title: "v1", Questions: []job.Question{}}
		require.NoError(t, s.PutQuiz(ctx, quiz))
		quiz.Title = "v2"
		require.NoError(t, s.PutQuiz(ctx, quiz))

		got, err := s.GetQuiz(ctx, quiz.ID)
		require.NoError(t, err)
		assert.Equal(t, "v2", got.Title)
	})

	t.Run("get missing quiz", func(t *testing.T) {
		s := newStore(t)

		_, err := s.GetQuiz(context.Background(), uuid.New().String())
		assert.ErrorIs(t, err, job.ErrNotFound)
	})
}
