package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/quizjobs/internal/job"
	"github.com/cuongbtq/quizjobs/internal/store"
	"github.com/cuongbtq/quizjobs/internal/store/storetest"
)

func TestStore_Records(t *testing.T) {
	storetest.RunRecords(t, func(t *testing.T) store.Records { return New() })
}

func TestStore_Quizzes(t *testing.T) {
	storetest.RunQuizzes(t, func(t *testing.T) store.Quizzes { return New() })
}

func TestStore_ReturnsCopies(t *testing.T) {
	s := New()
	ctx := context.Background()

	r := storetest.NewPending(job.KindGrade, "quiz-1", time.Now())
	r.Answers = []int{1, 2}
	require.NoError(t, s.CreateIfAbsent(ctx, r))

	r.Answers[0] = 7
	got, err := s.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, got.Answers)

	got.Status = job.StatusFailed
	again, err := s.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StatusPending, again.Status)
}

func TestStore_DeleteQuiz(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.PutQuiz(ctx, &job.Quiz{ID: "q"}))
	s.DeleteQuiz(ctx, "q")

	_, err := s.GetQuiz(ctx, "q")
	assert.ErrorIs(t, err, job.ErrNotFound)
}
