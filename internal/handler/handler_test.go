package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/quizjobs/internal/job"
	objmem "github.com/cuongbtq/quizjobs/internal/objectstore/memory"
	"github.com/cuongbtq/quizjobs/internal/store/memory"
	"github.com/cuongbtq/quizjobs/internal/store/storetest"
)

var twoQuestions = &job.Quiz{
	ID:    "quiz-2q",
	Title: "Two questions",
	Questions: []job.Question{
		{Prompt: "1+1?", Choices: []string{"1", "2", "3"}, CorrectIndex: 1},
		{Prompt: "2+2?", Choices: []string{"4", "5"}, CorrectIndex: 0},
	},
}

type fixture struct {
	store    *memory.Store
	objects  *objmem.Store
	registry *Registry
}

func newFixture(t *testing.T) fixture {
	t.Helper()

	st := memory.New()
	require.NoError(t, st.PutQuiz(context.Background(), twoQuestions))
	require.NoError(t, st.PutQuiz(context.Background(), &job.Quiz{ID: "quiz-empty", Title: "Empty", Questions: []job.Question{}}))

	objects := objmem.New()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return fixture{
		store:    st,
		objects:  objects,
		registry: NewRegistry(st, NewGrader(st), NewExporter(st, objects), logger),
	}
}

func (f fixture) pending(t *testing.T, kind job.Kind, subjectID string, answers []int) (*job.Record, job.Envelope) {
	t.Helper()

	r := storetest.NewPending(kind, subjectID, time.Now().UTC())
	r.Answers = answers
	require.NoError(t, f.store.CreateIfAbsent(context.Background(), r))

	env, err := job.EnvelopeFor(r)
	require.NoError(t, err)
	return r, env
}

func TestScore(t *testing.T) {
	tests := []struct {
		name    string
		answers []int
		want    int
	}{
		{name: "all correct", answers: []int{1, 0}, want: 100},
		{name: "one correct", answers: []int{1, 1}, want: 50},
		{name: "none correct", answers: []int{0, 1}, want: 0},
		{name: "missing answers are wrong", answers: []int{1}, want: 50},
		{name: "no answers", answers: nil, want: 0},
		{name: "extra answers ignored", answers: []int{1, 0, 2, 2}, want: 100},
		{name: "negative choice is wrong", answers: []int{-1, 0}, want: 50},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Score(twoQuestions.Questions, tt.answers))
		})
	}
}

func TestScore_Rounding(t *testing.T) {
	three := []job.Question{{CorrectIndex: 0}, {CorrectIndex: 0}, {CorrectIndex: 0}}
	assert.Equal(t, 33, Score(three, []int{0}))
	assert.Equal(t, 67, Score(three, []int{0, 0}))
	assert.Equal(t, 0, Score(nil, []int{0}))
}

func TestDispatch_Grade(t *testing.T) {
	tests := []struct {
		name    string
		subject string
		answers []int
		want    int
	}{
		{name: "perfect", subject: "quiz-2q", answers: []int{1, 0}, want: 100},
		{name: "half", subject: "quiz-2q", answers: []int{1, 1}, want: 50},
		{name: "zero", subject: "quiz-2q", answers: []int{0, 1}, want: 0},
		{name: "no questions", subject: "quiz-empty", answers: []int{0}, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			f := newFixture(t)
			r, env := f.pending(t, job.KindGrade, tt.subject, tt.answers)

			result, err := f.registry.Dispatch(ctx, env)
			require.NoError(t, err)
			assert.Equal(t, ResultApplied, result)

			got, err := f.store.Get(ctx, r.ID)
			require.NoError(t, err)
			assert.Equal(t, job.StatusGraded, got.Status)
			require.NotNil(t, got.Score)
			assert.Equal(t, tt.want, *got.Score)
			assert.NotNil(t, got.FinishedAt)
			assert.Empty(t, got.ErrorMessage)
		})
	}
}

func TestDispatch_GradeIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	r, env := f.pending(t, job.KindGrade, "quiz-2q", []int{1, 1})

	result, err := f.registry.Dispatch(ctx, env)
	require.NoError(t, err)
	assert.Equal(t, ResultApplied, result)

	first, err := f.store.Get(ctx, r.ID)
	require.NoError(t, err)

	result, err = f.registry.Dispatch(ctx, env)
	require.NoError(t, err)
	assert.Equal(t, ResultAlreadyTerminal, result)

	second, err := f.store.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestDispatch_MissingSubjectFails(t *testing.T) {
	for _, kind := range job.Kinds {
		t.Run(string(kind), func(t *testing.T) {
			ctx := context.Background()
			f := newFixture(t)
			r, env := f.pending(t, kind, "quiz-gone", nil)

			result, err := f.registry.Dispatch(ctx, env)
			require.NoError(t, err)
			assert.Equal(t, ResultApplied, result)

			got, err := f.store.Get(ctx, r.ID)
			require.NoError(t, err)
			assert.Equal(t, job.StatusFailed, got.Status)
			assert.Equal(t, "quiz quiz-gone not found", got.ErrorMessage)
			assert.Nil(t, got.Score)
			assert.Empty(t, got.StorageKey)
		})
	}
}

func TestDispatch_ExportRoundTrip(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	r, env := f.pending(t, job.KindExport, "quiz-2q", nil)

	result, err := f.registry.Dispatch(ctx, env)
	require.NoError(t, err)
	assert.Equal(t, ResultApplied, result)

	got, err := f.store.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StatusCompleted, got.Status)
	assert.Regexp(t, `^exports/quiz-2q/\d+\.json$`, got.StorageKey)

	body, err := f.objects.Get(ctx, got.StorageKey)
	require.NoError(t, err)
	assert.Equal(t, "application/json", f.objects.ContentType(got.StorageKey))

	var exported job.Quiz
	require.NoError(t, json.Unmarshal(body, &exported))
	assert.Equal(t, twoQuestions.ID, exported.ID)
	assert.Equal(t, twoQuestions.Title, exported.Title)
	assert.Equal(t, twoQuestions.Questions, exported.Questions)
}

func TestExportKey(t *testing.T) {
	at := time.Unix(1700000000, 123)
	assert.Equal(t, "exports/q1/1700000000000000123.json", ExportKey("q1", at))
}

func TestDispatch_MissingRecordIsDropped(t *testing.T) {
	f := newFixture(t)

	result, err := f.registry.Dispatch(context.Background(), job.GradeEnvelope{
		Ref: job.Ref{JobRecordID: "missing", SubjectID: "quiz-2q"},
	})
	require.NoError(t, err)
	assert.Equal(t, ResultRecordMissing, result)
}

func TestDispatch_KindMismatch(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	r, _ := f.pending(t, job.KindGrade, "quiz-2q", nil)

	result, err := f.registry.Dispatch(ctx, job.ExportEnvelope{
		Ref: job.Ref{JobRecordID: r.ID, SubjectID: r.SubjectID},
	})
	require.NoError(t, err)
	assert.Equal(t, ResultKindMismatch, result)

	got, err := f.store.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StatusFailed, got.Status)
	assert.Equal(t, "envelope kind EXPORT does not match record kind GRADE", got.ErrorMessage)
	assert.NotNil(t, got.FinishedAt)
	assert.Empty(t, f.objects.Keys())

	// a redelivered copy now finds the record terminal
	result, err = f.registry.Dispatch(ctx, job.ExportEnvelope{
		Ref: job.Ref{JobRecordID: r.ID, SubjectID: r.SubjectID},
	})
	require.NoError(t, err)
	assert.Equal(t, ResultAlreadyTerminal, result)
}

func TestDispatch_SerializationFaultIsRetried(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	r, env := f.pending(t, job.KindExport, "quiz-2q", nil)

	exporter := NewExporter(f.store, f.objects)
	exporter.marshal = func(any) ([]byte, error) {
		return nil, errors.New("unsupported value")
	}
	registry := NewRegistry(f.store, nil, exporter, slog.New(slog.NewTextHandler(io.Discard, nil)))

	_, err := registry.Dispatch(ctx, env)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to serialize quiz")

	got, err := f.store.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StatusPending, got.Status)
	assert.Empty(t, f.objects.Keys())
}

type racingHandler struct {
	inner  Handler
	finish func(ctx context.Context, r *job.Record)
}

func (h racingHandler) Handle(ctx context.Context, r *job.Record) (job.Transition, error) {
	h.finish(ctx, r)
	return h.inner.Handle(ctx, r)
}

func TestDispatch_LostRaceIsSilent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	r, env := f.pending(t, job.KindGrade, "quiz-2q", []int{1, 0})

	racer := racingHandler{
		inner: NewGrader(f.store),
		finish: func(ctx context.Context, r *job.Record) {
			require.NoError(t, f.store.UpdateIfStatus(ctx, r.ID, job.StatusPending, job.Graded(42, time.Now())))
		},
	}
	registry := NewRegistry(f.store, racer, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))

	result, err := registry.Dispatch(ctx, env)
	require.NoError(t, err)
	assert.Equal(t, ResultLostRace, result)

	got, err := f.store.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, 42, *got.Score)
}

type failingHandler struct{ err error }

func (h failingHandler) Handle(context.Context, *job.Record) (job.Transition, error) {
	return job.Transition{}, h.err
}

func TestDispatch_HandlerFaultIsReturned(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	r, env := f.pending(t, job.KindExport, "quiz-2q", nil)

	boom := errors.New("object store unavailable")
	registry := NewRegistry(f.store, nil, failingHandler{err: boom}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	_, err := registry.Dispatch(ctx, env)
	require.ErrorIs(t, err, boom)

	got, err := f.store.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StatusPending, got.Status)
}
