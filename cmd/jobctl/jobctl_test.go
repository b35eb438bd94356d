package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/quizjobs/internal/job"
)

const memoryConfig = "testdata/memory.yaml"

func runApp(t *testing.T, args ...string) (string, error) {
	t.Helper()

	app := newApp(memoryConfig)
	out := &bytes.Buffer{}
	app.Writer = out
	app.ErrWriter = &bytes.Buffer{}

	err := app.Run(context.Background(), append([]string{"jobctl", "--config", memoryConfig}, args...))
	return out.String(), err
}

func TestParseAnswers(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    []int
		wantErr bool
	}{
		{name: "empty", raw: "", want: nil},
		{name: "single", raw: "2", want: []int{2}},
		{name: "spaces", raw: " 0, 1 ,2 ", want: []int{0, 1, 2}},
		{name: "not a number", raw: "1,b", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseAnswers(tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestWriteRecord(t *testing.T) {
	created := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	finished := created.Add(1500 * time.Millisecond)
	score := 50

	out := &bytes.Buffer{}
	writeRecord(out, &job.Record{
		ID:         "job-1",
		Kind:       job.KindGrade,
		SubjectID:  "quiz-1",
		Status:     job.StatusGraded,
		Score:      &score,
		CreatedAt:  created,
		FinishedAt: &finished,
	}, created.Add(2*time.Hour))

	text := out.String()
	assert.Contains(t, text, "job-1")
	assert.Contains(t, text, "GRADED")
	assert.Regexp(t, `Score\s+50`, text)
	assert.Contains(t, text, "2 hours ago")
	assert.Contains(t, text, "took 1.5s")
	assert.NotContains(t, text, "Artifact")
}

func TestWriteRecord_Rows(t *testing.T) {
	created := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	finished := created.Add(2 * time.Second)

	tests := []struct {
		name   string
		record *job.Record
		want   []string
	}{
		{
			name: "failed",
			record: &job.Record{
				ID: "job-2", Kind: job.KindExport, SubjectID: "quiz-9", Status: job.StatusFailed,
				ErrorMessage: "quiz quiz-9 not found", CreatedAt: created, FinishedAt: &finished,
			},
			want: []string{"Job", "Kind", "Subject", "Status", "Error", "Created", "Finished"},
		},
		{
			name: "completed",
			record: &job.Record{
				ID: "job-3", Kind: job.KindExport, SubjectID: "quiz-1", Status: job.StatusCompleted,
				StorageKey: "exports/quiz-1/1.json", CreatedAt: created, FinishedAt: &finished,
			},
			want: []string{"Job", "Kind", "Subject", "Status", "Artifact", "Created", "Finished"},
		},
		{
			name:   "pending",
			record: &job.Record{ID: "job-4", Kind: job.KindGrade, SubjectID: "quiz-1", Status: job.StatusPending, CreatedAt: created},
			want:   []string{"Job", "Kind", "Subject", "Status", "Created"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := &bytes.Buffer{}
			writeRecord(out, tt.record, created.Add(time.Minute))

			assert.NotContains(t, out.String(), "\u00a0")
			lines := strings.Split(strings.TrimRight(out.String(), "\n"), "\n")
			require.Len(t, lines, len(tt.want))
			for i, label := range tt.want {
				assert.True(t, strings.HasPrefix(lines[i], label+" "), "line %d: %q", i, lines[i])
			}
		})
	}
}

func TestWriteTable(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	score := 100

	out := &bytes.Buffer{}
	writeTable(out, []*job.Record{
		{ID: "a", Kind: job.KindGrade, SubjectID: "q", Status: job.StatusGraded, Score: &score, CreatedAt: now.Add(-time.Minute)},
		{ID: "b", Kind: job.KindExport, SubjectID: "q", Status: job.StatusFailed, ErrorMessage: "quiz q not found", CreatedAt: now},
		{ID: "c", Kind: job.KindExport, SubjectID: "q", Status: job.StatusPending, CreatedAt: now},
	}, now)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 4)
	assert.Contains(t, lines[0], "STATUS")
	assert.Contains(t, lines[1], "100")
	assert.Contains(t, lines[1], "1 minute ago")
	assert.Contains(t, lines[2], "quiz q not found")
	assert.Contains(t, lines[3], "-")
}

func TestApp_QuizPut(t *testing.T) {
	out, err := runApp(t, "quiz", "put", "testdata/quiz.json")
	require.NoError(t, err)
	assert.Equal(t, "quiz capitals stored (2 questions)\n", out)
}

func TestApp_QuizPutDiffNewQuiz(t *testing.T) {
	out, err := runApp(t, "quiz", "put", "--diff", "testdata/quiz.json")
	require.NoError(t, err)
	assert.Equal(t, "quiz capitals is new\nquiz capitals stored (2 questions)\n", out)
}

func TestQuizDiff(t *testing.T) {
	stored := &job.Quiz{
		ID:    "capitals",
		Title: "Capitals",
		Questions: []job.Question{
			{Prompt: "France?", Choices: []string{"Paris", "Lyon"}, CorrectIndex: 0},
		},
		CreatedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}

	t.Run("only created_at differs", func(t *testing.T) {
		incoming := stored.Clone()
		incoming.CreatedAt = time.Time{}

		_, changed, err := quizDiff(stored, incoming)
		require.NoError(t, err)
		assert.False(t, changed)
	})

	t.Run("answer key changed", func(t *testing.T) {
		incoming := stored.Clone()
		incoming.Questions[0].CorrectIndex = 1

		diff, changed, err := quizDiff(stored, incoming)
		require.NoError(t, err)
		assert.True(t, changed)
		assert.Contains(t, diff, "correct_index")
		assert.Contains(t, diff, "-")
		assert.Contains(t, diff, "+")
	})
}

func TestApp_SubmitMissingQuiz(t *testing.T) {
	_, err := runApp(t, "submit", "--kind", "GRADE", "--subject", "nope")
	require.Error(t, err)
	assert.ErrorIs(t, err, job.ErrNotFound)
}

func TestApp_SubmitRejectsBadAnswers(t *testing.T) {
	_, err := runApp(t, "submit", "--kind", "GRADE", "--subject", "capitals", "--answers", "x")
	assert.Error(t, err)
}

func TestApp_Reconcile(t *testing.T) {
	out, err := runApp(t, "reconcile", "--threshold", "1m")
	require.NoError(t, err)
	assert.Equal(t, "found 0, requeued 0, failed 0\n", out)
}

func TestApp_RedriveEmptyDLQ(t *testing.T) {
	out, err := runApp(t, "dlq", "redrive")
	require.NoError(t, err)
	assert.Equal(t, "moved 0, failed 0\n", out)
}

func TestApp_StatusRequiresID(t *testing.T) {
	_, err := runApp(t, "status")
	assert.EqualError(t, err, "job id is required")
}
