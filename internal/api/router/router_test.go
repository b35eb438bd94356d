package router

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/quizjobs/internal/api/dto"
	"github.com/cuongbtq/quizjobs/internal/api/handler"
	"github.com/cuongbtq/quizjobs/internal/backoff"
	"github.com/cuongbtq/quizjobs/internal/job"
	"github.com/cuongbtq/quizjobs/internal/producer"
	storemem "github.com/cuongbtq/quizjobs/internal/store/memory"
	queuemem "github.com/cuongbtq/quizjobs/internal/transport/memory"
)

type testServer struct {
	engine *gin.Engine
	store  *storemem.Store
	queue  *queuemem.Queue
}

func newTestServer(t *testing.T) testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st := storemem.New()
	q := queuemem.New("jobs")

	require.NoError(t, st.PutQuiz(context.Background(), &job.Quiz{
		ID:    "quiz-1",
		Title: "Capitals",
		Questions: []job.Question{
			{Prompt: "France?", Choices: []string{"Paris", "Lyon"}, CorrectIndex: 0},
			{Prompt: "Italy?", Choices: []string{"Milan", "Rome"}, CorrectIndex: 1},
		},
	}))

	p := producer.New(producer.Config{
		Records:   st,
		Quizzes:   st,
		Transport: q,
		Logger:    logger,
		Backoff:   backoff.Constant{Interval: time.Millisecond},
	})

	engine := SetupRouter(&handler.Dependencies{Logger: logger, Jobs: p})
	return testServer{engine: engine, store: st, queue: q}
}

func (s testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.engine.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "healthy")
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

type healthFunc func(ctx context.Context) map[string]error

func (f healthFunc) Health(ctx context.Context) map[string]error { return f(ctx) }

func TestHealth_ReportsFailedBackends(t *testing.T) {
	gin.SetMode(gin.TestMode)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	engine := SetupRouter(&handler.Dependencies{
		Logger: logger,
		Health: healthFunc(func(context.Context) map[string]error {
			return map[string]error{"postgres": errors.New("connection refused")}
		}),
		ServiceName: "api",
	})

	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var body struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "unhealthy", body.Status)
	assert.Equal(t, "connection refused", body.Checks["postgres"])
}

func TestRequestID_Propagated(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec := httptest.NewRecorder()
	s.engine.ServeHTTP(rec, req)

	assert.Equal(t, "abc-123", rec.Header().Get("X-Request-ID"))
}

func TestCreateJob(t *testing.T) {
	tests := []struct {
		name       string
		body       any
		wantStatus int
		wantQueued int
	}{
		{
			name:       "grade accepted",
			body:       map[string]any{"kind": "GRADE", "subject_id": "quiz-1", "answers": []int{0, 1}},
			wantStatus: http.StatusAccepted,
			wantQueued: 1,
		},
		{
			name:       "export accepted",
			body:       map[string]any{"kind": "export", "subject_id": "quiz-1"},
			wantStatus: http.StatusAccepted,
			wantQueued: 1,
		},
		{
			name:       "missing kind",
			body:       map[string]any{"subject_id": "quiz-1"},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "unknown kind",
			body:       map[string]any{"kind": "ARCHIVE", "subject_id": "quiz-1"},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "missing quiz",
			body:       map[string]any{"kind": "GRADE", "subject_id": "quiz-404"},
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "malformed body",
			body:       "not an object",
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t)

			rec := s.do(t, http.MethodPost, "/api/v1/jobs", tt.body)
			assert.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			assert.Equal(t, tt.wantQueued, s.queue.Len())

			if tt.wantStatus == http.StatusAccepted {
				var resp dto.CreateJobResponse
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
				assert.Equal(t, "PENDING", resp.Status)
				_, err := uuid.Parse(resp.JobID)
				assert.NoError(t, err)
			}
		})
	}
}

func TestCreateJob_QueueUnavailable(t *testing.T) {
	s := newTestServer(t)
	require.NoError(t, s.queue.Close())

	rec := s.do(t, http.MethodPost, "/api/v1/jobs", map[string]any{"kind": "GRADE", "subject_id": "quiz-1"})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var resp dto.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.JobID)

	record, err := s.store.Get(context.Background(), resp.JobID)
	require.NoError(t, err)
	assert.Equal(t, job.StatusPending, record.Status)
}

func TestGetJob(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/v1/jobs", map[string]any{"kind": "GRADE", "subject_id": "quiz-1", "answers": []int{0}})
	require.Equal(t, http.StatusAccepted, rec.Code)
	var created dto.CreateJobResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	rec = s.do(t, http.MethodGet, "/api/v1/jobs/"+created.JobID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var got dto.JobDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, created.JobID, got.JobID)
	assert.Equal(t, "GRADE", got.Kind)
	assert.Equal(t, "quiz-1", got.SubjectID)
	assert.Equal(t, "PENDING", got.Status)
	assert.Equal(t, []int{0}, got.Answers)
	assert.Nil(t, got.Score)
	assert.Empty(t, got.FinishedAt)

	rec = s.do(t, http.MethodGet, "/api/v1/jobs/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/jobs/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListJobs_Pagination(t *testing.T) {
	s := newTestServer(t)

	for range 5 {
		rec := s.do(t, http.MethodPost, "/api/v1/jobs", map[string]any{"kind": "EXPORT", "subject_id": "quiz-1"})
		require.Equal(t, http.StatusAccepted, rec.Code)
	}
	rec := s.do(t, http.MethodPost, "/api/v1/jobs", map[string]any{"kind": "GRADE", "subject_id": "quiz-1"})
	require.Equal(t, http.StatusAccepted, rec.Code)

	seen := map[string]bool{}
	path := "/api/v1/jobs?kind=export&page_size=2"
	pages := 0
	for {
		rec := s.do(t, http.MethodGet, path, nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var page dto.ListJobsResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
		pages++
		for _, j := range page.Jobs {
			assert.Equal(t, "EXPORT", j.Kind)
			assert.False(t, seen[j.JobID], "job listed twice")
			seen[j.JobID] = true
		}

		if page.NextCursor == "" {
			break
		}
		path = "/api/v1/jobs?kind=export&page_size=2&cursor=" + page.NextCursor
	}

	assert.Len(t, seen, 5)
	assert.Equal(t, 3, pages)
}

func TestListJobs_BadQuery(t *testing.T) {
	s := newTestServer(t)

	for _, q := range []string{"kind=archive", "status=running", "cursor=!!", "page_size=abc"} {
		rec := s.do(t, http.MethodGet, "/api/v1/jobs?"+q, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
	}
}

func TestPutQuiz(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPut, "/api/v1/quizzes/quiz-2", dto.PutQuizRequest{
		Title: "Maths",
		Questions: []job.Question{
			{Prompt: "1+1?", Choices: []string{"1", "2"}, CorrectIndex: 1},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	quiz, err := s.store.GetQuiz(context.Background(), "quiz-2")
	require.NoError(t, err)
	assert.Equal(t, "Maths", quiz.Title)

	rec = s.do(t, http.MethodPut, "/api/v1/quizzes/quiz-3", dto.PutQuizRequest{
		Questions: []job.Question{{Prompt: "?", Choices: []string{"a"}, CorrectIndex: 5}},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/v1/jobs", map[string]any{"kind": "GRADE", "subject_id": "quiz-2"})
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestCORS_Preflight(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodOptions, "/api/v1/jobs", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
