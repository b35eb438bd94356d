package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/cuongbtq/quizjobs/internal/job"
	"github.com/cuongbtq/quizjobs/internal/store"
	"github.com/cuongbtq/quizjobs/shared/postgresql"
)

var (
	_ store.Records = (*Storage)(nil)
	_ store.Quizzes = (*Storage)(nil)
)

const recordColumns = `job_id, kind, subject_id, status, answers, score,
	storage_key, error_message, created_at, finished_at, updated_at,
	requeue_count, requeued_at`

// Storage handles all database operations for job records and quizzes
type Storage struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStorage creates a new Storage instance
func NewStorage(pg *postgresql.Client, logger *slog.Logger) *Storage {
	return &Storage{
		db:     pg.GetDB(),
		logger: logger,
	}
}

type recordRow struct {
	JobID        string         `db:"job_id"`
	Kind         string         `db:"kind"`
	SubjectID    string         `db:"subject_id"`
	Status       string         `db:"status"`
	Answers      pq.Int64Array  `db:"answers"`
	Score        sql.NullInt64  `db:"score"`
	StorageKey   sql.NullString `db:"storage_key"`
	ErrorMessage sql.NullString `db:"error_message"`
	CreatedAt    time.Time      `db:"created_at"`
	FinishedAt   sql.NullTime   `db:"finished_at"`
	UpdatedAt    time.Time      `db:"updated_at"`
	RequeueCount int            `db:"requeue_count"`
	RequeuedAt   sql.NullTime   `db:"requeued_at"`
}

func toRow(r *job.Record) recordRow {
	row := recordRow{
		JobID:        r.ID,
		Kind:         string(r.Kind),
		SubjectID:    r.SubjectID,
		Status:       string(r.Status),
		StorageKey:   sql.NullString{String: r.StorageKey, Valid: r.StorageKey != ""},
		ErrorMessage: sql.NullString{String: r.ErrorMessage, Valid: r.ErrorMessage != ""},
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
		RequeueCount: r.RequeueCount,
	}
	if r.RequeuedAt != nil {
		row.RequeuedAt = sql.NullTime{Time: *r.RequeuedAt, Valid: true}
	}
	if r.Answers != nil {
		row.Answers = make(pq.Int64Array, len(r.Answers))
		for i, a := range r.Answers {
			row.Answers[i] = int64(a)
		}
	}
	if r.Score != nil {
		row.Score = sql.NullInt64{Int64: int64(*r.Score), Valid: true}
	}
	if r.FinishedAt != nil {
		row.FinishedAt = sql.NullTime{Time: *r.FinishedAt, Valid: true}
	}
	return row
}

func (row recordRow) toRecord() *job.Record {
	r := &job.Record{
		ID:           row.JobID,
		Kind:         job.Kind(row.Kind),
		SubjectID:    row.SubjectID,
		Status:       job.Status(row.Status),
		StorageKey:   row.StorageKey.String,
		ErrorMessage: row.ErrorMessage.String,
		CreatedAt:    row.CreatedAt,
		UpdatedAt:    row.UpdatedAt,
		RequeueCount: row.RequeueCount,
	}
	if row.RequeuedAt.Valid {
		requeued := row.RequeuedAt.Time
		r.RequeuedAt = &requeued
	}
	if row.Answers != nil {
		r.Answers = make([]int, len(row.Answers))
		for i, a := range row.Answers {
			r.Answers[i] = int(a)
		}
	}
	if row.Score.Valid {
		score := int(row.Score.Int64)
		r.Score = &score
	}
	if row.FinishedAt.Valid {
		finished := row.FinishedAt.Time
		r.FinishedAt = &finished
	}
	return r
}

// CreateIfAbsent inserts a PENDING record; an existing id is reported as job.ErrAlreadyExists
func (s *Storage) CreateIfAbsent(ctx context.Context, record *job.Record) error {
	query := `
		INSERT INTO job_records (` + recordColumns + `)
		VALUES (
			:job_id, :kind, :subject_id, :status, :answers, :score,
			:storage_key, :error_message, :created_at, :finished_at, :updated_at,
			:requeue_count, :requeued_at
		)
		ON CONFLICT (job_id) DO NOTHING
	`

	result, err := s.db.NamedExecContext(ctx, query, toRow(record))
	if err != nil {
		return fmt.Errorf("failed to create job record: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("job record %s: %w", record.ID, job.ErrAlreadyExists)
	}

	return nil
}

// Get retrieves a job record by its ID
func (s *Storage) Get(ctx context.Context, id string) (*job.Record, error) {
	query := `SELECT ` + recordColumns + ` FROM job_records WHERE job_id = $1`

	var row recordRow
	if err := s.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("job record %s: %w", id, job.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get job record: %w", err)
	}

	return row.toRecord(), nil
}

// UpdateIfStatus writes the terminal fields using optimistic locking on the status column
func (s *Storage) UpdateIfStatus(ctx context.Context, id string, expected job.Status, t job.Transition) error {
	if err := t.Validate(); err != nil {
		return err
	}

	query := `
		UPDATE job_records
		SET status = $1,
		    score = $2,
		    storage_key = $3,
		    error_message = $4,
		    finished_at = $5,
		    updated_at = $5
		WHERE job_id = $6
		  AND status = $7
	`

	var score sql.NullInt64
	if t.Score != nil {
		score = sql.NullInt64{Int64: int64(*t.Score), Valid: true}
	}

	result, err := s.db.ExecContext(ctx, query,
		string(t.Status),
		score,
		sql.NullString{String: t.StorageKey, Valid: t.StorageKey != ""},
		sql.NullString{String: t.ErrorMessage, Valid: t.ErrorMessage != ""},
		t.FinishedAt,
		id,
		string(expected),
	)
	if err != nil {
		return fmt.Errorf("failed to update job record status: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		// Distinguish a lost race from a missing record
		var current string
		err := s.db.GetContext(ctx, &current, `SELECT status FROM job_records WHERE job_id = $1`, id)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("job record %s: %w", id, job.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("failed to read job record status: %w", err)
		}

		s.logger.Debug("Conditional update skipped",
			slog.String("job_id", id),
			slog.String("expected", string(expected)),
			slog.String("current", current),
		)
		return fmt.Errorf("job record %s is %s: %w", id, current, job.ErrNotPending)
	}

	s.logger.Info("Job record status updated",
		slog.String("job_id", id),
		slog.String("status", string(t.Status)),
	)

	return nil
}

// List returns records using keyset pagination, fetching one extra row to detect more pages
func (s *Storage) List(ctx context.Context, filter store.Filter) ([]*job.Record, error) {
	query := `SELECT ` + recordColumns + ` FROM job_records WHERE 1=1`
	args := []interface{}{}
	argIdx := 1

	if filter.Kind != "" {
		query += fmt.Sprintf(" AND kind = $%d", argIdx)
		args = append(args, string(filter.Kind))
		argIdx++
	}

	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}

	if filter.Cursor != nil {
		query += fmt.Sprintf(" AND (created_at, job_id) < ($%d, $%d)", argIdx, argIdx+1)
		args = append(args, filter.Cursor.CreatedAt, filter.Cursor.JobID)
		argIdx += 2
	}

	query += " ORDER BY created_at DESC, job_id DESC"

	if filter.PageSize > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, filter.PageSize+1)
	}

	var rows []recordRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list job records: %w", err)
	}

	out := make([]*job.Record, len(rows))
	for i, row := range rows {
		out[i] = row.toRecord()
	}
	return out, nil
}

// ListStalePending returns PENDING records whose latest envelope predates q.Before
func (s *Storage) ListStalePending(ctx context.Context, q store.StaleQuery) ([]*job.Record, error) {
	query := `
		SELECT ` + recordColumns + `
		FROM job_records
		WHERE status = $1
		  AND COALESCE(requeued_at, created_at) < $2
		  AND ($3 <= 0 OR requeue_count < $3)
		ORDER BY COALESCE(requeued_at, created_at) ASC, job_id ASC
	`
	args := []interface{}{string(job.StatusPending), q.Before, q.MaxRequeues}
	if q.Limit > 0 {
		query += " LIMIT $4"
		args = append(args, q.Limit)
	}

	var rows []recordRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list stale pending job records: %w", err)
	}

	out := make([]*job.Record, len(rows))
	for i, row := range rows {
		out[i] = row.toRecord()
	}
	return out, nil
}

// MarkRequeued bumps requeue_count while the record is still PENDING
func (s *Storage) MarkRequeued(ctx context.Context, id string, at time.Time) error {
	query := `
		UPDATE job_records
		SET requeue_count = requeue_count + 1,
		    requeued_at = $1,
		    updated_at = $1
		WHERE job_id = $2
		  AND status = $3
	`

	result, err := s.db.ExecContext(ctx, query, at, id, string(job.StatusPending))
	if err != nil {
		return fmt.Errorf("failed to mark job record requeued: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		if _, err := s.Get(ctx, id); err != nil {
			return err
		}
		return fmt.Errorf("job record %s: %w", id, job.ErrNotPending)
	}
	return nil
}

type quizRow struct {
	QuizID    string    `db:"quiz_id"`
	Title     string    `db:"title"`
	Questions []byte    `db:"questions"`
	CreatedAt time.Time `db:"created_at"`
}

// GetQuiz retrieves a quiz by its ID
func (s *Storage) GetQuiz(ctx context.Context, id string) (*job.Quiz, error) {
	query := `SELECT quiz_id, title, questions, created_at FROM quizzes WHERE quiz_id = $1`

	var row quizRow
	if err := s.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("quiz %s: %w", id, job.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get quiz: %w", err)
	}

	quiz := &job.Quiz{
		ID:        row.QuizID,
		Title:     row.Title,
		CreatedAt: row.CreatedAt,
	}
	if err := json.Unmarshal(row.Questions, &quiz.Questions); err != nil {
		return nil, fmt.Errorf("failed to decode quiz questions: %w", err)
	}
	return quiz, nil
}

// PutQuiz creates or replaces a quiz
func (s *Storage) PutQuiz(ctx context.Context, quiz *job.Quiz) error {
	questions, err := json.Marshal(quiz.Questions)
	if err != nil {
		return fmt.Errorf("failed to encode quiz questions: %w", err)
	}

	createdAt := quiz.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	query := `
		INSERT INTO quizzes (quiz_id, title, questions, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (quiz_id) DO UPDATE
		SET title = EXCLUDED.title,
		    questions = EXCLUDED.questions
	`

	if _, err := s.db.ExecContext(ctx, query, quiz.ID, quiz.Title, questions, createdAt); err != nil {
		return fmt.Errorf("failed to put quiz: %w", err)
	}
	return nil
}
