package dto

import (
	"time"

	"github.com/cuongbtq/quizjobs/internal/job"
)

type CreateJobRequest struct {
	Kind      string `json:"kind" binding:"required"`
	SubjectID string `json:"subject_id" binding:"required"`
	Answers   []int  `json:"answers"`
}

type CreateJobResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

type ListJobsRequest struct {
	Kind     string `form:"kind"`
	Status   string `form:"status"`
	PageSize int    `form:"page_size"`
	Cursor   string `form:"cursor"`
}

type ListJobsResponse struct {
	Jobs       []JobDTO `json:"jobs"`
	NextCursor string   `json:"next_cursor,omitempty"`
}

type JobDTO struct {
	JobID        string `json:"job_id"`
	Kind         string `json:"kind"`
	SubjectID    string `json:"subject_id"`
	Status       string `json:"status"`
	Answers      []int  `json:"answers,omitempty"`
	Score        *int   `json:"score,omitempty"`
	StorageKey   string `json:"storage_key,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
	CreatedAt    string `json:"created_at"`
	UpdatedAt    string `json:"updated_at"`
	FinishedAt   string `json:"finished_at,omitempty"`
}

// FromRecord maps a job record onto its wire shape
func FromRecord(r *job.Record) JobDTO {
	d := JobDTO{
		JobID:        r.ID,
		Kind:         string(r.Kind),
		SubjectID:    r.SubjectID,
		Status:       string(r.Status),
		Answers:      r.Answers,
		Score:        r.Score,
		StorageKey:   r.StorageKey,
		ErrorMessage: r.ErrorMessage,
		CreatedAt:    r.CreatedAt.Format(time.RFC3339Nano),
		UpdatedAt:    r.UpdatedAt.Format(time.RFC3339Nano),
	}
	if r.FinishedAt != nil {
		d.FinishedAt = r.FinishedAt.Format(time.RFC3339Nano)
	}
	return d
}

type PutQuizRequest struct {
	Title     string         `json:"title"`
	Questions []job.Question `json:"questions"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	JobID string `json:"job_id,omitempty"`
}
