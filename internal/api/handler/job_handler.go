package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/cuongbtq/quizjobs/internal/api/dto"
	"github.com/cuongbtq/quizjobs/internal/job"
	"github.com/cuongbtq/quizjobs/internal/store"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// CreateJob handles POST /api/v1/jobs
func (h *JobHandler) CreateJob(c *gin.Context) {
	var req dto.CreateJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid request body"})
		return
	}

	sub, err := h.jobs.Submit(c.Request.Context(), job.Request{
		Kind:      job.Kind(req.Kind),
		SubjectID: req.SubjectID,
		Answers:   req.Answers,
	})
	if err != nil {
		if errors.Is(err, job.ErrEnqueue) {
			// the record exists and stays PENDING until the reconciler republishes it
			h.logger.Error("Job accepted but not enqueued",
				slog.String("job_id", sub.JobID),
				slog.String("error", err.Error()),
			)
			c.JSON(http.StatusServiceUnavailable, dto.ErrorResponse{
				Error: "Job queue unavailable",
				JobID: sub.JobID,
			})
			return
		}
		h.writeError(c, err, "Failed to create job")
		return
	}

	c.JSON(http.StatusAccepted, dto.CreateJobResponse{
		JobID:  sub.JobID,
		Status: string(sub.Status),
	})
}

// GetJob handles GET /api/v1/jobs/:job_id
func (h *JobHandler) GetJob(c *gin.Context) {
	jobID := c.Param("job_id")
	if _, err := uuid.Parse(jobID); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "job_id must be a valid UUID"})
		return
	}

	record, err := h.jobs.GetJobStatus(c.Request.Context(), jobID)
	if err != nil {
		h.writeError(c, err, "Failed to get job")
		return
	}

	c.JSON(http.StatusOK, dto.FromRecord(record))
}

// ListJobs handles GET /api/v1/jobs
func (h *JobHandler) ListJobs(c *gin.Context) {
	var req dto.ListJobsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid query parameters"})
		return
	}

	filter, err := buildFilter(req)
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
		return
	}

	records, err := h.jobs.ListJobs(c.Request.Context(), filter)
	if err != nil {
		h.writeError(c, err, "Failed to list jobs")
		return
	}

	hasMore := len(records) > filter.PageSize
	if hasMore {
		records = records[:filter.PageSize]
	}

	resp := dto.ListJobsResponse{Jobs: make([]dto.JobDTO, len(records))}
	for i, r := range records {
		resp.Jobs[i] = dto.FromRecord(r)
	}

	if hasMore {
		last := records[len(records)-1]
		resp.NextCursor = EncodeJobCursor(&store.Cursor{CreatedAt: last.CreatedAt, JobID: last.ID})
	}

	c.JSON(http.StatusOK, resp)
}

func buildFilter(req dto.ListJobsRequest) (store.Filter, error) {
	filter := store.Filter{PageSize: req.PageSize}
	switch {
	case filter.PageSize <= 0:
		filter.PageSize = defaultPageSize
	case filter.PageSize > maxPageSize:
		filter.PageSize = maxPageSize
	}

	if req.Kind != "" {
		kind, err := job.ParseKind(req.Kind)
		if err != nil {
			return filter, err
		}
		filter.Kind = kind
	}

	if req.Status != "" {
		status, err := job.ParseStatus(req.Status)
		if err != nil {
			return filter, err
		}
		filter.Status = status
	}

	cursor, err := DecodeJobCursor(req.Cursor)
	if err != nil {
		return filter, err
	}
	filter.Cursor = cursor

	return filter, nil
}

// PutQuiz handles PUT /api/v1/quizzes/:quiz_id
func (h *JobHandler) PutQuiz(c *gin.Context) {
	var req dto.PutQuizRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid request body"})
		return
	}

	quiz := &job.Quiz{
		ID:        c.Param("quiz_id"),
		Title:     req.Title,
		Questions: req.Questions,
	}
	if err := h.jobs.PutQuiz(c.Request.Context(), quiz); err != nil {
		h.writeError(c, err, "Failed to store quiz")
		return
	}

	c.JSON(http.StatusOK, quiz)
}

func (h *JobHandler) writeError(c *gin.Context, err error, msg string) {
	switch {
	case errors.Is(err, job.ErrUnknownKind), errors.Is(err, job.ErrInvalidRequest):
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
	case errors.Is(err, job.ErrNotFound):
		c.JSON(http.StatusNotFound, dto.ErrorResponse{Error: err.Error()})
	default:
		h.logger.Error(msg, slog.String("error", err.Error()))
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: msg})
	}
}
