package job

import (
	"fmt"
	"strings"
	"time"
)

// Kind identifies which handler processes a job
type Kind string

// Job kinds
const (
	KindGrade  Kind = "GRADE"
	KindExport Kind = "EXPORT"
)

// Kinds lists every supported job kind
var Kinds = []Kind{KindGrade, KindExport}

// ParseKind converts a raw string into a Kind, ignoring case and surrounding space
func ParseKind(s string) (Kind, error) {
	switch Kind(normalize(s)) {
	case KindGrade:
		return KindGrade, nil
	case KindExport:
		return KindExport, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
	}
}

// Status is the lifecycle state of a job record
type Status string

// Job status constants
const (
	StatusPending   Status = "PENDING"
	StatusGraded    Status = "GRADED"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
)

// ParseStatus converts a raw string into a Status, ignoring case and surrounding space
func ParseStatus(s string) (Status, error) {
	switch st := Status(normalize(s)); st {
	case StatusPending, StatusGraded, StatusCompleted, StatusFailed:
		return st, nil
	default:
		return "", fmt.Errorf("%w: unknown status %q", ErrInvalidRequest, s)
	}
}

func normalize(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// IsTerminal reports whether no further transition can happen from s
func (s Status) IsTerminal() bool {
	switch s {
	case StatusGraded, StatusCompleted, StatusFailed:
		return true
	default:
		return false
	}
}

// SuccessStatus returns the terminal success status for a kind
func (k Kind) SuccessStatus() Status {
	if k == KindGrade {
		return StatusGraded
	}
	return StatusCompleted
}

// Record is the durable state of one unit of work (a grading attempt or an export job)
type Record struct {
	ID           string
	Kind         Kind
	SubjectID    string
	Status       Status
	Answers      []int
	Score        *int
	StorageKey   string
	ErrorMessage string
	CreatedAt    time.Time
	FinishedAt   *time.Time
	UpdatedAt    time.Time

	// RequeueCount and RequeuedAt track envelopes republished for a PENDING record
	RequeueCount int
	RequeuedAt   *time.Time
}

// LastEnqueuedAt is when the latest envelope for the record was published
func (r *Record) LastEnqueuedAt() time.Time {
	if r.RequeuedAt != nil {
		return *r.RequeuedAt
	}
	return r.CreatedAt
}

// Clone returns a deep copy of the record
func (r *Record) Clone() *Record {
	c := *r
	if r.Answers != nil {
		c.Answers = append([]int(nil), r.Answers...)
	}
	if r.Score != nil {
		score := *r.Score
		c.Score = &score
	}
	if r.FinishedAt != nil {
		finished := *r.FinishedAt
		c.FinishedAt = &finished
	}
	if r.RequeuedAt != nil {
		requeued := *r.RequeuedAt
		c.RequeuedAt = &requeued
	}
	return &c
}

// Apply writes a transition's terminal fields onto the record
func (r *Record) Apply(t Transition) {
	r.Status = t.Status
	r.Score = t.Score
	r.StorageKey = t.StorageKey
	r.ErrorMessage = t.ErrorMessage
	finished := t.FinishedAt
	r.FinishedAt = &finished
	r.UpdatedAt = t.FinishedAt
}

// Transition is the single write that moves a record out of PENDING
type Transition struct {
	Status       Status
	Score        *int
	StorageKey   string
	ErrorMessage string
	FinishedAt   time.Time
}

// Graded builds the success transition for a grading job
func Graded(score int, at time.Time) Transition {
	return Transition{Status: StatusGraded, Score: &score, FinishedAt: at}
}

// Completed builds the success transition for an export job
func Completed(storageKey string, at time.Time) Transition {
	return Transition{Status: StatusCompleted, StorageKey: storageKey, FinishedAt: at}
}

// Failed builds the business-failure transition shared by all kinds
func Failed(message string, at time.Time) Transition {
	return Transition{Status: StatusFailed, ErrorMessage: message, FinishedAt: at}
}

// Validate checks that the transition is a legal terminal write
func (t Transition) Validate() error {
	if !t.Status.IsTerminal() {
		return fmt.Errorf("%w: %s is not terminal", ErrInvalidTransition, t.Status)
	}
	if t.Status == StatusFailed && t.ErrorMessage == "" {
		return fmt.Errorf("%w: FAILED requires an error message", ErrInvalidTransition)
	}
	if t.FinishedAt.IsZero() {
		return fmt.Errorf("%w: finished time is required", ErrInvalidTransition)
	}
	return nil
}

// Request is a producer-side work request
type Request struct {
	Kind      Kind
	SubjectID string
	Answers   []int
}

// Submission is returned synchronously by the producer
type Submission struct {
	JobID  string
	Status Status
}
