package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// JobStatus represents the lifecycle state of a listing job.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusPaused     JobStatus = "paused"
	JobStatusSkipped    JobStatus = "skipped"
)

// AllJobStatuses lists every status in display order.
var AllJobStatuses = []JobStatus{
	JobStatusPending,
	JobStatusProcessing,
	JobStatusCompleted,
	JobStatusFailed,
	JobStatusPaused,
	JobStatusSkipped,
}

// Processing -> Pending is reserved for crash recovery at load time.
var jobTransitions = map[JobStatus][]JobStatus{
	JobStatusPending:    {JobStatusProcessing, JobStatusSkipped, JobStatusPaused},
	JobStatusProcessing: {JobStatusCompleted, JobStatusFailed, JobStatusPending},
	JobStatusFailed:     {JobStatusPending},
	JobStatusPaused:     {JobStatusPending},
	JobStatusCompleted:  nil,
	JobStatusSkipped:    nil,
}

// Valid reports whether s is one of the known statuses.
func (s JobStatus) Valid() bool {
	_, ok := jobTransitions[s]
	return ok
}

// ParseJobStatus converts a stored or user-supplied value to a JobStatus.
func ParseJobStatus(v string) (JobStatus, error) {
	s := JobStatus(strings.ToLower(strings.TrimSpace(v)))
	if !s.Valid() {
		return "", fmt.Errorf("%w: unknown job status %q", ErrInvalidInput, v)
	}
	return s, nil
}

// CanTransition reports whether a job may move from one status to another.
func CanTransition(from, to JobStatus) bool {
	for _, next := range jobTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ErrorKind is the symbolic category attached to a failed job.
type ErrorKind string

const (
	ErrorKindFolderNotFound ErrorKind = "FolderNotFound"
	ErrorKindNoImages       ErrorKind = "NoImages"
	ErrorKindAnalysisFailed ErrorKind = "AI_Analysis_Failed"
	ErrorKindPricingFailed  ErrorKind = "Pricing_Failed"
	ErrorKindAPI            ErrorKind = "APIError"
	ErrorKindNullResult     ErrorKind = "NullResult"
	ErrorKindUnexpected     ErrorKind = "UnexpectedError"
	ErrorKindPanic          ErrorKind = "Panic"
)

// Timing maps a pipeline stage name to its elapsed seconds.
// It is persisted as a JSON document in the timing_json column.
type Timing map[string]float64

// Value implements driver.Valuer.
func (t Timing) Value() (driver.Value, error) {
	if t == nil {
		return "{}", nil
	}
	b, err := json.Marshal(map[string]float64(t))
	if err != nil {
		return nil, fmt.Errorf("marshal timing: %w", err)
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (t *Timing) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*t = Timing{}
		return nil
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return fmt.Errorf("scan timing: unsupported type %T", src)
	}
	if len(raw) == 0 {
		*t = Timing{}
		return nil
	}
	m := Timing{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return fmt.Errorf("scan timing: %w", err)
	}
	*t = m
	return nil
}

// Job is one folder-to-listing unit of work.
type Job struct {
	ID           string     `json:"id" db:"id"`
	FolderPath   string     `json:"folder_path" db:"folder_path"`
	FolderName   string     `json:"folder_name" db:"folder_name"`
	Status       JobStatus  `json:"status" db:"status"`
	ListingID    *string    `json:"listing_id,omitempty" db:"listing_id"`
	OfferID      *string    `json:"offer_id,omitempty" db:"offer_id"`
	Price        *string    `json:"price,omitempty" db:"price"`
	ErrorType    *ErrorKind `json:"error_type,omitempty" db:"error_type"`
	ErrorMessage *string    `json:"error_message,omitempty" db:"error_message"`
	Attempts     int        `json:"attempts" db:"attempts"`
	MaxAttempts  int        `json:"max_attempts" db:"max_attempts"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
	StartedAt    *time.Time `json:"started_at,omitempty" db:"started_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty" db:"completed_at"`
	Timing       Timing     `json:"timing" db:"timing_json"`
}

// NewJob builds a pending job for a folder path.
func NewJob(id, folderPath string, maxAttempts int, now time.Time) Job {
	clean := filepath.Clean(folderPath)
	return Job{
		ID:          id,
		FolderPath:  clean,
		FolderName:  filepath.Base(clean),
		Status:      JobStatusPending,
		MaxAttempts: maxAttempts,
		CreatedAt:   now.UTC(),
		Timing:      Timing{},
	}
}

// CanRetry reports whether a failed job still has attempts left.
func (j Job) CanRetry() bool {
	return j.Status == JobStatusFailed && j.Attempts < j.MaxAttempts
}

// Removable reports whether the job may be deleted from the queue.
func (j Job) Removable() bool {
	switch j.Status {
	case JobStatusPending, JobStatusFailed, JobStatusSkipped:
		return true
	}
	return false
}

// Terminal reports whether the job has finished processing.
func (j Job) Terminal() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusFailed || j.Status == JobStatusSkipped
}

// Clone returns a deep copy so callers never share pointers with the queue.
func (j Job) Clone() Job {
	c := j
	c.ListingID = clonePtr(j.ListingID)
	c.OfferID = clonePtr(j.OfferID)
	c.Price = clonePtr(j.Price)
	c.ErrorType = clonePtr(j.ErrorType)
	c.ErrorMessage = clonePtr(j.ErrorMessage)
	c.StartedAt = clonePtr(j.StartedAt)
	c.CompletedAt = clonePtr(j.CompletedAt)
	c.Timing = make(Timing, len(j.Timing))
	for k, v := range j.Timing {
		c.Timing[k] = v
	}
	return c
}

// WithStatus returns a copy of the job moved to status, or ErrInvalidTransition.
func (j Job) WithStatus(status JobStatus) (Job, error) {
	if !CanTransition(j.Status, status) {
		return Job{}, &TransitionError{JobID: j.ID, From: j.Status, To: status}
	}
	c := j.Clone()
	c.Status = status
	return c, nil
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T {
	return &v
}
