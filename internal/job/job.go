// Package job provides the Job aggregate for asynchronous media generation.
// It includes the Job entity with its state machine, the repository port and
// the Service that runs generations in the background.
package job

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/maauso/mediagen-api/internal/job/id"
	"github.com/maauso/mediagen-api/internal/provider"
)

// Status represents the current state of a Job.
type Status string

const (
	// StatusQueued indicates the job was accepted and not yet sent to the vendor.
	StatusQueued Status = "QUEUED"
	// StatusSubmitted indicates the vendor accepted the job.
	StatusSubmitted Status = "SUBMITTED"
	// StatusPolling indicates the job status URL is being polled.
	StatusPolling Status = "POLLING"
	// StatusSucceeded indicates a result URL was obtained.
	StatusSucceeded Status = "SUCCEEDED"
	// StatusFailed indicates the submission or the vendor failed.
	StatusFailed Status = "FAILED"
	// StatusTimedOut indicates the polling budget was exhausted.
	StatusTimedOut Status = "TIMED_OUT"
	// StatusCancelled indicates the job was abandoned by the caller.
	StatusCancelled Status = "CANCELLED"
)

// ErrInvalidStatus is returned by ParseStatus for unknown status names.
var ErrInvalidStatus = errors.New("invalid job status")

// ParseStatus parses a status name case-insensitively.
func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := validTransitions[st]; !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
	}
	return st, nil
}

// ErrInvalidTransition is returned when an invalid state transition is attempted.
var ErrInvalidTransition = errors.New("invalid state transition")

// validTransitions defines which state transitions are allowed.
var validTransitions = map[Status][]Status{
	StatusQueued:    {StatusSubmitted, StatusFailed, StatusCancelled},
	StatusSubmitted: {StatusPolling, StatusSucceeded, StatusFailed, StatusCancelled},
	StatusPolling:   {StatusSucceeded, StatusFailed, StatusTimedOut, StatusCancelled},
	StatusSucceeded: {},
	StatusFailed:    {},
	StatusTimedOut:  {},
	StatusCancelled: {},
}

// canTransition checks if a transition from one status to another is valid.
func canTransition(from, to Status) bool {
	allowed, ok := validTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// Error codes stored on failed jobs.
const (
	CodeEmptyPrompt     = "EMPTY_PROMPT"
	CodeInvalidRequest  = "INVALID_REQUEST"
	CodeUnknownModel    = "UNKNOWN_MODEL"
	CodeUnconfigured    = "PROVIDER_UNCONFIGURED"
	CodeUploadFailed    = "UPLOAD_FAILED"
	CodeTransportError  = "TRANSPORT_ERROR"
	CodeNoStatusURL     = "NO_STATUS_URL"
	CodeProviderFailure = "PROVIDER_FAILURE"
	CodeTimeout         = "TIMEOUT"
	CodeCancelled       = "CANCELLED"
	CodeInternal        = "INTERNAL_ERROR"
)

// Job represents one generation request and its outcome.
type Job struct {
	mu sync.RWMutex

	// ID is the unique identifier for this job.
	ID string
	// Model is the provider model id the job runs against.
	Model string
	// Kind is the media kind the model produces.
	Kind provider.Kind
	// Prompt is the generation prompt.
	Prompt string
	// Width and Height are the requested dimensions; zero means vendor default.
	Width  int
	Height int
	// DurationSeconds is the requested video duration; zero means vendor default.
	DurationSeconds float64
	// ReferenceImages is the number of reference images sent with the request.
	ReferenceImages int

	Status   Status
	Progress int
	// Error and ErrorCode describe a FAILED, TIMED_OUT or CANCELLED job.
	Error     string
	ErrorCode string

	// TaskID is the vendor task id, or a local UUID when the vendor gave none.
	TaskID    string
	StatusURL string
	// Attempts is the number of status polls performed.
	Attempts int

	// ResultURL is the vendor result URL.
	ResultURL string
	// ArchiveRef is the archived copy (local path or S3 URL), if archived.
	ArchiveRef string
	// MediaID is the catalog record created for the result.
	MediaID string
	// Cost is the vendor-reported cost, if any.
	Cost *float64
	// ResolvedWidth, ResolvedHeight and ResolvedDuration come from the vendor
	// response or from probing the archived file.
	ResolvedWidth    int
	ResolvedHeight   int
	ResolvedDuration float64

	CreatedAt   time.Time
	UpdatedAt   time.Time
	SubmittedAt time.Time
	CompletedAt time.Time
}

// New creates a new Job with a generated ID and initial QUEUED status.
func New() *Job {
	return NewWithID(id.Generate())
}

// NewWithID creates a new Job with the specified ID and initial QUEUED status.
// Useful for testing or when ID needs to be externally generated.
func NewWithID(jobID string) *Job {
	now := time.Now()
	return &Job{
		ID:        jobID,
		Status:    StatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// TransitionTo attempts to change the job status to the specified state.
// Returns ErrInvalidTransition if the transition is not allowed.
func (j *Job) TransitionTo(status Status) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.transitionLocked(status)
}

func (j *Job) transitionLocked(status Status) error {
	if !canTransition(j.Status, status) {
		return ErrInvalidTransition
	}

	j.Status = status
	j.UpdatedAt = time.Now()

	switch status {
	case StatusSubmitted:
		j.SubmittedAt = j.UpdatedAt
	case StatusSucceeded, StatusFailed, StatusTimedOut, StatusCancelled:
		j.CompletedAt = j.UpdatedAt
	}
	return nil
}

// MarkSubmitted records the vendor handle and moves the job to SUBMITTED.
func (j *Job) MarkSubmitted(taskID, statusURL string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.transitionLocked(StatusSubmitted); err != nil {
		return err
	}
	j.TaskID = taskID
	j.StatusURL = statusURL
	return nil
}

// StartPolling transitions the job from SUBMITTED to POLLING.
func (j *Job) StartPolling() error {
	return j.TransitionTo(StatusPolling)
}

// Outcome is the successful result of a job.
type Outcome struct {
	ResultURL       string
	ArchiveRef      string
	MediaID         string
	Cost            *float64
	Width           int
	Height          int
	DurationSeconds float64
	Attempts        int
}

// Succeed records the outcome and transitions the job to SUCCEEDED.
func (j *Job) Succeed(o Outcome) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.transitionLocked(StatusSucceeded); err != nil {
		return err
	}
	j.ResultURL = o.ResultURL
	j.ArchiveRef = o.ArchiveRef
	j.MediaID = o.MediaID
	j.Cost = o.Cost
	j.ResolvedWidth = o.Width
	j.ResolvedHeight = o.Height
	j.ResolvedDuration = o.DurationSeconds
	j.Attempts = o.Attempts
	j.Progress = 100
	return nil
}

// Fail transitions the job to FAILED state with an error code and message.
func (j *Job) Fail(code, errMsg string) error {
	return j.end(StatusFailed, code, errMsg)
}

// Timeout transitions the job to TIMED_OUT state.
func (j *Job) Timeout(errMsg string) error {
	return j.end(StatusTimedOut, CodeTimeout, errMsg)
}

// Cancel transitions the job to CANCELLED state.
func (j *Job) Cancel() error {
	return j.end(StatusCancelled, CodeCancelled, "job cancelled")
}

func (j *Job) end(status Status, code, errMsg string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.transitionLocked(status); err != nil {
		return err
	}
	j.ErrorCode = code
	j.Error = errMsg
	return nil
}

// GetStatus returns the current job status (thread-safe).
func (j *Job) GetStatus() Status {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.Status
}

// UpdateProgress sets the progress percentage (0-100). Progress never moves
// backwards.
func (j *Job) UpdateProgress(progress int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if progress > 100 {
		progress = 100
	}
	if progress <= j.Progress {
		return
	}
	j.Progress = progress
	j.UpdatedAt = time.Now()
}

// SetAttempts records the number of status polls performed so far.
func (j *Job) SetAttempts(n int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Attempts = n
}

// ClearMedia forgets the catalog record and archived copy.
// This is used when the media is deleted.
func (j *Job) ClearMedia() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.MediaID = ""
	j.ArchiveRef = ""
	j.UpdatedAt = time.Now()
}

// IsTerminal returns true if the job is in a terminal state.
func (j *Job) IsTerminal() bool {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return isTerminal(j.Status)
}

func isTerminal(s Status) bool {
	return s == StatusSucceeded ||
		s == StatusFailed ||
		s == StatusTimedOut ||
		s == StatusCancelled
}

// Clone creates a deep copy of the job for safe reads.
func (j *Job) Clone() *Job {
	j.mu.RLock()
	defer j.mu.RUnlock()

	var cost *float64
	if j.Cost != nil {
		c := *j.Cost
		cost = &c
	}

	return &Job{
		ID:               j.ID,
		Model:            j.Model,
		Kind:             j.Kind,
		Prompt:           j.Prompt,
		Width:            j.Width,
		Height:           j.Height,
		DurationSeconds:  j.DurationSeconds,
		ReferenceImages:  j.ReferenceImages,
		Status:           j.Status,
		Progress:         j.Progress,
		Error:            j.Error,
		ErrorCode:        j.ErrorCode,
		TaskID:           j.TaskID,
		StatusURL:        j.StatusURL,
		Attempts:         j.Attempts,
		ResultURL:        j.ResultURL,
		ArchiveRef:       j.ArchiveRef,
		MediaID:          j.MediaID,
		Cost:             cost,
		ResolvedWidth:    j.ResolvedWidth,
		ResolvedHeight:   j.ResolvedHeight,
		ResolvedDuration: j.ResolvedDuration,
		CreatedAt:        j.CreatedAt,
		UpdatedAt:        j.UpdatedAt,
		SubmittedAt:      j.SubmittedAt,
		CompletedAt:      j.CompletedAt,
	}
}
