package model

import "fmt"

// Error kinds for failed jobs
type ErrorKind string

const (
	ErrKindValidation  ErrorKind = "validation"
	ErrKindTransient   ErrorKind = "transient-external"
	ErrKindPermanent   ErrorKind = "permanent-external"
	ErrKindTimeout     ErrorKind = "timeout"
	ErrKindPersistence ErrorKind = "persistence"
)

// TaskError is the structured failure an executor or the worker runtime
// produces for one execution attempt. Stage identifies the pipeline step
// that failed (e.g. "synthesize", "remux", "upload").
type TaskError struct {
	Kind    ErrorKind
	Stage   string
	Message string
	Err     error
}

func (e *TaskError) Error() string {
	if e.Stage != "" {
		return fmt.Sprintf("%s: %s failed: %s", e.Kind, e.Stage, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *TaskError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the attempt may be re-run. Persistence
// failures are attempt-fatal but retried like transient errors.
func (e *TaskError) Retryable() bool {
	return e.Kind == ErrKindTransient || e.Kind == ErrKindPersistence
}

// NewTaskError builds a TaskError wrapping err.
func NewTaskError(kind ErrorKind, stage string, err error) *TaskError {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return &TaskError{Kind: kind, Stage: stage, Message: msg, Err: err}
}

// JobError is the durable failure detail persisted on a failed job.
type JobError struct {
	Kind     ErrorKind `json:"kind"`
	Stage    string    `json:"stage,omitempty"`
	Message  string    `json:"message"`
	Attempts int       `json:"attempts"`
}
