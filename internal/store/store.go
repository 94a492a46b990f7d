package store

import (
	"context"
	"errors"

	"github.com/storyforge/api/internal/model"
)

var (
	// ErrNotFound is returned when no record exists for a job id.
	ErrNotFound = errors.New("job not found")

	// ErrAlreadyClaimed is returned when another worker holds the job.
	ErrAlreadyClaimed = errors.New("job already claimed")

	// ErrAlreadyExists is returned when creating a duplicate job id.
	ErrAlreadyExists = errors.New("job already exists")

	// ErrInvalidTransition is returned when a write would violate the
	// pending -> processing -> completed|failed order.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Store persists job records. It is the single source of truth for
// job state; only the worker runtime holding the current claim mutates
// a job past pending.
type Store interface {
	// Create persists a new job in pending state. Fails with
	// ErrAlreadyExists if the id is taken.
	Create(ctx context.Context, job *model.Job) error

	// Get reads the durable snapshot for a job.
	Get(ctx context.Context, jobID string) (*model.Job, error)

	// Delete removes a job record. Used only to roll back a submission
	// whose enqueue failed; jobs are otherwise never deleted here.
	Delete(ctx context.Context, jobID string) error

	// Session acquires a scoped session for one execution attempt.
	// The caller must Close it on every exit path.
	Session(ctx context.Context) (Session, error)
}

// Session scopes every store interaction of a single execution attempt
// to one dedicated connection. Sessions are never shared across
// concurrent attempts.
type Session interface {
	// Claim atomically transitions a pending job to processing on
	// behalf of taskID. A job already processing under the same task id
	// is re-claimed (retry attempt); any other state yields
	// ErrAlreadyClaimed.
	Claim(ctx context.Context, jobID, taskID string) (*model.Job, error)

	// UpdateProgress writes the durable progress snapshot of a
	// processing job.
	UpdateProgress(ctx context.Context, jobID string, progress int, message string) error

	// IncrementAttempt bumps the attempt counter and returns the new value.
	IncrementAttempt(ctx context.Context, jobID string) (int, error)

	// Complete transitions the job to completed with its artifact.
	// Result and error are mutually exclusive.
	Complete(ctx context.Context, jobID string, artifact *model.Artifact) error

	// Fail transitions the job to failed with structured error detail.
	Fail(ctx context.Context, jobID string, jobErr *model.JobError) error

	Close() error
}
