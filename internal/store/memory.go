package store

import (
	"context"
	"sync"
	"time"

	"github.com/storyforge/api/internal/model"
)

// Memory is an in-memory Store with the same claim and transition
// semantics as the Redis store. It backs unit tests and lets the
// server run without Redis in simulate mode.
type Memory struct {
	mu   sync.Mutex
	jobs map[string]*model.Job
}

func NewMemory() *Memory {
	return &Memory{jobs: make(map[string]*model.Job)}
}

func (m *Memory) Create(ctx context.Context, job *model.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[job.ID]; ok {
		return ErrAlreadyExists
	}
	m.jobs[job.ID] = copyJob(job)
	return nil
}

func (m *Memory) Get(ctx context.Context, jobID string) (*model.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return nil, ErrNotFound
	}
	return copyJob(job), nil
}

func (m *Memory) Delete(ctx context.Context, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.jobs, jobID)
	return nil
}

func (m *Memory) Session(ctx context.Context) (Session, error) {
	return &memorySession{store: m}, nil
}

type memorySession struct {
	store *Memory
}

func (s *memorySession) Close() error { return nil }

func (s *memorySession) Claim(ctx context.Context, jobID, taskID string) (*model.Job, error) {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	job, ok := s.store.jobs[jobID]
	if !ok {
		return nil, ErrNotFound
	}
	switch {
	case job.Status == model.JobStatusPending:
		now := time.Now().UTC()
		job.Status = model.JobStatusProcessing
		job.TaskID = taskID
		job.StartedAt = &now
	case job.Status == model.JobStatusProcessing && job.TaskID == taskID:
		// retry attempt by the claim holder
	default:
		return nil, ErrAlreadyClaimed
	}
	return copyJob(job), nil
}

func (s *memorySession) UpdateProgress(ctx context.Context, jobID string, progress int, message string) error {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	job, ok := s.store.jobs[jobID]
	if !ok {
		return ErrNotFound
	}
	if job.Status != model.JobStatusProcessing {
		return ErrInvalidTransition
	}
	if progress > job.Progress {
		job.Progress = progress
	}
	job.Message = message
	return nil
}

func (s *memorySession) IncrementAttempt(ctx context.Context, jobID string) (int, error) {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	job, ok := s.store.jobs[jobID]
	if !ok {
		return 0, ErrNotFound
	}
	job.AttemptCount++
	return job.AttemptCount, nil
}

func (s *memorySession) Complete(ctx context.Context, jobID string, artifact *model.Artifact) error {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	job, ok := s.store.jobs[jobID]
	if !ok {
		return ErrNotFound
	}
	if !job.Status.CanTransition(model.JobStatusCompleted) {
		return ErrInvalidTransition
	}
	now := time.Now().UTC()
	job.Status = model.JobStatusCompleted
	job.Progress = 100
	job.Result = artifact
	job.Error = nil
	job.CompletedAt = &now
	return nil
}

func (s *memorySession) Fail(ctx context.Context, jobID string, jobErr *model.JobError) error {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	job, ok := s.store.jobs[jobID]
	if !ok {
		return ErrNotFound
	}
	if !job.Status.CanTransition(model.JobStatusFailed) {
		return ErrInvalidTransition
	}
	now := time.Now().UTC()
	job.Status = model.JobStatusFailed
	job.Error = jobErr
	job.Result = nil
	job.CompletedAt = &now
	return nil
}

func copyJob(job *model.Job) *model.Job {
	dup := *job
	if job.StartedAt != nil {
		t := *job.StartedAt
		dup.StartedAt = &t
	}
	if job.CompletedAt != nil {
		t := *job.CompletedAt
		dup.CompletedAt = &t
	}
	if job.Result != nil {
		r := *job.Result
		dup.Result = &r
	}
	if job.Error != nil {
		e := *job.Error
		dup.Error = &e
	}
	return &dup
}
