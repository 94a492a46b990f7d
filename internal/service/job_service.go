package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/storyforge/api/internal/bridge"
	"github.com/storyforge/api/internal/config"
	"github.com/storyforge/api/internal/model"
	"github.com/storyforge/api/internal/store"
	"github.com/storyforge/api/internal/worker"
)

var (
	// ErrInvalidParams rejects a submission before any job exists.
	ErrInvalidParams = errors.New("invalid parameters")

	// ErrJobNotFound mirrors the store sentinel for the read path.
	ErrJobNotFound = store.ErrNotFound

	// ErrNotCompleted guards the result read.
	ErrNotCompleted = errors.New("job not completed")
)

// Enqueuer is the queue client surface the dispatcher needs.
// *asynq.Client satisfies it.
type Enqueuer interface {
	Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// JobService is the dispatcher and read path: it validates submissions,
// creates the durable record and enqueues exactly one execution request
// per submission.
type JobService struct {
	store    store.Store
	bridge   *bridge.Bridge
	queue    Enqueuer
	validate *validator.Validate
	cfg      config.WorkerConfig
}

func NewJobService(st store.Store, br *bridge.Bridge, queue Enqueuer, validate *validator.Validate, cfg config.WorkerConfig) *JobService {
	return &JobService{
		store:    st,
		bridge:   br,
		queue:    queue,
		validate: validate,
		cfg:      cfg,
	}
}

// Submit validates parameters, creates the pending job record and
// enqueues it. Record creation is a precondition of the enqueue; an
// enqueue failure rolls the record back so no orphan survives.
func (s *JobService) Submit(ctx context.Context, req *model.SubmitJobRequest) (*model.SubmitJobResponse, error) {
	params, err := s.validateParams(req)
	if err != nil {
		return nil, err
	}

	jobID := uuid.New().String()
	taskID := uuid.New().String()

	job := &model.Job{
		ID:        jobID,
		TaskID:    taskID,
		Type:      req.Type,
		Status:    model.JobStatusPending,
		Params:    params,
		CreatedAt: time.Now().UTC(),
	}

	if err := s.store.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to save job: %w", err)
	}

	payload, err := json.Marshal(worker.TaskPayload{JobID: jobID, TaskID: taskID})
	if err != nil {
		_ = s.store.Delete(ctx, jobID)
		return nil, fmt.Errorf("failed to marshal task payload: %w", err)
	}

	t := asynq.NewTask(worker.TaskType(req.Type), payload)
	_, err = s.queue.Enqueue(t,
		asynq.Queue(worker.QueueFor(req.Type)),
		asynq.MaxRetry(s.cfg.MaxRetry),
		asynq.Timeout(time.Duration(s.cfg.HardTimeoutSec)*time.Second),
		asynq.Retention(7*24*time.Hour),
	)
	if err != nil {
		_ = s.store.Delete(ctx, jobID)
		return nil, fmt.Errorf("failed to enqueue task: %w", err)
	}

	return &model.SubmitJobResponse{
		JobID:  jobID,
		TaskID: taskID,
		Status: model.JobStatusPending,
	}, nil
}

// GetStatus returns the last known durable state of a job.
func (s *JobService) GetStatus(ctx context.Context, jobID string) (*model.JobStatusResponse, error) {
	job, err := s.bridge.Snapshot(ctx, jobID)
	if err != nil {
		return nil, err
	}

	return &model.JobStatusResponse{
		JobID:    job.ID,
		Status:   job.Status,
		Progress: job.Progress,
		Message:  job.Message,
		Result:   job.Result,
		Error:    job.Error,
	}, nil
}

// GetResult returns the artifact of a completed job.
func (s *JobService) GetResult(ctx context.Context, jobID string) (*model.Artifact, error) {
	job, err := s.bridge.Snapshot(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != model.JobStatusCompleted {
		return nil, ErrNotCompleted
	}
	return job.Result, nil
}

// validateParams checks the request structurally and per variant,
// returning the serialized immutable parameter payload.
func (s *JobService) validateParams(req *model.SubmitJobRequest) (json.RawMessage, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}

	switch req.Type {
	case model.JobTypeImageGeneration:
		if req.Image == nil {
			return nil, fmt.Errorf("%w: image parameters required", ErrInvalidParams)
		}
		if strings.TrimSpace(req.Image.Prompt) == "" {
			return nil, fmt.Errorf("%w: prompt must not be empty", ErrInvalidParams)
		}
		if err := s.validate.Struct(req.Image); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidParams, err)
		}
		return json.Marshal(req.Image)

	case model.JobTypeAudioRegeneration:
		if req.Audio == nil {
			return nil, fmt.Errorf("%w: audio parameters required", ErrInvalidParams)
		}
		if strings.TrimSpace(req.Audio.Script) == "" {
			return nil, fmt.Errorf("%w: script must not be empty", ErrInvalidParams)
		}
		if err := s.validate.Struct(req.Audio); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidParams, err)
		}
		return json.Marshal(req.Audio)

	default:
		return nil, fmt.Errorf("%w: unknown job type %q", ErrInvalidParams, req.Type)
	}
}
