package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/hibiken/asynq"

	"github.com/storyforge/api/internal/bridge"
	"github.com/storyforge/api/internal/config"
	"github.com/storyforge/api/internal/model"
	"github.com/storyforge/api/internal/store"
	"github.com/storyforge/api/internal/task"
)

// TaskPayload is the queued execution request. The task id is fixed at
// submission and survives across retry attempts.
type TaskPayload struct {
	JobID  string `json:"jobId"`
	TaskID string `json:"taskId"`
}

// TaskType returns the asynq task type name for a job type.
func TaskType(t model.JobType) string {
	return "job:" + string(t)
}

// QueueFor returns the queue a job type is dispatched on.
func QueueFor(t model.JobType) string {
	switch t {
	case model.JobTypeImageGeneration:
		return "image"
	default:
		return "audio"
	}
}

// Queues maps queue names to their relative processing weights.
func Queues() map[string]int {
	return map[string]int{
		"image": 6,
		"audio": 4,
	}
}

// Runtime executes queued jobs: it claims a job, runs the matching
// executor under the soft time limit, and finalizes the durable state
// on every exit path. The hard limit is enforced by asynq through the
// task context deadline; the margin between soft and hard leaves room
// to persist the timeout before the attempt is killed.
type Runtime struct {
	store    store.Store
	bridge   *bridge.Bridge
	registry *task.Registry
	cfg      config.WorkerConfig
}

// NewRuntime creates a worker runtime. The execution mode is resolved
// once per process and logged for auditability.
func NewRuntime(st store.Store, br *bridge.Bridge, registry *task.Registry, cfg config.WorkerConfig) *Runtime {
	mode := "real"
	if cfg.Simulate {
		mode = "simulated"
	}
	log.Printf("Worker runtime starting in %s mode (soft=%ds hard=%ds maxAttempts=%d)",
		mode, cfg.SoftTimeoutSec, cfg.HardTimeoutSec, cfg.MaxRetry)
	return &Runtime{store: st, bridge: br, registry: registry, cfg: cfg}
}

// Register installs the runtime's handler for every registered job type.
func (r *Runtime) Register(mux *asynq.ServeMux) {
	for _, t := range r.registry.Types() {
		mux.HandleFunc(TaskType(t), r.ProcessTask)
	}
}

// RetryDelay implements exponential backoff: the base delay doubles
// per attempt, capped at five minutes.
func (r *Runtime) RetryDelay(n int, _ error, _ *asynq.Task) time.Duration {
	base := time.Duration(r.cfg.BackoffBaseSec) * time.Second
	if base <= 0 {
		base = 5 * time.Second
	}
	delay := base
	for i := 1; i < n; i++ {
		delay *= 2
		if delay >= 5*time.Minute {
			return 5 * time.Minute
		}
	}
	return delay
}

type outcome struct {
	artifact *model.Artifact
	err      error
}

// ProcessTask handles one execution attempt of a queued job.
func (r *Runtime) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload TaskPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal task payload: %v: %w", err, asynq.SkipRetry)
	}
	jobID, taskID := payload.JobID, payload.TaskID

	// One scoped session per attempt, released on every exit path.
	sess, err := r.store.Session(ctx)
	if err != nil {
		log.Printf("job=%s task=%s failed to acquire session: %v", jobID, taskID, err)
		return err
	}
	defer sess.Close()

	job, err := sess.Claim(ctx, jobID, taskID)
	if err != nil {
		if errors.Is(err, store.ErrAlreadyClaimed) {
			log.Printf("job=%s task=%s already claimed by another worker, skipping", jobID, taskID)
			return nil
		}
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("job=%s not found: %w", jobID, asynq.SkipRetry)
		}
		return err
	}

	executor, ok := r.registry.For(job.Type)
	if !ok {
		jobErr := &model.JobError{
			Kind:     model.ErrKindPermanent,
			Message:  fmt.Sprintf("no executor for job type %q", job.Type),
			Attempts: job.AttemptCount,
		}
		return r.finalizeFailure(ctx, sess, jobID, taskID, jobErr)
	}

	attempt, err := sess.IncrementAttempt(ctx, jobID)
	if err != nil {
		log.Printf("job=%s task=%s failed to record attempt: %v", jobID, taskID, err)
		return err
	}
	log.Printf("job=%s task=%s starting attempt %d/%d", jobID, taskID, attempt, r.cfg.MaxRetry)

	sink := r.bridge.Sink(sess, jobID, taskID)

	// The parent ctx carries the hard deadline (set at enqueue). The
	// executor runs under the soft deadline; the gap between the two is
	// reserved for persisting the timeout.
	softCtx, cancel := context.WithTimeout(ctx, time.Duration(r.cfg.SoftTimeoutSec)*time.Second)
	defer cancel()

	done := make(chan outcome, 1)
	go func() {
		artifact, execErr := executor.Execute(softCtx, job, sink)
		done <- outcome{artifact: artifact, err: execErr}
	}()

	select {
	case out := <-done:
		return r.finalize(ctx, sess, jobID, taskID, attempt, out)
	case <-softCtx.Done():
		// Only a genuine soft-deadline expiry is a terminal timeout.
		// Parent cancellation means the worker is shutting down; the
		// attempt is handed back to the broker for re-delivery and the
		// job stays in processing.
		if errors.Is(softCtx.Err(), context.Canceled) {
			log.Printf("job=%s task=%s attempt %d interrupted by shutdown, releasing for re-delivery", jobID, taskID, attempt)
			return ctx.Err()
		}
		return r.finalizeTimeout(sess, jobID, taskID, attempt)
	}
}

// finalize persists the terminal (or retrying) state for a finished attempt.
func (r *Runtime) finalize(ctx context.Context, sess store.Session, jobID, taskID string, attempt int, out outcome) error {
	if out.err == nil {
		if err := sess.Complete(ctx, jobID, out.artifact); err != nil {
			// Finalization persistence failure is attempt-fatal and retried.
			log.Printf("job=%s task=%s failed to persist result: %v", jobID, taskID, err)
			return r.retryOrFail(ctx, sess, jobID, taskID, attempt,
				model.NewTaskError(model.ErrKindPersistence, "finalize", err))
		}
		r.bridge.Announce(ctx, model.ProgressEvent{
			TaskID:   taskID,
			Status:   model.JobStatusCompleted,
			Progress: 100,
			Message:  "Completed",
		})
		log.Printf("job=%s task=%s completed", jobID, taskID)
		return nil
	}

	taskErr := asTaskError(out.err)
	if taskErr.Kind == model.ErrKindTimeout {
		return r.finalizeTimeout(sess, jobID, taskID, attempt)
	}
	if taskErr.Retryable() {
		return r.retryOrFail(ctx, sess, jobID, taskID, attempt, taskErr)
	}

	// Permanent errors short-circuit to failed with no retry.
	jobErr := &model.JobError{
		Kind:     taskErr.Kind,
		Stage:    taskErr.Stage,
		Message:  taskErr.Message,
		Attempts: attempt,
	}
	return r.finalizeFailure(ctx, sess, jobID, taskID, jobErr)
}

// retryOrFail re-enqueues a retryable failure while attempts remain,
// converting it to terminal failed once they are exhausted.
func (r *Runtime) retryOrFail(ctx context.Context, sess store.Session, jobID, taskID string, attempt int, taskErr *model.TaskError) error {
	if attempt < r.cfg.MaxRetry {
		log.Printf("job=%s task=%s attempt %d failed (%s), retrying: %v",
			jobID, taskID, attempt, taskErr.Kind, taskErr)
		// Returning the error hands the task back to asynq, which
		// re-enqueues it with exponential backoff. The job stays in
		// processing for the next attempt.
		return taskErr
	}

	jobErr := &model.JobError{
		Kind:     taskErr.Kind,
		Stage:    taskErr.Stage,
		Message:  taskErr.Message,
		Attempts: attempt,
	}
	return r.finalizeFailure(ctx, sess, jobID, taskID, jobErr)
}

// finalizeTimeout persists failed(timeout) synchronously before the
// hard limit can fire. It deliberately uses a fresh context bounded by
// the soft/hard margin so the write is not cut short by the dying
// attempt context.
func (r *Runtime) finalizeTimeout(sess store.Session, jobID, taskID string, attempt int) error {
	margin := time.Duration(r.cfg.HardTimeoutSec-r.cfg.SoftTimeoutSec) * time.Second
	if margin <= 0 {
		margin = 10 * time.Second
	}
	writeCtx, cancel := context.WithTimeout(context.Background(), margin)
	defer cancel()

	jobErr := &model.JobError{
		Kind:     model.ErrKindTimeout,
		Message:  fmt.Sprintf("execution exceeded soft limit of %ds", r.cfg.SoftTimeoutSec),
		Attempts: attempt,
	}
	return r.finalizeFailure(writeCtx, sess, jobID, taskID, jobErr)
}

// finalizeFailure persists the terminal failed state, then emits the
// terminal event. The durable write always precedes the publish.
func (r *Runtime) finalizeFailure(ctx context.Context, sess store.Session, jobID, taskID string, jobErr *model.JobError) error {
	if err := sess.Fail(ctx, jobID, jobErr); err != nil {
		log.Printf("job=%s task=%s failed to persist failure: %v", jobID, taskID, err)
		return err
	}
	job, err := r.store.Get(ctx, jobID)
	progress := 0
	if err == nil {
		progress = job.Progress
	}
	r.bridge.Announce(ctx, model.ProgressEvent{
		TaskID:   taskID,
		Status:   model.JobStatusFailed,
		Progress: progress,
		Message:  jobErr.Message,
	})
	log.Printf("job=%s task=%s failed terminally: %s", jobID, taskID, jobErr.Kind)
	return fmt.Errorf("%s: %w", jobErr.Message, asynq.SkipRetry)
}

// asTaskError normalizes any executor error into a TaskError.
func asTaskError(err error) *model.TaskError {
	var taskErr *model.TaskError
	if errors.As(err, &taskErr) {
		return taskErr
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return model.NewTaskError(model.ErrKindTimeout, "", err)
	}
	return model.NewTaskError(model.ErrKindTransient, "", err)
}
