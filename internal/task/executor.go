package task

import (
	"context"
	"time"

	"github.com/storyforge/api/internal/bridge"
	"github.com/storyforge/api/internal/model"
)

// Executor is one variant of background work: a function from job
// parameters to a result artifact, reporting progress through the
// sink. Failures are surfaced as *model.TaskError with the failing
// stage identified.
type Executor interface {
	Type() model.JobType
	Execute(ctx context.Context, job *model.Job, sink bridge.ProgressSink) (*model.Artifact, error)
}

// Registry dispatches executors by the job's type tag.
type Registry struct {
	executors map[model.JobType]Executor
}

func NewRegistry(executors ...Executor) *Registry {
	r := &Registry{executors: make(map[model.JobType]Executor)}
	for _, e := range executors {
		r.executors[e.Type()] = e
	}
	return r
}

// For returns the executor registered for a job type.
func (r *Registry) For(t model.JobType) (Executor, bool) {
	e, ok := r.executors[t]
	return e, ok
}

// Types lists all registered job types.
func (r *Registry) Types() []model.JobType {
	types := make([]model.JobType, 0, len(r.executors))
	for t := range r.executors {
		types = append(types, t)
	}
	return types
}

// simStepDelay bounds the artificial delay per simulated pipeline step.
var simStepDelay = 500 * time.Millisecond

// simWait sleeps one simulated step, honoring cancellation.
func simWait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(simStepDelay):
		return nil
	}
}
