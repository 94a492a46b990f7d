package bridge

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/storyforge/api/internal/model"
	"github.com/storyforge/api/internal/store"
)

// Publisher delivers an ephemeral event to the per-task topic.
// Delivery is at-most-once and best-effort: no acknowledgment, no
// persisted event log.
type Publisher interface {
	Publish(ctx context.Context, ev model.ProgressEvent)
}

// ProgressSink is what executors report progress through. The executor
// has no knowledge of how progress reaches clients.
type ProgressSink interface {
	Report(ctx context.Context, progress int, message string)
}

// TopicFor returns the pub/sub channel name for a task.
func TopicFor(taskID string) string {
	return "task:" + taskID
}

// RedisPublisher publishes events on Redis pub/sub channels keyed by
// task id.
type RedisPublisher struct {
	client *redis.Client
}

func NewRedisPublisher(client *redis.Client) *RedisPublisher {
	return &RedisPublisher{client: client}
}

func (p *RedisPublisher) Publish(ctx context.Context, ev model.ProgressEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		log.Printf("Failed to marshal progress event: %v", err)
		return
	}
	// Fire-and-forget; a missed live event is recoverable from the snapshot.
	if err := p.client.Publish(ctx, TopicFor(ev.TaskID), data).Err(); err != nil {
		log.Printf("Failed to publish progress event for task %s: %v", ev.TaskID, err)
	}
}

// Bridge couples durable snapshot writes with ephemeral publishes.
// The snapshot is always written before the matching live event goes
// out, so a polling client never reads staler information than a
// subscribed one.
type Bridge struct {
	store store.Store
	pub   Publisher
}

func New(st store.Store, pub Publisher) *Bridge {
	return &Bridge{store: st, pub: pub}
}

// Snapshot reads the durable last-known state for a job.
func (b *Bridge) Snapshot(ctx context.Context, jobID string) (*model.Job, error) {
	return b.store.Get(ctx, jobID)
}

// Announce publishes an event whose snapshot the caller has already
// persisted (terminal transitions are persisted by the worker runtime).
func (b *Bridge) Announce(ctx context.Context, ev model.ProgressEvent) {
	b.pub.Publish(ctx, ev)
}

// Sink builds the progress sink for one execution attempt, bound to
// that attempt's store session.
func (b *Bridge) Sink(sess store.Session, jobID, taskID string) *Sink {
	return &Sink{sess: sess, pub: b.pub, jobID: jobID, taskID: taskID}
}

// Sink clamps progress monotonically non-decreasing within one attempt
// and writes the durable snapshot before publishing the live event.
// Reporting failures never fail the attempt.
type Sink struct {
	sess   store.Session
	pub    Publisher
	jobID  string
	taskID string

	mu   sync.Mutex
	last int
}

func (s *Sink) Report(ctx context.Context, progress int, message string) {
	s.mu.Lock()
	if progress < s.last {
		progress = s.last
	}
	s.last = progress
	s.mu.Unlock()

	if progress > 100 {
		progress = 100
	}

	if err := s.sess.UpdateProgress(ctx, s.jobID, progress, message); err != nil {
		log.Printf("Failed to update progress snapshot for job %s: %v", s.jobID, err)
	}
	s.pub.Publish(ctx, model.ProgressEvent{
		TaskID:   s.taskID,
		Status:   model.JobStatusProcessing,
		Progress: progress,
		Message:  message,
	})
}
