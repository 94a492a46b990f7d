package bridge

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storyforge/api/internal/model"
	"github.com/storyforge/api/internal/store"
)

// recordingPublisher captures events together with the durable
// progress observed at publish time, to verify snapshot-first ordering.
type recordingPublisher struct {
	store  store.Store
	jobID  string
	events []model.ProgressEvent
	stored []int
}

func (p *recordingPublisher) Publish(ctx context.Context, ev model.ProgressEvent) {
	p.events = append(p.events, ev)
	if job, err := p.store.Get(ctx, p.jobID); err == nil {
		p.stored = append(p.stored, job.Progress)
	} else {
		p.stored = append(p.stored, -1)
	}
}

func setupJob(t *testing.T) (*store.Memory, store.Session) {
	t.Helper()
	ctx := context.Background()
	m := store.NewMemory()
	require.NoError(t, m.Create(ctx, &model.Job{
		ID:        "j1",
		TaskID:    "t1",
		Type:      model.JobTypeImageGeneration,
		Status:    model.JobStatusPending,
		CreatedAt: time.Now().UTC(),
	}))
	sess, err := m.Session(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { sess.Close() })
	_, err = sess.Claim(ctx, "j1", "t1")
	require.NoError(t, err)
	return m, sess
}

func TestSinkSnapshotWrittenBeforePublish(t *testing.T) {
	ctx := context.Background()
	m, sess := setupJob(t)
	pub := &recordingPublisher{store: m, jobID: "j1"}
	br := New(m, pub)

	sink := br.Sink(sess, "j1", "t1")
	sink.Report(ctx, 30, "working")
	sink.Report(ctx, 80, "almost done")

	require.Len(t, pub.events, 2)
	// At every publish the durable snapshot already carried the value.
	assert.Equal(t, []int{30, 80}, pub.stored)
}

func TestSinkProgressMonotonic(t *testing.T) {
	ctx := context.Background()
	m, sess := setupJob(t)
	pub := &recordingPublisher{store: m, jobID: "j1"}
	br := New(m, pub)

	sink := br.Sink(sess, "j1", "t1")
	sink.Report(ctx, 50, "a")
	sink.Report(ctx, 20, "b")
	sink.Report(ctx, 75, "c")

	var last int
	for _, ev := range pub.events {
		assert.GreaterOrEqual(t, ev.Progress, last)
		last = ev.Progress
		assert.Equal(t, model.JobStatusProcessing, ev.Status)
		assert.Equal(t, "t1", ev.TaskID)
	}
}

func TestSinkClampsOverflow(t *testing.T) {
	ctx := context.Background()
	m, sess := setupJob(t)
	pub := &recordingPublisher{store: m, jobID: "j1"}
	br := New(m, pub)

	sink := br.Sink(sess, "j1", "t1")
	sink.Report(ctx, 150, "too eager")

	require.Len(t, pub.events, 1)
	assert.Equal(t, 100, pub.events[0].Progress)
}

func TestSnapshotReadsDurableState(t *testing.T) {
	ctx := context.Background()
	m, sess := setupJob(t)
	br := New(m, &recordingPublisher{store: m, jobID: "j1"})

	require.NoError(t, sess.UpdateProgress(ctx, "j1", 55, "mid"))

	job, err := br.Snapshot(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, 55, job.Progress)
	assert.Equal(t, model.JobStatusProcessing, job.Status)
}
