package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storyforge/api/internal/model"
)

func newPendingJob(id, taskID string) *model.Job {
	return &model.Job{
		ID:        id,
		TaskID:    taskID,
		Type:      model.JobTypeImageGeneration,
		Status:    model.JobStatusPending,
		CreatedAt: time.Now().UTC(),
	}
}

func TestMemoryCreateAndGet(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	job := newPendingJob("j1", "t1")
	require.NoError(t, m.Create(ctx, job))

	got, err := m.Get(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusPending, got.Status)

	assert.ErrorIs(t, m.Create(ctx, job), ErrAlreadyExists)

	_, err = m.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryClaimRace(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.Create(ctx, newPendingJob("j1", "t1")))

	s1, _ := m.Session(ctx)
	s2, _ := m.Session(ctx)
	defer s1.Close()
	defer s2.Close()

	// Exactly one claimant transitions the job to processing.
	job, err := s1.Claim(ctx, "j1", "t1")
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusProcessing, job.Status)

	_, err = s2.Claim(ctx, "j1", "t2")
	assert.ErrorIs(t, err, ErrAlreadyClaimed)

	// The claim holder may re-claim for a retry attempt.
	_, err = s1.Claim(ctx, "j1", "t1")
	assert.NoError(t, err)
}

func TestMemoryCompleteClearsError(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.Create(ctx, newPendingJob("j1", "t1")))

	sess, _ := m.Session(ctx)
	defer sess.Close()
	_, err := sess.Claim(ctx, "j1", "t1")
	require.NoError(t, err)

	artifact := &model.Artifact{ID: "a1", JobID: "j1", Kind: model.ArtifactKindImage, URL: "https://example.com/a1.png"}
	require.NoError(t, sess.Complete(ctx, "j1", artifact))

	job, err := m.Get(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCompleted, job.Status)
	assert.Equal(t, 100, job.Progress)
	assert.NotNil(t, job.Result)
	assert.Nil(t, job.Error)
	assert.NotNil(t, job.CompletedAt)
}

func TestMemoryFailClearsResult(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.Create(ctx, newPendingJob("j1", "t1")))

	sess, _ := m.Session(ctx)
	defer sess.Close()
	_, err := sess.Claim(ctx, "j1", "t1")
	require.NoError(t, err)

	require.NoError(t, sess.Fail(ctx, "j1", &model.JobError{Kind: model.ErrKindPermanent, Message: "bad input"}))

	job, err := m.Get(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusFailed, job.Status)
	assert.Nil(t, job.Result)
	require.NotNil(t, job.Error)
	assert.Equal(t, model.ErrKindPermanent, job.Error.Kind)
}

func TestMemoryTerminalIsFinal(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.Create(ctx, newPendingJob("j1", "t1")))

	sess, _ := m.Session(ctx)
	defer sess.Close()
	_, err := sess.Claim(ctx, "j1", "t1")
	require.NoError(t, err)
	require.NoError(t, sess.Complete(ctx, "j1", &model.Artifact{ID: "a1"}))

	assert.ErrorIs(t, sess.Fail(ctx, "j1", &model.JobError{Kind: model.ErrKindTimeout}), ErrInvalidTransition)
	assert.ErrorIs(t, sess.Complete(ctx, "j1", &model.Artifact{ID: "a2"}), ErrInvalidTransition)
	_, err = sess.Claim(ctx, "j1", "t1")
	assert.ErrorIs(t, err, ErrAlreadyClaimed)
}

func TestMemoryUpdateProgressRequiresProcessing(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.Create(ctx, newPendingJob("j1", "t1")))

	sess, _ := m.Session(ctx)
	defer sess.Close()

	assert.ErrorIs(t, sess.UpdateProgress(ctx, "j1", 10, "starting"), ErrInvalidTransition)

	_, err := sess.Claim(ctx, "j1", "t1")
	require.NoError(t, err)
	require.NoError(t, sess.UpdateProgress(ctx, "j1", 40, "halfway"))

	// A lower progress value never rolls the snapshot back.
	require.NoError(t, sess.UpdateProgress(ctx, "j1", 10, "late report"))
	job, err := m.Get(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, 40, job.Progress)
}

func TestMemoryIncrementAttempt(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.Create(ctx, newPendingJob("j1", "t1")))

	sess, _ := m.Session(ctx)
	defer sess.Close()

	n, err := sess.IncrementAttempt(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = sess.IncrementAttempt(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}
