package task

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storyforge/api/internal/client"
	"github.com/storyforge/api/internal/model"
)

func imageJob(t *testing.T, params model.ImageParams) *model.Job {
	t.Helper()
	raw, err := json.Marshal(params)
	require.NoError(t, err)
	return &model.Job{
		ID:     "job-img-1",
		TaskID: "task-img-1",
		Type:   model.JobTypeImageGeneration,
		Status: model.JobStatusProcessing,
		Params: raw,
	}
}

func TestImageExecutorSimulated(t *testing.T) {
	exec := NewImageExecutor(nil, nil, true)
	sink := &recordSink{}
	job := imageJob(t, model.ImageParams{Prompt: "a fox in a forest", Style: model.StyleWatercolor, Size: "1024x1024"})

	artifact, err := exec.Execute(context.Background(), job, sink)
	require.NoError(t, err)
	require.NotNil(t, artifact)

	assert.Equal(t, model.ArtifactKindImage, artifact.Kind)
	assert.Contains(t, artifact.URL, job.ID)
	assert.Equal(t, "png", artifact.Format)

	// Progress never decreases and finishes at 100.
	for i := 1; i < len(sink.progress); i++ {
		assert.GreaterOrEqual(t, sink.progress[i], sink.progress[i-1])
	}
	require.NotEmpty(t, sink.progress)
	assert.Equal(t, 100, sink.progress[len(sink.progress)-1])
}

func TestImageExecutorRealPipeline(t *testing.T) {
	// Fake provider-hosted image the executor downloads.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("png-bytes"))
	}))
	defer srv.Close()

	ai := &stubAI{imageURL: srv.URL + "/generated.png"}
	storage := &stubStorage{}
	exec := NewImageExecutor(ai, storage, false)
	sink := &recordSink{}
	job := imageJob(t, model.ImageParams{Prompt: "a fox in a forest", Style: model.StyleAnime, Size: "1024x1024"})

	artifact, err := exec.Execute(context.Background(), job, sink)
	require.NoError(t, err)
	require.NotNil(t, artifact)

	assert.Equal(t, 1, ai.imageCalls)
	require.Len(t, storage.calls, 2)
	assert.True(t, strings.HasPrefix(storage.calls[0], "upload:images/"+job.ID+"/"))
	assert.True(t, strings.HasPrefix(storage.calls[1], "sign:images/"+job.ID+"/"))
	assert.Contains(t, artifact.URL, "signed")
	require.NotEmpty(t, sink.progress)
	assert.Equal(t, 100, sink.progress[len(sink.progress)-1])
}

func TestImageExecutorTransientProviderError(t *testing.T) {
	ai := &stubAI{imageErr: &client.StatusError{StatusCode: 429, Body: "rate limited"}}
	exec := NewImageExecutor(ai, &stubStorage{}, false)
	job := imageJob(t, model.ImageParams{Prompt: "a fox", Style: model.StyleWatercolor, Size: "1024x1024"})

	_, err := exec.Execute(context.Background(), job, &recordSink{})
	require.Error(t, err)

	var taskErr *model.TaskError
	require.ErrorAs(t, err, &taskErr)
	assert.Equal(t, model.ErrKindTransient, taskErr.Kind)
	assert.Equal(t, "generate", taskErr.Stage)
	assert.True(t, taskErr.Retryable())
}

func TestImageExecutorPermanentProviderError(t *testing.T) {
	ai := &stubAI{imageErr: &client.StatusError{StatusCode: 400, Body: "content policy"}}
	exec := NewImageExecutor(ai, &stubStorage{}, false)
	job := imageJob(t, model.ImageParams{Prompt: "a fox", Style: model.StyleWatercolor, Size: "1024x1024"})

	_, err := exec.Execute(context.Background(), job, &recordSink{})
	require.Error(t, err)

	var taskErr *model.TaskError
	require.ErrorAs(t, err, &taskErr)
	assert.Equal(t, model.ErrKindPermanent, taskErr.Kind)
	assert.False(t, taskErr.Retryable())
}

func TestImageExecutorMalformedParams(t *testing.T) {
	exec := NewImageExecutor(nil, nil, false)
	job := &model.Job{
		ID:     "job-img-bad",
		Type:   model.JobTypeImageGeneration,
		Status: model.JobStatusProcessing,
		Params: json.RawMessage(`{"prompt":`),
	}

	_, err := exec.Execute(context.Background(), job, &recordSink{})
	require.Error(t, err)

	var taskErr *model.TaskError
	require.ErrorAs(t, err, &taskErr)
	assert.Equal(t, model.ErrKindPermanent, taskErr.Kind)
	assert.Equal(t, "decode", taskErr.Stage)
}

func TestRegistryDispatch(t *testing.T) {
	reg := NewRegistry(
		NewImageExecutor(nil, nil, true),
		NewAudioRegenExecutor(nil, nil, nil, true),
	)

	img, ok := reg.For(model.JobTypeImageGeneration)
	require.True(t, ok)
	assert.Equal(t, model.JobTypeImageGeneration, img.Type())

	audio, ok := reg.For(model.JobTypeAudioRegeneration)
	require.True(t, ok)
	assert.Equal(t, model.JobTypeAudioRegeneration, audio.Type())

	_, ok = reg.For(model.JobType("unknown"))
	assert.False(t, ok)

	assert.Len(t, reg.Types(), 2)
}
