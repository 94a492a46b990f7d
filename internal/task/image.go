package task

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/storyforge/api/internal/bridge"
	"github.com/storyforge/api/internal/client"
	"github.com/storyforge/api/internal/model"
)

// ImageExecutor renders an illustration from a prompt, stores it and
// returns a signed download reference.
type ImageExecutor struct {
	ai         client.AICapability
	storage    client.StorageClient
	simulate   bool
	httpClient *http.Client
}

// NewImageExecutor creates the image generation executor. With
// simulate set, external capabilities are never called.
func NewImageExecutor(ai client.AICapability, storage client.StorageClient, simulate bool) *ImageExecutor {
	return &ImageExecutor{
		ai:       ai,
		storage:  storage,
		simulate: simulate,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

func (e *ImageExecutor) Type() model.JobType {
	return model.JobTypeImageGeneration
}

// Execute runs the generation pipeline: render via the AI capability,
// download the provider-hosted result, upload it to storage, sign it.
func (e *ImageExecutor) Execute(ctx context.Context, job *model.Job, sink bridge.ProgressSink) (*model.Artifact, error) {
	var params model.ImageParams
	if err := json.Unmarshal(job.Params, &params); err != nil {
		return nil, model.NewTaskError(model.ErrKindPermanent, "decode", err)
	}

	sink.Report(ctx, 0, "Starting image generation...")

	if e.simulate {
		return e.executeSimulated(ctx, job, &params, sink)
	}

	sink.Report(ctx, 25, "Generating image...")
	srcURL, err := e.ai.GenerateImage(ctx, params.Prompt, params.Style, params.Size)
	if err != nil {
		return nil, model.NewTaskError(client.Classify(err), "generate", err)
	}

	sink.Report(ctx, 60, "Downloading image...")
	data, err := e.download(ctx, srcURL)
	if err != nil {
		return nil, model.NewTaskError(client.Classify(err), "download", err)
	}

	sink.Report(ctx, 75, "Uploading image...")
	artifactID := uuid.New().String()
	key := fmt.Sprintf("images/%s/%s.png", job.ID, artifactID)
	if _, err := e.storage.Upload(ctx, key, bytes.NewReader(data), "image/png"); err != nil {
		return nil, model.NewTaskError(model.ErrKindPersistence, "upload", err)
	}

	signedURL, err := e.storage.GetSignedURL(ctx, key, client.SignedURLTTL)
	if err != nil {
		return nil, model.NewTaskError(model.ErrKindPersistence, "sign", err)
	}

	sink.Report(ctx, 100, "Image ready")
	return &model.Artifact{
		ID:        artifactID,
		JobID:     job.ID,
		Kind:      model.ArtifactKindImage,
		URL:       signedURL,
		Format:    "png",
		ExpiresAt: time.Now().Add(client.SignedURLTTL),
	}, nil
}

func (e *ImageExecutor) executeSimulated(ctx context.Context, job *model.Job, params *model.ImageParams, sink bridge.ProgressSink) (*model.Artifact, error) {
	steps := []struct {
		progress int
		step     string
	}{
		{25, "Generating image..."},
		{75, "Uploading image..."},
	}

	for _, step := range steps {
		if err := simWait(ctx); err != nil {
			return nil, model.NewTaskError(model.ErrKindTimeout, "simulate", err)
		}
		sink.Report(ctx, step.progress, step.step)
	}

	sink.Report(ctx, 100, "Image ready")
	artifactID := uuid.New().String()
	return &model.Artifact{
		ID:        artifactID,
		JobID:     job.ID,
		Kind:      model.ArtifactKindImage,
		URL:       fmt.Sprintf("https://cdn.storyforge.dev/simulated/images/%s.png", job.ID),
		Format:    "png",
		ExpiresAt: time.Now().Add(client.SignedURLTTL),
	}, nil
}

func (e *ImageExecutor) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &client.StatusError{StatusCode: resp.StatusCode, Body: "image download failed"}
	}

	return io.ReadAll(resp.Body)
}
