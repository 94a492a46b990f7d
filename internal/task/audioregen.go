package task

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/storyforge/api/internal/bridge"
	"github.com/storyforge/api/internal/client"
	"github.com/storyforge/api/internal/model"
)

// AudioRegenExecutor re-narrates an existing video: synthesize speech
// from the script, reprocess the track (volume, speed), stream-copy
// remux it into the video container and return a signed reference.
// The original video stream is never re-encoded.
type AudioRegenExecutor struct {
	ai       client.AICapability
	media    client.MediaProcessor
	storage  client.StorageClient
	simulate bool
}

func NewAudioRegenExecutor(ai client.AICapability, media client.MediaProcessor, storage client.StorageClient, simulate bool) *AudioRegenExecutor {
	return &AudioRegenExecutor{
		ai:       ai,
		media:    media,
		storage:  storage,
		simulate: simulate,
	}
}

func (e *AudioRegenExecutor) Type() model.JobType {
	return model.JobTypeAudioRegeneration
}

// Execute runs the regeneration pipeline. Failure at any stage aborts
// the whole attempt with the stage named in the error.
func (e *AudioRegenExecutor) Execute(ctx context.Context, job *model.Job, sink bridge.ProgressSink) (*model.Artifact, error) {
	var params model.AudioRegenParams
	if err := json.Unmarshal(job.Params, &params); err != nil {
		return nil, model.NewTaskError(model.ErrKindPermanent, "decode", err)
	}

	sink.Report(ctx, 0, "Starting audio regeneration...")

	if e.simulate {
		return e.executeSimulated(ctx, job, &params, sink)
	}

	// Step 1: synthesize narration at neutral speed; speed is applied
	// in the reprocess stage together with volume.
	sink.Report(ctx, 10, "Synthesizing speech...")
	audio, err := e.ai.SynthesizeSpeech(ctx, params.Script, params.Voice, 1.0)
	if err != nil {
		return nil, model.NewTaskError(client.Classify(err), "synthesize", err)
	}

	// Step 2: stage the raw narration where the media service can read it
	sink.Report(ctx, 30, "Staging narration audio...")
	rawKey := fmt.Sprintf("audio/%s/narration.mp3", job.ID)
	rawURL, err := e.storage.Upload(ctx, rawKey, bytes.NewReader(audio), "audio/mpeg")
	if err != nil {
		return nil, model.NewTaskError(model.ErrKindPersistence, "upload", err)
	}

	// Step 3: volume and speed filter
	sink.Report(ctx, 50, "Reprocessing audio...")
	reprocessed, err := e.media.ReprocessAudio(ctx, &client.ReprocessRequest{
		AudioURL:  rawURL,
		Volume:    params.Volume,
		Speed:     params.Speed,
		OutputKey: fmt.Sprintf("audio/%s/processed.mp3", job.ID),
	})
	if err != nil {
		return nil, model.NewTaskError(client.Classify(err), "reprocess", err)
	}

	// Step 4: stream-copy remux into the original container
	sink.Report(ctx, 70, "Remuxing video...")
	artifactID := uuid.New().String()
	outputKey := fmt.Sprintf("videos/%s/%s.mp4", job.ID, artifactID)
	remuxed, err := e.media.Remux(ctx, &client.RemuxRequest{
		VideoURL:  params.VideoURL,
		AudioURL:  reprocessed.OutputURL,
		OutputKey: outputKey,
	})
	if err != nil {
		return nil, model.NewTaskError(client.Classify(err), "remux", err)
	}

	// Step 5: sign the stored result
	sink.Report(ctx, 90, "Finalizing...")
	signedURL, err := e.storage.GetSignedURL(ctx, outputKey, client.SignedURLTTL)
	if err != nil {
		return nil, model.NewTaskError(model.ErrKindPersistence, "sign", err)
	}

	format := remuxed.Format
	if format == "" {
		format = "mp4"
	}

	sink.Report(ctx, 100, "Audio regeneration complete")
	return &model.Artifact{
		ID:        artifactID,
		JobID:     job.ID,
		Kind:      model.ArtifactKindVideoAudio,
		URL:       signedURL,
		Format:    format,
		Duration:  remuxed.Duration,
		Voice:     params.Voice,
		Speed:     params.Speed,
		ExpiresAt: time.Now().Add(client.SignedURLTTL),
	}, nil
}

func (e *AudioRegenExecutor) executeSimulated(ctx context.Context, job *model.Job, params *model.AudioRegenParams, sink bridge.ProgressSink) (*model.Artifact, error) {
	steps := []struct {
		progress int
		step     string
	}{
		{10, "Synthesizing speech..."},
		{50, "Reprocessing audio..."},
		{70, "Remuxing video..."},
		{90, "Finalizing..."},
	}

	for _, step := range steps {
		if err := simWait(ctx); err != nil {
			return nil, model.NewTaskError(model.ErrKindTimeout, "simulate", err)
		}
		sink.Report(ctx, step.progress, step.step)
	}

	sink.Report(ctx, 100, "Audio regeneration complete")
	return &model.Artifact{
		ID:        uuid.New().String(),
		JobID:     job.ID,
		Kind:      model.ArtifactKindVideoAudio,
		URL:       fmt.Sprintf("https://cdn.storyforge.dev/simulated/videos/%s.mp4", job.ID),
		Format:    "mp4",
		Duration:  42.5,
		Voice:     params.Voice,
		Speed:     params.Speed,
		ExpiresAt: time.Now().Add(client.SignedURLTTL),
	}, nil
}
