package model

import (
	"encoding/json"
	"time"
)

// Job represents one durable unit of requested work.
//
// Result and Error are mutually exclusive: Result is set only on the
// transition to completed, Error only on the transition to failed.
type Job struct {
	ID           string          `json:"id"`
	TaskID       string          `json:"taskId"`
	Type         JobType         `json:"type"`
	Status       JobStatus       `json:"status"`
	Progress     int             `json:"progress"`
	Message      string          `json:"message,omitempty"`
	Params       json.RawMessage `json:"params"`
	Result       *Artifact       `json:"result,omitempty"`
	Error        *JobError       `json:"error,omitempty"`
	AttemptCount int             `json:"attemptCount"`
	CreatedAt    time.Time       `json:"createdAt"`
	StartedAt    *time.Time      `json:"startedAt,omitempty"`
	CompletedAt  *time.Time      `json:"completedAt,omitempty"`
}

// ImageParams is the immutable input payload of an image generation job.
type ImageParams struct {
	Prompt string     `json:"prompt" validate:"required,min=1,max=4000"`
	Style  ImageStyle `json:"style" validate:"omitempty,oneof=pixel sketch watercolor photo anime"`
	Size   string     `json:"size,omitempty" validate:"omitempty,oneof=1024x1024 1792x1024 1024x1792"`
}

// AudioRegenParams is the immutable input payload of an audio
// regeneration job: re-narrate an existing video with a new TTS voice.
type AudioRegenParams struct {
	VideoURL string  `json:"videoUrl" validate:"required,url"`
	Script   string  `json:"script" validate:"required,min=1,max=10000"`
	Voice    Voice   `json:"voice" validate:"required,oneof=alloy echo fable nova onyx shimmer"`
	Speed    float64 `json:"speed" validate:"gte=0.25,lte=4.0"`
	Volume   int     `json:"volume" validate:"gte=0,lte=100"`
}

// Artifact references a produced result stored in object storage.
type Artifact struct {
	ID        string       `json:"id"`
	JobID     string       `json:"jobId"`
	Kind      ArtifactKind `json:"kind"`
	URL       string       `json:"url"`
	Format    string       `json:"format"`
	Duration  float64      `json:"duration,omitempty"`
	Voice     Voice        `json:"voice,omitempty"`
	Speed     float64      `json:"speed,omitempty"`
	ExpiresAt time.Time    `json:"expiresAt"`
}

// SubmitJobRequest is the submission payload. Exactly one of the
// variant parameter blocks must be set, matching Type.
type SubmitJobRequest struct {
	Type  JobType           `json:"type" validate:"required,oneof=image_generation audio_regeneration"`
	Image *ImageParams      `json:"image,omitempty"`
	Audio *AudioRegenParams `json:"audio,omitempty"`
}

// SubmitJobResponse acknowledges an accepted submission.
type SubmitJobResponse struct {
	JobID  string    `json:"jobId"`
	TaskID string    `json:"taskId"`
	Status JobStatus `json:"status"`
}

// JobStatusResponse is the read-path view over the durable snapshot.
type JobStatusResponse struct {
	JobID    string    `json:"jobId"`
	Status   JobStatus `json:"status"`
	Progress int       `json:"progress"`
	Message  string    `json:"message,omitempty"`
	Result   *Artifact `json:"result,omitempty"`
	Error    *JobError `json:"error,omitempty"`
}
