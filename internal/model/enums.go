package model

// Job types
type JobType string

const (
	JobTypeImageGeneration   JobType = "image_generation"
	JobTypeAudioRegeneration JobType = "audio_regeneration"
)

var ValidJobTypes = []JobType{
	JobTypeImageGeneration, JobTypeAudioRegeneration,
}

// Job status
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Valid reports whether s is one of the four permitted status values.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusPending, JobStatusProcessing, JobStatusCompleted, JobStatusFailed:
		return true
	default:
		return false
	}
}

// Terminal reports whether s is a terminal status.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// CanTransition reports whether moving from s to next respects the
// pending -> processing -> completed|failed order. Processing may be
// re-entered across retry attempts; terminal states never move.
func (s JobStatus) CanTransition(next JobStatus) bool {
	switch s {
	case JobStatusPending:
		return next == JobStatusProcessing
	case JobStatusProcessing:
		return next == JobStatusProcessing || next == JobStatusCompleted || next == JobStatusFailed
	default:
		return false
	}
}

// Artifact kinds
type ArtifactKind string

const (
	ArtifactKindImage      ArtifactKind = "image"
	ArtifactKindVideoAudio ArtifactKind = "video_audio"
)

// TTS voices
type Voice string

const (
	VoiceAlloy   Voice = "alloy"
	VoiceEcho    Voice = "echo"
	VoiceFable   Voice = "fable"
	VoiceNova    Voice = "nova"
	VoiceOnyx    Voice = "onyx"
	VoiceShimmer Voice = "shimmer"
)

// Image styles
type ImageStyle string

const (
	StylePixel      ImageStyle = "pixel"
	StyleSketch     ImageStyle = "sketch"
	StyleWatercolor ImageStyle = "watercolor"
	StylePhoto      ImageStyle = "photo"
	StyleAnime      ImageStyle = "anime"
)
