package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/storyforge/api/internal/config"
	"github.com/storyforge/api/internal/model"
)

// AICapability defines the external AI provider operations the task
// executors depend on.
type AICapability interface {
	GenerateImage(ctx context.Context, prompt string, style model.ImageStyle, size string) (string, error)
	SynthesizeSpeech(ctx context.Context, text string, voice model.Voice, speed float64) ([]byte, error)
}

// OpenAIClient implements AICapability using the OpenAI API.
type OpenAIClient struct {
	client      openai.Client
	imageModel  string
	speechModel string
}

// NewOpenAIClient creates a new OpenAI capability client.
func NewOpenAIClient(cfg *config.AIConfig) *OpenAIClient {
	if cfg.APIKey == "" {
		return nil
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	imageModel := cfg.ImageModel
	if imageModel == "" {
		imageModel = openai.ImageModelDallE3
	}
	speechModel := cfg.SpeechModel
	if speechModel == "" {
		speechModel = string(openai.SpeechModelTTS1)
	}

	return &OpenAIClient{
		client:      openai.NewClient(opts...),
		imageModel:  imageModel,
		speechModel: speechModel,
	}
}

// GenerateImage renders an image for the prompt and returns the
// provider-hosted URL of the result.
func (c *OpenAIClient) GenerateImage(ctx context.Context, prompt string, style model.ImageStyle, size string) (string, error) {
	if size == "" {
		size = "1024x1024"
	}

	resp, err := c.client.Images.Generate(ctx, openai.ImageGenerateParams{
		Prompt: stylePrompt(prompt, style),
		Model:  openai.ImageModel(c.imageModel),
		Size:   openai.ImageGenerateParamsSize(size),
		N:      openai.Int(1),
	})
	if err != nil {
		return "", fmt.Errorf("image generation failed: %w", err)
	}
	if len(resp.Data) == 0 || resp.Data[0].URL == "" {
		return "", fmt.Errorf("image generation returned no result")
	}

	return resp.Data[0].URL, nil
}

// SynthesizeSpeech renders the script as speech audio and returns the
// raw audio bytes.
func (c *OpenAIClient) SynthesizeSpeech(ctx context.Context, text string, voice model.Voice, speed float64) ([]byte, error) {
	resp, err := c.client.Audio.Speech.New(ctx, openai.AudioSpeechNewParams{
		Model: openai.SpeechModel(c.speechModel),
		Input: text,
		Voice: openai.AudioSpeechNewParamsVoice(voice),
		Speed: openai.Float(speed),
	})
	if err != nil {
		return nil, fmt.Errorf("speech synthesis failed: %w", err)
	}
	defer resp.Body.Close()

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read synthesized audio: %w", err)
	}
	return audio, nil
}

// IsConfigured returns true if the client has valid configuration.
func (c *OpenAIClient) IsConfigured() bool {
	return c != nil
}

func stylePrompt(prompt string, style model.ImageStyle) string {
	if style == "" {
		return prompt
	}
	return fmt.Sprintf("%s, rendered in %s style", prompt, style)
}

// Classify maps a capability error onto the retry taxonomy: rate
// limits, 5xx responses and network failures are transient; provider
// rejections of the input are permanent.
func Classify(err error) model.ErrorKind {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == 429 || apiErr.StatusCode >= 500 {
			return model.ErrKindTransient
		}
		return model.ErrKindPermanent
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		if statusErr.StatusCode == 429 || statusErr.StatusCode >= 500 {
			return model.ErrKindTransient
		}
		return model.ErrKindPermanent
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return model.ErrKindTransient
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return model.ErrKindTimeout
	}

	// Unknown failures are retried rather than terminally rejected.
	return model.ErrKindTransient
}
