package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/storyforge/api/internal/config"
)

// MediaProcessor defines the media toolchain operations used by the
// audio regeneration pipeline.
type MediaProcessor interface {
	ReprocessAudio(ctx context.Context, req *ReprocessRequest) (*ReprocessResponse, error)
	Remux(ctx context.Context, req *RemuxRequest) (*RemuxResponse, error)
	HealthCheck(ctx context.Context) error
}

// StatusError is a non-2xx response from the media service.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("media service error (status %d): %s", e.StatusCode, e.Body)
}

// ReprocessRequest adjusts volume and speed of an audio track.
type ReprocessRequest struct {
	AudioURL  string  `json:"audio_url"`
	Volume    int     `json:"volume"`
	Speed     float64 `json:"speed"`
	OutputKey string  `json:"output_key"`
}

// ReprocessResponse is the reprocessed track reference.
type ReprocessResponse struct {
	OutputURL string  `json:"output_url"`
	Duration  float64 `json:"duration"`
}

// RemuxRequest replaces the audio stream of a video container with a
// new track. The video stream is stream-copied, never re-encoded.
type RemuxRequest struct {
	VideoURL  string `json:"video_url"`
	AudioURL  string `json:"audio_url"`
	OutputKey string `json:"output_key"`
}

// RemuxResponse is the remuxed video reference.
type RemuxResponse struct {
	OutputURL string  `json:"output_url"`
	Duration  float64 `json:"duration"`
	Format    string  `json:"format"`
}

// MediaClient implements MediaProcessor against the ffmpeg microservice.
type MediaClient struct {
	httpClient *http.Client
	baseURL    string
}

// NewMediaClient creates a new media toolchain client.
func NewMediaClient(cfg *config.MediaConfig) *MediaClient {
	if cfg.ServiceURL == "" {
		return nil
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120
	}
	return &MediaClient{
		httpClient: &http.Client{
			Timeout: time.Duration(timeout) * time.Second,
		},
		baseURL: cfg.ServiceURL,
	}
}

// ReprocessAudio sends audio to the volume/speed filter endpoint.
func (c *MediaClient) ReprocessAudio(ctx context.Context, req *ReprocessRequest) (*ReprocessResponse, error) {
	var result ReprocessResponse
	if err := c.post(ctx, "/audio/reprocess", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Remux sends the stream-copy remux request.
func (c *MediaClient) Remux(ctx context.Context, req *RemuxRequest) (*RemuxResponse, error) {
	var result RemuxResponse
	if err := c.post(ctx, "/video/remux", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// HealthCheck checks if the media service is available.
func (c *MediaClient) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("media service unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

// post sends a POST request with JSON body and parses the response
func (c *MediaClient) post(ctx context.Context, endpoint string, body interface{}, result interface{}) error {
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	if err := json.Unmarshal(respBody, result); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return nil
}

// IsConfigured returns true if the client has valid configuration.
func (c *MediaClient) IsConfigured() bool {
	return c != nil && c.baseURL != ""
}
