package task

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/storyforge/api/internal/client"
	"github.com/storyforge/api/internal/model"
)

func init() {
	// Keep simulated pipelines fast under test.
	simStepDelay = time.Millisecond
}

// recordSink captures progress reports for assertions.
type recordSink struct {
	mu       sync.Mutex
	progress []int
	messages []string
}

func (s *recordSink) Report(_ context.Context, progress int, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.progress = append(s.progress, progress)
	s.messages = append(s.messages, message)
}

// stubAI fakes the external AI capability.
type stubAI struct {
	imageURL  string
	imageErr  error
	audio     []byte
	speechErr error

	imageCalls  int
	speechCalls int
	lastVoice   model.Voice
	lastSpeed   float64
}

func (a *stubAI) GenerateImage(_ context.Context, prompt string, style model.ImageStyle, size string) (string, error) {
	a.imageCalls++
	if a.imageErr != nil {
		return "", a.imageErr
	}
	return a.imageURL, nil
}

func (a *stubAI) SynthesizeSpeech(_ context.Context, text string, voice model.Voice, speed float64) ([]byte, error) {
	a.speechCalls++
	a.lastVoice = voice
	a.lastSpeed = speed
	if a.speechErr != nil {
		return nil, a.speechErr
	}
	return a.audio, nil
}

// stubStorage fakes object storage and records operation order.
type stubStorage struct {
	uploadErr error
	signErr   error
	calls     []string
}

func (s *stubStorage) Upload(_ context.Context, key string, body io.Reader, contentType string) (string, error) {
	s.calls = append(s.calls, "upload:"+key)
	if s.uploadErr != nil {
		return "", s.uploadErr
	}
	return "https://storage.test/" + key, nil
}

func (s *stubStorage) Delete(_ context.Context, key string) error {
	s.calls = append(s.calls, "delete:"+key)
	return nil
}

func (s *stubStorage) GetSignedURL(_ context.Context, key string, _ time.Duration) (string, error) {
	s.calls = append(s.calls, "sign:"+key)
	if s.signErr != nil {
		return "", s.signErr
	}
	return "https://storage.test/signed/" + key, nil
}

func (s *stubStorage) GetPublicURL(key string) string {
	return "https://storage.test/" + key
}

// stubMedia fakes the media toolchain.
type stubMedia struct {
	reprocessErr error
	remuxErr     error
	calls        []string
	lastRemux    *client.RemuxRequest
}

func (m *stubMedia) ReprocessAudio(_ context.Context, req *client.ReprocessRequest) (*client.ReprocessResponse, error) {
	m.calls = append(m.calls, "reprocess")
	if m.reprocessErr != nil {
		return nil, m.reprocessErr
	}
	return &client.ReprocessResponse{OutputURL: "https://storage.test/" + req.OutputKey, Duration: 42.5}, nil
}

func (m *stubMedia) Remux(_ context.Context, req *client.RemuxRequest) (*client.RemuxResponse, error) {
	m.calls = append(m.calls, "remux")
	m.lastRemux = req
	if m.remuxErr != nil {
		return nil, m.remuxErr
	}
	return &client.RemuxResponse{OutputURL: "https://storage.test/" + req.OutputKey, Duration: 42.5, Format: "mp4"}, nil
}

func (m *stubMedia) HealthCheck(_ context.Context) error { return nil }
