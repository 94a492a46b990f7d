package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/storyforge/api/internal/config"
	"github.com/storyforge/api/internal/model"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want model.ErrorKind
	}{
		{"rate limited", &StatusError{StatusCode: 429, Body: "slow down"}, model.ErrKindTransient},
		{"server error", &StatusError{StatusCode: 503, Body: "unavailable"}, model.ErrKindTransient},
		{"bad request", &StatusError{StatusCode: 400, Body: "invalid input"}, model.ErrKindPermanent},
		{"content policy", &StatusError{StatusCode: 422, Body: "rejected"}, model.ErrKindPermanent},
		{"wrapped status error", fmt.Errorf("call failed: %w", &StatusError{StatusCode: 500}), model.ErrKindTransient},
		{"network timeout", &net.DNSError{Err: "timeout", IsTimeout: true}, model.ErrKindTransient},
		{"context deadline", context.DeadlineExceeded, model.ErrKindTimeout},
		{"unknown error", errors.New("something unexpected"), model.ErrKindTransient},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Classify(tc.err))
		})
	}
}

func TestStatusErrorMessage(t *testing.T) {
	err := &StatusError{StatusCode: 502, Body: "bad gateway"}
	assert.Contains(t, err.Error(), "502")
	assert.Contains(t, err.Error(), "bad gateway")
}

func TestNewOpenAIClientUnconfigured(t *testing.T) {
	c := NewOpenAIClient(&config.AIConfig{})
	assert.Nil(t, c)
	assert.False(t, c.IsConfigured())
}

func TestStylePrompt(t *testing.T) {
	assert.Equal(t, "a fox", stylePrompt("a fox", ""))
	assert.Contains(t, stylePrompt("a fox", model.StyleWatercolor), "watercolor")
}
