package websocket

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storyforge/api/internal/bridge"
	"github.com/storyforge/api/internal/model"
)

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func TestHubBroadcastDelivers(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	client := &Client{TaskID: "task-1", send: make(chan []byte, 4)}
	hub.Register(client)

	hub.Broadcast("task-1", []byte("hello"))

	select {
	case msg := <-client.send:
		assert.Equal(t, "hello", string(msg))
	case <-time.After(time.Second):
		t.Fatal("broadcast not delivered")
	}
}

func TestHubDropsSlowClientWithoutPanic(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	client := &Client{TaskID: "task-1", send: make(chan []byte, 1)}
	hub.Register(client)

	// Fill the buffer so the next broadcast overflows it.
	require.True(t, client.trySend([]byte("first")))
	hub.Broadcast("task-1", []byte("second"))

	assert.Eventually(t, client.isClosed, time.Second, 10*time.Millisecond)

	// A ping arriving after the hub dropped the client must queue
	// nothing and must not panic on the closed channel.
	assert.NotPanics(t, func() {
		assert.False(t, client.trySend([]byte(`{"type":"pong"}`)))
	})
	assert.NotPanics(t, client.closeSend)
}

func TestHubUnregisterThenSend(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	client := &Client{TaskID: "task-1", send: make(chan []byte, 4)}
	hub.Register(client)
	hub.Unregister(client)

	assert.Eventually(t, client.isClosed, time.Second, 10*time.Millisecond)
	assert.NotPanics(t, func() {
		assert.False(t, client.trySend([]byte("late")))
	})
}

func TestRelayMessageWrapsEvent(t *testing.T) {
	ev := model.ProgressEvent{
		TaskID:   "task-9",
		Status:   model.JobStatusProcessing,
		Progress: 40,
		Message:  "Generating image...",
	}
	payload, err := json.Marshal(ev)
	require.NoError(t, err)

	taskID, data, ok := relayMessage(bridge.TopicFor("task-9"), payload)
	require.True(t, ok)
	assert.Equal(t, "task-9", taskID)

	var frame model.WSEventMessage
	require.NoError(t, json.Unmarshal(data, &frame))
	assert.Equal(t, model.WSMessageTypeEvent, frame.Type)
	assert.Equal(t, 40, frame.Event.Progress)
	assert.Equal(t, model.JobStatusProcessing, frame.Event.Status)
}

func TestRelayMessageDropsMalformed(t *testing.T) {
	_, _, ok := relayMessage(bridge.TopicFor("task-9"), []byte("{not json"))
	assert.False(t, ok)

	payload, err := json.Marshal(model.ProgressEvent{TaskID: "task-9"})
	require.NoError(t, err)
	_, _, ok = relayMessage(bridge.TopicFor(""), payload)
	assert.False(t, ok)
}
