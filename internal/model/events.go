package model

// ProgressEvent is the ephemeral live-progress payload published per
// task. Delivery is at-most-once; only the durable snapshot is
// guaranteed to survive.
type ProgressEvent struct {
	TaskID   string    `json:"taskId"`
	Status   JobStatus `json:"status"`
	Progress int       `json:"progress"`
	Message  string    `json:"message"`
}

// WebSocket message types
const (
	WSMessageTypeEvent = "event"
	WSMessageTypePing  = "ping"
	WSMessageTypePong  = "pong"
)

// WSMessage represents a generic WebSocket control message
type WSMessage struct {
	Type string `json:"type"`
}

// WSEventMessage wraps a progress event for WebSocket delivery
type WSEventMessage struct {
	Type  string        `json:"type"`
	Event ProgressEvent `json:"event"`
}
