package websocket

import (
	"context"
	"encoding/json"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/redis/go-redis/v9"

	"github.com/storyforge/api/internal/bridge"
	"github.com/storyforge/api/internal/model"
)

// Client represents a WebSocket client subscribed to one task
type Client struct {
	TaskID string
	Conn   *websocket.Conn

	mu     sync.Mutex
	send   chan []byte
	closed bool
}

// trySend queues a message without blocking. Returns false when the
// client is closed or its buffer is full.
func (c *Client) trySend(message []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- message:
		return true
	default:
		return false
	}
}

// closeSend is safe to call more than once and concurrently with trySend.
func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// Hub maintains active WebSocket connections grouped by task id and
// relays bridge events to them. Delivery to a slow client is dropped
// rather than stalling the hub.
type Hub struct {
	// Clients grouped by task ID
	clients map[string]map[*Client]bool

	// Register requests
	register chan *Client

	// Unregister requests
	unregister chan *Client

	// Broadcast messages to task subscribers
	broadcast chan *BroadcastMessage

	mu sync.RWMutex
}

// BroadcastMessage represents a message to broadcast
type BroadcastMessage struct {
	TaskID  string
	Message []byte
}

// NewHub creates a new Hub
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *BroadcastMessage, 256),
	}
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			if h.clients[client.TaskID] == nil {
				h.clients[client.TaskID] = make(map[*Client]bool)
			}
			h.clients[client.TaskID][client] = true
			h.mu.Unlock()
			log.Printf("Client registered for task %s", client.TaskID)

		case client := <-h.unregister:
			h.mu.Lock()
			if clients, ok := h.clients[client.TaskID]; ok {
				if _, ok := clients[client]; ok {
					delete(clients, client)
					client.closeSend()
					if len(clients) == 0 {
						delete(h.clients, client.TaskID)
					}
				}
			}
			h.mu.Unlock()
			log.Printf("Client unregistered from task %s", client.TaskID)

		case msg := <-h.broadcast:
			h.mu.Lock()
			if clients, ok := h.clients[msg.TaskID]; ok {
				for client := range clients {
					if !client.trySend(msg.Message) {
						// Slow or closed client; drop it rather than
						// stalling delivery to the rest.
						client.closeSend()
						delete(clients, client)
					}
				}
				if len(clients) == 0 {
					delete(h.clients, msg.TaskID)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Register adds a new client
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister removes a client
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// Broadcast sends a raw message to all subscribers of a task
func (h *Hub) Broadcast(taskID string, message []byte) {
	h.broadcast <- &BroadcastMessage{
		TaskID:  taskID,
		Message: message,
	}
}

// RunRelay subscribes to the bridge's per-task pub/sub topics and
// forwards events, in emission order, to connected clients. Events for
// tasks with no subscribers are discarded.
func (h *Hub) RunRelay(ctx context.Context, rdb *redis.Client) {
	pubsub := rdb.PSubscribe(ctx, bridge.TopicFor("*"))
	defer pubsub.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-pubsub.Channel():
			if !ok {
				return
			}
			taskID, data, ok := relayMessage(msg.Channel, []byte(msg.Payload))
			if !ok {
				continue
			}
			h.Broadcast(taskID, data)
		}
	}
}

// relayMessage converts one pub/sub message into the typed frame sent
// to WebSocket clients, so event frames are distinguishable from
// ping/pong control frames.
func relayMessage(channel string, payload []byte) (string, []byte, bool) {
	taskID := strings.TrimPrefix(channel, bridge.TopicFor(""))
	if taskID == "" {
		return "", nil, false
	}

	var ev model.ProgressEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		log.Printf("Dropping malformed progress event for task %s: %v", taskID, err)
		return "", nil, false
	}

	data, err := json.Marshal(model.WSEventMessage{Type: model.WSMessageTypeEvent, Event: ev})
	if err != nil {
		return "", nil, false
	}
	return taskID, data, true
}

// HandleConnection handles a WebSocket connection subscribed to a task
func (h *Hub) HandleConnection(c *websocket.Conn, taskID string) {
	client := &Client{
		TaskID: taskID,
		Conn:   c,
		send:   make(chan []byte, 256),
	}

	h.Register(client)
	defer h.Unregister(client)

	// Start writer goroutine
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case message, ok := <-client.send:
				if !ok {
					c.WriteMessage(websocket.CloseMessage, []byte{})
					return
				}
				if err := c.WriteMessage(websocket.TextMessage, message); err != nil {
					return
				}

			case <-ticker.C:
				// Send ping for keep-alive
				if err := c.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	// Reader loop
	for {
		_, message, err := c.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			break
		}

		// Handle client messages (ping/pong)
		var msg model.WSMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}

		if msg.Type == model.WSMessageTypePing {
			pong := model.WSMessage{Type: model.WSMessageTypePong}
			data, _ := json.Marshal(pong)
			// The hub may have dropped this client already; a failed
			// queue attempt is not an error.
			client.trySend(data)
		}
	}
}
