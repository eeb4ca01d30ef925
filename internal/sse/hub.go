package sse

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"scripthost/internal/logsink"
)

// Event represents an SSE event to send to clients
type Event struct {
	Type string // Event type, "line" for forwarded lines
	Data any    // Event data (will be JSON encoded)
}

// LineEvent is the payload of a "line" event.
type LineEvent struct {
	Tag       string    `json:"tag"`
	Severity  string    `json:"severity"`
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
}

// Client represents a single subscriber
type Client struct {
	ID        string
	Tag       string // Optional: only lines with this tag
	EventChan chan Event
	Done      chan struct{}
}

// NewClient returns a client with a fresh ID and a buffered event channel.
func NewClient(tag string) *Client {
	return &Client{
		ID:        uuid.NewString(),
		Tag:       tag,
		EventChan: make(chan Event, 256),
		Done:      make(chan struct{}),
	}
}

// Hub fans forwarded lines out to subscribers. It is a logsink.Sink, so it can
// sit next to the log and file sinks.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
}

var _ logsink.Sink = &Hub{}

// NewHub creates a new SSE hub
func NewHub() *Hub {
	return &Hub{
		clients: make(map[string]*Client),
	}
}

// RegisterClient registers a new client
func (h *Hub) RegisterClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.clients[client.ID] = client
	slog.Info("SSE client registered", "clientID", client.ID, "tag", client.Tag)
}

// UnregisterClient removes a client from the hub.
// The client's Done channel is closed by the handler that created the client,
// not by this method.
func (h *Hub) UnregisterClient(clientID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[clientID]; ok {
		delete(h.clients, clientID)
		slog.Info("SSE client unregistered", "clientID", clientID)
	}
}

// ClientCount returns the number of registered clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Write broadcasts a forwarded line. It never blocks: a client whose channel
// is full misses the line.
func (h *Hub) Write(severity logsink.Severity, tag string, message string) {
	event := Event{
		Type: "line",
		Data: LineEvent{
			Tag:       tag,
			Severity:  severity.String(),
			Timestamp: time.Now().UTC(),
			Message:   message,
		},
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, client := range h.clients {
		if client.Tag != "" && client.Tag != tag {
			continue
		}
		select {
		case client.EventChan <- event:
		case <-client.Done:
			// Client disconnected
		default:
			// Channel full, skip. Logging here would be forwarded again.
		}
	}
}

// FormatSSE formats an event for Server-Sent Events protocol
func FormatSSE(event Event) ([]byte, error) {
	dataJSON, err := json.Marshal(event.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event data: %w", err)
	}

	// event: <type>\ndata: <json>\n\n
	return fmt.Appendf(nil, "event: %s\ndata: %s\n\n", event.Type, dataJSON), nil
}
