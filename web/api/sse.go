package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/hochfrequenz/batch-engine/internal/domain"
)

const clientBuffer = 64

// Event is pushed to SSE and WebSocket clients
type Event struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// Event types
const (
	EventRun      = "run"
	EventBatchRun = "batch_run"
)

// Hub fans events out to connected clients. A client that falls behind is
// dropped.
type Hub struct {
	clients map[chan Event]bool
	closed  bool
	mu      sync.Mutex
}

// NewHub creates a new hub
func NewHub() *Hub {
	return &Hub{clients: make(map[chan Event]bool)}
}

// Subscribe registers a client. The channel is closed when the client is
// dropped, unsubscribed or the hub closes.
func (h *Hub) Subscribe() chan Event {
	ch := make(chan Event, clientBuffer)
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return ch
	}
	h.clients[ch] = true
	return ch
}

// Unsubscribe removes a client
func (h *Hub) Unsubscribe(ch chan Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[ch] {
		delete(h.clients, ch)
		close(ch)
	}
}

// Broadcast sends an event to all clients without blocking
func (h *Hub) Broadcast(event Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		select {
		case client <- event:
		default:
			delete(h.clients, client)
			close(client)
		}
	}
}

// Clients returns the number of connected clients
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects all clients
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for client := range h.clients {
		delete(h.clients, client)
		close(client)
	}
}

// PublishRun broadcasts a run snapshot. It matches engine.RunListener.
func (h *Hub) PublishRun(run *domain.Run) {
	h.Broadcast(Event{Type: EventRun, Data: runToResponse(run)})
}

// BatchRunCompleted broadcasts a finished batch run. It implements engine.Reporter.
func (h *Hub) BatchRunCompleted(ctx context.Context, br *domain.BatchRun) error {
	h.Broadcast(Event{Type: EventBatchRun, Data: batchRunToResponse(br)})
	return nil
}

func (s *Server) sseHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "Streaming not supported", http.StatusInternalServerError)
			return
		}

		// Set SSE headers
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("Access-Control-Allow-Origin", "*")

		client := s.hub.Subscribe()
		defer s.hub.Unsubscribe(client)

		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		for {
			select {
			case <-r.Context().Done():
				return
			case event, ok := <-client:
				if !ok {
					return
				}
				data, err := json.Marshal(event)
				if err != nil {
					continue
				}
				fmt.Fprintf(w, "event: %s\n", event.Type)
				fmt.Fprintf(w, "data: %s\n\n", data)
				flusher.Flush()
			}
		}
	}
}
