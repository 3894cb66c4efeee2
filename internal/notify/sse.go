package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/gitsignal/incident-engine/internal/models"
)

// SSEHub pushes emitted alerts to connected dashboard clients over
// server-sent events. Delivery is at-most-once per connected client; a
// client that falls behind its buffer is dropped and reconnects with
// backoff on its side.
type SSEHub struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]chan models.Alert

	// buffer per subscriber; slow clients are disconnected rather than
	// blocking the emit path.
	bufferSize int
}

// NewSSEHub constructs a hub. bufferSize <= 0 gets a default of 16.
func NewSSEHub(bufferSize int) *SSEHub {
	if bufferSize <= 0 {
		bufferSize = 16
	}
	return &SSEHub{
		subs:       map[int]chan models.Alert{},
		bufferSize: bufferSize,
	}
}

// Deliver broadcasts the alert to every subscriber without blocking.
func (h *SSEHub) Deliver(ctx context.Context, alert models.Alert) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, ch := range h.subs {
		select {
		case ch <- alert:
		default:
			// Client buffer full: drop it, the browser reconnects.
			close(ch)
			delete(h.subs, id)
		}
	}
	return nil
}

// Name implements Sink.
func (h *SSEHub) Name() string { return "sse" }

// Subscribe registers a new client channel. The returned cancel func must be
// called when the client disconnects.
func (h *SSEHub) Subscribe() (<-chan models.Alert, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.nextID
	h.nextID++
	ch := make(chan models.Alert, h.bufferSize)
	h.subs[id] = ch

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if ch, ok := h.subs[id]; ok {
			close(ch)
			delete(h.subs, id)
		}
	}
	return ch, cancel
}

// Subscribers reports the number of connected clients.
func (h *SSEHub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// ServeHTTP streams alerts to one client as `event: incident_alert` frames
// until the request context ends.
func (h *SSEHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch, cancel := h.Subscribe()
	defer cancel()

	for {
		select {
		case <-r.Context().Done():
			return
		case alert, ok := <-ch:
			if !ok {
				return
			}
			payload, err := json.Marshal(alert)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: incident_alert\ndata: %s\n\n", payload)
			flusher.Flush()
		}
	}
}
