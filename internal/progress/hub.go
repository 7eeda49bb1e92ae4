package progress

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"studymate/internal/platform/logger"
)

const clientBuffer = 16

type Client struct {
	ID      uuid.UUID
	OwnerID string
	Events  chan Event

	done      chan struct{}
	closeOnce sync.Once
}

// Done is closed once the hub drops the client.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

func (c *Client) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// Hub fans progress events out to the SSE clients subscribed per owner.
// Publish never blocks: a client whose buffer is full is disconnected.
type Hub struct {
	mu   sync.Mutex
	log  *logger.Logger
	subs map[string]map[*Client]struct{}

	heartbeat time.Duration
}

func NewHub(log *logger.Logger) *Hub {
	return &Hub{
		log:       log.With("component", "progress.Hub"),
		subs:      make(map[string]map[*Client]struct{}),
		heartbeat: 15 * time.Second,
	}
}

func (h *Hub) Subscribe(ownerID string) *Client {
	c := &Client{
		ID:      uuid.New(),
		OwnerID: strings.TrimSpace(ownerID),
		Events:  make(chan Event, clientBuffer),
		done:    make(chan struct{}),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	clients, ok := h.subs[c.OwnerID]
	if !ok {
		clients = make(map[*Client]struct{})
		h.subs[c.OwnerID] = clients
	}
	clients[c] = struct{}{}
	h.log.Debug("progress client subscribed", "client_id", c.ID, "owner_id", c.OwnerID)
	return c
}

func (h *Hub) Unsubscribe(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c)
}

func (h *Hub) removeLocked(c *Client) {
	if clients, ok := h.subs[c.OwnerID]; ok {
		delete(clients, c)
		if len(clients) == 0 {
			delete(h.subs, c.OwnerID)
		}
	}
	c.close()
}

// Publish delivers ev to every client of ownerID.
func (h *Hub) Publish(ownerID string, ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.subs[ownerID] {
		select {
		case c.Events <- ev:
		default:
			h.log.Warn("progress client too slow, disconnecting", "client_id", c.ID, "owner_id", ownerID)
			h.removeLocked(c)
		}
	}
}

func (h *Hub) Subscribers(ownerID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[ownerID])
}

// Serve streams c's events as server-sent events until the request ends or
// the hub drops the client. The client is unsubscribed on return.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, c *Client) {
	defer h.Unsubscribe(c)

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case <-heartbeat.C:
			_, _ = fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case ev := <-c.Events:
			payload, err := json.Marshal(ev)
			if err != nil {
				h.log.Warn("marshal progress event failed", "err", err)
				continue
			}
			_, _ = fmt.Fprintf(w, "event: progress\ndata: %s\n\n", payload)
			flusher.Flush()
		}
	}
}
