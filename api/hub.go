package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hupe1980/agentcouncil/core"
	"github.com/hupe1980/agentcouncil/logging"
)

// ErrBroadcastFull is returned by Hub.Record when the broadcast buffer is full.
var ErrBroadcastFull = errors.New("api: websocket broadcast buffer full")

// Event is the message pushed to websocket clients.
type Event struct {
	Type      string          `json:"type"`
	Kind      core.RecordKind `json:"kind"`
	Status    string          `json:"status"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   any             `json:"payload"`
}

// HubOptions configure a Hub.
type HubOptions struct {
	// AllowedOrigins lists the browser origins allowed to connect. "*" allows
	// any origin. Requests without an Origin header and same-origin requests
	// are always accepted.
	AllowedOrigins []string
}

// Hub fans records out to connected websocket clients. It implements
// core.Recorder so it can sit next to the persistent stores.
type Hub struct {
	clients   map[*websocket.Conn]bool
	broadcast chan []byte
	logger    logging.Logger
	upgrader  websocket.Upgrader
	mu        sync.RWMutex
}

// NewHub creates a Hub buffering up to 256 pending events.
func NewHub(logger logging.Logger, optFns ...func(o *HubOptions)) *Hub {
	var opts HubOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	h := &Hub{
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan []byte, 256),
		logger:    logging.OrNoOp(logger),
	}
	h.upgrader.CheckOrigin = originChecker(opts.AllowedOrigins)
	return h
}

func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, a := range allowed {
			if a == "*" || strings.EqualFold(a, origin) {
				return true
			}
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		return strings.EqualFold(u.Host, r.Host)
	}
}

// Run delivers broadcast events until ctx ends. Clients that fail a write
// are dropped.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case data := <-h.broadcast:
			h.send(data)
		}
	}
}

func (h *Hub) send(data []byte) {
	var dead []*websocket.Conn

	h.mu.RLock()
	for client := range h.clients {
		if err := client.WriteMessage(websocket.TextMessage, data); err != nil {
			dead = append(dead, client)
		}
	}
	h.mu.RUnlock()

	for _, client := range dead {
		h.Unregister(client)
		client.Close()
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		client.Close()
		delete(h.clients, client)
	}
}

// Broadcast queues event for delivery without blocking.
func (h *Hub) Broadcast(event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	select {
	case h.broadcast <- data:
		return nil
	default:
		h.logger.Warn("Websocket broadcast buffer full, dropping event", "kind", string(event.Kind))
		return ErrBroadcastFull
	}
}

// Record implements core.Recorder.
func (h *Hub) Record(_ context.Context, rec core.Record) error {
	return h.Broadcast(Event{
		Type:      "record",
		Kind:      rec.RecordKind(),
		Status:    rec.RecordStatus(),
		Timestamp: time.Now().UTC(),
		Payload:   rec,
	})
}

func (h *Hub) Register(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[conn] = true
}

func (h *Hub) Unregister(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, conn)
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request and keeps the connection registered until
// the client goes away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("Websocket upgrade failed", "origin", r.Header.Get("Origin"), "error", err.Error())
		return
	}

	h.Register(conn)
	defer func() {
		h.Unregister(conn)
		conn.Close()
	}()

	// Inbound messages are ignored; reading detects disconnects.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}
