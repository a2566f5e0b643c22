// Package ws pushes governance events to dashboard clients over WebSocket.
// Each connection is bound to one organization and only sees its events.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/nintynick/openclaw-mission-control-sub001/internal/port/broadcast"
)

const (
	writeTimeout = 5 * time.Second
	pingInterval = 30 * time.Second
	// sendBuffer is how many events a client may lag behind before it is
	// disconnected.
	sendBuffer = 64
)

// Message is the envelope of every event sent to a client.
type Message struct {
	Type           string          `json:"type"`
	OrganizationID string          `json:"organization_id"`
	At             time.Time       `json:"at"`
	Payload        json.RawMessage `json:"payload"`
}

type client struct {
	orgID  string
	send   chan []byte
	cancel context.CancelFunc
}

// Hub tracks connected clients per organization.
type Hub struct {
	mu           sync.RWMutex
	orgs         map[string]map[*client]struct{}
	allowOrigins []string
}

var _ broadcast.Broadcaster = (*Hub)(nil)

// NewHub returns an empty hub. allowOrigins are host patterns accepted in
// addition to same-origin handshakes.
func NewHub(allowOrigins ...string) *Hub {
	return &Hub{orgs: make(map[string]map[*client]struct{}), allowOrigins: allowOrigins}
}

// HandleWS upgrades the request and serves the client until it disconnects
// or falls behind. Browsers cannot set headers on the handshake, so the
// organization is read from the organization_id query parameter.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	orgID, err := uuid.Parse(r.URL.Query().Get("organization_id"))
	if err != nil {
		http.Error(w, "organization_id query parameter must be a UUID", http.StatusBadRequest)
		return
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.allowOrigins})
	if err != nil {
		slog.Warn("ws.accept_failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &client{orgID: orgID.String(), send: make(chan []byte, sendBuffer), cancel: cancel}
	h.add(c)
	slog.Info("ws.connected", "organization_id", c.orgID, "remote", r.RemoteAddr)

	// CloseRead discards client frames and cancels ctx once the peer goes away.
	ctx = conn.CloseRead(ctx)
	go func() {
		defer h.remove(c)
		status, reason := serve(ctx, conn, c.send)
		_ = conn.Close(status, reason)
	}()
}

// serve writes queued events and keepalive pings until ctx ends.
func serve(ctx context.Context, conn *websocket.Conn, send <-chan []byte) (websocket.StatusCode, string) {
	ping := time.NewTicker(pingInterval)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			return websocket.StatusGoingAway, ""
		case data, ok := <-send:
			if !ok {
				return websocket.StatusPolicyViolation, "too slow"
			}
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := conn.Write(wctx, websocket.MessageText, data)
			cancel()
			if err != nil {
				return websocket.StatusAbnormalClosure, ""
			}
		case <-ping.C:
			pctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := conn.Ping(pctx)
			cancel()
			if err != nil {
				return websocket.StatusAbnormalClosure, ""
			}
		}
	}
}

// BroadcastEvent implements broadcast.Broadcaster.
func (h *Hub) BroadcastEvent(_ context.Context, organizationID, eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("ws.event_marshal_failed", "type", eventType, "error", err)
		return
	}
	h.BroadcastToOrganization(organizationID, Message{Type: eventType, At: time.Now().UTC(), Payload: data})
}

// BroadcastToOrganization queues msg for every client of organizationID.
// It never blocks: a client whose buffer is full is dropped.
func (h *Hub) BroadcastToOrganization(organizationID string, msg Message) {
	msg.OrganizationID = organizationID
	data, err := json.Marshal(msg)
	if err != nil {
		slog.Error("ws.marshal_failed", "type", msg.Type, "error", err)
		return
	}

	var slow []*client
	h.mu.RLock()
	for c := range h.orgs[organizationID] {
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		slog.Warn("ws.client_too_slow", "organization_id", organizationID)
		h.drop(c)
	}
}

// ConnectionCount returns the number of connected clients.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, set := range h.orgs {
		n += len(set)
	}
	return n
}

// Close disconnects every client. Hijacked connections are not closed by
// http.Server.Shutdown, so the server calls this on the way out.
func (h *Hub) Close() {
	h.mu.RLock()
	all := make([]*client, 0)
	for _, set := range h.orgs {
		for c := range set {
			all = append(all, c)
		}
	}
	h.mu.RUnlock()
	for _, c := range all {
		c.cancel()
	}
}

func (h *Hub) add(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.orgs[c.orgID]
	if !ok {
		set = make(map[*client]struct{})
		h.orgs[c.orgID] = set
	}
	set[c] = struct{}{}
}

// drop unregisters c and closes its queue, which ends its writer with a
// policy violation.
func (h *Hub) drop(c *client) {
	if h.unregister(c) {
		close(c.send)
	}
}

func (h *Hub) remove(c *client) {
	h.unregister(c)
	c.cancel()
	slog.Info("ws.disconnected", "organization_id", c.orgID)
}

func (h *Hub) unregister(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.orgs[c.orgID]
	if _, ok := set[c]; !ok {
		return false
	}
	delete(set, c)
	if len(set) == 0 {
		delete(h.orgs, c.orgID)
	}
	return true
}
