package notifications

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"swarg/internal/delivery"
	"swarg/internal/middleware"
	"swarg/internal/observability"

	"github.com/gofiber/websocket/v2"
)

const (
	defaultMaxConnsPerUser = 12
	defaultMaxTotalConns   = 10000
)

var (
	ErrServerFull = errors.New("server connection limit reached")
	ErrUserFull   = errors.New("user connection limit reached")
)

// HubOptions sets connection limits. Zero values take the defaults.
type HubOptions struct {
	MaxConnsPerUser int
	MaxTotalConns   int
}

// Hub maps users to their live sessions. It is the delivery.Transport of
// this node.
type Hub struct {
	mu         sync.RWMutex
	conns      map[uint]map[*Client]struct{}
	totalConns int
	maxPerUser int
	maxTotal   int
	closed     bool

	presence *PresenceTracker
	log      *observability.WSLogger
}

var _ delivery.Transport = (*Hub)(nil)

// NewHub creates a Hub. presence may be nil.
func NewHub(presence *PresenceTracker, opts HubOptions) *Hub {
	h := &Hub{
		conns:      make(map[uint]map[*Client]struct{}),
		maxPerUser: defaultMaxConnsPerUser,
		maxTotal:   defaultMaxTotalConns,
		presence:   presence,
		log:        observability.NewWSLogger("hub"),
	}
	if opts.MaxConnsPerUser > 0 {
		h.maxPerUser = opts.MaxConnsPerUser
	}
	if opts.MaxTotalConns > 0 {
		h.maxTotal = opts.MaxTotalConns
	}
	return h
}

// Name returns a human-readable identifier for this hub.
func (h *Hub) Name() string { return "messenger hub" }

// Register adds a session for userID. It fails when the node or the user is
// at its connection limit.
func (h *Hub) Register(userID uint, conn *websocket.Conn) (*Client, error) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, ErrServerFull
	}
	if h.totalConns >= h.maxTotal {
		h.mu.Unlock()
		return nil, ErrServerFull
	}

	m, ok := h.conns[userID]
	if !ok {
		m = make(map[*Client]struct{})
		h.conns[userID] = m
	}
	if len(m) >= h.maxPerUser {
		h.mu.Unlock()
		return nil, ErrUserFull
	}

	client := NewClient(h, conn, userID)
	client.OnActivity = func(uid uint) {
		if h.presence != nil {
			h.presence.Touch(context.Background(), uid)
		}
	}

	m[client] = struct{}{}
	h.totalConns++
	h.mu.Unlock()

	middleware.ActiveWebSockets.Inc()
	h.log.LogConnect(context.Background(), userID, client.ID())
	if h.presence != nil {
		h.presence.Touch(context.Background(), userID)
	}
	return client, nil
}

// UnregisterClient removes a session and closes its send channel.
func (h *Hub) UnregisterClient(client *Client) {
	h.mu.Lock()
	removed := false
	if m, ok := h.conns[client.UserID()]; ok {
		if _, exists := m[client]; exists {
			delete(m, client)
			h.totalConns--
			removed = true
		}
		if len(m) == 0 {
			delete(h.conns, client.UserID())
		}
	}
	h.mu.Unlock()

	if !removed {
		return
	}
	client.close()
	middleware.ActiveWebSockets.Dec()
	h.log.LogDisconnect(context.Background(), client.UserID(), client.ID(), "unregistered")
	if h.presence != nil {
		h.presence.Touch(context.Background(), client.UserID())
	}
}

// LiveSessions returns the sessions of userID on this node.
func (h *Hub) LiveSessions(userID uint) []delivery.Session {
	h.mu.RLock()
	defer h.mu.RUnlock()
	clients := h.conns[userID]
	out := make([]delivery.Session, 0, len(clients))
	for c := range clients {
		out = append(out, c)
	}
	return out
}

// Push queues frame on session. It never blocks on a slow client.
func (h *Hub) Push(_ context.Context, session delivery.Session, frame []byte) error {
	client, ok := session.(*Client)
	if !ok {
		return fmt.Errorf("push to foreign session %s", session.ID())
	}
	return client.TrySend(frame)
}

// SessionCount returns the number of sessions userID has on this node.
func (h *Hub) SessionCount(userID uint) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns[userID])
}

// deliverLocal pushes a relayed frame to every local session of userID.
func (h *Hub) deliverLocal(userID uint, frame []byte) {
	for _, s := range h.LiveSessions(userID) {
		if err := h.Push(context.Background(), s, frame); err != nil {
			h.log.LogError(context.Background(), userID, s.ID(), err, "relay_push")
		}
	}
}

// StartWiring subscribes the hub to the relay so frames published by other
// nodes reach the sessions held here.
func (h *Hub) StartWiring(ctx context.Context, relay *Relay) error {
	if relay == nil {
		return nil
	}
	return relay.Subscribe(ctx, h.deliverLocal)
}

// Shutdown closes every session. Later registrations are refused.
func (h *Hub) Shutdown(_ context.Context) error {
	h.mu.Lock()
	conns := h.conns
	h.conns = make(map[uint]map[*Client]struct{})
	h.totalConns = 0
	h.closed = true
	h.mu.Unlock()

	sessions := 0
	for _, userConns := range conns {
		for client := range userConns {
			// The write pump sends the close frame once Send is closed.
			client.close()
			sessions++
		}
	}
	middleware.ActiveWebSockets.Sub(float64(sessions))
	h.log.LogLifecycle(context.Background(), "hub_shutdown", map[string]interface{}{"sessions": sessions})
	return nil
}
