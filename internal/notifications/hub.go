// Package notifications is the websocket gateway plumbing: it tracks viewer
// connections and presence, and fans events out across instances over
// Redis pub/sub.
package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"vibesync/internal/observability"
	"vibesync/internal/projection"
	"vibesync/internal/remote"

	"github.com/gofiber/websocket/v2"
	"github.com/redis/go-redis/v9"
)

const (
	// Max connections per viewer
	maxConnsPerUser = 12
	// Max total connections
	maxTotalConns = 10000
)

var (
	ErrServerFull = errors.New("server connection limit reached")
	ErrUserFull   = errors.New("user connection limit reached")
)

// Hub maps viewer id -> Clients on this instance.
type Hub struct {
	mu         sync.RWMutex
	conns      map[string]map[*Client]struct{}
	totalConns int
	shutdown   chan struct{}
	done       chan struct{}
	presence   *Presence
	log        *observability.WSLogger

	onComment func(projection.CommentMutation)
	onSignOut func(userID, reason string)
}

// Name returns a human-readable identifier for this hub.
func (h *Hub) Name() string { return "session gateway" }

// NewHub creates a Hub that keeps presence records in store. rdb may be nil,
// in which case presence is tracked for this instance only.
func NewHub(rdb *redis.Client, store remote.Store, cfg PresenceConfig) *Hub {
	return &Hub{
		conns:    make(map[string]map[*Client]struct{}),
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
		presence: NewPresence(store, rdb, cfg),
		log:      observability.NewWSLogger("session gateway"),
	}
}

// UnregisterClient drops a connection and starts the offline grace timer
// when it was the viewer's last one.
func (h *Hub) UnregisterClient(client *Client) {
	h.mu.Lock()
	removedClient := false
	if m, ok := h.conns[client.UserID]; ok {
		if _, exists := m[client]; exists {
			delete(m, client)
			h.totalConns--
			removedClient = true
		}
		if len(m) == 0 {
			delete(h.conns, client.UserID)
		}
	}
	h.mu.Unlock()

	if removedClient {
		observability.WebSocketConnectionsTotal.Dec()
		h.log.LogDisconnect(context.Background(), client.UserID, "closed")
		h.presence.Disconnect(client.UserID)
	}
}

// Register a connection for a given viewer. Returns the Client or error if limits exceeded.
func (h *Hub) Register(userID string, conn *websocket.Conn) (*Client, error) {
	h.mu.Lock()

	if h.totalConns >= maxTotalConns {
		h.mu.Unlock()
		return nil, ErrServerFull
	}

	m, ok := h.conns[userID]
	if !ok {
		m = make(map[*Client]struct{})
		h.conns[userID] = m
	}

	if len(m) >= maxConnsPerUser {
		h.mu.Unlock()
		return nil, ErrUserFull
	}

	client := NewClient(h, conn, userID)
	client.OnActivity = func(uid string) {
		h.presence.Heartbeat(context.Background(), uid)
	}

	m[client] = struct{}{}
	h.totalConns++
	h.mu.Unlock()

	observability.WebSocketConnectionsTotal.Inc()
	h.log.LogConnect(context.Background(), userID)
	h.presence.Connect(context.Background(), userID)

	return client, nil
}

// OnCommentMutation sets the handler for comment mutations received from
// any instance.
func (h *Hub) OnCommentMutation(fn func(projection.CommentMutation)) {
	h.mu.Lock()
	h.onComment = fn
	h.mu.Unlock()
}

// OnSignOut sets the handler for sign-out events targeting a viewer.
func (h *Hub) OnSignOut(fn func(userID, reason string)) {
	h.mu.Lock()
	h.onSignOut = fn
	h.mu.Unlock()
}

// Broadcast sends message to all connections for userID
func (h *Hub) Broadcast(userID string, message []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.conns[userID] {
		c.TrySend(message)
	}
}

// CloseUser closes every connection of userID on this instance with a
// policy-violation close frame carrying reason. The read pumps then
// unregister the clients.
func (h *Hub) CloseUser(userID, reason string) int {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.conns[userID]))
	for c := range h.conns[userID] {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		if c.Conn == nil {
			continue
		}
		_ = c.Conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason),
			time.Now().Add(writeWait))
		if err := c.Conn.Close(); err != nil {
			h.log.LogError(context.Background(), userID, err, "close")
		}
	}
	return len(clients)
}

// IsOnline reports whether a viewer has an active connection here or, with
// Redis, on any instance.
func (h *Hub) IsOnline(userID string) bool {
	return h.presence.IsOnline(context.Background(), userID)
}

// Connections returns the number of connections on this instance.
func (h *Hub) Connections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.totalConns
}

// BroadcastAll sends message to every connected websocket client.
func (h *Hub) BroadcastAll(message []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, clients := range h.conns {
		for c := range clients {
			c.TrySend(message)
		}
	}
}

// StartWiring connects the Notifier to this hub: pub/sub messages are routed
// to viewer connections and to the comment and sign-out handlers.
func (h *Hub) StartWiring(ctx context.Context, n *Notifier) error {
	return n.StartPatternSubscriber(ctx, func(channel, payload string) {
		h.dispatch(channel, payload)
	})
}

func (h *Hub) dispatch(channel, payload string) {
	switch {
	case channel == broadcastChannel:
		h.BroadcastAll([]byte(payload))
	case channel == commentsChannel:
		var mut projection.CommentMutation
		if err := json.Unmarshal([]byte(payload), &mut); err != nil || mut.PostID == "" {
			observability.GlobalLogger.Warn("invalid comment mutation", slog.String("payload", payload))
			return
		}
		h.mu.RLock()
		fn := h.onComment
		h.mu.RUnlock()
		if fn != nil {
			fn(mut)
		}
	case strings.HasPrefix(channel, userChannelPrefix):
		userID := strings.TrimPrefix(channel, userChannelPrefix)
		if userID == "" {
			observability.GlobalLogger.Warn("invalid notification channel", slog.String("channel", channel))
			return
		}
		var ev UserEvent
		if err := json.Unmarshal([]byte(payload), &ev); err == nil && ev.Type == EventSignOut {
			h.mu.RLock()
			fn := h.onSignOut
			h.mu.RUnlock()
			if fn != nil {
				fn(userID, ev.Reason)
			}
			return
		}
		h.Broadcast(userID, []byte(payload))
	default:
		observability.GlobalLogger.Warn("invalid notification channel", slog.String("channel", channel))
	}
}

// Shutdown gracefully closes all websocket connections
func (h *Hub) Shutdown(_ context.Context) error {
	select {
	case <-h.shutdown:
		return nil
	default:
	}
	close(h.shutdown)
	h.presence.Stop()

	h.mu.Lock()
	for userID, userConns := range h.conns {
		for client := range userConns {
			if client.Conn == nil {
				continue
			}
			if err := client.Conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "Server shutting down")); err != nil {
				h.log.LogError(context.Background(), userID, err, "close")
			}
			if err := client.Conn.Close(); err != nil {
				h.log.LogError(context.Background(), userID, err, "close")
			}
		}
	}
	h.conns = make(map[string]map[*Client]struct{})
	h.totalConns = 0
	h.mu.Unlock()

	close(h.done)
	return nil
}
