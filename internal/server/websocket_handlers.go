package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"vibesync/internal/middleware"
	"vibesync/internal/models"
	"vibesync/internal/notifications"
	"vibesync/internal/observability"
	"vibesync/internal/service"
	"vibesync/internal/session"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	wsTicketTTL       = 30 * time.Second
	wsTicketKeyPrefix = "ws_ticket:"
)

// ticketStore holds single-use websocket tickets. Browsers cannot set
// headers on the upgrade request, so a ticket issued over an authenticated
// call stands in for the bearer token. Without Redis tickets live in process.
type ticketStore struct {
	rdb *redis.Client
	ttl time.Duration

	mu    sync.Mutex
	local map[string]localTicket
}

type localTicket struct {
	userID  string
	expires time.Time
}

func newTicketStore(rdb *redis.Client) *ticketStore {
	return &ticketStore{rdb: rdb, ttl: wsTicketTTL, local: make(map[string]localTicket)}
}

func (t *ticketStore) Issue(ctx context.Context, userID string) (string, error) {
	ticket := uuid.NewString()
	if t.rdb != nil {
		if err := t.rdb.Set(ctx, wsTicketKeyPrefix+ticket, userID, t.ttl).Err(); err != nil {
			return "", fmt.Errorf("store ticket: %w", err)
		}
		return ticket, nil
	}

	now := time.Now()
	t.mu.Lock()
	for k, v := range t.local {
		if now.After(v.expires) {
			delete(t.local, k)
		}
	}
	t.local[ticket] = localTicket{userID: userID, expires: now.Add(t.ttl)}
	t.mu.Unlock()
	return ticket, nil
}

// Consume returns the ticket's user and invalidates it.
func (t *ticketStore) Consume(ctx context.Context, ticket string) (string, bool) {
	if ticket == "" {
		return "", false
	}
	if t.rdb != nil {
		uid, err := t.rdb.GetDel(ctx, wsTicketKeyPrefix+ticket).Result()
		if err != nil || uid == "" {
			return "", false
		}
		return uid, true
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.local[ticket]
	delete(t.local, ticket)
	if !ok || time.Now().After(entry.expires) {
		return "", false
	}
	return entry.userID, true
}

// IssueWSTicket handles POST /api/ws/ticket
func (s *Server) IssueWSTicket(c *fiber.Ctx) error {
	ticket, err := s.tickets.Issue(c.UserContext(), middleware.UserID(c))
	if err != nil {
		return respondError(c, models.NewInternalError(err))
	}
	return c.JSON(fiber.Map{
		"ticket":     ticket,
		"expires_in": int(wsTicketTTL.Seconds()),
	})
}

// wsAuth authenticates the upgrade request with a ticket, falling back to a
// token in the query or the Authorization header.
func (s *Server) wsAuth() fiber.Handler {
	tokenAuth := middleware.WebSocketAuthRequired(s.verifier)
	return func(c *fiber.Ctx) error {
		ticket := c.Query("ticket")
		if ticket == "" {
			return tokenAuth(c)
		}
		uid, ok := s.tickets.Consume(c.UserContext(), ticket)
		if !ok {
			return models.RespondWithError(c, fiber.StatusUnauthorized,
				models.NewUnauthorizedError("Invalid or expired WebSocket ticket"))
		}
		middleware.SetUserID(c, uid)
		return c.Next()
	}
}

func requireUpgrade(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

func (s *Server) sessionConfig() session.Config {
	cfg := session.Config{}
	if s.config != nil {
		cfg.FeedPageSize = s.config.FeedPageSize
		cfg.CommentPageSize = s.config.CommentPageSize
		cfg.NotificationWindow = s.config.NotificationWindow
		cfg.StoryTick = s.config.StoryTick()
	}
	return cfg
}

// SessionGateway runs one session per websocket connection. Frames from the
// session are queued on the client's send buffer; intents read from the
// peer are posted to the session loop.
func (s *Server) SessionGateway() fiber.Handler {
	return websocket.New(func(conn *websocket.Conn) {
		uid, _ := conn.Locals("userID").(string)
		if uid == "" {
			_ = conn.WriteJSON(session.Frame{Type: session.FrameError, Code: models.CodeUnauthorized, Message: "unauthorized"})
			_ = conn.Close()
			return
		}

		client, err := s.hub.Register(uid, conn)
		if err != nil {
			observability.GlobalLogger.Warn("session gateway rejected connection",
				slog.String("viewer_id", uid),
				slog.String("error", err.Error()),
			)
			_ = conn.WriteJSON(session.Frame{Type: session.FrameError, Code: models.CodeForbidden, Message: err.Error()})
			_ = conn.Close()
			return
		}

		identity := session.NewConnIdentity(uid, func(_ context.Context, reason string) error {
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason),
				time.Now().Add(time.Second))
			return conn.Close()
		})

		deps := session.Deps{
			Store:    s.store,
			Identity: identity,
			Sink:     session.SinkFunc(func(f session.Frame) { client.SendJSON(f) }),
		}
		if s.svc.Notifications != nil && s.svc.Chat != nil {
			deps.Actions = service.SessionActions{NotificationService: s.svc.Notifications, ChatService: s.svc.Chat}
		}
		if s.svc.Alerts != nil {
			deps.Alerts = s.svc.Alerts
		}

		sid, _ := conn.Locals(middleware.SessionIDLocal).(string)
		if sid == "" {
			sid = models.NewID()
		}
		sessCtx := middleware.WithSession(context.Background(), sid, uid)
		sess := session.New(sid, s.sessionConfig(), deps)
		client.IncomingHandler = func(c *notifications.Client, message []byte) {
			var in session.Intent
			if err := json.Unmarshal(message, &in); err != nil || in.Type == "" {
				middleware.Logger.WarnContext(sessCtx, "invalid intent", slog.Int("bytes", len(message)))
				c.SendJSON(session.Frame{Type: session.FrameError, Code: models.CodeValidation, Message: "invalid intent"})
				return
			}
			ctx, span := middleware.StartIntentSpan(sessCtx, in.Type)
			middleware.Logger.DebugContext(ctx, "intent received")
			sess.Handle(in)
			span.End()
		}

		s.sessions.Add(sess)
		sess.Start()
		defer s.sessions.Remove(sess)

		go client.WritePump()
		client.ReadPump()
	})
}

// signOut ends every session of userID, on all instances when the
// notifier is wired.
func (s *Server) signOut(ctx context.Context, userID, reason string) {
	if s.notifier.Enabled() {
		err := s.notifier.PublishSignOut(ctx, userID, reason)
		if err == nil {
			return
		}
		if !errors.Is(err, context.Canceled) {
			observability.GlobalLogger.WarnContext(ctx, "publish sign-out failed, closing locally",
				slog.String("viewer_id", userID),
				slog.String("error", err.Error()),
			)
		}
	}
	s.hub.CloseUser(userID, reason)
}
