package middleware

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/gofiber/fiber/v2"
)

// Logger is the context-aware logger for HTTP requests and session intents.
var Logger *slog.Logger

type contextKey string

const (
	RequestIDKey contextKey = "request_id"
	UserIDKey    contextKey = "user_id"
	TraceIDKey   contextKey = "trace_id"
	SessionIDKey contextKey = "session_id"
	IntentKey    contextKey = "intent"

	// SessionIDLocal holds the id a websocket upgrade's session runs under.
	SessionIDLocal = "sessionID"
)

var ctxAttrs = []contextKey{RequestIDKey, UserIDKey, TraceIDKey, SessionIDKey, IntentKey}

// ctxHandler copies request and session values from the context onto each
// record.
type ctxHandler struct {
	slog.Handler
}

func (h *ctxHandler) Handle(ctx context.Context, r slog.Record) error {
	for _, key := range ctxAttrs {
		if v, ok := ctx.Value(key).(string); ok && v != "" {
			r.AddAttrs(slog.String(string(key), v))
		}
	}
	return h.Handler.Handle(ctx, r)
}

func (h *ctxHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &ctxHandler{h.Handler.WithAttrs(attrs)}
}

func (h *ctxHandler) WithGroup(name string) slog.Handler {
	return &ctxHandler{h.Handler.WithGroup(name)}
}

func init() {
	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if os.Getenv("APP_ENV") == "production" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	Logger = slog.New(&ctxHandler{handler})
}

// WithSession tags ctx with the websocket session and its viewer.
func WithSession(ctx context.Context, sessionID, viewerID string) context.Context {
	ctx = context.WithValue(ctx, SessionIDKey, sessionID)
	return context.WithValue(ctx, UserIDKey, viewerID)
}

// WithIntent tags ctx with the intent type being handled.
func WithIntent(ctx context.Context, intentType string) context.Context {
	return context.WithValue(ctx, IntentKey, intentType)
}

// AssignSessionID gives a websocket upgrade request the id its session will
// run under, so the upgrade's request log and span carry it.
func AssignSessionID(newID func() string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		sid := newID()
		c.Locals(SessionIDLocal, sid)
		c.SetUserContext(context.WithValue(c.UserContext(), SessionIDKey, sid))
		return c.Next()
	}
}

func sessionID(c *fiber.Ctx) string {
	sid, _ := c.Locals(SessionIDLocal).(string)
	return sid
}

// ContextMiddleware copies request and trace ids from Fiber locals into the
// user context for the logger.
func ContextMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx := c.UserContext()
		if rid, ok := c.Locals("requestid").(string); ok {
			ctx = context.WithValue(ctx, RequestIDKey, rid)
		}
		// Auth runs per route group, after this; it adds user_id itself.
		if uid := UserID(c); uid != "" {
			ctx = context.WithValue(ctx, UserIDKey, uid)
		}
		if tid, ok := c.Locals("traceID").(string); ok {
			ctx = context.WithValue(ctx, TraceIDKey, tid)
		}
		c.SetUserContext(ctx)
		return c.Next()
	}
}

// StructuredLogger logs each request once it has been handled. Websocket
// upgrades log when the session ends, tagged with its session id.
func StructuredLogger() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		fields := []any{
			slog.Int("status", c.Response().StatusCode()),
			slog.String("method", c.Method()),
			slog.String("path", c.Path()),
			slog.String("ip", c.IP()),
			slog.Duration("latency", time.Since(start)),
		}
		ctx := c.UserContext()
		if sid := sessionID(c); sid != "" {
			ctx = context.WithValue(ctx, SessionIDKey, sid)
		}
		if err != nil {
			fields = append(fields, slog.String("error", err.Error()))
			Logger.ErrorContext(ctx, "request failed", fields...)
		} else {
			Logger.InfoContext(ctx, "request processed", fields...)
		}
		return err
	}
}
