package middleware

import (
	"context"

	"vibesync/internal/observability"

	"github.com/gofiber/fiber/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// TracingMiddleware opens a server span per request, named by route.
func TracingMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx := otel.GetTextMapPropagator().Extract(c.UserContext(), propagation.HeaderCarrier(c.GetReqHeaders()))
		ctx, span := observability.Tracer.Start(ctx, c.Method()+" "+c.Path(),
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.method", c.Method()),
				attribute.String("http.path", c.Path()),
				attribute.String("http.ip", c.IP()),
			),
		)
		defer span.End()

		traceID := span.SpanContext().TraceID().String()
		c.Locals("traceID", traceID)
		if rid, ok := c.Locals("requestid").(string); ok {
			span.SetAttributes(attribute.String("request.id", rid))
		}
		c.Set("X-Trace-ID", traceID)
		c.SetUserContext(ctx)

		err := c.Next()

		span.SetName(c.Method() + " " + c.Route().Path)
		span.SetAttributes(attribute.Int("http.status_code", c.Response().StatusCode()))
		if err != nil {
			span.RecordError(err)
		}
		if uid := UserID(c); uid != "" {
			span.SetAttributes(attribute.String("viewer.id", uid))
		}
		if sid := sessionID(c); sid != "" {
			span.SetAttributes(attribute.String("ws.session.id", sid))
		}
		return err
	}
}

// StartIntentSpan opens a span for one intent read off a session's socket.
// ctx should come from WithSession.
func StartIntentSpan(ctx context.Context, intentType string) (context.Context, trace.Span) {
	ctx = WithIntent(ctx, intentType)
	attrs := []attribute.KeyValue{attribute.String("ws.intent", intentType)}
	if sid, ok := ctx.Value(SessionIDKey).(string); ok {
		attrs = append(attrs, attribute.String("ws.session.id", sid))
	}
	if uid, ok := ctx.Value(UserIDKey).(string); ok {
		attrs = append(attrs, attribute.String("viewer.id", uid))
	}
	return observability.Tracer.Start(ctx, "intent "+intentType,
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(attrs...),
	)
}
