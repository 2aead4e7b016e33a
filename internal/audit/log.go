package audit

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"tenantgov.org/internal/auth"
	"tenantgov.org/internal/obs"
)

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext extracts the audit request id from context if present.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// LogEvent writes an audit record to the process logger.
func LogEvent(ctx context.Context, event string, fields map[string]any) error {
	return LogEventTo(ctx, obs.Logger(), event, fields)
}

// LogEventTo writes an audit record enriched with the request and security context.
func LogEventTo(ctx context.Context, l *slog.Logger, event string, fields map[string]any) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("event name is required")
	}
	attrs := []slog.Attr{
		slog.String("type", "audit"),
		slog.String("event", event),
	}
	if rid := RequestIDFromContext(ctx); rid != "" {
		attrs = append(attrs, slog.String("request_id", rid))
	}
	if sc, ok := auth.SecurityFromContext(ctx); ok {
		attrs = append(attrs,
			slog.Int64("tenant_id", sc.TenantID().Int64()),
			slog.String("auth_method", sc.AuthMethod().String()),
		)
		if !sc.UserID().IsZero() {
			attrs = append(attrs, slog.String("user_id", sc.UserID().String()))
		}
		if cid := sc.CorrelationID(); cid != "" {
			attrs = append(attrs, slog.String("correlation_id", cid))
		}
	}
	group := make([]any, 0, len(fields)*2)
	for k, v := range fields {
		group = append(group, slog.Any(k, v))
	}
	attrs = append(attrs, slog.Group("fields", group...))
	obs.Or(l).LogAttrs(ctx, slog.LevelInfo, "audit", attrs...)
	return nil
}
