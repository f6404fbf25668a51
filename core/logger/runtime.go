package logger

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"unicode"
)

type contextKey string

const (
	ctxRID       contextKey = "rid"
	ctxTransport contextKey = "transport"
	ctxUpdateID  contextKey = "update_id"
	ctxUserID    contextKey = "user_id"
	ctxLogger    contextKey = "logger"
	ctxHandler   contextKey = "handler"
)

func withValue(ctx context.Context, key contextKey, val string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if val == "" {
		return ctx
	}
	return context.WithValue(ctx, key, val)
}

func stringFrom(ctx context.Context, key contextKey) string {
	if ctx == nil {
		return ""
	}
	if s, ok := ctx.Value(key).(string); ok {
		return s
	}
	return ""
}

// WithLogger stores the provided slog.Logger in context for propagation across layers.
func WithLogger(ctx context.Context, log *slog.Logger) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if log == nil {
		return ctx
	}
	return context.WithValue(ctx, ctxLogger, log)
}

// FromContext extracts slog.Logger from context or returns the global default.
func FromContext(ctx context.Context) *slog.Logger {
	if ctx != nil {
		if l, ok := ctx.Value(ctxLogger).(*slog.Logger); ok {
			return l
		}
	}
	return L
}

// WithRID attaches a request correlation id.
func WithRID(ctx context.Context, rid string) context.Context {
	return withValue(ctx, ctxRID, rid)
}

// RIDFrom extracts rid from context if present.
func RIDFrom(ctx context.Context) string { return stringFrom(ctx, ctxRID) }

// WithUpdate attaches the transport name, provider update id and user id.
func WithUpdate(ctx context.Context, transport, updateID, userID string) context.Context {
	ctx = withValue(ctx, ctxTransport, transport)
	ctx = withValue(ctx, ctxUpdateID, updateID)
	return withValue(ctx, ctxUserID, userID)
}

// WithUserID attaches the conversation user id.
func WithUserID(ctx context.Context, userID string) context.Context {
	return withValue(ctx, ctxUserID, userID)
}

// UserIDFrom extracts the conversation user id.
func UserIDFrom(ctx context.Context) string { return stringFrom(ctx, ctxUserID) }

// TransportFrom extracts the transport name.
func TransportFrom(ctx context.Context) string { return stringFrom(ctx, ctxTransport) }

// UpdateIDFrom extracts the provider update id.
func UpdateIDFrom(ctx context.Context) string { return stringFrom(ctx, ctxUpdateID) }

// WithHandler stores handler identifier in context for downstream logs.
func WithHandler(ctx context.Context, handler string) context.Context {
	return withValue(ctx, ctxHandler, handler)
}

// HandlerFrom returns handler identifier from context if present.
func HandlerFrom(ctx context.Context) string { return stringFrom(ctx, ctxHandler) }

// Sanitize drops control and format runes except tab and newline.
func Sanitize(s string) string {
	if s == "" {
		return s
	}
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) || unicode.Is(unicode.Cf, r) {
			return -1
		}
		return r
	}, s)
}

// SanitizeLimit applies Sanitize and keeps at most max runes.
func SanitizeLimit(s string, max int) string {
	if max <= 0 {
		return ""
	}
	r := []rune(Sanitize(s))
	if len(r) <= max {
		return string(r)
	}
	return string(r[:max])
}

// BuildRID joins identifiers into a colon separated correlation id.
func BuildRID(parts ...string) string {
	return strings.Join(parts, ":")
}

// CompactRID rewrites an all-numeric colon separated rid into dotted base36
// segments. Other inputs are returned trimmed but otherwise unchanged.
func CompactRID(rid string) string {
	rid = strings.TrimSpace(rid)
	if rid == "" {
		return ""
	}
	parts := strings.Split(rid, ":")
	if len(parts) < 2 {
		return rid
	}
	compact := make([]string, 0, len(parts))
	for _, part := range parts {
		n, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
		if err != nil {
			return rid
		}
		compact = append(compact, strconv.FormatInt(n, 36))
	}
	return strings.Join(compact, ".")
}
