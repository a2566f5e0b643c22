// Package logger configures slog for the service and threads request scope
// (request, organization and actor IDs) onto records.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/nintynick/openclaw-mission-control-sub001/internal/config"
)

// New returns the process logger writing to stdout. Every record carries
// "service"; records logged with a request context also carry request_id,
// organization_id and actor_id once known. With cfg.Async the handler is
// buffered and the returned Closer must be closed on shutdown to flush it.
func New(cfg config.Logging) (*slog.Logger, Closer) {
	return newLogger(cfg, os.Stdout)
}

func newLogger(cfg config.Logging, w io.Writer) (*slog.Logger, Closer) {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}
	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}

	var closer Closer = nopCloser{}
	if cfg.Async {
		async := NewAsyncHandler(handler, 4096, 2)
		handler, closer = async, async
	}
	return slog.New(contextHandler{handler}).With("service", cfg.Service), closer
}

// contextHandler copies request-scoped values from the context onto records.
type contextHandler struct {
	slog.Handler
}

func (h contextHandler) Handle(ctx context.Context, rec slog.Record) error { //nolint:gocritic // slog.Handler interface requires value receiver
	s := scopeFrom(ctx)
	if s == nil {
		return h.Handler.Handle(ctx, rec)
	}
	rec.AddAttrs(slog.String("request_id", s.requestID))
	if org, actor := Tenant(ctx); org != "" {
		rec.AddAttrs(slog.String("organization_id", org))
		if actor != "" {
			rec.AddAttrs(slog.String("actor_id", actor))
		}
	}
	return h.Handler.Handle(ctx, rec)
}

func (h contextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return contextHandler{h.Handler.WithAttrs(attrs)}
}

func (h contextHandler) WithGroup(name string) slog.Handler {
	return contextHandler{h.Handler.WithGroup(name)}
}

// parseLevel converts a string log level to slog.Level.
func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
