// Package observability provides structured logging for compressarr.
package observability

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/m-mizutani/masq"

	"github.com/jmylchreest/compressarr/internal/config"
)

// NewLogger builds the process logger from configuration, writing to stdout.
func NewLogger(cfg config.LoggingConfig) *slog.Logger {
	return NewLoggerWithWriter(cfg, os.Stdout)
}

// NewLoggerWithWriter builds a logger that writes to w. Tests pass a buffer.
//
// Attribute values carrying the `masq:"secret"` struct tag, fields named
// APIKey, and Authorization headers are redacted before the handler sees
// them, so configuration structs can be logged as-is.
func NewLoggerWithWriter(cfg config.LoggingConfig, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:       slogLevel(cfg.Level),
		AddSource:   cfg.AddSource,
		ReplaceAttr: replaceAttrs(cfg),
	}

	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	// JSON is the default; unknown formats land here too.
	return slog.New(slog.NewJSONHandler(w, opts))
}

// replaceAttrs builds the attribute rewriter: secret redaction plus the
// optional custom timestamp format.
func replaceAttrs(cfg config.LoggingConfig) func([]string, slog.Attr) slog.Attr {
	redact := masq.New(
		masq.WithTag("secret"),
		masq.WithFieldName("APIKey"),
		masq.WithFieldName("Authorization"),
	)

	return func(groups []string, a slog.Attr) slog.Attr {
		a = redact(groups, a)
		if a.Key == slog.TimeKey && cfg.TimeFormat != "" {
			if t, ok := a.Value.Any().(time.Time); ok {
				return slog.String(slog.TimeKey, t.Format(cfg.TimeFormat))
			}
		}
		return a
	}
}

// slogLevel maps the configured level string onto slog's scale. Unknown
// values get INFO.
func slogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SetDefault installs logger as the process-wide slog default.
func SetDefault(logger *slog.Logger) {
	slog.SetDefault(logger)
}

// ctxKey types the context keys so they cannot collide with other packages.
type ctxKey int

const (
	ctxKeyLogger ctxKey = iota
	ctxKeyRequestID
)

// ContextWithLogger stores logger in ctx.
func ContextWithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKeyLogger, logger)
}

// LoggerFromContext returns the logger stored in ctx, falling back to
// slog.Default.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(ctxKeyLogger).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}

// ContextWithRequestID stores a request ID in ctx. The HTTP middleware sets
// it; anything logging on behalf of that request picks it up from here.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyRequestID, id)
}

// RequestIDFromContext returns the request ID stored in ctx, or "".
func RequestIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(ctxKeyRequestID).(string); ok {
		return id
	}
	return ""
}

// WithComponent returns logger tagged with the originating component.
func WithComponent(logger *slog.Logger, component string) *slog.Logger {
	return logger.With(slog.String("component", component))
}

// WithOperation returns logger tagged with the operation in progress.
func WithOperation(logger *slog.Logger, operation string) *slog.Logger {
	return logger.With(slog.String("operation", operation))
}

// WithError returns logger tagged with err. A nil err returns logger
// unchanged.
func WithError(logger *slog.Logger, err error) *slog.Logger {
	if err == nil {
		return logger
	}
	return logger.With(slog.String("error", err.Error()))
}

// TimedOperation logs the start of an operation and returns a func to defer
// that logs its completion with the elapsed time.
//
//	done := observability.TimedOperation(ctx, logger, "scan_library")
//	defer done()
func TimedOperation(ctx context.Context, logger *slog.Logger, operation string) func() {
	return TimedOperationWithError(ctx, logger, operation, nil)
}

// TimedOperationWithError is TimedOperation for fallible operations. The
// error is read through the pointer when the returned func runs, so callers
// assign their err before the deferred call fires:
//
//	var err error
//	done := observability.TimedOperationWithError(ctx, logger, "create_backup", &err)
//	defer done()
//	err = run()
func TimedOperationWithError(ctx context.Context, logger *slog.Logger, operation string, errPtr *error) func() {
	start := time.Now()
	logger.InfoContext(ctx, "operation started", slog.String("operation", operation))

	return func() {
		attrs := []any{
			slog.String("operation", operation),
			slog.Duration("duration", time.Since(start)),
		}
		if errPtr != nil && *errPtr != nil {
			attrs = append(attrs, slog.String("error", (*errPtr).Error()))
			logger.ErrorContext(ctx, "operation failed", attrs...)
			return
		}
		logger.InfoContext(ctx, "operation completed", attrs...)
	}
}
