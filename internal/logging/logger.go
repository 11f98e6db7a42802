package logging

import (
	"context"
	"io"
	"log/slog"
	"strings"

	"github.com/rendis/soarkit/pkg/schema"
)

// ParseLevel maps a config level name to a slog.Level. Unknown names map to info.
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
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

// New builds the process logger: JSON records on w, correlation IDs injected
// from the context, and a fixed "service" attribute.
func New(w io.Writer, level string) *slog.Logger {
	inner := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: ParseLevel(level)})
	return slog.New(NewCorrelationHandler(inner)).With(slog.String("service", "soarkit"))
}

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// OrDiscard returns logger, or a discarding logger when it is nil.
func OrDiscard(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return Discard()
	}
	return logger
}

// LogThenError logs err at error level with its code and details and returns it
// unchanged, so call sites can write `return logging.LogThenError(...)`.
func LogThenError(ctx context.Context, logger *slog.Logger, err *schema.SoarkitError) error {
	attrs := []any{slog.String("code", err.Code)}
	if len(err.Details) > 0 {
		attrs = append(attrs, slog.Any("details", err.Details))
	}
	if err.Cause != nil {
		attrs = append(attrs, slog.String("error", err.Cause.Error()))
	}
	logger.ErrorContext(ctx, err.Message, attrs...)
	return err
}
