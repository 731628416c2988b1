package observability

import (
	"io"
	"log/slog"
	"strings"

	"github.com/manthysbr/umbrella/internal/core/domain"
)

// NewLogger builds the process logger from config. Unknown levels fall back
// to info.
func NewLogger(w io.Writer, cfg domain.LogConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}

	var handler slog.Handler
	switch cfg.Format {
	case "text":
		handler = slog.NewTextHandler(w, opts)
	default:
		handler = slog.NewJSONHandler(w, opts)
	}
	return slog.New(handler)
}

func parseLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo
	}
	return level
}
