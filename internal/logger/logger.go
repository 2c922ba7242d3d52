package logger

import (
	"io"
	"log/slog"
	"os"

	"github.com/golang-cz/devslog"

	"github.com/vmxmy/invoice-assistant-v2-sub001/internal/types"
)

// Setup creates a new logger based on configuration
func Setup(cfg *types.Config) *slog.Logger {
	var level slog.Level
	switch cfg.Logging.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: cfg.Logging.IncludeCaller,
	}

	var out io.Writer = os.Stdout
	if cfg.Logging.Output == "file" && cfg.Logging.FilePath != "" {
		if f, err := os.OpenFile(cfg.Logging.FilePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644); err == nil {
			out = f
		}
	}

	var handler slog.Handler
	switch cfg.Logging.Format {
	case "json":
		handler = slog.NewJSONHandler(out, opts)
	case "pretty":
		// colorized development output
		handler = devslog.NewHandler(out, &devslog.Options{HandlerOptions: opts})
	default:
		handler = slog.NewTextHandler(out, opts)
	}

	return slog.New(handler)
}
