package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/khatirak/whisper.tflite/internal/config"
)

// ParseLevel maps a configured level name to a slog level, defaulting to info
func ParseLevel(name string) slog.Level {
	switch name {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo // default fallback
	}
}

// New creates and configures the structured logger based on configuration.
// The returned closer releases a log file and is a no-op for stdout and stderr.
func New(cfg config.LoggingConfig) (*slog.Logger, io.Closer) {
	level := ParseLevel(cfg.Level)

	// Configure handler options
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug, // Add source info for debug level
	}

	// Determine output destination
	var output io.Writer
	var closer io.Closer = nopCloser{}
	switch cfg.Output {
	case "stderr":
		output = os.Stderr
	case "stdout", "":
		output = os.Stdout
	default:
		// Assume it's a file path
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stdout\n", cfg.Output, err)
			output = os.Stdout
		} else {
			output = file
			closer = file
		}
	}

	return slog.New(newHandler(output, cfg.Format, opts)), closer
}

func newHandler(w io.Writer, format string, opts *slog.HandlerOptions) slog.Handler {
	switch format {
	case "json":
		return slog.NewJSONHandler(w, opts)
	default:
		return slog.NewTextHandler(w, opts)
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
