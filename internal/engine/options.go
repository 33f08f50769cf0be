package engine

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/khatirak/whisper.tflite/internal/inference"
	"github.com/khatirak/whisper.tflite/internal/mel"
	"github.com/khatirak/whisper.tflite/internal/metrics"
)

// AssetSource returns the raw filters and vocabulary asset for a model mode
type AssetSource func(multilingual bool) ([]byte, error)

// FileAssets reads the asset for each mode from its own file
func FileAssets(englishPath, multilingualPath string) AssetSource {
	return func(multilingual bool) ([]byte, error) {
		path := englishPath
		if multilingual {
			path = multilingualPath
		}
		if path == "" {
			return nil, fmt.Errorf("no asset path configured (multilingual=%v)", multilingual)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read asset file: %w", err)
		}
		return data, nil
	}
}

// Option configures an Engine
type Option func(*Engine)

// WithAssetFiles selects per-mode asset files on disk
func WithAssetFiles(englishPath, multilingualPath string) Option {
	return func(e *Engine) {
		e.assetSource = FileAssets(englishPath, multilingualPath)
	}
}

// WithAssetBytes serves the same in-memory asset for both modes
func WithAssetBytes(data []byte) Option {
	return func(e *Engine) {
		e.assetSource = func(bool) ([]byte, error) { return data, nil }
	}
}

// WithAssetSource sets a custom asset source
func WithAssetSource(src AssetSource) Option {
	return func(e *Engine) {
		e.assetSource = src
	}
}

// WithBuilder replaces the interpreter builder (TFLite by default)
func WithBuilder(b inference.Builder) Option {
	return func(e *Engine) {
		e.builder = b
	}
}

// WithExtractor replaces the log-mel feature extractor
func WithExtractor(x mel.Extractor) Option {
	return func(e *Engine) {
		e.extractor = x
	}
}

// WithThreads sets the interpreter and feature extraction thread count.
// Values <= 0 mean one thread per CPU.
func WithThreads(n int) Option {
	return func(e *Engine) {
		e.threads = n
	}
}

// WithWindowSeconds sets the expected input window length.
// LoadModel rejects anything but the model's 30 second window.
func WithWindowSeconds(n int) Option {
	return func(e *Engine) {
		e.windowSeconds = n
	}
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithMetrics enables Prometheus instrumentation
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}
