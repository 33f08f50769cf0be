package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/khatirak/whisper.tflite/internal/audio"
	"github.com/khatirak/whisper.tflite/internal/config"
	"github.com/khatirak/whisper.tflite/internal/engine"
	"github.com/khatirak/whisper.tflite/internal/logging"
	"github.com/khatirak/whisper.tflite/internal/transcription"
)

const defaultConfigPath = "configs/config.yaml"

// result is one line of output
type result struct {
	Path     string  `json:"path"`
	Text     string  `json:"text,omitempty"`
	Duration float64 `json:"duration_seconds"`
	Error    string  `json:"error,omitempty"`
}

// clip is a normalized input waiting for the engine
type clip struct {
	path    string
	samples []float32
	header  audio.Header
	err     error
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run executes the command and returns the process exit code.
// Deferred cleanup runs before the caller exits.
func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("transcribe", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", defaultConfigPath, "Path to configuration file")
	modelPath := fs.String("model", "", "Override engine.model_path")
	multilingual := fs.Bool("multilingual", false, "Load the multilingual vocabulary (overrides engine.multilingual when set)")
	format := fs.String("format", "text", "Output format: text or json")
	dumpDir := fs.String("dump-wav", "", "Write each normalized 16kHz mono input to this directory")
	remote := fs.String("remote", "", "Upload files to a running server's /transcribe URL instead of loading a model")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: transcribe [flags] file.wav [file.wav ...]\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return 2
	}

	if fs.NArg() == 0 {
		fs.Usage()
		return 2
	}
	if *format != "text" && *format != "json" {
		fmt.Fprintf(stderr, "format must be 'text' or 'json', got '%s'\n", *format)
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *remote != "" {
		logger, logCloser := logging.New(config.LoggingConfig{Level: "info", Format: "text", Output: "stderr"})
		defer logCloser.Close()
		if runRemote(ctx, logger, *remote, fs.Args(), *format, stdout, stderr) > 0 {
			return 1
		}
		return 0
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to load configuration: %v\n", err)
		return 1
	}
	if *modelPath != "" {
		cfg.Engine.ModelPath = *modelPath
	}
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "multilingual" {
			cfg.Engine.Multilingual = *multilingual
		}
	})

	// Diagnostics go to stderr so stdout only carries transcripts
	if cfg.Logging.Output == "" || cfg.Logging.Output == "stdout" {
		cfg.Logging.Output = "stderr"
	}
	logger, logCloser := logging.New(cfg.Logging)
	defer logCloser.Close()

	eng := engine.New(
		engine.WithAssetFiles(cfg.Engine.EnglishAssetPath, cfg.Engine.MultilingualAssetPath),
		engine.WithThreads(cfg.Engine.Threads),
		engine.WithWindowSeconds(cfg.Engine.WindowSeconds),
		engine.WithLogger(logger),
	)

	if err := eng.LoadModel(ctx, cfg.Engine.ModelPath, cfg.Engine.Multilingual); err != nil {
		logger.Error("Failed to load model", slog.String("error", err.Error()))
		return 1
	}
	defer eng.FreeModel()

	clips, err := normalizeAll(ctx, fs.Args(), *dumpDir)
	if err != nil {
		logger.Error("Failed to prepare inputs", slog.String("error", err.Error()))
		return 1
	}

	failed := 0
	for _, c := range clips {
		res := result{Path: c.path, Duration: float64(len(c.samples)) / audio.TargetSampleRate}

		switch {
		case c.err != nil:
			res.Error = c.err.Error()
		case len(c.samples) == 0:
			res.Error = "no audio samples"
		default:
			start := time.Now()
			text, err := eng.TranscribeBuffer(ctx, c.samples)
			if err != nil {
				res.Error = err.Error()
			} else {
				res.Text = text
				logger.Debug("Transcribed file",
					slog.String("path", c.path),
					slog.String("format", c.header.FormatName()),
					slog.Duration("elapsed", time.Since(start)))
			}
		}

		if res.Error != "" {
			failed++
		}
		if err := printResult(stdout, stderr, *format, res); err != nil {
			logger.Error("Failed to write result", slog.String("error", err.Error()))
			return 1
		}
	}

	if failed > 0 {
		logger.Warn("Some files failed", slog.Int("failed", failed), slog.Int("total", len(clips)))
		return 1
	}
	return 0
}

// printResult writes one result as a JSON line or as "path: text"
func printResult(stdout, stderr io.Writer, format string, res result) error {
	if format == "json" {
		return json.NewEncoder(stdout).Encode(res)
	}
	if res.Error != "" {
		_, err := fmt.Fprintf(stderr, "%s: error: %s\n", res.Path, res.Error)
		return err
	}
	_, err := fmt.Fprintf(stdout, "%s: %s\n", res.Path, strings.TrimSpace(res.Text))
	return err
}

// runRemote uploads every file concurrently and prints results in argument order.
// It returns the number of failed files.
func runRemote(ctx context.Context, logger *slog.Logger, endpoint string, paths []string, format string, stdout, stderr io.Writer) int {
	client, err := transcription.NewClient(transcription.Config{Endpoint: endpoint})
	if err != nil {
		logger.Error("Failed to create client", slog.String("error", err.Error()))
		return len(paths)
	}
	defer client.Close()

	results := make([]result, len(paths))

	g, gctx := errgroup.WithContext(ctx)
	for i, path := range paths {
		i, path := i, path
		g.Go(func() error {
			res := result{Path: path}
			resp, err := client.TranscribeFile(gctx, path)
			if err != nil {
				res.Error = err.Error()
			} else {
				res.Text = resp.Text
				res.Duration = float64(resp.Samples) / audio.TargetSampleRate
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		logger.Error("Remote transcription aborted", slog.String("error", err.Error()))
		return len(paths)
	}

	failed := 0
	for _, res := range results {
		if res.Error != "" {
			failed++
		}
		if err := printResult(stdout, stderr, format, res); err != nil {
			logger.Error("Failed to write result", slog.String("error", err.Error()))
			return len(paths)
		}
	}

	stats := client.GetStats()
	logger.Info("Remote transcription finished",
		slog.Uint64("requests", stats.TotalRequests),
		slog.Uint64("retries", stats.TotalRetries),
		slog.Duration("avg_response_time", stats.AvgResponseTime),
		slog.Int("failed", failed))

	return failed
}

// normalizeAll decodes every input concurrently. Per-file failures are kept on the clip;
// the returned error is reserved for cancellation and dump failures.
func normalizeAll(ctx context.Context, paths []string, dumpDir string) ([]clip, error) {
	clips := make([]clip, len(paths))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())

	for i, path := range paths {
		i, path := i, path
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}

			samples, h, err := audio.ReadWAVFile(path)
			clips[i] = clip{path: path, samples: samples, header: h, err: err}
			if err != nil || dumpDir == "" {
				return nil
			}
			return dump(dumpDir, path, samples)
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return clips, nil
}

// dump writes samples as a 16-bit 16kHz WAV named after the source file
func dump(dir, path string, samples []float32) error {
	if len(samples) == 0 {
		return nil
	}

	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)) + ".16k.wav"
	f, err := os.Create(filepath.Join(dir, name))
	if err != nil {
		return fmt.Errorf("failed to create dump file: %w", err)
	}
	defer f.Close()

	if err := audio.WriteWAV(f, samples, audio.TargetSampleRate); err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	return nil
}
