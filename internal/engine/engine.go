package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/khatirak/whisper.tflite/internal/asset"
	"github.com/khatirak/whisper.tflite/internal/audio"
	"github.com/khatirak/whisper.tflite/internal/inference"
	"github.com/khatirak/whisper.tflite/internal/mel"
	"github.com/khatirak/whisper.tflite/internal/metrics"
	"github.com/khatirak/whisper.tflite/internal/token"
)

// WindowSamples is the fixed number of samples the model consumes per call (30s at 16kHz)
const WindowSamples = mel.SampleRate * mel.ChunkSize

// State is the lifecycle state of an Engine
type State int

const (
	StateUninitialized State = iota
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Engine owns a loaded model, its decoded assets and the interpreter built from it.
// All operations are serialized.
type Engine struct {
	mu    sync.Mutex
	state State

	assets       *asset.Assets
	model        []byte
	interp       inference.Interpreter
	modelPath    string
	multilingual bool

	assetSource   AssetSource
	builder       inference.Builder
	extractor     mel.Extractor
	threads       int
	windowSeconds int
	logger        *slog.Logger
	metrics       *metrics.Metrics

	statsMu sync.RWMutex
	stats   Stats
}

// Stats is a snapshot of engine activity
type Stats struct {
	State             string        `json:"state"`
	ModelPath         string        `json:"model_path,omitempty"`
	Multilingual      bool          `json:"multilingual"`
	ModelBytes        int           `json:"model_bytes"`
	VocabularySize    int           `json:"vocabulary_size"`
	Threads           int           `json:"threads"`
	Transcriptions    uint64        `json:"transcriptions"`
	Failures          uint64        `json:"failures"`
	MissingTokens     uint64        `json:"missing_tokens"`
	LastSpectrogram   time.Duration `json:"last_spectrogram_ns"`
	LastInference     time.Duration `json:"last_inference_ns"`
	LastTranscription time.Time     `json:"last_transcription"`
}

// New creates an unloaded engine
func New(opts ...Option) *Engine {
	e := &Engine{
		builder:   inference.NewTFLite,
		extractor: mel.LogMelSpectrogram,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.threads <= 0 {
		e.threads = runtime.NumCPU()
	}
	if e.windowSeconds == 0 {
		e.windowSeconds = mel.ChunkSize
	}
	if e.assetSource == nil {
		e.assetSource = func(bool) ([]byte, error) {
			return nil, errors.New("no asset source configured")
		}
	}
	e.stats.State = e.state.String()
	e.stats.Threads = e.threads
	return e
}

// State returns the current lifecycle state
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// LoadModel decodes the mode's assets, reads the model file and builds the interpreter.
// Calling it again once loaded is a no-op. A build failure leaves the engine in StateFailed.
func (e *Engine) LoadModel(ctx context.Context, modelPath string, multilingual bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.state {
	case StateReady:
		e.logger.Debug("Model already loaded", slog.String("model_path", e.modelPath))
		return nil
	case StateFailed:
		return fmt.Errorf("%w: engine is unusable after a previous failure", ErrEngineBuildFailed)
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	if e.windowSeconds != mel.ChunkSize {
		return fmt.Errorf("%w: got %ds, the model takes %ds", ErrUnsupportedWindow, e.windowSeconds, mel.ChunkSize)
	}

	start := time.Now()

	raw, err := e.assetSource(multilingual)
	if err != nil {
		e.metrics.RecordModelLoad(false, 0, 0)
		return fmt.Errorf("failed to load filters and vocabulary: %w", err)
	}

	assets, err := asset.Decode(raw, multilingual)
	if err != nil {
		e.metrics.RecordModelLoad(false, 0, 0)
		return fmt.Errorf("failed to decode filters and vocabulary: %w", err)
	}

	e.logger.Info("Filters and vocabulary decoded",
		slog.Int("mel_bins", assets.Filters.MelBins),
		slog.Int("fft_size", assets.Filters.FFTSize),
		slog.Int("explicit_tokens", assets.ExplicitTokens),
		slog.Int("vocabulary_size", assets.Vocab.Size()),
		slog.Bool("multilingual", multilingual))

	model, err := os.ReadFile(modelPath)
	if err != nil {
		e.metrics.RecordModelLoad(false, 0, 0)
		return fmt.Errorf("%w: %v", ErrModelFileUnreadable, err)
	}

	interp, err := e.build(model, assets)
	if err != nil {
		e.state = StateFailed
		e.setStats(func(s *Stats) { s.State = e.state.String() })
		e.metrics.RecordModelLoad(false, 0, 0)
		e.logger.Error("Failed to build interpreter", slog.String("model_path", modelPath), slog.Any("error", err))
		return err
	}

	e.assets = assets
	e.model = model
	e.interp = interp
	e.modelPath = modelPath
	e.multilingual = multilingual
	e.state = StateReady

	elapsed := time.Since(start)
	e.metrics.RecordModelLoad(true, elapsed.Seconds(), assets.Vocab.Size())
	e.setStats(func(s *Stats) {
		s.State = e.state.String()
		s.ModelPath = modelPath
		s.Multilingual = multilingual
		s.ModelBytes = len(model)
		s.VocabularySize = assets.Vocab.Size()
	})

	e.logger.Info("Model loaded",
		slog.String("model_path", modelPath),
		slog.Int("model_bytes", len(model)),
		slog.Int("threads", e.threads),
		slog.Duration("elapsed", elapsed))

	return nil
}

// build creates the interpreter and allocates its tensors. The interpreter is closed on any failure.
func (e *Engine) build(model []byte, assets *asset.Assets) (_ inference.Interpreter, err error) {
	interp, err := e.builder(model, e.threads)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEngineBuildFailed, err)
	}
	if interp == nil {
		return nil, fmt.Errorf("%w: builder returned no interpreter", ErrEngineBuildFailed)
	}

	defer func() {
		if err != nil {
			interp.Close()
		}
	}()

	if err := interp.AllocateTensors(); err != nil {
		return nil, fmt.Errorf("%w: failed to allocate tensors: %v", ErrEngineBuildFailed, err)
	}

	input, err := interp.InputFloat32s(0)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEngineBuildFailed, err)
	}
	if want := assets.Filters.MelBins * mel.Frames; len(input) < want {
		return nil, fmt.Errorf("%w: input tensor holds %d values, need %d", ErrEngineBuildFailed, len(input), want)
	}

	return interp, nil
}

// TranscribeFile normalizes a WAV file and transcribes its first window
func (e *Engine) TranscribeFile(ctx context.Context, path string) (string, error) {
	if e.State() != StateReady {
		return "", ErrNotInitialized
	}

	samples, h, err := audio.ReadWAVFile(path)
	if err != nil {
		e.metrics.RecordAudioDecoded(false, 0)
		return "", err
	}
	duration := float64(len(samples)) / audio.TargetSampleRate
	e.metrics.RecordAudioDecoded(true, duration)

	e.logger.Debug("WAV file normalized",
		slog.String("path", path),
		slog.String("format", h.FormatName()),
		slog.Int("channels", h.Channels),
		slog.Int("sample_rate", h.SampleRate),
		slog.Int("bits_per_sample", h.BitsPerSample),
		slog.Int("samples", len(samples)))

	if len(samples) == 0 {
		return "", fmt.Errorf("%s: %w", path, &audio.FormatError{Kind: audio.ErrUnreadable, Detail: "no audio samples"})
	}

	return e.TranscribeBuffer(ctx, samples)
}

// TranscribeBuffer transcribes 16kHz mono samples. Input longer than 30 seconds is truncated,
// shorter input is zero padded. samples is not modified.
func (e *Engine) TranscribeBuffer(ctx context.Context, samples []float32) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StateReady {
		return "", ErrNotInitialized
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	e.metrics.RecordTranscriptionRequest()
	start := time.Now()

	res, timings, err := e.transcribe(ctx, samples)
	if err != nil {
		e.setStats(func(s *Stats) { s.Failures++ })
		e.metrics.RecordTranscriptionFailure(failureReason(err))
		return "", err
	}

	elapsed := time.Since(start)
	e.metrics.RecordTranscriptionSuccess(elapsed.Seconds(), res.Emitted, len(res.Missing))
	e.setStats(func(s *Stats) {
		s.Transcriptions++
		s.MissingTokens += uint64(len(res.Missing))
		s.LastSpectrogram = timings.spectrogram
		s.LastInference = timings.inference
		s.LastTranscription = time.Now()
	})

	e.logger.Info("Transcription complete",
		slog.Int("tokens", res.Consumed),
		slog.Int("emitted", res.Emitted),
		slog.Duration("spectrogram", timings.spectrogram),
		slog.Duration("inference", timings.inference),
		slog.Duration("elapsed", elapsed))

	return res.Text, nil
}

type stageTimings struct {
	spectrogram time.Duration
	inference   time.Duration
}

func (e *Engine) transcribe(ctx context.Context, samples []float32) (token.Result, stageTimings, error) {
	var timings stageTimings

	window := fitWindow(samples)
	switch {
	case len(samples) < WindowSamples:
		e.logger.Debug("Padded audio to window", slog.Int("samples", len(samples)), slog.Int("window", WindowSamples))
	case len(samples) > WindowSamples:
		e.logger.Debug("Truncated audio to window", slog.Int("samples", len(samples)), slog.Int("window", WindowSamples))
	}

	params := mel.DefaultParams(e.threads)
	params.MelBins = e.assets.Filters.MelBins

	stageStart := time.Now()
	feats, err := e.extractor(ctx, window, params, &e.assets.Filters)
	if err != nil {
		return token.Result{}, timings, fmt.Errorf("%w: %v", ErrFeatureExtractionFailed, err)
	}
	timings.spectrogram = time.Since(stageStart)
	e.metrics.RecordStage("spectrogram", timings.spectrogram.Seconds())

	input, err := e.interp.InputFloat32s(0)
	if err != nil {
		return token.Result{}, timings, fmt.Errorf("%w: %v", ErrInferenceFailed, err)
	}
	if len(feats.Data) > len(input) {
		return token.Result{}, timings, fmt.Errorf("%w: %d features do not fit input tensor of %d", ErrFeatureExtractionFailed, len(feats.Data), len(input))
	}
	n := copy(input, feats.Data)
	clear(input[n:])

	stageStart = time.Now()
	e.interp.SetNumThreads(e.threads)
	if err := e.interp.Invoke(); err != nil {
		return token.Result{}, timings, fmt.Errorf("%w: %v", ErrInferenceFailed, err)
	}
	timings.inference = time.Since(stageStart)
	e.metrics.RecordStage("inference", timings.inference.Seconds())

	output, err := e.interp.OutputInt32s(0)
	if err != nil {
		return token.Result{}, timings, fmt.Errorf("%w: %v", ErrInferenceFailed, err)
	}
	size := len(output)
	if dims := e.interp.OutputDims(0); len(dims) > 0 && dims[len(dims)-1] < size {
		size = dims[len(dims)-1]
	}

	res := token.Decode(output[:size], e.assets.Vocab, e.assets.Reserved)
	if res.StoppedAtEOT {
		e.logger.Debug("End of text reached", slog.Int("position", res.EOTIndex))
	}
	for _, id := range res.Missing {
		e.logger.Debug("Token not in vocabulary", slog.Int("token", int(id)))
	}

	return res, timings, nil
}

// fitWindow returns a copy of samples padded with zeros or truncated to WindowSamples
func fitWindow(samples []float32) []float32 {
	window := make([]float32, WindowSamples)
	copy(window, samples)
	return window
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrFeatureExtractionFailed):
		return "feature_extraction"
	case errors.Is(err, ErrInferenceFailed):
		return "inference"
	default:
		return "other"
	}
}

// FreeModel releases the interpreter, model buffer and assets and returns the engine to StateUninitialized.
// It does nothing unless a model is loaded.
func (e *Engine) FreeModel() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StateReady {
		return
	}

	freed := len(e.model)
	if e.interp != nil {
		e.interp.Close()
	}
	e.interp = nil
	e.model = nil
	e.assets = nil
	e.modelPath = ""
	e.state = StateUninitialized

	e.metrics.RecordModelFreed()
	e.setStats(func(s *Stats) {
		s.State = e.state.String()
		s.ModelPath = ""
		s.ModelBytes = 0
		s.VocabularySize = 0
	})

	e.logger.Info("Model freed", slog.Int("model_bytes", freed))
}

// Stats returns a snapshot of engine statistics
func (e *Engine) Stats() Stats {
	e.statsMu.RLock()
	defer e.statsMu.RUnlock()
	return e.stats
}

func (e *Engine) setStats(update func(*Stats)) {
	e.statsMu.Lock()
	update(&e.stats)
	e.statsMu.Unlock()
}
