package engine

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/khatirak/whisper.tflite/internal/asset"
	"github.com/khatirak/whisper.tflite/internal/audio"
	"github.com/khatirak/whisper.tflite/internal/inference"
	"github.com/khatirak/whisper.tflite/internal/mel"
)

// fakeInterpreter is an in-memory inference.Interpreter
type fakeInterpreter struct {
	input  []float32
	output []int32
	dims   []int

	allocErr  error
	invokeErr error

	threads int
	invokes int
	closed  int
}

func (f *fakeInterpreter) AllocateTensors() error { return f.allocErr }
func (f *fakeInterpreter) SetNumThreads(n int)    { f.threads = n }

func (f *fakeInterpreter) Invoke() error {
	f.invokes++
	return f.invokeErr
}

func (f *fakeInterpreter) InputFloat32s(index int) ([]float32, error) {
	if index != 0 {
		return nil, errors.New("no such input")
	}
	return f.input, nil
}

func (f *fakeInterpreter) OutputInt32s(index int) ([]int32, error) {
	if index != 0 {
		return nil, errors.New("no such output")
	}
	return f.output, nil
}

func (f *fakeInterpreter) OutputDims(index int) []int { return f.dims }
func (f *fakeInterpreter) Close()                     { f.closed++ }

// fakeBuilder hands out a single interpreter and counts builds
type fakeBuilder struct {
	mu     sync.Mutex
	interp *fakeInterpreter
	err    error
	calls  int
	model  []byte
}

func (b *fakeBuilder) build(model []byte, threads int) (inference.Interpreter, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls++
	b.model = model
	if b.err != nil {
		return nil, b.err
	}
	return b.interp, nil
}

// passthroughExtractor exposes the fitted window as a single-bin spectrogram
type passthroughExtractor struct {
	window []float32
}

func (p *passthroughExtractor) extract(ctx context.Context, samples []float32, params mel.Params, fb *asset.FilterBank) (*mel.Spectrogram, error) {
	p.window = samples
	data := make([]float32, len(samples))
	copy(data, samples)
	return &mel.Spectrogram{MelBins: 1, Frames: len(samples), Data: data}, nil
}

func buildAsset(melBins, fftSize int, coeffs []float32, words []string) []byte {
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.LittleEndian, uint32(asset.Magic))
	binary.Write(buf, binary.LittleEndian, int32(melBins))
	binary.Write(buf, binary.LittleEndian, int32(fftSize))
	binary.Write(buf, binary.LittleEndian, coeffs)
	binary.Write(buf, binary.LittleEndian, int32(len(words)))
	for _, w := range words {
		binary.Write(buf, binary.LittleEndian, int32(len(w)))
		buf.WriteString(w)
	}
	return buf.Bytes()
}

// testVocabulary maps id 15 to "hi" and id 16 to " there"
func testAsset() []byte {
	words := make([]string, 17)
	words[15] = "hi"
	words[16] = " there"
	return buildAsset(1, 1, []float32{1}, words)
}

func writeModel(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "whisper.tflite")
	if err := os.WriteFile(path, []byte("TFL3 model bytes"), 0644); err != nil {
		t.Fatalf("Failed to write model: %v", err)
	}
	return path
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEngine(t *testing.T, output []int32) (*Engine, *fakeBuilder, *passthroughExtractor) {
	t.Helper()
	interp := &fakeInterpreter{
		input:  make([]float32, WindowSamples),
		output: output,
		dims:   []int{1, len(output)},
	}
	builder := &fakeBuilder{interp: interp}
	extractor := &passthroughExtractor{}

	e := New(
		WithAssetBytes(testAsset()),
		WithBuilder(builder.build),
		WithExtractor(extractor.extract),
		WithThreads(2),
		WithLogger(quietLogger()),
	)
	return e, builder, extractor
}

func TestTranscribeBeforeLoad(t *testing.T) {
	e, builder, extractor := newTestEngine(t, nil)

	text, err := e.TranscribeBuffer(context.Background(), make([]float32, 100))
	if !errors.Is(err, ErrNotInitialized) {
		t.Errorf("Expected ErrNotInitialized, got %v", err)
	}
	if text != "" {
		t.Errorf("Expected empty text, got %q", text)
	}

	if _, err := e.TranscribeFile(context.Background(), "missing.wav"); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("Expected ErrNotInitialized from TranscribeFile, got %v", err)
	}

	if builder.calls != 0 || extractor.window != nil {
		t.Error("Expected no side effects before load")
	}
	if s := e.Stats(); s.Transcriptions != 0 || s.Failures != 0 {
		t.Errorf("Expected untouched stats, got %+v", s)
	}
}

func TestLoadAndTranscribe(t *testing.T) {
	reserved := asset.ReservedFor(false)
	output := []int32{int32(reserved.StartOfText), 15, int32(reserved.EndOfText), 9999}
	e, builder, extractor := newTestEngine(t, output)

	modelPath := writeModel(t)
	if err := e.LoadModel(context.Background(), modelPath, false); err != nil {
		t.Fatalf("LoadModel failed: %v", err)
	}
	if e.State() != StateReady {
		t.Fatalf("Expected ready state, got %s", e.State())
	}
	if string(builder.model) != "TFL3 model bytes" {
		t.Errorf("Expected builder to receive the model file contents, got %q", builder.model)
	}

	samples := make([]float32, 1000)
	for i := range samples {
		samples[i] = 0.5
	}

	text, err := e.TranscribeBuffer(context.Background(), samples)
	if err != nil {
		t.Fatalf("TranscribeBuffer failed: %v", err)
	}
	if text != "hi" {
		t.Errorf("Expected %q, got %q", "hi", text)
	}

	if len(samples) != 1000 {
		t.Errorf("Caller slice was resized to %d", len(samples))
	}
	if len(extractor.window) != WindowSamples {
		t.Fatalf("Expected window of %d samples, got %d", WindowSamples, len(extractor.window))
	}

	input := builder.interp.input
	for i := 0; i < 1000; i++ {
		if input[i] != 0.5 {
			t.Fatalf("Expected input[%d] = 0.5, got %f", i, input[i])
		}
	}
	for i := 1000; i < len(input); i++ {
		if input[i] != 0 {
			t.Fatalf("Expected zero padding at %d, got %f", i, input[i])
		}
	}

	if builder.interp.threads != 2 {
		t.Errorf("Expected 2 interpreter threads, got %d", builder.interp.threads)
	}
	if builder.interp.invokes != 1 {
		t.Errorf("Expected 1 invoke, got %d", builder.interp.invokes)
	}

	stats := e.Stats()
	if stats.Transcriptions != 1 || stats.State != "ready" || stats.VocabularySize != asset.VocabSizeEnglish {
		t.Errorf("Unexpected stats %+v", stats)
	}
}

func TestTranscribeTruncatesLongInput(t *testing.T) {
	e, _, extractor := newTestEngine(t, []int32{15})
	if err := e.LoadModel(context.Background(), writeModel(t), false); err != nil {
		t.Fatalf("LoadModel failed: %v", err)
	}

	samples := make([]float32, WindowSamples+5000)
	for i := range samples {
		samples[i] = float32(i)
	}

	if _, err := e.TranscribeBuffer(context.Background(), samples); err != nil {
		t.Fatalf("TranscribeBuffer failed: %v", err)
	}

	if len(extractor.window) != WindowSamples {
		t.Fatalf("Expected window of %d samples, got %d", WindowSamples, len(extractor.window))
	}
	if last := extractor.window[WindowSamples-1]; last != float32(WindowSamples-1) {
		t.Errorf("Expected the first 30s to be kept, last sample is %f", last)
	}
	if len(samples) != WindowSamples+5000 {
		t.Errorf("Caller slice was resized to %d", len(samples))
	}
}

func TestOutputSizedByLastDimension(t *testing.T) {
	e, builder, _ := newTestEngine(t, []int32{15, 16, 15, 15})
	builder.interp.dims = []int{1, 2}

	if err := e.LoadModel(context.Background(), writeModel(t), false); err != nil {
		t.Fatalf("LoadModel failed: %v", err)
	}

	text, err := e.TranscribeBuffer(context.Background(), nil)
	if err != nil {
		t.Fatalf("TranscribeBuffer failed: %v", err)
	}
	if text != "hi there" {
		t.Errorf("Expected %q, got %q", "hi there", text)
	}
}

func TestLoadModelIdempotent(t *testing.T) {
	e, builder, _ := newTestEngine(t, nil)
	modelPath := writeModel(t)

	for i := 0; i < 3; i++ {
		if err := e.LoadModel(context.Background(), modelPath, false); err != nil {
			t.Fatalf("LoadModel call %d failed: %v", i, err)
		}
	}
	if builder.calls != 1 {
		t.Errorf("Expected 1 build, got %d", builder.calls)
	}
}

func TestConcurrentLoadModel(t *testing.T) {
	e, builder, _ := newTestEngine(t, nil)
	modelPath := writeModel(t)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- e.LoadModel(context.Background(), modelPath, false)
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("LoadModel failed: %v", err)
		}
	}
	if builder.calls != 1 {
		t.Errorf("Expected exactly 1 build, got %d", builder.calls)
	}
}

func TestLoadModelErrors(t *testing.T) {
	t.Run("missing model file", func(t *testing.T) {
		e, builder, _ := newTestEngine(t, nil)

		err := e.LoadModel(context.Background(), filepath.Join(t.TempDir(), "absent.tflite"), false)
		if !errors.Is(err, ErrModelFileUnreadable) {
			t.Errorf("Expected ErrModelFileUnreadable, got %v", err)
		}
		if e.State() != StateUninitialized {
			t.Errorf("Expected uninitialized state, got %s", e.State())
		}
		if builder.calls != 0 {
			t.Errorf("Expected no build, got %d", builder.calls)
		}
	})

	t.Run("corrupt asset", func(t *testing.T) {
		data := testAsset()
		data[0] ^= 0xFF
		e := New(WithAssetBytes(data), WithBuilder((&fakeBuilder{}).build), WithLogger(quietLogger()))

		err := e.LoadModel(context.Background(), writeModel(t), false)
		if !errors.Is(err, asset.ErrBadMagic) {
			t.Errorf("Expected ErrBadMagic, got %v", err)
		}
		if e.State() != StateUninitialized {
			t.Errorf("Expected uninitialized state, got %s", e.State())
		}
	})

	t.Run("no asset source", func(t *testing.T) {
		e := New(WithLogger(quietLogger()))
		if err := e.LoadModel(context.Background(), writeModel(t), false); err == nil {
			t.Error("Expected error without an asset source")
		}
	})

	t.Run("unsupported window", func(t *testing.T) {
		builder := &fakeBuilder{}
		e := New(WithAssetBytes(testAsset()), WithBuilder(builder.build), WithWindowSeconds(10), WithLogger(quietLogger()))

		err := e.LoadModel(context.Background(), writeModel(t), false)
		if !errors.Is(err, ErrUnsupportedWindow) {
			t.Errorf("Expected ErrUnsupportedWindow, got %v", err)
		}
		if e.State() != StateUninitialized {
			t.Errorf("Expected uninitialized state, got %s", e.State())
		}
		if builder.calls != 0 {
			t.Errorf("Expected no build, got %d", builder.calls)
		}
	})

	t.Run("thirty second window", func(t *testing.T) {
		builder := &fakeBuilder{interp: &fakeInterpreter{input: make([]float32, WindowSamples)}}
		e := New(WithAssetBytes(testAsset()), WithBuilder(builder.build), WithWindowSeconds(30), WithLogger(quietLogger()))

		if err := e.LoadModel(context.Background(), writeModel(t), false); err != nil {
			t.Fatalf("LoadModel failed: %v", err)
		}
		if e.State() != StateReady {
			t.Errorf("Expected ready state, got %s", e.State())
		}
	})

	t.Run("cancelled context", func(t *testing.T) {
		e, builder, _ := newTestEngine(t, nil)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		if err := e.LoadModel(ctx, writeModel(t), false); !errors.Is(err, context.Canceled) {
			t.Errorf("Expected context.Canceled, got %v", err)
		}
		if builder.calls != 0 {
			t.Errorf("Expected no build, got %d", builder.calls)
		}
	})
}

func TestBuildFailureIsFatal(t *testing.T) {
	builder := &fakeBuilder{err: errors.New("flatbuffer rejected")}
	e := New(WithAssetBytes(testAsset()), WithBuilder(builder.build), WithLogger(quietLogger()))
	modelPath := writeModel(t)

	err := e.LoadModel(context.Background(), modelPath, false)
	if !errors.Is(err, ErrEngineBuildFailed) {
		t.Fatalf("Expected ErrEngineBuildFailed, got %v", err)
	}
	if e.State() != StateFailed {
		t.Errorf("Expected failed state, got %s", e.State())
	}

	// A failed engine refuses to rebuild
	builder.err = nil
	if err := e.LoadModel(context.Background(), modelPath, false); !errors.Is(err, ErrEngineBuildFailed) {
		t.Errorf("Expected ErrEngineBuildFailed on retry, got %v", err)
	}
	if builder.calls != 1 {
		t.Errorf("Expected 1 build attempt, got %d", builder.calls)
	}

	if _, err := e.TranscribeBuffer(context.Background(), nil); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("Expected ErrNotInitialized, got %v", err)
	}
}

func TestBuildFailureReleasesInterpreter(t *testing.T) {
	tests := []struct {
		name   string
		interp *fakeInterpreter
	}{
		{"allocation fails", &fakeInterpreter{input: make([]float32, WindowSamples), allocErr: errors.New("out of memory")}},
		{"input too small", &fakeInterpreter{input: make([]float32, 10)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := New(WithAssetBytes(testAsset()), WithBuilder((&fakeBuilder{interp: tt.interp}).build), WithLogger(quietLogger()))

			err := e.LoadModel(context.Background(), writeModel(t), false)
			if !errors.Is(err, ErrEngineBuildFailed) {
				t.Errorf("Expected ErrEngineBuildFailed, got %v", err)
			}
			if tt.interp.closed != 1 {
				t.Errorf("Expected interpreter closed once, got %d", tt.interp.closed)
			}
		})
	}
}

func TestTranscribeFailures(t *testing.T) {
	t.Run("inference", func(t *testing.T) {
		e, builder, _ := newTestEngine(t, []int32{15})
		builder.interp.invokeErr = errors.New("kernel failed")
		if err := e.LoadModel(context.Background(), writeModel(t), false); err != nil {
			t.Fatalf("LoadModel failed: %v", err)
		}

		text, err := e.TranscribeBuffer(context.Background(), make([]float32, 10))
		if !errors.Is(err, ErrInferenceFailed) {
			t.Errorf("Expected ErrInferenceFailed, got %v", err)
		}
		if text != "" {
			t.Errorf("Expected empty text, got %q", text)
		}
		if s := e.Stats(); s.Failures != 1 {
			t.Errorf("Expected 1 failure, got %d", s.Failures)
		}
	})

	t.Run("feature extraction", func(t *testing.T) {
		failing := func(ctx context.Context, samples []float32, p mel.Params, fb *asset.FilterBank) (*mel.Spectrogram, error) {
			return nil, errors.New("bad filter bank")
		}
		builder := &fakeBuilder{interp: &fakeInterpreter{input: make([]float32, WindowSamples)}}
		e := New(WithAssetBytes(testAsset()), WithBuilder(builder.build), WithExtractor(failing), WithLogger(quietLogger()))
		if err := e.LoadModel(context.Background(), writeModel(t), false); err != nil {
			t.Fatalf("LoadModel failed: %v", err)
		}

		if _, err := e.TranscribeBuffer(context.Background(), nil); !errors.Is(err, ErrFeatureExtractionFailed) {
			t.Errorf("Expected ErrFeatureExtractionFailed, got %v", err)
		}
		if builder.interp.invokes != 0 {
			t.Errorf("Expected no invoke after extraction failure, got %d", builder.interp.invokes)
		}
	})
}

func TestFreeModel(t *testing.T) {
	e, builder, _ := newTestEngine(t, []int32{15})

	// Freeing an unloaded engine is a no-op
	e.FreeModel()

	modelPath := writeModel(t)
	if err := e.LoadModel(context.Background(), modelPath, false); err != nil {
		t.Fatalf("LoadModel failed: %v", err)
	}

	e.FreeModel()
	e.FreeModel()

	if builder.interp.closed != 1 {
		t.Errorf("Expected interpreter closed once, got %d", builder.interp.closed)
	}
	if e.State() != StateUninitialized {
		t.Errorf("Expected uninitialized state, got %s", e.State())
	}
	if _, err := e.TranscribeBuffer(context.Background(), nil); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("Expected ErrNotInitialized after free, got %v", err)
	}

	if err := e.LoadModel(context.Background(), modelPath, false); err != nil {
		t.Fatalf("Reload failed: %v", err)
	}
	if builder.calls != 2 {
		t.Errorf("Expected 2 builds, got %d", builder.calls)
	}
}

func TestTranscribeFile(t *testing.T) {
	e, _, extractor := newTestEngine(t, []int32{15, 16})
	if err := e.LoadModel(context.Background(), writeModel(t), false); err != nil {
		t.Fatalf("LoadModel failed: %v", err)
	}

	path := filepath.Join(t.TempDir(), "speech.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("Failed to create WAV: %v", err)
	}
	if err := audio.WriteWAV(f, make([]float32, 8000), 8000); err != nil {
		t.Fatalf("Failed to write WAV: %v", err)
	}
	f.Close()

	text, err := e.TranscribeFile(context.Background(), path)
	if err != nil {
		t.Fatalf("TranscribeFile failed: %v", err)
	}
	if text != "hi there" {
		t.Errorf("Expected %q, got %q", "hi there", text)
	}
	if len(extractor.window) != WindowSamples {
		t.Errorf("Expected a full window, got %d samples", len(extractor.window))
	}

	bad := filepath.Join(t.TempDir(), "bad.wav")
	os.WriteFile(bad, []byte("definitely not a wav file, just text padding it out"), 0644)

	text, err = e.TranscribeFile(context.Background(), bad)
	if !errors.Is(err, audio.ErrNotAContainer) {
		t.Errorf("Expected ErrNotAContainer, got %v", err)
	}
	if text != "" {
		t.Errorf("Expected empty text, got %q", text)
	}
}

func TestDefaultExtractorEndToEnd(t *testing.T) {
	melBins, bins := mel.MelBins, mel.FFTSize/2+1
	coeffs := make([]float32, melBins*bins)
	for m := 0; m < melBins; m++ {
		coeffs[m*bins+m] = 1
	}
	words := make([]string, 16)
	words[15] = "ok"

	interp := &fakeInterpreter{input: make([]float32, mel.MelBins*mel.Frames), output: []int32{15}, dims: []int{1, 1}}
	e := New(
		WithAssetBytes(buildAsset(melBins, bins, coeffs, words)),
		WithBuilder((&fakeBuilder{interp: interp}).build),
		WithThreads(4),
		WithLogger(quietLogger()),
	)
	if err := e.LoadModel(context.Background(), writeModel(t), false); err != nil {
		t.Fatalf("LoadModel failed: %v", err)
	}

	text, err := e.TranscribeBuffer(context.Background(), make([]float32, 16000))
	if err != nil {
		t.Fatalf("TranscribeBuffer failed: %v", err)
	}
	if text != "ok" {
		t.Errorf("Expected %q, got %q", "ok", text)
	}

	// Silence maps to the log floor after scaling
	if got := interp.input[0]; got != -1.5 {
		t.Errorf("Expected silent feature -1.5, got %f", got)
	}
}
