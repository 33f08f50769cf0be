package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/khatirak/whisper.tflite/internal/audio"
	"github.com/khatirak/whisper.tflite/internal/config"
	"github.com/khatirak/whisper.tflite/internal/engine"
)

// fakeTranscriber records the samples it receives
type fakeTranscriber struct {
	text    string
	err     error
	state   engine.State
	samples []float32
	calls   int
}

func (f *fakeTranscriber) TranscribeBuffer(ctx context.Context, samples []float32) (string, error) {
	f.calls++
	f.samples = samples
	return f.text, f.err
}

func (f *fakeTranscriber) Stats() engine.Stats {
	return engine.Stats{State: f.state.String(), Threads: 4}
}

func testConfig() *config.Config {
	return &config.Config{
		Engine: config.EngineConfig{
			ModelPath:        "./models/whisper-tiny.en.tflite",
			EnglishAssetPath: "./models/filters_vocab_en.bin",
			WindowSeconds:    30,
		},
		HTTP: config.HTTPConfig{
			Enabled:      true,
			Address:      "127.0.0.1",
			Port:         8080,
			MaxUploadMB:  1,
			ReadTimeout:  5,
			WriteTimeout: 5,
			IdleTimeout:  5,
		},
		Logging: config.LoggingConfig{Level: "info", Format: "json", Output: "stdout"},
	}
}

func newTestServer(t *testing.T, tr Transcriber) *HTTPServer {
	t.Helper()
	cfg := testConfig()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewHTTPServer(cfg.HTTP, logger, cfg, tr, nil)
}

// wavBytes encodes one second of 8kHz mono silence
func wavBytes(t *testing.T) []byte {
	t.Helper()
	path := filepath.Join(t.TempDir(), "upload.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("Failed to create WAV: %v", err)
	}
	if err := audio.WriteWAV(f, make([]float32, 8000), 8000); err != nil {
		t.Fatalf("Failed to write WAV: %v", err)
	}
	f.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read WAV: %v", err)
	}
	return data
}

func TestTranscribeRawBody(t *testing.T) {
	tr := &fakeTranscriber{text: " hello world", state: engine.StateReady}
	h := newTestServer(t, tr)

	req := httptest.NewRequest(http.MethodPost, "/transcribe", bytes.NewReader(wavBytes(t)))
	req.Header.Set("Content-Type", "audio/wav")
	rec := httptest.NewRecorder()
	h.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp TranscriptionResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if resp.Text != " hello world" {
		t.Errorf("Expected text %q, got %q", " hello world", resp.Text)
	}
	if resp.RequestID == "" {
		t.Error("Expected a request id")
	}
	if resp.Audio.SampleRate != 8000 || resp.Audio.Format != "PCM" {
		t.Errorf("Unexpected audio info %+v", resp.Audio)
	}
	if resp.Audio.Frames != 8000 || resp.Audio.Duration != 1.0 {
		t.Errorf("Expected 8000 frames over 1s, got %d over %f", resp.Audio.Frames, resp.Audio.Duration)
	}
	if resp.Samples != 16000 || len(tr.samples) != 16000 {
		t.Errorf("Expected 16000 resampled samples, got %d (engine saw %d)", resp.Samples, len(tr.samples))
	}
}

func TestTranscribeMultipart(t *testing.T) {
	tr := &fakeTranscriber{text: "ok", state: engine.StateReady}
	h := newTestServer(t, tr)

	body := new(bytes.Buffer)
	mw := multipart.NewWriter(body)
	part, err := mw.CreateFormFile("file", "clip.wav")
	if err != nil {
		t.Fatalf("Failed to create form file: %v", err)
	}
	part.Write(wavBytes(t))
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/transcribe", body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	h.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if tr.calls != 1 {
		t.Errorf("Expected 1 transcription, got %d", tr.calls)
	}
}

func TestTranscribeErrors(t *testing.T) {
	tests := []struct {
		name       string
		body       []byte
		tr         *fakeTranscriber
		wantStatus int
		wantKind   string
	}{
		{
			name:       "empty body",
			body:       nil,
			tr:         &fakeTranscriber{state: engine.StateReady},
			wantStatus: http.StatusBadRequest,
			wantKind:   "upload",
		},
		{
			name:       "not a wav",
			body:       bytes.Repeat([]byte("x"), 64),
			tr:         &fakeTranscriber{state: engine.StateReady},
			wantStatus: http.StatusUnprocessableEntity,
			wantKind:   "audio",
		},
		{
			name:       "too large",
			body:       bytes.Repeat([]byte("x"), 2<<20),
			tr:         &fakeTranscriber{state: engine.StateReady},
			wantStatus: http.StatusRequestEntityTooLarge,
			wantKind:   "upload",
		},
		{
			name:       "engine not loaded",
			body:       nil,
			tr:         &fakeTranscriber{err: engine.ErrNotInitialized},
			wantStatus: http.StatusServiceUnavailable,
			wantKind:   "engine",
		},
		{
			name:       "inference failure",
			body:       nil,
			tr:         &fakeTranscriber{err: errors.Join(engine.ErrInferenceFailed, errors.New("kernel"))},
			wantStatus: http.StatusInternalServerError,
			wantKind:   "engine",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := tt.body
			if body == nil && tt.wantKind == "engine" {
				body = wavBytes(t)
			}

			h := newTestServer(t, tt.tr)
			req := httptest.NewRequest(http.MethodPost, "/transcribe", bytes.NewReader(body))
			rec := httptest.NewRecorder()
			h.Handler().ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("Expected status %d, got %d: %s", tt.wantStatus, rec.Code, rec.Body.String())
			}

			var resp errorResponse
			if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
				t.Fatalf("Failed to decode error response: %v", err)
			}
			if resp.Kind != tt.wantKind {
				t.Errorf("Expected kind %q, got %q", tt.wantKind, resp.Kind)
			}
			if resp.RequestID == "" {
				t.Error("Expected a request id on errors")
			}
		})
	}
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name       string
		state      engine.State
		wantStatus int
		want       string
	}{
		{"ready", engine.StateReady, http.StatusOK, "healthy"},
		{"not loaded", engine.StateUninitialized, http.StatusServiceUnavailable, "unavailable"},
		{"failed", engine.StateFailed, http.StatusServiceUnavailable, "unavailable"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestServer(t, &fakeTranscriber{state: tt.state})

			rec := httptest.NewRecorder()
			h.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

			if rec.Code != tt.wantStatus {
				t.Errorf("Expected status %d, got %d", tt.wantStatus, rec.Code)
			}

			var body map[string]interface{}
			if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
				t.Fatalf("Failed to decode health: %v", err)
			}
			if body["status"] != tt.want {
				t.Errorf("Expected status %q, got %v", tt.want, body["status"])
			}
		})
	}
}

func TestMonitoringEndpoints(t *testing.T) {
	h := newTestServer(t, &fakeTranscriber{state: engine.StateReady})

	for _, path := range []string{"/", "/config", "/stats", "/metrics"} {
		t.Run(path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
			if rec.Code != http.StatusOK {
				t.Errorf("Expected status 200, got %d", rec.Code)
			}
		})
	}

	rec := httptest.NewRecorder()
	h.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/config", nil))
	var cfg map[string]map[string]interface{}
	if err := json.NewDecoder(rec.Body).Decode(&cfg); err != nil {
		t.Fatalf("Failed to decode config: %v", err)
	}
	if cfg["engine"]["model_path"] != "./models/whisper-tiny.en.tflite" {
		t.Errorf("Unexpected engine config %v", cfg["engine"])
	}
}

func TestMethodNotAllowed(t *testing.T) {
	h := newTestServer(t, &fakeTranscriber{state: engine.StateReady})

	rec := httptest.NewRecorder()
	h.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/transcribe", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected status 405, got %d", rec.Code)
	}
}
