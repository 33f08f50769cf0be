package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/khatirak/whisper.tflite/internal/audio"
	"github.com/khatirak/whisper.tflite/internal/config"
	"github.com/khatirak/whisper.tflite/internal/engine"
	"github.com/khatirak/whisper.tflite/internal/metrics"
)

// Transcriber is the part of the engine the HTTP API needs
type Transcriber interface {
	TranscribeBuffer(ctx context.Context, samples []float32) (string, error)
	Stats() engine.Stats
}

// HTTPServer provides the transcription API plus monitoring endpoints
type HTTPServer struct {
	server  *http.Server
	router  chi.Router
	logger  *slog.Logger
	config  *config.Config
	engine  Transcriber
	metrics *metrics.Metrics

	maxUploadBytes int64
	startTime      time.Time
}

// TranscriptionResponse is returned by POST /transcribe
type TranscriptionResponse struct {
	RequestID    string      `json:"request_id"`
	Text         string      `json:"text"`
	Audio        audio.Info  `json:"audio"`
	Samples      int         `json:"samples"`
	ProcessingMS int64       `json:"processing_ms"`
	Engine       engineBrief `json:"engine"`
}

type engineBrief struct {
	Multilingual bool `json:"multilingual"`
	Threads      int  `json:"threads"`
}

// errorResponse is the body of every non-2xx JSON reply
type errorResponse struct {
	RequestID string `json:"request_id,omitempty"`
	Error     string `json:"error"`
	Kind      string `json:"kind,omitempty"`
}

// NewHTTPServer creates a new HTTP API server
func NewHTTPServer(cfg config.HTTPConfig, logger *slog.Logger,
	appConfig *config.Config, eng Transcriber, m *metrics.Metrics) *HTTPServer {

	h := &HTTPServer{
		logger:         logger,
		config:         appConfig,
		engine:         eng,
		metrics:        m,
		maxUploadBytes: cfg.GetMaxUploadBytes(),
		startTime:      time.Now(),
	}

	h.router = h.setupRoutes()

	h.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Address, cfg.Port),
		Handler:      h.router,
		ReadTimeout:  cfg.GetReadTimeoutDuration(),
		WriteTimeout: cfg.GetWriteTimeoutDuration(),
		IdleTimeout:  cfg.GetIdleTimeoutDuration(),
	}

	return h
}

// Handler returns the routed handler, mainly for tests
func (h *HTTPServer) Handler() http.Handler {
	return h.router
}

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	// Transcription
	r.Post("/transcribe", h.withMetrics("/transcribe", h.handleTranscribe))

	// Health check endpoint
	r.Get("/health", h.withMetrics("/health", h.handleHealth))

	// Configuration endpoint
	r.Get("/config", h.withMetrics("/config", h.handleConfig))

	// Statistics endpoint
	r.Get("/stats", h.withMetrics("/stats", h.handleStats))

	// Prometheus metrics endpoint (no metrics needed for metrics endpoint)
	r.Handle("/metrics", promhttp.Handler())

	// Root endpoint with API documentation
	r.Get("/", h.withMetrics("/", h.handleRoot))

	return r
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		// Create a response writer wrapper to capture status code
		ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		// Call the original handler
		handler(ww, r)

		// Record metrics
		duration := time.Since(startTime).Seconds()
		statusCode := fmt.Sprintf("%d", ww.statusCode)

		h.metrics.RecordHTTPRequest(r.Method, endpoint, statusCode, duration)

		// Record error if status code indicates an error
		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			h.metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Start starts the HTTP server
func (h *HTTPServer) Start() error {
	h.logger.Info("Starting HTTP API server",
		slog.String("address", h.server.Addr),
	)

	go func() {
		if err := h.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP API server...")

	return h.server.Shutdown(ctx)
}

// handleTranscribe accepts a WAV file as the raw body or as the multipart field "file"
func (h *HTTPServer) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	requestID := uuid.NewString()
	start := time.Now()
	logger := h.logger.With(slog.String("request_id", requestID))

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)

	data, err := readUpload(r)
	if err != nil {
		status := http.StatusBadRequest
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			status = http.StatusRequestEntityTooLarge
		}
		logger.Warn("Rejected upload", slog.String("error", err.Error()))
		writeError(w, status, errorResponse{RequestID: requestID, Error: err.Error(), Kind: "upload"})
		return
	}

	samples, header, err := audio.DecodeWAV(data)
	if err != nil {
		h.metrics.RecordAudioDecoded(false, 0)
		logger.Warn("Failed to normalize audio", slog.String("error", err.Error()))
		writeError(w, http.StatusUnprocessableEntity, errorResponse{RequestID: requestID, Error: err.Error(), Kind: "audio"})
		return
	}
	h.metrics.RecordAudioDecoded(true, float64(len(samples))/audio.TargetSampleRate)
	info := header.Info()

	if len(samples) == 0 {
		writeError(w, http.StatusUnprocessableEntity, errorResponse{RequestID: requestID, Error: "audio contains no samples", Kind: "audio"})
		return
	}

	text, err := h.engine.TranscribeBuffer(r.Context(), samples)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, engine.ErrNotInitialized) {
			status = http.StatusServiceUnavailable
		}
		logger.Error("Transcription failed", slog.String("error", err.Error()))
		writeError(w, status, errorResponse{RequestID: requestID, Error: err.Error(), Kind: "engine"})
		return
	}

	stats := h.engine.Stats()
	resp := TranscriptionResponse{
		RequestID:    requestID,
		Text:         text,
		Audio:        *info,
		Samples:      len(samples),
		ProcessingMS: time.Since(start).Milliseconds(),
		Engine: engineBrief{
			Multilingual: stats.Multilingual,
			Threads:      stats.Threads,
		},
	}

	logger.Info("Transcribed upload",
		slog.Int("bytes", len(data)),
		slog.Float64("duration_seconds", info.Duration),
		slog.Int64("processing_ms", resp.ProcessingMS))

	writeJSON(w, http.StatusOK, resp)
}

// readUpload returns the WAV bytes of a raw or multipart request
func readUpload(r *http.Request) ([]byte, error) {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		file, _, err := r.FormFile("file")
		if err != nil {
			return nil, fmt.Errorf("failed to read multipart field \"file\": %w", err)
		}
		defer file.Close()
		return io.ReadAll(file)
	}

	data, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read request body: %w", err)
	}
	if len(data) == 0 {
		return nil, errors.New("empty request body")
	}
	return data, nil
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	stats := h.engine.Stats()

	status := "healthy"
	code := http.StatusOK
	if stats.State != engine.StateReady.String() {
		status = "unavailable"
		code = http.StatusServiceUnavailable
	}

	health := map[string]interface{}{
		"status":    status,
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(h.startTime).String(),
		"service": map[string]interface{}{
			"name":    "whisper-tflite",
			"version": "1.0.0",
		},
		"components": map[string]interface{}{
			"engine": map[string]interface{}{
				"state":           stats.State,
				"model_path":      stats.ModelPath,
				"multilingual":    stats.Multilingual,
				"vocabulary_size": stats.VocabularySize,
			},
		},
	}

	writeJSON(w, code, health)
}

// handleConfig implements the /config endpoint
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	sanitizedConfig := map[string]interface{}{
		"engine": map[string]interface{}{
			"model_path":              h.config.Engine.ModelPath,
			"multilingual":            h.config.Engine.Multilingual,
			"english_asset_path":      h.config.Engine.EnglishAssetPath,
			"multilingual_asset_path": h.config.Engine.MultilingualAssetPath,
			"threads":                 h.config.Engine.Threads,
			"window_seconds":          h.config.Engine.WindowSeconds,
		},
		"http": map[string]interface{}{
			"address":       h.config.HTTP.Address,
			"port":          h.config.HTTP.Port,
			"max_upload_mb": h.config.HTTP.MaxUploadMB,
			"read_timeout":  h.config.HTTP.ReadTimeout,
			"write_timeout": h.config.HTTP.WriteTimeout,
			"idle_timeout":  h.config.HTTP.IdleTimeout,
		},
		"logging": map[string]interface{}{
			"level":  h.config.Logging.Level,
			"format": h.config.Logging.Format,
			"output": h.config.Logging.Output,
		},
	}

	writeJSON(w, http.StatusOK, sanitizedConfig)
}

// handleStats implements the /stats endpoint
func (h *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := map[string]interface{}{
		"uptime":    time.Since(h.startTime).String(),
		"timestamp": time.Now().UTC(),
		"engine":    h.engine.Stats(),
	}

	writeJSON(w, http.StatusOK, stats)
}

// handleRoot implements the / endpoint with API documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	apiDoc := map[string]interface{}{
		"service": "Whisper TFLite Transcription Service",
		"version": "1.0.0",
		"endpoints": map[string]interface{}{
			"GET /":            "API documentation",
			"POST /transcribe": "Transcribe a WAV file (raw body or multipart field \"file\")",
			"GET /health":      "Service health check",
			"GET /config":      "Get service configuration",
			"GET /stats":       "Get engine statistics",
			"GET /metrics":     "Prometheus metrics",
		},
		"timestamp": time.Now().UTC(),
	}

	writeJSON(w, http.StatusOK, apiDoc)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, body errorResponse) {
	writeJSON(w, status, body)
}
