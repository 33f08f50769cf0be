package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the transcription service.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Model lifecycle metrics
	ModelLoads        *prometheus.CounterVec
	ModelLoadDuration prometheus.Histogram
	ModelLoaded       prometheus.Gauge
	VocabularySize    prometheus.Gauge

	// Audio normalization metrics
	AudioFilesDecoded *prometheus.CounterVec
	AudioDuration     prometheus.Histogram

	// Transcription metrics
	TranscriptionRequests  prometheus.Counter
	TranscriptionSuccesses prometheus.Counter
	TranscriptionFailures  *prometheus.CounterVec
	TranscriptionDuration  prometheus.Histogram
	StageDuration          *prometheus.HistogramVec
	TokensEmitted          prometheus.Counter
	TokensMissing          prometheus.Counter

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates all metrics and registers them with reg.
// Passing nil registers with the default Prometheus registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		// Model lifecycle metrics
		ModelLoads: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "whisper_model_loads_total",
			Help: "Total number of model load attempts by result",
		}, []string{"result"}),
		ModelLoadDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "whisper_model_load_duration_seconds",
			Help:    "Time spent decoding assets and building the interpreter",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
		}),
		ModelLoaded: factory.NewGauge(prometheus.GaugeOpts{
			Name: "whisper_model_loaded",
			Help: "1 while a model is loaded and ready",
		}),
		VocabularySize: factory.NewGauge(prometheus.GaugeOpts{
			Name: "whisper_vocabulary_size",
			Help: "Number of entries in the loaded vocabulary",
		}),

		// Audio normalization metrics
		AudioFilesDecoded: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "whisper_audio_files_decoded_total",
			Help: "Total number of WAV inputs normalized by result",
		}, []string{"result"}),
		AudioDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "whisper_audio_duration_seconds",
			Help:    "Duration of normalized audio inputs",
			Buckets: prometheus.LinearBuckets(0, 5, 13), // 0s to 60s
		}),

		// Transcription metrics
		TranscriptionRequests: factory.NewCounter(prometheus.CounterOpts{
			Name: "whisper_transcription_requests_total",
			Help: "Total number of transcription requests",
		}),
		TranscriptionSuccesses: factory.NewCounter(prometheus.CounterOpts{
			Name: "whisper_transcription_successes_total",
			Help: "Total number of successful transcriptions",
		}),
		TranscriptionFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "whisper_transcription_failures_total",
			Help: "Total number of failed transcriptions by reason",
		}, []string{"reason"}),
		TranscriptionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "whisper_transcription_duration_seconds",
			Help:    "End-to-end duration of transcriptions",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~50s
		}),
		StageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "whisper_stage_duration_seconds",
			Help:    "Duration of the spectrogram and inference stages",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~20s
		}, []string{"stage"}),
		TokensEmitted: factory.NewCounter(prometheus.CounterOpts{
			Name: "whisper_tokens_emitted_total",
			Help: "Total number of tokens that contributed text",
		}),
		TokensMissing: factory.NewCounter(prometheus.CounterOpts{
			Name: "whisper_tokens_missing_total",
			Help: "Total number of output tokens with no vocabulary entry",
		}),

		// HTTP API metrics
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "whisper_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "whisper_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "whisper_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordModelLoad records a model load attempt
func (m *Metrics) RecordModelLoad(ok bool, durationSeconds float64, vocabSize int) {
	if m == nil {
		return
	}
	if !ok {
		m.ModelLoads.WithLabelValues("failure").Inc()
		return
	}
	m.ModelLoads.WithLabelValues("success").Inc()
	m.ModelLoadDuration.Observe(durationSeconds)
	m.ModelLoaded.Set(1)
	m.VocabularySize.Set(float64(vocabSize))
}

// RecordModelFreed marks the model as unloaded
func (m *Metrics) RecordModelFreed() {
	if m == nil {
		return
	}
	m.ModelLoaded.Set(0)
	m.VocabularySize.Set(0)
}

// RecordAudioDecoded records a WAV normalization and the resulting duration
func (m *Metrics) RecordAudioDecoded(ok bool, durationSeconds float64) {
	if m == nil {
		return
	}
	if !ok {
		m.AudioFilesDecoded.WithLabelValues("failure").Inc()
		return
	}
	m.AudioFilesDecoded.WithLabelValues("success").Inc()
	m.AudioDuration.Observe(durationSeconds)
}

// RecordTranscriptionRequest increments transcription requests counter
func (m *Metrics) RecordTranscriptionRequest() {
	if m == nil {
		return
	}
	m.TranscriptionRequests.Inc()
}

// RecordTranscriptionSuccess records a successful transcription and its token counts
func (m *Metrics) RecordTranscriptionSuccess(durationSeconds float64, emitted, missing int) {
	if m == nil {
		return
	}
	m.TranscriptionSuccesses.Inc()
	m.TranscriptionDuration.Observe(durationSeconds)
	m.TokensEmitted.Add(float64(emitted))
	m.TokensMissing.Add(float64(missing))
}

// RecordTranscriptionFailure records a failed transcription
func (m *Metrics) RecordTranscriptionFailure(reason string) {
	if m == nil {
		return
	}
	m.TranscriptionFailures.WithLabelValues(reason).Inc()
}

// RecordStage records the duration of one pipeline stage
func (m *Metrics) RecordStage(stage string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(stage).Observe(durationSeconds)
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	if m == nil {
		return
	}
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
