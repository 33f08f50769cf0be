// Package metrics exposes Prometheus metrics for model loading, audio normalization,
// transcription stages and the HTTP API.
package metrics
