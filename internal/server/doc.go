// Package server implements the HTTP API: WAV upload transcription plus health,
// configuration, statistics and Prometheus endpoints.
package server
