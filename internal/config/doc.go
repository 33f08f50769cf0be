// Package config provides configuration loading and validation for the transcription service.
// It handles YAML-based configuration for the engine, the HTTP API and logging.
package config
