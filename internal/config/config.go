package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// WindowSeconds is the only window length the model accepts
const WindowSeconds = 30

// Config represents the complete service configuration
type Config struct {
	Engine  EngineConfig  `yaml:"engine"`
	HTTP    HTTPConfig    `yaml:"http"`
	Logging LoggingConfig `yaml:"logging"`
}

// EngineConfig contains model and asset configuration
type EngineConfig struct {
	ModelPath             string `yaml:"model_path"`
	Multilingual          bool   `yaml:"multilingual"`
	EnglishAssetPath      string `yaml:"english_asset_path"`
	MultilingualAssetPath string `yaml:"multilingual_asset_path"`
	Threads               int    `yaml:"threads"`        // 0 = one per CPU
	WindowSeconds         int    `yaml:"window_seconds"` // must be 30
}

// HTTPConfig contains HTTP API server configuration
type HTTPConfig struct {
	Port         int    `yaml:"port"`
	Address      string `yaml:"address"`
	Enabled      bool   `yaml:"enabled"`
	MaxUploadMB  int    `yaml:"max_upload_mb"`
	ReadTimeout  int    `yaml:"read_timeout"`  // seconds
	WriteTimeout int    `yaml:"write_timeout"` // seconds
	IdleTimeout  int    `yaml:"idle_timeout"`  // seconds
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// applyDefaults fills optional fields left out of the file
func (c *Config) applyDefaults() {
	if c.Engine.WindowSeconds == 0 {
		c.Engine.WindowSeconds = WindowSeconds
	}
	if c.HTTP.MaxUploadMB == 0 {
		c.HTTP.MaxUploadMB = 64
	}
	if c.HTTP.ReadTimeout == 0 {
		c.HTTP.ReadTimeout = 30
	}
	if c.HTTP.WriteTimeout == 0 {
		c.HTTP.WriteTimeout = 120
	}
	if c.HTTP.IdleTimeout == 0 {
		c.HTTP.IdleTimeout = 60
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.Engine.Validate(); err != nil {
		return fmt.Errorf("engine config: %w", err)
	}

	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates engine configuration
func (e *EngineConfig) Validate() error {
	if e.ModelPath == "" {
		return fmt.Errorf("model_path cannot be empty")
	}

	if e.Multilingual && e.MultilingualAssetPath == "" {
		return fmt.Errorf("multilingual_asset_path cannot be empty for a multilingual model")
	}

	if !e.Multilingual && e.EnglishAssetPath == "" {
		return fmt.Errorf("english_asset_path cannot be empty for an English model")
	}

	if e.Threads < 0 {
		return fmt.Errorf("threads cannot be negative, got %d", e.Threads)
	}

	if e.WindowSeconds != WindowSeconds {
		return fmt.Errorf("window_seconds must be %d, got %d", WindowSeconds, e.WindowSeconds)
	}

	return nil
}

// AssetPath returns the asset file for the configured model mode
func (e *EngineConfig) AssetPath() string {
	if e.Multilingual {
		return e.MultilingualAssetPath
	}
	return e.EnglishAssetPath
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Enabled {
		if h.Port < 1 || h.Port > 65535 {
			return fmt.Errorf("http port must be between 1 and 65535, got %d", h.Port)
		}

		if h.Address == "" {
			return fmt.Errorf("http address cannot be empty when HTTP is enabled")
		}
	}

	if h.MaxUploadMB < 1 {
		return fmt.Errorf("max_upload_mb must be at least 1, got %d", h.MaxUploadMB)
	}

	if h.ReadTimeout < 1 || h.WriteTimeout < 1 || h.IdleTimeout < 1 {
		return fmt.Errorf("timeouts must be at least 1 second, got read=%d write=%d idle=%d",
			h.ReadTimeout, h.WriteTimeout, h.IdleTimeout)
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	// Anything other than stdout or stderr is treated as a file path
	return nil
}

// GetMaxUploadBytes returns the upload limit in bytes
func (h *HTTPConfig) GetMaxUploadBytes() int64 {
	return int64(h.MaxUploadMB) << 20
}

// GetReadTimeoutDuration returns the read timeout as a time.Duration
func (h *HTTPConfig) GetReadTimeoutDuration() time.Duration {
	return time.Duration(h.ReadTimeout) * time.Second
}

// GetWriteTimeoutDuration returns the write timeout as a time.Duration
func (h *HTTPConfig) GetWriteTimeoutDuration() time.Duration {
	return time.Duration(h.WriteTimeout) * time.Second
}

// GetIdleTimeoutDuration returns the idle timeout as a time.Duration
func (h *HTTPConfig) GetIdleTimeoutDuration() time.Duration {
	return time.Duration(h.IdleTimeout) * time.Second
}
