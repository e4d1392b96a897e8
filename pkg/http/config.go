package http

import (
	"time"

	"skillcoach-engine/pkg/config"
)

// Config holds the HTTP server configuration
type Config struct {
	// Port is the HTTP server port
	Port int `json:"port"`

	// EnableMetrics exposes the Prometheus registry at MetricsPath
	EnableMetrics bool   `json:"enable_metrics"`
	MetricsPath   string `json:"metrics_path"`

	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	IdleTimeout  time.Duration `json:"idle_timeout"`

	// MaxBodyBytes limits JSON request bodies; signal batches carry raw samples
	MaxBodyBytes int64 `json:"max_body_bytes"`

	// SnapshotInterval is how often the live feed pushes a visualization snapshot
	SnapshotInterval time.Duration `json:"snapshot_interval"`
}

// DefaultConfig returns the default HTTP server configuration
func DefaultConfig() *Config {
	return &Config{
		Port:             8080,
		EnableMetrics:    true,
		MetricsPath:      "/metrics",
		ReadTimeout:      10 * time.Second,
		WriteTimeout:     3 * time.Minute,
		IdleTimeout:      60 * time.Second,
		MaxBodyBytes:     8 << 20,
		SnapshotInterval: 500 * time.Millisecond,
	}
}

// ConfigFrom builds the server configuration from the loaded settings
func ConfigFrom(c config.HTTPConfig) *Config {
	cfg := DefaultConfig()
	cfg.Port = c.Port
	cfg.EnableMetrics = c.EnableMetrics
	if c.ReadTimeout > 0 {
		cfg.ReadTimeout = c.ReadTimeout
	}
	if c.WriteTimeout > 0 {
		cfg.WriteTimeout = c.WriteTimeout
	}
	return cfg
}
