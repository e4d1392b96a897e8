package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"skillcoach-engine/pkg/errors"

	"github.com/sirupsen/logrus"
)

var languageCodePattern = regexp.MustCompile(`^[a-z]{2}-[A-Z]{2}$`)

// ConfigValidator handles configuration validation
type ConfigValidator struct {
	logger   *logrus.Logger
	errors   []ValidationError
	warnings []ValidationWarning
}

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string      `json:"field"`
	Value   interface{} `json:"value"`
	Rule    string      `json:"rule"`
	Message string      `json:"message"`
}

// ValidationWarning represents a configuration validation warning
type ValidationWarning struct {
	Field      string      `json:"field"`
	Value      interface{} `json:"value"`
	Message    string      `json:"message"`
	Suggestion string      `json:"suggestion,omitempty"`
}

// ValidationResult represents the result of configuration validation
type ValidationResult struct {
	Valid    bool                `json:"valid"`
	Errors   []ValidationError   `json:"errors,omitempty"`
	Warnings []ValidationWarning `json:"warnings,omitempty"`
	Summary  string              `json:"summary"`
}

// NewConfigValidator creates a new configuration validator
func NewConfigValidator(logger *logrus.Logger) *ConfigValidator {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &ConfigValidator{
		logger:   logger,
		errors:   make([]ValidationError, 0),
		warnings: make([]ValidationWarning, 0),
	}
}

// Validate checks the configuration without logging and returns the
// first error found
func (c *Config) Validate() error {
	quiet := logrus.New()
	quiet.SetOutput(io.Discard)
	result := NewConfigValidator(quiet).ValidateConfig(c)
	if result.Valid {
		return nil
	}
	first := result.Errors[0]
	return errors.NewInvalidInput(fmt.Sprintf("invalid configuration: %s", first.Message), map[string]interface{}{"field": first.Field})
}

// ValidateConfig validates the entire configuration
func (v *ConfigValidator) ValidateConfig(config *Config) *ValidationResult {
	v.errors = make([]ValidationError, 0)
	v.warnings = make([]ValidationWarning, 0)

	v.validateEngineConfig(config)
	v.validateTranscriptionConfig(config)
	v.validateMessagingConfig(config)
	v.validateStoreConfig(config)
	v.validateHTTPConfig(config)
	v.validateLoggingConfig(config)
	v.validateTracingConfig(config)

	result := &ValidationResult{
		Valid:    len(v.errors) == 0,
		Errors:   v.errors,
		Warnings: v.warnings,
	}
	result.Summary = v.generateSummary()

	if len(v.errors) > 0 {
		v.logger.WithField("error_count", len(v.errors)).Error("Configuration validation failed")
		for _, err := range v.errors {
			v.logger.WithFields(logrus.Fields{
				"field": err.Field,
				"value": err.Value,
				"rule":  err.Rule,
			}).Error(err.Message)
		}
	}

	if len(v.warnings) > 0 {
		v.logger.WithField("warning_count", len(v.warnings)).Warning("Configuration validation completed with warnings")
		for _, warning := range v.warnings {
			v.logger.WithFields(logrus.Fields{
				"field": warning.Field,
				"value": warning.Value,
			}).Warning(warning.Message)
		}
	}

	return result
}

func (v *ConfigValidator) validateEngineConfig(config *Config) {
	e := config.Engine
	if e.TickInterval < 10*time.Millisecond || e.TickInterval > time.Second {
		v.addError("live_tick_interval", e.TickInterval, "range", "Live tick interval must be between 10ms and 1s")
	}
	if e.MaxParticles < 0 {
		v.addError("max_particles", e.MaxParticles, "range", "Max particles cannot be negative")
	}
	if e.MaxSkillAuras < 1 {
		v.addError("max_skill_auras", e.MaxSkillAuras, "range", "Max skill auras must be at least 1")
	}
	if e.IngestQueueSize < 1 {
		v.addError("ingest_queue_size", e.IngestQueueSize, "range", "Ingest queue size must be at least 1")
	}
	if e.IngestQueueSize < 32 {
		v.addWarning("ingest_queue_size", e.IngestQueueSize, "Small ingest queue drops signals under bursts", "Consider at least 128")
	}
	if !v.contains([]string{"basic", "comprehensive", "expert"}, e.DefaultMode) {
		v.addError("default_detection_mode", e.DefaultMode, "supported", fmt.Sprintf("Unsupported detection mode %s", e.DefaultMode))
	}
	if e.MaxActiveSessions < 1 {
		v.addError("max_active_sessions", e.MaxActiveSessions, "range", "Max active sessions must be at least 1")
	}
	if e.RecordingDir == "" {
		v.addError("recording_dir", e.RecordingDir, "required", "Recording directory is required")
	} else if !v.directoryExists(e.RecordingDir) {
		v.addWarning("recording_dir", e.RecordingDir, "Recording directory does not exist", "Post-session transcription will fail until recordings are written")
	}
}

func (v *ConfigValidator) validateTranscriptionConfig(config *Config) {
	t := config.Transcription
	if !v.contains([]string{"mock", "file", "google", "amazon"}, t.Provider) {
		v.addError("stt_provider", t.Provider, "supported", fmt.Sprintf("Unsupported STT provider %s", t.Provider))
	}
	if t.Timeout < time.Second {
		v.addError("transcription_timeout", t.Timeout, "range", "Transcription timeout must be at least 1s")
	}
	if !v.isValidLanguageCode(t.Language) {
		v.addWarning("stt_language", t.Language, "Language code is not in ll-CC form", "Use a code such as en-US")
	}
	if t.MinSpeakers < 1 || t.MinSpeakers > t.MaxSpeakers {
		v.addError("stt_min_speakers", t.MinSpeakers, "range", "Speaker bounds must satisfy 1 <= min <= max")
	}

	switch t.Provider {
	case "google":
		if t.Google.CredentialsFile == "" && t.Google.APIKey == "" {
			v.addWarning("google_credentials", "", "No explicit Google credentials", "Application default credentials will be used")
		} else if t.Google.CredentialsFile != "" && !v.fileExists(t.Google.CredentialsFile) {
			v.addError("google_application_credentials", t.Google.CredentialsFile, "exists", "Google credentials file does not exist")
		}
	case "amazon":
		if (t.Amazon.AccessKeyID == "") != (t.Amazon.SecretAccessKey == "") {
			v.addError("aws_credentials", "", "pair", "AWS access key id and secret access key must be set together")
		}
	}
}

func (v *ConfigValidator) validateMessagingConfig(config *Config) {
	m := config.Messaging
	if !m.Enabled {
		return
	}
	if !strings.HasPrefix(m.URL, "amqp://") && !strings.HasPrefix(m.URL, "amqps://") {
		v.addError("amqp_url", "<redacted>", "format", "AMQP URL must start with amqp:// or amqps://")
	}
	if m.Exchange == "" {
		v.addError("amqp_exchange", m.Exchange, "required", "AMQP exchange is required when messaging is enabled")
	}
}

func (v *ConfigValidator) validateStoreConfig(config *Config) {
	s := config.Store
	if !s.RedisEnabled {
		return
	}
	if s.Address == "" {
		v.addError("redis_address", s.Address, "required", "Redis address is required when Redis is enabled")
	}
	if s.Database < 0 || s.Database > 15 {
		v.addError("redis_database", s.Database, "range", "Redis database must be between 0 and 15")
	}
	if s.InsightTTL <= 0 {
		v.addWarning("redis_insight_ttl", s.InsightTTL, "Insights never expire", "Set REDIS_INSIGHT_TTL to bound storage")
	}
}

func (v *ConfigValidator) validateHTTPConfig(config *Config) {
	if !config.HTTP.Enabled {
		return
	}
	if !v.isValidPort(config.HTTP.Port) {
		v.addError("http_port", config.HTTP.Port, "range", "Invalid HTTP port")
	}
	if config.HTTP.Port == 80 && os.Getuid() != 0 {
		v.addWarning("http_port", config.HTTP.Port, "Port 80 requires root privileges", "Consider using port 8080")
	}
	if config.HTTP.ReadTimeout < time.Second || config.HTTP.ReadTimeout > 5*time.Minute {
		v.addError("http_read_timeout", config.HTTP.ReadTimeout, "range", "HTTP read timeout must be between 1s and 5m")
	}
	if config.HTTP.WriteTimeout < time.Second || config.HTTP.WriteTimeout > 10*time.Minute {
		v.addError("http_write_timeout", config.HTTP.WriteTimeout, "range", "HTTP write timeout must be between 1s and 10m")
	}
	if config.HTTP.WriteTimeout < config.Transcription.Timeout {
		v.addWarning("http_write_timeout", config.HTTP.WriteTimeout, "Write timeout is shorter than the transcription timeout",
			"End-session requests may be cut off before the meeting script is ready")
	}
}

func (v *ConfigValidator) validateLoggingConfig(config *Config) {
	validLevels := []string{"trace", "debug", "info", "warn", "warning", "error", "fatal", "panic"}
	if config.Logging.Level != "" && !v.contains(validLevels, strings.ToLower(config.Logging.Level)) {
		v.addError("log_level", config.Logging.Level, "supported", "Invalid log level")
	}

	validFormats := []string{"text", "json"}
	if config.Logging.Format != "" && !v.contains(validFormats, strings.ToLower(config.Logging.Format)) {
		v.addError("log_format", config.Logging.Format, "supported", "Invalid log format")
	}

	if config.Logging.OutputFile != "" {
		logDir := filepath.Dir(config.Logging.OutputFile)
		if !v.directoryExists(logDir) {
			v.addWarning("log_file", config.Logging.OutputFile, "Log directory does not exist", "Create it before starting the service")
		}
	}
}

func (v *ConfigValidator) validateTracingConfig(config *Config) {
	t := config.Tracing
	if !t.Enabled {
		return
	}
	if t.SampleRatio < 0 || t.SampleRatio > 1 {
		v.addError("otel_traces_sampler_ratio", t.SampleRatio, "range", "Trace sample ratio must be between 0 and 1")
	}
	if t.Endpoint == "" {
		v.addWarning("otel_exporter_otlp_endpoint", t.Endpoint, "No OTLP endpoint configured", "Spans will be sampled but not exported")
	}
}

// Helper validation functions

func (v *ConfigValidator) isValidPort(port int) bool {
	return port > 0 && port <= 65535
}

func (v *ConfigValidator) isValidLanguageCode(code string) bool {
	return languageCodePattern.MatchString(code)
}

func (v *ConfigValidator) fileExists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}

func (v *ConfigValidator) directoryExists(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func (v *ConfigValidator) contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

func (v *ConfigValidator) addError(field string, value interface{}, rule, message string) {
	v.errors = append(v.errors, ValidationError{
		Field:   field,
		Value:   value,
		Rule:    rule,
		Message: message,
	})
}

func (v *ConfigValidator) addWarning(field string, value interface{}, message, suggestion string) {
	v.warnings = append(v.warnings, ValidationWarning{
		Field:      field,
		Value:      value,
		Message:    message,
		Suggestion: suggestion,
	})
}

func (v *ConfigValidator) generateSummary() string {
	if len(v.errors) == 0 && len(v.warnings) == 0 {
		return "Configuration validation passed successfully"
	}

	summary := ""
	if len(v.errors) > 0 {
		summary += fmt.Sprintf("%d validation error(s)", len(v.errors))
	}

	if len(v.warnings) > 0 {
		if summary != "" {
			summary += " and "
		}
		summary += fmt.Sprintf("%d warning(s)", len(v.warnings))
	}

	return summary + " found"
}
