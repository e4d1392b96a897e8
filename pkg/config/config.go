package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"skillcoach-engine/pkg/errors"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// Config represents the complete application configuration
type Config struct {
	Engine        EngineConfig        `json:"engine"`
	Transcription TranscriptionConfig `json:"transcription"`
	Coaching      CoachingConfig      `json:"coaching"`
	Messaging     MessagingConfig     `json:"messaging"`
	Store         StoreConfig         `json:"store"`
	HTTP          HTTPConfig          `json:"http"`
	Logging       LoggingConfig       `json:"logging"`
	Tracing       TracingConfig       `json:"tracing"`
}

// EngineConfig holds the live tracking settings
type EngineConfig struct {
	// Interval of the live visualization tick (100ms = 10 Hz)
	TickInterval time.Duration `json:"tick_interval" env:"LIVE_TICK_INTERVAL" default:"100ms"`

	// Disable to run the engine without visualization state updates
	VisualizationEnabled bool `json:"visualization_enabled" env:"LIVE_VISUALIZATION_ENABLED" default:"true"`

	MaxParticles  int `json:"max_particles" env:"MAX_PARTICLES" default:"200"`
	MaxSkillAuras int `json:"max_skill_auras" env:"MAX_SKILL_AURAS" default:"16"`

	// Per-session signal queue; signals beyond it are dropped
	IngestQueueSize int `json:"ingest_queue_size" env:"INGEST_QUEUE_SIZE" default:"256"`

	// Directory where the embedding system stores call recordings
	RecordingDir string `json:"recording_dir" env:"RECORDING_DIR" default:"./recordings"`

	DefaultMode       string `json:"default_mode" env:"DEFAULT_DETECTION_MODE" default:"comprehensive"`
	MaxActiveSessions int    `json:"max_active_sessions" env:"MAX_ACTIVE_SESSIONS" default:"500"`
}

// TranscriptionConfig holds post-session speech recognition settings
type TranscriptionConfig struct {
	// Provider used after a session ends: mock, file, google or amazon
	Provider string        `json:"provider" env:"STT_PROVIDER" default:"file"`
	Timeout  time.Duration `json:"timeout" env:"TRANSCRIPTION_TIMEOUT" default:"2m"`
	Language string        `json:"language" env:"STT_LANGUAGE" default:"en-US"`

	MinSpeakers int `json:"min_speakers" env:"STT_MIN_SPEAKERS" default:"2"`
	MaxSpeakers int `json:"max_speakers" env:"STT_MAX_SPEAKERS" default:"6"`

	// When set, recognition is denied unless consent has been granted
	ConsentRequired bool `json:"consent_required" env:"RECORDING_CONSENT_REQUIRED" default:"false"`
	ConsentGranted  bool `json:"consent_granted" env:"RECORDING_CONSENT_GRANTED" default:"true"`

	Google GoogleSTTConfig `json:"google"`
	Amazon AmazonSTTConfig `json:"amazon"`
}

// GoogleSTTConfig holds Google Speech-to-Text configuration
type GoogleSTTConfig struct {
	Enabled         bool          `json:"enabled" env:"GOOGLE_STT_ENABLED" default:"false"`
	CredentialsFile string        `json:"credentials_file" env:"GOOGLE_APPLICATION_CREDENTIALS"`
	APIKey          string        `json:"api_key" env:"GOOGLE_STT_API_KEY"`
	SampleRate      int           `json:"sample_rate" env:"GOOGLE_STT_SAMPLE_RATE" default:"16000"`
	Model           string        `json:"model" env:"GOOGLE_STT_MODEL" default:"latest_long"`
	PollInterval    time.Duration `json:"poll_interval" env:"GOOGLE_STT_POLL_INTERVAL" default:"2s"`
}

// AmazonSTTConfig holds Amazon Transcribe configuration
type AmazonSTTConfig struct {
	Enabled         bool   `json:"enabled" env:"AMAZON_STT_ENABLED" default:"false"`
	AccessKeyID     string `json:"access_key_id" env:"AWS_ACCESS_KEY_ID"`
	SecretAccessKey string `json:"secret_access_key" env:"AWS_SECRET_ACCESS_KEY"`
	Region          string `json:"region" env:"AWS_REGION" default:"us-east-1"`
	SampleRate      int    `json:"sample_rate" env:"AMAZON_STT_SAMPLE_RATE" default:"16000"`
}

// CoachingConfig holds real-time coaching settings
type CoachingConfig struct {
	HistoryLimit int `json:"history_limit" env:"COACHING_HISTORY_LIMIT" default:"50"`
}

// MessagingConfig holds the AMQP publisher settings
type MessagingConfig struct {
	Enabled           bool          `json:"enabled" env:"AMQP_ENABLED" default:"false"`
	URL               string        `json:"url" env:"AMQP_URL"`
	Exchange          string        `json:"exchange" env:"AMQP_EXCHANGE" default:"skillcoach.events"`
	XPRoutingKey      string        `json:"xp_routing_key" env:"AMQP_XP_ROUTING_KEY" default:"gamification.xp"`
	ScriptRoutingKey  string        `json:"script_routing_key" env:"AMQP_SCRIPT_ROUTING_KEY" default:"insights.meeting_script"`
	InsightRoutingKey string        `json:"insight_routing_key" env:"AMQP_INSIGHT_ROUTING_KEY" default:"insights.coaching"`
	CareerRoutingKey  string        `json:"career_routing_key" env:"AMQP_CAREER_ROUTING_KEY" default:"career.refresh"`
	ConnectTimeout    time.Duration `json:"connect_timeout" env:"AMQP_CONNECTION_TIMEOUT" default:"10s"`
}

// StoreConfig holds the Redis insight store settings
type StoreConfig struct {
	RedisEnabled bool          `json:"redis_enabled" env:"REDIS_ENABLED" default:"false"`
	Address      string        `json:"address" env:"REDIS_ADDRESS" default:"localhost:6379"`
	Password     string        `json:"password" env:"REDIS_PASSWORD"`
	Database     int           `json:"database" env:"REDIS_DATABASE" default:"0"`
	InsightTTL   time.Duration `json:"insight_ttl" env:"REDIS_INSIGHT_TTL" default:"720h"`
	KeyPrefix    string        `json:"key_prefix" env:"REDIS_KEY_PREFIX" default:"skillcoach:"`
}

// HTTPConfig holds HTTP server configuration
type HTTPConfig struct {
	// HTTP port
	Port int `json:"port" env:"HTTP_PORT" default:"8080"`

	// Whether HTTP server is enabled
	Enabled bool `json:"enabled" env:"HTTP_ENABLED" default:"true"`

	// Whether metrics endpoint is enabled
	EnableMetrics bool `json:"enable_metrics" env:"HTTP_ENABLE_METRICS" default:"true"`

	// Read timeout for HTTP requests
	ReadTimeout time.Duration `json:"read_timeout" env:"HTTP_READ_TIMEOUT" default:"10s"`

	// Write timeout for HTTP responses; ending a session waits for post-session analysis
	WriteTimeout time.Duration `json:"write_timeout" env:"HTTP_WRITE_TIMEOUT" default:"3m"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	// Log level
	Level string `json:"level" env:"LOG_LEVEL" default:"info"`

	// Log format (json or text)
	Format string `json:"format" env:"LOG_FORMAT" default:"json"`

	// Log output file (empty = stdout)
	OutputFile string `json:"output_file" env:"LOG_OUTPUT_FILE"`
}

// TracingConfig holds OpenTelemetry tracing configuration
type TracingConfig struct {
	Enabled     bool    `json:"enabled" env:"OTEL_TRACING_ENABLED" default:"false"`
	Endpoint    string  `json:"endpoint" env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	Insecure    bool    `json:"insecure" env:"OTEL_EXPORTER_OTLP_INSECURE" default:"false"`
	ServiceName string  `json:"service_name" env:"OTEL_SERVICE_NAME" default:"skillcoach-engine"`
	SampleRatio float64 `json:"sample_ratio" env:"OTEL_TRACES_SAMPLER_RATIO" default:"1.0"`
}

// Load loads the configuration from .env file and environment variables
func Load(logger *logrus.Logger) (*Config, error) {
	wd, err := os.Getwd()
	if err != nil {
		logger.WithError(err).Warn("Failed to get current working directory")
		wd = "unknown"
	}

	possibleEnvFiles := []string{
		".env",                    // Current directory
		"../.env",                 // Parent directory
		filepath.Join(wd, ".env"), // Absolute path
	}

	var loadedFrom string
	for _, envFile := range possibleEnvFiles {
		if _, statErr := os.Stat(envFile); statErr == nil {
			absPath, _ := filepath.Abs(envFile)
			logger.WithField("path", absPath).Debug("Attempting to load .env file")

			if loadErr := godotenv.Load(envFile); loadErr == nil {
				loadedFrom = absPath
				break
			}
		}
	}

	if loadedFrom != "" {
		logger.WithFields(logrus.Fields{
			"working_dir": wd,
			"path":        loadedFrom,
		}).Info("Successfully loaded .env file")
	} else {
		logger.WithField("working_dir", wd).Debug("No .env file found, using environment variables only")
	}

	config := &Config{}

	if err := loadEngineConfig(logger, &config.Engine); err != nil {
		return nil, errors.Wrap(err, "failed to load engine configuration")
	}
	if err := loadTranscriptionConfig(logger, &config.Transcription); err != nil {
		return nil, errors.Wrap(err, "failed to load transcription configuration")
	}
	loadCoachingConfig(&config.Coaching)
	loadMessagingConfig(logger, &config.Messaging)
	loadStoreConfig(&config.Store)
	loadHTTPConfig(logger, &config.HTTP)
	loadLoggingConfig(logger, &config.Logging)
	loadTracingConfig(&config.Tracing)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func loadEngineConfig(logger *logrus.Logger, config *EngineConfig) error {
	config.TickInterval = getEnvDuration("LIVE_TICK_INTERVAL", 100*time.Millisecond)
	config.VisualizationEnabled = getEnvBool("LIVE_VISUALIZATION_ENABLED", true)
	config.MaxParticles = getEnvInt("MAX_PARTICLES", 200)
	config.MaxSkillAuras = getEnvInt("MAX_SKILL_AURAS", 16)
	config.IngestQueueSize = getEnvInt("INGEST_QUEUE_SIZE", 256)
	config.RecordingDir = getEnv("RECORDING_DIR", "./recordings")
	config.DefaultMode = strings.ToLower(getEnv("DEFAULT_DETECTION_MODE", "comprehensive"))
	config.MaxActiveSessions = getEnvInt("MAX_ACTIVE_SESSIONS", 500)

	if !config.VisualizationEnabled {
		logger.Info("Live visualization disabled, live ticks will not run")
	}
	return nil
}

func loadTranscriptionConfig(logger *logrus.Logger, config *TranscriptionConfig) error {
	config.Provider = strings.ToLower(getEnv("STT_PROVIDER", "file"))
	config.Timeout = getEnvDuration("TRANSCRIPTION_TIMEOUT", 2*time.Minute)
	config.Language = getEnv("STT_LANGUAGE", "en-US")
	config.MinSpeakers = getEnvInt("STT_MIN_SPEAKERS", 2)
	config.MaxSpeakers = getEnvInt("STT_MAX_SPEAKERS", 6)
	config.ConsentRequired = getEnvBool("RECORDING_CONSENT_REQUIRED", false)
	config.ConsentGranted = getEnvBool("RECORDING_CONSENT_GRANTED", true)

	if config.MinSpeakers > config.MaxSpeakers {
		return errors.New(fmt.Sprintf("STT_MIN_SPEAKERS (%d) exceeds STT_MAX_SPEAKERS (%d)", config.MinSpeakers, config.MaxSpeakers))
	}

	config.Google.Enabled = getEnvBool("GOOGLE_STT_ENABLED", config.Provider == "google")
	config.Google.CredentialsFile = getEnv("GOOGLE_APPLICATION_CREDENTIALS", "")
	config.Google.APIKey = getEnv("GOOGLE_STT_API_KEY", "")
	config.Google.SampleRate = getEnvInt("GOOGLE_STT_SAMPLE_RATE", 16000)
	config.Google.Model = getEnv("GOOGLE_STT_MODEL", "latest_long")
	config.Google.PollInterval = getEnvDuration("GOOGLE_STT_POLL_INTERVAL", 2*time.Second)
	if config.Google.Enabled && config.Google.CredentialsFile == "" && config.Google.APIKey == "" {
		logger.Warn("Google STT enabled but neither GOOGLE_APPLICATION_CREDENTIALS nor GOOGLE_STT_API_KEY is set")
	}

	config.Amazon.Enabled = getEnvBool("AMAZON_STT_ENABLED", config.Provider == "amazon")
	config.Amazon.AccessKeyID = getEnv("AWS_ACCESS_KEY_ID", "")
	config.Amazon.SecretAccessKey = getEnv("AWS_SECRET_ACCESS_KEY", "")
	config.Amazon.Region = getEnv("AWS_REGION", "us-east-1")
	config.Amazon.SampleRate = getEnvInt("AMAZON_STT_SAMPLE_RATE", 16000)

	if config.ConsentRequired && !config.ConsentGranted {
		logger.Warn("Recording consent required but not granted, post-session transcription will be denied")
	}
	return nil
}

func loadCoachingConfig(config *CoachingConfig) {
	config.HistoryLimit = getEnvInt("COACHING_HISTORY_LIMIT", 50)
}

func loadMessagingConfig(logger *logrus.Logger, config *MessagingConfig) {
	config.URL = getEnv("AMQP_URL", "")
	config.Enabled = getEnvBool("AMQP_ENABLED", config.URL != "")
	config.Exchange = getEnv("AMQP_EXCHANGE", "skillcoach.events")
	config.XPRoutingKey = getEnv("AMQP_XP_ROUTING_KEY", "gamification.xp")
	config.ScriptRoutingKey = getEnv("AMQP_SCRIPT_ROUTING_KEY", "insights.meeting_script")
	config.InsightRoutingKey = getEnv("AMQP_INSIGHT_ROUTING_KEY", "insights.coaching")
	config.CareerRoutingKey = getEnv("AMQP_CAREER_ROUTING_KEY", "career.refresh")
	config.ConnectTimeout = getEnvDuration("AMQP_CONNECTION_TIMEOUT", 10*time.Second)

	if config.Enabled && config.URL == "" {
		logger.Warn("AMQP enabled but AMQP_URL is empty, disabling messaging")
		config.Enabled = false
	}
}

func loadStoreConfig(config *StoreConfig) {
	config.RedisEnabled = getEnvBool("REDIS_ENABLED", false)
	config.Address = getEnv("REDIS_ADDRESS", "localhost:6379")
	config.Password = getEnv("REDIS_PASSWORD", "")
	config.Database = getEnvInt("REDIS_DATABASE", 0)
	config.InsightTTL = getEnvDuration("REDIS_INSIGHT_TTL", 720*time.Hour)
	config.KeyPrefix = getEnv("REDIS_KEY_PREFIX", "skillcoach:")
}

func loadHTTPConfig(logger *logrus.Logger, config *HTTPConfig) {
	httpPortStr := getEnv("HTTP_PORT", "8080")
	httpPort, err := strconv.Atoi(httpPortStr)
	if err != nil || httpPort < 1 || httpPort > 65535 {
		logger.Warn("Invalid HTTP_PORT value, using default: 8080")
		config.Port = 8080
	} else {
		config.Port = httpPort
	}

	config.Enabled = getEnvBool("HTTP_ENABLED", true)
	config.EnableMetrics = getEnvBool("HTTP_ENABLE_METRICS", true)
	config.ReadTimeout = getEnvDuration("HTTP_READ_TIMEOUT", 10*time.Second)
	config.WriteTimeout = getEnvDuration("HTTP_WRITE_TIMEOUT", 3*time.Minute)
}

func loadLoggingConfig(logger *logrus.Logger, config *LoggingConfig) {
	config.Level = getEnv("LOG_LEVEL", "info")
	if _, err := logrus.ParseLevel(config.Level); err != nil {
		logger.Warnf("Invalid LOG_LEVEL '%s', defaulting to 'info'", config.Level)
		config.Level = "info"
	}

	config.Format = getEnv("LOG_FORMAT", "json")
	if config.Format != "json" && config.Format != "text" {
		logger.Warn("Invalid LOG_FORMAT, must be 'json' or 'text', defaulting to 'json'")
		config.Format = "json"
	}

	config.OutputFile = getEnv("LOG_OUTPUT_FILE", "")
}

func loadTracingConfig(config *TracingConfig) {
	config.Enabled = getEnvBool("OTEL_TRACING_ENABLED", false)
	config.Endpoint = getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	config.Insecure = getEnvBool("OTEL_EXPORTER_OTLP_INSECURE", false)
	config.ServiceName = getEnv("OTEL_SERVICE_NAME", "skillcoach-engine")
	config.SampleRatio = getEnvFloat("OTEL_TRACES_SAMPLER_RATIO", 1.0)
}

// ApplyLogging configures the logger from the logging section
func (c *Config) ApplyLogging(logger *logrus.Logger) error {
	level, err := logrus.ParseLevel(c.Logging.Level)
	if err != nil {
		return errors.Wrap(err, fmt.Sprintf("invalid log level: %s", c.Logging.Level))
	}
	logger.SetLevel(level)

	if c.Logging.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
		})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.RFC3339Nano,
		})
	}

	if c.Logging.OutputFile != "" {
		f, err := os.OpenFile(c.Logging.OutputFile, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
		if err != nil {
			return errors.Wrap(err, fmt.Sprintf("failed to open log file: %s", c.Logging.OutputFile))
		}
		logger.SetOutput(f)
	} else {
		logger.SetOutput(os.Stdout)
	}

	return nil
}

// Helper function to get an environment variable with a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// Helper function to get a boolean environment variable with a default value
func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	switch strings.ToLower(value) {
	case "true", "yes", "1", "on":
		return true
	case "false", "no", "0", "off":
		return false
	default:
		return defaultValue
	}
}

// Helper function to get an integer environment variable with a default value
func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	intValue, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}

	return intValue
}

// Helper function to get a duration environment variable with a default value
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	duration, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}

	return duration
}

// getEnvFloat retrieves an environment variable and converts it to float64
func getEnvFloat(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	floatValue, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultValue
	}

	return floatValue
}
