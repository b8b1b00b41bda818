package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultPollInterval is how often the dispatcher wakes to look for work.
	DefaultPollInterval = 5 * time.Second

	// DefaultMaxConcurrent is the number of deliveries allowed in flight at once.
	DefaultMaxConcurrent = 3

	// DefaultStaleThreshold is how long a job may sit pending before reconciliation looks at it.
	DefaultStaleThreshold = 30 * time.Minute

	// DefaultMaxRetries is the retry count at which a job is considered exhausted.
	DefaultMaxRetries = 3

	// DefaultDrainTimeout bounds how long Stop waits for in-flight deliveries.
	DefaultDrainTimeout = 30 * time.Second

	// DefaultWebexAPIURL is the public Webex REST endpoint.
	DefaultWebexAPIURL = "https://webexapis.com/v1"

	// ConfigFileEnv names the optional YAML file holding default settings.
	ConfigFileEnv = "COURIER_CONFIG"
)

// Config holds all application configuration.
type Config struct {
	Database     DatabaseConfig
	Redis        RedisConfig
	Dispatcher   DispatcherConfig
	Webex        WebexConfig
	Circuit      CircuitConfig
	Retention    RetentionConfig
	Health       HealthConfig
	Metrics      MetricsConfig
	Tracing      TracingConfig
	Notification NotificationConfig
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	URL             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
	ConnectAttempts int
}

// RedisConfig holds Redis configuration.
type RedisConfig struct {
	URL          string
	PoolSize     int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DispatcherConfig holds the poll loop limits.
type DispatcherConfig struct {
	PollInterval   time.Duration
	MaxConcurrent  int
	StaleThreshold time.Duration
	MaxRetries     int
	DrainTimeout   time.Duration
}

// WebexConfig holds messaging channel configuration.
type WebexConfig struct {
	APIURL         string
	BotToken       string
	Timeout        time.Duration
	RateLimit      float64 // requests per second for the bot token, 0 = unlimited
	RateBurst      int
	RoomRateLimit  int // messages per window per room, 0 = unlimited
	RoomRateWindow time.Duration
	DedupTTL       time.Duration
}

// CircuitConfig holds per-destination circuit breaker settings.
type CircuitConfig struct {
	FailureThreshold int
	SuccessThreshold int
	OpenDuration     time.Duration
}

// RetentionConfig controls cleanup of terminal jobs.
type RetentionConfig struct {
	CleanupInterval time.Duration
	RetentionPeriod time.Duration
}

// HealthConfig holds the health server configuration.
type HealthConfig struct {
	Enabled         bool
	Addr            string
	ShutdownTimeout time.Duration
}

// MetricsConfig selects and configures the metrics backend.
type MetricsConfig struct {
	Provider       string
	ServiceName    string
	ServiceVersion string
	Environment    string
	Endpoint       string
}

// TracingConfig configures OpenTelemetry tracing.
type TracingConfig struct {
	Enabled    bool
	Endpoint   string
	SampleRate float64
}

// NotificationConfig holds operator notification settings.
type NotificationConfig struct {
	Enabled         bool
	Async           bool
	SlackWebhookURL string
	SMTPHost        string
	SMTPPort        int
	SMTPUsername    string
	SMTPPassword    string
	EmailFrom       string
	EmailTo         []string
}

// Validation errors.
var (
	ErrDatabaseURLRequired  = errors.New("DATABASE_URL environment variable is required")
	ErrWebexTokenRequired   = errors.New("WEBEX_BOT_TOKEN environment variable is required")
	ErrInvalidPollInterval  = errors.New("DISPATCHER_POLL_INTERVAL must be positive")
	ErrInvalidMaxConcurrent = errors.New("DISPATCHER_MAX_CONCURRENT must be at least 1")
	ErrInvalidMaxRetries    = errors.New("DISPATCHER_MAX_RETRIES must be at least 1")
	ErrInvalidThreshold     = errors.New("DISPATCHER_STALE_THRESHOLD must be positive")
	ErrInvalidDrainTimeout  = errors.New("DISPATCHER_DRAIN_TIMEOUT must not be negative")
)

// source resolves settings: environment variables first, then the YAML file.
type source struct {
	file map[string]string
}

func (s source) lookup(key string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return s.file[key]
}

// LoadConfig loads configuration from the environment, falling back to the
// file named by COURIER_CONFIG for keys that are not set.
func LoadConfig() (*Config, error) {
	src, err := loadSource(os.Getenv(ConfigFileEnv))
	if err != nil {
		return nil, err
	}
	return load(src)
}

func loadSource(path string) (source, error) {
	src := source{file: map[string]string{}}
	if path == "" {
		return src, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return src, fmt.Errorf("failed to read config file: %w", err)
	}

	raw := map[string]string{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return src, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	for k, v := range raw {
		src.file[strings.ToUpper(strings.TrimSpace(k))] = v
	}
	return src, nil
}

func load(src source) (*Config, error) {
	cfg := &Config{}

	cfg.Database.URL = src.lookup("DATABASE_URL")
	if cfg.Database.URL == "" {
		return nil, ErrDatabaseURLRequired
	}
	cfg.Database.MaxConns = int32(src.getInt("DATABASE_MAX_CONNS", 10))
	cfg.Database.MinConns = int32(src.getInt("DATABASE_MIN_CONNS", 2))
	cfg.Database.MaxConnLifetime = src.getDuration("DATABASE_MAX_CONN_LIFETIME", 1*time.Hour)
	cfg.Database.MaxConnIdleTime = src.getDuration("DATABASE_MAX_CONN_IDLE_TIME", 30*time.Minute)
	cfg.Database.ConnectAttempts = src.getInt("DATABASE_CONNECT_ATTEMPTS", 5)

	cfg.Redis.URL = src.get("REDIS_URL", "localhost:6379")
	cfg.Redis.PoolSize = src.getInt("REDIS_POOL_SIZE", 10)
	cfg.Redis.ReadTimeout = src.getDuration("REDIS_READ_TIMEOUT", 3*time.Second)
	cfg.Redis.WriteTimeout = src.getDuration("REDIS_WRITE_TIMEOUT", 3*time.Second)

	cfg.Dispatcher.PollInterval = src.getDuration("DISPATCHER_POLL_INTERVAL", DefaultPollInterval)
	cfg.Dispatcher.MaxConcurrent = src.getInt("DISPATCHER_MAX_CONCURRENT", DefaultMaxConcurrent)
	cfg.Dispatcher.StaleThreshold = src.getDuration("DISPATCHER_STALE_THRESHOLD", DefaultStaleThreshold)
	cfg.Dispatcher.MaxRetries = src.getInt("DISPATCHER_MAX_RETRIES", DefaultMaxRetries)
	cfg.Dispatcher.DrainTimeout = src.getDuration("DISPATCHER_DRAIN_TIMEOUT", DefaultDrainTimeout)

	cfg.Webex.APIURL = strings.TrimSuffix(src.get("WEBEX_API_URL", DefaultWebexAPIURL), "/")
	cfg.Webex.BotToken = src.lookup("WEBEX_BOT_TOKEN")
	cfg.Webex.Timeout = src.getDuration("WEBEX_TIMEOUT", 30*time.Second)
	cfg.Webex.RateLimit = src.getFloat("WEBEX_RATE_LIMIT", 5)
	cfg.Webex.RateBurst = src.getInt("WEBEX_RATE_BURST", 5)
	cfg.Webex.RoomRateLimit = src.getInt("WEBEX_ROOM_RATE_LIMIT", 1)
	cfg.Webex.RoomRateWindow = src.getDuration("WEBEX_ROOM_RATE_WINDOW", time.Second)
	cfg.Webex.DedupTTL = src.getDuration("WEBEX_DEDUP_TTL", 7*24*time.Hour)

	cfg.Circuit.FailureThreshold = src.getInt("CIRCUIT_FAILURE_THRESHOLD", 5)
	cfg.Circuit.SuccessThreshold = src.getInt("CIRCUIT_SUCCESS_THRESHOLD", 1)
	cfg.Circuit.OpenDuration = src.getDuration("CIRCUIT_OPEN_DURATION", 2*time.Minute)

	cfg.Retention.CleanupInterval = src.getDuration("RETENTION_CLEANUP_INTERVAL", 1*time.Hour)
	cfg.Retention.RetentionPeriod = src.getDuration("RETENTION_PERIOD", 30*24*time.Hour)

	cfg.Health.Enabled = src.getBool("HEALTH_ENABLED", true)
	cfg.Health.Addr = src.get("HEALTH_ADDR", ":8081")
	cfg.Health.ShutdownTimeout = src.getDuration("HEALTH_SHUTDOWN_TIMEOUT", 5*time.Second)

	cfg.Metrics.Provider = src.get("METRICS_PROVIDER", "noop")
	cfg.Metrics.ServiceName = src.get("SERVICE_NAME", "courier")
	cfg.Metrics.ServiceVersion = src.get("SERVICE_VERSION", "dev")
	cfg.Metrics.Environment = src.get("ENVIRONMENT", "development")
	cfg.Metrics.Endpoint = src.lookup("OTEL_EXPORTER_OTLP_ENDPOINT")

	cfg.Tracing.Enabled = src.getBool("TRACING_ENABLED", false)
	cfg.Tracing.Endpoint = cfg.Metrics.Endpoint
	cfg.Tracing.SampleRate = src.getFloat("TRACING_SAMPLE_RATE", 1.0)

	cfg.Notification.Enabled = src.getBool("NOTIFICATION_ENABLED", false)
	cfg.Notification.Async = src.getBool("NOTIFICATION_ASYNC", true)
	cfg.Notification.SlackWebhookURL = src.lookup("SLACK_WEBHOOK_URL")
	cfg.Notification.SMTPHost = src.lookup("SMTP_HOST")
	cfg.Notification.SMTPPort = src.getInt("SMTP_PORT", 587)
	cfg.Notification.SMTPUsername = src.lookup("SMTP_USERNAME")
	cfg.Notification.SMTPPassword = src.lookup("SMTP_PASSWORD")
	cfg.Notification.EmailFrom = src.get("EMAIL_FROM", "courier@localhost")
	cfg.Notification.EmailTo = src.getList("EMAIL_TO")

	return cfg, nil
}

// ValidateForDispatch checks the settings needed to run the dispatcher.
func (c *Config) ValidateForDispatch() error {
	if c.Webex.BotToken == "" {
		return ErrWebexTokenRequired
	}
	if c.Dispatcher.PollInterval <= 0 {
		return ErrInvalidPollInterval
	}
	if c.Dispatcher.MaxConcurrent < 1 {
		return ErrInvalidMaxConcurrent
	}
	if c.Dispatcher.MaxRetries < 1 {
		return ErrInvalidMaxRetries
	}
	if c.Dispatcher.StaleThreshold <= 0 {
		return ErrInvalidThreshold
	}
	if c.Dispatcher.DrainTimeout < 0 {
		return ErrInvalidDrainTimeout
	}
	return nil
}

func (s source) get(key, defaultValue string) string {
	if value := s.lookup(key); value != "" {
		return value
	}
	return defaultValue
}

func (s source) getInt(key string, defaultValue int) int {
	if value := s.lookup(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func (s source) getFloat(key string, defaultValue float64) float64 {
	if value := s.lookup(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func (s source) getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := s.lookup(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func (s source) getBool(key string, defaultValue bool) bool {
	value := s.lookup(key)
	if value == "" {
		return defaultValue
	}
	return value == "true" || value == "1" || value == "yes"
}

func (s source) getList(key string) []string {
	value := s.lookup(key)
	if value == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
