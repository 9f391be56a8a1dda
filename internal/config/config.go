// Package config loads and validates engine configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all engine configuration.
type Config struct {
	// Backend API settings.
	APIBaseURL     string        // Root URL of the operations backend.
	APIKey         string        // Secret used to obtain a bearer token.
	ClientID       string        // Identifies this device/installation to the backend.
	RequestTimeout time.Duration // Per-request HTTP timeout.

	// Telemetry channel settings.
	TelemetryEnabled   bool
	TelemetryBatchSize int           // Buffered events before an immediate flush.
	TelemetryFlush     time.Duration // Periodic flush interval.
	TelemetryRestore   bool          // Restore the batch to the buffer on transport failure.

	// Log channel settings.
	LogBatchSize int
	LogFlush     time.Duration
	LogRestore   bool
	LogMinLevel  string // Minimum level enqueued: debug, info, warn, error, fatal.

	// Shared buffer settings.
	BufferCapacity int // Hard cap on buffered records per channel.

	// Alerting settings.
	AlertPollInterval time.Duration

	// Consistency settings.
	TimerMaxReasonableHours float64 // Ceiling beyond which a job timer is flagged as left running.

	// Endpoint availability probe.
	ProbeTTL time.Duration

	// Durable pending-correction store.
	PendingDBPath string

	// Client metadata attached to correction requests.
	AppVersion string
	Platform   string

	// Engine self-observability.
	OTELEndpoint string
	OTELInsecure bool
	ServiceName  string
	LogLevel     string // Engine's own slog level.
}

// Load reads configuration from environment variables with sensible defaults.
// Heuristic thresholds (batch sizes, the timer ceiling, restore policies) are
// deliberately configuration rather than constants.
func Load() (Config, error) {
	var errs []error

	num := func(key string, def int) int {
		v, err := envInt(key, def)
		if err != nil {
			errs = append(errs, err)
		}
		return v
	}
	boolean := func(key string, def bool) bool {
		v, err := envBool(key, def)
		if err != nil {
			errs = append(errs, err)
		}
		return v
	}
	dur := func(key string, def time.Duration) time.Duration {
		v, err := envDuration(key, def)
		if err != nil {
			errs = append(errs, err)
		}
		return v
	}
	flt := func(key string, def float64) float64 {
		v, err := envFloat(key, def)
		if err != nil {
			errs = append(errs, err)
		}
		return v
	}

	cfg := Config{
		APIBaseURL:     envStr("OPSCORE_API_URL", "http://localhost:8080"),
		APIKey:         envStr("OPSCORE_API_KEY", ""),
		ClientID:       envStr("OPSCORE_CLIENT_ID", ""),
		RequestTimeout: dur("OPSCORE_REQUEST_TIMEOUT", 30*time.Second),

		TelemetryEnabled:   boolean("OPSCORE_TELEMETRY_ENABLED", true),
		TelemetryBatchSize: num("OPSCORE_TELEMETRY_BATCH_SIZE", 10),
		TelemetryFlush:     dur("OPSCORE_TELEMETRY_FLUSH_INTERVAL", 30*time.Second),
		TelemetryRestore:   boolean("OPSCORE_TELEMETRY_RESTORE_ON_FAILURE", true),

		LogBatchSize: num("OPSCORE_LOG_BATCH_SIZE", 50),
		LogFlush:     dur("OPSCORE_LOG_FLUSH_INTERVAL", 30*time.Second),
		LogRestore:   boolean("OPSCORE_LOG_RESTORE_ON_FAILURE", false),
		LogMinLevel:  envStr("OPSCORE_LOG_MIN_LEVEL", "info"),

		BufferCapacity: num("OPSCORE_BUFFER_CAPACITY", 10_000),

		AlertPollInterval: dur("OPSCORE_ALERT_POLL_INTERVAL", 60*time.Second),

		TimerMaxReasonableHours: flt("OPSCORE_TIMER_MAX_HOURS", 240),

		ProbeTTL: dur("OPSCORE_PROBE_TTL", 5*time.Minute),

		PendingDBPath: envStr("OPSCORE_PENDING_DB", "opscore-pending.db"),

		AppVersion: envStr("OPSCORE_APP_VERSION", "dev"),
		Platform:   envStr("OPSCORE_PLATFORM", "go"),

		OTELEndpoint: envStr("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OTELInsecure: boolean("OTEL_EXPORTER_OTLP_INSECURE", false),
		ServiceName:  envStr("OTEL_SERVICE_NAME", "opscore"),
		LogLevel:     envStr("OPSCORE_LOG_LEVEL", "info"),
	}

	if len(errs) > 0 {
		return Config{}, errs[0]
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that the configuration is internally consistent.
func (c Config) Validate() error {
	if c.APIBaseURL == "" {
		return fmt.Errorf("config: OPSCORE_API_URL is required")
	}
	if c.TelemetryBatchSize <= 0 {
		return fmt.Errorf("config: OPSCORE_TELEMETRY_BATCH_SIZE must be positive")
	}
	if c.LogBatchSize <= 0 {
		return fmt.Errorf("config: OPSCORE_LOG_BATCH_SIZE must be positive")
	}
	if c.BufferCapacity < c.TelemetryBatchSize || c.BufferCapacity < c.LogBatchSize {
		return fmt.Errorf("config: OPSCORE_BUFFER_CAPACITY must be at least the batch size")
	}
	if c.TimerMaxReasonableHours <= 0 {
		return fmt.Errorf("config: OPSCORE_TIMER_MAX_HOURS must be positive")
	}
	switch c.LogMinLevel {
	case "debug", "info", "warn", "error", "fatal":
	default:
		return fmt.Errorf("config: OPSCORE_LOG_MIN_LEVEL %q is not a valid level", c.LogMinLevel)
	}
	return nil
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s=%q is not a valid integer", key, v)
	}
	return n, nil
}

func envBool(key string, defaultVal bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s=%q is not a valid boolean", key, v)
	}
	return b, nil
}

func envDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s=%q is not a valid duration", key, v)
	}
	return d, nil
}

func envFloat(key string, defaultVal float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s=%q is not a valid number", key, v)
	}
	return f, nil
}
