// Package config provides configuration loading and validation for the
// analytics service. It uses koanf to merge environment variables with
// optional file overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config holds all configuration values for the analytics service.
type Config struct {
	// Server settings
	Port int    `koanf:"port"`
	Env  string `koanf:"env"`

	// Backends. Both are optional: without a database the in-memory store is
	// used, without Redis caching and rate limiting stay in process.
	DatabaseURL string `koanf:"database_url"`
	RedisURL    string `koanf:"redis_url"`

	// JWT verification. The previous secret is accepted during rotation.
	JWTSecret         string `koanf:"jwt_secret"`
	JWTPreviousSecret string `koanf:"jwt_previous_secret"`

	// Analytics engine
	CallTimeoutMS           int    `koanf:"call_timeout_ms"`
	RefreshIntervalSeconds  int    `koanf:"refresh_interval_seconds"`
	CacheTTLSeconds         int    `koanf:"cache_ttl_seconds"`
	BreakerFailureThreshold int    `koanf:"breaker_failure_threshold"`
	LaunchDate              string `koanf:"launch_date"` // YYYY-MM-DD, start of the "all" preset

	// HTTP surface
	TrackRateLimitPerMinute int      `koanf:"track_rate_limit_per_minute"`
	FeedPollIntervalSeconds int      `koanf:"feed_poll_interval_seconds"`
	CORSAllowedOrigins      []string `koanf:"cors_allowed_origins"`

	// Tracing
	TracingEnabled    bool    `koanf:"tracing_enabled"`
	TracingExporter   string  `koanf:"tracing_exporter"`
	TracingEndpoint   string  `koanf:"tracing_endpoint"`
	TracingSampleRate float64 `koanf:"tracing_sample_rate"`
}

// Configuration validation errors.
var (
	ErrMissingJWTSecret   = errors.New("JWT_SECRET is required in production")
	ErrInvalidInteger     = errors.New("must be a valid integer")
	ErrInvalidFloat       = errors.New("must be a valid number")
	ErrInvalidPort        = errors.New("PORT must be between 1 and 65535")
	ErrNonPositive        = errors.New("must be greater than zero")
	ErrInvalidLaunchDate  = errors.New("LAUNCH_DATE must be a YYYY-MM-DD date")
	ErrInvalidExporter    = errors.New("TRACING_EXPORTER must be otlp-grpc or otlp-http")
	ErrInvalidSampleRate  = errors.New("TRACING_SAMPLE_RATE must be between 0 and 1")
	ErrInvalidDatabaseURL = errors.New("DATABASE_URL must use the postgres:// or postgresql:// scheme")
)

// Default values for non-secret configuration.
const (
	DefaultPort                    = 8080
	DefaultEnv                     = "development"
	DefaultCallTimeoutMS           = 5000
	DefaultRefreshIntervalSeconds  = 900
	DefaultCacheTTLSeconds         = 60
	DefaultBreakerFailureThreshold = 5
	DefaultLaunchDate              = "2024-01-01"
	DefaultTrackRateLimitPerMinute = 120
	DefaultFeedPollIntervalSeconds = 5
	DefaultTracingExporter         = "otlp-http"
	DefaultTracingSampleRate       = 0.1
)

// intSetting describes one integer key and where it is read from.
type intSetting struct {
	envKeys []string
	key     string
	def     int
	dst     *int
}

// Load reads configuration from environment variables and an optional config file.
// Environment variables take precedence over file values.
// Returns the loaded config and a slice of validation errors (empty if valid).
// If a config file path is provided and the file cannot be loaded, an error is returned.
func Load(configFilePath string) (*Config, []error) {
	k := koanf.New(".")

	if configFilePath != "" {
		if err := k.Load(file.Provider(configFilePath), yaml.Parser()); err != nil {
			return nil, []error{fmt.Errorf("failed to load config file %s: %w", configFilePath, err)}
		}
	}

	cfg := &Config{
		Env:                getEnvOrDefault([]string{"BDBT_ENV", "ENV"}, k.String("env"), DefaultEnv),
		DatabaseURL:        getEnvOrKoanf("DATABASE_URL", k, "database_url"),
		RedisURL:           getEnvOrKoanf("REDIS_URL", k, "redis_url"),
		JWTSecret:          getEnvOrKoanf("JWT_SECRET", k, "jwt_secret"),
		JWTPreviousSecret:  getEnvOrKoanf("JWT_PREVIOUS_SECRET", k, "jwt_previous_secret"),
		LaunchDate:         getEnvOrDefault([]string{"LAUNCH_DATE"}, k.String("launch_date"), DefaultLaunchDate),
		CORSAllowedOrigins: getEnvListOrKoanf("CORS_ALLOWED_ORIGINS", k, "cors_allowed_origins"),
		TracingExporter:    getEnvOrDefault([]string{"TRACING_EXPORTER"}, k.String("tracing_exporter"), DefaultTracingExporter),
		TracingEndpoint:    getEnvOrKoanf("TRACING_ENDPOINT", k, "tracing_endpoint"),
	}

	var loadErrs []error
	ints := []intSetting{
		{[]string{"BDBT_PORT", "PORT"}, "port", DefaultPort, &cfg.Port},
		{[]string{"CALL_TIMEOUT_MS"}, "call_timeout_ms", DefaultCallTimeoutMS, &cfg.CallTimeoutMS},
		{[]string{"REFRESH_INTERVAL_SECONDS"}, "refresh_interval_seconds", DefaultRefreshIntervalSeconds, &cfg.RefreshIntervalSeconds},
		{[]string{"CACHE_TTL_SECONDS"}, "cache_ttl_seconds", DefaultCacheTTLSeconds, &cfg.CacheTTLSeconds},
		{[]string{"BREAKER_FAILURE_THRESHOLD"}, "breaker_failure_threshold", DefaultBreakerFailureThreshold, &cfg.BreakerFailureThreshold},
		{[]string{"TRACK_RATE_LIMIT_PER_MINUTE"}, "track_rate_limit_per_minute", DefaultTrackRateLimitPerMinute, &cfg.TrackRateLimitPerMinute},
		{[]string{"FEED_POLL_INTERVAL_SECONDS"}, "feed_poll_interval_seconds", DefaultFeedPollIntervalSeconds, &cfg.FeedPollIntervalSeconds},
	}
	for _, s := range ints {
		v, err := getEnvIntOrDefault(s.envKeys, k, s.key, s.def)
		if err != nil {
			loadErrs = append(loadErrs, err)
		}
		*s.dst = v
	}

	cfg.TracingEnabled = getEnvBoolOrKoanf("TRACING_ENABLED", k, "tracing_enabled")

	rate, err := getEnvFloatOrDefault("TRACING_SAMPLE_RATE", k, "tracing_sample_rate", DefaultTracingSampleRate)
	if err != nil {
		loadErrs = append(loadErrs, err)
	}
	cfg.TracingSampleRate = rate

	return cfg, append(loadErrs, cfg.Validate()...)
}

// getEnvOrKoanf returns the environment variable value if set, otherwise the koanf value.
func getEnvOrKoanf(envKey string, k *koanf.Koanf, koanfKey string) string {
	if val := os.Getenv(envKey); val != "" {
		return val
	}
	return k.String(koanfKey)
}

// getEnvOrDefault tries each environment variable in order, then the koanf
// value, then the default.
func getEnvOrDefault(envKeys []string, koanfVal, defaultVal string) string {
	for _, key := range envKeys {
		if val := os.Getenv(key); val != "" {
			return val
		}
	}
	if koanfVal != "" {
		return koanfVal
	}
	return defaultVal
}

// getEnvListOrKoanf reads a comma separated environment variable, falling
// back to a YAML list.
func getEnvListOrKoanf(envKey string, k *koanf.Koanf, koanfKey string) []string {
	raw := k.Strings(koanfKey)
	if val := os.Getenv(envKey); val != "" {
		raw = strings.Split(val, ",")
	}
	var out []string
	for _, v := range raw {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// getEnvIntOrDefault returns the first set environment variable as an int,
// otherwise the koanf value when present, or the default.
// An environment value that does not parse is reported as an error.
func getEnvIntOrDefault(envKeys []string, k *koanf.Koanf, koanfKey string, defaultVal int) (int, error) {
	for _, key := range envKeys {
		if val := os.Getenv(key); val != "" {
			i, err := strconv.Atoi(val)
			if err != nil {
				return defaultVal, fmt.Errorf("%s %w", key, ErrInvalidInteger)
			}
			return i, nil
		}
	}
	if k.Exists(koanfKey) {
		return k.Int(koanfKey), nil
	}
	return defaultVal, nil
}

// getEnvFloatOrDefault is getEnvIntOrDefault for float64 values.
func getEnvFloatOrDefault(envKey string, k *koanf.Koanf, koanfKey string, defaultVal float64) (float64, error) {
	if val := os.Getenv(envKey); val != "" {
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return defaultVal, fmt.Errorf("%s %w", envKey, ErrInvalidFloat)
		}
		return f, nil
	}
	if k.Exists(koanfKey) {
		return k.Float64(koanfKey), nil
	}
	return defaultVal, nil
}

// getEnvBoolOrKoanf reads a boolean flag; unrecognized env values leave the
// file value in place.
func getEnvBoolOrKoanf(envKey string, k *koanf.Koanf, koanfKey string) bool {
	enabled := k.Bool(koanfKey)
	switch strings.ToLower(os.Getenv(envKey)) {
	case "true", "1", "yes", "on":
		enabled = true
	case "false", "0", "no", "off":
		enabled = false
	}
	return enabled
}

// Validate checks required values and ranges.
// Returns a slice of validation errors (empty if valid).
func (c *Config) Validate() []error {
	var errs []error

	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, ErrInvalidPort)
	}
	if c.IsProduction() && c.JWTSecret == "" {
		errs = append(errs, ErrMissingJWTSecret)
	}
	if c.DatabaseURL != "" && !strings.HasPrefix(c.DatabaseURL, "postgres://") && !strings.HasPrefix(c.DatabaseURL, "postgresql://") {
		errs = append(errs, ErrInvalidDatabaseURL)
	}

	positive := []struct {
		name  string
		value int
	}{
		{"CALL_TIMEOUT_MS", c.CallTimeoutMS},
		{"REFRESH_INTERVAL_SECONDS", c.RefreshIntervalSeconds},
		{"CACHE_TTL_SECONDS", c.CacheTTLSeconds},
		{"BREAKER_FAILURE_THRESHOLD", c.BreakerFailureThreshold},
		{"TRACK_RATE_LIMIT_PER_MINUTE", c.TrackRateLimitPerMinute},
		{"FEED_POLL_INTERVAL_SECONDS", c.FeedPollIntervalSeconds},
	}
	for _, p := range positive {
		if p.value <= 0 {
			errs = append(errs, fmt.Errorf("%s %w", p.name, ErrNonPositive))
		}
	}

	if _, err := time.Parse("2006-01-02", c.LaunchDate); err != nil {
		errs = append(errs, ErrInvalidLaunchDate)
	}

	if c.TracingEnabled {
		if c.TracingExporter != "otlp-grpc" && c.TracingExporter != "otlp-http" {
			errs = append(errs, ErrInvalidExporter)
		}
		if c.TracingSampleRate < 0 || c.TracingSampleRate > 1 {
			errs = append(errs, ErrInvalidSampleRate)
		}
	}

	return errs
}

// IsProduction reports whether the service runs in production.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// CallTimeout is the per-call store timeout.
func (c *Config) CallTimeout() time.Duration {
	return time.Duration(c.CallTimeoutMS) * time.Millisecond
}

// RefreshInterval is the period of the view refresh job.
func (c *Config) RefreshInterval() time.Duration {
	return time.Duration(c.RefreshIntervalSeconds) * time.Second
}

// CacheTTL is the lifetime of cached read results.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSeconds) * time.Second
}

// FeedPollInterval is the period of the live feed poller.
func (c *Config) FeedPollInterval() time.Duration {
	return time.Duration(c.FeedPollIntervalSeconds) * time.Second
}

// LaunchTime parses LaunchDate. Call only on a validated config.
func (c *Config) LaunchTime() time.Time {
	t, _ := time.Parse("2006-01-02", c.LaunchDate)
	return t
}

// LogSummary returns a summary of the configuration suitable for logging.
// All secrets are masked to prevent accidental exposure.
func (c *Config) LogSummary() map[string]string {
	return map[string]string{
		"port":                        strconv.Itoa(c.Port),
		"env":                         c.Env,
		"database_url":                maskURL(c.DatabaseURL),
		"redis_url":                   maskURL(c.RedisURL),
		"jwt_secret":                  maskSecret(c.JWTSecret),
		"jwt_previous_secret":         maskSecret(c.JWTPreviousSecret),
		"call_timeout_ms":             strconv.Itoa(c.CallTimeoutMS),
		"refresh_interval_seconds":    strconv.Itoa(c.RefreshIntervalSeconds),
		"cache_ttl_seconds":           strconv.Itoa(c.CacheTTLSeconds),
		"breaker_failure_threshold":   strconv.Itoa(c.BreakerFailureThreshold),
		"launch_date":                 c.LaunchDate,
		"track_rate_limit_per_minute": strconv.Itoa(c.TrackRateLimitPerMinute),
		"feed_poll_interval_seconds":  strconv.Itoa(c.FeedPollIntervalSeconds),
		"cors_allowed_origins":        strings.Join(c.CORSAllowedOrigins, ","),
		"tracing_enabled":             strconv.FormatBool(c.TracingEnabled),
		"tracing_exporter":            c.TracingExporter,
		"tracing_endpoint":            c.TracingEndpoint,
		"tracing_sample_rate":         strconv.FormatFloat(c.TracingSampleRate, 'f', -1, 64),
	}
}

// maskSecret masks a secret value, showing only the first 4 characters followed by ****
// If the secret is shorter than 8 characters, it's fully masked.
func maskSecret(s string) string {
	if s == "" {
		return "<not set>"
	}
	if len(s) < 8 {
		return "****"
	}
	return s[:4] + "****"
}

// maskURL masks the password in a connection URL (postgres://, redis://).
func maskURL(s string) string {
	if s == "" {
		return "<not set>"
	}

	schemeEnd := strings.Index(s, "://")
	if schemeEnd == -1 {
		return maskSecret(s)
	}

	rest := s[schemeEnd+3:]
	atIndex := strings.LastIndex(rest, "@")
	if atIndex == -1 {
		return s // no credentials
	}

	colonIndex := strings.Index(rest[:atIndex], ":")
	if colonIndex == -1 {
		return s // username only
	}

	return s[:schemeEnd+3] + rest[:colonIndex] + ":****" + rest[atIndex:]
}
