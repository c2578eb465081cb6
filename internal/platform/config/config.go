// Package config loads the service configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	pstrings "ozhi/pkg/platform/strings"
)

// Config is the complete service configuration.
type Config struct {
	Server   Server
	Database DatabaseConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	JWT      JWTConfig
	Log      LogConfig
	Audit    AuditConfig
	Security SecurityConfig
	Notify   NotifyConfig
	Stripe   StripeConfig
	Redact   RedactConfig
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr            string
	ShutdownTimeout time.Duration
}

// DatabaseConfig selects the postgres sink. An empty URL means the in-memory store.
type DatabaseConfig struct {
	URL          string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// KafkaConfig enables the stream plugin when Brokers is non-empty.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

type JWTConfig struct {
	SigningKey string
	Issuer     string
}

type LogConfig struct {
	Level  string
	Format string
}

type AuditConfig struct {
	CriticalActions    []string
	BlockedTargetTypes []string
	// SampleDefaultRate and SampleRates drive the sampling filter; 1 keeps every event.
	SampleDefaultRate float64
	SampleRates       map[string]float64
}

// Sampling reports whether any rate drops events.
func (c AuditConfig) Sampling() bool {
	if c.SampleDefaultRate < 1 {
		return true
	}
	for _, r := range c.SampleRates {
		if r < 1 {
			return true
		}
	}
	return false
}

type SecurityConfig struct {
	MaxFailedAttempts int
	Window            time.Duration
}

type NotifyConfig struct {
	WebhookURL        string
	SeverityThreshold string
}

type StripeConfig struct {
	APIKey string
}

type RedactConfig struct {
	Fields []string
	Key    string
}

// FromEnv loads .env when present, then reads the environment.
func FromEnv() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		Server: Server{
			Addr:            getEnv("AUDIT_ADDR", ":8080"),
			ShutdownTimeout: getEnvAsDuration("AUDIT_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Database: DatabaseConfig{
			URL:          getEnv("DATABASE_URL", ""),
			MaxOpenConns: getEnvAsInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns: getEnvAsInt("DATABASE_MAX_IDLE_CONNS", 5),
		},
		Redis: RedisConfig{
			URL:          getEnv("REDIS_URL", ""),
			PoolSize:     getEnvAsInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: getEnvAsInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  getEnvAsDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  getEnvAsDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: getEnvAsDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Kafka: KafkaConfig{
			Brokers: getEnvAsList("KAFKA_BROKERS"),
			Topic:   getEnv("KAFKA_AUDIT_TOPIC", "audit-events"),
		},
		JWT: JWTConfig{
			SigningKey: getEnv("JWT_SIGNING_KEY", ""),
			Issuer:     getEnv("JWT_ISSUER", ""),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Audit: AuditConfig{
			CriticalActions:    getEnvAsList("AUDIT_CRITICAL_ACTIONS"),
			BlockedTargetTypes: getEnvAsList("AUDIT_BLOCKED_TARGET_TYPES"),
			SampleDefaultRate:  getEnvAsFloat("AUDIT_SAMPLE_DEFAULT_RATE", 1),
			SampleRates:        getEnvAsRates("AUDIT_SAMPLE_RATES"),
		},
		Security: SecurityConfig{
			MaxFailedAttempts: getEnvAsInt("SECURITY_MAX_FAILED_ATTEMPTS", 5),
			Window:            getEnvAsDuration("SECURITY_WINDOW", 5*time.Minute),
		},
		Notify: NotifyConfig{
			WebhookURL:        getEnv("NOTIFY_WEBHOOK_URL", ""),
			SeverityThreshold: getEnv("NOTIFY_SEVERITY_THRESHOLD", "high"),
		},
		Stripe: StripeConfig{
			APIKey: getEnv("STRIPE_API_KEY", ""),
		},
		Redact: RedactConfig{
			Fields: getEnvAsList("AUDIT_REDACT_FIELDS"),
			Key:    getEnv("AUDIT_REDACT_KEY", ""),
		},
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error
	switch strings.ToLower(c.Log.Format) {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("LOG_FORMAT must be json or text, got %q", c.Log.Format))
	}
	switch strings.ToLower(c.Notify.SeverityThreshold) {
	case "low", "medium", "high", "critical":
	default:
		errs = append(errs, fmt.Errorf("NOTIFY_SEVERITY_THRESHOLD must be a severity, got %q", c.Notify.SeverityThreshold))
	}
	if c.Security.MaxFailedAttempts <= 0 {
		errs = append(errs, errors.New("SECURITY_MAX_FAILED_ATTEMPTS must be positive"))
	}
	if c.Security.Window <= 0 {
		errs = append(errs, errors.New("SECURITY_WINDOW must be positive"))
	}
	if !validRate(c.Audit.SampleDefaultRate) {
		errs = append(errs, fmt.Errorf("AUDIT_SAMPLE_DEFAULT_RATE must be between 0 and 1, got %v", c.Audit.SampleDefaultRate))
	}
	for action, r := range c.Audit.SampleRates {
		if !validRate(r) {
			errs = append(errs, fmt.Errorf("AUDIT_SAMPLE_RATES: rate for %q must be between 0 and 1", action))
		}
	}
	if len(c.Redact.Fields) > 0 && c.Redact.Key == "" {
		errs = append(errs, errors.New("AUDIT_REDACT_KEY is required when AUDIT_REDACT_FIELDS is set"))
	}
	if len(c.Redact.Key) > 64 {
		errs = append(errs, errors.New("AUDIT_REDACT_KEY must be at most 64 bytes"))
	}
	return errors.Join(errs...)
}

func getEnv(key, defaultValue string) string {
	if value, ok := os.LookupEnv(key); ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if n, err := strconv.Atoi(getEnv(key, "")); err == nil {
		return n
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if d, err := time.ParseDuration(getEnv(key, "")); err == nil {
		return d
	}
	return defaultValue
}

// getEnvAsList splits a comma separated value, dropping blanks and duplicates.
func getEnvAsList(key string) []string {
	raw := getEnv(key, "")
	if raw == "" {
		return nil
	}
	return pstrings.Normalize(strings.Split(raw, ","), nil)
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	raw := getEnv(key, "")
	if raw == "" {
		return defaultValue
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return math.NaN()
	}
	return f
}

// getEnvAsRates parses "action=rate" pairs separated by commas. Unparsable rates are
// kept as NaN so Validate reports them.
func getEnvAsRates(key string) map[string]float64 {
	pairs := getEnvAsList(key)
	if len(pairs) == 0 {
		return nil
	}
	rates := make(map[string]float64, len(pairs))
	for _, pair := range pairs {
		action, raw, _ := strings.Cut(pair, "=")
		action = strings.TrimSpace(action)
		r, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			r = math.NaN()
		}
		rates[action] = r
	}
	return rates
}

func validRate(r float64) bool {
	return r >= 0 && r <= 1
}
