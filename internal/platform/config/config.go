package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server         ServerConfig
	Database       DatabaseConfig
	Redis          RedisConfig
	Kafka          KafkaConfig
	Auth           AuthConfig
	PSP            PSPConfig
	Notifications  NotificationConfig
	Idempotency    IdempotencyConfig
	Reconciliation ReconciliationConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port         string        `envconfig:"API_SERVER_PORT" default:"8080"`
	ReadTimeout  time.Duration `envconfig:"API_SERVER_READ_TIMEOUT" default:"15s"`
	WriteTimeout time.Duration `envconfig:"API_SERVER_WRITE_TIMEOUT" default:"30s"`
	IdleTimeout  time.Duration `envconfig:"API_SERVER_IDLE_TIMEOUT" default:"120s"`
}

// DatabaseConfig stores Postgres connection parameters.
type DatabaseConfig struct {
	URL             string        `envconfig:"API_DATABASE_URL" required:"true"`
	MaxConns        int32         `envconfig:"API_DATABASE_MAX_CONNS" default:"16"`
	MinConns        int32         `envconfig:"API_DATABASE_MIN_CONNS" default:"2"`
	HealthCheckTick time.Duration `envconfig:"API_DATABASE_HEALTHCHECK_PERIOD" default:"30s"`
}

// RedisConfig stores connection parameters for the idempotency store.
type RedisConfig struct {
	Addr     string `envconfig:"API_REDIS_ADDR" default:""`
	Password string `envconfig:"API_REDIS_PASSWORD" default:""`
	DB       int    `envconfig:"API_REDIS_DB" default:"0"`
}

// KafkaConfig stores broker addresses and topic names for domain events.
type KafkaConfig struct {
	Brokers     []string `envconfig:"API_KAFKA_BROKERS" default:""`
	OrdersTopic string   `envconfig:"API_KAFKA_ORDERS_TOPIC" default:"orders.events"`
}

// AuthConfig groups token verification settings.
type AuthConfig struct {
	JWTSecret string `envconfig:"API_AUTH_JWT_SECRET" required:"true"`
	Issuer    string `envconfig:"API_AUTH_ISSUER" default:"bottega-market"`
}

// PSPConfig collects secrets for the payment provider.
type PSPConfig struct {
	StripeAPIKey        string        `envconfig:"API_PSP_STRIPE_API_KEY" default:""`
	StripeWebhookSecret string        `envconfig:"API_PSP_STRIPE_WEBHOOK_SECRET" default:""`
	SuccessURL          string        `envconfig:"API_PSP_SUCCESS_URL" default:"https://localhost/checkout/success"`
	CancelURL           string        `envconfig:"API_PSP_CANCEL_URL" default:"https://localhost/checkout/cancel"`
	SessionTTL          time.Duration `envconfig:"API_PSP_SESSION_TTL" default:"30m"`
}

// NotificationConfig controls transactional email delivery.
type NotificationConfig struct {
	ResendAPIKey string `envconfig:"API_NOTIFY_RESEND_API_KEY" default:""`
	FromAddress  string `envconfig:"API_NOTIFY_FROM_ADDRESS" default:"orders@bottega.example"`
}

// IdempotencyConfig controls idempotency middleware behaviour.
type IdempotencyConfig struct {
	Header           string        `envconfig:"API_IDEMPOTENCY_HEADER" default:"Idempotency-Key"`
	TTL              time.Duration `envconfig:"API_IDEMPOTENCY_TTL" default:"24h"`
	CleanupInterval  time.Duration `envconfig:"API_IDEMPOTENCY_CLEANUP_INTERVAL" default:"1h"`
	CleanupBatchSize int           `envconfig:"API_IDEMPOTENCY_CLEANUP_BATCH" default:"200"`
}

// ReconciliationConfig controls the expired-session sweep job.
type ReconciliationConfig struct {
	Interval  time.Duration `envconfig:"API_RECONCILE_INTERVAL" default:"5m"`
	BatchSize int           `envconfig:"API_RECONCILE_BATCH" default:"100"`
}

// ValidationError is returned when required configuration fields are missing or invalid.
type ValidationError struct {
	fields []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
}

// Load assembles the application configuration from a .env file (when present)
// and environment variables, then validates cross-field constraints.
func Load(envFiles ...string) (Config, error) {
	// Missing .env files are fine; env vars may carry everything.
	_ = godotenv.Load(envFiles...)

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}

	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validate(cfg Config) error {
	var missing []string

	if strings.TrimSpace(cfg.Server.Port) == "" {
		missing = append(missing, "Server.Port")
	}
	if strings.TrimSpace(cfg.Database.URL) == "" {
		missing = append(missing, "Database.URL")
	}
	if strings.TrimSpace(cfg.Auth.JWTSecret) == "" {
		missing = append(missing, "Auth.JWTSecret")
	}
	if strings.TrimSpace(cfg.Idempotency.Header) == "" {
		missing = append(missing, "Idempotency.Header")
	}
	if cfg.Idempotency.TTL <= 0 {
		missing = append(missing, "Idempotency.TTL")
	}
	if cfg.Idempotency.CleanupInterval <= 0 {
		missing = append(missing, "Idempotency.CleanupInterval")
	}
	if cfg.Idempotency.CleanupBatchSize <= 0 {
		missing = append(missing, "Idempotency.CleanupBatchSize")
	}
	if cfg.PSP.SessionTTL <= 0 {
		missing = append(missing, "PSP.SessionTTL")
	}
	if cfg.Reconciliation.Interval <= 0 {
		missing = append(missing, "Reconciliation.Interval")
	}

	if len(missing) > 0 {
		return &ValidationError{fields: missing}
	}
	return nil
}
