package config

import (
	"context"
	"fmt"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// Config holds all application configuration
type Config struct {
	ServiceName string `env:"SERVICE_NAME,default=water-meter-bridge"`
	HTTP        HTTPConfig
	Database    DatabaseConfig
	Forward     ForwardConfig
	Push        PushConfig
	Notify      NotifyConfig
	Anomaly     AnomalyConfig
	RabbitMQ    RabbitMQConfig
}

// HTTPConfig holds HTTP listener settings
type HTTPConfig struct {
	Addr        string        `env:"HTTP_ADDR,default=:8000"`
	CORSOrigins []string      `env:"CORS_ORIGINS,default=*"`
	Timeout     time.Duration `env:"HTTP_REQUEST_TIMEOUT,default=30s"`
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	URL string `env:"DATABASE_URL,required"`
}

// ForwardConfig describes the downstream Node backend that receives a copy
// of every reading. ValueField is the JSON key used for the raw reading; it
// is a documented contract with the receiving service.
type ForwardConfig struct {
	URL          string        `env:"BACKEND_URL,default=https://aquameter-backend.onrender.com/api/water-readings"`
	ValueField   string        `env:"FORWARD_VALUE_FIELD,default=reading_5digit"`
	Timeout      time.Duration `env:"FORWARD_TIMEOUT,default=5s"`
	RetryMax     int           `env:"FORWARD_RETRY_MAX,default=1"`
	RetryWaitMin time.Duration `env:"FORWARD_RETRY_WAIT,default=250ms"`
}

// PushConfig holds FCM gateway settings
type PushConfig struct {
	ProjectID       string        `env:"FCM_PROJECT_ID"`
	CredentialsFile string        `env:"GOOGLE_APPLICATION_CREDENTIALS"`
	BaseURL         string        `env:"FCM_BASE_URL,default=https://fcm.googleapis.com"`
	CredentialTTL   time.Duration `env:"FCM_CREDENTIAL_TTL,default=50m"`
	RequestTimeout  time.Duration `env:"FCM_REQUEST_TIMEOUT,default=10s"`
	FetchAttempts   uint          `env:"FCM_CREDENTIAL_FETCH_ATTEMPTS,default=2"`
}

// NotifyConfig holds background notification queue settings
type NotifyConfig struct {
	QueueSize  int           `env:"NOTIFY_QUEUE_SIZE,default=100"`
	Workers    int           `env:"NOTIFY_WORKERS,default=4"`
	JobTimeout time.Duration `env:"NOTIFY_JOB_TIMEOUT,default=30s"`
}

// AnomalyConfig holds abnormal consumption settings
type AnomalyConfig struct {
	ConsumptionFactor float64 `env:"ABNORMAL_CONSUMPTION_FACTOR,default=1.5"`
}

// RabbitMQConfig holds RabbitMQ connection and queue settings. The bus is
// optional: everything is skipped when URL is empty.
type RabbitMQConfig struct {
	URL              string `env:"RABBITMQ_URL"`
	IngestExchange   string `env:"RABBITMQ_INGEST_EXCHANGE,default=water-meter.ingest.exchange"`
	IngestQueue      string `env:"RABBITMQ_INGEST_QUEUE,default=water-meter.ingest.queue"`
	IngestRoutingKey string `env:"RABBITMQ_INGEST_ROUTING_KEY,default=water.reading.raw"`
	EventsExchange   string `env:"RABBITMQ_EVENTS_EXCHANGE,default=water-meter.bridge.events.exchange"`
	EventsRoutingKey string `env:"RABBITMQ_EVENTS_ROUTING_KEY,default=water.reading.ingested"`
	DLQQueue         string `env:"RABBITMQ_DLQ_QUEUE,default=water-meter.ingest.dlq"`
	PrefetchCount    int    `env:"RABBITMQ_PREFETCH,default=10"`
}

// Enabled reports whether the message bus is configured.
func (c RabbitMQConfig) Enabled() bool {
	return c.URL != ""
}

// PushEnabled reports whether the FCM gateway credentials are configured.
func (c *Config) PushEnabled() bool {
	return c.Push.ProjectID != "" && c.Push.CredentialsFile != ""
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	return LoadWith(context.Background(), envconfig.OsLookuper())
}

// LoadWith loads configuration from the given lookuper
func LoadWith(ctx context.Context, l envconfig.Lookuper) (*Config, error) {
	var cfg Config
	if err := envconfig.ProcessWith(ctx, &cfg, l); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if cfg.Forward.ValueField == "" {
		return nil, fmt.Errorf("FORWARD_VALUE_FIELD must not be empty")
	}
	if cfg.Notify.QueueSize <= 0 {
		return nil, fmt.Errorf("NOTIFY_QUEUE_SIZE must be positive, got %d", cfg.Notify.QueueSize)
	}
	if cfg.Notify.Workers <= 0 {
		return nil, fmt.Errorf("NOTIFY_WORKERS must be positive, got %d", cfg.Notify.Workers)
	}
	if cfg.Anomaly.ConsumptionFactor <= 0 {
		return nil, fmt.Errorf("ABNORMAL_CONSUMPTION_FACTOR must be positive, got %v", cfg.Anomaly.ConsumptionFactor)
	}

	return &cfg, nil
}
