package app

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// StorageDriver выбирает реализацию хранилища.
type StorageDriver string

const (
	StorageDriverMemory   StorageDriver = "memory"
	StorageDriverPostgres StorageDriver = "postgres"
)

// Config описывает настройки запуска приложения.
type Config struct {
	MetricsAddr string

	StorageDriver       StorageDriver
	PostgresDSN         string
	PostgresAutoMigrate bool
	PostgresMaxConns    int

	KafkaBrokers       []string
	CallbackGroupID    string
	ConsumerMaxRetries int

	PaymentTimeout time.Duration
	SweepInterval  time.Duration

	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	OutboxMaxAttempts  int

	// AdminIDs провижинятся при старте и могут создавать заказы вручную.
	AdminIDs []string
}

// DefaultConfig возвращает настройки для локального запуска без внешних
// зависимостей: in-memory хранилище, Kafka выключен.
func DefaultConfig() Config {
	return Config{
		MetricsAddr:         ":9090",
		StorageDriver:       StorageDriverMemory,
		PostgresAutoMigrate: true,
		CallbackGroupID:     "shopcore-payment-callbacks",
		ConsumerMaxRetries:  3,
		PaymentTimeout:      30 * time.Minute,
		SweepInterval:       5 * time.Minute,
		OutboxPollInterval:  time.Second,
		OutboxBatchSize:     100,
		OutboxMaxAttempts:   3,
	}
}

// ReadConfig накладывает переменные окружения SHOPCORE_* на дефолты.
func ReadConfig() Config {
	cfg := DefaultConfig()

	if v := os.Getenv("SHOPCORE_METRICS_ADDR"); v != "" {
		cfg.MetricsAddr = v
	}
	if v := os.Getenv("SHOPCORE_STORAGE_DRIVER"); v != "" {
		cfg.StorageDriver = StorageDriver(strings.ToLower(strings.TrimSpace(v)))
	}
	if v := os.Getenv("SHOPCORE_POSTGRES_DSN"); v != "" {
		cfg.PostgresDSN = v
	}
	if v := os.Getenv("SHOPCORE_POSTGRES_AUTO_MIGRATE"); v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			cfg.PostgresAutoMigrate = parsed
		}
	}
	if v := os.Getenv("SHOPCORE_POSTGRES_MAX_CONNS"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			cfg.PostgresMaxConns = parsed
		}
	}
	if v := os.Getenv("SHOPCORE_KAFKA_BROKERS"); v != "" {
		cfg.KafkaBrokers = splitAndTrim(v)
	}
	if v := os.Getenv("SHOPCORE_CALLBACK_GROUP_ID"); v != "" {
		cfg.CallbackGroupID = v
	}
	if v := os.Getenv("SHOPCORE_CONSUMER_MAX_RETRIES"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			cfg.ConsumerMaxRetries = parsed
		}
	}
	if v := os.Getenv("SHOPCORE_PAYMENT_TIMEOUT"); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil && parsed > 0 {
			cfg.PaymentTimeout = parsed
		}
	}
	if v := os.Getenv("SHOPCORE_SWEEP_INTERVAL"); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil && parsed > 0 {
			cfg.SweepInterval = parsed
		}
	}
	if v := os.Getenv("SHOPCORE_OUTBOX_POLL_INTERVAL"); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil && parsed > 0 {
			cfg.OutboxPollInterval = parsed
		}
	}
	if v := os.Getenv("SHOPCORE_OUTBOX_BATCH_SIZE"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			cfg.OutboxBatchSize = parsed
		}
	}
	if v := os.Getenv("SHOPCORE_OUTBOX_MAX_ATTEMPTS"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			cfg.OutboxMaxAttempts = parsed
		}
	}
	if v := os.Getenv("SHOPCORE_ADMIN_IDS"); v != "" {
		cfg.AdminIDs = splitAndTrim(v)
	}

	return cfg
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
