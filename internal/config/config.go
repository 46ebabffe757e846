// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Document store backends.
const (
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// DatabaseURL is the Postgres DSN. When empty and DatabaseURLSecret is set, the DSN is read from the secret provider.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// DatabaseURLSecret names the secret holding the DSN (e.g. "partner-db-dsn").
	DatabaseURLSecret string `mapstructure:"DATABASE_URL_SECRET"`

	// DocstoreBackend selects the document store: "postgres" or "memory".
	DocstoreBackend string `mapstructure:"DOCSTORE_BACKEND"`
	// DocstoreDatabase is the logical database (Postgres schema) holding the collections.
	DocstoreDatabase   string `mapstructure:"DOCSTORE_DATABASE"`
	BaselineThroughput int    `mapstructure:"DOCSTORE_BASELINE_THROUGHPUT"`
	Tier1Throughput    int    `mapstructure:"DOCSTORE_TIER1_THROUGHPUT"`
	Tier2Throughput    int    `mapstructure:"DOCSTORE_TIER2_THROUGHPUT"`
	// BatchSize is the number of documents per bulk import call.
	BatchSize int `mapstructure:"DOCSTORE_BATCH_SIZE"`

	RetryMaxAttempts int `mapstructure:"RETRY_MAX_ATTEMPTS"`
	// RetryMaxWait bounds the cumulative throttle wait of one operation (e.g. "30s").
	RetryMaxWait string `mapstructure:"RETRY_MAX_WAIT"`

	// TrustWindowDays is how old a checkpoint may be before a full refresh is required.
	TrustWindowDays int `mapstructure:"TRUST_WINDOW_DAYS"`
	// SyncConcurrency bounds the tenants synchronized at once.
	SyncConcurrency int `mapstructure:"SYNC_CONCURRENCY"`
	// SyncInterval is how often the worker polls the source; "0" disables polling.
	SyncInterval string `mapstructure:"SYNC_INTERVAL"`
	// PartnerID keys the checkpoint of the partner-wide customer list.
	PartnerID string `mapstructure:"PARTNER_ID"`
	// SourceURL is the partner platform gateway polled for audit records and snapshots.
	SourceURL   string `mapstructure:"SOURCE_URL"`
	SourceToken string `mapstructure:"SOURCE_TOKEN"`

	// OfferCatalogURL is the catalog API used to resolve offers; empty disables order expansion.
	OfferCatalogURL   string `mapstructure:"OFFER_CATALOG_URL"`
	OfferCatalogToken string `mapstructure:"OFFER_CATALOG_TOKEN"`
	// OfferCountry is the fallback billing country for offer lookups.
	OfferCountry string `mapstructure:"OFFER_COUNTRY"`
	// RedisAddr enables the offer cache when set (e.g. "localhost:6379").
	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	OfferCacheTTL string `mapstructure:"OFFER_CACHE_TTL"`

	// VaultAddr enables the Vault secret provider when set.
	VaultAddr  string `mapstructure:"VAULT_ADDR"`
	VaultToken string `mapstructure:"VAULT_TOKEN"`
	VaultMount string `mapstructure:"VAULT_MOUNT"`

	// KafkaBrokers is a comma-separated list of Kafka broker addresses (e.g. "localhost:9092").
	KafkaBrokers string `mapstructure:"KAFKA_BROKERS"`
	// SyncRequestTopic carries audit batches and snapshots into the worker.
	SyncRequestTopic string `mapstructure:"SYNC_REQUEST_TOPIC"`
	// SyncedTopic receives synced, refresh_required and sync_failed messages.
	SyncedTopic  string `mapstructure:"SYNCED_TOPIC"`
	KafkaGroupID string `mapstructure:"KAFKA_GROUP_ID"`

	// OTLPEndpoint enables OpenTelemetry export when set (e.g. "localhost:4317").
	OTLPEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTLPInsecure bool   `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`

	// HealthAddr enables the worker readiness endpoint when set (e.g. ":8081").
	HealthAddr string `mapstructure:"HEALTH_ADDR"`

	LogLevel string `mapstructure:"LOG_LEVEL"`
	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env. Returns an error if required fields are invalid.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("DATABASE_URL_SECRET", "")
	v.SetDefault("DOCSTORE_BACKEND", BackendPostgres)
	v.SetDefault("DOCSTORE_DATABASE", "partnercenter")
	v.SetDefault("DOCSTORE_BASELINE_THROUGHPUT", 400)
	v.SetDefault("DOCSTORE_TIER1_THROUGHPUT", 5000)
	v.SetDefault("DOCSTORE_TIER2_THROUGHPUT", 10000)
	v.SetDefault("DOCSTORE_BATCH_SIZE", 500)
	v.SetDefault("RETRY_MAX_ATTEMPTS", 9)
	v.SetDefault("RETRY_MAX_WAIT", "30s")
	v.SetDefault("TRUST_WINDOW_DAYS", 30)
	v.SetDefault("SYNC_CONCURRENCY", 4)
	v.SetDefault("SYNC_INTERVAL", "0")
	v.SetDefault("PARTNER_ID", "partner")
	v.SetDefault("SOURCE_URL", "")
	v.SetDefault("SOURCE_TOKEN", "")
	v.SetDefault("OFFER_CATALOG_URL", "")
	v.SetDefault("OFFER_CATALOG_TOKEN", "")
	v.SetDefault("OFFER_COUNTRY", "US")
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("OFFER_CACHE_TTL", "24h")
	v.SetDefault("VAULT_ADDR", "")
	v.SetDefault("VAULT_TOKEN", "")
	v.SetDefault("VAULT_MOUNT", "secret")
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("SYNC_REQUEST_TOPIC", "partner-sync-requests")
	v.SetDefault("SYNCED_TOPIC", "partner-synced")
	v.SetDefault("KAFKA_GROUP_ID", "partner-sync-worker")
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", false)
	v.SetDefault("HEALTH_ADDR", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("APP_ENV", "")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	cfg.DocstoreBackend = strings.ToLower(strings.TrimSpace(cfg.DocstoreBackend))
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.DocstoreBackend {
	case BackendPostgres, BackendMemory:
	default:
		return fmt.Errorf("config: DOCSTORE_BACKEND must be %q or %q, got %q", BackendPostgres, BackendMemory, c.DocstoreBackend)
	}
	if c.DocstoreDatabase == "" {
		return errors.New("config: DOCSTORE_DATABASE must be set")
	}
	if c.BaselineThroughput <= 0 || c.Tier1Throughput < c.BaselineThroughput || c.Tier2Throughput < c.Tier1Throughput {
		return errors.New("config: throughput tiers must satisfy 0 < BASELINE <= TIER1 <= TIER2")
	}
	if c.BatchSize <= 0 {
		return errors.New("config: DOCSTORE_BATCH_SIZE must be positive")
	}
	if c.RetryMaxAttempts < 1 {
		return errors.New("config: RETRY_MAX_ATTEMPTS must be at least 1")
	}
	if d, err := time.ParseDuration(c.RetryMaxWait); err != nil || d < 0 {
		return fmt.Errorf("config: RETRY_MAX_WAIT %q is not a valid duration", c.RetryMaxWait)
	}
	if c.TrustWindowDays < 1 {
		return errors.New("config: TRUST_WINDOW_DAYS must be at least 1")
	}
	if c.SyncConcurrency < 1 {
		return errors.New("config: SYNC_CONCURRENCY must be at least 1")
	}
	if d, err := time.ParseDuration(c.SyncInterval); err != nil || d < 0 {
		return fmt.Errorf("config: SYNC_INTERVAL %q is not a valid duration", c.SyncInterval)
	}
	if d, err := time.ParseDuration(c.OfferCacheTTL); err != nil || d <= 0 {
		return fmt.Errorf("config: OFFER_CACHE_TTL %q is not a valid duration", c.OfferCacheTTL)
	}
	if c.VaultAddr != "" && c.VaultToken == "" {
		return errors.New("config: VAULT_TOKEN must be set when VAULT_ADDR is set")
	}
	return nil
}

// RetryWait parses RetryMaxWait. Returns 30s if unset or invalid.
func (c *Config) RetryWait() time.Duration {
	d, err := time.ParseDuration(c.RetryMaxWait)
	if err != nil || d <= 0 {
		return 30 * time.Second
	}
	return d
}

// TrustWindow returns TrustWindowDays as a duration.
func (c *Config) TrustWindow() time.Duration {
	return time.Duration(c.TrustWindowDays) * 24 * time.Hour
}

// PollInterval parses SyncInterval. Zero means polling is disabled.
func (c *Config) PollInterval() time.Duration {
	d, err := time.ParseDuration(c.SyncInterval)
	if err != nil || d < 0 {
		return 0
	}
	return d
}

// CacheTTL parses OfferCacheTTL. Returns 24h if unset or invalid.
func (c *Config) CacheTTL() time.Duration {
	d, err := time.ParseDuration(c.OfferCacheTTL)
	if err != nil || d <= 0 {
		return 24 * time.Hour
	}
	return d
}

// KafkaBrokersList returns Kafka broker addresses from the comma-separated config.
// An empty list disables the queue.
func (c *Config) KafkaBrokersList() []string {
	if c == nil || c.KafkaBrokers == "" {
		return nil
	}
	parts := strings.Split(c.KafkaBrokers, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
