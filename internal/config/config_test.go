package config

import (
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestLoad_Defaults(t *testing.T) {
	os.Clearenv()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg == nil {
		t.Fatal("Load returned nil config")
	}
	if cfg.DocstoreBackend != BackendPostgres {
		t.Errorf("DocstoreBackend = %q, want %q", cfg.DocstoreBackend, BackendPostgres)
	}
	if cfg.DocstoreDatabase != "partnercenter" {
		t.Errorf("DocstoreDatabase = %q, want partnercenter", cfg.DocstoreDatabase)
	}
	if cfg.BaselineThroughput != 400 || cfg.Tier1Throughput != 5000 || cfg.Tier2Throughput != 10000 {
		t.Errorf("throughput = %d/%d/%d, want 400/5000/10000", cfg.BaselineThroughput, cfg.Tier1Throughput, cfg.Tier2Throughput)
	}
	if cfg.BatchSize != 500 {
		t.Errorf("BatchSize = %d, want 500", cfg.BatchSize)
	}
	if cfg.RetryMaxAttempts != 9 {
		t.Errorf("RetryMaxAttempts = %d, want 9", cfg.RetryMaxAttempts)
	}
	if cfg.RetryWait() != 30*time.Second {
		t.Errorf("RetryWait = %v, want 30s", cfg.RetryWait())
	}
	if cfg.TrustWindow() != 30*24*time.Hour {
		t.Errorf("TrustWindow = %v, want 720h", cfg.TrustWindow())
	}
	if cfg.SyncConcurrency != 4 {
		t.Errorf("SyncConcurrency = %d, want 4", cfg.SyncConcurrency)
	}
	if cfg.PollInterval() != 0 {
		t.Errorf("PollInterval = %v, want 0", cfg.PollInterval())
	}
	if cfg.CacheTTL() != 24*time.Hour {
		t.Errorf("CacheTTL = %v, want 24h", cfg.CacheTTL())
	}
	if cfg.OfferCountry != "US" || cfg.PartnerID != "partner" || cfg.VaultMount != "secret" {
		t.Errorf("unexpected defaults: country=%q partner=%q mount=%q", cfg.OfferCountry, cfg.PartnerID, cfg.VaultMount)
	}
	if cfg.SyncRequestTopic != "partner-sync-requests" || cfg.SyncedTopic != "partner-synced" {
		t.Errorf("topics = %q, %q", cfg.SyncRequestTopic, cfg.SyncedTopic)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want info", cfg.LogLevel)
	}
	if cfg.KafkaBrokersList() != nil {
		t.Errorf("KafkaBrokersList = %v, want nil", cfg.KafkaBrokersList())
	}
	if cfg.HealthAddr != "" {
		t.Errorf("HealthAddr = %q, want empty", cfg.HealthAddr)
	}
}

func TestLoad_EnvVarOverride(t *testing.T) {
	os.Clearenv()
	os.Setenv("DOCSTORE_BACKEND", " Memory ")
	os.Setenv("TRUST_WINDOW_DAYS", "7")
	os.Setenv("RETRY_MAX_WAIT", "5s")
	os.Setenv("SYNC_INTERVAL", "15m")
	os.Setenv("KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092,,")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DocstoreBackend != BackendMemory {
		t.Errorf("DocstoreBackend = %q, want memory", cfg.DocstoreBackend)
	}
	if cfg.TrustWindow() != 7*24*time.Hour {
		t.Errorf("TrustWindow = %v", cfg.TrustWindow())
	}
	if cfg.RetryWait() != 5*time.Second {
		t.Errorf("RetryWait = %v", cfg.RetryWait())
	}
	if cfg.PollInterval() != 15*time.Minute {
		t.Errorf("PollInterval = %v", cfg.PollInterval())
	}
	if diff := cmp.Diff([]string{"kafka-1:9092", "kafka-2:9092"}, cfg.KafkaBrokersList()); diff != "" {
		t.Errorf("KafkaBrokersList (-want +got):\n%s", diff)
	}
}

func TestLoad_Validation(t *testing.T) {
	testCases := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"unknown backend", map[string]string{"DOCSTORE_BACKEND": "cosmos"}, "DOCSTORE_BACKEND"},
		{"tiers out of order", map[string]string{"DOCSTORE_TIER1_THROUGHPUT": "20000"}, "throughput tiers"},
		{"zero baseline", map[string]string{"DOCSTORE_BASELINE_THROUGHPUT": "0"}, "throughput tiers"},
		{"zero batch", map[string]string{"DOCSTORE_BATCH_SIZE": "0"}, "DOCSTORE_BATCH_SIZE"},
		{"zero attempts", map[string]string{"RETRY_MAX_ATTEMPTS": "0"}, "RETRY_MAX_ATTEMPTS"},
		{"bad retry wait", map[string]string{"RETRY_MAX_WAIT": "soon"}, "RETRY_MAX_WAIT"},
		{"zero trust window", map[string]string{"TRUST_WINDOW_DAYS": "0"}, "TRUST_WINDOW_DAYS"},
		{"zero concurrency", map[string]string{"SYNC_CONCURRENCY": "0"}, "SYNC_CONCURRENCY"},
		{"negative interval", map[string]string{"SYNC_INTERVAL": "-1m"}, "SYNC_INTERVAL"},
		{"bad cache ttl", map[string]string{"OFFER_CACHE_TTL": "0"}, "OFFER_CACHE_TTL"},
		{"vault without token", map[string]string{"VAULT_ADDR": "http://vault:8200"}, "VAULT_TOKEN"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			os.Clearenv()
			for k, v := range tc.env {
				os.Setenv(k, v)
			}
			cfg, err := Load()
			if err == nil {
				t.Fatal("Load should return error")
			}
			if cfg != nil {
				t.Error("Load should return nil config on error")
			}
			if !strings.HasPrefix(err.Error(), "config: ") || !strings.Contains(err.Error(), tc.want) {
				t.Errorf("error = %q, want config error mentioning %q", err, tc.want)
			}
		})
	}
}

func TestDurationHelpers_FallBackOnInvalid(t *testing.T) {
	cfg := &Config{RetryMaxWait: "bogus", SyncInterval: "-5m", OfferCacheTTL: ""}
	if cfg.RetryWait() != 30*time.Second {
		t.Errorf("RetryWait = %v, want 30s", cfg.RetryWait())
	}
	if cfg.PollInterval() != 0 {
		t.Errorf("PollInterval = %v, want 0", cfg.PollInterval())
	}
	if cfg.CacheTTL() != 24*time.Hour {
		t.Errorf("CacheTTL = %v, want 24h", cfg.CacheTTL())
	}
}

func TestKafkaBrokersList_NilConfig(t *testing.T) {
	var cfg *Config
	if got := cfg.KafkaBrokersList(); got != nil {
		t.Errorf("KafkaBrokersList = %v, want nil", got)
	}
}
