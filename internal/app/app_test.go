package app

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	checkpointdomain "github.com/microsoft/Partner-Smart-Office-sub000/internal/checkpoint/domain"
	"github.com/microsoft/Partner-Smart-Office-sub000/internal/config"
	"github.com/microsoft/Partner-Smart-Office-sub000/internal/ingest"
)

func memoryConfig(t *testing.T) *config.Config {
	t.Helper()
	os.Clearenv()
	os.Setenv("DOCSTORE_BACKEND", config.BackendMemory)
	cfg, err := config.Load()
	if err != nil {
		t.Fatal(err)
	}
	return cfg
}

func TestNew_MemoryBackend(t *testing.T) {
	ctx := context.Background()
	a, err := New(ctx, memoryConfig(t), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer func() {
		if err := a.Close(ctx); err != nil {
			t.Errorf("Close: %v", err)
		}
	}()
	if a.DB != nil || a.Publisher != nil {
		t.Errorf("unexpected external components: db=%v publisher=%v", a.DB, a.Publisher)
	}
	if err := a.Service.Initialize(ctx); err != nil {
		t.Fatal(err)
	}

	res, err := a.Service.ApplySnapshot(ctx, ingest.SnapshotBatch{
		TenantID:  "t1",
		Resource:  checkpointdomain.ResourceSubscriptions,
		Documents: json.RawMessage(`[{"id":"s1","offerId":"o1","quantity":3}]`),
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Written != 1 {
		t.Errorf("Written = %d, want 1", res.Written)
	}
	cp, err := a.Checkpoints.Get(ctx, "t1", checkpointdomain.ResourceSubscriptions)
	if err != nil || cp == nil {
		t.Fatalf("checkpoint = %v, %v", cp, err)
	}
}

func TestRepositoryOptions(t *testing.T) {
	cfg := &config.Config{
		BaselineThroughput: 800, Tier1Throughput: 4000, Tier2Throughput: 8000,
		BatchSize: 250, RetryMaxAttempts: 3, RetryMaxWait: "10s",
	}
	opts := RepositoryOptions(cfg, nil)
	if opts.Retry.MaxAttempts != 3 || opts.Retry.MaxWait != 10*time.Second {
		t.Errorf("retry = %+v", opts.Retry)
	}
	if opts.Scale.Baseline != 800 || opts.Scale.Tier1Throughput != 4000 || opts.Scale.Tier2Throughput != 8000 {
		t.Errorf("scale = %+v", opts.Scale)
	}
	if opts.BatchSize != 250 || opts.Throughput != 800 {
		t.Errorf("opts = %+v", opts)
	}
}

func TestDatabaseURL(t *testing.T) {
	ctx := context.Background()
	os.Clearenv()
	os.Setenv("PARTNER_DB_DSN", "postgres://from-secret/db")
	p, err := NewSecretProvider(&config.Config{})
	if err != nil {
		t.Fatal(err)
	}

	got, err := DatabaseURL(ctx, &config.Config{DatabaseURL: "postgres://literal/db"}, p)
	if err != nil || got != "postgres://literal/db" {
		t.Errorf("literal = %q, %v", got, err)
	}
	got, err = DatabaseURL(ctx, &config.Config{DatabaseURL: "postgres://literal/db", DatabaseURLSecret: "partner-db-dsn"}, p)
	if err != nil || got != "postgres://from-secret/db" {
		t.Errorf("secret = %q, %v", got, err)
	}
	if _, err := DatabaseURL(ctx, &config.Config{}, p); err == nil {
		t.Error("expected error when no DSN is configured")
	}
	if _, err := DatabaseURL(ctx, &config.Config{DatabaseURLSecret: "missing-secret"}, p); err == nil {
		t.Error("expected error for missing secret")
	}
}
