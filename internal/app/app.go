// Package app wires configuration into the stores, clients and services shared by the binaries.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hashicorp/go-multierror"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	checkpointrepo "github.com/microsoft/Partner-Smart-Office-sub000/internal/checkpoint/repository"
	"github.com/microsoft/Partner-Smart-Office-sub000/internal/config"
	"github.com/microsoft/Partner-Smart-Office-sub000/internal/db"
	"github.com/microsoft/Partner-Smart-Office-sub000/internal/docstore"
	"github.com/microsoft/Partner-Smart-Office-sub000/internal/docstore/memstore"
	"github.com/microsoft/Partner-Smart-Office-sub000/internal/docstore/postgres"
	"github.com/microsoft/Partner-Smart-Office-sub000/internal/ingest"
	"github.com/microsoft/Partner-Smart-Office-sub000/internal/offer"
	"github.com/microsoft/Partner-Smart-Office-sub000/internal/queue"
	"github.com/microsoft/Partner-Smart-Office-sub000/internal/repository"
	"github.com/microsoft/Partner-Smart-Office-sub000/internal/secret"
	telemetryotel "github.com/microsoft/Partner-Smart-Office-sub000/internal/telemetry/otel"
)

// ServiceName identifies the process in telemetry.
const ServiceName = "partner-sync"

const offerCachePrefix = "partner-sync:"

// App holds the wired components. Close releases them in reverse order of creation.
type App struct {
	Config      *config.Config
	Log         *zap.Logger
	Secrets     secret.Provider
	Telemetry   *telemetryotel.Providers
	DB          *sql.DB
	Docstore    docstore.Client
	Stores      ingest.Stores
	Checkpoints checkpointrepo.Repository
	Offers      offer.Lookup
	Publisher   queue.Publisher
	Service     *ingest.Service

	closers []func(context.Context) error
}

// New builds an App from cfg. On error everything created so far is closed.
func New(ctx context.Context, cfg *config.Config, log *zap.Logger) (_ *App, err error) {
	if log == nil {
		log = zap.NewNop()
	}
	a := &App{Config: cfg, Log: log}
	defer func() {
		if err != nil {
			_ = a.Close(context.WithoutCancel(ctx))
		}
	}()

	if a.Secrets, err = NewSecretProvider(cfg); err != nil {
		return nil, err
	}

	if a.Telemetry, err = telemetryotel.NewProviders(ctx, telemetryotel.Config{
		Endpoint:    cfg.OTLPEndpoint,
		ServiceName: ServiceName,
		Insecure:    cfg.OTLPInsecure,
	}); err != nil {
		return nil, err
	}
	a.Telemetry.SetGlobal()
	a.closers = append(a.closers, a.Telemetry.Shutdown)

	if err = a.openStores(ctx); err != nil {
		return nil, err
	}
	a.Stores = ingest.NewStores(a.Docstore, cfg.DocstoreDatabase, RepositoryOptions(cfg, log))
	a.Offers = a.newOfferLookup()

	if p := queue.NewKafkaPublisher(cfg.KafkaBrokersList(), cfg.SyncedTopic); p != nil {
		a.Publisher = p
		a.closers = append(a.closers, func(context.Context) error { return p.Close() })
	} else {
		log.Info("KAFKA_BROKERS not set; downstream messages disabled")
	}

	a.Service = ingest.NewService(a.Stores, a.Checkpoints, a.Offers, a.Publisher, ingest.Config{
		PartnerID:      cfg.PartnerID,
		TrustWindow:    cfg.TrustWindow(),
		Concurrency:    cfg.SyncConcurrency,
		DefaultCountry: cfg.OfferCountry,
	}, ingest.WithLogger(log), ingest.WithReporter(telemetryotel.NewReportEmitter(a.Telemetry)))
	return a, nil
}

// NewSecretProvider returns a cached Vault provider when VAULT_ADDR is set, otherwise a cached
// environment provider.
func NewSecretProvider(cfg *config.Config) (secret.Provider, error) {
	if cfg.VaultAddr == "" {
		return secret.NewCachingProvider(secret.EnvProvider{}), nil
	}
	vp, err := secret.NewVaultProvider(secret.VaultConfig{
		Address: cfg.VaultAddr,
		Token:   cfg.VaultToken,
		Mount:   cfg.VaultMount,
	})
	if err != nil {
		return nil, fmt.Errorf("app: vault: %w", err)
	}
	return secret.NewCachingProvider(vp), nil
}

// DatabaseURL returns DATABASE_URL, or the secret named by DATABASE_URL_SECRET when that is set.
func DatabaseURL(ctx context.Context, cfg *config.Config, p secret.Provider) (string, error) {
	dsn, err := secret.Resolve(ctx, p, cfg.DatabaseURLSecret, cfg.DatabaseURL)
	if err != nil {
		return "", fmt.Errorf("app: resolve %s: %w", cfg.DatabaseURLSecret, err)
	}
	if dsn == "" {
		return "", errors.New("app: DATABASE_URL is not set; set DATABASE_URL or DATABASE_URL_SECRET")
	}
	return dsn, nil
}

// RepositoryOptions maps configuration onto repository options.
func RepositoryOptions(cfg *config.Config, log *zap.Logger) repository.Options {
	retry := repository.DefaultRetryPolicy()
	retry.MaxAttempts = cfg.RetryMaxAttempts
	retry.MaxWait = cfg.RetryWait()
	scale := repository.DefaultScalePolicy()
	scale.Baseline = cfg.BaselineThroughput
	scale.Tier1Throughput = cfg.Tier1Throughput
	scale.Tier2Throughput = cfg.Tier2Throughput
	return repository.Options{
		Throughput: cfg.BaselineThroughput,
		BatchSize:  cfg.BatchSize,
		Retry:      retry,
		Scale:      scale,
		Logger:     log,
	}
}

func (a *App) openStores(ctx context.Context) error {
	switch a.Config.DocstoreBackend {
	case config.BackendMemory:
		a.Docstore = memstore.New(memstore.WithMeter(docstore.NewMeter()))
		a.Checkpoints = checkpointrepo.NewMemoryRepository()
		a.Log.Warn("using in-memory document store; data is lost on exit")
		return nil
	case config.BackendPostgres:
		dsn, err := DatabaseURL(ctx, a.Config, a.Secrets)
		if err != nil {
			return err
		}
		conn, err := db.Open(ctx, dsn)
		if err != nil {
			return err
		}
		a.DB = conn
		a.closers = append(a.closers, func(context.Context) error { return conn.Close() })
		a.Docstore = postgres.New(conn, postgres.WithLogger(a.Log))
		a.Checkpoints = checkpointrepo.NewPostgresRepository(conn)
		return nil
	}
	return fmt.Errorf("app: unknown document store backend %q", a.Config.DocstoreBackend)
}

func (a *App) newOfferLookup() offer.Lookup {
	cfg := a.Config
	var lookup offer.Lookup
	if cfg.OfferCatalogURL != "" {
		lookup = offer.NewCatalogClient(cfg.OfferCatalogURL, cfg.OfferCatalogToken)
	} else {
		a.Log.Warn("OFFER_CATALOG_URL not set; orders cannot be expanded into subscriptions")
		lookup = offer.NewMemoryLookup()
	}
	if cfg.RedisAddr == "" {
		return lookup
	}
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	a.closers = append(a.closers, func(context.Context) error { return rdb.Close() })
	return offer.NewCachedLookup(lookup, offer.NewRedisCache(rdb, offerCachePrefix), cfg.CacheTTL(), a.Log)
}

// Close releases every component, most recent first.
func (a *App) Close(ctx context.Context) error {
	var errs *multierror.Error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	a.closers = nil
	return errs.ErrorOrNil()
}
