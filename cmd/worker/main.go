// Worker keeps the partner document store in sync. It consumes audit batches and snapshots from
// SYNC_REQUEST_TOPIC when KAFKA_BROKERS is set, and polls SOURCE_URL every SYNC_INTERVAL when both
// are set, and serves /healthz on HEALTH_ADDR. With -once it runs a single poll of every tenant and exits.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/microsoft/Partner-Smart-Office-sub000/internal/app"
	"github.com/microsoft/Partner-Smart-Office-sub000/internal/config"
	"github.com/microsoft/Partner-Smart-Office-sub000/internal/health"
	"github.com/microsoft/Partner-Smart-Office-sub000/internal/ingest"
	"github.com/microsoft/Partner-Smart-Office-sub000/internal/logger"
	"github.com/microsoft/Partner-Smart-Office-sub000/internal/queue"
)

func main() {
	once := flag.Bool("once", false, "poll every tenant once and exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	log, err := logger.New(os.Stdout, cfg.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log, *once); err != nil {
		log.Error("worker failed", zap.Error(err))
		_ = log.Sync()
		os.Exit(1)
	}
	log.Info("worker stopped")
}

func run(ctx context.Context, cfg *config.Config, log *zap.Logger, once bool) error {
	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := a.Close(shutdownCtx); err != nil {
			log.Warn("shutdown", zap.Error(err))
		}
	}()
	if err := a.Service.Initialize(ctx); err != nil {
		return fmt.Errorf("initialize stores: %w", err)
	}

	var src ingest.Source
	if cfg.SourceURL != "" {
		src = ingest.NewHTTPSource(cfg.SourceURL, cfg.SourceToken)
	}
	if once {
		if src == nil {
			return errors.New("worker: -once requires SOURCE_URL")
		}
		return poll(ctx, a.Service, src)
	}

	g, ctx := errgroup.WithContext(ctx)
	started := false
	if brokers := cfg.KafkaBrokersList(); len(brokers) > 0 {
		consumer := queue.NewKafkaConsumer(brokers, cfg.SyncRequestTopic, cfg.KafkaGroupID, log)
		defer consumer.Close()
		log.Info("consuming sync requests", zap.String("topic", cfg.SyncRequestTopic), zap.String("group", cfg.KafkaGroupID))
		g.Go(func() error { return consumer.Run(ctx, a.Service.HandleEnvelope) })
		started = true
	}
	if interval := cfg.PollInterval(); src != nil && interval > 0 {
		log.Info("polling source", zap.String("url", cfg.SourceURL), zap.Duration("interval", interval))
		g.Go(func() error { return pollEvery(ctx, a.Service, src, interval, log) })
		started = true
	}
	if !started {
		return errors.New("worker: nothing to do; set KAFKA_BROKERS, or SOURCE_URL and SYNC_INTERVAL")
	}
	if cfg.HealthAddr != "" {
		srv := &http.Server{Addr: cfg.HealthAddr, Handler: healthMux(a), ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			log.Info("health listening", zap.String("addr", cfg.HealthAddr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("health: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}
	return g.Wait()
}

func healthMux(a *app.App) http.Handler {
	checks := map[string]health.Checker{
		"docstore": health.CheckFunc(func(ctx context.Context) error {
			return a.Docstore.ReadDatabase(ctx, a.Config.DocstoreDatabase)
		}),
	}
	var pinger health.Pinger
	if a.DB != nil {
		pinger = a.DB
	}
	mux := http.NewServeMux()
	mux.Handle("/healthz", health.NewHandler(pinger, checks))
	return mux
}

// poll synchronizes the customer list and then every active tenant.
func poll(ctx context.Context, svc *ingest.Service, src ingest.Source) error {
	tenants, err := svc.SyncPartner(ctx, src)
	if err != nil {
		return fmt.Errorf("sync customers: %w", err)
	}
	_, err = svc.SyncAll(ctx, src, tenants)
	return err
}

func pollEvery(ctx context.Context, svc *ingest.Service, src ingest.Source, interval time.Duration, log *zap.Logger) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if err := poll(ctx, svc, src); err != nil && ctx.Err() == nil {
			log.Warn("poll finished with errors", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
