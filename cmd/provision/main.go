// provision creates the document store database, collections and bulk-import procedures, and with
// -migrate also applies the checkpoint schema migrations first. Safe to run repeatedly.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/microsoft/Partner-Smart-Office-sub000/internal/app"
	"github.com/microsoft/Partner-Smart-Office-sub000/internal/config"
	"github.com/microsoft/Partner-Smart-Office-sub000/internal/db/migrate"
	"github.com/microsoft/Partner-Smart-Office-sub000/internal/logger"
)

func main() {
	runMigrations := flag.Bool("migrate", false, "apply checkpoint migrations before provisioning")
	timeout := flag.Duration("timeout", 2*time.Minute, "overall deadline")
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

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if *runMigrations && cfg.DocstoreBackend == config.BackendPostgres {
		secrets, err := app.NewSecretProvider(cfg)
		if err != nil {
			log.Fatal("secrets", zap.Error(err))
		}
		dsn, err := app.DatabaseURL(ctx, cfg, secrets)
		if err != nil {
			log.Fatal("database url", zap.Error(err))
		}
		if err := migrate.Run(dsn, migrate.Up); err != nil {
			log.Fatal("migrate", zap.Error(err))
		}
	}

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal("wire", zap.Error(err))
	}
	defer func() { _ = a.Close(context.Background()) }()

	if err := a.Service.Initialize(ctx); err != nil {
		log.Error("provision failed", zap.Error(err))
		_ = a.Close(context.Background())
		_ = log.Sync()
		os.Exit(1)
	}
	log.Info("provisioned", zap.String("database", cfg.DocstoreDatabase), zap.String("backend", cfg.DocstoreBackend))
}
