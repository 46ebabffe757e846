// migrate applies or rolls back the checkpoint schema from embedded SQL; go run ./cmd/migrate -direction up.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/microsoft/Partner-Smart-Office-sub000/internal/app"
	"github.com/microsoft/Partner-Smart-Office-sub000/internal/config"
	"github.com/microsoft/Partner-Smart-Office-sub000/internal/db/migrate"
)

func main() {
	direction := flag.String("direction", "up", "Migration direction: up or down")
	flag.Parse()

	dir, err := migrate.ParseDirection(*direction)
	if err != nil {
		fmt.Fprintln(os.Stderr, "migrate:", err)
		os.Exit(2)
	}
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	secrets, err := app.NewSecretProvider(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	dsn, err := app.DatabaseURL(context.Background(), cfg, secrets)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := migrate.Run(dsn, dir); err != nil {
		fmt.Fprintln(os.Stderr, "migrate:", err)
		os.Exit(1)
	}
	if v, dirty, err := migrate.Version(dsn); err == nil {
		fmt.Printf("schema version %d (dirty=%v)\n", v, dirty)
	}
}
