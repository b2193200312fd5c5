// migrate applies the user-store schema: go run ./cmd/migrate -direction up|down|version.
package main

import (
	"flag"
	"log/slog"
	"os"

	"sessionguard/backend/internal/config"
	"sessionguard/backend/internal/db/migrate"
)

func main() {
	direction := flag.String("direction", migrate.Up, "Migration direction: up, down or version")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))

	cfg, err := config.Load()
	if err != nil {
		logger.Error("load config", "error", err)
		os.Exit(1)
	}
	res, err := migrate.Run(cfg.DatabaseURL, *direction)
	if err != nil {
		logger.Error("migrate", "direction", *direction, "error", err)
		os.Exit(1)
	}
	logger.Info("migrate done", "direction", *direction, "version", res.Version, "dirty", res.Dirty)
}
