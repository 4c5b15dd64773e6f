// Command migrate applies the remote PostgreSQL schema.
package main

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/dmitrijs2005/gophmsg/internal/client/config"
	"github.com/dmitrijs2005/gophmsg/internal/logging"
	"github.com/dmitrijs2005/gophmsg/internal/remote/postgres"
)

func main() {
	cfg := config.LoadConfig()
	logger := logging.New(cfg.LogFormat, os.Stderr)

	if err := run(cfg, logger); err != nil {
		logger.Error(context.Background(), "migration failed", "err", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger logging.Logger) error {
	if cfg.DatabaseDSN == "" {
		return errors.New("database DSN is required (-d or database_dsn)")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	db, err := postgres.Open(ctx, cfg.DatabaseDSN)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := postgres.RunMigrations(ctx, db); err != nil {
		return err
	}
	logger.Info(ctx, "migrations applied")
	return nil
}
