package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/lmdrew96/ScribeCat-v2-sub004/go/internal/backend/pgstore"
	"github.com/lmdrew96/ScribeCat-v2-sub004/go/internal/dbconfig"
)

// setupDatabase opens the pgx pool and the LISTEN connection for the postgres backend.
func setupDatabase(ctx context.Context, cfg BackendConfig) (*pgstore.Store, *pgstore.Notifier, error) {
	dbCfg := dbconfig.NewConfigFromEnv()

	store, err := pgstore.New(ctx, dbCfg.PoolDSN())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create database connection: %w", err)
	}

	if cfg.Migrate {
		if err := store.Migrate(ctx); err != nil {
			store.Close()
			return nil, nil, fmt.Errorf("failed to migrate database: %w", err)
		}
		log.Info().Msg("database schema applied")
	}

	notifier, err := pgstore.NewNotifier(dbCfg.DSN(), store, cfg.Listener)
	if err != nil {
		store.Close()
		return nil, nil, fmt.Errorf("failed to start listener: %w", err)
	}

	log.Info().
		Str("user", dbCfg.User).
		Str("host", dbCfg.Host).
		Int("port", dbCfg.Port).
		Str("database", dbCfg.Database).
		Msg("connected to database")
	return store, notifier, nil
}
