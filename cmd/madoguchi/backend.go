package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ashita-ai/madoguchi/internal/auth"
	"github.com/ashita-ai/madoguchi/internal/config"
	"github.com/ashita-ai/madoguchi/internal/memory"
	"github.com/ashita-ai/madoguchi/internal/storage"
	"github.com/ashita-ai/madoguchi/internal/storage/sqlite"
	"github.com/ashita-ai/madoguchi/internal/support"
	"github.com/ashita-ai/madoguchi/internal/workflow"
	"github.com/ashita-ai/madoguchi/internal/workflowlog"
	"github.com/ashita-ai/madoguchi/migrations"
)

// backend is the persistence one process runs on. Both storage backends fill
// every field.
type backend struct {
	log       workflowlog.Sink
	longTerm  memory.LongTermBackend
	outcomes  workflow.OutcomeStore
	operators auth.OperatorStore
	support   support.Store

	seed  func(context.Context, support.Seed) error
	ping  func(context.Context) error
	close func()
}

func openBackend(ctx context.Context, cfg config.Config, logger *slog.Logger) (*backend, error) {
	switch cfg.StorageBackend {
	case config.BackendPostgres:
		return openPostgres(ctx, cfg, logger)
	default:
		return openSQLite(ctx, cfg, logger)
	}
}

func openPostgres(ctx context.Context, cfg config.Config, logger *slog.Logger) (*backend, error) {
	var db *storage.DB
	err := storage.WithRetry(ctx, 5, 500*time.Millisecond, func() error {
		var err error
		db, err = storage.New(ctx, cfg.DatabaseURL, logger)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}
	if err := db.RunMigrations(ctx, migrations.FS); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrations: %w", err)
	}
	slog.Info("postgres storage ready")
	return &backend{
		log:       db.WorkflowLog(),
		longTerm:  db,
		outcomes:  db,
		operators: db,
		support:   db,
		seed:      db.SeedCustomers,
		ping:      db.Ping,
		close:     db.Close,
	}, nil
}

func openSQLite(ctx context.Context, cfg config.Config, logger *slog.Logger) (*backend, error) {
	if dir := filepath.Dir(cfg.SQLitePath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("storage: %w", err)
		}
	}
	st, err := sqlite.New(ctx, cfg.SQLitePath)
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}
	slog.Info("sqlite storage ready", "path", cfg.SQLitePath)
	return &backend{
		log:       st,
		longTerm:  st,
		outcomes:  st,
		operators: st,
		support:   st,
		seed:      st.SeedCustomers,
		ping:      st.Ping,
		close: func() {
			if err := st.Close(); err != nil {
				logger.Error("sqlite close error", "error", err)
			}
		},
	}, nil
}
