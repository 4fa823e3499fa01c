package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/ScottHMcKean/market-intelligence-app/db"
	"github.com/ScottHMcKean/market-intelligence-app/internal/config"
	"github.com/ScottHMcKean/market-intelligence-app/internal/credential"
	"github.com/ScottHMcKean/market-intelligence-app/internal/database"
	"github.com/ScottHMcKean/market-intelligence-app/internal/log"
	"github.com/ScottHMcKean/market-intelligence-app/internal/store"
	"github.com/ScottHMcKean/market-intelligence-app/internal/workspace"
)

// schema guards migration to once per process, however many times Setup
// runs.
var schema db.Initializer

// Setup creates and initializes the application.
//
// Infrastructure failures while bringing persistence up are not fatal:
// the app degrades to Available() == false and keeps running. A broken
// or divergent schema is fatal, because every later operation would fail
// in confusing ways.
func Setup(ctx context.Context, cfg *config.Config, logger log.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("setup: %w", err)
	}
	if logger == nil {
		logger = log.NewNop()
	}

	a := &App{Config: cfg, Logger: logger}

	ws, err := workspace.New(cfg.WorkspaceHost, cfg.WorkspaceToken, cfg.RequestTimeout, logger)
	if err != nil {
		return nil, fmt.Errorf("setup: %w", err)
	}
	a.Workspace = ws

	a.Credentials = credential.NewProvider(ws, credential.Config{
		InstanceName:     cfg.InstanceName,
		RefreshSkew:      cfg.RefreshSkew,
		UsernameOverride: cfg.ServicePrincipalID,
	}, logger)

	manager, err := database.NewManager(cfg, a.Credentials, ws, logger)
	if err != nil {
		if errors.Is(err, database.ErrUnavailable) {
			logger.Warn("no database instance configured, persistence disabled")
			return a, nil
		}
		return nil, fmt.Errorf("setup: %w", err)
	}
	a.DB = manager

	if err := provideSchema(ctx, cfg, ws, a.Credentials); err != nil {
		if errors.Is(err, db.ErrSchema) {
			a.Close()
			return nil, fmt.Errorf("setup: %w", err)
		}
		logger.Warn("persistence disabled", "error", err)
		return a, nil
	}

	if err := manager.Ping(ctx); err != nil {
		logger.Warn("persistence disabled", "error", err)
		return a, nil
	}

	a.store = store.New(store.NewPgxQuerier(manager), logger)
	logger.Info("persistence ready",
		"instance", cfg.InstanceName,
		"database", cfg.DatabaseName,
	)
	return a, nil
}

// provideSchema issues a fresh credential and applies migrations once
// per process. Credential and instance lookups can fail transiently and
// surface as non-fatal errors; db.ErrSchema means the database itself
// rejected the schema.
func provideSchema(ctx context.Context, cfg *config.Config, ws *workspace.Client, creds *credential.Provider) error {
	cred, err := creds.Credential(ctx)
	if err != nil {
		return err
	}
	inst, err := ws.GetInstance(ctx, cfg.InstanceName)
	if err != nil {
		return err
	}
	return schema.Ensure(db.MigrateURL(inst, cred, cfg.DatabaseName, cfg.SSLMode))
}
