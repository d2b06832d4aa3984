package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/ashureev/triage-agents/internal/agentsvc"
	"github.com/ashureev/triage-agents/internal/config"
	"github.com/ashureev/triage-agents/internal/envstore"
	"github.com/ashureev/triage-agents/internal/store"
	"github.com/spf13/cobra"
)

// app is the per-invocation state shared by subcommands.
type app struct {
	root   string
	cfg    *config.Config
	logger *slog.Logger
}

func loadApp(cmd *cobra.Command) (*app, error) {
	root, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("get working directory: %w", err)
	}

	bootLogger := newLogger(cmd.ErrOrStderr(), levelFor(""))
	if _, err := envstore.LoadEnvFiles(bootLogger, envstore.CandidatePaths(envFile, root)...); err != nil {
		return nil, err
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	logger := newLogger(cmd.ErrOrStderr(), levelFor(cfg.LogLevel))
	slog.SetDefault(logger)
	return &app{root: root, cfg: cfg, logger: logger}, nil
}

func levelFor(configured string) slog.Level {
	if verbose {
		return slog.LevelDebug
	}
	cfg := config.Config{LogLevel: configured}
	return cfg.SlogLevel()
}

// service opens the configured agent service transport.
func (a *app) service() (agentsvc.Service, func(), error) {
	if a.cfg.Transport == config.TransportREST {
		if err := a.cfg.RequireEndpoint(); err != nil {
			return nil, nil, fmt.Errorf("%w; run `azd env get-values` or pass --env-file", err)
		}
	}
	return agentsvc.Open(a.cfg.Service(), a.logger)
}

// openStore opens run history. Failures are logged and yield nil so the
// commands still work without a writable database.
func (a *app) openStore(ctx context.Context) *store.SQLiteStore {
	repo, err := store.NewSQLite(a.cfg.DBPath)
	if err != nil {
		a.logger.Warn("Run history disabled", "db_path", a.cfg.DBPath, "error", err)
		return nil
	}
	if err := repo.Ping(ctx); err != nil {
		a.logger.Warn("Run history disabled", "db_path", a.cfg.DBPath, "error", err)
		_ = repo.Close()
		return nil
	}
	return repo
}

// envTarget is the env file agent ids are written to: the explicit file, the
// azd environment file when one is active, otherwise ./.env.
func envTarget(explicit, root string) string {
	if strings.TrimSpace(explicit) != "" {
		return explicit
	}
	if name := envstore.DetectAzdEnvName(root); name != "" {
		return filepath.Join(root, ".azure", name, ".env")
	}
	return filepath.Join(root, ".env")
}
