package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/migadu/sieveedit/config"
	"github.com/migadu/sieveedit/logger"
	"github.com/migadu/sieveedit/managesieve"
	"github.com/migadu/sieveedit/store"
	"github.com/migadu/sieveedit/store/pgstore"
	"github.com/migadu/sieveedit/store/sqlitestore"
	"github.com/spf13/cobra"
)

// readInput returns the contents of path, or standard input for "-".
func readInput(cmd *cobra.Command, path string) (string, error) {
	if path == "-" {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return "", fmt.Errorf("failed to read standard input: %w", err)
		}
		return string(data), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// openStore connects to the store selected by [store] type.
func openStore(ctx context.Context, cfg config.Config) (store.ScriptStore, error) {
	switch cfg.Store.Type {
	case config.StoreManageSieve:
		opts, err := managesieve.OptionsFromConfig(cfg.ManageSieve)
		if err != nil {
			return nil, err
		}
		return managesieve.NewSession(ctx, opts)
	case config.StoreSQLite:
		return sqlitestore.Open(ctx, cfg.Store.SQLitePath, cfg.Store.KeepRevisions)
	case config.StorePostgres:
		if err := pgstore.Migrate(ctx, cfg.Store.PostgresDSN); err != nil {
			return nil, err
		}
		return pgstore.Open(ctx, cfg.Store.PostgresDSN, cfg.Store.AccountID)
	default:
		return nil, fmt.Errorf("unknown store type %q", cfg.Store.Type)
	}
}

// withStore runs fn against the configured store and closes it afterwards.
func withStore(cmd *cobra.Command, fn func(ctx context.Context, s store.ScriptStore) error) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
	defer cancel()

	s, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to open %s store: %w", cfg.Store.Type, err)
	}
	defer func() {
		if err := s.Close(); err != nil {
			logger.Warn("Failed to close store", "type", cfg.Store.Type, "error", err)
		}
	}()
	return fn(ctx, s)
}
