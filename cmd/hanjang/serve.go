package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"hanjang/internal/app"
	"hanjang/internal/config"
	hlog "hanjang/internal/log"
	"hanjang/internal/server"
)

func newServeCommand() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.FromEnv()
			if addr != "" {
				cfg.Addr = addr
			}
			logger := hlog.NewWithLevel(cfg.LogLevel)
			defer func() { _ = logger.Sync() }()

			if cfg.Store == "sqlite" || cfg.VectorStore == "sqlite" {
				unlock, err := lockDatabase(cfg.SQLitePath)
				if err != nil {
					return err
				}
				defer unlock()
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := app.Build(ctx, cfg, logger, app.Overrides{})
			if err != nil {
				return err
			}
			defer a.Close()
			if cfg.APIToken != "" {
				logger.Info("auth.enabled", hlog.Secret("token", cfg.APIToken))
			}
			return server.New(a).Run(ctx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default $HANJANG_ADDR or :5000)")
	return cmd
}

// lockDatabase takes an exclusive lock next to the SQLite file so two
// servers never share it.
func lockDatabase(dbPath string) (func(), error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, err
	}
	lockPath := dbPath + ".lock"
	lock := flock.New(lockPath)
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("another hanjang server holds %s", lockPath)
	}
	return func() {
		if err := lock.Unlock(); err != nil {
			zap.L().Warn("release lock", zap.Error(err))
		}
	}, nil
}

