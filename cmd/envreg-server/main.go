// Package main runs the environment registry HTTP server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/golang/glog"
	"github.com/spf13/cobra"

	"github.com/envhub/env-registry/pkg/audit"
	"github.com/envhub/env-registry/pkg/config"
	"github.com/envhub/env-registry/pkg/db"
	"github.com/envhub/env-registry/pkg/envreg"
	"github.com/envhub/env-registry/pkg/ha"
	"github.com/envhub/env-registry/pkg/signature"
	"github.com/envhub/env-registry/pkg/tracing"
)

func main() {
	// Initialize glog for backwards compatibility
	_ = flag.Set("logtostderr", "true")

	if err := newRootCmd().Execute(); err != nil {
		glog.Fatalf("envreg-server: %v", err)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "envreg-server",
		Short: "Environment bundle registry server",
		Long: `envreg-server stores signed environment versions, their bundle manifests
and dependency edges, and serves lookups and dependency closures over HTTP.

Configuration is read from flags, ENVREG_ environment variables and an
optional YAML file given with --config.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cmd.Flags())
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}
	config.BindFlags(cmd.Flags())
	return cmd
}

func run(parent context.Context, cfg *config.Config) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger, err := newLogger(os.Stdout, cfg.Log)
	if err != nil {
		return err
	}

	tp, err := tracing.NewProvider(ctx, cfg.Tracing)
	if err != nil {
		return fmt.Errorf("set up tracing: %w", err)
	}
	defer func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			logger.Error("tracer shutdown error", "error", err)
		}
	}()

	adminKey, err := signature.LoadPublicKeyFile(cfg.AdminKey)
	if err != nil {
		return fmt.Errorf("load admin key: %w", err)
	}

	logger.Info("starting envreg server",
		"listen", cfg.Listen,
		"dbType", cfg.DB.Type,
		"adminKey", cfg.AdminKey,
		"tracing", tp.Enabled())

	gormDB, err := db.Open(ctx, cfg.DBConfig())
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer func() {
		if sqlDB, err := gormDB.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}()

	if err := ha.RunMigrations(ctx, gormDB, cfg.HAConfig(), logger, envreg.AutoMigrate, audit.AutoMigrate); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	var tracer = tp.Tracer()
	if !tp.Enabled() {
		tracer = nil
	}
	srv, err := newServer(cfg, gormDB, adminKey, tracer, logger)
	if err != nil {
		return fmt.Errorf("create server: %w", err)
	}

	if w := srv.retentionWorker(); w != nil {
		go w.Run(ctx)
	}

	httpServer := &http.Server{
		Addr:    cfg.Listen,
		Handler: srv.routes(),
	}

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	logger.Info("envreg server ready", "listen", cfg.Listen)

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	logger.Info("envreg server stopped")
	return nil
}
