package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hupe1980/agentcoop"
	"github.com/hupe1980/agentcoop/auth"
	"github.com/hupe1980/agentcoop/config"
	"github.com/hupe1980/agentcoop/core"
	"github.com/hupe1980/agentcoop/logging"
	"github.com/hupe1980/agentcoop/metrics"
	"github.com/hupe1980/agentcoop/server"
	"github.com/hupe1980/agentcoop/storage"
)

func newServeCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the coordination server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}
			return runServe(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides AGENTCOOP_SERVER_ADDR)")

	return cmd
}

func runServe(ctx context.Context, cfg *config.Config) error {
	logger := logging.New(logging.Config{
		Level:     logging.ParseLevel(cfg.Logging.Level),
		Format:    cfg.Logging.Format,
		Component: "agentcoop",
	})

	store, err := buildStorage(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	if store != nil {
		defer store.Close()
	}

	coopOpts := []func(*agentcoop.Options){
		agentcoop.WithLogger(logger),
		agentcoop.WithMaxMessageHistory(cfg.Server.MaxMessageHistory),
	}
	if store != nil {
		coopOpts = append(coopOpts, agentcoop.WithStorage(store))
	}

	var collector *metrics.Collector
	if cfg.Server.EnableMetrics {
		collector = metrics.NewCollector()
		coopOpts = append(coopOpts, agentcoop.WithMetrics(collector))
	}

	coop := agentcoop.New(coopOpts...)

	srvOpts := []func(*server.Options){
		server.WithAddr(cfg.Server.Addr),
		server.WithLogger(logger),
		server.WithAuthenticator(buildAuthenticator(cfg.Auth)),
	}
	if collector != nil {
		srvOpts = append(srvOpts, server.WithMetrics(collector))
	}
	if cfg.Server.RateLimitEnabled {
		srvOpts = append(srvOpts, server.WithRateLimit(server.RateLimiterConfig{
			Window:      cfg.Server.RateLimitWindow,
			MaxRequests: cfg.Server.RateLimitMax,
		}))
	}
	if !cfg.Server.EnableREST {
		srvOpts = append(srvOpts, server.WithoutREST())
	}

	srv := server.New(coop, srvOpts...)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func buildStorage(ctx context.Context, cfg config.StorageConfig) (core.Storage, error) {
	var store core.Storage
	switch cfg.Driver {
	case "memory":
		store = storage.NewMemoryStore(cfg.MaxMessages)
	case "sqlite":
		store = storage.NewSQLiteStore(cfg.Path, cfg.MaxMessages)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
	if err := store.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connect storage: %w", err)
	}
	return store, nil
}

func buildAuthenticator(cfg config.AuthConfig) *auth.Authenticator {
	keys := make(map[string]auth.KeyEntry, len(cfg.APIKeys))
	for key, agentID := range cfg.APIKeys {
		keys[key] = auth.KeyEntry{
			AgentID:     agentID,
			Permissions: auth.Permissions{Read: true, Write: true},
		}
	}
	return auth.New(auth.Config{
		Strategy: auth.Strategy(cfg.Strategy),
		APIKeys:  keys,
		Secret:   cfg.Secret,
		TokenTTL: cfg.TokenTTL,
	})
}
