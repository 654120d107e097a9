// Package app assembles the gateway: configuration, key store, completion
// provider, tool engine and HTTP server, with one coordinated lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/toolgate/toolgate/internal/config"
	"github.com/toolgate/toolgate/internal/provider"
	"github.com/toolgate/toolgate/internal/proxy"
	"github.com/toolgate/toolgate/internal/tokensource"
	"github.com/toolgate/toolgate/internal/toolengine"
)

// App orchestrates the lifecycle of the gateway server and related services.
type App struct {
	cfg    *config.Config
	engine *toolengine.Engine
	proxy  *proxy.Proxy
	health *Health
}

// New creates a new App instance from configuration.
func New(cfg *config.Config) (*App, error) {
	keys := keyStoreFor(cfg)

	completions, err := provider.NewAnthropicProvider(tokensource.NewTransport(keys, http.DefaultTransport))
	if err != nil {
		return nil, fmt.Errorf("failed to create completion provider: %w", err)
	}

	engine := toolengine.New(toolengine.Config{
		MaxParallelCalls:    cfg.Engine.MaxParallelCalls,
		MaxInFlight:         cfg.Engine.MaxInFlight,
		CallTimeout:         cfg.Engine.CallTimeout,
		ChoiceBudget:        cfg.Engine.ChoiceBudget,
		SchemaCacheCapacity: cfg.Engine.SchemaCacheCapacity,
		SchemaCacheTTL:      cfg.Engine.SchemaCacheTTL,
		SchemaTimeBudget:    cfg.Engine.SchemaTimeBudget,
		MaxIDsPerSession:    cfg.Engine.MaxIDsPerSession,
	})

	health := NewHealth()

	proxyServer, err := proxy.New(cfg, engine, completions, health)
	if err != nil {
		return nil, fmt.Errorf("failed to create proxy: %w", err)
	}

	return &App{
		cfg:    cfg,
		engine: engine,
		proxy:  proxyServer,
		health: health,
	}, nil
}

func keyStoreFor(cfg *config.Config) tokensource.KeyStore {
	if cfg.Auth.Storage == config.KeyStorageEnv {
		return tokensource.NewEnvStore(os.Getenv)
	}
	return tokensource.Fallback{tokensource.NewKeyringStore(), tokensource.NewEnvStore(os.Getenv)}
}

// Start starts all services and blocks until shutdown is triggered.
// Uses errgroup for runtime error monitoring and shutdown function collection for coordinated cleanup.
func (a *App) Start(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	var shutdownFuncs []func(context.Context) error

	// Startup phase: Start services
	slog.InfoContext(gCtx, "starting gateway server")
	proxyErrCh, err := a.proxy.Start(gCtx)
	if err != nil {
		return fmt.Errorf("gateway startup failed: %w", err)
	}
	shutdownFuncs = append(shutdownFuncs, a.proxy.Shutdown)

	// Monitor runtime errors - errgroup cancels context on first error
	g.Go(func() error {
		select {
		case err := <-proxyErrCh:
			if err != nil {
				slog.ErrorContext(gCtx, "gateway runtime error", "error", err)
				return fmt.Errorf("gateway: %w", err)
			}
			return nil
		case <-gCtx.Done():
			return nil
		}
	})

	// Periodically expire terminal tool-call state and stale tracked ids.
	g.Go(func() error {
		a.runCleanupLoop(gCtx)
		return nil
	})

	a.health.SetReady(true)

	runtimeErr := g.Wait()

	a.health.SetReady(false)
	slog.InfoContext(gCtx, "shutting down services")

	// Shutdown phase: Stop all services
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()

	var errs []error
	if runtimeErr != nil {
		errs = append(errs, fmt.Errorf("runtime: %w", runtimeErr))
	}

	for i := len(shutdownFuncs) - 1; i >= 0; i-- {
		if err := shutdownFuncs[i](shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "service shutdown failed", "error", err)
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	slog.Info("application stopped")
	return nil
}

func (a *App) runCleanupLoop(ctx context.Context) {
	interval := a.cfg.Engine.CleanupInterval
	if interval <= 0 {
		interval = time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report := a.engine.Cleanup(a.cfg.Engine.StateMaxAge)
			if report.StatesRemoved > 0 || report.IDsRemoved > 0 {
				slog.DebugContext(ctx, "expired tool-call state",
					"states_removed", report.StatesRemoved,
					"bytes_freed", report.BytesFreed,
					"ids_removed", report.IDsRemoved)
			}
		}
	}
}
