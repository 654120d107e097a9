// Package proxy exposes the OpenAI-compatible HTTP surface of the gateway:
// chat completions, the static model list and health probes.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"

	"github.com/toolgate/toolgate/internal/config"
	obsmw "github.com/toolgate/toolgate/internal/observability/middleware"
	"github.com/toolgate/toolgate/internal/openaiadapter"
	"github.com/toolgate/toolgate/internal/provider"
	"github.com/toolgate/toolgate/internal/toolengine"
)

// ReadinessChecker reports whether the application is ready to serve traffic.
type ReadinessChecker interface {
	IsReady() bool
}

// Proxy is the HTTP server for the gateway.
type Proxy struct {
	server *http.Server
}

// New wires the HTTP routes and middleware chain around the tool engine and
// completion provider.
func New(cfg *config.Config, engine *toolengine.Engine, completions provider.CompletionProvider, checker ReadinessChecker) (*Proxy, error) {
	if engine == nil {
		return nil, fmt.Errorf("engine is required")
	}
	if completions == nil {
		return nil, fmt.Errorf("completion provider is required")
	}

	chatHandler := &ChatCompletionsHandler{
		Validator:    openaiadapter.NewRequestValidator(),
		Engine:       engine,
		Completions:  completions,
		ToolDefaults: toolConfigurationDefaults(cfg),
		Strict:       cfg.Engine.Strict,
	}

	mux := http.NewServeMux()
	mux.Handle("POST /v1/chat/completions", chatHandler)
	mux.Handle("GET /v1/models", modelsHandler())
	mux.Handle("GET /livez", livenessHandler())
	mux.Handle("GET /readyz", readinessHandler(checker))

	handler := applyMiddlewares(mux,
		obsmw.RequestIDGeneration,
		obsmw.Logging(slog.Default()),
		obsmw.RequestIDPropagation,
		Recovery,
		RequestSizeLimit(cfg.Server.RequestSizeLimit),
	)

	return &Proxy{
		server: &http.Server{
			Addr:         cfg.Server.Addr,
			Handler:      handler,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		},
	}, nil
}

func toolConfigurationDefaults(cfg *config.Config) toolengine.ToolConfiguration {
	return toolengine.ToolConfiguration{
		EnabledTools:     cfg.Tools.Enabled,
		DisallowedTools:  cfg.Tools.Disallowed,
		PermissionMode:   cfg.Tools.PermissionMode,
		MaxTurns:         cfg.Tools.MaxTurns,
		MaxParallelCalls: cfg.Engine.MaxParallelCalls,
	}
}

// Start begins listening and returns a channel that receives the terminal
// serve error, if any. Returns an error immediately if the listener cannot
// be created.
func (p *Proxy) Start(ctx context.Context) (<-chan error, error) {
	listener, err := net.Listen("tcp", p.server.Addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", p.server.Addr, err)
	}

	slog.InfoContext(ctx, "listening", "addr", listener.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		if err := p.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	return errCh, nil
}

// Shutdown gracefully stops the server, waiting for in-flight requests.
func (p *Proxy) Shutdown(ctx context.Context) error {
	return p.server.Shutdown(ctx)
}
