// Package app provides application lifecycle management for doni.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/chameleoncloud/doni/internal/config"
	"github.com/chameleoncloud/doni/internal/reconcile"
	"github.com/chameleoncloud/doni/internal/service"
)

// DoniApp encapsulates all components needed to run the API server and the
// reconciliation loop. It provides lifecycle management and graceful shutdown.
type DoniApp struct {
	config     *config.Config
	components *AppComponents
	httpServer *http.Server

	// Lifecycle management
	ctx        context.Context
	cancelFunc context.CancelFunc
}

// Start starts the reconciliation loop in the background and then serves the
// API. This method blocks until the HTTP server stops or encounters an error
func (app *DoniApp) Start() error {
	go func() {
		if err := app.components.Coordinator.Start(app.ctx); err != nil {
			slog.Error("Reconciliation loop failed", "error", err)
		}
	}()

	slog.Info("Server listening", "address", app.httpServer.Addr)
	if err := app.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTP server failed: %w", err)
	}

	return nil
}

// RunLoop runs the reconciliation loop without the API server until ctx is
// cancelled.
func (app *DoniApp) RunLoop(ctx context.Context) error {
	return app.components.Coordinator.Start(ctx)
}

// RunOnce runs a single reconciliation cycle and waits for the invocations
// it submitted to finish. The API server is not started.
func (app *DoniApp) RunOnce(ctx context.Context) (reconcile.Summary, error) {
	summary, err := app.components.Coordinator.RunOnce(ctx)
	if err != nil {
		return summary, err
	}
	if err := app.components.Executor.Wait(ctx); err != nil {
		return summary, fmt.Errorf("failed waiting for worker invocations: %w", err)
	}
	return summary, nil
}

// Stop gracefully stops the application with the given timeout.
// The loop stops first so no new invocations are submitted, then the HTTP
// server drains, then running invocations are cancelled.
func (app *DoniApp) Stop(timeout time.Duration) error {
	slog.Info("Shutting down server...")

	if err := app.components.Coordinator.Stop(); err != nil {
		slog.Error("Failed to stop reconciliation loop", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var serverErr error
	if err := app.httpServer.Shutdown(shutdownCtx); err != nil {
		serverErr = fmt.Errorf("server forced to shutdown: %w", err)
	}

	releaseComponents(shutdownCtx, app.components)
	if app.cancelFunc != nil {
		app.cancelFunc()
	}

	if serverErr != nil {
		return serverErr
	}
	slog.Info("Server shutdown complete")
	return nil
}

// Close releases the components without touching the HTTP server. It is used
// by commands that never call Start.
func (app *DoniApp) Close(ctx context.Context) {
	releaseComponents(ctx, app.components)
	if app.cancelFunc != nil {
		app.cancelFunc()
	}
}

// releaseComponents stops owned components in reverse build order. Missing
// components are skipped so it can run on a partially built app.
func releaseComponents(ctx context.Context, c *AppComponents) {
	if c.Executor != nil {
		if err := c.Executor.Stop(ctx); err != nil {
			slog.Warn("Worker invocations did not stop in time", "error", err)
		}
	}
	if c.NATS != nil {
		if err := c.NATS.Close(); err != nil {
			slog.Warn("Failed to close NATS connection", "error", err)
		}
	}
	if c.Storage != nil {
		c.Storage.Cleanup()
	}
	if c.Telemetry != nil {
		if err := c.Telemetry.Shutdown(ctx); err != nil {
			slog.Warn("Failed to shut down telemetry", "error", err)
		}
	}
}

// GetConfig returns the application configuration
func (app *DoniApp) GetConfig() *config.Config {
	return app.config
}

// GetHTTPServer returns the HTTP server (useful for testing to get the actual port)
func (app *DoniApp) GetHTTPServer() *http.Server {
	return app.httpServer
}

// HardwareService returns the service backing the API
func (app *DoniApp) HardwareService() service.HardwareService {
	return app.components.HardwareService
}
