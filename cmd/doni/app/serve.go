package app

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/chameleoncloud/doni/internal/app"
	"github.com/chameleoncloud/doni/internal/versions"
)

const defaultGracefulTimeout = 30 * time.Second // Kubernetes-friendly shutdown time

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the API server and the reconciliation loop",
		Long: `Start the REST API and the reconciliation loop in one process.

The configuration file selects the storage backend, the enabled hardware types
and workers, the event sinks and telemetry. Stop with SIGINT or SIGTERM; the
loop stops first, then the API drains, then running worker invocations are
cancelled.`,
		RunE: runServe,
	}
	cmd.Flags().String("address", "", "Address to listen on (overrides server.address)")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	info := versions.GetVersionInfo()
	slog.Info("Starting doni", "version", info.Version, "commit", info.Commit)

	opts := []app.DoniAppOptions{app.WithConfig(cfg)}
	address, err := cmd.Flags().GetString("address")
	if err != nil {
		return fmt.Errorf("failed to get address flag: %w", err)
	}
	if address != "" {
		opts = append(opts, app.WithAddress(address))
	}

	doni, err := app.NewDoniApp(context.WithoutCancel(ctx), opts...)
	if err != nil {
		return fmt.Errorf("failed to build application: %w", err)
	}

	errChan := make(chan error, 1)
	go func() {
		errChan <- doni.Start()
	}()

	select {
	case err := <-errChan:
		// The server failed before any signal arrived
		doni.Close(context.Background())
		return err
	case <-ctx.Done():
	}

	if err := doni.Stop(defaultGracefulTimeout); err != nil {
		return err
	}
	return <-errChan
}
