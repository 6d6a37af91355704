package app

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/chameleoncloud/doni/internal/app"
)

func newReconcileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Run the reconciliation loop without the API server",
		Long: `Run the reconciliation loop without serving the API.

With --once a single cycle runs, the command waits for every worker
invocation it started and prints the cycle summary as JSON.`,
		RunE: runReconcile,
	}
	cmd.Flags().Bool("once", false, "Run one cycle and exit")
	return cmd
}

func runReconcile(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	once, err := cmd.Flags().GetBool("once")
	if err != nil {
		return fmt.Errorf("failed to get once flag: %w", err)
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	doni, err := app.NewDoniApp(context.WithoutCancel(ctx), app.WithConfig(cfg))
	if err != nil {
		return fmt.Errorf("failed to build application: %w", err)
	}
	defer doni.Close(context.Background())

	if !once {
		slog.Info("Running reconciliation loop; API server disabled")
		return doni.RunLoop(ctx)
	}

	summary, err := doni.RunOnce(ctx)
	if err != nil {
		return fmt.Errorf("reconciliation cycle failed: %w", err)
	}
	return writeJSON(cmd, summary)
}
