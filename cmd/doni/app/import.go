package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/chameleoncloud/doni/internal/app"
	"github.com/chameleoncloud/doni/internal/service"
)

func newImportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Enroll hardware that already exists in a worker backend",
		Long: `Enroll hardware that a worker backend already knows about.

The worker lists its backend inventory; every item not yet enrolled is created
as new hardware with its backend ID. Items that cannot be enrolled are
reported as skipped. The result is printed as JSON.

Examples:
  # Preview what would be enrolled from Ironic
  doni import --config config.yaml --worker ironic --dry-run`,
		RunE: runImport,
	}
	cmd.Flags().String("worker", "", "Worker to import from (required)")
	cmd.Flags().Bool("dry-run", false, "Validate and report without creating anything")
	if err := cmd.MarkFlagRequired("worker"); err != nil {
		panic(err)
	}
	return cmd
}

func runImport(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	workerType, err := cmd.Flags().GetString("worker")
	if err != nil {
		return fmt.Errorf("failed to get worker flag: %w", err)
	}
	dryRun, err := cmd.Flags().GetBool("dry-run")
	if err != nil {
		return fmt.Errorf("failed to get dry-run flag: %w", err)
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	doni, err := app.NewDoniApp(ctx, app.WithConfig(cfg))
	if err != nil {
		return fmt.Errorf("failed to build application: %w", err)
	}
	defer doni.Close(context.Background())

	result, err := doni.HardwareService().Import(ctx, workerType, service.WithDryRun(dryRun))
	if err != nil {
		return fmt.Errorf("import from %s failed: %w", workerType, err)
	}
	slog.Info("Import finished",
		"worker", workerType,
		"dry_run", dryRun,
		"created", len(result.Created),
		"skipped", len(result.Skipped))

	return writeJSON(cmd, result)
}
