package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/spf13/cobra"

	"github.com/chameleoncloud/doni/database"
	"github.com/chameleoncloud/doni/internal/config"
)

// errCancelled is returned when the operator declines a prompt.
var errCancelled = errors.New("migration cancelled by user")

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Database migration tool",
		Long:  `Database migration tool for managing schema versions. Use with 'up' or 'down' subcommands.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Usage()
		},
	}

	cmd.PersistentFlags().BoolP("yes", "y", false, "Answer yes to all questions")
	cmd.PersistentFlags().UintP("num-steps", "n", 0, "Number of steps to migrate down (0 = all)")

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending database migrations",
		Long: `Apply all pending database migrations to bring the schema up to date.
The database connection parameters are read from the config file.`,
		RunE: runMigrateUp,
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Migrate the database down",
		Long: `Migrate the database schema down by reverting migrations.
WARNING: This operation can result in data loss. Use with caution.

Examples:
  # Migrate down by 1 step
  doni migrate down --config config.yaml --num-steps 1 --yes

  # Migrate down all the way (WARNING: destroys all data)
  doni migrate down --config config.yaml --yes`,
		RunE: runMigrateDown,
	})
	return cmd
}

// setupMigration loads the configuration and connects to its database.
func setupMigration(cmd *cobra.Command) (*config.DatabaseConfig, *pgx.Conn, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	if cfg.Database == nil {
		return nil, nil, fmt.Errorf("database configuration is required")
	}

	connString, err := cfg.Database.GetConnectionString()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build connection string: %w", err)
	}

	conn, err := pgx.Connect(cmd.Context(), connString)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return cfg.Database, conn, nil
}

func closeConnection(conn *pgx.Conn) {
	if err := conn.Close(context.Background()); err != nil {
		slog.Error("Error closing database connection", "error", err)
	}
}

// confirm asks a yes/no question on the command's input unless --yes was given.
func confirm(cmd *cobra.Command, prompt string) error {
	yes, err := cmd.Flags().GetBool("yes")
	if err != nil {
		return fmt.Errorf("failed to get yes flag: %w", err)
	}
	if yes {
		return nil
	}

	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s (yes/no): ", prompt)
	response, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && response == "" {
		return fmt.Errorf("failed to read user input: %w", err)
	}
	switch strings.ToLower(strings.TrimSpace(response)) {
	case "yes", "y":
		return nil
	default:
		return errCancelled
	}
}

func runMigrateUp(cmd *cobra.Command, _ []string) error {
	dbCfg, conn, err := setupMigration(cmd)
	if err != nil {
		return err
	}
	defer closeConnection(conn)

	prompt := fmt.Sprintf("About to apply migrations to database %s@%s:%d/%s. Continue?",
		dbCfg.User, dbCfg.Host, dbCfg.Port, dbCfg.Database)
	if err := confirm(cmd, prompt); err != nil {
		return err
	}

	slog.Info("Applying database migrations")
	if err := database.MigrateUp(cmd.Context(), conn); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	logVersion(conn.Config().ConnString(), false)
	return nil
}

func runMigrateDown(cmd *cobra.Command, _ []string) error {
	numSteps, err := cmd.Flags().GetUint("num-steps")
	if err != nil {
		return fmt.Errorf("failed to get num-steps flag: %w", err)
	}
	if numSteps > math.MaxInt {
		return fmt.Errorf("number of steps exceeds maximum allowed value")
	}

	_, conn, err := setupMigration(cmd)
	if err != nil {
		return err
	}
	defer closeConnection(conn)

	prompt := "WARNING: This will migrate down ALL steps and may result in complete data loss. Continue?"
	if numSteps > 0 {
		prompt = fmt.Sprintf("WARNING: This will migrate down %d step(s) and may result in data loss. Continue?", numSteps)
	}
	if err := confirm(cmd, prompt); err != nil {
		return err
	}

	if numSteps == 0 {
		slog.Warn("Migrating down all steps - this will remove all schema!")
	} else {
		slog.Info("Migrating down", "steps", numSteps)
	}
	if err := database.MigrateDown(cmd.Context(), conn, int(numSteps)); err != nil { // #nosec G115 -- overflow checked above
		return fmt.Errorf("migration failed: %w", err)
	}

	logVersion(conn.Config().ConnString(), numSteps == 0)
	return nil
}

func logVersion(connString string, removedAll bool) {
	version, dirty, err := database.GetVersion(connString)
	switch {
	case err != nil && removedAll:
		slog.Info("Database schema has been completely removed")
	case err != nil:
		slog.Warn("Unable to get migration version", "error", err)
	case dirty:
		slog.Warn("Database is in a dirty state - manual intervention may be required", "version", version)
	default:
		slog.Info("Current migration version", "version", version)
	}
}
