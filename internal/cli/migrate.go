package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/vietddude/artline/internal/core/worker"
	"github.com/vietddude/artline/internal/infra/storage/postgres"
)

var pruneOlderThan time.Duration

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	Run:   runMigrate,
}

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete run and job records older than the retention period",
	Run:   runPrune,
}

func init() {
	pruneCmd.Flags().DurationVar(&pruneOlderThan, "older-than", 0, "retention period (defaults to the configured retention)")
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(pruneCmd)
}

func runMigrate(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	db := openDB(ctx, cmd)
	defer func() {
		_ = db.Close()
	}()

	if err := db.Migrate(ctx); err != nil {
		slog.Error("Failed to migrate database", "error", err)
		os.Exit(1)
	}
	fmt.Println("Database is up to date")
}

func runPrune(cmd *cobra.Command, args []string) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	retention := cfg.Retention
	if pruneOlderThan > 0 {
		retention = pruneOlderThan
	}
	if retention <= 0 {
		fmt.Println("Retention is disabled, nothing to prune")
		return
	}

	ctx := context.Background()
	db := openDB(ctx, cmd)
	defer func() {
		_ = db.Close()
	}()

	pruner := worker.NewPruner(retention, postgres.NewRunRepo(db), postgres.NewJobRepo(db), slog.Default())
	runs, jobs := pruner.Prune(ctx)
	fmt.Printf("Pruned %d runs and %d jobs older than %s\n", runs, jobs, retention)
}
