package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vietddude/artline/internal/infra/storage/postgres"
)

var runsLimit int

var runsCmd = &cobra.Command{
	Use:   "runs [run_id]",
	Short: "List recent pipeline runs, or show one run and its image jobs",
	Args:  cobra.MaximumNArgs(1),
	Run:   runRuns,
}

func init() {
	runsCmd.Flags().IntVar(&runsLimit, "limit", 20, "number of runs to list")
	rootCmd.AddCommand(runsCmd)
}

func openDB(ctx context.Context, cmd *cobra.Command) *postgres.DB {
	cfg, err := loadConfig(cmd)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	if cfg.Database.URL == "" {
		slog.Error("Failed to connect to database", "error", errors.New("database.url is not configured"))
		os.Exit(1)
	}

	db, err := postgres.NewDB(ctx, cfg.Database)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	return db
}

func runRuns(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	db := openDB(ctx, cmd)
	defer func() {
		_ = db.Close()
	}()

	if len(args) == 1 {
		showRun(ctx, db, args[0])
		return
	}

	runs, err := postgres.NewRunRepo(db).List(ctx, runsLimit)
	if err != nil {
		slog.Error("Failed to list runs", "error", err)
		os.Exit(1)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "RUN\tSTATUS\tSTAGE\tREGEN\tSTARTED\tERROR")
	for _, r := range runs {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
			r.ID, r.Status, r.Stage, r.Regenerations, r.StartedAt.Format(time.RFC3339), r.ErrorType)
	}
	_ = w.Flush()
}

func showRun(ctx context.Context, db *postgres.DB, id string) {
	run, err := postgres.NewRunRepo(db).Get(ctx, id)
	if err != nil {
		slog.Error("Failed to get run", "run_id", id, "error", err)
		os.Exit(1)
	}
	jobs, err := postgres.NewJobRepo(db).ListByRun(ctx, id)
	if err != nil {
		slog.Error("Failed to list jobs", "run_id", id, "error", err)
		os.Exit(1)
	}

	fmt.Printf("Run %s: %s at %s (regenerations: %d)\n", run.ID, run.Status, run.Stage, run.Regenerations)
	if run.ErrorType != "" {
		fmt.Printf("Error: %s: %s\n", run.ErrorType, run.ErrorDetail)
	}
	if run.ImageURL != "" {
		fmt.Printf("Image: %s\n", run.ImageURL)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "JOB\tSTATUS\tATTEMPTS\tELAPSED\tCLASS\tIMAGE")
	for _, j := range jobs {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\n",
			j.ID, j.Status, j.Attempts, j.Elapsed.Round(time.Millisecond), j.FailureClass, j.ImageURL)
	}
	_ = w.Flush()
}
