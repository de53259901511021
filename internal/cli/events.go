package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	redisclient "github.com/vietddude/artline/internal/infra/redis"
)

var eventsCount int64

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Show the most recent lifecycle events from the Redis stream",
	Run:   runEvents,
}

func init() {
	eventsCmd.Flags().Int64Var(&eventsCount, "count", 20, "number of events to show")
	rootCmd.AddCommand(eventsCmd)
}

func runEvents(cmd *cobra.Command, args []string) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	if cfg.Redis.URL == "" {
		slog.Error("Redis is not configured")
		os.Exit(1)
	}

	client, err := redisclient.NewClient(cfg.Redis)
	if err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = client.Close()
	}()

	entries, err := client.Recent(context.Background(), eventsCount)
	if err != nil {
		slog.Error("Failed to read events", "error", err)
		os.Exit(1)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "AT\tLEVEL\tEVENT\tRUN\tJOB")
	for _, e := range entries {
		v := e.Values
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", v["at"], v["level"], v["name"], v["run_id"], v["job_id"])
	}
	_ = w.Flush()
}
