package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vietddude/artline/internal/control"
)

var errNotDelivered = errors.New("run did not deliver")

var generateCmd = &cobra.Command{
	Use:   "generate [request]",
	Short: "Run the pipeline once for a poster request and print the outcome",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runGenerate,
}

func init() {
	generateCmd.SilenceUsage = true
	rootCmd.AddCommand(generateCmd)
}

func runGenerate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log := setupLogging(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := control.NewApp(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("initialize artline: %w", err)
	}
	defer app.Stop(context.Background())

	outcome := app.Runner().Run(ctx, strings.Join(args, " "))
	fmt.Fprintln(cmd.OutOrStdout(), string(outcome.JSON()))

	if !outcome.Delivered() {
		return errNotDelivered
	}
	return nil
}
