package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/vietddude/artline/internal/contract"
	"github.com/vietddude/artline/internal/core/domain"
	"github.com/vietddude/artline/internal/routing"
)

var errRejected = errors.New("payload rejected")

var (
	validateFrom string
	validateTo   string
)

var validateCmd = &cobra.Command{
	Use:   "validate [file]",
	Short: "Validate a stage output against the contract for an edge",
	Long: `Validate reads a stage output from a file, or stdin when no file or "-" is given,
and prints the normalized payload or the error envelope the sender would receive.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runValidate,
}

var edgesCmd = &cobra.Command{
	Use:   "edges",
	Short: "List the handoff edges that carry a contract",
	RunE:  runEdges,
}

func init() {
	validateCmd.Flags().StringVar(&validateFrom, "from", "", "sending agent, e.g. brief_agent")
	validateCmd.Flags().StringVar(&validateTo, "to", "", "receiving agent, e.g. art_direction_agent")
	_ = validateCmd.MarkFlagRequired("from")
	_ = validateCmd.MarkFlagRequired("to")
	validateCmd.SilenceUsage = true

	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(edgesCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	var (
		raw []byte
		err error
	)
	if len(args) == 0 || args[0] == "-" {
		raw, err = io.ReadAll(cmd.InOrStdin())
	} else {
		raw, err = os.ReadFile(args[0])
	}
	if err != nil {
		return fmt.Errorf("read payload: %w", err)
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	registry, err := contract.DefaultRegistry()
	if err != nil {
		return err
	}
	validator := contract.NewValidator(registry,
		contract.WithDefaults(cfg.Pipeline.Defaults),
		contract.WithPreviewLimit(cfg.Pipeline.PreviewLimit),
	)
	router := routing.NewRouter(validator)

	out := cmd.OutOrStdout()
	d, err := router.Route(context.Background(), domain.ParseRole(validateFrom), domain.ParseRole(validateTo), raw)
	if err != nil {
		rej, ok := routing.AsRejection(err)
		if !ok {
			return err
		}
		b, _ := json.MarshalIndent(rej.Response(), "", "  ")
		fmt.Fprintln(out, string(b))
		return errRejected
	}

	if !d.Validated {
		fmt.Fprintf(cmd.ErrOrStderr(), "no contract registered for %s, payload passed through\n", d.Edge)
		_, err = out.Write(d.Payload)
		return err
	}

	var pretty any
	if err := json.Unmarshal(d.Payload, &pretty); err != nil {
		return err
	}
	b, _ := json.MarshalIndent(pretty, "", "  ")
	fmt.Fprintln(out, string(b))
	return nil
}

func runEdges(cmd *cobra.Command, args []string) error {
	registry, err := contract.DefaultRegistry()
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
	_, _ = fmt.Fprintln(w, "FROM\tTO\tSCHEMA\tBACK-EDGE")
	for _, edge := range registry.Edges() {
		schema, _ := registry.Lookup(edge.From, edge.To)
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%t\n", edge.From, edge.To, schema.Name, edge.IsBackEdge())
	}
	return w.Flush()
}
