// File: cmd/evolve.go
package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/graft-cli/api/schemas"
	"github.com/xkilldash9x/graft-cli/internal/config"
	"github.com/xkilldash9x/graft-cli/internal/evolution"
	"github.com/xkilldash9x/graft-cli/internal/fitness"
	"github.com/xkilldash9x/graft-cli/internal/observability"
	"github.com/xkilldash9x/graft-cli/internal/service"
)

func newEvolveCmd(factory service.ComponentFactory) *cobra.Command {
	var (
		path      string
		candidate string
		note      string
		auto      bool
		decide    bool
		asJSON    bool
	)

	evolveCmd := &cobra.Command{
		Use:   "evolve",
		Short: "Run one full evolution cycle against the workspace.",
		Long: `Evolve validates the target path against the configured zones, snapshots
the workspace, applies the candidate, builds and tests it under the bounded
repair loop, benchmarks baseline against mutation when a bench command is
configured, and commits or rolls back on the verdict. The cycle outcome is
appended to the ledger and printed; the command exits non-zero unless the
mutation was committed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := getConfigFromContext(cmd.Context())
			if err != nil {
				return err
			}
			logger := observability.GetLogger()

			content, err := os.ReadFile(candidate)
			if err != nil {
				return fmt.Errorf("failed to read candidate file: %w", err)
			}
			proposal := schemas.Proposal{
				Path:    path,
				Content: string(content),
				Note:    note,
			}

			// Nil decide delegates accept or reject to the configured policy.
			var decideFn evolution.DecideFunc
			if decide {
				decideFn = promptDecision(cmd)
			}
			return runEvolve(cmd.Context(), cfg, logger, factory, proposal, decideFn, asJSON, cmd.OutOrStdout())
		},
	}

	evolveCmd.Flags().StringVarP(&path, "path", "p", "", "workspace-relative path of the file to mutate (required)")
	evolveCmd.Flags().StringVarP(&candidate, "candidate", "f", "", "file holding the full replacement content (required)")
	evolveCmd.Flags().StringVar(&note, "note", "", "free-form note recorded on the ledger entry")
	evolveCmd.Flags().BoolVar(&auto, "auto", false, "let the configured policy decide the verdict (the default)")
	evolveCmd.Flags().BoolVar(&decide, "decide", false, "prompt for the accept/reject decision after evaluation")
	evolveCmd.Flags().BoolVar(&asJSON, "json", false, "emit the cycle result as JSON")
	_ = evolveCmd.MarkFlagRequired("path")
	_ = evolveCmd.MarkFlagRequired("candidate")
	evolveCmd.MarkFlagsMutuallyExclusive("auto", "decide")

	return evolveCmd
}

// runEvolve wires the component graph, runs a single cycle, and renders the
// outcome. The result is printed even when the cycle did not commit so the
// operator always sees the terminal state and the ledger note.
func runEvolve(ctx context.Context, cfg config.Interface, logger *zap.Logger, factory service.ComponentFactory, proposal schemas.Proposal, decide evolution.DecideFunc, asJSON bool, out io.Writer) error {
	components, err := factory.Create(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize components: %w", err)
	}
	defer components.Shutdown()

	result, err := components.Engine.Evolve(ctx, proposal, decide)
	if err != nil {
		return err
	}

	if err := printCycleResult(out, result, asJSON); err != nil {
		return err
	}
	if !result.Committed() {
		return fmt.Errorf("cycle ended in %s: %s", result.State, result.Entry.Note)
	}
	return nil
}

// promptDecision builds a DecideFunc that shows the fitness verdict and reads
// a y/N answer from the command's input stream. Anything other than an
// explicit yes is a veto.
func promptDecision(cmd *cobra.Command) evolution.DecideFunc {
	reader := bufio.NewReader(cmd.InOrStdin())
	return func(report schemas.FitnessReport) evolution.Decision {
		desc := fitness.Describe(report)
		fmt.Fprintf(cmd.OutOrStdout(), "%s\nApply this mutation? [y/N]: ", desc)
		answer, _ := reader.ReadString('\n')
		switch strings.ToLower(strings.TrimSpace(answer)) {
		case "y", "yes":
			return evolution.Decision{Accept: true, Reason: desc + "; approved by operator"}
		}
		return evolution.Decision{Accept: false, Reason: "manual veto"}
	}
}

func printCycleResult(w io.Writer, result *evolution.CycleResult, asJSON bool) error {
	if asJSON {
		return writeJSON(w, result)
	}
	ts := time.UnixMilli(int64(result.Entry.TimestampMS)).UTC().Format(time.RFC3339)
	fmt.Fprintf(w, "state:     %s\n", result.State)
	fmt.Fprintf(w, "entry:     %s  %s  %s\n", ts, result.Entry.Status, result.Entry.Path)
	fmt.Fprintf(w, "note:      %s\n", result.Entry.Note)
	if result.Fitness != nil {
		fmt.Fprintf(w, "fitness:   %s\n", fitness.Describe(*result.Fitness))
	}
	if result.EscalationURL != "" {
		fmt.Fprintf(w, "escalated: %s\n", result.EscalationURL)
	}
	return nil
}
