// File: cmd/simulate.go
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/graft-cli/api/schemas"
	"github.com/xkilldash9x/graft-cli/internal/config"
	"github.com/xkilldash9x/graft-cli/internal/observability"
	"github.com/xkilldash9x/graft-cli/internal/service"
)

func newSimulateCmd(factory service.ComponentFactory) *cobra.Command {
	var (
		paths      []string
		candidates []string
		parallel   int
		record     bool
		asJSON     bool
	)

	simulateCmd := &cobra.Command{
		Use:   "simulate",
		Short: "Build candidates in cloned sandboxes without touching the live tree.",
		Long: `Simulate answers "would this build?" for one or more candidates. Each
candidate is applied inside its own temporary clone of the workspace and
built (and tested, when a test command is configured) there. The live tree,
the snapshot history, and the session are never touched; pass --record to
append a Pending ledger entry per executed simulation.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := getConfigFromContext(cmd.Context())
			if err != nil {
				return err
			}
			logger := observability.GetLogger()

			if len(paths) != len(candidates) {
				return fmt.Errorf("--path and --candidate must be given the same number of times (%d vs %d)", len(paths), len(candidates))
			}
			proposals := make([]schemas.Proposal, 0, len(paths))
			for i, p := range paths {
				content, err := os.ReadFile(candidates[i])
				if err != nil {
					return fmt.Errorf("failed to read candidate file %q: %w", candidates[i], err)
				}
				proposals = append(proposals, schemas.Proposal{Path: p, Content: string(content)})
			}
			return runSimulate(cmd.Context(), cfg, logger, factory, proposals, parallel, record, asJSON, cmd.OutOrStdout())
		},
	}

	simulateCmd.Flags().StringSliceVarP(&paths, "path", "p", nil, "workspace-relative target path (repeatable, zipped with --candidate)")
	simulateCmd.Flags().StringSliceVarP(&candidates, "candidate", "f", nil, "file holding the replacement content (repeatable)")
	simulateCmd.Flags().IntVar(&parallel, "parallel", 0, "max concurrent clones (0 means one per CPU)")
	simulateCmd.Flags().BoolVar(&record, "record", false, "append a Pending ledger entry per executed simulation")
	simulateCmd.Flags().BoolVar(&asJSON, "json", false, "emit outcomes as JSON")
	_ = simulateCmd.MarkFlagRequired("path")
	_ = simulateCmd.MarkFlagRequired("candidate")

	return simulateCmd
}

// runSimulate builds every candidate in parallel clones and renders one line
// per outcome. A failed simulation is a finding, not a command failure, so
// the exit status stays zero as long as the simulations themselves ran.
func runSimulate(ctx context.Context, cfg config.Interface, logger *zap.Logger, factory service.ComponentFactory, proposals []schemas.Proposal, parallel int, record, asJSON bool, out io.Writer) error {
	components, err := factory.Create(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize components: %w", err)
	}
	defer components.Shutdown()

	outcomes, err := components.Engine.Simulate(ctx, proposals, parallel, record)
	if err != nil {
		return err
	}

	if asJSON {
		return writeJSON(out, outcomes)
	}
	for _, o := range outcomes {
		marker := "skip"
		switch {
		case o.Ran && o.OK:
			marker = "ok  "
		case o.Ran:
			marker = "FAIL"
		}
		fmt.Fprintf(out, "%s  %-40s  %s\n", marker, o.Proposal.Path, o.Note)
	}
	return nil
}
