// File: cmd/restore.go
package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/graft-cli/api/schemas"
	"github.com/xkilldash9x/graft-cli/internal/config"
	"github.com/xkilldash9x/graft-cli/internal/observability"
	"github.com/xkilldash9x/graft-cli/internal/service"
)

func newRestoreCmd(factory service.ComponentFactory) *cobra.Command {
	var (
		id    uint64
		index int
	)

	restoreCmd := &cobra.Command{
		Use:   "restore",
		Short: "Restore one ledger entry's path to its recorded snapshot.",
		Long: `Restore brings the file named by a single ledger entry back to the
snapshot that entry recorded and appends a Reverted entry. History is never
rewritten. Target the entry by its ledger timestamp (--id) or by its
newest-first position in "graft history" (--index, 0 is the most recent).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := getConfigFromContext(cmd.Context())
			if err != nil {
				return err
			}
			logger := observability.GetLogger()
			return runRestore(cmd.Context(), cfg, logger, factory, id, index, cmd.Flags().Changed("id"), cmd.OutOrStdout())
		},
	}

	restoreCmd.Flags().Uint64Var(&id, "id", 0, "ledger timestamp (timestamp_ms) of the entry to restore")
	restoreCmd.Flags().IntVar(&index, "index", -1, "newest-first history position of the entry to restore")
	restoreCmd.MarkFlagsOneRequired("id", "index")
	restoreCmd.MarkFlagsMutuallyExclusive("id", "index")

	return restoreCmd
}

func runRestore(ctx context.Context, cfg config.Interface, logger *zap.Logger, factory service.ComponentFactory, id uint64, index int, byID bool, out io.Writer) error {
	components, err := factory.Create(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize components: %w", err)
	}
	defer components.Shutdown()

	entries, err := components.Ledger.List(ctx)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return fmt.Errorf("the ledger is empty; nothing to restore")
	}
	// Newest first, matching the positions "graft history" prints.
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}

	var entry schemas.EvolutionEntry
	if byID {
		found := false
		for _, e := range entries {
			if e.TimestampMS == id {
				entry, found = e, true
				break
			}
		}
		if !found {
			return fmt.Errorf("no ledger entry with id %d", id)
		}
	} else {
		if index < 0 || index >= len(entries) {
			return fmt.Errorf("history index %d out of range (0..%d)", index, len(entries)-1)
		}
		entry = entries[index]
	}

	res, err := components.Engine.Restore(ctx, entry)
	if err != nil {
		return err
	}
	if !res.OK {
		return fmt.Errorf("restore failed: %s", res.Summary())
	}
	fmt.Fprintln(out, res.Stdout)
	return nil
}
