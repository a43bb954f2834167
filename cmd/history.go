// File: cmd/history.go
package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/graft-cli/api/schemas"
	"github.com/xkilldash9x/graft-cli/internal/config"
	"github.com/xkilldash9x/graft-cli/internal/ledger"
	"github.com/xkilldash9x/graft-cli/internal/observability"
	"github.com/xkilldash9x/graft-cli/internal/reporting"
	"github.com/xkilldash9x/graft-cli/internal/service"
)

func newHistoryCmd() *cobra.Command {
	var (
		limit  int
		follow bool
		verify bool
		asJSON bool
		asCSV  bool
	)

	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "List the evolution ledger, newest first.",
		Long: `History reads the manifest ledger (live file plus archives) and lists
entries newest first. With --follow it tails the append journal and prints
entries as they land, replaying existing ones first. With --verify it
re-validates the HS256 receipt on every entry and fails on any mismatch.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := getConfigFromContext(cmd.Context())
			if err != nil {
				return err
			}
			logger := observability.GetLogger()
			return runHistory(cmd.Context(), cfg, logger, limit, follow, verify, asJSON, asCSV, cmd.OutOrStdout())
		},
	}

	historyCmd.Flags().IntVar(&limit, "limit", 0, "show at most N entries (0 means all)")
	historyCmd.Flags().BoolVar(&follow, "follow", false, "tail the append journal and print entries as they arrive")
	historyCmd.Flags().BoolVar(&verify, "verify", false, "re-validate the receipt on every entry")
	historyCmd.Flags().BoolVar(&asJSON, "json", false, "emit entries as JSON")
	historyCmd.Flags().BoolVar(&asCSV, "csv", false, "emit entries as CSV")
	historyCmd.MarkFlagsMutuallyExclusive("follow", "verify")
	historyCmd.MarkFlagsMutuallyExclusive("follow", "csv")
	historyCmd.MarkFlagsMutuallyExclusive("json", "csv")

	return historyCmd
}

// runHistory opens the ledger read-only (no mirror) and renders it. Follow
// blocks until the context is canceled.
func runHistory(ctx context.Context, cfg config.Interface, logger *zap.Logger, limit int, follow, verify, asJSON, asCSV bool, out io.Writer) error {
	led, err := service.InitializeLedger(cfg.Ledger(), cfg.WorkspaceRoot(), nil, logger)
	if err != nil {
		return err
	}

	if follow {
		return led.Follow(ctx, func(entry schemas.EvolutionEntry) {
			if asJSON {
				if err := writeJSON(out, entry); err != nil {
					logger.Warn("Failed to render journal entry.", zap.Error(err))
				}
				return
			}
			ts := time.UnixMilli(int64(entry.TimestampMS)).UTC().Format(time.RFC3339)
			fmt.Fprintf(out, "%s  %-8s  %-40s  %s\n", ts, entry.Status, entry.Path, entry.Note)
		})
	}

	entries, err := led.List(ctx)
	if err != nil {
		return err
	}

	// Newest first for the terminal; the manifest stores oldest first.
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}

	if verify {
		return verifyReceipts(out, led.Signer(), entries)
	}
	if asCSV {
		return reporting.WriteHistoryCSV(out, entries)
	}
	if asJSON {
		return writeJSON(out, entries)
	}
	return reporting.WriteHistoryText(out, entries)
}

func verifyReceipts(out io.Writer, signer *ledger.ReceiptSigner, entries []schemas.EvolutionEntry) error {
	if signer == nil {
		return fmt.Errorf("receipts are not enabled; set ledger.receipts.enabled and GRAFT_RECEIPTS_SECRET")
	}
	invalid := 0
	for _, e := range entries {
		if err := signer.Verify(e); err != nil {
			invalid++
			fmt.Fprintf(out, "INVALID  %d  %s: %v\n", e.TimestampMS, e.Path, err)
		}
	}
	if invalid > 0 {
		return fmt.Errorf("%d of %d receipts failed verification", invalid, len(entries))
	}
	fmt.Fprintf(out, "all %d receipts verified\n", len(entries))
	return nil
}
