// File: cmd/audit.go
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/graft-cli/internal/config"
	"github.com/xkilldash9x/graft-cli/internal/observability"
	"github.com/xkilldash9x/graft-cli/internal/reporting"
	"github.com/xkilldash9x/graft-cli/internal/service"
)

func newAuditCmd() *cobra.Command {
	var (
		format  string
		outPath string
	)

	auditCmd := &cobra.Command{
		Use:   "audit",
		Short: "Summarize ledger trends: outcomes, build time, hotspots.",
		Long: `Audit computes a trend report over the full ledger: per-status counts,
success rate, total and average build duration, and per-path hotspots
sorted by failure count. The junit format renders one testcase per ledger
entry so CI dashboards can track evolution outcomes next to test results.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := getConfigFromContext(cmd.Context())
			if err != nil {
				return err
			}
			logger := observability.GetLogger()

			out := cmd.OutOrStdout()
			if outPath != "" {
				f, err := os.Create(outPath)
				if err != nil {
					return fmt.Errorf("failed to create output file: %w", err)
				}
				defer f.Close()
				out = f
			}
			return runAudit(cmd.Context(), cfg, logger, format, out)
		},
	}

	auditCmd.Flags().StringVar(&format, "format", "text", "report format: text, json, csv, or junit")
	auditCmd.Flags().StringVar(&outPath, "out", "", "write the report to a file instead of stdout")

	return auditCmd
}

func runAudit(ctx context.Context, cfg config.Interface, logger *zap.Logger, format string, out io.Writer) error {
	led, err := service.InitializeLedger(cfg.Ledger(), cfg.WorkspaceRoot(), nil, logger)
	if err != nil {
		return err
	}
	entries, err := led.List(ctx)
	if err != nil {
		return err
	}

	switch format {
	case "text":
		return reporting.WriteText(out, reporting.Analyze(entries))
	case "json":
		return reporting.WriteJSON(out, reporting.Analyze(entries))
	case "csv":
		return reporting.WriteCSV(out, reporting.Analyze(entries))
	case "junit":
		return reporting.WriteJUnit(out, entries)
	}
	return fmt.Errorf("unsupported audit format %q (want text, json, csv, or junit)", format)
}
