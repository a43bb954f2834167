// File: cmd/rollback.go
package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/graft-cli/internal/config"
	"github.com/xkilldash9x/graft-cli/internal/observability"
	"github.com/xkilldash9x/graft-cli/internal/service"
)

func newRollbackCmd(factory service.ComponentFactory) *cobra.Command {
	rollbackCmd := &cobra.Command{
		Use:   "rollback",
		Short: "Restore every path touched since the last committed mutation.",
		Long: `Rollback finds every path the ledger records after the most recent Applied
entry and restores each to its oldest snapshot inside that window, appending
one Reverted entry per path. With nothing after the last Applied entry it is
a no-op.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := getConfigFromContext(cmd.Context())
			if err != nil {
				return err
			}
			logger := observability.GetLogger()
			return runRollback(cmd.Context(), cfg, logger, factory, cmd.OutOrStdout())
		},
	}
	return rollbackCmd
}

func runRollback(ctx context.Context, cfg config.Interface, logger *zap.Logger, factory service.ComponentFactory, out io.Writer) error {
	components, err := factory.Create(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize components: %w", err)
	}
	defer components.Shutdown()

	res, err := components.Engine.FullRollback(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, res.Stdout)
	if !res.OK {
		return fmt.Errorf("rollback failed: %s", res.Summary())
	}
	return nil
}
