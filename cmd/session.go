// File: cmd/session.go
package cmd

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/graft-cli/api/schemas"
	"github.com/xkilldash9x/graft-cli/internal/config"
	"github.com/xkilldash9x/graft-cli/internal/observability"
	"github.com/xkilldash9x/graft-cli/internal/service"
)

func newSessionCmd() *cobra.Command {
	var (
		ack    bool
		reset  bool
		asJSON bool
	)

	sessionCmd := &cobra.Command{
		Use:   "session",
		Short: "Show or update the sticky per-workspace session state.",
		Long: `Session prints the persistent mutation-cycle state: changes applied,
repair attempts, and whether the workspace is locked behind the sticky
manual-intervention flag. --ack clears that flag after an operator has
inspected the workspace; --reset discards the session and starts fresh.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := getConfigFromContext(cmd.Context())
			if err != nil {
				return err
			}
			logger := observability.GetLogger()
			return runSession(cfg, logger, ack, reset, asJSON, cmd.OutOrStdout())
		},
	}

	sessionCmd.Flags().BoolVar(&ack, "ack", false, "acknowledge and clear the manual-intervention flag")
	sessionCmd.Flags().BoolVar(&reset, "reset", false, "discard the session and start a fresh one")
	sessionCmd.Flags().BoolVar(&asJSON, "json", false, "emit the session as JSON")
	sessionCmd.MarkFlagsMutuallyExclusive("ack", "reset")

	return sessionCmd
}

func runSession(cfg config.Interface, logger *zap.Logger, ack, reset, asJSON bool, out io.Writer) error {
	store := service.InitializeSessionStore(cfg.Session(), cfg.Repair(), cfg.WorkspaceRoot(), logger)

	var (
		sess schemas.EvolutionSession
		err  error
	)
	switch {
	case ack:
		sess, err = store.Acknowledge()
	case reset:
		sess, err = store.Reset()
	default:
		sess, err = store.Load()
	}
	if err != nil {
		return err
	}

	if asJSON {
		return writeJSON(out, sess)
	}

	started := time.UnixMilli(int64(sess.StartedAtMS)).UTC().Format(time.RFC3339)
	fmt.Fprintf(out, "session:      %s\n", sess.ID)
	fmt.Fprintf(out, "started:      %s\n", started)
	fmt.Fprintf(out, "changes:      %d (cap %d)\n", sess.ChangesApplied, cfg.Session().MaxChangesPerSession)
	fmt.Fprintf(out, "repair:       attempt %d of %d\n", sess.RepairAttempt, sess.RepairMaxAttempts)

	rollback := "nothing to roll back"
	if sess.CanRollback {
		rollback = "available"
	}
	fmt.Fprintf(out, "rollback:     %s\n", rollback)

	if sess.ManualInterventionRequired {
		fmt.Fprintln(out, "intervention: REQUIRED (clear with --ack)")
	} else {
		fmt.Fprintln(out, "intervention: none")
	}
	if sess.LastNote != "" {
		fmt.Fprintf(out, "last note:    %s\n", sess.LastNote)
	}
	return nil
}
