// File: cmd/root.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/graft-cli/internal/config"
	"github.com/xkilldash9x/graft-cli/internal/observability"
	"github.com/xkilldash9x/graft-cli/internal/service"
)

// ctxKey is the private type for values this package stores on the command
// context.
type ctxKey int

// configKey locates the validated configuration on the command context.
const configKey ctxKey = iota

var (
	cfgFile   string
	workspace string
)

// NewRootCommand builds the root command with all subcommands attached. A
// fresh instance is created per invocation so no flag or command state leaks
// between executions.
func NewRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "graft",
		Short: "Graft evolves source files under a benchmark-gated rollback harness.",
		Long: `Graft applies candidate rewrites to a living source tree one file at a
time: it validates the target against the configured safe zones, snapshots
the workspace, stages the candidate, builds and tests it with a bounded
corrective-repair loop, benchmarks baseline against mutation, and commits
or rolls back on the fitness verdict. Every outcome is recorded in an
append-only manifest ledger.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			v := viper.New()
			config.SetDefaults(v)

			if err := initializeConfig(cmd, v); err != nil {
				observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "graft-cli"})
				return fmt.Errorf("failed to initialize configuration: %w", err)
			}

			cfg, err := config.NewConfigFromViper(v)
			if err != nil {
				observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "graft-cli"})
				return err
			}

			// The --workspace flag overrides the configured root.
			if workspace != "" {
				cfg.SetWorkspaceRoot(workspace)
			}

			observability.InitializeLogger(cfg.Logger())
			observability.GetLogger().Debug("Starting graft.", zap.String("version", Version))

			// Store the validated config in the command's context for
			// subcommands.
			ctx := context.WithValue(cmd.Context(), configKey, cfg)
			cmd.SetContext(ctx)
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", `config file (default "./graft.yaml", then "~/.graft/graft.yaml")`)
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", "", "workspace root mutations operate on (overrides engine.workspace_root)")
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	factory := service.NewComponentFactory()
	rootCmd.AddCommand(
		newEvolveCmd(factory),
		newSimulateCmd(factory),
		newBenchCmd(),
		newHistoryCmd(),
		newRestoreCmd(factory),
		newRollbackCmd(factory),
		newAuditCmd(),
		newSessionCmd(),
		newVersionCmd(),
	)
	return rootCmd
}

// Execute builds a fresh root command and runs it under the given
// signal-aware context.
func Execute(ctx context.Context) error {
	rootCmd := NewRootCommand()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		logger := observability.GetLogger()
		if errors.Is(err, context.Canceled) {
			logger.Warn("Command aborted.", zap.Error(err))
		} else {
			logger.Error("Command execution failed.", zap.Error(err))
		}
		return err
	}
	return nil
}

// initializeConfig points the viper instance at the config file and the
// GRAFT_ environment namespace.
func initializeConfig(cmd *cobra.Command, v *viper.Viper) error {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		if home, err := homedir.Dir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".graft"))
		}
		v.SetConfigName("graft")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("GRAFT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
		// No config file; defaults and environment variables apply.
	}
	return nil
}

// getConfigFromContext retrieves the configuration stored by the root
// command's PersistentPreRunE.
func getConfigFromContext(ctx context.Context) (*config.Config, error) {
	cfg, ok := ctx.Value(configKey).(*config.Config)
	if !ok || cfg == nil {
		return nil, errors.New("configuration missing from command context; root command did not run")
	}
	return cfg, nil
}
