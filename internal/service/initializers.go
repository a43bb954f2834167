// File: internal/service/initializers.go
package service

import (
	"context"
	"fmt"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/xkilldash9x/graft-cli/api/schemas"
	"github.com/xkilldash9x/graft-cli/internal/config"
	"github.com/xkilldash9x/graft-cli/internal/evolution"
	"github.com/xkilldash9x/graft-cli/internal/ledger"
	"github.com/xkilldash9x/graft-cli/internal/llmclient"
	"github.com/xkilldash9x/graft-cli/internal/publish"
)

// resolveWithin anchors a configured path at the workspace root unless it is
// already absolute. The default config uses workspace-relative paths so the
// manifest and session state travel with the tree they describe.
func resolveWithin(root, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(root, path)
}

// InitializeLLMClient creates a new LLM client based on the configuration.
// This helper centralizes LLM initialization for the repair loop and the
// 'evolve' command family.
func InitializeLLMClient(ctx context.Context, cfg config.LLMConfig, logger *zap.Logger) (schemas.LLMClient, error) {
	llmClient, err := llmclient.NewClient(ctx, logger, cfg)
	if err != nil {
		logger.Error("Failed to initialize LLM client. Corrective repair will be unavailable.", zap.Error(err))
		return nil, fmt.Errorf("failed to initialize LLM client: %w", err)
	}
	return llmClient, nil
}

// InitializeMirror connects the advisory PostgreSQL history mirror. Returns
// a nil mirror without error when the mirror is not enabled.
func InitializeMirror(ctx context.Context, cfg config.PostgresConfig, logger *zap.Logger) (schemas.HistoryMirror, error) {
	if !cfg.Enabled {
		logger.Debug("History mirror not configured; manifest file remains the only history store.")
		return nil, nil
	}

	mirror, err := ledger.NewPostgresMirror(ctx, logger, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize postgres history mirror: %w", err)
	}
	return mirror, nil
}

// InitializeLedger opens the manifest ledger with its paths anchored at the
// workspace root. mirror may be nil; read-only callers pass nil.
func InitializeLedger(cfg config.LedgerConfig, root string, mirror schemas.HistoryMirror, logger *zap.Logger) (*ledger.Ledger, error) {
	cfg.Path = resolveWithin(root, cfg.Path)
	cfg.JournalPath = resolveWithin(root, cfg.JournalPath)

	led, err := ledger.NewLedger(logger, cfg, mirror)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize ledger: %w", err)
	}
	return led, nil
}

// InitializeSessionStore opens the per-workspace session state with its path
// anchored at the workspace root.
func InitializeSessionStore(cfg config.SessionConfig, repair config.RepairConfig, root string, logger *zap.Logger) *evolution.SessionStore {
	cfg.StatePath = resolveWithin(root, cfg.StatePath)
	return evolution.NewSessionStore(logger, cfg, repair)
}

// InitializePublisher wires the GitHub escalation publisher. Returns a nil
// publisher without error when escalation publishing is not enabled; the
// engine records escalations locally in that case.
func InitializePublisher(cfg config.GitHubConfig, logger *zap.Logger) (schemas.EscalationPublisher, error) {
	if !cfg.Enabled {
		logger.Debug("Escalation publishing not configured; escalations stay in the session state.")
		return nil, nil
	}

	publisher, err := publish.NewGitHubPublisher(logger, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize escalation publisher: %w", err)
	}
	return publisher, nil
}
