// File: internal/service/components.go
package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/graft-cli/api/schemas"
	"github.com/xkilldash9x/graft-cli/internal/evolution"
	"github.com/xkilldash9x/graft-cli/internal/ledger"
	"github.com/xkilldash9x/graft-cli/internal/observability"
	"github.com/xkilldash9x/graft-cli/internal/sandbox"
	"github.com/xkilldash9x/graft-cli/internal/syntax"
	"github.com/xkilldash9x/graft-cli/internal/zone"
)

// Components holds all the initialized services required to run evolution
// cycles against a workspace. It centralizes lifecycle management of the
// engine's dependencies so commands only assemble it once and tear it down
// once.
type Components struct {
	Validator *zone.Validator
	Runner    schemas.CommandRunner
	Toolchain *sandbox.Toolchain
	Stage     *sandbox.Stage
	Snapshots schemas.Snapshotter
	Prober    schemas.BenchProber
	Generator schemas.CandidateGenerator
	Ledger    *ledger.Ledger
	Sessions  *evolution.SessionStore
	Gate      *syntax.Gate
	Publisher schemas.EscalationPublisher
	Engine    *evolution.Engine

	// LLM backs the corrective generator; held separately so Shutdown can
	// release it. Nil when repair is disabled.
	LLM schemas.LLMClient

	// Mirror is the advisory history mirror, nil unless configured. Held
	// separately from the ledger so Shutdown can close the pool.
	Mirror schemas.HistoryMirror
}

// Shutdown gracefully closes all components, ensuring resources are released
// in the correct order. Safe to call on a partially initialized struct.
func (c *Components) Shutdown() {
	logger := observability.GetLogger()
	logger.Debug("Beginning components shutdown sequence.")

	// 1. Release the LLM client first so no corrective generation is in
	// flight while the rest is torn down.
	if c.LLM != nil {
		if err := c.LLM.Close(); err != nil {
			logger.Warn("Error during LLM client shutdown.", zap.Error(err))
		} else {
			logger.Debug("LLM client closed.")
		}
	}

	// 2. Close the history mirror. Use a separate context with a timeout so
	// the pool drains even if the main application context was canceled.
	if c.Mirror != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := c.Mirror.Close(shutdownCtx); err != nil {
			logger.Warn("Error during history mirror shutdown.", zap.Error(err))
		} else {
			logger.Debug("History mirror closed.")
		}
	}

	// The manifest, journal, and session state are plain files written
	// atomically at append time; they hold no resources to release.
	logger.Info("All components shut down successfully.")
}
