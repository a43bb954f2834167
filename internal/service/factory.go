// File: internal/service/factory.go
package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/graft-cli/internal/bench"
	"github.com/xkilldash9x/graft-cli/internal/config"
	"github.com/xkilldash9x/graft-cli/internal/evolution"
	"github.com/xkilldash9x/graft-cli/internal/sandbox"
	"github.com/xkilldash9x/graft-cli/internal/snapshot"
	"github.com/xkilldash9x/graft-cli/internal/syntax"
	"github.com/xkilldash9x/graft-cli/internal/zone"
)

// ComponentFactory defines the interface for creating the set of components
// needed to run evolution cycles. This abstraction is the key to making the
// command layer's logic testable.
type ComponentFactory interface {
	Create(ctx context.Context, cfg config.Interface, logger *zap.Logger) (*Components, error)
}

// concreteFactory is the production implementation of the ComponentFactory.
type concreteFactory struct{}

// NewComponentFactory creates a new production-ready component factory.
func NewComponentFactory() ComponentFactory {
	return &concreteFactory{}
}

// Create handles the full dependency injection and initialization of the
// evolution engine and its supporting services.
func (f *concreteFactory) Create(ctx context.Context, cfg config.Interface, logger *zap.Logger) (*Components, error) {
	components := &Components{}

	// Ensure cleanup happens if initialization fails midway.
	var initializationErr error
	defer func() {
		if initializationErr != nil {
			logger.Warn("Initialization failed, shutting down partially created components.", zap.Error(initializationErr))
			components.Shutdown()
		}
	}()

	// 1. Zone validator. Canonicalizes the workspace root; everything else
	// is anchored at the root it resolves.
	validator, err := zone.NewValidator(logger, cfg.WorkspaceRoot(), cfg.Zones())
	if err != nil {
		initializationErr = fmt.Errorf("failed to initialize zone validator: %w", err)
		return nil, initializationErr
	}
	components.Validator = validator
	root := validator.Root()
	logger.Debug("Zone validator initialized.", zap.String("workspace", root))

	// 2. Sandbox: subprocess runner, language toolchain table, and the
	// atomic staging layer.
	components.Runner = sandbox.NewRunner(logger, cfg.Sandbox())
	components.Toolchain = sandbox.NewToolchain(cfg.Sandbox())
	components.Stage = sandbox.NewStage(logger)
	logger.Debug("Sandbox runner, toolchain, and stage initialized.")

	// 3. Snapshotter over the workspace's git history.
	components.Snapshots = snapshot.NewGitSnapshotter(logger, root)
	logger.Debug("Git snapshotter initialized.")

	// 4. Benchmark prober, only when a bench command is configured. Without
	// one the engine commits on build and tests alone.
	if len(cfg.Bench().Command) > 0 {
		components.Prober = bench.NewSubprocessProber(logger, components.Runner, cfg.Bench())
		logger.Debug("Benchmark prober initialized.", zap.Strings("command", cfg.Bench().Command))
	} else {
		logger.Debug("No bench command configured; cycles will commit without fitness evaluation.")
	}

	// 5. LLM client and corrective generator, only when repair is enabled.
	if cfg.Repair().Enabled {
		llmClient, err := InitializeLLMClient(ctx, cfg.LLM(), logger)
		if err != nil {
			initializationErr = err
			return nil, initializationErr
		}
		components.LLM = llmClient
		components.Generator = evolution.NewLLMGenerator(logger, llmClient)
		logger.Debug("Corrective generator initialized.")
	} else {
		logger.Debug("Repair disabled; build failures will revert without corrective attempts.")
	}

	// 6. History mirror. Added to components immediately so the deferred
	// Shutdown can close the pool if later steps fail.
	mirror, err := InitializeMirror(ctx, cfg.Ledger().Postgres, logger)
	if err != nil {
		initializationErr = err
		return nil, initializationErr
	}
	if mirror != nil {
		components.Mirror = mirror
		logger.Debug("History mirror initialized.")
	}

	// 7. Manifest ledger, anchored at the workspace root.
	led, err := InitializeLedger(cfg.Ledger(), root, mirror, logger)
	if err != nil {
		initializationErr = err
		return nil, initializationErr
	}
	components.Ledger = led
	logger.Debug("Ledger initialized.", zap.String("manifest", led.Path()))

	// 8. Session store.
	components.Sessions = InitializeSessionStore(cfg.Session(), cfg.Repair(), root, logger)
	logger.Debug("Session store initialized.")

	// 9. Syntax gate.
	components.Gate = syntax.NewGate(logger)
	logger.Debug("Syntax gate initialized.")

	// 10. Escalation publisher, only when configured.
	publisher, err := InitializePublisher(cfg.Publish().GitHub, logger)
	if err != nil {
		initializationErr = err
		return nil, initializationErr
	}
	if publisher != nil {
		components.Publisher = publisher
		logger.Debug("Escalation publisher initialized.")
	}

	// 11. The engine itself.
	engine, err := evolution.NewEngine(logger, cfg, evolution.Dependencies{
		Validator: components.Validator,
		Runner:    components.Runner,
		Toolchain: components.Toolchain,
		Stage:     components.Stage,
		Snapshots: components.Snapshots,
		Prober:    components.Prober,
		Generator: components.Generator,
		Ledger:    components.Ledger,
		Sessions:  components.Sessions,
		Gate:      components.Gate,
		Publisher: components.Publisher,
	})
	if err != nil {
		initializationErr = fmt.Errorf("failed to initialize evolution engine: %w", err)
		return nil, initializationErr
	}
	components.Engine = engine

	logger.Info("All components initialized successfully.")

	// The deferred function will not trigger Shutdown as initializationErr
	// is nil.
	return components, nil
}
