// File: internal/evolution/simulate.go
package evolution

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/xkilldash9x/graft-cli/api/schemas"
	"github.com/xkilldash9x/graft-cli/internal/sandbox"
)

// SimulationOutcome is the result of building one candidate in a cloned
// workspace. The live tree is never touched.
type SimulationOutcome struct {
	Proposal schemas.Proposal       `json:"proposal"`
	Build    schemas.CommandResult  `json:"build"`
	Test     *schemas.CommandResult `json:"test,omitempty"`
	// Ran distinguishes candidates that reached the toolchain from ones
	// rejected by the pre-checks (zone, size, parse).
	Ran  bool   `json:"ran"`
	OK   bool   `json:"ok"`
	Note string `json:"note"`
}

// Simulate builds each candidate in its own temp clone of the workspace,
// bounded to maxParallel concurrent clones. Simulations never write the live
// tree or the snapshot history; when record is set, each executed simulation
// appends a Pending entry describing its outcome.
func (e *Engine) Simulate(ctx context.Context, proposals []schemas.Proposal, maxParallel int, record bool) ([]SimulationOutcome, error) {
	if len(proposals) == 0 {
		return nil, nil
	}
	if maxParallel <= 0 {
		maxParallel = runtime.NumCPU()
	}

	outcomes := make([]SimulationOutcome, len(proposals))
	sem := semaphore.NewWeighted(int64(maxParallel))
	group, gctx := errgroup.WithContext(ctx)

	for i, p := range proposals {
		if p.ID == "" {
			p.ID = uuid.NewString()
		}
		group.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				return err
			}
			defer sem.Release(1)

			outcomes[i] = e.simulateOne(gctx, p)
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	if record {
		for _, out := range outcomes {
			if !out.Ran {
				continue
			}
			if _, err := e.appendEntry(ctx, schemas.EvolutionEntry{
				Path:   out.Proposal.Path,
				Status: schemas.StatusPending,
				Note:   joinNotes("simulation: "+out.Note, out.Proposal.Note),
			}); err != nil {
				return outcomes, fmt.Errorf("failed to record simulation for %s: %w", out.Proposal.Path, err)
			}
		}
	}
	return outcomes, nil
}

func (e *Engine) simulateOne(ctx context.Context, p schemas.Proposal) SimulationOutcome {
	out := SimulationOutcome{Proposal: p}
	log := e.logger.With(zap.String("proposal_id", p.ID), zap.String("path", p.Path))

	decision := e.deps.Validator.Validate(p.Path)
	if !decision.Allowed() {
		out.Note = fmt.Sprintf("zone violation: %s", decision.Reason)
		return out
	}
	if limit := e.cfg.Engine().MaxFileSizeBytes; limit > 0 && int64(len(p.Content)) > limit {
		out.Note = fmt.Sprintf("candidate rejected: %d bytes exceeds the %d byte limit", len(p.Content), limit)
		return out
	}
	if err := e.deps.Gate.Check(ctx, decision.CanonicalPath, []byte(p.Content)); err != nil {
		out.Note = fmt.Sprintf("candidate rejected: %v", err)
		return out
	}

	cloneDir, cleanup, err := sandbox.CloneWorkspace(ctx, e.logger, e.root())
	if err != nil {
		out.Note = fmt.Sprintf("failed to clone workspace: %v", err)
		return out
	}
	defer cleanup()

	clonePath := filepath.Join(cloneDir, filepath.FromSlash(decision.Rel))
	if err := os.MkdirAll(filepath.Dir(clonePath), 0o755); err != nil {
		out.Note = fmt.Sprintf("failed to prepare clone: %v", err)
		return out
	}
	if err := os.WriteFile(clonePath, []byte(p.Content), 0o644); err != nil {
		out.Note = fmt.Sprintf("failed to write candidate into clone: %v", err)
		return out
	}

	buildSpec, err := e.deps.Toolchain.BuildSpec(clonePath, cloneDir)
	if err != nil {
		out.Note = err.Error()
		return out
	}

	out.Ran = true
	out.Build = e.runInClone(ctx, buildSpec)
	if !out.Build.OK {
		out.Note = fmt.Sprintf("build failed (%s)", out.Build.Summary())
		log.Info("Simulation build failed.", zap.Int("status", out.Build.Status))
		return out
	}

	if testSpec, ok := e.deps.Toolchain.TestSpec(clonePath, cloneDir); ok {
		res := e.runInClone(ctx, testSpec)
		out.Test = &res
		if !res.OK {
			out.Note = fmt.Sprintf("tests failed (%s)", res.Summary())
			log.Info("Simulation tests failed.", zap.Int("status", res.Status))
			return out
		}
	}

	out.OK = true
	out.Note = fmt.Sprintf("build ok in %dms", out.Build.DurationMS)
	log.Info("Simulation passed.", zap.Uint64("build_ms", out.Build.DurationMS))
	return out
}

func (e *Engine) runInClone(ctx context.Context, spec schemas.CommandSpec) schemas.CommandResult {
	res, err := e.deps.Runner.Run(ctx, spec)
	if err != nil {
		return schemas.CommandResult{Status: -1, Stderr: err.Error()}
	}
	return res
}
