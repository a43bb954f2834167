// File: internal/evolution/engine.go

// Package evolution runs benchmark-gated mutation cycles against a living
// source tree: validate the target zone, stage the candidate, build and test
// it in a sandbox with a bounded repair loop, benchmark baseline and
// mutation, and commit or roll back based on the fitness verdict. Every
// outcome lands in the append-only manifest ledger.
package evolution

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/graft-cli/api/schemas"
	"github.com/xkilldash9x/graft-cli/internal/config"
	"github.com/xkilldash9x/graft-cli/internal/fitness"
	"github.com/xkilldash9x/graft-cli/internal/ledger"
	"github.com/xkilldash9x/graft-cli/internal/sandbox"
	"github.com/xkilldash9x/graft-cli/internal/syntax"
	"github.com/xkilldash9x/graft-cli/internal/zone"
)

// Dependencies are the engine's collaborators. Validator, Runner, Toolchain,
// Stage, Snapshots, Ledger, Sessions, and Gate are required; Prober is
// needed only when a benchmark command is configured, Generator only when
// repair is enabled, and Publisher is always optional.
type Dependencies struct {
	Validator *zone.Validator
	Runner    schemas.CommandRunner
	Toolchain *sandbox.Toolchain
	Stage     *sandbox.Stage
	Snapshots schemas.Snapshotter
	Prober    schemas.BenchProber
	Generator schemas.CandidateGenerator
	Ledger    *ledger.Ledger
	Sessions  *SessionStore
	Gate      *syntax.Gate
	Publisher schemas.EscalationPublisher
}

// Engine is the serialized repair-loop state machine. One evolution cycle
// owns the workspace at a time; concurrent requests are rejected with
// ErrEngineBusy.
type Engine struct {
	logger *zap.Logger
	cfg    config.Interface
	deps   Dependencies
	policy *Policy
	busy   atomic.Bool
}

// NewEngine validates the wiring and builds an engine.
func NewEngine(logger *zap.Logger, cfg config.Interface, deps Dependencies) (*Engine, error) {
	missing := func(name string) error {
		return fmt.Errorf("engine dependency %s is required", name)
	}
	switch {
	case deps.Validator == nil:
		return nil, missing("Validator")
	case deps.Runner == nil:
		return nil, missing("Runner")
	case deps.Toolchain == nil:
		return nil, missing("Toolchain")
	case deps.Stage == nil:
		return nil, missing("Stage")
	case deps.Snapshots == nil:
		return nil, missing("Snapshots")
	case deps.Ledger == nil:
		return nil, missing("Ledger")
	case deps.Sessions == nil:
		return nil, missing("Sessions")
	case deps.Gate == nil:
		return nil, missing("Gate")
	}
	if len(cfg.Bench().Command) > 0 && deps.Prober == nil {
		return nil, missing("Prober (bench.command is configured)")
	}
	if cfg.Repair().Enabled && deps.Generator == nil {
		return nil, missing("Generator (repair is enabled)")
	}

	return &Engine{
		logger: logger.Named("engine"),
		cfg:    cfg,
		deps:   deps,
		policy: NewPolicy(cfg.Engine().Policy),
	}, nil
}

// Status reports the persisted session and whether a cycle is in flight.
func (e *Engine) Status() (schemas.EvolutionSession, bool, error) {
	sess, err := e.deps.Sessions.Load()
	return sess, e.busy.Load(), err
}

func (e *Engine) root() string { return e.deps.Validator.Root() }

// Evolve runs one full mutation cycle for the proposal. decide may be nil,
// in which case the configured policy produces the accept/reject verdict.
// The returned CycleResult is the structured outcome; the error return is
// reserved for infrastructure failures (broken wiring, unusable ledger),
// never for domain outcomes like failed builds or fitness regressions.
func (e *Engine) Evolve(ctx context.Context, proposal schemas.Proposal, decide DecideFunc) (*CycleResult, error) {
	if !e.busy.CompareAndSwap(false, true) {
		return nil, ErrEngineBusy
	}
	defer e.busy.Store(false)

	if proposal.Path == "" {
		return nil, errors.New("proposal path is required")
	}
	if strings.TrimSpace(proposal.Content) == "" {
		return nil, errors.New("proposal content is empty")
	}
	if proposal.ID == "" {
		proposal.ID = uuid.NewString()
	}

	session, err := e.deps.Sessions.Load()
	if err != nil {
		return nil, err
	}
	if session.ManualInterventionRequired {
		return nil, ErrInterventionPending
	}
	session.RepairAttempt = 0
	session.RepairMaxAttempts = e.cfg.Repair().MaxAttempts

	c := &cycle{
		e:        e,
		proposal: proposal,
		decide:   decide,
		session:  session,
		trace:    []State{StateIdle},
	}
	return c.run(ctx)
}

// cycle carries the state of one in-flight evolution attempt.
type cycle struct {
	e        *Engine
	proposal schemas.Proposal
	decide   DecideFunc
	session  schemas.EvolutionSession
	trace    []State

	canonical string // canonical absolute target path
	rel       string // target relative to the workspace root
	diff      string // "+N/-M lines" churn summary
	commit    string // snapshot commit id
	staged    *sandbox.Staged

	lastRun       schemas.CommandResult
	haveRun       bool
	escalationURL string
}

func (c *cycle) to(s State) { c.trace = append(c.trace, s) }

// target is the path recorded in ledger entries: the workspace-relative
// form once validation produced one, the raw proposal path before that.
func (c *cycle) target() string {
	if c.rel != "" {
		return c.rel
	}
	return c.proposal.Path
}

func (c *cycle) run(ctx context.Context) (*CycleResult, error) {
	e := c.e
	log := e.logger.With(
		zap.String("proposal_id", c.proposal.ID),
		zap.String("path", c.proposal.Path),
	)
	log.Info("Evolution cycle started.")

	c.to(StateValidating)
	decision := e.deps.Validator.Validate(c.proposal.Path)
	if !decision.Allowed() {
		log.Warn("Zone validator refused the target.",
			zap.String("verdict", string(decision.Verdict)),
			zap.String("reason", decision.Reason))
		c.session.ManualInterventionRequired = true
		note := fmt.Sprintf("zone violation: %s", decision.Reason)
		c.escalate(ctx, note)
		entry := schemas.EvolutionEntry{Path: c.target(), Status: schemas.StatusFailed, Note: note}
		return c.finish(ctx, StateManualIntervention, entry, nil)
	}
	c.canonical = decision.CanonicalPath
	c.rel = decision.Rel

	// Session change cap is a human gate, recorded as Pending.
	if limit := e.cfg.Session().MaxChangesPerSession; limit > 0 && c.session.ChangesApplied >= limit {
		note := fmt.Sprintf("session change cap reached (%d/%d); reset the session to continue", c.session.ChangesApplied, limit)
		entry := schemas.EvolutionEntry{Path: c.rel, Status: schemas.StatusPending, Note: note}
		return c.finish(ctx, StateAwaitingApproval, entry, nil)
	}

	// Candidate guards: size, then a parse of the content itself. A
	// candidate that does not parse is malformed input, not a build failure,
	// so the generator is never consulted for it.
	if limit := e.cfg.Engine().MaxFileSizeBytes; limit > 0 && int64(len(c.proposal.Content)) > limit {
		note := fmt.Sprintf("candidate rejected: %d bytes exceeds the %d byte limit", len(c.proposal.Content), limit)
		entry := schemas.EvolutionEntry{Path: c.rel, Status: schemas.StatusFailed, Note: note}
		return c.finish(ctx, StateRejected, entry, nil)
	}
	if err := e.deps.Gate.Check(ctx, c.canonical, []byte(c.proposal.Content)); err != nil {
		var perr *syntax.ParseError
		if !errors.As(err, &perr) {
			return nil, fmt.Errorf("syntax gate failed: %w", err)
		}
		note := fmt.Sprintf("candidate rejected: %v", perr)
		entry := schemas.EvolutionEntry{Path: c.rel, Status: schemas.StatusFailed, Note: note}
		return c.finish(ctx, StateRejected, entry, nil)
	}

	original, _ := os.ReadFile(c.canonical)
	c.diff = diffSummary(string(original), c.proposal.Content)

	commit, err := e.deps.Snapshots.Snapshot(ctx, c.canonical)
	if err != nil {
		return nil, fmt.Errorf("snapshot failed: %w", err)
	}
	c.commit = commit
	c.session.CanRollback = true
	log.Info("Snapshot recorded.", zap.String("commit", shortCommit(commit)))

	// The baseline workspace is cloned before the mutation lands so the
	// baseline benchmark later measures the pre-mutation tree.
	benchEnabled := len(e.cfg.Bench().Command) > 0 && e.deps.Prober != nil
	var baselineDir string
	if benchEnabled {
		dir, cleanup, err := sandbox.CloneWorkspace(ctx, e.logger, e.root())
		if err != nil {
			return nil, fmt.Errorf("failed to clone baseline workspace: %w", err)
		}
		defer cleanup()
		baselineDir = dir
	}

	staged, err := e.deps.Stage.Apply(c.canonical, []byte(c.proposal.Content))
	if err != nil {
		return nil, fmt.Errorf("failed to stage candidate: %w", err)
	}
	c.staged = staged

	if res, err := c.buildAndRepair(ctx, log); res != nil || err != nil {
		return res, err
	}

	// Approval gate: matched paths stop before benchmarking. The mutation
	// stays applied; the Pending entry's snapshot lets an operator reject it
	// with a restore.
	if pattern, held := e.approvalMatch(c.rel); held {
		_ = c.staged.Commit()
		note := joinNotes(
			fmt.Sprintf("applied, awaiting manual approval (pattern %q); restore this entry to reject", pattern),
			c.diff, c.proposal.Note)
		entry := c.entryWithDiagnostics(schemas.StatusPending, note)
		return c.finish(ctx, StateAwaitingApproval, entry, nil)
	}

	if !benchEnabled {
		note := joinNotes("applied without benchmark (bench.command not configured)", c.diff, c.proposal.Note)
		return c.commitMutation(ctx, nil, note)
	}

	fit, res, err := c.benchmark(ctx, baselineDir)
	if res != nil || err != nil {
		return res, err
	}

	c.to(StateEvaluated)
	decide := c.decide
	if decide == nil {
		decide = e.policy.Decide
	}
	verdict := decide(*fit)
	log.Info("Fitness evaluated.",
		zap.Float64("delta_pct", fit.DeltaPct),
		zap.Bool("low_confidence", fit.LowConfidence),
		zap.Bool("accepted", verdict.Accept))

	if verdict.Accept {
		return c.commitMutation(ctx, fit, joinNotes(verdict.Reason, c.diff, c.proposal.Note))
	}
	return c.rollbackMutation(ctx, fit, verdict.Reason)
}

// buildAndRepair drives Building → (Failed ⇄ Repairing) until the candidate
// builds and tests clean, the attempt budget runs out, or repair is
// disabled. A nil, nil return means success; a non-nil result is terminal.
func (c *cycle) buildAndRepair(ctx context.Context, log *zap.Logger) (*CycleResult, error) {
	e := c.e
	current := c.proposal.Content
	repairEnabled := e.cfg.Repair().Enabled

	for {
		c.to(StateBuilding)
		phase, res, err := c.buildAndTest(ctx)
		if err != nil {
			return nil, err
		}
		if res.OK {
			log.Info("Candidate passed build and tests.", zap.Uint64("build_ms", c.lastRun.DurationMS))
			return nil, nil
		}

		c.to(StateFailed)
		log.Warn("Candidate failed.",
			zap.String("phase", phase),
			zap.Int("status", res.Status),
			zap.Bool("timed_out", res.TimedOut),
			zap.Int("attempt", c.session.RepairAttempt),
		)

		if !repairEnabled || c.session.RepairAttempt >= c.session.RepairMaxAttempts {
			return c.exhausted(ctx, phase, res)
		}

		c.to(StateRepairing)
		c.session.RepairAttempt++
		repaired, gerr := e.deps.Generator.Repair(ctx, schemas.RepairRequest{
			Path:        c.rel,
			Content:     current,
			Stderr:      res.StderrExcerpt(),
			Attempt:     c.session.RepairAttempt,
			MaxAttempts: c.session.RepairMaxAttempts,
		})
		if gerr != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			// A generator failure counts exactly like a failing candidate.
			log.Warn("Corrective generation failed; attempt consumed.", zap.Error(gerr))
			continue
		}
		if err := e.deps.Gate.Check(ctx, c.canonical, []byte(repaired)); err != nil {
			log.Warn("Repaired candidate does not parse; attempt consumed.", zap.Error(err))
			continue
		}
		if err := c.staged.Rewrite([]byte(repaired)); err != nil {
			return nil, fmt.Errorf("failed to apply repaired candidate: %w", err)
		}
		current = repaired
	}
}

// buildAndTest runs the toolchain build and, when one is configured, the
// test command. phase names whichever invocation produced the result.
func (c *cycle) buildAndTest(ctx context.Context) (phase string, res schemas.CommandResult, err error) {
	e := c.e
	buildSpec, err := e.deps.Toolchain.BuildSpec(c.canonical, e.root())
	if err != nil {
		return "", schemas.CommandResult{}, err
	}

	buildRes := c.runPhase(ctx, buildSpec)
	c.record(buildRes)
	if !buildRes.OK {
		return "build", buildRes, nil
	}

	if testSpec, ok := e.deps.Toolchain.TestSpec(c.canonical, e.root()); ok {
		testRes := c.runPhase(ctx, testSpec)
		if !testRes.OK {
			c.record(testRes)
			return "tests", testRes, nil
		}
	}
	return "build", buildRes, nil
}

func (c *cycle) runPhase(ctx context.Context, spec schemas.CommandSpec) schemas.CommandResult {
	res, err := c.e.deps.Runner.Run(ctx, spec)
	if err != nil {
		// Could not start at all; fold into a failing result so the repair
		// accounting stays uniform.
		return schemas.CommandResult{Status: -1, Stderr: err.Error()}
	}
	return res
}

func (c *cycle) record(res schemas.CommandResult) {
	c.lastRun = res
	c.haveRun = true
}

// exhausted ends the repair loop: revert the mutation and escalate.
func (c *cycle) exhausted(ctx context.Context, phase string, res schemas.CommandResult) (*CycleResult, error) {
	e := c.e
	restore := e.deps.Snapshots.Restore(ctx, c.canonical, c.commit)
	_ = c.staged.Commit()
	c.session.ManualInterventionRequired = true

	if !restore.OK {
		rerr := &RollbackError{Path: c.rel, Commit: c.commit, Result: restore}
		note := joinNotes(fmt.Sprintf("%s failed (%s)", phase, res.Summary()), rerr.Error(), "manual intervention required")
		c.escalate(ctx, note)
		entry := c.entryWithDiagnostics(schemas.StatusFailed, note)
		return c.finish(ctx, StateManualIntervention, entry, nil)
	}

	var exhaustion string
	if !e.cfg.Repair().Enabled {
		exhaustion = "repair disabled; reverted"
	} else {
		exhaustion = fmt.Sprintf("repair attempt %d/%d exhausted; reverted", c.session.RepairAttempt, c.session.RepairMaxAttempts)
	}
	note := joinNotes(fmt.Sprintf("%s failed (%s)", phase, res.Summary()), c.diff, exhaustion)
	c.escalate(ctx, note)
	entry := c.entryWithDiagnostics(schemas.StatusReverted, note)
	return c.finish(ctx, StateManualIntervention, entry, nil)
}

// benchmark measures baseline then mutation, in that order, and evaluates
// fitness. A harness error consumes no repair attempt: the mutation stays
// applied but unevaluated and is flagged for manual fitness review.
func (c *cycle) benchmark(ctx context.Context, baselineDir string) (*schemas.FitnessReport, *CycleResult, error) {
	e := c.e

	c.to(StateBenchmarkingBaseline)
	baseReport, baseRun, err := e.deps.Prober.Measure(ctx, baselineDir)
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil, ctx.Err()
		}
		res, ferr := c.unevaluated(ctx, &BenchmarkError{Stage: "baseline", Err: err})
		return nil, res, ferr
	}

	c.to(StateBenchmarkingMutation)
	mutReport, mutRun, err := e.deps.Prober.Measure(ctx, e.root())
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil, ctx.Err()
		}
		res, ferr := c.unevaluated(ctx, &BenchmarkError{Stage: "mutation", Err: err})
		return nil, res, ferr
	}

	fit, err := fitness.Evaluate(baseReport, mutReport)
	if err != nil {
		var und *fitness.UndefinedDeltaError
		if !errors.As(err, &und) {
			return nil, nil, err
		}
		res, ferr := c.unevaluated(ctx, fmt.Errorf("fitness undefined: %w", und))
		return nil, res, ferr
	}
	fit.BaselineRun = &baseRun
	fit.MutationRun = &mutRun
	return &fit, nil, nil
}

// unevaluated is the benchmark-error terminal: applied but unmeasured.
func (c *cycle) unevaluated(ctx context.Context, cause error) (*CycleResult, error) {
	_ = c.staged.Commit()
	c.session.ManualInterventionRequired = true
	c.session.ChangesApplied++

	note := joinNotes(cause.Error(), "mutation applied but unevaluated; manual fitness review required")
	c.escalate(ctx, note)
	entry := c.entryWithDiagnostics(schemas.StatusApplied, note)
	return c.finish(ctx, StateManualIntervention, entry, nil)
}

// commitMutation keeps the applied candidate and appends StatusApplied. A
// non-durable ledger append is the one condition that aborts the cycle with
// an error; the mutation is reverted first so the tree never disagrees with
// the ledger.
func (c *cycle) commitMutation(ctx context.Context, fit *schemas.FitnessReport, note string) (*CycleResult, error) {
	e := c.e
	entry := c.entryWithDiagnostics(schemas.StatusApplied, note)
	appended, err := e.appendEntry(ctx, entry)
	if err != nil {
		restore := e.deps.Snapshots.Restore(ctx, c.canonical, c.commit)
		if !restore.OK {
			e.logger.Error("Revert after failed ledger append also failed.",
				zap.String("path", c.rel),
				zap.String("restore", restore.Summary()))
		}
		_ = c.staged.Commit()
		return nil, fmt.Errorf("ledger append failed; mutation reverted: %w", err)
	}

	if err := c.staged.Commit(); err != nil {
		e.logger.Warn("Stage handle already finalized.", zap.Error(err))
	}
	c.session.ChangesApplied++
	return c.conclude(ctx, StateCommitted, appended, fit)
}

// rollbackMutation restores the snapshot after a rejected fitness verdict.
func (c *cycle) rollbackMutation(ctx context.Context, fit *schemas.FitnessReport, reason string) (*CycleResult, error) {
	e := c.e
	restore := e.deps.Snapshots.Restore(ctx, c.canonical, c.commit)
	_ = c.staged.Commit()

	if !restore.OK {
		rerr := &RollbackError{Path: c.rel, Commit: c.commit, Result: restore}
		c.session.ManualInterventionRequired = true
		note := joinNotes("rejected: "+reason, rerr.Error(), "manual intervention required")
		c.escalate(ctx, note)
		entry := c.entryWithDiagnostics(schemas.StatusFailed, note)
		return c.finish(ctx, StateManualIntervention, entry, fit)
	}

	entry := c.entryWithDiagnostics(schemas.StatusReverted, "rejected: "+reason)
	return c.finish(ctx, StateRolledBack, entry, fit)
}

// entryWithDiagnostics builds a ledger entry for the cycle's target,
// carrying the snapshot and the last toolchain invocation's numbers.
func (c *cycle) entryWithDiagnostics(status schemas.EvolutionStatus, note string) schemas.EvolutionEntry {
	entry := schemas.EvolutionEntry{
		Path:           c.target(),
		Status:         status,
		SnapshotCommit: c.commit,
		Note:           note,
	}
	if c.haveRun {
		st := c.lastRun.Status
		entry.BuildStatus = &st
		entry.BuildDurationMS = c.lastRun.DurationMS
		if !c.lastRun.OK {
			entry.BuildStderrExcerpt = c.lastRun.StderrExcerpt()
		}
	}
	return entry
}

// finish appends the terminal entry and concludes the cycle.
func (c *cycle) finish(ctx context.Context, state State, entry schemas.EvolutionEntry, fit *schemas.FitnessReport) (*CycleResult, error) {
	appended, err := c.e.appendEntry(ctx, entry)
	if err != nil {
		return nil, err
	}
	return c.conclude(ctx, state, appended, fit)
}

// conclude persists the session and assembles the cycle result.
func (c *cycle) conclude(_ context.Context, state State, entry schemas.EvolutionEntry, fit *schemas.FitnessReport) (*CycleResult, error) {
	c.to(state)
	c.session.LastNote = entry.Note
	if err := c.e.deps.Sessions.Save(c.session); err != nil {
		c.e.logger.Error("Failed to persist session state.", zap.Error(err))
	}
	c.e.logger.Info("Evolution cycle finished.",
		zap.String("state", string(state)),
		zap.String("note", entry.Note))

	return &CycleResult{
		State:         state,
		Entry:         entry,
		Fitness:       fit,
		Session:       c.session,
		Trace:         c.trace,
		EscalationURL: c.escalationURL,
	}, nil
}

func (c *cycle) escalate(ctx context.Context, note string) {
	pub := c.e.deps.Publisher
	if pub == nil {
		return
	}
	url, err := pub.PublishEscalation(ctx, schemas.Escalation{
		SessionID: c.session.ID,
		Path:      c.target(),
		Note:      note,
	})
	if err != nil {
		c.e.logger.Warn("Failed to publish escalation.", zap.Error(err))
		return
	}
	c.escalationURL = url
	c.e.logger.Info("Escalation published.", zap.String("url", url))
}

// appendEntry wraps ledger appends with the incomplete-vs-failed contract:
// an incomplete append (side channel missed) is logged and tolerated, a
// failed append propagates so the caller can revert.
func (e *Engine) appendEntry(ctx context.Context, entry schemas.EvolutionEntry) (schemas.EvolutionEntry, error) {
	appended, err := e.deps.Ledger.Append(ctx, entry)
	if err != nil {
		if errors.Is(err, ledger.ErrAppendIncomplete) {
			e.logger.Warn("Ledger entry persisted; side channel missed it.", zap.Error(err))
			return appended, nil
		}
		return schemas.EvolutionEntry{}, err
	}
	return appended, nil
}

// approvalMatch reports the first configured approval pattern matching the
// workspace-relative path (or its base name).
func (e *Engine) approvalMatch(rel string) (string, bool) {
	base := path.Base(rel)
	for _, p := range e.cfg.Engine().ApprovalPatterns {
		if ok, err := path.Match(p, rel); err == nil && ok {
			return p, true
		}
		if ok, err := path.Match(p, base); err == nil && ok {
			return p, true
		}
	}
	return "", false
}

// -- Note helpers --

// diffSummary reports candidate line churn as "+N/-M lines", counting lines
// as multisets so moved lines cancel out.
func diffSummary(original, candidate string) string {
	counts := make(map[string]int)
	for _, ln := range splitLines(original) {
		counts[ln]++
	}
	added := 0
	for _, ln := range splitLines(candidate) {
		if counts[ln] > 0 {
			counts[ln]--
			continue
		}
		added++
	}
	removed := 0
	for _, n := range counts {
		removed += n
	}
	return fmt.Sprintf("+%d/-%d lines", added, removed)
}

func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(strings.TrimSuffix(s, "\n"), "\n")
}

func joinNotes(parts ...string) string {
	kept := parts[:0]
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, "; ")
}

func shortCommit(commit string) string {
	if len(commit) > 12 {
		return commit[:12]
	}
	return commit
}
