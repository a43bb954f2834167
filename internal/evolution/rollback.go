// File: internal/evolution/rollback.go
package evolution

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/graft-cli/api/schemas"
)

// Restore brings one entry's path back to its recorded snapshot and appends
// a Reverted entry. History is never rewritten; calling this twice appends
// two Reverted entries while the file lands in the same state both times. A
// failed restore is terminal: the sticky flag is set and the condition is
// escalated, never auto-retried.
func (e *Engine) Restore(ctx context.Context, entry schemas.EvolutionEntry) (schemas.CommandResult, error) {
	if entry.Path == "" || entry.SnapshotCommit == "" {
		return schemas.CommandResult{}, fmt.Errorf("entry for %q carries no snapshot to restore", entry.Path)
	}

	target := entry.Path
	if !filepath.IsAbs(target) {
		target = filepath.Join(e.root(), filepath.FromSlash(target))
	}

	e.logger.Info("Restoring path from snapshot.",
		zap.String("path", entry.Path),
		zap.String("commit", shortCommit(entry.SnapshotCommit)))

	res := e.deps.Snapshots.Restore(ctx, target, entry.SnapshotCommit)
	if !res.OK {
		rerr := &RollbackError{Path: entry.Path, Commit: entry.SnapshotCommit, Result: res}
		e.escalateRollbackFailure(ctx, entry.Path, rerr.Error())
		return res, nil
	}

	note := fmt.Sprintf("manual restore to snapshot %s", shortCommit(entry.SnapshotCommit))
	if _, err := e.appendEntry(ctx, schemas.EvolutionEntry{
		Path:           entry.Path,
		Status:         schemas.StatusReverted,
		SnapshotCommit: entry.SnapshotCommit,
		Note:           note,
	}); err != nil {
		return res, fmt.Errorf("path restored but ledger append failed: %w", err)
	}
	return res, nil
}

// FullRollback restores every path touched since the last Applied entry,
// each to its oldest snapshot inside that window, and appends one Reverted
// entry per restored path. An empty window is a structured no-op.
func (e *Engine) FullRollback(ctx context.Context) (schemas.CommandResult, error) {
	entries, err := e.deps.Ledger.List(ctx)
	if err != nil {
		return schemas.CommandResult{}, fmt.Errorf("failed to read the ledger: %w", err)
	}

	targets := rollbackWindow(entries)
	if len(targets) == 0 {
		return schemas.CommandResult{OK: true, Stdout: "nothing to roll back"}, nil
	}

	paths := make([]string, 0, len(targets))
	for p := range targets {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	e.logger.Info("Full rollback started.", zap.Int("paths", len(paths)))

	var lines []string
	var totalMS uint64
	for _, p := range paths {
		commit := targets[p]
		target := p
		if !filepath.IsAbs(target) {
			target = filepath.Join(e.root(), filepath.FromSlash(target))
		}

		res := e.deps.Snapshots.Restore(ctx, target, commit)
		totalMS += res.DurationMS
		if !res.OK {
			rerr := &RollbackError{Path: p, Commit: commit, Result: res}
			e.escalateRollbackFailure(ctx, p, rerr.Error())
			res.Stdout = strings.Join(append(lines, rerr.Error()), "\n")
			res.DurationMS = totalMS
			return res, nil
		}

		if _, err := e.appendEntry(ctx, schemas.EvolutionEntry{
			Path:           p,
			Status:         schemas.StatusReverted,
			SnapshotCommit: commit,
			Note:           fmt.Sprintf("full rollback to snapshot %s", shortCommit(commit)),
		}); err != nil {
			return schemas.CommandResult{}, fmt.Errorf("rollback of %s applied but ledger append failed: %w", p, err)
		}
		lines = append(lines, fmt.Sprintf("%s restored to %s", p, shortCommit(commit)))
	}

	return schemas.CommandResult{
		OK:         true,
		Stdout:     strings.Join(append(lines, fmt.Sprintf("rolled back %d path(s)", len(paths))), "\n"),
		DurationMS: totalMS,
	}, nil
}

// escalateRollbackFailure marks the session for manual intervention after a
// failed restore.
func (e *Engine) escalateRollbackFailure(ctx context.Context, path, note string) {
	sess, err := e.deps.Sessions.Load()
	if err != nil {
		e.logger.Error("Failed to load session while escalating rollback failure.", zap.Error(err))
		sess = schemas.EvolutionSession{}
	}
	sess.ManualInterventionRequired = true
	sess.LastNote = note
	if err := e.deps.Sessions.Save(sess); err != nil {
		e.logger.Error("Failed to persist session state.", zap.Error(err))
	}

	if e.deps.Publisher != nil {
		if url, perr := e.deps.Publisher.PublishEscalation(ctx, schemas.Escalation{
			SessionID: sess.ID,
			Path:      path,
			Note:      note,
		}); perr != nil {
			e.logger.Warn("Failed to publish escalation.", zap.Error(perr))
		} else {
			e.logger.Info("Escalation published.", zap.String("url", url))
		}
	}
}

// rollbackWindow maps each path touched after the newest Applied entry to
// the oldest restorable snapshot recorded for it inside that window. With no
// Applied entry the window spans the whole history.
func rollbackWindow(entries []schemas.EvolutionEntry) map[string]string {
	var lastApplied uint64
	for _, en := range entries {
		if en.Status == schemas.StatusApplied && en.TimestampMS > lastApplied {
			lastApplied = en.TimestampMS
		}
	}

	window := make(map[string]string)
	oldest := make(map[string]uint64)
	for _, en := range entries {
		if en.TimestampMS <= lastApplied || en.SnapshotCommit == "" {
			continue
		}
		if ts, seen := oldest[en.Path]; !seen || en.TimestampMS < ts {
			oldest[en.Path] = en.TimestampMS
			window[en.Path] = en.SnapshotCommit
		}
	}
	return window
}
