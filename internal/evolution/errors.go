// File: internal/evolution/errors.go
package evolution

import (
	"errors"
	"fmt"

	"github.com/xkilldash9x/graft-cli/api/schemas"
)

var (
	// ErrEngineBusy rejects a second mutation request while one is in
	// flight. The workspace and the snapshot pointer are single-writer
	// resources; concurrent cycles are refused, not queued.
	ErrEngineBusy = errors.New("an evolution cycle is already running for this workspace")

	// ErrInterventionPending rejects new cycles while the sticky
	// manual-intervention flag is set. Cleared with `graft session --ack`.
	ErrInterventionPending = errors.New("manual intervention pending; run 'graft session --ack' after resolving it")
)

// ZoneViolationError reports a path the validator refused. It is never
// retried and consumes no repair attempt.
type ZoneViolationError struct {
	Path   string
	Reason string
}

func (e *ZoneViolationError) Error() string {
	return fmt.Sprintf("zone violation: %s: %s", e.Path, e.Reason)
}

// BenchmarkError reports that the harness itself could not complete a
// measurement. The mutation stays applied but unevaluated; no repair attempt
// is consumed, because a measurement failure is not evidence the mutation is
// broken.
type BenchmarkError struct {
	Stage string // "baseline" or "mutation"
	Err   error
}

func (e *BenchmarkError) Error() string {
	return fmt.Sprintf("benchmark error (%s): %v", e.Stage, e.Err)
}

func (e *BenchmarkError) Unwrap() error { return e.Err }

// RollbackError is terminal: a revert that fails is escalated to a human and
// never auto-retried.
type RollbackError struct {
	Path   string
	Commit string
	Result schemas.CommandResult
}

func (e *RollbackError) Error() string {
	return fmt.Sprintf("rollback of %s to %s failed: %s", e.Path, e.Commit, e.Result.Summary())
}
