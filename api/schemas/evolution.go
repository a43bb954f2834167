package schemas

import (
	"fmt"
	"time"
)

// EvolutionStatus is the closed set of ledger entry outcomes. Downstream
// consumers cannot construct a status outside this set; the ledger rejects
// appends carrying one.
type EvolutionStatus string

const (
	StatusApplied  EvolutionStatus = "applied"
	StatusReverted EvolutionStatus = "reverted"
	StatusFailed   EvolutionStatus = "failed"
	StatusPending  EvolutionStatus = "pending"
)

// Valid reports whether s is one of the defined statuses.
func (s EvolutionStatus) Valid() bool {
	switch s {
	case StatusApplied, StatusReverted, StatusFailed, StatusPending:
		return true
	}
	return false
}

// ParseEvolutionStatus converts a wire string into an EvolutionStatus.
func ParseEvolutionStatus(raw string) (EvolutionStatus, error) {
	s := EvolutionStatus(raw)
	if !s.Valid() {
		return "", fmt.Errorf("unknown evolution status %q", raw)
	}
	return s, nil
}

// EvolutionEntry is one append-only ledger record. Entries are never mutated
// or deleted once appended; an undo is a new entry with StatusReverted
// pointing at an earlier snapshot. SnapshotCommit is opaque to the engine:
// it only has to be sufficient for the snapshot capability to restore Path
// to its pre-mutation state.
type EvolutionEntry struct {
	TimestampMS    uint64          `json:"timestamp_ms"`
	Path           string          `json:"path"`
	Status         EvolutionStatus `json:"status"`
	SnapshotCommit string          `json:"snapshot_commit"`
	Note           string          `json:"note"`

	// Build diagnostics carried for audit trend analysis. BuildStatus is nil
	// when no build ran (zone violations, pending approvals).
	BuildStatus        *int   `json:"build_status,omitempty"`
	BuildDurationMS    uint64 `json:"build_duration_ms,omitempty"`
	BuildStderrExcerpt string `json:"build_stderr_excerpt,omitempty"`

	// Receipt is an HS256 JWS over the entry's canonical fields, present only
	// when receipt signing is enabled.
	Receipt string `json:"receipt,omitempty"`
}

// EvolutionSession is the per-workspace mutation-cycle state, threaded
// explicitly through the repair loop instead of living in package globals.
// ManualInterventionRequired is sticky: once set it survives process
// restarts until an operator acknowledges it.
type EvolutionSession struct {
	ID                         string `json:"id"`
	StartedAtMS                uint64 `json:"started_at_ms"`
	RepairAttempt              int    `json:"repair_attempt"`
	RepairMaxAttempts          int    `json:"repair_max_attempts"`
	ManualInterventionRequired bool   `json:"manual_intervention_required"`
	CanRollback                bool   `json:"can_rollback"`
	ChangesApplied             int    `json:"changes_applied"`
	LastNote                   string `json:"last_note,omitempty"`
}

// Proposal is one candidate mutation: full replacement content for a single
// path inside a safe zone.
type Proposal struct {
	ID      string `json:"id"`
	Path    string `json:"path"`
	Content string `json:"content"`
	Note    string `json:"note,omitempty"`
}

// NowMS returns the current wall-clock time in Unix milliseconds, the
// timestamp convention of the ledger.
func NowMS() uint64 {
	return uint64(time.Now().UTC().UnixMilli())
}
