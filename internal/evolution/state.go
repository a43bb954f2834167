// File: internal/evolution/state.go
package evolution

import "github.com/xkilldash9x/graft-cli/api/schemas"

// State names one position of the repair loop's serialized state machine.
type State string

const (
	StateIdle                 State = "Idle"
	StateValidating           State = "Validating"
	StateBuilding             State = "Building"
	StateFailed               State = "Failed"
	StateRepairing            State = "Repairing"
	StateBenchmarkingBaseline State = "BenchmarkingBaseline"
	StateBenchmarkingMutation State = "BenchmarkingMutation"
	StateEvaluated            State = "Evaluated"

	// Terminal states. Rejected covers candidates refused before any build
	// ran (oversized, unparseable); AwaitingApproval covers the human gates.
	StateCommitted          State = "Committed"
	StateRolledBack         State = "RolledBack"
	StateRejected           State = "Rejected"
	StateAwaitingApproval   State = "AwaitingApproval"
	StateManualIntervention State = "ManualInterventionRequired"
)

// Terminal reports whether the state machine stops at s.
func (s State) Terminal() bool {
	switch s {
	case StateCommitted, StateRolledBack, StateRejected, StateAwaitingApproval, StateManualIntervention:
		return true
	}
	return false
}

// CycleResult is the structured outcome of one evolution cycle. Every cycle
// produces one, including the worst case: a caller never has to read logs to
// learn why a mutation was not committed.
type CycleResult struct {
	State State `json:"state"`
	// Entry is the ledger record the cycle appended.
	Entry schemas.EvolutionEntry `json:"entry"`
	// Fitness is set only when both benchmarks completed.
	Fitness *schemas.FitnessReport `json:"fitness,omitempty"`
	// Session is the post-cycle session snapshot.
	Session schemas.EvolutionSession `json:"session"`
	// Trace records every state the machine passed through, in order.
	Trace []State `json:"trace"`
	// EscalationURL points at the published escalation, when one was opened.
	EscalationURL string `json:"escalation_url,omitempty"`
}

// Committed reports whether the cycle ended with the mutation kept.
func (r *CycleResult) Committed() bool { return r.State == StateCommitted }
