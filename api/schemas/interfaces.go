package schemas

import (
	"context"
)

// -- Execution Interfaces --

// CommandRunner executes a typed command specification against a workspace
// and reports the structured outcome. Implementations must not treat a
// non-zero exit as an error; a failing build is a normal result.
type CommandRunner interface {
	// Run executes the command, honoring the spec's timeout, and always
	// returns a populated CommandResult. The error is reserved for cases
	// where the process could not be started at all.
	Run(ctx context.Context, spec CommandSpec) (CommandResult, error)
}

// Snapshotter is the external version-control capability. The engine never
// reads or writes history directly; it only snapshots a path and restores a
// path to a previously returned snapshot identifier.
type Snapshotter interface {
	// Snapshot records the current state of path and returns an opaque
	// commit identifier sufficient to restore it later.
	Snapshot(ctx context.Context, path string) (string, error)
	// Restore brings path back to its state at the given snapshot commit.
	// The result mirrors a command invocation: OK=false reports a failed
	// revert without raising an error.
	Restore(ctx context.Context, path, commit string) CommandResult
}

// -- Benchmark Interfaces --

// BenchProber measures the workload configured for a workspace and reduces
// it to a BenchmarkReport. The CommandResult carries the underlying probe
// invocation when the measurement runs as a subprocess.
type BenchProber interface {
	Measure(ctx context.Context, dir string) (BenchmarkReport, CommandResult, error)
}

// -- Generator Interface --

// RepairRequest carries everything the corrective generator needs: the
// failing candidate, the build diagnostics, and where the repair stands in
// the bounded attempt budget.
type RepairRequest struct {
	Path        string `json:"path"`
	Content     string `json:"content"`
	Stderr      string `json:"stderr"`
	Attempt     int    `json:"attempt"`
	MaxAttempts int    `json:"max_attempts"`
}

// CandidateGenerator produces a corrective replacement for a candidate that
// failed to build. A generator failure is treated identically to a build
// failure for repair-attempt accounting.
type CandidateGenerator interface {
	Repair(ctx context.Context, req RepairRequest) (string, error)
}

// -- Ledger Interfaces --

// HistoryMirror receives appended ledger entries for secondary storage
// (e.g., a fleet-wide PostgreSQL table). The file manifest remains
// canonical; mirror failures are advisory.
type HistoryMirror interface {
	MirrorAppend(ctx context.Context, entry EvolutionEntry) error
	Close(ctx context.Context) error
}

// -- Escalation Interface --

// Escalation describes a terminal manual-intervention condition surfaced to
// a human channel.
type Escalation struct {
	SessionID string `json:"session_id"`
	Path      string `json:"path"`
	Note      string `json:"note"`
}

// EscalationPublisher pushes an escalation to an external tracker and
// returns a human-visitable URL for it.
type EscalationPublisher interface {
	PublishEscalation(ctx context.Context, esc Escalation) (string, error)
}

// -- LLM Client Schemas & Interface --

// ModelTier allows for selecting a large language model based on a preference
// for speed versus advanced capabilities.
type ModelTier string

const (
	TierFast     ModelTier = "fast"     // Prefers a faster, potentially less capable model.
	TierPowerful ModelTier = "powerful" // Prefers a more capable, potentially slower model.
)

// GenerationOptions provides detailed parameters to control the text generation
// process of the LLM, such as creativity (temperature) and output format.
type GenerationOptions struct {
	Temperature     float64 `json:"temperature"`       // Controls randomness. Lower is more deterministic.
	ForceJSONFormat bool    `json:"force_json_format"` // If true, forces the model to output valid JSON.
	TopP            float64 `json:"top_p"`             // Nucleus sampling parameter.
	TopK            int     `json:"top_k"`             // Top-k sampling parameter.
}

// GenerationRequest encapsulates a complete request to the LLM, including the
// system and user prompts, the desired model tier, and generation options.
type GenerationRequest struct {
	SystemPrompt string            `json:"system_prompt"` // Instructions for the model's persona and task.
	UserPrompt   string            `json:"user_prompt"`   // The specific query or input from the user.
	Tier         ModelTier         `json:"tier"`          // The desired model tier (fast or powerful).
	Options      GenerationOptions `json:"options"`       // Advanced generation parameters.
}

// LLMClient defines a standard interface for interacting with a Large Language
// Model, abstracting the specifics of the underlying provider (e.g., Gemini).
type LLMClient interface {
	// Generate produces a text completion based on the provided request.
	Generate(ctx context.Context, req GenerationRequest) (string, error)
	// Close cleans up any resources held by the client (e.g., network connections, SDK resources).
	Close() error
}
