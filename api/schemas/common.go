package schemas

import (
	"fmt"
	"time"
)

// CommandResult is the uniform outcome of any external process invocation
// (build, test, benchmark probe, rollback). A non-zero exit is a normal,
// representable outcome, not an error: callers branch on OK, they do not
// unwrap.
type CommandResult struct {
	OK     bool   `json:"ok"`
	Status int    `json:"status"`
	Stdout string `json:"stdout"`
	Stderr string `json:"stderr"`
	// DurationMS is wall-clock time of the invocation.
	DurationMS uint64 `json:"duration_ms"`
	// TimedOut is set when the process was killed by the runner's deadline.
	// Status is -1 in that case so a timeout is distinguishable from a
	// normal non-zero exit.
	TimedOut bool `json:"timed_out,omitempty"`
}

// Summary renders a short single-line description for ledger notes and logs.
func (r CommandResult) Summary() string {
	if r.TimedOut {
		return fmt.Sprintf("timed out after %dms", r.DurationMS)
	}
	if r.OK {
		return fmt.Sprintf("ok in %dms", r.DurationMS)
	}
	return fmt.Sprintf("exit %d in %dms", r.Status, r.DurationMS)
}

// maxStderrExcerptChars bounds the stderr excerpt persisted with ledger
// entries so one compiler explosion cannot bloat the manifest.
const maxStderrExcerptChars = 4000

// StderrExcerpt returns stderr truncated to the persistable excerpt length,
// with a trailing ellipsis when content was dropped. Truncation counts
// characters, not bytes, so multi-byte output is never split mid-rune.
func (r CommandResult) StderrExcerpt() string {
	runes := []rune(r.Stderr)
	if len(runes) <= maxStderrExcerptChars {
		return r.Stderr
	}
	return string(runes[:maxStderrExcerptChars]) + "…"
}

// CommandSpec is a typed command specification: program, argument vector,
// working directory and deadline. Commands are never assembled from a shell
// string, so zone guarantees cannot be bypassed with shell metacharacters.
type CommandSpec struct {
	Program string        `json:"program"`
	Args    []string      `json:"args,omitempty"`
	Dir     string        `json:"dir,omitempty"`
	Timeout time.Duration `json:"timeout,omitempty"`
}

func (s CommandSpec) String() string {
	if len(s.Args) == 0 {
		return s.Program
	}
	return fmt.Sprintf("%s %v", s.Program, s.Args)
}
