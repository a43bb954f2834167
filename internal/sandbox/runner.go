// File: internal/sandbox/runner.go

// Package sandbox runs the engine's external processes (builds, tests,
// benchmark probes, rollback commands) under a hard deadline and stages
// candidate file mutations so they can be applied and reverted atomically.
package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/graft-cli/api/schemas"
	"github.com/xkilldash9x/graft-cli/internal/config"
)

// Runner executes typed command specs. It implements schemas.CommandRunner.
//
// A non-zero exit or a deadline kill is reported inside the CommandResult,
// not as an error; the error return is reserved for failures to launch the
// process at all (missing binary, bad working directory).
type Runner struct {
	logger         *zap.Logger
	defaultTimeout time.Duration
}

// NewRunner creates a runner using the sandbox deadline as the fallback for
// specs that carry no timeout of their own.
func NewRunner(logger *zap.Logger, cfg config.SandboxConfig) *Runner {
	return &Runner{
		logger:         logger.Named("sandbox"),
		defaultTimeout: cfg.Timeout(),
	}
}

// Run executes the spec and captures stdout and stderr separately. When the
// deadline fires the process is killed and the result carries TimedOut=true
// with the synthetic status -1, so callers can tell a timeout apart from a
// real exit code.
func (r *Runner) Run(ctx context.Context, spec schemas.CommandSpec) (schemas.CommandResult, error) {
	if spec.Program == "" {
		return schemas.CommandResult{}, errors.New("command spec has no program")
	}

	timeout := spec.Timeout
	if timeout <= 0 {
		timeout = r.defaultTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, spec.Program, spec.Args...)
	cmd.Dir = spec.Dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	r.logger.Debug("Executing command.",
		zap.String("command", spec.String()),
		zap.String("dir", spec.Dir),
		zap.Duration("timeout", timeout))

	start := time.Now()
	runErr := cmd.Run()
	elapsed := time.Since(start)

	result := schemas.CommandResult{
		Stdout:     stdout.String(),
		Stderr:     stderr.String(),
		DurationMS: uint64(elapsed.Milliseconds()),
	}

	if runCtx.Err() == context.DeadlineExceeded {
		result.TimedOut = true
		result.Status = -1
		r.logger.Warn("Command killed by deadline.",
			zap.String("command", spec.String()),
			zap.Duration("timeout", timeout))
		return result, nil
	}

	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			result.Status = exitErr.ExitCode()
			return result, nil
		}
		// The process never ran; there is no exit status to report.
		return schemas.CommandResult{}, fmt.Errorf("failed to start command %q: %w", spec.String(), runErr)
	}

	result.OK = true
	return result, nil
}
