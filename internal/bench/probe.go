// File: internal/bench/probe.go
package bench

import (
	"context"
	"fmt"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/graft-cli/api/schemas"
	"github.com/xkilldash9x/graft-cli/internal/config"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// probePayload is the one-line contract with the probe process: it prints a
// JSON object carrying its raw trial wall times. Aggregates are always
// recomputed on this side so a probe cannot smuggle in a flattering median.
type probePayload struct {
	TrialsMS []float64 `json:"trials_ms"`
}

// SubprocessProber measures a workspace by running the configured probe
// command inside it. It implements schemas.BenchProber.
type SubprocessProber struct {
	logger *zap.Logger
	runner schemas.CommandRunner
	cfg    config.BenchConfig
}

// NewSubprocessProber creates a prober that launches cfg.Command through the
// given runner.
func NewSubprocessProber(logger *zap.Logger, runner schemas.CommandRunner, cfg config.BenchConfig) *SubprocessProber {
	return &SubprocessProber{
		logger: logger.Named("bench-probe"),
		runner: runner,
		cfg:    cfg,
	}
}

// Measure runs the probe in dir and recomputes the benchmark aggregates from
// its reported trial times. The raw CommandResult is returned alongside the
// report so a failing probe's output can be preserved in the ledger.
func (p *SubprocessProber) Measure(ctx context.Context, dir string) (schemas.BenchmarkReport, schemas.CommandResult, error) {
	if len(p.cfg.Command) == 0 {
		return schemas.BenchmarkReport{}, schemas.CommandResult{}, fmt.Errorf("bench.command is not configured")
	}

	spec := schemas.CommandSpec{
		Program: p.cfg.Command[0],
		Args:    p.cfg.Command[1:],
		Dir:     dir,
	}
	result, err := p.runner.Run(ctx, spec)
	if err != nil {
		return schemas.BenchmarkReport{}, schemas.CommandResult{}, fmt.Errorf("failed to launch benchmark probe: %w", err)
	}
	if !result.OK {
		return schemas.BenchmarkReport{}, result, fmt.Errorf("benchmark probe failed: %s", result.Summary())
	}

	payload, err := parseProbeOutput(result.Stdout)
	if err != nil {
		return schemas.BenchmarkReport{}, result, err
	}

	report := Compute(payload.TrialsMS, p.cfg.Iters, p.cfg.Warmup)
	p.logger.Debug("Probe measurement complete.",
		zap.String("dir", dir),
		zap.Int("trials", report.Trials),
		zap.Float64("median_ms", report.MedianMS))
	return report, result, nil
}

// parseProbeOutput scans stdout bottom-up for the payload line, tolerating
// any banner or progress noise the probe printed before it.
func parseProbeOutput(stdout string) (probePayload, error) {
	lines := strings.Split(stdout, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" || !strings.HasPrefix(line, "{") {
			continue
		}
		var payload probePayload
		if err := json.UnmarshalFromString(line, &payload); err != nil {
			continue
		}
		if len(payload.TrialsMS) == 0 {
			continue
		}
		return payload, nil
	}

	excerpt := stdout
	if len(excerpt) > 512 {
		excerpt = excerpt[:512] + "…"
	}
	return probePayload{}, fmt.Errorf("benchmark probe printed no trial payload; stdout: %q", excerpt)
}
