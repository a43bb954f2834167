// File: internal/bench/bench_test.go
package bench_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/graft-cli/api/schemas"
	"github.com/xkilldash9x/graft-cli/internal/bench"
	"github.com/xkilldash9x/graft-cli/internal/config"
)

func TestMedian(t *testing.T) {
	assert.Equal(t, 0.0, bench.Median(nil))
	assert.Equal(t, 7.0, bench.Median([]float64{7}))
	assert.Equal(t, 2.0, bench.Median([]float64{3, 1, 2}))
	assert.Equal(t, 2.5, bench.Median([]float64{4, 1, 3, 2}))

	// The headline statistic must shrug off a single scheduling outlier.
	assert.Equal(t, 10.0, bench.Median([]float64{10, 10, 10, 10, 1000}))

	// Input order is preserved.
	in := []float64{3, 1, 2}
	_ = bench.Median(in)
	assert.Equal(t, []float64{3, 1, 2}, in)
}

func TestPopulationStddev(t *testing.T) {
	// Classic population example: mean 5, variance 4.
	sample := []float64{2, 4, 4, 4, 5, 5, 7, 9}
	assert.InDelta(t, 2.0, bench.PopulationStddev(sample), 1e-9)
	assert.Equal(t, 0.0, bench.PopulationStddev([]float64{42, 42, 42}))
	assert.Equal(t, 0.0, bench.PopulationStddev(nil))
}

func TestCompute(t *testing.T) {
	report := bench.Compute([]float64{10, 10, 10, 10, 1000}, 1000, 500)

	assert.Equal(t, 10.0, report.MedianMS)
	assert.InDelta(t, 208.0, report.MeanMS, 1e-9)
	assert.Equal(t, schemas.StabilityHighNoise, report.Stability)
	assert.Equal(t, 5, report.Trials)
	assert.Equal(t, 1000, report.Iters)
	assert.Equal(t, 500, report.Warmup)

	// Per-iteration cost comes from the median trial: 10ms / 1000 iters.
	assert.Equal(t, int64(10000), report.PerIterNS)
	assert.Greater(t, report.MeanPerIterNS, report.PerIterNS)
}

func TestCompute_QuietSampleIsStable(t *testing.T) {
	report := bench.Compute([]float64{100, 101, 99, 100, 100}, 10, 5)
	assert.Equal(t, schemas.StabilityStable, report.Stability)
	assert.Less(t, report.CVPct, schemas.StableCVLimit)
}

func TestHarness_InvocationAccounting(t *testing.T) {
	cfg := config.BenchConfig{Iters: 50, Warmup: 7, Trials: 3}
	h := bench.NewHarness(zaptest.NewLogger(t), cfg)

	calls := 0
	report, err := h.Measure(context.Background(), func() uint64 {
		calls++
		return uint64(calls)
	})
	require.NoError(t, err)

	assert.Equal(t, 7+3*50, calls, "exactly warmup + trials*iters invocations")
	assert.Len(t, report.TrialTimesMS, 3)
	assert.Equal(t, 3, report.Trials)
	assert.Equal(t, 50, report.Iters)
}

func TestHarness_RejectsBadProtocol(t *testing.T) {
	h := bench.NewHarness(zaptest.NewLogger(t), config.BenchConfig{Iters: 0, Trials: 1})
	_, err := h.Measure(context.Background(), bench.CalibrationTarget(1))
	require.Error(t, err)

	h = bench.NewHarness(zaptest.NewLogger(t), config.BenchConfig{Iters: 10, Trials: 2})
	_, err = h.Measure(context.Background(), nil)
	require.Error(t, err)
}

func TestHarness_HonorsCancellationBetweenTrials(t *testing.T) {
	cfg := config.BenchConfig{Iters: 10, Warmup: 0, Trials: 1000}
	h := bench.NewHarness(zaptest.NewLogger(t), cfg)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.Measure(ctx, bench.CalibrationTarget(1))
	require.ErrorIs(t, err, context.Canceled)
}

func TestCalibrationTarget(t *testing.T) {
	a := bench.CalibrationTarget(123)
	b := bench.CalibrationTarget(123)
	assert.Equal(t, a(), b(), "same seed, same sequence")
	assert.NotEqual(t, a(), a(), "the generator advances")
	assert.NotZero(t, bench.CalibrationTarget(0)(), "zero seed is remapped")
}

// stubRunner returns a canned result for the probe command.
type stubRunner struct {
	result schemas.CommandResult
	err    error

	lastSpec schemas.CommandSpec
}

func (s *stubRunner) Run(_ context.Context, spec schemas.CommandSpec) (schemas.CommandResult, error) {
	s.lastSpec = spec
	return s.result, s.err
}

func TestSubprocessProber_RecomputesAggregates(t *testing.T) {
	runner := &stubRunner{result: schemas.CommandResult{
		OK:     true,
		Stdout: "warming up...\ntrial 1 done\n{\"trials_ms\":[10,10,10,10,1000]}\n",
	}}
	cfg := config.BenchConfig{Iters: 1000, Warmup: 500, Trials: 5, Command: []string{"./bench-probe", "--json"}}

	p := bench.NewSubprocessProber(zaptest.NewLogger(t), runner, cfg)
	report, raw, err := p.Measure(context.Background(), "/ws")
	require.NoError(t, err)

	assert.Equal(t, "./bench-probe", runner.lastSpec.Program)
	assert.Equal(t, []string{"--json"}, runner.lastSpec.Args)
	assert.Equal(t, "/ws", runner.lastSpec.Dir)

	assert.True(t, raw.OK)
	assert.Equal(t, 10.0, report.MedianMS, "aggregates recomputed from raw trials")
	assert.Equal(t, int64(10000), report.PerIterNS)
	assert.Equal(t, 5, report.Trials)
}

func TestSubprocessProber_FailedProbeKeepsRawResult(t *testing.T) {
	runner := &stubRunner{result: schemas.CommandResult{OK: false, Status: 2, Stderr: "probe exploded"}}
	cfg := config.BenchConfig{Iters: 10, Trials: 3, Command: []string{"./bench-probe"}}

	p := bench.NewSubprocessProber(zaptest.NewLogger(t), runner, cfg)
	_, raw, err := p.Measure(context.Background(), "/ws")
	require.Error(t, err)
	assert.Equal(t, 2, raw.Status, "the failing run is preserved for the ledger")
}

func TestSubprocessProber_RejectsMissingPayload(t *testing.T) {
	testCases := []struct {
		name   string
		stdout string
	}{
		{"no json at all", "ok\ndone\n"},
		{"json without trials", `{"something":"else"}`},
		{"empty trials", `{"trials_ms":[]}`},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			runner := &stubRunner{result: schemas.CommandResult{OK: true, Stdout: tc.stdout}}
			p := bench.NewSubprocessProber(zaptest.NewLogger(t), runner,
				config.BenchConfig{Iters: 10, Trials: 3, Command: []string{"./p"}})
			_, _, err := p.Measure(context.Background(), "/ws")
			require.Error(t, err)
		})
	}
}

func TestSubprocessProber_NoCommandConfigured(t *testing.T) {
	p := bench.NewSubprocessProber(zaptest.NewLogger(t), &stubRunner{}, config.BenchConfig{Iters: 10, Trials: 3})
	_, _, err := p.Measure(context.Background(), "/ws")
	require.Error(t, err)
}

func TestSubprocessProber_LaunchFailure(t *testing.T) {
	runner := &stubRunner{err: errors.New("binary not found")}
	p := bench.NewSubprocessProber(zaptest.NewLogger(t), runner,
		config.BenchConfig{Iters: 10, Trials: 3, Command: []string{"./missing"}})
	_, _, err := p.Measure(context.Background(), "/ws")
	require.ErrorContains(t, err, "binary not found")
}
