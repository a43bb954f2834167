// File: cmd/bench.go
package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/graft-cli/api/schemas"
	"github.com/xkilldash9x/graft-cli/internal/bench"
	"github.com/xkilldash9x/graft-cli/internal/config"
	"github.com/xkilldash9x/graft-cli/internal/observability"
	"github.com/xkilldash9x/graft-cli/internal/sandbox"
)

func newBenchCmd() *cobra.Command {
	var (
		calibrate bool
		iters     int
		warmup    int
		trials    int
		asJSON    bool
	)

	benchCmd := &cobra.Command{
		Use:   "bench",
		Short: "Run the workspace benchmark probe or calibrate host noise.",
		Long: `Bench measures the configured benchmark command against the workspace and
prints the report. With --calibrate (or when no bench command is
configured) it instead runs the in-process harness against a fixed
arithmetic kernel, which characterizes the measurement noise of the host
itself: a high coefficient of variation here means fitness verdicts on this
machine are unreliable regardless of the code under test.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := getConfigFromContext(cmd.Context())
			if err != nil {
				return err
			}
			logger := observability.GetLogger()

			// Flag overrides; non-positive values keep the configured params.
			cfg.SetBenchParams(iters, warmup, trials)
			return runBench(cmd.Context(), cfg, logger, calibrate, asJSON, cmd.OutOrStdout())
		},
	}

	benchCmd.Flags().BoolVar(&calibrate, "calibrate", false, "measure the in-process arithmetic kernel instead of the configured probe")
	benchCmd.Flags().IntVar(&iters, "iters", 0, "iterations per trial (0 keeps the configured value)")
	benchCmd.Flags().IntVar(&warmup, "warmup", 0, "warmup iterations (0 keeps the configured value)")
	benchCmd.Flags().IntVar(&trials, "trials", 0, "trial count (0 keeps the configured value)")
	benchCmd.Flags().BoolVar(&asJSON, "json", false, "emit the report as JSON")

	return benchCmd
}

func runBench(ctx context.Context, cfg config.Interface, logger *zap.Logger, calibrate, asJSON bool, out io.Writer) error {
	if !calibrate && len(cfg.Bench().Command) > 0 {
		runner := sandbox.NewRunner(logger, cfg.Sandbox())
		prober := bench.NewSubprocessProber(logger, runner, cfg.Bench())
		report, res, err := prober.Measure(ctx, cfg.WorkspaceRoot())
		if err != nil {
			return err
		}
		logger.Debug("Benchmark probe completed.", zap.String("result", res.Summary()))
		return printBenchReport(out, report, asJSON)
	}

	harness := bench.NewHarness(logger, cfg.Bench())
	report, err := harness.Measure(ctx, bench.CalibrationTarget(0))
	if err != nil {
		return err
	}
	return printBenchReport(out, report, asJSON)
}

func printBenchReport(w io.Writer, r schemas.BenchmarkReport, asJSON bool) error {
	if asJSON {
		return writeJSON(w, r)
	}
	fmt.Fprintf(w, "trials:    %d x %d iters (%d warmup)\n", r.Trials, r.Iters, r.Warmup)
	fmt.Fprintf(w, "times:     %v ms\n", r.TrialTimesMS)
	fmt.Fprintf(w, "median:    %.3f ms\n", r.MedianMS)
	fmt.Fprintf(w, "mean:      %.3f ms\n", r.MeanMS)
	fmt.Fprintf(w, "stddev:    %.3f ms (cv %.1f%%)\n", r.StddevMS, r.CVPct)
	fmt.Fprintf(w, "per-iter:  %d ns (median), %d ns (mean)\n", r.PerIterNS, r.MeanPerIterNS)
	fmt.Fprintf(w, "stability: %s\n", r.Stability)
	return nil
}
