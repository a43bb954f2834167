// File: internal/bench/harness.go
package bench

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/graft-cli/api/schemas"
	"github.com/xkilldash9x/graft-cli/internal/config"
)

// Target is one unit of measured work. It must return a value derived from
// its computation; the harness folds that value into Sink so the compiler
// cannot prove the work unobservable and elide it.
type Target func() uint64

// Sink absorbs target results. Exported and written between trials
// specifically to defeat dead-code elimination.
var Sink uint64

// Harness runs the fixed measurement protocol in-process: Warmup calls
// outside any timer, then Trials timed blocks of exactly Iters calls each.
type Harness struct {
	logger *zap.Logger
	cfg    config.BenchConfig
}

// NewHarness creates an in-process harness.
func NewHarness(logger *zap.Logger, cfg config.BenchConfig) *Harness {
	return &Harness{logger: logger.Named("bench"), cfg: cfg}
}

// Measure executes the protocol against target. Cancellation is honored
// between trials only; checking inside the hot loop would distort the very
// thing being measured.
func (h *Harness) Measure(ctx context.Context, target Target) (schemas.BenchmarkReport, error) {
	if target == nil {
		return schemas.BenchmarkReport{}, fmt.Errorf("measurement target is nil")
	}
	if err := h.cfg.Validate(); err != nil {
		return schemas.BenchmarkReport{}, fmt.Errorf("invalid measurement protocol: %w", err)
	}

	h.logger.Debug("Starting measurement.",
		zap.Int("iters", h.cfg.Iters),
		zap.Int("warmup", h.cfg.Warmup),
		zap.Int("trials", h.cfg.Trials))

	var acc uint64
	for i := 0; i < h.cfg.Warmup; i++ {
		acc ^= target()
	}
	Sink ^= acc

	trialTimesMS := make([]float64, 0, h.cfg.Trials)
	for trial := 0; trial < h.cfg.Trials; trial++ {
		if err := ctx.Err(); err != nil {
			return schemas.BenchmarkReport{}, err
		}
		if h.cfg.GCBetweenTrials {
			runtime.GC()
		}

		var trialAcc uint64
		start := time.Now()
		for i := 0; i < h.cfg.Iters; i++ {
			trialAcc ^= target()
		}
		elapsed := time.Since(start)

		Sink ^= trialAcc
		trialTimesMS = append(trialTimesMS, float64(elapsed.Nanoseconds())/1e6)
	}

	report := Compute(trialTimesMS, h.cfg.Iters, h.cfg.Warmup)
	h.logger.Debug("Measurement complete.",
		zap.Float64("median_ms", report.MedianMS),
		zap.Float64("cv_pct", report.CVPct),
		zap.String("stability", string(report.Stability)))
	return report, nil
}
