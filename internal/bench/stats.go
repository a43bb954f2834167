// File: internal/bench/stats.go

// Package bench measures candidate performance. The in-process harness
// drives a target closure through a fixed warmup-then-trials protocol; the
// subprocess prober runs a configured probe binary inside a workspace and
// recomputes the same aggregates from its raw trial times, so both paths
// produce directly comparable reports.
package bench

import (
	"math"
	"sort"

	"github.com/xkilldash9x/graft-cli/api/schemas"
)

// Mean returns the arithmetic mean, or 0 for an empty sample.
func Mean(sample []float64) float64 {
	if len(sample) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range sample {
		sum += v
	}
	return sum / float64(len(sample))
}

// Median returns the middle value of the sample (the average of the two
// middles for even sizes). The input is not modified.
func Median(sample []float64) float64 {
	n := len(sample)
	if n == 0 {
		return 0
	}
	sorted := make([]float64, n)
	copy(sorted, sample)
	sort.Float64s(sorted)

	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// PopulationStddev returns the population standard deviation (dividing by n,
// not n-1): the trials are the entire population of interest, not a sample
// from a larger one.
func PopulationStddev(sample []float64) float64 {
	n := len(sample)
	if n == 0 {
		return 0
	}
	mean := Mean(sample)
	variance := 0.0
	for _, v := range sample {
		d := v - mean
		variance += d * d
	}
	return math.Sqrt(variance / float64(n))
}

// Compute assembles a full report from raw trial wall times. The headline
// per-iteration cost derives from the median trial; the mean-based figure is
// kept alongside for diagnostics.
func Compute(trialTimesMS []float64, iters, warmup int) schemas.BenchmarkReport {
	mean := Mean(trialTimesMS)
	median := Median(trialTimesMS)
	stddev := PopulationStddev(trialTimesMS)

	cv := 0.0
	if mean > 0 {
		cv = stddev / mean * 100
	}

	report := schemas.BenchmarkReport{
		TrialTimesMS: trialTimesMS,
		MeanMS:       mean,
		MedianMS:     median,
		StddevMS:     stddev,
		CVPct:        cv,
		Stability:    schemas.ClassifyStability(cv),
		Iters:        iters,
		Warmup:       warmup,
		Trials:       len(trialTimesMS),
	}
	if iters > 0 {
		report.PerIterNS = int64(math.Round(median * 1e6 / float64(iters)))
		report.MeanPerIterNS = int64(math.Round(mean * 1e6 / float64(iters)))
	}
	return report
}
