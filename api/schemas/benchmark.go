package schemas

// StabilityClass grades the measurement noise of a benchmark run from the
// coefficient of variation over its trial totals.
type StabilityClass string

const (
	StabilityStable        StabilityClass = "stable"
	StabilityModerateNoise StabilityClass = "moderate_noise"
	StabilityHighNoise     StabilityClass = "high_noise"
)

// CV thresholds separating the stability classes, in percent.
const (
	StableCVLimit    = 5.0
	HighNoiseCVFloor = 15.0
)

// ClassifyStability maps a coefficient of variation (percent) onto a
// StabilityClass. Boundaries are half-open: 4.999 is stable, 5.0 is
// moderate, 14.999 is moderate, 15.0 is high noise.
func ClassifyStability(cvPct float64) StabilityClass {
	switch {
	case cvPct < StableCVLimit:
		return StabilityStable
	case cvPct < HighNoiseCVFloor:
		return StabilityModerateNoise
	default:
		return StabilityHighNoise
	}
}

// BenchmarkReport is the result of one full harness run (warmup + trials)
// against one target. PerIterNS derives from the median trial rather than
// the mean so a single scheduling-jitter outlier cannot move the headline
// number; MeanPerIterNS is retained for diagnostic comparison only.
type BenchmarkReport struct {
	TrialTimesMS  []float64      `json:"trial_times_ms"`
	MeanMS        float64        `json:"mean_ms"`
	MedianMS      float64        `json:"median_ms"`
	StddevMS      float64        `json:"stddev_ms"`
	CVPct         float64        `json:"cv_pct"`
	Stability     StabilityClass `json:"stability"`
	PerIterNS     int64          `json:"per_iter_ns"`
	MeanPerIterNS int64          `json:"mean_per_iter_ns"`

	// Procedure echo: how the report was produced.
	Iters  int `json:"iters"`
	Warmup int `json:"warmup"`
	Trials int `json:"trials"`
}

// FitnessReport compares a mutation benchmark against its baseline.
// DeltaPct is signed: negative means the mutation is faster (improvement),
// positive means a regression. The evaluator only quantifies; accept or
// reject is the caller's policy.
type FitnessReport struct {
	DeltaPct      float64 `json:"delta_pct"`
	LowConfidence bool    `json:"low_confidence"`

	Baseline BenchmarkReport `json:"baseline"`
	Mutation BenchmarkReport `json:"mutation"`

	// Set when the benchmark was taken through a subprocess probe.
	BaselineRun *CommandResult `json:"baseline_run,omitempty"`
	MutationRun *CommandResult `json:"mutation_run,omitempty"`
}
