// File: internal/fitness/fitness.go

// Package fitness quantifies a mutation benchmark against its baseline. It
// only measures; whether a given delta is acceptable is policy, decided by
// the caller.
package fitness

import (
	"fmt"

	"github.com/xkilldash9x/graft-cli/api/schemas"
)

// UndefinedDeltaError reports that no relative delta exists because the
// baseline per-iteration cost is zero. This happens when the probe workload
// is far too small for the clock, and the right response is to fix the
// protocol, not to treat the mutation as infinitely better or worse.
type UndefinedDeltaError struct {
	BaselinePerIterNS int64
}

func (e *UndefinedDeltaError) Error() string {
	return fmt.Sprintf("fitness delta undefined: baseline per-iteration cost is %dns", e.BaselinePerIterNS)
}

// Evaluate compares the mutation report against the baseline. DeltaPct is
// signed relative to the baseline: positive means the mutation is slower
// (a regression), negative means faster. LowConfidence is set when either
// side's trials were high-noise, meaning the delta should not be trusted for
// an automated keep/revert decision.
func Evaluate(baseline, mutation schemas.BenchmarkReport) (schemas.FitnessReport, error) {
	if baseline.PerIterNS <= 0 {
		return schemas.FitnessReport{}, &UndefinedDeltaError{BaselinePerIterNS: baseline.PerIterNS}
	}

	delta := float64(mutation.PerIterNS-baseline.PerIterNS) / float64(baseline.PerIterNS) * 100

	return schemas.FitnessReport{
		DeltaPct: delta,
		LowConfidence: baseline.Stability == schemas.StabilityHighNoise ||
			mutation.Stability == schemas.StabilityHighNoise,
		Baseline: baseline,
		Mutation: mutation,
	}, nil
}

// Describe renders the one-line verdict used in ledger notes, e.g.
// "fitness regression +18.4% (stable)" or
// "fitness improvement -3.2% (low confidence)".
func Describe(r schemas.FitnessReport) string {
	kind := "neutral"
	switch {
	case r.DeltaPct > 0:
		kind = "regression"
	case r.DeltaPct < 0:
		kind = "improvement"
	}

	qualifier := string(worstStability(r.Baseline.Stability, r.Mutation.Stability))
	if r.LowConfidence {
		qualifier = "low confidence"
	}
	return fmt.Sprintf("fitness %s %+.1f%% (%s)", kind, r.DeltaPct, qualifier)
}

var stabilityRank = map[schemas.StabilityClass]int{
	schemas.StabilityStable:        0,
	schemas.StabilityModerateNoise: 1,
	schemas.StabilityHighNoise:     2,
}

func worstStability(a, b schemas.StabilityClass) schemas.StabilityClass {
	if stabilityRank[b] > stabilityRank[a] {
		return b
	}
	return a
}
