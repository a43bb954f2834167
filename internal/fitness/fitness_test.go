// File: internal/fitness/fitness_test.go
package fitness_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/graft-cli/api/schemas"
	"github.com/xkilldash9x/graft-cli/internal/fitness"
)

func report(perIterNS int64, stability schemas.StabilityClass) schemas.BenchmarkReport {
	return schemas.BenchmarkReport{PerIterNS: perIterNS, Stability: stability}
}

func TestEvaluate_SignConvention(t *testing.T) {
	baseline := report(100, schemas.StabilityStable)

	// A slower mutation is a positive delta (regression).
	slower, err := fitness.Evaluate(baseline, report(110, schemas.StabilityStable))
	require.NoError(t, err)
	assert.InDelta(t, 10.0, slower.DeltaPct, 1e-9)
	assert.False(t, slower.LowConfidence)

	// A faster mutation is a negative delta (improvement).
	faster, err := fitness.Evaluate(baseline, report(90, schemas.StabilityStable))
	require.NoError(t, err)
	assert.InDelta(t, -10.0, faster.DeltaPct, 1e-9)

	// Identical cost is exactly zero.
	same, err := fitness.Evaluate(baseline, report(100, schemas.StabilityStable))
	require.NoError(t, err)
	assert.Zero(t, same.DeltaPct)
}

func TestEvaluate_ZeroBaselineIsUndefined(t *testing.T) {
	_, err := fitness.Evaluate(report(0, schemas.StabilityStable), report(50, schemas.StabilityStable))
	require.Error(t, err)

	var undefined *fitness.UndefinedDeltaError
	require.True(t, errors.As(err, &undefined))
	assert.Equal(t, int64(0), undefined.BaselinePerIterNS)
}

func TestEvaluate_LowConfidence(t *testing.T) {
	stable := report(100, schemas.StabilityStable)
	noisy := report(100, schemas.StabilityHighNoise)
	moderate := report(100, schemas.StabilityModerateNoise)

	either, err := fitness.Evaluate(noisy, stable)
	require.NoError(t, err)
	assert.True(t, either.LowConfidence, "noisy baseline taints the comparison")

	either, err = fitness.Evaluate(stable, noisy)
	require.NoError(t, err)
	assert.True(t, either.LowConfidence, "noisy mutation taints the comparison")

	ok, err := fitness.Evaluate(stable, moderate)
	require.NoError(t, err)
	assert.False(t, ok.LowConfidence, "moderate noise is still decidable")
}

func TestEvaluate_CarriesBothReports(t *testing.T) {
	baseline := report(200, schemas.StabilityStable)
	mutation := report(150, schemas.StabilityModerateNoise)

	r, err := fitness.Evaluate(baseline, mutation)
	require.NoError(t, err)
	assert.Equal(t, baseline, r.Baseline)
	assert.Equal(t, mutation, r.Mutation)
}

func TestDescribe(t *testing.T) {
	testCases := []struct {
		name string
		r    schemas.FitnessReport
		want string
	}{
		{
			"stable regression",
			schemas.FitnessReport{
				DeltaPct: 18.44,
				Baseline: report(0, schemas.StabilityStable),
				Mutation: report(0, schemas.StabilityStable),
			},
			"fitness regression +18.4% (stable)",
		},
		{
			"improvement with moderate noise",
			schemas.FitnessReport{
				DeltaPct: -3.25,
				Baseline: report(0, schemas.StabilityStable),
				Mutation: report(0, schemas.StabilityModerateNoise),
			},
			"fitness improvement -3.2% (moderate_noise)",
		},
		{
			"low confidence overrides the class",
			schemas.FitnessReport{
				DeltaPct:      -12.0,
				LowConfidence: true,
				Baseline:      report(0, schemas.StabilityHighNoise),
				Mutation:      report(0, schemas.StabilityStable),
			},
			"fitness improvement -12.0% (low confidence)",
		},
		{
			"exact zero is neutral",
			schemas.FitnessReport{
				DeltaPct: 0,
				Baseline: report(0, schemas.StabilityStable),
				Mutation: report(0, schemas.StabilityStable),
			},
			"fitness neutral +0.0% (stable)",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, fitness.Describe(tc.r))
		})
	}
}
