// File: internal/evolution/policy.go
package evolution

import (
	"fmt"

	"github.com/xkilldash9x/graft-cli/api/schemas"
	"github.com/xkilldash9x/graft-cli/internal/config"
	"github.com/xkilldash9x/graft-cli/internal/fitness"
)

// Decision is an accept/reject verdict over a fitness report, with the
// reason spelled out for the ledger note.
type Decision struct {
	Accept bool
	Reason string
}

// DecideFunc lets a caller supply its own verdict (an interactive prompt,
// for instance) instead of the configured policy.
type DecideFunc func(schemas.FitnessReport) Decision

// Policy is the unattended accept/reject rule. The evaluator only
// quantifies; the acceptable regression tolerance is a policy choice, so it
// lives here and in configuration, never in the fitness code.
type Policy struct {
	cfg config.PolicyConfig
}

// NewPolicy builds the policy from configuration.
func NewPolicy(cfg config.PolicyConfig) *Policy {
	return &Policy{cfg: cfg}
}

// Decide applies the configured rule: reject low-confidence measurements
// when stability is required, reject regressions beyond the tolerance,
// accept everything else.
func (p *Policy) Decide(fit schemas.FitnessReport) Decision {
	desc := fitness.Describe(fit)

	if p.cfg.RequireStable && fit.LowConfidence {
		return Decision{
			Accept: false,
			Reason: fmt.Sprintf("%s; measurement confidence below policy threshold", desc),
		}
	}
	if fit.DeltaPct > p.cfg.MaxRegressionPct {
		return Decision{
			Accept: false,
			Reason: fmt.Sprintf("%s; exceeds policy tolerance of %+.1f%%", desc, p.cfg.MaxRegressionPct),
		}
	}
	return Decision{Accept: true, Reason: desc}
}
