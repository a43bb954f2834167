// File: internal/reporting/audit.go

// Package reporting reduces ledger history into audit trend reports and
// renders them for humans, spreadsheets, and CI systems.
package reporting

import (
	"sort"

	"github.com/xkilldash9x/graft-cli/api/schemas"
)

// Analyze reduces history into an AuditReport.
//
// Conventions worth knowing: the success rate counts applied entries against
// ALL entries, and the average build duration divides by all entries too,
// including ones that never reached a build. Both keep the denominators
// comparable across workspaces regardless of how many attempts died early.
func Analyze(entries []schemas.EvolutionEntry) schemas.AuditReport {
	report := schemas.AuditReport{Total: len(entries)}

	byPath := make(map[string]*schemas.PathHotspot)
	for _, e := range entries {
		switch e.Status {
		case schemas.StatusApplied:
			report.Applied++
		case schemas.StatusReverted:
			report.Reverted++
		case schemas.StatusFailed:
			report.Failed++
		case schemas.StatusPending:
			report.Pending++
		}
		report.TotalBuildDurationMS += e.BuildDurationMS

		hs := byPath[e.Path]
		if hs == nil {
			hs = &schemas.PathHotspot{Path: e.Path}
			byPath[e.Path] = hs
		}
		hs.Attempts++
		if e.Status == schemas.StatusFailed || e.Status == schemas.StatusReverted {
			hs.Failures++
		}
	}

	if report.Total > 0 {
		report.SuccessRatePct = float64(report.Applied) / float64(report.Total) * 100
		report.AvgBuildDurationMS = report.TotalBuildDurationMS / uint64(report.Total)
	}

	report.Hotspots = make([]schemas.PathHotspot, 0, len(byPath))
	for _, hs := range byPath {
		report.Hotspots = append(report.Hotspots, *hs)
	}
	sort.Slice(report.Hotspots, func(i, j int) bool {
		a, b := report.Hotspots[i], report.Hotspots[j]
		if a.Failures != b.Failures {
			return a.Failures > b.Failures
		}
		if a.Attempts != b.Attempts {
			return a.Attempts > b.Attempts
		}
		return a.Path < b.Path
	})

	return report
}
