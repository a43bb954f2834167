// File: internal/reporting/writers.go
package reporting

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/beevik/etree"
	jsoniter "github.com/json-iterator/go"

	"github.com/xkilldash9x/graft-cli/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// WriteText renders the audit summary for a terminal.
func WriteText(w io.Writer, r schemas.AuditReport) error {
	if _, err := fmt.Fprintf(w,
		"Evolution audit\n"+
			"  total:     %d\n"+
			"  applied:   %d\n"+
			"  reverted:  %d\n"+
			"  failed:    %d\n"+
			"  pending:   %d\n"+
			"  success:   %.1f%%\n"+
			"  build time: %dms total, %dms avg\n",
		r.Total, r.Applied, r.Reverted, r.Failed, r.Pending,
		r.SuccessRatePct, r.TotalBuildDurationMS, r.AvgBuildDurationMS); err != nil {
		return err
	}

	if len(r.Hotspots) == 0 {
		return nil
	}
	if _, err := fmt.Fprintf(w, "Hotspots (worst first)\n"); err != nil {
		return err
	}
	for _, hs := range r.Hotspots {
		if _, err := fmt.Fprintf(w, "  %-40s attempts=%d failures=%d\n", hs.Path, hs.Attempts, hs.Failures); err != nil {
			return err
		}
	}
	return nil
}

// WriteJSON renders the audit report as indented JSON.
func WriteJSON(w io.Writer, r schemas.AuditReport) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}
	_, err = w.Write(append(data, '\n'))
	return err
}

// WriteCSV renders the hotspot table as CSV.
func WriteCSV(w io.Writer, r schemas.AuditReport) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"path", "attempts", "failures"}); err != nil {
		return err
	}
	for _, hs := range r.Hotspots {
		if err := cw.Write([]string{hs.Path, strconv.Itoa(hs.Attempts), strconv.Itoa(hs.Failures)}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteHistoryCSV renders raw ledger entries as CSV, one row per entry.
func WriteHistoryCSV(w io.Writer, entries []schemas.EvolutionEntry) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"timestamp_ms", "path", "status", "snapshot_commit", "build_duration_ms", "note"}); err != nil {
		return err
	}
	for _, e := range entries {
		row := []string{
			strconv.FormatUint(e.TimestampMS, 10),
			e.Path,
			string(e.Status),
			e.SnapshotCommit,
			strconv.FormatUint(e.BuildDurationMS, 10),
			e.Note,
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteHistoryText renders ledger entries as an aligned terminal listing.
func WriteHistoryText(w io.Writer, entries []schemas.EvolutionEntry) error {
	if len(entries) == 0 {
		_, err := fmt.Fprintln(w, "No evolution history.")
		return err
	}
	for _, e := range entries {
		ts := time.UnixMilli(int64(e.TimestampMS)).UTC().Format(time.RFC3339)
		if _, err := fmt.Fprintf(w, "%s  %-8s  %-40s  %s\n", ts, e.Status, e.Path, e.Note); err != nil {
			return err
		}
	}
	return nil
}

// WriteJUnit renders history as a JUnit XML suite so CI dashboards can track
// evolution outcomes next to test results. Applied entries pass; failed and
// reverted entries carry a failure node; pending entries are skipped cases.
func WriteJUnit(w io.Writer, entries []schemas.EvolutionEntry) error {
	r := Analyze(entries)

	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)

	suites := doc.CreateElement("testsuites")
	suite := suites.CreateElement("testsuite")
	suite.CreateAttr("name", "graft-evolution")
	suite.CreateAttr("tests", strconv.Itoa(r.Total))
	suite.CreateAttr("failures", strconv.Itoa(r.Failed+r.Reverted))
	suite.CreateAttr("skipped", strconv.Itoa(r.Pending))
	suite.CreateAttr("time", junitSeconds(r.TotalBuildDurationMS))

	for _, e := range entries {
		tc := suite.CreateElement("testcase")
		tc.CreateAttr("classname", string(e.Status))
		tc.CreateAttr("name", fmt.Sprintf("%s@%d", e.Path, e.TimestampMS))
		tc.CreateAttr("time", junitSeconds(e.BuildDurationMS))

		switch e.Status {
		case schemas.StatusFailed, schemas.StatusReverted:
			failure := tc.CreateElement("failure")
			failure.CreateAttr("message", e.Note)
			if e.BuildStderrExcerpt != "" {
				failure.SetText(e.BuildStderrExcerpt)
			}
		case schemas.StatusPending:
			tc.CreateElement("skipped")
		}
	}

	doc.Indent(2)
	_, err := doc.WriteTo(w)
	return err
}

func junitSeconds(ms uint64) string {
	return strconv.FormatFloat(float64(ms)/1000, 'f', 3, 64)
}
