package schemas

// PathHotspot aggregates ledger activity for one target path.
type PathHotspot struct {
	Path     string `json:"path"`
	Attempts int    `json:"attempts"`
	Failures int    `json:"failures"`
}

// AuditReport summarizes evolution trends over the ledger: how often
// mutations land, where they fail, and what builds cost. Hotspots are
// ordered worst-first: failure count descending, then attempts descending,
// then path ascending for a stable tie-break.
type AuditReport struct {
	Total    int `json:"total_evolutions"`
	Applied  int `json:"applied"`
	Reverted int `json:"reverted"`
	Failed   int `json:"failed"`
	Pending  int `json:"pending"`

	SuccessRatePct       float64 `json:"success_rate_pct"`
	TotalBuildDurationMS uint64  `json:"total_build_duration_ms"`
	AvgBuildDurationMS   uint64  `json:"avg_build_duration_ms"`

	Hotspots []PathHotspot `json:"hotspots"`
}
