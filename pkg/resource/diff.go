package resource

// DriftType is the change in a resource's orphan status between two runs.
type DriftType string

const (
	// DriftDetached indicates a resource became a remediation candidate.
	DriftDetached DriftType = "detached"
	// DriftResolved indicates a previously detached resource is attached again or gone.
	DriftResolved DriftType = "resolved"
)

// Drift is a detected change in a resource's orphan status.
type Drift struct {
	Type   DriftType
	Record Record
}

// RecordKey returns a key that is unique across providers and regions.
func RecordKey(r Record) string {
	return r.ID + "|" + r.Provider + "|" + r.Region + "|" + string(r.Kind)
}
