package emitter

import (
	"sync"

	"github.com/yairfalse/tagsweep/pkg/resource"
)

// DiffTracker tracks the detached set between reports of one kind.
type DiffTracker struct {
	mu          sync.RWMutex
	previous    map[string]resource.Record
	initialized bool
}

// NewDiffTracker creates a new diff tracker.
func NewDiffTracker() *DiffTracker {
	return &DiffTracker{
		previous: make(map[string]resource.Record),
	}
}

// ComputeDrift compares the detached records in current against the
// previous baseline.
// Returns nil on the first report (baseline establishment).
// Returns an empty slice if nothing changed.
func (d *DiffTracker) ComputeDrift(current []resource.Record) []resource.Drift {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if !d.initialized {
		return nil
	}

	currentMap := indexDetached(current)
	drift := make([]resource.Drift, 0)
	drift = append(drift, d.findResolved(currentMap, unknownKeys(current))...)
	drift = append(drift, d.findDetached(currentMap)...)

	return drift
}

// indexDetached keys the detached records by their unique identifier.
// Unknown records are left out so a failed lookup never reads as resolved
// or newly detached.
func indexDetached(records []resource.Record) map[string]resource.Record {
	m := make(map[string]resource.Record)
	for _, r := range records {
		if r.Attachment == resource.Detached {
			m[resource.RecordKey(r)] = r
		}
	}
	return m
}

func unknownKeys(records []resource.Record) map[string]struct{} {
	m := make(map[string]struct{})
	for _, r := range records {
		if r.Attachment == resource.Unknown {
			m[resource.RecordKey(r)] = struct{}{}
		}
	}
	return m
}

func (d *DiffTracker) findResolved(currentMap map[string]resource.Record, pending map[string]struct{}) []resource.Drift {
	var drift []resource.Drift
	for key, prev := range d.previous {
		if _, unresolved := pending[key]; unresolved {
			continue
		}
		if _, exists := currentMap[key]; !exists {
			drift = append(drift, resource.Drift{Type: resource.DriftResolved, Record: prev})
		}
	}
	return drift
}

func (d *DiffTracker) findDetached(currentMap map[string]resource.Record) []resource.Drift {
	var drift []resource.Drift
	for key, curr := range currentMap {
		if _, exists := d.previous[key]; !exists {
			drift = append(drift, resource.Drift{Type: resource.DriftDetached, Record: curr})
		}
	}
	return drift
}

// Update stores the detached records of current as the new baseline.
// Records whose attachment is unknown keep their previous state.
func (d *DiffTracker) Update(current []resource.Record) {
	d.mu.Lock()
	defer d.mu.Unlock()

	next := indexDetached(current)
	for key := range unknownKeys(current) {
		if prev, ok := d.previous[key]; ok {
			next[key] = prev
		}
	}
	d.previous = next
	d.initialized = true
}
