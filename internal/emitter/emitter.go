// Package emitter defines the output interface for report results.
package emitter

import (
	"context"
	"time"

	"github.com/yairfalse/tagsweep/pkg/resource"
)

// Report is the outcome of one periodic report over a kind.
type Report struct {
	Provider string
	Kind     resource.Kind
	Tag      string
	Groups   []resource.Group[resource.Record]
	Duration time.Duration
	Error    error
}

// Records flattens the groups in group order.
func (r Report) Records() []resource.Record {
	out := make([]resource.Record, 0, resource.Total(r.Groups))
	for _, g := range r.Groups {
		out = append(out, g.Members...)
	}
	return out
}

// Emitter outputs report results to a backend.
type Emitter interface {
	// Emit sends a report to the backend.
	Emit(ctx context.Context, report Report) error

	// Close cleans up resources.
	Close() error
}

// MultiEmitter fans out to multiple emitters.
type MultiEmitter struct {
	emitters []Emitter
}

// NewMultiEmitter creates an emitter that sends to multiple backends.
func NewMultiEmitter(emitters ...Emitter) *MultiEmitter {
	return &MultiEmitter{emitters: emitters}
}

// Emit sends to all emitters, returns first error.
func (m *MultiEmitter) Emit(ctx context.Context, report Report) error {
	for _, e := range m.emitters {
		if err := e.Emit(ctx, report); err != nil {
			return err
		}
	}
	return nil
}

// Close closes all emitters.
func (m *MultiEmitter) Close() error {
	for _, e := range m.emitters {
		if err := e.Close(); err != nil {
			return err
		}
	}
	return nil
}
