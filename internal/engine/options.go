package engine

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/yairfalse/tagsweep/internal/cloud"
	"github.com/yairfalse/tagsweep/internal/fanout"
	"github.com/yairfalse/tagsweep/internal/filter"
	"github.com/yairfalse/tagsweep/internal/retry"
	"github.com/yairfalse/tagsweep/internal/tags"
	"github.com/yairfalse/tagsweep/pkg/resource"
)

// Guard decides whether a remediation candidate is protected from action.
// A non-empty reasons slice blocks the call.
type Guard interface {
	Check(ctx context.Context, rec resource.Record, action cloud.Action) (reasons []string, err error)
}

// Journal persists reconcile runs that touched the cloud.
type Journal interface {
	Append(ctx context.Context, run *ReconcileResult) error
}

// Observer receives engine events for metrics.
type Observer interface {
	ResourcesListed(ctx context.Context, kind resource.Kind, count int)
	AttachmentResolved(ctx context.Context, kind resource.Kind, state resource.AttachmentState)
	CallRetried(ctx context.Context, kind resource.Kind, op string)
	RemediationFinished(ctx context.Context, kind resource.Kind, status resource.OutcomeStatus)
	RunFinished(ctx context.Context, op string, kind resource.Kind, d time.Duration, err error)
}

// Options configures an Engine. Zero values fall back to defaults.
type Options struct {
	// Concurrency bounds the fan-out. Default: fanout.DefaultLimit
	Concurrency int
	Retry       retry.Policy

	// RemediationRate limits remediation calls per second. Zero means unlimited.
	RemediationRate  rate.Limit
	RemediationBurst int

	Classifier tags.Classifier
	Filter     *filter.Filter
	Guard      Guard
	Journal    Journal
	Observer   Observer
	Logger     *zerolog.Logger
	Now        func() time.Time
}

func (o Options) withDefaults() Options {
	if o.Concurrency <= 0 {
		o.Concurrency = fanout.DefaultLimit
	}
	if o.RemediationRate <= 0 {
		o.RemediationRate = rate.Inf
	}
	if o.RemediationBurst <= 0 {
		o.RemediationBurst = 1
	}
	if len(o.Classifier.KeyTags) == 0 {
		o.Classifier = tags.DefaultClassifier()
	}
	if o.Observer == nil {
		o.Observer = nopObserver{}
	}
	if o.Logger == nil {
		o.Logger = &log.Logger
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

type nopObserver struct{}

func (nopObserver) ResourcesListed(context.Context, resource.Kind, int)                         {}
func (nopObserver) AttachmentResolved(context.Context, resource.Kind, resource.AttachmentState) {}
func (nopObserver) CallRetried(context.Context, resource.Kind, string)                          {}
func (nopObserver) RemediationFinished(context.Context, resource.Kind, resource.OutcomeStatus)  {}
func (nopObserver) RunFinished(context.Context, string, resource.Kind, time.Duration, error)    {}
