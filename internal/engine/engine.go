// Package engine implements tag-driven reconciliation: list, resolve
// attachment, classify, aggregate and optionally remediate orphans.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/yairfalse/tagsweep/internal/cloud"
	"github.com/yairfalse/tagsweep/internal/fanout"
	"github.com/yairfalse/tagsweep/internal/retry"
	"github.com/yairfalse/tagsweep/internal/tags"
	"github.com/yairfalse/tagsweep/pkg/resource"
)

// Engine runs reports and reconciles against one cloud.Source.
type Engine struct {
	src     cloud.Source
	opts    Options
	limiter *rate.Limiter
	tracer  trace.Tracer
	logger  zerolog.Logger
}

// New creates an engine over src. The engine does not own src.
func New(src cloud.Source, opts Options) *Engine {
	opts = opts.withDefaults()
	return &Engine{
		src:     src,
		opts:    opts,
		limiter: rate.NewLimiter(opts.RemediationRate, opts.RemediationBurst),
		tracer:  otel.Tracer("tagsweep/engine"),
		logger:  opts.Logger.With().Str("provider", src.Name()).Logger(),
	}
}

// Kinds returns the kinds the source can list.
func (e *Engine) Kinds() []resource.Kind {
	return e.src.Kinds()
}

// Remediable reports the action available for kind.
func (e *Engine) Remediable(kind resource.Kind) (cloud.Action, bool) {
	return e.src.Remediation(kind)
}

// Report lists kind and groups every resource by tagName. Listing failures
// fail the whole call; per-resource failures are annotated on the record.
func (e *Engine) Report(ctx context.Context, kind resource.Kind, tagName string) (groups []resource.Group[resource.Record], err error) {
	ctx, span := e.tracer.Start(ctx, "engine.Report", trace.WithAttributes(
		attribute.String("resource.kind", string(kind)),
		attribute.String("classification.tag", tagName),
	))
	start := e.opts.Now()
	defer func() { e.finish(ctx, span, "report", kind, start, err) }()

	records, err := e.collect(ctx, kind, tagName)
	if err != nil {
		return nil, err
	}
	return GroupRecords(records), nil
}

// ReconcileResult is the outcome of one reconcile call.
type ReconcileResult struct {
	RunID     string                            `json:"run_id"`
	Provider  string                            `json:"provider"`
	Kind      resource.Kind                     `json:"kind"`
	Tag       string                            `json:"tag"`
	DryRun    bool                              `json:"dry_run"`
	StartedAt time.Time                         `json:"started_at"`
	Outcomes  []resource.Outcome                `json:"outcomes"`
	Unknown   []resource.Record                 `json:"unknown"`
	Groups    []resource.Group[resource.Record] `json:"groups"`
}

// Summary counts outcomes per classification key.
func (r *ReconcileResult) Summary() map[string]resource.OutcomeSummary {
	return resource.SummarizeOutcomes(r.Outcomes)
}

// OutcomeGroups groups outcomes by classification key.
func (r *ReconcileResult) OutcomeGroups() []resource.Group[resource.Outcome] {
	return GroupOutcomes(r.Outcomes)
}

// Reconcile detects the detached subset of kind and, unless dryRun,
// remediates it. Every detached record gets exactly one outcome; unknown
// records are returned separately and never acted on.
func (e *Engine) Reconcile(ctx context.Context, kind resource.Kind, tagName string, dryRun bool) (result *ReconcileResult, err error) {
	ctx, span := e.tracer.Start(ctx, "engine.Reconcile", trace.WithAttributes(
		attribute.String("resource.kind", string(kind)),
		attribute.String("classification.tag", tagName),
		attribute.Bool("dry_run", dryRun),
	))
	start := e.opts.Now()
	defer func() { e.finish(ctx, span, "reconcile", kind, start, err) }()

	action, ok := e.src.Remediation(kind)
	if !ok && !dryRun {
		return nil, fmt.Errorf("reconcile %s: no remediation action: %w", kind, cloud.ErrUnsupported)
	}

	records, err := e.collect(ctx, kind, tagName)
	if err != nil {
		return nil, err
	}

	result = &ReconcileResult{
		RunID:     newRunID(),
		Provider:  e.src.Name(),
		Kind:      kind,
		Tag:       tagName,
		DryRun:    dryRun,
		StartedAt: start,
		Groups:    GroupRecords(records),
		Outcomes:  []resource.Outcome{},
		Unknown:   []resource.Record{},
	}

	var candidates []resource.Record
	for _, r := range records {
		switch {
		case r.Remediable():
			candidates = append(candidates, r)
		case r.Attachment == resource.Unknown, r.TagsUnread:
			result.Unknown = append(result.Unknown, r)
		}
	}

	result.Outcomes = e.remediate(ctx, candidates, action, dryRun)

	if !dryRun && e.opts.Journal != nil {
		if jerr := e.opts.Journal.Append(ctx, result); jerr != nil {
			return result, fmt.Errorf("journal run %s: %w", result.RunID, jerr)
		}
	}

	return result, nil
}

// collect lists kind and resolves every resource into a record.
func (e *Engine) collect(ctx context.Context, kind resource.Kind, tagName string) ([]resource.Record, error) {
	if !e.opts.Filter.ShouldListKind(kind) {
		return nil, fmt.Errorf("kind %s is excluded by filter", kind)
	}

	raws, err := e.list(ctx, kind)
	if err != nil {
		return nil, err
	}
	e.opts.Observer.ResourcesListed(ctx, kind, len(raws))

	classifier := e.opts.Classifier.ForKey(tagName)
	results := fanout.Run(ctx, e.opts.Concurrency, raws, func(ctx context.Context, raw resource.Raw) (resource.Record, error) {
		return e.resolve(ctx, raw, classifier), nil
	})

	failed := fanout.Errors(results)
	if len(failed) > 0 {
		e.logger.Warn().Ctx(ctx).Int("failed", len(failed)).Str("kind", string(kind)).Msg("resource workers failed")
	}

	records := make([]resource.Record, 0, len(results))
	for i, res := range results {
		rec := res.Value
		if err, ok := failed[i]; ok {
			rec = unresolved(raws[i], classifier, err)
		}
		if e.opts.Filter.HasTagFilters() && (rec.TagsUnread || !e.opts.Filter.MatchTags(rec.Tags)) {
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// list drains every page of kind. Each page fetch is retried on throttling;
// any other failure aborts the run.
func (e *Engine) list(ctx context.Context, kind resource.Kind) ([]resource.Raw, error) {
	pager, err := e.src.Pages(kind, e.opts.Filter)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", kind, err)
	}

	policy := e.policy(ctx, kind, "list")
	var raws []resource.Raw
	for pager.HasMorePages() {
		page, err := retry.Do(ctx, policy, pager.NextPage)
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", kind, err)
		}
		raws = append(raws, page...)
	}
	return raws, nil
}

// resolve builds the record for one resource. It never fails: lookup errors
// are logged and annotated on the record.
func (e *Engine) resolve(ctx context.Context, raw resource.Raw, classifier tags.Classifier) resource.Record {
	ctx, span := e.tracer.Start(ctx, "engine.resolve", trace.WithAttributes(
		attribute.String("resource.id", raw.ID),
		attribute.String("resource.kind", string(raw.Kind)),
	))
	defer span.End()

	rec := resource.NewRecord(raw)
	var errs []error

	tagSet, err := e.tags(ctx, raw)
	if err != nil {
		errs = append(errs, fmt.Errorf("tags: %w", err))
		rec.TagsUnread = true
	}
	rec.Tags = tagSet

	c := classifier.Classify(tagSet, raw.CreatedAt)
	rec.ClassificationKey = c.Key
	rec.Owner = c.Owner
	rec.User = c.User
	rec.CreatedDate = c.CreatedDate

	state, err := e.attachment(ctx, raw)
	if err != nil {
		errs = append(errs, fmt.Errorf("attachment: %w", err))
	}
	rec.Attachment = state
	e.opts.Observer.AttachmentResolved(ctx, raw.Kind, state)

	if state == resource.Detached {
		rec.Attrs = e.enrich(ctx, raw)
	}

	if err := errors.Join(errs...); err != nil {
		rec.Error = err.Error()
		span.RecordError(err)
		e.logger.Warn().Ctx(ctx).Err(err).
			Str("resource", raw.ID).
			Str("kind", string(raw.Kind)).
			Str("attachment", string(state)).
			Msg("resource lookup failed")
	}

	return rec
}

// tags returns the inline tag snapshot or fetches it once.
func (e *Engine) tags(ctx context.Context, raw resource.Raw) (map[string]string, error) {
	if raw.Tags != nil {
		return tags.Normalize(raw.Tags), nil
	}
	t, err := retry.Do(ctx, e.policy(ctx, raw.Kind, "tags"), func(ctx context.Context) (map[string]string, error) {
		return e.src.Tags(ctx, raw)
	})
	if err != nil {
		return map[string]string{}, err
	}
	return tags.Normalize(t), nil
}

// enrich merges provider detail for detached records without touching raw.Attrs.
func (e *Engine) enrich(ctx context.Context, raw resource.Raw) map[string]string {
	en, ok := e.src.(cloud.Enricher)
	if !ok {
		return raw.Attrs
	}
	extra, err := retry.Do(ctx, e.policy(ctx, raw.Kind, "enrich"), func(ctx context.Context) (map[string]string, error) {
		return en.Enrich(ctx, raw)
	})
	if err != nil {
		e.logger.Debug().Err(err).Str("resource", raw.ID).Msg("enrich failed")
		return raw.Attrs
	}
	if len(extra) == 0 {
		return raw.Attrs
	}
	attrs := make(map[string]string, len(raw.Attrs)+len(extra))
	for k, v := range raw.Attrs {
		attrs[k] = v
	}
	for k, v := range extra {
		attrs[k] = v
	}
	return attrs
}

// policy returns the retry policy for one call site, reporting retries to the observer.
func (e *Engine) policy(ctx context.Context, kind resource.Kind, op string) retry.Policy {
	p := e.opts.Retry
	user := p.OnRetry
	p.OnRetry = func(attempt int, delay time.Duration, err error) {
		e.opts.Observer.CallRetried(ctx, kind, op)
		e.logger.Debug().Ctx(ctx).Err(err).
			Str("kind", string(kind)).
			Str("op", op).
			Int("attempt", attempt).
			Dur("delay", delay).
			Msg("throttled, backing off")
		if user != nil {
			user(attempt, delay, err)
		}
	}
	return p
}

func (e *Engine) finish(ctx context.Context, span trace.Span, op string, kind resource.Kind, start time.Time, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
	e.opts.Observer.RunFinished(ctx, op, kind, e.opts.Now().Sub(start), err)
}

// unresolved is the record for a resource whose worker never produced one.
func unresolved(raw resource.Raw, classifier tags.Classifier, err error) resource.Record {
	rec := resource.NewRecord(raw)
	rec.Tags = tags.Normalize(raw.Tags)
	c := classifier.Classify(rec.Tags, raw.CreatedAt)
	rec.ClassificationKey = c.Key
	rec.Owner = c.Owner
	rec.User = c.User
	rec.CreatedDate = c.CreatedDate
	rec.TagsUnread = raw.Tags == nil
	rec.Attachment = resource.Unknown
	rec.Error = err.Error()
	return rec
}
