package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/yairfalse/tagsweep/internal/cloud"
	"github.com/yairfalse/tagsweep/internal/fanout"
	"github.com/yairfalse/tagsweep/internal/retry"
	"github.com/yairfalse/tagsweep/pkg/resource"
)

func newRunID() string {
	return uuid.NewString()
}

// remediate produces exactly one outcome per candidate. Candidates must be
// detached; anything else is refused without a provider call.
func (e *Engine) remediate(ctx context.Context, candidates []resource.Record, action cloud.Action, dryRun bool) []resource.Outcome {
	results := fanout.Run(ctx, e.opts.Concurrency, candidates, func(ctx context.Context, rec resource.Record) (resource.Outcome, error) {
		return e.remediateOne(ctx, rec, action, dryRun), nil
	})

	outcomes := make([]resource.Outcome, len(results))
	for i, res := range results {
		o := res.Value
		if res.Err != nil {
			o = failed(candidates[i], action, res.Err)
		}
		e.opts.Observer.RemediationFinished(ctx, o.Kind, o.Status)
		outcomes[i] = o
	}
	return outcomes
}

func (e *Engine) remediateOne(ctx context.Context, rec resource.Record, action cloud.Action, dryRun bool) resource.Outcome {
	out := resource.Outcome{
		ResourceID: rec.ID,
		Kind:       rec.Kind,
		Key:        rec.ClassificationKey,
		Action:     string(action),
	}

	if !rec.Remediable() {
		return failed(rec, action, fmt.Errorf("refusing to remediate %s resource", rec.Attachment))
	}

	if dryRun {
		out.Status = resource.StatusSkipped
		out.Reason = "dry run"
		return out
	}

	if e.opts.Guard != nil {
		reasons, err := e.opts.Guard.Check(ctx, rec, action)
		if err != nil {
			return failed(rec, action, fmt.Errorf("policy: %w", err))
		}
		if len(reasons) > 0 {
			out.Status = resource.StatusProtected
			out.Reason = strings.Join(reasons, "; ")
			e.logger.Info().Str("resource", rec.ID).Str("reason", out.Reason).Msg("remediation blocked by policy")
			return out
		}
	}

	if err := e.limiter.Wait(ctx); err != nil {
		return failed(rec, action, err)
	}

	err := retry.Run(ctx, e.policy(ctx, rec.Kind, "remediate"), func(ctx context.Context) error {
		return e.src.Remediate(ctx, rec.Raw(), action)
	})
	if err != nil {
		e.logger.Error().Err(err).
			Str("resource", rec.ID).
			Str("kind", string(rec.Kind)).
			Str("action", string(action)).
			Msg("remediation failed")
		return failed(rec, action, err)
	}

	e.logger.Info().
		Str("resource", rec.ID).
		Str("kind", string(rec.Kind)).
		Str("action", string(action)).
		Msg("remediated")
	out.Status = resource.StatusSucceeded
	return out
}

// failed keeps the error text verbatim.
func failed(rec resource.Record, action cloud.Action, err error) resource.Outcome {
	return resource.Outcome{
		ResourceID:  rec.ID,
		Kind:        rec.Kind,
		Key:         rec.ClassificationKey,
		Action:      string(action),
		Status:      resource.StatusFailed,
		ErrorDetail: err.Error(),
	}
}
