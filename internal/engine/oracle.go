package engine

import (
	"context"
	"fmt"

	"github.com/yairfalse/tagsweep/internal/cloud"
	"github.com/yairfalse/tagsweep/internal/retry"
	"github.com/yairfalse/tagsweep/pkg/resource"
)

// attachment resolves the tri-state for raw.
//
//   - NotFound for the dependent object is a data signal: Detached, no error.
//   - Throttling is retried; exhaustion yields Unknown.
//   - Any other error yields Unknown. Never Detached.
func (e *Engine) attachment(ctx context.Context, raw resource.Raw) (resource.AttachmentState, error) {
	state, err := retry.Do(ctx, e.policy(ctx, raw.Kind, "describe_attachment"), func(ctx context.Context) (resource.AttachmentState, error) {
		return e.src.DescribeAttachment(ctx, raw)
	})
	return Classify(state, err)
}

// Classify maps a provider lookup result onto the tri-state.
func Classify(state resource.AttachmentState, err error) (resource.AttachmentState, error) {
	if err != nil {
		if cloud.IsNotFound(err) {
			return resource.Detached, nil
		}
		return resource.Unknown, err
	}

	switch state {
	case resource.Attached, resource.Detached:
		return state, nil
	case resource.Unknown:
		return resource.Unknown, fmt.Errorf("provider reported unknown attachment")
	default:
		return resource.Unknown, fmt.Errorf("invalid attachment state %q", state)
	}
}
