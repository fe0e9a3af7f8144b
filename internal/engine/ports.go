package engine

import (
	"cmp"
	"context"
	"fmt"
	"slices"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/yairfalse/tagsweep/internal/cloud"
	"github.com/yairfalse/tagsweep/internal/fanout"
	"github.com/yairfalse/tagsweep/internal/retry"
	"github.com/yairfalse/tagsweep/pkg/resource"
)

// DefaultPortThreshold is the port count at which a target is reported.
const DefaultPortThreshold = 5

// PortUsage lists instance target groups and returns every target registered
// on at least threshold distinct ports, ordered by target group then target.
// A target group whose lookup fails is logged and left out.
func (e *Engine) PortUsage(ctx context.Context, threshold int) (usage []resource.PortUsage, err error) {
	ctx, span := e.tracer.Start(ctx, "engine.PortUsage", trace.WithAttributes(
		attribute.Int("port.threshold", threshold),
	))
	start := e.opts.Now()
	defer func() { e.finish(ctx, span, "ports", resource.KindTargetGroup, start, err) }()

	if threshold < 1 {
		return nil, fmt.Errorf("port threshold must be positive (got %d)", threshold)
	}
	inspector, ok := e.src.(cloud.PortInspector)
	if !ok {
		return nil, fmt.Errorf("port usage on %s: %w", e.src.Name(), cloud.ErrUnsupported)
	}
	if !e.opts.Filter.ShouldListKind(resource.KindTargetGroup) {
		return nil, fmt.Errorf("kind %s is excluded by filter", resource.KindTargetGroup)
	}

	raws, err := e.list(ctx, resource.KindTargetGroup)
	if err != nil {
		return nil, err
	}
	groups := make([]resource.Raw, 0, len(raws))
	for _, raw := range raws {
		if raw.Attrs["target_type"] == "instance" {
			groups = append(groups, raw)
		}
	}
	e.opts.Observer.ResourcesListed(ctx, resource.KindTargetGroup, len(groups))

	results := fanout.Run(ctx, e.opts.Concurrency, groups, func(ctx context.Context, raw resource.Raw) ([]resource.PortUsage, error) {
		ports, err := retry.Do(ctx, e.policy(ctx, raw.Kind, "target_ports"), func(ctx context.Context) (map[string][]int32, error) {
			return inspector.TargetPorts(ctx, raw)
		})
		if err != nil {
			return nil, err
		}
		return portsOver(raw, ports, threshold), nil
	})

	usage = []resource.PortUsage{}
	for i, res := range results {
		if res.Err != nil {
			e.logger.Warn().Ctx(ctx).Err(res.Err).
				Str("target_group", groups[i].Name).
				Msg("target port lookup failed")
			continue
		}
		usage = append(usage, res.Value...)
	}

	slices.SortFunc(usage, func(a, b resource.PortUsage) int {
		return cmp.Or(
			cmp.Compare(a.TargetGroup, b.TargetGroup),
			cmp.Compare(a.TargetGroupID, b.TargetGroupID),
			cmp.Compare(a.TargetID, b.TargetID),
		)
	})
	return usage, nil
}

func portsOver(raw resource.Raw, ports map[string][]int32, threshold int) []resource.PortUsage {
	var out []resource.PortUsage
	for id, p := range ports {
		if len(p) < threshold {
			continue
		}
		out = append(out, resource.PortUsage{
			TargetGroup:   raw.Name,
			TargetGroupID: raw.ID,
			Region:        raw.Region,
			TargetID:      id,
			Ports:         p,
		})
	}
	return out
}
