// Package policy evaluates OPA rego protection rules before remediation.
package policy

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/open-policy-agent/opa/v1/rego"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/yairfalse/tagsweep/internal/cloud"
	"github.com/yairfalse/tagsweep/internal/telemetry"
	"github.com/yairfalse/tagsweep/pkg/resource"
)

// Query is the rule every policy module contributes to: a set of reasons.
const Query = "data.tagsweep.protect"

//go:embed default.rego
var defaultPolicy string

// Input is what a policy sees for one candidate.
type Input struct {
	Resource resource.Record `json:"resource"`
	Action   string          `json:"action"`
	Now      time.Time       `json:"now"`
}

// Guard blocks remediation of resources matched by data.tagsweep.protect.
type Guard struct {
	query  rego.PreparedEvalQuery
	logger *telemetry.Logger
	tracer trace.Tracer
	now    func() time.Time
}

// Default returns a guard with the built-in protection rules.
func Default(ctx context.Context) (*Guard, error) {
	return New(ctx, map[string]string{"default.rego": defaultPolicy})
}

// Load compiles the built-in rules plus every .rego file at path (file or directory).
func Load(ctx context.Context, path string) (*Guard, error) {
	modules := map[string]string{"default.rego": defaultPolicy}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("policy path: %w", err)
	}

	files := []string{path}
	if info.IsDir() {
		files, err = filepath.Glob(filepath.Join(path, "*.rego"))
		if err != nil {
			return nil, fmt.Errorf("list policies: %w", err)
		}
	}

	for _, f := range files {
		content, err := os.ReadFile(filepath.Clean(f))
		if err != nil {
			return nil, fmt.Errorf("read policy file %s: %w", f, err)
		}
		modules[f] = string(content)
	}

	return New(ctx, modules)
}

// New compiles modules, keyed by file name.
func New(ctx context.Context, modules map[string]string) (*Guard, error) {
	opts := []func(*rego.Rego){rego.Query(Query)}
	for name, code := range modules {
		opts = append(opts, rego.Module(name, code))
	}

	prepared, err := rego.New(opts...).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("compile policy: %w", err)
	}

	g := &Guard{
		query:  prepared,
		logger: telemetry.NewLogger("policy-guard"),
		tracer: otel.Tracer("tagsweep/policy"),
		now:    time.Now,
	}
	g.logger.Debug().Int("modules", len(modules)).Msg("policy loaded")
	return g, nil
}

// Check returns the reasons rec is protected. No reasons means the action may proceed.
func (g *Guard) Check(ctx context.Context, rec resource.Record, action cloud.Action) ([]string, error) {
	ctx, span := g.tracer.Start(ctx, "policy.check", trace.WithAttributes(
		attribute.String("resource.id", rec.ID),
		attribute.String("action", string(action)),
	))
	defer span.End()

	input := Input{Resource: rec, Action: string(action), Now: g.now().UTC()}
	rs, err := g.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("evaluate %s: %w", Query, err)
	}

	var reasons []string
	for _, result := range rs {
		for _, expr := range result.Expressions {
			values, ok := expr.Value.([]interface{})
			if !ok {
				return nil, fmt.Errorf("%s must be a set of strings, got %T", Query, expr.Value)
			}
			for _, v := range values {
				reasons = append(reasons, fmt.Sprint(v))
			}
		}
	}
	sort.Strings(reasons)

	if len(reasons) > 0 {
		g.logger.WithContext(ctx).Debug().
			Str("resource", rec.ID).
			Str("reasons", strings.Join(reasons, "; ")).
			Msg("resource protected")
	}
	return reasons, nil
}
