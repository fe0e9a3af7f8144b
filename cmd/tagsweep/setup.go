package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/yairfalse/tagsweep/internal/audit"
	"github.com/yairfalse/tagsweep/internal/cloud"
	"github.com/yairfalse/tagsweep/internal/config"
	"github.com/yairfalse/tagsweep/internal/engine"
	"github.com/yairfalse/tagsweep/internal/filter"
	"github.com/yairfalse/tagsweep/internal/policy"
	"github.com/yairfalse/tagsweep/internal/provider/aws"
	"github.com/yairfalse/tagsweep/internal/provider/azure"
	"github.com/yairfalse/tagsweep/internal/tags"
	"github.com/yairfalse/tagsweep/internal/telemetry"
	"github.com/yairfalse/tagsweep/pkg/resource"
)

// loadConfig reads the config file, or the defaults when none is given, and
// applies the global flag overrides.
func loadConfig() (*config.Config, error) {
	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if providerName != "" {
		cfg.Provider.Name = providerName
	}
	if region != "" {
		cfg.AWS.Regions = []string{region}
	}
	if profile != "" {
		cfg.AWS.Profile = profile
	}
	if concurrency > 0 {
		cfg.Engine.Concurrency = concurrency
	}
	if cfg.Provider.Name == "aws" && len(cfg.AWS.Regions) == 0 {
		cfg.AWS.Regions = []string{"us-east-1"}
	}
	if debug {
		cfg.Log.Level = "debug"
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// newRegistry registers the provider factories for one AWS region.
func newRegistry(cfg *config.Config, region string) *cloud.Registry {
	reg := cloud.NewRegistry()
	reg.Register(aws.ProviderName, func(ctx context.Context) (cloud.Source, error) {
		return aws.New(ctx, aws.Config{Region: region, Profile: cfg.AWS.Profile})
	})
	reg.Register(azure.ProviderName, func(ctx context.Context) (cloud.Source, error) {
		return azure.New(ctx, azure.Config{Subscriptions: cfg.Azure.Subscriptions})
	})
	return reg
}

// targets lists the regions to run against. Azure queries every
// subscription at once and has a single target.
func targets(cfg *config.Config) []string {
	if cfg.Provider.Name == aws.ProviderName {
		return cfg.AWS.Regions
	}
	return []string{""}
}

func classifier(cfg *config.Config) tags.Classifier {
	c := tags.DefaultClassifier()
	if len(cfg.Classification.OwnerTags) > 0 {
		c.OwnerTags = cfg.Classification.OwnerTags
	}
	if len(cfg.Classification.UserTags) > 0 {
		c.UserTags = cfg.Classification.UserTags
	}
	if len(cfg.Classification.CreatedTags) > 0 {
		c.CreatedTags = cfg.Classification.CreatedTags
	}
	if cfg.Classification.Aliases != nil {
		c.Aliases = cfg.Classification.Aliases
	}
	return c.ForKey(cfg.Classification.Tag)
}

func newFilter(cfg *config.Config) *filter.Filter {
	return filter.New(filter.Config{
		ExcludeKinds: cfg.Filter.ExcludeKinds,
		NamePrefix:   cfg.Filter.NamePrefix,
		NameContains: cfg.Filter.NameContains,
		Attrs:        cfg.Filter.Attrs,
		IncludeTags:  cfg.Filter.IncludeTags,
		ExcludeTags:  cfg.Filter.ExcludeTags,
	})
}

// setupOptions selects the optional pieces a command needs.
type setupOptions struct {
	// policyPath enables the protection guard; "-" means built-in rules only.
	policyPath string
	auditPath  string
	prometheus bool
}

// app holds one engine per target plus the shared resources they use.
type app struct {
	cfg     *config.Config
	engines []*engine.Engine
	sources []cloud.Source
	journal *audit.Journal
	otel    *telemetry.Provider
}

func setup(ctx context.Context, cfg *config.Config, opts setupOptions) (*app, error) {
	otelCfg := cfg.OTEL
	if opts.prometheus {
		otelCfg.Metrics.Prometheus = true
	}
	provider, err := telemetry.NewProvider(ctx, otelCfg)
	if err != nil {
		return nil, fmt.Errorf("setup telemetry: %w", err)
	}

	a := &app{cfg: cfg, otel: provider}

	var guard engine.Guard
	if opts.policyPath != "" {
		g, err := loadGuard(ctx, opts.policyPath)
		if err != nil {
			_ = a.Close()
			return nil, err
		}
		guard = g
	}

	var journal engine.Journal
	if opts.auditPath != "" {
		j, err := audit.Open(opts.auditPath)
		if err != nil {
			_ = a.Close()
			return nil, err
		}
		a.journal = j
		journal = j
	}

	observer, err := telemetry.NewEngineMetrics(cfg.Provider.Name)
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("create engine metrics: %w", err)
	}

	engineOpts := engine.Options{
		Concurrency:      cfg.Engine.Concurrency,
		Retry:            cfg.Engine.RetryPolicy(),
		RemediationRate:  rate.Limit(cfg.Engine.RemediationRate),
		RemediationBurst: cfg.Engine.RemediationBurst,
		Classifier:       classifier(cfg),
		Filter:           newFilter(cfg),
		Guard:            guard,
		Journal:          journal,
		Observer:         observer,
		Logger:           &log.Logger,
	}

	for _, target := range targets(cfg) {
		src, err := newRegistry(cfg, target).Open(ctx, cfg.Provider.Name)
		if err != nil {
			_ = a.Close()
			return nil, fmt.Errorf("open provider: %w", err)
		}
		a.sources = append(a.sources, src)
		a.engines = append(a.engines, engine.New(src, engineOpts))
	}

	return a, nil
}

func loadGuard(ctx context.Context, path string) (*policy.Guard, error) {
	if path == "-" {
		return policy.Default(ctx)
	}
	return policy.Load(ctx, path)
}

// Report builds one report across every target. Records keep target order
// within each group.
func (a *app) Report(ctx context.Context, kind resource.Kind, tagName string) (_ []resource.Group[resource.Record], err error) {
	ctx, span := a.otel.StartSpan(ctx, "tagsweep.report", a.spanAttrs(kind, tagName)...)
	defer func() { endSpan(span, err) }()

	if len(a.engines) == 1 {
		return a.engines[0].Report(ctx, kind, tagName)
	}

	var records []resource.Record
	for _, e := range a.engines {
		groups, err := e.Report(ctx, kind, tagName)
		if err != nil {
			return nil, err
		}
		for _, g := range groups {
			records = append(records, g.Members...)
		}
	}
	return engine.GroupRecords(records), nil
}

// Reconcile runs one reconcile per target. A failing target stops the run;
// results gathered so far are returned with the error.
func (a *app) Reconcile(ctx context.Context, kind resource.Kind, tagName string, dryRun bool) (_ []*engine.ReconcileResult, err error) {
	ctx, span := a.otel.StartSpan(ctx, "tagsweep.reconcile",
		append(a.spanAttrs(kind, tagName), attribute.Bool("dry_run", dryRun))...)
	defer func() { endSpan(span, err) }()

	var results []*engine.ReconcileResult
	for _, e := range a.engines {
		result, err := e.Reconcile(ctx, kind, tagName, dryRun)
		if result != nil {
			results = append(results, result)
		}
		if err != nil {
			return results, err
		}
	}
	return results, nil
}

// Ports collects port usage across every target, in target order.
func (a *app) Ports(ctx context.Context, threshold int) (_ []resource.PortUsage, err error) {
	ctx, span := a.otel.StartSpan(ctx, "tagsweep.ports",
		attribute.String("cloud.provider", a.cfg.Provider.Name),
		attribute.Int("port.threshold", threshold))
	defer func() { endSpan(span, err) }()

	usage := []resource.PortUsage{}
	for _, e := range a.engines {
		u, err := e.PortUsage(ctx, threshold)
		if err != nil {
			return nil, err
		}
		usage = append(usage, u...)
	}
	return usage, nil
}

func (a *app) spanAttrs(kind resource.Kind, tagName string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("cloud.provider", a.cfg.Provider.Name),
		attribute.String("resource.kind", string(kind)),
		attribute.String("classification.tag", tagName),
		attribute.Int("targets", len(a.engines)),
	}
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// Close releases providers, the journal and telemetry.
func (a *app) Close() error {
	var errs []error
	for _, src := range a.sources {
		errs = append(errs, src.Close())
	}
	if a.journal != nil {
		errs = append(errs, a.journal.Close())
	}
	if a.otel != nil {
		errs = append(errs, a.otel.Shutdown(context.Background()))
	}
	return errors.Join(errs...)
}

func parseKinds(values []string) []resource.Kind {
	kinds := make([]resource.Kind, 0, len(values))
	for _, v := range values {
		if v != "" {
			kinds = append(kinds, resource.Kind(v))
		}
	}
	return kinds
}
