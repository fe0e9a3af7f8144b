package emitter

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/yairfalse/tagsweep/internal/telemetry"
	"github.com/yairfalse/tagsweep/pkg/resource"
)

// PrometheusEmitter emits report results as OTEL metrics scraped by the
// Prometheus exporter.
type PrometheusEmitter struct {
	meter  metric.Meter
	logger *telemetry.Logger

	// Metrics
	groupResources  metric.Int64ObservableGauge
	reportDuration  metric.Float64Histogram
	reportErrors    metric.Int64Counter
	driftTotal      metric.Int64Counter
	detachedCurrent metric.Int64ObservableGauge

	// State for observable gauges, keyed by provider and kind
	mu      sync.RWMutex
	reports map[string]Report

	// Drift tracking per provider and kind
	trackers map[string]*DiffTracker
}

// NewPrometheusEmitter creates a Prometheus emitter on the global meter provider.
func NewPrometheusEmitter() (*PrometheusEmitter, error) {
	return newPrometheusEmitterWithProvider(otel.GetMeterProvider())
}

func newPrometheusEmitterWithProvider(mp metric.MeterProvider) (*PrometheusEmitter, error) {
	e := &PrometheusEmitter{
		meter:    mp.Meter("tagsweep.emitter"),
		logger:   telemetry.NewLogger("emitter"),
		reports:  make(map[string]Report),
		trackers: make(map[string]*DiffTracker),
	}

	if err := e.initMetrics(); err != nil {
		return nil, fmt.Errorf("init metrics: %w", err)
	}

	return e, nil
}

func (e *PrometheusEmitter) initMetrics() error {
	var err error

	e.groupResources, err = e.meter.Int64ObservableGauge(
		"tagsweep_group_resources",
		metric.WithDescription("Resources per classification key in the latest report"),
		metric.WithInt64Callback(e.observeGroups),
	)
	if err != nil {
		return fmt.Errorf("create group_resources gauge: %w", err)
	}

	e.detachedCurrent, err = e.meter.Int64ObservableGauge(
		"tagsweep_detached_resources",
		metric.WithDescription("Detached resources per classification key in the latest report"),
		metric.WithInt64Callback(e.observeDetached),
	)
	if err != nil {
		return fmt.Errorf("create detached_resources gauge: %w", err)
	}

	e.reportDuration, err = e.meter.Float64Histogram(
		"tagsweep_report_duration_seconds",
		metric.WithDescription("Time taken to build a report"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return fmt.Errorf("create report_duration histogram: %w", err)
	}

	e.reportErrors, err = e.meter.Int64Counter(
		"tagsweep_report_errors_total",
		metric.WithDescription("Total failed reports"),
	)
	if err != nil {
		return fmt.Errorf("create report_errors counter: %w", err)
	}

	e.driftTotal, err = e.meter.Int64Counter(
		"tagsweep_drift_total",
		metric.WithDescription("Total resources that became detached or were resolved"),
	)
	if err != nil {
		return fmt.Errorf("create drift counter: %w", err)
	}

	return nil
}

func reportKey(provider string, kind resource.Kind) string {
	return provider + "/" + string(kind)
}

// Emit records the report as metrics.
func (e *PrometheusEmitter) Emit(ctx context.Context, report Report) error {
	attrs := []attribute.KeyValue{
		attribute.String("provider", report.Provider),
		attribute.String("kind", string(report.Kind)),
	}

	e.reportDuration.Record(ctx, report.Duration.Seconds(), metric.WithAttributes(attrs...))

	if report.Error != nil {
		e.reportErrors.Add(ctx, 1, metric.WithAttributes(attrs...))
		return nil // the previous report keeps serving the gauges
	}

	key := reportKey(report.Provider, report.Kind)
	records := report.Records()

	e.mu.Lock()
	tracker, ok := e.trackers[key]
	if !ok {
		tracker = NewDiffTracker()
		e.trackers[key] = tracker
	}
	e.reports[key] = report
	e.mu.Unlock()

	e.emitDrift(ctx, tracker.ComputeDrift(records))
	tracker.Update(records)

	return nil
}

func (e *PrometheusEmitter) emitDrift(ctx context.Context, drift []resource.Drift) {
	for _, d := range drift {
		e.driftTotal.Add(ctx, 1, metric.WithAttributes(
			attribute.String("provider", d.Record.Provider),
			attribute.String("kind", string(d.Record.Kind)),
			attribute.String("key", d.Record.ClassificationKey),
			attribute.String("change_type", string(d.Type)),
		))

		e.logger.WithContext(ctx).Info().
			Str("id", d.Record.ID).
			Str("kind", string(d.Record.Kind)).
			Str("region", d.Record.Region).
			Str("key", d.Record.ClassificationKey).
			Str("owner", d.Record.Owner).
			Str("change", string(d.Type)).
			Msg("orphan status changed")
	}
}

func (e *PrometheusEmitter) observeGroups(_ context.Context, o metric.Int64Observer) error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, r := range e.reports {
		for _, g := range r.Groups {
			o.Observe(int64(g.Count()), metric.WithAttributes(
				attribute.String("provider", r.Provider),
				attribute.String("kind", string(r.Kind)),
				attribute.String("tag", r.Tag),
				attribute.String("key", g.Key),
			))
		}
	}
	return nil
}

func (e *PrometheusEmitter) observeDetached(_ context.Context, o metric.Int64Observer) error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, r := range e.reports {
		for _, g := range r.Groups {
			var n int64
			for _, m := range g.Members {
				if m.Remediable() {
					n++
				}
			}
			o.Observe(n, metric.WithAttributes(
				attribute.String("provider", r.Provider),
				attribute.String("kind", string(r.Kind)),
				attribute.String("key", g.Key),
			))
		}
	}
	return nil
}

// Close is a no-op for Prometheus emitter.
func (e *PrometheusEmitter) Close() error {
	return nil
}
