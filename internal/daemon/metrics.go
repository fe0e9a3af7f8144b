package daemon

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/yairfalse/tagsweep/pkg/resource"
)

// DaemonMetrics holds operational metrics using OTEL semantic conventions
type DaemonMetrics struct {
	reports        metric.Int64Counter
	reportDuration metric.Float64Histogram
	resources      metric.Int64Gauge
}

// NewDaemonMetrics creates daemon metrics following OTEL semantic conventions
func NewDaemonMetrics() (*DaemonMetrics, error) {
	return newDaemonMetricsWithProvider(otel.GetMeterProvider())
}

func newDaemonMetricsWithProvider(mp metric.MeterProvider) (*DaemonMetrics, error) {
	meter := mp.Meter("tagsweep.daemon")

	reports, err := meter.Int64Counter(
		"tagsweep.daemon.reports",
		metric.WithDescription("Number of report runs"),
		metric.WithUnit("{report}"),
	)
	if err != nil {
		return nil, err
	}

	reportDuration, err := meter.Float64Histogram(
		"tagsweep.daemon.report.duration",
		metric.WithDescription("Duration of report runs"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	resources, err := meter.Int64Gauge(
		"tagsweep.resources.reported",
		metric.WithDescription("Number of resources in the latest report"),
		metric.WithUnit("{resource}"),
	)
	if err != nil {
		return nil, err
	}

	return &DaemonMetrics{
		reports:        reports,
		reportDuration: reportDuration,
		resources:      resources,
	}, nil
}

// RecordReport records a report run with status
func (m *DaemonMetrics) RecordReport(ctx context.Context, status string, provider string, kind resource.Kind) {
	m.reports.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("status", status),
			attribute.String("cloud.provider", provider),
			attribute.String("resource.kind", string(kind)),
		),
	)
}

// RecordReportDuration records report duration
func (m *DaemonMetrics) RecordReportDuration(ctx context.Context, durationSeconds float64, status string) {
	m.reportDuration.Record(ctx, durationSeconds,
		metric.WithAttributes(
			attribute.String("status", status),
		),
	)
}

// RecordResources records the number of resources in a report
func (m *DaemonMetrics) RecordResources(ctx context.Context, count int64, provider string, kind resource.Kind) {
	m.resources.Record(ctx, count,
		metric.WithAttributes(
			attribute.String("resource.kind", string(kind)),
			attribute.String("cloud.provider", provider),
		),
	)
}
