package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/yairfalse/tagsweep/pkg/resource"
)

// EngineMetrics records engine events as OTEL instruments.
type EngineMetrics struct {
	provider string

	resourcesListed metric.Int64Counter
	attachments     metric.Int64Counter
	retries         metric.Int64Counter
	remediations    metric.Int64Counter
	runs            metric.Int64Counter
	runDuration     metric.Float64Histogram
}

// NewEngineMetrics creates engine metrics on the global meter provider.
func NewEngineMetrics(provider string) (*EngineMetrics, error) {
	return newEngineMetricsWithProvider(otel.GetMeterProvider(), provider)
}

func newEngineMetricsWithProvider(mp metric.MeterProvider, provider string) (*EngineMetrics, error) {
	meter := mp.Meter("tagsweep.engine")

	resourcesListed, err := meter.Int64Counter(
		"tagsweep.resources.listed",
		metric.WithDescription("Number of resources returned by listings"),
		metric.WithUnit("{resource}"),
	)
	if err != nil {
		return nil, err
	}

	attachments, err := meter.Int64Counter(
		"tagsweep.attachment.resolved",
		metric.WithDescription("Attachment lookups by resulting state"),
		metric.WithUnit("{resource}"),
	)
	if err != nil {
		return nil, err
	}

	retries, err := meter.Int64Counter(
		"tagsweep.calls.retried",
		metric.WithDescription("Remote calls retried after throttling"),
		metric.WithUnit("{retry}"),
	)
	if err != nil {
		return nil, err
	}

	remediations, err := meter.Int64Counter(
		"tagsweep.remediations",
		metric.WithDescription("Remediation outcomes by status"),
		metric.WithUnit("{remediation}"),
	)
	if err != nil {
		return nil, err
	}

	runs, err := meter.Int64Counter(
		"tagsweep.runs",
		metric.WithDescription("Number of report and reconcile runs"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, err
	}

	runDuration, err := meter.Float64Histogram(
		"tagsweep.run.duration",
		metric.WithDescription("Duration of report and reconcile runs"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return &EngineMetrics{
		provider:        provider,
		resourcesListed: resourcesListed,
		attachments:     attachments,
		retries:         retries,
		remediations:    remediations,
		runs:            runs,
		runDuration:     runDuration,
	}, nil
}

func (m *EngineMetrics) attrs(kind resource.Kind, extra ...attribute.KeyValue) metric.MeasurementOption {
	kv := append([]attribute.KeyValue{
		attribute.String("cloud.provider", m.provider),
		attribute.String("resource.kind", string(kind)),
	}, extra...)
	return metric.WithAttributes(kv...)
}

// ResourcesListed records the size of a listing.
func (m *EngineMetrics) ResourcesListed(ctx context.Context, kind resource.Kind, count int) {
	m.resourcesListed.Add(ctx, int64(count), m.attrs(kind))
}

// AttachmentResolved records one attachment lookup.
func (m *EngineMetrics) AttachmentResolved(ctx context.Context, kind resource.Kind, state resource.AttachmentState) {
	m.attachments.Add(ctx, 1, m.attrs(kind, attribute.String("attachment", string(state))))
}

// CallRetried records one backoff.
func (m *EngineMetrics) CallRetried(ctx context.Context, kind resource.Kind, op string) {
	m.retries.Add(ctx, 1, m.attrs(kind, attribute.String("operation", op)))
}

// RemediationFinished records one outcome.
func (m *EngineMetrics) RemediationFinished(ctx context.Context, kind resource.Kind, status resource.OutcomeStatus) {
	m.remediations.Add(ctx, 1, m.attrs(kind, attribute.String("status", string(status))))
}

// RunFinished records a run and its duration.
func (m *EngineMetrics) RunFinished(ctx context.Context, op string, kind resource.Kind, d time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	opt := m.attrs(kind, attribute.String("operation", op), attribute.String("status", status))
	m.runs.Add(ctx, 1, opt)
	m.runDuration.Record(ctx, d.Seconds(), opt)
}
