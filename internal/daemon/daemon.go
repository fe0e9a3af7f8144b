// Package daemon runs periodic reports over a set of kinds and serves
// metrics and health over HTTP.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/oklog/run"

	"github.com/yairfalse/tagsweep/internal/emitter"
	"github.com/yairfalse/tagsweep/internal/telemetry"
	"github.com/yairfalse/tagsweep/pkg/resource"
)

// Reporter builds a grouped report for one kind.
type Reporter interface {
	Report(ctx context.Context, kind resource.Kind, tagName string) ([]resource.Group[resource.Record], error)
}

// Config holds daemon configuration
type Config struct {
	Provider    string
	Interval    time.Duration
	Kinds       []resource.Kind
	Tag         string
	MetricsAddr string
}

// Daemon manages continuous reporting
type Daemon struct {
	provider    string
	interval    time.Duration
	kinds       []resource.Kind
	tag         string
	metricsAddr string

	reporter Reporter
	emit     emitter.Emitter
	metrics  *DaemonMetrics
	logger   *telemetry.Logger

	startTime time.Time
	runCount  atomic.Int64

	mu      sync.RWMutex
	lastRun time.Time
	failing map[resource.Kind]string
}

// NewDaemon creates a new daemon instance
func NewDaemon(cfg Config, reporter Reporter, emit emitter.Emitter) (*Daemon, error) {
	if reporter == nil {
		return nil, errors.New("daemon requires a reporter")
	}
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("interval must be positive, got %s", cfg.Interval)
	}
	if len(cfg.Kinds) == 0 {
		return nil, errors.New("daemon requires at least one kind")
	}
	if emit == nil {
		emit = emitter.NewMultiEmitter()
	}

	metrics, err := NewDaemonMetrics()
	if err != nil {
		return nil, fmt.Errorf("create daemon metrics: %w", err)
	}

	return &Daemon{
		provider:    cfg.Provider,
		interval:    cfg.Interval,
		kinds:       cfg.Kinds,
		tag:         cfg.Tag,
		metricsAddr: cfg.MetricsAddr,
		reporter:    reporter,
		emit:        emit,
		metrics:     metrics,
		logger:      telemetry.NewLogger("daemon"),
		startTime:   time.Now(),
		failing:     make(map[resource.Kind]string),
	}, nil
}

// Start runs a report pass immediately and then on every interval until
// ctx is done.
func (d *Daemon) Start(ctx context.Context) error {
	d.runReports(ctx)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			d.runReports(ctx)
		}
	}
}

// Run starts the report loop, the HTTP server and a signal handler as one
// actor group. It returns when any of them stops.
func (d *Daemon) Run(ctx context.Context) error {
	var g run.Group

	{
		ctx, cancel := context.WithCancel(ctx)
		g.Add(func() error {
			return d.Start(ctx)
		}, func(error) {
			cancel()
		})
	}

	if d.metricsAddr != "" {
		srv := &http.Server{
			Addr:              d.metricsAddr,
			Handler:           d.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Add(func() error {
			d.logger.Info().Str("addr", d.metricsAddr).Msg("starting metrics server")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		}, func(error) {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		})
	}

	g.Add(run.SignalHandler(ctx, syscall.SIGINT, syscall.SIGTERM))

	err := g.Run()
	var sig run.SignalError
	if errors.As(err, &sig) {
		d.logger.Info().Str("signal", sig.Signal.String()).Msg("shutting down")
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (d *Daemon) runReports(ctx context.Context) {
	d.runCount.Add(1)
	d.logger.WithContext(ctx).Info().Int("kinds", len(d.kinds)).Msg("starting report pass")

	for _, kind := range d.kinds {
		if ctx.Err() != nil {
			return
		}
		d.reportKind(ctx, kind)
	}

	d.mu.Lock()
	d.lastRun = time.Now()
	d.mu.Unlock()
}

func (d *Daemon) reportKind(ctx context.Context, kind resource.Kind) {
	start := time.Now()
	groups, err := d.reporter.Report(ctx, kind, d.tag)
	duration := time.Since(start)

	status := "success"
	if err != nil {
		status = "error"
	}
	d.metrics.RecordReport(ctx, status, d.provider, kind)
	d.metrics.RecordReportDuration(ctx, duration.Seconds(), status)

	d.mu.Lock()
	if err != nil {
		d.failing[kind] = err.Error()
	} else {
		delete(d.failing, kind)
	}
	d.mu.Unlock()

	if err == nil {
		d.metrics.RecordResources(ctx, int64(resource.Total(groups)), d.provider, kind)
	}

	report := emitter.Report{
		Provider: d.provider,
		Kind:     kind,
		Tag:      d.tag,
		Groups:   groups,
		Duration: duration,
		Error:    err,
	}
	if err := d.emit.Emit(ctx, report); err != nil {
		d.logger.WithContext(ctx).Error().Err(err).Str("kind", string(kind)).Msg("emit failed")
	}
}

// Health returns daemon health status
func (d *Daemon) Health() HealthStatus {
	d.mu.RLock()
	defer d.mu.RUnlock()

	status := HealthStatus{
		Status: "healthy",
		Uptime: int64(time.Since(d.startTime).Seconds()),
		Runs:   d.runCount.Load(),
	}
	if !d.lastRun.IsZero() {
		last := d.lastRun
		status.LastRun = &last
	}
	if len(d.failing) > 0 {
		status.Status = "degraded"
		status.Failing = make(map[string]string, len(d.failing))
		for k, v := range d.failing {
			status.Failing[string(k)] = v
		}
	}
	return status
}

// HealthStatus represents daemon health
type HealthStatus struct {
	Status  string            `json:"status"`
	Uptime  int64             `json:"uptime_seconds"`
	Runs    int64             `json:"runs"`
	LastRun *time.Time        `json:"last_run,omitempty"`
	Failing map[string]string `json:"failing,omitempty"`
}

// RunCount returns total report passes started
func (d *Daemon) RunCount() int64 {
	return d.runCount.Load()
}

// Close closes the emitter.
func (d *Daemon) Close() error {
	return d.emit.Close()
}
