package emitter

import (
	"context"

	"github.com/yairfalse/tagsweep/internal/engine"
	"github.com/yairfalse/tagsweep/internal/telemetry"
	"github.com/yairfalse/tagsweep/pkg/resource"
)

// LogEmitter writes one structured line per report and one per group.
type LogEmitter struct {
	logger *telemetry.Logger
}

// NewLogEmitter creates a log emitter.
func NewLogEmitter(logger *telemetry.Logger) *LogEmitter {
	if logger == nil {
		logger = telemetry.NewLogger("report")
	}
	return &LogEmitter{logger: logger}
}

// Emit logs the report summary.
func (e *LogEmitter) Emit(ctx context.Context, report Report) error {
	log := e.logger.WithContext(ctx)

	if report.Error != nil {
		log.Error().
			Err(report.Error).
			Str("provider", report.Provider).
			Str("kind", string(report.Kind)).
			Msg("report failed")
		return nil
	}

	for _, g := range report.Groups {
		detached := 0
		for _, m := range g.Members {
			if m.Attachment == resource.Detached {
				detached++
			}
		}
		log.Debug().
			Str("kind", string(report.Kind)).
			Str("key", g.Key).
			Int("count", g.Count()).
			Int("detached", detached).
			Msg("group")
	}

	log.Info().
		Str("provider", report.Provider).
		Str("kind", string(report.Kind)).
		Str("tag", report.Tag).
		Int("groups", len(report.Groups)).
		Int("resources", resource.Total(report.Groups)).
		Int("detached", len(engine.Detached(report.Groups))).
		Dur("duration", report.Duration).
		Msg("report complete")
	return nil
}

// Close is a no-op.
func (e *LogEmitter) Close() error {
	return nil
}
