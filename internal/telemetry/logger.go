package telemetry

import (
	"context"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// OTELHook adds trace and span IDs to every log entry
type OTELHook struct{}

func (h OTELHook) Run(e *zerolog.Event, level zerolog.Level, msg string) {
	// Skip if no context
	ctx := e.GetCtx()
	if ctx == nil {
		return
	}

	span := trace.SpanFromContext(ctx)
	if !span.SpanContext().IsValid() {
		return
	}

	e.Str("trace_id", span.SpanContext().TraceID().String())
	e.Str("span_id", span.SpanContext().SpanID().String())

	if level == zerolog.ErrorLevel {
		span.SetStatus(codes.Error, msg)
	}
}

// Logger wraps zerolog with OTEL integration
type Logger struct {
	zerolog.Logger
}

// NewLogger creates a component logger that writes through the global logger
// and stamps trace context.
func NewLogger(component string) *Logger {
	return NewLoggerTo(logOutput{}, component)
}

// NewLoggerTo creates a component logger writing to w.
func NewLoggerTo(w io.Writer, component string) *Logger {
	logger := zerolog.New(w).
		With().
		Timestamp().
		Str("component", component).
		Logger().
		Hook(OTELHook{})

	return &Logger{Logger: logger}
}

// WithContext returns a logger with context (for trace propagation)
func (l *Logger) WithContext(ctx context.Context) *zerolog.Logger {
	logger := l.Logger.With().Ctx(ctx).Logger()
	return &logger
}

// SetupGlobal configures the process-wide logger: console output on stderr,
// the given level, and the OTEL hook.
func SetupGlobal(level string, console bool) error {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return err
	}
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	zerolog.SetGlobalLevel(lvl)

	var w io.Writer = os.Stderr
	if console {
		w = zerolog.ConsoleWriter{Out: os.Stderr}
	}
	globalOutput = w
	log.Logger = zerolog.New(w).With().Timestamp().Logger().Hook(OTELHook{})
	return nil
}

// globalOutput is where component loggers write. Set by SetupGlobal.
var globalOutput io.Writer = os.Stderr

// logOutput resolves globalOutput on every write so component loggers
// created before SetupGlobal still honour it.
type logOutput struct{}

func (logOutput) Write(p []byte) (int, error) {
	return globalOutput.Write(p)
}
