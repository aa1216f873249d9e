// Package telemetry sets up tracing for the service. Finished spans are
// written to the logrus logger so they end up next to the request logs.
package telemetry

import (
	"context"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// LogExporter implements sdktrace.SpanExporter on top of a logrus logger.
type LogExporter struct {
	logger *log.Logger
	level  log.Level
}

// NewLogExporter writes finished spans to logger at level.
func NewLogExporter(logger *log.Logger, level log.Level) *LogExporter {
	return &LogExporter{logger: logger, level: level}
}

func (e *LogExporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	if !e.logger.IsLevelEnabled(e.level) {
		return nil
	}
	for _, s := range spans {
		fields := log.Fields{
			"span":        s.Name(),
			"trace_id":    s.SpanContext().TraceID().String(),
			"span_id":     s.SpanContext().SpanID().String(),
			"duration_ms": float64(s.EndTime().Sub(s.StartTime())) / 1e6,
			"status":      s.Status().Code.String(),
		}
		if p := s.Parent(); p.IsValid() {
			fields["parent_id"] = p.SpanID().String()
		}
		if d := s.Status().Description; d != "" {
			fields["status_description"] = d
		}
		for _, kv := range s.Attributes() {
			fields[string(kv.Key)] = kv.Value.Emit()
		}
		e.logger.WithFields(fields).Log(e.level, "span")
	}
	return nil
}

func (e *LogExporter) Shutdown(context.Context) error { return nil }

// Setup installs a global tracer provider exporting to logger at debug
// level and returns it so the caller can shut it down.
func Setup(logger *log.Logger) *sdktrace.TracerProvider {
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(NewLogExporter(logger, log.DebugLevel)),
	)
	otel.SetTracerProvider(tp)
	return tp
}
