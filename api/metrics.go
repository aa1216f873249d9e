package api

import (
	"context"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	requestSpanName    = "tasks.request"
	requestMetricsName = "tasks.request.metrics"
	tracerName         = "taskboard-api/api"
)

// requestMetrics collects timings of one request and reports them both as a
// structured log entry and on the request span.
type requestMetrics struct {
	logger         *log.Logger
	span           trace.Span
	route          string
	start          time.Time
	authDuration   time.Duration
	storeDuration  time.Duration
	encodeDuration time.Duration
	tasksReturned  int
	errorStage     string
	cause          error
}

func newRequestMetrics(ctx context.Context, logger *log.Logger, route string) (*requestMetrics, context.Context) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, requestSpanName,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(attribute.String("http.route", route)))
	return &requestMetrics{
		logger:        logger,
		span:          span,
		route:         route,
		start:         time.Now(),
		tasksReturned: -1,
	}, ctx
}

func (m *requestMetrics) ObserveAuth(duration time.Duration) {
	if duration <= 0 {
		return
	}
	m.authDuration = duration
}

// ObserveStore accumulates time spent in the repository.
func (m *requestMetrics) ObserveStore(duration time.Duration) {
	if duration <= 0 {
		return
	}
	m.storeDuration += duration
}

func (m *requestMetrics) ObserveEncode(duration time.Duration) {
	if duration <= 0 {
		return
	}
	m.encodeDuration = duration
}

func (m *requestMetrics) SetTasksReturned(count int) {
	if count < 0 {
		count = 0
	}
	m.tasksReturned = count
}

func (m *requestMetrics) SetErrorStage(stage string) {
	if stage == "" {
		return
	}
	m.errorStage = stage
}

// SetCause records the error behind a failed response.
func (m *requestMetrics) SetCause(err error) {
	m.cause = err
}

// Log writes the metrics entry and ends the request span.
func (m *requestMetrics) Log(status int, err error) {
	if m == nil {
		return
	}
	if err == nil {
		err = m.cause
	}

	fields := log.Fields{
		"route":    m.route,
		"status":   status,
		"total_ms": durationToMillis(time.Since(m.start)),
	}
	attrs := []attribute.KeyValue{
		attribute.Int("http.status_code", status),
		attribute.Float64("tasks.total_ms", durationToMillis(time.Since(m.start))),
	}

	if m.tasksReturned >= 0 {
		fields["tasks_returned"] = m.tasksReturned
		attrs = append(attrs, attribute.Int("tasks.tasks_returned", m.tasksReturned))
	}
	if m.authDuration > 0 {
		fields["auth_ms"] = durationToMillis(m.authDuration)
	}
	if m.storeDuration > 0 {
		fields["store_ms"] = durationToMillis(m.storeDuration)
		attrs = append(attrs, attribute.Float64("tasks.store_ms", durationToMillis(m.storeDuration)))
	}
	if m.encodeDuration > 0 {
		fields["encode_ms"] = durationToMillis(m.encodeDuration)
	}
	if m.errorStage != "" {
		fields["error_stage"] = m.errorStage
		attrs = append(attrs, attribute.String("tasks.error_stage", m.errorStage))
	}
	if err != nil {
		fields["error"] = err.Error()
	}

	severity, level := severityForStatus(status, err)
	if m.span != nil {
		m.span.SetAttributes(attrs...)
		m.span.AddEvent(requestMetricsName, trace.WithAttributes(attribute.String("severity_text", severity)))
		if level == log.ErrorLevel {
			desc := http.StatusText(status)
			if err != nil {
				m.span.RecordError(err)
				desc = err.Error()
			}
			m.span.SetStatus(codes.Error, desc)
		} else {
			m.span.SetStatus(codes.Ok, "")
		}
		if sc := m.span.SpanContext(); sc.HasTraceID() {
			fields["trace_id"] = sc.TraceID().String()
		}
		m.span.End()
	}

	if m.logger != nil {
		m.logger.WithFields(fields).Log(level, requestMetricsName)
	}
}

// severityForStatus grades a response: server errors (or a status-less
// failure) are errors, client errors warnings.
func severityForStatus(status int, err error) (string, log.Level) {
	switch {
	case status >= http.StatusInternalServerError, status == 0 && err != nil:
		return "ERROR", log.ErrorLevel
	case status >= http.StatusBadRequest:
		return "WARN", log.WarnLevel
	}
	return "INFO", log.InfoLevel
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}
