package api

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestRequestMetricsLog(t *testing.T) {
	logger, hook := test.NewNullLogger()
	tp, exporter, restore := setupTestTracer(t)
	defer restore()

	metrics, _ := newRequestMetrics(context.Background(), logger, "/api/tasks")
	metrics.start = metrics.start.Add(-50 * time.Millisecond)
	metrics.ObserveAuth(10 * time.Millisecond)
	metrics.ObserveStore(15 * time.Millisecond)
	metrics.ObserveStore(5 * time.Millisecond)
	metrics.ObserveEncode(5 * time.Millisecond)
	metrics.SetTasksReturned(3)

	metrics.Log(http.StatusOK, nil)

	if err := tp.ForceFlush(context.Background()); err != nil {
		t.Fatalf("force flush spans: %v", err)
	}

	entry := hook.LastEntry()
	if entry == nil {
		t.Fatal("expected log entry")
	}
	if entry.Message != requestMetricsName || entry.Level != log.InfoLevel {
		t.Fatalf("unexpected entry: %s at %v", entry.Message, entry.Level)
	}
	if entry.Data["route"] != "/api/tasks" || entry.Data["tasks_returned"] != 3 {
		t.Fatalf("unexpected fields: %#v", entry.Data)
	}
	if store, ok := entry.Data["store_ms"].(float64); !ok || store != 20 {
		t.Fatalf("expected accumulated store time, got %#v", entry.Data["store_ms"])
	}
	if total, ok := entry.Data["total_ms"].(float64); !ok || total < 50 {
		t.Fatalf("unexpected total_ms: %#v", entry.Data["total_ms"])
	}
	if _, ok := entry.Data["error_stage"]; ok {
		t.Fatalf("expected no error stage, got %#v", entry.Data["error_stage"])
	}
	if traceID, ok := entry.Data["trace_id"].(string); !ok || traceID == "" {
		t.Fatalf("expected trace_id to be recorded, got %#v", entry.Data["trace_id"])
	}

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	span := spans[0]
	if span.Name != requestSpanName {
		t.Fatalf("unexpected span name: %s", span.Name)
	}
	attrs := attributesToMap(span.Attributes)
	if attrs["http.route"] != "/api/tasks" {
		t.Fatalf("span route attribute mismatch: %#v", attrs["http.route"])
	}
	if code, ok := attrs["http.status_code"].(int64); !ok || code != int64(http.StatusOK) {
		t.Fatalf("unexpected http.status_code on span: %#v", attrs["http.status_code"])
	}
	if span.Status.Code != codes.Ok {
		t.Fatalf("expected span status Ok, got %v", span.Status.Code)
	}
}

func TestRequestMetricsLogWithErrorSetsSpanStatus(t *testing.T) {
	logger, hook := test.NewNullLogger()
	tp, exporter, restore := setupTestTracer(t)
	defer restore()

	metrics, _ := newRequestMetrics(context.Background(), logger, "/api/tasks/:id")
	metrics.SetErrorStage("storage")
	metrics.SetCause(errors.New("storage failure"))

	metrics.Log(http.StatusInternalServerError, nil)

	if err := tp.ForceFlush(context.Background()); err != nil {
		t.Fatalf("force flush spans: %v", err)
	}
	entry := hook.LastEntry()
	if entry == nil || entry.Level != log.ErrorLevel {
		t.Fatalf("expected error entry, got %#v", entry)
	}
	if entry.Data["error"] != "storage failure" || entry.Data["error_stage"] != "storage" {
		t.Fatalf("unexpected fields %#v", entry.Data)
	}

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if spans[0].Status.Code != codes.Error || spans[0].Status.Description != "storage failure" {
		t.Fatalf("unexpected span status %+v", spans[0].Status)
	}
	if attributesToMap(spans[0].Attributes)["tasks.error_stage"] != "storage" {
		t.Fatalf("expected error stage attribute")
	}
}

func TestSeverityForStatus(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		err       error
		wantText  string
		wantLevel log.Level
	}{
		{name: "ok", status: http.StatusOK, wantText: "INFO", wantLevel: log.InfoLevel},
		{name: "warn", status: http.StatusBadRequest, wantText: "WARN", wantLevel: log.WarnLevel},
		{name: "error", status: http.StatusInternalServerError, wantText: "ERROR", wantLevel: log.ErrorLevel},
		{name: "errorFromErr", status: 0, err: assertErr{}, wantText: "ERROR", wantLevel: log.ErrorLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotText, gotLevel := severityForStatus(tt.status, tt.err)
			if gotText != tt.wantText || gotLevel != tt.wantLevel {
				t.Fatalf("severityForStatus(%d, %v) = %s/%v, want %s/%v", tt.status, tt.err, gotText, gotLevel, tt.wantText, tt.wantLevel)
			}
		})
	}
}

type assertErr struct{}

func (assertErr) Error() string { return "error" }

func setupTestTracer(t *testing.T) (*sdktrace.TracerProvider, *tracetest.InMemoryExporter, func()) {
	t.Helper()

	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSpanProcessor(sdktrace.NewSimpleSpanProcessor(exporter)),
	)
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)

	cleanup := func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			t.Logf("shutdown tracer provider: %v", err)
		}
		otel.SetTracerProvider(prev)
	}
	return tp, exporter, cleanup
}

func attributesToMap(attrs []attribute.KeyValue) map[string]any {
	out := make(map[string]any, len(attrs))
	for _, kv := range attrs {
		out[string(kv.Key)] = kv.Value.AsInterface()
	}
	return out
}
