package telemetry

import (
	"context"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestLogExporterWritesSpans(t *testing.T) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(log.DebugLevel)
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(NewLogExporter(logger, log.DebugLevel)))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	ctx, parent := tp.Tracer("test").Start(context.Background(), "tasks.reorder")
	_, child := tp.Tracer("test").Start(ctx, "tasks.reorder.assign")
	child.SetAttributes(attribute.String("task.id", "t1"))
	child.End()
	parent.End()

	entries := hook.AllEntries()
	if len(entries) != 2 {
		t.Fatalf("expected 2 span entries, got %d", len(entries))
	}
	first := entries[0]
	if first.Data["span"] != "tasks.reorder.assign" || first.Data["task.id"] != "t1" {
		t.Fatalf("unexpected entry %#v", first.Data)
	}
	if _, ok := first.Data["parent_id"]; !ok {
		t.Fatal("expected parent id on child span")
	}
	if first.Level != log.DebugLevel {
		t.Fatalf("unexpected level %v", first.Level)
	}
}

func TestLogExporterSkipsDisabledLevel(t *testing.T) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(log.InfoLevel)
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(NewLogExporter(logger, log.DebugLevel)))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	_, span := tp.Tracer("test").Start(context.Background(), "tasks.update")
	span.End()

	if n := len(hook.AllEntries()); n != 0 {
		t.Fatalf("expected no entries, got %d", n)
	}
}
