package telemetry

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestInit_RequiresServiceName(t *testing.T) {
	_, err := Init(context.Background(), Config{})
	if err == nil {
		t.Fatalf("expected error")
	}
}

func TestInit_NoEndpointIsNoop(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{ServiceName: "vibe"})
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestNewTracerProviderWithExporter_EmitsSpans(t *testing.T) {
	exp := tracetest.NewInMemoryExporter()

	tp, shutdown, err := newTracerProviderWithExporter(exp, Config{ServiceName: "testsvc", ServiceVersion: "v0", Environment: "test"})
	if err != nil {
		t.Fatalf("new tracer provider: %v", err)
	}

	_, sp := tp.Tracer(InstrumentationName).Start(context.Background(), "vibe.checks")
	sp.End()

	if err := tp.ForceFlush(context.Background()); err != nil {
		t.Fatalf("force flush: %v", err)
	}

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if spans[0].Name != "vibe.checks" {
		t.Fatalf("unexpected span name: %q", spans[0].Name)
	}

	found := map[attribute.Key]string{}
	for _, kv := range spans[0].Resource.Attributes() {
		found[kv.Key] = kv.Value.AsString()
	}
	if found["service.name"] != "testsvc" {
		t.Fatalf("expected resource to include service.name=testsvc, got %v", found)
	}
	if found["deployment.environment"] != "test" {
		t.Fatalf("expected deployment.environment=test, got %v", found)
	}
}
