package tracing

import (
	"context"
	"testing"
)

func TestDefaultTracerConfig(t *testing.T) {
	cfg := DefaultTracerConfig()

	if cfg.Endpoint != "localhost:4318" {
		t.Errorf("unexpected endpoint: %s", cfg.Endpoint)
	}
	if cfg.ServiceName != "dispatchd" {
		t.Errorf("unexpected service name: %s", cfg.ServiceName)
	}
	if !cfg.Enabled {
		t.Error("expected Enabled=true")
	}
}

func TestInitTracer_Disabled(t *testing.T) {
	cfg := DefaultTracerConfig()
	cfg.Enabled = false

	shutdown, err := InitTracer(context.Background(), cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Shutdown should be a no-op
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown returned error: %v", err)
	}
}

func TestTracer(t *testing.T) {
	if Tracer() == nil {
		t.Fatal("expected non-nil tracer")
	}
}

func TestSpanHelpers(t *testing.T) {
	ctx := context.Background()

	c, span := TaskSpan(ctx, "process", "task-1", "acme/widgets")
	if c == nil || span == nil {
		t.Fatal("TaskSpan returned nil")
	}
	span.End()

	c, span = ExecutorSpan(ctx, "task-1", "eamonn")
	if c == nil || span == nil {
		t.Fatal("ExecutorSpan returned nil")
	}
	span.End()

	c, span = IngestSpan(ctx, "webhook", "issues")
	if c == nil || span == nil {
		t.Fatal("IngestSpan returned nil")
	}
	span.End()
}
