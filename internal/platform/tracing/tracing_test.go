package tracing

import (
	"context"
	"errors"
	"strings"
	"testing"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

func TestInit_NoEndpointIsNoop(t *testing.T) {
	p, err := Init(context.Background(), Config{ServiceName: "hms-test"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := p.Shutdown(context.Background()); err != nil {
		t.Errorf("shutdown: %v", err)
	}
	var nilProvider *Provider
	if err := nilProvider.Shutdown(context.Background()); err != nil {
		t.Errorf("nil shutdown: %v", err)
	}
}

func TestTraceParent_RoundTrip(t *testing.T) {
	tp := sdktrace.NewTracerProvider(sdktrace.WithSampler(sdktrace.AlwaysSample()))
	defer tp.Shutdown(context.Background())

	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	defer span.End()

	tp1 := TraceParent(ctx)
	if tp1 == "" {
		t.Fatal("expected traceparent for a sampled span")
	}

	restored := ContextFromTraceParent(context.Background(), tp1)
	sc := trace.SpanContextFromContext(restored)
	if sc.TraceID() != span.SpanContext().TraceID() {
		t.Errorf("trace id mismatch: %s vs %s", sc.TraceID(), span.SpanContext().TraceID())
	}
	if !sc.IsRemote() {
		t.Error("expected restored span context to be remote")
	}
}

func TestTraceParent_Empty(t *testing.T) {
	if got := TraceParent(context.Background()); got != "" {
		t.Errorf("expected empty traceparent, got %q", got)
	}
	ctx := context.Background()
	if ContextFromTraceParent(ctx, "") != ctx {
		t.Error("expected unchanged context")
	}
}

func TestSampler(t *testing.T) {
	if got := sampler(0).Description(); got != "AlwaysOffSampler" {
		t.Errorf("unexpected sampler %s", got)
	}
	if got := sampler(1).Description(); !strings.HasPrefix(got, "ParentBased{root:AlwaysOnSampler") {
		t.Errorf("unexpected sampler %s", got)
	}
}

func TestEnd_RecordsError(t *testing.T) {
	tp := sdktrace.NewTracerProvider(sdktrace.WithSampler(sdktrace.AlwaysSample()))
	defer tp.Shutdown(context.Background())

	_, span := tp.Tracer("test").Start(context.Background(), "op")
	End(span, errors.New("boom"))
	if span.IsRecording() {
		t.Error("span should be ended")
	}

	ro, ok := span.(sdktrace.ReadOnlySpan)
	if !ok {
		t.Fatalf("expected sdk span, got %T", span)
	}
	if ro.Status().Description != "boom" {
		t.Errorf("expected error status, got %+v", ro.Status())
	}
}
