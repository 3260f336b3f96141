package middleware_test

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/eclipse-edc/Connector-sub001/handler"
	mw "github.com/eclipse-edc/Connector-sub001/middleware"
)

func setupTestTracer() (*tracetest.SpanRecorder, trace.Tracer) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	return sr, tp.Tracer("test")
}

func TestTracing_SpanNameAndAttributes(t *testing.T) {
	sr, tracer := setupTestTracer()
	m := mw.TracingWithTracer(tracer)
	e := newTestEntity()

	if _, err := m(context.Background(), e, okHandler); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	spans := sr.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if spans[0].Name() != "connector.handler.execute" {
		t.Errorf("expected span name %q, got %q", "connector.handler.execute", spans[0].Name())
	}
	if spans[0].Status().Code != codes.Ok {
		t.Errorf("expected status Ok, got %v", spans[0].Status().Code)
	}

	expected := map[string]any{
		"connector.entity.id":         e.ID.String(),
		"connector.entity.type":       "transfer",
		"connector.entity.state":      "REQUESTING",
		"connector.entity.version":    int64(3),
		"connector.attempt":           int64(3),
		"connector.entity.next_state": "STARTED",
	}

	attrMap := make(map[string]any)
	for _, a := range spans[0].Attributes() {
		switch a.Value.Type() {
		case attribute.STRING:
			attrMap[string(a.Key)] = a.Value.AsString()
		case attribute.INT64:
			attrMap[string(a.Key)] = a.Value.AsInt64()
		}
	}

	for key, want := range expected {
		got, ok := attrMap[key]
		if !ok {
			t.Errorf("missing attribute %q", key)
			continue
		}
		if got != want {
			t.Errorf("attribute %q = %v, want %v", key, got, want)
		}
	}
}

func TestTracing_Error_SetsErrorStatus(t *testing.T) {
	sr, tracer := setupTestTracer()
	m := mw.TracingWithTracer(tracer)

	handlerErr := errors.New("counterparty unreachable")
	_, err := m(context.Background(), newTestEntity(), func(_ context.Context) (handler.Result, error) {
		return handler.Result{}, handlerErr
	})
	if !errors.Is(err, handlerErr) {
		t.Fatalf("expected handler error, got %v", err)
	}

	spans := sr.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if spans[0].Status().Code != codes.Error {
		t.Errorf("expected status Error, got %v", spans[0].Status().Code)
	}
	if spans[0].Status().Description != "counterparty unreachable" {
		t.Errorf("unexpected status description %q", spans[0].Status().Description)
	}

	found := false
	for _, ev := range spans[0].Events() {
		if ev.Name == "exception" {
			found = true
			break
		}
	}
	if !found {
		t.Error("expected 'exception' event to be recorded on span")
	}
}

func TestTracing_PropagatesContext(t *testing.T) {
	sr, tracer := setupTestTracer()
	m := mw.TracingWithTracer(tracer)

	var handlerSpanCtx trace.SpanContext
	_, _ = m(context.Background(), newTestEntity(), func(ctx context.Context) (handler.Result, error) {
		handlerSpanCtx = trace.SpanFromContext(ctx).SpanContext()
		return okHandler(ctx)
	})

	spans := sr.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if !handlerSpanCtx.IsValid() {
		t.Error("expected valid span context in handler, got invalid")
	}
	if handlerSpanCtx.TraceID() != spans[0].SpanContext().TraceID() {
		t.Error("handler span context trace ID does not match middleware span")
	}
}

func TestTracing_DefaultNoopSafe(t *testing.T) {
	called := false
	_, err := mw.Tracing()(context.Background(), newTestEntity(), func(ctx context.Context) (handler.Result, error) {
		called = true
		return okHandler(ctx)
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Error("handler was not called")
	}
}
