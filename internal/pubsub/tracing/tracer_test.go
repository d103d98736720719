package tracing

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newTestTracer(t *testing.T) (*Tracer, *tracetest.SpanRecorder) {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return New(tp, "test"), recorder
}

func attr(kvs []attribute.KeyValue, key string) (attribute.Value, bool) {
	for _, kv := range kvs {
		if string(kv.Key) == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestEndRecordsStatus(t *testing.T) {
	tracer, recorder := newTestTracer(t)

	_, ok := tracer.StartSpan(context.Background(), "ok")
	tracer.End(ok, nil)

	_, failed := tracer.StartSpan(context.Background(), "failed")
	tracer.End(failed, errors.New("boom"))

	spans := recorder.Ended()
	if len(spans) != 2 {
		t.Fatalf("expected 2 ended spans, got %d", len(spans))
	}

	if spans[0].Status().Code != codes.Ok {
		t.Fatalf("expected ok status, got %v", spans[0].Status())
	}
	if v, _ := attr(spans[0].Attributes(), "error"); v.AsBool() {
		t.Fatal("expected error=false")
	}

	if spans[1].Status().Code != codes.Error || spans[1].Status().Description != "boom" {
		t.Fatalf("expected error status, got %v", spans[1].Status())
	}
	if v, _ := attr(spans[1].Attributes(), "error.message"); v.AsString() != "boom" {
		t.Fatalf("expected error.message boom, got %q", v.AsString())
	}
	if len(spans[1].Events()) == 0 {
		t.Fatal("expected the error to be recorded as a span event")
	}
}

func TestAttributes(t *testing.T) {
	tracer, _ := newTestTracer(t)

	attrs := tracer.SubscriberAttributes("file_changed", "email-notifier")
	if v, ok := attr(attrs, "etcwatch.subscriber"); !ok || v.AsString() != "email-notifier" {
		t.Fatalf("unexpected subscriber attribute %v", attrs)
	}

	attrs = tracer.EventAttributes("file_changed", 2)
	if v, ok := attr(attrs, "etcwatch.payload_size"); !ok || v.AsInt64() != 2 {
		t.Fatalf("unexpected payload size attribute %v", attrs)
	}

	attrs = tracer.DatabaseAttributes("persist", "couchbase")
	if v, ok := attr(attrs, "db.system"); !ok || v.AsString() != "couchbase" {
		t.Fatalf("unexpected db attribute %v", attrs)
	}
}
