package telemetry

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func recordingTracer(t *testing.T, debug bool) (*Tracer, *tracetest.SpanRecorder) {
	t.Helper()
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return NewTracerFromProvider(tp, "test", debug), sr
}

func attrs(span sdktrace.ReadOnlySpan) map[attribute.Key]attribute.Value {
	out := make(map[attribute.Key]attribute.Value)
	for _, kv := range span.Attributes() {
		out[kv.Key] = kv.Value
	}
	return out
}

func TestToolSpan(t *testing.T) {
	tracer, sr := recordingTracer(t, false)

	_, span := tracer.StartToolSpan(context.Background(), "launch-background-process")
	tracer.EndToolSpan(span, ToolSpanOptions{
		Tool:      "launch-background-process",
		Args:      map[string]interface{}{"command": "echo", "args": []string{"hi"}},
		Result:    "Process launched successfully. ID: p-1",
		ProcessID: "p-1",
	}, nil)

	spans := sr.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "tool.launch-background-process", spans[0].Name())
	assert.Equal(t, codes.Ok, spans[0].Status().Code)

	a := attrs(spans[0])
	assert.Equal(t, "echo", a["tool.arg.command"].AsString())
	assert.Equal(t, `["hi"]`, a["tool.arg.args"].AsString())
	assert.Equal(t, "p-1", a["process.id"].AsString())
	_, hasResult := a["tool.result"]
	assert.False(t, hasResult, "results are only recorded in debug mode")
}

func TestToolSpanDebugAndError(t *testing.T) {
	tracer, sr := recordingTracer(t, true)
	assert.True(t, tracer.Debug())

	_, span := tracer.StartToolSpan(context.Background(), "wait")
	tracer.EndToolSpan(span, ToolSpanOptions{Tool: "wait", Result: "partial", IsError: true}, errors.New("canceled"))

	spans := sr.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	a := attrs(spans[0])
	assert.Equal(t, "partial", a["tool.result"].AsString())
	assert.True(t, a["tool.is_error"].AsBool())
}

func TestRequestSpanParentsToolSpan(t *testing.T) {
	tracer, sr := recordingTracer(t, false)

	ctx, req := tracer.StartRequestSpan(context.Background(), "tools/call", 7)
	_, tool := tracer.StartToolSpan(ctx, "pop-task")
	tracer.EndToolSpan(tool, ToolSpanOptions{Tool: "pop-task"}, nil)
	tracer.EndRequestSpan(req, -32602, "unknown tool")

	spans := sr.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, spans[1].SpanContext().SpanID(), spans[0].Parent().SpanID())
	assert.Equal(t, "mcp.tools/call", spans[1].Name())
	assert.Equal(t, codes.Error, spans[1].Status().Code)
	a := attrs(spans[1])
	assert.Equal(t, "7", a["rpc.jsonrpc.request_id"].AsString())
	assert.Equal(t, int64(-32602), a["rpc.jsonrpc.error_code"].AsInt64())
}

func TestNoopTracer(t *testing.T) {
	tracer := NewNoopTracer()
	_, span := tracer.StartToolSpan(context.Background(), "x")
	tracer.EndToolSpan(span, ToolSpanOptions{}, nil)
	assert.False(t, span.SpanContext().IsValid())
}

func TestGlobalTracer(t *testing.T) {
	SetGlobalTracer(nil)
	assert.NotNil(t, GetTracer())

	tracer := NewNoopTracer()
	SetGlobalTracer(tracer)
	defer SetGlobalTracer(nil)
	assert.Same(t, tracer, GetTracer())
}

func TestContextPropagation(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	defer tp.Shutdown(context.Background())

	prop := propagation.TraceContext{}
	ctx, span := tp.Tracer("t").Start(context.Background(), "parent")
	defer span.End()

	carrier := MapCarrier{}
	prop.Inject(ctx, carrier)
	require.Contains(t, carrier.Keys(), "traceparent")

	extracted := prop.Extract(context.Background(), carrier)
	assert.Equal(t, span.SpanContext().TraceID(), traceIDOf(extracted))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 5))
	assert.Equal(t, "ab...", truncate("abcdef", 2))
	assert.Equal(t, "42", truncateAny(42, 10))
	assert.Equal(t, "true", truncateAny(true, 10))
	assert.Equal(t, "<unencodable>", truncateAny(make(chan int), 10))
	assert.True(t, strings.HasSuffix(truncateAny(strings.Repeat("x", 600), 500), "..."))
}

func TestInitProviderRequiresEndpoint(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	_, err := InitProvider(context.Background(), ProviderConfig{})
	assert.Error(t, err)
}

func TestInitProviderUnknownProtocol(t *testing.T) {
	_, err := InitProvider(context.Background(), ProviderConfig{Endpoint: "localhost:4317", Protocol: "carrier-pigeon"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown protocol")
}

func traceIDOf(ctx context.Context) trace.TraceID {
	return trace.SpanContextFromContext(ctx).TraceID()
}
