package tracing_test

import (
	"context"
	"errors"
	"testing"

	"github.com/casualjim/flow/sequence"
	"github.com/casualjim/flow/tracing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func setupTestTracer() (*tracetest.SpanRecorder, *tracing.Handler) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	return sr, tracing.New(tracing.WithTracer(tp.Tracer("test")))
}

func pass(_ *sequence.Run, args sequence.Args, next *sequence.Next) { next.Done(args...) }

func attrs(span sdktrace.ReadOnlySpan) map[attribute.Key]attribute.Value {
	res := make(map[attribute.Key]attribute.Value)
	for _, kv := range span.Attributes() {
		res[kv.Key] = kv.Value
	}
	return res
}

func TestTracing_RunAndSteps(t *testing.T) {
	sr, h := setupTestTracer()
	d := sequence.Define("traced", sequence.Trace(h)).
		Step(pass, sequence.Named("load")).
		Step(pass, sequence.Named("save"))

	_, err := d.Go(context.Background(), nil, 1).Get()
	require.NoError(t, err)

	spans := sr.Ended()
	require.Len(t, spans, 3)
	assert.Equal(t, "flow.step", spans[0].Name())
	assert.Equal(t, "flow.step", spans[1].Name())
	assert.Equal(t, "flow.run", spans[2].Name())

	run := spans[2]
	assert.Equal(t, codes.Ok, run.Status().Code)
	assert.Equal(t, "traced", attrs(run)["flow.name"].AsString())
	assert.EqualValues(t, 2, attrs(run)["flow.steps"].AsInt64())

	for i, span := range spans[:2] {
		assert.Equal(t, run.SpanContext().SpanID(), span.Parent().SpanID())
		assert.Equal(t, run.SpanContext().TraceID(), span.SpanContext().TraceID())
		assert.EqualValues(t, i+1, attrs(span)["flow.step"].AsInt64())
		assert.Equal(t, codes.Ok, span.Status().Code)
	}
	assert.Equal(t, "load", attrs(spans[0])["flow.step.label"].AsString())
	assert.Equal(t, "save", attrs(spans[1])["flow.step.label"].AsString())
	assert.Equal(t, 0, h.Len())
}

func TestTracing_Failure(t *testing.T) {
	sr, h := setupTestTracer()
	exp := errors.New("no luck")
	d := sequence.Define("failing", sequence.Trace(h)).
		Step(func(_ *sequence.Run, _ sequence.Args, next *sequence.Next) { next.Fail(exp) })

	_, err := d.Go(context.Background(), nil).Get()
	require.Equal(t, exp, err)

	spans := sr.Ended()
	require.Len(t, spans, 2)
	for _, span := range spans {
		assert.Equal(t, codes.Error, span.Status().Code)
		assert.Equal(t, "no luck", span.Status().Description)
		if assert.NotEmpty(t, span.Events()) {
			assert.Equal(t, "exception", span.Events()[0].Name)
		}
	}
}

func TestTracing_IterationEvents(t *testing.T) {
	sr, h := setupTestTracer()
	d := sequence.Define("iterating", sequence.Trace(h)).
		Stepping(func(_ *sequence.Run, key, value sequence.Value, _ sequence.Args, next *sequence.Next) {
			next.Done(value)
		}, sequence.Named("each"))

	_, err := d.Go(context.Background(), nil, sequence.MapOf("a", 1, "b", 2)).Get()
	require.NoError(t, err)

	spans := sr.Ended()
	require.Len(t, spans, 2)
	var names []string
	for _, evt := range spans[0].Events() {
		names = append(names, evt.Name)
	}
	assert.Equal(t, []string{
		"flow.entry.processing",
		"flow.entry.completed",
		"flow.entry.processing",
		"flow.entry.completed",
	}, names)
	assert.Equal(t, "stepping", attrs(spans[0])["flow.step.kind"].AsString())
}

func TestTracing_Repeat(t *testing.T) {
	sr, h := setupTestTracer()
	d := sequence.Define("repeating", sequence.Trace(h)).
		Step(func(run *sequence.Run, args sequence.Args, next *sequence.Next) {
			if _, again := run.Get("again"); !again {
				run.Set("again", true)
				next.Repeat()()
				return
			}
			next.Done(args...)
		})

	_, err := d.Go(context.Background(), nil).Get()
	require.NoError(t, err)

	spans := sr.Ended()
	require.Len(t, spans, 3)
	assert.EqualValues(t, 1, attrs(spans[0])["flow.step.attempt"].AsInt64())
	if assert.Len(t, spans[0].Events(), 1) {
		assert.Equal(t, "flow.step.repeated", spans[0].Events()[0].Name)
	}
	assert.EqualValues(t, 2, attrs(spans[1])["flow.step.attempt"].AsInt64())
	assert.Equal(t, codes.Ok, spans[1].Status().Code)
}
