// Package tracing turns the diagnostic events of flow runs into OpenTelemetry spans.
//
// Every run becomes a flow.run span, with a flow.step child span per step attempt.
// The entries of iterator steps are recorded as events on their step span.
// The handler relies on receiving the events of a run in order, so register it with
// sequence.Trace or sequence.Observe rather than subscribing it to a bus.
package tracing

import (
	"context"
	"fmt"
	"sync"

	"github.com/casualjim/flow"
	"github.com/casualjim/flow/eventbus"
	"github.com/casualjim/flow/sequence"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/casualjim/flow"

// Option configures a tracing handler
type Option func(*Handler)

// WithTracer uses the provided tracer instead of the one from the global tracer provider
func WithTracer(tracer trace.Tracer) Option {
	return func(h *Handler) { h.tracer = tracer }
}

// LogWith is used to log events that arrive for spans that don't exist
func LogWith(log flow.Logger) Option {
	return func(h *Handler) { h.log = log }
}

// New creates a tracing handler
func New(opts ...Option) *Handler {
	h := &Handler{
		runs: make(map[string]*runSpans),
		log:  flow.NopLogger,
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.tracer == nil {
		h.tracer = otel.Tracer(tracerName)
	}
	return h
}

// Handler is an event handler that records runs as spans
type Handler struct {
	tracer trace.Tracer
	log    flow.Logger
	m      sync.Mutex
	runs   map[string]*runSpans
}

type runSpans struct {
	ctx   context.Context
	span  trace.Span
	steps map[int]trace.Span
}

// On event trigger
func (h *Handler) On(evt eventbus.Event) error {
	switch args := evt.Args.(type) {
	case sequence.LifecycleEvent:
		h.m.Lock()
		defer h.m.Unlock()
		if args.Action == sequence.ActionRun {
			h.run(evt, args)
		} else {
			h.step(evt, args)
		}
	case sequence.IterationEvent:
		h.m.Lock()
		defer h.m.Unlock()
		h.entry(evt, args)
	}
	return nil
}

// Len returns the number of runs with an open span
func (h *Handler) Len() int {
	h.m.Lock()
	defer h.m.Unlock()
	return len(h.runs)
}

func (h *Handler) run(evt eventbus.Event, lce sequence.LifecycleEvent) {
	switch lce.State {
	case sequence.StateProcessing:
		ctx := lce.Context
		if ctx == nil {
			ctx = context.Background()
		}
		ctx, span := h.tracer.Start(ctx, "flow.run",
			trace.WithTimestamp(evt.At),
			trace.WithSpanKind(trace.SpanKindInternal),
			trace.WithAttributes(
				attribute.String("flow.name", lce.Flow),
				attribute.String("flow.run_id", lce.RunID),
				attribute.Int("flow.steps", lce.Steps),
			),
		)
		h.runs[lce.RunID] = &runSpans{ctx: ctx, span: span, steps: make(map[int]trace.Span)}

	case sequence.StateSuccess, sequence.StateFailed:
		rs, ok := h.runs[lce.RunID]
		if !ok {
			h.log.Warnf("tracing: no span for run %s", lce.RunID)
			return
		}
		delete(h.runs, lce.RunID)
		for _, span := range rs.steps {
			span.End(trace.WithTimestamp(evt.At))
		}
		end(rs.span, evt, lce.Reason)
	}
}

func (h *Handler) step(evt eventbus.Event, lce sequence.LifecycleEvent) {
	rs, ok := h.runs[lce.RunID]
	if !ok {
		h.log.Warnf("tracing: no span for run %s", lce.RunID)
		return
	}

	switch lce.State {
	case sequence.StateProcessing:
		if prev, ok := rs.steps[lce.Step]; ok {
			prev.AddEvent("flow.step.repeated", trace.WithTimestamp(evt.At))
			prev.End(trace.WithTimestamp(evt.At))
		}
		_, span := h.tracer.Start(rs.ctx, "flow.step",
			trace.WithTimestamp(evt.At),
			trace.WithSpanKind(trace.SpanKindInternal),
			trace.WithAttributes(
				attribute.String("flow.name", lce.Flow),
				attribute.String("flow.run_id", lce.RunID),
				attribute.Int("flow.step", lce.Step),
				attribute.String("flow.step.label", lce.Label),
				attribute.String("flow.step.kind", lce.Kind.String()),
				attribute.Int("flow.step.attempt", lce.Attempt),
			),
		)
		rs.steps[lce.Step] = span

	case sequence.StateSuccess, sequence.StateFailed:
		span, ok := rs.steps[lce.Step]
		if !ok {
			return
		}
		delete(rs.steps, lce.Step)
		end(span, evt, lce.Reason)
	}
}

func (h *Handler) entry(evt eventbus.Event, ite sequence.IterationEvent) {
	rs, ok := h.runs[ite.RunID]
	if !ok {
		return
	}
	span, ok := rs.steps[ite.Step]
	if !ok {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("flow.entry.key", fmt.Sprint(ite.Key)),
		attribute.Int("flow.entry.index", ite.Index),
		attribute.Int("flow.entries.total", ite.Total),
		attribute.Int("flow.entries.completed", ite.Completed),
		attribute.Int("flow.entries.failed", ite.Failed),
	}
	if ite.Reason != nil {
		attrs = append(attrs, attribute.String("error", ite.Reason.Error()))
	}
	span.AddEvent("flow.entry."+ite.State.String(), trace.WithTimestamp(evt.At), trace.WithAttributes(attrs...))
}

func end(span trace.Span, evt eventbus.Event, reason error) {
	if reason != nil {
		span.RecordError(reason, trace.WithTimestamp(evt.At))
		span.SetStatus(codes.Error, reason.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End(trace.WithTimestamp(evt.At))
}
