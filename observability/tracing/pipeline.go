package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// PipelineTracer creates spans around pipeline runs and their steps.
type PipelineTracer struct {
	tracer trace.Tracer
}

// NewPipelineTracer creates a PipelineTracer. If tracer is nil, the global
// tracer provider is used.
func NewPipelineTracer(tracer trace.Tracer) *PipelineTracer {
	if tracer == nil {
		tracer = otel.GetTracerProvider().Tracer("contentflow.engine")
	}
	return &PipelineTracer{tracer: tracer}
}

// StartRun begins a span for one pipeline execution.
func (p *PipelineTracer) StartRun(ctx context.Context, pipelineID string, steps int) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, "pipeline.run",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("pipeline.id", pipelineID),
			attribute.Int("pipeline.steps", steps),
		),
	)
}

// StartStep begins a child span for a single step.
func (p *PipelineTracer) StartStep(ctx context.Context, index int, kind, stepID string) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, "pipeline.step."+kind,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.Int("pipeline.step.index", index),
			attribute.String("pipeline.step.kind", kind),
			attribute.String("pipeline.step.id", stepID),
		),
	)
}

// RecordError records an error on the given span and sets the span status.
func (p *PipelineTracer) RecordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// SetSuccess marks a span as successful.
func (p *PipelineTracer) SetSuccess(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}
