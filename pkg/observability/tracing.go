package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// TracerName is the instrumentation scope of weave spans.
const TracerName = "github.com/aretw0/weave"

// Span names.
const (
	SpanFrame = "weave.frame"
	SpanNode  = "weave.node"
)

// Attribute keys shared by spans and logs.
const (
	AttrRunID     = attribute.Key("weave.run_id")
	AttrProgramID = attribute.Key("weave.program_id")
	AttrNodeID    = attribute.Key("weave.node_id")
	AttrNodeType  = attribute.Key("weave.node_type")
	AttrAttempt   = attribute.Key("weave.attempt")
	AttrReplayed  = attribute.Key("weave.replayed")
	AttrOutcome   = attribute.Key("weave.outcome")
)

// Tracer returns a tracer from tp, or a no-op tracer when tp is nil.
func Tracer(tp trace.TracerProvider) trace.Tracer {
	if tp == nil {
		return noop.NewTracerProvider().Tracer(TracerName)
	}
	return tp.Tracer(TracerName)
}

// EndSpan records err on span, if any, and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// StartNode opens a node span as a child of ctx.
func StartNode(ctx context.Context, tr trace.Tracer, nodeID, nodeType string, attempt int) (context.Context, trace.Span) {
	return tr.Start(ctx, SpanNode, trace.WithAttributes(
		AttrNodeID.String(nodeID),
		AttrNodeType.String(nodeType),
		AttrAttempt.Int(attempt),
	))
}
