package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Standard attribute keys for daemon spans.
var (
	AttrDeviceID   = attribute.Key("opencli.device.id")
	AttrSessionID  = attribute.Key("opencli.session.id")
	AttrTaskID     = attribute.Key("opencli.task.id")
	AttrTaskType   = attribute.Key("opencli.task.type")
	AttrDomainID   = attribute.Key("opencli.domain.id")
	AttrPipelineID = attribute.Key("opencli.pipeline.id")
	AttrNodeID     = attribute.Key("opencli.node.id")
)

// StartSpan is a convenience wrapper that starts an internal span with common attributes.
func StartSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// StartServerSpan starts a span for an inbound request (gateway).
func StartServerSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindServer),
	)
}

// StartClientSpan starts a span for an outbound call (a domain's external
// collaborator: HTTP, subprocess, or sandboxed container).
func StartClientSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}
