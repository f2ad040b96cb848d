// Package telemetry exposes the OpenTelemetry tracer and span helpers for
// the jive server. The global tracer provider is left to the embedding
// process; with no provider installed every span is a no-op.
//
// Custom span attributes use the `jive.` prefix.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/mcp-jive/jive"

// Tracer returns the package-level tracer.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartRequestSpan creates the parent span for one JSON-RPC request.
func StartRequestSpan(ctx context.Context, transport, method string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "rpc.request",
		trace.WithAttributes(
			attribute.String("jive.transport", transport),
			attribute.String("rpc.method", method),
		),
		trace.WithSpanKind(trace.SpanKindServer),
	)
}

// StartToolSpan creates a child span for a tool dispatch.
func StartToolSpan(ctx context.Context, tool, action, namespace string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "tool.call",
		trace.WithAttributes(
			attribute.String("jive.tool", tool),
			attribute.String("jive.action", action),
			attribute.String("jive.namespace", namespace),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// EndToolSpan enriches the tool span with the call outcome.
func EndToolSpan(span trace.Span, errCode string) {
	if errCode != "" {
		span.SetAttributes(attribute.String("jive.error_code", errCode))
		span.SetStatus(codes.Error, errCode)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// StartSearchSpan creates a child span for a search engine query.
func StartSearchSpan(ctx context.Context, searchType string, limit int) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "search.query",
		trace.WithAttributes(
			attribute.String("jive.search_type", searchType),
			attribute.Int("jive.limit", limit),
		),
	)
}

// StartSyncSpan creates a child span for a sync or backup pass.
func StartSyncSpan(ctx context.Context, operation, namespace string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "sync."+operation,
		trace.WithAttributes(
			attribute.String("jive.namespace", namespace),
		),
	)
}
