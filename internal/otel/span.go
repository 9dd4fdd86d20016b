// Package otel provides OpenTelemetry instrumentation utilities for the mirror synchronizer.
package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Common attribute keys used across the application.
// Using shared keys ensures consistent attribute naming in traces.
const (
	AttrRunID       = attribute.Key("run.id")
	AttrKind        = attribute.Key("resource.kind")
	AttrResourceID  = attribute.Key("resource.id")
	AttrTable       = attribute.Key("mirror.table")
	AttrTenancy     = attribute.Key("scope.tenancy")
	AttrRegion      = attribute.Key("scope.region")
	AttrParent      = attribute.Key("scope.parent")
	AttrResultCount = attribute.Key("result.count")
	AttrDeleted     = attribute.Key("result.deleted")
)

// StartSpan starts a new span if the tracer is non-nil, otherwise returns a no-op span.
// The no-op span is detached from any span already in ctx, so ending it never
// ends the caller's span.
func StartSpan(
	ctx context.Context,
	tracer trace.Tracer,
	name string,
	opts ...trace.SpanStartOption,
) (context.Context, trace.Span) {
	if tracer == nil {
		return ctx, noop.Span{}
	}
	return tracer.Start(ctx, name, opts...)
}

// RecordError records an error on a span and sets the span status to error.
// It safely handles nil spans and nil errors.
// The status description stays generic so that SQL text or connection strings
// never end up in the span status; the full error is kept in the span event.
func RecordError(span trace.Span, err error) {
	if err != nil && span != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "operation failed")
	}
}
