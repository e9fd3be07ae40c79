// Package tracing wraps the OpenTelemetry API for framegrab spans. Without a
// registered provider (the default build) spans are no-ops.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/nextlevelbuilder/framegrab"

// Attribute keys shared across spans.
const (
	AttrRunID    = attribute.Key("framegrab.run_id")
	AttrDevice   = attribute.Key("framegrab.device")
	AttrFrame    = attribute.Key("framegrab.frame")
	AttrAttempts = attribute.Key("framegrab.attempts")
	AttrFPS      = attribute.Key("framegrab.fps")
)

// Tracer returns the framegrab tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}

// Start opens a span named name.
func Start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, trace.WithAttributes(attrs...))
}

// End records err (if any) on span and ends it.
func End(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
