package persist

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/bft-labs/statesync/pkg/persist"

func defaultTracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

func startHydrationSpan(ctx context.Context, tracer trace.Tracer, runID, name string, version int) (context.Context, trace.Span) {
	return tracer.Start(ctx, "statesync.hydrate", trace.WithAttributes(
		attribute.String("statesync.run_id", runID),
		attribute.String("statesync.name", name),
		attribute.Int("statesync.version", version),
	))
}

func endSpan(span trace.Span, migrated bool, err error) {
	span.SetAttributes(attribute.Bool("statesync.migrated", migrated))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
