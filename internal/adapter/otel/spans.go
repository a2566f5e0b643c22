package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "mission-control"

// StartTaskSpan starts a span for one dequeued task.
func StartTaskSpan(ctx context.Context, queue, taskType string, attempts int) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "queue.task",
		trace.WithAttributes(
			attribute.String("queue.name", queue),
			attribute.String("task.type", taskType),
			attribute.Int("task.attempts", attempts),
		),
	)
}

// StartReconcileSpan starts a span for an agent lifecycle reconcile.
func StartReconcileSpan(ctx context.Context, agentID string, generation int64) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "lifecycle.reconcile",
		trace.WithAttributes(
			attribute.String("agent.id", agentID),
			attribute.Int64("agent.generation", generation),
		),
	)
}

// StartReviewerSelectionSpan starts a span for a gardener selection.
func StartReviewerSelectionSpan(ctx context.Context, proposalID, zoneID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "gardener.select",
		trace.WithAttributes(
			attribute.String("proposal.id", proposalID),
			attribute.String("zone.id", zoneID),
		),
	)
}

// EndSpan records err on span, if any, and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
