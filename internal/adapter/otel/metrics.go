package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "mission-control"

// Metrics holds the governance and worker instruments.
type Metrics struct {
	TasksProcessed    metric.Int64Counter
	TasksRetried      metric.Int64Counter
	TasksDropped      metric.Int64Counter
	ProposalsResolved metric.Int64Counter
	Escalations       metric.Int64Counter
	WakeAttempts      metric.Int64Counter
	GardenerFallbacks metric.Int64Counter
	TaskDuration      metric.Float64Histogram
}

// NewMetrics creates all metric instruments on the global meter provider.
func NewMetrics() (*Metrics, error) {
	return NewMetricsFrom(otel.Meter(meterName))
}

// NewMetricsFrom creates all metric instruments on meter.
func NewMetricsFrom(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.TasksProcessed, err = meter.Int64Counter("mc.queue.tasks.processed",
		metric.WithDescription("Tasks handled successfully by the worker"))
	if err != nil {
		return nil, err
	}

	m.TasksRetried, err = meter.Int64Counter("mc.queue.tasks.retried",
		metric.WithDescription("Tasks requeued after a handler failure"))
	if err != nil {
		return nil, err
	}

	m.TasksDropped, err = meter.Int64Counter("mc.queue.tasks.dropped",
		metric.WithDescription("Tasks dropped as malformed or retry-exhausted"))
	if err != nil {
		return nil, err
	}

	m.ProposalsResolved, err = meter.Int64Counter("mc.proposals.resolved",
		metric.WithDescription("Proposals reaching a terminal status"))
	if err != nil {
		return nil, err
	}

	m.Escalations, err = meter.Int64Counter("mc.escalations.created",
		metric.WithDescription("Escalations created"))
	if err != nil {
		return nil, err
	}

	m.WakeAttempts, err = meter.Int64Counter("mc.lifecycle.wake_attempts",
		metric.WithDescription("Agent wake attempts sent to gateways"))
	if err != nil {
		return nil, err
	}

	m.GardenerFallbacks, err = meter.Int64Counter("mc.gardener.fallbacks",
		metric.WithDescription("Reviewer selections that fell back to rules"))
	if err != nil {
		return nil, err
	}

	m.TaskDuration, err = meter.Float64Histogram("mc.queue.task.duration_seconds",
		metric.WithDescription("Task handler duration in seconds"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}

	return m, nil
}

// TaskDone records one processed task. outcome is "ok", "retried" or "dropped".
func (m *Metrics) TaskDone(ctx context.Context, taskType, outcome string, seconds float64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("task_type", taskType))
	switch outcome {
	case "ok":
		m.TasksProcessed.Add(ctx, 1, attrs)
	case "retried":
		m.TasksRetried.Add(ctx, 1, attrs)
	case "dropped":
		m.TasksDropped.Add(ctx, 1, attrs)
	}
	m.TaskDuration.Record(ctx, seconds, attrs)
}

// ProposalResolved counts a terminal proposal by status.
func (m *Metrics) ProposalResolved(ctx context.Context, status string) {
	if m == nil {
		return
	}
	m.ProposalsResolved.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// EscalationCreated counts an escalation by type.
func (m *Metrics) EscalationCreated(ctx context.Context, escalationType string) {
	if m == nil {
		return
	}
	m.Escalations.Add(ctx, 1, metric.WithAttributes(attribute.String("type", escalationType)))
}

// WakeAttempted counts a wake attempt.
func (m *Metrics) WakeAttempted(ctx context.Context) {
	if m == nil {
		return
	}
	m.WakeAttempts.Add(ctx, 1)
}

// GardenerFellBack counts a rule-based fallback by reason.
func (m *Metrics) GardenerFellBack(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.GardenerFallbacks.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}
