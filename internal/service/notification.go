package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nintynick/openclaw-mission-control-sub001/internal/domain/queue"
	"github.com/nintynick/openclaw-mission-control-sub001/internal/port/broadcast"
	"github.com/nintynick/openclaw-mission-control-sub001/internal/port/messagequeue"
)

// NotificationService enqueues governance events as governance_notification
// tasks and, on the worker side, publishes them to governance.<event_type>.
type NotificationService struct {
	queue         *QueueService
	mq            messagequeue.Publisher
	hub           broadcast.Broadcaster
	enabledEvents map[string]bool
	now           func() time.Time
}

// NewNotificationService creates a NotificationService. If enabledEvents is
// nil or empty, all events are enabled. mq and hub may be nil on the API side,
// where notifications are only enqueued.
func NewNotificationService(q *QueueService, mq messagequeue.Publisher, hub broadcast.Broadcaster, enabledEvents []string) *NotificationService {
	enabled := make(map[string]bool, len(enabledEvents))
	for _, e := range enabledEvents {
		enabled[e] = true
	}
	if hub == nil {
		hub = broadcast.Nop{}
	}
	return &NotificationService{
		queue:         q,
		mq:            mq,
		hub:           hub,
		enabledEvents: enabled,
		now:           time.Now,
	}
}

// Notify enqueues n. It never fails the caller: the operation that produced
// the event has already committed.
func (s *NotificationService) Notify(ctx context.Context, n queue.GovernanceNotification) bool {
	if s == nil {
		return false
	}
	if len(s.enabledEvents) > 0 && !s.enabledEvents[n.EventType] {
		return false
	}
	if n.TargetIDs == nil {
		n.TargetIDs = []string{}
	}
	ok := s.queue.EnqueuePayload(ctx, n, 0)
	if !ok {
		slog.WarnContext(ctx, "notification.enqueue_failed",
			"event_type", n.EventType, "organization_id", n.OrganizationID, "zone_id", n.ZoneID)
	}
	return ok
}

// HandleNotification is the worker handler for governance_notification tasks.
// A publish failure is returned so the worker retries the task.
func (s *NotificationService) HandleNotification(ctx context.Context, _ queue.Task, p queue.Payload) error {
	n, ok := p.(queue.GovernanceNotification)
	if !ok {
		return fmt.Errorf("%w: expected %s, got %s", queue.ErrMalformedTask, queue.TypeGovernanceNotification, p.TaskType())
	}

	msg := messagequeue.GovernanceEventPayload{
		EventType:      n.EventType,
		OrganizationID: n.OrganizationID,
		ZoneID:         n.ZoneID,
		TargetIDs:      n.TargetIDs,
		Payload:        n.Payload,
		OccurredAt:     s.now().UTC(),
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("%w: marshal %s: %v", queue.ErrMalformedTask, n.EventType, err)
	}

	subject := messagequeue.GovernanceSubject(n.EventType)
	if err := messagequeue.Validate(subject, data); err != nil {
		return fmt.Errorf("%w: %v", queue.ErrMalformedTask, err)
	}
	if s.mq != nil {
		if err := s.mq.Publish(ctx, subject, data); err != nil {
			return fmt.Errorf("publish %s: %w", subject, err)
		}
	}

	if ev := dashboardEvent(n.EventType); ev != "" {
		s.hub.BroadcastEvent(ctx, n.OrganizationID, ev, msg)
	}
	slog.DebugContext(ctx, "notification.published", "subject", subject, "targets", len(n.TargetIDs))
	return nil
}

func dashboardEvent(eventType string) string {
	switch eventType {
	case messagequeue.EventReviewersSelected:
		return broadcast.EventReviewersChosen
	case messagequeue.EventProposalResolved:
		return broadcast.EventProposalResolved
	case messagequeue.EventEscalationCreated, messagequeue.EventEscalationAccepted:
		return broadcast.EventEscalation
	case messagequeue.EventZoneStatusChanged:
		return broadcast.EventZoneStatus
	case messagequeue.EventAgentCheckinFailed:
		return broadcast.EventAgentLifecycle
	default:
		return ""
	}
}
