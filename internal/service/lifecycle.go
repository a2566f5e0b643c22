package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	cfotel "github.com/nintynick/openclaw-mission-control-sub001/internal/adapter/otel"
	"github.com/nintynick/openclaw-mission-control-sub001/internal/config"
	"github.com/nintynick/openclaw-mission-control-sub001/internal/domain"
	"github.com/nintynick/openclaw-mission-control-sub001/internal/domain/agent"
	"github.com/nintynick/openclaw-mission-control-sub001/internal/domain/audit"
	"github.com/nintynick/openclaw-mission-control-sub001/internal/domain/queue"
	"github.com/nintynick/openclaw-mission-control-sub001/internal/middleware"
	"github.com/nintynick/openclaw-mission-control-sub001/internal/port/broadcast"
	"github.com/nintynick/openclaw-mission-control-sub001/internal/port/database"
	"github.com/nintynick/openclaw-mission-control-sub001/internal/port/gateway"
	"github.com/nintynick/openclaw-mission-control-sub001/internal/port/messagequeue"
)

const checkinFailedReason = "Agent did not check in after wake; max wake attempts reached"

const (
	defaultReconcileTimeout = 30 * time.Second
	defaultDeferDelay       = 5 * time.Second
	checkInAttempts         = 2
)

// LifecycleService wakes agents through their gateway and reconciles wakes
// that were never followed by a check-in.
type LifecycleService struct {
	store    database.Store
	waker    gateway.Waker
	queue    *QueueService
	notifier *NotificationService
	hub      broadcast.Broadcaster
	cfg      config.Lifecycle
	metrics  *cfotel.Metrics
	now      func() time.Time
}

// NewLifecycleService creates a LifecycleService.
func NewLifecycleService(store database.Store, waker gateway.Waker, q *QueueService, cfg config.Lifecycle) *LifecycleService {
	if cfg.CheckinDeadline <= 0 {
		cfg.CheckinDeadline = agent.CheckinDeadlineAfterWake
	}
	if cfg.MaxWakeAttempts <= 0 {
		cfg.MaxWakeAttempts = agent.MaxWakeAttemptsWithoutCheckin
	}
	if cfg.ReconcileTimeout <= 0 {
		cfg.ReconcileTimeout = defaultReconcileTimeout
	}
	if cfg.DeferDelay <= 0 {
		cfg.DeferDelay = defaultDeferDelay
	}
	return &LifecycleService{
		store: store,
		waker: waker,
		queue: q,
		hub:   broadcast.Nop{},
		cfg:   cfg,
		now:   time.Now,
	}
}

// SetNotifier attaches the notification service used for checkin failures.
func (s *LifecycleService) SetNotifier(n *NotificationService) { s.notifier = n }

// SetBroadcaster attaches the dashboard hub.
func (s *LifecycleService) SetBroadcaster(b broadcast.Broadcaster) { s.hub = b }

// SetMetrics attaches otel instruments.
func (s *LifecycleService) SetMetrics(m *cfotel.Metrics) { s.metrics = m }

// Wake starts a new wake cycle for an agent of the caller's organization.
func (s *LifecycleService) Wake(ctx context.Context, agentID string) (*agent.Agent, error) {
	a, err := s.orgAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if a.Status == agent.StatusDeleting {
		return nil, domain.Conflictf("agent %s is being deleted", agentID)
	}
	if err := s.wake(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// CheckIn records a heartbeat from an agent of the caller's organization.
func (s *LifecycleService) CheckIn(ctx context.Context, agentID string) (*agent.Agent, error) {
	var a *agent.Agent
	for attempt := 1; ; attempt++ {
		var err error
		a, err = s.orgAgent(ctx, agentID)
		if err != nil {
			return nil, err
		}
		a.CheckIn(s.now().UTC())
		err = s.store.UpdateAgentLifecycle(ctx, a, a.LifecycleGeneration)
		if err == nil {
			break
		}
		// A wake that raced us bumped the generation; the agent is still
		// alive, so apply the check-in on top of it.
		if !errors.Is(err, domain.ErrConflict) || attempt == checkInAttempts {
			return nil, fmt.Errorf("check in agent %s: %w", agentID, err)
		}
		slog.InfoContext(ctx, "lifecycle.checkin.retry", "agent_id", agentID, "error", err)
	}
	slog.InfoContext(ctx, "lifecycle.checkin", "agent_id", a.ID, "generation", a.LifecycleGeneration)
	s.hub.BroadcastEvent(ctx, a.OrganizationID, broadcast.EventAgentLifecycle, a)
	return a, nil
}

func (s *LifecycleService) orgAgent(ctx context.Context, agentID string) (*agent.Agent, error) {
	a, err := s.store.GetAgent(ctx, agentID)
	if err != nil {
		return nil, fmt.Errorf("get agent %s: %w", agentID, err)
	}
	if org := middleware.OrganizationIDFromContext(ctx); org != "" && a.OrganizationID != org {
		return nil, fmt.Errorf("get agent %s: %w", agentID, domain.ErrNotFound)
	}
	return a, nil
}

// wake persists the new generation before calling the gateway so that any
// reconcile task still queued for the previous cycle becomes stale.
func (s *LifecycleService) wake(ctx context.Context, a *agent.Agent) error {
	prevGen := a.LifecycleGeneration
	if a.Status == agent.StatusOnline || a.Status == agent.StatusOffline {
		a.Status = agent.StatusUpdating
	} else {
		a.Status = agent.StatusProvisioning
	}
	a.BeginWake(s.now().UTC(), s.cfg.CheckinDeadline)
	if err := s.store.UpdateAgentLifecycle(ctx, a, prevGen); err != nil {
		return fmt.Errorf("begin wake %s: %w", a.ID, err)
	}
	s.metrics.WakeAttempted(ctx)

	if err := s.waker.Wake(ctx, a); err != nil {
		a.LastProvisionError = err.Error()
		if uerr := s.store.UpdateAgentLifecycle(ctx, a, a.LifecycleGeneration); uerr != nil {
			slog.ErrorContext(ctx, "lifecycle.wake.record_error_failed", "agent_id", a.ID, "error", uerr)
		}
		slog.WarnContext(ctx, "lifecycle.wake.gateway_failed",
			"agent_id", a.ID, "gateway_id", a.GatewayID, "generation", a.LifecycleGeneration, "error", err)
		return fmt.Errorf("%w: wake agent %s: %v", domain.ErrUnavailable, a.ID, err)
	}

	// The deadline restarts once the gateway acknowledged the wake.
	deadline := s.now().UTC().Add(s.cfg.CheckinDeadline)
	a.Status = agent.StatusOnline
	a.LastProvisionError = ""
	a.CheckinDeadlineAt = &deadline
	if err := s.store.UpdateAgentLifecycle(ctx, a, a.LifecycleGeneration); err != nil {
		return fmt.Errorf("complete wake %s: %w", a.ID, err)
	}

	if !s.EnqueueReconcile(ctx, a) {
		slog.WarnContext(ctx, "lifecycle.reconcile.enqueue_failed", "agent_id", a.ID, "generation", a.LifecycleGeneration)
	}
	slog.InfoContext(ctx, "lifecycle.wake.sent",
		"agent_id", a.ID, "generation", a.LifecycleGeneration, "wake_attempts", a.WakeAttempts)
	s.hub.BroadcastEvent(ctx, a.OrganizationID, broadcast.EventAgentLifecycle, a)
	return nil
}

// EnqueueReconcile schedules a reconcile check for the agent's current
// generation at its check-in deadline.
func (s *LifecycleService) EnqueueReconcile(ctx context.Context, a *agent.Agent) bool {
	if a.CheckinDeadlineAt == nil {
		return false
	}
	p := queue.LifecycleReconcile{
		AgentID:           a.ID,
		GatewayID:         a.GatewayID,
		BoardID:           a.BoardID,
		Generation:        a.LifecycleGeneration,
		CheckinDeadlineAt: a.CheckinDeadlineAt.UTC(),
	}
	delay := max(0, a.CheckinDeadlineAt.Sub(s.now()))
	return s.queue.EnqueuePayload(ctx, p, delay)
}

// HandleReconcile is the worker handler for agent_lifecycle_reconcile tasks.
// Legacy payloads carrying the same keys are accepted.
func (s *LifecycleService) HandleReconcile(ctx context.Context, t queue.Task, p queue.Payload) (err error) {
	payload, err := queue.AsLifecycleReconcile(p)
	if err != nil {
		return err
	}
	ctx, span := cfotel.StartReconcileSpan(ctx, payload.AgentID, payload.Generation)
	defer func() { cfotel.EndSpan(span, err) }()

	a, err := s.store.GetAgent(ctx, payload.AgentID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		slog.InfoContext(ctx, "lifecycle.reconcile.skip_missing_agent", "agent_id", payload.AgentID)
		return nil
	case err != nil:
		s.deferTransient(ctx, t, err)
		return nil
	}
	ctx = middleware.WithOrganizationID(ctx, a.OrganizationID)

	if a.LifecycleGeneration != payload.Generation {
		slog.InfoContext(ctx, "lifecycle.reconcile.skip_stale_generation",
			"agent_id", a.ID, "queued_generation", payload.Generation, "current_generation", a.LifecycleGeneration)
		return nil
	}
	if a.HasCheckedInSinceWake() {
		slog.InfoContext(ctx, "lifecycle.reconcile.skip_not_stuck", "agent_id", a.ID, "status", a.Status)
		return nil
	}
	if a.Status == agent.StatusDeleting {
		slog.InfoContext(ctx, "lifecycle.reconcile.skip_deleting", "agent_id", a.ID)
		return nil
	}

	now := s.now()
	deadline := payload.CheckinDeadlineAt
	if a.CheckinDeadlineAt != nil {
		deadline = *a.CheckinDeadlineAt
	}
	if now.Before(deadline) {
		delay := deadline.Sub(now)
		if !s.queue.Defer(ctx, t, "", delay) {
			return fmt.Errorf("defer lifecycle reconcile for agent %s: %w", a.ID, queue.ErrQueueTransient)
		}
		slog.InfoContext(ctx, "lifecycle.reconcile.deferred", "agent_id", a.ID, "delay", delay)
		return nil
	}

	if a.WakeAttempts >= s.cfg.MaxWakeAttempts {
		return s.failCheckin(ctx, t, a)
	}

	wakeCtx, cancel := context.WithTimeout(ctx, s.cfg.ReconcileTimeout)
	defer cancel()
	if err := s.wake(wakeCtx, a); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			slog.InfoContext(ctx, "lifecycle.reconcile.superseded", "agent_id", a.ID)
			return nil
		}
		if errors.Is(err, domain.ErrUnavailable) && s.EnqueueReconcile(ctx, a) {
			// The failed wake still counts; the next pass may give up.
			return nil
		}
		return fmt.Errorf("re-wake agent %s: %w", a.ID, err)
	}
	slog.InfoContext(ctx, "lifecycle.reconcile.retriggered", "agent_id", a.ID, "generation", payload.Generation)
	return nil
}

func (s *LifecycleService) failCheckin(ctx context.Context, t queue.Task, a *agent.Agent) error {
	a.MarkCheckinFailed(checkinFailedReason)
	if err := s.store.UpdateAgentLifecycle(ctx, a, a.LifecycleGeneration); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return nil
		}
		s.deferTransient(ctx, t, err)
		return nil
	}
	slog.WarnContext(ctx, "lifecycle.reconcile.max_attempts_reached",
		"agent_id", a.ID, "wake_attempts", a.WakeAttempts, "max_attempts", s.cfg.MaxWakeAttempts)

	entry := &audit.Entry{
		ActorID:    audit.SystemActorID,
		ActorType:  audit.ActorSystem,
		Action:     audit.ActionAgentCheckinFailed,
		TargetType: audit.TargetAgent,
		TargetID:   a.ID,
		Payload: map[string]any{
			"wake_attempts": a.WakeAttempts,
			"generation":    a.LifecycleGeneration,
		},
	}
	if err := s.store.CreateAuditEntry(ctx, entry); err != nil {
		slog.ErrorContext(ctx, "lifecycle.audit_failed", "agent_id", a.ID, "error", err)
	}

	s.notifier.Notify(ctx, queue.GovernanceNotification{
		EventType:      messagequeue.EventAgentCheckinFailed,
		OrganizationID: a.OrganizationID,
		TargetIDs:      []string{a.ID},
		Payload: map[string]any{
			"agent_id":      a.ID,
			"gateway_id":    a.GatewayID,
			"wake_attempts": a.WakeAttempts,
		},
	})
	s.hub.BroadcastEvent(ctx, a.OrganizationID, broadcast.EventAgentLifecycle, a)
	return nil
}

// deferTransient re-enqueues t without counting an attempt when the store is
// briefly unavailable.
func (s *LifecycleService) deferTransient(ctx context.Context, t queue.Task, err error) {
	slog.WarnContext(ctx, "lifecycle.reconcile.store_unavailable", "error", err, "delay", s.cfg.DeferDelay)
	if !s.queue.Defer(ctx, t, "", s.cfg.DeferDelay) {
		slog.ErrorContext(ctx, "lifecycle.reconcile.defer_failed", "task_type", t.TaskType)
	}
}
