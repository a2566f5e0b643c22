package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nintynick/openclaw-mission-control-sub001/internal/config"
	"github.com/nintynick/openclaw-mission-control-sub001/internal/domain"
	"github.com/nintynick/openclaw-mission-control-sub001/internal/domain/agent"
	"github.com/nintynick/openclaw-mission-control-sub001/internal/domain/audit"
	"github.com/nintynick/openclaw-mission-control-sub001/internal/domain/queue"
	"github.com/nintynick/openclaw-mission-control-sub001/internal/port/broadcast"
	"github.com/nintynick/openclaw-mission-control-sub001/internal/port/messagequeue"
)

type lifecycleFixture struct {
	store *mockStore
	waker *mockWaker
	queue *QueueService
	back  *memBackend
	hub   *recordingHub
	svc   *LifecycleService
	clock *time.Time
}

func newLifecycleFixture(t *testing.T) *lifecycleFixture {
	t.Helper()
	clock := testNow
	f := &lifecycleFixture{
		store: newMockStore(),
		waker: &mockWaker{},
		hub:   &recordingHub{},
		clock: &clock,
	}
	now := func() time.Time { return *f.clock }
	f.back = newMemBackend(now)
	f.queue = NewQueueService(f.back, "default")
	f.queue.now = now
	f.svc = NewLifecycleService(f.store, f.waker, f.queue, config.Lifecycle{
		CheckinDeadline:  30 * time.Second,
		MaxWakeAttempts:  3,
		ReconcileTimeout: time.Second,
		DeferDelay:       5 * time.Second,
	})
	f.svc.now = now
	f.svc.SetBroadcaster(f.hub)
	f.svc.SetNotifier(NewNotificationService(f.queue, nil, nil, nil))
	return f
}

func (f *lifecycleFixture) addAgent(a agent.Agent) {
	if a.OrganizationID == "" {
		a.OrganizationID = testOrg
	}
	if a.GatewayID == "" {
		a.GatewayID = "gw-1"
	}
	f.store.agents[a.ID] = a
}

func (f *lifecycleFixture) advance(d time.Duration) { *f.clock = f.clock.Add(d) }

// reconcileTask pops the queued reconcile task regardless of its visibility.
func (f *lifecycleFixture) reconcileTask(t *testing.T) (queue.Task, queue.Payload) {
	t.Helper()
	for _, it := range f.back.all("default") {
		task, err := queue.DecodeEnvelope(it.data)
		if err != nil {
			t.Fatal(err)
		}
		if task.TaskType != queue.TypeLifecycleReconcile {
			continue
		}
		p, err := queue.Decode(task)
		if err != nil {
			t.Fatal(err)
		}
		return task, p
	}
	t.Fatal("no reconcile task queued")
	return queue.Task{}, nil
}

func (f *lifecycleFixture) countTasks(t *testing.T, taskType string) int {
	t.Helper()
	n := 0
	for _, it := range f.back.all("default") {
		task, err := queue.DecodeEnvelope(it.data)
		if err != nil {
			t.Fatal(err)
		}
		if task.TaskType == taskType {
			n++
		}
	}
	return n
}

func TestLifecycle_Wake(t *testing.T) {
	f := newLifecycleFixture(t)
	f.addAgent(agent.Agent{ID: "a1", Status: agent.StatusOffline, LifecycleGeneration: 4})

	a, err := f.svc.Wake(orgCtx("u1"), "a1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.LifecycleGeneration != 5 || a.WakeAttempts != 1 {
		t.Fatalf("expected generation 5 attempt 1, got %d/%d", a.LifecycleGeneration, a.WakeAttempts)
	}
	if a.Status != agent.StatusOnline {
		t.Fatalf("expected online after acknowledged wake, got %s", a.Status)
	}
	if len(f.waker.calls) != 1 {
		t.Fatalf("expected one gateway call, got %d", len(f.waker.calls))
	}

	stored := f.store.agents["a1"]
	if stored.LifecycleGeneration != 5 || stored.CheckinDeadlineAt == nil {
		t.Fatalf("wake not persisted: %+v", stored)
	}

	_, p := f.reconcileTask(t)
	rec := p.(queue.LifecycleReconcile)
	if rec.Generation != 5 || !rec.CheckinDeadlineAt.Equal(testNow.Add(30*time.Second)) {
		t.Fatalf("unexpected reconcile payload %+v", rec)
	}
	if len(f.hub.events) != 1 || f.hub.events[0] != broadcast.EventAgentLifecycle {
		t.Fatalf("expected lifecycle broadcast, got %v", f.hub.events)
	}
}

func TestLifecycle_WakeErrors(t *testing.T) {
	tests := []struct {
		name    string
		agent   agent.Agent
		waker   error
		wantErr error
	}{
		{
			name:    "other organization",
			agent:   agent.Agent{ID: "a1", OrganizationID: "org-2", Status: agent.StatusOnline},
			wantErr: domain.ErrNotFound,
		},
		{
			name:    "deleting",
			agent:   agent.Agent{ID: "a1", Status: agent.StatusDeleting},
			wantErr: domain.ErrConflict,
		},
		{
			name:    "gateway down",
			agent:   agent.Agent{ID: "a1", Status: agent.StatusOnline},
			waker:   errors.New("dial gateway: connection refused"),
			wantErr: domain.ErrUnavailable,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newLifecycleFixture(t)
			f.waker.err = tt.waker
			f.addAgent(tt.agent)

			_, err := f.svc.Wake(orgCtx("u1"), "a1")
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestLifecycle_WakeGatewayFailureRecordsError(t *testing.T) {
	f := newLifecycleFixture(t)
	f.waker.err = errors.New("gateway returned 503")
	f.addAgent(agent.Agent{ID: "a1", Status: agent.StatusOnline, LifecycleGeneration: 1})

	if _, err := f.svc.Wake(orgCtx("u1"), "a1"); err == nil {
		t.Fatal("expected error")
	}
	stored := f.store.agents["a1"]
	if stored.LastProvisionError == "" {
		t.Fatal("expected the gateway error to be recorded")
	}
	if stored.LifecycleGeneration != 2 {
		t.Fatalf("generation must advance before the gateway call, got %d", stored.LifecycleGeneration)
	}
	if stored.Status != agent.StatusUpdating {
		t.Fatalf("expected updating, got %s", stored.Status)
	}
}

func TestLifecycle_CheckIn(t *testing.T) {
	f := newLifecycleFixture(t)
	deadline := testNow.Add(time.Minute)
	wake := testNow.Add(-time.Second)
	f.addAgent(agent.Agent{
		ID: "a1", Status: agent.StatusProvisioning, WakeAttempts: 2,
		LastWakeSentAt: &wake, CheckinDeadlineAt: &deadline,
	})

	a, err := f.svc.CheckIn(orgCtx("a1"), "a1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.WakeAttempts != 0 || a.CheckinDeadlineAt != nil || a.Status != agent.StatusOnline {
		t.Fatalf("check-in did not reset the wake cycle: %+v", a)
	}
	if !a.HasCheckedInSinceWake() {
		t.Fatal("expected agent to count as checked in")
	}
}

func TestLifecycle_CheckInRacesWake(t *testing.T) {
	tests := []struct {
		name    string
		bumps   int
		wantErr bool
	}{
		{"one concurrent wake", 1, false},
		{"generation keeps moving", 5, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newLifecycleFixture(t)
			wake := testNow.Add(-time.Second)
			f.addAgent(agent.Agent{ID: "a1", Status: agent.StatusUpdating, LifecycleGeneration: 4, LastWakeSentAt: &wake})

			bumps := tt.bumps
			f.store.beforeAgentUpdate = func(m *mockStore) {
				if bumps == 0 {
					return
				}
				bumps--
				cur := m.agents["a1"]
				cur.LifecycleGeneration++
				m.agents["a1"] = cur
			}

			a, err := f.svc.CheckIn(orgCtx("a1"), "a1")
			if tt.wantErr {
				if !errors.Is(err, domain.ErrConflict) {
					t.Fatalf("expected conflict after retry, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("check-in lost to a concurrent wake: %v", err)
			}
			if a.LifecycleGeneration != 5 || a.Status != agent.StatusOnline {
				t.Fatalf("check-in should land on the new generation: %+v", a)
			}
			if stored := f.store.agents["a1"]; stored.LastSeenAt == nil {
				t.Fatal("check-in not persisted")
			}
		})
	}
}

func TestLifecycle_HandleReconcileSkips(t *testing.T) {
	seen := testNow.Add(time.Second)
	wake := testNow
	deadline := testNow.Add(-time.Second)

	tests := []struct {
		name  string
		agent *agent.Agent
		gen   int64
	}{
		{name: "missing agent", gen: 1},
		{
			name:  "stale generation",
			agent: &agent.Agent{ID: "a1", LifecycleGeneration: 3, LastWakeSentAt: &wake, CheckinDeadlineAt: &deadline},
			gen:   2,
		},
		{
			name:  "checked in",
			agent: &agent.Agent{ID: "a1", LifecycleGeneration: 2, LastWakeSentAt: &wake, LastSeenAt: &seen},
			gen:   2,
		},
		{
			name:  "deleting",
			agent: &agent.Agent{ID: "a1", Status: agent.StatusDeleting, LifecycleGeneration: 2, LastWakeSentAt: &wake, CheckinDeadlineAt: &deadline},
			gen:   2,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newLifecycleFixture(t)
			if tt.agent != nil {
				f.addAgent(*tt.agent)
			}
			p := queue.LifecycleReconcile{AgentID: "a1", GatewayID: "gw-1", Generation: tt.gen, CheckinDeadlineAt: deadline}
			if err := f.svc.HandleReconcile(context.Background(), queue.Task{TaskType: queue.TypeLifecycleReconcile}, p); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(f.waker.calls) != 0 {
				t.Fatal("skip must not wake")
			}
			if f.back.len("default") != 0 {
				t.Fatal("skip must not enqueue")
			}
		})
	}
}

func TestLifecycle_HandleReconcileDefersBeforeDeadline(t *testing.T) {
	f := newLifecycleFixture(t)
	wake := testNow
	deadline := testNow.Add(20 * time.Second)
	f.addAgent(agent.Agent{ID: "a1", LifecycleGeneration: 2, WakeAttempts: 1, LastWakeSentAt: &wake, CheckinDeadlineAt: &deadline})

	task, _ := queue.NewTask(queue.LifecycleReconcile{AgentID: "a1", GatewayID: "gw-1", Generation: 2, CheckinDeadlineAt: deadline}, testNow)
	p, _ := queue.Decode(task)
	if err := f.svc.HandleReconcile(context.Background(), task, p); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	items := f.back.all("default")
	if len(items) != 1 || !items[0].visibleAt.Equal(deadline) {
		t.Fatalf("expected the task deferred to the deadline, got %+v", items)
	}
	if len(f.waker.calls) != 0 {
		t.Fatal("must not wake before the deadline")
	}
}

func TestLifecycle_HandleReconcileRewakes(t *testing.T) {
	f := newLifecycleFixture(t)
	wake := testNow.Add(-time.Minute)
	deadline := testNow.Add(-30 * time.Second)
	f.addAgent(agent.Agent{
		ID: "a1", Status: agent.StatusOnline, LifecycleGeneration: 2, WakeAttempts: 1,
		LastWakeSentAt: &wake, CheckinDeadlineAt: &deadline,
	})

	p := queue.LifecycleReconcile{AgentID: "a1", GatewayID: "gw-1", Generation: 2, CheckinDeadlineAt: deadline}
	if err := f.svc.HandleReconcile(context.Background(), queue.Task{}, p); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	stored := f.store.agents["a1"]
	if stored.LifecycleGeneration != 3 || stored.WakeAttempts != 2 {
		t.Fatalf("expected generation 3 attempt 2, got %d/%d", stored.LifecycleGeneration, stored.WakeAttempts)
	}
	_, next := f.reconcileTask(t)
	if next.(queue.LifecycleReconcile).Generation != 3 {
		t.Fatal("follow-up reconcile must carry the new generation")
	}
}

func TestLifecycle_HandleReconcileGatewayFailureKeepsLoopAlive(t *testing.T) {
	f := newLifecycleFixture(t)
	f.waker.err = errors.New("gateway timeout")
	wake := testNow.Add(-time.Minute)
	deadline := testNow.Add(-30 * time.Second)
	f.addAgent(agent.Agent{ID: "a1", LifecycleGeneration: 2, WakeAttempts: 1, LastWakeSentAt: &wake, CheckinDeadlineAt: &deadline})

	p := queue.LifecycleReconcile{AgentID: "a1", GatewayID: "gw-1", Generation: 2, CheckinDeadlineAt: deadline}
	if err := f.svc.HandleReconcile(context.Background(), queue.Task{}, p); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, next := f.reconcileTask(t)
	if next.(queue.LifecycleReconcile).Generation != 3 {
		t.Fatal("expected a reconcile for the failed wake's generation")
	}
}

func TestLifecycle_HandleReconcileGivesUp(t *testing.T) {
	f := newLifecycleFixture(t)
	wake := testNow.Add(-time.Minute)
	deadline := testNow.Add(-30 * time.Second)
	f.addAgent(agent.Agent{
		ID: "a1", Status: agent.StatusOnline, LifecycleGeneration: 4, WakeAttempts: 3,
		LastWakeSentAt: &wake, CheckinDeadlineAt: &deadline,
	})

	p := queue.LifecycleReconcile{AgentID: "a1", GatewayID: "gw-1", Generation: 4, CheckinDeadlineAt: deadline}
	if err := f.svc.HandleReconcile(context.Background(), queue.Task{}, p); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	stored := f.store.agents["a1"]
	if stored.Status != agent.StatusOffline {
		t.Fatalf("expected offline, got %s", stored.Status)
	}
	if stored.LastProvisionError != checkinFailedReason {
		t.Fatalf("unexpected error text %q", stored.LastProvisionError)
	}
	if len(f.waker.calls) != 0 {
		t.Fatal("must not wake after the cap")
	}
	if got := f.store.actions(); len(got) != 1 || got[0] != audit.ActionAgentCheckinFailed {
		t.Fatalf("expected checkin_failed audit entry, got %v", got)
	}
	if f.countTasks(t, queue.TypeGovernanceNotification) != 1 {
		t.Fatal("expected an agent_checkin_failed notification")
	}
	_, n := popPayload(t, f.queue)
	if n.(queue.GovernanceNotification).EventType != messagequeue.EventAgentCheckinFailed {
		t.Fatalf("unexpected notification %+v", n)
	}
}

func TestLifecycle_HandleReconcileStoreUnavailable(t *testing.T) {
	f := newLifecycleFixture(t)
	f.store.getAgentErr = errors.New("pool: connection refused")

	task, _ := queue.NewTask(queue.LifecycleReconcile{AgentID: "a1", GatewayID: "gw-1", Generation: 1, CheckinDeadlineAt: testNow}, testNow)
	task = task.WithAttempts(1)
	p, _ := queue.Decode(task)
	if err := f.svc.HandleReconcile(context.Background(), task, p); err != nil {
		t.Fatalf("transient store errors must not fail the task: %v", err)
	}
	items := f.back.all("default")
	if len(items) != 1 || !items[0].visibleAt.Equal(testNow.Add(5*time.Second)) {
		t.Fatalf("expected a deferred copy at +5s, got %+v", items)
	}
	deferred, _ := queue.DecodeEnvelope(items[0].data)
	if deferred.Attempts != 1 {
		t.Fatalf("defer must keep attempts, got %d", deferred.Attempts)
	}
}

func TestLifecycle_FullCycleEndsOffline(t *testing.T) {
	f := newLifecycleFixture(t)
	f.addAgent(agent.Agent{ID: "a1", Status: agent.StatusProvisioning})
	ctx := orgCtx("u1")

	if _, err := f.svc.Wake(ctx, "a1"); err != nil {
		t.Fatal(err)
	}
	w := NewWorker(f.queue, testQueueConfig())
	w.Register(queue.TypeLifecycleReconcile, f.svc.HandleReconcile, 0)

	for range 5 {
		f.advance(31 * time.Second)
		if _, err := w.ProcessOne(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	stored := f.store.agents["a1"]
	if stored.Status != agent.StatusOffline {
		t.Fatalf("expected offline after exhausting wakes, got %s (attempts %d)", stored.Status, stored.WakeAttempts)
	}
	if len(f.waker.calls) != 3 {
		t.Fatalf("expected 3 wakes, got %d", len(f.waker.calls))
	}
}
