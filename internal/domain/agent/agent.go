// Package agent defines the lifecycle-relevant view of a gateway agent.
package agent

import "time"

// Status values written by the lifecycle orchestrator and reconciler.
const (
	StatusProvisioning = "provisioning"
	StatusUpdating     = "updating"
	StatusOnline       = "online"
	StatusOffline      = "offline"
	StatusDeleting     = "deleting"
)

const (
	// CheckinDeadlineAfterWake is how long an agent has to check in after a wake.
	CheckinDeadlineAfterWake = 30 * time.Second

	// MaxWakeAttemptsWithoutCheckin caps consecutive wakes before the agent is marked offline.
	MaxWakeAttemptsWithoutCheckin = 3
)

// Agent carries the fields the wake/check-in loop reads and writes.
type Agent struct {
	ID                  string     `json:"id"`
	OrganizationID      string     `json:"organization_id"`
	BoardID             string     `json:"board_id,omitempty"`
	GatewayID           string     `json:"gateway_id"`
	Name                string     `json:"name"`
	Status              string     `json:"status"`
	LastSeenAt          *time.Time `json:"last_seen_at,omitempty"`
	LastWakeSentAt      *time.Time `json:"last_wake_sent_at,omitempty"`
	CheckinDeadlineAt   *time.Time `json:"checkin_deadline_at,omitempty"`
	LifecycleGeneration int64      `json:"lifecycle_generation"`
	WakeAttempts        int        `json:"wake_attempts"`
	LastProvisionError  string     `json:"last_provision_error,omitempty"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// HasCheckedInSinceWake reports whether the agent was seen at or after the
// most recent wake. An agent never seen has not checked in. An agent seen
// but never woken counts as checked in.
func (a *Agent) HasCheckedInSinceWake() bool {
	if a.LastSeenAt == nil {
		return false
	}
	if a.LastWakeSentAt == nil {
		return true
	}
	return !a.LastSeenAt.Before(*a.LastWakeSentAt)
}

// BeginWake starts a new wake cycle: it supersedes any queued reconcile by
// bumping the generation and returns the new deadline.
func (a *Agent) BeginWake(now time.Time, deadlineAfter time.Duration) time.Time {
	deadline := now.Add(deadlineAfter)
	a.LifecycleGeneration++
	a.WakeAttempts++
	a.LastWakeSentAt = &now
	a.CheckinDeadlineAt = &deadline
	a.LastProvisionError = ""
	return deadline
}

// CheckIn records a heartbeat and closes the current wake cycle.
func (a *Agent) CheckIn(now time.Time) {
	a.LastSeenAt = &now
	a.WakeAttempts = 0
	a.CheckinDeadlineAt = nil
	a.Status = StatusOnline
}

// MarkCheckinFailed is the terminal branch once wake attempts are exhausted.
func (a *Agent) MarkCheckinFailed(reason string) {
	a.Status = StatusOffline
	a.CheckinDeadlineAt = nil
	a.LastProvisionError = reason
}
