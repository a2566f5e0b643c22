// Package messagequeue is the port through which governance events leave the
// service: notification workers publish them, operators and downstream
// consumers subscribe.
package messagequeue

import (
	"context"
	"strings"
)

// Handler consumes one delivered event. Returning an error requests a retry.
// ctx carries the publisher's request ID when one was attached.
type Handler func(ctx context.Context, subject string, data []byte) error

// Publisher emits governance events.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
	IsConnected() bool
}

// Subscriber delivers events matching a subject filter until cancel is called.
type Subscriber interface {
	Subscribe(ctx context.Context, subject string, handler Handler) (cancel func(), err error)
}

// Queue is a broker connection owned by the process. Drain lets in-flight
// deliveries finish; Close drops them.
type Queue interface {
	Publisher
	Subscriber
	Drain() error
	Close() error
}

// SubjectGovernance prefixes every governance subject: governance.{event_type}.
const SubjectGovernance = "governance"

// Event types, one subject each.
const (
	EventReviewersSelected  = "reviewers_selected"
	EventProposalResolved   = "proposal_resolved"
	EventEscalationCreated  = "escalation_created"
	EventEscalationAccepted = "escalation_accepted"
	EventZoneStatusChanged  = "zone_status_changed"
	EventAgentCheckinFailed = "agent_checkin_failed"
	EventEvaluationCreated  = "evaluation_created"
)

const (
	// SubjectAll covers events and their dead letter subjects.
	SubjectAll = SubjectGovernance + ".>"
	// SubjectEvents covers live events only.
	SubjectEvents = SubjectGovernance + ".*"
)

// GovernanceSubject returns the subject events of eventType are published on.
func GovernanceSubject(eventType string) string {
	return SubjectGovernance + "." + eventType
}

// DeadLetterSubject returns where undeliverable messages on subject end up.
func DeadLetterSubject(subject string) string {
	return subject + dlqSuffix
}

// IsDeadLetter reports whether subject is a dead letter subject.
func IsDeadLetter(subject string) bool {
	return strings.HasSuffix(subject, dlqSuffix)
}

const dlqSuffix = ".dlq"
