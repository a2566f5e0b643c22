// Package resilience guards calls to the agent gateway and the model
// endpoints behind AI reviewer selection.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned while a breaker rejects calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Breaker states as reported on /health.
const (
	StateClosed   = "closed"
	StateOpen     = "open"
	StateHalfOpen = "half_open"
)

// Breaker counts consecutive failures of one upstream. At maxFailures it
// opens and rejects calls for cooldown. After that a single trial call is let
// through: success closes it, failure opens it again.
//
// Calls that fail with context.Canceled are not counted since the caller,
// not the upstream, gave up.
type Breaker struct {
	name        string
	maxFailures int
	cooldown    time.Duration
	now         func() time.Time

	mu           sync.Mutex
	state        string
	failures     int
	openedAt     time.Time
	trialRunning bool
}

// NewBreaker returns a closed breaker. name labels the upstream in logs and
// health output.
func NewBreaker(name string, maxFailures int, cooldown time.Duration) *Breaker {
	return &Breaker{
		name:        name,
		maxFailures: maxFailures,
		cooldown:    cooldown,
		now:         time.Now,
		state:       StateClosed,
	}
}

// Name returns the upstream label.
func (b *Breaker) Name() string { return b.name }

// Execute runs fn unless the breaker is open or a trial is already in flight.
func (b *Breaker) Execute(fn func() error) error {
	trial, ok := b.admit()
	if !ok {
		return ErrCircuitOpen
	}

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()
	if trial {
		b.trialRunning = false
	}
	switch {
	case err == nil:
		b.succeed()
	case errors.Is(err, context.Canceled):
	default:
		b.fail()
	}
	return err
}

func (b *Breaker) admit() (trial, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.cooldown {
		b.state = StateHalfOpen
	}
	switch b.state {
	case StateClosed:
		return false, true
	case StateHalfOpen:
		if b.trialRunning {
			return false, false
		}
		b.trialRunning = true
		return true, true
	default:
		return false, false
	}
}

// fail and succeed run with b.mu held.
func (b *Breaker) fail() {
	b.failures++
	if b.state != StateHalfOpen && b.failures < b.maxFailures {
		return
	}
	if b.state != StateOpen {
		slog.Warn("breaker.open", "breaker", b.name, "failures", b.failures, "cooldown", b.cooldown)
	}
	b.state = StateOpen
	b.openedAt = b.now()
}

func (b *Breaker) succeed() {
	if b.state != StateClosed {
		slog.Info("breaker.closed", "breaker", b.name)
	}
	b.failures = 0
	b.state = StateClosed
}

// State returns StateClosed, StateOpen or StateHalfOpen.
func (b *Breaker) State() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.cooldown {
		return StateHalfOpen
	}
	return b.state
}
