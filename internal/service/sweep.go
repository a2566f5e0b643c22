package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// sweepTimeout bounds a single auto-escalation pass.
const sweepTimeout = 2 * time.Minute

// EscalationSweeper runs the auto-escalation pass on a cron schedule.
type EscalationSweeper struct {
	escalations *EscalationService
	schedule    string
	cron        *cron.Cron

	mu      sync.Mutex
	running bool
}

// NewEscalationSweeper validates schedule (standard five-field cron or a
// descriptor such as "@every 5m") and returns a stopped sweeper.
func NewEscalationSweeper(escalations *EscalationService, schedule string) (*EscalationSweeper, error) {
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("parse sweep schedule %q: %w", schedule, err)
	}
	return &EscalationSweeper{
		escalations: escalations,
		schedule:    schedule,
		cron:        cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
	}, nil
}

// Start registers the sweep and starts the scheduler. ctx bounds every pass.
func (s *EscalationSweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	if _, err := s.cron.AddFunc(s.schedule, func() { s.Sweep(ctx) }); err != nil {
		return fmt.Errorf("schedule sweep: %w", err)
	}
	s.cron.Start()
	s.running = true
	slog.Info("escalation sweeper started", "schedule", s.schedule)
	return nil
}

// Stop halts the scheduler and waits for a running pass to finish.
func (s *EscalationSweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	<-s.cron.Stop().Done()
	s.running = false
	slog.Info("escalation sweeper stopped")
}

// Sweep runs one auto-escalation pass and returns how many proposals moved.
func (s *EscalationSweeper) Sweep(ctx context.Context) int {
	if ctx.Err() != nil {
		return 0
	}
	ctx, cancel := context.WithTimeout(ctx, sweepTimeout)
	defer cancel()

	start := time.Now()
	n, err := s.escalations.AutoEscalate(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "escalation.sweep_failed", "escalated", n, "error", err)
		return n
	}
	if n > 0 {
		slog.InfoContext(ctx, "escalation.sweep", "escalated", n, "duration", time.Since(start))
	}
	return n
}
