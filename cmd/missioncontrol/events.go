package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/spf13/cobra"

	cfnats "github.com/nintynick/openclaw-mission-control-sub001/internal/adapter/nats"
	"github.com/nintynick/openclaw-mission-control-sub001/internal/port/messagequeue"
)

func (a *app) eventsCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "events", Short: "Inspect governance events on the broker"}

	var (
		eventType  string
		orgID      string
		deadLetter bool
	)
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Print governance events as they are published",
		RunE: func(cmd *cobra.Command, _ []string) error {
			mq, err := cfnats.Connect(cmd.Context(), a.cfg.NATS.URL)
			if err != nil {
				return fmt.Errorf("nats: %w", err)
			}
			defer func() { _ = mq.Drain() }()

			subject := messagequeue.SubjectEvents
			if eventType != "" {
				subject = messagequeue.GovernanceSubject(eventType)
			}
			if deadLetter {
				subject = messagequeue.DeadLetterSubject(subject)
			}

			p := &eventPrinter{w: cmd.OutOrStdout(), orgID: orgID}
			cancel, err := mq.Subscribe(cmd.Context(), subject, p.handle)
			if err != nil {
				return err
			}
			defer cancel()

			<-cmd.Context().Done()
			return nil
		},
	}
	tail.Flags().StringVar(&eventType, "event", "", "only this event type, e.g. proposal_resolved")
	tail.Flags().StringVar(&orgID, "org", "", "only events of this organization")
	tail.Flags().BoolVar(&deadLetter, "dlq", false, "tail the dead letter subject instead")
	cmd.AddCommand(tail)
	return cmd
}

// eventPrinter writes one line per governance event.
type eventPrinter struct {
	mu    sync.Mutex
	w     io.Writer
	orgID string
}

func (p *eventPrinter) handle(_ context.Context, subject string, data []byte) error {
	var ev messagequeue.GovernanceEventPayload
	if err := json.Unmarshal(data, &ev); err != nil {
		// Dead lettered payloads need not be valid events.
		p.print("%s %s\n", subject, data)
		return nil
	}
	if p.orgID != "" && ev.OrganizationID != p.orgID {
		return nil
	}
	p.print("%s %s org=%s zone=%s targets=%v\n",
		ev.OccurredAt.Format("2006-01-02T15:04:05Z07:00"), subject, ev.OrganizationID, ev.ZoneID, ev.TargetIDs)
	return nil
}

func (p *eventPrinter) print(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.w, format, args...)
}
