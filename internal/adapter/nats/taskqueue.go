package nats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

const (
	taskSubjectPrefix = "tasks.queue."
	headerVisibleAt   = "Visible-At"
)

// TaskQueue implements taskqueue.Backend on the MISSION_CONTROL stream.
// Each named queue is the subject tasks.queue.{name} read by a durable pull
// consumer. Delayed envelopes carry a Visible-At header; a Pop that fetches
// one early naks it with the remaining delay.
type TaskQueue struct {
	js jetstream.JetStream

	mu        sync.Mutex
	consumers map[string]jetstream.Consumer
}

// NewTaskQueue returns a task queue backend sharing q's connection.
func NewTaskQueue(q *Queue) *TaskQueue {
	return &TaskQueue{js: q.js, consumers: make(map[string]jetstream.Consumer)}
}

// Push appends data to queue, visible immediately.
func (t *TaskQueue) Push(ctx context.Context, queue string, data []byte) error {
	return t.publish(ctx, queue, data, time.Time{})
}

// PushDelayed appends data to queue, hidden from Pop until visibleAt.
func (t *TaskQueue) PushDelayed(ctx context.Context, queue string, data []byte, visibleAt time.Time) error {
	return t.publish(ctx, queue, data, visibleAt)
}

func (t *TaskQueue) publish(ctx context.Context, queue string, data []byte, visibleAt time.Time) error {
	msg := &nats.Msg{Subject: taskSubject(queue), Data: data, Header: nats.Header{}}
	if !visibleAt.IsZero() {
		msg.Header.Set(headerVisibleAt, visibleAt.UTC().Format(time.RFC3339Nano))
	}
	if _, err := t.js.PublishMsg(ctx, msg); err != nil {
		return fmt.Errorf("nats task push %s: %w", queue, err)
	}
	return nil
}

// Pop fetches the next visible envelope and acks it. ok is false when the
// queue is empty or the fetched envelope is still delayed.
func (t *TaskQueue) Pop(ctx context.Context, queue string) (data []byte, ok bool, err error) {
	cons, err := t.consumer(ctx, queue)
	if err != nil {
		return nil, false, err
	}

	batch, err := cons.FetchNoWait(1)
	if err != nil {
		return nil, false, fmt.Errorf("nats task fetch %s: %w", queue, err)
	}
	for msg := range batch.Messages() {
		if wait := untilVisible(msg.Headers(), time.Now()); wait > 0 {
			if nakErr := msg.NakWithDelay(wait); nakErr != nil {
				slog.WarnContext(ctx, "nats task nak failed", "queue", queue, "error", nakErr)
			}
			continue
		}
		if ackErr := msg.Ack(); ackErr != nil {
			return nil, false, fmt.Errorf("nats task ack %s: %w", queue, ackErr)
		}
		data = msg.Data()
		ok = true
	}
	if bErr := batch.Error(); bErr != nil && !errors.Is(bErr, nats.ErrTimeout) {
		return nil, false, fmt.Errorf("nats task fetch %s: %w", queue, bErr)
	}
	return data, ok, nil
}

func (t *TaskQueue) consumer(ctx context.Context, queue string) (jetstream.Consumer, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if c, ok := t.consumers[queue]; ok {
		return c, nil
	}
	c, err := t.js.CreateOrUpdateConsumer(ctx, streamName, jetstream.ConsumerConfig{
		Durable:       consumerName(queue),
		FilterSubject: taskSubject(queue),
		AckPolicy:     jetstream.AckExplicitPolicy,
		DeliverPolicy: jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("nats task consumer %s: %w", queue, err)
	}
	t.consumers[queue] = c
	return c, nil
}

func taskSubject(queue string) string {
	return taskSubjectPrefix + queue
}

// consumerName maps a queue name onto the durable name alphabet.
func consumerName(queue string) string {
	return "tasks-" + strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_").Replace(queue)
}

// untilVisible returns how long the message stays hidden, or 0 if visible.
func untilVisible(h nats.Header, now time.Time) time.Duration {
	v := h.Get(headerVisibleAt)
	if v == "" {
		return 0
	}
	at, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return 0
	}
	if d := at.Sub(now); d > 0 {
		return d
	}
	return 0
}
