// Package service contains the governance and worker application services.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nintynick/openclaw-mission-control-sub001/internal/domain/queue"
	"github.com/nintynick/openclaw-mission-control-sub001/internal/port/taskqueue"
)

// QueueService wraps a taskqueue.Backend with the envelope format and retry
// policy. Enqueue failures are logged and reported as false; callers decide
// whether that matters.
type QueueService struct {
	backend taskqueue.Backend
	name    string
	now     func() time.Time
}

// NewQueueService creates a QueueService whose default queue is name.
func NewQueueService(backend taskqueue.Backend, name string) *QueueService {
	return &QueueService{backend: backend, name: name, now: time.Now}
}

// Name returns the default queue name.
func (s *QueueService) Name() string { return s.name }

func (s *QueueService) queueName(name string) string {
	if name == "" {
		return s.name
	}
	return name
}

// Enqueue pushes t onto the named queue, or the default queue when name is empty.
func (s *QueueService) Enqueue(ctx context.Context, t queue.Task, name string) bool {
	return s.EnqueueWithDelay(ctx, t, name, 0)
}

// EnqueueWithDelay pushes t so that it becomes visible after delay. A delay
// of zero or less is an immediate push.
func (s *QueueService) EnqueueWithDelay(ctx context.Context, t queue.Task, name string, delay time.Duration) bool {
	name = s.queueName(name)
	data, err := t.Encode()
	if err != nil {
		slog.ErrorContext(ctx, "queue.encode_failed", "queue", name, "task_type", t.TaskType, "error", err)
		return false
	}

	if delay <= 0 {
		err = s.backend.Push(ctx, name, data)
	} else {
		err = s.backend.PushDelayed(ctx, name, data, s.now().Add(delay))
	}
	if err != nil {
		slog.ErrorContext(ctx, "queue.enqueue_failed",
			"queue", name, "task_type", t.TaskType, "delay", delay, "error", err)
		return false
	}
	slog.DebugContext(ctx, "queue.enqueued", "queue", name, "task_type", t.TaskType, "attempts", t.Attempts, "delay", delay)
	return true
}

// EnqueuePayload wraps p in a fresh envelope and pushes it onto the default queue.
func (s *QueueService) EnqueuePayload(ctx context.Context, p queue.Payload, delay time.Duration) bool {
	t, err := queue.NewTask(p, s.now())
	if err != nil {
		slog.ErrorContext(ctx, "queue.encode_failed", "task_type", p.TaskType(), "error", err)
		return false
	}
	return s.EnqueueWithDelay(ctx, t, "", delay)
}

// Dequeue pops the oldest visible task. ok is false when the queue is empty.
// Envelopes that cannot be decoded return an error wrapping
// queue.ErrMalformedTask; the bytes are already removed from the queue.
func (s *QueueService) Dequeue(ctx context.Context, name string) (queue.Task, bool, error) {
	name = s.queueName(name)
	data, ok, err := s.backend.Pop(ctx, name)
	if err != nil {
		if !errors.Is(err, queue.ErrQueueTransient) {
			err = fmt.Errorf("%w: %v", queue.ErrQueueTransient, err)
		}
		return queue.Task{}, false, err
	}
	if !ok {
		return queue.Task{}, false, nil
	}
	t, err := queue.DecodeEnvelope(data)
	if err != nil {
		return queue.Task{}, false, err
	}
	return t, true, nil
}

// RequeueIfFailed re-enqueues t with one more attempt after delay. A task
// whose attempts already reached maxRetries is dropped and false returned.
func (s *QueueService) RequeueIfFailed(ctx context.Context, t queue.Task, name string, maxRetries int, delay time.Duration) bool {
	name = s.queueName(name)
	if t.Attempts >= maxRetries {
		slog.WarnContext(ctx, "queue.retry_exhausted",
			"queue", name, "task_type", t.TaskType, "attempts", t.Attempts, "max_retries", maxRetries,
			"error", queue.ErrRetryExhausted)
		return false
	}
	return s.EnqueueWithDelay(ctx, t.WithAttempts(t.Attempts+1), name, delay)
}

// Defer re-enqueues t after delay without counting an attempt. It is used
// when a handler is not ready yet rather than failed.
func (s *QueueService) Defer(ctx context.Context, t queue.Task, name string, delay time.Duration) bool {
	return s.EnqueueWithDelay(ctx, t, name, delay)
}
