package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"

	cfotel "github.com/nintynick/openclaw-mission-control-sub001/internal/adapter/otel"
	"github.com/nintynick/openclaw-mission-control-sub001/internal/config"
	"github.com/nintynick/openclaw-mission-control-sub001/internal/domain/queue"
)

// TaskHandler processes one decoded task. Returning an error wrapping
// queue.ErrMalformedTask drops the task; any other error requeues it.
type TaskHandler func(ctx context.Context, t queue.Task, p queue.Payload) error

type registration struct {
	handle     TaskHandler
	maxRetries int
}

// Worker drains the task queue and dispatches tasks to registered handlers.
type Worker struct {
	queue    *QueueService
	cfg      config.Queue
	handlers map[string]registration
	metrics  *cfotel.Metrics
}

// NewWorker creates a worker over q.
func NewWorker(q *QueueService, cfg config.Queue) *Worker {
	return &Worker{queue: q, cfg: cfg, handlers: make(map[string]registration)}
}

// SetMetrics attaches otel instruments.
func (w *Worker) SetMetrics(m *cfotel.Metrics) { w.metrics = m }

// Register routes taskType to h. maxRetries <= 0 uses the queue default.
func (w *Worker) Register(taskType string, h TaskHandler, maxRetries int) {
	if maxRetries <= 0 {
		maxRetries = w.cfg.MaxRetries
	}
	w.handlers[taskType] = registration{handle: h, maxRetries: maxRetries}
}

// Run starts cfg.Workers loops and blocks until ctx is canceled.
func (w *Worker) Run(ctx context.Context) error {
	n := max(1, w.cfg.Workers)
	slog.Info("worker started", "queue", w.queue.Name(), "workers", n)

	g, ctx := errgroup.WithContext(ctx)
	for i := range n {
		g.Go(func() error {
			w.loop(ctx, i)
			return nil
		})
	}
	err := g.Wait()
	slog.Info("worker stopped", "queue", w.queue.Name())
	return err
}

func (w *Worker) loop(ctx context.Context, id int) {
	for ctx.Err() == nil {
		processed, err := w.ProcessOne(ctx)
		switch {
		case err != nil:
			slog.ErrorContext(ctx, "worker.dequeue_failed", "worker", id, "error", err)
			sleepCtx(ctx, w.cfg.PollInterval)
		case !processed:
			sleepCtx(ctx, w.cfg.PollInterval)
		default:
			sleepCtx(ctx, w.cfg.Throttle)
		}
	}
}

// ProcessOne dequeues and handles at most one task. processed is false when
// the queue was empty. Only backend failures are returned; task failures are
// retried or dropped here.
func (w *Worker) ProcessOne(ctx context.Context) (processed bool, err error) {
	t, ok, err := w.queue.Dequeue(ctx, "")
	if err != nil {
		if errors.Is(err, queue.ErrMalformedTask) {
			slog.WarnContext(ctx, "worker.malformed_task", "error", err)
			w.metrics.TaskDone(ctx, "unknown", "dropped", 0)
			return true, nil
		}
		return false, err
	}
	if !ok {
		return false, nil
	}

	start := time.Now()
	outcome := w.dispatch(ctx, t)
	w.metrics.TaskDone(ctx, t.TaskType, outcome, time.Since(start).Seconds())
	return true, nil
}

func (w *Worker) dispatch(ctx context.Context, t queue.Task) (outcome string) {
	reg, ok := w.handlers[t.TaskType]
	if !ok {
		slog.WarnContext(ctx, "worker.unknown_task_type", "task_type", t.TaskType)
		return "dropped"
	}

	payload, err := queue.Decode(t)
	if err != nil {
		slog.WarnContext(ctx, "worker.malformed_task", "task_type", t.TaskType, "error", err)
		return "dropped"
	}

	ctx, span := cfotel.StartTaskSpan(ctx, w.queue.Name(), t.TaskType, t.Attempts)
	err = reg.handle(ctx, t, payload)
	cfotel.EndSpan(span, err)

	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, queue.ErrMalformedTask):
		slog.WarnContext(ctx, "worker.malformed_task", "task_type", t.TaskType, "error", err)
		return "dropped"
	}

	delay := w.RetryDelay(t.Attempts)
	slog.WarnContext(ctx, "worker.task_failed",
		"task_type", t.TaskType, "attempts", t.Attempts, "retry_in", delay, "error", err)
	if w.queue.RequeueIfFailed(ctx, t, "", reg.maxRetries, delay) {
		return "retried"
	}
	return "dropped"
}

// RetryDelay returns the jittered exponential delay before retry attempts+1:
// base*2^attempts capped at cfg.RetryMax.
func (w *Worker) RetryDelay(attempts int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = w.cfg.RetryBase
	b.Multiplier = 2
	b.RandomizationFactor = 0.2
	b.MaxInterval = w.cfg.RetryMax
	b.MaxElapsedTime = 0
	b.Reset()

	d := b.NextBackOff()
	for range attempts {
		d = b.NextBackOff()
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
