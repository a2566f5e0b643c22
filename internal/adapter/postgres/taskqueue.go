package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nintynick/openclaw-mission-control-sub001/internal/domain/queue"
	"github.com/nintynick/openclaw-mission-control-sub001/internal/port/taskqueue"
)

// TaskQueue implements taskqueue.Backend on the queued_tasks table. Pop
// claims rows with SKIP LOCKED so concurrent workers never share a task.
type TaskQueue struct {
	pool *pgxpool.Pool
}

var _ taskqueue.Backend = (*TaskQueue)(nil)

// NewTaskQueue creates a queue backend on the given pool.
func NewTaskQueue(pool *pgxpool.Pool) *TaskQueue {
	return &TaskQueue{pool: pool}
}

// Push appends data to name, visible immediately.
func (q *TaskQueue) Push(ctx context.Context, name string, data []byte) error {
	if _, err := q.pool.Exec(ctx,
		`INSERT INTO queued_tasks (queue, data) VALUES ($1, $2)`, name, data); err != nil {
		return fmt.Errorf("%w: push %s: %v", queue.ErrQueueTransient, name, err)
	}
	return nil
}

// PushDelayed appends data to name, hidden from Pop until visibleAt.
func (q *TaskQueue) PushDelayed(ctx context.Context, name string, data []byte, visibleAt time.Time) error {
	if _, err := q.pool.Exec(ctx,
		`INSERT INTO queued_tasks (queue, data, visible_at) VALUES ($1, $2, $3)`, name, data, visibleAt); err != nil {
		return fmt.Errorf("%w: push delayed %s: %v", queue.ErrQueueTransient, name, err)
	}
	return nil
}

// Pop removes and returns the oldest visible task of name.
func (q *TaskQueue) Pop(ctx context.Context, name string) ([]byte, bool, error) {
	const sql = `
		DELETE FROM queued_tasks
		WHERE id = (
			SELECT id FROM queued_tasks
			WHERE queue = $1 AND visible_at <= now()
			ORDER BY visible_at, id
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING data`

	var data []byte
	err := q.pool.QueryRow(ctx, sql, name).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%w: pop %s: %v", queue.ErrQueueTransient, name, err)
	}
	return data, true, nil
}

// Depth reports how many tasks of name are stored, visible or not.
func (q *TaskQueue) Depth(ctx context.Context, name string) (int, error) {
	var n int
	if err := q.pool.QueryRow(ctx, `SELECT count(*) FROM queued_tasks WHERE queue = $1`, name).Scan(&n); err != nil {
		return 0, fmt.Errorf("queue depth %s: %w", name, err)
	}
	return n, nil
}
