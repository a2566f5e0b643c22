// Package taskqueue defines the persisted delayed-visibility queue port.
package taskqueue

import (
	"context"
	"time"
)

// Backend stores opaque task envelopes in named queues. Delivery is
// at-least-once and ordering is best-effort FIFO.
type Backend interface {
	// Push appends data to queue, visible immediately.
	Push(ctx context.Context, queue string, data []byte) error

	// PushDelayed appends data to queue, invisible to Pop until visibleAt.
	PushDelayed(ctx context.Context, queue string, data []byte, visibleAt time.Time) error

	// Pop removes and returns the oldest visible envelope. ok is false when
	// nothing is visible.
	Pop(ctx context.Context, queue string) (data []byte, ok bool, err error)
}
