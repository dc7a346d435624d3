// Package queue holds acknowledgment operations that failed transiently
// and replays them when backoff conditions allow. Two implementations:
// an in-memory queue and a SQLite-backed one that survives restarts.
package queue

import (
	"context"
	"time"

	"github.com/avdotin/fitplan/internal/model"
)

// Sender delivers one pending acknowledgment.
type Sender func(ctx context.Context, op model.AcknowledgmentRequest) error

// Backoff computes the delay before a queued operation becomes eligible
// again. Attempt counts from zero.
type Backoff interface {
	NextDelay(attempt int) time.Duration
}

// RetryablePredicate reports whether a send failure is worth keeping the
// operation queued for. Non-retryable failures are removed and reported.
type RetryablePredicate func(error) bool

// Failure is a queued operation that was removed because its send failed
// in a way retrying cannot fix. The caller decides what the error implies.
type Failure struct {
	Op  model.AcknowledgmentRequest
	Err error
}

// DrainResult summarizes one drain pass.
type DrainResult struct {
	Succeeded   int
	StillQueued int
	Failures    []Failure
}

// Statistics is the read-only queue state exposed to observers.
type Statistics struct {
	TotalCount       int
	OldestEnqueuedAt *time.Time
}

// Queue is a durable, idempotent FIFO of pending acknowledgments.
// Enqueueing an operation already present is a no-op.
type Queue interface {
	Enqueue(op model.AcknowledgmentRequest) error
	Drain(ctx context.Context, send Sender) (DrainResult, error)
	Clear() error
	Statistics() (Statistics, error)
	Close() error
}
