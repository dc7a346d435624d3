package queue

import (
	"context"
	"sync"
	"time"

	"github.com/avdotin/fitplan/internal/model"
)

// Memory is a process-local queue. Pending acknowledgments are lost on
// restart; use the SQLite queue when durability matters.
type Memory struct {
	mu          sync.Mutex
	ops         []model.QueuedOperation
	backoff     Backoff
	retryable   RetryablePredicate
	sendTimeout time.Duration
	now         func() time.Time
}

// NewMemory builds an empty in-memory queue.
func NewMemory(backoff Backoff, retryable RetryablePredicate, sendTimeout time.Duration) *Memory {
	return &Memory{
		backoff:     backoff,
		retryable:   retryable,
		sendTimeout: sendTimeout,
		now:         time.Now,
	}
}

// WithClock substitutes the time source. Test use.
func (q *Memory) WithClock(now func() time.Time) *Memory {
	q.now = now
	return q
}

// Enqueue appends op unless an identical operation is already pending.
func (q *Memory) Enqueue(op model.AcknowledgmentRequest) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, existing := range q.ops {
		if existing.Op == op {
			return nil
		}
	}
	q.ops = append(q.ops, model.QueuedOperation{
		Op:             op,
		NextEligibleAt: q.now(),
		EnqueuedAt:     q.now(),
	})
	return nil
}

// Drain walks the queue in FIFO order and sends every eligible operation.
// Each send gets its own timeout; ctx cancels the whole pass.
func (q *Memory) Drain(ctx context.Context, send Sender) (DrainResult, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var res DrainResult
	var remaining []model.QueuedOperation
	for i, op := range q.ops {
		if err := ctx.Err(); err != nil {
			remaining = append(remaining, q.ops[i:]...)
			break
		}
		if q.now().Before(op.NextEligibleAt) {
			remaining = append(remaining, op)
			continue
		}

		sendCtx, cancel := context.WithTimeout(ctx, q.sendTimeout)
		err := send(sendCtx, op.Op)
		cancel()

		switch {
		case err == nil:
			res.Succeeded++
		case q.retryable(err):
			op.Attempts++
			op.NextEligibleAt = q.now().Add(q.backoff.NextDelay(op.Attempts))
			remaining = append(remaining, op)
		default:
			res.Failures = append(res.Failures, Failure{Op: op.Op, Err: err})
		}
	}
	q.ops = remaining
	res.StillQueued = len(remaining)
	return res, nil
}

// Clear drops all pending operations.
func (q *Memory) Clear() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ops = nil
	return nil
}

// Statistics reports the pending count and the age of the oldest entry.
func (q *Memory) Statistics() (Statistics, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	st := Statistics{TotalCount: len(q.ops)}
	for _, op := range q.ops {
		if st.OldestEnqueuedAt == nil || op.EnqueuedAt.Before(*st.OldestEnqueuedAt) {
			t := op.EnqueuedAt
			st.OldestEnqueuedAt = &t
		}
	}
	return st, nil
}

// Close is a no-op for the in-memory queue.
func (q *Memory) Close() error { return nil }
