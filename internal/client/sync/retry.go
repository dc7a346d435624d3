package sync

import "time"

// Strategy computes backoff delays for acknowledgment replay and bounds
// the number of immediate attempts before an operation moves to the
// offline queue.
type Strategy struct {
	Base        time.Duration
	MaxDelay    time.Duration
	MaxAttempts int
}

// DefaultStrategy matches the delivery policy used by the engine:
// three immediate attempts, then offline replay with capped backoff.
func DefaultStrategy() Strategy {
	return Strategy{
		Base:        time.Second,
		MaxDelay:    5 * time.Minute,
		MaxAttempts: 3,
	}
}

// NextDelay returns min(Base * 2^attempt, MaxDelay). Attempt counts
// from zero.
func (s Strategy) NextDelay(attempt int) time.Duration {
	d := s.Base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= s.MaxDelay {
			return s.MaxDelay
		}
	}
	if d > s.MaxDelay {
		return s.MaxDelay
	}
	return d
}

// ShouldGiveUp reports whether the immediate-attempt budget is spent.
func (s Strategy) ShouldGiveUp(attempt int) bool {
	return attempt >= s.MaxAttempts
}
