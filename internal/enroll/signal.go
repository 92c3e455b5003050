package enroll

import (
	"context"
	"time"
)

// SkipSignal is an edge-triggered, coalescing skip request. A trigger
// while nothing waits stays pending until the next wait consumes it.
type SkipSignal struct {
	ch chan struct{}
}

// NewSkipSignal returns an untriggered signal.
func NewSkipSignal() *SkipSignal {
	return &SkipSignal{ch: make(chan struct{}, 1)}
}

// Trigger requests a skip. Repeated triggers before consumption coalesce.
func (s *SkipSignal) Trigger() {
	select {
	case s.ch <- struct{}{}:
	default:
	}
}

// C returns the channel a wait selects on. Receiving consumes the trigger.
func (s *SkipSignal) C() <-chan struct{} {
	if s == nil {
		return nil
	}
	return s.ch
}

// Reset drops a pending trigger.
func (s *SkipSignal) Reset() {
	select {
	case <-s.ch:
	default:
	}
}

// sleep waits d unless ctx is done or skip fires first. A nil skip
// channel never fires.
func sleep(ctx context.Context, d time.Duration, skip <-chan struct{}) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-skip:
		return ErrSkipped
	case <-timer.C:
		return nil
	}
}
