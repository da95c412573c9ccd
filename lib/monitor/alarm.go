package monitor

import (
	"context"
	"time"
)

// alarmClock is a worker's interruptible sleep. Wake cuts the current (or
// next) sleep short without stopping the worker.
type alarmClock struct {
	wakeC chan struct{}
}

func newAlarmClock() *alarmClock {
	return &alarmClock{wakeC: make(chan struct{}, 1)}
}

// Wake never blocks; repeated wakes before the next sleep coalesce.
func (a *alarmClock) Wake() {
	select {
	case a.wakeC <- struct{}{}:
	default:
	}
}

// Sleep waits for d, an early wake, or cancellation. It returns ctx.Err()
// only when cancelled.
func (a *alarmClock) Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	case <-a.wakeC:
		return nil
	}
}
