package monitor

import (
	"context"
	"time"
)

// Sweep deletes tracked items unseen for longer than the retention window.
// Items still owed a notification are kept.
func (e *Engine) Sweep(ctx context.Context) (int64, error) {
	if e.retention <= 0 {
		return 0, nil
	}

	cutoff := e.now().Add(-e.retention)
	n, err := e.repo.PurgeUnseen(ctx, cutoff)
	if err != nil {
		e.log.Sugar().Errorw("Retention sweep failed", "err", err)
		return 0, err
	}
	if n > 0 {
		e.log.Sugar().Infof("Purged %d unseen tracked items", n)
	}
	return n, nil
}

func (e *Engine) startJanitor() {
	if e.retention <= 0 || e.sweepEvery <= 0 {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	e.janitorCancel = cancel

	go func() {
		ticker := time.NewTicker(e.sweepEvery)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				e.Sweep(ctx)
			}
		}
	}()
}

func (e *Engine) stopJanitor() {
	if e.janitorCancel != nil {
		e.janitorCancel()
	}
}
