package monitor

import (
	"context"
	"time"

	"github.com/fiffu/listingwatch/lib/fetcher"
	"github.com/fiffu/listingwatch/lib/models"
	"github.com/fiffu/listingwatch/lib/store"
	"go.uber.org/zap"
)

type watchWorker struct {
	*Engine
	watchID uint
	alarm   *alarmClock
	log     *zap.SugaredLogger

	fetcher    fetcher.Fetcher
	fetcherKey string
}

func (w *watchWorker) run(ctx context.Context) {
	w.log.Infow("Watch worker started")
	defer w.log.Infow("Watch worker stopped")

	for {
		if ctx.Err() != nil {
			return
		}

		watch, err := w.repo.GetWatch(ctx, w.watchID)
		switch {
		case err != nil && ctx.Err() != nil:
			return
		case err != nil:
			w.log.Errorw("Failed to load watch", "err", err)
			if w.alarm.Sleep(ctx, w.scheduler.NextInterval(0)) != nil {
				return
			}
			continue
		case watch == nil || !watch.Active:
			w.retire(ctx)
			return
		}

		var sleep time.Duration
		if w.scheduler.IsQuietHour(w.now()) {
			w.metrics.observeCycle(cycleQuiet, nil)
			sleep = w.scheduler.QuietRecheck()
		} else {
			w.cycle(ctx, watch)
			sleep = w.scheduler.NextInterval(watch.CheckIntervalMinutes)
		}

		if w.alarm.Sleep(ctx, sleep) != nil {
			return
		}
	}
}

// retire deregisters the worker, then looks at the watch once more: a
// reactivation that landed after the last load would otherwise be dropped.
func (w *watchWorker) retire(ctx context.Context) {
	if !w.registry.release(w.watchID, w.alarm) {
		return
	}

	watch, err := w.repo.GetWatch(ctx, w.watchID)
	if err != nil || watch == nil || !watch.Active {
		w.log.Infow("Watch is gone or inactive")
		return
	}
	w.log.Infow("Watch reactivated while stopping, handing over to a new worker")
	w.registry.Start(w.watchID)
}

// cycle runs fetch, diff and delivery once. Failures are logged and never
// end the worker.
func (w *watchWorker) cycle(ctx context.Context, watch *models.Watch) {
	started := w.now()
	stats := &cycleStats{}
	result := cycleOK

	var changes []models.Change
	listings, err := w.fetcherFor(watch).Fetch(ctx)
	switch {
	case err != nil:
		result = cycleFetchError
		w.log.Warnw("Fetch failed, skipping diff", "err", err)
	case len(listings) == 0:
		result = cycleEmpty
	default:
		stats.fetched = len(listings)
		var res *DiffResult
		err = w.repo.Transaction(ctx, func(tx store.Repository) error {
			var diffErr error
			res, diffErr = Diff(ctx, tx, watch, listings, started)
			return diffErr
		})
		if err != nil {
			result = cycleDiffError
			w.log.Errorw("Diff failed, snapshot rolled back", "err", err)
			break
		}
		changes = res.Changes
		stats.addChanges(changes)
		stats.unchanged = res.Unchanged
		stats.skipped = res.Skipped
	}

	if watch.ChannelLinked() {
		w.deliver(ctx, watch, changes, stats)
	}

	w.metrics.observeCycle(result, stats)
	elapsed := w.now().Sub(started)
	args := append(stats.logFields(), "result", result, "elapsed_msecs", int(elapsed.Milliseconds()))
	w.log.Infow("Watch cycle completed", args...)
}

// fetcherFor reuses the cached fetcher until the watch's query changes.
func (w *watchWorker) fetcherFor(watch *models.Watch) fetcher.Fetcher {
	q := watch.Query()
	if key := q.Key(); w.fetcher == nil || key != w.fetcherKey {
		w.fetcher = w.fetchers.NewFetcher(q)
		w.fetcherKey = key
	}
	return w.fetcher
}

// deliver sends this cycle's changes in diff order, then the rest of the
// owner's backlog. Only items still pending are sent, and each is attempted
// at most once per cycle.
func (w *watchWorker) deliver(ctx context.Context, watch *models.Watch, changes []models.Change, stats *cycleStats) {
	unlock := w.lockOwner(watch.UserID)
	defer unlock()

	pending, err := w.pending.Collect(ctx, watch.UserID)
	if err != nil {
		w.log.Errorw("Failed to collect pending notifications", "user_id", watch.UserID, "err", err)
		return
	}
	owed := make(map[string]bool, len(pending))
	for _, item := range pending {
		owed[item.ItemID] = true
	}

	attempted := make(map[string]bool)
	fresh := make([]models.Change, 0, len(changes))
	for _, ch := range changes {
		if owed[ch.Listing.ID] && !attempted[ch.Listing.ID] {
			attempted[ch.Listing.ID] = true
			fresh = append(fresh, ch)
		}
	}
	w.send(ctx, watch, fresh, stats)

	backlog := make([]models.Change, 0)
	for _, item := range pending {
		if attempted[item.ItemID] {
			continue
		}
		if ch, ok := item.PendingChange(); ok {
			backlog = append(backlog, ch)
		}
	}
	w.send(ctx, watch, backlog, stats)
}

func (w *watchWorker) send(ctx context.Context, watch *models.Watch, changes []models.Change, stats *cycleStats) {
	if len(changes) == 0 {
		return
	}

	sent := make([]models.Change, 0, len(changes))
	for _, ch := range changes {
		if err := w.notifier.Deliver(ctx, watch.Notifier, watch, ch); err != nil {
			stats.failed++
			w.log.Warnw("Delivery failed, left pending", "item_id", ch.Listing.ID, "err", err)
			continue
		}
		stats.delivered++
		sent = append(sent, ch)
	}

	if err := w.pending.MarkDelivered(ctx, watch.UserID, sent, w.now()); err != nil {
		w.log.Errorw("Failed to mark notifications sent", "user_id", watch.UserID, "err", err)
	}
}
