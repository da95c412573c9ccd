package monitor

import (
	"context"
	"time"

	"github.com/fiffu/listingwatch/lib/models"
	"github.com/fiffu/listingwatch/lib/store"
)

// PendingQueue exposes the tracked items still owed a notification. The
// queue is the tracked_items table itself.
type PendingQueue struct {
	repo store.Repository
}

func NewPendingQueue(repo store.Repository) *PendingQueue {
	return &PendingQueue{repo}
}

func (q *PendingQueue) Collect(ctx context.Context, userID uint) (models.TrackedItems, error) {
	return q.repo.ListPending(ctx, userID)
}

// MarkSent records delivery of exactly the given items.
func (q *PendingQueue) MarkSent(ctx context.Context, userID uint, itemIDs []string, at time.Time) error {
	return q.repo.MarkNotified(ctx, userID, itemIDs, at)
}

// MarkDelivered records delivery of the given changes, leaving items that
// moved on to a newer change pending.
func (q *PendingQueue) MarkDelivered(ctx context.Context, userID uint, changes []models.Change, at time.Time) error {
	return q.repo.MarkDelivered(ctx, userID, changes, at)
}
