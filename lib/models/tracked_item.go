package models

import (
	"database/sql"
	"time"
)

// TrackedItem is the last known state of one listing for one owner.
//
// A row with LastNotificationType set and LastNotifiedAt null is owed a
// notification; that pair is the pending queue.
type TrackedItem struct {
	ID                   uint             `gorm:"primaryKey"`
	UserID               uint             `gorm:"uniqueIndex:idx_owner_item;not null"`
	ItemID               string           `gorm:"uniqueIndex:idx_owner_item;not null"`
	WatchID              uint             `gorm:"index"`
	RawPayload           Listing          `gorm:"serializer:json"`
	Price                string
	PriceFingerprint     string
	PreviousPrice        string
	PriceDropped         bool
	LastNotificationType *NotificationType
	LastNotifiedAt       sql.NullTime
	FirstSeenAt          time.Time
	LastSeenAt           time.Time `gorm:"index"`
}

type TrackedItems []TrackedItem

func (t *TrackedItem) Pending() bool {
	return t.LastNotificationType != nil && !t.LastNotifiedAt.Valid
}

// MarkPending records a notification type that still has to be delivered.
func (t *TrackedItem) MarkPending(typ NotificationType) {
	t.LastNotificationType = &typ
	t.LastNotifiedAt = sql.NullTime{}
}

// PendingChange rebuilds the change that is owed for this row.
func (t *TrackedItem) PendingChange() (Change, bool) {
	if !t.Pending() {
		return Change{}, false
	}
	return Change{
		Type:     *t.LastNotificationType,
		Listing:  t.RawPayload,
		OldPrice: t.PreviousPrice,
	}, true
}
