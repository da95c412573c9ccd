package store

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/fiffu/listingwatch/lib/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	db, err := OpenInMemory()
	require.NoError(t, err)
	return New(db)
}

func pendingItem(userID uint, itemID string, typ models.NotificationType) *models.TrackedItem {
	item := &models.TrackedItem{
		UserID:      userID,
		ItemID:      itemID,
		Price:       "1,000 ₪",
		FirstSeenAt: time.Now().UTC(),
		LastSeenAt:  time.Now().UTC(),
	}
	item.MarkPending(typ)
	return item
}

func TestUpsertTrackedItemConflict(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.UpsertTrackedItem(ctx, pendingItem(1, "abc", models.NotificationNew)))

	dup := pendingItem(1, "abc", models.NotificationNew)
	err := s.UpsertTrackedItem(ctx, dup)
	assert.ErrorIs(t, err, ErrConflict)
	assert.Zero(t, dup.ID)

	// Same item id under another owner is a distinct row.
	assert.NoError(t, s.UpsertTrackedItem(ctx, pendingItem(2, "abc", models.NotificationNew)))
}

func TestUpsertTrackedItemConflictKeepsTransaction(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.UpsertTrackedItem(ctx, pendingItem(1, "abc", models.NotificationNew)))

	err := s.Transaction(ctx, func(tx Repository) error {
		err := tx.UpsertTrackedItem(ctx, pendingItem(1, "abc", models.NotificationNew))
		require.ErrorIs(t, err, ErrConflict)
		return tx.UpsertTrackedItem(ctx, pendingItem(1, "def", models.NotificationNew))
	})
	require.NoError(t, err)

	item, err := s.GetTrackedItem(ctx, 1, "def")
	require.NoError(t, err)
	assert.NotNil(t, item)
}

func TestTransactionRollsBack(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	err := s.Transaction(ctx, func(tx Repository) error {
		require.NoError(t, tx.UpsertTrackedItem(ctx, pendingItem(1, "abc", models.NotificationNew)))
		return sql.ErrTxDone
	})
	assert.ErrorIs(t, err, sql.ErrTxDone)

	item, err := s.GetTrackedItem(ctx, 1, "abc")
	require.NoError(t, err)
	assert.Nil(t, item)
}

func TestPendingQueue(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.UpsertTrackedItem(ctx, pendingItem(1, "a", models.NotificationNew)))
	require.NoError(t, s.UpsertTrackedItem(ctx, pendingItem(1, "b", models.NotificationPriceDrop)))
	require.NoError(t, s.UpsertTrackedItem(ctx, pendingItem(2, "c", models.NotificationNew)))

	quiet := &models.TrackedItem{UserID: 1, ItemID: "d", LastSeenAt: time.Now()}
	require.NoError(t, s.UpsertTrackedItem(ctx, quiet))

	pending, err := s.ListPending(ctx, 1)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "a", pending[0].ItemID)
	assert.Equal(t, "b", pending[1].ItemID)

	at := time.Now().UTC()
	require.NoError(t, s.MarkNotified(ctx, 1, []string{"a"}, at))

	pending, err = s.ListPending(ctx, 1)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "b", pending[0].ItemID)

	// Marking again is a no-op on the queue.
	require.NoError(t, s.MarkNotified(ctx, 1, []string{"a"}, at))
	count, err := s.CountPending(ctx, 1)
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)

	// Other owners are untouched.
	count, err = s.CountPending(ctx, 2)
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)
}

func TestMarkDeliveredMatchesPendingState(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.UpsertTrackedItem(ctx, pendingItem(1, "a", models.NotificationPriceDrop)))
	require.NoError(t, s.UpsertTrackedItem(ctx, pendingItem(1, "b", models.NotificationNew)))

	stale := models.Change{Type: models.NotificationNew, Listing: models.Listing{ID: "a", Price: "1,000 ₪"}}
	otherPrice := models.Change{Type: models.NotificationNew, Listing: models.Listing{ID: "b", Price: "900 ₪"}}
	require.NoError(t, s.MarkDelivered(ctx, 1, []models.Change{stale, otherPrice}, time.Now().UTC()))

	count, err := s.CountPending(ctx, 1)
	require.NoError(t, err)
	assert.EqualValues(t, 2, count)

	current := models.Change{Type: models.NotificationPriceDrop, Listing: models.Listing{ID: "a", Price: "1,000 ₪"}}
	require.NoError(t, s.MarkDelivered(ctx, 1, []models.Change{current}, time.Now().UTC()))

	pending, err := s.ListPending(ctx, 1)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "b", pending[0].ItemID)
}

func TestPurgeUnseenKeepsPending(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	old := time.Now().Add(-48 * time.Hour)

	stale := &models.TrackedItem{UserID: 1, ItemID: "stale", LastSeenAt: old}
	owed := pendingItem(1, "owed", models.NotificationNew)
	owed.LastSeenAt = old
	fresh := &models.TrackedItem{UserID: 1, ItemID: "fresh", LastSeenAt: time.Now()}
	for _, item := range []*models.TrackedItem{stale, owed, fresh} {
		require.NoError(t, s.UpsertTrackedItem(ctx, item))
	}

	n, err := s.PurgeUnseen(ctx, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	for id, want := range map[string]bool{"stale": false, "owed": true, "fresh": true} {
		item, err := s.GetTrackedItem(ctx, 1, id)
		require.NoError(t, err)
		assert.Equal(t, want, item != nil, id)
	}
}

func TestWatchLookups(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	notifier := &models.Notifier{UserID: 1, Platform: models.PlatformTelegram, LinkToken: "tok"}
	require.NoError(t, s.DB().Create(notifier).Error)

	active := &models.Watch{UserID: 1, NotifierID: &notifier.ID, SourceURL: "https://example.com", Active: true}
	inactive := &models.Watch{UserID: 1, SourceURL: "https://example.com/2"}
	require.NoError(t, s.DB().Create(active).Error)
	require.NoError(t, s.DB().Create(inactive).Error)

	ids, err := s.ActiveWatchIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []uint{active.ID}, ids)

	ids, err = s.ActiveWatchIDsForUser(ctx, 2)
	require.NoError(t, err)
	assert.Empty(t, ids)

	got, err := s.GetWatch(ctx, active.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Notifier)
	assert.False(t, got.ChannelLinked())

	missing, err := s.GetWatch(ctx, 999)
	require.NoError(t, err)
	assert.Nil(t, missing)
}
