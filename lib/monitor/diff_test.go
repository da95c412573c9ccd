package monitor

import (
	"context"
	"testing"
	"time"

	"github.com/fiffu/listingwatch/lib/models"
	"github.com/fiffu/listingwatch/lib/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *store.Store {
	db, err := store.OpenInMemory()
	require.NoError(t, err)
	return store.New(db)
}

func listing(id, price string, dropped bool) models.Listing {
	return models.Listing{
		ID:           id,
		Title:        "Listing " + id,
		Price:        price,
		Location:     "Tel Aviv",
		Link:         "https://www.yad2.co.il/item/" + id,
		PriceDropped: dropped,
	}
}

func diffInTx(t *testing.T, s store.Repository, watch *models.Watch, listings ...models.Listing) *DiffResult {
	var res *DiffResult
	err := s.Transaction(context.Background(), func(tx store.Repository) error {
		var err error
		res, err = Diff(context.Background(), tx, watch, listings, time.Now().UTC())
		return err
	})
	require.NoError(t, err)
	return res
}

func getItem(t *testing.T, s *store.Store, userID uint, itemID string) *models.TrackedItem {
	item, err := s.GetTrackedItem(context.Background(), userID, itemID)
	require.NoError(t, err)
	return item
}

func TestDiffNewItem(t *testing.T) {
	s := newTestStore(t)
	watch := &models.Watch{UserID: 1}
	watch.ID = 10

	res := diffInTx(t, s, watch, listing("a", "4,500 ₪", false))
	require.Len(t, res.Changes, 1)
	assert.Equal(t, models.NotificationNew, res.Changes[0].Type)

	item := getItem(t, s, 1, "a")
	require.NotNil(t, item)
	assert.True(t, item.Pending())
	assert.Equal(t, uint(10), item.WatchID)
	assert.Equal(t, models.PriceFingerprint("4500₪"), item.PriceFingerprint)

	// Seen again with the same price: no change, still exactly one pending row.
	res = diffInTx(t, s, watch, listing("a", "4,500 ₪", false))
	assert.Empty(t, res.Changes)
	assert.Equal(t, 1, res.Unchanged)

	pending, err := s.ListPending(context.Background(), 1)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestDiffPriceChanges(t *testing.T) {
	tests := []struct {
		name    string
		dropped bool
		want    models.NotificationType
	}{
		{"source marks a drop", true, models.NotificationPriceDrop},
		{"no drop marker", false, models.NotificationPriceChange},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			s := newTestStore(t)
			watch := &models.Watch{UserID: 1}

			diffInTx(t, s, watch, listing("a", "5,000 ₪", false))
			require.NoError(t, s.MarkNotified(ctx, 1, []string{"a"}, time.Now().UTC()))

			res := diffInTx(t, s, watch, listing("a", "4,800 ₪", tt.dropped))
			require.Len(t, res.Changes, 1)
			assert.Equal(t, tt.want, res.Changes[0].Type)
			assert.Equal(t, "5,000 ₪", res.Changes[0].OldPrice)

			item := getItem(t, s, 1, "a")
			assert.True(t, item.Pending())
			assert.Equal(t, tt.want, *item.LastNotificationType)
			assert.Equal(t, "4,800 ₪", item.Price)
			assert.Equal(t, "5,000 ₪", item.PreviousPrice)
			assert.Equal(t, tt.dropped, item.PriceDropped)
		})
	}
}

func TestDiffEqualFingerprintIsNoop(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	watch := &models.Watch{UserID: 1}

	diffInTx(t, s, watch, listing("a", "1,200₪", false))
	notifiedAt := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.MarkNotified(ctx, 1, []string{"a"}, notifiedAt))
	before := getItem(t, s, 1, "a")

	res := diffInTx(t, s, watch, listing("a", "1200 ₪", false))
	assert.Empty(t, res.Changes)

	after := getItem(t, s, 1, "a")
	assert.Equal(t, *before.LastNotificationType, *after.LastNotificationType)
	assert.True(t, after.LastNotifiedAt.Time.Equal(notifiedAt))
	assert.Equal(t, "1,200₪", after.Price)
	assert.False(t, after.LastSeenAt.Before(before.LastSeenAt))
}

func TestDiffBackfillsMissingFingerprint(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	legacy := &models.TrackedItem{UserID: 1, ItemID: "a", Price: "3,300 ₪"}
	require.NoError(t, s.UpsertTrackedItem(ctx, legacy))

	res := diffInTx(t, s, &models.Watch{UserID: 1}, listing("a", "3300₪", false))
	assert.Empty(t, res.Changes)
	assert.Equal(t, models.PriceFingerprint("3,300 ₪"), getItem(t, s, 1, "a").PriceFingerprint)
}

func TestDiffSkipsIncompleteListings(t *testing.T) {
	s := newTestStore(t)
	noLocation := listing("a", "1,000 ₪", false)
	noLocation.Location = ""
	noPrice := listing("b", "", false)

	res := diffInTx(t, s, &models.Watch{UserID: 1}, noLocation, noPrice)
	assert.Empty(t, res.Changes)
	assert.Equal(t, 2, res.Skipped)
	assert.Nil(t, getItem(t, s, 1, "a"))
	assert.Nil(t, getItem(t, s, 1, "b"))
}

func TestDiffKeepsAbsentItems(t *testing.T) {
	s := newTestStore(t)
	watch := &models.Watch{UserID: 1}

	diffInTx(t, s, watch, listing("a", "1 ₪", false), listing("b", "2 ₪", false))
	diffInTx(t, s, watch, listing("a", "1 ₪", false))

	assert.NotNil(t, getItem(t, s, 1, "b"))
}

func TestDiffDuplicateIDsInOneFetch(t *testing.T) {
	s := newTestStore(t)
	res := diffInTx(t, s, &models.Watch{UserID: 1}, listing("a", "1 ₪", false), listing("a", "1 ₪", false))
	assert.Len(t, res.Changes, 1)
}

// racingRepo hides an item on its first lookup, as if another watch of the
// same owner inserted it between our read and our insert.
type racingRepo struct {
	store.Repository
	looked map[string]bool
}

func (r *racingRepo) GetTrackedItem(ctx context.Context, userID uint, itemID string) (*models.TrackedItem, error) {
	if !r.looked[itemID] {
		r.looked[itemID] = true
		return nil, nil
	}
	return r.Repository.GetTrackedItem(ctx, userID, itemID)
}

func TestDiffRecoversFromInsertConflict(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	other := &models.Watch{UserID: 1}
	other.ID = 2
	diffInTx(t, s, other, listing("a", "7,000 ₪", false))
	require.NoError(t, s.MarkNotified(ctx, 1, []string{"a"}, time.Now().UTC()))

	watch := &models.Watch{UserID: 1}
	watch.ID = 3
	var res *DiffResult
	err := s.Transaction(ctx, func(tx store.Repository) error {
		var err error
		res, err = Diff(ctx, &racingRepo{tx, map[string]bool{}}, watch, []models.Listing{
			listing("a", "6,500 ₪", false),
			listing("b", "1,000 ₪", false),
		}, time.Now().UTC())
		return err
	})
	require.NoError(t, err)

	require.Len(t, res.Changes, 2)
	assert.Equal(t, models.NotificationPriceChange, res.Changes[0].Type)
	assert.Equal(t, "7,000 ₪", res.Changes[0].OldPrice)
	assert.Equal(t, models.NotificationNew, res.Changes[1].Type)

	item := getItem(t, s, 1, "a")
	assert.Equal(t, "6,500 ₪", item.Price)
	assert.Equal(t, uint(2), item.WatchID)
}

func TestPendingQueueCollectThenMarkSent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	diffInTx(t, s, &models.Watch{UserID: 1}, listing("a", "1 ₪", false), listing("b", "2 ₪", false))
	diffInTx(t, s, &models.Watch{UserID: 2}, listing("a", "1 ₪", false))

	q := NewPendingQueue(s)
	pending, err := q.Collect(ctx, 1)
	require.NoError(t, err)
	require.Len(t, pending, 2)

	require.NoError(t, q.MarkSent(ctx, 1, []string{"a"}, time.Now().UTC()))
	require.NoError(t, q.MarkSent(ctx, 1, []string{"a"}, time.Now().UTC()))

	pending, err = q.Collect(ctx, 1)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "b", pending[0].ItemID)

	// Other owners are untouched.
	pending, err = q.Collect(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}
