package monitor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fiffu/listingwatch/lib/models"
	"github.com/fiffu/listingwatch/lib/store"
)

// DiffResult is the outcome of comparing one fetch against the snapshot.
type DiffResult struct {
	Changes   []models.Change
	Unchanged int
	Skipped   int
}

// Diff classifies fetched listings against the owner's tracked items and
// persists the resulting snapshot through repo. Items missing from the fetch
// are left alone.
func Diff(ctx context.Context, repo store.Repository, watch *models.Watch, listings []models.Listing, now time.Time) (*DiffResult, error) {
	res := &DiffResult{}
	seen := make(map[string]bool, len(listings))

	for _, listing := range listings {
		if !listing.Complete() {
			res.Skipped++
			continue
		}
		if seen[listing.ID] {
			continue
		}
		seen[listing.ID] = true

		change, err := diffOne(ctx, repo, watch, listing, now)
		if err != nil {
			return nil, err
		}
		if change != nil {
			res.Changes = append(res.Changes, *change)
		} else {
			res.Unchanged++
		}
	}
	return res, nil
}

func diffOne(ctx context.Context, repo store.Repository, watch *models.Watch, listing models.Listing, now time.Time) (*models.Change, error) {
	existing, err := repo.GetTrackedItem(ctx, watch.UserID, listing.ID)
	if err != nil {
		return nil, err
	}

	if existing == nil {
		item := &models.TrackedItem{
			UserID:           watch.UserID,
			ItemID:           listing.ID,
			WatchID:          watch.ID,
			RawPayload:       listing,
			Price:            listing.Price,
			PriceFingerprint: models.PriceFingerprint(listing.Price),
			PriceDropped:     listing.PriceDropped,
			FirstSeenAt:      now,
			LastSeenAt:       now,
		}
		item.MarkPending(models.NotificationNew)

		err := repo.UpsertTrackedItem(ctx, item)
		if err == nil {
			return &models.Change{Type: models.NotificationNew, Listing: listing}, nil
		}
		if !errors.Is(err, store.ErrConflict) {
			return nil, err
		}

		// Another watch of the same owner inserted it first; diff against that row.
		existing, err = repo.GetTrackedItem(ctx, watch.UserID, listing.ID)
		if err != nil {
			return nil, err
		}
		if existing == nil {
			return nil, fmt.Errorf("tracked item %s vanished after conflict", listing.ID)
		}
	}

	return diffKnown(ctx, repo, existing, listing, now)
}

func diffKnown(ctx context.Context, repo store.Repository, item *models.TrackedItem, listing models.Listing, now time.Time) (*models.Change, error) {
	storedFingerprint := item.PriceFingerprint
	if storedFingerprint == "" {
		storedFingerprint = models.PriceFingerprint(item.Price)
	}
	fingerprint := models.PriceFingerprint(listing.Price)

	item.LastSeenAt = now
	if fingerprint == storedFingerprint {
		item.PriceFingerprint = storedFingerprint
		return nil, repo.UpsertTrackedItem(ctx, item)
	}

	typ := models.NotificationPriceChange
	if listing.PriceDropped {
		typ = models.NotificationPriceDrop
	}
	change := &models.Change{Type: typ, Listing: listing, OldPrice: item.Price}

	item.PreviousPrice = item.Price
	item.Price = listing.Price
	item.PriceFingerprint = fingerprint
	item.PriceDropped = listing.PriceDropped
	item.RawPayload = listing
	item.MarkPending(typ)

	if err := repo.UpsertTrackedItem(ctx, item); err != nil {
		return nil, err
	}
	return change, nil
}
