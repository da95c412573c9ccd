package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fiffu/listingwatch/lib/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ErrConflict is returned when inserting a tracked item collides with a row
// created concurrently for the same (owner, item) pair.
var ErrConflict = errors.New("tracked item already exists")

// Open connects to a SQLite database and runs migrations.
func Open(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dsn, err)
	}

	// SQLite serialises writers anyway; a single connection avoids SQLITE_BUSY
	// between workers and keeps shared in-memory databases alive.
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := Migrate(db); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return db, nil
}

func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.User{},
		&models.Notifier{},
		&models.Watch{},
		&models.TrackedItem{},
	)
}

// Repository is the persistence contract the monitoring engine runs on.
type Repository interface {
	ActiveWatchIDs(ctx context.Context) ([]uint, error)
	ActiveWatchIDsForUser(ctx context.Context, userID uint) ([]uint, error)
	GetWatch(ctx context.Context, id uint) (*models.Watch, error)
	GetTrackedItem(ctx context.Context, userID uint, itemID string) (*models.TrackedItem, error)
	UpsertTrackedItem(ctx context.Context, item *models.TrackedItem) error
	ListPending(ctx context.Context, userID uint) (models.TrackedItems, error)
	MarkNotified(ctx context.Context, userID uint, itemIDs []string, at time.Time) error
	MarkDelivered(ctx context.Context, userID uint, changes []models.Change, at time.Time) error
	PurgeUnseen(ctx context.Context, cutoff time.Time) (int64, error)
	Transaction(ctx context.Context, fn func(tx Repository) error) error
}

// Store is the gorm-backed repository for watches and tracked items.
type Store struct {
	db   *gorm.DB
	inTx bool
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) DB() *gorm.DB {
	return s.db
}

// Transaction runs fn against a store bound to a single transaction. All
// writes made through the inner store commit or roll back together.
func (s *Store) Transaction(ctx context.Context, fn func(tx Repository) error) error {
	if s.inTx {
		return fn(s)
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{db: tx, inTx: true})
	})
}

func (s *Store) ActiveWatchIDs(ctx context.Context) ([]uint, error) {
	var ids []uint
	tx := s.db.WithContext(ctx).Model(&models.Watch{}).Where("active = ?", true).Pluck("id", &ids)
	if err := tx.Error; err != nil {
		return nil, fmt.Errorf("list active watches: %w", err)
	}
	return ids, nil
}

func (s *Store) ActiveWatchIDsForUser(ctx context.Context, userID uint) ([]uint, error) {
	var ids []uint
	tx := s.db.WithContext(ctx).
		Model(&models.Watch{}).
		Where("user_id = ? AND active = ?", userID, true).
		Pluck("id", &ids)
	if err := tx.Error; err != nil {
		return nil, fmt.Errorf("list active watches for user %d: %w", userID, err)
	}
	return ids, nil
}

// GetWatch returns nil without error when the watch does not exist.
func (s *Store) GetWatch(ctx context.Context, id uint) (*models.Watch, error) {
	watch := &models.Watch{}
	tx := s.db.WithContext(ctx).Preload("Notifier").First(watch, id)
	if err := tx.Error; errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("get watch %d: %w", id, err)
	}
	return watch, nil
}

// GetTrackedItem returns nil without error when the item was never seen.
func (s *Store) GetTrackedItem(ctx context.Context, userID uint, itemID string) (*models.TrackedItem, error) {
	item := &models.TrackedItem{}
	tx := s.db.WithContext(ctx).
		Where("user_id = ? AND item_id = ?", userID, itemID).
		Take(item)
	if err := tx.Error; errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("get tracked item %s: %w", itemID, err)
	}
	return item, nil
}

// UpsertTrackedItem inserts items without a primary key and saves the rest.
// A unique-key collision on insert yields ErrConflict and, inside a
// transaction, leaves the transaction usable.
func (s *Store) UpsertTrackedItem(ctx context.Context, item *models.TrackedItem) error {
	db := s.db.WithContext(ctx)
	if item.ID != 0 {
		if err := db.Save(item).Error; err != nil {
			return fmt.Errorf("save tracked item %s: %w", item.ItemID, err)
		}
		return nil
	}

	const savepoint = "insert_tracked_item"
	if s.inTx {
		if err := db.SavePoint(savepoint).Error; err != nil {
			return err
		}
	}

	err := db.Create(item).Error
	if err == nil {
		return nil
	}
	item.ID = 0

	if s.inTx {
		if rbErr := db.RollbackTo(savepoint).Error; rbErr != nil {
			return errors.Join(err, rbErr)
		}
	}
	if isUniqueViolation(err) {
		return fmt.Errorf("insert tracked item %s: %w", item.ItemID, ErrConflict)
	}
	return fmt.Errorf("insert tracked item %s: %w", item.ItemID, err)
}

func isUniqueViolation(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey) ||
		strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func pendingScope(db *gorm.DB) *gorm.DB {
	return db.Where("last_notification_type IS NOT NULL AND last_notified_at IS NULL")
}

// ListPending returns every tracked item of the owner still owed a notification.
func (s *Store) ListPending(ctx context.Context, userID uint) (models.TrackedItems, error) {
	var items models.TrackedItems
	tx := s.db.WithContext(ctx).
		Scopes(pendingScope).
		Where("user_id = ?", userID).
		Order("id").
		Find(&items)
	if err := tx.Error; err != nil {
		return nil, fmt.Errorf("list pending for user %d: %w", userID, err)
	}
	return items, nil
}

func (s *Store) CountPending(ctx context.Context, userID uint) (int64, error) {
	var count int64
	tx := s.db.WithContext(ctx).
		Model(&models.TrackedItem{}).
		Scopes(pendingScope).
		Where("user_id = ?", userID).
		Count(&count)
	return count, tx.Error
}

// MarkNotified stamps last_notified_at for exactly the given items.
func (s *Store) MarkNotified(ctx context.Context, userID uint, itemIDs []string, at time.Time) error {
	if len(itemIDs) == 0 {
		return nil
	}
	tx := s.db.WithContext(ctx).
		Model(&models.TrackedItem{}).
		Where("user_id = ? AND item_id IN ?", userID, itemIDs).
		Update("last_notified_at", at)
	if err := tx.Error; err != nil {
		return fmt.Errorf("mark notified for user %d: %w", userID, err)
	}
	return nil
}

// MarkDelivered stamps last_notified_at only on items whose pending state is
// still the one that was delivered. An item rewritten to a newer change in
// the meantime stays pending.
func (s *Store) MarkDelivered(ctx context.Context, userID uint, changes []models.Change, at time.Time) error {
	if len(changes) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(func(db *gorm.DB) error {
		for _, ch := range changes {
			tx := db.Model(&models.TrackedItem{}).
				Scopes(pendingScope).
				Where("user_id = ? AND item_id = ?", userID, ch.Listing.ID).
				Where("last_notification_type = ? AND price = ?", ch.Type, ch.Listing.Price).
				Update("last_notified_at", at)
			if err := tx.Error; err != nil {
				return fmt.Errorf("mark delivered %s for user %d: %w", ch.Listing.ID, userID, err)
			}
		}
		return nil
	})
}

// PurgeUnseen deletes items not seen since cutoff, keeping anything still
// owed a notification.
func (s *Store) PurgeUnseen(ctx context.Context, cutoff time.Time) (int64, error) {
	tx := s.db.WithContext(ctx).
		Where("last_seen_at < ?", cutoff).
		Where("last_notification_type IS NULL OR last_notified_at IS NOT NULL").
		Delete(&models.TrackedItem{})
	return tx.RowsAffected, tx.Error
}
