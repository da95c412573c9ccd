package lib

import (
	"context"
	"errors"
	"fmt"

	"github.com/fiffu/listingwatch/config"
	"github.com/fiffu/listingwatch/lib/models"
	"github.com/fiffu/listingwatch/lib/store"
	"github.com/fiffu/listingwatch/senders"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// WatchController is the engine's command interface.
type WatchController interface {
	StartWatch(watchID uint) bool
	StopWatch(watchID uint)
	OnDeliveryChannelLinked(ctx context.Context, userID uint) error
}

type Service struct {
	cfg     *config.Config
	log     *zap.Logger
	db      *gorm.DB
	store   *store.Store
	engine  WatchController
	senders senders.Registry

	*onboardUser
	*registerWatch
}

func NewService(cfg *config.Config, log *zap.Logger, db *gorm.DB, engine WatchController, registry senders.Registry, tg *senders.Telegram) *Service {
	onboard := &onboardUser{cfg, log, db, registry, tg}
	return &Service{
		cfg, log, db, store.New(db), engine, registry,
		onboard,
		&registerWatch{cfg, log, db, engine, registry, onboard},
	}
}

// LinkChannel completes the out-of-band handshake for the notifier holding
// linkToken. identifier replaces the stored address when non-empty (the
// telegram chat id).
func (svc *Service) LinkChannel(ctx context.Context, linkToken, identifier string) (*models.Notifier, error) {
	notifier := &models.Notifier{}
	tx := svc.db.WithContext(ctx).Where("link_token = ?", linkToken).First(notifier)
	if err := tx.Error; errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("link token %q: %w", linkToken, err)
	} else if err != nil {
		return nil, err
	}

	notifier.Verified = true
	if identifier != "" {
		notifier.PlatformIdentifier = identifier
	}
	if err := svc.db.WithContext(ctx).Save(notifier).Error; err != nil {
		return nil, err
	}
	svc.log.Sugar().Infow("Delivery channel linked", "user_id", notifier.UserID, "platform", notifier.Platform)

	if err := svc.engine.OnDeliveryChannelLinked(ctx, notifier.UserID); err != nil {
		return notifier, err
	}
	return notifier, nil
}

// DeactivateWatch clears the active flag and stops the worker. The row and
// its history are kept.
func (svc *Service) DeactivateWatch(ctx context.Context, watchID uint) (*models.Watch, error) {
	watch := &models.Watch{}
	tx := svc.db.WithContext(ctx).First(watch, watchID)
	if err := tx.Error; err != nil {
		return nil, fmt.Errorf("watch %d: %w", watchID, err)
	}

	if err := svc.db.WithContext(ctx).Model(watch).Update("active", false).Error; err != nil {
		return nil, err
	}
	svc.engine.StopWatch(watchID)
	svc.log.Sugar().Infow("Watch deactivated", "watch_id", watchID, "user_id", watch.UserID)
	return watch, nil
}

type UserStatus struct {
	User                 *models.User
	PendingNotifications int64
}

func (svc *Service) UserStatus(ctx context.Context, userID uint) (*UserStatus, error) {
	user := &models.User{}
	tx := svc.db.WithContext(ctx).Preload("Watches").Preload("Notifiers").First(user, userID)
	if err := tx.Error; err != nil {
		return nil, fmt.Errorf("user %d: %w", userID, err)
	}

	pending, err := svc.store.CountPending(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &UserStatus{User: user, PendingNotifications: pending}, nil
}
