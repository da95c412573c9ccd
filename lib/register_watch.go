package lib

import (
	"context"
	"errors"
	"net/url"
	"strings"

	"github.com/fiffu/listingwatch/config"
	"github.com/fiffu/listingwatch/lib/models"
	"github.com/fiffu/listingwatch/senders"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type RegisterWatchRequest struct {
	Username             string
	Label                string
	SearchURL            string
	QueryParams          map[string]string
	Platform             string
	Email                string
	CheckIntervalMinutes int
}

type Registration struct {
	UserID   uint
	WatchID  uint
	Platform string
	Linked   bool
	LinkURL  string
}

type registerWatch struct {
	cfg     *config.Config
	log     *zap.Logger
	db      *gorm.DB
	engine  WatchController
	senders senders.Registry
	onboard *onboardUser
}

func (svc *registerWatch) validate(req *RegisterWatchRequest) error {
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" {
		return configErr("username", "must not be empty")
	}

	u, err := url.Parse(req.SearchURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return configErr("search_url", "must be an absolute http(s) URL")
	}

	if req.Platform == "" {
		req.Platform = models.PlatformTelegram
	}
	switch req.Platform {
	case models.PlatformTelegram:
	case models.PlatformEmail:
		if !strings.Contains(req.Email, "@") {
			return configErr("email", "an email address is required for email delivery")
		}
	default:
		return configErr("platform", "unknown platform "+req.Platform)
	}
	if _, err := svc.senders.Get(req.Platform); err != nil {
		return configErr("platform", req.Platform+" delivery is not configured")
	}

	req.CheckIntervalMinutes = svc.cfg.ClampIntervalMinutes(req.CheckIntervalMinutes)
	return nil
}

// RegisterWatch creates or reactivates the user's watch on req.SearchURL and
// starts monitoring it. Notifications accumulate as pending until the
// returned link is completed.
func (svc *registerWatch) RegisterWatch(ctx context.Context, req RegisterWatchRequest) (*Registration, error) {
	if err := svc.validate(&req); err != nil {
		return nil, err
	}

	var user *models.User
	var notif *models.Notifier
	watch := &models.Watch{}
	err := svc.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		user, notif, err = svc.onboard.ensureUserAndNotifier(tx, req.Username, req.Platform, req.Email)
		if err != nil {
			return err
		}

		err = tx.Where("user_id = ? AND source_url = ?", user.ID, req.SearchURL).First(watch).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			watch = &models.Watch{UserID: user.ID, SourceURL: req.SearchURL}
		} else if err != nil {
			return err
		}

		watch.NotifierID = &notif.ID
		watch.QueryParams = req.QueryParams
		watch.CheckIntervalMinutes = req.CheckIntervalMinutes
		watch.Active = true
		if req.Label != "" {
			watch.Label = req.Label
		}
		return tx.Save(watch).Error
	})
	if err != nil {
		return nil, err
	}

	svc.engine.StartWatch(watch.ID)
	svc.log.Sugar().Infow("Watch registered", "watch_id", watch.ID, "user_id", user.ID, "platform", notif.Platform)

	reg := &Registration{
		UserID:   user.ID,
		WatchID:  watch.ID,
		Platform: notif.Platform,
		Linked:   notif.Linked(),
	}

	if reg.Linked {
		svc.confirm(ctx, notif, watch)
		return reg, nil
	}

	reg.LinkURL, err = svc.onboard.linkInstructions(ctx, notif)
	if err != nil {
		// The watch is running; the link can be re-requested by registering again.
		svc.log.Sugar().Warnw("Failed to issue link instructions", "user_id", user.ID, "err", err)
	}
	return reg, nil
}

func (svc *registerWatch) confirm(ctx context.Context, notif *models.Notifier, watch *models.Watch) {
	sender, err := svc.senders.Get(notif.Platform)
	if err == nil {
		_, err = sender.SendConfirmation(ctx, notif, watch)
	}
	if err != nil {
		svc.log.Sugar().Warnw("Failed to send registration confirmation", "watch_id", watch.ID, "err", err)
	}
}
