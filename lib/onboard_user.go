package lib

import (
	"context"
	"errors"
	"fmt"

	"github.com/fiffu/listingwatch/config"
	"github.com/fiffu/listingwatch/lib/models"
	"github.com/fiffu/listingwatch/senders"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type onboardUser struct {
	cfg      *config.Config
	log      *zap.Logger
	db       *gorm.DB
	senders  senders.Registry
	telegram *senders.Telegram
}

// ensureUserAndNotifier finds or creates the user and their notifier for
// platform. A notifier that is not yet verified picks up a changed address.
func (svc *onboardUser) ensureUserAndNotifier(tx *gorm.DB, username, platform, address string) (*models.User, *models.Notifier, error) {
	user := &models.User{}
	err := tx.Where("username = ?", username).First(user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		user = &models.User{Username: username}
		err = tx.Create(user).Error
	}
	if err != nil {
		return nil, nil, err
	}

	notif := &models.Notifier{}
	err = tx.Where("user_id = ? AND platform = ?", user.ID, platform).First(notif).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		notif = &models.Notifier{
			UserID:             user.ID,
			Platform:           platform,
			PlatformIdentifier: address,
			LinkToken:          svc.generateLinkToken(),
		}
		if err := tx.Create(notif).Error; err != nil {
			return nil, nil, err
		}
	case err != nil:
		return nil, nil, err
	case !notif.Verified && address != "" && notif.PlatformIdentifier != address:
		notif.PlatformIdentifier = address
		if err := tx.Save(notif).Error; err != nil {
			return nil, nil, err
		}
	}

	return user, notif, nil
}

// linkInstructions tells the user how to finish linking, sending the
// verification email where that is the handshake.
func (svc *onboardUser) linkInstructions(ctx context.Context, notif *models.Notifier) (string, error) {
	switch notif.Platform {
	case models.PlatformTelegram:
		return svc.telegram.DeepLink(notif.LinkToken), nil
	case models.PlatformEmail:
		url := svc.verifyURL(notif.LinkToken)
		return url, svc.sendVerificationEmail(ctx, notif, url)
	}
	return "", fmt.Errorf("%w: %s", senders.ErrUnsupportedPlatform, notif.Platform)
}

func (svc *onboardUser) verifyURL(linkToken string) string {
	return fmt.Sprintf("%s/link/%s", svc.cfg.ServerDNS, linkToken)
}

func (svc *onboardUser) sendVerificationEmail(ctx context.Context, notif *models.Notifier, url string) error {
	sender, err := svc.senders.Get(models.PlatformEmail)
	if err != nil {
		return err
	}

	id, err := sender.SendVerification(ctx, notif, url)
	if err != nil {
		svc.log.Sugar().Infow("Failed to send verification email", "err", err)
	} else {
		svc.log.Sugar().Infow("Sent verification to "+notif.PlatformIdentifier, "message_id", id)
	}
	return err
}

func (svc *onboardUser) generateLinkToken() string {
	return uuid.NewString()
}
