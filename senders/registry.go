package senders

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/fiffu/listingwatch/config"
	"github.com/fiffu/listingwatch/lib/models"
	"go.uber.org/zap"
)

var (
	ErrUnsupportedPlatform = errors.New("unsupported notifier platform")
	ErrDeliveryFailed      = errors.New("delivery failed")
)

type Sender interface {
	SendChange(ctx context.Context, notifier *models.Notifier, watch *models.Watch, change models.Change) (string, error)
	SendConfirmation(ctx context.Context, notifier *models.Notifier, watch *models.Watch) (string, error)
	SendVerification(ctx context.Context, notifier *models.Notifier, verifyURL string) (string, error)
}

// Registry maps a notifier platform to the sender that serves it. Platforms
// without credentials are left out.
type Registry map[string]Sender

func NewSenderRegistry(log *zap.Logger, cfg *config.Config, transport http.RoundTripper, tg *Telegram) Registry {
	registry := Registry{}
	if tg.Enabled() {
		registry[models.PlatformTelegram] = tg
	}
	if cfg.Mailgun.Domain != "" && cfg.Mailgun.APIKey != "" {
		registry[models.PlatformEmail] = &mailgunSender{base{log, cfg, transport}}
	}
	if len(registry) == 0 {
		log.Sugar().Warn("No delivery platform is configured; notifications will stay pending")
	}
	return registry
}

func (r Registry) Get(platform string) (Sender, error) {
	sender, ok := r[platform]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedPlatform, platform)
	}
	return sender, nil
}

// Deliver sends one change through the notifier's platform.
func (r Registry) Deliver(ctx context.Context, notifier *models.Notifier, watch *models.Watch, change models.Change) error {
	if !notifier.Linked() {
		return fmt.Errorf("%w: notifier is not linked", ErrDeliveryFailed)
	}
	sender, err := r.Get(notifier.Platform)
	if err != nil {
		return err
	}
	if _, err := sender.SendChange(ctx, notifier, watch, change); err != nil {
		return fmt.Errorf("%w: %w", ErrDeliveryFailed, err)
	}
	return nil
}

type base struct {
	log       *zap.Logger
	cfg       *config.Config
	transport http.RoundTripper
}
