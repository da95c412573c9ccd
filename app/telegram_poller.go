package app

import (
	"context"
	"errors"
	"time"

	"github.com/fiffu/listingwatch/config"
	"github.com/fiffu/listingwatch/lib"
	"github.com/fiffu/listingwatch/lib/models"
	"github.com/fiffu/listingwatch/senders"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type channelLinker interface {
	LinkChannel(ctx context.Context, linkToken, identifier string) (*models.Notifier, error)
}

// TelegramPoller turns "/start <token>" bot messages into linked channels.
type TelegramPoller struct {
	log      *zap.Logger
	tg       *senders.Telegram
	svc      channelLinker
	interval time.Duration

	cancel context.CancelFunc
	done   chan struct{}
}

func NewTelegramPoller(lc fx.Lifecycle, cfg *config.Config, log *zap.Logger, tg *senders.Telegram, svc *lib.Service) *TelegramPoller {
	p := &TelegramPoller{
		log:      log,
		tg:       tg,
		svc:      svc,
		interval: time.Duration(cfg.Telegram.PollSecs) * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			if !tg.Enabled() {
				log.Sugar().Info("Telegram is not configured, link poller disabled")
				return nil
			}
			p.Start()
			return nil
		},
		OnStop: p.Stop,
	})
	return p
}

func (p *TelegramPoller) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan struct{})

	go func() {
		defer close(p.done)
		p.log.Sugar().Info("Starting Telegram update poller")

		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			p.Poll(ctx)
			select {
			case <-ctx.Done():
				p.log.Sugar().Info("Telegram update poller stopped")
				return
			case <-ticker.C:
			}
		}
	}()
}

func (p *TelegramPoller) Stop(ctx context.Context) error {
	if p.cancel == nil {
		return nil
	}
	p.cancel()
	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Poll handles one batch of bot updates and returns how many channels were linked.
func (p *TelegramPoller) Poll(ctx context.Context) int {
	cmds, err := p.tg.GetStartCommands(ctx)
	if err != nil {
		if ctx.Err() == nil {
			p.log.Sugar().Warnw("Error polling Telegram updates", "err", err)
		}
		return 0
	}

	linked := 0
	for _, cmd := range cmds {
		notifier, err := p.svc.LinkChannel(ctx, cmd.Token, cmd.ChatID)
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			p.log.Sugar().Warnw("Received /start with unknown token", "chat_id", cmd.ChatID)
			continue
		case err != nil && notifier == nil:
			p.log.Sugar().Errorw("Failed to link Telegram chat", "chat_id", cmd.ChatID, "err", err)
			continue
		case err != nil:
			p.log.Sugar().Warnw("Linked Telegram chat but failed to wake watches", "chat_id", cmd.ChatID, "err", err)
		}

		linked++
		if err := p.tg.SendLinked(ctx, cmd.ChatID); err != nil {
			p.log.Sugar().Warnw("Failed to confirm Telegram registration", "chat_id", cmd.ChatID, "err", err)
		}
	}
	return linked
}
