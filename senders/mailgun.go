package senders

import (
	"context"
	"fmt"
	"time"

	"github.com/fiffu/listingwatch/lib/models"
	"github.com/fiffu/listingwatch/senders/email"
	"github.com/mailgun/mailgun-go/v4"
)

type mailgunSender struct {
	base
}

func (e *mailgunSender) Send(ctx context.Context, subject, body, recipient string) (string, error) {
	if recipient == "" {
		return "", fmt.Errorf("email recipient missing")
	}

	mg := mailgun.NewMailgun(e.cfg.Mailgun.Domain, e.cfg.Mailgun.APIKey)
	mg.Client().Transport = e.transport
	if e.cfg.Mailgun.APIBase != "" {
		mg.SetAPIBase(e.cfg.Mailgun.APIBase)
	}

	// Create message with empty body first.
	message := mg.NewMessage(e.cfg.Mailgun.SenderFrom, subject, "", recipient)
	// SetHtml with the payload proper. This will assign the MIME type properly.
	message.SetHtml(body)

	if e.cfg.Mailgun.TimeoutSecs > 0 {
		timeout := time.Duration(e.cfg.Mailgun.TimeoutSecs) * time.Second
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	_, id, err := mg.Send(ctx, message)
	return id, err
}

func (e *mailgunSender) SendChange(ctx context.Context, notifier *models.Notifier, watch *models.Watch, change models.Change) (string, error) {
	f := &email.ListingEmailFormat{Watch: watch, Change: change, Headline: Headline(change)}
	return e.Send(ctx, f.Subject(), f.Body(), notifier.PlatformIdentifier)
}

func (e *mailgunSender) SendConfirmation(ctx context.Context, notifier *models.Notifier, watch *models.Watch) (string, error) {
	f := &email.ConfirmationEmailFormat{Watch: watch}
	return e.Send(ctx, f.Subject(), f.Body(), notifier.PlatformIdentifier)
}

func (e *mailgunSender) SendVerification(ctx context.Context, notifier *models.Notifier, verifyURL string) (string, error) {
	f := &email.VerificationEmailFormat{VerifyURL: verifyURL}
	return e.Send(ctx, f.Subject(), f.Body(), notifier.PlatformIdentifier)
}
