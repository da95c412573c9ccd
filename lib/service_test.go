package lib

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fiffu/listingwatch/config"
	"github.com/fiffu/listingwatch/lib/models"
	"github.com/fiffu/listingwatch/lib/store"
	"github.com/fiffu/listingwatch/senders"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fakeController struct {
	mu      sync.Mutex
	started []uint
	stopped []uint
	linked  []uint
}

func (c *fakeController) StartWatch(id uint) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.started = append(c.started, id)
	return true
}

func (c *fakeController) StopWatch(id uint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopped = append(c.stopped, id)
}

func (c *fakeController) OnDeliveryChannelLinked(_ context.Context, userID uint) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.linked = append(c.linked, userID)
	return nil
}

type fakeSender struct {
	confirmations int
	verifications []string
}

func (s *fakeSender) SendChange(context.Context, *models.Notifier, *models.Watch, models.Change) (string, error) {
	return "1", nil
}

func (s *fakeSender) SendConfirmation(context.Context, *models.Notifier, *models.Watch) (string, error) {
	s.confirmations++
	return "1", nil
}

func (s *fakeSender) SendVerification(_ context.Context, _ *models.Notifier, url string) (string, error) {
	s.verifications = append(s.verifications, url)
	return "1", nil
}

type serviceFixture struct {
	svc    *Service
	db     *gorm.DB
	ctrl   *fakeController
	sender *fakeSender
}

func newServiceFixture(t *testing.T, platforms ...string) *serviceFixture {
	db, err := store.OpenInMemory()
	require.NoError(t, err)

	cfg := &config.Config{ServerDNS: "http://localhost:8000"}
	cfg.Monitor.DefaultIntervalMins = 20
	cfg.Monitor.MinIntervalSecs = 300
	cfg.Monitor.MaxIntervalSecs = 3600
	cfg.Telegram.BotToken = "123:abc"
	cfg.Telegram.BotUsername = "listingwatch_bot"

	f := &serviceFixture{db: db, ctrl: &fakeController{}, sender: &fakeSender{}}
	registry := senders.Registry{}
	for _, p := range platforms {
		registry[p] = f.sender
	}
	tg := senders.NewTelegram(zap.NewNop(), cfg, nil)
	f.svc = NewService(cfg, zap.NewNop(), db, f.ctrl, registry, tg)
	return f
}

func (f *serviceFixture) notifier(t *testing.T, userID uint) *models.Notifier {
	n := &models.Notifier{}
	require.NoError(t, f.db.Where("user_id = ?", userID).First(n).Error)
	return n
}

const searchURL = "https://www.yad2.co.il/realestate/rent"

func TestRegisterWatchCreatesThenReuses(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t, models.PlatformTelegram)

	reg, err := f.svc.RegisterWatch(ctx, RegisterWatchRequest{
		Username:    "dana",
		Label:       "3BR",
		SearchURL:   searchURL,
		QueryParams: map[string]string{"city": "5000"},
	})
	require.NoError(t, err)
	assert.False(t, reg.Linked)
	assert.Equal(t, models.PlatformTelegram, reg.Platform)

	n := f.notifier(t, reg.UserID)
	assert.Equal(t, "https://t.me/listingwatch_bot?start="+n.LinkToken, reg.LinkURL)
	assert.Equal(t, []uint{reg.WatchID}, f.ctrl.started)

	_, err = f.svc.DeactivateWatch(ctx, reg.WatchID)
	require.NoError(t, err)

	again, err := f.svc.RegisterWatch(ctx, RegisterWatchRequest{
		Username:    "dana",
		SearchURL:   searchURL,
		QueryParams: map[string]string{"city": "3000"},
	})
	require.NoError(t, err)
	assert.Equal(t, reg.WatchID, again.WatchID)
	assert.Equal(t, reg.UserID, again.UserID)

	watch := &models.Watch{}
	require.NoError(t, f.db.First(watch, again.WatchID).Error)
	assert.True(t, watch.Active)
	assert.Equal(t, "3BR", watch.Label)
	assert.Equal(t, map[string]string{"city": "3000"}, watch.QueryParams)
	assert.Equal(t, 20, watch.CheckIntervalMinutes)

	other, err := f.svc.RegisterWatch(ctx, RegisterWatchRequest{Username: "dana", SearchURL: searchURL + "?rooms=3"})
	require.NoError(t, err)
	assert.NotEqual(t, reg.WatchID, other.WatchID)

	var count int64
	require.NoError(t, f.db.Model(&models.Notifier{}).Where("user_id = ?", reg.UserID).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestRegisterWatchValidation(t *testing.T) {
	tests := []struct {
		name  string
		req   RegisterWatchRequest
		field string
	}{
		{"missing username", RegisterWatchRequest{SearchURL: searchURL}, "username"},
		{"relative url", RegisterWatchRequest{Username: "a", SearchURL: "/realestate/rent"}, "search_url"},
		{"unknown platform", RegisterWatchRequest{Username: "a", SearchURL: searchURL, Platform: "pigeon"}, "platform"},
		{"email without address", RegisterWatchRequest{Username: "a", SearchURL: searchURL, Platform: models.PlatformEmail}, "email"},
		{"email not configured", RegisterWatchRequest{Username: "a", SearchURL: searchURL, Platform: models.PlatformEmail, Email: "a@b.c"}, "platform"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newServiceFixture(t, models.PlatformTelegram)
			_, err := f.svc.RegisterWatch(context.Background(), tt.req)

			var cfgErr *ConfigurationError
			require.True(t, errors.As(err, &cfgErr), "got %v", err)
			assert.Equal(t, tt.field, cfgErr.Field)
			assert.Empty(t, f.ctrl.started)
		})
	}
}

func TestRegisterWatchByEmailSendsVerification(t *testing.T) {
	f := newServiceFixture(t, models.PlatformEmail)

	reg, err := f.svc.RegisterWatch(context.Background(), RegisterWatchRequest{
		Username:  "dana",
		SearchURL: searchURL,
		Platform:  models.PlatformEmail,
		Email:     "dana@example.com",
	})
	require.NoError(t, err)

	n := f.notifier(t, reg.UserID)
	assert.Equal(t, "dana@example.com", n.PlatformIdentifier)
	require.Len(t, f.sender.verifications, 1)
	assert.Equal(t, "http://localhost:8000/link/"+n.LinkToken, f.sender.verifications[0])
	assert.Equal(t, f.sender.verifications[0], reg.LinkURL)
}

func TestLinkChannel(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t, models.PlatformTelegram)
	reg, err := f.svc.RegisterWatch(ctx, RegisterWatchRequest{Username: "dana", SearchURL: searchURL})
	require.NoError(t, err)
	token := f.notifier(t, reg.UserID).LinkToken

	n, err := f.svc.LinkChannel(ctx, token, "98765")
	require.NoError(t, err)
	assert.True(t, n.Linked())
	assert.Equal(t, "98765", f.notifier(t, reg.UserID).PlatformIdentifier)
	assert.Equal(t, []uint{reg.UserID}, f.ctrl.linked)

	_, err = f.svc.LinkChannel(ctx, "no-such-token", "1")
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)

	// Registering on a linked channel confirms instead of re-issuing a link.
	again, err := f.svc.RegisterWatch(ctx, RegisterWatchRequest{Username: "dana", SearchURL: searchURL})
	require.NoError(t, err)
	assert.True(t, again.Linked)
	assert.Empty(t, again.LinkURL)
	assert.Equal(t, 1, f.sender.confirmations)
}

func TestDeactivateWatch(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t, models.PlatformTelegram)
	reg, err := f.svc.RegisterWatch(ctx, RegisterWatchRequest{Username: "dana", SearchURL: searchURL})
	require.NoError(t, err)

	watch, err := f.svc.DeactivateWatch(ctx, reg.WatchID)
	require.NoError(t, err)
	assert.Equal(t, reg.WatchID, watch.ID)
	assert.Equal(t, []uint{reg.WatchID}, f.ctrl.stopped)

	reloaded := &models.Watch{}
	require.NoError(t, f.db.First(reloaded, reg.WatchID).Error)
	assert.False(t, reloaded.Active)

	_, err = f.svc.DeactivateWatch(ctx, 4040)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestUserStatus(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t, models.PlatformTelegram)
	reg, err := f.svc.RegisterWatch(ctx, RegisterWatchRequest{Username: "dana", SearchURL: searchURL})
	require.NoError(t, err)

	now := time.Now().UTC()
	item := &models.TrackedItem{UserID: reg.UserID, ItemID: "a", WatchID: reg.WatchID, FirstSeenAt: now, LastSeenAt: now}
	item.MarkPending(models.NotificationNew)
	require.NoError(t, store.New(f.db).UpsertTrackedItem(ctx, item))

	status, err := f.svc.UserStatus(ctx, reg.UserID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, status.PendingNotifications)
	require.Len(t, status.User.Watches, 1)
	assert.True(t, strings.HasPrefix(status.User.Watches[0].SourceURL, "https://"))
	assert.Len(t, status.User.Notifiers, 1)

	_, err = f.svc.UserStatus(ctx, 4040)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}
