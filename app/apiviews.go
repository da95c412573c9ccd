package app

import (
	"time"

	"github.com/fiffu/listingwatch/lib"
	"github.com/fiffu/listingwatch/lib/models"
)

type WatchView struct {
	ID                   uint              `json:"id"`
	Label                string            `json:"label"`
	SourceURL            string            `json:"source_url"`
	QueryParams          map[string]string `json:"query_params"`
	Active               bool              `json:"active"`
	CheckIntervalMinutes int               `json:"check_interval_minutes"`
	CreatedAt            string            `json:"created_at"`
}

type NotifierView struct {
	Platform   string `json:"platform"`
	Identifier string `json:"identifier"`
	Verified   bool   `json:"verified"`
}

type UserStatusView struct {
	UserID               uint           `json:"user_id"`
	Username             string         `json:"username"`
	Notifiers            []NotifierView `json:"notifiers"`
	Watches              []WatchView    `json:"watches"`
	PendingNotifications int64          `json:"pending_notifications"`
}

type RegistrationView struct {
	UserID   uint   `json:"user_id"`
	WatchID  uint   `json:"watch_id"`
	Platform string `json:"platform"`
	Linked   bool   `json:"linked"`
	LinkURL  string `json:"link_url,omitempty"`
	Message  string `json:"message"`
}

func (view NotifierView) From(entity models.Notifier) NotifierView {
	return NotifierView{
		Platform:   entity.Platform,
		Identifier: entity.PlatformIdentifier,
		Verified:   entity.Verified,
	}
}

func (view WatchView) From(entity models.Watch) WatchView {
	return WatchView{
		ID:                   entity.ID,
		Label:                entity.Label,
		SourceURL:            entity.SourceURL,
		QueryParams:          entity.QueryParams,
		Active:               entity.Active,
		CheckIntervalMinutes: entity.CheckIntervalMinutes,
		CreatedAt:            isoformat(entity.CreatedAt),
	}
}

func (view UserStatusView) From(status *lib.UserStatus) UserStatusView {
	return UserStatusView{
		UserID:               status.User.ID,
		Username:             status.User.Username,
		Notifiers:            FromMany[models.Notifier, NotifierView](status.User.Notifiers),
		Watches:              FromMany[models.Watch, WatchView](status.User.Watches),
		PendingNotifications: status.PendingNotifications,
	}
}

func (view RegistrationView) From(reg *lib.Registration) RegistrationView {
	msg := "Registration completed. Notifications are on their way."
	if !reg.Linked {
		msg = "Registration completed. Open the link to start receiving notifications."
	}
	return RegistrationView{
		UserID:   reg.UserID,
		WatchID:  reg.WatchID,
		Platform: reg.Platform,
		Linked:   reg.Linked,
		LinkURL:  reg.LinkURL,
		Message:  msg,
	}
}

type Fromable[Entity any, Repr any] interface {
	From(Entity) Repr
}

func FromMany[T any, U Fromable[T, U]](elems []T) []U {
	out := make([]U, len(elems))
	for i, t := range elems {
		var u U
		out[i] = u.From(t)
	}
	return out
}

func isoformat(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
