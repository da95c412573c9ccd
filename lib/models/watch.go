package models

import (
	"gorm.io/gorm"
)

type Watch struct {
	gorm.Model
	UserID               uint `gorm:"index:idx_user_source"`
	NotifierID           *uint
	Label                string
	SourceURL            string            `gorm:"index:idx_user_source"`
	QueryParams          map[string]string `gorm:"serializer:json"`
	CheckIntervalMinutes int
	Active               bool `gorm:"index"`

	Notifier *Notifier
}

type Watches []Watch

func (w *Watch) Query() Query {
	return Query{URL: w.SourceURL, Params: w.QueryParams}
}

// ChannelLinked reports whether the watch has a delivery channel to send to.
func (w *Watch) ChannelLinked() bool {
	return w.Notifier.Linked()
}

func (w *Watch) DisplayName() string {
	if w.Label != "" {
		return w.Label
	}
	return w.SourceURL
}
