package models

import (
	"gorm.io/gorm"
)

const (
	PlatformTelegram = "telegram"
	PlatformEmail    = "email"
)

// Notifier is a user's delivery channel. It stays unlinked until the user
// completes the out-of-band handshake carrying LinkToken.
type Notifier struct {
	gorm.Model
	UserID             uint
	Verified           bool
	Platform           string
	PlatformIdentifier string // telegram chat id or email address
	LinkToken          string `gorm:"uniqueIndex"`
}

// Linked reports whether messages can be delivered through this notifier.
func (n *Notifier) Linked() bool {
	return n != nil && n.Verified && n.PlatformIdentifier != ""
}
