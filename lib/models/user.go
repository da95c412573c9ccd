package models

import (
	"database/sql"

	"gorm.io/gorm"
)

type User struct {
	gorm.Model
	Username    string `gorm:"unique"`
	LastLoginAt sql.NullTime

	Notifiers []Notifier
	Watches   []Watch
}
