package users

import (
	"strings"
	"time"
)

// Account is a login identity issued by an external provider. Accounts are
// upserted on every successful authentication and never deleted.
type Account struct {
	UserID     string    `gorm:"column:user_id;primaryKey;size:190;not null"`
	Username   string    `gorm:"column:username;size:255;not null"`
	Provider   string    `gorm:"column:provider;size:32;not null"`
	LastSeenAt time.Time `gorm:"column:last_seen_at"`
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName exposes the table backing user accounts.
func (Account) TableName() string {
	return "users"
}

func normalize(value string) string {
	return strings.TrimSpace(value)
}
