package models

import "time"

// User maps an identity owned by the external auth provider to a local row.
// ExternalID is the token subject; ID is the foreign key used by chats.
type User struct {
	ID         uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	ExternalID string    `gorm:"type:varchar(191);uniqueIndex;not null" json:"external_id"`
	Email      string    `gorm:"type:varchar(255)" json:"email,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (User) TableName() string { return "users" }
