package chat

import "time"

// Chat is one generation request and its outcome. Only Status, AssetURL,
// Description and Error change after creation, and only on the single
// pending -> terminal transition.
type Chat struct {
	ID      string `gorm:"primaryKey;size:26" json:"id"` // ULID length
	OwnerID uint64 `gorm:"not null;index:idx_chats_owner_created,priority:1;index:uniq_chats_owner_idempo,unique,priority:1" json:"-"`

	Prompt string `gorm:"type:text;not null" json:"prompt"`
	Model  string `gorm:"type:varchar(64);not null" json:"model"`

	// Data URLs can be large; left untyped so mysql picks longtext.
	AssetURL    *string `json:"assetUrl,omitempty"`
	Description *string `gorm:"type:text" json:"description,omitempty"`

	Status Status  `gorm:"type:varchar(16);index;not null" json:"status"`
	Error  *string `gorm:"type:text" json:"error,omitempty"`

	ExternalJobID  *string `gorm:"type:varchar(128);uniqueIndex" json:"-"`
	IdempotencyKey *string `gorm:"type:varchar(128);index:uniq_chats_owner_idempo,unique,priority:2" json:"-"`

	CreatedAt time.Time `gorm:"index:idx_chats_owner_created,priority:2" json:"createdAt"`
	UpdatedAt time.Time `json:"-"`
}

func (Chat) TableName() string { return "chats" }
