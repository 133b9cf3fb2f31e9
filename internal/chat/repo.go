package chat

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/suPer8Hu/genimage/internal/models"
)

type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

func (r *Repo) GetUserByExternalID(ctx context.Context, externalID string) (*models.User, error) {
	var u models.User
	if err := r.db.WithContext(ctx).
		Where("external_id = ?", externalID).
		First(&u).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

// UpsertUser creates the local row for externalID or refreshes its email.
func (r *Repo) UpsertUser(ctx context.Context, externalID, email string) (*models.User, error) {
	existing, err := r.GetUserByExternalID(ctx, externalID)
	if err == nil {
		if email != "" && email != existing.Email {
			if err := r.db.WithContext(ctx).Model(existing).Update("email", email).Error; err != nil {
				return nil, err
			}
			existing.Email = email
		}
		return existing, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	u := &models.User{ExternalID: externalID, Email: email}
	if err := r.db.WithContext(ctx).Create(u).Error; err != nil {
		// lost a race with a concurrent sync
		if again, getErr := r.GetUserByExternalID(ctx, externalID); getErr == nil {
			return again, nil
		}
		return nil, err
	}
	return u, nil
}

func (r *Repo) CreateChat(ctx context.Context, c *Chat) error {
	return r.db.WithContext(ctx).Create(c).Error
}

func (r *Repo) GetChatByID(ctx context.Context, id string) (*Chat, error) {
	var c Chat
	if err := r.db.WithContext(ctx).First(&c, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *Repo) GetChatByExternalID(ctx context.Context, externalJobID string) (*Chat, error) {
	var c Chat
	if err := r.db.WithContext(ctx).
		Where("external_job_id = ?", externalJobID).
		First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *Repo) GetChatByOwnerAndIdempotencyKey(ctx context.Context, ownerID uint64, key string) (*Chat, error) {
	var c Chat
	if err := r.db.WithContext(ctx).
		Where("owner_id = ? AND idempotency_key = ?", ownerID, key).
		First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// CreateChatOrGetExisting inserts c, but if (owner_id, idempotency_key)
// already exists it returns the existing record instead.
func (r *Repo) CreateChatOrGetExisting(ctx context.Context, c *Chat) (*Chat, bool, error) {
	if c.IdempotencyKey == nil || *c.IdempotencyKey == "" {
		c.IdempotencyKey = nil
		if err := r.CreateChat(ctx, c); err != nil {
			return nil, false, err
		}
		return c, true, nil
	}

	err := r.CreateChat(ctx, c)
	if err == nil {
		return c, true, nil
	}

	existing, getErr := r.GetChatByOwnerAndIdempotencyKey(ctx, c.OwnerID, *c.IdempotencyKey)
	if getErr == nil {
		return existing, false, nil
	}
	if errors.Is(getErr, gorm.ErrRecordNotFound) {
		return nil, false, err
	}
	return nil, false, getErr
}

// CompletePending moves a pending record to completed. It reports false when
// the record was already terminal, leaving the stored result untouched.
func (r *Repo) CompletePending(ctx context.Context, id, assetURL string, description *string) (bool, error) {
	updates := map[string]any{
		"status":    StatusCompleted,
		"asset_url": assetURL,
		"error":     nil,
	}
	if description != nil {
		updates["description"] = *description
	}
	res := r.db.WithContext(ctx).Model(&Chat{}).
		Where("id = ? AND status = ?", id, StatusPending).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// FailPending moves a pending record to failed; same guard as CompletePending.
func (r *Repo) FailPending(ctx context.Context, id, errMsg string) (bool, error) {
	res := r.db.WithContext(ctx).Model(&Chat{}).
		Where("id = ? AND status = ?", id, StatusPending).
		Updates(map[string]any{
			"status":    StatusFailed,
			"error":     errMsg,
			"asset_url": nil,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// ListByOwner returns a page of the owner's records, newest first.
func (r *Repo) ListByOwner(ctx context.Context, ownerID uint64, offset, limit int) ([]Chat, error) {
	var chats []Chat
	if err := r.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("created_at DESC").
		Order("id DESC").
		Offset(offset).
		Limit(limit).
		Find(&chats).Error; err != nil {
		return nil, err
	}
	return chats, nil
}

func (r *Repo) CountByOwner(ctx context.Context, ownerID uint64) (int64, error) {
	var n int64
	if err := r.db.WithContext(ctx).Model(&Chat{}).
		Where("owner_id = ?", ownerID).
		Count(&n).Error; err != nil {
		return 0, err
	}
	return n, nil
}
