package store

import (
	"context"
	"errors"
	"time"

	"github.com/Skynet2005/MobileGame-sub001/apperr"
	"github.com/Skynet2005/MobileGame-sub001/model"
	"gorm.io/gorm"
)

// MessageRepo is the gorm-backed MessageStore.
type MessageRepo struct {
	db *gorm.DB
}

// NewMessageRepo creates a MessageRepo.
func NewMessageRepo(db *gorm.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

// Append persists a message. created_at never goes backwards within a
// channel, so (created_at, id) order matches insertion order even if the
// wall clock steps back.
func (r *MessageRepo) Append(ctx context.Context, channelID, senderID int64, content string, snap Snapshot) (*model.Message, error) {
	var msg *model.Message
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&model.Channel{}).Where("id = ?", channelID).Count(&n).Error; err != nil {
			return err
		}
		if n == 0 {
			return apperr.ErrChannelNotFound
		}
		if err := tx.Model(&model.Character{}).Where("id = ?", senderID).Count(&n).Error; err != nil {
			return err
		}
		if n == 0 {
			return apperr.ErrSenderNotFound
		}

		now := time.Now().UTC().Truncate(time.Millisecond)
		var last model.Message
		err := tx.Select("id", "created_at").
			Where("channel_id = ?", channelID).
			Order("created_at DESC, id DESC").
			First(&last).Error
		switch {
		case err == nil:
			if !now.After(last.CreatedAt) {
				now = last.CreatedAt.UTC().Add(time.Millisecond)
			}
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return err
		}

		msg = &model.Message{
			ChannelID:   channelID,
			SenderID:    senderID,
			SenderName:  snap.SenderName,
			Content:     content,
			AllianceID:  snap.AllianceID,
			AllianceTag: snap.AllianceTag,
			CreatedAt:   now,
		}
		return tx.Create(msg).Error
	})
	if err != nil {
		return nil, internal(err)
	}
	return msg, nil
}

// Recent returns up to limit messages preceding beforeID, oldest first.
func (r *MessageRepo) Recent(ctx context.Context, channelID int64, limit int, beforeID int64) ([]model.Message, error) {
	if limit <= 0 {
		return []model.Message{}, nil
	}
	q := r.db.WithContext(ctx).Where("channel_id = ?", channelID)
	if beforeID > 0 {
		var cursor model.Message
		if err := r.db.WithContext(ctx).Select("id", "created_at").
			Where("id = ? AND channel_id = ?", beforeID, channelID).
			First(&cursor).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return []model.Message{}, nil
			}
			return nil, apperr.Internal(err)
		}
		q = q.Where("created_at < ? OR (created_at = ? AND id < ?)",
			cursor.CreatedAt, cursor.CreatedAt, cursor.ID)
	}

	var msgs []model.Message
	if err := q.Order("created_at DESC, id DESC").Limit(limit).Find(&msgs).Error; err != nil {
		return nil, apperr.Internal(err)
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}
