package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/Skynet2005/MobileGame-sub001/apperr"
	"github.com/Skynet2005/MobileGame-sub001/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ChannelRepo is the gorm-backed ChannelStore.
type ChannelRepo struct {
	db *gorm.DB
}

// NewChannelRepo creates a ChannelRepo.
func NewChannelRepo(db *gorm.DB) *ChannelRepo {
	return &ChannelRepo{db: db}
}

func (r *ChannelRepo) Get(ctx context.Context, id int64) (*model.Channel, error) {
	var ch model.Channel
	if err := r.db.WithContext(ctx).First(&ch, id).Error; err != nil {
		return nil, notFound(err, apperr.ErrChannelNotFound)
	}
	return &ch, nil
}

func (r *ChannelRepo) GetByName(ctx context.Context, name string) (*model.Channel, error) {
	var ch model.Channel
	if err := r.db.WithContext(ctx).Where("name = ?", name).First(&ch).Error; err != nil {
		return nil, notFound(err, apperr.ErrChannelNotFound)
	}
	return &ch, nil
}

// EnsureWorld returns the single world channel, creating it under name on
// first use.
func (r *ChannelRepo) EnsureWorld(ctx context.Context, name string) (*model.Channel, error) {
	var ch *model.Channel
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing model.Channel
		err := tx.Where("type = ?", model.ChannelWorld).First(&existing).Error
		if err == nil {
			ch = &existing
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if taken, err := nameTaken(tx, name); err != nil {
			return err
		} else if taken {
			return apperr.ErrDuplicateChannel
		}
		ch = &model.Channel{Name: name, Type: model.ChannelWorld}
		return tx.Create(ch).Error
	})
	if err != nil {
		return nil, internal(err)
	}
	return ch, nil
}

// EnsureAlliance returns the private channel owned by allianceID.
func (r *ChannelRepo) EnsureAlliance(ctx context.Context, allianceID int64) (*model.Channel, error) {
	var ch *model.Channel
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing model.Channel
		err := tx.Where("alliance_id = ?", allianceID).First(&existing).Error
		if err == nil {
			ch = &existing
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		id := allianceID
		ch = &model.Channel{
			Name:       fmt.Sprintf("alliance:%d", allianceID),
			Type:       model.ChannelAlliance,
			AllianceID: &id,
			Private:    true,
		}
		return tx.Create(ch).Error
	})
	if err != nil {
		return nil, internal(err)
	}
	return ch, nil
}

// EnsurePrivate returns the direct channel between a and b with both as
// members.
func (r *ChannelRepo) EnsurePrivate(ctx context.Context, a, b int64) (*model.Channel, error) {
	if a == b {
		return nil, apperr.ErrSelfRelation
	}
	name := PrivateChannelName(a, b)
	var ch *model.Channel
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing model.Channel
		err := tx.Where("name = ?", name).First(&existing).Error
		switch {
		case err == nil:
			ch = &existing
		case errors.Is(err, gorm.ErrRecordNotFound):
			ch = &model.Channel{Name: name, Type: model.ChannelPrivate, Private: true}
			if err := tx.Create(ch).Error; err != nil {
				return err
			}
		default:
			return err
		}
		members := []model.ChannelMember{
			{ChannelID: ch.ID, CharID: a},
			{ChannelID: ch.ID, CharID: b},
		}
		return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&members).Error
	})
	if err != nil {
		return nil, internal(err)
	}
	return ch, nil
}

// AddMember is idempotent.
func (r *ChannelRepo) AddMember(ctx context.Context, channelID, charID int64) error {
	if _, err := r.Get(ctx, channelID); err != nil {
		return err
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).
		Create(&model.ChannelMember{ChannelID: channelID, CharID: charID}).Error
	return internal(err)
}

func (r *ChannelRepo) RemoveMember(ctx context.Context, channelID, charID int64) error {
	err := r.db.WithContext(ctx).
		Where("channel_id = ? AND char_id = ?", channelID, charID).
		Delete(&model.ChannelMember{}).Error
	return internal(err)
}

func (r *ChannelRepo) IsMember(ctx context.Context, channelID, charID int64) (bool, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&model.ChannelMember{}).
		Where("channel_id = ? AND char_id = ?", channelID, charID).
		Count(&n).Error
	if err != nil {
		return false, apperr.Internal(err)
	}
	return n > 0, nil
}

func (r *ChannelRepo) Members(ctx context.Context, channelID int64) ([]int64, error) {
	var ids []int64
	err := r.db.WithContext(ctx).Model(&model.ChannelMember{}).
		Where("channel_id = ?", channelID).
		Order("char_id").
		Pluck("char_id", &ids).Error
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return ids, nil
}

// ListForCharacter returns the world channel plus every channel charID is a
// durable member of.
func (r *ChannelRepo) ListForCharacter(ctx context.Context, charID int64) ([]model.Channel, error) {
	var chans []model.Channel
	err := r.db.WithContext(ctx).
		Where("type = ? OR id IN (?)", model.ChannelWorld,
			r.db.Model(&model.ChannelMember{}).Select("channel_id").Where("char_id = ?", charID)).
		Order("id").
		Find(&chans).Error
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return chans, nil
}

func nameTaken(tx *gorm.DB, name string) (bool, error) {
	var n int64
	err := tx.Model(&model.Channel{}).Where("name = ?", name).Count(&n).Error
	return n > 0, err
}

func notFound(err, sentinel error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return sentinel
	}
	return apperr.Internal(err)
}
