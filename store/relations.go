package store

import (
	"context"
	"time"

	"github.com/Skynet2005/MobileGame-sub001/apperr"
	"github.com/Skynet2005/MobileGame-sub001/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RelationRepo is the gorm-backed RelationStore. Every multi-row change runs
// in one transaction.
type RelationRepo struct {
	db *gorm.DB
}

// NewRelationRepo creates a RelationRepo.
func NewRelationRepo(db *gorm.DB) *RelationRepo {
	return &RelationRepo{db: db}
}

// CreateRequest opens a pending friend request from sender to receiver.
func (r *RelationRepo) CreateRequest(ctx context.Context, senderID, receiverID int64) (*model.FriendRequest, error) {
	if senderID == receiverID {
		return nil, apperr.ErrSelfRelation
	}
	key := pairKey(senderID, receiverID)
	var req *model.FriendRequest
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if ok, err := characterExists(tx, receiverID); err != nil {
			return err
		} else if !ok {
			return apperr.ErrCharacterNotFound
		}
		if blocked, err := blockedEither(tx, senderID, receiverID); err != nil {
			return err
		} else if blocked {
			return apperr.ErrBlocked
		}
		if friends, err := areFriends(tx, senderID, receiverID); err != nil {
			return err
		} else if friends {
			return apperr.ErrAlreadyFriends
		}
		var n int64
		if err := tx.Model(&model.FriendRequest{}).Where("pending_key = ?", key).Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return apperr.ErrAlreadyPending
		}
		req = &model.FriendRequest{
			SenderID:   senderID,
			ReceiverID: receiverID,
			Status:     model.RequestPending,
			PendingKey: &key,
		}
		if err := tx.Create(req).Error; err != nil {
			// Unique index on pending_key lost a race with the other direction.
			return apperr.Wrap(apperr.KindConflict, apperr.ErrAlreadyPending.Reason, err)
		}
		return nil
	})
	if err != nil {
		return nil, internal(err)
	}
	return req, nil
}

func (r *RelationRepo) GetRequest(ctx context.Context, id int64) (*model.FriendRequest, error) {
	var req model.FriendRequest
	if err := r.db.WithContext(ctx).First(&req, id).Error; err != nil {
		return nil, notFound(err, apperr.ErrRequestNotFound)
	}
	return &req, nil
}

// ResolveRequest moves a pending request to accepted or rejected. Only the
// receiver may respond. Accepting creates both Friend rows in the same
// transaction.
func (r *RelationRepo) ResolveRequest(ctx context.Context, id, responderID int64, accept bool) (*model.FriendRequest, error) {
	var req model.FriendRequest
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&req, id).Error; err != nil {
			return notFound(err, apperr.ErrRequestNotFound)
		}
		if req.ReceiverID != responderID {
			return apperr.ErrUnauthorized
		}
		if req.Status != model.RequestPending {
			return apperr.ErrAlreadyResolved
		}
		now := time.Now()
		status := model.RequestRejected
		if accept {
			status = model.RequestAccepted
		}
		if err := tx.Model(&req).Updates(map[string]interface{}{
			"status":       status,
			"pending_key":  nil,
			"responded_at": now,
		}).Error; err != nil {
			return err
		}
		req.Status = status
		req.PendingKey = nil
		req.RespondedAt = &now
		if !accept {
			return nil
		}
		rows := []model.Friend{
			{CharID: req.SenderID, FriendID: req.ReceiverID},
			{CharID: req.ReceiverID, FriendID: req.SenderID},
		}
		return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&rows).Error
	})
	if err != nil {
		return nil, internal(err)
	}
	return &req, nil
}

// PendingFor lists pending requests sent to or by charID.
func (r *RelationRepo) PendingFor(ctx context.Context, charID int64) ([]model.FriendRequest, error) {
	var reqs []model.FriendRequest
	err := r.db.WithContext(ctx).
		Where("status = ? AND (sender_id = ? OR receiver_id = ?)", model.RequestPending, charID, charID).
		Order("id").
		Find(&reqs).Error
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return reqs, nil
}

func (r *RelationRepo) Friends(ctx context.Context, charID int64) ([]int64, error) {
	var ids []int64
	err := r.db.WithContext(ctx).Model(&model.Friend{}).
		Where("char_id = ?", charID).
		Order("friend_id").
		Pluck("friend_id", &ids).Error
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return ids, nil
}

func (r *RelationRepo) AreFriends(ctx context.Context, a, b int64) (bool, error) {
	ok, err := areFriends(r.db.WithContext(ctx), a, b)
	if err != nil {
		return false, apperr.Internal(err)
	}
	return ok, nil
}

// Unfriend deletes both directed rows.
func (r *RelationRepo) Unfriend(ctx context.Context, a, b int64) error {
	res := r.db.WithContext(ctx).
		Where("(char_id = ? AND friend_id = ?) OR (char_id = ? AND friend_id = ?)", a, b, b, a).
		Delete(&model.Friend{})
	if res.Error != nil {
		return apperr.Internal(res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.ErrNotFriends
	}
	return nil
}

// Block inserts the entry, removes any friendship between the pair and
// rejects any pending request between them, all in one transaction.
func (r *RelationRepo) Block(ctx context.Context, blockerID, blockedID int64) (*model.BlacklistEntry, error) {
	if blockerID == blockedID {
		return nil, apperr.ErrSelfRelation
	}
	key := pairKey(blockerID, blockedID)
	var entry *model.BlacklistEntry
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if ok, err := characterExists(tx, blockedID); err != nil {
			return err
		} else if !ok {
			return apperr.ErrCharacterNotFound
		}
		var n int64
		if err := tx.Model(&model.BlacklistEntry{}).
			Where("blocker_id = ? AND blocked_id = ?", blockerID, blockedID).
			Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return apperr.ErrAlreadyBlocked
		}
		entry = &model.BlacklistEntry{BlockerID: blockerID, BlockedID: blockedID}
		if err := tx.Create(entry).Error; err != nil {
			return err
		}
		if err := tx.Where("(char_id = ? AND friend_id = ?) OR (char_id = ? AND friend_id = ?)",
			blockerID, blockedID, blockedID, blockerID).
			Delete(&model.Friend{}).Error; err != nil {
			return err
		}
		return tx.Model(&model.FriendRequest{}).
			Where("pending_key = ?", key).
			Updates(map[string]interface{}{
				"status":       model.RequestRejected,
				"pending_key":  nil,
				"responded_at": time.Now(),
			}).Error
	})
	if err != nil {
		return nil, internal(err)
	}
	return entry, nil
}

// Unblock removes an entry owned by requesterID.
func (r *RelationRepo) Unblock(ctx context.Context, entryID, requesterID int64) (*model.BlacklistEntry, error) {
	var entry model.BlacklistEntry
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&entry, entryID).Error; err != nil {
			return notFound(err, apperr.ErrEntryNotFound)
		}
		if entry.BlockerID != requesterID {
			return apperr.ErrUnauthorized
		}
		return tx.Delete(&entry).Error
	})
	if err != nil {
		return nil, internal(err)
	}
	return &entry, nil
}

func (r *RelationRepo) Blacklist(ctx context.Context, blockerID int64) ([]model.BlacklistEntry, error) {
	var entries []model.BlacklistEntry
	err := r.db.WithContext(ctx).Where("blocker_id = ?", blockerID).Order("id").Find(&entries).Error
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return entries, nil
}

func (r *RelationRepo) IsBlockedEither(ctx context.Context, a, b int64) (bool, error) {
	ok, err := blockedEither(r.db.WithContext(ctx), a, b)
	if err != nil {
		return false, apperr.Internal(err)
	}
	return ok, nil
}

func blockedEither(db *gorm.DB, a, b int64) (bool, error) {
	var n int64
	err := db.Model(&model.BlacklistEntry{}).
		Where("(blocker_id = ? AND blocked_id = ?) OR (blocker_id = ? AND blocked_id = ?)", a, b, b, a).
		Count(&n).Error
	return n > 0, err
}

func areFriends(db *gorm.DB, a, b int64) (bool, error) {
	var n int64
	err := db.Model(&model.Friend{}).
		Where("char_id = ? AND friend_id = ?", a, b).
		Count(&n).Error
	return n > 0, err
}

func characterExists(db *gorm.DB, id int64) (bool, error) {
	var n int64
	err := db.Model(&model.Character{}).Where("id = ?", id).Count(&n).Error
	return n > 0, err
}

