package model

import "time"

// Friend request states.
const (
	RequestPending  = "pending"
	RequestAccepted = "accepted"
	RequestRejected = "rejected"
)

// FriendRequest moves pending -> accepted | rejected. PendingKey holds the
// unordered pair ("low:high") while pending and is cleared on resolution, so the
// unique index allows at most one pending request per pair.
type FriendRequest struct {
	ID          int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	SenderID    int64      `gorm:"index:idx_req_sender;not null" json:"sender_id"`
	ReceiverID  int64      `gorm:"index:idx_req_receiver;not null" json:"receiver_id"`
	Status      string     `gorm:"size:16;not null;default:pending" json:"status"`
	PendingKey  *string    `gorm:"uniqueIndex;size:48" json:"-"`
	CreatedAt   time.Time  `gorm:"autoCreateTime" json:"created_at"`
	RespondedAt *time.Time `json:"responded_at"`
}

// Friend is one direction of a symmetric friendship.
type Friend struct {
	CharID    int64     `gorm:"primaryKey" json:"char_id"`
	FriendID  int64     `gorm:"primaryKey" json:"friend_id"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// BlacklistEntry is a directed block.
type BlacklistEntry struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	BlockerID int64     `gorm:"uniqueIndex:idx_blacklist_pair;not null" json:"blocker_id"`
	BlockedID int64     `gorm:"uniqueIndex:idx_blacklist_pair;not null" json:"blocked_id"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}
