package model

import "time"

// ChannelType enumerates broadcast domains.
type ChannelType = string

const (
	ChannelWorld    ChannelType = "world"
	ChannelAlliance ChannelType = "alliance"
	ChannelPrivate  ChannelType = "private"
)

// Channel is a named broadcast domain.
type Channel struct {
	ID         int64       `gorm:"primaryKey;autoIncrement" json:"id"`
	Name       string      `gorm:"uniqueIndex;size:64;not null" json:"name"`
	Type       ChannelType `gorm:"size:16;not null;index:idx_channel_type" json:"type"`
	AllianceID *int64      `gorm:"uniqueIndex" json:"alliance_id,omitempty"`
	Private    bool        `gorm:"default:false" json:"private"`
	CreatedAt  time.Time   `gorm:"autoCreateTime" json:"created_at"`
}

// ChannelMember is the durable membership join row.
type ChannelMember struct {
	ChannelID int64     `gorm:"primaryKey" json:"channel_id"`
	CharID    int64     `gorm:"primaryKey;index:idx_member_char" json:"char_id"`
	JoinedAt  time.Time `gorm:"autoCreateTime" json:"joined_at"`
}

// Message is an immutable chat line. SenderName and the alliance fields are
// captured at send time.
type Message struct {
	ID          int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	ChannelID   int64     `gorm:"index:idx_msg_channel_time,priority:1;not null" json:"channelId"`
	SenderID    int64     `gorm:"not null" json:"senderId"`
	SenderName  string    `gorm:"size:32" json:"senderName"`
	Content     string    `gorm:"type:text;not null" json:"content"`
	AllianceID  *int64    `json:"allianceId,omitempty"`
	AllianceTag string    `gorm:"size:8" json:"allianceTag,omitempty"`
	CreatedAt   time.Time `gorm:"index:idx_msg_channel_time,priority:2;not null" json:"createdAt"`
}
