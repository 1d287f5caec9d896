package model

import "time"

// Character is the identity-oracle row the gateway reads. Rows are created by
// the character service; the gateway only updates Name, Online and LastSeenAt.
type Character struct {
	ID         int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	Name       string     `gorm:"uniqueIndex;size:32;not null" json:"name"`
	AllianceID *int64     `gorm:"index:idx_char_alliance" json:"alliance_id"`
	Online     bool       `gorm:"default:false" json:"online"`
	LastSeenAt *time.Time `json:"last_seen_at"`
	CreatedAt  time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// Alliance is owned by the alliance service; only Tag is read for snapshots.
type Alliance struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Name      string    `gorm:"uniqueIndex;size:32;not null" json:"name"`
	Tag       string    `gorm:"size:8" json:"tag"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}
