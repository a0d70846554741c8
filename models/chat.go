package models

import "time"

type Chat struct {
	// ID is supplied by the caller (a UUID) so that the id the client
	// navigates to matches the persisted row.
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	Title     string    `gorm:"size:200;not null" json:"title"`
	Messages  []Message `gorm:"constraint:OnDelete:CASCADE" json:"messages,omitempty"`
}
