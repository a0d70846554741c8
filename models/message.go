package models

import "time"

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn of a chat transcript. Rows are append-only: ids are
// generated by the caller before insert, and inserting a duplicate id is a
// no-op so retried requests never double up a turn.
type Message struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	ChatID    string    `gorm:"index;size:36;not null" json:"chat_id"`
	Role      string    `gorm:"size:20;not null" json:"role"` // "user" or "assistant"
	Text      string    `gorm:"type:text;not null" json:"text"`
	ModelID   string    `gorm:"size:80;not null" json:"model_id"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}
