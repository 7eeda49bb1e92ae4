package model

import "time"

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type ChatTurn struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	OwnerID    string    `gorm:"size:64;not null;index:idx_turn_owner_doc_time,priority:1" json:"owner_id"`
	DocumentID string    `gorm:"size:255;not null;index:idx_turn_owner_doc_time,priority:2" json:"document_id"`
	Role       string    `gorm:"size:16;not null" json:"role"`
	Content    string    `gorm:"type:text;not null" json:"content"`
	CreatedAt  time.Time `gorm:"precision:6;index:idx_turn_owner_doc_time,priority:3" json:"created_at"`
}
