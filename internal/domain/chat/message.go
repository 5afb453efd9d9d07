package chat

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"

	MessageStatusSent      = "sent"
	MessageStatusStreaming = "streaming"
	MessageStatusDone      = "done"
	MessageStatusError     = "error"
	MessageStatusCancelled = "cancelled"

	// MessageStatusSummary marks a rolled-up replacement for a span of
	// older turns. Summary rows never count toward the recent-turn window.
	MessageStatusSummary = "summary"
)

type Message struct {
	ID             uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	ConversationID uuid.UUID `gorm:"type:uuid;not null;index;index:idx_message_conversation_seq,unique,priority:1" json:"conversation_id"`
	UserID         uuid.UUID `gorm:"type:uuid;not null;index" json:"user_id"`

	Seq int64 `gorm:"column:seq;not null;index:idx_message_conversation_seq,unique,priority:2" json:"seq"`

	Role   string `gorm:"column:role;not null;index" json:"role"`
	Status string `gorm:"column:status;not null;default:'sent';index" json:"status"`

	Content  string         `gorm:"column:content;type:text;not null;default:''" json:"content"`
	Model    string         `gorm:"column:model" json:"model,omitempty"`
	Metadata datatypes.JSON `gorm:"type:jsonb;column:metadata;not null;default:'{}'" json:"metadata,omitempty"`

	CreatedAt time.Time      `gorm:"not null;default:now();index" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null;default:now();index" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (Message) TableName() string { return "message" }
