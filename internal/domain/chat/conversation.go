package chat

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Conversation struct {
	ID     uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	UserID uuid.UUID `gorm:"type:uuid;not null;index" json:"user_id"`

	Title   string `gorm:"column:title;not null;default:'New Chat'" json:"title"`
	Persona string `gorm:"column:persona;not null;default:'default'" json:"persona"`
	Pinned  bool   `gorm:"column:pinned;not null;default:false;index" json:"pinned"`

	Metadata datatypes.JSON `gorm:"type:jsonb;column:metadata;not null;default:'{}'" json:"metadata,omitempty"`

	// Concurrency-safe per-conversation sequencing.
	NextSeq int64 `gorm:"column:next_seq;not null;default:0" json:"next_seq"`

	LastMessageAt time.Time `gorm:"column:last_message_at;not null;default:now();index" json:"last_message_at"`

	CreatedAt time.Time      `gorm:"not null;default:now();index" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null;default:now();index" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (Conversation) TableName() string { return "conversation" }
