package chat

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	GenerationStatusPending   = "pending"
	GenerationStatusStreaming = "streaming"
	GenerationStatusCompleted = "completed"
	GenerationStatusFailed    = "failed"
	GenerationStatusCancelled = "cancelled"
)

// Generation ties a single user message to its assistant reply. It is the
// canonical per-turn trace anchor: request, retrieval, streaming, then
// post-processing.
type Generation struct {
	ID uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`

	UserID         uuid.UUID `gorm:"type:uuid;not null;index" json:"user_id"`
	ConversationID uuid.UUID `gorm:"type:uuid;not null;index" json:"conversation_id"`

	UserMessageID      uuid.UUID `gorm:"type:uuid;not null;index" json:"user_message_id"`
	AssistantMessageID uuid.UUID `gorm:"type:uuid;not null;index" json:"assistant_message_id"`

	Status string `gorm:"type:text;not null;default:'pending';index" json:"status"`

	Error          string         `gorm:"type:text;not null;default:''" json:"error,omitempty"`
	RetrievalTrace datatypes.JSON `gorm:"type:jsonb;not null;default:'{}'" json:"retrieval_trace"`

	StartedAt   *time.Time `gorm:"index" json:"started_at,omitempty"`
	CompletedAt *time.Time `gorm:"index" json:"completed_at,omitempty"`

	CreatedAt time.Time      `gorm:"not null;default:now();index" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null;default:now();index" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (Generation) TableName() string { return "generation" }
