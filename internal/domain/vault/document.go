package vault

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	DocumentStatusProcessing = "processing"
	DocumentStatusReady      = "ready"
	DocumentStatusError      = "error"
)

type Document struct {
	ID     uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	UserID uuid.UUID `gorm:"type:uuid;not null;index" json:"user_id"`

	Filename    string `gorm:"type:text;not null" json:"filename"`
	ContentType string `gorm:"type:text;not null;default:''" json:"content_type"`
	SizeBytes   int64  `gorm:"not null;default:0" json:"size_bytes"`

	Status string `gorm:"type:text;not null;default:'processing';index" json:"status"`
	Error  string `gorm:"type:text;not null;default:''" json:"error,omitempty"`

	ChunkCount int            `gorm:"not null;default:0" json:"chunk_count"`
	Metadata   datatypes.JSON `gorm:"type:jsonb;not null;default:'{}'" json:"metadata,omitempty"`

	CreatedAt time.Time      `gorm:"not null;default:now();index" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null;default:now();index" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (Document) TableName() string { return "vault_document" }
