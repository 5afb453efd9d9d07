package memory

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	SourceKindTurn     = "turn"
	SourceKindDocument = "document"
)

// Chunk is the durable projection behind the vector index. The index holds
// only ids and embeddings; chunk text is always served from SQL truth, so a
// wiped index can be rebuilt from these rows.
type Chunk struct {
	ID     uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	UserID uuid.UUID `gorm:"type:uuid;not null;index" json:"user_id"`

	SourceKind string    `gorm:"type:text;not null;index;index:idx_chunk_source,priority:2" json:"source_kind"`
	SourceID   uuid.UUID `gorm:"type:uuid;not null;index:idx_chunk_source,priority:1" json:"source_id"`
	ChunkIndex int       `gorm:"not null;default:0" json:"chunk_index"`

	ConversationID *uuid.UUID `gorm:"type:uuid;index" json:"conversation_id,omitempty"`
	DocumentID     *uuid.UUID `gorm:"type:uuid;index" json:"document_id,omitempty"`

	Text     string         `gorm:"type:text;not null" json:"text"`
	Metadata datatypes.JSON `gorm:"type:jsonb;not null;default:'{}'" json:"metadata,omitempty"`

	VectorID string `gorm:"type:text;not null;uniqueIndex" json:"vector_id"`

	CreatedAt time.Time `gorm:"not null;default:now();index" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:now();index" json:"updated_at"`
}

func (Chunk) TableName() string { return "memory_chunk" }
