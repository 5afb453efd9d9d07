package graph

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Entity is deduplicated per user on (lower(name), type); merging an
// existing entity refreshes its description and last-seen time.
type Entity struct {
	ID     uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	UserID uuid.UUID `gorm:"type:uuid;not null;index;index:idx_entity_user_key,unique,priority:1" json:"user_id"`

	NameKey string `gorm:"type:text;not null;index:idx_entity_user_key,unique,priority:2" json:"-"`
	Name    string `gorm:"type:text;not null" json:"name"`
	Type    string `gorm:"type:text;not null;default:'unknown';index:idx_entity_user_key,unique,priority:3" json:"type"`

	Description string         `gorm:"type:text;not null;default:''" json:"description"`
	Aliases     datatypes.JSON `gorm:"type:jsonb;not null;default:'[]'" json:"aliases"`

	LastSeenAt time.Time `gorm:"not null;default:now();index" json:"last_seen_at"`
	CreatedAt  time.Time `gorm:"not null;default:now();index" json:"created_at"`
	UpdatedAt  time.Time `gorm:"not null;default:now();index" json:"updated_at"`
}

func (Entity) TableName() string { return "graph_entity" }

// Relationship is idempotent per (user, src, dst, relation); re-merging the
// same triple bumps weight and last-seen instead of inserting a duplicate.
type Relationship struct {
	ID     uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	UserID uuid.UUID `gorm:"type:uuid;not null;index;index:idx_rel_user_triple,unique,priority:1" json:"user_id"`

	SrcEntityID uuid.UUID `gorm:"type:uuid;not null;index;index:idx_rel_user_triple,unique,priority:2" json:"src_entity_id"`
	DstEntityID uuid.UUID `gorm:"type:uuid;not null;index;index:idx_rel_user_triple,unique,priority:3" json:"dst_entity_id"`

	Relation string  `gorm:"type:text;not null;index:idx_rel_user_triple,unique,priority:4" json:"relation"`
	Weight   float64 `gorm:"not null;default:1.0" json:"weight"`

	ConversationID *uuid.UUID `gorm:"type:uuid;index" json:"conversation_id,omitempty"`

	LastSeenAt time.Time `gorm:"not null;default:now();index" json:"last_seen_at"`
	CreatedAt  time.Time `gorm:"not null;default:now();index" json:"created_at"`
	UpdatedAt  time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (Relationship) TableName() string { return "graph_relationship" }
