package repos

import (
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/nebulus/gantry/internal/domain/memory"
	"github.com/nebulus/gantry/internal/platform/dbctx"
	"github.com/nebulus/gantry/internal/platform/logger"
)

type ChunkRepo interface {
	Upsert(dbc dbctx.Context, rows []*memory.Chunk) ([]*memory.Chunk, error)
	GetByVectorIDs(dbc dbctx.Context, userID uuid.UUID, vectorIDs []string) ([]*memory.Chunk, error)
	ListBySource(dbc dbctx.Context, userID uuid.UUID, sourceKind string, sourceID uuid.UUID) ([]*memory.Chunk, error)
	ListByConversation(dbc dbctx.Context, conversationID uuid.UUID) ([]*memory.Chunk, error)
	DeleteBySource(dbc dbctx.Context, userID uuid.UUID, sourceKind string, sourceID uuid.UUID) error
	DeleteByConversation(dbc dbctx.Context, conversationID uuid.UUID) error
	DeleteByDocument(dbc dbctx.Context, documentID uuid.UUID) error
}

type chunkRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewChunkRepo(db *gorm.DB, log *logger.Logger) ChunkRepo {
	return &chunkRepo{db: db, log: log.With("repo", "ChunkRepo")}
}

// Upsert replaces by vector_id so re-ingesting a source never duplicates rows.
func (r *chunkRepo) Upsert(dbc dbctx.Context, rows []*memory.Chunk) ([]*memory.Chunk, error) {
	if len(rows) == 0 {
		return []*memory.Chunk{}, nil
	}
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	if err := txx.WithContext(dbc.Ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "vector_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"text", "metadata", "chunk_index", "updated_at"}),
		}).
		Create(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *chunkRepo) GetByVectorIDs(dbc dbctx.Context, userID uuid.UUID, vectorIDs []string) ([]*memory.Chunk, error) {
	if len(vectorIDs) == 0 {
		return []*memory.Chunk{}, nil
	}
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	var out []*memory.Chunk
	if err := txx.WithContext(dbc.Ctx).
		Model(&memory.Chunk{}).
		Where("user_id = ? AND vector_id IN ?", userID, vectorIDs).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *chunkRepo) ListBySource(dbc dbctx.Context, userID uuid.UUID, sourceKind string, sourceID uuid.UUID) ([]*memory.Chunk, error) {
	if sourceID == uuid.Nil {
		return nil, fmt.Errorf("missing source_id")
	}
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	var out []*memory.Chunk
	if err := txx.WithContext(dbc.Ctx).
		Model(&memory.Chunk{}).
		Where("user_id = ? AND source_kind = ? AND source_id = ?", userID, sourceKind, sourceID).
		Order("chunk_index ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *chunkRepo) ListByConversation(dbc dbctx.Context, conversationID uuid.UUID) ([]*memory.Chunk, error) {
	if conversationID == uuid.Nil {
		return nil, fmt.Errorf("missing conversation_id")
	}
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	var out []*memory.Chunk
	if err := txx.WithContext(dbc.Ctx).
		Model(&memory.Chunk{}).
		Where("conversation_id = ?", conversationID).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *chunkRepo) DeleteBySource(dbc dbctx.Context, userID uuid.UUID, sourceKind string, sourceID uuid.UUID) error {
	if sourceID == uuid.Nil {
		return fmt.Errorf("missing source_id")
	}
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	return txx.WithContext(dbc.Ctx).
		Where("user_id = ? AND source_kind = ? AND source_id = ?", userID, sourceKind, sourceID).
		Delete(&memory.Chunk{}).Error
}

func (r *chunkRepo) DeleteByConversation(dbc dbctx.Context, conversationID uuid.UUID) error {
	if conversationID == uuid.Nil {
		return fmt.Errorf("missing conversation_id")
	}
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	return txx.WithContext(dbc.Ctx).
		Where("conversation_id = ?", conversationID).
		Delete(&memory.Chunk{}).Error
}

func (r *chunkRepo) DeleteByDocument(dbc dbctx.Context, documentID uuid.UUID) error {
	if documentID == uuid.Nil {
		return fmt.Errorf("missing document_id")
	}
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	return txx.WithContext(dbc.Ctx).
		Where("document_id = ?", documentID).
		Delete(&memory.Chunk{}).Error
}
