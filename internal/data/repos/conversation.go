package repos

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/nebulus/gantry/internal/domain/chat"
	"github.com/nebulus/gantry/internal/platform/dbctx"
	"github.com/nebulus/gantry/internal/platform/logger"
)

type ConversationRepo interface {
	Create(dbc dbctx.Context, rows []*chat.Conversation) ([]*chat.Conversation, error)
	GetByID(dbc dbctx.Context, userID, id uuid.UUID) (*chat.Conversation, error)
	ListByUser(dbc dbctx.Context, userID uuid.UUID, limit int) ([]*chat.Conversation, error)
	LockByID(dbc dbctx.Context, id uuid.UUID) (*chat.Conversation, error)
	AllocateSeqs(dbc dbctx.Context, id uuid.UUID, n int64) (int64, error)
	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
	Delete(dbc dbctx.Context, userID, id uuid.UUID) error
}

type conversationRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewConversationRepo(db *gorm.DB, log *logger.Logger) ConversationRepo {
	return &conversationRepo{db: db, log: log.With("repo", "ConversationRepo")}
}

func (r *conversationRepo) Create(dbc dbctx.Context, rows []*chat.Conversation) ([]*chat.Conversation, error) {
	if len(rows) == 0 {
		return []*chat.Conversation{}, nil
	}
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	if err := txx.WithContext(dbc.Ctx).Create(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *conversationRepo) GetByID(dbc dbctx.Context, userID, id uuid.UUID) (*chat.Conversation, error) {
	if id == uuid.Nil {
		return nil, fmt.Errorf("missing id")
	}
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	var out chat.Conversation
	if err := txx.WithContext(dbc.Ctx).
		Where("id = ? AND user_id = ?", id, userID).
		Take(&out).Error; err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *conversationRepo) ListByUser(dbc dbctx.Context, userID uuid.UUID, limit int) ([]*chat.Conversation, error) {
	if userID == uuid.Nil {
		return nil, fmt.Errorf("missing user_id")
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	var out []*chat.Conversation
	if err := txx.WithContext(dbc.Ctx).
		Model(&chat.Conversation{}).
		Where("user_id = ?", userID).
		Order("pinned DESC, last_message_at DESC").
		Limit(limit).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *conversationRepo) LockByID(dbc dbctx.Context, id uuid.UUID) (*chat.Conversation, error) {
	if id == uuid.Nil {
		return nil, fmt.Errorf("missing id")
	}
	if dbc.Tx == nil {
		return nil, fmt.Errorf("LockByID requires dbc.Tx")
	}
	var out chat.Conversation
	if err := dbc.Tx.WithContext(dbc.Ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		Take(&out).Error; err != nil {
		return nil, err
	}
	return &out, nil
}

// AllocateSeqs reserves n consecutive sequence numbers for a conversation and
// returns the first one. Must run inside the caller's transaction so the row
// lock serializes concurrent writers.
func (r *conversationRepo) AllocateSeqs(dbc dbctx.Context, id uuid.UUID, n int64) (int64, error) {
	if n <= 0 {
		return 0, fmt.Errorf("n must be positive")
	}
	conv, err := r.LockByID(dbc, id)
	if err != nil {
		return 0, err
	}
	first := conv.NextSeq
	if err := dbc.Tx.WithContext(dbc.Ctx).
		Model(&chat.Conversation{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"next_seq":   first + n,
			"updated_at": time.Now().UTC(),
		}).Error; err != nil {
		return 0, err
	}
	return first, nil
}

func (r *conversationRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	if id == uuid.Nil {
		return fmt.Errorf("missing id")
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	updates["updated_at"] = time.Now().UTC()
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	return txx.WithContext(dbc.Ctx).
		Model(&chat.Conversation{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *conversationRepo) Delete(dbc dbctx.Context, userID, id uuid.UUID) error {
	if id == uuid.Nil {
		return fmt.Errorf("missing id")
	}
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	return txx.WithContext(dbc.Ctx).
		Where("id = ? AND user_id = ?", id, userID).
		Delete(&chat.Conversation{}).Error
}
