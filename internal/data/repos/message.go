package repos

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/nebulus/gantry/internal/domain/chat"
	"github.com/nebulus/gantry/internal/platform/dbctx"
	"github.com/nebulus/gantry/internal/platform/logger"
)

type MessageRepo interface {
	Create(dbc dbctx.Context, rows []*chat.Message) ([]*chat.Message, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*chat.Message, error)
	// ListRecent returns the newest non-summary messages in ascending seq order.
	ListRecent(dbc dbctx.Context, conversationID uuid.UUID, limit int) ([]*chat.Message, error)
	ListByConversation(dbc dbctx.Context, conversationID uuid.UUID, afterSeq int64, limit int) ([]*chat.Message, error)
	LatestSummary(dbc dbctx.Context, conversationID uuid.UUID) (*chat.Message, error)
	CountTurns(dbc dbctx.Context, conversationID uuid.UUID) (int64, error)
	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
	DeleteByConversation(dbc dbctx.Context, conversationID uuid.UUID) error
}

type messageRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewMessageRepo(db *gorm.DB, log *logger.Logger) MessageRepo {
	return &messageRepo{db: db, log: log.With("repo", "MessageRepo")}
}

func (r *messageRepo) Create(dbc dbctx.Context, rows []*chat.Message) ([]*chat.Message, error) {
	if len(rows) == 0 {
		return []*chat.Message{}, nil
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

func (r *messageRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*chat.Message, error) {
	if id == uuid.Nil {
		return nil, fmt.Errorf("missing id")
	}
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	var out chat.Message
	if err := txx.WithContext(dbc.Ctx).
		Where("id = ?", id).
		Take(&out).Error; err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *messageRepo) ListRecent(dbc dbctx.Context, conversationID uuid.UUID, limit int) ([]*chat.Message, error) {
	if conversationID == uuid.Nil {
		return nil, fmt.Errorf("missing conversation_id")
	}
	if limit <= 0 {
		limit = 20
	}
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	var out []*chat.Message
	if err := txx.WithContext(dbc.Ctx).
		Model(&chat.Message{}).
		Where("conversation_id = ? AND status <> ?", conversationID, chat.MessageStatusSummary).
		Order("seq DESC").
		Limit(limit).
		Find(&out).Error; err != nil {
		return nil, err
	}
	// Reverse into ascending seq order for prompt assembly.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (r *messageRepo) ListByConversation(dbc dbctx.Context, conversationID uuid.UUID, afterSeq int64, limit int) ([]*chat.Message, error) {
	if conversationID == uuid.Nil {
		return nil, fmt.Errorf("missing conversation_id")
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	var out []*chat.Message
	if err := txx.WithContext(dbc.Ctx).
		Model(&chat.Message{}).
		Where("conversation_id = ? AND seq > ?", conversationID, afterSeq).
		Order("seq ASC").
		Limit(limit).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *messageRepo) LatestSummary(dbc dbctx.Context, conversationID uuid.UUID) (*chat.Message, error) {
	if conversationID == uuid.Nil {
		return nil, fmt.Errorf("missing conversation_id")
	}
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	var out chat.Message
	err := txx.WithContext(dbc.Ctx).
		Where("conversation_id = ? AND status = ?", conversationID, chat.MessageStatusSummary).
		Order("seq DESC").
		Take(&out).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// CountTurns counts user/assistant messages; summary rows are excluded.
func (r *messageRepo) CountTurns(dbc dbctx.Context, conversationID uuid.UUID) (int64, error) {
	if conversationID == uuid.Nil {
		return 0, fmt.Errorf("missing conversation_id")
	}
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	var n int64
	if err := txx.WithContext(dbc.Ctx).
		Model(&chat.Message{}).
		Where("conversation_id = ? AND status <> ?", conversationID, chat.MessageStatusSummary).
		Count(&n).Error; err != nil {
		return 0, err
	}
	return n, nil
}

func (r *messageRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
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
		Model(&chat.Message{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *messageRepo) DeleteByConversation(dbc dbctx.Context, conversationID uuid.UUID) error {
	if conversationID == uuid.Nil {
		return fmt.Errorf("missing conversation_id")
	}
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	return txx.WithContext(dbc.Ctx).
		Where("conversation_id = ?", conversationID).
		Delete(&chat.Message{}).Error
}
