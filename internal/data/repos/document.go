package repos

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/nebulus/gantry/internal/domain/vault"
	"github.com/nebulus/gantry/internal/platform/dbctx"
	"github.com/nebulus/gantry/internal/platform/logger"
)

type DocumentRepo interface {
	Create(dbc dbctx.Context, rows []*vault.Document) ([]*vault.Document, error)
	GetByID(dbc dbctx.Context, userID, id uuid.UUID) (*vault.Document, error)
	ListByUser(dbc dbctx.Context, userID uuid.UUID, limit int) ([]*vault.Document, error)
	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
	Delete(dbc dbctx.Context, userID, id uuid.UUID) error
}

type documentRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewDocumentRepo(db *gorm.DB, log *logger.Logger) DocumentRepo {
	return &documentRepo{db: db, log: log.With("repo", "DocumentRepo")}
}

func (r *documentRepo) Create(dbc dbctx.Context, rows []*vault.Document) ([]*vault.Document, error) {
	if len(rows) == 0 {
		return []*vault.Document{}, nil
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

func (r *documentRepo) GetByID(dbc dbctx.Context, userID, id uuid.UUID) (*vault.Document, error) {
	if id == uuid.Nil {
		return nil, fmt.Errorf("missing id")
	}
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	var out vault.Document
	if err := txx.WithContext(dbc.Ctx).
		Where("id = ? AND user_id = ?", id, userID).
		Take(&out).Error; err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *documentRepo) ListByUser(dbc dbctx.Context, userID uuid.UUID, limit int) ([]*vault.Document, error) {
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
	var out []*vault.Document
	if err := txx.WithContext(dbc.Ctx).
		Model(&vault.Document{}).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *documentRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
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
		Model(&vault.Document{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *documentRepo) Delete(dbc dbctx.Context, userID, id uuid.UUID) error {
	if id == uuid.Nil {
		return fmt.Errorf("missing id")
	}
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	return txx.WithContext(dbc.Ctx).
		Where("id = ? AND user_id = ?", id, userID).
		Delete(&vault.Document{}).Error
}
