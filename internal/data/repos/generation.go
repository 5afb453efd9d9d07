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

type GenerationRepo interface {
	Create(dbc dbctx.Context, rows []*chat.Generation) ([]*chat.Generation, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*chat.Generation, error)
	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
}

type generationRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewGenerationRepo(db *gorm.DB, log *logger.Logger) GenerationRepo {
	return &generationRepo{db: db, log: log.With("repo", "GenerationRepo")}
}

func (r *generationRepo) Create(dbc dbctx.Context, rows []*chat.Generation) ([]*chat.Generation, error) {
	if len(rows) == 0 {
		return []*chat.Generation{}, nil
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

func (r *generationRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*chat.Generation, error) {
	if id == uuid.Nil {
		return nil, fmt.Errorf("missing id")
	}
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	var out chat.Generation
	if err := txx.WithContext(dbc.Ctx).
		Where("id = ?", id).
		Take(&out).Error; err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *generationRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
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
		Model(&chat.Generation{}).
		Where("id = ?", id).
		Updates(updates).Error
}
