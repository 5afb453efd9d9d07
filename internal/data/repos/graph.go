package repos

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/nebulus/gantry/internal/domain/graph"
	"github.com/nebulus/gantry/internal/platform/dbctx"
	"github.com/nebulus/gantry/internal/platform/logger"
)

type GraphRepo interface {
	UpsertEntities(dbc dbctx.Context, rows []*graph.Entity) ([]*graph.Entity, error)
	UpsertRelationships(dbc dbctx.Context, rows []*graph.Relationship) ([]*graph.Relationship, error)
	FindEntitiesByNames(dbc dbctx.Context, userID uuid.UUID, names []string) ([]*graph.Entity, error)
	GetEntitiesByIDs(dbc dbctx.Context, ids []uuid.UUID) ([]*graph.Entity, error)
	ListEntitiesByUser(dbc dbctx.Context, userID uuid.UUID, limit int) ([]*graph.Entity, error)
	ListRelationshipsTouching(dbc dbctx.Context, userID uuid.UUID, entityIDs []uuid.UUID) ([]*graph.Relationship, error)
}

type graphRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewGraphRepo(db *gorm.DB, log *logger.Logger) GraphRepo {
	return &graphRepo{db: db, log: log.With("repo", "GraphRepo")}
}

// NameKey normalizes an entity name for deduplication.
func NameKey(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}

func (r *graphRepo) UpsertEntities(dbc dbctx.Context, rows []*graph.Entity) ([]*graph.Entity, error) {
	if len(rows) == 0 {
		return []*graph.Entity{}, nil
	}
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	now := time.Now().UTC()
	for _, row := range rows {
		if row.NameKey == "" {
			row.NameKey = NameKey(row.Name)
		}
		row.LastSeenAt = now
	}
	if err := txx.WithContext(dbc.Ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "name_key"}, {Name: "type"}},
			DoUpdates: clause.AssignmentColumns([]string{"description", "aliases", "last_seen_at", "updated_at"}),
		}).
		Create(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *graphRepo) UpsertRelationships(dbc dbctx.Context, rows []*graph.Relationship) ([]*graph.Relationship, error) {
	if len(rows) == 0 {
		return []*graph.Relationship{}, nil
	}
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	if err := txx.WithContext(dbc.Ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "user_id"}, {Name: "src_entity_id"}, {Name: "dst_entity_id"}, {Name: "relation"},
			},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"weight":       gorm.Expr("graph_relationship.weight + 1"),
				"last_seen_at": time.Now().UTC(),
				"updated_at":   time.Now().UTC(),
			}),
		}).
		Create(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *graphRepo) FindEntitiesByNames(dbc dbctx.Context, userID uuid.UUID, names []string) ([]*graph.Entity, error) {
	if userID == uuid.Nil {
		return nil, fmt.Errorf("missing user_id")
	}
	if len(names) == 0 {
		return []*graph.Entity{}, nil
	}
	keys := make([]string, 0, len(names))
	for _, n := range names {
		if k := NameKey(n); k != "" {
			keys = append(keys, k)
		}
	}
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	var out []*graph.Entity
	if err := txx.WithContext(dbc.Ctx).
		Model(&graph.Entity{}).
		Where("user_id = ? AND name_key IN ?", userID, keys).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *graphRepo) GetEntitiesByIDs(dbc dbctx.Context, ids []uuid.UUID) ([]*graph.Entity, error) {
	if len(ids) == 0 {
		return []*graph.Entity{}, nil
	}
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	var out []*graph.Entity
	if err := txx.WithContext(dbc.Ctx).
		Model(&graph.Entity{}).
		Where("id IN ?", ids).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *graphRepo) ListEntitiesByUser(dbc dbctx.Context, userID uuid.UUID, limit int) ([]*graph.Entity, error) {
	if userID == uuid.Nil {
		return nil, fmt.Errorf("missing user_id")
	}
	if limit <= 0 {
		limit = 500
	}
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	var out []*graph.Entity
	if err := txx.WithContext(dbc.Ctx).
		Model(&graph.Entity{}).
		Where("user_id = ?", userID).
		Order("last_seen_at DESC, name_key ASC").
		Limit(limit).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// ListRelationshipsTouching returns edges ordered by recency; ties break
// alphabetically on the relation so results stay stable across runs.
func (r *graphRepo) ListRelationshipsTouching(dbc dbctx.Context, userID uuid.UUID, entityIDs []uuid.UUID) ([]*graph.Relationship, error) {
	if len(entityIDs) == 0 {
		return []*graph.Relationship{}, nil
	}
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	var out []*graph.Relationship
	if err := txx.WithContext(dbc.Ctx).
		Model(&graph.Relationship{}).
		Where("user_id = ? AND (src_entity_id IN ? OR dst_entity_id IN ?)", userID, entityIDs, entityIDs).
		Order("last_seen_at DESC, relation ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
