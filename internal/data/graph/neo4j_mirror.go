package graph

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/nebulus/gantry/internal/domain/graph"
	"github.com/nebulus/gantry/internal/platform/logger"
	"github.com/nebulus/gantry/internal/platform/neo4jdb"
)

// SyncUserGraph mirrors a user's merged entities and relationships into
// Neo4j. SQL stays the source of truth; this sync is best-effort and a nil
// client is a no-op.
func SyncUserGraph(ctx context.Context, client *neo4jdb.Client, log *logger.Logger, userID uuid.UUID, entities []*graph.Entity, rels []*graph.Relationship) error {
	if client == nil || client.Driver == nil {
		return nil
	}
	if userID == uuid.Nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)

	idToNorm := map[uuid.UUID]string{}
	entityNodes := make([]map[string]any, 0, len(entities))
	for _, e := range entities {
		if e == nil || e.ID == uuid.Nil || strings.TrimSpace(e.Name) == "" {
			continue
		}
		if e.UserID != userID {
			continue
		}
		norm := e.NameKey
		if norm == "" {
			norm = normalizeName(e.Name)
		}
		if norm == "" {
			continue
		}
		idToNorm[e.ID] = norm
		entityNodes = append(entityNodes, map[string]any{
			"user_id":      userID.String(),
			"name":         strings.TrimSpace(e.Name),
			"name_norm":    norm,
			"type":         strings.TrimSpace(e.Type),
			"description":  strings.TrimSpace(e.Description),
			"aliases_json": string(e.Aliases),
			"last_seen_at": e.LastSeenAt.UTC().Format(time.RFC3339Nano),
			"synced_at":    now,
		})
	}

	edgeRels := make([]map[string]any, 0, len(rels))
	for _, rel := range rels {
		if rel == nil || rel.ID == uuid.Nil || rel.UserID != userID {
			continue
		}
		srcNorm := idToNorm[rel.SrcEntityID]
		dstNorm := idToNorm[rel.DstEntityID]
		if srcNorm == "" || dstNorm == "" {
			continue
		}
		edgeRels = append(edgeRels, map[string]any{
			"id":           rel.ID.String(),
			"user_id":      userID.String(),
			"relation":     strings.TrimSpace(rel.Relation),
			"weight":       rel.Weight,
			"src_norm":     srcNorm,
			"dst_norm":     dstNorm,
			"last_seen_at": rel.LastSeenAt.UTC().Format(time.RFC3339Nano),
			"synced_at":    now,
		})
	}
	if len(entityNodes) == 0 && len(edgeRels) == 0 {
		return nil
	}

	session := client.Driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: client.Database,
	})
	defer session.Close(ctx)

	// Best-effort schema init.
	{
		stmts := []string{
			`CREATE CONSTRAINT gantry_user_id_unique IF NOT EXISTS FOR (u:User) REQUIRE u.id IS UNIQUE`,
			`CREATE CONSTRAINT gantry_entity_user_name_unique IF NOT EXISTS FOR (e:Entity) REQUIRE (e.user_id, e.name_norm) IS UNIQUE`,
		}
		for _, q := range stmts {
			if res, err := session.Run(ctx, q, nil); err != nil {
				if log != nil {
					log.Warn("neo4j schema init failed (continuing)", "error", err)
				}
			} else {
				_, _ = res.Consume(ctx)
			}
		}
	}

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		if res, err := tx.Run(ctx, `
MERGE (u:User {id: $user_id})
SET u.synced_at = $synced_at
`, map[string]any{
			"user_id":   userID.String(),
			"synced_at": now,
		}); err != nil {
			return nil, err
		} else if _, err := res.Consume(ctx); err != nil {
			return nil, err
		}

		if len(entityNodes) > 0 {
			res, err := tx.Run(ctx, `
UNWIND $ents AS e
MERGE (en:Entity {user_id: e.user_id, name_norm: e.name_norm})
SET en += e
WITH en
MATCH (u:User {id: en.user_id})
MERGE (u)-[x:KNOWS]->(en)
`, map[string]any{"ents": entityNodes})
			if err != nil {
				return nil, err
			}
			if _, err := res.Consume(ctx); err != nil {
				return nil, err
			}
		}

		if len(edgeRels) > 0 {
			res, err := tx.Run(ctx, `
UNWIND $rels AS r
MATCH (a:Entity {user_id: r.user_id, name_norm: r.src_norm})
MATCH (b:Entity {user_id: r.user_id, name_norm: r.dst_norm})
MERGE (a)-[e:RELATES {id: r.id}]->(b)
SET e.user_id = r.user_id,
    e.relation = r.relation,
    e.weight = r.weight,
    e.last_seen_at = r.last_seen_at,
    e.synced_at = r.synced_at
`, map[string]any{"rels": edgeRels})
			if err != nil {
				return nil, err
			}
			if _, err := res.Consume(ctx); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	return err
}

func normalizeName(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}
