package kg

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	domaingraph "github.com/nebulus/gantry/internal/domain/graph"

	datagraph "github.com/nebulus/gantry/internal/data/graph"
	"github.com/nebulus/gantry/internal/data/repos"
	"github.com/nebulus/gantry/internal/platform/dbctx"
	"github.com/nebulus/gantry/internal/platform/logger"
	"github.com/nebulus/gantry/internal/platform/neo4jdb"
	"github.com/nebulus/gantry/internal/platform/openai"
)

const (
	defaultMaxHops  = 1
	defaultFactCap  = 10
	extractTextCap  = 6000
	queryMentionCap = 25
)

// Fact is a rendered graph triple surfaced into the prompt context.
type Fact struct {
	Source   string    `json:"source"`
	Relation string    `json:"relation"`
	Target   string    `json:"target"`
	Weight   float64   `json:"weight"`
	LastSeen time.Time `json:"last_seen"`
}

func (f Fact) String() string {
	return fmt.Sprintf("%s %s %s", f.Source, f.Relation, f.Target)
}

type Engine interface {
	// ExtractAndMerge pulls entities and relationships out of a finished
	// exchange and merges them into the user's graph. Extraction failures
	// are logged and swallowed; the graph is an enrichment, never a gate.
	ExtractAndMerge(ctx context.Context, userID, conversationID uuid.UUID, text string) error
	// Query expands entity mentions in the query text into related facts.
	// Errors degrade to an empty result.
	Query(ctx context.Context, userID uuid.UUID, query string) []Fact
}

type engine struct {
	graphs repos.GraphRepo
	ai     openai.Client
	neo    *neo4jdb.Client
	log    *logger.Logger

	maxHops int
	factCap int
}

func NewEngine(graphs repos.GraphRepo, ai openai.Client, neo *neo4jdb.Client, log *logger.Logger) Engine {
	return &engine{
		graphs:  graphs,
		ai:      ai,
		neo:     neo,
		log:     log.With("service", "KnowledgeGraph"),
		maxHops: defaultMaxHops,
		factCap: defaultFactCap,
	}
}

const extractSystemPrompt = `You extract knowledge graph data from conversation text.
Return a JSON object with two arrays:
  "entities": [{"name": "...", "type": "person|place|organization|concept|event|other", "description": "one short sentence"}]
  "relationships": [{"source": "...", "target": "...", "relation": "short verb phrase"}]
Only include entities actually mentioned. Use consistent names. Return valid JSON only.`

type extractedEntity struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description"`
}

type extractedRelationship struct {
	Source   string `json:"source"`
	Target   string `json:"target"`
	Relation string `json:"relation"`
}

func (e *engine) ExtractAndMerge(ctx context.Context, userID, conversationID uuid.UUID, text string) error {
	if userID == uuid.Nil || strings.TrimSpace(text) == "" {
		return nil
	}
	if len(text) > extractTextCap {
		text = text[:extractTextCap]
	}

	raw, err := e.ai.GenerateJSON(ctx, extractSystemPrompt, text)
	if err != nil {
		e.log.Warn("graph extraction failed (skipping)", "error", err)
		return nil
	}

	entities, rels := decodeExtraction(raw)
	if len(entities) == 0 {
		return nil
	}

	dbc := dbctx.Context{Ctx: ctx}
	rows := make([]*domaingraph.Entity, 0, len(entities))
	for _, ent := range entities {
		name := strings.TrimSpace(ent.Name)
		if name == "" {
			continue
		}
		typ := strings.TrimSpace(strings.ToLower(ent.Type))
		if typ == "" {
			typ = "unknown"
		}
		rows = append(rows, &domaingraph.Entity{
			UserID:      userID,
			Name:        name,
			NameKey:     repos.NameKey(name),
			Type:        typ,
			Description: strings.TrimSpace(ent.Description),
			Aliases:     datatypes.JSON([]byte(`[]`)),
		})
	}
	if _, err := e.graphs.UpsertEntities(dbc, rows); err != nil {
		e.log.Warn("graph entity merge failed (skipping)", "error", err)
		return nil
	}

	// Re-read by name so relationships reference canonical ids even when
	// the upsert hit existing rows.
	names := make([]string, 0, len(rows))
	for _, r := range rows {
		names = append(names, r.Name)
	}
	canonical, err := e.graphs.FindEntitiesByNames(dbc, userID, names)
	if err != nil {
		e.log.Warn("graph entity lookup failed (skipping)", "error", err)
		return nil
	}
	byKey := make(map[string]*domaingraph.Entity, len(canonical))
	for _, ent := range canonical {
		byKey[ent.NameKey] = ent
	}

	relRows := make([]*domaingraph.Relationship, 0, len(rels))
	for _, rel := range rels {
		src := byKey[repos.NameKey(rel.Source)]
		dst := byKey[repos.NameKey(rel.Target)]
		relation := strings.TrimSpace(rel.Relation)
		if src == nil || dst == nil || relation == "" || src.ID == dst.ID {
			continue
		}
		convID := conversationID
		relRows = append(relRows, &domaingraph.Relationship{
			UserID:         userID,
			SrcEntityID:    src.ID,
			DstEntityID:    dst.ID,
			Relation:       relation,
			Weight:         1,
			ConversationID: &convID,
		})
	}
	merged, err := e.graphs.UpsertRelationships(dbc, relRows)
	if err != nil {
		e.log.Warn("graph relationship merge failed (skipping)", "error", err)
		return nil
	}

	if err := datagraph.SyncUserGraph(ctx, e.neo, e.log, userID, canonical, merged); err != nil {
		e.log.Warn("neo4j graph sync failed (continuing)", "error", err)
	}

	e.log.Debug("graph merged",
		"user_id", userID.String(),
		"entities", len(canonical),
		"relationships", len(merged),
	)
	return nil
}

func (e *engine) Query(ctx context.Context, userID uuid.UUID, query string) []Fact {
	if userID == uuid.Nil || strings.TrimSpace(query) == "" {
		return nil
	}
	dbc := dbctx.Context{Ctx: ctx}

	mentioned, err := e.findMentions(dbc, userID, query)
	if err != nil {
		e.log.Warn("graph mention lookup failed (degrading to empty)", "error", err)
		return nil
	}
	if len(mentioned) == 0 {
		return nil
	}

	ids := make([]uuid.UUID, 0, len(mentioned))
	for _, ent := range mentioned {
		ids = append(ids, ent.ID)
	}
	rels, err := e.graphs.ListRelationshipsTouching(dbc, userID, ids)
	if err != nil {
		e.log.Warn("graph expansion failed (degrading to empty)", "error", err)
		return nil
	}
	if len(rels) > e.factCap {
		rels = rels[:e.factCap]
	}

	need := map[uuid.UUID]struct{}{}
	for _, rel := range rels {
		need[rel.SrcEntityID] = struct{}{}
		need[rel.DstEntityID] = struct{}{}
	}
	allIDs := make([]uuid.UUID, 0, len(need))
	for id := range need {
		allIDs = append(allIDs, id)
	}
	ents, err := e.graphs.GetEntitiesByIDs(dbc, allIDs)
	if err != nil {
		e.log.Warn("graph entity load failed (degrading to empty)", "error", err)
		return nil
	}
	nameByID := make(map[uuid.UUID]string, len(ents))
	for _, ent := range ents {
		nameByID[ent.ID] = ent.Name
	}

	out := make([]Fact, 0, len(rels))
	for _, rel := range rels {
		src, dst := nameByID[rel.SrcEntityID], nameByID[rel.DstEntityID]
		if src == "" || dst == "" {
			continue
		}
		out = append(out, Fact{
			Source:   src,
			Relation: rel.Relation,
			Target:   dst,
			Weight:   rel.Weight,
			LastSeen: rel.LastSeenAt,
		})
	}
	return out
}

// findMentions matches the user's known entity names against the query by
// substring. A single round trip beats an extraction call inside the
// retrieval deadline.
func (e *engine) findMentions(dbc dbctx.Context, userID uuid.UUID, query string) ([]*domaingraph.Entity, error) {
	all, err := e.graphs.ListEntitiesByUser(dbc, userID, 500)
	if err != nil {
		return nil, err
	}
	q := " " + foldForMatch(query) + " "
	out := make([]*domaingraph.Entity, 0, queryMentionCap)
	for _, ent := range all {
		if ent.NameKey == "" {
			continue
		}
		if strings.Contains(q, " "+foldForMatch(ent.NameKey)+" ") {
			out = append(out, ent)
			if len(out) >= queryMentionCap {
				break
			}
		}
	}
	return out, nil
}

// foldForMatch lowercases and strips punctuation so "Alice?" still matches
// the entity named Alice.
func foldForMatch(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	prevSpace := false
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r > 127:
			b.WriteRune(r)
			prevSpace = false
		default:
			if !prevSpace {
				b.WriteByte(' ')
				prevSpace = true
			}
		}
	}
	return strings.TrimSpace(b.String())
}

func decodeExtraction(raw map[string]any) ([]extractedEntity, []extractedRelationship) {
	buf, err := json.Marshal(raw)
	if err != nil {
		return nil, nil
	}
	var payload struct {
		Entities      []extractedEntity       `json:"entities"`
		Relationships []extractedRelationship `json:"relationships"`
	}
	if err := json.Unmarshal(buf, &payload); err != nil {
		return nil, nil
	}
	return payload.Entities, payload.Relationships
}
