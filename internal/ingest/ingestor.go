package ingest

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/nebulus/gantry/internal/data/repos"
	"github.com/nebulus/gantry/internal/domain/memory"
	"github.com/nebulus/gantry/internal/platform/dbctx"
	"github.com/nebulus/gantry/internal/platform/logger"
	"github.com/nebulus/gantry/internal/platform/openai"
	"github.com/nebulus/gantry/internal/platform/vectorindex"
)

// Source identifies the owner of a set of chunks. Re-ingesting the same
// source replaces its chunks wholesale, so retries never duplicate.
type Source struct {
	UserID         uuid.UUID
	Kind           string
	ID             uuid.UUID
	ConversationID *uuid.UUID
	DocumentID     *uuid.UUID
	Metadata       map[string]any
}

type Ingestor interface {
	// Ingest chunks, embeds and indexes text for a source. Returns the
	// number of chunks written.
	Ingest(ctx context.Context, src Source, text string) (int, error)
	// DeleteSource removes a source's chunks from both the index and SQL.
	DeleteSource(ctx context.Context, src Source) error
}

type ingestor struct {
	chunks  repos.ChunkRepo
	index   vectorindex.Store
	ai      openai.Client
	chunker Chunker
	log     *logger.Logger
}

func NewIngestor(chunks repos.ChunkRepo, index vectorindex.Store, ai openai.Client, log *logger.Logger) Ingestor {
	return &ingestor{
		chunks:  chunks,
		index:   index,
		ai:      ai,
		chunker: NewChunker(),
		log:     log.With("service", "Ingestor"),
	}
}

// Namespace scopes the vector index per user so retrieval can never cross
// user boundaries.
func Namespace(userID uuid.UUID) string {
	return "user:" + userID.String()
}

func vectorID(src Source, idx int) string {
	return fmt.Sprintf("%s:%s:%d", src.Kind, src.ID.String(), idx)
}

func (g *ingestor) Ingest(ctx context.Context, src Source, text string) (int, error) {
	if src.UserID == uuid.Nil || src.ID == uuid.Nil {
		return 0, fmt.Errorf("ingest: missing source identity")
	}
	if src.Kind != memory.SourceKindTurn && src.Kind != memory.SourceKindDocument {
		return 0, fmt.Errorf("ingest: unknown source kind %q", src.Kind)
	}

	pieces := g.chunker.Split(text)
	if len(pieces) == 0 {
		return 0, fmt.Errorf("ingest: no text to chunk")
	}

	// Wipe any previous version of this source first.
	if err := g.DeleteSource(ctx, src); err != nil {
		return 0, fmt.Errorf("ingest: clear previous chunks: %w", err)
	}

	embeddings, err := g.ai.Embed(ctx, pieces)
	if err != nil {
		return 0, fmt.Errorf("ingest: embed: %w", err)
	}
	if len(embeddings) != len(pieces) {
		return 0, fmt.Errorf("ingest: embedding count mismatch: chunks=%d embeddings=%d", len(pieces), len(embeddings))
	}

	meta := datatypes.JSON([]byte(`{}`))
	if len(src.Metadata) > 0 {
		if raw, err := json.Marshal(src.Metadata); err == nil {
			meta = datatypes.JSON(raw)
		}
	}

	rows := make([]*memory.Chunk, 0, len(pieces))
	vectors := make([]vectorindex.Vector, 0, len(pieces))
	for i, piece := range pieces {
		vid := vectorID(src, i)
		rows = append(rows, &memory.Chunk{
			UserID:         src.UserID,
			SourceKind:     src.Kind,
			SourceID:       src.ID,
			ChunkIndex:     i,
			ConversationID: src.ConversationID,
			DocumentID:     src.DocumentID,
			Text:           piece,
			Metadata:       meta,
			VectorID:       vid,
		})
		vmeta := map[string]any{"source_kind": src.Kind}
		if src.ConversationID != nil {
			vmeta["conversation_id"] = src.ConversationID.String()
		}
		if src.DocumentID != nil {
			vmeta["document_id"] = src.DocumentID.String()
		}
		vectors = append(vectors, vectorindex.Vector{
			ID:       vid,
			Values:   embeddings[i],
			Metadata: vmeta,
		})
	}

	dbc := dbctx.Context{Ctx: ctx}
	if _, err := g.chunks.Upsert(dbc, rows); err != nil {
		return 0, fmt.Errorf("ingest: persist chunks: %w", err)
	}
	if err := g.index.Upsert(ctx, Namespace(src.UserID), vectors); err != nil {
		return 0, fmt.Errorf("ingest: index chunks: %w", err)
	}

	g.log.Debug("source ingested",
		"user_id", src.UserID.String(),
		"source_kind", src.Kind,
		"source_id", src.ID.String(),
		"chunks", len(rows),
	)
	return len(rows), nil
}

func (g *ingestor) DeleteSource(ctx context.Context, src Source) error {
	dbc := dbctx.Context{Ctx: ctx}
	existing, err := g.chunks.ListBySource(dbc, src.UserID, src.Kind, src.ID)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		ids := make([]string, 0, len(existing))
		for _, c := range existing {
			ids = append(ids, c.VectorID)
		}
		if err := g.index.Delete(ctx, Namespace(src.UserID), ids); err != nil {
			return err
		}
	}
	return g.chunks.DeleteBySource(dbc, src.UserID, src.Kind, src.ID)
}
