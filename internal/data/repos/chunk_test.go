package repos_test

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/nebulus/gantry/internal/data/repos"
	"github.com/nebulus/gantry/internal/data/repos/testutil"
	"github.com/nebulus/gantry/internal/domain/memory"
	"github.com/nebulus/gantry/internal/platform/dbctx"
)

func TestChunkUpsertIdempotent(t *testing.T) {
	gdb := testutil.DB(t)
	tx := testutil.Tx(t, gdb)
	dbc := dbctx.Context{Ctx: context.Background(), Tx: tx}
	repo := repos.NewChunkRepo(gdb, testutil.Logger(t))

	userID := uuid.New()
	sourceID := uuid.New()
	vectorID := "document:" + sourceID.String() + ":0"

	_, err := repo.Upsert(dbc, []*memory.Chunk{{
		UserID:     userID,
		SourceKind: memory.SourceKindDocument,
		SourceID:   sourceID,
		ChunkIndex: 0,
		Text:       "first version",
		VectorID:   vectorID,
	}})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}

	_, err = repo.Upsert(dbc, []*memory.Chunk{{
		UserID:     userID,
		SourceKind: memory.SourceKindDocument,
		SourceID:   sourceID,
		ChunkIndex: 0,
		Text:       "second version",
		VectorID:   vectorID,
	}})
	if err != nil {
		t.Fatalf("re-upsert: %v", err)
	}

	got, err := repo.ListBySource(dbc, userID, memory.SourceKindDocument, sourceID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("re-ingest duplicated chunks: %d rows", len(got))
	}
	if got[0].Text != "second version" {
		t.Fatalf("re-upsert did not replace text: %q", got[0].Text)
	}
}

func TestChunkGetByVectorIDsScopedToUser(t *testing.T) {
	gdb := testutil.DB(t)
	tx := testutil.Tx(t, gdb)
	dbc := dbctx.Context{Ctx: context.Background(), Tx: tx}
	repo := repos.NewChunkRepo(gdb, testutil.Logger(t))

	owner := uuid.New()
	sourceID := uuid.New()
	vectorID := "turn:" + sourceID.String() + ":0"

	_, err := repo.Upsert(dbc, []*memory.Chunk{{
		UserID:     owner,
		SourceKind: memory.SourceKindTurn,
		SourceID:   sourceID,
		Text:       "private",
		VectorID:   vectorID,
	}})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, err := repo.GetByVectorIDs(dbc, uuid.New(), []string{vectorID})
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("chunk leaked across users: %+v", got)
	}

	got, err = repo.GetByVectorIDs(dbc, owner, []string{vectorID})
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("owner lookup failed: %d rows", len(got))
	}
}

func TestChunkDeleteBySource(t *testing.T) {
	gdb := testutil.DB(t)
	tx := testutil.Tx(t, gdb)
	dbc := dbctx.Context{Ctx: context.Background(), Tx: tx}
	repo := repos.NewChunkRepo(gdb, testutil.Logger(t))

	userID := uuid.New()
	keepSource := uuid.New()
	dropSource := uuid.New()

	_, err := repo.Upsert(dbc, []*memory.Chunk{
		{UserID: userID, SourceKind: memory.SourceKindDocument, SourceID: dropSource, ChunkIndex: 0, Text: "a", VectorID: "document:" + dropSource.String() + ":0"},
		{UserID: userID, SourceKind: memory.SourceKindDocument, SourceID: dropSource, ChunkIndex: 1, Text: "b", VectorID: "document:" + dropSource.String() + ":1"},
		{UserID: userID, SourceKind: memory.SourceKindDocument, SourceID: keepSource, ChunkIndex: 0, Text: "c", VectorID: "document:" + keepSource.String() + ":0"},
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}

	if err := repo.DeleteBySource(dbc, userID, memory.SourceKindDocument, dropSource); err != nil {
		t.Fatalf("delete: %v", err)
	}

	gone, err := repo.ListBySource(dbc, userID, memory.SourceKindDocument, dropSource)
	if err != nil {
		t.Fatalf("list dropped: %v", err)
	}
	if len(gone) != 0 {
		t.Fatalf("source not deleted: %d rows", len(gone))
	}
	kept, err := repo.ListBySource(dbc, userID, memory.SourceKindDocument, keepSource)
	if err != nil {
		t.Fatalf("list kept: %v", err)
	}
	if len(kept) != 1 {
		t.Fatalf("unrelated source deleted: %d rows", len(kept))
	}
}
