package repos_test

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/nebulus/gantry/internal/data/repos"
	"github.com/nebulus/gantry/internal/data/repos/testutil"
	"github.com/nebulus/gantry/internal/domain/chat"
	"github.com/nebulus/gantry/internal/platform/dbctx"
)

func TestConversationAllocateSeqs(t *testing.T) {
	gdb := testutil.DB(t)
	tx := testutil.Tx(t, gdb)
	dbc := dbctx.Context{Ctx: context.Background(), Tx: tx}
	repo := repos.NewConversationRepo(gdb, testutil.Logger(t))

	rows, err := repo.Create(dbc, []*chat.Conversation{{UserID: uuid.New()}})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	conv := rows[0]

	first, err := repo.AllocateSeqs(dbc, conv.ID, 2)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	second, err := repo.AllocateSeqs(dbc, conv.ID, 1)
	if err != nil {
		t.Fatalf("allocate again: %v", err)
	}
	if second != first+2 {
		t.Fatalf("seqs not consecutive: first=%d second=%d", first, second)
	}

	got, err := repo.GetByID(dbc, conv.UserID, conv.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.NextSeq != second+1 {
		t.Fatalf("next_seq = %d, want %d", got.NextSeq, second+1)
	}
}

func TestConversationAllocateSeqsRequiresTx(t *testing.T) {
	gdb := testutil.DB(t)
	repo := repos.NewConversationRepo(gdb, testutil.Logger(t))

	if _, err := repo.AllocateSeqs(dbctx.Context{Ctx: context.Background()}, uuid.New(), 1); err == nil {
		t.Fatal("expected error outside a transaction")
	}
}

func TestConversationListByUserOrder(t *testing.T) {
	gdb := testutil.DB(t)
	tx := testutil.Tx(t, gdb)
	dbc := dbctx.Context{Ctx: context.Background(), Tx: tx}
	repo := repos.NewConversationRepo(gdb, testutil.Logger(t))

	userID := uuid.New()
	_, err := repo.Create(dbc, []*chat.Conversation{
		{UserID: userID, Title: "older"},
		{UserID: userID, Title: "pinned", Pinned: true},
		{UserID: userID, Title: "newer"},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := repo.ListByUser(dbc, userID, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 conversations, got %d", len(got))
	}
	if got[0].Title != "pinned" {
		t.Fatalf("pinned conversation should sort first, got %q", got[0].Title)
	}
}

func TestConversationDeleteScopedToUser(t *testing.T) {
	gdb := testutil.DB(t)
	tx := testutil.Tx(t, gdb)
	dbc := dbctx.Context{Ctx: context.Background(), Tx: tx}
	repo := repos.NewConversationRepo(gdb, testutil.Logger(t))

	owner := uuid.New()
	rows, err := repo.Create(dbc, []*chat.Conversation{{UserID: owner}})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	conv := rows[0]

	if err := repo.Delete(dbc, uuid.New(), conv.ID); err != nil {
		t.Fatalf("delete as stranger: %v", err)
	}
	if _, err := repo.GetByID(dbc, owner, conv.ID); err != nil {
		t.Fatal("conversation should survive a stranger's delete")
	}

	if err := repo.Delete(dbc, owner, conv.ID); err != nil {
		t.Fatalf("delete as owner: %v", err)
	}
	if _, err := repo.GetByID(dbc, owner, conv.ID); err == nil {
		t.Fatal("conversation should be gone after the owner's delete")
	}
}
