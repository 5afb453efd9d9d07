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

func seedConversation(t *testing.T, dbc dbctx.Context) *chat.Conversation {
	t.Helper()
	repo := repos.NewConversationRepo(testutil.DB(t), testutil.Logger(t))
	rows, err := repo.Create(dbc, []*chat.Conversation{{UserID: uuid.New()}})
	if err != nil {
		t.Fatalf("seed conversation: %v", err)
	}
	return rows[0]
}

func TestMessageListRecentExcludesSummaries(t *testing.T) {
	gdb := testutil.DB(t)
	tx := testutil.Tx(t, gdb)
	dbc := dbctx.Context{Ctx: context.Background(), Tx: tx}
	conv := seedConversation(t, dbc)
	repo := repos.NewMessageRepo(gdb, testutil.Logger(t))

	_, err := repo.Create(dbc, []*chat.Message{
		{ConversationID: conv.ID, UserID: conv.UserID, Seq: 0, Role: chat.RoleUser, Status: chat.MessageStatusSent, Content: "q1"},
		{ConversationID: conv.ID, UserID: conv.UserID, Seq: 1, Role: chat.RoleAssistant, Status: chat.MessageStatusDone, Content: "a1"},
		{ConversationID: conv.ID, UserID: conv.UserID, Seq: 2, Role: chat.RoleSystem, Status: chat.MessageStatusSummary, Content: "rolled up"},
		{ConversationID: conv.ID, UserID: conv.UserID, Seq: 3, Role: chat.RoleUser, Status: chat.MessageStatusSent, Content: "q2"},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := repo.ListRecent(dbc, conv.ID, 10)
	if err != nil {
		t.Fatalf("list recent: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 turns, got %d", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i].Seq <= got[i-1].Seq {
			t.Fatalf("not ascending by seq: %d then %d", got[i-1].Seq, got[i].Seq)
		}
	}
	for _, m := range got {
		if m.Status == chat.MessageStatusSummary {
			t.Fatalf("summary row leaked into recent turns: %+v", m)
		}
	}

	n, err := repo.CountTurns(dbc, conv.ID)
	if err != nil {
		t.Fatalf("count turns: %v", err)
	}
	if n != 3 {
		t.Fatalf("count turns = %d, want 3", n)
	}
}

func TestMessageListRecentKeepsNewest(t *testing.T) {
	gdb := testutil.DB(t)
	tx := testutil.Tx(t, gdb)
	dbc := dbctx.Context{Ctx: context.Background(), Tx: tx}
	conv := seedConversation(t, dbc)
	repo := repos.NewMessageRepo(gdb, testutil.Logger(t))

	rows := make([]*chat.Message, 0, 6)
	for i := 0; i < 6; i++ {
		rows = append(rows, &chat.Message{
			ConversationID: conv.ID, UserID: conv.UserID, Seq: int64(i),
			Role: chat.RoleUser, Status: chat.MessageStatusSent, Content: "m",
		})
	}
	if _, err := repo.Create(dbc, rows); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := repo.ListRecent(dbc, conv.ID, 2)
	if err != nil {
		t.Fatalf("list recent: %v", err)
	}
	if len(got) != 2 || got[0].Seq != 4 || got[1].Seq != 5 {
		t.Fatalf("expected seqs [4 5], got %+v", got)
	}
}

func TestMessageLatestSummary(t *testing.T) {
	gdb := testutil.DB(t)
	tx := testutil.Tx(t, gdb)
	dbc := dbctx.Context{Ctx: context.Background(), Tx: tx}
	conv := seedConversation(t, dbc)
	repo := repos.NewMessageRepo(gdb, testutil.Logger(t))

	got, err := repo.LatestSummary(dbc, conv.ID)
	if err != nil {
		t.Fatalf("latest summary: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil when no summary exists, got %+v", got)
	}

	_, err = repo.Create(dbc, []*chat.Message{
		{ConversationID: conv.ID, UserID: conv.UserID, Seq: 0, Role: chat.RoleSystem, Status: chat.MessageStatusSummary, Content: "first"},
		{ConversationID: conv.ID, UserID: conv.UserID, Seq: 1, Role: chat.RoleSystem, Status: chat.MessageStatusSummary, Content: "second"},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err = repo.LatestSummary(dbc, conv.ID)
	if err != nil {
		t.Fatalf("latest summary: %v", err)
	}
	if got == nil || got.Content != "second" {
		t.Fatalf("expected newest summary, got %+v", got)
	}
}

func TestMessageListByConversationAfterSeq(t *testing.T) {
	gdb := testutil.DB(t)
	tx := testutil.Tx(t, gdb)
	dbc := dbctx.Context{Ctx: context.Background(), Tx: tx}
	conv := seedConversation(t, dbc)
	repo := repos.NewMessageRepo(gdb, testutil.Logger(t))

	rows := make([]*chat.Message, 0, 5)
	for i := 0; i < 5; i++ {
		rows = append(rows, &chat.Message{
			ConversationID: conv.ID, UserID: conv.UserID, Seq: int64(i),
			Role: chat.RoleUser, Status: chat.MessageStatusSent, Content: "m",
		})
	}
	if _, err := repo.Create(dbc, rows); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := repo.ListByConversation(dbc, conv.ID, 2, 100)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 || got[0].Seq != 3 || got[1].Seq != 4 {
		t.Fatalf("expected seqs [3 4], got %+v", got)
	}
}
