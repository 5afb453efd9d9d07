package jobs

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/nebulus/gantry/internal/domain/chat"
	"github.com/nebulus/gantry/internal/platform/dbctx"
	"github.com/nebulus/gantry/internal/platform/logger"
)

type titleConversationRepo struct {
	conv    *chat.Conversation
	updates map[string]interface{}
}

func (f *titleConversationRepo) Create(dbc dbctx.Context, rows []*chat.Conversation) ([]*chat.Conversation, error) {
	return rows, nil
}

func (f *titleConversationRepo) GetByID(dbc dbctx.Context, userID, id uuid.UUID) (*chat.Conversation, error) {
	return f.conv, nil
}

func (f *titleConversationRepo) ListByUser(dbc dbctx.Context, userID uuid.UUID, limit int) ([]*chat.Conversation, error) {
	return nil, nil
}

func (f *titleConversationRepo) LockByID(dbc dbctx.Context, id uuid.UUID) (*chat.Conversation, error) {
	return f.conv, nil
}

func (f *titleConversationRepo) AllocateSeqs(dbc dbctx.Context, id uuid.UUID, n int64) (int64, error) {
	return 1, nil
}

func (f *titleConversationRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	f.updates = updates
	return nil
}

func (f *titleConversationRepo) Delete(dbc dbctx.Context, userID, id uuid.UUID) error {
	return nil
}

func titleProcessor(t *testing.T, conv *chat.Conversation) (*PostProcessor, *titleConversationRepo) {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	repo := &titleConversationRepo{conv: conv}
	return &PostProcessor{conversations: repo, log: log}, repo
}

func TestMaybeTitleUsesFirstUserMessageVerbatim(t *testing.T) {
	conv := &chat.Conversation{ID: uuid.New(), UserID: uuid.New(), Title: defaultTitle}
	p, repo := titleProcessor(t, conv)
	gen := &chat.Generation{UserID: conv.UserID, ConversationID: conv.ID}

	p.maybeTitle(context.Background(), gen, &chat.Message{Content: "Hello"})

	if repo.updates == nil {
		t.Fatal("title was not updated")
	}
	if got := repo.updates["title"]; got != "Hello" {
		t.Fatalf("title = %v, want %q", got, "Hello")
	}
}

func TestMaybeTitleTruncatesLongFirstMessage(t *testing.T) {
	long := strings.Repeat("hello world ", 20)
	conv := &chat.Conversation{ID: uuid.New(), UserID: uuid.New(), Title: defaultTitle}
	p, repo := titleProcessor(t, conv)
	gen := &chat.Generation{UserID: conv.UserID, ConversationID: conv.ID}

	p.maybeTitle(context.Background(), gen, &chat.Message{Content: long})

	title, _ := repo.updates["title"].(string)
	if title == "" {
		t.Fatal("title was not updated")
	}
	if len(title) > 63 {
		t.Fatalf("title too long: %d chars (%q)", len(title), title)
	}
	if !strings.HasSuffix(title, "...") {
		t.Fatalf("truncated title missing ellipsis: %q", title)
	}
	base := strings.TrimSuffix(title, "...")
	if !strings.HasPrefix(long, base+" ") {
		t.Fatalf("title %q not cut at a word boundary of the message", title)
	}
}

func TestMaybeTitleLeavesCustomTitleAlone(t *testing.T) {
	conv := &chat.Conversation{ID: uuid.New(), UserID: uuid.New(), Title: "Trip planning"}
	p, repo := titleProcessor(t, conv)
	gen := &chat.Generation{UserID: conv.UserID, ConversationID: conv.ID}

	p.maybeTitle(context.Background(), gen, &chat.Message{Content: "Hello"})

	if repo.updates != nil {
		t.Fatalf("custom title overwritten: %v", repo.updates)
	}
}
