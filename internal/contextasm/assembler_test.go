package contextasm

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/nebulus/gantry/internal/domain/chat"
	"github.com/nebulus/gantry/internal/domain/memory"
	"github.com/nebulus/gantry/internal/kg"
	"github.com/nebulus/gantry/internal/persona"
	"github.com/nebulus/gantry/internal/platform/dbctx"
	"github.com/nebulus/gantry/internal/platform/logger"
	"github.com/nebulus/gantry/internal/retrieval"
)

type fakeMessageRepo struct {
	recent  []*chat.Message
	summary *chat.Message
}

func (f *fakeMessageRepo) Create(dbc dbctx.Context, rows []*chat.Message) ([]*chat.Message, error) {
	return rows, nil
}

func (f *fakeMessageRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*chat.Message, error) {
	return nil, nil
}

func (f *fakeMessageRepo) ListRecent(dbc dbctx.Context, conversationID uuid.UUID, limit int) ([]*chat.Message, error) {
	if len(f.recent) > limit {
		return f.recent[len(f.recent)-limit:], nil
	}
	return f.recent, nil
}

func (f *fakeMessageRepo) ListByConversation(dbc dbctx.Context, conversationID uuid.UUID, afterSeq int64, limit int) ([]*chat.Message, error) {
	return f.recent, nil
}

func (f *fakeMessageRepo) LatestSummary(dbc dbctx.Context, conversationID uuid.UUID) (*chat.Message, error) {
	return f.summary, nil
}

func (f *fakeMessageRepo) CountTurns(dbc dbctx.Context, conversationID uuid.UUID) (int64, error) {
	return int64(len(f.recent)), nil
}

func (f *fakeMessageRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	return nil
}

func (f *fakeMessageRepo) DeleteByConversation(dbc dbctx.Context, conversationID uuid.UUID) error {
	return nil
}

type fakeRetriever struct {
	turnHits []retrieval.Hit
	docHits  []retrieval.Hit
}

func (f *fakeRetriever) Retrieve(ctx context.Context, userID uuid.UUID, query string, opts retrieval.Options) []retrieval.Hit {
	if opts.Filter["source_kind"] == memory.SourceKindDocument {
		return f.docHits
	}
	return f.turnHits
}

type fakeGraph struct {
	facts []kg.Fact
}

func (f *fakeGraph) ExtractAndMerge(ctx context.Context, userID, conversationID uuid.UUID, text string) error {
	return nil
}

func (f *fakeGraph) Query(ctx context.Context, userID uuid.UUID, query string) []kg.Fact {
	return f.facts
}

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	return log
}

func testAssembler(t *testing.T, msgs *fakeMessageRepo, ret *fakeRetriever, graph *fakeGraph) *assembler {
	t.Helper()
	return &assembler{
		messages:    msgs,
		retriever:   ret,
		graph:       graph,
		personas:    persona.LoadRegistry(testLogger(t)),
		log:         testLogger(t),
		recentTurns: DefaultRecentTurns,
		budgetChars: DefaultBudgetChars,
	}
}

func hit(text string) retrieval.Hit {
	return retrieval.Hit{Chunk: &memory.Chunk{Text: text}, Similarity: 0.9, Score: 0.9}
}

func turn(role, content string, seq int64) *chat.Message {
	return &chat.Message{ID: uuid.New(), Seq: seq, Role: role, Status: chat.MessageStatusDone, Content: content}
}

// live builds the just-persisted user turn handed to Assemble, with a seq
// past any seeded history.
func live(content string) *chat.Message {
	return turn(chat.RoleUser, content, 100)
}

func TestAssembleEmptyConversation(t *testing.T) {
	a := testAssembler(t, &fakeMessageRepo{}, &fakeRetriever{}, &fakeGraph{})
	conv := &chat.Conversation{ID: uuid.New(), UserID: uuid.New(), Persona: persona.DefaultName}

	plan, err := a.Assemble(context.Background(), conv, live("hello"), true)
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	if len(plan.Messages) != 2 {
		t.Fatalf("expected system + user message, got %d", len(plan.Messages))
	}
	if plan.Messages[0].Role != chat.RoleSystem {
		t.Fatalf("first message should be system, got %q", plan.Messages[0].Role)
	}
	if plan.Messages[1].Role != chat.RoleUser || plan.Messages[1].Content != "hello" {
		t.Fatalf("last message should be the live query, got %+v", plan.Messages[1])
	}
	if got := plan.Trace["recent_turns"]; got != 0 {
		t.Fatalf("trace recent_turns = %v, want 0", got)
	}
}

func TestAssembleSectionOrder(t *testing.T) {
	msgs := &fakeMessageRepo{
		recent: []*chat.Message{
			turn(chat.RoleUser, "first question", 1),
			turn(chat.RoleAssistant, "first answer", 2),
		},
		summary: &chat.Message{Role: chat.RoleSystem, Status: chat.MessageStatusSummary, Content: "earlier the user planned a trip"},
	}
	ret := &fakeRetriever{
		turnHits: []retrieval.Hit{hit("remembered detail")},
		docHits:  []retrieval.Hit{hit("document excerpt")},
	}
	graph := &fakeGraph{facts: []kg.Fact{{Source: "Ana", Relation: "works_at", Target: "Acme"}}}

	a := testAssembler(t, msgs, ret, graph)
	conv := &chat.Conversation{ID: uuid.New(), UserID: uuid.New(), Persona: persona.DefaultName}
	plan, err := a.Assemble(context.Background(), conv, live("where does Ana work?"), true)
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}

	sys := plan.Messages[0].Content
	iSummary := strings.Index(sys, "## Conversation summary")
	iMemory := strings.Index(sys, "## Relevant memory")
	iFacts := strings.Index(sys, "## Known facts")
	iVault := strings.Index(sys, "## Document excerpts")
	for name, idx := range map[string]int{"summary": iSummary, "memory": iMemory, "facts": iFacts, "vault": iVault} {
		if idx < 0 {
			t.Fatalf("system prompt missing %s section:\n%s", name, sys)
		}
	}
	if !(iSummary < iMemory && iMemory < iFacts && iFacts < iVault) {
		t.Fatalf("sections out of order: summary=%d memory=%d facts=%d vault=%d", iSummary, iMemory, iFacts, iVault)
	}
	if !strings.Contains(sys, "Ana works_at Acme") {
		t.Fatalf("fact not rendered:\n%s", sys)
	}

	// system, two turns, live query
	if len(plan.Messages) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(plan.Messages))
	}
	if plan.Messages[1].Content != "first question" || plan.Messages[2].Content != "first answer" {
		t.Fatalf("turns out of order: %+v", plan.Messages[1:3])
	}
}

func TestAssembleBudgetTrimsLowestPrecedenceFirst(t *testing.T) {
	big := strings.Repeat("x", 5000)
	msgs := &fakeMessageRepo{
		recent: []*chat.Message{
			turn(chat.RoleUser, big, 1),
			turn(chat.RoleAssistant, big, 2),
		},
	}
	ret := &fakeRetriever{
		turnHits: []retrieval.Hit{hit(strings.Repeat("m", 3000))},
		docHits:  []retrieval.Hit{hit(strings.Repeat("v", 3000))},
	}
	graph := &fakeGraph{facts: []kg.Fact{{Source: "A", Relation: "knows", Target: "B"}}}

	a := testAssembler(t, msgs, ret, graph)
	conv := &chat.Conversation{ID: uuid.New(), UserID: uuid.New(), Persona: persona.DefaultName}
	plan, err := a.Assemble(context.Background(), conv, live("q"), true)
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}

	chars, ok := plan.Trace["context_chars"].(int)
	if !ok {
		t.Fatalf("trace context_chars missing: %v", plan.Trace)
	}
	if chars > DefaultBudgetChars {
		t.Fatalf("budget exceeded: %d > %d", chars, DefaultBudgetChars)
	}
	// Vault is trimmed before memory; with 5000+5000 turn chars plus 3000
	// memory chars the vault excerpt cannot fit.
	if got := plan.Trace["vault_hits"]; got != 0 {
		t.Fatalf("vault section should be trimmed first, trace=%v", plan.Trace)
	}
}

func TestAssembleOldestTurnsDropFirst(t *testing.T) {
	big := strings.Repeat("x", 4000)
	msgs := &fakeMessageRepo{
		recent: []*chat.Message{
			turn(chat.RoleUser, "oldest "+big, 1),
			turn(chat.RoleAssistant, "middle "+big, 2),
			turn(chat.RoleUser, "newest "+big, 3),
		},
	}
	a := testAssembler(t, msgs, &fakeRetriever{}, &fakeGraph{})
	conv := &chat.Conversation{ID: uuid.New(), UserID: uuid.New(), Persona: persona.DefaultName}
	plan, err := a.Assemble(context.Background(), conv, live("q"), true)
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}

	var kept []string
	for _, m := range plan.Messages[1 : len(plan.Messages)-1] {
		kept = append(kept, strings.Fields(m.Content)[0])
	}
	if len(kept) == 0 {
		t.Fatal("at least one turn must survive trimming")
	}
	if kept[len(kept)-1] != "newest" {
		t.Fatalf("newest turn must survive, kept=%v", kept)
	}
	for _, k := range kept {
		if k == "oldest" && len(kept) < 3 {
			t.Fatalf("oldest turn kept while newer turns were dropped: %v", kept)
		}
	}
}

func TestAssembleVaultDisabled(t *testing.T) {
	ret := &fakeRetriever{docHits: []retrieval.Hit{hit("document excerpt")}}
	a := testAssembler(t, &fakeMessageRepo{}, ret, &fakeGraph{})
	conv := &chat.Conversation{ID: uuid.New(), UserID: uuid.New(), Persona: persona.DefaultName}

	plan, err := a.Assemble(context.Background(), conv, live("q"), false)
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	if strings.Contains(plan.Messages[0].Content, "Document excerpts") {
		t.Fatalf("vault section present with vault disabled:\n%s", plan.Messages[0].Content)
	}
	if got := plan.Trace["vault_hits"]; got != 0 {
		t.Fatalf("trace vault_hits = %v, want 0", got)
	}
}

func TestAssembleExcludesPersistedLiveTurn(t *testing.T) {
	// SendMessage persists the user turn and the assistant placeholder
	// before assembly; the recent window therefore already contains them.
	userTurn := turn(chat.RoleUser, "Hello", 5)
	placeholder := turn(chat.RoleAssistant, "", 6)
	msgs := &fakeMessageRepo{recent: []*chat.Message{userTurn, placeholder}}

	a := testAssembler(t, msgs, &fakeRetriever{}, &fakeGraph{})
	conv := &chat.Conversation{ID: uuid.New(), UserID: uuid.New(), Persona: persona.DefaultName}
	plan, err := a.Assemble(context.Background(), conv, userTurn, true)
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}

	if len(plan.Messages) != 2 {
		t.Fatalf("expected system + live turn only, got %d messages", len(plan.Messages))
	}
	count := 0
	for _, m := range plan.Messages[1:] {
		if m.Content == "Hello" {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("live turn appears %d times, want 1", count)
	}
}

func TestAssembleBudgetCountsSectionMarkup(t *testing.T) {
	reg := persona.LoadRegistry(testLogger(t))
	system := reg.Get(persona.DefaultName).System
	query := "q"

	// Raw text exactly fills what is left of the budget; the header and
	// bullet markup must push it over and trim the section.
	leftover := DefaultBudgetChars - len(system) - len(query)
	ret := &fakeRetriever{turnHits: []retrieval.Hit{hit(strings.Repeat("m", leftover))}}

	a := testAssembler(t, &fakeMessageRepo{}, ret, &fakeGraph{})
	conv := &chat.Conversation{ID: uuid.New(), UserID: uuid.New(), Persona: persona.DefaultName}
	plan, err := a.Assemble(context.Background(), conv, live(query), true)
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}

	if got := plan.Trace["memory_hits"]; got != 0 {
		t.Fatalf("oversized memory section not trimmed, trace=%v", plan.Trace)
	}
	rendered := 0
	for _, m := range plan.Messages {
		rendered += len(m.Content)
	}
	if rendered > DefaultBudgetChars {
		t.Fatalf("rendered context exceeds budget: %d > %d", rendered, DefaultBudgetChars)
	}
}

func TestAssembleNilConversation(t *testing.T) {
	a := testAssembler(t, &fakeMessageRepo{}, &fakeRetriever{}, &fakeGraph{})
	if _, err := a.Assemble(context.Background(), nil, live("q"), true); err == nil {
		t.Fatal("expected error for nil conversation")
	}
	conv := &chat.Conversation{ID: uuid.New(), UserID: uuid.New(), Persona: persona.DefaultName}
	if _, err := a.Assemble(context.Background(), conv, nil, true); err == nil {
		t.Fatal("expected error for nil user message")
	}
}
