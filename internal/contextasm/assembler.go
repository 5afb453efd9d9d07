package contextasm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nebulus/gantry/internal/data/repos"
	"github.com/nebulus/gantry/internal/domain/chat"
	"github.com/nebulus/gantry/internal/domain/memory"
	"github.com/nebulus/gantry/internal/kg"
	"github.com/nebulus/gantry/internal/persona"
	"github.com/nebulus/gantry/internal/platform/dbctx"
	"github.com/nebulus/gantry/internal/platform/envutil"
	"github.com/nebulus/gantry/internal/platform/logger"
	"github.com/nebulus/gantry/internal/platform/openai"
	"github.com/nebulus/gantry/internal/retrieval"
)

const (
	DefaultRecentTurns = 10
	DefaultBudgetChars = 12000

	// Retrieval and graph expansion each get this long; past it the
	// section is dropped rather than delaying the reply.
	enrichmentTimeout = 2 * time.Second
)

const (
	summaryHeader = "\n\n## Conversation summary\n"
	memoryHeader  = "\n\n## Relevant memory\n"
	factsHeader   = "\n\n## Known facts\n"
	vaultHeader   = "\n\n## Document excerpts\n"
	bulletPrefix  = "- "
)

// Plan is the assembled prompt for one generation, plus a trace of what went
// into it for debugging.
type Plan struct {
	Messages []openai.Message
	Trace    map[string]any
}

type Assembler interface {
	// Assemble builds the prompt for one generation. userMsg is the turn
	// just persisted for this request; history is read strictly before it
	// so the live turn appears in the prompt exactly once. useVault
	// controls whether document excerpts join the enrichment fan-out.
	Assemble(ctx context.Context, conv *chat.Conversation, userMsg *chat.Message, useVault bool) (*Plan, error)
}

type assembler struct {
	messages  repos.MessageRepo
	retriever retrieval.Retriever
	graph     kg.Engine
	personas  *persona.Registry
	log       *logger.Logger

	recentTurns int
	budgetChars int
}

func NewAssembler(messages repos.MessageRepo, retriever retrieval.Retriever, graph kg.Engine, personas *persona.Registry, log *logger.Logger) Assembler {
	return &assembler{
		messages:    messages,
		retriever:   retriever,
		graph:       graph,
		personas:    personas,
		log:         log.With("service", "ContextAssembler"),
		recentTurns: envutil.Int("CONTEXT_RECENT_TURNS", DefaultRecentTurns),
		budgetChars: envutil.Int("CONTEXT_BUDGET_CHARS", DefaultBudgetChars),
	}
}

func (a *assembler) Assemble(ctx context.Context, conv *chat.Conversation, userMsg *chat.Message, useVault bool) (*Plan, error) {
	if conv == nil {
		return nil, fmt.Errorf("assemble: missing conversation")
	}
	if userMsg == nil || userMsg.Content == "" {
		return nil, fmt.Errorf("assemble: missing user message")
	}
	userQuery := userMsg.Content
	p := a.personas.Get(conv.Persona)
	dbc := dbctx.Context{Ctx: ctx}

	recent, err := a.messages.ListRecent(dbc, conv.ID, a.recentTurns)
	if err != nil {
		return nil, fmt.Errorf("assemble: load recent messages: %w", err)
	}
	// The live turn and its assistant placeholder are persisted before
	// assembly runs, so they show up in the recent window. History must
	// stop before them.
	history := make([]*chat.Message, 0, len(recent))
	for _, m := range recent {
		if m.ID == userMsg.ID || (userMsg.Seq > 0 && m.Seq >= userMsg.Seq) {
			continue
		}
		history = append(history, m)
	}
	summary, err := a.messages.LatestSummary(dbc, conv.ID)
	if err != nil {
		a.log.Warn("summary load failed (continuing without)", "error", err)
		summary = nil
	}

	// Memory, vault and graph enrichment run concurrently, each under its
	// own deadline. Any failure degrades to an empty section.
	var (
		memoryHits []retrieval.Hit
		vaultHits  []retrieval.Hit
		facts      []kg.Fact
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		tctx, cancel := context.WithTimeout(gctx, enrichmentTimeout)
		defer cancel()
		opts := retrieval.DefaultOptions()
		opts.Filter = map[string]any{"source_kind": memory.SourceKindTurn}
		memoryHits = a.retriever.Retrieve(tctx, conv.UserID, userQuery, opts)
		return nil
	})
	if useVault {
		g.Go(func() error {
			tctx, cancel := context.WithTimeout(gctx, enrichmentTimeout)
			defer cancel()
			opts := retrieval.DefaultOptions()
			opts.Filter = map[string]any{"source_kind": memory.SourceKindDocument}
			vaultHits = a.retriever.Retrieve(tctx, conv.UserID, userQuery, opts)
			return nil
		})
	}
	g.Go(func() error {
		tctx, cancel := context.WithTimeout(gctx, enrichmentTimeout)
		defer cancel()
		facts = a.graph.Query(tctx, conv.UserID, userQuery)
		return nil
	})
	_ = g.Wait()

	plan := a.compose(p, summary, history, memoryHits, vaultHits, facts, userQuery)
	return plan, nil
}

// compose renders sections in precedence order and trims the lowest
// precedence sections first until everything fits the character budget. The
// persona prompt and the live user query are never trimmed.
func (a *assembler) compose(p persona.Persona, summary *chat.Message, recent []*chat.Message, memoryHits, vaultHits []retrieval.Hit, facts []kg.Fact, userQuery string) *Plan {
	fixed := len(p.System) + len(userQuery)
	budget := a.budgetChars - fixed
	if budget < 0 {
		budget = 0
	}

	turns := renderTurns(recent)
	memorySec := renderHits(memoryHits)
	graphSec := renderFacts(facts)
	vaultSec := renderHits(vaultHits)
	summarySec := ""
	if summary != nil && summary.Content != "" {
		summarySec = summary.Content
	}

	// Costs are charged on the rendered form, header and bullet markup
	// included, so the assembled context never lands over budget.
	section := func(header string, items []string) int {
		if len(items) == 0 {
			return 0
		}
		n := len(header)
		for _, s := range items {
			n += len(bulletPrefix) + len(s) + 1
		}
		return n
	}
	cost := func() int {
		n := 0
		if summarySec != "" {
			n += len(summaryHeader) + len(summarySec)
		}
		n += section(memoryHeader, memorySec)
		n += section(factsHeader, graphSec)
		n += section(vaultHeader, vaultSec)
		for _, t := range turns {
			n += len(t.Content)
		}
		return n
	}

	// Trim order: vault, then graph, then memory, then oldest turns, then
	// the summary.
	for cost() > budget && len(vaultSec) > 0 {
		vaultSec = vaultSec[:len(vaultSec)-1]
	}
	for cost() > budget && len(graphSec) > 0 {
		graphSec = graphSec[:len(graphSec)-1]
	}
	for cost() > budget && len(memorySec) > 0 {
		memorySec = memorySec[:len(memorySec)-1]
	}
	for cost() > budget && len(turns) > 1 {
		turns = turns[1:]
	}
	if cost() > budget {
		summarySec = ""
	}

	var sys strings.Builder
	sys.WriteString(p.System)
	if summarySec != "" {
		sys.WriteString(summaryHeader)
		sys.WriteString(summarySec)
	}
	writeSection := func(header string, items []string) {
		if len(items) == 0 {
			return
		}
		sys.WriteString(header)
		for _, s := range items {
			sys.WriteString(bulletPrefix)
			sys.WriteString(s)
			sys.WriteString("\n")
		}
	}
	writeSection(memoryHeader, memorySec)
	writeSection(factsHeader, graphSec)
	writeSection(vaultHeader, vaultSec)

	msgs := make([]openai.Message, 0, len(turns)+2)
	msgs = append(msgs, openai.Message{Role: chat.RoleSystem, Content: sys.String()})
	msgs = append(msgs, turns...)
	msgs = append(msgs, openai.Message{Role: chat.RoleUser, Content: userQuery})

	return &Plan{
		Messages: msgs,
		Trace: map[string]any{
			"persona":       p.Name,
			"recent_turns":  len(turns),
			"memory_hits":   len(memorySec),
			"graph_facts":   len(graphSec),
			"vault_hits":    len(vaultSec),
			"summary_used":  summarySec != "",
			"context_chars": cost() + fixed,
		},
	}
}

func renderTurns(rows []*chat.Message) []openai.Message {
	out := make([]openai.Message, 0, len(rows))
	for _, m := range rows {
		if m.Content == "" {
			continue
		}
		role := m.Role
		if role != chat.RoleUser && role != chat.RoleAssistant {
			continue
		}
		out = append(out, openai.Message{Role: role, Content: m.Content})
	}
	return out
}

func renderHits(hits []retrieval.Hit) []string {
	out := make([]string, 0, len(hits))
	for _, h := range hits {
		if h.Chunk == nil || h.Chunk.Text == "" {
			continue
		}
		out = append(out, h.Chunk.Text)
	}
	return out
}

func renderFacts(facts []kg.Fact) []string {
	out := make([]string, 0, len(facts))
	for _, f := range facts {
		out = append(out, f.String())
	}
	return out
}
