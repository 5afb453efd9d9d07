package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/nebulus/gantry/internal/contextasm"
	"github.com/nebulus/gantry/internal/data/repos"
	"github.com/nebulus/gantry/internal/domain/chat"
	domainmemory "github.com/nebulus/gantry/internal/domain/memory"
	"github.com/nebulus/gantry/internal/domain/vault"
	"github.com/nebulus/gantry/internal/ingest"
	"github.com/nebulus/gantry/internal/kg"
	"github.com/nebulus/gantry/internal/platform/dbctx"
	"github.com/nebulus/gantry/internal/platform/logger"
)

const defaultTitle = "New Chat"

// PostProcessor implements the background work that follows a completed
// generation and the ingestion pipeline for uploaded documents.
type PostProcessor struct {
	conversations repos.ConversationRepo
	messages      repos.MessageRepo
	generations   repos.GenerationRepo
	documents     repos.DocumentRepo
	ingestor      ingest.Ingestor
	graph         kg.Engine
	summarizer    contextasm.Summarizer
	log           *logger.Logger
}

func NewPostProcessor(
	conversations repos.ConversationRepo,
	messages repos.MessageRepo,
	generations repos.GenerationRepo,
	documents repos.DocumentRepo,
	ingestor ingest.Ingestor,
	graph kg.Engine,
	summarizer contextasm.Summarizer,
	log *logger.Logger,
) *PostProcessor {
	return &PostProcessor{
		conversations: conversations,
		messages:      messages,
		generations:   generations,
		documents:     documents,
		ingestor:      ingestor,
		graph:         graph,
		summarizer:    summarizer,
		log:           log.With("service", "PostProcessor"),
	}
}

func (p *PostProcessor) Register(w *Worker) {
	w.Handle(KindPostProcessTurn, p.PostProcessTurn)
	w.Handle(KindProcessDocument, p.ProcessDocument)
}

// PostProcessTurn ingests a completed exchange into memory, merges it into
// the knowledge graph, titles fresh conversations and triggers roll-up
// summarization. Each stage is independent; one failing does not stop the
// rest.
func (p *PostProcessor) PostProcessTurn(ctx context.Context, job Job) error {
	dbc := dbctx.Context{Ctx: ctx}

	gen, err := p.generations.GetByID(dbc, job.GenerationID)
	if err != nil {
		return fmt.Errorf("load generation: %w", err)
	}
	if gen.Status != chat.GenerationStatusCompleted {
		return nil
	}

	userMsg, err := p.messages.GetByID(dbc, gen.UserMessageID)
	if err != nil {
		return fmt.Errorf("load user message: %w", err)
	}
	asstMsg, err := p.messages.GetByID(dbc, gen.AssistantMessageID)
	if err != nil {
		return fmt.Errorf("load assistant message: %w", err)
	}

	exchange := "user: " + userMsg.Content + "\nassistant: " + asstMsg.Content
	convID := gen.ConversationID
	_, err = p.ingestor.Ingest(ctx, ingest.Source{
		UserID:         gen.UserID,
		Kind:           domainmemory.SourceKindTurn,
		ID:             gen.ID,
		ConversationID: &convID,
		Metadata:       map[string]any{"seq": userMsg.Seq},
	}, exchange)
	if err != nil {
		p.log.Warn("turn memory ingest failed (continuing)", "generation_id", gen.ID.String(), "error", err)
	}

	if err := p.graph.ExtractAndMerge(ctx, gen.UserID, gen.ConversationID, exchange); err != nil {
		p.log.Warn("graph merge failed (continuing)", "generation_id", gen.ID.String(), "error", err)
	}

	p.maybeTitle(ctx, gen, userMsg)

	if err := p.summarizer.SummarizeIfNeeded(ctx, gen.ConversationID); err != nil {
		p.log.Warn("summarization failed (continuing)", "conversation_id", gen.ConversationID.String(), "error", err)
	}
	return nil
}

func (p *PostProcessor) maybeTitle(ctx context.Context, gen *chat.Generation, userMsg *chat.Message) {
	dbc := dbctx.Context{Ctx: ctx}
	conv, err := p.conversations.GetByID(dbc, gen.UserID, gen.ConversationID)
	if err != nil {
		p.log.Warn("title: conversation load failed (skipping)", "error", err)
		return
	}
	if conv.Title != defaultTitle {
		return
	}
	// The title is the first user message, truncated at a word boundary.
	title := TrimTitle(userMsg.Content)
	if title == "" {
		return
	}
	if err := p.conversations.UpdateFields(dbc, conv.ID, map[string]interface{}{"title": title}); err != nil {
		p.log.Warn("title update failed (skipping)", "error", err)
	}
}

// ProcessDocument extracts text from an uploaded file, chunks and indexes
// it, then flips the document to ready. Failures land on the row as status
// error so the client can see what happened.
func (p *PostProcessor) ProcessDocument(ctx context.Context, job Job) error {
	dbc := dbctx.Context{Ctx: ctx}

	doc, err := p.documents.GetByID(dbc, job.UserID, job.DocumentID)
	if err != nil {
		return fmt.Errorf("load document: %w", err)
	}

	fail := func(cause error) error {
		_ = p.documents.UpdateFields(dbc, doc.ID, map[string]interface{}{
			"status": vault.DocumentStatusError,
			"error":  cause.Error(),
		})
		return cause
	}

	path := documentPath(doc)
	if path == "" {
		return fail(fmt.Errorf("document has no stored file path"))
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fail(fmt.Errorf("read upload: %w", err))
	}

	text, err := ingest.ExtractText(doc.Filename, doc.ContentType, data)
	if err != nil {
		return fail(fmt.Errorf("extract text: %w", err))
	}

	docID := doc.ID
	count, err := p.ingestor.Ingest(ctx, ingest.Source{
		UserID:     doc.UserID,
		Kind:       domainmemory.SourceKindDocument,
		ID:         doc.ID,
		DocumentID: &docID,
		Metadata:   map[string]any{"filename": doc.Filename},
	}, text)
	if err != nil {
		return fail(fmt.Errorf("ingest document: %w", err))
	}

	return p.documents.UpdateFields(dbc, doc.ID, map[string]interface{}{
		"status":      vault.DocumentStatusReady,
		"error":       "",
		"chunk_count": count,
	})
}

func documentPath(doc *vault.Document) string {
	var meta struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal(doc.Metadata, &meta); err != nil {
		return ""
	}
	return strings.TrimSpace(meta.Path)
}
