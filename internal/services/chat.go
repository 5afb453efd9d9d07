package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/nebulus/gantry/internal/contextasm"
	"github.com/nebulus/gantry/internal/data/repos"
	"github.com/nebulus/gantry/internal/domain/chat"
	"github.com/nebulus/gantry/internal/ingest"
	"github.com/nebulus/gantry/internal/orchestrator"
	"github.com/nebulus/gantry/internal/persona"
	"github.com/nebulus/gantry/internal/platform/apierr"
	"github.com/nebulus/gantry/internal/platform/dbctx"
	"github.com/nebulus/gantry/internal/platform/logger"
	"github.com/nebulus/gantry/internal/platform/vectorindex"
)

const maxMessageLen = 32000

type ConversationUpdate struct {
	Title   *string `json:"title,omitempty"`
	Persona *string `json:"persona,omitempty"`
	Pinned  *bool   `json:"pinned,omitempty"`
}

type ChatService interface {
	CreateConversation(ctx context.Context, userID uuid.UUID, personaName string) (*chat.Conversation, error)
	GetConversation(ctx context.Context, userID, id uuid.UUID) (*chat.Conversation, error)
	ListConversations(ctx context.Context, userID uuid.UUID, limit int) ([]*chat.Conversation, error)
	UpdateConversation(ctx context.Context, userID, id uuid.UUID, upd ConversationUpdate) (*chat.Conversation, error)
	DeleteConversation(ctx context.Context, userID, id uuid.UUID) error
	ListMessages(ctx context.Context, userID, conversationID uuid.UUID, afterSeq int64, limit int) ([]*chat.Message, error)
	// SendMessage persists the user turn, assembles context and streams the
	// assistant reply through emit. It returns once the generation reaches
	// a terminal state. useVault gates document excerpts in the context.
	SendMessage(ctx context.Context, userID, conversationID uuid.UUID, content string, useVault bool, emit orchestrator.Emitter) error
}

type chatService struct {
	db            *gorm.DB
	conversations repos.ConversationRepo
	messages      repos.MessageRepo
	generations   repos.GenerationRepo
	chunks        repos.ChunkRepo
	index         vectorindex.Store
	assembler     contextasm.Assembler
	orch          orchestrator.Orchestrator
	personas      *persona.Registry
	log           *logger.Logger
}

func NewChatService(
	db *gorm.DB,
	conversations repos.ConversationRepo,
	messages repos.MessageRepo,
	generations repos.GenerationRepo,
	chunks repos.ChunkRepo,
	index vectorindex.Store,
	assembler contextasm.Assembler,
	orch orchestrator.Orchestrator,
	personas *persona.Registry,
	log *logger.Logger,
) ChatService {
	return &chatService{
		db:            db,
		conversations: conversations,
		messages:      messages,
		generations:   generations,
		chunks:        chunks,
		index:         index,
		assembler:     assembler,
		orch:          orch,
		personas:      personas,
		log:           log.With("service", "ChatService"),
	}
}

func (s *chatService) CreateConversation(ctx context.Context, userID uuid.UUID, personaName string) (*chat.Conversation, error) {
	if userID == uuid.Nil {
		return nil, apierr.New(http.StatusUnauthorized, "UNAUTHENTICATED", fmt.Errorf("missing user"))
	}
	p := s.personas.Get(personaName)
	rows, err := s.conversations.Create(dbctx.Context{Ctx: ctx}, []*chat.Conversation{{
		UserID:  userID,
		Title:   "New Chat",
		Persona: p.Name,
	}})
	if err != nil {
		return nil, apierr.DB(err)
	}
	return rows[0], nil
}

func (s *chatService) GetConversation(ctx context.Context, userID, id uuid.UUID) (*chat.Conversation, error) {
	conv, err := s.conversations.GetByID(dbctx.Context{Ctx: ctx}, userID, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apierr.NotFound(err)
		}
		return nil, apierr.DB(err)
	}
	return conv, nil
}

func (s *chatService) ListConversations(ctx context.Context, userID uuid.UUID, limit int) ([]*chat.Conversation, error) {
	rows, err := s.conversations.ListByUser(dbctx.Context{Ctx: ctx}, userID, limit)
	if err != nil {
		return nil, apierr.DB(err)
	}
	return rows, nil
}

func (s *chatService) UpdateConversation(ctx context.Context, userID, id uuid.UUID, upd ConversationUpdate) (*chat.Conversation, error) {
	if _, err := s.GetConversation(ctx, userID, id); err != nil {
		return nil, err
	}
	updates := map[string]interface{}{}
	if upd.Title != nil {
		title := strings.TrimSpace(*upd.Title)
		if title == "" {
			return nil, apierr.New(http.StatusBadRequest, "INVALID_TITLE", fmt.Errorf("title cannot be empty"))
		}
		updates["title"] = title
	}
	if upd.Persona != nil {
		updates["persona"] = s.personas.Get(*upd.Persona).Name
	}
	if upd.Pinned != nil {
		updates["pinned"] = *upd.Pinned
	}
	if len(updates) > 0 {
		if err := s.conversations.UpdateFields(dbctx.Context{Ctx: ctx}, id, updates); err != nil {
			return nil, apierr.DB(err)
		}
	}
	return s.GetConversation(ctx, userID, id)
}

// DeleteConversation removes the conversation and everything derived from
// it: messages, memory chunks and their index vectors.
func (s *chatService) DeleteConversation(ctx context.Context, userID, id uuid.UUID) error {
	if _, err := s.GetConversation(ctx, userID, id); err != nil {
		return err
	}

	dbc := dbctx.Context{Ctx: ctx}
	chunks, err := s.chunks.ListByConversation(dbc, id)
	if err != nil {
		return apierr.DB(err)
	}
	if len(chunks) > 0 {
		ids := make([]string, 0, len(chunks))
		for _, c := range chunks {
			ids = append(ids, c.VectorID)
		}
		if err := s.index.Delete(ctx, ingest.Namespace(userID), ids); err != nil {
			s.log.Warn("vector cleanup failed (continuing with delete)", "conversation_id", id.String(), "error", err)
		}
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txc := dbctx.Context{Ctx: ctx, Tx: tx}
		if err := s.chunks.DeleteByConversation(txc, id); err != nil {
			return err
		}
		if err := s.messages.DeleteByConversation(txc, id); err != nil {
			return err
		}
		return s.conversations.Delete(txc, userID, id)
	})
	if err != nil {
		return apierr.DB(err)
	}
	return nil
}

func (s *chatService) ListMessages(ctx context.Context, userID, conversationID uuid.UUID, afterSeq int64, limit int) ([]*chat.Message, error) {
	if _, err := s.GetConversation(ctx, userID, conversationID); err != nil {
		return nil, err
	}
	rows, err := s.messages.ListByConversation(dbctx.Context{Ctx: ctx}, conversationID, afterSeq, limit)
	if err != nil {
		return nil, apierr.DB(err)
	}
	return rows, nil
}

func (s *chatService) SendMessage(ctx context.Context, userID, conversationID uuid.UUID, content string, useVault bool, emit orchestrator.Emitter) error {
	content = strings.TrimSpace(content)
	if content == "" {
		return apierr.New(http.StatusBadRequest, "EMPTY_MESSAGE", fmt.Errorf("message content is empty"))
	}
	if len(content) > maxMessageLen {
		return apierr.New(http.StatusBadRequest, "MESSAGE_TOO_LONG", fmt.Errorf("message exceeds %d characters", maxMessageLen))
	}
	conv, err := s.GetConversation(ctx, userID, conversationID)
	if err != nil {
		return err
	}

	// Persist the user turn and the assistant placeholder atomically; the
	// row lock behind seq allocation serializes concurrent senders.
	var (
		gen     *chat.Generation
		userMsg *chat.Message
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txc := dbctx.Context{Ctx: ctx, Tx: tx}
		first, err := s.conversations.AllocateSeqs(txc, conv.ID, 2)
		if err != nil {
			return err
		}
		msgs, err := s.messages.Create(txc, []*chat.Message{
			{
				ConversationID: conv.ID,
				UserID:         userID,
				Seq:            first,
				Role:           chat.RoleUser,
				Status:         chat.MessageStatusSent,
				Content:        content,
			},
			{
				ConversationID: conv.ID,
				UserID:         userID,
				Seq:            first + 1,
				Role:           chat.RoleAssistant,
				Status:         chat.MessageStatusStreaming,
			},
		})
		if err != nil {
			return err
		}
		userMsg = msgs[0]
		gens, err := s.generations.Create(txc, []*chat.Generation{{
			UserID:             userID,
			ConversationID:     conv.ID,
			UserMessageID:      msgs[0].ID,
			AssistantMessageID: msgs[1].ID,
			Status:             chat.GenerationStatusPending,
		}})
		if err != nil {
			return err
		}
		gen = gens[0]
		return s.conversations.UpdateFields(txc, conv.ID, map[string]interface{}{
			"last_message_at": msgs[0].CreatedAt,
		})
	})
	if err != nil {
		return apierr.DB(err)
	}

	plan, err := s.assembler.Assemble(ctx, conv, userMsg, useVault)
	if err != nil {
		s.log.Error("context assembly failed", "generation_id", gen.ID.String(), "error", err)
		emit.Error("Generation failed. Please try again.")
		dbc := dbctx.Context{Ctx: context.WithoutCancel(ctx)}
		_ = s.messages.UpdateFields(dbc, gen.AssistantMessageID, map[string]interface{}{
			"status": chat.MessageStatusError,
		})
		_ = s.generations.UpdateFields(dbc, gen.ID, map[string]interface{}{
			"status": chat.GenerationStatusFailed,
			"error":  err.Error(),
		})
		return err
	}

	return s.orch.Run(ctx, gen, plan, emit)
}
