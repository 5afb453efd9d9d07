package contextasm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/nebulus/gantry/internal/data/repos"
	"github.com/nebulus/gantry/internal/domain/chat"
	"github.com/nebulus/gantry/internal/platform/dbctx"
	"github.com/nebulus/gantry/internal/platform/logger"
	"github.com/nebulus/gantry/internal/platform/openai"
)

const (
	// SummarizeThreshold is the non-summary message count past which a
	// conversation gets rolled up.
	SummarizeThreshold = 50

	// How many of the oldest uncovered messages each roll-up takes in.
	// Keeping the newest turns verbatim preserves short-term coherence.
	summarizeSpan   = 30
	summaryInputCap = 16000

	summarizePrompt = "Summarize the following conversation excerpt in a compact paragraph. Preserve names, decisions, facts and open threads. Write in third person."
)

type Summarizer interface {
	// SummarizeIfNeeded rolls the oldest turns of an oversized conversation
	// up into a summary message. No-op below the threshold.
	SummarizeIfNeeded(ctx context.Context, conversationID uuid.UUID) error
}

type summarizer struct {
	db            *gorm.DB
	conversations repos.ConversationRepo
	messages      repos.MessageRepo
	ai            openai.Client
	log           *logger.Logger
}

func NewSummarizer(db *gorm.DB, conversations repos.ConversationRepo, messages repos.MessageRepo, ai openai.Client, log *logger.Logger) Summarizer {
	return &summarizer{
		db:            db,
		conversations: conversations,
		messages:      messages,
		ai:            ai,
		log:           log.With("service", "Summarizer"),
	}
}

func (s *summarizer) SummarizeIfNeeded(ctx context.Context, conversationID uuid.UUID) error {
	dbc := dbctx.Context{Ctx: ctx}

	count, err := s.messages.CountTurns(dbc, conversationID)
	if err != nil {
		return fmt.Errorf("summarize: count turns: %w", err)
	}
	if count <= SummarizeThreshold {
		return nil
	}

	// Each summary records the last seq it covers, so roll-ups never
	// double-count a turn.
	afterSeq := int64(-1)
	prev, err := s.messages.LatestSummary(dbc, conversationID)
	if err != nil {
		return fmt.Errorf("summarize: load previous summary: %w", err)
	}
	if prev != nil {
		afterSeq = coveredThrough(prev)
	}

	span, err := s.messages.ListByConversation(dbc, conversationID, afterSeq, summarizeSpan)
	if err != nil {
		return fmt.Errorf("summarize: load span: %w", err)
	}
	span = withoutSummaries(span)
	if len(span) < summarizeSpan/2 {
		return nil
	}

	var buf strings.Builder
	if prev != nil {
		buf.WriteString("Earlier summary: ")
		buf.WriteString(prev.Content)
		buf.WriteString("\n\n")
	}
	for _, m := range span {
		if m.Content == "" {
			continue
		}
		buf.WriteString(m.Role)
		buf.WriteString(": ")
		buf.WriteString(m.Content)
		buf.WriteString("\n")
		if buf.Len() > summaryInputCap {
			break
		}
	}

	text, err := s.ai.Complete(ctx, []openai.Message{
		{Role: chat.RoleSystem, Content: summarizePrompt},
		{Role: chat.RoleUser, Content: buf.String()},
	})
	if err != nil {
		return fmt.Errorf("summarize: completion: %w", err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return fmt.Errorf("summarize: empty completion")
	}

	covered := span[len(span)-1].Seq
	meta, _ := json.Marshal(map[string]any{"covered_through_seq": covered})

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txc := dbctx.Context{Ctx: ctx, Tx: tx}
		conv, err := s.conversations.LockByID(txc, conversationID)
		if err != nil {
			return err
		}
		seq, err := s.conversations.AllocateSeqs(txc, conversationID, 1)
		if err != nil {
			return err
		}
		_, err = s.messages.Create(txc, []*chat.Message{{
			ConversationID: conversationID,
			UserID:         conv.UserID,
			Seq:            seq,
			Role:           chat.RoleSystem,
			Status:         chat.MessageStatusSummary,
			Content:        text,
			Metadata:       datatypes.JSON(meta),
		}})
		return err
	})
}

func coveredThrough(summary *chat.Message) int64 {
	var meta struct {
		CoveredThroughSeq int64 `json:"covered_through_seq"`
	}
	if err := json.Unmarshal(summary.Metadata, &meta); err != nil {
		return summary.Seq
	}
	return meta.CoveredThroughSeq
}

func withoutSummaries(rows []*chat.Message) []*chat.Message {
	out := rows[:0]
	for _, m := range rows {
		if m.Status == chat.MessageStatusSummary {
			continue
		}
		out = append(out, m)
	}
	return out
}
