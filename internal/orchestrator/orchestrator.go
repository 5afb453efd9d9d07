package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/nebulus/gantry/internal/contextasm"
	"github.com/nebulus/gantry/internal/data/repos"
	"github.com/nebulus/gantry/internal/domain/chat"
	"github.com/nebulus/gantry/internal/jobs"
	"github.com/nebulus/gantry/internal/platform/dbctx"
	"github.com/nebulus/gantry/internal/platform/logger"
	"github.com/nebulus/gantry/internal/platform/openai"
)

// Emitter receives generation output in arrival order. Implementations must
// not block for long; the SSE writer is the production implementation.
type Emitter interface {
	Delta(text string)
	Done(assistantMessageID uuid.UUID)
	Error(message string)
}

// Orchestrator drives one generation through its lifecycle:
// pending -> streaming -> completed | failed | cancelled.
type Orchestrator interface {
	Run(ctx context.Context, gen *chat.Generation, plan *contextasm.Plan, emit Emitter) error
}

type orchestrator struct {
	db          *gorm.DB
	messages    repos.MessageRepo
	generations repos.GenerationRepo
	ai          openai.Client
	queue       jobs.Queue
	log         *logger.Logger
}

func New(db *gorm.DB, messages repos.MessageRepo, generations repos.GenerationRepo, ai openai.Client, queue jobs.Queue, log *logger.Logger) Orchestrator {
	return &orchestrator{
		db:          db,
		messages:    messages,
		generations: generations,
		ai:          ai,
		queue:       queue,
		log:         log.With("service", "Orchestrator"),
	}
}

func (o *orchestrator) Run(ctx context.Context, gen *chat.Generation, plan *contextasm.Plan, emit Emitter) error {
	if gen == nil || plan == nil || emit == nil {
		return fmt.Errorf("orchestrate: missing inputs")
	}
	dbc := dbctx.Context{Ctx: context.WithoutCancel(ctx)}
	started := time.Now().UTC()

	trace, _ := json.Marshal(plan.Trace)
	if err := o.generations.UpdateFields(dbc, gen.ID, map[string]interface{}{
		"status":          chat.GenerationStatusStreaming,
		"started_at":      started,
		"retrieval_trace": datatypes.JSON(trace),
	}); err != nil {
		return fmt.Errorf("orchestrate: mark streaming: %w", err)
	}
	_ = o.messages.UpdateFields(dbc, gen.AssistantMessageID, map[string]interface{}{
		"status": chat.MessageStatusStreaming,
	})

	var (
		full          strings.Builder
		lastFlushAt   = time.Now()
		lastFlushSize = 0
	)
	// Throttle DB writes; every delta still reaches the emitter
	// immediately so clients see tokens as they arrive.
	flushDB := func() {
		if time.Since(lastFlushAt) < 750*time.Millisecond && (full.Len()-lastFlushSize) < 256 {
			return
		}
		txt := full.String()
		lastFlushAt = time.Now()
		lastFlushSize = len(txt)
		_ = o.messages.UpdateFields(dbc, gen.AssistantMessageID, map[string]interface{}{
			"content": txt,
		})
	}

	_, streamErr := o.ai.StreamChat(ctx, plan.Messages, func(delta string) {
		if delta == "" {
			return
		}
		full.WriteString(delta)
		emit.Delta(delta)
		flushDB()
	})

	partial := full.String()

	switch {
	case streamErr == nil:
		if err := o.finish(dbc, gen, partial, chat.GenerationStatusCompleted, chat.MessageStatusDone, ""); err != nil {
			return err
		}
		emit.Done(gen.AssistantMessageID)
		o.enqueuePostProcess(dbc.Ctx, gen)
		return nil

	case errors.Is(streamErr, context.Canceled):
		// Client cancelled mid-stream: keep exactly what was delivered.
		if err := o.finish(dbc, gen, partial, chat.GenerationStatusCancelled, chat.MessageStatusCancelled, ""); err != nil {
			return err
		}
		return streamErr

	default:
		o.log.Warn("generation stream failed",
			"generation_id", gen.ID.String(),
			"error", streamErr,
		)
		if err := o.finish(dbc, gen, partial, chat.GenerationStatusFailed, chat.MessageStatusError, streamErr.Error()); err != nil {
			return err
		}
		emit.Error(publicError(streamErr))
		return streamErr
	}
}

func (o *orchestrator) finish(dbc dbctx.Context, gen *chat.Generation, content, genStatus, msgStatus, errText string) error {
	now := time.Now().UTC()
	if err := o.messages.UpdateFields(dbc, gen.AssistantMessageID, map[string]interface{}{
		"content": content,
		"status":  msgStatus,
	}); err != nil {
		return fmt.Errorf("orchestrate: persist assistant message: %w", err)
	}
	return o.generations.UpdateFields(dbc, gen.ID, map[string]interface{}{
		"status":       genStatus,
		"error":        errText,
		"completed_at": now,
	})
}

func (o *orchestrator) enqueuePostProcess(ctx context.Context, gen *chat.Generation) {
	err := o.queue.Enqueue(ctx, jobs.Job{
		Kind:           jobs.KindPostProcessTurn,
		UserID:         gen.UserID,
		ConversationID: gen.ConversationID,
		GenerationID:   gen.ID,
	})
	if err != nil {
		o.log.Warn("post-process enqueue failed (skipping)",
			"generation_id", gen.ID.String(),
			"error", err,
		)
	}
}

func publicError(err error) string {
	if errors.Is(err, openai.ErrUnavailable) {
		return "The model endpoint is unavailable. Please try again."
	}
	return "Generation failed. Please try again."
}
