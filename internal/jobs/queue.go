package jobs

import (
	"context"
	"time"

	"github.com/google/uuid"
)

const (
	// KindPostProcessTurn runs after a completed generation: memory
	// ingestion, graph merge, auto-title and roll-up summarization.
	KindPostProcessTurn = "post_process_turn"

	// KindProcessDocument extracts, chunks and indexes an uploaded file.
	KindProcessDocument = "process_document"
)

type Job struct {
	ID   string `json:"id"`
	Kind string `json:"kind"`

	UserID         uuid.UUID `json:"user_id"`
	ConversationID uuid.UUID `json:"conversation_id,omitempty"`
	GenerationID   uuid.UUID `json:"generation_id,omitempty"`
	DocumentID     uuid.UUID `json:"document_id,omitempty"`

	EnqueuedAt time.Time `json:"enqueued_at"`
}

// Queue is a minimal at-most-once job pipe. Handlers own their failure
// handling; a failed job is logged, never retried.
type Queue interface {
	Enqueue(ctx context.Context, job Job) error
	// Dequeue blocks until a job is available or ctx is done.
	Dequeue(ctx context.Context) (Job, error)
	Close() error
}

func stamp(job Job) Job {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now().UTC()
	}
	return job
}
