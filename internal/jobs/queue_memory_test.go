package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestMemoryQueueFIFO(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()

	ids := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	for _, id := range ids {
		if err := q.Enqueue(ctx, Job{Kind: KindPostProcessTurn, GenerationID: id}); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}
	for i, want := range ids {
		job, err := q.Dequeue(ctx)
		if err != nil {
			t.Fatalf("dequeue %d: %v", i, err)
		}
		if job.GenerationID != want {
			t.Fatalf("job %d out of order: got %s want %s", i, job.GenerationID, want)
		}
		if job.ID == "" {
			t.Fatalf("job %d missing stamped id", i)
		}
		if job.EnqueuedAt.IsZero() {
			t.Fatalf("job %d missing enqueued_at", i)
		}
	}
}

func TestMemoryQueueDequeueHonorsContext(t *testing.T) {
	q := NewMemoryQueue()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := q.Dequeue(ctx); err == nil {
		t.Fatal("expected context error on empty queue")
	}
}

func TestMemoryQueueClose(t *testing.T) {
	q := NewMemoryQueue()
	if err := q.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := q.Enqueue(context.Background(), Job{Kind: KindPostProcessTurn}); err == nil {
		t.Fatal("expected error enqueueing to a closed queue")
	}
	if _, err := q.Dequeue(context.Background()); err == nil {
		t.Fatal("expected error dequeueing from a closed queue")
	}
	// Close is idempotent.
	if err := q.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}
