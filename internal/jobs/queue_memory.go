package jobs

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/nebulus/gantry/internal/platform/logger"
)

type memoryQueue struct {
	ch     chan Job
	mu     sync.Mutex
	closed bool
}

// NewMemoryQueue returns an in-process queue used when no Redis is
// configured. Jobs do not survive a restart.
func NewMemoryQueue() Queue {
	return &memoryQueue{ch: make(chan Job, 1024)}
}

// NewQueue selects Redis when REDIS_ADDR is set, in-process otherwise.
func NewQueue(log *logger.Logger) (Queue, error) {
	if strings.TrimSpace(os.Getenv("REDIS_ADDR")) != "" {
		return NewRedisQueue(log)
	}
	log.Warn("REDIS_ADDR not set; using in-process job queue")
	return NewMemoryQueue(), nil
}

func (q *memoryQueue) Enqueue(ctx context.Context, job Job) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return fmt.Errorf("queue closed")
	}
	q.mu.Unlock()

	select {
	case q.ch <- stamp(job):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return fmt.Errorf("queue full")
	}
}

func (q *memoryQueue) Dequeue(ctx context.Context) (Job, error) {
	select {
	case job, ok := <-q.ch:
		if !ok {
			return Job{}, fmt.Errorf("queue closed")
		}
		return job, nil
	case <-ctx.Done():
		return Job{}, ctx.Err()
	}
}

func (q *memoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.ch)
	}
	return nil
}
