package jobs

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/nebulus/gantry/internal/platform/logger"
)

type HandlerFunc func(ctx context.Context, job Job) error

// Worker drains the queue and dispatches jobs by kind. Handler failures are
// logged and dropped; post-processing is strictly best-effort.
type Worker struct {
	queue    Queue
	log      *logger.Logger
	handlers map[string]HandlerFunc
	wg       sync.WaitGroup
}

func NewWorker(queue Queue, log *logger.Logger) *Worker {
	return &Worker{
		queue:    queue,
		log:      log.With("service", "JobWorker"),
		handlers: map[string]HandlerFunc{},
	}
}

func (w *Worker) Handle(kind string, fn HandlerFunc) {
	w.handlers[kind] = fn
}

func (w *Worker) Start(ctx context.Context, concurrency int) {
	if concurrency <= 0 {
		concurrency = 2
	}
	for i := 0; i < concurrency; i++ {
		w.wg.Add(1)
		go w.run(ctx)
	}
}

func (w *Worker) Wait() {
	w.wg.Wait()
}

func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()
	for {
		job, err := w.queue.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return
			}
			w.log.Warn("dequeue failed (backing off)", "error", err)
			select {
			case <-time.After(time.Second):
				continue
			case <-ctx.Done():
				return
			}
		}
		fn, ok := w.handlers[job.Kind]
		if !ok {
			w.log.Warn("no handler for job kind (dropping)", "kind", job.Kind, "job_id", job.ID)
			continue
		}
		started := time.Now()
		if err := fn(ctx, job); err != nil {
			w.log.Warn("job failed (not retried)",
				"kind", job.Kind,
				"job_id", job.ID,
				"elapsed_ms", time.Since(started).Milliseconds(),
				"error", err,
			)
			continue
		}
		w.log.Debug("job done",
			"kind", job.Kind,
			"job_id", job.ID,
			"elapsed_ms", time.Since(started).Milliseconds(),
		)
	}
}
