package extraction

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ebaxter/receiptdrop/internal/receipt"
)

// InlineDispatcher implements receipt.Dispatcher with an in-process
// queue feeding a Worker goroutine. It trades the broker's durability
// for a dependency-free single-binary deployment; jobs in flight when
// the process dies are lost, which the guarded record update turns into
// a failed-or-pending record rather than corruption.
type InlineDispatcher struct {
	worker *Worker
	jobs   chan receipt.ExtractJob
	done   chan struct{}
	once   sync.Once
}

// NewInlineDispatcher starts the worker goroutine with a buffered queue.
func NewInlineDispatcher(worker *Worker, buffer int) *InlineDispatcher {
	if buffer <= 0 {
		buffer = 16
	}
	d := &InlineDispatcher{
		worker: worker,
		jobs:   make(chan receipt.ExtractJob, buffer),
		done:   make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *InlineDispatcher) run() {
	defer close(d.done)
	for job := range d.jobs {
		if err := d.worker.Process(job); err != nil {
			slog.Error("Failed to process extraction job", "receiptId", job.ReceiptID, "error", err)
		}
	}
}

// Dispatch enqueues a single extraction job.
func (d *InlineDispatcher) Dispatch(ctx context.Context, job receipt.ExtractJob) error {
	select {
	case d.jobs <- job:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("enqueueing extraction job: %w", ctx.Err())
	}
}

// Close stops accepting jobs and waits for the worker to drain the
// queue.
func (d *InlineDispatcher) Close() error {
	d.once.Do(func() {
		close(d.jobs)
	})
	<-d.done
	return nil
}
