// Package dispatcher hands scrape requests to the worker pool.
package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/docket-scraper/internal/records"
	"github.com/JakeFAU/docket-scraper/internal/worker"
)

// Dispatcher fans out queue work to a pool of workers.
type Dispatcher struct {
	queue   records.JobQueue
	workers []*worker.Worker
	tracker *worker.Tracker
	ids     records.IDGenerator
	clock   records.Clock
}

// New creates a Dispatcher.
func New(
	queue records.JobQueue,
	workers []*worker.Worker,
	tracker *worker.Tracker,
	ids records.IDGenerator,
	clock records.Clock,
) *Dispatcher {
	return &Dispatcher{
		queue:   queue,
		workers: workers,
		tracker: tracker,
		ids:     ids,
		clock:   clock,
	}
}

// Run starts all workers and blocks until the context finishes.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func(wk *worker.Worker) {
			defer wg.Done()
			wk.Run(ctx)
		}(w)
	}
	<-ctx.Done()
	wg.Wait()
}

// Submit assigns a run ID, records the job as queued and enqueues it.
func (d *Dispatcher) Submit(ctx context.Context, sources, names []string) (worker.Status, error) {
	runID, err := d.ids.NewID()
	if err != nil {
		return worker.Status{}, fmt.Errorf("assign run id: %w", err)
	}
	job := records.ScrapeJob{
		RunID:       runID,
		Sources:     sources,
		Names:       names,
		RequestedAt: d.clock.Now(),
	}
	status := d.tracker.Queue(job)
	if err := d.enqueue(ctx, job); err != nil {
		d.tracker.Finish(runID, records.JobFailed, nil, err.Error())
		return worker.Status{}, fmt.Errorf("queue enqueue: %w", err)
	}
	return status, nil
}

// enqueue prefers a non-blocking push so a full queue fails fast.
func (d *Dispatcher) enqueue(ctx context.Context, job records.ScrapeJob) error {
	if tq, ok := d.queue.(interface {
		TryEnqueue(records.ScrapeJob) error
	}); ok {
		return tq.TryEnqueue(job)
	}
	return d.queue.Enqueue(ctx, job)
}

// Job reports one tracked job.
func (d *Dispatcher) Job(runID string) (worker.Status, bool) {
	return d.tracker.Get(runID)
}

// Jobs lists tracked jobs, newest first.
func (d *Dispatcher) Jobs() []worker.Status {
	return d.tracker.List()
}
