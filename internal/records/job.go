package records

import (
	"context"
	"time"
)

// JobState tracks a queued scrape request.
type JobState string

// Job lifecycle values.
const (
	JobQueued    JobState = "queued"
	JobRunning   JobState = "running"
	JobSucceeded JobState = "succeeded"
	JobFailed    JobState = "failed"
	JobCanceled  JobState = "canceled"
)

// Terminal reports whether no further transitions happen.
func (s JobState) Terminal() bool {
	return s == JobSucceeded || s == JobFailed || s == JobCanceled
}

// ScrapeJob is a request for one scrape run, handed from the API to the
// worker.
type ScrapeJob struct {
	RunID       string    `json:"run_id"`
	Sources     []string  `json:"sources,omitempty"`
	Names       []string  `json:"names,omitempty"`
	RequestedAt time.Time `json:"requested_at"`
}

// JobQueue buffers scrape jobs for the worker.
type JobQueue interface {
	Enqueue(ctx context.Context, job ScrapeJob) error
	Dequeue(ctx context.Context) (ScrapeJob, error)
}
