package worker

import (
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/docket-scraper/internal/pipeline"
	"github.com/JakeFAU/docket-scraper/internal/records"
)

// DefaultTrackerLimit bounds how many jobs the tracker remembers.
const DefaultTrackerLimit = 256

// Status is the externally visible state of one scrape job.
type Status struct {
	RunID       string            `json:"run_id"`
	State       records.JobState  `json:"state"`
	Sources     []string          `json:"sources,omitempty"`
	Names       []string          `json:"names,omitempty"`
	RequestedAt time.Time         `json:"requested_at"`
	StartedAt   time.Time         `json:"started_at,omitzero"`
	FinishedAt  time.Time         `json:"finished_at,omitzero"`
	Error       string            `json:"error,omitempty"`
	Summary     *pipeline.Summary `json:"summary,omitempty"`
}

// Tracker remembers recent jobs so the API can report on them.
type Tracker struct {
	clock records.Clock
	limit int

	mu    sync.Mutex
	jobs  map[string]*Status
	order []string
}

// NewTracker constructs a Tracker keeping at most limit jobs.
func NewTracker(clock records.Clock, limit int) *Tracker {
	if limit <= 0 {
		limit = DefaultTrackerLimit
	}
	return &Tracker{clock: clock, limit: limit, jobs: make(map[string]*Status)}
}

// Queue records a newly submitted job.
func (t *Tracker) Queue(job records.ScrapeJob) Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	st := &Status{
		RunID:       job.RunID,
		State:       records.JobQueued,
		Sources:     job.Sources,
		Names:       job.Names,
		RequestedAt: job.RequestedAt,
	}
	if _, ok := t.jobs[job.RunID]; !ok {
		t.order = append(t.order, job.RunID)
	}
	t.jobs[job.RunID] = st
	t.evict()
	return *st
}

// Start marks a job running.
func (t *Tracker) Start(runID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if st, ok := t.jobs[runID]; ok {
		st.State = records.JobRunning
		st.StartedAt = t.clock.Now()
	}
}

// Finish records the terminal state of a job.
func (t *Tracker) Finish(runID string, state records.JobState, summary *pipeline.Summary, errText string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.jobs[runID]
	if !ok {
		return
	}
	st.State = state
	st.FinishedAt = t.clock.Now()
	st.Error = errText
	st.Summary = summary
}

// Get returns a copy of one job's status.
func (t *Tracker) Get(runID string) (Status, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.jobs[runID]
	if !ok {
		return Status{}, false
	}
	return *st, true
}

// List returns every remembered job, newest request first.
func (t *Tracker) List() []Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Status, 0, len(t.jobs))
	for _, st := range t.jobs {
		out = append(out, *st)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].RequestedAt.After(out[j].RequestedAt)
	})
	return out
}

// evict drops the oldest terminal jobs beyond the limit. Caller holds mu.
func (t *Tracker) evict() {
	for len(t.order) > t.limit {
		dropped := false
		for i, id := range t.order {
			if t.jobs[id].State.Terminal() {
				delete(t.jobs, id)
				t.order = append(t.order[:i], t.order[i+1:]...)
				dropped = true
				break
			}
		}
		if !dropped {
			return
		}
	}
}
