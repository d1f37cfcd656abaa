package records

import (
	"context"
	"io"
	"net/url"
	"time"
)

// Store persists person records, court cases and the run log.
type Store interface {
	UpsertInmate(ctx context.Context, inmate Inmate) error
	UpsertCase(ctx context.Context, c CourtCase) error
	LinkCase(ctx context.Context, link CaseLink) error
	// MarkReleased clears in_jail on every in-custody row whose key is not in seen.
	MarkReleased(ctx context.Context, seen []string) (int, error)
	GetInmate(ctx context.Context, key string) (Inmate, error)
	// FindInmatesByLastName returns inmates whose name starts with "LAST,".
	FindInmatesByLastName(ctx context.Context, lastName string) ([]Inmate, error)
	AppendRun(ctx context.Context, run ScrapeRun) error
	LatestRun(ctx context.Context, status RunStatus) (ScrapeRun, error)
	ListRuns(ctx context.Context, limit int) ([]ScrapeRun, error)
	DetailState(ctx context.Context, key string) (DetailFetchState, error)
	SaveDetailState(ctx context.Context, state DetailFetchState) error
	Close()
}

// FetchRequest describes one upstream request.
type FetchRequest struct {
	URL string
	// Form, when non-nil, turns the request into a form-encoded POST.
	Form url.Values
}

// FetchResponse is what a single attempt returned.
type FetchResponse struct {
	URL        string
	StatusCode int
	Body       []byte
	Duration   time.Duration
}

// Fetcher performs one request attempt; retry policy lives above it.
type Fetcher interface {
	Fetch(ctx context.Context, req FetchRequest) (FetchResponse, error)
}

// PageFetcher returns a page for the pipeline, applying the retry policy and
// logging through the run's logger.
type PageFetcher interface {
	FetchPage(ctx context.Context, rc *RunContext, req FetchRequest) (FetchResponse, error)
}

// BlobStore archives raw page snapshots.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes run-completed notifications to dashboards.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// Sleeper blocks for a duration or until the context ends.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewID() (string, error)
}
