package records

import "errors"

// Error taxonomy shared across the pipeline.
var (
	// ErrTerminalFetch marks an HTTP failure that must not be retried (4xx other than 429).
	ErrTerminalFetch = errors.New("terminal fetch failure")
	// ErrSourceUnavailable marks a source whose retries were exhausted.
	ErrSourceUnavailable = errors.New("source unavailable")
	// ErrMalformedPage marks a page without the expected data table.
	ErrMalformedPage = errors.New("malformed page")
	// ErrRejected marks a record that failed placeholder or format validation.
	ErrRejected = errors.New("record rejected")
	// ErrNotFound is returned by stores when no row matches.
	ErrNotFound = errors.New("not found")
	// ErrRunInProgress is returned when a run is requested while another is active.
	ErrRunInProgress = errors.New("scrape run already in progress")
	// ErrQueueFull is returned when no more runs can be queued.
	ErrQueueFull = errors.New("run queue full")
)
