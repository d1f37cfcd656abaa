// Package fetcher wraps single-attempt fetchers with the upstream retry policy.
package fetcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/JakeFAU/docket-scraper/internal/records"
)

// RetryPolicy is exponential backoff without jitter: the delay before retry n
// (1-based) is BaseDelay × 2^(n-1), capped at MaxDelay.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryPolicy mirrors the upstream's tolerance: three attempts, 2s base.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   2 * time.Second,
		MaxDelay:    time.Minute,
	}
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	def := DefaultRetryPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = def.MaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = def.BaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = def.MaxDelay
	}
	return p
}

// Backoff returns the wait before retry n, where n starts at 1.
func (p RetryPolicy) Backoff(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	delay := p.BaseDelay
	for i := 1; i < n; i++ {
		delay *= 2
		if p.MaxDelay > 0 && delay >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		return p.MaxDelay
	}
	return delay
}

// ErrEmptyBody is returned when a 200 response carries no content.
var ErrEmptyBody = errors.New("empty response body")

// StatusError reports a non-2xx upstream status.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream %s returned %d %s", e.URL, e.StatusCode, http.StatusText(e.StatusCode))
}

// Unwrap exposes records.ErrTerminalFetch for statuses that must not be retried.
func (e *StatusError) Unwrap() error {
	if Retryable(e.StatusCode) {
		return nil
	}
	return records.ErrTerminalFetch
}

// Retryable reports whether an HTTP status is worth another attempt.
func Retryable(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}

type outcome int

const (
	outcomeOK outcome = iota
	outcomeRetry
	outcomeTerminal
)

func (o outcome) String() string {
	switch o {
	case outcomeOK:
		return "ok"
	case outcomeRetry:
		return "retry"
	default:
		return "terminal"
	}
}

// classify maps one attempt's result onto the error taxonomy.
func classify(ctx context.Context, req records.FetchRequest, resp records.FetchResponse, err error) (outcome, error) {
	if err != nil {
		if ctx.Err() != nil {
			return outcomeTerminal, err
		}
		return outcomeRetry, err
	}
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if len(bytes.TrimSpace(resp.Body)) == 0 {
			return outcomeRetry, fmt.Errorf("%s: %w", req.URL, ErrEmptyBody)
		}
		return outcomeOK, nil
	case Retryable(resp.StatusCode):
		return outcomeRetry, &StatusError{URL: req.URL, StatusCode: resp.StatusCode}
	default:
		return outcomeTerminal, &StatusError{URL: req.URL, StatusCode: resp.StatusCode}
	}
}
