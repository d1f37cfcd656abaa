package fetcher

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/docket-scraper/internal/clock/fake"
	"github.com/JakeFAU/docket-scraper/internal/records"
)

type scriptedStep struct {
	status int
	body   string
	err    error
}

type scriptedFetcher struct {
	mu       sync.Mutex
	steps    []scriptedStep
	attempts int
}

func (f *scriptedFetcher) Fetch(_ context.Context, req records.FetchRequest) (records.FetchResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	step := f.steps[len(f.steps)-1]
	if f.attempts < len(f.steps) {
		step = f.steps[f.attempts]
	}
	f.attempts++
	if step.err != nil {
		return records.FetchResponse{}, step.err
	}
	return records.FetchResponse{URL: req.URL, StatusCode: step.status, Body: []byte(step.body)}, nil
}

func newRunContext() *records.RunContext {
	return records.NewRunContext("run-test", time.Unix(0, 0), zap.NewNop())
}

func TestBackoffDoublesFromBase(t *testing.T) {
	t.Parallel()

	p := RetryPolicy{MaxAttempts: 6, BaseDelay: 100 * time.Millisecond, MaxDelay: time.Minute}
	for n := 1; n <= 5; n++ {
		want := p.BaseDelay * time.Duration(1<<(n-1))
		require.Equal(t, want, p.Backoff(n), "retry %d", n)
	}
}

func TestBackoffCapped(t *testing.T) {
	t.Parallel()

	p := RetryPolicy{BaseDelay: time.Second, MaxDelay: 3 * time.Second}
	require.Equal(t, 2*time.Second, p.Backoff(2))
	require.Equal(t, 3*time.Second, p.Backoff(3))
	require.Equal(t, 3*time.Second, p.Backoff(30))
}

func TestFetchPageRetriesTransientThenSucceeds(t *testing.T) {
	t.Parallel()

	inner := &scriptedFetcher{steps: []scriptedStep{
		{err: errors.New("connection reset by peer")},
		{status: http.StatusServiceUnavailable},
		{status: http.StatusTooManyRequests},
		{status: http.StatusOK, body: "<table></table>"},
	}}
	sleeper := fake.NewSleeper(nil)
	r := NewResilient(inner, RetryPolicy{MaxAttempts: 4, BaseDelay: 10 * time.Millisecond}, sleeper)

	resp, err := r.FetchPage(context.Background(), newRunContext(), records.FetchRequest{URL: "https://records.example.gov/a"})
	require.NoError(t, err)
	require.Equal(t, "<table></table>", string(resp.Body))
	require.Equal(t, 4, inner.attempts)
	require.Equal(t, []time.Duration{
		10 * time.Millisecond,
		20 * time.Millisecond,
		40 * time.Millisecond,
	}, sleeper.Sleeps())
}

func TestFetchPageNeverExceedsMaxAttempts(t *testing.T) {
	t.Parallel()

	inner := &scriptedFetcher{steps: []scriptedStep{{status: http.StatusBadGateway}}}
	sleeper := fake.NewSleeper(nil)
	r := NewResilient(inner, RetryPolicy{MaxAttempts: 3, BaseDelay: time.Second}, sleeper)

	_, err := r.FetchPage(context.Background(), newRunContext(), records.FetchRequest{URL: "https://records.example.gov/b"})
	require.ErrorIs(t, err, records.ErrSourceUnavailable)
	require.NotErrorIs(t, err, records.ErrTerminalFetch)
	require.Equal(t, 3, inner.attempts)
	require.Equal(t, []time.Duration{time.Second, 2 * time.Second}, sleeper.Sleeps(),
		"no sleep after the final attempt")

	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, http.StatusBadGateway, statusErr.StatusCode)
}

func TestFetchPageTerminalOn4xx(t *testing.T) {
	t.Parallel()

	for _, status := range []int{http.StatusNotFound, http.StatusForbidden, http.StatusBadRequest} {
		inner := &scriptedFetcher{steps: []scriptedStep{{status: status}}}
		sleeper := fake.NewSleeper(nil)
		r := NewResilient(inner, RetryPolicy{MaxAttempts: 5, BaseDelay: time.Second}, sleeper)

		_, err := r.FetchPage(context.Background(), newRunContext(), records.FetchRequest{URL: "https://records.example.gov/c"})
		require.ErrorIs(t, err, records.ErrTerminalFetch, "status %d", status)
		require.Equal(t, 1, inner.attempts, "status %d must not retry", status)
		require.Empty(t, sleeper.Sleeps())
	}
}

func TestFetchPageRetriesEmptyBody(t *testing.T) {
	t.Parallel()

	inner := &scriptedFetcher{steps: []scriptedStep{
		{status: http.StatusOK, body: "  \n "},
		{status: http.StatusOK, body: "<html>rows</html>"},
	}}
	r := NewResilient(inner, RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond}, fake.NewSleeper(nil))

	resp, err := r.FetchPage(context.Background(), newRunContext(), records.FetchRequest{URL: "https://records.example.gov/d"})
	require.NoError(t, err)
	require.Equal(t, "<html>rows</html>", string(resp.Body))
	require.Equal(t, 2, inner.attempts)
}

func TestFetchPageEmptyBodyExhausts(t *testing.T) {
	t.Parallel()

	inner := &scriptedFetcher{steps: []scriptedStep{{status: http.StatusOK}}}
	r := NewResilient(inner, RetryPolicy{MaxAttempts: 2, BaseDelay: time.Millisecond}, fake.NewSleeper(nil))

	_, err := r.FetchPage(context.Background(), newRunContext(), records.FetchRequest{URL: "https://records.example.gov/e"})
	require.ErrorIs(t, err, records.ErrSourceUnavailable)
	require.ErrorIs(t, err, ErrEmptyBody)
}

func TestFetchPageStopsOnCanceledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	inner := &scriptedFetcher{steps: []scriptedStep{{err: context.Canceled}}}
	r := NewResilient(inner, RetryPolicy{MaxAttempts: 5, BaseDelay: time.Second}, fake.NewSleeper(nil))

	_, err := r.FetchPage(ctx, newRunContext(), records.FetchRequest{URL: "https://records.example.gov/f"})
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, inner.attempts)
}

func TestStatusErrorUnwrap(t *testing.T) {
	t.Parallel()

	require.ErrorIs(t, &StatusError{StatusCode: http.StatusNotFound}, records.ErrTerminalFetch)
	require.NotErrorIs(t, &StatusError{StatusCode: http.StatusTooManyRequests}, records.ErrTerminalFetch)
	require.NotErrorIs(t, &StatusError{StatusCode: http.StatusInternalServerError}, records.ErrTerminalFetch)
}
