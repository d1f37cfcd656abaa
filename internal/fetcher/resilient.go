package fetcher

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/docket-scraper/internal/metrics"
	"github.com/JakeFAU/docket-scraper/internal/records"
)

// Resilient retries transient failures of an inner single-attempt fetcher.
type Resilient struct {
	inner   records.Fetcher
	policy  RetryPolicy
	sleeper records.Sleeper
}

// NewResilient wraps inner with policy, sleeping through sleeper between attempts.
func NewResilient(inner records.Fetcher, policy RetryPolicy, sleeper records.Sleeper) *Resilient {
	return &Resilient{
		inner:   inner,
		policy:  policy.withDefaults(),
		sleeper: sleeper,
	}
}

// Policy returns the effective retry policy.
func (r *Resilient) Policy() RetryPolicy {
	return r.policy
}

// FetchPage returns the first successful response. Terminal statuses return a
// *StatusError wrapping records.ErrTerminalFetch; exhausted retries return an
// error wrapping records.ErrSourceUnavailable.
func (r *Resilient) FetchPage(
	ctx context.Context,
	rc *records.RunContext,
	req records.FetchRequest,
) (records.FetchResponse, error) {
	logger := rc.Log().Named("fetcher")
	var lastErr error
	for attempt := 1; attempt <= r.policy.MaxAttempts; attempt++ {
		resp, err := r.inner.Fetch(ctx, req)
		result, classified := classify(ctx, req, resp, err)

		fields := []zap.Field{
			zap.Int("attempt", attempt),
			zap.String("url", req.URL),
			zap.Bool("post", req.Form != nil),
			zap.Int("status", resp.StatusCode),
			zap.Duration("elapsed", resp.Duration),
		}
		if classified != nil {
			fields = append(fields, zap.Error(classified))
		}

		switch result {
		case outcomeOK:
			metrics.ObserveFetchAttempt(result.String())
			logger.Debug("fetch succeeded", fields...)
			return resp, nil
		case outcomeTerminal:
			metrics.ObserveFetchAttempt(result.String())
			logger.Warn("fetch failed terminally", fields...)
			return resp, fmt.Errorf("fetch %s: %w", req.URL, classified)
		}

		lastErr = classified
		if attempt == r.policy.MaxAttempts {
			metrics.ObserveFetchAttempt("exhausted")
			logger.Warn("fetch attempt failed, no attempts left", fields...)
			break
		}
		delay := r.policy.Backoff(attempt)
		metrics.ObserveFetchAttempt(result.String())
		logger.Warn("fetch attempt failed, backing off", append(fields, zap.Duration("backoff", delay))...)
		if err := r.sleeper.Sleep(ctx, delay); err != nil {
			return records.FetchResponse{}, fmt.Errorf("fetch %s: %w", req.URL, err)
		}
	}
	return records.FetchResponse{}, fmt.Errorf(
		"fetch %s after %d attempts: %w: %w",
		req.URL, r.policy.MaxAttempts, records.ErrSourceUnavailable, lastErr,
	)
}
