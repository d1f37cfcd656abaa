// Package collyfetcher implements a single-attempt records.Fetcher using gocolly.
package collyfetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/docket-scraper/internal/records"
)

const defaultTimeout = 30 * time.Second

// Config controls collector behavior.
type Config struct {
	UserAgent     string
	RespectRobots bool
	Timeout       time.Duration
	// Transport overrides the HTTP transport (tests, proxies).
	Transport http.RoundTripper
}

// Fetcher performs exactly one GET or form POST per call. Every HTTP status is
// reported back to the caller; retry decisions are made above this layer.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher.
func New(cfg Config) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	c := colly.NewCollector(colly.Async(false))
	// Retries hit the same URL, and listing pages legitimately repeat across runs.
	c.AllowURLRevisit = true
	c.ParseHTTPErrorResponse = true
	transport := cfg.Transport
	if transport == nil {
		transport = newHTTPTransport()
	}
	c.WithTransport(transport)
	return &Fetcher{cfg: cfg, baseCollector: c}
}

// Fetch executes a single request using a cloned collector. A canceled
// context returns at once with an empty response; the collector keeps
// running in the background until its own request timeout.
func (f *Fetcher) Fetch(ctx context.Context, req records.FetchRequest) (records.FetchResponse, error) {
	return f.runCollector(ctx, f.buildCollector(), req)
}

func (f *Fetcher) buildCollector() *colly.Collector {
	collector := f.baseCollector.Clone()
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	collector.IgnoreRobotsTxt = !f.cfg.RespectRobots
	collector.SetRequestTimeout(f.cfg.Timeout)
	return collector
}

func (f *Fetcher) configureCollectorHooks(
	hooks collectorHooks,
	start time.Time,
	result *records.FetchResponse,
	fetchErr *error,
) {
	hooks.OnResponse(func(r *colly.Response) {
		finalURL := ""
		if r.Request != nil && r.Request.URL != nil {
			finalURL = r.Request.URL.String()
		}
		*result = records.FetchResponse{
			URL:        finalURL,
			StatusCode: r.StatusCode,
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
		}
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil && result.StatusCode == 0 {
			result.StatusCode = r.StatusCode
		}
		*fetchErr = err
	})
}

// attempt is written only by the collector goroutine and handed over whole
// through the done channel.
type attempt struct {
	result   records.FetchResponse
	visitErr error
	hookErr  error
}

func (f *Fetcher) runCollector(
	ctx context.Context,
	collector *colly.Collector,
	req records.FetchRequest,
) (records.FetchResponse, error) {
	done := make(chan attempt, 1)
	go func() {
		var a attempt
		f.configureCollectorHooks(collector, time.Now(), &a.result, &a.hookErr)
		if req.Form != nil {
			a.visitErr = collector.Post(req.URL, flattenForm(req))
		} else {
			a.visitErr = collector.Visit(req.URL)
		}
		done <- a
	}()

	select {
	case <-ctx.Done():
		return records.FetchResponse{}, fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case a := <-done:
		if a.visitErr != nil {
			return a.result, fmt.Errorf("colly visit %s: %w", req.URL, a.visitErr)
		}
		if a.hookErr != nil {
			return a.result, fmt.Errorf("colly response %s: %w", req.URL, a.hookErr)
		}
		return a.result, nil
	}
}

func flattenForm(req records.FetchRequest) map[string]string {
	out := make(map[string]string, len(req.Form))
	for key := range req.Form {
		out[key] = req.Form.Get(key)
	}
	return out
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
	}
}
