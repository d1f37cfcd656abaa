// Package walker follows a listing's "next page" controls and yields each page
// lazily, stopping at the last page, a revisited URL, or the page ceiling.
package walker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"iter"
	"net/url"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/docket-scraper/internal/metrics"
	"github.com/JakeFAU/docket-scraper/internal/policy/ratelimit"
	"github.com/JakeFAU/docket-scraper/internal/records"
)

// DefaultMaxPages bounds a single walk.
const DefaultMaxPages = 1000

// ErrPageCeiling is yielded when a walk stops at the page ceiling while the
// last page still had a next link, so the listing was not read to its end.
var ErrPageCeiling = errors.New("page ceiling reached")

// Page is one fetched and parsed listing page.
type Page struct {
	Index int
	URL   string
	Body  []byte
	Doc   *goquery.Document
}

// Pacer spaces requests within a lane.
type Pacer interface {
	Wait(ctx context.Context, rc *records.RunContext, lane ratelimit.Lane) error
}

// Config tunes a Walker.
type Config struct {
	MaxPages int
}

// Walker pages through a listing using a retrying fetcher.
type Walker struct {
	fetcher  records.PageFetcher
	pacer    Pacer
	maxPages int
}

// New creates a Walker. pacer may be nil.
func New(cfg Config, fetcher records.PageFetcher, pacer Pacer) *Walker {
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = DefaultMaxPages
	}
	return &Walker{fetcher: fetcher, pacer: pacer, maxPages: cfg.MaxPages}
}

// Walk yields pages starting at start. Only the first request carries start.Form;
// subsequent pages are fetched with GET. A fetch or parse error is yielded once
// and ends the sequence, as is ErrPageCeiling when the ceiling cuts the walk
// short.
func (w *Walker) Walk(ctx context.Context, rc *records.RunContext, start records.FetchRequest) iter.Seq2[Page, error] {
	return func(yield func(Page, error) bool) {
		logger := rc.Log().Named("walker")
		visited := newVisitTracker()
		req := start

		for index := 0; index < w.maxPages; index++ {
			if !visited.MarkIfNew(visitKey(req)) {
				logger.Info("pagination cycle detected, stopping", zap.String("url", req.URL), zap.Int("pages", index))
				return
			}
			if index > 0 && w.pacer != nil {
				if err := w.pacer.Wait(ctx, rc, ratelimit.LanePage); err != nil {
					yield(Page{Index: index, URL: req.URL}, fmt.Errorf("walk %s: %w", req.URL, err))
					return
				}
			}

			resp, err := w.fetcher.FetchPage(ctx, rc, req)
			if err != nil {
				yield(Page{Index: index, URL: req.URL}, err)
				return
			}
			pageURL := resp.URL
			if pageURL == "" {
				pageURL = req.URL
			}
			if req.Form == nil {
				visited.MarkIfNew(pageURL)
			}
			doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
			if err != nil {
				yield(Page{Index: index, URL: pageURL, Body: resp.Body}, fmt.Errorf("parse %s: %w", pageURL, err))
				return
			}
			metrics.ObservePage(rc.Source)
			logger.Debug("page fetched", zap.String("url", pageURL), zap.Int("index", index), zap.Int("bytes", len(resp.Body)))

			if !yield(Page{Index: index, URL: pageURL, Body: resp.Body, Doc: doc}, nil) {
				return
			}

			base, _ := url.Parse(pageURL)
			next := FindNextURL(doc, base)
			if next == "" {
				return
			}
			if index+1 == w.maxPages {
				logger.Warn("page ceiling reached", zap.Int("max_pages", w.maxPages), zap.String("next", next))
				yield(Page{Index: index + 1, URL: next}, fmt.Errorf("walk %s: %w", start.URL, ErrPageCeiling))
				return
			}
			req = records.FetchRequest{URL: next}
		}
	}
}

func visitKey(req records.FetchRequest) string {
	if req.Form == nil {
		return req.URL
	}
	return req.URL + "?" + req.Form.Encode()
}

// visitTracker remembers URLs already fetched within one walk.
type visitTracker struct {
	seen map[string]struct{}
}

func newVisitTracker() *visitTracker {
	return &visitTracker{seen: make(map[string]struct{})}
}

// MarkIfNew stores the URL if it has not been seen before and returns true.
func (t *visitTracker) MarkIfNew(key string) bool {
	if key == "" {
		return false
	}
	if _, ok := t.seen[key]; ok {
		return false
	}
	t.seen[key] = struct{}{}
	return true
}
