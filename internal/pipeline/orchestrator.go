// Package pipeline runs scrape passes: it walks each configured source,
// extracts and validates rows, merges them across sources, persists the
// merged set and writes the run log.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/docket-scraper/internal/archive"
	"github.com/JakeFAU/docket-scraper/internal/extract"
	"github.com/JakeFAU/docket-scraper/internal/merge"
	"github.com/JakeFAU/docket-scraper/internal/metrics"
	"github.com/JakeFAU/docket-scraper/internal/normalize"
	"github.com/JakeFAU/docket-scraper/internal/policy/ratelimit"
	"github.com/JakeFAU/docket-scraper/internal/records"
	"github.com/JakeFAU/docket-scraper/internal/walker"
)

var tracer = otel.Tracer("github.com/JakeFAU/docket-scraper/internal/pipeline")

// State is the orchestrator's position in a run.
type State string

// Run states, in order.
const (
	StateIdle       State = "idle"
	StateFetching   State = "fetching_source"
	StateMerging    State = "merging"
	StatePersisting State = "persisting"
	StateLogged     State = "logged"
)

// SearchConfig describes the POST name search form.
type SearchConfig struct {
	URL       string
	NameField string
	// Extra carries hidden form fields the search page expects.
	Extra map[string]string
}

// Config holds the sources and notification settings for runs.
type Config struct {
	Sources []records.Source
	Search  SearchConfig
	// Topic receives a run-completed notification when non-empty.
	Topic string
}

// Deps are the collaborators an Orchestrator drives.
type Deps struct {
	Walker     *walker.Walker
	Extractor  *extract.Extractor
	Normalizer *normalize.Normalizer
	Store      records.Store
	Pacer      walker.Pacer
	Archiver   *archive.Archiver
	Publisher  records.Publisher
	IDs        records.IDGenerator
	Clock      records.Clock
	Logger     *zap.Logger
}

// RunOptions narrows a run. With both fields empty every configured source
// is scraped.
type RunOptions struct {
	// Sources selects configured sources by name.
	Sources []string
	// Names runs a court name search per entry.
	Names []string
	// RunID, when set, is used instead of a generated ID.
	RunID string
}

// SourceResult is the outcome of one source within a run.
type SourceResult struct {
	Source    string             `json:"source"`
	Kind      records.SourceKind `json:"kind"`
	Status    records.RunStatus  `json:"status"`
	Pages     int                `json:"pages"`
	Count     int                `json:"count"`
	Rejected  int                `json:"rejected"`
	Discarded int                `json:"discarded"`
	// Complete is true when the walk ran out of pages on its own.
	Complete bool   `json:"complete"`
	Message  string `json:"message,omitempty"`
	err      error
}

// Summary is the outcome of a run, also published as the run-completed
// notification.
type Summary struct {
	RunID          string            `json:"run_id"`
	Status         records.RunStatus `json:"status"`
	Started        time.Time         `json:"started"`
	Duration       time.Duration     `json:"duration_ns"`
	Count          int               `json:"count"`
	Inmates        int               `json:"inmates"`
	Cases          int               `json:"cases"`
	Links          int               `json:"links"`
	Released       int               `json:"released"`
	UpsertFailures int               `json:"upsert_failures"`
	Sources        []SourceResult    `json:"sources"`
	Message        string            `json:"message"`
}

// Orchestrator sequences sources through walk, extract, normalize, merge and
// persist. At most one run is active at a time.
type Orchestrator struct {
	cfg  Config
	deps Deps

	running sync.Mutex
	stateMu sync.RWMutex
	state   State
}

// New constructs an Orchestrator.
func New(cfg Config, deps Deps) *Orchestrator {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Orchestrator{
		cfg:   cfg,
		deps:  deps,
		state: StateIdle,
	}
}

// State reports the current run state.
func (o *Orchestrator) State() State {
	o.stateMu.RLock()
	defer o.stateMu.RUnlock()
	return o.state
}

func (o *Orchestrator) transition(rc *records.RunContext, to State, fields ...zap.Field) {
	o.stateMu.Lock()
	from := o.state
	o.state = to
	o.stateMu.Unlock()
	rc.Log().Named("pipeline").Info("run state", append([]zap.Field{
		zap.String("from", string(from)),
		zap.String("to", string(to)),
	}, fields...)...)
}

// Sources returns the configured sources selected by names, in configured
// order. Unknown names are an error.
func (o *Orchestrator) Sources(names []string) ([]records.Source, error) {
	if len(names) == 0 {
		return slices.Clone(o.cfg.Sources), nil
	}
	var out []records.Source
	for _, name := range names {
		idx := slices.IndexFunc(o.cfg.Sources, func(s records.Source) bool { return s.Name == name })
		if idx < 0 {
			return nil, fmt.Errorf("unknown source %q", name)
		}
		out = append(out, o.cfg.Sources[idx])
	}
	return out, nil
}

// SearchName runs a court name search as its own run.
func (o *Orchestrator) SearchName(ctx context.Context, name string) (Summary, error) {
	return o.Run(ctx, RunOptions{Names: []string{name}})
}

type job struct {
	source records.Source
	start  records.FetchRequest
	name   string
}

func (o *Orchestrator) plan(opts RunOptions) ([]job, error) {
	var jobs []job
	if len(opts.Sources) > 0 || len(opts.Names) == 0 {
		sources, err := o.Sources(opts.Sources)
		if err != nil {
			return nil, err
		}
		for _, src := range sources {
			if src.Kind == records.SourceSearch {
				continue
			}
			jobs = append(jobs, job{source: src, start: records.FetchRequest{URL: src.URL}})
		}
	}
	for _, name := range opts.Names {
		if o.cfg.Search.URL == "" {
			return nil, errors.New("name search requested but no search url is configured")
		}
		name = normalize.Name(name)
		if name == "" {
			return nil, errors.New("search name is empty")
		}
		form := url.Values{}
		for k, v := range o.cfg.Search.Extra {
			form.Set(k, v)
		}
		field := o.cfg.Search.NameField
		if field == "" {
			field = "name"
		}
		form.Set(field, name)
		jobs = append(jobs, job{
			source: records.Source{Name: "search", Kind: records.SourceSearch, URL: o.cfg.Search.URL},
			start:  records.FetchRequest{URL: o.cfg.Search.URL, Form: form},
			name:   name,
		})
	}
	if len(jobs) == 0 {
		return nil, errors.New("no sources selected")
	}
	return jobs, nil
}

// Run performs one pass. It returns records.ErrRunInProgress when another
// run holds the orchestrator. Source failures are reported in the Summary,
// not as an error.
func (o *Orchestrator) Run(ctx context.Context, opts RunOptions) (Summary, error) {
	if !o.running.TryLock() {
		return Summary{}, records.ErrRunInProgress
	}
	defer o.running.Unlock()

	jobs, err := o.plan(opts)
	if err != nil {
		return Summary{}, err
	}
	runID := opts.RunID
	if runID == "" {
		if runID, err = o.deps.IDs.NewID(); err != nil {
			return Summary{}, fmt.Errorf("start run: %w", err)
		}
	}
	started := o.deps.Clock.Now()
	rc := records.NewRunContext(runID, started, o.deps.Logger)
	defer o.transition(rc, StateIdle)

	ctx, span := tracer.Start(ctx, "scrape.run", trace.WithAttributes(
		attribute.String("run_id", runID),
		attribute.Int("sources", len(jobs)),
	))
	defer span.End()

	set := merge.NewSet()
	p := &pass{set: set, seenActive: make(map[string]bool)}
	var results []SourceResult
	for i, j := range jobs {
		if ctx.Err() != nil {
			results = append(results, SourceResult{
				Source: j.source.Name, Kind: j.source.Kind, Status: records.RunError,
				Message: "run canceled before source started", err: ctx.Err(),
			})
			continue
		}
		if i > 0 && o.deps.Pacer != nil {
			if err := o.deps.Pacer.Wait(ctx, rc, ratelimit.LaneSource); err != nil {
				results = append(results, SourceResult{
					Source: j.source.Name, Kind: j.source.Kind, Status: records.RunError,
					Message: err.Error(), err: err,
				})
				continue
			}
		}
		o.transition(rc, StateFetching, zap.Int("source_index", i), zap.String("source", j.source.Name))
		results = append(results, o.scrapeSource(ctx, rc.ForSource(j.source.Name), j, p))
	}

	o.transition(rc, StateMerging, zap.Int("inmates", len(set.Inmates())), zap.Int("cases", len(set.Cases())))
	// Writes below must land even when the caller's context has ended.
	wctx := context.WithoutCancel(ctx)
	o.linkCandidates(wctx, rc, p)

	o.transition(rc, StatePersisting)
	summary := o.persist(wctx, rc, set)
	summary.RunID = runID
	summary.Started = started
	summary.Sources = results

	if reconcile(o.cfg.Sources, results) {
		n, err := o.deps.Store.MarkReleased(wctx, sortedKeys(p.seenActive))
		if err != nil {
			rc.Log().Error("release reconciliation failed", zap.Error(err))
		} else {
			summary.Released = n
		}
	}

	o.logRun(wctx, rc, &summary)
	o.transition(rc, StateLogged, zap.String("status", string(summary.Status)), zap.Int("count", summary.Count))
	span.SetAttributes(attribute.String("status", string(summary.Status)), attribute.Int("count", summary.Count))
	if summary.Status == records.RunError {
		span.SetStatus(codes.Error, summary.Message)
	}
	o.notify(wctx, rc, summary)
	return summary, nil
}

// pass is the mutable state of one run.
type pass struct {
	set *merge.Set
	// seenActive holds every key and docket number read from active rosters.
	seenActive map[string]bool
	candidates []linkCandidate
}

func (o *Orchestrator) scrapeSource(ctx context.Context, rc *records.RunContext, j job, p *pass) SourceResult {
	logger := rc.Log().Named("pipeline")
	res := SourceResult{Source: j.source.Name, Kind: j.source.Kind, Status: records.RunSuccess}

	ctx, span := tracer.Start(ctx, "scrape.source", trace.WithAttributes(
		attribute.String("source", j.source.Name),
		attribute.String("kind", string(j.source.Kind)),
	))
	defer func() {
		span.SetAttributes(attribute.Int("pages", res.Pages), attribute.Int("count", res.Count))
		if res.err != nil {
			span.RecordError(res.err)
			span.SetStatus(codes.Error, res.Message)
		}
		span.End()
	}()

	malformed, truncated := false, false
	for page, err := range o.deps.Walker.Walk(ctx, rc, j.start) {
		if errors.Is(err, walker.ErrPageCeiling) {
			truncated = true
			res.Message = fmt.Sprintf("stopped at page ceiling after %d pages", res.Pages)
			break
		}
		if err != nil {
			res.err = err
			break
		}
		var result extract.Result
		if j.source.Kind == records.SourceSearch {
			result, err = o.deps.Extractor.ExtractSearch(page.Doc, page.URL)
		} else {
			result, err = o.deps.Extractor.Extract(page.Doc, page.URL, j.source.Kind)
		}
		if err != nil {
			reason := archive.ReasonPage
			if errors.Is(err, records.ErrMalformedPage) {
				reason = archive.ReasonMalformed
				malformed = true
			}
			uri := o.archive(ctx, rc, j.source.Name, page, reason)
			logger.Warn("page not extracted, halting walk",
				zap.Int("page", page.Index), zap.String("url", page.URL), zap.String("snapshot", uri), zap.Error(err))
			if !malformed {
				res.err = err
			} else {
				res.Message = fmt.Sprintf("halted at malformed page %d (%s)", page.Index+1, page.URL)
			}
			break
		}
		o.archive(ctx, rc, j.source.Name, page, archive.ReasonPage)
		res.Pages++
		res.Discarded += result.Discarded
		metrics.ObserveExtracted(j.source.Name, result.Layout, len(result.Records))
		for _, raw := range result.Records {
			o.accept(ctx, rc, j, raw, p, &res)
		}
	}

	res.Complete = res.err == nil && !malformed && !truncated
	if res.err != nil {
		res.Status = records.RunError
		res.Message = res.err.Error()
		logger.Error("source failed", zap.Int("pages", res.Pages), zap.Int("count", res.Count), zap.Error(res.err))
		return res
	}
	logger.Info("source finished",
		zap.Int("pages", res.Pages),
		zap.Int("count", res.Count),
		zap.Int("rejected", res.Rejected),
		zap.Int("discarded", res.Discarded),
		zap.Bool("complete", res.Complete),
	)
	return res
}

func (o *Orchestrator) archive(ctx context.Context, rc *records.RunContext, source string, page walker.Page, reason archive.Reason) string {
	uri, err := o.deps.Archiver.Save(ctx, rc, archive.Snapshot{
		Source: source, Index: page.Index, URL: page.URL, Body: page.Body, Reason: reason,
	})
	if err != nil {
		rc.Log().Warn("page archive failed", zap.Error(err))
	}
	return uri
}

func (o *Orchestrator) accept(ctx context.Context, rc *records.RunContext, j job, raw records.RawRecord, p *pass, res *SourceResult) {
	if raw.Layout == extract.CourtSearchName {
		c, err := o.deps.Normalizer.Case(raw)
		if err != nil {
			o.reject(rc, j.source.Name, err, res)
			return
		}
		p.set.AddCase(c)
		name := c.DefendantName
		if name == "" {
			name = j.name
		}
		if name != "" {
			p.candidates = append(p.candidates, linkCandidate{caseNumber: c.CaseNumber, name: name})
		}
		res.Count++
		return
	}

	in, err := o.deps.Normalizer.Inmate(raw)
	if errors.Is(err, normalize.ErrNameMissing) {
		err = o.adoptKnownName(ctx, p.set, &in, err)
	}
	if err != nil {
		o.reject(rc, j.source.Name, err, res)
		return
	}
	p.set.AddInmate(in)
	if j.source.Kind == records.SourceActive {
		for _, k := range []string{in.Key, in.LENumber, in.DocketNumber} {
			if k != "" {
				p.seenActive[k] = true
			}
		}
	}
	res.Count++
}

// adoptKnownName lets a sighting without a usable name through when its
// person is already in the merge set or the store; the name comes from there.
// Otherwise nameErr is returned and the sighting is rejected.
func (o *Orchestrator) adoptKnownName(ctx context.Context, set *merge.Set, in *records.Inmate, nameErr error) error {
	if set.Has(*in) {
		return nil
	}
	for _, k := range []string{in.LENumber, in.DocketNumber} {
		if k == "" {
			continue
		}
		stored, err := o.deps.Store.GetInmate(ctx, k)
		if err != nil {
			continue
		}
		if in.LENumber != "" && stored.LENumber != "" && stored.LENumber != in.LENumber {
			continue
		}
		in.Name = stored.Name
		return nil
	}
	return nameErr
}

func (o *Orchestrator) reject(rc *records.RunContext, source string, err error, res *SourceResult) {
	res.Rejected++
	metrics.ObserveRejected(source)
	rc.Log().Debug("row rejected", zap.Error(err))
}

// persist writes the merged set. Failures are per record and never abort the batch.
func (o *Orchestrator) persist(ctx context.Context, rc *records.RunContext, set *merge.Set) Summary {
	logger := rc.Log().Named("pipeline")
	var s Summary
	for _, in := range set.Inmates() {
		if err := o.deps.Store.UpsertInmate(ctx, in); err != nil {
			s.UpsertFailures++
			metrics.ObserveUpsertFailure("inmate")
			logger.Error("inmate upsert failed", zap.String("key", in.Key), zap.Error(err))
			continue
		}
		s.Inmates++
	}
	for _, c := range set.Cases() {
		if err := o.deps.Store.UpsertCase(ctx, c); err != nil {
			s.UpsertFailures++
			metrics.ObserveUpsertFailure("case")
			logger.Error("case upsert failed", zap.String("case", c.CaseNumber), zap.Error(err))
			continue
		}
		s.Cases++
	}
	for _, link := range set.Links() {
		if err := o.deps.Store.LinkCase(ctx, link); err != nil {
			s.UpsertFailures++
			metrics.ObserveUpsertFailure("link")
			logger.Error("case link failed",
				zap.String("case", link.CaseNumber), zap.String("inmate", link.InmateKey), zap.Error(err))
			continue
		}
		s.Links++
	}
	s.Count = s.Inmates + s.Cases
	return s
}

// reconcile reports whether release reconciliation may run: every
// configured active roster was walked to its last page in this run. A roster
// that failed or was not selected leaves the jail population unknown.
func reconcile(configured []records.Source, results []SourceResult) bool {
	complete := make(map[string]bool)
	for _, r := range results {
		if r.Kind != records.SourceActive {
			continue
		}
		if !r.Complete {
			return false
		}
		complete[r.Source] = true
	}
	rosters := 0
	for _, src := range configured {
		if src.Kind != records.SourceActive {
			continue
		}
		if !complete[src.Name] {
			return false
		}
		rosters++
	}
	return rosters > 0
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}

// logRun appends one row per source and the terminal summary row. The run
// is an error only when every source failed.
func (o *Orchestrator) logRun(ctx context.Context, rc *records.RunContext, s *Summary) {
	finished := o.deps.Clock.Now()
	s.Duration = finished.Sub(s.Started)

	failed := 0
	for _, r := range s.Sources {
		if r.Status == records.RunError {
			failed++
		}
		msg := r.Message
		if msg == "" {
			msg = fmt.Sprintf("pages=%d rejected=%d discarded=%d", r.Pages, r.Rejected, r.Discarded)
		}
		o.appendRun(ctx, rc, records.ScrapeRun{
			ID: s.RunID, RunTime: finished, Source: r.Source, Status: r.Status,
			Count: r.Count, Message: msg, Duration: s.Duration,
		})
		metrics.ObserveRun(r.Source, string(r.Status), s.Duration, finished, false)
	}

	s.Status = records.RunSuccess
	if failed == len(s.Sources) {
		s.Status = records.RunError
	}
	s.Message = fmt.Sprintf("sources=%d failed=%d inmates=%d cases=%d links=%d released=%d upsert_failures=%d",
		len(s.Sources), failed, s.Inmates, s.Cases, s.Links, s.Released, s.UpsertFailures)
	o.appendRun(ctx, rc, records.ScrapeRun{
		ID: s.RunID, RunTime: finished, Source: records.SummarySource, Status: s.Status,
		Count: s.Count, Message: s.Message, Duration: s.Duration,
	})
	metrics.ObserveRun(records.SummarySource, string(s.Status), s.Duration, finished, true)
}

func (o *Orchestrator) appendRun(ctx context.Context, rc *records.RunContext, run records.ScrapeRun) {
	if err := o.deps.Store.AppendRun(ctx, run); err != nil {
		rc.Log().Error("run log append failed", zap.String("source", run.Source), zap.Error(err))
	}
}

func (o *Orchestrator) notify(ctx context.Context, rc *records.RunContext, s Summary) {
	if o.deps.Publisher == nil || o.cfg.Topic == "" {
		return
	}
	id, err := o.deps.Publisher.Publish(ctx, o.cfg.Topic, s)
	if err != nil {
		rc.Log().Warn("run notification failed", zap.String("topic", o.cfg.Topic), zap.Error(err))
		return
	}
	rc.Log().Debug("run notification published", zap.String("message_id", id))
}
