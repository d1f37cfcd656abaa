package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/docket-scraper/internal/extract"
	"github.com/JakeFAU/docket-scraper/internal/merge"
	"github.com/JakeFAU/docket-scraper/internal/normalize"
	"github.com/JakeFAU/docket-scraper/internal/policy/ratelimit"
	"github.com/JakeFAU/docket-scraper/internal/records"
	"github.com/JakeFAU/docket-scraper/internal/walker"
)

// Detail fetch defaults.
const (
	DefaultDetailCooldown     = 6 * time.Hour
	DefaultDetailMaxAttempts  = 3
	DefaultDetailRefreshAfter = 24 * time.Hour
)

// DetailConfig controls deep-detail fetches.
type DetailConfig struct {
	// URLTemplate is expanded with {key}, {le} and {docket}.
	URLTemplate string
	// Cooldown is the minimum wait after a failed attempt.
	Cooldown time.Duration
	// MaxAttempts caps consecutive failed attempts per person.
	MaxAttempts int
	// RefreshAfter is the age at which a fetched detail page is fetched
	// again, so bond and release changes reach the store.
	RefreshAfter time.Duration
}

// DetailDeps are the collaborators of a DetailService.
type DetailDeps struct {
	Fetcher    records.PageFetcher
	Extractor  *extract.Extractor
	Normalizer *normalize.Normalizer
	Store      records.Store
	Pacer      walker.Pacer
	IDs        records.IDGenerator
	Clock      records.Clock
	Logger     *zap.Logger
}

// DetailResult is the structured outcome of a detail fetch.
type DetailResult struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Inmate  *records.Inmate `json:"inmate,omitempty"`
}

// DetailService fetches a person's detail page and folds it into the stored
// record.
type DetailService struct {
	cfg  DetailConfig
	deps DetailDeps
}

// NewDetailService applies defaults to cfg.
func NewDetailService(cfg DetailConfig, deps DetailDeps) *DetailService {
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultDetailCooldown
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultDetailMaxAttempts
	}
	if cfg.RefreshAfter <= 0 {
		cfg.RefreshAfter = DefaultDetailRefreshAfter
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &DetailService{cfg: cfg, deps: deps}
}

func failed(format string, args ...any) DetailResult {
	return DetailResult{Message: fmt.Sprintf(format, args...)}
}

// Fetch never returns an error: every failure is a DetailResult with
// Success false and a readable message.
func (d *DetailService) Fetch(ctx context.Context, key string) (result DetailResult) {
	key = strings.TrimSpace(key)
	runID, err := d.deps.IDs.NewID()
	if err != nil {
		return failed("could not start detail fetch: %v", err)
	}
	rc := records.NewRunContext(runID, d.deps.Clock.Now(), d.deps.Logger).ForSource("detail")
	logger := rc.Log().Named("detail")
	defer func() {
		if r := recover(); r != nil {
			logger.Error("detail fetch panicked", zap.Any("panic", r), zap.String("key", key))
			result = failed("internal error fetching detail for %s", key)
		}
	}()

	if key == "" {
		return failed("inmate key is required")
	}
	if d.cfg.URLTemplate == "" {
		return failed("detail fetching is not configured")
	}
	stored, err := d.deps.Store.GetInmate(ctx, key)
	if errors.Is(err, records.ErrNotFound) {
		return failed("no inmate with key %s", key)
	}
	if err != nil {
		logger.Error("detail lookup failed", zap.String("key", key), zap.Error(err))
		return failed("could not look up %s", key)
	}

	state, err := d.deps.Store.DetailState(ctx, stored.Key)
	switch {
	case errors.Is(err, records.ErrNotFound):
		state = records.DetailFetchState{InmateKey: stored.Key}
	case err != nil:
		logger.Error("detail state lookup failed", zap.String("key", stored.Key), zap.Error(err))
		return failed("could not read detail cache for %s", stored.Key)
	}
	now := d.deps.Clock.Now()
	if state.Fetched && state.Attempts == 0 && now.Sub(state.LastAttempt) < d.cfg.RefreshAfter {
		return DetailResult{Success: true, Message: "detail already fetched", Inmate: &stored}
	}
	if state.Attempts >= d.cfg.MaxAttempts {
		return failed("detail fetch for %s gave up after %d attempts: %s", stored.Key, state.Attempts, state.LastError)
	}
	if state.Attempts > 0 {
		if wait := state.LastAttempt.Add(d.cfg.Cooldown).Sub(now); wait > 0 {
			return failed("detail fetch for %s failed recently; retry in %s", stored.Key, wait.Round(time.Minute))
		}
	}

	merged, err := d.fetchAndMerge(ctx, rc, stored)
	state.Attempts++
	state.LastAttempt = d.deps.Clock.Now()
	if err != nil {
		state.LastError = err.Error()
		d.saveState(ctx, rc, state)
		logger.Warn("detail fetch failed", zap.String("key", stored.Key), zap.Int("attempts", state.Attempts), zap.Error(err))
		return failed("detail fetch for %s failed: %v", stored.Key, err)
	}
	state.InmateKey = merged.Key
	state.Fetched = true
	state.Attempts = 0
	state.LastError = ""
	d.saveState(ctx, rc, state)
	logger.Info("detail fetched", zap.String("key", merged.Key), zap.Int("charges", len(merged.Charges)))
	return DetailResult{Success: true, Message: "detail fetched", Inmate: &merged}
}

// DetailURL expands the template for in.
func (d *DetailService) DetailURL(in records.Inmate) string {
	return strings.NewReplacer(
		"{key}", url.PathEscape(in.Key),
		"{le}", url.QueryEscape(in.LENumber),
		"{docket}", url.QueryEscape(in.DocketNumber),
	).Replace(d.cfg.URLTemplate)
}

func (d *DetailService) fetchAndMerge(ctx context.Context, rc *records.RunContext, stored records.Inmate) (records.Inmate, error) {
	if d.deps.Pacer != nil {
		if err := d.deps.Pacer.Wait(ctx, rc, ratelimit.LaneDetail); err != nil {
			return records.Inmate{}, err
		}
	}
	target := d.DetailURL(stored)
	resp, err := d.deps.Fetcher.FetchPage(ctx, rc, records.FetchRequest{URL: target})
	if err != nil {
		return records.Inmate{}, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		return records.Inmate{}, fmt.Errorf("parse %s: %w", target, err)
	}
	res, err := d.deps.Extractor.Detail().Extract(doc, target)
	if err != nil {
		return records.Inmate{}, err
	}
	if len(res.Records) == 0 {
		return records.Inmate{}, fmt.Errorf("detail page %s: %w", target, records.ErrMalformedPage)
	}
	raw := res.Records[0]
	if raw.Get(records.FieldLENumber) == "" && raw.Get(records.FieldDocketNumber) == "" {
		raw.Set(records.FieldLENumber, stored.LENumber)
		raw.Set(records.FieldDocketNumber, stored.DocketNumber)
	}
	if raw.Get(records.FieldName) == "" {
		raw.Set(records.FieldName, stored.Name)
	}
	in, err := d.deps.Normalizer.Inmate(raw)
	switch {
	case errors.Is(err, normalize.ErrNameMissing):
		in.Name = stored.Name
	case err != nil:
		return records.Inmate{}, err
	}
	if !samePerson(stored, in) {
		return records.Inmate{}, fmt.Errorf("detail page %s describes %s, not %s", target, in.Key, stored.Key)
	}

	charges := stored.Charges
	for _, c := range in.Charges {
		charges = merge.AppendCharge(charges, c)
	}
	in.Charges = charges
	if in.LENumber == "" {
		in.LENumber = stored.LENumber
	}
	if in.DocketNumber == "" {
		in.DocketNumber = stored.DocketNumber
	}
	in.Key = records.NaturalKey(in.LENumber, in.DocketNumber)
	if err := d.deps.Store.UpsertInmate(ctx, in); err != nil {
		return records.Inmate{}, fmt.Errorf("store detail: %w", err)
	}
	out, err := d.deps.Store.GetInmate(ctx, in.Key)
	if err != nil {
		return records.Inmate{}, fmt.Errorf("reload %s: %w", in.Key, err)
	}
	return out, nil
}

func samePerson(stored, detail records.Inmate) bool {
	switch {
	case detail.LENumber != "" && stored.LENumber != "":
		return detail.LENumber == stored.LENumber
	case detail.DocketNumber != "" && stored.DocketNumber != "":
		return detail.DocketNumber == stored.DocketNumber
	}
	return detail.Key == stored.Key || detail.LENumber == stored.Key || detail.DocketNumber == stored.Key
}

func (d *DetailService) saveState(ctx context.Context, rc *records.RunContext, state records.DetailFetchState) {
	if err := d.deps.Store.SaveDetailState(context.WithoutCancel(ctx), state); err != nil {
		rc.Log().Error("detail state save failed", zap.String("key", state.InmateKey), zap.Error(err))
	}
}
