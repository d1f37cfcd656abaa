package pipeline

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/docket-scraper/internal/clock/fake"
	"github.com/JakeFAU/docket-scraper/internal/extract"
	"github.com/JakeFAU/docket-scraper/internal/normalize"
	"github.com/JakeFAU/docket-scraper/internal/policy/ratelimit"
	"github.com/JakeFAU/docket-scraper/internal/records"
	memstore "github.com/JakeFAU/docket-scraper/internal/storage/memory"
)

const detailURL = "http://jail.test/detail?le=LE123"

const detailPage = `<html><body>
<table>
  <tr><td>Name:</td><td>DOE, JOHN</td><td>LE Number:</td><td>LE123</td></tr>
  <tr><td>Age:</td><td>34</td><td>Sex:</td><td>M</td></tr>
  <tr><td>Race:</td><td>W</td><td>Height:</td><td>5' 11"</td></tr>
  <tr><td>Bond Amount:</td><td>Cash: $5,000.00</td><td>Fees:</td><td>$150.00</td></tr>
  <tr><td>Arresting Agency:</td><td>COUNTY SHERIFF</td><td>Release Date:</td><td>*IN JAIL*</td></tr>
</table>
<table>
  <tr><th>Docket #</th><th>Charge Description</th></tr>
  <tr><td>D987</td><td>THEFT BY TAKING</td></tr>
  <tr><td>D988</td><td>PROBATION VIOLATION</td></tr>
</table>
</body></html>`

type detailHarness struct {
	clock   *fake.Clock
	sleeper *fake.Sleeper
	fetcher *stubFetcher
	store   *memstore.Store
	svc     *DetailService
}

func newDetailHarness(t *testing.T, cfg DetailConfig) *detailHarness {
	t.Helper()
	clock := fake.NewClock(time.Date(2024, 3, 2, 12, 0, 0, 0, time.UTC))
	sleeper := fake.NewSleeper(clock)
	h := &detailHarness{
		clock:   clock,
		sleeper: sleeper,
		fetcher: &stubFetcher{pages: map[string]string{detailURL: detailPage}},
		store:   memstore.NewStore(clock),
	}
	h.svc = NewDetailService(cfg, DetailDeps{
		Fetcher:    h.fetcher,
		Extractor:  extract.New(extract.Config{}),
		Normalizer: normalize.New(normalize.Config{}, clock),
		Store:      h.store,
		Pacer:      ratelimit.New(ratelimit.Config{DetailInterval: 5 * time.Second}, clock, sleeper),
		IDs:        &seqIDs{},
		Clock:      clock,
	})
	require.NoError(t, h.store.UpsertInmate(context.Background(), records.Inmate{
		LENumber: "LE123", DocketNumber: "D987", Name: "Doe, John", InJail: records.Bool(true),
		Charges: []records.Charge{{Description: "THEFT BY TAKING", Type: records.ChargeMisdemeanor, DocketNumber: "D987"}},
	}))
	return h
}

func TestDetailFetchMergesIntoStoredRecord(t *testing.T) {
	t.Parallel()

	h := newDetailHarness(t, DetailConfig{URLTemplate: "http://jail.test/detail?le={le}"})
	res := h.svc.Fetch(context.Background(), "D987")
	require.True(t, res.Success, res.Message)
	require.NotNil(t, res.Inmate)
	require.Equal(t, "LE123", res.Inmate.Key)
	require.Equal(t, 34, res.Inmate.Age)
	require.Equal(t, "Male", res.Inmate.Sex)
	require.Equal(t, "Cash: $5,000.00 + Fees: $150.00", res.Inmate.BondAmount)
	require.Len(t, res.Inmate.Charges, 2)
	require.Equal(t, "PROBATION VIOLATION", res.Inmate.Charges[1].Description)

	state, err := h.store.DetailState(context.Background(), "LE123")
	require.NoError(t, err)
	require.True(t, state.Fetched)
	require.Zero(t, state.Attempts)

	again := h.svc.Fetch(context.Background(), "LE123")
	require.True(t, again.Success)
	require.Equal(t, "detail already fetched", again.Message)
	require.Len(t, h.fetcher.calls, 1)
}

func TestDetailFetchRefreshesStalePage(t *testing.T) {
	t.Parallel()

	h := newDetailHarness(t, DetailConfig{
		URLTemplate:  "http://jail.test/detail?le={le}",
		RefreshAfter: 12 * time.Hour,
	})
	ctx := context.Background()
	require.True(t, h.svc.Fetch(ctx, "LE123").Success)

	h.clock.Advance(11 * time.Hour)
	cached := h.svc.Fetch(ctx, "LE123")
	require.Equal(t, "detail already fetched", cached.Message)
	require.Len(t, h.fetcher.calls, 1)

	h.fetcher.mu.Lock()
	h.fetcher.pages[detailURL] = strings.Replace(detailPage, "Cash: $5,000.00", "Cash: $2,500.00", 1)
	h.fetcher.mu.Unlock()
	h.clock.Advance(2 * time.Hour)

	res := h.svc.Fetch(ctx, "LE123")
	require.True(t, res.Success, res.Message)
	require.Equal(t, "detail fetched", res.Message)
	require.Len(t, h.fetcher.calls, 2)
	require.Equal(t, "Cash: $2,500.00 + Fees: $150.00", res.Inmate.BondAmount)

	state, err := h.store.DetailState(ctx, "LE123")
	require.NoError(t, err)
	require.Zero(t, state.Attempts)
	require.Equal(t, h.clock.Now(), state.LastAttempt)
}

func TestDetailFetchKeepsStoredNameWhenPageHasPlaceholder(t *testing.T) {
	t.Parallel()

	h := newDetailHarness(t, DetailConfig{URLTemplate: "http://jail.test/detail?le={le}"})
	h.fetcher.pages[detailURL] = strings.Replace(detailPage, "DOE, JOHN", "N/A", 1)

	res := h.svc.Fetch(context.Background(), "LE123")
	require.True(t, res.Success, res.Message)
	require.Equal(t, "Doe, John", res.Inmate.Name)
	require.Equal(t, 34, res.Inmate.Age)
}

func TestDetailFetchCooldownAndAttemptCap(t *testing.T) {
	t.Parallel()

	h := newDetailHarness(t, DetailConfig{
		URLTemplate: "http://jail.test/detail?le={le}",
		Cooldown:    time.Hour,
		MaxAttempts: 2,
	})
	h.fetcher.fail = map[string]error{detailURL: fmt.Errorf("fetch: %w", records.ErrSourceUnavailable)}
	ctx := context.Background()

	res := h.svc.Fetch(ctx, "LE123")
	require.False(t, res.Success)
	require.Contains(t, res.Message, "source unavailable")

	res = h.svc.Fetch(ctx, "LE123")
	require.False(t, res.Success)
	require.Contains(t, res.Message, "failed recently")
	require.Len(t, h.fetcher.calls, 1)

	h.clock.Advance(time.Hour)
	res = h.svc.Fetch(ctx, "LE123")
	require.False(t, res.Success)
	require.Len(t, h.fetcher.calls, 2)

	h.clock.Advance(24 * time.Hour)
	res = h.svc.Fetch(ctx, "LE123")
	require.False(t, res.Success)
	require.Contains(t, res.Message, "gave up after 2 attempts")
	require.Len(t, h.fetcher.calls, 2)

	state, err := h.store.DetailState(ctx, "LE123")
	require.NoError(t, err)
	require.False(t, state.Fetched)
	require.Equal(t, 2, state.Attempts)
	require.Contains(t, state.LastError, "source unavailable")
}

func TestDetailFetchStructuredFailures(t *testing.T) {
	t.Parallel()

	h := newDetailHarness(t, DetailConfig{URLTemplate: "http://jail.test/detail?le={le}"})
	ctx := context.Background()

	res := h.svc.Fetch(ctx, "")
	require.Equal(t, DetailResult{Message: "inmate key is required"}, res)

	res = h.svc.Fetch(ctx, "LE404")
	require.False(t, res.Success)
	require.Contains(t, res.Message, "no inmate with key LE404")

	h.fetcher.pages[detailURL] = `<html><body><p>nothing here</p></body></html>`
	res = h.svc.Fetch(ctx, "LE123")
	require.False(t, res.Success)
	require.Nil(t, res.Inmate)

	unconfigured := newDetailHarness(t, DetailConfig{})
	res = unconfigured.svc.Fetch(ctx, "LE123")
	require.Equal(t, "detail fetching is not configured", res.Message)
}

func TestDetailFetchRejectsOtherPerson(t *testing.T) {
	t.Parallel()

	h := newDetailHarness(t, DetailConfig{URLTemplate: "http://jail.test/detail?le={le}"})
	require.NoError(t, h.store.UpsertInmate(context.Background(), records.Inmate{LENumber: "LE777", Name: "Roe, Jane"}))
	h.fetcher.pages["http://jail.test/detail?le=LE777"] = detailPage

	res := h.svc.Fetch(context.Background(), "LE777")
	require.False(t, res.Success)
	require.Contains(t, res.Message, "describes LE123")

	jane, err := h.store.GetInmate(context.Background(), "LE777")
	require.NoError(t, err)
	require.Zero(t, jane.Age)
}

func TestDetailURL(t *testing.T) {
	t.Parallel()

	svc := NewDetailService(DetailConfig{URLTemplate: "http://jail.test/p/{key}?le={le}&d={docket}"}, DetailDeps{})
	got := svc.DetailURL(records.Inmate{Key: "LE 1", LENumber: "LE 1", DocketNumber: "D&2"})
	require.Equal(t, "http://jail.test/p/LE%201?le=LE+1&d=D%262", got)
}
