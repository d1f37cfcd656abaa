package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/docket-scraper/internal/clock/fake"
	"github.com/JakeFAU/docket-scraper/internal/records"
)

func newStore() (*Store, *fake.Clock) {
	clock := fake.NewClock(time.Date(2024, 3, 2, 8, 0, 0, 0, time.UTC))
	return NewStore(clock), clock
}

func TestUpsertInmatePreservesPriorValues(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, clock := newStore()
	require.NoError(t, s.UpsertInmate(ctx, records.Inmate{
		LENumber: "LE123", Name: "Doe, John", Age: 34, BondAmount: "$5,000.00", InJail: records.Bool(true),
		Charges: []records.Charge{{Description: "THEFT BY TAKING", Type: records.ChargeMisdemeanor}},
	}))
	created := clock.Now()
	clock.Advance(time.Hour)

	require.NoError(t, s.UpsertInmate(ctx, records.Inmate{LENumber: "LE123", Name: "Doe, John", Race: "White"}))

	got, err := s.GetInmate(ctx, "LE123")
	require.NoError(t, err)
	require.Equal(t, 34, got.Age)
	require.Equal(t, "$5,000.00", got.BondAmount)
	require.Equal(t, "White", got.Race)
	require.True(t, *got.InJail)
	require.Len(t, got.Charges, 1, "charges survive an upsert that carries none")
	require.Equal(t, created, got.CreatedAt)
	require.Equal(t, clock.Now(), got.UpdatedAt)
}

func TestUpsertInmateIsIdempotent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, _ := newStore()
	in := records.Inmate{
		LENumber: "LE1", DocketNumber: "D1", Name: "Roe, Jane",
		Charges: []records.Charge{{Description: "DUI", Type: records.ChargeMisdemeanor}},
	}
	require.NoError(t, s.UpsertInmate(ctx, in))
	first := s.Inmates()
	require.NoError(t, s.UpsertInmate(ctx, in))
	require.Equal(t, first, s.Inmates())
}

func TestUpsertInmateReplacesCharges(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, _ := newStore()
	require.NoError(t, s.UpsertInmate(ctx, records.Inmate{LENumber: "LE1", Name: "A",
		Charges: []records.Charge{{Description: "DUI"}, {Description: "SPEEDING"}}}))
	require.NoError(t, s.UpsertInmate(ctx, records.Inmate{LENumber: "LE1", Name: "A",
		Charges: []records.Charge{{Description: "BURGLARY"}}}))

	got, err := s.GetInmate(ctx, "LE1")
	require.NoError(t, err)
	require.Equal(t, []records.Charge{{Description: "BURGLARY"}}, got.Charges)
}

func TestUpsertInmatePromotesDocketKey(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, _ := newStore()
	require.NoError(t, s.UpsertInmate(ctx, records.Inmate{DocketNumber: "D987", Name: "Doe, John", BondAmount: "$100.00"}))
	require.NoError(t, s.UpsertCase(ctx, records.CourtCase{CaseNumber: "C1"}))
	require.NoError(t, s.LinkCase(ctx, records.CaseLink{CaseNumber: "C1", InmateKey: "D987", Confidence: 0.6}))

	require.NoError(t, s.UpsertInmate(ctx, records.Inmate{LENumber: "LE123", DocketNumber: "D987", Name: "Doe, John"}))

	all := s.Inmates()
	require.Len(t, all, 1)
	require.Equal(t, "LE123", all[0].Key)
	require.Equal(t, "$100.00", all[0].BondAmount)
	require.Equal(t, []records.CaseLink{{CaseNumber: "C1", InmateKey: "LE123", Confidence: 0.6}}, s.Links())

	byDocket, err := s.GetInmate(ctx, "D987")
	require.NoError(t, err)
	require.Equal(t, "LE123", byDocket.Key)
}

func TestUpsertInmateAbsorbsStaleDocketRow(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, _ := newStore()
	require.NoError(t, s.UpsertInmate(ctx, records.Inmate{
		LENumber: "LE123", Name: "Doe, John", InJail: records.Bool(true),
		Charges: []records.Charge{{Description: "DUI", Type: records.ChargeMisdemeanor}},
	}))
	require.NoError(t, s.UpsertInmate(ctx, records.Inmate{
		DocketNumber: "D987", Name: "Doe, John", BondAmount: "$100.00", ArrestingAgency: "SHERIFF",
		Charges: []records.Charge{
			{Description: "DUI - DRIVING UNDER INFLUENCE", Type: records.ChargeMisdemeanor},
			{Description: "SPEEDING", Type: records.ChargeMisdemeanor},
		},
	}))
	require.NoError(t, s.UpsertCase(ctx, records.CourtCase{CaseNumber: "C1"}))
	require.NoError(t, s.LinkCase(ctx, records.CaseLink{CaseNumber: "C1", InmateKey: "D987", Confidence: 0.6}))
	require.NoError(t, s.LinkCase(ctx, records.CaseLink{CaseNumber: "C1", InmateKey: "LE123", Confidence: 1}))
	require.Len(t, s.Inmates(), 2)

	require.NoError(t, s.UpsertInmate(ctx, records.Inmate{LENumber: "LE123", DocketNumber: "D987", Name: "Doe, John"}))

	all := s.Inmates()
	require.Len(t, all, 1, "docket row is folded into the LE row")
	got := all[0]
	require.Equal(t, "LE123", got.Key)
	require.Equal(t, "D987", got.DocketNumber)
	require.Equal(t, "$100.00", got.BondAmount)
	require.Equal(t, "SHERIFF", got.ArrestingAgency)
	require.True(t, *got.InJail)
	require.Len(t, got.Charges, 2)
	require.Equal(t, "DUI", got.Charges[0].Description)
	require.Equal(t, []records.CaseLink{{CaseNumber: "C1", InmateKey: "LE123", Confidence: 1}}, s.Links())

	byDocket, err := s.GetInmate(ctx, "D987")
	require.NoError(t, err)
	require.Equal(t, "LE123", byDocket.Key)
}

func TestUpsertInmateRejectsMissingName(t *testing.T) {
	t.Parallel()

	s, _ := newStore()
	err := s.UpsertInmate(context.Background(), records.Inmate{LENumber: "LE1"})
	require.ErrorIs(t, err, records.ErrRejected)
}

func TestMarkReleased(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, _ := newStore()
	require.NoError(t, s.UpsertInmate(ctx, records.Inmate{LENumber: "LE1", Name: "A", InJail: records.Bool(true)}))
	require.NoError(t, s.UpsertInmate(ctx, records.Inmate{LENumber: "LE2", DocketNumber: "D2", Name: "B", InJail: records.Bool(true)}))
	require.NoError(t, s.UpsertInmate(ctx, records.Inmate{LENumber: "LE3", Name: "C", InJail: records.Bool(true)}))
	require.NoError(t, s.UpsertInmate(ctx, records.Inmate{LENumber: "LE4", Name: "D"}))

	n, err := s.MarkReleased(ctx, []string{"LE1", "D2"})
	require.NoError(t, err)
	require.Equal(t, 1, n)

	released, err := s.GetInmate(ctx, "LE3")
	require.NoError(t, err)
	require.False(t, *released.InJail)
	kept, err := s.GetInmate(ctx, "LE2")
	require.NoError(t, err)
	require.True(t, *kept.InJail)
	unknown, err := s.GetInmate(ctx, "LE4")
	require.NoError(t, err)
	require.Nil(t, unknown.InJail)
}

func TestCasesAndLinks(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, _ := newStore()
	require.NoError(t, s.UpsertInmate(ctx, records.Inmate{LENumber: "LE1", Name: "Doe, John"}))
	require.NoError(t, s.UpsertCase(ctx, records.CourtCase{CaseNumber: "C1", Judge: "X", Active: records.Bool(true)}))
	require.NoError(t, s.UpsertCase(ctx, records.CourtCase{CaseNumber: "C1", Active: records.Bool(false)}))

	c, ok := s.Case("C1")
	require.True(t, ok)
	require.Equal(t, "X", c.Judge)
	require.False(t, *c.Active)

	require.NoError(t, s.LinkCase(ctx, records.CaseLink{CaseNumber: "C1", InmateKey: "LE1", Confidence: 1}))
	require.NoError(t, s.LinkCase(ctx, records.CaseLink{CaseNumber: "C1", InmateKey: "LE1", Confidence: 0.6}))
	require.Equal(t, []records.CaseLink{{CaseNumber: "C1", InmateKey: "LE1", Confidence: 1}}, s.Links())
	require.ErrorIs(t, s.LinkCase(ctx, records.CaseLink{CaseNumber: "C2", InmateKey: "LE1"}), records.ErrNotFound)

	found, err := s.FindInmatesByLastName(ctx, "doe")
	require.NoError(t, err)
	require.Len(t, found, 1)
}

func TestRunLogQueries(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, _ := newStore()
	t0 := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	runs := []records.ScrapeRun{
		{ID: "r1", RunTime: t0, Source: "active", Status: records.RunSuccess, Count: 10},
		{ID: "r1", RunTime: t0, Source: records.SummarySource, Status: records.RunSuccess, Count: 10},
		{ID: "r2", RunTime: t0.Add(time.Hour), Source: records.SummarySource, Status: records.RunError},
		{ID: "r3", RunTime: t0.Add(2 * time.Hour), Source: "active", Status: records.RunSuccess, Count: 99},
	}
	for _, r := range runs {
		require.NoError(t, s.AppendRun(ctx, r))
	}

	latest, err := s.LatestRun(ctx, records.RunSuccess)
	require.NoError(t, err)
	require.Equal(t, "r1", latest.ID)
	require.Equal(t, 10, latest.Count)

	list, err := s.ListRuns(ctx, 2)
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, "r3", list[0].ID)
	require.Equal(t, "r2", list[1].ID)

	empty, _ := newStore()
	_, err = empty.LatestRun(ctx, records.RunSuccess)
	require.ErrorIs(t, err, records.ErrNotFound)
}

func TestDetailState(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, _ := newStore()
	_, err := s.DetailState(ctx, "LE1")
	require.ErrorIs(t, err, records.ErrNotFound)

	st := records.DetailFetchState{InmateKey: "LE1", Attempts: 1}
	require.NoError(t, s.SaveDetailState(ctx, st))
	got, err := s.DetailState(ctx, "LE1")
	require.NoError(t, err)
	require.Equal(t, st, got)
}
