package postgres

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/docket-scraper/internal/clock/fake"
	"github.com/JakeFAU/docket-scraper/internal/records"
)

var testNow = time.Date(2024, 3, 2, 8, 0, 0, 0, time.UTC)

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewWithPool(mock, fake.NewClock(testNow), nil), mock
}

// inmateRowArgs lists the values UpsertInmate binds for the inmates row.
func inmateRowArgs(key string, in records.Inmate) []any {
	return []any{
		key, in.LENumber, in.DocketNumber, in.Name, in.Age, in.Sex, in.Race, in.Height, in.Weight,
		in.HairColor, in.EyeColor, in.BookingDate, in.ReleaseDate, in.BondAmount, in.ArrestingAgency,
		in.InJail, testNow,
	}
}

func TestUpsertInmateRekeysAndReplacesCharges(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	booked := time.Date(2024, 3, 1, 14, 30, 0, 0, time.UTC)
	in := records.Inmate{
		LENumber:     "LE123",
		DocketNumber: "D987",
		Name:         "Doe, John",
		Age:          34,
		BookingDate:  &booked,
		BondAmount:   "Cash: $5,000.00",
		InJail:       records.Bool(true),
		Charges: []records.Charge{
			{Description: "THEFT BY TAKING", Type: records.ChargeMisdemeanor, DocketNumber: "D987"},
			{Description: "AGGRAVATED BATTERY", Type: records.ChargeFelony, DocketNumber: "D987"},
		},
	}

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE inmates SET natural_key").
		WithArgs("LE123", "D987").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("INSERT INTO inmates").
		WithArgs(
			"LE123", "LE123", "D987", "Doe, John", 34, "", "", "", "",
			"", "", &booked, (*time.Time)(nil), "Cash: $5,000.00", "",
			records.Bool(true), testNow,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("DELETE FROM charges").
		WithArgs("LE123").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectCopyFrom(pgx.Identifier{"charges"}, chargeColumns).WillReturnResult(2)
	mock.ExpectCommit()

	require.NoError(t, store.UpsertInmate(context.Background(), in))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertInmateAbsorbsStaleDocketRow(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	in := records.Inmate{LENumber: "LE123", DocketNumber: "D987", Name: "Doe, John"}

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE inmates SET natural_key").
		WithArgs("LE123", "D987").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectExec("UPDATE inmates AS le SET").
		WithArgs("LE123", "D987").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE charges AS c SET inmate_key").
		WithArgs("LE123", "D987").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("INSERT INTO case_links").
		WithArgs("LE123", "D987").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("DELETE FROM inmates WHERE natural_key").
		WithArgs("D987").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectExec("INSERT INTO inmates").
		WithArgs(inmateRowArgs("LE123", in)...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	require.NoError(t, store.UpsertInmate(context.Background(), in))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertInmateWithoutDocketRowSkipsAbsorb(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	in := records.Inmate{LENumber: "LE123", DocketNumber: "D987", Name: "Doe, John"}
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE inmates SET natural_key").
		WithArgs("LE123", "D987").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectExec("UPDATE inmates AS le SET").
		WithArgs("LE123", "D987").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectExec("INSERT INTO inmates").
		WithArgs(inmateRowArgs("LE123", in)...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	require.NoError(t, store.UpsertInmate(context.Background(), in))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertInmateWithoutChargesKeepsStoredCharges(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	in := records.Inmate{DocketNumber: "D1", Name: "Roe, Jane"}
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO inmates").
		WithArgs(inmateRowArgs("D1", in)...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	require.NoError(t, store.UpsertInmate(context.Background(), in))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertInmateRollsBackOnFailure(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	in := records.Inmate{DocketNumber: "D1", Name: "Roe, Jane"}
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO inmates").
		WithArgs(inmateRowArgs("D1", in)...).
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := store.UpsertInmate(context.Background(), in)
	require.ErrorContains(t, err, "disk full")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertInmateRequiresKeyAndName(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	err := store.UpsertInmate(context.Background(), records.Inmate{DocketNumber: "D1"})
	require.ErrorIs(t, err, records.ErrRejected)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertCaseReplacesCharges(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	c := records.CourtCase{
		CaseNumber: "23CR001234",
		Offense:    "ARMED ROBBERY",
		Active:     records.Bool(true),
		Charges:    []records.Charge{{Description: "ARMED ROBBERY", Type: records.ChargeFelony}},
	}
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO court_cases").
		WithArgs("23CR001234", "", "ARMED ROBBERY", (*time.Time)(nil), "", "", "", "", "", records.Bool(true), testNow).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("DELETE FROM court_charges").WithArgs("23CR001234").WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"court_charges"}, courtChargeColumns).WillReturnResult(1)
	mock.ExpectCommit()

	require.NoError(t, store.UpsertCase(context.Background(), c))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLinkCaseKeepsHigherConfidence(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec("INSERT INTO case_links").
		WithArgs("23CR001234", "LE123", 0.6).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.LinkCase(context.Background(), records.CaseLink{CaseNumber: "23CR001234", InmateKey: "LE123", Confidence: 0.6}))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkReleasedReturnsAffectedRows(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec("UPDATE inmates SET in_jail = FALSE").
		WithArgs([]string{"LE1", "D2"}, testNow).
		WillReturnResult(pgxmock.NewResult("UPDATE", 3))

	n, err := store.MarkReleased(context.Background(), []string{"LE1", "D2"})
	require.NoError(t, err)
	require.Equal(t, 3, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

var inmateRowColumns = []string{
	"natural_key", "le_number", "docket_number", "name", "age", "sex", "race", "height", "weight",
	"hair_color", "eye_color", "booking_date", "release_date", "bond_amount", "arresting_agency",
	"in_jail", "created_at", "updated_at",
}

func TestGetInmateLoadsCharges(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	booked := time.Date(2024, 3, 1, 14, 30, 0, 0, time.UTC)
	mock.ExpectQuery("(?s)SELECT .* FROM inmates").
		WithArgs("D987").
		WillReturnRows(pgxmock.NewRows(inmateRowColumns).AddRow(
			"LE123", "LE123", "D987", "Doe, John", 34, "Male", "White", "", "",
			"", "", &booked, (*time.Time)(nil), "Cash: $5,000.00", "Sheriff",
			records.Bool(true), testNow, testNow,
		))
	mock.ExpectQuery("SELECT description, type, docket_number FROM charges").
		WithArgs("LE123").
		WillReturnRows(pgxmock.NewRows([]string{"description", "type", "docket_number"}).
			AddRow("THEFT BY TAKING", "Misdemeanor", "D987"))

	in, err := store.GetInmate(context.Background(), "D987")
	require.NoError(t, err)
	require.Equal(t, "LE123", in.Key)
	require.Equal(t, 34, in.Age)
	require.Equal(t, booked, *in.BookingDate)
	require.Nil(t, in.ReleaseDate)
	require.True(t, *in.InJail)
	require.Equal(t, []records.Charge{{Description: "THEFT BY TAKING", Type: records.ChargeMisdemeanor, DocketNumber: "D987"}}, in.Charges)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetInmateNotFound(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery("(?s)SELECT .* FROM inmates").WithArgs("X").WillReturnError(pgx.ErrNoRows)

	_, err := store.GetInmate(context.Background(), "X")
	require.ErrorIs(t, err, records.ErrNotFound)
}

func TestFindInmatesByLastName(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery("split_part").
		WithArgs("Doe").
		WillReturnRows(pgxmock.NewRows(inmateRowColumns).AddRow(
			"LE123", "LE123", "", "Doe, John", 0, "", "", "", "",
			"", "", (*time.Time)(nil), (*time.Time)(nil), "", "",
			(*bool)(nil), testNow, testNow,
		))

	got, err := store.FindInmatesByLastName(context.Background(), " Doe ")
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "Doe, John", got[0].Name)
	require.Nil(t, got[0].InJail)

	none, err := store.FindInmatesByLastName(context.Background(), " ")
	require.NoError(t, err)
	require.Empty(t, none)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunLog(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	run := records.ScrapeRun{
		ID:       "run-1",
		RunTime:  testNow,
		Source:   records.SummarySource,
		Status:   records.RunSuccess,
		Count:    42,
		Message:  "3 sources",
		Duration: 1500 * time.Millisecond,
	}
	mock.ExpectExec(`INSERT INTO scrape_logs \(run_id, `).
		WithArgs("run-1", testNow, "all", "success", 42, "3 sources", int64(1500)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, store.AppendRun(context.Background(), run))

	runColumnsList := []string{"run_id", "run_time", "source", "status", "count", "message", "duration_ms"}
	mock.ExpectQuery("SELECT .* FROM scrape_logs").
		WithArgs("success", "all").
		WillReturnRows(pgxmock.NewRows(runColumnsList).AddRow("run-1", testNow, "all", "success", 42, "3 sources", int64(1500)))
	latest, err := store.LatestRun(context.Background(), records.RunSuccess)
	require.NoError(t, err)
	require.Equal(t, run, latest)

	mock.ExpectQuery("SELECT .* FROM scrape_logs").
		WithArgs("error", "all").
		WillReturnError(pgx.ErrNoRows)
	_, err = store.LatestRun(context.Background(), records.RunError)
	require.ErrorIs(t, err, records.ErrNotFound)

	mock.ExpectQuery("SELECT .* FROM scrape_logs").
		WithArgs(50).
		WillReturnRows(pgxmock.NewRows(runColumnsList).
			AddRow("run-1", testNow, "all", "success", 42, "", int64(0)).
			AddRow("run-1", testNow, "active", "success", 40, "", int64(0)))
	runs, err := store.ListRuns(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDetailState(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	st := records.DetailFetchState{InmateKey: "LE123", Attempts: 2, LastAttempt: testNow, LastError: "timeout"}
	mock.ExpectExec("INSERT INTO detail_fetch_state").
		WithArgs("LE123", false, 2, testNow, "timeout").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, store.SaveDetailState(context.Background(), st))

	mock.ExpectQuery("FROM detail_fetch_state").
		WithArgs("LE123").
		WillReturnRows(pgxmock.NewRows([]string{"inmate_key", "fetched", "attempts", "last_attempt", "last_error"}).
			AddRow("LE123", false, 2, testNow, "timeout"))
	got, err := store.DetailState(context.Background(), "LE123")
	require.NoError(t, err)
	require.Equal(t, st, got)

	mock.ExpectQuery("FROM detail_fetch_state").WithArgs("nobody").WillReturnError(pgx.ErrNoRows)
	_, err = store.DetailState(context.Background(), "nobody")
	require.ErrorIs(t, err, records.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrateAppliesPendingFiles(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec("SELECT pg_advisory_lock").WithArgs(int64(migrationLockID)).WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectQuery("SELECT filename FROM schema_migrations").WillReturnRows(pgxmock.NewRows([]string{"filename"}))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS inmates").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec("INSERT INTO schema_migrations").WithArgs("001_init.sql").WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("SELECT pg_advisory_unlock").WithArgs(int64(migrationLockID)).WillReturnResult(pgxmock.NewResult("SELECT", 1))

	require.NoError(t, store.Migrate(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrateSkipsAppliedFiles(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec("SELECT pg_advisory_lock").WithArgs(int64(migrationLockID)).WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectQuery("SELECT filename FROM schema_migrations").
		WillReturnRows(pgxmock.NewRows([]string{"filename"}).AddRow("001_init.sql"))
	mock.ExpectExec("SELECT pg_advisory_unlock").WithArgs(int64(migrationLockID)).WillReturnResult(pgxmock.NewResult("SELECT", 1))

	require.NoError(t, store.Migrate(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunLogSchemaAllowsManyRowsPerRun(t *testing.T) {
	t.Parallel()

	data, err := migrationFS.ReadFile("migrations/001_init.sql")
	require.NoError(t, err)
	ddl := string(data)
	start := strings.Index(ddl, "CREATE TABLE IF NOT EXISTS scrape_logs")
	require.GreaterOrEqual(t, start, 0)
	table := ddl[start : start+strings.Index(ddl[start:], ");")]

	require.Contains(t, table, "id          BIGSERIAL PRIMARY KEY")
	require.Contains(t, table, "run_id      TEXT NOT NULL")
	require.NotContains(t, table, "TEXT PRIMARY KEY")
	require.Contains(t, ddl, "ON scrape_logs (run_id)")

	store, mock := newMockStore(t)
	for _, source := range []string{"active", "docket", records.SummarySource} {
		mock.ExpectExec(`INSERT INTO scrape_logs \(run_id, `).
			WithArgs("run-7", testNow, source, "success", 1, "", int64(0)).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		require.NoError(t, store.AppendRun(context.Background(), records.ScrapeRun{
			ID: "run-7", RunTime: testNow, Source: source, Status: records.RunSuccess, Count: 1,
		}))
	}
	require.NoError(t, mock.ExpectationsWereMet())
}
