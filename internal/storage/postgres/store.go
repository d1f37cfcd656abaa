// Package postgres persists person records, court cases and the run log in
// Postgres. Every upsert runs in its own transaction so a failure leaves
// previously committed records intact.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/JakeFAU/docket-scraper/internal/records"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// pool is the subset of *pgxpool.Pool the store uses; pgxmock satisfies it.
type pool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Store implements records.Store.
type Store struct {
	pool   pool
	clock  records.Clock
	logger *zap.Logger
}

var _ records.Store = (*Store)(nil)

// New connects a pgx pool using cfg.
func New(ctx context.Context, cfg Config, clock records.Clock, logger *zap.Logger) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return NewWithPool(p, clock, logger), nil
}

// NewWithPool builds a Store around an existing pool (primarily for testing).
func NewWithPool(p pool, clock records.Clock, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{pool: p, clock: clock, logger: logger.Named("postgres")}
}

// Close releases the pool.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

const upsertInmateSQL = `
INSERT INTO inmates (
	natural_key, le_number, docket_number, name, age, sex, race, height, weight,
	hair_color, eye_color, booking_date, release_date, bond_amount, arresting_agency,
	in_jail, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$17)
ON CONFLICT (natural_key) DO UPDATE SET
	le_number        = COALESCE(NULLIF(EXCLUDED.le_number, ''), inmates.le_number),
	docket_number    = COALESCE(NULLIF(EXCLUDED.docket_number, ''), inmates.docket_number),
	name             = COALESCE(NULLIF(EXCLUDED.name, ''), inmates.name),
	age              = CASE WHEN EXCLUDED.age > 0 THEN EXCLUDED.age ELSE inmates.age END,
	sex              = COALESCE(NULLIF(EXCLUDED.sex, ''), inmates.sex),
	race             = COALESCE(NULLIF(EXCLUDED.race, ''), inmates.race),
	height           = COALESCE(NULLIF(EXCLUDED.height, ''), inmates.height),
	weight           = COALESCE(NULLIF(EXCLUDED.weight, ''), inmates.weight),
	hair_color       = COALESCE(NULLIF(EXCLUDED.hair_color, ''), inmates.hair_color),
	eye_color        = COALESCE(NULLIF(EXCLUDED.eye_color, ''), inmates.eye_color),
	booking_date     = COALESCE(EXCLUDED.booking_date, inmates.booking_date),
	release_date     = COALESCE(EXCLUDED.release_date, inmates.release_date),
	bond_amount      = COALESCE(NULLIF(EXCLUDED.bond_amount, ''), inmates.bond_amount),
	arresting_agency = COALESCE(NULLIF(EXCLUDED.arresting_agency, ''), inmates.arresting_agency),
	in_jail          = COALESCE(EXCLUDED.in_jail, inmates.in_jail),
	updated_at       = EXCLUDED.updated_at`

// rekeyInmateSQL promotes a docket-keyed row to its LE number unless a row
// already holds that key. Child rows follow via ON UPDATE CASCADE.
const rekeyInmateSQL = `
UPDATE inmates SET natural_key = $1, le_number = $1
WHERE natural_key = $2
  AND NOT EXISTS (SELECT 1 FROM inmates WHERE natural_key = $1)`

// The absorb statements fold a docket-keyed row into the LE-keyed row for
// the same person when both exist. Values already on the LE row win.
const (
	absorbInmateSQL = `
UPDATE inmates AS le SET
	docket_number    = COALESCE(NULLIF(le.docket_number, ''), d.docket_number),
	name             = COALESCE(NULLIF(le.name, ''), d.name),
	age              = CASE WHEN le.age > 0 THEN le.age ELSE d.age END,
	sex              = COALESCE(NULLIF(le.sex, ''), d.sex),
	race             = COALESCE(NULLIF(le.race, ''), d.race),
	height           = COALESCE(NULLIF(le.height, ''), d.height),
	weight           = COALESCE(NULLIF(le.weight, ''), d.weight),
	hair_color       = COALESCE(NULLIF(le.hair_color, ''), d.hair_color),
	eye_color        = COALESCE(NULLIF(le.eye_color, ''), d.eye_color),
	booking_date     = COALESCE(le.booking_date, d.booking_date),
	release_date     = COALESCE(le.release_date, d.release_date),
	bond_amount      = COALESCE(NULLIF(le.bond_amount, ''), d.bond_amount),
	arresting_agency = COALESCE(NULLIF(le.arresting_agency, ''), d.arresting_agency),
	in_jail          = COALESCE(le.in_jail, d.in_jail),
	created_at       = LEAST(le.created_at, d.created_at)
FROM inmates AS d
WHERE le.natural_key = $1 AND d.natural_key = $2`

	absorbChargesSQL = `
UPDATE charges AS c SET inmate_key = $1
WHERE c.inmate_key = $2
  AND NOT EXISTS (
	SELECT 1 FROM charges AS k
	WHERE k.inmate_key = $1
	  AND (strpos(lower(k.description), lower(c.description)) > 0
	    OR strpos(lower(c.description), lower(k.description)) > 0))`

	absorbLinksSQL = `
INSERT INTO case_links (case_number, inmate_key, confidence)
SELECT case_number, $1, confidence FROM case_links WHERE inmate_key = $2
ON CONFLICT (case_number, inmate_key) DO UPDATE SET
	confidence = GREATEST(case_links.confidence, EXCLUDED.confidence)`

	dropInmateSQL = `DELETE FROM inmates WHERE natural_key = $1`
)

// rekeyInmate moves the row stored under docket to key. When key is already
// taken the docket row is merged into it and deleted, so one person never
// keeps two rows.
func rekeyInmate(ctx context.Context, tx pgx.Tx, key, docket string) error {
	tag, err := tx.Exec(ctx, rekeyInmateSQL, key, docket)
	if err != nil {
		return fmt.Errorf("rekey %s: %w", docket, err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	tag, err = tx.Exec(ctx, absorbInmateSQL, key, docket)
	if err != nil {
		return fmt.Errorf("absorb %s into %s: %w", docket, key, err)
	}
	if tag.RowsAffected() == 0 {
		return nil
	}
	if _, err := tx.Exec(ctx, absorbChargesSQL, key, docket); err != nil {
		return fmt.Errorf("absorb charges of %s: %w", docket, err)
	}
	if _, err := tx.Exec(ctx, absorbLinksSQL, key, docket); err != nil {
		return fmt.Errorf("absorb links of %s: %w", docket, err)
	}
	if _, err := tx.Exec(ctx, dropInmateSQL, docket); err != nil {
		return fmt.Errorf("drop %s: %w", docket, err)
	}
	return nil
}

var chargeColumns = []string{"inmate_key", "description", "type", "docket_number", "created_at"}

// UpsertInmate inserts or updates one person record and, when the record
// carries charges, replaces its charge list.
func (s *Store) UpsertInmate(ctx context.Context, in records.Inmate) error {
	key := records.NaturalKey(in.LENumber, in.DocketNumber)
	if key == "" {
		key = in.Key
	}
	if key == "" || in.Name == "" {
		return fmt.Errorf("upsert inmate: %w: key and name are required", records.ErrRejected)
	}
	now := s.clock.Now()

	return s.inTx(ctx, "upsert inmate "+key, func(tx pgx.Tx) error {
		if in.LENumber != "" && in.DocketNumber != "" && in.DocketNumber != key {
			if err := rekeyInmate(ctx, tx, key, in.DocketNumber); err != nil {
				return err
			}
		}
		if _, err := tx.Exec(ctx, upsertInmateSQL,
			key, in.LENumber, in.DocketNumber, in.Name, in.Age, in.Sex, in.Race, in.Height, in.Weight,
			in.HairColor, in.EyeColor, in.BookingDate, in.ReleaseDate, in.BondAmount, in.ArrestingAgency,
			in.InJail, now,
		); err != nil {
			return fmt.Errorf("upsert row: %w", err)
		}
		if len(in.Charges) == 0 {
			return nil
		}
		if _, err := tx.Exec(ctx, "DELETE FROM charges WHERE inmate_key = $1", key); err != nil {
			return fmt.Errorf("clear charges: %w", err)
		}
		rows := make([][]any, 0, len(in.Charges))
		for _, c := range in.Charges {
			rows = append(rows, []any{key, c.Description, string(c.Type), c.DocketNumber, now})
		}
		if _, err := tx.CopyFrom(ctx, pgx.Identifier{"charges"}, chargeColumns, pgx.CopyFromRows(rows)); err != nil {
			return fmt.Errorf("insert charges: %w", err)
		}
		return nil
	})
}

const upsertCaseSQL = `
INSERT INTO court_cases (
	case_number, defendant_name, offense, filing_date, judge, court, disposition,
	sentence, bond_amount, active, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$11)
ON CONFLICT (case_number) DO UPDATE SET
	defendant_name = COALESCE(NULLIF(EXCLUDED.defendant_name, ''), court_cases.defendant_name),
	offense        = COALESCE(NULLIF(EXCLUDED.offense, ''), court_cases.offense),
	filing_date    = COALESCE(EXCLUDED.filing_date, court_cases.filing_date),
	judge          = COALESCE(NULLIF(EXCLUDED.judge, ''), court_cases.judge),
	court          = COALESCE(NULLIF(EXCLUDED.court, ''), court_cases.court),
	disposition    = COALESCE(NULLIF(EXCLUDED.disposition, ''), court_cases.disposition),
	sentence       = COALESCE(NULLIF(EXCLUDED.sentence, ''), court_cases.sentence),
	bond_amount    = COALESCE(NULLIF(EXCLUDED.bond_amount, ''), court_cases.bond_amount),
	active         = COALESCE(EXCLUDED.active, court_cases.active),
	updated_at     = EXCLUDED.updated_at`

var courtChargeColumns = []string{"case_number", "description", "type", "docket_number"}

// UpsertCase inserts or updates one court case and replaces its charges
// when the case carries any.
func (s *Store) UpsertCase(ctx context.Context, c records.CourtCase) error {
	if c.CaseNumber == "" {
		return fmt.Errorf("upsert case: %w: case number is required", records.ErrRejected)
	}
	now := s.clock.Now()
	return s.inTx(ctx, "upsert case "+c.CaseNumber, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, upsertCaseSQL,
			c.CaseNumber, c.DefendantName, c.Offense, c.FilingDate, c.Judge, c.Court, c.Disposition,
			c.Sentence, c.BondAmount, c.Active, now,
		); err != nil {
			return fmt.Errorf("upsert row: %w", err)
		}
		if len(c.Charges) == 0 {
			return nil
		}
		if _, err := tx.Exec(ctx, "DELETE FROM court_charges WHERE case_number = $1", c.CaseNumber); err != nil {
			return fmt.Errorf("clear charges: %w", err)
		}
		rows := make([][]any, 0, len(c.Charges))
		for _, ch := range c.Charges {
			rows = append(rows, []any{c.CaseNumber, ch.Description, string(ch.Type), ch.DocketNumber})
		}
		if _, err := tx.CopyFrom(ctx, pgx.Identifier{"court_charges"}, courtChargeColumns, pgx.CopyFromRows(rows)); err != nil {
			return fmt.Errorf("insert charges: %w", err)
		}
		return nil
	})
}

func (s *Store) inTx(ctx context.Context, op string, fn func(pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%s: begin: %w", op, err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			s.logger.Warn("rollback failed", zap.String("op", op), zap.Error(rbErr))
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%s: commit: %w", op, err)
	}
	return nil
}

// LinkCase records a case-to-person link, keeping the higher confidence.
func (s *Store) LinkCase(ctx context.Context, link records.CaseLink) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO case_links (case_number, inmate_key, confidence) VALUES ($1, $2, $3)
ON CONFLICT (case_number, inmate_key) DO UPDATE
SET confidence = GREATEST(case_links.confidence, EXCLUDED.confidence)`,
		link.CaseNumber, link.InmateKey, link.Confidence)
	if err != nil {
		return fmt.Errorf("link case %s to %s: %w", link.CaseNumber, link.InmateKey, err)
	}
	return nil
}

// MarkReleased clears in_jail on in-custody rows whose natural key and docket
// number are both absent from seen.
func (s *Store) MarkReleased(ctx context.Context, seen []string) (int, error) {
	if seen == nil {
		seen = []string{}
	}
	tag, err := s.pool.Exec(ctx, `
UPDATE inmates SET in_jail = FALSE, updated_at = $2
WHERE in_jail IS TRUE
  AND NOT (natural_key = ANY($1))
  AND NOT (docket_number <> '' AND docket_number = ANY($1))`,
		seen, s.clock.Now())
	if err != nil {
		return 0, fmt.Errorf("mark released: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

const inmateColumns = `natural_key, le_number, docket_number, name, age, sex, race, height, weight,
	hair_color, eye_color, booking_date, release_date, bond_amount, arresting_agency,
	in_jail, created_at, updated_at`

func scanInmate(row pgx.Row) (records.Inmate, error) {
	var in records.Inmate
	err := row.Scan(
		&in.Key, &in.LENumber, &in.DocketNumber, &in.Name, &in.Age, &in.Sex, &in.Race,
		&in.Height, &in.Weight, &in.HairColor, &in.EyeColor, &in.BookingDate, &in.ReleaseDate,
		&in.BondAmount, &in.ArrestingAgency, &in.InJail, &in.CreatedAt, &in.UpdatedAt,
	)
	return in, err
}

// GetInmate loads a person record, with charges, by natural key or docket number.
func (s *Store) GetInmate(ctx context.Context, key string) (records.Inmate, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+inmateColumns+` FROM inmates
WHERE natural_key = $1 OR docket_number = $1
ORDER BY (natural_key = $1) DESC
LIMIT 1`, key)
	in, err := scanInmate(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return records.Inmate{}, fmt.Errorf("inmate %s: %w", key, records.ErrNotFound)
		}
		return records.Inmate{}, fmt.Errorf("get inmate %s: %w", key, err)
	}

	rows, err := s.pool.Query(ctx,
		"SELECT description, type, docket_number FROM charges WHERE inmate_key = $1 ORDER BY id", in.Key)
	if err != nil {
		return records.Inmate{}, fmt.Errorf("list charges %s: %w", in.Key, err)
	}
	defer rows.Close()
	in.Charges = []records.Charge{}
	for rows.Next() {
		var c records.Charge
		var typ string
		if err := rows.Scan(&c.Description, &typ, &c.DocketNumber); err != nil {
			return records.Inmate{}, fmt.Errorf("scan charge: %w", err)
		}
		c.Type = records.ChargeType(typ)
		in.Charges = append(in.Charges, c)
	}
	if err := rows.Err(); err != nil {
		return records.Inmate{}, fmt.Errorf("iterate charges: %w", err)
	}
	return in, nil
}

// FindInmatesByLastName returns person records (without charges) whose name
// begins with lastName followed by a comma, ignoring case.
func (s *Store) FindInmatesByLastName(ctx context.Context, lastName string) ([]records.Inmate, error) {
	lastName = strings.TrimSpace(lastName)
	if lastName == "" {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `SELECT `+inmateColumns+` FROM inmates
WHERE lower(split_part(name, ',', 1)) = lower($1)
ORDER BY natural_key`, lastName)
	if err != nil {
		return nil, fmt.Errorf("find inmates %q: %w", lastName, err)
	}
	defer rows.Close()
	var out []records.Inmate
	for rows.Next() {
		in, err := scanInmate(rows)
		if err != nil {
			return nil, fmt.Errorf("scan inmate: %w", err)
		}
		out = append(out, in)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate inmates: %w", err)
	}
	return out, nil
}

// AppendRun inserts one run log row. Rows of the same run share run.ID.
func (s *Store) AppendRun(ctx context.Context, run records.ScrapeRun) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO scrape_logs (run_id, run_time, source, status, count, message, duration_ms)
VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		run.ID, run.RunTime, run.Source, string(run.Status), run.Count, run.Message, run.Duration.Milliseconds())
	if err != nil {
		return fmt.Errorf("append run %s/%s: %w", run.ID, run.Source, err)
	}
	return nil
}

const runColumns = "run_id, run_time, source, status, count, message, duration_ms"

func scanRun(row pgx.Row) (records.ScrapeRun, error) {
	var run records.ScrapeRun
	var status string
	var durationMS int64
	if err := row.Scan(&run.ID, &run.RunTime, &run.Source, &status, &run.Count, &run.Message, &durationMS); err != nil {
		return records.ScrapeRun{}, err
	}
	run.Status = records.RunStatus(status)
	run.Duration = time.Duration(durationMS) * time.Millisecond
	return run, nil
}

// LatestRun returns the most recent summary row with status.
func (s *Store) LatestRun(ctx context.Context, status records.RunStatus) (records.ScrapeRun, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+runColumns+` FROM scrape_logs
WHERE status = $1 AND source = $2
ORDER BY run_time DESC, id DESC
LIMIT 1`, string(status), records.SummarySource)
	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return records.ScrapeRun{}, fmt.Errorf("latest %s run: %w", status, records.ErrNotFound)
		}
		return records.ScrapeRun{}, fmt.Errorf("latest %s run: %w", status, err)
	}
	return run, nil
}

// ListRuns returns the newest run rows first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]records.ScrapeRun, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `SELECT `+runColumns+` FROM scrape_logs
ORDER BY run_time DESC, id DESC
LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()
	var out []records.ScrapeRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		out = append(out, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return out, nil
}

// DetailState returns the detail-fetch cache row for key.
func (s *Store) DetailState(ctx context.Context, key string) (records.DetailFetchState, error) {
	var st records.DetailFetchState
	err := s.pool.QueryRow(ctx, `
SELECT inmate_key, fetched, attempts, last_attempt, last_error
FROM detail_fetch_state WHERE inmate_key = $1`, key).
		Scan(&st.InmateKey, &st.Fetched, &st.Attempts, &st.LastAttempt, &st.LastError)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return records.DetailFetchState{}, fmt.Errorf("detail state %s: %w", key, records.ErrNotFound)
		}
		return records.DetailFetchState{}, fmt.Errorf("detail state %s: %w", key, err)
	}
	return st, nil
}

// SaveDetailState writes the detail-fetch cache row.
func (s *Store) SaveDetailState(ctx context.Context, st records.DetailFetchState) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO detail_fetch_state (inmate_key, fetched, attempts, last_attempt, last_error)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (inmate_key) DO UPDATE SET
	fetched = EXCLUDED.fetched,
	attempts = EXCLUDED.attempts,
	last_attempt = EXCLUDED.last_attempt,
	last_error = EXCLUDED.last_error`,
		st.InmateKey, st.Fetched, st.Attempts, st.LastAttempt, st.LastError)
	if err != nil {
		return fmt.Errorf("save detail state %s: %w", st.InmateKey, err)
	}
	return nil
}

// Ping checks connectivity for readiness probes.
func (s *Store) Ping(ctx context.Context) error {
	var one int
	if err := s.pool.QueryRow(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}
