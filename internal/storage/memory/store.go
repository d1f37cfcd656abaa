package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/JakeFAU/docket-scraper/internal/merge"
	"github.com/JakeFAU/docket-scraper/internal/records"
)

// Store is an in-memory records.Store with the same upsert semantics as the
// Postgres store. It backs development runs and tests.
type Store struct {
	mu      sync.RWMutex
	clock   records.Clock
	inmates map[string]records.Inmate
	cases   map[string]records.CourtCase
	links   map[[2]string]records.CaseLink
	runs    []records.ScrapeRun
	details map[string]records.DetailFetchState
}

var _ records.Store = (*Store)(nil)

// NewStore constructs an empty Store.
func NewStore(clock records.Clock) *Store {
	return &Store{
		clock:   clock,
		inmates: make(map[string]records.Inmate),
		cases:   make(map[string]records.CourtCase),
		links:   make(map[[2]string]records.CaseLink),
		details: make(map[string]records.DetailFetchState),
	}
}

// UpsertInmate merges in into the stored row, keeping prior values where the
// new ones are empty.
func (s *Store) UpsertInmate(_ context.Context, in records.Inmate) error {
	key := records.NaturalKey(in.LENumber, in.DocketNumber)
	if key == "" {
		key = in.Key
	}
	if key == "" || in.Name == "" {
		return fmt.Errorf("upsert inmate: %w: key and name are required", records.ErrRejected)
	}
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if in.LENumber != "" && in.DocketNumber != "" && in.DocketNumber != key {
		s.rekeyLocked(in.DocketNumber, key)
	}

	cur, ok := s.inmates[key]
	if !ok {
		cur = records.Inmate{Key: key, CreatedAt: now}
	}
	overwrite(&cur.LENumber, in.LENumber)
	overwrite(&cur.DocketNumber, in.DocketNumber)
	overwrite(&cur.Name, in.Name)
	if in.Age > 0 {
		cur.Age = in.Age
	}
	overwrite(&cur.Sex, in.Sex)
	overwrite(&cur.Race, in.Race)
	overwrite(&cur.Height, in.Height)
	overwrite(&cur.Weight, in.Weight)
	overwrite(&cur.HairColor, in.HairColor)
	overwrite(&cur.EyeColor, in.EyeColor)
	if in.BookingDate != nil {
		cur.BookingDate = in.BookingDate
	}
	if in.ReleaseDate != nil {
		cur.ReleaseDate = in.ReleaseDate
	}
	overwrite(&cur.BondAmount, in.BondAmount)
	overwrite(&cur.ArrestingAgency, in.ArrestingAgency)
	if in.InJail != nil {
		cur.InJail = records.Bool(*in.InJail)
	}
	if len(in.Charges) > 0 {
		cur.Charges = slices.Clone(in.Charges)
	}
	cur.UpdatedAt = now
	s.inmates[key] = cur
	return nil
}

// rekeyLocked moves the row stored under from to to. When to is already
// taken the from row is folded into it and dropped; values on to win.
func (s *Store) rekeyLocked(from, to string) {
	rec, ok := s.inmates[from]
	if !ok {
		return
	}
	delete(s.inmates, from)
	if cur, taken := s.inmates[to]; taken {
		inJail := cur.InJail
		merge.MergeInmate(&cur, rec)
		if inJail != nil {
			cur.InJail = inJail
		}
		if rec.CreatedAt.Before(cur.CreatedAt) {
			cur.CreatedAt = rec.CreatedAt
		}
		rec = cur
	}
	rec.Key = to
	rec.LENumber = to
	s.inmates[to] = rec
	for k, link := range s.links {
		if link.InmateKey != from {
			continue
		}
		delete(s.links, k)
		link.InmateKey = to
		nk := [2]string{link.CaseNumber, to}
		if cur, ok := s.links[nk]; ok && cur.Confidence >= link.Confidence {
			continue
		}
		s.links[nk] = link
	}
}

func overwrite(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// UpsertCase merges c into the stored case.
func (s *Store) UpsertCase(_ context.Context, c records.CourtCase) error {
	if c.CaseNumber == "" {
		return fmt.Errorf("upsert case: %w: case number is required", records.ErrRejected)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.cases[c.CaseNumber]
	if !ok {
		cur = records.CourtCase{CaseNumber: c.CaseNumber}
	}
	overwrite(&cur.DefendantName, c.DefendantName)
	overwrite(&cur.Offense, c.Offense)
	if c.FilingDate != nil {
		cur.FilingDate = c.FilingDate
	}
	overwrite(&cur.Judge, c.Judge)
	overwrite(&cur.Court, c.Court)
	overwrite(&cur.Disposition, c.Disposition)
	overwrite(&cur.Sentence, c.Sentence)
	overwrite(&cur.BondAmount, c.BondAmount)
	if c.Active != nil {
		cur.Active = records.Bool(*c.Active)
	}
	if len(c.Charges) > 0 {
		cur.Charges = slices.Clone(c.Charges)
	}
	s.cases[c.CaseNumber] = cur
	return nil
}

// LinkCase stores the link, keeping the higher confidence.
func (s *Store) LinkCase(_ context.Context, link records.CaseLink) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.cases[link.CaseNumber]; !ok {
		return fmt.Errorf("link case %s: %w", link.CaseNumber, records.ErrNotFound)
	}
	if _, ok := s.inmates[link.InmateKey]; !ok {
		return fmt.Errorf("link inmate %s: %w", link.InmateKey, records.ErrNotFound)
	}
	k := [2]string{link.CaseNumber, link.InmateKey}
	if cur, ok := s.links[k]; ok && cur.Confidence >= link.Confidence {
		return nil
	}
	s.links[k] = link
	return nil
}

// MarkReleased clears in_jail on rows whose key and docket are not in seen.
func (s *Store) MarkReleased(_ context.Context, seen []string) (int, error) {
	keep := make(map[string]bool, len(seen))
	for _, k := range seen {
		keep[k] = true
	}
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for key, in := range s.inmates {
		if in.InJail == nil || !*in.InJail {
			continue
		}
		if keep[key] || (in.DocketNumber != "" && keep[in.DocketNumber]) {
			continue
		}
		in.InJail = records.Bool(false)
		in.UpdatedAt = now
		s.inmates[key] = in
		n++
	}
	return n, nil
}

// GetInmate looks up by natural key, then by docket number.
func (s *Store) GetInmate(_ context.Context, key string) (records.Inmate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if in, ok := s.inmates[key]; ok {
		return cloneInmate(in), nil
	}
	for _, in := range s.inmates {
		if in.DocketNumber != "" && in.DocketNumber == key {
			return cloneInmate(in), nil
		}
	}
	return records.Inmate{}, fmt.Errorf("inmate %s: %w", key, records.ErrNotFound)
}

func cloneInmate(in records.Inmate) records.Inmate {
	in.Charges = slices.Clone(in.Charges)
	if in.Charges == nil {
		in.Charges = []records.Charge{}
	}
	return in
}

// FindInmatesByLastName matches the name prefix before the first comma.
func (s *Store) FindInmatesByLastName(_ context.Context, lastName string) ([]records.Inmate, error) {
	lastName = strings.TrimSpace(lastName)
	if lastName == "" {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []records.Inmate
	for _, in := range s.inmates {
		last, _, _ := strings.Cut(in.Name, ",")
		if strings.EqualFold(strings.TrimSpace(last), lastName) {
			in.Charges = nil
			out = append(out, in)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Case returns a stored court case.
func (s *Store) Case(caseNumber string) (records.CourtCase, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.cases[caseNumber]
	return c, ok
}

// Links returns every stored link ordered by case then inmate.
func (s *Store) Links() []records.CaseLink {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]records.CaseLink, 0, len(s.links))
	for _, l := range s.links {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CaseNumber != out[j].CaseNumber {
			return out[i].CaseNumber < out[j].CaseNumber
		}
		return out[i].InmateKey < out[j].InmateKey
	})
	return out
}

// Inmates returns every stored person ordered by key.
func (s *Store) Inmates() []records.Inmate {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]records.Inmate, 0, len(s.inmates))
	for _, in := range s.inmates {
		out = append(out, cloneInmate(in))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// AppendRun appends a run log row.
func (s *Store) AppendRun(_ context.Context, run records.ScrapeRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs = append(s.runs, run)
	return nil
}

// LatestRun returns the newest summary row with status.
func (s *Store) LatestRun(_ context.Context, status records.RunStatus) (records.ScrapeRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest records.ScrapeRun
	found := false
	for _, run := range s.runs {
		if run.Status != status || run.Source != records.SummarySource {
			continue
		}
		if !found || !run.RunTime.Before(latest.RunTime) {
			latest, found = run, true
		}
	}
	if !found {
		return records.ScrapeRun{}, fmt.Errorf("latest %s run: %w", status, records.ErrNotFound)
	}
	return latest, nil
}

// ListRuns returns up to limit rows, newest first.
func (s *Store) ListRuns(_ context.Context, limit int) ([]records.ScrapeRun, error) {
	if limit <= 0 {
		limit = 50
	}
	s.mu.RLock()
	out := slices.Clone(s.runs)
	s.mu.RUnlock()
	slices.Reverse(out)
	sort.SliceStable(out, func(i, j int) bool { return out[i].RunTime.After(out[j].RunTime) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// DetailState returns the cache row for key.
func (s *Store) DetailState(_ context.Context, key string) (records.DetailFetchState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.details[key]
	if !ok {
		return records.DetailFetchState{}, fmt.Errorf("detail state %s: %w", key, records.ErrNotFound)
	}
	return st, nil
}

// SaveDetailState writes the cache row.
func (s *Store) SaveDetailState(_ context.Context, st records.DetailFetchState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.details[st.InmateKey] = st
	return nil
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

// Close is a no-op.
func (s *Store) Close() {}
