// Package merge collapses repeated sightings of the same person or case
// within a run. Scalars keep the first non-empty value, status flags take the
// latest known value, and charge lists skip near-duplicate descriptions.
package merge

import (
	"maps"
	"slices"
	"strings"

	"github.com/JakeFAU/docket-scraper/internal/records"
)

// Set accumulates merged records in first-seen order.
type Set struct {
	inmates     map[string]*records.Inmate
	inmateOrder []string
	// aliases maps docket numbers to the key their record is stored under.
	aliases   map[string]string
	cases     map[string]*records.CourtCase
	caseOrder []string
	links     map[linkKey]records.CaseLink
	linkOrder []linkKey
}

type linkKey struct {
	caseNumber string
	inmateKey  string
}

// NewSet returns an empty Set.
func NewSet() *Set {
	return &Set{
		inmates: make(map[string]*records.Inmate),
		aliases: make(map[string]string),
		cases:   make(map[string]*records.CourtCase),
		links:   make(map[linkKey]records.CaseLink),
	}
}

// AddInmate merges in into the set and returns the key it is stored under.
// A record first seen under its docket number is re-keyed to its LE number
// once a sighting carries one.
func (s *Set) AddInmate(in records.Inmate) string {
	key := records.NaturalKey(in.LENumber, in.DocketNumber)
	if key == "" {
		key = in.Key
	}
	if key == "" {
		return ""
	}
	in.Key = key

	existingKey := s.resolve(key, in.LENumber, in.DocketNumber)
	if existingKey == "" {
		cp := in
		cp.Charges = nil
		for _, c := range in.Charges {
			cp.Charges = AppendCharge(cp.Charges, c)
		}
		s.inmates[key] = &cp
		s.inmateOrder = append(s.inmateOrder, key)
		s.remember(&cp)
		return key
	}

	existing := s.inmates[existingKey]
	MergeInmate(existing, in)
	if existingKey != existing.Key {
		s.rekey(existingKey, existing.Key)
	}
	if other, ok := s.aliases[in.DocketNumber]; ok && in.DocketNumber != "" && other != existing.Key && s.inmates[other].LENumber == "" {
		s.absorb(existing.Key, other)
	}
	s.remember(existing)
	return existing.Key
}

// absorb merges the record under from into the record under into and drops from.
func (s *Set) absorb(into, from string) {
	src := s.inmates[from]
	MergeInmate(s.inmates[into], *src)
	delete(s.inmates, from)
	s.inmateOrder = slices.DeleteFunc(s.inmateOrder, func(k string) bool { return k == from })
	for docket, k := range s.aliases {
		if k == from {
			s.aliases[docket] = into
		}
	}
	s.moveLinks(from, into)
}

// resolve finds the stored key for a sighting by its natural key or by a
// docket alias. An alias never joins two records with different LE numbers.
func (s *Set) resolve(key, le, docket string) string {
	if _, ok := s.inmates[key]; ok {
		return key
	}
	if docket == "" {
		return ""
	}
	k, ok := s.aliases[docket]
	if !ok {
		return ""
	}
	if stored := s.inmates[k].LENumber; le != "" && stored != "" && stored != le {
		return ""
	}
	return k
}

func (s *Set) remember(in *records.Inmate) {
	if in.DocketNumber != "" {
		s.aliases[in.DocketNumber] = in.Key
	}
}

func (s *Set) rekey(from, to string) {
	rec := s.inmates[from]
	delete(s.inmates, from)
	s.inmates[to] = rec
	for i, k := range s.inmateOrder {
		if k == from {
			s.inmateOrder[i] = to
		}
	}
	for docket, k := range s.aliases {
		if k == from {
			s.aliases[docket] = to
		}
	}
	s.moveLinks(from, to)
}

func (s *Set) moveLinks(from, to string) {
	order := s.linkOrder
	s.linkOrder = nil
	links := s.links
	s.links = make(map[linkKey]records.CaseLink, len(links))
	for _, lk := range order {
		link := links[lk]
		if link.InmateKey == from {
			link.InmateKey = to
		}
		s.AddLink(link)
	}
}

// MergeInmate folds a later sighting into dst in place.
func MergeInmate(dst *records.Inmate, src records.Inmate) {
	if dst.LENumber == "" && src.LENumber != "" {
		dst.LENumber = src.LENumber
		dst.Key = src.LENumber
	}
	firstString(&dst.DocketNumber, src.DocketNumber)
	firstString(&dst.Name, src.Name)
	if dst.Age == 0 {
		dst.Age = src.Age
	}
	firstString(&dst.Sex, src.Sex)
	firstString(&dst.Race, src.Race)
	firstString(&dst.Height, src.Height)
	firstString(&dst.Weight, src.Weight)
	firstString(&dst.HairColor, src.HairColor)
	firstString(&dst.EyeColor, src.EyeColor)
	if dst.BookingDate == nil {
		dst.BookingDate = src.BookingDate
	}
	if dst.ReleaseDate == nil {
		dst.ReleaseDate = src.ReleaseDate
	}
	firstString(&dst.BondAmount, src.BondAmount)
	firstString(&dst.ArrestingAgency, src.ArrestingAgency)
	if src.InJail != nil {
		dst.InJail = records.Bool(*src.InJail)
	}
	for _, c := range src.Charges {
		dst.Charges = AppendCharge(dst.Charges, c)
	}
}

// AddCase merges c keyed by case number.
func (s *Set) AddCase(c records.CourtCase) string {
	key := strings.TrimSpace(c.CaseNumber)
	if key == "" {
		return ""
	}
	c.CaseNumber = key
	existing, ok := s.cases[key]
	if !ok {
		cp := c
		cp.Charges = nil
		for _, ch := range c.Charges {
			cp.Charges = AppendCharge(cp.Charges, ch)
		}
		s.cases[key] = &cp
		s.caseOrder = append(s.caseOrder, key)
		return key
	}
	MergeCase(existing, c)
	return key
}

// MergeCase folds a later sighting of the same case into dst in place.
func MergeCase(dst *records.CourtCase, src records.CourtCase) {
	firstString(&dst.DefendantName, src.DefendantName)
	firstString(&dst.Offense, src.Offense)
	if dst.FilingDate == nil {
		dst.FilingDate = src.FilingDate
	}
	firstString(&dst.Judge, src.Judge)
	firstString(&dst.Court, src.Court)
	firstString(&dst.Disposition, src.Disposition)
	firstString(&dst.Sentence, src.Sentence)
	firstString(&dst.BondAmount, src.BondAmount)
	if src.Active != nil {
		dst.Active = records.Bool(*src.Active)
	}
	for _, ch := range src.Charges {
		dst.Charges = AppendCharge(dst.Charges, ch)
	}
}

// AddLink records a case-to-person link, keeping the highest confidence.
func (s *Set) AddLink(link records.CaseLink) {
	if link.CaseNumber == "" || link.InmateKey == "" {
		return
	}
	if k, ok := s.aliases[link.InmateKey]; ok {
		link.InmateKey = k
	}
	lk := linkKey{caseNumber: link.CaseNumber, inmateKey: link.InmateKey}
	existing, ok := s.links[lk]
	if !ok {
		s.linkOrder = append(s.linkOrder, lk)
		s.links[lk] = link
		return
	}
	if link.Confidence > existing.Confidence {
		s.links[lk] = link
	}
}

// AppendCharge adds c unless an existing description contains, or is
// contained in, c's description ignoring case.
func AppendCharge(list []records.Charge, c records.Charge) []records.Charge {
	candidate := strings.ToLower(strings.TrimSpace(c.Description))
	if candidate == "" {
		return list
	}
	for _, existing := range list {
		desc := strings.ToLower(strings.TrimSpace(existing.Description))
		if strings.Contains(desc, candidate) || strings.Contains(candidate, desc) {
			return list
		}
	}
	return append(list, c)
}

func firstString(dst *string, v string) {
	if *dst == "" {
		*dst = v
	}
}

// Has reports whether AddInmate(in) would merge into an existing record
// rather than create one.
func (s *Set) Has(in records.Inmate) bool {
	key := records.NaturalKey(in.LENumber, in.DocketNumber)
	if key == "" {
		key = in.Key
	}
	return key != "" && s.resolve(key, in.LENumber, in.DocketNumber) != ""
}

// Inmates returns merged person records in first-seen order.
func (s *Set) Inmates() []records.Inmate {
	out := make([]records.Inmate, 0, len(s.inmateOrder))
	for _, k := range s.inmateOrder {
		out = append(out, *s.inmates[k])
	}
	return out
}

// Inmate returns the merged record stored under key or one of its dockets.
func (s *Set) Inmate(key string) (records.Inmate, bool) {
	if k := s.resolve(key, "", key); k != "" {
		return *s.inmates[k], true
	}
	return records.Inmate{}, false
}

// Cases returns merged court cases in first-seen order.
func (s *Set) Cases() []records.CourtCase {
	out := make([]records.CourtCase, 0, len(s.caseOrder))
	for _, k := range s.caseOrder {
		out = append(out, *s.cases[k])
	}
	return out
}

// Links returns case links in first-seen order.
func (s *Set) Links() []records.CaseLink {
	out := make([]records.CaseLink, 0, len(s.linkOrder))
	for _, lk := range s.linkOrder {
		out = append(out, s.links[lk])
	}
	return out
}

// Keys returns every natural key in the set, including docket aliases, so
// reconciliation does not clear a record seen under either identifier.
func (s *Set) Keys() []string {
	out := make([]string, 0, len(s.inmateOrder)+len(s.aliases))
	seen := make(map[string]bool)
	for _, k := range s.inmateOrder {
		if !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	for _, docket := range slices.Sorted(maps.Keys(s.aliases)) {
		if !seen[docket] {
			seen[docket] = true
			out = append(out, docket)
		}
	}
	return out
}

// Len reports the number of distinct persons and cases.
func (s *Set) Len() int {
	return len(s.inmateOrder) + len(s.caseOrder)
}
