// Package normalize validates raw extracted fields and converts them into
// canonical records: placeholders rejected, dates parsed, bond text
// composed and charges classified.
package normalize

import (
	"fmt"
	"strings"
	"time"

	"github.com/JakeFAU/docket-scraper/internal/extract"
	"github.com/JakeFAU/docket-scraper/internal/records"
)

// Config tunes a Normalizer.
type Config struct {
	// Location is the zone upstream timestamps are written in. Defaults to UTC.
	Location *time.Location
}

// ErrNameMissing marks a sighting whose name cell is a placeholder. It wraps
// records.ErrRejected: such a sighting cannot create a record, but the
// Inmate returned with it may still be merged into one that already exists.
var ErrNameMissing = fmt.Errorf("%w: name is a placeholder", records.ErrRejected)

// Normalizer turns RawRecords into Inmates and CourtCases.
type Normalizer struct {
	clock records.Clock
	loc   *time.Location
}

// New creates a Normalizer. The clock bounds the plausible date window.
func New(cfg Config, clock records.Clock) *Normalizer {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &Normalizer{clock: clock, loc: cfg.Location}
}

// Date parses s permissively, returning nil for unparseable or implausible dates.
func (n *Normalizer) Date(s string) *time.Time {
	return parseDate(s, n.loc, n.clock.Now())
}

// Inmate validates raw as a person record. A record without any identifier
// is rejected with an error wrapping records.ErrRejected. A placeholder name
// yields the otherwise normalized record, with an empty name, together with
// an error wrapping ErrNameMissing.
func (n *Normalizer) Inmate(raw records.RawRecord) (records.Inmate, error) {
	name := Name(raw.Get(records.FieldName))
	le := identifier(raw.Get(records.FieldLENumber))
	docket := identifier(raw.Get(records.FieldDocketNumber))
	key := records.NaturalKey(le, docket)
	if key == "" {
		return records.Inmate{}, fmt.Errorf("%w: %q has no LE or docket number", records.ErrRejected, collapse(raw.Get(records.FieldName)))
	}

	releaseText := raw.Get(records.FieldReleaseDate)
	inmate := records.Inmate{
		Key:             key,
		LENumber:        le,
		DocketNumber:    docket,
		Name:            name,
		Age:             age(raw.Get(records.FieldAge)),
		Sex:             expand(raw.Get(records.FieldSex), sexCodes),
		Race:            expand(raw.Get(records.FieldRace), raceCodes),
		Height:          clean(raw.Get(records.FieldHeight)),
		Weight:          clean(raw.Get(records.FieldWeight)),
		HairColor:       expand(raw.Get(records.FieldHairColor), colorCodes),
		EyeColor:        expand(raw.Get(records.FieldEyeColor), colorCodes),
		BookingDate:     n.Date(raw.Get(records.FieldBookingDate)),
		ReleaseDate:     n.Date(releaseText),
		BondAmount:      Bond(raw.Get(records.FieldBond), raw.Get(records.FieldFees), raw.Get(records.FieldBondStatus)),
		ArrestingAgency: clean(raw.Get(records.FieldAgency)),
		Charges:         Charges(raw.Charges, docket),
	}
	inmate.InJail = custody(raw.Layout, releaseText, inmate.ReleaseDate)
	if name == "" {
		return inmate, fmt.Errorf("%w: %s: %q", ErrNameMissing, key, collapse(raw.Get(records.FieldName)))
	}
	return inmate, nil
}

// custody derives the in-jail flag. An explicit "*IN JAIL*" marker or the
// active roster means in custody; a valid release date means released.
func custody(layout, releaseText string, released *time.Time) *bool {
	switch {
	case strings.Contains(strings.ToUpper(releaseText), "IN JAIL"):
		return records.Bool(true)
	case released != nil:
		return records.Bool(false)
	case layout == extract.ActiveInmatesName:
		return records.Bool(true)
	}
	return nil
}

// Case validates raw as a court case. A case number is required; a
// placeholder defendant name is dropped rather than rejecting the case.
func (n *Normalizer) Case(raw records.RawRecord) (records.CourtCase, error) {
	number := identifier(raw.Get(records.FieldCaseNumber))
	if number == "" {
		return records.CourtCase{}, fmt.Errorf("%w: missing case number", records.ErrRejected)
	}
	status := clean(raw.Get(records.FieldCaseStatus))
	c := records.CourtCase{
		CaseNumber:    number,
		DefendantName: Name(raw.Get(records.FieldName)),
		Offense:       clean(strings.ReplaceAll(raw.Get(records.FieldOffense), "\n", "; ")),
		FilingDate:    n.Date(raw.Get(records.FieldFilingDate)),
		Judge:         clean(raw.Get(records.FieldJudge)),
		Court:         clean(raw.Get(records.FieldCourt)),
		Disposition:   clean(raw.Get(records.FieldDisposition)),
		Sentence:      clean(raw.Get(records.FieldSentence)),
		BondAmount:    Bond(raw.Get(records.FieldBond), raw.Get(records.FieldFees), ""),
		Active:        caseActive(status),
		Charges:       Charges(raw.Charges, identifier(raw.Get(records.FieldDocketNumber))),
	}
	return c, nil
}

func caseActive(status string) *bool {
	switch strings.ToLower(status) {
	case "active", "open", "pending", "reopened":
		return records.Bool(true)
	case "closed", "disposed", "inactive", "dismissed", "adjudicated":
		return records.Bool(false)
	}
	return nil
}
