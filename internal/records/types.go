// Package records defines the core data model and interfaces shared by the
// acquisition pipeline: fetch, walk, extract, normalize, merge and persist.
package records

import (
	"strings"
	"time"
)

// ChargeType is the coarse classification of a charge description.
type ChargeType string

// Charge classification values.
const (
	ChargeFelony      ChargeType = "Felony"
	ChargeMisdemeanor ChargeType = "Misdemeanor"
	ChargeUnknown     ChargeType = "Unknown"
)

// RunStatus is the outcome recorded for a scrape run row.
type RunStatus string

// Run outcome values persisted in scrape_logs.
const (
	RunSuccess RunStatus = "success"
	RunError   RunStatus = "error"
)

// SourceKind tells the extractor which listing layout a source serves.
type SourceKind string

// Known upstream listings.
const (
	SourceActive   SourceKind = "active_inmates"
	SourceDocket   SourceKind = "docket_48h"
	SourceReleased SourceKind = "released"
	SourceSearch   SourceKind = "court_search"
)

// SummarySource is the source identifier written on the terminal run row.
const SummarySource = "all"

// Source is one configured upstream listing.
type Source struct {
	Name string     `json:"name" mapstructure:"name"`
	Kind SourceKind `json:"kind" mapstructure:"kind"`
	URL  string     `json:"url" mapstructure:"url"`
}

// Charge belongs to exactly one inmate or court case.
type Charge struct {
	Description  string     `json:"description"`
	Type         ChargeType `json:"type"`
	DocketNumber string     `json:"docket_number,omitempty"`
}

// Inmate is a person record keyed by LE number, falling back to docket number.
type Inmate struct {
	Key             string     `json:"natural_key"`
	LENumber        string     `json:"le_number,omitempty"`
	DocketNumber    string     `json:"docket_number,omitempty"`
	Name            string     `json:"name"`
	Age             int        `json:"age,omitempty"`
	Sex             string     `json:"sex,omitempty"`
	Race            string     `json:"race,omitempty"`
	Height          string     `json:"height,omitempty"`
	Weight          string     `json:"weight,omitempty"`
	HairColor       string     `json:"hair_color,omitempty"`
	EyeColor        string     `json:"eye_color,omitempty"`
	BookingDate     *time.Time `json:"booking_date,omitempty"`
	ReleaseDate     *time.Time `json:"release_date,omitempty"`
	BondAmount      string     `json:"bond_amount,omitempty"`
	ArrestingAgency string     `json:"arresting_agency,omitempty"`
	// InJail is nil when the sighting carries no custody information.
	InJail    *bool     `json:"in_jail,omitempty"`
	Charges   []Charge  `json:"charges"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CourtCase is a court docket entry keyed by case number.
type CourtCase struct {
	CaseNumber    string     `json:"case_number"`
	DefendantName string     `json:"defendant_name"`
	Offense       string     `json:"offense,omitempty"`
	FilingDate    *time.Time `json:"filing_date,omitempty"`
	Judge         string     `json:"judge,omitempty"`
	Court         string     `json:"court,omitempty"`
	Disposition   string     `json:"disposition,omitempty"`
	Sentence      string     `json:"sentence,omitempty"`
	BondAmount    string     `json:"bond_amount,omitempty"`
	Active        *bool      `json:"active,omitempty"`
	Charges       []Charge   `json:"charges"`
}

// CaseLink associates a court case with a person record.
type CaseLink struct {
	CaseNumber string  `json:"case_number"`
	InmateKey  string  `json:"inmate_key"`
	Confidence float64 `json:"confidence"`
}

// ScrapeRun is one append-only row of the run log.
type ScrapeRun struct {
	ID       string        `json:"id"`
	RunTime  time.Time     `json:"run_time"`
	Source   string        `json:"source"`
	Status   RunStatus     `json:"status"`
	Count    int           `json:"count"`
	Message  string        `json:"message"`
	Duration time.Duration `json:"duration_ns"`
}

// DetailFetchState tracks deep-detail page fetches per person.
type DetailFetchState struct {
	InmateKey   string    `json:"inmate_key"`
	Fetched     bool      `json:"fetched"`
	Attempts    int       `json:"attempts"`
	LastAttempt time.Time `json:"last_attempt"`
	LastError   string    `json:"last_error,omitempty"`
}

// NaturalKey prefers the LE number and falls back to the docket number.
func NaturalKey(leNumber, docketNumber string) string {
	if le := strings.TrimSpace(leNumber); le != "" {
		return le
	}
	return strings.TrimSpace(docketNumber)
}

// Bool returns a pointer to v, for status fields.
func Bool(v bool) *bool {
	return &v
}
