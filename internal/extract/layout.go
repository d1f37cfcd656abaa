// Package extract turns listing and detail pages into raw field tuples. The
// upstream tables carry no semantic markup, so each known page layout is
// recognised by its header keywords and mapped by header name, falling back
// to a configured column order when headers are missing.
package extract

import (
	"fmt"
	"slices"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/docket-scraper/internal/records"
)

// Layout is one known page shape.
type Layout interface {
	Name() string
	Extract(doc *goquery.Document, pageURL string) (Result, error)
}

// Result is the outcome of extracting one page.
type Result struct {
	Layout  string
	Records []records.RawRecord
	// Discarded counts rows dropped for missing cells or an empty identifier.
	Discarded int
}

// Layout names.
const (
	ActiveInmatesName   = "active_inmates"
	ReleasedInmatesName = "released_inmates"
	DocketName          = "docket"
	CourtSearchName     = "court_search"
	DetailName          = "detail"
)

// TableLayout extracts one record per data row of a recognised table.
type TableLayout struct {
	name string
	// signature reports whether a header row identifies this layout.
	signature func(keys []string) bool
	aliases   map[records.Field][]string
	// Columns is the positional field order used when a table has no usable
	// header row.
	Columns []records.Field
	// identity lists the fields of which at least one must be non-empty.
	identity []records.Field
	minCells int
}

// Name implements Layout.
func (l *TableLayout) Name() string { return l.name }

func hasAny(keys []string, want ...string) bool {
	for _, k := range keys {
		if slices.Contains(want, k) {
			return true
		}
	}
	return false
}

var (
	leAliases      = []string{"le#", "le", "lenumber", "leno", "lenum"}
	docketAliases  = []string{"docket#", "docket", "docketnumber", "docketno", "booking#", "bookingnumber"}
	nameAliases    = []string{"name", "inmatename", "inmate", "fullname"}
	bookedAliases  = []string{"booked", "bookingdate", "bookdate", "intake", "intakedate", "arrestdate", "datebooked"}
	releaseAliases = []string{"released", "releasedate", "release", "releasedon", "daterelease"}
	chargeAliases  = []string{"charge", "charges", "offense", "offenses", "chargedescription"}
	bondAliases    = []string{"bond", "bondamount", "bail", "bondtype"}
	caseAliases    = []string{"case", "case#", "casenumber", "caseno"}
	judgeAliases   = []string{"judge", "assignedjudge"}
	filedAliases   = []string{"filed", "filingdate", "datefiled", "filedate", "filedon"}
)

var inmateAliases = map[records.Field][]string{
	records.FieldLENumber:     leAliases,
	records.FieldDocketNumber: docketAliases,
	records.FieldName:         nameAliases,
	records.FieldAge:          {"age"},
	records.FieldSex:          {"sex", "gender"},
	records.FieldRace:         {"race"},
	records.FieldHeight:       {"height", "hgt"},
	records.FieldWeight:       {"weight", "wgt"},
	records.FieldHairColor:    {"hair", "haircolor"},
	records.FieldEyeColor:     {"eyes", "eye", "eyecolor"},
	records.FieldBookingDate:  bookedAliases,
	records.FieldReleaseDate:  releaseAliases,
	records.FieldBond:         bondAliases,
	records.FieldFees:         {"fees", "fee", "bondfees"},
	records.FieldBondStatus:   {"bondstatus", "status"},
	records.FieldAgency:       {"arrestingagency", "agency", "arrestedby", "arrestingofficer"},
	records.FieldCharges:      chargeAliases,
}

// ActiveInmatesLayout is the current-custody roster; its header has an LE# column.
var ActiveInmatesLayout = &TableLayout{
	name: ActiveInmatesName,
	signature: func(keys []string) bool {
		return hasAny(keys, leAliases...)
	},
	aliases: inmateAliases,
	Columns: []records.Field{
		records.FieldLENumber, records.FieldName, records.FieldBookingDate,
		records.FieldCharges, records.FieldBond,
	},
	identity: []records.Field{records.FieldLENumber, records.FieldDocketNumber},
	minCells: 3,
}

// ReleasedInmatesLayout is the historical listing with Released/Intake columns.
var ReleasedInmatesLayout = &TableLayout{
	name: ReleasedInmatesName,
	signature: func(keys []string) bool {
		return hasAny(keys, releaseAliases...) || hasAny(keys, "intake", "intakedate")
	},
	aliases: inmateAliases,
	Columns: []records.Field{
		records.FieldDocketNumber, records.FieldName, records.FieldBookingDate,
		records.FieldReleaseDate, records.FieldCharges,
	},
	identity: []records.Field{records.FieldDocketNumber, records.FieldLENumber},
	minCells: 4,
}

// DocketLayout is the 48-hour booking docket.
var DocketLayout = &TableLayout{
	name: DocketName,
	signature: func(keys []string) bool {
		return hasAny(keys, docketAliases...) &&
			(hasAny(keys, bookedAliases...) || hasAny(keys, chargeAliases...))
	},
	aliases: inmateAliases,
	Columns: []records.Field{
		records.FieldDocketNumber, records.FieldName, records.FieldBookingDate,
		records.FieldCharges, records.FieldBond, records.FieldAgency,
	},
	identity: []records.Field{records.FieldDocketNumber, records.FieldLENumber},
	minCells: 4,
}

// CourtSearchLayout is a court case listing or name-search result table.
var CourtSearchLayout = &TableLayout{
	name: CourtSearchName,
	signature: func(keys []string) bool {
		return hasAny(keys, caseAliases...) && (hasAny(keys, judgeAliases...) || hasAny(keys, filedAliases...))
	},
	aliases: map[records.Field][]string{
		records.FieldCaseNumber:   caseAliases,
		records.FieldName:         {"defendant", "defendantname", "name", "party", "partyname"},
		records.FieldOffense:      {"offense", "charge", "charges", "description"},
		records.FieldFilingDate:   filedAliases,
		records.FieldJudge:        judgeAliases,
		records.FieldCourt:        {"court", "location", "division", "courtroom"},
		records.FieldDisposition:  {"disposition", "dispo"},
		records.FieldSentence:     {"sentence"},
		records.FieldBond:         bondAliases,
		records.FieldCaseStatus:   {"status", "casestatus"},
		records.FieldDocketNumber: {"docket#", "docket", "docketnumber"},
	},
	Columns: []records.Field{
		records.FieldCaseNumber, records.FieldName, records.FieldFilingDate,
		records.FieldOffense, records.FieldJudge, records.FieldCaseStatus,
	},
	identity: []records.Field{records.FieldCaseNumber},
	minCells: 3,
}

// WithColumns returns a copy of l using cols as its positional fallback.
func (l *TableLayout) WithColumns(cols []records.Field) *TableLayout {
	cp := *l
	cp.Columns = slices.Clone(cols)
	return &cp
}

// Extract implements Layout. It picks the first table whose header matches
// the layout signature, else the first table wide enough for the positional
// column map.
func (l *TableLayout) Extract(doc *goquery.Document, pageURL string) (Result, error) {
	tables := dataTables(doc)
	for _, t := range tables {
		if l.signature(t.headerKeys()) {
			return l.extractTable(t, pageURL, l.columnsFromHeader(t.headerKeys())), nil
		}
	}
	for _, t := range tables {
		if t.width() >= l.minCells && t.width() >= len(l.Columns) {
			return l.extractTable(t, pageURL, l.Columns), nil
		}
	}
	return Result{Layout: l.name}, fmt.Errorf("%s: no data table: %w", l.name, records.ErrMalformedPage)
}

func (l *TableLayout) columnsFromHeader(keys []string) []records.Field {
	cols := make([]records.Field, len(keys))
	used := make(map[records.Field]bool)
	for i, key := range keys {
		for _, field := range fieldOrder {
			if used[field] {
				continue
			}
			if slices.Contains(l.aliases[field], key) {
				cols[i] = field
				used[field] = true
				break
			}
		}
	}
	return cols
}

// fieldOrder makes header mapping deterministic when aliases overlap.
var fieldOrder = []records.Field{
	records.FieldLENumber, records.FieldDocketNumber, records.FieldCaseNumber,
	records.FieldName, records.FieldAge, records.FieldSex, records.FieldRace,
	records.FieldHeight, records.FieldWeight, records.FieldHairColor, records.FieldEyeColor,
	records.FieldBookingDate, records.FieldReleaseDate, records.FieldFilingDate,
	records.FieldBond, records.FieldFees, records.FieldBondStatus, records.FieldAgency,
	records.FieldCharges, records.FieldOffense, records.FieldJudge, records.FieldCourt,
	records.FieldDisposition, records.FieldSentence, records.FieldCaseStatus,
}

func (l *TableLayout) extractTable(t table, pageURL string, cols []records.Field) Result {
	res := Result{Layout: l.name}
	minCells := l.minCells
	for _, row := range t.rows {
		cells := row.cells
		if len(cells) < minCells {
			res.Discarded++
			continue
		}
		raw := records.RawRecord{Layout: l.name, SourceURL: pageURL}
		for i, cell := range cells {
			if i >= len(cols) || cols[i] == "" {
				continue
			}
			field := cols[i]
			text := cellText(cell)
			if field == records.FieldCharges || field == records.FieldOffense {
				for _, desc := range SplitCharges(text) {
					raw.Charges = append(raw.Charges, records.RawCharge{Description: desc})
				}
				text = flatten(strings.ReplaceAll(text, "\n", "; "))
			} else {
				text = flatten(text)
			}
			raw.Set(field, text)
		}
		if link := detailLink(row.sel); link != "" {
			raw.Set(records.FieldDetailLink, link)
		}
		if !l.hasIdentity(raw) {
			res.Discarded++
			continue
		}
		res.Records = append(res.Records, raw)
	}
	return res
}

func (l *TableLayout) hasIdentity(raw records.RawRecord) bool {
	for _, f := range l.identity {
		if strings.TrimSpace(raw.Get(f)) != "" {
			return true
		}
	}
	return false
}

func detailLink(row *goquery.Selection) string {
	var href string
	row.Find("a[href]").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		h := strings.TrimSpace(a.AttrOr("href", ""))
		if h == "" || h == "#" || strings.HasPrefix(strings.ToLower(h), "javascript:") {
			return true
		}
		href = h
		return false
	})
	return href
}
