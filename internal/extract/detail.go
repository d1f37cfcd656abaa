package extract

import (
	"fmt"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/docket-scraper/internal/records"
)

// DetailLayout reads a label/value detail page for one person: rows of
// "Label:" cells followed by their value, plus an optional charge table.
type DetailLayout struct {
	labels map[string]records.Field
}

// DetailPage is the shared detail layout.
var DetailPage = newDetailLayout()

func newDetailLayout() *DetailLayout {
	labels := make(map[string]records.Field)
	for field, aliases := range inmateAliases {
		if field == records.FieldCharges {
			continue
		}
		for _, a := range aliases {
			labels[a] = field
		}
	}
	for _, extra := range []struct {
		key   string
		field records.Field
	}{
		{"inmatenumber", records.FieldLENumber},
		{"lawenforcement#", records.FieldLENumber},
		{"bookingdatetime", records.FieldBookingDate},
		{"releasedatetime", records.FieldReleaseDate},
		{"bondtotal", records.FieldBond},
		{"totalbond", records.FieldBond},
	} {
		labels[extra.key] = extra.field
	}
	return &DetailLayout{labels: labels}
}

// Name implements Layout.
func (d *DetailLayout) Name() string { return DetailName }

// Extract implements Layout. The page yields at most one record.
func (d *DetailLayout) Extract(doc *goquery.Document, pageURL string) (Result, error) {
	res := Result{Layout: DetailName}
	raw := records.RawRecord{Layout: DetailName, SourceURL: pageURL}
	found := 0

	for _, t := range dataTables(doc) {
		if t.hasHeader && isChargeHeader(t.headerKeys()) {
			d.readCharges(t, &raw)
			continue
		}
		rows := t.rows
		if t.hasHeader {
			// A label row misread as a header; treat its cells as pairs too.
			rows = append([]row{{cells: t.headerSels}}, rows...)
		}
		for _, r := range rows {
			found += d.readPairs(r.cells, &raw)
		}
	}
	if found == 0 {
		return res, fmt.Errorf("detail page %s has no recognised labels: %w", pageURL, records.ErrMalformedPage)
	}
	res.Records = []records.RawRecord{raw}
	return res, nil
}

func (d *DetailLayout) readPairs(cells []*goquery.Selection, raw *records.RawRecord) int {
	found := 0
	for i := 0; i+1 < len(cells); i++ {
		label := headerKey(cellText(cells[i]))
		field, ok := d.labels[label]
		if !ok {
			continue
		}
		if raw.Get(field) == "" {
			raw.Set(field, flatten(cellText(cells[i+1])))
		}
		found++
		i++
	}
	return found
}

func (d *DetailLayout) readCharges(t table, raw *records.RawRecord) {
	keys := t.headerKeys()
	descCol, docketCol := -1, -1
	for i, k := range keys {
		switch {
		case descCol < 0 && (k == "charge" || k == "charges" || k == "description" || k == "chargedescription" || k == "offense"):
			descCol = i
		case docketCol < 0 && (k == "docket" || k == "docket#" || k == "docketnumber"):
			docketCol = i
		}
	}
	for _, r := range t.rows {
		if descCol >= len(r.cells) {
			continue
		}
		desc := flatten(cellText(r.cells[descCol]))
		if desc == "" {
			continue
		}
		charge := records.RawCharge{Description: desc}
		if docketCol >= 0 && docketCol < len(r.cells) {
			charge.DocketNumber = flatten(cellText(r.cells[docketCol]))
		}
		raw.Charges = append(raw.Charges, charge)
	}
}

func isChargeHeader(keys []string) bool {
	return hasAny(keys, "charge", "charges", "chargedescription", "description")
}
