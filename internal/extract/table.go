package extract

import (
	"github.com/PuerkitoBio/goquery"
)

type row struct {
	sel   *goquery.Selection
	cells []*goquery.Selection
}

// table is one <table> element split into an optional header and data rows.
type table struct {
	hasHeader  bool
	header     []string
	headerSels []*goquery.Selection
	rows       []row
}

func (t table) headerKeys() []string {
	keys := make([]string, len(t.header))
	for i, h := range t.header {
		keys[i] = headerKey(h)
	}
	return keys
}

func (t table) width() int {
	w := 0
	for _, r := range t.rows {
		w = max(w, len(r.cells))
	}
	return w
}

// knownKeys is every alias any layout recognises, used to spot header rows
// written with <td> instead of <th>.
var knownKeys = func() map[string]bool {
	keys := make(map[string]bool)
	for _, l := range []*TableLayout{ActiveInmatesLayout, ReleasedInmatesLayout, DocketLayout, CourtSearchLayout} {
		for _, aliases := range l.aliases {
			for _, a := range aliases {
				keys[a] = true
			}
		}
	}
	return keys
}()

// dataTables returns every table in document order. Rows of nested tables
// belong only to their innermost table.
func dataTables(doc *goquery.Document) []table {
	if doc == nil {
		return nil
	}
	var out []table
	doc.Find("table").Each(func(_ int, tbl *goquery.Selection) {
		var t table
		tbl.Find("tr").Each(func(_ int, tr *goquery.Selection) {
			if !tr.Closest("table").IsSelection(tbl) {
				return
			}
			cells := tr.ChildrenFiltered("td, th")
			if cells.Length() == 0 {
				return
			}
			if !t.hasHeader && len(t.rows) == 0 && isHeaderRow(cells) {
				t.hasHeader = true
				cells.Each(func(_ int, c *goquery.Selection) {
					t.header = append(t.header, flatten(cellText(c)))
					t.headerSels = append(t.headerSels, c)
				})
				return
			}
			r := row{sel: tr}
			cells.Each(func(_ int, c *goquery.Selection) {
				r.cells = append(r.cells, c)
			})
			t.rows = append(t.rows, r)
		})
		out = append(out, t)
	})
	return out
}

func isHeaderRow(cells *goquery.Selection) bool {
	if cells.Length() == cells.Filter("th").Length() {
		return true
	}
	known := 0
	cells.Each(func(_ int, c *goquery.Selection) {
		if knownKeys[headerKey(c.Text())] {
			known++
		}
	})
	return known >= 2
}
