package extract

import (
	"fmt"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/docket-scraper/internal/records"
)

// Config overrides the positional column order per layout name.
type Config struct {
	Columns map[string][]records.Field
}

// Extractor selects and applies a layout per page.
type Extractor struct {
	order  []*TableLayout
	byKind map[records.SourceKind]*TableLayout
	detail *DetailLayout
}

// New builds an Extractor with the known layouts.
func New(cfg Config) *Extractor {
	layouts := map[string]*TableLayout{
		ReleasedInmatesName: ReleasedInmatesLayout,
		ActiveInmatesName:   ActiveInmatesLayout,
		DocketName:          DocketLayout,
		CourtSearchName:     CourtSearchLayout,
	}
	for name, cols := range cfg.Columns {
		if l, ok := layouts[name]; ok && len(cols) > 0 {
			layouts[name] = l.WithColumns(cols)
		}
	}
	return &Extractor{
		// Released is checked before active: historical pages may keep an LE# column.
		order: []*TableLayout{
			layouts[ReleasedInmatesName],
			layouts[ActiveInmatesName],
			layouts[DocketName],
			layouts[CourtSearchName],
		},
		byKind: map[records.SourceKind]*TableLayout{
			records.SourceActive:   layouts[ActiveInmatesName],
			records.SourceReleased: layouts[ReleasedInmatesName],
			records.SourceDocket:   layouts[DocketName],
			records.SourceSearch:   layouts[CourtSearchName],
		},
		detail: DetailPage,
	}
}

// Detect chooses exactly one layout for doc. A header signature match wins,
// with the hinted layout preferred when several match; a page without a
// recognisable header falls back to the hinted layout's column order.
func (e *Extractor) Detect(doc *goquery.Document, hint records.SourceKind) (Layout, error) {
	hinted := e.byKind[hint]
	for _, t := range dataTables(doc) {
		if !t.hasHeader {
			continue
		}
		keys := t.headerKeys()
		if hinted != nil && hinted.signature(keys) {
			return hinted, nil
		}
		for _, l := range e.order {
			if l.signature(keys) {
				return l, nil
			}
		}
	}
	if hinted != nil {
		return hinted, nil
	}
	return nil, fmt.Errorf("no layout for source kind %q: %w", hint, records.ErrMalformedPage)
}

// Extract detects the page layout and extracts its rows.
func (e *Extractor) Extract(doc *goquery.Document, pageURL string, hint records.SourceKind) (Result, error) {
	layout, err := e.Detect(doc, hint)
	if err != nil {
		return Result{}, err
	}
	return layout.Extract(doc, pageURL)
}

// Detail returns the layout for per-person detail pages.
func (e *Extractor) Detail() Layout {
	return e.detail
}
