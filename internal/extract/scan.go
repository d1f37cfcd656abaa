package extract

import (
	"errors"
	"regexp"
	"slices"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/docket-scraper/internal/records"
)

var (
	caseNumberPatterns = []*regexp.Regexp{
		regexp.MustCompile(`\b\d{2,4}[A-Z]{1,3}\d{3,8}\b`),
		regexp.MustCompile(`\b[A-Z]{2,4}-?\d{4}-\d{3,8}\b`),
	}
	caseLabelPattern = regexp.MustCompile(`(?i)\bcase(?:\s*(?:#|no\.?|number))?\s*:\s*([A-Za-z0-9-]{4,})`)
)

// ScanCaseNumbers finds case-number-like tokens in free text, in order of
// first appearance. When no token matches a known shape it falls back to
// "Case: X" labels.
func ScanCaseNumbers(text string) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(tok string) {
		tok = strings.ToUpper(strings.TrimSpace(tok))
		if tok != "" && !seen[tok] {
			seen[tok] = true
			out = append(out, tok)
		}
	}

	type hit struct {
		pos int
		tok string
	}
	var hits []hit
	for _, re := range caseNumberPatterns {
		for _, loc := range re.FindAllStringIndex(text, -1) {
			hits = append(hits, hit{pos: loc[0], tok: text[loc[0]:loc[1]]})
		}
	}
	slices.SortStableFunc(hits, func(a, b hit) int { return a.pos - b.pos })
	for _, h := range hits {
		add(h.tok)
	}
	if len(out) > 0 {
		return out
	}
	for _, m := range caseLabelPattern.FindAllStringSubmatch(text, -1) {
		add(m[1])
	}
	return out
}

// ExtractSearch reads a name-search result page. A recognisable case table is
// preferred; otherwise case numbers are scanned from the page text.
func (e *Extractor) ExtractSearch(doc *goquery.Document, pageURL string) (Result, error) {
	layout := e.byKind[records.SourceSearch]
	res, err := layout.Extract(doc, pageURL)
	if err == nil && len(res.Records) > 0 {
		return res, nil
	}
	if err != nil && !errors.Is(err, records.ErrMalformedPage) {
		return res, err
	}

	res = Result{Layout: CourtSearchName}
	if doc == nil {
		return res, nil
	}
	for _, cn := range ScanCaseNumbers(cellText(doc.Find("body"))) {
		raw := records.RawRecord{Layout: CourtSearchName, SourceURL: pageURL}
		raw.Set(records.FieldCaseNumber, cn)
		res.Records = append(res.Records, raw)
	}
	return res, nil
}
