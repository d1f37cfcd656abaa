package walker

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var (
	// onclick="location.href='list.aspx?page=3'" and friends.
	onclickURLPattern = regexp.MustCompile(
		`(?i)(?:location(?:\.href)?|window\.location(?:\.href)?|window\.open|document\.location(?:\.href)?)\s*(?:=|\()\s*['"]([^'"]+)['"]`,
	)
	nextGlyphs = []string{">", ">>", "»", "›", "→"}
)

// FindNextURL locates the "next page" control on doc and resolves it against
// base. It tries, in order: anchor text containing "next", arrow-glyph anchors,
// image links whose alt mentions "next", and onclick handlers that embed a
// quoted relative URL. It returns "" when no usable control exists.
func FindNextURL(doc *goquery.Document, base *url.URL) string {
	if doc == nil {
		return ""
	}
	strategies := []func(*goquery.Document) string{
		nextByAnchorText,
		nextByGlyph,
		nextByImageAlt,
		nextByOnclick,
	}
	for _, strategy := range strategies {
		raw := strings.TrimSpace(strategy(doc))
		if raw == "" {
			continue
		}
		if resolved := resolve(base, raw); resolved != "" {
			return resolved
		}
	}
	return ""
}

func nextByAnchorText(doc *goquery.Document) string {
	var found string
	doc.Find("a").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		text := strings.ToLower(strings.TrimSpace(a.Text()))
		if !strings.Contains(text, "next") {
			return true
		}
		if href := usableHref(a); href != "" {
			found = href
			return false
		}
		if link := onclickTarget(a); link != "" {
			found = link
			return false
		}
		return true
	})
	return found
}

func nextByGlyph(doc *goquery.Document) string {
	var found string
	doc.Find("a").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		text := strings.TrimSpace(a.Text())
		for _, glyph := range nextGlyphs {
			if text == glyph {
				found = usableHref(a)
				return found == ""
			}
		}
		return true
	})
	return found
}

func nextByImageAlt(doc *goquery.Document) string {
	var found string
	doc.Find("a img, input[type=image]").EachWithBreak(func(_ int, img *goquery.Selection) bool {
		alt := strings.ToLower(img.AttrOr("alt", "") + " " + img.AttrOr("title", ""))
		if !strings.Contains(alt, "next") {
			return true
		}
		anchor := img.Closest("a")
		if anchor.Length() > 0 {
			if href := usableHref(anchor); href != "" {
				found = href
				return false
			}
			if link := onclickTarget(anchor); link != "" {
				found = link
				return false
			}
		}
		if link := onclickTarget(img); link != "" {
			found = link
			return false
		}
		return true
	})
	return found
}

func nextByOnclick(doc *goquery.Document) string {
	var found string
	doc.Find("[onclick]").EachWithBreak(func(_ int, el *goquery.Selection) bool {
		label := strings.ToLower(el.Text() + " " + el.AttrOr("value", "") + " " + el.AttrOr("title", ""))
		if !strings.Contains(label, "next") {
			return true
		}
		if link := onclickTarget(el); link != "" {
			found = link
			return false
		}
		return true
	})
	return found
}

func usableHref(sel *goquery.Selection) string {
	href := strings.TrimSpace(sel.AttrOr("href", ""))
	lower := strings.ToLower(href)
	if href == "" || href == "#" || strings.HasPrefix(lower, "javascript:") {
		return ""
	}
	return href
}

func onclickTarget(sel *goquery.Selection) string {
	handler := sel.AttrOr("onclick", "")
	if handler == "" {
		return ""
	}
	m := onclickURLPattern.FindStringSubmatch(handler)
	if len(m) < 2 {
		return ""
	}
	return m[1]
}

func resolve(base *url.URL, raw string) string {
	ref, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	if base == nil {
		if !ref.IsAbs() {
			return ""
		}
		ref.Fragment = ""
		return ref.String()
	}
	abs := base.ResolveReference(ref)
	abs.Fragment = ""
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return ""
	}
	return abs.String()
}
