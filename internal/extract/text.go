package extract

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// blockElements end a line of text when rendered.
var blockElements = map[string]bool{
	"br": true, "p": true, "div": true, "li": true, "tr": true,
}

// cellText returns the visible text of sel with <br> and block boundaries
// rendered as newlines and runs of spaces collapsed within each line.
func cellText(sel *goquery.Selection) string {
	var b strings.Builder
	for _, n := range sel.Nodes {
		renderText(&b, n)
	}
	lines := strings.Split(b.String(), "\n")
	out := lines[:0]
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}

func renderText(b *strings.Builder, n *html.Node) {
	switch n.Type {
	case html.TextNode:
		b.WriteString(n.Data)
		return
	case html.ElementNode:
		if n.Data == "script" || n.Data == "style" {
			return
		}
		if n.Data == "br" {
			b.WriteByte('\n')
			return
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		renderText(b, c)
	}
	if n.Type == html.ElementNode && blockElements[n.Data] {
		b.WriteByte('\n')
	}
}

// flatten joins a multi-line cell into one line.
func flatten(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// SplitCharges breaks a charge cell into individual descriptions. Cells use
// <br>, semicolons or newlines between charges.
func SplitCharges(cell string) []string {
	parts := strings.FieldsFunc(cell, func(r rune) bool {
		return r == '\n' || r == ';'
	})
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = flatten(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// headerKey reduces header or label text to lowercase letters, digits and '#'.
func headerKey(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '#':
			b.WriteRune(r)
		}
	}
	return b.String()
}
