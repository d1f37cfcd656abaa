package normalize

import (
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var (
	sexCodes = map[string]string{
		"M": "Male", "MALE": "Male",
		"F": "Female", "FEMALE": "Female",
	}
	raceCodes = map[string]string{
		"W": "White", "B": "Black", "H": "Hispanic", "A": "Asian",
		"I": "American Indian", "O": "Other", "M": "Multiracial",
	}
	colorCodes = map[string]string{
		"BLK": "Black", "BRO": "Brown", "BRN": "Brown", "BLN": "Blonde", "BLU": "Blue",
		"GRN": "Green", "GRY": "Gray", "GRA": "Gray", "HAZ": "Hazel", "RED": "Red",
		"WHI": "White", "BAL": "Bald", "SDY": "Sandy", "MUL": "Multicolored",
	}
)

// Name collapses whitespace and title-cases a person name, keeping the
// upstream "LAST, FIRST" order. Placeholders yield "".
func Name(s string) string {
	s = clean(s)
	if s == "" {
		return ""
	}
	return cases.Title(language.English).String(strings.ToLower(s))
}

// identifier upper-cases an LE, docket or case number and removes whitespace.
func identifier(s string) string {
	s = clean(s)
	if s == "" {
		return ""
	}
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return unicode.ToUpper(r)
	}, s)
}

func age(s string) int {
	s = clean(s)
	end := 0
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == 0 {
		return 0
	}
	n, err := strconv.Atoi(s[:end])
	if err != nil || n < 1 || n > 120 {
		return 0
	}
	return n
}

func expand(s string, codes map[string]string) string {
	s = clean(s)
	if s == "" {
		return ""
	}
	upper := strings.ToUpper(s)
	if v, ok := codes[upper]; ok {
		return v
	}
	if upper == "U" {
		return ""
	}
	return cases.Title(language.English).String(strings.ToLower(s))
}
