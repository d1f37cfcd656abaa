package normalize

import "strings"

var placeholders = map[string]bool{
	"":               true,
	"inmate details": true,
	"*in jail*":      true,
	"in jail":        true,
	"unknown":        true,
	"n/a":            true,
	"na":             true,
	"none":           true,
	"null":           true,
	"-":              true,
	"--":             true,
	"tbd":            true,
	"not available":  true,
	"&nbsp;":         true,
}

// IsPlaceholder reports whether s is filler text the upstream shows in place
// of a real value.
func IsPlaceholder(s string) bool {
	return placeholders[strings.ToLower(collapse(s))]
}

// collapse trims s and folds internal whitespace runs to one space.
func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// clean returns the collapsed value, or "" for placeholders.
func clean(s string) string {
	s = collapse(s)
	if IsPlaceholder(s) {
		return ""
	}
	return s
}
