package normalize

import (
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// NoAmountSet is stored when bond text carries no amount.
const NoAmountSet = "No Amount Set"

var (
	amountPattern    = regexp.MustCompile(`\$?\s*(\d[\d,]*(?:\.\d{1,2})?)`)
	bondTypePattern  = regexp.MustCompile(`(?i)\b(cash|property|surety)\s*:`)
	notReadyPattern  = regexp.MustCompile(`(?i)\bnot\s+ready\b`)
	readyPattern     = regexp.MustCompile(`(?i)\bready\b`)
	bondStatusStrips = regexp.MustCompile(`(?i)\(?\b(?:not\s+)?ready\b\)?`)
)

// Bond builds the composite bond string from the bond cell, a separate fees
// cell and a bond status cell. It returns "" when all inputs are empty or
// placeholders, and NoAmountSet when text is present without any amount.
func Bond(bond, fees, status string) string {
	bond, fees, status = clean(bond), clean(fees), clean(status)
	if bond == "" && fees == "" {
		return ""
	}

	// A status may be embedded in the bond cell itself.
	if status == "" {
		status = bond
	}
	bondText := bondStatusStrips.ReplaceAllString(bond, "")

	var parts []string
	if amount, ok := parseAmount(bondText); ok {
		label := ""
		if m := bondTypePattern.FindStringSubmatch(bondText); m != nil {
			label = cases.Title(language.English).String(m[1]) + ": "
		}
		parts = append(parts, label+formatMoney(amount))
	}
	if amount, ok := parseAmount(fees); ok {
		parts = append(parts, "Fees: "+formatMoney(amount))
	}
	if len(parts) == 0 {
		return NoAmountSet
	}

	out := strings.Join(parts, " + ")
	switch {
	case notReadyPattern.MatchString(status):
		out += " (NOT READY)"
	case readyPattern.MatchString(status):
		out += " (READY)"
	}
	return out
}

func parseAmount(s string) (float64, bool) {
	m := amountPattern.FindStringSubmatch(s)
	if m == nil {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", ""), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func formatMoney(v float64) string {
	return message.NewPrinter(language.English).Sprintf("$%.2f", v)
}
