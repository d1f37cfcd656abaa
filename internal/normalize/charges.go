package normalize

import (
	"regexp"
	"strings"

	"github.com/JakeFAU/docket-scraper/internal/records"
)

// Felony keywords are checked before misdemeanor keywords, so "AGGRAVATED
// BATTERY" is a felony even though BATTERY alone is a misdemeanor.
var (
	felonyKeywords = []string{
		"FELONY", "FEL", "MURDER", "HOMICIDE", "MANSLAUGHTER", "RAPE", "KIDNAPPING",
		"ARMED ROBBERY", "ROBBERY", "AGGRAVATED", "AGG", "BURGLARY", "ARSON",
		"TRAFFICKING", "POSSESSION WITH INTENT", "PWID", "CHILD MOLESTATION",
		"CRUELTY TO CHILDREN", "FORGERY", "IDENTITY FRAUD", "ENTERING AUTO",
		"THEFT BY RECEIVING", "HOME INVASION", "FLEEING OR ATTEMPTING TO ELUDE",
		"POSSESSION OF FIREARM BY CONVICTED FELON", "METHAMPHETAMINE", "COCAINE",
	}
	misdemeanorKeywords = []string{
		"MISDEMEANOR", "MISD", "SIMPLE BATTERY", "SIMPLE ASSAULT", "BATTERY",
		"DUI", "DRIVING UNDER THE INFLUENCE", "SPEEDING", "SHOPLIFTING",
		"THEFT BY TAKING", "CRIMINAL TRESPASS", "TRESPASS", "DISORDERLY CONDUCT",
		"PUBLIC DRUNKENNESS", "PUBLIC INTOXICATION", "DRIVING WHILE LICENSE SUSPENDED",
		"NO INSURANCE", "FAILURE TO APPEAR", "POSSESSION OF MARIJUANA LESS THAN",
		"OBSTRUCTION", "PROBATION VIOLATION", "CONTEMPT",
	}

	felonyPatterns      = keywordPatterns(felonyKeywords)
	misdemeanorPatterns = keywordPatterns(misdemeanorKeywords)
)

func keywordPatterns(words []string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(words))
	for i, w := range words {
		out[i] = regexp.MustCompile(`\b` + regexp.QuoteMeta(w) + `\b`)
	}
	return out
}

// ClassifyCharge assigns a charge type from keywords in desc.
func ClassifyCharge(desc string) records.ChargeType {
	upper := strings.ToUpper(desc)
	for _, re := range felonyPatterns {
		if re.MatchString(upper) {
			return records.ChargeFelony
		}
	}
	for _, re := range misdemeanorPatterns {
		if re.MatchString(upper) {
			return records.ChargeMisdemeanor
		}
	}
	return records.ChargeUnknown
}

// Charges cleans and classifies raw charge cells, dropping placeholders.
// fallbackDocket tags charges that carry no docket of their own.
func Charges(raw []records.RawCharge, fallbackDocket string) []records.Charge {
	out := make([]records.Charge, 0, len(raw))
	for _, rc := range raw {
		desc := clean(rc.Description)
		if desc == "" {
			continue
		}
		docket := identifier(rc.DocketNumber)
		if docket == "" {
			docket = fallbackDocket
		}
		out = append(out, records.Charge{
			Description:  desc,
			Type:         ClassifyCharge(desc),
			DocketNumber: docket,
		})
	}
	return out
}
