package normalize

import "time"

// MinYear is the earliest plausible year for booking, release and filing dates.
const MinYear = 1980

var dateLayouts = []string{
	"01/02/2006 15:04:05",
	"01/02/2006 15:04",
	"1/2/2006 15:04",
	"01/02/2006 3:04:05 PM",
	"01/02/2006 3:04 PM",
	"1/2/2006 3:04:05 PM",
	"1/2/2006 3:04 PM",
	"01/02/2006",
	"1/2/2006",
	"01/02/06",
	"1/2/06",
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"01-02-2006",
	"Jan 2, 2006 3:04 PM",
	"Jan 2, 2006",
	"January 2, 2006",
	"2 Jan 2006",
}

// parseDate tries each known layout in loc and returns the instant in UTC.
// Years outside [MinYear, now.Year()] are treated as absent.
func parseDate(s string, loc *time.Location, now time.Time) *time.Time {
	s = clean(s)
	if s == "" {
		return nil
	}
	for _, layout := range dateLayouts {
		t, err := time.ParseInLocation(layout, s, loc)
		if err != nil {
			continue
		}
		if t.Year() < MinYear || t.Year() > now.Year() {
			return nil
		}
		utc := t.UTC()
		return &utc
	}
	return nil
}
