package markethours

import "time"

// Full-day closures observed by most gold CFD venues.
var holidays = []struct {
	month time.Month
	day   int
}{
	{time.January, 1},   // New Year's Day
	{time.December, 25}, // Christmas Day
}

// IsHoliday reports whether t (UTC) falls on a full-day closure.
func IsHoliday(t time.Time) bool {
	u := t.UTC()
	for _, h := range holidays {
		if u.Month() == h.month && u.Day() == h.day {
			return true
		}
	}
	return false
}
