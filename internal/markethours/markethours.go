// Package markethours knows when spot gold trades.
//
// XAUUSD trades around the clock from Sunday 23:00 UTC to Friday 22:00 UTC
// with a one-hour break at 22:00 UTC each day. The start of the break is
// the daily rollover where the daily loss counter resets.
package markethours

import (
	"fmt"
	"time"
)

const (
	RolloverHour = 22 // daily break starts, UTC
	ReopenHour   = 23 // daily break ends, UTC
)

// IsMarketOpen reports whether t falls inside trading hours.
func IsMarketOpen(t time.Time) bool {
	u := t.UTC()
	if IsHoliday(u) {
		return false
	}
	h := u.Hour()
	switch u.Weekday() {
	case time.Saturday:
		return false
	case time.Sunday:
		return h >= ReopenHour
	case time.Friday:
		return h < RolloverHour
	default:
		return h < RolloverHour || h >= ReopenHour
	}
}

// NextOpen returns the next time the market opens after t. If the market is
// open at t, t is returned.
func NextOpen(t time.Time) time.Time {
	u := t.UTC()
	if IsMarketOpen(u) {
		return u
	}
	// walk hour boundaries; at most one week plus a holiday
	h := u.Truncate(time.Hour).Add(time.Hour)
	for i := 0; i < 24*9; i++ {
		if IsMarketOpen(h) {
			return h
		}
		h = h.Add(time.Hour)
	}
	return h
}

// NextRollover returns the first daily rollover strictly after t.
func NextRollover(t time.Time) time.Time {
	u := t.UTC()
	r := time.Date(u.Year(), u.Month(), u.Day(), RolloverHour, 0, 0, 0, time.UTC)
	if !r.After(u) {
		r = r.AddDate(0, 0, 1)
	}
	return r
}

// TradingDay returns the date of the trading day t belongs to. A new
// trading day starts at the rollover.
func TradingDay(t time.Time) time.Time {
	u := t.UTC()
	if u.Hour() >= RolloverHour {
		u = u.AddDate(0, 0, 1)
	}
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// TimeUntilClose returns the time until the next break or weekend close,
// or 0 when the market is closed.
func TimeUntilClose(t time.Time) time.Duration {
	u := t.UTC()
	if !IsMarketOpen(u) {
		return 0
	}
	return NextRollover(u).Sub(u)
}

// StatusString returns a human-readable market status.
func StatusString(t time.Time) string {
	if IsMarketOpen(t) {
		return fmt.Sprintf("market open, break in %s", fmtDur(TimeUntilClose(t)))
	}
	next := NextOpen(t)
	return fmt.Sprintf("market closed, opens %s %s UTC (%s)",
		next.Weekday().String()[:3], next.Format("15:04"), fmtDur(next.Sub(t)))
}

func fmtDur(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	if h > 0 {
		return fmt.Sprintf("%dh%dm", h, m)
	}
	return fmt.Sprintf("%dm", m)
}
