package database

import (
	"fmt"
	"time"
)

const (
	dateLayout      = "2006-01-02"
	timestampLayout = "2006-01-02 15:04:05"
)

// GetToday returns today's date as YYYY-MM-DD.
func GetToday() string {
	return FormatDate(time.Now())
}

// FormatDate renders t as a stored date.
func FormatDate(t time.Time) string {
	return t.Format(dateLayout)
}

// FormatTimestamp renders t in the layout SQLite's datetime() produces.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

// AddDays shifts a YYYY-MM-DD date by n days.
func AddDays(date string, n int) (string, error) {
	d, err := time.Parse(dateLayout, date)
	if err != nil {
		return "", fmt.Errorf("parsing date %q: %w", date, err)
	}
	return d.AddDate(0, 0, n).Format(dateLayout), nil
}

// ParseTimestamp accepts the timestamp shapes collaborators write into
// sent_at. It returns false for anything else.
func ParseTimestamp(s string) (time.Time, bool) {
	for _, layout := range []string{timestampLayout, time.RFC3339, "2006-01-02T15:04:05", dateLayout} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// FormatDateDisplay formats a stored date for human-readable display.
// "2026-02-06" becomes "Feb 06, 2026"; anything unparsable is returned as is.
func FormatDateDisplay(date string) string {
	d, err := time.Parse(dateLayout, date)
	if err != nil {
		return date
	}
	return d.Format("Jan 02, 2006")
}
