// Package timecodec converts between local wall-clock times and the wire
// representation used by the events API.
//
// Writes: all-day values are the local calendar date (YYYY-MM-DD), timed
// values are the instant in UTC with millisecond precision and a trailing Z.
//
// Reads: timestamps carrying a zone designator are honored; naive timestamps
// (including the server's space-separated form) and bare dates are read as
// wall-clock time in the caller's location.
package timecodec

import (
	"errors"
	"strings"
	"time"
)

const (
	// DateLayout is the all-day wire format.
	DateLayout = "2006-01-02"
	// UTCLayout is the timed wire format for writes.
	UTCLayout = "2006-01-02T15:04:05.000Z"
	// NaiveLayout is used for list query parameters (no zone suffix).
	NaiveLayout = "2006-01-02T15:04:05"
)

// ErrEmpty is returned by ParseWire for an empty value.
var ErrEmpty = errors.New("timecodec: empty time value")

var naiveLayouts = []string{
	NaiveLayout,
	"2006-01-02T15:04",
	DateLayout,
}

// ToWire serializes t for a create/patch body. The zero time stands for an
// unset value and yields "".
func ToWire(t time.Time, allDay bool) string {
	if t.IsZero() {
		return ""
	}
	if allDay {
		return t.Format(DateLayout)
	}
	return t.UTC().Format(UTCLayout)
}

// NaiveLocal formats t as a wall-clock timestamp without zone, in t's own
// location.
func NaiveLocal(t time.Time) string {
	return t.Format(NaiveLayout)
}

// ParseWire parses a wire timestamp. A space between date and time is
// treated as the T separator. Values without a zone are interpreted in loc
// (time.Local when nil).
func ParseWire(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, ErrEmpty
	}
	if loc == nil {
		loc = time.Local
	}
	s = strings.Replace(s, " ", "T", 1)

	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	var lastErr error
	for _, layout := range naiveLayouts {
		t, err := time.ParseInLocation(layout, s, loc)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}

// StartOfDay truncates t to local midnight in t's location.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// ExclusiveEnd returns the all-day wire end for an event spanning from start
// through inclusiveEnd. A zero inclusiveEnd means a single day.
func ExclusiveEnd(start, inclusiveEnd time.Time) string {
	last := start
	if !inclusiveEnd.IsZero() {
		last = inclusiveEnd
	}
	return StartOfDay(last).AddDate(0, 0, 1).Format(DateLayout)
}

// InclusiveEnd converts an all-day wire end (first excluded day) into the
// last included day shown to users. It returns "" when end is empty or
// malformed.
func InclusiveEnd(end string) string {
	t, err := time.Parse(DateLayout, strings.TrimSpace(end))
	if err != nil {
		return ""
	}
	return t.AddDate(0, 0, -1).Format(DateLayout)
}

// DaySpan formats the days an all-day event covers: "2025-11-07" for a
// single day, "2025-11-07 – 2025-11-09" when the exclusive wire end is later.
func DaySpan(start, end string) string {
	first := datePart(start)
	last := InclusiveEnd(datePart(end))
	if last == "" || last <= first {
		return first
	}
	return first + " – " + last
}

// datePart keeps the YYYY-MM-DD prefix of a wire value.
func datePart(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > len(DateLayout) {
		s = s[:len(DateLayout)]
	}
	return s
}
