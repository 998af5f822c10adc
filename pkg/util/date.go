package util

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// RunDateLayout is the layout of run-date keys.
const RunDateLayout = "2006-01-02"

// ParseTime tries RFC3339, RFC3339Nano, and unix seconds. Returns (t, true) if any worked.
func ParseTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, true
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, true
	}
	if ts, err := strconv.ParseInt(s, 10, 64); err == nil && ts > 0 {
		return time.Unix(ts, 0), true
	}
	return time.Time{}, false
}

// ParseTimeDefault parses time or returns default if empty/invalid.
func ParseTimeDefault(s string, def time.Time) time.Time {
	if t, ok := ParseTime(s); ok {
		return t
	}
	return def
}

// RunDate truncates t to the start of its calendar day in loc.
func RunDate(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

// ParseRunDate parses a YYYY-MM-DD key in loc. An empty string yields today.
func ParseRunDate(s string, now time.Time, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	if strings.TrimSpace(s) == "" {
		return RunDate(now, loc), nil
	}
	t, err := time.ParseInLocation(RunDateLayout, strings.TrimSpace(s), loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("run date %q: %w", s, err)
	}
	return t, nil
}

// RunDateKey formats a run date as YYYY-MM-DD.
func RunDateKey(t time.Time) string {
	return t.Format(RunDateLayout)
}
