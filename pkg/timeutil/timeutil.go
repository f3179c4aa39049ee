// Package timeutil provides timezone-aware calendar helpers for StudyQuest.
// Every user has their own IANA timezone, so "today", "yesterday" and the
// weekly goal window are always derived from a local calendar date string
// (YYYY-MM-DD) rather than from an instant.
// No external dependencies - uses only standard library.
package timeutil

import (
	"fmt"
	"strings"
	"sync"
	"time"
	_ "time/tzdata" // zone database for hosts without one
)

// FormatDate is the canonical local date format (YYYY-MM-DD).
const FormatDate = "2006-01-02"

// DefaultTimezone is used when a user has no timezone stored.
const DefaultTimezone = "UTC"

// ══════════════════════════════════════════════════════════════════════════════
// CLOCK
// ══════════════════════════════════════════════════════════════════════════════

// Clock abstracts the wall clock so that callers can be tested deterministically.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the real wall clock.
type SystemClock struct{}

// Now returns the current UTC time.
func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}

// FixedClock always returns the same instant.
type FixedClock struct {
	T time.Time
}

// Now returns the fixed instant.
func (c FixedClock) Now() time.Time {
	return c.T
}

// ══════════════════════════════════════════════════════════════════════════════
// LOCATIONS
// ══════════════════════════════════════════════════════════════════════════════

var locationCache sync.Map // map[string]*time.Location

// LoadLocation resolves an IANA timezone name, caching the result.
// An empty name resolves to DefaultTimezone.
func LoadLocation(name string) (*time.Location, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = DefaultTimezone
	}

	if loc, ok := locationCache.Load(name); ok {
		return loc.(*time.Location), nil
	}

	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("timeutil: unknown timezone %q: %w", name, err)
	}

	locationCache.Store(name, loc)
	return loc, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// LOCAL DATES
// ══════════════════════════════════════════════════════════════════════════════

// LocalDate formats the instant t as a calendar date in the given timezone.
func LocalDate(t time.Time, timezone string) (string, error) {
	loc, err := LoadLocation(timezone)
	if err != nil {
		return "", err
	}
	return t.In(loc).Format(FormatDate), nil
}

// Today returns the local date for the clock's current instant.
func Today(clock Clock, timezone string) (string, error) {
	return LocalDate(clock.Now(), timezone)
}

// ParseDate strictly parses a YYYY-MM-DD date at midnight UTC.
func ParseDate(s string) (time.Time, error) {
	if len(s) != len(FormatDate) {
		return time.Time{}, fmt.Errorf("timeutil: malformed date %q", s)
	}
	t, err := time.Parse(FormatDate, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("timeutil: malformed date %q: %w", s, err)
	}
	return t, nil
}

// IsValidDate reports whether s is a well-formed YYYY-MM-DD date.
func IsValidDate(s string) bool {
	_, err := ParseDate(s)
	return err == nil
}

// AddDays shifts a local date by n calendar days.
func AddDays(date string, n int) (string, error) {
	t, err := ParseDate(date)
	if err != nil {
		return "", err
	}
	return t.AddDate(0, 0, n).Format(FormatDate), nil
}

// Yesterday returns the calendar day before date.
func Yesterday(date string) (string, error) {
	return AddDays(date, -1)
}

// DaysBetween returns the number of calendar days from a to b (b - a).
func DaysBetween(a, b string) (int, error) {
	ta, err := ParseDate(a)
	if err != nil {
		return 0, err
	}
	tb, err := ParseDate(b)
	if err != nil {
		return 0, err
	}
	return int(tb.Sub(ta).Hours() / 24), nil
}

// ══════════════════════════════════════════════════════════════════════════════
// WEEKS
// ══════════════════════════════════════════════════════════════════════════════

// WeekIdentifier returns the Monday (YYYY-MM-DD) of the week containing date.
// Weeks run Monday through Sunday.
func WeekIdentifier(date string) (string, error) {
	t, err := ParseDate(date)
	if err != nil {
		return "", err
	}

	weekday := int(t.Weekday())
	if weekday == 0 {
		weekday = 7 // Sunday
	}
	daysToSubtract := weekday - 1 // Monday = 1
	return t.AddDate(0, 0, -daysToSubtract).Format(FormatDate), nil
}

// InWeek reports whether date falls inside the week identified by weekID.
func InWeek(date, weekID string) bool {
	id, err := WeekIdentifier(date)
	if err != nil {
		return false
	}
	return id == weekID
}
