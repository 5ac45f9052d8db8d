// Package timeutil provides calendar-day arithmetic and an injectable clock.
//
// A "day" throughout the engine is a civil date in the organisation's
// configured time zone. Days are represented as time.Time values at 00:00
// UTC of that civil date, which makes them comparable with == after
// normalisation, safe to add to with AddDate, and identical to what pgx
// scans out of a DATE column.
package timeutil

import (
	"fmt"
	"sync"
	"time"
)

// DayLayout is the wire format of a calendar day.
const DayLayout = "2006-01-02"

// Clock abstracts time.Now so that rules depending on "today" are testable.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// FixedClock always returns the same instant until moved with Set or Advance.
type FixedClock struct {
	mu sync.RWMutex
	t  time.Time
}

// NewFixedClock creates a FixedClock frozen at t.
func NewFixedClock(t time.Time) *FixedClock {
	return &FixedClock{t: t}
}

func (c *FixedClock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.t
}

// Set moves the clock to t.
func (c *FixedClock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

// Advance moves the clock forward by d.
func (c *FixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// LoadLocation resolves an IANA zone name. An empty name means UTC.
func LoadLocation(name string) (*time.Location, error) {
	if name == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("load location %q: %w", name, err)
	}
	return loc, nil
}

// Day builds a day value from its civil components.
func Day(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// DayOf returns the civil date of t as observed in loc.
func DayOf(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	local := t.In(loc)
	return Day(local.Year(), local.Month(), local.Day())
}

// Today returns the current civil date in loc according to clock.
func Today(clock Clock, loc *time.Location) time.Time {
	return DayOf(clock.Now(), loc)
}

// Normalize drops any time-of-day component and zone from a day value.
func Normalize(d time.Time) time.Time {
	return Day(d.Year(), d.Month(), d.Day())
}

// AddDays shifts a day by n calendar days.
func AddDays(d time.Time, n int) time.Time {
	return Normalize(d).AddDate(0, 0, n)
}

// DaysBetween returns the number of calendar days from a to b. It is
// negative when b precedes a.
func DaysBetween(a, b time.Time) int {
	return int(Normalize(b).Sub(Normalize(a)).Hours() / 24)
}

// SameDay reports whether two day values denote the same civil date.
func SameDay(a, b time.Time) bool {
	return a.Year() == b.Year() && a.Month() == b.Month() && a.Day() == b.Day()
}

// ParseDay parses a YYYY-MM-DD string.
func ParseDay(s string) (time.Time, error) {
	t, err := time.Parse(DayLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid day %q: expected %s", s, DayLayout)
	}
	return t, nil
}

// FormatDay renders a day as YYYY-MM-DD.
func FormatDay(d time.Time) string {
	return d.Format(DayLayout)
}

// WindowStart returns the first day of a trailing window of size days that
// ends on (and includes) asOf.
func WindowStart(asOf time.Time, size int) time.Time {
	if size < 1 {
		size = 1
	}
	return AddDays(asOf, -(size - 1))
}
