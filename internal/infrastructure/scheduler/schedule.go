package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Every runs a job at a fixed interval.
type Every time.Duration

func (e Every) Next(t time.Time) time.Time { return t.Add(time.Duration(e)) }
func (e Every) String() string             { return "@every " + time.Duration(e).String() }

// Cron is a parsed five-field cron expression
// (minute hour day-of-month month day-of-week). Each field accepts *, n,
// n-m, */s, n-m/s and comma separated lists of those.
//
//	"5 0 * * *"    00:05 every day
//	"*/15 * * * *" every quarter hour
//	"0 3 * * 1"    03:00 on Mondays
type Cron struct {
	raw    string
	fields [5]uint64
}

var cronBounds = [5][2]int{{0, 59}, {0, 23}, {1, 31}, {1, 12}, {0, 6}}

var cronNames = [5]string{"minute", "hour", "day", "month", "weekday"}

// ParseCron parses a cron expression.
func ParseCron(expr string) (*Cron, error) {
	parts := strings.Fields(expr)
	if len(parts) != 5 {
		return nil, fmt.Errorf("cron %q: expected 5 fields, got %d", expr, len(parts))
	}
	c := &Cron{raw: expr}
	for i, part := range parts {
		bits, err := parseCronField(part, cronBounds[i][0], cronBounds[i][1])
		if err != nil {
			return nil, fmt.Errorf("cron %q: %s field: %w", expr, cronNames[i], err)
		}
		c.fields[i] = bits
	}
	return c, nil
}

func parseCronField(field string, lo, hi int) (uint64, error) {
	var bits uint64
	for _, term := range strings.Split(field, ",") {
		rangePart, step := term, 1
		if i := strings.IndexByte(term, '/'); i >= 0 {
			n, err := strconv.Atoi(term[i+1:])
			if err != nil || n <= 0 {
				return 0, fmt.Errorf("bad step in %q", term)
			}
			rangePart, step = term[:i], n
		}

		start, end := lo, hi
		switch {
		case rangePart == "*":
		case strings.Contains(rangePart, "-"):
			a, b, _ := strings.Cut(rangePart, "-")
			var err1, err2 error
			start, err1 = strconv.Atoi(a)
			end, err2 = strconv.Atoi(b)
			if err1 != nil || err2 != nil {
				return 0, fmt.Errorf("bad range %q", rangePart)
			}
		default:
			n, err := strconv.Atoi(rangePart)
			if err != nil {
				return 0, fmt.Errorf("bad value %q", rangePart)
			}
			start = n
			if step == 1 {
				end = n
			}
		}
		if start < lo || end > hi || start > end {
			return 0, fmt.Errorf("%q out of range [%d-%d]", term, lo, hi)
		}
		for v := start; v <= end; v += step {
			bits |= 1 << uint(v)
		}
	}
	return bits, nil
}

func (c *Cron) String() string { return c.raw }

// Next returns the first matching minute strictly after t, in t's location.
// A zero time means nothing matches within a year.
func (c *Cron) Next(t time.Time) time.Time {
	next := t.Truncate(time.Minute).Add(time.Minute)
	limit := next.AddDate(1, 0, 1)
	for next.Before(limit) {
		if !c.has(3, int(next.Month())) {
			next = time.Date(next.Year(), next.Month()+1, 1, 0, 0, 0, 0, next.Location())
			continue
		}
		if !c.has(2, next.Day()) || !c.has(4, int(next.Weekday())) {
			next = time.Date(next.Year(), next.Month(), next.Day()+1, 0, 0, 0, 0, next.Location())
			continue
		}
		if !c.has(1, next.Hour()) {
			next = time.Date(next.Year(), next.Month(), next.Day(), next.Hour()+1, 0, 0, 0, next.Location())
			continue
		}
		if !c.has(0, next.Minute()) {
			next = next.Add(time.Minute)
			continue
		}
		return next
	}
	return time.Time{}
}

func (c *Cron) has(field, v int) bool { return c.fields[field]&(1<<uint(v)) != 0 }

// ParseSchedule accepts either "@every <duration>" or a cron expression.
func ParseSchedule(spec string) (Schedule, error) {
	spec = strings.TrimSpace(spec)
	if rest, ok := strings.CutPrefix(spec, "@every "); ok {
		d, err := time.ParseDuration(strings.TrimSpace(rest))
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("schedule %q: bad interval", spec)
		}
		return Every(d), nil
	}
	if spec == "@daily" {
		spec = "0 0 * * *"
	}
	return ParseCron(spec)
}
