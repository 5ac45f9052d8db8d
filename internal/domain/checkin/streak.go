package checkin

import (
	"sort"
	"time"

	"github.com/beltline/progression-engine/internal/domain/user"
	"github.com/beltline/progression-engine/pkg/timeutil"
)

// ComputeStreak counts consecutive calendar days ending at asOf on which at
// least one check-in exists. The scan walks backwards from asOf and stops
// at the first day without a record, so a day asOf without records yields
// zero. Days after asOf are ignored; duplicates and ordering of days do not
// matter.
func ComputeStreak(days []time.Time, asOf time.Time) int {
	if len(days) == 0 {
		return 0
	}
	asOf = timeutil.Normalize(asOf)

	distinct := make(map[time.Time]struct{}, len(days))
	for _, d := range days {
		distinct[timeutil.Normalize(d)] = struct{}{}
	}

	streak := 0
	for cursor := asOf; ; cursor = timeutil.AddDays(cursor, -1) {
		if _, ok := distinct[cursor]; !ok {
			return streak
		}
		streak++
	}
}

// CountBetween returns how many of userID's records fall on a day in
// [from, to]. Every record counts, so four categories on one day count four
// times.
func CountBetween(records []*Record, userID user.ID, from, to time.Time) int {
	from, to = timeutil.Normalize(from), timeutil.Normalize(to)
	n := 0
	for _, r := range records {
		if r.UserID == userID && !r.Day.Before(from) && !r.Day.After(to) {
			n++
		}
	}
	return n
}

// DistinctDays returns the sorted (descending) set of days present in records.
func DistinctDays(records []*Record) []time.Time {
	seen := make(map[time.Time]struct{}, len(records))
	out := make([]time.Time, 0, len(records))
	for _, r := range records {
		d := timeutil.Normalize(r.Day)
		if _, ok := seen[d]; ok {
			continue
		}
		seen[d] = struct{}{}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].After(out[j]) })
	return out
}
