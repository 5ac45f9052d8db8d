package checkin

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beltline/progression-engine/internal/domain/shared"
	"github.com/beltline/progression-engine/internal/domain/user"
	"github.com/beltline/progression-engine/pkg/timeutil"
)

func day(d int) time.Time { return timeutil.Day(2026, time.March, d) }

func TestParseCategory(t *testing.T) {
	for in, want := range map[string]Category{"P": Professional, "i": Intellectual, "physical": Physical, " E ": Emotional} {
		got, err := ParseCategory(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}
	_, err := ParseCategory("X")
	assert.ErrorIs(t, err, shared.ErrInvalidCategory)
	assert.True(t, shared.IsValidation(err))
}

func TestNewRecordValidation(t *testing.T) {
	r, err := NewRecord(NewRecordParams{
		ID: "c1", UserID: "alice", Day: day(3).Add(15 * time.Hour), Category: Physical,
		Note: " ran 5k ", EvidenceRef: "s3://run.png", Points: 10,
	})
	require.NoError(t, err)
	assert.Equal(t, day(3), r.Day)
	assert.Equal(t, "ran 5k", r.Note)
	assert.True(t, r.Validated)
	assert.Equal(t, Key{UserID: "alice", Day: "2026-03-03", Category: Physical}, r.Key())

	_, err = NewRecord(NewRecordParams{ID: "c2", UserID: "alice", Day: day(3), Category: "Z", Points: 10})
	assert.ErrorIs(t, err, shared.ErrInvalidCategory)

	_, err = NewRecord(NewRecordParams{ID: "c3", UserID: "alice", Day: day(3), Category: Physical})
	assert.True(t, shared.IsValidation(err))
}

func TestAcceptDay(t *testing.T) {
	today := day(10)
	assert.NoError(t, AcceptDay(today, today, 0))
	assert.NoError(t, AcceptDay(day(9), today, 1))
	assert.ErrorIs(t, AcceptDay(day(8), today, 1), shared.ErrCheckinDateNotAllowed)

	err := AcceptDay(day(11), today, 1)
	assert.ErrorIs(t, err, shared.ErrFutureTimestamp)
	assert.True(t, shared.IsValidation(err))
}

func TestComputeStreak(t *testing.T) {
	tests := []struct {
		name string
		days []time.Time
		asOf time.Time
		want int
	}{
		{"empty ledger", nil, day(10), 0},
		{"only today", []time.Time{day(10)}, day(10), 1},
		{"no record on asOf", []time.Time{day(8), day(9)}, day(10), 0},
		{"consecutive", []time.Time{day(8), day(9), day(10)}, day(10), 3},
		{"stops at first gap", []time.Time{day(5), day(6), day(8), day(9), day(10)}, day(10), 3},
		{"duplicates and order ignored", []time.Time{day(10), day(9), day(10), day(9).Add(time.Hour)}, day(10), 2},
		{"future days ignored", []time.Time{day(9), day(10), day(11)}, day(10), 2},
		{"month boundary", []time.Time{timeutil.Day(2026, time.February, 28), timeutil.Day(2026, time.March, 1)}, day(1), 2},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ComputeStreak(tc.days, tc.asOf))
		})
	}
}

func TestCountBetween(t *testing.T) {
	var records []*Record
	add := func(u user.ID, d int, c Category) {
		records = append(records, &Record{UserID: u, Day: day(d), Category: c})
	}
	add("alice", 1, Professional) // outside a 14-day window ending on the 20th
	add("alice", 7, Professional) // first day of the window
	add("alice", 10, Professional)
	add("alice", 10, Emotional)
	add("alice", 20, Physical)
	add("alice", 21, Physical) // after the window
	add("bob", 10, Physical)

	from := timeutil.WindowStart(day(20), 14)
	assert.Equal(t, 4, CountBetween(records, "alice", from, day(20)))
	assert.Equal(t, 1, CountBetween(records, "alice", timeutil.WindowStart(day(20), 1), day(20)))
	assert.Equal(t, 1, CountBetween(records, "bob", from, day(20)))
}

func TestDistinctDays(t *testing.T) {
	records := []*Record{{Day: day(2)}, {Day: day(4)}, {Day: day(2)}, {Day: day(3)}}
	assert.Equal(t, []time.Time{day(4), day(3), day(2)}, DistinctDays(records))
}
