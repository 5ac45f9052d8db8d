// Package user holds the participant aggregate: current belt and degree plus
// cached activity statistics.
//
// Belt and degree change only through Promote, which is driven by a recorded
// exam outcome. Everything else on the aggregate is a cache that can be
// recomputed from the check-in ledger and progress records.
package user

import (
	"strings"
	"time"

	"github.com/beltline/progression-engine/internal/domain/belt"
	"github.com/beltline/progression-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// VALUE OBJECTS
// ══════════════════════════════════════════════════════════════════════════════

// ID is the identifier issued by the external identity provider.
type ID string

// IsValid checks that the ID is non-empty, bounded and free of whitespace.
func (id ID) IsValid() bool {
	s := string(id)
	return len(s) > 0 && len(s) <= 128 && !strings.ContainsAny(s, " \t\n\r")
}

func (id ID) String() string { return string(id) }

// Stats is the cached view of ledger-derived numbers.
type Stats struct {
	CurrentStreak int
	TotalPoints   int
	RefreshedAt   time.Time

	// Version orders refreshes: it is drawn before the ledger is read, so a
	// higher version has seen at least every entry a lower one saw.
	Version int64
}

// Advancement selects what a passed exam grants.
type Advancement int

const (
	AdvanceDegree Advancement = iota + 1
	AdvanceBelt
)

// Promotion is the audit entry written whenever belt or degree is touched.
type Promotion struct {
	UserID    ID
	SessionID string
	From      belt.Rank
	To        belt.Rank
	At        time.Time
}

// Changed reports whether the promotion moved the user at all. A degree pass
// at the top degree is recorded but leaves the rank unchanged.
func (p Promotion) Changed() bool { return p.From != p.To }

// ══════════════════════════════════════════════════════════════════════════════
// MAIN ENTITY: USER
// ══════════════════════════════════════════════════════════════════════════════

// User is a participant on the progression ladder.
type User struct {
	ID ID

	Belt   belt.Belt
	Degree belt.Degree

	// TotalPoints and CurrentStreak are caches; reads recompute them.
	TotalPoints   int
	CurrentStreak int

	StatsRefreshedAt time.Time
	StatsVersion     int64

	// Version guards belt/degree writes with optimistic locking.
	Version int64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// New creates a participant at the bottom of the ladder.
func New(id ID, now time.Time) (*User, error) {
	if !id.IsValid() {
		return nil, shared.ErrInvalidUserID
	}
	return &User{
		ID:        id,
		Belt:      belt.White,
		Degree:    belt.MinDegree,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// Validate checks the aggregate's invariants. Repositories call it after
// loading a row so corrupt data is reported instead of propagated.
func (u *User) Validate() error {
	if !u.ID.IsValid() {
		return shared.ErrInvalidUserID
	}
	if !u.Belt.IsValid() {
		return shared.ErrInvalidBelt
	}
	if !u.Degree.IsValid() {
		return shared.ErrDegreeOutOfRange
	}
	return nil
}

// Rank returns the current belt/degree pair.
func (u *User) Rank() belt.Rank {
	return belt.Rank{Belt: u.Belt, Degree: u.Degree}
}

// ApplyStats refreshes the cached statistics and reports whether the streak
// value changed.
func (u *User) ApplyStats(s Stats) (streakChanged bool) {
	streakChanged = u.CurrentStreak != s.CurrentStreak
	u.CurrentStreak = s.CurrentStreak
	u.TotalPoints = s.TotalPoints
	u.StatsRefreshedAt = s.RefreshedAt
	u.StatsVersion = s.Version
	u.UpdatedAt = s.RefreshedAt
	return streakChanged
}

// Promote applies a passed exam.
//
// A degree pass adds one degree, capped at the maximum. A belt pass moves to
// the next belt and resets the degree; passing beyond the top belt is an
// invariant violation since eligibility should have prevented it.
func (u *User) Promote(a Advancement, sessionID string, at time.Time) (Promotion, error) {
	from := u.Rank()

	switch a {
	case AdvanceDegree:
		if !u.Degree.IsMax() {
			u.Degree++
		}
	case AdvanceBelt:
		next, ok := u.Belt.Next()
		if !ok {
			return Promotion{}, shared.ErrTerminalBelt
		}
		u.Belt = next
		u.Degree = belt.MinDegree
	default:
		return Promotion{}, shared.NewDomainError("user", "Promote", shared.ErrInvariant, "unknown advancement")
	}

	u.UpdatedAt = at
	return Promotion{
		UserID:    u.ID,
		SessionID: sessionID,
		From:      from,
		To:        u.Rank(),
		At:        at,
	}, nil
}
