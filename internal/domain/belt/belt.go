// Package belt defines the ordered rank ladder and the degree scale inside
// each rank.
package belt

import (
	"fmt"
	"strings"

	"github.com/beltline/progression-engine/internal/domain/shared"
)

// Belt is a rank tier. The zero value is not a valid belt.
type Belt string

const (
	White  Belt = "white"
	Blue   Belt = "blue"
	Purple Belt = "purple"
	Brown  Belt = "brown"
	Black  Belt = "black"
)

// ladder is the total order of belts, lowest first.
var ladder = []Belt{White, Blue, Purple, Brown, Black}

// All returns every belt in ascending order.
func All() []Belt {
	out := make([]Belt, len(ladder))
	copy(out, ladder)
	return out
}

// Parse accepts a belt name in any case.
func Parse(s string) (Belt, error) {
	b := Belt(strings.ToLower(strings.TrimSpace(s)))
	if !b.IsValid() {
		return "", shared.WrapError("belt", "Parse", shared.ErrValidation, fmt.Sprintf("unknown belt %q", s), shared.ErrInvalidBelt)
	}
	return b, nil
}

func (b Belt) String() string { return string(b) }

// Rank is the zero-based position of b on the ladder, or -1 if b is unknown.
func (b Belt) Rank() int {
	for i, l := range ladder {
		if l == b {
			return i
		}
	}
	return -1
}

func (b Belt) IsValid() bool { return b.Rank() >= 0 }

// Less reports whether b is strictly below other.
func (b Belt) Less(other Belt) bool { return b.Rank() < other.Rank() }

// IsTerminal reports whether b is the highest belt.
func (b Belt) IsTerminal() bool { return b == ladder[len(ladder)-1] }

// Next returns the belt directly above b. ok is false for the terminal belt
// and for unknown values.
func (b Belt) Next() (next Belt, ok bool) {
	r := b.Rank()
	if r < 0 || r == len(ladder)-1 {
		return "", false
	}
	return ladder[r+1], true
}

// Degree is the sub-rank within a belt.
type Degree int

const (
	MinDegree Degree = 1
	MaxDegree Degree = 4
)

func (d Degree) IsValid() bool { return d >= MinDegree && d <= MaxDegree }

// IsMax reports whether no further degree can be gained in the current belt.
func (d Degree) IsMax() bool { return d >= MaxDegree }

// Rank is a position on the combined belt/degree ladder. Progression must
// never decrease it.
type Rank struct {
	Belt   Belt   `json:"belt"`
	Degree Degree `json:"degree"`
}

// Ordinal flattens the rank into a single comparable integer.
func (r Rank) Ordinal() int {
	return r.Belt.Rank()*int(MaxDegree) + int(r.Degree)
}

// Less reports whether r is strictly below other.
func (r Rank) Less(other Rank) bool { return r.Ordinal() < other.Ordinal() }

func (r Rank) String() string { return fmt.Sprintf("%s/%d", r.Belt, r.Degree) }
