// Package checkin implements the append-only daily check-in ledger and the
// streak arithmetic derived from it.
package checkin

import (
	"strings"
	"time"

	"github.com/beltline/progression-engine/internal/domain/shared"
	"github.com/beltline/progression-engine/internal/domain/user"
	"github.com/beltline/progression-engine/pkg/timeutil"
)

// Category is one of the four daily development dimensions.
type Category string

const (
	Professional Category = "P"
	Intellectual Category = "I"
	Physical     Category = "F"
	Emotional    Category = "E"
)

// Categories lists every category in display order.
var Categories = []Category{Professional, Intellectual, Physical, Emotional}

// ParseCategory accepts the one-letter code or the long name.
func ParseCategory(s string) (Category, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "p", "professional":
		return Professional, nil
	case "i", "intellectual":
		return Intellectual, nil
	case "f", "physical", "fitness":
		return Physical, nil
	case "e", "emotional":
		return Emotional, nil
	default:
		return "", shared.ErrInvalidCategory
	}
}

func (c Category) IsValid() bool {
	switch c {
	case Professional, Intellectual, Physical, Emotional:
		return true
	default:
		return false
	}
}

func (c Category) String() string { return string(c) }

// RecordID identifies a ledger entry.
type RecordID string

// Record is a single ledger entry. Records are never updated or deleted.
type Record struct {
	ID       RecordID
	UserID   user.ID
	Day      time.Time // civil date, see timeutil
	Category Category
	Note     string
	// EvidenceRef points into external file storage.
	EvidenceRef string
	Points      int
	// Validated is set when the entry carries evidence.
	Validated bool
	CreatedAt time.Time
}

// NewRecordParams holds the inputs of NewRecord.
type NewRecordParams struct {
	ID          RecordID
	UserID      user.ID
	Day         time.Time
	Category    Category
	Note        string
	EvidenceRef string
	Points      int
	CreatedAt   time.Time
}

// NewRecord validates and builds a ledger entry.
func NewRecord(p NewRecordParams) (*Record, error) {
	if p.ID == "" {
		return nil, shared.ValidationError("checkin", "Record", "id", "required")
	}
	if !p.UserID.IsValid() {
		return nil, shared.ErrInvalidUserID
	}
	if !p.Category.IsValid() {
		return nil, shared.ErrInvalidCategory
	}
	if p.Day.IsZero() {
		return nil, shared.ValidationError("checkin", "Record", "date", "required")
	}
	if p.Points <= 0 {
		return nil, shared.ValidationError("checkin", "Record", "points", "must be > 0")
	}
	if len(p.Note) > 2000 {
		return nil, shared.ValidationError("checkin", "Record", "note", "too long")
	}
	ref := strings.TrimSpace(p.EvidenceRef)
	return &Record{
		ID:          p.ID,
		UserID:      p.UserID,
		Day:         timeutil.Normalize(p.Day),
		Category:    p.Category,
		Note:        strings.TrimSpace(p.Note),
		EvidenceRef: ref,
		Points:      p.Points,
		Validated:   ref != "",
		CreatedAt:   p.CreatedAt,
	}, nil
}

// Key is the uniqueness key of the ledger.
type Key struct {
	UserID   user.ID
	Day      string
	Category Category
}

func (r *Record) Key() Key {
	return Key{UserID: r.UserID, Day: timeutil.FormatDay(r.Day), Category: r.Category}
}

// AcceptDay checks a requested check-in day against today: future days are
// rejected, and past days only within backfillDays.
func AcceptDay(requested, today time.Time, backfillDays int) error {
	diff := timeutil.DaysBetween(requested, today)
	if diff < 0 {
		return shared.WrapError("checkin", "Record", shared.ErrFutureTimestamp, "check-in date is in the future", shared.ErrCheckinDateNotAllowed)
	}
	if diff > backfillDays {
		return shared.ErrCheckinDateNotAllowed
	}
	return nil
}
