package checkin

import (
	"context"
	"time"

	"github.com/beltline/progression-engine/internal/domain/user"
)

// Ledger is the append-only store of check-ins.
type Ledger interface {
	// Append inserts r. A second record with the same Key fails with
	// shared.ErrDuplicateCategoryToday, even under concurrent callers.
	Append(ctx context.Context, r *Record) error

	// ListDays returns the distinct days with at least one record on or
	// before asOf, newest first.
	ListDays(ctx context.Context, userID user.ID, asOf time.Time) ([]time.Time, error)

	// CountBetween counts records with from <= day <= to.
	CountBetween(ctx context.Context, userID user.ID, from, to time.Time) (int, error)

	// SumPoints totals the points of every record of the user.
	SumPoints(ctx context.Context, userID user.ID) (int, error)

	// List returns records with from <= day <= to, newest first.
	List(ctx context.Context, userID user.ID, from, to time.Time) ([]*Record, error)

	// ActiveUsers returns users with at least one record on or after since.
	ActiveUsers(ctx context.Context, since time.Time) ([]user.ID, error)
}
