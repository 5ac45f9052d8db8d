package user

import (
	"context"
	"time"
)

// Repository persists participants. Implementations live in
// infrastructure/persistence.
//
// There is deliberately no method that writes belt or degree on its own:
// those columns change only inside the exam outcome transaction.
type Repository interface {
	// Get returns the user or shared.ErrUserNotFound.
	Get(ctx context.Context, id ID) (*User, error)

	// GetOrCreate returns the user, provisioning a white/1 row on first
	// contact. Identity itself is owned by an external system.
	GetOrCreate(ctx context.Context, id ID, now time.Time) (*User, error)

	// NextStatsVersion draws a fresh, strictly increasing stats version.
	NextStatsVersion(ctx context.Context) (int64, error)

	// SaveStats stores the cached streak and points unless a refresh with
	// a version >= stats.Version was stored already. It reports whether the
	// write took effect.
	SaveStats(ctx context.Context, id ID, stats Stats) (bool, error)

	// ListPromotions returns the audit trail, newest first.
	ListPromotions(ctx context.Context, id ID) ([]Promotion, error)
}
