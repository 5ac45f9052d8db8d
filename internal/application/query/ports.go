// Package query contains read operations (CQRS - Queries) and the score
// and eligibility computations shared with the command side.
package query

import (
	"context"

	"github.com/beltline/progression-engine/internal/domain/user"
)

// RankEntry is one row of the points ranking.
type RankEntry struct {
	UserID   user.ID `json:"user_id"`
	Points   int     `json:"points"`
	Position int     `json:"position"`
}

// Ranking is the best-effort leaderboard store. Implementations swallow
// nothing: callers decide whether a failure matters.
type Ranking interface {
	// Update records points computed under the given stats version. Writes
	// older than the stored version are dropped.
	Update(ctx context.Context, userID user.ID, points int, version int64) error
	Top(ctx context.Context, n int) ([]RankEntry, error)
}

// UserLister lists users by cached points. It backs the leaderboard when
// the ranking store is unavailable or empty.
type UserLister interface {
	TopByPoints(ctx context.Context, limit int) ([]*user.User, error)
}

// NopRanking is used when no ranking store is configured.
type NopRanking struct{}

func (NopRanking) Update(context.Context, user.ID, int, int64) error { return nil }
func (NopRanking) Top(context.Context, int) ([]RankEntry, error)     { return nil, nil }
