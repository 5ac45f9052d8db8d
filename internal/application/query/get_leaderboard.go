package query

import (
	"context"
	"time"

	"github.com/beltline/progression-engine/internal/domain/shared"
	"github.com/beltline/progression-engine/pkg/logger"
	"github.com/beltline/progression-engine/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET LEADERBOARD QUERY
// Reads the top of the points ranking. When the ranking store is down or
// empty the cached totals on the user rows are used instead.
// ══════════════════════════════════════════════════════════════════════════════

// GetLeaderboardQuery holds the paging parameters.
type GetLeaderboardQuery struct {
	// Limit defaults to 20 and is capped at 100.
	Limit int
}

// Validate normalises the limit.
func (q *GetLeaderboardQuery) Validate() error {
	if q.Limit < 0 {
		return shared.ValidationError("leaderboard", "Get", "limit", "cannot be negative")
	}
	if q.Limit == 0 {
		q.Limit = 20
	}
	if q.Limit > 100 {
		q.Limit = 100
	}
	return nil
}

// LeaderboardResult is the ranking page.
type LeaderboardResult struct {
	Entries     []RankEntry `json:"entries"`
	Source      string      `json:"source"`
	GeneratedAt time.Time   `json:"generated_at"`
}

const (
	SourceRanking = "ranking"
	SourceUsers   = "users"
)

// GetLeaderboardHandler reads the ranking.
type GetLeaderboardHandler struct {
	ranking Ranking
	users   UserLister
	clock   timeutil.Clock
	log     *logger.Logger
}

// NewGetLeaderboardHandler creates a GetLeaderboardHandler.
func NewGetLeaderboardHandler(ranking Ranking, users UserLister, clock timeutil.Clock, log *logger.Logger) *GetLeaderboardHandler {
	if ranking == nil {
		ranking = NopRanking{}
	}
	if log == nil {
		log = logger.Nop()
	}
	return &GetLeaderboardHandler{ranking: ranking, users: users, clock: clock, log: log}
}

// Handle executes the query.
func (h *GetLeaderboardHandler) Handle(ctx context.Context, q GetLeaderboardQuery) (*LeaderboardResult, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	entries, err := h.ranking.Top(ctx, q.Limit)
	if err == nil && len(entries) > 0 {
		return &LeaderboardResult{Entries: entries, Source: SourceRanking, GeneratedAt: h.clock.Now()}, nil
	}
	if err != nil {
		h.log.Warn("ranking unavailable, reading user totals", logger.Err(err))
	}

	users, err := h.users.TopByPoints(ctx, q.Limit)
	if err != nil {
		return nil, err
	}
	entries = make([]RankEntry, 0, len(users))
	for i, u := range users {
		entries = append(entries, RankEntry{UserID: u.ID, Points: u.TotalPoints, Position: i + 1})
	}
	return &LeaderboardResult{Entries: entries, Source: SourceUsers, GeneratedAt: h.clock.Now()}, nil
}
