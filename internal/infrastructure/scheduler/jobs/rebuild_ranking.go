package jobs

import (
	"context"
	"time"

	"github.com/beltline/progression-engine/internal/application/query"
	"github.com/beltline/progression-engine/internal/domain/user"
	"github.com/beltline/progression-engine/pkg/logger"
	"github.com/beltline/progression-engine/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// REBUILD RANKING JOB
// ══════════════════════════════════════════════════════════════════════════════

// RankingRebuilder replaces the whole points ranking.
type RankingRebuilder interface {
	Rebuild(ctx context.Context, totals map[user.ID]int, at time.Time) error
}

// RebuildRankingJob reloads the points ranking from the users' cached
// totals, dropping entries the incremental updates missed.
type RebuildRankingJob struct {
	users   query.UserLister
	ranking RankingRebuilder
	clock   timeutil.Clock
	limit   int
	log     *logger.Logger
}

// NewRebuildRankingJob creates the job. limit caps how many users are
// loaded into the ranking.
func NewRebuildRankingJob(users query.UserLister, ranking RankingRebuilder, clock timeutil.Clock, limit int, log *logger.Logger) *RebuildRankingJob {
	if log == nil {
		log = logger.Nop()
	}
	if limit <= 0 {
		limit = 10000
	}
	return &RebuildRankingJob{
		users:   users,
		ranking: ranking,
		clock:   clock,
		limit:   limit,
		log:     log.With(logger.Component("rebuild_ranking")),
	}
}

func (j *RebuildRankingJob) Name() string { return "rebuild_ranking" }

func (j *RebuildRankingJob) Description() string {
	return "reloads the points ranking from cached user totals"
}

func (j *RebuildRankingJob) Run(ctx context.Context) error {
	start := j.clock.Now()
	users, err := j.users.TopByPoints(ctx, j.limit)
	if err != nil {
		return err
	}
	totals := make(map[user.ID]int, len(users))
	for _, u := range users {
		totals[u.ID] = u.TotalPoints
	}
	if err := j.ranking.Rebuild(ctx, totals, start); err != nil {
		return err
	}
	j.log.Info("ranking rebuilt", logger.Int("users", len(totals)))
	return nil
}
