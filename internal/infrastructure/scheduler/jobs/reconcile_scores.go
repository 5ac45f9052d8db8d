package jobs

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/beltline/progression-engine/internal/application/query"
	"github.com/beltline/progression-engine/internal/domain/user"
	"github.com/beltline/progression-engine/pkg/logger"
	"github.com/beltline/progression-engine/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// RECONCILE SCORES JOB
// ══════════════════════════════════════════════════════════════════════════════

// ActiveUsers lists users with ledger activity since a day.
type ActiveUsers interface {
	ActiveUsers(ctx context.Context, since time.Time) ([]user.ID, error)
}

// ScoreRefresher recomputes and stores a user's cached stats.
type ScoreRefresher interface {
	Refresh(ctx context.Context, u *user.User) (*query.Score, error)
}

// UserLoader loads users, provisioning unknown ones.
type UserLoader interface {
	GetOrCreate(ctx context.Context, id user.ID, now time.Time) (*user.User, error)
}

// ReconcileScoresJob rewrites the streak and points cache of every user
// active within the lookback window. A streak silently breaks when a day
// passes without check-ins; this job makes the cache notice.
type ReconcileScoresJob struct {
	ledger   ActiveUsers
	users    UserLoader
	score    ScoreRefresher
	clock    timeutil.Clock
	loc      *time.Location
	lookback int
	workers  int
	log      *logger.Logger

	lastRefreshed atomic.Int64
}

// NewReconcileScoresJob creates the job. lookbackDays bounds which users are
// visited; workers bounds concurrent refreshes.
func NewReconcileScoresJob(ledger ActiveUsers, users UserLoader, score ScoreRefresher, clock timeutil.Clock, loc *time.Location, lookbackDays, workers int, log *logger.Logger) *ReconcileScoresJob {
	if log == nil {
		log = logger.Nop()
	}
	if lookbackDays <= 0 {
		lookbackDays = 30
	}
	if workers <= 0 {
		workers = 4
	}
	return &ReconcileScoresJob{
		ledger:   ledger,
		users:    users,
		score:    score,
		clock:    clock,
		loc:      loc,
		lookback: lookbackDays,
		workers:  workers,
		log:      log.With(logger.Component("reconcile_scores")),
	}
}

func (j *ReconcileScoresJob) Name() string { return "reconcile_scores" }

func (j *ReconcileScoresJob) Description() string {
	return "recomputes cached streaks and points of recently active users"
}

// LastRefreshed is the number of users refreshed by the previous run.
func (j *ReconcileScoresJob) LastRefreshed() int { return int(j.lastRefreshed.Load()) }

func (j *ReconcileScoresJob) Run(ctx context.Context) error {
	now := j.clock.Now()
	since := timeutil.AddDays(timeutil.Today(j.clock, j.loc), -(j.lookback - 1))
	ids, err := j.ledger.ActiveUsers(ctx, since)
	if err != nil {
		return err
	}

	var refreshed, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(j.workers)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			u, err := j.users.GetOrCreate(gctx, id, now)
			if err == nil {
				_, err = j.score.Refresh(gctx, u)
			}
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				failed.Add(1)
				j.log.Warn("refresh failed", logger.UserID(string(id)), logger.Err(err))
				return nil
			}
			refreshed.Add(1)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	j.lastRefreshed.Store(refreshed.Load())
	j.log.Info("scores reconciled",
		logger.Int("active_users", len(ids)),
		logger.Int64("refreshed", refreshed.Load()),
		logger.Int64("failed", failed.Load()),
	)
	return nil
}
