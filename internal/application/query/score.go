package query

import (
	"context"
	"fmt"
	"time"

	"github.com/beltline/progression-engine/internal/domain/checkin"
	"github.com/beltline/progression-engine/internal/domain/curriculum"
	"github.com/beltline/progression-engine/internal/domain/points"
	"github.com/beltline/progression-engine/internal/domain/progress"
	"github.com/beltline/progression-engine/internal/domain/shared"
	"github.com/beltline/progression-engine/internal/domain/user"
	"github.com/beltline/progression-engine/pkg/logger"
	"github.com/beltline/progression-engine/pkg/timeutil"

	"golang.org/x/sync/errgroup"
)

// ══════════════════════════════════════════════════════════════════════════════
// SCORE CALCULATOR
// Recomputes streak and points from the ledger and the progress records and
// refreshes the cached copies on the user row and in the ranking.
// ══════════════════════════════════════════════════════════════════════════════

// Score is a freshly computed view of a user's points.
type Score struct {
	UserID    user.ID          `json:"user_id"`
	AsOf      string           `json:"as_of"`
	Breakdown points.Breakdown `json:"breakdown"`
}

// ScoreCalculator owns every write to the cached statistics.
type ScoreCalculator struct {
	users     user.Repository
	catalog   curriculum.Index
	progress  progress.Repository
	ledger    checkin.Ledger
	rules     points.Rules
	ranking   Ranking
	publisher shared.EventPublisher
	clock     timeutil.Clock
	loc       *time.Location
	log       *logger.Logger
}

// ScoreCalculatorDeps lists the collaborators of NewScoreCalculator.
type ScoreCalculatorDeps struct {
	Users     user.Repository
	Catalog   curriculum.Index
	Progress  progress.Repository
	Ledger    checkin.Ledger
	Rules     points.Rules
	Ranking   Ranking
	Publisher shared.EventPublisher
	Clock     timeutil.Clock
	Location  *time.Location
	Logger    *logger.Logger
}

// NewScoreCalculator creates a ScoreCalculator. Optional collaborators
// default to no-ops.
func NewScoreCalculator(d ScoreCalculatorDeps) *ScoreCalculator {
	if d.Ranking == nil {
		d.Ranking = NopRanking{}
	}
	if d.Publisher == nil {
		d.Publisher = shared.NopPublisher{}
	}
	if d.Clock == nil {
		d.Clock = timeutil.SystemClock{}
	}
	if d.Location == nil {
		d.Location = time.UTC
	}
	if d.Logger == nil {
		d.Logger = logger.Nop()
	}
	return &ScoreCalculator{
		users:     d.Users,
		catalog:   d.Catalog,
		progress:  d.Progress,
		ledger:    d.Ledger,
		rules:     d.Rules,
		ranking:   d.Ranking,
		publisher: d.Publisher,
		clock:     d.Clock,
		loc:       d.Location,
		log:       d.Logger.With(logger.Component("score")),
	}
}

// Rules returns the point rules in effect.
func (c *ScoreCalculator) Rules() points.Rules { return c.rules }

// Compute recomputes the breakdown as of the given day without writing.
func (c *ScoreCalculator) Compute(ctx context.Context, userID user.ID, asOf time.Time) (points.Breakdown, error) {
	asOf = timeutil.Normalize(asOf)

	var (
		done       []curriculum.ItemID
		days       []time.Time
		checkinPts int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		done, err = c.progress.ListDoneItems(gctx, userID)
		return err
	})
	g.Go(func() error {
		var err error
		days, err = c.ledger.ListDays(gctx, userID, asOf)
		return err
	})
	g.Go(func() error {
		var err error
		checkinPts, err = c.ledger.SumPoints(gctx, userID)
		return err
	})
	if err := g.Wait(); err != nil {
		return points.Breakdown{}, fmt.Errorf("score: %w", err)
	}

	itemPts := 0
	for _, id := range done {
		item, err := c.catalog.Item(ctx, id)
		if err != nil {
			if shared.IsNotFound(err) {
				c.log.Warn("done item missing from catalog", logger.UserID(string(userID)), logger.ItemID(string(id)))
				continue
			}
			return points.Breakdown{}, err
		}
		itemPts += item.Points
	}

	return c.rules.Calculate(itemPts, checkinPts, checkin.ComputeStreak(days, asOf)), nil
}

// Refresh recomputes the score of u as of today, stores the cached streak
// and points, and updates the ranking. u is updated in place.
//
// Concurrent refreshes of one user race: the stats version is drawn before
// the ledger is read and the store keeps only the highest version, so the
// cache ends on the computation that saw the most entries.
func (c *ScoreCalculator) Refresh(ctx context.Context, u *user.User) (*Score, error) {
	version, err := c.users.NextStatsVersion(ctx)
	if err != nil {
		return nil, fmt.Errorf("score: stats version: %w", err)
	}

	now := c.clock.Now()
	asOf := timeutil.DayOf(now, c.loc)

	b, err := c.Compute(ctx, u.ID, asOf)
	if err != nil {
		return nil, err
	}
	score := &Score{UserID: u.ID, AsOf: timeutil.FormatDay(asOf), Breakdown: b}

	previous := u.CurrentStreak
	stats := user.Stats{CurrentStreak: b.Streak, TotalPoints: b.Total, RefreshedAt: now, Version: version}
	saved, err := c.users.SaveStats(ctx, u.ID, stats)
	if err != nil {
		return nil, fmt.Errorf("score: save stats: %w", err)
	}
	if !saved {
		c.log.Debug("newer stats already stored", logger.UserID(string(u.ID)), logger.Int64("stats_version", version))
		return score, nil
	}
	if u.ApplyStats(stats) {
		_ = c.publisher.Publish(shared.NewStreakUpdatedEvent(string(u.ID), previous, b.Streak, b.Total, now))
	}

	if err := c.ranking.Update(ctx, u.ID, b.Total, version); err != nil {
		c.log.Warn("ranking update failed", logger.UserID(string(u.ID)), logger.Err(err))
	}

	return score, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// GET SCORE QUERY
// ══════════════════════════════════════════════════════════════════════════════

// GetScoreQuery asks for a user's recomputed points.
type GetScoreQuery struct {
	UserID user.ID
}

// Validate checks the query.
func (q GetScoreQuery) Validate() error {
	if !q.UserID.IsValid() {
		return shared.ErrInvalidUserID
	}
	return nil
}

// GetScoreHandler recomputes on every read, so the cache on the user row is
// never served stale.
type GetScoreHandler struct {
	users user.Repository
	calc  *ScoreCalculator
	clock timeutil.Clock
}

// NewGetScoreHandler creates a GetScoreHandler.
func NewGetScoreHandler(users user.Repository, calc *ScoreCalculator, clock timeutil.Clock) *GetScoreHandler {
	return &GetScoreHandler{users: users, calc: calc, clock: clock}
}

// Handle executes the query.
func (h *GetScoreHandler) Handle(ctx context.Context, q GetScoreQuery) (*Score, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	u, err := h.users.GetOrCreate(ctx, q.UserID, h.clock.Now())
	if err != nil {
		return nil, err
	}
	return h.calc.Refresh(ctx, u)
}
