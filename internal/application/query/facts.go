package query

import (
	"context"
	"fmt"
	"time"

	"github.com/beltline/progression-engine/internal/domain/checkin"
	"github.com/beltline/progression-engine/internal/domain/curriculum"
	"github.com/beltline/progression-engine/internal/domain/eligibility"
	"github.com/beltline/progression-engine/internal/domain/progress"
	"github.com/beltline/progression-engine/internal/domain/user"
	"github.com/beltline/progression-engine/pkg/timeutil"

	"golang.org/x/sync/errgroup"
)

// ══════════════════════════════════════════════════════════════════════════════
// FACTS LOADER
// Gathers everything the eligibility engine needs for one (user, step) pair.
// ══════════════════════════════════════════════════════════════════════════════

// Facts bundles the engine input with the entities it was built from.
type Facts struct {
	User  *user.User
	Step  *curriculum.Step
	AsOf  time.Time
	Input eligibility.Facts
}

// FactsLoader reads the curriculum, the progress records and the check-in
// ledger in parallel.
type FactsLoader struct {
	users    user.Repository
	catalog  curriculum.Index
	progress progress.Repository
	ledger   checkin.Ledger
	window   int
	clock    timeutil.Clock
	loc      *time.Location
}

// NewFactsLoader creates a FactsLoader. windowDays is the recent check-in
// window of the eligibility rules.
func NewFactsLoader(
	users user.Repository,
	catalog curriculum.Index,
	progressRepo progress.Repository,
	ledger checkin.Ledger,
	windowDays int,
	clock timeutil.Clock,
	loc *time.Location,
) *FactsLoader {
	if windowDays <= 0 {
		windowDays = eligibility.DefaultRules().RecentWindowDays
	}
	if loc == nil {
		loc = time.UTC
	}
	return &FactsLoader{
		users:    users,
		catalog:  catalog,
		progress: progressRepo,
		ledger:   ledger,
		window:   windowDays,
		clock:    clock,
		loc:      loc,
	}
}

// Load provisions the user if needed and collects the facts for stepID.
func (l *FactsLoader) Load(ctx context.Context, userID user.ID, stepID curriculum.StepID) (*Facts, error) {
	now := l.clock.Now()
	u, err := l.users.GetOrCreate(ctx, userID, now)
	if err != nil {
		return nil, err
	}
	step, err := l.catalog.Step(ctx, stepID)
	if err != nil {
		return nil, err
	}
	return l.LoadFor(ctx, u, step)
}

// LoadFor collects facts for an already loaded user and step.
func (l *FactsLoader) LoadFor(ctx context.Context, u *user.User, step *curriculum.Step) (*Facts, error) {
	asOf := timeutil.Today(l.clock, l.loc)

	var (
		items   []curriculum.Item
		records []*progress.Record
		recent  int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		items, err = l.catalog.Items(gctx, step.ID)
		if err != nil {
			return fmt.Errorf("load items: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		records, err = l.progress.ListByUserStep(gctx, u.ID, step.ID)
		if err != nil {
			return fmt.Errorf("load progress: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		recent, err = l.ledger.CountBetween(gctx, u.ID, timeutil.WindowStart(asOf, l.window), asOf)
		if err != nil {
			return fmt.Errorf("count check-ins: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return &Facts{
		User: u,
		Step: step,
		AsOf: asOf,
		Input: eligibility.Facts{
			Rank:           u.Rank(),
			StepBelt:       step.Belt,
			Summary:        progress.Summarize(step.ID, items, records),
			RequiredCerts:  step.RequiredCerts,
			RecentCheckins: recent,
		},
	}, nil
}
