// Package service adapts infrastructure components to the ports of the
// application layer.
package service

import (
	"context"
	"time"

	"github.com/beltline/progression-engine/internal/application/query"
	"github.com/beltline/progression-engine/internal/domain/checkin"
	"github.com/beltline/progression-engine/internal/domain/user"
	"github.com/beltline/progression-engine/internal/infrastructure/persistence/redis"
	"github.com/beltline/progression-engine/pkg/circuitbreaker"
	"github.com/beltline/progression-engine/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// RANKING
// ══════════════════════════════════════════════════════════════════════════════

// RankingAdapter adapts redis.PointsRanking to query.Ranking. All calls go
// through the cache circuit breaker so an unreachable Redis fails fast.
type RankingAdapter struct {
	ranking *redis.PointsRanking
	breaker *circuitbreaker.CircuitBreaker
	retrier *retry.Retrier
}

// NewRankingAdapter creates a RankingAdapter. A nil ranking makes every call
// a no-op.
func NewRankingAdapter(ranking *redis.PointsRanking, breaker *circuitbreaker.CircuitBreaker) *RankingAdapter {
	return &RankingAdapter{ranking: ranking, breaker: breaker, retrier: retry.CacheRetrier()}
}

func (a *RankingAdapter) Update(ctx context.Context, userID user.ID, points int, version int64) error {
	if a.ranking == nil {
		return nil
	}
	return a.retrier.Do(ctx, func(ctx context.Context) error {
		return a.execute(ctx, func(ctx context.Context) error {
			return a.ranking.Update(ctx, string(userID), points, version)
		})
	})
}

func (a *RankingAdapter) Top(ctx context.Context, n int) ([]query.RankEntry, error) {
	if a.ranking == nil {
		return nil, nil
	}
	var rows []redis.RankedUser
	err := a.execute(ctx, func(ctx context.Context) error {
		var err error
		rows, err = a.ranking.Top(ctx, n)
		return err
	})
	if err != nil {
		return nil, err
	}
	out := make([]query.RankEntry, len(rows))
	for i, r := range rows {
		out[i] = query.RankEntry{UserID: user.ID(r.UserID), Points: r.Points, Position: int(r.Position)}
	}
	return out, nil
}

// Rebuild replaces the whole ranking with totals.
func (a *RankingAdapter) Rebuild(ctx context.Context, totals map[user.ID]int, at time.Time) error {
	if a.ranking == nil {
		return nil
	}
	raw := make(map[string]int, len(totals))
	for id, pts := range totals {
		raw[string(id)] = pts
	}
	return a.execute(ctx, func(ctx context.Context) error {
		return a.ranking.Rebuild(ctx, raw, at)
	})
}

func (a *RankingAdapter) execute(ctx context.Context, fn func(context.Context) error) error {
	if a.breaker == nil {
		return fn(ctx)
	}
	return a.breaker.Execute(ctx, fn)
}

// ══════════════════════════════════════════════════════════════════════════════
// CHECK-IN GUARD
// ══════════════════════════════════════════════════════════════════════════════

// CheckinGuardAdapter adapts redis.CheckinGuard to command.CheckinGuard.
type CheckinGuardAdapter struct {
	guard   *redis.CheckinGuard
	breaker *circuitbreaker.CircuitBreaker
}

// NewCheckinGuardAdapter creates a CheckinGuardAdapter. A nil guard claims
// every key.
func NewCheckinGuardAdapter(guard *redis.CheckinGuard, breaker *circuitbreaker.CircuitBreaker) *CheckinGuardAdapter {
	return &CheckinGuardAdapter{guard: guard, breaker: breaker}
}

func (a *CheckinGuardAdapter) Claim(ctx context.Context, key checkin.Key) (bool, error) {
	if a.guard == nil {
		return true, nil
	}
	claimed := true
	err := a.execute(ctx, func(ctx context.Context) error {
		var err error
		claimed, err = a.guard.Claim(ctx, string(key.UserID), key.Day, string(key.Category))
		return err
	})
	return claimed, err
}

func (a *CheckinGuardAdapter) Release(ctx context.Context, key checkin.Key) error {
	if a.guard == nil {
		return nil
	}
	return a.execute(ctx, func(ctx context.Context) error {
		return a.guard.Release(ctx, string(key.UserID), key.Day, string(key.Category))
	})
}

func (a *CheckinGuardAdapter) execute(ctx context.Context, fn func(context.Context) error) error {
	if a.breaker == nil {
		return fn(ctx)
	}
	return a.breaker.Execute(ctx, fn)
}
