package redis

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// ══════════════════════════════════════════════════════════════════════════════
// POINTS RANKING
// ══════════════════════════════════════════════════════════════════════════════

// RankedUser is one row of the ranking.
type RankedUser struct {
	UserID string `json:"user_id"`
	Points int    `json:"points"`
	// Position is 1-based.
	Position int64 `json:"position"`
}

// PointsRanking keeps recomputed point totals in a sorted set.
//
// Layout:
//   - Sorted Set "ranking:points" stores userID -> total points
//   - Hash "ranking:versions" stores userID -> stats version of the last update
//   - String "ranking:refreshed" stores the time of the last full rebuild
type PointsRanking struct {
	cache *Cache
}

// NewPointsRanking creates a PointsRanking.
func NewPointsRanking(cache *Cache) *PointsRanking {
	return &PointsRanking{cache: cache}
}

func (p *PointsRanking) key() string         { return p.cache.Key(prefixRanking, "points") }
func (p *PointsRanking) versionsKey() string { return p.cache.Key(prefixRanking, "versions") }
func (p *PointsRanking) stampKey() string    { return p.cache.Key(prefixRanking, "refreshed") }

// KEYS: points zset, versions hash. ARGV: user, points, version, ttl seconds.
var updateScript = redis.NewScript(`
local current = tonumber(redis.call('HGET', KEYS[2], ARGV[1]) or '0')
if current >= tonumber(ARGV[3]) then
	return 0
end
redis.call('HSET', KEYS[2], ARGV[1], ARGV[3])
redis.call('ZADD', KEYS[1], ARGV[2], ARGV[1])
redis.call('EXPIRE', KEYS[1], ARGV[4])
redis.call('EXPIRE', KEYS[2], ARGV[4])
return 1
`)

// Update writes one user's total unless an update with a version >= version
// was applied already.
func (p *PointsRanking) Update(ctx context.Context, userID string, points int, version int64) error {
	if userID == "" {
		return ErrCacheKeyEmpty
	}
	keys := []string{p.key(), p.versionsKey()}
	return updateScript.Run(ctx, p.cache.Client(), keys, userID, points, version, int64(TTLRanking.Seconds())).Err()
}

// Rebuild replaces the whole ranking atomically.
func (p *PointsRanking) Rebuild(ctx context.Context, totals map[string]int, at time.Time) error {
	tmp := p.key() + ":rebuild"
	pipe := p.cache.Client().TxPipeline()
	pipe.Del(ctx, tmp)
	if len(totals) > 0 {
		members := make([]redis.Z, 0, len(totals))
		for id, pts := range totals {
			members = append(members, redis.Z{Score: float64(pts), Member: id})
		}
		pipe.ZAdd(ctx, tmp, members...)
		pipe.Rename(ctx, tmp, p.key())
		pipe.Expire(ctx, p.key(), TTLRanking)
	} else {
		pipe.Del(ctx, p.key())
	}
	pipe.Set(ctx, p.stampKey(), at.UTC().Format(time.RFC3339), TTLRanking)
	_, err := pipe.Exec(ctx)
	return err
}

// Top returns the n highest totals.
func (p *PointsRanking) Top(ctx context.Context, n int) ([]RankedUser, error) {
	if n <= 0 {
		return []RankedUser{}, nil
	}
	zs, err := p.cache.Client().ZRevRangeWithScores(ctx, p.key(), 0, int64(n-1)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]RankedUser, 0, len(zs))
	for i, z := range zs {
		id, _ := z.Member.(string)
		out = append(out, RankedUser{UserID: id, Points: int(z.Score), Position: int64(i + 1)})
	}
	return out, nil
}

// RefreshedAt reports when the ranking was last rebuilt.
func (p *PointsRanking) RefreshedAt(ctx context.Context) (time.Time, error) {
	s, err := p.cache.Client().Get(ctx, p.stampKey()).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return time.Time{}, ErrCacheMiss
		}
		return time.Time{}, err
	}
	return time.Parse(time.RFC3339, s)
}
