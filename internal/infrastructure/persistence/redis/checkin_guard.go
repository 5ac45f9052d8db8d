package redis

import (
	"context"
	"time"
)

// CheckinGuard remembers which (user, day, category) triples were already
// submitted. A claim is a SETNX with a TTL, so a stuck claim disappears on
// its own.
type CheckinGuard struct {
	cache *Cache
	ttl   time.Duration
}

// NewCheckinGuard creates a guard. A non-positive ttl uses TTLCheckinGuard.
func NewCheckinGuard(cache *Cache, ttl time.Duration) *CheckinGuard {
	if ttl <= 0 {
		ttl = TTLCheckinGuard
	}
	return &CheckinGuard{cache: cache, ttl: ttl}
}

// GuardKey builds the key of one triple.
func (g *CheckinGuard) GuardKey(userID, day, category string) string {
	return g.cache.Key(prefixCheckin, userID, ":", day, ":", category)
}

// Claim reports true if the triple was free and is now taken.
func (g *CheckinGuard) Claim(ctx context.Context, userID, day, category string) (bool, error) {
	return g.cache.SetNX(ctx, g.GuardKey(userID, day, category), time.Now().Unix(), g.ttl)
}

// Release frees a claim.
func (g *CheckinGuard) Release(ctx context.Context, userID, day, category string) error {
	return g.cache.Delete(ctx, g.GuardKey(userID, day, category))
}
