package memory

import (
	"context"
	"sort"
	"time"

	"github.com/beltline/progression-engine/internal/domain/shared"
	"github.com/beltline/progression-engine/internal/domain/user"
)

// Users implements user.Repository.
type Users struct{ s *Store }

func (r *Users) Get(_ context.Context, id user.ID) (*user.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.users[id]
	if !ok {
		return nil, shared.ErrUserNotFound
	}
	return cloneUser(u), nil
}

func (r *Users) GetOrCreate(_ context.Context, id user.ID, now time.Time) (*user.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if u, ok := r.s.users[id]; ok {
		return cloneUser(u), nil
	}
	u, err := user.New(id, now)
	if err != nil {
		return nil, err
	}
	r.s.users[id] = u
	return cloneUser(u), nil
}

func (r *Users) NextStatsVersion(context.Context) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.statsSeq++
	return r.s.statsSeq, nil
}

func (r *Users) SaveStats(_ context.Context, id user.ID, stats user.Stats) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.users[id]
	if !ok {
		return false, shared.ErrUserNotFound
	}
	if stats.Version <= u.StatsVersion {
		return false, nil
	}
	u.ApplyStats(stats)
	return true, nil
}

func (r *Users) ListPromotions(_ context.Context, id user.ID) ([]user.Promotion, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	src := r.s.promotions[id]
	out := make([]user.Promotion, len(src))
	for i := range src {
		out[len(src)-1-i] = src[i]
	}
	return out, nil
}

// Put stores u as-is. It exists for seeding tests and fixtures and is not
// part of user.Repository.
func (r *Users) Put(u *user.User) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.users[u.ID] = cloneUser(u)
}

// TopByPoints returns users ordered by cached points, highest first.
func (r *Users) TopByPoints(_ context.Context, limit int) ([]*user.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]*user.User, 0, len(r.s.users))
	for _, u := range r.s.users {
		out = append(out, cloneUser(u))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TotalPoints != out[j].TotalPoints {
			return out[i].TotalPoints > out[j].TotalPoints
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
