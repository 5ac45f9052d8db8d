package memory

import (
	"context"
	"sort"
	"time"

	"github.com/beltline/progression-engine/internal/domain/checkin"
	"github.com/beltline/progression-engine/internal/domain/shared"
	"github.com/beltline/progression-engine/internal/domain/user"
	"github.com/beltline/progression-engine/pkg/timeutil"
)

// Checkins implements checkin.Ledger.
type Checkins struct{ s *Store }

func (r *Checkins) Append(_ context.Context, rec *checkin.Record) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	key := rec.Key()
	if _, dup := r.s.checkinKeys[key]; dup {
		return shared.ErrDuplicateCategoryToday
	}
	c := *rec
	r.s.checkinKeys[key] = struct{}{}
	r.s.checkins = append(r.s.checkins, &c)
	return nil
}

func (r *Checkins) ListDays(_ context.Context, userID user.ID, asOf time.Time) ([]time.Time, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	asOf = timeutil.Normalize(asOf)
	var mine []*checkin.Record
	for _, c := range r.s.checkins {
		if c.UserID == userID && !c.Day.After(asOf) {
			mine = append(mine, c)
		}
	}
	return checkin.DistinctDays(mine), nil
}

func (r *Checkins) CountBetween(_ context.Context, userID user.ID, from, to time.Time) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return checkin.CountBetween(r.s.checkins, userID, from, to), nil
}

func (r *Checkins) SumPoints(_ context.Context, userID user.ID) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	total := 0
	for _, c := range r.s.checkins {
		if c.UserID == userID {
			total += c.Points
		}
	}
	return total, nil
}

func (r *Checkins) List(_ context.Context, userID user.ID, from, to time.Time) ([]*checkin.Record, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	from, to = timeutil.Normalize(from), timeutil.Normalize(to)
	var out []*checkin.Record
	for _, c := range r.s.checkins {
		if c.UserID == userID && !c.Day.Before(from) && !c.Day.After(to) {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Day.Equal(out[j].Day) {
			return out[i].Day.After(out[j].Day)
		}
		return out[i].Category < out[j].Category
	})
	return out, nil
}

func (r *Checkins) ActiveUsers(_ context.Context, since time.Time) ([]user.ID, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	since = timeutil.Normalize(since)
	seen := make(map[user.ID]struct{})
	var out []user.ID
	for _, c := range r.s.checkins {
		if c.Day.Before(since) {
			continue
		}
		if _, ok := seen[c.UserID]; !ok {
			seen[c.UserID] = struct{}{}
			out = append(out, c.UserID)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}
