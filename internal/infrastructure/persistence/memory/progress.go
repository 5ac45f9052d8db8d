package memory

import (
	"context"
	"sort"

	"github.com/beltline/progression-engine/internal/domain/curriculum"
	"github.com/beltline/progression-engine/internal/domain/progress"
	"github.com/beltline/progression-engine/internal/domain/shared"
	"github.com/beltline/progression-engine/internal/domain/user"
)

// Progress implements progress.Repository.
type Progress struct{ s *Store }

func (r *Progress) Get(_ context.Context, id progress.RecordID) (*progress.Record, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	rec, ok := r.s.records[id]
	if !ok {
		return nil, shared.ErrProgressNotFound
	}
	return cloneRecord(rec), nil
}

func (r *Progress) FindByUserItem(_ context.Context, userID user.ID, itemID curriculum.ItemID) (*progress.Record, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	id, ok := r.s.recordByKey[pairKey{userID, itemID}]
	if !ok {
		return nil, shared.ErrProgressNotFound
	}
	return cloneRecord(r.s.records[id]), nil
}

func (r *Progress) Create(_ context.Context, rec *progress.Record) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	key := pairKey{rec.UserID, rec.ItemID}
	if _, dup := r.s.recordByKey[key]; dup {
		return shared.WrapError("progress", "Create", shared.ErrConcurrentModification, "record already exists for user and item", nil)
	}
	if _, dup := r.s.records[rec.ID]; dup {
		return shared.NewDomainError("progress", "Create", shared.ErrAlreadyExists, "record id already used")
	}
	r.s.records[rec.ID] = cloneRecord(rec)
	r.s.recordByKey[key] = rec.ID
	return nil
}

func (r *Progress) Update(_ context.Context, rec *progress.Record, expectedVersion int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cur, ok := r.s.records[rec.ID]
	if !ok {
		return shared.ErrProgressNotFound
	}
	if cur.Version != expectedVersion {
		return shared.ErrConcurrentModification
	}
	rec.Version = expectedVersion + 1
	r.s.records[rec.ID] = cloneRecord(rec)
	return nil
}

func (r *Progress) ListByUserStep(_ context.Context, userID user.ID, stepID curriculum.StepID) ([]*progress.Record, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*progress.Record
	for _, rec := range r.s.records {
		if rec.UserID == userID && rec.StepID == stepID {
			out = append(out, cloneRecord(rec))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *Progress) ListDoneItems(_ context.Context, userID user.ID) ([]curriculum.ItemID, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []curriculum.ItemID
	for _, rec := range r.s.records {
		if rec.UserID == userID && rec.IsDone() {
			out = append(out, rec.ItemID)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (r *Progress) ListPending(_ context.Context, limit int) ([]*progress.Record, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*progress.Record
	for _, rec := range r.s.records {
		if rec.Status() == progress.StatusPendingReview {
			out = append(out, cloneRecord(rec))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SubmittedAt.Before(out[j].SubmittedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
