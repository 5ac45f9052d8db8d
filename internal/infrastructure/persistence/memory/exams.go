package memory

import (
	"context"
	"sort"
	"time"

	"github.com/beltline/progression-engine/internal/domain/exam"
	"github.com/beltline/progression-engine/internal/domain/shared"
	"github.com/beltline/progression-engine/internal/domain/user"
)

// Exams implements exam.Repository.
type Exams struct{ s *Store }

// seatsTaken must be called with the lock held.
func (r *Exams) seatsTaken(id exam.SessionID) int {
	n := 0
	for k, reg := range r.s.registrations {
		if k.session == id && reg.IsActive() {
			n++
		}
	}
	return n
}

func (r *Exams) view(sess *exam.Session) *exam.Session {
	c := cloneSession(sess)
	c.CurrentParticipants = r.seatsTaken(sess.ID)
	return c
}

func (r *Exams) CreateSession(_ context.Context, sess *exam.Session) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, dup := r.s.sessions[sess.ID]; dup {
		return shared.NewDomainError("exam", "CreateSession", shared.ErrAlreadyExists, "session id already used")
	}
	c := cloneSession(sess)
	c.CurrentParticipants = 0
	r.s.sessions[sess.ID] = c
	return nil
}

func (r *Exams) GetSession(_ context.Context, id exam.SessionID) (*exam.Session, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	sess, ok := r.s.sessions[id]
	if !ok {
		return nil, shared.ErrSessionNotFound
	}
	return r.view(sess), nil
}

func (r *Exams) ListSessions(_ context.Context, f exam.ListFilter) ([]*exam.Session, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*exam.Session
	for _, sess := range r.s.sessions {
		if f.StepID != "" && sess.StepID != f.StepID {
			continue
		}
		if f.Status != "" && sess.Status != f.Status {
			continue
		}
		if !f.From.IsZero() && sess.Date.Before(f.From) {
			continue
		}
		out = append(out, r.view(sess))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (r *Exams) UpdateSessionStatus(_ context.Context, sess *exam.Session, expectedVersion int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cur, ok := r.s.sessions[sess.ID]
	if !ok {
		return shared.ErrSessionNotFound
	}
	if cur.Version != expectedVersion {
		return shared.ErrConcurrentModification
	}
	cur.Status = sess.Status
	cur.UpdatedAt = sess.UpdatedAt
	cur.Version++
	sess.Version = cur.Version
	return nil
}

func (r *Exams) ListDue(_ context.Context, before time.Time, limit int) ([]*exam.Session, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*exam.Session
	for _, sess := range r.s.sessions {
		if sess.Status == exam.SessionScheduled && sess.Date.Before(before) {
			out = append(out, r.view(sess))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *Exams) GetRegistration(_ context.Context, sessionID exam.SessionID, userID user.ID) (*exam.Registration, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	reg, ok := r.s.registrations[regKey{sessionID, userID}]
	if !ok {
		return nil, shared.ErrNotRegistered
	}
	return cloneRegistration(reg), nil
}

func (r *Exams) ListRegistrations(_ context.Context, sessionID exam.SessionID) ([]*exam.Registration, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*exam.Registration
	for k, reg := range r.s.registrations {
		if k.session == sessionID {
			out = append(out, cloneRegistration(reg))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RegisteredAt.Before(out[j].RegisteredAt) })
	return out, nil
}

func (r *Exams) Register(_ context.Context, reg *exam.Registration, expectedVersion int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	sess, ok := r.s.sessions[reg.SessionID]
	if !ok {
		return shared.ErrSessionNotFound
	}
	if sess.Version != expectedVersion {
		return shared.ErrConcurrentModification
	}
	key := regKey{reg.SessionID, reg.UserID}
	if existing, ok := r.s.registrations[key]; ok && existing.Status != exam.RegistrationCancelled {
		return shared.ErrAlreadyRegistered
	}
	if r.seatsTaken(sess.ID) >= sess.MaxParticipants {
		return shared.ErrSessionFull
	}

	r.s.registrations[key] = cloneRegistration(reg)
	sess.Version++
	return nil
}

func (r *Exams) Cancel(_ context.Context, reg *exam.Registration) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	key := regKey{reg.SessionID, reg.UserID}
	cur, ok := r.s.registrations[key]
	if !ok || !cur.IsActive() {
		return shared.ErrNotRegistered
	}
	r.s.registrations[key] = cloneRegistration(reg)
	if sess, ok := r.s.sessions[reg.SessionID]; ok {
		sess.Version++
	}
	return nil
}

func (r *Exams) RecordOutcome(_ context.Context, c exam.OutcomeCommit) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	key := regKey{c.Registration.SessionID, c.Registration.UserID}
	cur, ok := r.s.registrations[key]
	if !ok || !cur.IsActive() {
		return shared.ErrNotRegistered
	}

	if c.User != nil {
		stored, ok := r.s.users[c.User.ID]
		if !ok {
			return shared.ErrUserNotFound
		}
		if stored.Version != c.ExpectedUserVersion {
			return shared.ErrConcurrentModification
		}
		stored.Belt = c.User.Belt
		stored.Degree = c.User.Degree
		stored.UpdatedAt = c.User.UpdatedAt
		stored.Version++
		c.User.Version = stored.Version
		if c.Promotion != nil {
			r.s.promotions[c.User.ID] = append(r.s.promotions[c.User.ID], *c.Promotion)
		}
	}

	r.s.registrations[key] = cloneRegistration(c.Registration)
	return nil
}
