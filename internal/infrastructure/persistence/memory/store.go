// Package memory is a mutex-guarded implementation of every repository. It
// backs tests and the single-process "memory" storage driver, and honours
// the same uniqueness and compare-and-swap contracts as the Postgres store.
package memory

import (
	"sync"

	"github.com/beltline/progression-engine/internal/domain/checkin"
	"github.com/beltline/progression-engine/internal/domain/curriculum"
	"github.com/beltline/progression-engine/internal/domain/exam"
	"github.com/beltline/progression-engine/internal/domain/progress"
	"github.com/beltline/progression-engine/internal/domain/user"
)

type pairKey struct {
	user user.ID
	item curriculum.ItemID
}

type regKey struct {
	session exam.SessionID
	user    user.ID
}

// Store holds all tables behind a single lock so that multi-aggregate
// writes (exam outcomes) are atomic.
type Store struct {
	mu sync.Mutex

	users      map[user.ID]*user.User
	promotions map[user.ID][]user.Promotion
	statsSeq   int64

	records     map[progress.RecordID]*progress.Record
	recordByKey map[pairKey]progress.RecordID

	checkins    []*checkin.Record
	checkinKeys map[checkin.Key]struct{}

	sessions      map[exam.SessionID]*exam.Session
	registrations map[regKey]*exam.Registration
}

// New creates an empty store.
func New() *Store {
	return &Store{
		users:         make(map[user.ID]*user.User),
		promotions:    make(map[user.ID][]user.Promotion),
		records:       make(map[progress.RecordID]*progress.Record),
		recordByKey:   make(map[pairKey]progress.RecordID),
		checkinKeys:   make(map[checkin.Key]struct{}),
		sessions:      make(map[exam.SessionID]*exam.Session),
		registrations: make(map[regKey]*exam.Registration),
	}
}

// Users returns the user repository view.
func (s *Store) Users() *Users { return &Users{s: s} }

// Progress returns the progress repository view.
func (s *Store) Progress() *Progress { return &Progress{s: s} }

// Checkins returns the ledger view.
func (s *Store) Checkins() *Checkins { return &Checkins{s: s} }

// Exams returns the exam repository view.
func (s *Store) Exams() *Exams { return &Exams{s: s} }

var (
	_ user.Repository     = (*Users)(nil)
	_ progress.Repository = (*Progress)(nil)
	_ checkin.Ledger      = (*Checkins)(nil)
	_ exam.Repository     = (*Exams)(nil)
)

func cloneUser(u *user.User) *user.User {
	c := *u
	return &c
}

func cloneRecord(r *progress.Record) *progress.Record {
	c := *r
	return &c
}

func cloneSession(s *exam.Session) *exam.Session {
	c := *s
	return &c
}

func cloneRegistration(r *exam.Registration) *exam.Registration {
	c := *r
	if r.CancelledAt != nil {
		at := *r.CancelledAt
		c.CancelledAt = &at
	}
	if r.Outcome != nil {
		o := *r.Outcome
		c.Outcome = &o
	}
	return &c
}
