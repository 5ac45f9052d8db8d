package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/beltline/progression-engine/internal/domain/belt"
	"github.com/beltline/progression-engine/internal/domain/curriculum"
	"github.com/beltline/progression-engine/internal/domain/exam"
	"github.com/beltline/progression-engine/internal/domain/shared"
	"github.com/beltline/progression-engine/internal/domain/user"

	"github.com/jackc/pgx/v5"
)

// ══════════════════════════════════════════════════════════════════════════════
// EXAM REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// ExamRepository implements exam.Repository for PostgreSQL.
//
// Seat allocation bumps exam_sessions.version with a conditional UPDATE
// first. The winning transaction then holds the session row lock while it
// counts seats and writes the registration, so two writers can never both
// take the last seat.
type ExamRepository struct {
	conn *Connection
}

// NewExamRepository creates a new ExamRepository.
func NewExamRepository(conn *Connection) *ExamRepository {
	return &ExamRepository{conn: conn}
}

const sessionColumns = `
	s.id, s.step_id, s.exam_type, s.session_date, s.location, s.max_participants,
	(SELECT COUNT(*) FROM exam_registrations r WHERE r.session_id = s.id AND r.status = 'registered'),
	s.status, s.version, s.created_at, s.updated_at`

const registrationColumns = `
	id, session_id, user_id, status, belt, degree, registered_at, cancelled_at,
	passed, recorded_at, recorded_by`

// ─────────────────────────────────────────────────────────────────────────────
// Sessions
// ─────────────────────────────────────────────────────────────────────────────

// CreateSession inserts a scheduled session.
func (r *ExamRepository) CreateSession(ctx context.Context, s *exam.Session) error {
	query := `
		INSERT INTO exam_sessions (
			id, step_id, exam_type, session_date, location, max_participants,
			status, version, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := r.conn.Exec(ctx, query,
		string(s.ID),
		string(s.StepID),
		string(s.Type),
		s.Date,
		s.Location,
		s.MaxParticipants,
		string(s.Status),
		s.Version,
		s.CreatedAt,
		s.UpdatedAt,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return shared.WrapError("exam", "CreateSession", shared.ErrAlreadyExists, "session id already used", err)
		}
		return fmt.Errorf("failed to create exam session: %w", err)
	}
	return nil
}

// GetSession returns a session with its live participant count.
func (r *ExamRepository) GetSession(ctx context.Context, id exam.SessionID) (*exam.Session, error) {
	row := r.conn.QueryRow(ctx, `SELECT `+sessionColumns+` FROM exam_sessions s WHERE s.id = $1`, string(id))
	return scanSession(row)
}

// ListSessions returns sessions matching the filter, soonest first.
func (r *ExamRepository) ListSessions(ctx context.Context, f exam.ListFilter) ([]*exam.Session, error) {
	var (
		where []string
		args  []interface{}
	)
	add := func(cond string, v interface{}) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.StepID != "" {
		add("s.step_id = $%d", string(f.StepID))
	}
	if f.Status != "" {
		add("s.status = $%d", string(f.Status))
	}
	if !f.From.IsZero() {
		add("s.session_date >= $%d", f.From)
	}

	query := `SELECT ` + sessionColumns + ` FROM exam_sessions s`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY s.session_date, s.id`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}
	return r.listSessions(ctx, query, args...)
}

// UpdateSessionStatus writes a status change under optimistic locking.
func (r *ExamRepository) UpdateSessionStatus(ctx context.Context, s *exam.Session, expectedVersion int64) error {
	var newVersion int64
	err := r.conn.QueryRow(ctx, `
		UPDATE exam_sessions
		SET status = $2, updated_at = $3, version = version + 1
		WHERE id = $1 AND version = $4
		RETURNING version
	`, string(s.ID), string(s.Status), s.UpdatedAt, expectedVersion).Scan(&newVersion)
	if err != nil {
		if IsNoRows(err) {
			if _, gerr := r.GetSession(ctx, s.ID); gerr != nil {
				return gerr
			}
			return shared.ErrConcurrentModification
		}
		return fmt.Errorf("failed to update session status: %w", err)
	}
	s.Version = newVersion
	return nil
}

// ListDue returns scheduled sessions dated before the cutoff.
func (r *ExamRepository) ListDue(ctx context.Context, before time.Time, limit int) ([]*exam.Session, error) {
	if limit <= 0 {
		limit = 100
	}
	return r.listSessions(ctx,
		`SELECT `+sessionColumns+` FROM exam_sessions s
		 WHERE s.status = 'scheduled' AND s.session_date < $1
		 ORDER BY s.session_date LIMIT $2`,
		before, limit)
}

// ─────────────────────────────────────────────────────────────────────────────
// Registrations
// ─────────────────────────────────────────────────────────────────────────────

// GetRegistration returns the registration of a (session, user) pair.
func (r *ExamRepository) GetRegistration(ctx context.Context, sessionID exam.SessionID, userID user.ID) (*exam.Registration, error) {
	row := r.conn.QueryRow(ctx,
		`SELECT `+registrationColumns+` FROM exam_registrations WHERE session_id = $1 AND user_id = $2`,
		string(sessionID), string(userID))
	return scanRegistration(row)
}

// ListRegistrations returns every registration of a session.
func (r *ExamRepository) ListRegistrations(ctx context.Context, sessionID exam.SessionID) ([]*exam.Registration, error) {
	rows, err := r.conn.Query(ctx,
		`SELECT `+registrationColumns+` FROM exam_registrations WHERE session_id = $1 ORDER BY registered_at`,
		string(sessionID))
	if err != nil {
		return nil, fmt.Errorf("failed to list registrations: %w", err)
	}
	defer rows.Close()

	var out []*exam.Registration
	for rows.Next() {
		reg, err := scanRegistration(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, reg)
	}
	return out, rows.Err()
}

// Register claims a seat with a compare-and-swap on the session version.
func (r *ExamRepository) Register(ctx context.Context, reg *exam.Registration, expectedVersion int64) error {
	return r.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
		var maxParticipants int
		err := tx.QueryRow(ctx, `
			UPDATE exam_sessions
			SET version = version + 1
			WHERE id = $1 AND version = $2
			RETURNING max_participants
		`, string(reg.SessionID), expectedVersion).Scan(&maxParticipants)
		if err != nil {
			if IsNoRows(err) {
				return r.casFailure(ctx, tx, reg.SessionID)
			}
			return fmt.Errorf("failed to bump session version: %w", err)
		}

		var existing *string
		err = tx.QueryRow(ctx,
			`SELECT status FROM exam_registrations WHERE session_id = $1 AND user_id = $2`,
			string(reg.SessionID), string(reg.UserID)).Scan(&existing)
		if err != nil && !IsNoRows(err) {
			return fmt.Errorf("failed to read registration: %w", err)
		}
		if existing != nil && *existing != string(exam.RegistrationCancelled) {
			return shared.ErrAlreadyRegistered
		}

		var taken int
		if err := tx.QueryRow(ctx,
			`SELECT COUNT(*) FROM exam_registrations WHERE session_id = $1 AND status = 'registered'`,
			string(reg.SessionID)).Scan(&taken); err != nil {
			return fmt.Errorf("failed to count registrations: %w", err)
		}
		if taken >= maxParticipants {
			return shared.ErrSessionFull
		}

		tag, err := tx.Exec(ctx, `
			INSERT INTO exam_registrations (
				id, session_id, user_id, status, belt, degree, registered_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (session_id, user_id) DO UPDATE
			SET status = EXCLUDED.status, belt = EXCLUDED.belt, degree = EXCLUDED.degree,
				registered_at = EXCLUDED.registered_at, cancelled_at = NULL,
				passed = NULL, recorded_at = NULL, recorded_by = ''
			WHERE exam_registrations.status = 'cancelled'
		`,
			string(reg.ID),
			string(reg.SessionID),
			string(reg.UserID),
			string(exam.RegistrationRegistered),
			string(reg.Rank.Belt),
			int(reg.Rank.Degree),
			reg.RegisteredAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert registration: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return shared.ErrAlreadyRegistered
		}
		return nil
	})
}

// Cancel releases the seat and bumps the session version.
func (r *ExamRepository) Cancel(ctx context.Context, reg *exam.Registration) error {
	return r.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE exam_registrations
			SET status = 'cancelled', cancelled_at = $3
			WHERE session_id = $1 AND user_id = $2 AND status = 'registered'
		`, string(reg.SessionID), string(reg.UserID), reg.CancelledAt)
		if err != nil {
			return fmt.Errorf("failed to cancel registration: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return shared.ErrNotRegistered
		}
		if _, err := tx.Exec(ctx,
			`UPDATE exam_sessions SET version = version + 1 WHERE id = $1`,
			string(reg.SessionID)); err != nil {
			return fmt.Errorf("failed to bump session version: %w", err)
		}
		return nil
	})
}

// RecordOutcome writes the attended registration and, on a pass, the
// promotion, all in one transaction.
func (r *ExamRepository) RecordOutcome(ctx context.Context, c exam.OutcomeCommit) error {
	reg := c.Registration
	if reg.Outcome == nil {
		return shared.NewDomainError("exam", "RecordOutcome", shared.ErrInvariant, "registration has no outcome")
	}

	return r.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE exam_registrations
			SET status = 'attended', passed = $3, recorded_at = $4, recorded_by = $5
			WHERE session_id = $1 AND user_id = $2 AND status = 'registered'
		`, string(reg.SessionID), string(reg.UserID), reg.Outcome.Passed, reg.Outcome.RecordedAt, reg.Outcome.RecordedBy)
		if err != nil {
			return fmt.Errorf("failed to record outcome: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return shared.ErrNotRegistered
		}

		if c.User == nil {
			return nil
		}
		return promoteUser(ctx, tx, c.User, c.ExpectedUserVersion, c.Promotion)
	})
}

// ─────────────────────────────────────────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────────────────────────────────────────

// casFailure distinguishes a missing session from a lost race.
func (r *ExamRepository) casFailure(ctx context.Context, q Querier, id exam.SessionID) error {
	var exists bool
	if err := q.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM exam_sessions WHERE id = $1)`, string(id)).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check session: %w", err)
	}
	if !exists {
		return shared.ErrSessionNotFound
	}
	return shared.ErrConcurrentModification
}

func (r *ExamRepository) listSessions(ctx context.Context, query string, args ...interface{}) ([]*exam.Session, error) {
	rows, err := r.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list exam sessions: %w", err)
	}
	defer rows.Close()

	var out []*exam.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func scanSession(row pgx.Row) (*exam.Session, error) {
	var (
		s                       exam.Session
		id, stepID, typ, status string
	)
	err := row.Scan(&id, &stepID, &typ, &s.Date, &s.Location, &s.MaxParticipants,
		&s.CurrentParticipants, &status, &s.Version, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to scan exam session: %w", err)
	}
	s.ID = exam.SessionID(id)
	s.StepID = curriculum.StepID(stepID)
	s.Type = exam.Type(typ)
	s.Status = exam.SessionStatus(status)
	return &s, nil
}

func scanRegistration(row pgx.Row) (*exam.Registration, error) {
	var (
		reg                   exam.Registration
		id, sessionID, userID string
		status, b, recordedBy string
		degree                int
		passed                *bool
		recordedAt            *time.Time
	)
	err := row.Scan(&id, &sessionID, &userID, &status, &b, &degree, &reg.RegisteredAt,
		&reg.CancelledAt, &passed, &recordedAt, &recordedBy)
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrNotRegistered
		}
		return nil, fmt.Errorf("failed to scan registration: %w", err)
	}
	reg.ID = exam.RegistrationID(id)
	reg.SessionID = exam.SessionID(sessionID)
	reg.UserID = user.ID(userID)
	reg.Status = exam.RegistrationStatus(status)
	reg.Rank = belt.Rank{Belt: belt.Belt(b), Degree: belt.Degree(degree)}
	if passed != nil && recordedAt != nil {
		reg.Outcome = &exam.Outcome{Passed: *passed, RecordedAt: *recordedAt, RecordedBy: recordedBy}
	}
	return &reg, nil
}
