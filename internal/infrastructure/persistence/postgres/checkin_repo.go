package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/beltline/progression-engine/internal/domain/checkin"
	"github.com/beltline/progression-engine/internal/domain/shared"
	"github.com/beltline/progression-engine/internal/domain/user"
	"github.com/beltline/progression-engine/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// CHECK-IN LEDGER IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// CheckinRepository implements checkin.Ledger for PostgreSQL. The
// (user_id, day, category) unique constraint is the exactly-once guarantee.
type CheckinRepository struct {
	conn *Connection
}

// NewCheckinRepository creates a new CheckinRepository.
func NewCheckinRepository(conn *Connection) *CheckinRepository {
	return &CheckinRepository{conn: conn}
}

// Append inserts a ledger entry.
func (r *CheckinRepository) Append(ctx context.Context, rec *checkin.Record) error {
	query := `
		INSERT INTO checkin_records (id, user_id, day, category, note, evidence_ref, points, validated, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := r.conn.Exec(ctx, query,
		string(rec.ID),
		string(rec.UserID),
		timeutil.Normalize(rec.Day),
		string(rec.Category),
		rec.Note,
		rec.EvidenceRef,
		rec.Points,
		rec.Validated,
		rec.CreatedAt,
	)
	if err != nil {
		if IsUniqueViolation(err) && ConstraintName(err) == "uq_checkin_user_day_category" {
			return shared.ErrDuplicateCategoryToday
		}
		return fmt.Errorf("failed to append check-in: %w", err)
	}
	return nil
}

// ListDays returns distinct check-in days on or before asOf, newest first.
func (r *CheckinRepository) ListDays(ctx context.Context, userID user.ID, asOf time.Time) ([]time.Time, error) {
	query := `
		SELECT DISTINCT day
		FROM checkin_records
		WHERE user_id = $1 AND day <= $2
		ORDER BY day DESC
	`
	rows, err := r.conn.Query(ctx, query, string(userID), timeutil.Normalize(asOf))
	if err != nil {
		return nil, fmt.Errorf("failed to list check-in days: %w", err)
	}
	defer rows.Close()

	var out []time.Time
	for rows.Next() {
		var d time.Time
		if err := rows.Scan(&d); err != nil {
			return nil, fmt.Errorf("failed to scan check-in day: %w", err)
		}
		out = append(out, timeutil.Normalize(d))
	}
	return out, rows.Err()
}

// CountBetween counts records with from <= day <= to.
func (r *CheckinRepository) CountBetween(ctx context.Context, userID user.ID, from, to time.Time) (int, error) {
	var n int
	err := r.conn.QueryRow(ctx,
		`SELECT COUNT(*) FROM checkin_records WHERE user_id = $1 AND day BETWEEN $2 AND $3`,
		string(userID), timeutil.Normalize(from), timeutil.Normalize(to),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count check-ins: %w", err)
	}
	return n, nil
}

// SumPoints totals the points of the user's ledger.
func (r *CheckinRepository) SumPoints(ctx context.Context, userID user.ID) (int, error) {
	var total int
	err := r.conn.QueryRow(ctx,
		`SELECT COALESCE(SUM(points), 0) FROM checkin_records WHERE user_id = $1`,
		string(userID),
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to sum check-in points: %w", err)
	}
	return total, nil
}

// List returns records with from <= day <= to, newest first.
func (r *CheckinRepository) List(ctx context.Context, userID user.ID, from, to time.Time) ([]*checkin.Record, error) {
	query := `
		SELECT id, user_id, day, category, note, evidence_ref, points, validated, created_at
		FROM checkin_records
		WHERE user_id = $1 AND day BETWEEN $2 AND $3
		ORDER BY day DESC, category
	`
	rows, err := r.conn.Query(ctx, query, string(userID), timeutil.Normalize(from), timeutil.Normalize(to))
	if err != nil {
		return nil, fmt.Errorf("failed to list check-ins: %w", err)
	}
	defer rows.Close()

	var out []*checkin.Record
	for rows.Next() {
		var (
			rec          checkin.Record
			id, uid, cat string
		)
		if err := rows.Scan(&id, &uid, &rec.Day, &cat, &rec.Note, &rec.EvidenceRef, &rec.Points, &rec.Validated, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan check-in: %w", err)
		}
		rec.ID = checkin.RecordID(id)
		rec.UserID = user.ID(uid)
		rec.Day = timeutil.Normalize(rec.Day)
		rec.Category = checkin.Category(cat)
		out = append(out, &rec)
	}
	return out, rows.Err()
}

// ActiveUsers returns users with at least one record on or after since.
func (r *CheckinRepository) ActiveUsers(ctx context.Context, since time.Time) ([]user.ID, error) {
	rows, err := r.conn.Query(ctx,
		`SELECT DISTINCT user_id FROM checkin_records WHERE day >= $1 ORDER BY user_id`,
		timeutil.Normalize(since))
	if err != nil {
		return nil, fmt.Errorf("failed to list active users: %w", err)
	}
	defer rows.Close()

	var out []user.ID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan user id: %w", err)
		}
		out = append(out, user.ID(id))
	}
	return out, rows.Err()
}
