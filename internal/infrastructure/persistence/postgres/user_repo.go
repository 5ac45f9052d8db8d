package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/beltline/progression-engine/internal/domain/belt"
	"github.com/beltline/progression-engine/internal/domain/shared"
	"github.com/beltline/progression-engine/internal/domain/user"

	"github.com/jackc/pgx/v5"
)

// ══════════════════════════════════════════════════════════════════════════════
// USER REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// UserRepository implements user.Repository for PostgreSQL.
type UserRepository struct {
	conn *Connection
}

// NewUserRepository creates a new UserRepository.
func NewUserRepository(conn *Connection) *UserRepository {
	return &UserRepository{conn: conn}
}

const userColumns = `id, belt, degree, total_points, current_streak, stats_refreshed_at, stats_version, version, created_at, updated_at`

// Get returns a user by ID.
func (r *UserRepository) Get(ctx context.Context, id user.ID) (*user.User, error) {
	row := r.conn.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, string(id))
	return scanUser(row)
}

// GetOrCreate provisions a white/1 row on first contact. Concurrent first
// contacts collapse into one row through ON CONFLICT.
func (r *UserRepository) GetOrCreate(ctx context.Context, id user.ID, now time.Time) (*user.User, error) {
	fresh, err := user.New(id, now)
	if err != nil {
		return nil, err
	}

	query := `
		INSERT INTO users (id, belt, degree, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		ON CONFLICT (id) DO NOTHING
	`
	if _, err := r.conn.Exec(ctx, query, string(fresh.ID), string(fresh.Belt), int(fresh.Degree), fresh.Version, now); err != nil {
		return nil, fmt.Errorf("failed to provision user: %w", err)
	}
	return r.Get(ctx, id)
}

// NextStatsVersion draws from user_stats_version_seq.
func (r *UserRepository) NextStatsVersion(ctx context.Context) (int64, error) {
	var v int64
	if err := r.conn.QueryRow(ctx, `SELECT nextval('user_stats_version_seq')`).Scan(&v); err != nil {
		return 0, fmt.Errorf("failed to draw stats version: %w", err)
	}
	return v, nil
}

// SaveStats writes the cached statistics if stats.Version is newer than the
// stored one. Belt and degree are untouched.
func (r *UserRepository) SaveStats(ctx context.Context, id user.ID, stats user.Stats) (bool, error) {
	query := `
		UPDATE users
		SET current_streak = $2, total_points = $3, stats_refreshed_at = $4, stats_version = $5, updated_at = $4
		WHERE id = $1 AND stats_version < $5
	`
	tag, err := r.conn.Exec(ctx, query, string(id), stats.CurrentStreak, stats.TotalPoints, stats.RefreshedAt, stats.Version)
	if err != nil {
		return false, fmt.Errorf("failed to save user stats: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return true, nil
	}

	var exists bool
	if err := r.conn.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE id = $1)`, string(id)).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check user: %w", err)
	}
	if !exists {
		return false, shared.ErrUserNotFound
	}
	return false, nil
}

// ListPromotions returns the audit trail, newest first.
func (r *UserRepository) ListPromotions(ctx context.Context, id user.ID) ([]user.Promotion, error) {
	query := `
		SELECT user_id, session_id, from_belt, from_degree, to_belt, to_degree, promoted_at
		FROM promotions
		WHERE user_id = $1
		ORDER BY promoted_at DESC, id DESC
	`
	rows, err := r.conn.Query(ctx, query, string(id))
	if err != nil {
		return nil, fmt.Errorf("failed to list promotions: %w", err)
	}
	defer rows.Close()

	var out []user.Promotion
	for rows.Next() {
		var (
			p                     user.Promotion
			uid, fromBelt, toBelt string
			fromDegree, toDegree  int
		)
		if err := rows.Scan(&uid, &p.SessionID, &fromBelt, &fromDegree, &toBelt, &toDegree, &p.At); err != nil {
			return nil, fmt.Errorf("failed to scan promotion: %w", err)
		}
		p.UserID = user.ID(uid)
		p.From = belt.Rank{Belt: belt.Belt(fromBelt), Degree: belt.Degree(fromDegree)}
		p.To = belt.Rank{Belt: belt.Belt(toBelt), Degree: belt.Degree(toDegree)}
		out = append(out, p)
	}
	return out, rows.Err()
}

// TopByPoints returns users ordered by cached points. It backs the
// leaderboard when the Redis ranking is unavailable.
func (r *UserRepository) TopByPoints(ctx context.Context, limit int) ([]*user.User, error) {
	rows, err := r.conn.Query(ctx, `SELECT `+userColumns+` FROM users ORDER BY total_points DESC, id LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list users by points: %w", err)
	}
	defer rows.Close()

	var out []*user.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// ─────────────────────────────────────────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────────────────────────────────────────

func scanUser(row pgx.Row) (*user.User, error) {
	var (
		u           user.User
		id, b       string
		degree      int
		refreshedAt *time.Time
	)
	err := row.Scan(&id, &b, &degree, &u.TotalPoints, &u.CurrentStreak, &refreshedAt, &u.StatsVersion, &u.Version, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}
	u.ID = user.ID(id)
	u.Belt = belt.Belt(b)
	u.Degree = belt.Degree(degree)
	if refreshedAt != nil {
		u.StatsRefreshedAt = *refreshedAt
	}
	if err := u.Validate(); err != nil {
		return nil, shared.WrapError("user", "Load", shared.ErrInvariant, "stored row is invalid", err)
	}
	return &u, nil
}

// promoteUser writes belt/degree under the optimistic lock and appends the
// audit row. It runs inside the outcome transaction.
func promoteUser(ctx context.Context, q Querier, u *user.User, expectedVersion int64, p *user.Promotion) error {
	query := `
		UPDATE users
		SET belt = $2, degree = $3, version = version + 1, updated_at = $4
		WHERE id = $1 AND version = $5
		RETURNING version
	`
	var newVersion int64
	err := q.QueryRow(ctx, query, string(u.ID), string(u.Belt), int(u.Degree), u.UpdatedAt, expectedVersion).Scan(&newVersion)
	if err != nil {
		if IsNoRows(err) {
			return shared.ErrConcurrentModification
		}
		return fmt.Errorf("failed to promote user: %w", err)
	}
	u.Version = newVersion

	if p == nil {
		return nil
	}
	_, err = q.Exec(ctx, `
		INSERT INTO promotions (user_id, session_id, from_belt, from_degree, to_belt, to_degree, promoted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, string(p.UserID), p.SessionID, string(p.From.Belt), int(p.From.Degree), string(p.To.Belt), int(p.To.Degree), p.At)
	if err != nil {
		return fmt.Errorf("failed to insert promotion: %w", err)
	}
	return nil
}
