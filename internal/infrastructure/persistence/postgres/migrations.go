package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 001: USERS AND PROMOTIONS
// ══════════════════════════════════════════════════════════════════════════════

const migration001Up = `
CREATE TABLE IF NOT EXISTS users (
    id VARCHAR(128) PRIMARY KEY,
    belt VARCHAR(16) NOT NULL DEFAULT 'white',
    degree SMALLINT NOT NULL DEFAULT 1,
    total_points INTEGER NOT NULL DEFAULT 0,
    current_streak INTEGER NOT NULL DEFAULT 0,
    stats_refreshed_at TIMESTAMP WITH TIME ZONE,
    version BIGINT NOT NULL DEFAULT 1,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_belt CHECK (belt IN ('white', 'blue', 'purple', 'brown', 'black')),
    CONSTRAINT valid_degree CHECK (degree BETWEEN 1 AND 4),
    CONSTRAINT valid_points CHECK (total_points >= 0),
    CONSTRAINT valid_streak CHECK (current_streak >= 0)
);

CREATE INDEX IF NOT EXISTS idx_users_points ON users(total_points DESC);

CREATE TABLE IF NOT EXISTS promotions (
    id BIGSERIAL PRIMARY KEY,
    user_id VARCHAR(128) NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    session_id VARCHAR(64) NOT NULL,
    from_belt VARCHAR(16) NOT NULL,
    from_degree SMALLINT NOT NULL,
    to_belt VARCHAR(16) NOT NULL,
    to_degree SMALLINT NOT NULL,
    promoted_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_promotions_user ON promotions(user_id, promoted_at DESC);
`

const migration001Down = `
DROP TABLE IF EXISTS promotions;
DROP TABLE IF EXISTS users;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 002: PROGRESS RECORDS
// ══════════════════════════════════════════════════════════════════════════════

const migration002Up = `
CREATE TABLE IF NOT EXISTS progress_records (
    id VARCHAR(64) PRIMARY KEY,
    user_id VARCHAR(128) NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    item_id VARCHAR(64) NOT NULL,
    step_id VARCHAR(64) NOT NULL,
    status VARCHAR(20) NOT NULL,
    evidence_note TEXT NOT NULL DEFAULT '',
    evidence_ref TEXT NOT NULL DEFAULT '',
    submissions INTEGER NOT NULL DEFAULT 1,
    submitted_at TIMESTAMP WITH TIME ZONE NOT NULL,
    completed_at TIMESTAMP WITH TIME ZONE,
    review_note TEXT NOT NULL DEFAULT '',
    reviewer_id VARCHAR(128) NOT NULL DEFAULT '',
    reviewed_at TIMESTAMP WITH TIME ZONE,
    version BIGINT NOT NULL DEFAULT 1,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT uq_progress_user_item UNIQUE (user_id, item_id),
    CONSTRAINT valid_progress_status CHECK (status IN ('not_started', 'pending_review', 'done', 'rejected')),
    CONSTRAINT done_has_completion CHECK (status <> 'done' OR completed_at IS NOT NULL)
);

CREATE INDEX IF NOT EXISTS idx_progress_user_step ON progress_records(user_id, step_id);
CREATE INDEX IF NOT EXISTS idx_progress_pending ON progress_records(submitted_at) WHERE status = 'pending_review';
`

const migration002Down = `
DROP TABLE IF EXISTS progress_records;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 003: CHECK-IN LEDGER
// ══════════════════════════════════════════════════════════════════════════════

const migration003Up = `
CREATE TABLE IF NOT EXISTS checkin_records (
    id VARCHAR(64) PRIMARY KEY,
    user_id VARCHAR(128) NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    day DATE NOT NULL,
    category CHAR(1) NOT NULL,
    note TEXT NOT NULL DEFAULT '',
    evidence_ref TEXT NOT NULL DEFAULT '',
    points INTEGER NOT NULL,
    validated BOOLEAN NOT NULL DEFAULT FALSE,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT uq_checkin_user_day_category UNIQUE (user_id, day, category),
    CONSTRAINT valid_category CHECK (category IN ('P', 'I', 'F', 'E')),
    CONSTRAINT valid_checkin_points CHECK (points > 0)
);

CREATE INDEX IF NOT EXISTS idx_checkins_user_day ON checkin_records(user_id, day DESC);
CREATE INDEX IF NOT EXISTS idx_checkins_day ON checkin_records(day);
`

const migration003Down = `
DROP TABLE IF EXISTS checkin_records;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 004: EXAM SESSIONS AND REGISTRATIONS
// ══════════════════════════════════════════════════════════════════════════════

const migration004Up = `
CREATE TABLE IF NOT EXISTS exam_sessions (
    id VARCHAR(64) PRIMARY KEY,
    step_id VARCHAR(64) NOT NULL,
    exam_type VARCHAR(10) NOT NULL,
    session_date TIMESTAMP WITH TIME ZONE NOT NULL,
    location TEXT NOT NULL DEFAULT '',
    max_participants INTEGER NOT NULL,
    status VARCHAR(16) NOT NULL DEFAULT 'scheduled',
    version BIGINT NOT NULL DEFAULT 1,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_exam_type CHECK (exam_type IN ('degree', 'belt')),
    CONSTRAINT valid_session_status CHECK (status IN ('scheduled', 'completed', 'cancelled')),
    CONSTRAINT valid_capacity CHECK (max_participants > 0)
);

CREATE INDEX IF NOT EXISTS idx_sessions_step_date ON exam_sessions(step_id, session_date);
CREATE INDEX IF NOT EXISTS idx_sessions_due ON exam_sessions(session_date) WHERE status = 'scheduled';

CREATE TABLE IF NOT EXISTS exam_registrations (
    id VARCHAR(64) PRIMARY KEY,
    session_id VARCHAR(64) NOT NULL REFERENCES exam_sessions(id) ON DELETE CASCADE,
    user_id VARCHAR(128) NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    status VARCHAR(16) NOT NULL DEFAULT 'registered',
    belt VARCHAR(16) NOT NULL,
    degree SMALLINT NOT NULL,
    registered_at TIMESTAMP WITH TIME ZONE NOT NULL,
    cancelled_at TIMESTAMP WITH TIME ZONE,
    passed BOOLEAN,
    recorded_at TIMESTAMP WITH TIME ZONE,
    recorded_by VARCHAR(128) NOT NULL DEFAULT '',

    CONSTRAINT uq_registration_session_user UNIQUE (session_id, user_id),
    CONSTRAINT valid_registration_status CHECK (status IN ('registered', 'attended', 'cancelled'))
);

CREATE INDEX IF NOT EXISTS idx_registrations_active ON exam_registrations(session_id) WHERE status = 'registered';
`

const migration004Down = `
DROP TABLE IF EXISTS exam_registrations;
DROP TABLE IF EXISTS exam_sessions;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 005: STATS VERSIONS
// ══════════════════════════════════════════════════════════════════════════════

const migration005Up = `
CREATE SEQUENCE IF NOT EXISTS user_stats_version_seq;

ALTER TABLE users ADD COLUMN IF NOT EXISTS stats_version BIGINT NOT NULL DEFAULT 0;
`

const migration005Down = `
ALTER TABLE users DROP COLUMN IF EXISTS stats_version;
DROP SEQUENCE IF EXISTS user_stats_version_seq;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION SUPPORT
// ══════════════════════════════════════════════════════════════════════════════

// Migration represents a database migration.
type Migration struct {
	Version   int
	Name      string
	UpSQL     string
	DownSQL   string
	AppliedAt time.Time
	IsApplied bool
}

// GetMigrations returns all embedded migrations in order.
func GetMigrations() []Migration {
	return []Migration{
		{Version: 1, Name: "create_users", UpSQL: migration001Up, DownSQL: migration001Down},
		{Version: 2, Name: "create_progress_records", UpSQL: migration002Up, DownSQL: migration002Down},
		{Version: 3, Name: "create_checkin_records", UpSQL: migration003Up, DownSQL: migration003Down},
		{Version: 4, Name: "create_exams", UpSQL: migration004Up, DownSQL: migration004Down},
		{Version: 5, Name: "add_stats_version", UpSQL: migration005Up, DownSQL: migration005Down},
	}
}

// Migrator handles database migrations.
type Migrator struct {
	conn       *Connection
	migrations []Migration
	tableName  string
}

// NewMigrator creates a new migrator with embedded migrations.
func NewMigrator(conn *Connection) *Migrator {
	return &Migrator{
		conn:       conn,
		migrations: GetMigrations(),
		tableName:  "schema_migrations",
	}
}

// EnsureMigrationTable creates the migration tracking table if it doesn't exist.
func (m *Migrator) EnsureMigrationTable(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		)
	`, m.tableName)

	if _, err := m.conn.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}
	return nil
}

// GetAppliedMigrations returns applied versions with their timestamps.
func (m *Migrator) GetAppliedMigrations(ctx context.Context) (map[int]time.Time, error) {
	query := fmt.Sprintf("SELECT version, applied_at FROM %s ORDER BY version", m.tableName)

	rows, err := m.conn.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int]time.Time)
	for rows.Next() {
		var version int
		var appliedAt time.Time
		if err := rows.Scan(&version, &appliedAt); err != nil {
			return nil, fmt.Errorf("failed to scan migration row: %w", err)
		}
		applied[version] = appliedAt
	}
	return applied, rows.Err()
}

// Migrate applies all pending migrations, each in its own transaction.
func (m *Migrator) Migrate(ctx context.Context) error {
	if err := m.EnsureMigrationTable(ctx); err != nil {
		return err
	}

	applied, err := m.GetAppliedMigrations(ctx)
	if err != nil {
		return err
	}

	for _, mig := range m.migrations {
		if _, isApplied := applied[mig.Version]; isApplied {
			continue
		}
		if mig.UpSQL == "" {
			return fmt.Errorf("%w: missing up SQL for migration %d", ErrMigrationFailed, mig.Version)
		}

		err := m.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, mig.UpSQL); err != nil {
				return fmt.Errorf("failed to execute migration %d: %w", mig.Version, err)
			}
			insertQuery := fmt.Sprintf("INSERT INTO %s (version, name) VALUES ($1, $2)", m.tableName)
			_, err := tx.Exec(ctx, insertQuery, mig.Version, mig.Name)
			return err
		})
		if err != nil {
			return fmt.Errorf("%w: version %d: %v", ErrMigrationFailed, mig.Version, err)
		}
	}
	return nil
}

// Rollback rolls back the last applied migration.
func (m *Migrator) Rollback(ctx context.Context) error {
	if err := m.EnsureMigrationTable(ctx); err != nil {
		return err
	}

	applied, err := m.GetAppliedMigrations(ctx)
	if err != nil {
		return err
	}

	var lastVersion int
	for v := range applied {
		if v > lastVersion {
			lastVersion = v
		}
	}
	if lastVersion == 0 {
		return nil
	}

	var migration *Migration
	for i := range m.migrations {
		if m.migrations[i].Version == lastVersion {
			migration = &m.migrations[i]
			break
		}
	}
	if migration == nil || migration.DownSQL == "" {
		return fmt.Errorf("%w: missing down SQL for migration %d", ErrMigrationFailed, lastVersion)
	}

	return m.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, migration.DownSQL); err != nil {
			return fmt.Errorf("failed to rollback migration %d: %w", lastVersion, err)
		}
		deleteQuery := fmt.Sprintf("DELETE FROM %s WHERE version = $1", m.tableName)
		_, err := tx.Exec(ctx, deleteQuery, lastVersion)
		return err
	})
}

// Status returns every known migration with its applied state.
func (m *Migrator) Status(ctx context.Context) ([]Migration, error) {
	if err := m.EnsureMigrationTable(ctx); err != nil {
		return nil, err
	}

	applied, err := m.GetAppliedMigrations(ctx)
	if err != nil {
		return nil, err
	}

	result := make([]Migration, len(m.migrations))
	copy(result, m.migrations)
	for i := range result {
		if appliedAt, ok := applied[result[i].Version]; ok {
			result[i].IsApplied = true
			result[i].AppliedAt = appliedAt
		}
	}
	return result, nil
}
