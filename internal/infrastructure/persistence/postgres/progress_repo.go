package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/beltline/progression-engine/internal/domain/curriculum"
	"github.com/beltline/progression-engine/internal/domain/progress"
	"github.com/beltline/progression-engine/internal/domain/shared"
	"github.com/beltline/progression-engine/internal/domain/user"

	"github.com/jackc/pgx/v5"
)

// ══════════════════════════════════════════════════════════════════════════════
// PROGRESS REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// ProgressRepository implements progress.Repository for PostgreSQL.
type ProgressRepository struct {
	conn *Connection
}

// NewProgressRepository creates a new ProgressRepository.
func NewProgressRepository(conn *Connection) *ProgressRepository {
	return &ProgressRepository{conn: conn}
}

const progressColumns = `
	id, user_id, item_id, step_id, status, evidence_note, evidence_ref, submissions,
	submitted_at, completed_at, review_note, reviewer_id, reviewed_at, version, created_at, updated_at`

// Get returns a record by ID.
func (r *ProgressRepository) Get(ctx context.Context, id progress.RecordID) (*progress.Record, error) {
	row := r.conn.QueryRow(ctx, `SELECT `+progressColumns+` FROM progress_records WHERE id = $1`, string(id))
	return scanRecord(row)
}

// FindByUserItem returns the record of a (user, item) pair.
func (r *ProgressRepository) FindByUserItem(ctx context.Context, userID user.ID, itemID curriculum.ItemID) (*progress.Record, error) {
	row := r.conn.QueryRow(ctx,
		`SELECT `+progressColumns+` FROM progress_records WHERE user_id = $1 AND item_id = $2`,
		string(userID), string(itemID))
	return scanRecord(row)
}

// Create inserts a new record.
func (r *ProgressRepository) Create(ctx context.Context, rec *progress.Record) error {
	completedAt, note, reviewerID, reviewedAt := progress.Columns(rec.State)
	query := `
		INSERT INTO progress_records (` + progressColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`
	_, err := r.conn.Exec(ctx, query,
		string(rec.ID),
		string(rec.UserID),
		string(rec.ItemID),
		string(rec.StepID),
		string(rec.Status()),
		rec.Evidence.Note,
		rec.Evidence.Ref,
		rec.Submissions,
		rec.SubmittedAt,
		completedAt,
		note,
		reviewerID,
		reviewedAt,
		rec.Version,
		rec.CreatedAt,
		rec.UpdatedAt,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			if ConstraintName(err) == "uq_progress_user_item" {
				return shared.WrapError("progress", "Create", shared.ErrConcurrentModification, "record already exists for user and item", err)
			}
			return shared.WrapError("progress", "Create", shared.ErrAlreadyExists, "record id already used", err)
		}
		return fmt.Errorf("failed to create progress record: %w", err)
	}
	return nil
}

// Update writes the record under optimistic locking.
func (r *ProgressRepository) Update(ctx context.Context, rec *progress.Record, expectedVersion int64) error {
	completedAt, note, reviewerID, reviewedAt := progress.Columns(rec.State)
	query := `
		UPDATE progress_records
		SET status = $2, evidence_note = $3, evidence_ref = $4, submissions = $5,
			submitted_at = $6, completed_at = $7, review_note = $8, reviewer_id = $9,
			reviewed_at = $10, updated_at = $11, version = version + 1
		WHERE id = $1 AND version = $12
	`
	tag, err := r.conn.Exec(ctx, query,
		string(rec.ID),
		string(rec.Status()),
		rec.Evidence.Note,
		rec.Evidence.Ref,
		rec.Submissions,
		rec.SubmittedAt,
		completedAt,
		note,
		reviewerID,
		reviewedAt,
		rec.UpdatedAt,
		expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("failed to update progress record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.Get(ctx, rec.ID); err != nil {
			return err
		}
		return shared.ErrConcurrentModification
	}
	rec.Version = expectedVersion + 1
	return nil
}

// ListByUserStep returns every record the user has for a step.
func (r *ProgressRepository) ListByUserStep(ctx context.Context, userID user.ID, stepID curriculum.StepID) ([]*progress.Record, error) {
	return r.list(ctx,
		`SELECT `+progressColumns+` FROM progress_records WHERE user_id = $1 AND step_id = $2 ORDER BY created_at`,
		string(userID), string(stepID))
}

// ListDoneItems returns the items the user completed.
func (r *ProgressRepository) ListDoneItems(ctx context.Context, userID user.ID) ([]curriculum.ItemID, error) {
	rows, err := r.conn.Query(ctx,
		`SELECT item_id FROM progress_records WHERE user_id = $1 AND status = $2 ORDER BY item_id`,
		string(userID), string(progress.StatusDone))
	if err != nil {
		return nil, fmt.Errorf("failed to list done items: %w", err)
	}
	defer rows.Close()

	var out []curriculum.ItemID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan item id: %w", err)
		}
		out = append(out, curriculum.ItemID(id))
	}
	return out, rows.Err()
}

// ListPending returns the review queue, oldest first.
func (r *ProgressRepository) ListPending(ctx context.Context, limit int) ([]*progress.Record, error) {
	if limit <= 0 {
		limit = 100
	}
	return r.list(ctx,
		`SELECT `+progressColumns+` FROM progress_records WHERE status = $1 ORDER BY submitted_at LIMIT $2`,
		string(progress.StatusPendingReview), limit)
}

// ─────────────────────────────────────────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────────────────────────────────────────

func (r *ProgressRepository) list(ctx context.Context, query string, args ...interface{}) ([]*progress.Record, error) {
	rows, err := r.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query progress records: %w", err)
	}
	defer rows.Close()

	var out []*progress.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func scanRecord(row pgx.Row) (*progress.Record, error) {
	var (
		rec                                progress.Record
		id, userID, itemID, stepID, status string
		note, reviewerID                   string
		completedAt, reviewedAt            *time.Time
	)
	err := row.Scan(
		&id, &userID, &itemID, &stepID, &status,
		&rec.Evidence.Note, &rec.Evidence.Ref, &rec.Submissions,
		&rec.SubmittedAt, &completedAt, &note, &reviewerID, &reviewedAt,
		&rec.Version, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrProgressNotFound
		}
		return nil, fmt.Errorf("failed to scan progress record: %w", err)
	}

	state, err := progress.StateFromColumns(progress.Status(status), rec.SubmittedAt, completedAt, note, reviewerID, reviewedAt)
	if err != nil {
		return nil, err
	}
	rec.ID = progress.RecordID(id)
	rec.UserID = user.ID(userID)
	rec.ItemID = curriculum.ItemID(itemID)
	rec.StepID = curriculum.StepID(stepID)
	rec.State = state
	return &rec, nil
}
