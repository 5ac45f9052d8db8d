package progress

import (
	"context"

	"github.com/beltline/progression-engine/internal/domain/curriculum"
	"github.com/beltline/progression-engine/internal/domain/user"
)

// Repository persists progress records.
type Repository interface {
	// Get returns shared.ErrProgressNotFound for unknown IDs.
	Get(ctx context.Context, id RecordID) (*Record, error)

	// FindByUserItem returns the record of a pair, or shared.ErrProgressNotFound.
	FindByUserItem(ctx context.Context, userID user.ID, itemID curriculum.ItemID) (*Record, error)

	// Create inserts a new record. A second record for the same (user, item)
	// fails with shared.ErrConcurrentModification so the caller can reload.
	Create(ctx context.Context, r *Record) error

	// Update writes r if its stored version equals expectedVersion and bumps
	// r.Version. Otherwise it fails with shared.ErrConcurrentModification.
	Update(ctx context.Context, r *Record, expectedVersion int64) error

	// ListByUserStep returns every record the user has for a step.
	ListByUserStep(ctx context.Context, userID user.ID, stepID curriculum.StepID) ([]*Record, error)

	// ListDoneItems returns the items the user completed across all steps.
	ListDoneItems(ctx context.Context, userID user.ID) ([]curriculum.ItemID, error)

	// ListPending returns records awaiting review, oldest first.
	ListPending(ctx context.Context, limit int) ([]*Record, error)
}
