// Package command contains write operations (CQRS - Commands).
package command

import (
	"context"
	"errors"
	"time"

	"github.com/beltline/progression-engine/internal/domain/checkin"
	"github.com/beltline/progression-engine/internal/domain/shared"
	"github.com/beltline/progression-engine/pkg/retry"

	"github.com/google/uuid"
)

// CheckinGuard is a fast idempotency check in front of the ledger. It only
// short-circuits obvious duplicates; the ledger's uniqueness constraint
// stays authoritative.
type CheckinGuard interface {
	// Claim reports false when the key was already claimed.
	Claim(ctx context.Context, key checkin.Key) (bool, error)
	// Release frees a claim whose write did not happen.
	Release(ctx context.Context, key checkin.Key) error
}

// NopGuard claims every key.
type NopGuard struct{}

func (NopGuard) Claim(context.Context, checkin.Key) (bool, error) { return true, nil }
func (NopGuard) Release(context.Context, checkin.Key) error       { return nil }

// IDFunc generates identifiers for new records.
type IDFunc func() string

// NewID returns a random UUID string.
func NewID() string { return uuid.NewString() }

// RetryConfig bounds optimistic-lock retries.
type RetryConfig struct {
	MaxAttempts  int
	InitialDelay time.Duration
}

// DefaultRetryConfig returns 5 attempts starting at 10ms.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxAttempts: 5, InitialDelay: 10 * time.Millisecond}
}

func (c RetryConfig) retrier() *retry.Retrier {
	def := DefaultRetryConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = def.MaxAttempts
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = def.InitialDelay
	}
	return retry.OptimisticRetrier(c.MaxAttempts, c.InitialDelay, retry.WithRetryIf(isCASConflict))
}

func isCASConflict(err error) bool {
	return errors.Is(err, shared.ErrConcurrentModification)
}

// publish sends events and ignores delivery failures; the state change has
// already been committed.
func publish(p shared.EventPublisher, events ...shared.Event) {
	for _, e := range events {
		_ = p.Publish(e)
	}
}
