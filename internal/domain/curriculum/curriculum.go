// Package curriculum describes the read-only catalog of steps and items.
// The catalog is owned by an external content system; the engine only reads it.
package curriculum

import (
	"context"
	"fmt"
	"strings"

	"github.com/beltline/progression-engine/internal/domain/belt"
	"github.com/beltline/progression-engine/internal/domain/shared"
)

type (
	StepID string
	ItemID string
)

// ItemType classifies curriculum items. Certifications also count towards a
// step's certification requirement.
type ItemType string

const (
	TypeCourse ItemType = "course"
	TypeCert   ItemType = "cert"
	TypeBook   ItemType = "book"
)

func (t ItemType) IsValid() bool {
	switch t {
	case TypeCourse, TypeCert, TypeBook:
		return true
	default:
		return false
	}
}

// Step is one belt tier of the curriculum.
type Step struct {
	ID            StepID    `json:"id" yaml:"id"`
	Belt          belt.Belt `json:"belt" yaml:"belt"`
	Title         string    `json:"title" yaml:"title"`
	RequiredCerts int       `json:"required_certs" yaml:"required_certs"`
}

// Validate checks a step definition.
func (s Step) Validate() error {
	if strings.TrimSpace(string(s.ID)) == "" {
		return shared.ValidationError("curriculum", "ValidateStep", "id", "required")
	}
	if !s.Belt.IsValid() {
		return shared.ValidationError("curriculum", "ValidateStep", "belt", fmt.Sprintf("unknown belt %q", s.Belt))
	}
	if s.RequiredCerts < 0 {
		return shared.ValidationError("curriculum", "ValidateStep", "required_certs", "must be >= 0")
	}
	return nil
}

// Item is a unit of work belonging to exactly one step.
type Item struct {
	ID       ItemID   `json:"id" yaml:"id"`
	StepID   StepID   `json:"step_id" yaml:"step"`
	Title    string   `json:"title" yaml:"title"`
	Type     ItemType `json:"type" yaml:"type"`
	Required bool     `json:"required" yaml:"required"`
	Points   int      `json:"points" yaml:"points"`
}

// Validate checks an item definition.
func (i Item) Validate() error {
	if strings.TrimSpace(string(i.ID)) == "" {
		return shared.ValidationError("curriculum", "ValidateItem", "id", "required")
	}
	if strings.TrimSpace(string(i.StepID)) == "" {
		return shared.ValidationError("curriculum", "ValidateItem", "step", "required")
	}
	if !i.Type.IsValid() {
		return shared.ValidationError("curriculum", "ValidateItem", "type", fmt.Sprintf("unknown type %q", i.Type))
	}
	if i.Points <= 0 {
		return shared.ValidationError("curriculum", "ValidateItem", "points", "must be > 0")
	}
	return nil
}

// Index is the read-only view of the catalog.
type Index interface {
	// Step returns shared.ErrStepNotFound for unknown IDs.
	Step(ctx context.Context, id StepID) (*Step, error)

	// StepForBelt returns the step attached to a belt.
	StepForBelt(ctx context.Context, b belt.Belt) (*Step, error)

	// Items lists every item of a step, required or not.
	Items(ctx context.Context, id StepID) ([]Item, error)

	// Item returns shared.ErrItemNotFound for unknown IDs.
	Item(ctx context.Context, id ItemID) (*Item, error)
}
