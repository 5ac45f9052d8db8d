// Package catalog provides an in-memory curriculum.Index loaded from a YAML
// export of the content system.
package catalog

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/beltline/progression-engine/internal/domain/belt"
	"github.com/beltline/progression-engine/internal/domain/curriculum"
	"github.com/beltline/progression-engine/internal/domain/shared"
)

// File is the on-disk layout.
//
//	steps:
//	  - id: white
//	    belt: white
//	    title: Foundations
//	    required_certs: 1
//	    items:
//	      - {id: go-tour, title: Tour of Go, type: course, required: true, points: 40}
type File struct {
	Steps []StepEntry `yaml:"steps"`
}

// StepEntry is a step with its items nested.
type StepEntry struct {
	curriculum.Step `yaml:",inline"`
	Items           []curriculum.Item `yaml:"items"`
}

// Static is an immutable, validated catalog. It is safe for concurrent use;
// Replace swaps the whole content atomically.
type Static struct {
	mu     sync.RWMutex
	steps  map[curriculum.StepID]curriculum.Step
	byBelt map[belt.Belt]curriculum.StepID
	items  map[curriculum.ItemID]curriculum.Item
	order  map[curriculum.StepID][]curriculum.ItemID
}

var _ curriculum.Index = (*Static)(nil)

// LoadFile reads and validates a catalog file.
func LoadFile(path string) (*Static, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML. Unknown keys are rejected so typos surface at startup.
func Parse(data []byte) (*Static, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var f File
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("failed to parse catalog file: %w", err)
	}
	return New(f)
}

// New builds a catalog from already decoded content.
func New(f File) (*Static, error) {
	s := &Static{}
	if err := s.Replace(f); err != nil {
		return nil, err
	}
	return s, nil
}

// Replace validates f and swaps it in.
func (s *Static) Replace(f File) error {
	steps := make(map[curriculum.StepID]curriculum.Step, len(f.Steps))
	byBelt := make(map[belt.Belt]curriculum.StepID, len(f.Steps))
	items := make(map[curriculum.ItemID]curriculum.Item)
	order := make(map[curriculum.StepID][]curriculum.ItemID, len(f.Steps))

	for _, entry := range f.Steps {
		st := entry.Step
		if err := st.Validate(); err != nil {
			return fmt.Errorf("step %q: %w", st.ID, err)
		}
		if _, dup := steps[st.ID]; dup {
			return fmt.Errorf("step %q: duplicate id", st.ID)
		}
		if other, dup := byBelt[st.Belt]; dup {
			return fmt.Errorf("step %q: belt %s already used by step %q", st.ID, st.Belt, other)
		}
		steps[st.ID] = st
		byBelt[st.Belt] = st.ID

		for _, it := range entry.Items {
			if it.StepID == "" {
				it.StepID = st.ID
			}
			if it.StepID != st.ID {
				return fmt.Errorf("item %q: nested under %q but declares step %q", it.ID, st.ID, it.StepID)
			}
			if err := it.Validate(); err != nil {
				return fmt.Errorf("item %q: %w", it.ID, err)
			}
			if _, dup := items[it.ID]; dup {
				return fmt.Errorf("item %q: duplicate id", it.ID)
			}
			items[it.ID] = it
			order[st.ID] = append(order[st.ID], it.ID)
		}
	}

	s.mu.Lock()
	s.steps, s.byBelt, s.items, s.order = steps, byBelt, items, order
	s.mu.Unlock()
	return nil
}

func (s *Static) Step(_ context.Context, id curriculum.StepID) (*curriculum.Step, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.steps[id]
	if !ok {
		return nil, shared.ErrStepNotFound
	}
	return &st, nil
}

func (s *Static) StepForBelt(_ context.Context, b belt.Belt) (*curriculum.Step, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byBelt[b]
	if !ok {
		return nil, shared.ErrStepNotFound
	}
	st := s.steps[id]
	return &st, nil
}

func (s *Static) Items(_ context.Context, id curriculum.StepID) ([]curriculum.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.steps[id]; !ok {
		return nil, shared.ErrStepNotFound
	}
	ids := s.order[id]
	out := make([]curriculum.Item, 0, len(ids))
	for _, itemID := range ids {
		out = append(out, s.items[itemID])
	}
	return out, nil
}

func (s *Static) Item(_ context.Context, id curriculum.ItemID) (*curriculum.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	it, ok := s.items[id]
	if !ok {
		return nil, shared.ErrItemNotFound
	}
	return &it, nil
}

// Steps lists steps ordered by belt.
func (s *Static) Steps() []curriculum.Step {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]curriculum.Step, 0, len(s.steps))
	for _, st := range s.steps {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Belt.Less(out[j].Belt) })
	return out
}

// Points returns the points of an item, or zero for unknown items.
func (s *Static) Points(id curriculum.ItemID) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.items[id].Points
}
