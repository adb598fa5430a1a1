package domain

import (
	"errors"
	"fmt"
	"sort"
)

// ErrDuplicatePosition is returned when two elements of a batch share a position
var ErrDuplicatePosition = errors.New("duplicate batch element position")

// BatchElement places one task at a position within a batch
type BatchElement struct {
	Task      *Task
	Position  int
	Condition RunCondition
}

// EffectiveCondition returns the element's condition, defaulting to RunAlways
func (e BatchElement) EffectiveCondition() RunCondition {
	if e.Condition == "" {
		return RunAlways
	}
	return e.Condition
}

// Batch is an ordered workflow of tasks. Configuration is empty for
// standalone cross-configuration batches.
type Batch struct {
	Name          string
	Configuration string
	Workspace     string
	Elements      []BatchElement
}

// Ordered returns the elements sorted by ascending position. Positions must
// be unique; ties are rejected rather than broken arbitrarily.
func (b *Batch) Ordered() ([]BatchElement, error) {
	ordered := make([]BatchElement, len(b.Elements))
	copy(ordered, b.Elements)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Position < ordered[j].Position
	})

	for i, el := range ordered {
		if el.Task == nil {
			return nil, fmt.Errorf("batch %q: element at position %d has no task", b.Name, el.Position)
		}
		if !el.Condition.Valid() {
			return nil, fmt.Errorf("batch %q: element %q has unknown condition %q", b.Name, el.Task.Name, el.Condition)
		}
		if i > 0 && ordered[i-1].Position == el.Position {
			return nil, fmt.Errorf("batch %q: %w %d (%s, %s)", b.Name, ErrDuplicatePosition,
				el.Position, ordered[i-1].Task.Name, el.Task.Name)
		}
	}
	return ordered, nil
}

// Validate checks that the batch can be executed
func (b *Batch) Validate() error {
	if b.Name == "" {
		return fmt.Errorf("batch name is required")
	}
	_, err := b.Ordered()
	return err
}
