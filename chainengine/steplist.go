package chainengine

import (
	"fmt"

	"github.com/google/uuid"
)

// StepList is the ordered, heterogeneous list backing one chain editing
// session. All mutation goes through its methods, and every mutating method
// restores the order invariant before returning: order values are exactly
// 0..n-1 matching list position, with no gaps or duplicates. The session is
// single-threaded; StepList performs no locking of its own.
type StepList struct {
	steps []Step
}

// NewStepList returns an empty list.
func NewStepList() *StepList {
	return &StepList{}
}

// Len returns the number of steps.
func (l *StepList) Len() int {
	return len(l.steps)
}

// Steps returns a copy of the list in order. Mutating the returned slice
// does not affect the session.
func (l *StepList) Steps() []Step {
	out := make([]Step, len(l.steps))
	for i, s := range l.steps {
		out[i] = copyStep(s)
	}
	return out
}

// ByLocalID returns a copy of the step with the given local ID.
func (l *StepList) ByLocalID(id string) (Step, error) {
	for _, s := range l.steps {
		if s.LocalID == id {
			return copyStep(s), nil
		}
	}
	return Step{}, fmt.Errorf("step %q: %w", id, ErrNotFound)
}

// Append adds a step at the end and returns its local ID. A missing local ID
// is assigned; the step's variant must match its kind.
func (l *StepList) Append(step Step) (string, error) {
	switch step.Kind {
	case StepKindPrivate:
		if step.Private == nil || step.TemplateRef != nil {
			return "", fmt.Errorf("append private step: %w", ErrInvalidStepKind)
		}
	case StepKindTemplateRef:
		if step.TemplateRef == nil || step.Private != nil {
			return "", fmt.Errorf("append template reference: %w", ErrInvalidStepKind)
		}
	default:
		return "", fmt.Errorf("append step of kind %q: %w", step.Kind, ErrInvalidStepKind)
	}
	if step.LocalID == "" {
		step.LocalID = uuid.NewString()
	}
	l.steps = append(l.steps, copyStep(step))
	l.normalize()
	return step.LocalID, nil
}

// RemoveByLocalID removes the step with the given local ID. An absent ID is
// reported as not found and leaves the list unchanged.
func (l *StepList) RemoveByLocalID(id string) error {
	for i, s := range l.steps {
		if s.LocalID == id {
			l.steps = append(l.steps[:i], l.steps[i+1:]...)
			l.normalize()
			return nil
		}
	}
	return fmt.Errorf("remove step %q: %w", id, ErrNotFound)
}

// DuplicateByLocalID deep-copies a step, assigns a fresh local ID, strips
// any persisted ID on the copy, and appends it at the end. Duplicating a
// template reference preserves the template ID. Returns the copy's local ID.
func (l *StepList) DuplicateByLocalID(id string) (string, error) {
	for _, s := range l.steps {
		if s.LocalID != id {
			continue
		}
		dup := copyStep(s)
		dup.LocalID = uuid.NewString()
		if dup.Private != nil {
			dup.Private.PersistedID = 0
		}
		l.steps = append(l.steps, dup)
		l.normalize()
		return dup.LocalID, nil
	}
	return "", fmt.Errorf("duplicate step %q: %w", id, ErrNotFound)
}

// Reorder moves the element at fromIndex to toIndex. Reordering an empty
// list and fromIndex == toIndex are no-ops; any index outside a non-empty
// list is rejected.
func (l *StepList) Reorder(fromIndex, toIndex int) error {
	if len(l.steps) == 0 {
		return nil
	}
	if fromIndex < 0 || fromIndex >= len(l.steps) || toIndex < 0 || toIndex >= len(l.steps) {
		return fmt.Errorf("reorder %d -> %d with %d steps: %w", fromIndex, toIndex, len(l.steps), ErrStepIndexOutOfRange)
	}
	if fromIndex == toIndex {
		return nil
	}
	moved := l.steps[fromIndex]
	l.steps = append(l.steps[:fromIndex], l.steps[fromIndex+1:]...)
	rest := append(l.steps[:toIndex:toIndex], moved)
	l.steps = append(rest, l.steps[toIndex:]...)
	l.normalize()
	return nil
}

// UpdatePrivateStep replaces the private step's configuration, keeping its
// local ID, order, and enabled flag. An absent ID or one that addresses a
// template reference fails with ErrNotFound: template references are not
// visible to private-step updates.
func (l *StepList) UpdatePrivateStep(id string, data PrivateStep) error {
	for i, s := range l.steps {
		if s.LocalID != id || s.Kind != StepKindPrivate {
			continue
		}
		updated := copyPrivateStep(&data)
		l.steps[i].Private = updated
		l.normalize()
		return nil
	}
	return fmt.Errorf("update step %q: %w", id, ErrNotFound)
}

// SetEnabled toggles the enabled flag on any step kind.
func (l *StepList) SetEnabled(id string, enabled bool) error {
	for i, s := range l.steps {
		if s.LocalID == id {
			l.steps[i].Enabled = enabled
			return nil
		}
	}
	return fmt.Errorf("toggle step %q: %w", id, ErrNotFound)
}

// normalize restores the order invariant: order equals list position.
func (l *StepList) normalize() {
	for i := range l.steps {
		l.steps[i].Order = i
	}
}

func copyStep(s Step) Step {
	out := s
	out.Private = copyPrivateStep(s.Private)
	out.TemplateRef = copyTemplateRefStep(s.TemplateRef)
	return out
}

func copyPrivateStep(p *PrivateStep) *PrivateStep {
	if p == nil {
		return nil
	}
	out := *p
	out.ParameterValues = copyValueMap(p.ParameterValues)
	if p.PostProcessingRules != nil {
		out.PostProcessingRules = make([]Rule, len(p.PostProcessingRules))
		copy(out.PostProcessingRules, p.PostProcessingRules)
	}
	if p.GenerationConstraints != nil {
		constraints := *p.GenerationConstraints
		out.GenerationConstraints = &constraints
	}
	return &out
}

func copyTemplateRefStep(t *TemplateRefStep) *TemplateRefStep {
	if t == nil {
		return nil
	}
	out := *t
	if t.Cached != nil {
		cached := *t.Cached
		if t.Cached.ParameterSchema != nil {
			cached.ParameterSchema = make(map[string]ParameterDefinition, len(t.Cached.ParameterSchema))
			for k, v := range t.Cached.ParameterSchema {
				cached.ParameterSchema[k] = v
			}
		}
		out.Cached = &cached
	}
	return &out
}

func copyValueMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		if nested, ok := v.(map[string]any); ok {
			out[k] = copyValueMap(nested)
			continue
		}
		out[k] = v
	}
	return out
}
