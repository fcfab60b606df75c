package api

import (
	"errors"
	"fmt"
)

// Flow is a directed graph of steps with optional per-edge feedback-loop
// metadata. The engine owns persistence; the client validates and annotates
type Flow struct {
	ID           FlowID  `json:"id"`
	Name         string  `json:"name,omitempty"`
	Steps        []*Step `json:"steps"`
	EdgeMetadata EdgeMap `json:"edge_metadata,omitempty"`
}

var (
	ErrDuplicateStepID  = errors.New("duplicate step ID")
	ErrDanglingNextStep = errors.New("next_steps references unknown step")
	ErrEdgeUnknownStep  = errors.New("edge references unknown step")
	ErrEdgeNotInGraph   = errors.New("edge has no matching next_steps entry")
)

// StepByID returns the step with the given ID, or nil
func (f *Flow) StepByID(id StepID) *Step {
	for _, step := range f.Steps {
		if step.ID == id {
			return step
		}
	}
	return nil
}

// Validate checks the flow's steps, graph references, and edge metadata,
// returning all problems found
func (f *Flow) Validate() error {
	var errs []error
	ids := make(map[StepID]struct{}, len(f.Steps))

	for _, step := range f.Steps {
		if err := step.Validate(); err != nil {
			errs = append(errs, err)
		}
		if _, ok := ids[step.ID]; ok {
			errs = append(errs, fmt.Errorf("%w: %s",
				ErrDuplicateStepID, step.ID))
		}
		ids[step.ID] = struct{}{}
	}

	for _, step := range f.Steps {
		for _, next := range step.NextSteps {
			if _, ok := ids[next]; !ok {
				errs = append(errs, fmt.Errorf("%w: %s -> %s",
					ErrDanglingNextStep, step.ID, next))
			}
		}
	}

	for id, meta := range f.EdgeMetadata {
		if err := meta.Validate(id); err != nil {
			errs = append(errs, err)
			continue
		}
		errs = append(errs, f.validateEdgeRefs(id)...)
	}

	return errors.Join(errs...)
}

func (f *Flow) validateEdgeRefs(id EdgeID) []error {
	source, target, ok := id.Split()
	if !ok {
		return nil // already reported by EdgeMetadata.Validate
	}

	src := f.StepByID(source)
	if src == nil || f.StepByID(target) == nil {
		return []error{fmt.Errorf("%w: %s", ErrEdgeUnknownStep, id)}
	}

	for _, next := range src.NextSteps {
		if next == target {
			return nil
		}
	}
	return []error{fmt.Errorf("%w: %s", ErrEdgeNotInGraph, id)}
}
