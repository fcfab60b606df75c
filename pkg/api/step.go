package api

import (
	"errors"
	"fmt"
)

type (
	// StepType distinguishes agent invocations from human approval gates
	StepType string

	// Step is one node in a flow's directed step graph. Steps are mutated
	// by the editor and read-only during execution
	Step struct {
		ID         StepID   `json:"id"`
		Name       string   `json:"name"`
		Type       StepType `json:"type"`
		AgentID    string   `json:"agent_id,omitempty"`
		NextSteps  []StepID `json:"next_steps,omitempty"`
		RetryCount int      `json:"retry_count,omitempty"`
		Timeout    int64    `json:"timeout,omitempty"`
	}
)

const (
	StepTypeAgent    StepType = "agent"
	StepTypeApproval StepType = "approval"
)

var (
	ErrStepIDEmpty     = errors.New("step ID empty")
	ErrStepNameEmpty   = errors.New("step name empty")
	ErrInvalidStepType = errors.New("invalid step type")
	ErrAgentIDRequired = errors.New("agent step requires agent_id")
	ErrNegativeRetries = errors.New("retry_count cannot be negative")
	ErrNegativeTimeout = errors.New("timeout cannot be negative")
)

// Validate checks a step definition for structural problems
func (s *Step) Validate() error {
	if s.ID == "" {
		return ErrStepIDEmpty
	}
	if s.Name == "" {
		return fmt.Errorf("%w: %s", ErrStepNameEmpty, s.ID)
	}

	switch s.Type {
	case StepTypeAgent:
		if s.AgentID == "" {
			return fmt.Errorf("%w: %s", ErrAgentIDRequired, s.ID)
		}
	case StepTypeApproval:
		// approval gates carry no agent binding
	default:
		return fmt.Errorf("%w: %q", ErrInvalidStepType, s.Type)
	}

	if s.RetryCount < 0 {
		return fmt.Errorf("%w: %s", ErrNegativeRetries, s.ID)
	}
	if s.Timeout < 0 {
		return fmt.Errorf("%w: %s", ErrNegativeTimeout, s.ID)
	}
	return nil
}

// IsApproval returns true if the step is a human approval gate
func (s *Step) IsApproval() bool {
	return s.Type == StepTypeApproval
}
