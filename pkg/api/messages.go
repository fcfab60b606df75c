package api

import "time"

type (
	// ExecutionStatus is the engine-reported lifecycle state of an
	// execution, as returned by the listing endpoint
	ExecutionStatus string

	// StartExecutionRequest contains parameters for starting a run
	StartExecutionRequest struct {
		FlowID FlowID         `json:"flow_id"`
		Inputs map[string]any `json:"inputs,omitempty"`
	}

	// StartExecutionResponse is returned when a run starts
	StartExecutionResponse struct {
		ExecutionID ExecutionID `json:"execution_id"`
		Message     string      `json:"message,omitempty"`
	}

	// ApprovalDecisionRequest carries a human approve/reject decision for
	// a paused approval gate
	ApprovalDecisionRequest struct {
		StepID   StepID `json:"step_id"`
		Approved bool   `json:"approved"`
		Reason   string `json:"reason,omitempty"`
	}

	// ExecutionDigest summarizes one execution for listings
	ExecutionDigest struct {
		ID          ExecutionID     `json:"id"`
		FlowID      FlowID          `json:"flow_id"`
		Status      ExecutionStatus `json:"status"`
		StartedAt   time.Time       `json:"started_at"`
		LastUpdated time.Time       `json:"last_updated"`
		Error       string          `json:"error,omitempty"`
	}

	// ExecutionsListResponse contains recent executions for a flow
	ExecutionsListResponse struct {
		Executions []*ExecutionDigest `json:"executions"`
		Count      int                `json:"count"`
	}

	// MessageResponse contains a simple message string
	MessageResponse struct {
		Message string `json:"message"`
	}

	// ErrorResponse contains error details for failed requests
	ErrorResponse struct {
		Error  string `json:"error"`
		Status int    `json:"status,omitempty"`
	}
)

const (
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
	ExecutionCancelled ExecutionStatus = "cancelled"
)

// IsInFlight returns true if the execution has not reached a terminal state
func (s ExecutionStatus) IsInFlight() bool {
	return s == ExecutionRunning
}
