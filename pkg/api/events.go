package api

type (
	// EventType discriminates events on the engine's execution stream
	EventType string

	// Event is implemented by every decoded stream event payload. Each
	// event kind has exactly one constructor type carrying only the fields
	// that kind requires
	Event interface {
		Kind() EventType
	}

	// ConnectionEstablishedEvent acknowledges a new stream subscription.
	// IsCompleted signals that the execution already reached a terminal
	// state, guarding against reconnecting into a finished execution
	ConnectionEstablishedEvent struct {
		IsCompleted bool `json:"is_completed,omitempty"`
	}

	// HeartbeatEvent is a liveness signal; it has no durable effect and
	// only promotes displayed connectivity status
	HeartbeatEvent struct{}

	// ExecutionStartedEvent is emitted when an execution begins
	ExecutionStartedEvent struct {
		FlowID FlowID `json:"flow_id,omitempty"`
	}

	// StepStartedEvent is emitted when a step begins execution. A present
	// FeedbackRole marks an iteration inside a feedback loop rather than a
	// standalone step
	StepStartedEvent struct {
		StepID       StepID `json:"step_id"`
		FeedbackRole Role   `json:"feedback_role,omitempty"`
		Iteration    int    `json:"iteration,omitempty"`
	}

	// StepCompletedEvent is emitted when a step completes successfully.
	// AgentOutput is the canonical output field; decoding also accepts the
	// deprecated result.output location
	StepCompletedEvent struct {
		StepID       StepID `json:"step_id"`
		AgentOutput  string `json:"agent_output,omitempty"`
		FeedbackRole Role   `json:"feedback_role,omitempty"`
		Iteration    int    `json:"iteration,omitempty"`
	}

	// StepFailedEvent is emitted when a step fails; one failed step halts
	// the whole execution
	StepFailedEvent struct {
		StepID StepID `json:"step_id"`
		Error  string `json:"error,omitempty"`
	}

	// ApprovalRequiredEvent pauses execution at a human approval gate
	ApprovalRequiredEvent struct {
		StepID   StepID `json:"step_id"`
		StepName string `json:"step_name,omitempty"`
		Message  string `json:"message,omitempty"`
		Content  string `json:"content,omitempty"`
	}

	// ApprovalGrantedEvent confirms a human approved the gated step
	ApprovalGrantedEvent struct {
		StepID StepID `json:"step_id"`
	}

	// ApprovalRejectedEvent confirms a human rejected the gated content;
	// the engine retries the producing step
	ApprovalRejectedEvent struct {
		StepID StepID `json:"step_id"`
		Reason string `json:"reason,omitempty"`
	}

	// ExecutionCompletedEvent is terminal: the execution finished
	ExecutionCompletedEvent struct{}

	// ExecutionFailedEvent is terminal: the execution failed
	ExecutionFailedEvent struct {
		Error string `json:"error,omitempty"`
	}

	// ExecutionCancelledEvent is terminal: the execution was cancelled
	ExecutionCancelledEvent struct{}

	// LLMStreamingChunkEvent carries a display-only fragment of agent
	// output, superseded by the LLMResponseEvent for the same round
	LLMStreamingChunkEvent struct {
		StepID StepID `json:"step_id"`
		Round  int    `json:"round"`
		Chunk  string `json:"chunk"`
	}

	// LLMResponseEvent carries a complete agent response for one round
	LLMResponseEvent struct {
		StepID    StepID `json:"step_id"`
		Round     int    `json:"round"`
		Content   string `json:"content"`
		ModelUsed string `json:"model_used,omitempty"`
	}

	// ToolCallStartedEvent marks the start of a tool invocation,
	// identified by (tool_name, round, call_index)
	ToolCallStartedEvent struct {
		StepID    StepID `json:"step_id"`
		ToolName  string `json:"tool_name"`
		Round     int    `json:"round"`
		CallIndex int    `json:"call_index"`
	}

	// ToolCallCompletedEvent finishes a previously started tool invocation
	ToolCallCompletedEvent struct {
		StepID    StepID `json:"step_id"`
		ToolName  string `json:"tool_name"`
		Round     int    `json:"round"`
		CallIndex int    `json:"call_index"`
		Result    string `json:"result,omitempty"`
		Failed    bool   `json:"failed,omitempty"`
	}

	// FeedbackStartedEvent opens a bidirectional refinement loop between
	// the steps of a feedback edge
	FeedbackStartedEvent struct {
		EdgeID        EdgeID `json:"edge_id"`
		SourceStepID  StepID `json:"source_step_id"`
		TargetStepID  StepID `json:"target_step_id"`
		MaxIterations int    `json:"max_iterations"`
	}

	// FeedbackIterationEvent records one assessor/improver exchange
	FeedbackIterationEvent struct {
		EdgeID       EdgeID   `json:"edge_id"`
		StepID       StepID   `json:"step_id,omitempty"`
		StepName     string   `json:"step_name,omitempty"`
		Iteration    int      `json:"iteration"`
		Role         Role     `json:"role"`
		Output       string   `json:"output,omitempty"`
		QualityScore *float64 `json:"quality_score,omitempty"`
	}

	// FeedbackCompletedEvent closes a feedback loop, recording whether
	// termination was due to convergence or exhausted iterations
	FeedbackCompletedEvent struct {
		EdgeID     EdgeID   `json:"edge_id"`
		Converged  bool     `json:"converged"`
		Iterations int      `json:"iterations"`
		FinalScore *float64 `json:"final_score,omitempty"`
	}
)

const (
	EventTypeConnectionEstablished EventType = "connection_established"
	EventTypeHeartbeat             EventType = "heartbeat"
	EventTypeExecutionStarted      EventType = "execution_started"
	EventTypeStepStarted           EventType = "step_started"
	EventTypeStepCompleted         EventType = "step_completed"
	EventTypeStepFailed            EventType = "step_failed"
	EventTypeApprovalRequired      EventType = "approval_required"
	EventTypeApprovalGranted       EventType = "approval_granted"
	EventTypeApprovalRejected      EventType = "approval_rejected"
	EventTypeExecutionCompleted    EventType = "execution_completed"
	EventTypeExecutionFailed       EventType = "execution_failed"
	EventTypeExecutionCancelled    EventType = "execution_cancelled"
	EventTypeLLMStreamingChunk     EventType = "llm_streaming_chunk"
	EventTypeLLMResponse           EventType = "llm_response"
	EventTypeToolCallStarted       EventType = "tool_call_started"
	EventTypeToolCallCompleted     EventType = "tool_call_completed"

	EventTypeFeedbackStarted   EventType = "bidirectional_feedback_started"
	EventTypeFeedbackIteration EventType = "feedback_loop_iteration"
	EventTypeFeedbackCompleted EventType = "bidirectional_feedback_completed"
)

func (ConnectionEstablishedEvent) Kind() EventType {
	return EventTypeConnectionEstablished
}

func (HeartbeatEvent) Kind() EventType { return EventTypeHeartbeat }

func (ExecutionStartedEvent) Kind() EventType {
	return EventTypeExecutionStarted
}

func (StepStartedEvent) Kind() EventType   { return EventTypeStepStarted }
func (StepCompletedEvent) Kind() EventType { return EventTypeStepCompleted }
func (StepFailedEvent) Kind() EventType    { return EventTypeStepFailed }

func (ApprovalRequiredEvent) Kind() EventType {
	return EventTypeApprovalRequired
}

func (ApprovalGrantedEvent) Kind() EventType {
	return EventTypeApprovalGranted
}

func (ApprovalRejectedEvent) Kind() EventType {
	return EventTypeApprovalRejected
}

func (ExecutionCompletedEvent) Kind() EventType {
	return EventTypeExecutionCompleted
}

func (ExecutionFailedEvent) Kind() EventType {
	return EventTypeExecutionFailed
}

func (ExecutionCancelledEvent) Kind() EventType {
	return EventTypeExecutionCancelled
}

func (LLMStreamingChunkEvent) Kind() EventType {
	return EventTypeLLMStreamingChunk
}

func (LLMResponseEvent) Kind() EventType { return EventTypeLLMResponse }

func (ToolCallStartedEvent) Kind() EventType {
	return EventTypeToolCallStarted
}

func (ToolCallCompletedEvent) Kind() EventType {
	return EventTypeToolCallCompleted
}

func (FeedbackStartedEvent) Kind() EventType {
	return EventTypeFeedbackStarted
}

func (FeedbackIterationEvent) Kind() EventType {
	return EventTypeFeedbackIteration
}

func (FeedbackCompletedEvent) Kind() EventType {
	return EventTypeFeedbackCompleted
}

// IsTerminal returns true for the event types that end an execution
func (t EventType) IsTerminal() bool {
	switch t {
	case EventTypeExecutionCompleted, EventTypeExecutionFailed,
		EventTypeExecutionCancelled:
		return true
	}
	return false
}

// IsTransient returns true for event types that carry no durable effect
// and are therefore never deduplicated
func (t EventType) IsTransient() bool {
	return t == EventTypeConnectionEstablished || t == EventTypeHeartbeat
}
