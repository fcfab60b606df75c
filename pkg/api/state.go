package api

import (
	"maps"
	"slices"
	"time"

	"github.com/kode4food/vigil/pkg/util"
)

type (
	// ConnectionStatus is the transport state of the stream subscription.
	// It is display state only; the sticky terminal marker for an
	// execution lives outside these three states
	ConnectionStatus string

	// ToolCallStatus is the lifecycle state of a tool invocation
	ToolCallStatus string

	// ExecutionState tracks the run flags for one execution attempt. It
	// is reset on every new run; completed steps are retained after
	// completion for display while the running flags are cleared
	ExecutionState struct {
		IsRunning      bool             `json:"is_running"`
		CurrentStepID  StepID           `json:"current_step_id,omitempty"`
		CompletedSteps util.Set[StepID] `json:"completed_steps"`
		RunningSteps   util.Set[StepID] `json:"running_steps"`
	}

	// Response is one complete agent response within a step
	Response struct {
		Content   string    `json:"content"`
		Round     int       `json:"round"`
		ModelUsed string    `json:"model_used,omitempty"`
		Timestamp time.Time `json:"timestamp"`
		IsEmpty   bool      `json:"is_empty,omitempty"`
	}

	// ToolCall is one tool invocation within a step, identified by
	// (tool_name, round, call_index)
	ToolCall struct {
		ToolName  string         `json:"tool_name"`
		Status    ToolCallStatus `json:"status"`
		Round     int            `json:"round"`
		CallIndex int            `json:"call_index"`
		Timestamp time.Time      `json:"timestamp"`
		Result    string         `json:"result,omitempty"`
	}

	// Iteration is one assessor/improver exchange recorded against a step
	// participating in a feedback loop
	Iteration struct {
		Iteration int       `json:"iteration"`
		Role      Role      `json:"role"`
		Output    string    `json:"output,omitempty"`
		Timestamp time.Time `json:"timestamp"`
		StepName  string    `json:"step_name,omitempty"`
	}

	// StepOutput accumulates everything a step produced during execution.
	// Streaming holds display-only per-round chunk buffers, superseded by
	// the complete response for the same round
	StepOutput struct {
		LLMResponses       []Response     `json:"llm_responses,omitempty"`
		ToolCalls          []ToolCall     `json:"tool_calls,omitempty"`
		FeedbackIterations []Iteration    `json:"feedback_iterations,omitempty"`
		FinalOutput        string         `json:"final_output,omitempty"`
		Streaming          map[int]string `json:"streaming,omitempty"`
	}

	// FeedbackLoopState tracks one active or closed feedback loop edge
	FeedbackLoopState struct {
		IsActive         bool           `json:"is_active"`
		CurrentIteration int            `json:"current_iteration"`
		MaxIterations    int            `json:"max_iterations"`
		SourceStepID     StepID         `json:"source_step_id"`
		TargetStepID     StepID         `json:"target_step_id"`
		Converged        bool           `json:"converged,omitempty"`
		FinalScore       *float64       `json:"final_score,omitempty"`
		QualityScores    []QualityScore `json:"quality_scores,omitempty"`
	}

	// ApprovalRequest surfaces a pending human approval gate
	ApprovalRequest struct {
		StepID      StepID    `json:"step_id"`
		StepName    string    `json:"step_name,omitempty"`
		Message     string    `json:"message,omitempty"`
		Content     string    `json:"content,omitempty"`
		RequestedAt time.Time `json:"requested_at"`
	}

	// WatchState is the aggregate the event stream is projected into: one
	// instance per watched execution
	WatchState struct {
		ExecutionID ExecutionID                   `json:"execution_id"`
		FlowID      FlowID                        `json:"flow_id,omitempty"`
		Execution   ExecutionState                `json:"execution"`
		Outputs     map[StepID]*StepOutput        `json:"outputs,omitempty"`
		Loops       map[EdgeID]*FeedbackLoopState `json:"loops,omitempty"`
		Pending     *ApprovalRequest              `json:"pending,omitempty"`
		Finished    bool                          `json:"finished,omitempty"`
		LastError   string                        `json:"last_error,omitempty"`
		LastUpdated time.Time                     `json:"last_updated"`
	}

	// TimelineEntry is one element of a step's merged chronological view.
	// Exactly one of ToolCall and Response is set
	TimelineEntry struct {
		Round    int       `json:"round"`
		ToolCall *ToolCall `json:"tool_call,omitempty"`
		Response *Response `json:"response,omitempty"`
	}
)

const (
	StatusDisconnected ConnectionStatus = "disconnected"
	StatusConnecting   ConnectionStatus = "connecting"
	StatusConnected    ConnectionStatus = "connected"
)

const (
	ToolCallStarted   ToolCallStatus = "started"
	ToolCallCompleted ToolCallStatus = "completed"
	ToolCallFailed    ToolCallStatus = "failed"
)

// EmptyResponsePlaceholder is recorded as the content of a response whose
// upstream content was empty, rather than dropping the response
const EmptyResponsePlaceholder = "(empty response)"

// Clone returns a deep copy of the state. Appliers operate on a clone so
// that projected states remain immutable snapshots
func (s *WatchState) Clone() *WatchState {
	res := *s
	res.Execution.CompletedSteps = s.Execution.CompletedSteps.Clone()
	res.Execution.RunningSteps = s.Execution.RunningSteps.Clone()

	res.Outputs = make(map[StepID]*StepOutput, len(s.Outputs))
	for id, out := range s.Outputs {
		res.Outputs[id] = out.clone()
	}

	res.Loops = make(map[EdgeID]*FeedbackLoopState, len(s.Loops))
	for id, loop := range s.Loops {
		cp := *loop
		cp.QualityScores = slices.Clone(loop.QualityScores)
		res.Loops[id] = &cp
	}

	if s.Pending != nil {
		cp := *s.Pending
		res.Pending = &cp
	}
	return &res
}

// Output returns the output record for a step, creating it if needed.
// Only call on a cloned state
func (s *WatchState) Output(id StepID) *StepOutput {
	if out, ok := s.Outputs[id]; ok {
		return out
	}
	out := &StepOutput{}
	if s.Outputs == nil {
		s.Outputs = map[StepID]*StepOutput{}
	}
	s.Outputs[id] = out
	return out
}

func (o *StepOutput) clone() *StepOutput {
	res := *o
	res.LLMResponses = slices.Clone(o.LLMResponses)
	res.ToolCalls = slices.Clone(o.ToolCalls)
	res.FeedbackIterations = slices.Clone(o.FeedbackIterations)
	res.Streaming = maps.Clone(o.Streaming)
	return &res
}

// HasResponse reports whether a response with the same content and round
// was already recorded. Upstream event IDs may repeat across reconnects,
// so responses deduplicate by content
func (o *StepOutput) HasResponse(content string, round int) bool {
	return slices.ContainsFunc(o.LLMResponses, func(r Response) bool {
		return r.Round == round && r.Content == content
	})
}

// FindToolCall returns the index of the tool call matching the identifying
// triple, or -1
func (o *StepOutput) FindToolCall(name string, round, callIndex int) int {
	return slices.IndexFunc(o.ToolCalls, func(tc ToolCall) bool {
		return tc.ToolName == name &&
			tc.Round == round &&
			tc.CallIndex == callIndex
	})
}

// HasIteration reports whether an iteration with the same number and role
// was already recorded
func (o *StepOutput) HasIteration(iteration int, role Role) bool {
	return slices.ContainsFunc(o.FeedbackIterations, func(it Iteration) bool {
		return it.Iteration == iteration && it.Role == role
	})
}

// HasScore reports whether a quality score was already recorded for the
// given iteration
func (l *FeedbackLoopState) HasScore(iteration int) bool {
	return slices.ContainsFunc(l.QualityScores, func(q QualityScore) bool {
		return q.Iteration == iteration
	})
}

// Timeline merges responses and tool calls into chronological display
// order: by round ascending, tool calls before responses within a round
// (tool calls produce the inputs the response consumes), then by call
// index or arrival order
func (o *StepOutput) Timeline() []TimelineEntry {
	entries := make([]TimelineEntry, 0, len(o.ToolCalls)+len(o.LLMResponses))
	for i := range o.ToolCalls {
		tc := &o.ToolCalls[i]
		entries = append(entries, TimelineEntry{
			Round:    tc.Round,
			ToolCall: tc,
		})
	}
	for i := range o.LLMResponses {
		r := &o.LLMResponses[i]
		entries = append(entries, TimelineEntry{
			Round:    r.Round,
			Response: r,
		})
	}

	slices.SortStableFunc(entries, func(a, b TimelineEntry) int {
		if a.Round != b.Round {
			return a.Round - b.Round
		}
		ar, br := a.rank(), b.rank()
		if ar != br {
			return ar - br
		}
		if a.ToolCall != nil && b.ToolCall != nil {
			return a.ToolCall.CallIndex - b.ToolCall.CallIndex
		}
		return 0
	})
	return entries
}

func (e *TimelineEntry) rank() int {
	if e.ToolCall != nil {
		return 0
	}
	return 1
}
