package events

import (
	"github.com/kode4food/timebox"

	"github.com/kode4food/vigil/pkg/api"
	"github.com/kode4food/vigil/pkg/util"
)

const WatchPrefix = "watch"

// WatchAppliers contains the event applier functions for watch state
var WatchAppliers = makeWatchAppliers()

// NewWatchState creates an empty watch state with initialized step sets
func NewWatchState() *api.WatchState {
	return &api.WatchState{
		Execution: api.ExecutionState{
			CompletedSteps: util.Set[api.StepID]{},
			RunningSteps:   util.Set[api.StepID]{},
		},
		Outputs: map[api.StepID]*api.StepOutput{},
		Loops:   map[api.EdgeID]*api.FeedbackLoopState{},
	}
}

// WatchKey returns the aggregate ID for a watched execution
func WatchKey[T ~string](executionID T) timebox.AggregateID {
	return timebox.NewAggregateID(WatchPrefix, timebox.ID(executionID))
}

// IsWatchEvent returns true if the event belongs to a watch aggregate
func IsWatchEvent(ev *timebox.Event) bool {
	return len(ev.AggregateID) >= 2 && ev.AggregateID[0] == WatchPrefix
}

func makeWatchAppliers() timebox.Appliers[*api.WatchState] {
	return MakeAppliers(map[api.EventType]timebox.Applier[*api.WatchState]{
		api.EventTypeExecutionStarted:   timebox.MakeApplier(executionStarted),
		api.EventTypeStepStarted:        timebox.MakeApplier(stepStarted),
		api.EventTypeStepCompleted:      timebox.MakeApplier(stepCompleted),
		api.EventTypeStepFailed:         timebox.MakeApplier(stepFailed),
		api.EventTypeApprovalRequired:   timebox.MakeApplier(approvalRequired),
		api.EventTypeApprovalGranted:    timebox.MakeApplier(approvalGranted),
		api.EventTypeApprovalRejected:   timebox.MakeApplier(approvalRejected),
		api.EventTypeExecutionCompleted: timebox.MakeApplier(executionCompleted),
		api.EventTypeExecutionFailed:    timebox.MakeApplier(executionFailed),
		api.EventTypeExecutionCancelled: timebox.MakeApplier(executionCancelled),
		api.EventTypeLLMStreamingChunk:  timebox.MakeApplier(llmStreamingChunk),
		api.EventTypeLLMResponse:        timebox.MakeApplier(llmResponse),
		api.EventTypeToolCallStarted:    timebox.MakeApplier(toolCallStarted),
		api.EventTypeToolCallCompleted:  timebox.MakeApplier(toolCallCompleted),
		api.EventTypeFeedbackStarted:    timebox.MakeApplier(feedbackStarted),
		api.EventTypeFeedbackIteration:  timebox.MakeApplier(feedbackIteration),
		api.EventTypeFeedbackCompleted:  timebox.MakeApplier(feedbackCompleted),
	})
}

// executionStarted marks the execution running. Reconnecting to an
// in-flight execution replays this event, so an execution that already
// has step activity recorded keeps its state untouched
func executionStarted(
	st *api.WatchState, ev *timebox.Event, data api.ExecutionStartedEvent,
) *api.WatchState {
	if st.Execution.IsRunning || !st.Execution.CompletedSteps.IsEmpty() {
		return st
	}
	res := st.Clone()
	if len(ev.AggregateID) >= 2 {
		res.ExecutionID = api.ExecutionID(ev.AggregateID[1])
	}
	if data.FlowID != "" {
		res.FlowID = data.FlowID
	}
	res.Execution.IsRunning = true
	res.Finished = false
	res.LastError = ""
	res.LastUpdated = ev.Timestamp
	return res
}

func stepStarted(
	st *api.WatchState, ev *timebox.Event, data api.StepStartedEvent,
) *api.WatchState {
	res := st.Clone()
	res.Execution.RunningSteps.Add(data.StepID)
	res.Execution.CurrentStepID = data.StepID
	res.LastUpdated = ev.Timestamp
	return res
}

func stepCompleted(
	st *api.WatchState, ev *timebox.Event, data api.StepCompletedEvent,
) *api.WatchState {
	res := st.Clone()
	out := res.Output(data.StepID)
	if data.FeedbackRole != "" {
		if !out.HasIteration(data.Iteration, data.FeedbackRole) {
			out.FeedbackIterations = append(out.FeedbackIterations,
				api.Iteration{
					Iteration: data.Iteration,
					Role:      data.FeedbackRole,
					Output:    data.AgentOutput,
					Timestamp: ev.Timestamp,
				})
		}
	} else if data.AgentOutput != "" {
		out.FinalOutput = data.AgentOutput
	}
	res.Execution.RunningSteps.Remove(data.StepID)
	res.Execution.CompletedSteps.Add(data.StepID)
	res.LastUpdated = ev.Timestamp
	return res
}

// stepFailed halts the whole execution. One failed step stops the flow,
// but already completed steps remain visible
func stepFailed(
	st *api.WatchState, ev *timebox.Event, data api.StepFailedEvent,
) *api.WatchState {
	res := st.Clone()
	res.Execution.RunningSteps.Remove(data.StepID)
	res.Execution.IsRunning = false
	res.LastError = data.Error
	res.LastUpdated = ev.Timestamp
	return res
}

func approvalRequired(
	st *api.WatchState, ev *timebox.Event, data api.ApprovalRequiredEvent,
) *api.WatchState {
	res := st.Clone()
	res.Pending = &api.ApprovalRequest{
		StepID:      data.StepID,
		StepName:    data.StepName,
		Message:     data.Message,
		Content:     data.Content,
		RequestedAt: ev.Timestamp,
	}
	res.LastUpdated = ev.Timestamp
	return res
}

func approvalGranted(
	st *api.WatchState, ev *timebox.Event, data api.ApprovalGrantedEvent,
) *api.WatchState {
	res := st.Clone()
	if res.Pending != nil && res.Pending.StepID == data.StepID {
		res.Pending = nil
	}
	res.LastUpdated = ev.Timestamp
	return res
}

func approvalRejected(
	st *api.WatchState, ev *timebox.Event, data api.ApprovalRejectedEvent,
) *api.WatchState {
	res := st.Clone()
	if res.Pending != nil && res.Pending.StepID == data.StepID {
		res.Pending = nil
	}
	res.LastUpdated = ev.Timestamp
	return res
}

func executionCompleted(
	st *api.WatchState, ev *timebox.Event, _ api.ExecutionCompletedEvent,
) *api.WatchState {
	return finishExecution(st, ev, "")
}

func executionFailed(
	st *api.WatchState, ev *timebox.Event, data api.ExecutionFailedEvent,
) *api.WatchState {
	return finishExecution(st, ev, data.Error)
}

func executionCancelled(
	st *api.WatchState, ev *timebox.Event, _ api.ExecutionCancelledEvent,
) *api.WatchState {
	return finishExecution(st, ev, "")
}

// finishExecution is shared by all terminal events. Running flags are
// cleared while completed steps are preserved, and re-application is a
// no-op once the state is finished
func finishExecution(
	st *api.WatchState, ev *timebox.Event, errMsg string,
) *api.WatchState {
	if st.Finished {
		return st
	}
	res := st.Clone()
	res.Execution.IsRunning = false
	res.Execution.RunningSteps.Clear()
	res.Execution.CurrentStepID = ""
	res.Finished = true
	if errMsg != "" {
		res.LastError = errMsg
	}
	res.LastUpdated = ev.Timestamp
	return res
}

// llmStreamingChunk accumulates display-only text for a round. The
// buffer is superseded when the complete response for the same round
// arrives
func llmStreamingChunk(
	st *api.WatchState, ev *timebox.Event, data api.LLMStreamingChunkEvent,
) *api.WatchState {
	res := st.Clone()
	out := res.Output(data.StepID)
	if out.Streaming == nil {
		out.Streaming = map[int]string{}
	}
	out.Streaming[data.Round] += data.Chunk
	res.LastUpdated = ev.Timestamp
	return res
}

// llmResponse records a complete response, deduplicated by content and
// round since upstream event ids may repeat across reconnects. Empty
// content is kept with a placeholder rather than dropped
func llmResponse(
	st *api.WatchState, ev *timebox.Event, data api.LLMResponseEvent,
) *api.WatchState {
	content := data.Content
	isEmpty := content == ""
	if isEmpty {
		content = api.EmptyResponsePlaceholder
	}

	res := st.Clone()
	out := res.Output(data.StepID)
	if out.HasResponse(content, data.Round) {
		return st
	}
	out.LLMResponses = append(out.LLMResponses, api.Response{
		Content:   content,
		Round:     data.Round,
		ModelUsed: data.ModelUsed,
		Timestamp: ev.Timestamp,
		IsEmpty:   isEmpty,
	})
	delete(out.Streaming, data.Round)
	res.LastUpdated = ev.Timestamp
	return res
}

func toolCallStarted(
	st *api.WatchState, ev *timebox.Event, data api.ToolCallStartedEvent,
) *api.WatchState {
	res := st.Clone()
	out := res.Output(data.StepID)
	if out.FindToolCall(data.ToolName, data.Round, data.CallIndex) >= 0 {
		return st
	}
	out.ToolCalls = append(out.ToolCalls, api.ToolCall{
		ToolName:  data.ToolName,
		Status:    api.ToolCallStarted,
		Round:     data.Round,
		CallIndex: data.CallIndex,
		Timestamp: ev.Timestamp,
	})
	res.LastUpdated = ev.Timestamp
	return res
}

func toolCallCompleted(
	st *api.WatchState, ev *timebox.Event, data api.ToolCallCompletedEvent,
) *api.WatchState {
	res := st.Clone()
	out := res.Output(data.StepID)
	idx := out.FindToolCall(data.ToolName, data.Round, data.CallIndex)
	if idx < 0 {
		out.ToolCalls = append(out.ToolCalls, api.ToolCall{
			ToolName:  data.ToolName,
			Round:     data.Round,
			CallIndex: data.CallIndex,
			Timestamp: ev.Timestamp,
		})
		idx = len(out.ToolCalls) - 1
	}
	tc := &out.ToolCalls[idx]
	tc.Status = api.ToolCallCompleted
	if data.Failed {
		tc.Status = api.ToolCallFailed
	}
	tc.Result = data.Result
	res.LastUpdated = ev.Timestamp
	return res
}

func feedbackStarted(
	st *api.WatchState, ev *timebox.Event, data api.FeedbackStartedEvent,
) *api.WatchState {
	res := st.Clone()
	res.Loops[data.EdgeID] = &api.FeedbackLoopState{
		IsActive:      true,
		MaxIterations: data.MaxIterations,
		SourceStepID:  data.SourceStepID,
		TargetStepID:  data.TargetStepID,
	}
	res.LastUpdated = ev.Timestamp
	return res
}

func feedbackIteration(
	st *api.WatchState, ev *timebox.Event, data api.FeedbackIterationEvent,
) *api.WatchState {
	res := st.Clone()
	loop, ok := res.Loops[data.EdgeID]
	if !ok {
		loop = &api.FeedbackLoopState{IsActive: true}
		res.Loops[data.EdgeID] = loop
	}
	if data.Iteration > loop.CurrentIteration {
		loop.CurrentIteration = data.Iteration
	}
	if data.QualityScore != nil && !loop.HasScore(data.Iteration) {
		loop.QualityScores = append(loop.QualityScores, api.QualityScore{
			Iteration: data.Iteration,
			Score:     *data.QualityScore,
			Timestamp: ev.Timestamp,
		})
	}

	if data.StepID != "" && data.Role.IsValid() {
		out := res.Output(data.StepID)
		if !out.HasIteration(data.Iteration, data.Role) {
			out.FeedbackIterations = append(out.FeedbackIterations,
				api.Iteration{
					Iteration: data.Iteration,
					Role:      data.Role,
					Output:    data.Output,
					Timestamp: ev.Timestamp,
					StepName:  data.StepName,
				})
		}
	}
	res.LastUpdated = ev.Timestamp
	return res
}

func feedbackCompleted(
	st *api.WatchState, ev *timebox.Event, data api.FeedbackCompletedEvent,
) *api.WatchState {
	res := st.Clone()
	loop, ok := res.Loops[data.EdgeID]
	if !ok {
		loop = &api.FeedbackLoopState{}
		res.Loops[data.EdgeID] = loop
	}
	loop.IsActive = false
	loop.Converged = data.Converged
	if data.Iterations > loop.CurrentIteration {
		loop.CurrentIteration = data.Iterations
	}
	loop.FinalScore = data.FinalScore
	res.LastUpdated = ev.Timestamp
	return res
}
