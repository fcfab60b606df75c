package events

import (
	"testing"
	"time"

	"github.com/kode4food/timebox"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kode4food/vigil/pkg/api"
)

func makeEvent(execID api.ExecutionID) *timebox.Event {
	return &timebox.Event{
		AggregateID: WatchKey(execID),
		Timestamp:   time.Now(),
	}
}

func TestExecutionStarted(t *testing.T) {
	ev := makeEvent("e1")
	st := executionStarted(NewWatchState(), ev,
		api.ExecutionStartedEvent{FlowID: "f1"},
	)

	assert.Equal(t, api.ExecutionID("e1"), st.ExecutionID)
	assert.Equal(t, api.FlowID("f1"), st.FlowID)
	assert.True(t, st.Execution.IsRunning)
}

func TestExecutionStartedReplayIgnored(t *testing.T) {
	ev := makeEvent("e1")
	st := executionStarted(NewWatchState(), ev, api.ExecutionStartedEvent{})
	st = stepStarted(st, ev, api.StepStartedEvent{StepID: "s1"})

	// replaying started on an in-flight execution changes nothing
	replayed := executionStarted(st, ev, api.ExecutionStartedEvent{})
	assert.Same(t, st, replayed)
}

func TestStepLifecycle(t *testing.T) {
	ev := makeEvent("e1")
	st := executionStarted(NewWatchState(), ev, api.ExecutionStartedEvent{})
	st = stepStarted(st, ev, api.StepStartedEvent{StepID: "s1"})

	assert.True(t, st.Execution.RunningSteps.Contains("s1"))
	assert.Equal(t, api.StepID("s1"), st.Execution.CurrentStepID)

	st = stepCompleted(st, ev, api.StepCompletedEvent{
		StepID:      "s1",
		AgentOutput: "done",
	})
	assert.False(t, st.Execution.RunningSteps.Contains("s1"))
	assert.True(t, st.Execution.CompletedSteps.Contains("s1"))
	assert.Equal(t, "done", st.Outputs["s1"].FinalOutput)
}

func TestStepCompletedFeedbackIteration(t *testing.T) {
	ev := makeEvent("e1")
	st := NewWatchState()
	data := api.StepCompletedEvent{
		StepID:       "s1",
		AgentOutput:  "assessment",
		FeedbackRole: api.RoleAssessor,
		Iteration:    1,
	}

	st = stepCompleted(st, ev, data)
	st = stepCompleted(st, ev, data)

	out := st.Outputs["s1"]
	require.Len(t, out.FeedbackIterations, 1)
	assert.Equal(t, "assessment", out.FeedbackIterations[0].Output)
	assert.Empty(t, out.FinalOutput)
}

func TestStepFailedHaltsExecution(t *testing.T) {
	ev := makeEvent("e1")
	st := executionStarted(NewWatchState(), ev, api.ExecutionStartedEvent{})
	st = stepStarted(st, ev, api.StepStartedEvent{StepID: "s1"})
	st = stepFailed(st, ev, api.StepFailedEvent{
		StepID: "s1",
		Error:  "agent timed out",
	})

	assert.False(t, st.Execution.IsRunning)
	assert.False(t, st.Execution.RunningSteps.Contains("s1"))
	assert.Equal(t, "agent timed out", st.LastError)
}

func TestDuplicateLLMResponse(t *testing.T) {
	ev := makeEvent("e1")
	st := NewWatchState()
	data := api.LLMResponseEvent{StepID: "s1", Round: 1, Content: "hello"}

	st = llmResponse(st, ev, data)
	st = llmResponse(st, ev, data)

	require.Len(t, st.Outputs["s1"].LLMResponses, 1)
	assert.Equal(t, "hello", st.Outputs["s1"].LLMResponses[0].Content)
}

func TestEmptyLLMResponsePlaceholder(t *testing.T) {
	ev := makeEvent("e1")
	st := llmResponse(NewWatchState(), ev,
		api.LLMResponseEvent{StepID: "s1", Round: 1},
	)

	resp := st.Outputs["s1"].LLMResponses[0]
	assert.True(t, resp.IsEmpty)
	assert.Equal(t, api.EmptyResponsePlaceholder, resp.Content)
}

func TestStreamingSupersededByResponse(t *testing.T) {
	ev := makeEvent("e1")
	st := NewWatchState()
	st = llmStreamingChunk(st, ev, api.LLMStreamingChunkEvent{
		StepID: "s1", Round: 1, Chunk: "hel",
	})
	st = llmStreamingChunk(st, ev, api.LLMStreamingChunkEvent{
		StepID: "s1", Round: 1, Chunk: "lo",
	})
	assert.Equal(t, "hello", st.Outputs["s1"].Streaming[1])

	st = llmResponse(st, ev, api.LLMResponseEvent{
		StepID: "s1", Round: 1, Content: "hello",
	})
	assert.NotContains(t, st.Outputs["s1"].Streaming, 1)
}

func TestToolCallDedupAndCompletion(t *testing.T) {
	ev := makeEvent("e1")
	st := NewWatchState()
	started := api.ToolCallStartedEvent{
		StepID: "s1", ToolName: "search", Round: 1, CallIndex: 0,
	}

	st = toolCallStarted(st, ev, started)
	st = toolCallStarted(st, ev, started)
	require.Len(t, st.Outputs["s1"].ToolCalls, 1)
	assert.Equal(t, api.ToolCallStarted, st.Outputs["s1"].ToolCalls[0].Status)

	st = toolCallCompleted(st, ev, api.ToolCallCompletedEvent{
		StepID: "s1", ToolName: "search", Round: 1, CallIndex: 0,
		Result: "3 results",
	})
	tc := st.Outputs["s1"].ToolCalls[0]
	assert.Equal(t, api.ToolCallCompleted, tc.Status)
	assert.Equal(t, "3 results", tc.Result)
}

func TestToolCallCompletedWithoutStart(t *testing.T) {
	ev := makeEvent("e1")
	st := toolCallCompleted(NewWatchState(), ev, api.ToolCallCompletedEvent{
		StepID: "s1", ToolName: "fetch", Round: 2, CallIndex: 1,
		Failed: true,
	})

	require.Len(t, st.Outputs["s1"].ToolCalls, 1)
	assert.Equal(t, api.ToolCallFailed, st.Outputs["s1"].ToolCalls[0].Status)
}

func TestTerminalEventsIdempotent(t *testing.T) {
	ev := makeEvent("e1")
	st := executionStarted(NewWatchState(), ev, api.ExecutionStartedEvent{})
	st = stepStarted(st, ev, api.StepStartedEvent{StepID: "s1"})
	st = stepCompleted(st, ev, api.StepCompletedEvent{StepID: "s1"})
	st = stepStarted(st, ev, api.StepStartedEvent{StepID: "s2"})

	st = executionCompleted(st, ev, api.ExecutionCompletedEvent{})
	assert.True(t, st.Finished)
	assert.False(t, st.Execution.IsRunning)
	assert.True(t, st.Execution.RunningSteps.IsEmpty())
	assert.True(t, st.Execution.CompletedSteps.Contains("s1"))

	again := executionCompleted(st, ev, api.ExecutionCompletedEvent{})
	assert.Same(t, st, again)
}

func TestExecutionFailedRecordsError(t *testing.T) {
	ev := makeEvent("e1")
	st := executionFailed(NewWatchState(), ev, api.ExecutionFailedEvent{
		Error: "engine crashed",
	})
	assert.True(t, st.Finished)
	assert.Equal(t, "engine crashed", st.LastError)
}

func TestApprovalGate(t *testing.T) {
	ev := makeEvent("e1")
	st := approvalRequired(NewWatchState(), ev, api.ApprovalRequiredEvent{
		StepID:   "s1",
		StepName: "Review draft",
		Message:  "Approve this content?",
		Content:  "draft text",
	})
	require.NotNil(t, st.Pending)
	assert.Equal(t, "Review draft", st.Pending.StepName)

	st = approvalGranted(st, ev, api.ApprovalGrantedEvent{StepID: "s1"})
	assert.Nil(t, st.Pending)
}

func TestApprovalRejectedClearsPending(t *testing.T) {
	ev := makeEvent("e1")
	st := approvalRequired(NewWatchState(), ev, api.ApprovalRequiredEvent{
		StepID: "s1",
	})
	st = approvalRejected(st, ev, api.ApprovalRejectedEvent{
		StepID: "s1",
		Reason: "needs more detail",
	})
	assert.Nil(t, st.Pending)
}

func TestApprovalGrantedForOtherStepKeepsPending(t *testing.T) {
	ev := makeEvent("e1")
	st := approvalRequired(NewWatchState(), ev, api.ApprovalRequiredEvent{
		StepID: "s1",
	})
	st = approvalGranted(st, ev, api.ApprovalGrantedEvent{StepID: "s2"})
	require.NotNil(t, st.Pending)
	assert.Equal(t, api.StepID("s1"), st.Pending.StepID)
}

func TestFeedbackLoopLifecycle(t *testing.T) {
	ev := makeEvent("e1")
	st := feedbackStarted(NewWatchState(), ev, api.FeedbackStartedEvent{
		EdgeID:        "draft-review",
		SourceStepID:  "draft",
		TargetStepID:  "review",
		MaxIterations: 3,
	})

	loop := st.Loops["draft-review"]
	require.NotNil(t, loop)
	assert.True(t, loop.IsActive)
	assert.Equal(t, 0, loop.CurrentIteration)
	assert.Equal(t, 3, loop.MaxIterations)

	for i := 1; i <= 3; i++ {
		st = feedbackIteration(st, ev, api.FeedbackIterationEvent{
			EdgeID:    "draft-review",
			StepID:    "review",
			Iteration: i,
			Role:      api.RoleAssessor,
			Output:    "needs work",
		})
	}
	assert.Equal(t, 3, st.Loops["draft-review"].CurrentIteration)
	assert.Len(t, st.Outputs["review"].FeedbackIterations, 3)

	st = feedbackCompleted(st, ev, api.FeedbackCompletedEvent{
		EdgeID:     "draft-review",
		Converged:  false,
		Iterations: 3,
	})
	loop = st.Loops["draft-review"]
	assert.False(t, loop.IsActive)
	assert.False(t, loop.Converged)
	assert.Equal(t, 3, loop.CurrentIteration)
}

func TestFeedbackConvergence(t *testing.T) {
	ev := makeEvent("e1")
	score := 0.85
	st := feedbackStarted(NewWatchState(), ev, api.FeedbackStartedEvent{
		EdgeID:        "draft-review",
		MaxIterations: 5,
	})
	st = feedbackCompleted(st, ev, api.FeedbackCompletedEvent{
		EdgeID:     "draft-review",
		Converged:  true,
		Iterations: 3,
		FinalScore: &score,
	})

	loop := st.Loops["draft-review"]
	assert.True(t, loop.Converged)
	require.NotNil(t, loop.FinalScore)
	assert.Equal(t, 0.85, *loop.FinalScore)
}

func TestFeedbackIterationRecordsScore(t *testing.T) {
	ev := makeEvent("e1")
	score := 0.6
	data := api.FeedbackIterationEvent{
		EdgeID:       "a-b",
		StepID:       "b",
		Iteration:    1,
		Role:         api.RoleAssessor,
		QualityScore: &score,
	}
	st := feedbackIteration(NewWatchState(), ev, data)
	st = feedbackIteration(st, ev, data)

	loop := st.Loops["a-b"]
	require.Len(t, loop.QualityScores, 1)
	assert.Equal(t, 1, loop.QualityScores[0].Iteration)
	assert.Equal(t, 0.6, loop.QualityScores[0].Score)
}

func TestDuplicateFeedbackIteration(t *testing.T) {
	ev := makeEvent("e1")
	data := api.FeedbackIterationEvent{
		EdgeID:    "a-b",
		StepID:    "b",
		Iteration: 1,
		Role:      api.RoleImprover,
	}
	st := feedbackIteration(NewWatchState(), ev, data)
	st = feedbackIteration(st, ev, data)

	assert.Len(t, st.Outputs["b"].FeedbackIterations, 1)
	assert.Equal(t, 1, st.Loops["a-b"].CurrentIteration)
}

func TestWatchKey(t *testing.T) {
	key := WatchKey(api.ExecutionID("e1"))
	assert.True(t, IsWatchEvent(&timebox.Event{AggregateID: key}))
	assert.False(t, IsWatchEvent(&timebox.Event{
		AggregateID: timebox.NewAggregateID("flow", "f1"),
	}))
}
