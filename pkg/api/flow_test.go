package api_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kode4food/vigil/pkg/api"
)

func agentStep(id api.StepID, next ...api.StepID) *api.Step {
	return &api.Step{
		ID:        id,
		Name:      string(id),
		Type:      api.StepTypeAgent,
		AgentID:   "agent-" + string(id),
		NextSteps: next,
	}
}

func TestStepValidate(t *testing.T) {
	require.NoError(t, agentStep("draft").Validate())

	missing := &api.Step{ID: "x", Name: "x", Type: api.StepTypeAgent}
	assert.ErrorIs(t, missing.Validate(), api.ErrAgentIDRequired)

	gate := &api.Step{ID: "gate", Name: "gate", Type: api.StepTypeApproval}
	require.NoError(t, gate.Validate())

	bad := &api.Step{ID: "x", Name: "x", Type: "robot"}
	assert.ErrorIs(t, bad.Validate(), api.ErrInvalidStepType)

	retries := agentStep("r")
	retries.RetryCount = -1
	assert.ErrorIs(t, retries.Validate(), api.ErrNegativeRetries)
}

func TestFlowValidate(t *testing.T) {
	flow := &api.Flow{
		ID: "review",
		Steps: []*api.Step{
			agentStep("draft", "critic"),
			agentStep("critic", "draft"),
		},
		EdgeMetadata: api.EdgeMap{
			api.MakeEdgeID("critic", "draft"): {
				IsFeedbackLoop:   true,
				MaxIterations:    3,
				QualityThreshold: 0.8,
			},
		},
	}
	require.NoError(t, flow.Validate())
}

func TestFlowValidateDuplicates(t *testing.T) {
	flow := &api.Flow{
		ID:    "dup",
		Steps: []*api.Step{agentStep("a"), agentStep("a")},
	}
	assert.ErrorIs(t, flow.Validate(), api.ErrDuplicateStepID)
}

func TestFlowValidateDangling(t *testing.T) {
	flow := &api.Flow{
		ID:    "dangling",
		Steps: []*api.Step{agentStep("a", "ghost")},
	}
	assert.ErrorIs(t, flow.Validate(), api.ErrDanglingNextStep)
}

func TestFlowValidateEdgeRefs(t *testing.T) {
	flow := &api.Flow{
		ID:    "edges",
		Steps: []*api.Step{agentStep("a", "b"), agentStep("b")},
		EdgeMetadata: api.EdgeMap{
			"a-ghost": {IsFeedbackLoop: true, MaxIterations: 2,
				QualityThreshold: 0.5},
		},
	}
	assert.ErrorIs(t, flow.Validate(), api.ErrEdgeUnknownStep)

	flow.EdgeMetadata = api.EdgeMap{
		"b-a": {IsFeedbackLoop: true, MaxIterations: 2,
			QualityThreshold: 0.5},
	}
	assert.ErrorIs(t, flow.Validate(), api.ErrEdgeNotInGraph)
}

func TestEdgeMetadataValidate(t *testing.T) {
	meta := &api.EdgeMetadata{
		IsFeedbackLoop:   true,
		MaxIterations:    51,
		QualityThreshold: 0.5,
	}
	assert.ErrorIs(t, meta.Validate("a-b"), api.ErrEdgeMaxIterations)

	meta.MaxIterations = 0
	assert.ErrorIs(t, meta.Validate("a-b"), api.ErrEdgeMaxIterations)

	meta.MaxIterations = 10
	meta.QualityThreshold = 1.5
	assert.ErrorIs(t, meta.Validate("a-b"), api.ErrEdgeQualityThreshold)

	meta.QualityThreshold = 1.0
	require.NoError(t, meta.Validate("a-b"))

	// forward edges skip loop invariants
	fwd := &api.EdgeMetadata{}
	require.NoError(t, fwd.Validate("a-b"))
	assert.ErrorIs(t, fwd.Validate("nodash"), api.ErrEdgeIDMalformed)
}
