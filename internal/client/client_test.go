package client_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kode4food/vigil/internal/assert/helpers"
	"github.com/kode4food/vigil/internal/client"
	"github.com/kode4food/vigil/pkg/api"
)

func newClient(t *testing.T) (*client.HTTPClient, *helpers.FakeEngine) {
	t.Helper()
	engine := helpers.NewFakeEngine()
	t.Cleanup(engine.Close)
	return client.NewHTTPClient(engine.URL(), 5*time.Second), engine
}

func TestStartExecution(t *testing.T) {
	cli, engine := newClient(t)
	engine.NextID = "exec-1"

	res, err := cli.StartExecution(context.Background(),
		&api.StartExecutionRequest{
			FlowID: "flow-1",
			Inputs: map[string]any{"topic": "space"},
		},
	)
	require.NoError(t, err)
	assert.Equal(t, api.ExecutionID("exec-1"), res.ExecutionID)

	started := engine.Started()
	require.Len(t, started, 1)
	assert.Equal(t, api.FlowID("flow-1"), started[0].FlowID)
	assert.Equal(t, "space", started[0].Inputs["topic"])
}

func TestCancelExecution(t *testing.T) {
	cli, engine := newClient(t)

	err := cli.CancelExecution(context.Background(), "exec-1")
	require.NoError(t, err)
	assert.Equal(t, []api.ExecutionID{"exec-1"}, engine.Cancelled)
}

func TestSubmitApproval(t *testing.T) {
	cli, engine := newClient(t)

	err := cli.SubmitApproval(context.Background(), "exec-1",
		&api.ApprovalDecisionRequest{
			StepID:   "review",
			Approved: true,
		},
	)
	require.NoError(t, err)
	require.Len(t, engine.Approvals, 1)
	assert.True(t, engine.Approvals[0].Approved)
	assert.Equal(t, api.StepID("review"), engine.Approvals[0].StepID)
}

func TestSubmitRejection(t *testing.T) {
	cli, engine := newClient(t)

	err := cli.SubmitApproval(context.Background(), "exec-1",
		&api.ApprovalDecisionRequest{
			StepID: "review",
			Reason: "tone is off",
		},
	)
	require.NoError(t, err)
	require.Len(t, engine.Approvals, 1)
	assert.False(t, engine.Approvals[0].Approved)
	assert.Equal(t, "tone is off", engine.Approvals[0].Reason)
}

func TestListExecutions(t *testing.T) {
	cli, engine := newClient(t)
	engine.SetDigests(
		helpers.RunningDigest("exec-1", "flow-1", time.Minute),
		helpers.RunningDigest("exec-2", "flow-2", time.Minute),
	)

	digests, err := cli.ListExecutions(context.Background(), "flow-1", 10)
	require.NoError(t, err)
	require.Len(t, digests, 1)
	assert.Equal(t, api.ExecutionID("exec-1"), digests[0].ID)

	digests, err = cli.ListExecutions(context.Background(), "", 10)
	require.NoError(t, err)
	assert.Len(t, digests, 2)
}

func TestEngineError(t *testing.T) {
	cli := client.NewHTTPClient("http://127.0.0.1:1", time.Second)
	_, err := cli.StartExecution(context.Background(),
		&api.StartExecutionRequest{FlowID: "flow-1"},
	)
	assert.Error(t, err)
}
