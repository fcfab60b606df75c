package export_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kode4food/vigil/internal/export"
	"github.com/kode4food/vigil/pkg/api"
	"github.com/kode4food/vigil/pkg/events"

	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/memblob"
)

func TestBlobExporter(t *testing.T) {
	ctx := context.Background()

	e, err := export.NewBlobExporter(ctx, "mem://", "transcripts/")
	assert.NoError(t, err)
	defer func() { _ = e.Close() }()

	st := events.NewWatchState()
	st.ExecutionID = "exec-1"
	st.FlowID = "flow-1"
	st.Finished = true
	st.Execution.CompletedSteps.Add("s1")
	st.Output("s1").FinalOutput = "done"

	t.Run("Get returns not found for missing transcript", func(t *testing.T) {
		_, err := e.Get(ctx, "exec-1")
		assert.ErrorIs(t, err, export.ErrTranscriptNotFound)
	})

	t.Run("Export and Get round-trip", func(t *testing.T) {
		assert.NoError(t, e.Export(ctx, st))

		got, err := e.Get(ctx, "exec-1")
		assert.NoError(t, err)
		assert.Equal(t, api.ExecutionID("exec-1"), got.ExecutionID)
		assert.Equal(t, api.FlowID("flow-1"), got.FlowID)
		assert.True(t, got.State.Finished)
		assert.Equal(t, "done", got.State.Outputs["s1"].FinalOutput)
		assert.False(t, got.ExportedAt.IsZero())
	})

	t.Run("Delete removes transcript", func(t *testing.T) {
		assert.NoError(t, e.Delete(ctx, "exec-1"))
		_, err := e.Get(ctx, "exec-1")
		assert.ErrorIs(t, err, export.ErrTranscriptNotFound)

		// deleting again is not an error
		assert.NoError(t, e.Delete(ctx, "exec-1"))
	})
}
