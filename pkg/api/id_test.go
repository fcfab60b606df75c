package api_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kode4food/vigil/pkg/api"
)

func TestSanitizeID(t *testing.T) {
	assert.Equal(t, "my_step", api.SanitizeID("My Step"))
	assert.Equal(t, "step.1", api.SanitizeID("Step.1!"))
	assert.Equal(t, api.StepID("draft"), api.SanitizeID(api.StepID("Dra-ft")))
}

func TestMakeEdgeID(t *testing.T) {
	id := api.MakeEdgeID("writer", "critic")
	assert.Equal(t, api.EdgeID("writer-critic"), id)

	source, target, ok := id.Split()
	assert.True(t, ok)
	assert.Equal(t, api.StepID("writer"), source)
	assert.Equal(t, api.StepID("critic"), target)
}

func TestEdgeIDSplitMalformed(t *testing.T) {
	for _, id := range []api.EdgeID{"", "writer", "writer-", "-critic"} {
		_, _, ok := id.Split()
		assert.False(t, ok, string(id))
	}
}

func TestSelfLoopEdgeID(t *testing.T) {
	source, target, ok := api.MakeEdgeID("draft", "draft").Split()
	assert.True(t, ok)
	assert.Equal(t, source, target)
}

func TestRoleIsValid(t *testing.T) {
	assert.True(t, api.RoleAssessor.IsValid())
	assert.True(t, api.RoleImprover.IsValid())
	assert.False(t, api.Role("referee").IsValid())
}
