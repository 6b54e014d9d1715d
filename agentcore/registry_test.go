package agentcore_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/windrose-ai/keel/agentcore"
)

func namedTool(name string) *agentcore.Tool {
	return &agentcore.Tool{
		Name:        name,
		Description: "test tool " + name,
		Parameters:  map[string]any{"type": "object"},
		Execute: func(context.Context, map[string]any) (*agentcore.ToolResult, error) {
			return &agentcore.ToolResult{Output: name}, nil
		},
	}
}

func TestRegistryPreservesRegistrationOrder(t *testing.T) {
	r := agentcore.NewToolRegistry()
	for _, name := range []string{"charlie", "alpha", "bravo"} {
		require.NoError(t, r.Register(namedTool(name)))
	}

	schemas := r.Schemas()
	require.Len(t, schemas, 3)
	assert.Equal(t, "charlie", schemas[0].Name)
	assert.Equal(t, "alpha", schemas[1].Name)
	assert.Equal(t, "bravo", schemas[2].Name)
}

func TestRegistryReplaceKeepsPosition(t *testing.T) {
	r := agentcore.NewToolRegistry()
	require.NoError(t, r.Register(namedTool("first")))
	require.NoError(t, r.Register(namedTool("second")))

	replacement := namedTool("first")
	replacement.Description = "updated"
	require.NoError(t, r.Register(replacement))

	schemas := r.Schemas()
	require.Len(t, schemas, 2)
	assert.Equal(t, "first", schemas[0].Name)
	assert.Equal(t, "updated", schemas[0].Description)
}

func TestRegistryRejectsInvalidTools(t *testing.T) {
	r := agentcore.NewToolRegistry()
	assert.Error(t, r.Register(nil))
	assert.Error(t, r.Register(&agentcore.Tool{Name: ""}))
	assert.Error(t, r.Register(&agentcore.Tool{Name: "no-exec"}))
}

func TestRegistryProtectsTerminatingTools(t *testing.T) {
	r := agentcore.NewToolRegistry()
	require.NoError(t, r.Register(agentcore.NewTerminateTool()))
	require.NoError(t, r.Register(namedTool("plain")))

	assert.False(t, r.Deregister("terminate"))
	_, ok := r.Lookup("terminate")
	assert.True(t, ok)

	assert.True(t, r.Deregister("plain"))
	_, ok = r.Lookup("plain")
	assert.False(t, ok)
	assert.False(t, r.Deregister("plain"))
}

func TestRegistrySnapshotIsolation(t *testing.T) {
	r := agentcore.NewToolRegistry()
	require.NoError(t, r.Register(namedTool("stable")))
	require.NoError(t, r.Register(namedTool("doomed")))

	snap := r.Snapshot()

	// Mutations after the snapshot never affect it.
	require.NoError(t, r.Register(namedTool("late")))
	r.Deregister("doomed")

	_, ok := snap.Lookup("late")
	assert.False(t, ok)
	_, ok = snap.Lookup("doomed")
	assert.True(t, ok)
	assert.Equal(t, []string{"stable", "doomed"}, snap.Names())
}
