package agentcore_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/windrose-ai/keel/agentcore"
)

func TestMemoryRejectsOrphanToolMessage(t *testing.T) {
	m := agentcore.NewMemory()

	err := m.Add(agentcore.ToolMessage("output", "echo", "unknown-id", ""))
	require.Error(t, err)
	assert.Equal(t, 0, m.Len())
}

func TestMemoryAcceptsToolMessageAfterCall(t *testing.T) {
	m := agentcore.NewMemory()

	require.NoError(t, m.Add(agentcore.UserMessage("hi")))
	require.NoError(t, m.Add(agentcore.FromToolCalls("", []agentcore.ToolCall{
		toolCall("call-1", "echo", `{"message":"x"}`),
	})))
	require.NoError(t, m.Add(agentcore.ToolMessage("x", "echo", "call-1", "")))

	assert.Equal(t, 3, m.Len())
	last, ok := m.Last()
	require.True(t, ok)
	assert.Equal(t, agentcore.RoleTool, last.Role)
	assert.Equal(t, "call-1", last.ToolCallID)
}

func TestMemoryToolMessageRequiresCallID(t *testing.T) {
	m := agentcore.NewMemory()
	err := m.Add(agentcore.Message{Role: agentcore.RoleTool, Content: "x", Name: "echo"})
	require.Error(t, err)
}

func TestMemoryReplaceValidatesHistory(t *testing.T) {
	m := agentcore.NewMemory()
	require.NoError(t, m.Add(agentcore.UserMessage("original")))

	// Invalid history is rejected wholesale and the old log survives.
	err := m.Replace([]agentcore.Message{
		agentcore.ToolMessage("x", "echo", "never-issued", ""),
	})
	require.Error(t, err)
	assert.Equal(t, 1, m.Len())

	// A coherent history replaces everything.
	require.NoError(t, m.Replace([]agentcore.Message{
		agentcore.UserMessage("restored"),
		agentcore.FromToolCalls("", []agentcore.ToolCall{toolCall("c9", "echo", `{}`)}),
		agentcore.ToolMessage("done", "echo", "c9", ""),
	}))
	assert.Equal(t, 3, m.Len())
}

func TestMemoryMessagesReturnsCopy(t *testing.T) {
	m := agentcore.NewMemory()
	require.NoError(t, m.Add(agentcore.UserMessage("one")))

	msgs := m.Messages()
	msgs[0].Content = "mutated"

	fresh := m.Messages()
	assert.Equal(t, "one", fresh[0].Content)
}
