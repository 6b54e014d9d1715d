package agentcore_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/windrose-ai/keel/agentcore"
)

type dispatchHarness struct {
	registry *agentcore.ToolRegistry
	memory   *agentcore.Memory
	events   []agentcore.EventName
	finished bool
	policy   agentcore.ToolChoice
	d        *agentcore.ToolDispatcher
}

func newDispatchHarness(t *testing.T, maxObserve int) *dispatchHarness {
	t.Helper()
	h := &dispatchHarness{
		registry: agentcore.NewToolRegistry(),
		memory:   agentcore.NewMemory(),
		policy:   agentcore.ToolChoiceAuto,
	}
	h.d = agentcore.NewToolDispatcher(agentcore.DispatcherDeps{
		Registry:   h.registry,
		Memory:     h.memory,
		Record:     h.memory.Add,
		Emit:       func(name agentcore.EventName, _ map[string]any) { h.events = append(h.events, name) },
		Finish:     func() { h.finished = true },
		Policy:     func() agentcore.ToolChoice { return h.policy },
		MaxObserve: maxObserve,
		Logger:     quietLogger(),
	})
	return h
}

// seedCalls records the assistant message that introduced the batch, so the
// tool observations recorded by the dispatcher satisfy the memory invariant.
func (h *dispatchHarness) seedCalls(t *testing.T, calls []agentcore.ToolCall) {
	t.Helper()
	require.NoError(t, h.memory.Add(agentcore.FromToolCalls("", calls)))
}

func (h *dispatchHarness) toolMessages() []agentcore.Message {
	var out []agentcore.Message
	for _, msg := range h.memory.Messages() {
		if msg.Role == agentcore.RoleTool {
			out = append(out, msg)
		}
	}
	return out
}

func TestDispatchExecutesInOrder(t *testing.T) {
	h := newDispatchHarness(t, 0)
	var invoked []string
	for _, name := range []string{"one", "two"} {
		name := name
		require.NoError(t, h.registry.Register(&agentcore.Tool{
			Name: name,
			Execute: func(context.Context, map[string]any) (*agentcore.ToolResult, error) {
				invoked = append(invoked, name)
				return &agentcore.ToolResult{Output: "out-" + name}, nil
			},
		}))
	}

	calls := []agentcore.ToolCall{
		toolCall("c1", "two", `{}`),
		toolCall("c2", "one", `{}`),
		toolCall("c3", "two", `{}`),
	}
	h.seedCalls(t, calls)

	result, err := h.d.Execute(context.Background(), calls)
	require.NoError(t, err)

	assert.Equal(t, []string{"two", "one", "two"}, invoked)

	msgs := h.toolMessages()
	require.Len(t, msgs, 3)
	assert.Equal(t, "c1", msgs[0].ToolCallID)
	assert.Equal(t, "c2", msgs[1].ToolCallID)
	assert.Equal(t, "c3", msgs[2].ToolCallID)
	assert.Equal(t, "two", msgs[0].Name)
	assert.Equal(t, 3, strings.Count(result, "Observed output of cmd"))
}

func TestDispatchTruncatesObservations(t *testing.T) {
	const maxObserve = 50
	h := newDispatchHarness(t, maxObserve)
	long := strings.Repeat("x", 500)
	require.NoError(t, h.registry.Register(&agentcore.Tool{
		Name: "bigout",
		Execute: func(context.Context, map[string]any) (*agentcore.ToolResult, error) {
			return &agentcore.ToolResult{Output: long}, nil
		},
	}))

	calls := []agentcore.ToolCall{toolCall("c1", "bigout", `{}`)}
	h.seedCalls(t, calls)

	_, err := h.d.Execute(context.Background(), calls)
	require.NoError(t, err)

	msgs := h.toolMessages()
	require.Len(t, msgs, 1)
	full := "Observed output of cmd `bigout` executed:\n" + long
	assert.Equal(t, full[:maxObserve], msgs[0].Content)
	assert.Len(t, []rune(msgs[0].Content), maxObserve)
}

func TestTruncateObservationRuneSafe(t *testing.T) {
	s := strings.Repeat("日", 20)
	got := agentcore.TruncateObservation(s, 5)
	assert.Equal(t, strings.Repeat("日", 5), got)

	// Short inputs and non-positive limits pass through untouched.
	assert.Equal(t, "short", agentcore.TruncateObservation("short", 100))
	assert.Equal(t, s, agentcore.TruncateObservation(s, 0))
}

func TestDispatchUnknownTool(t *testing.T) {
	h := newDispatchHarness(t, 0)
	calls := []agentcore.ToolCall{toolCall("c1", "nope", `{}`)}
	h.seedCalls(t, calls)

	result, err := h.d.Execute(context.Background(), calls)
	require.NoError(t, err)
	assert.Equal(t, "Error: Unknown tool 'nope'", result)
}

func TestDispatchMalformedArguments(t *testing.T) {
	h := newDispatchHarness(t, 0)
	require.NoError(t, h.registry.Register(agentcore.NewEchoTool()))

	calls := []agentcore.ToolCall{toolCall("c1", "echo", `{not json`)}
	h.seedCalls(t, calls)

	result, err := h.d.Execute(context.Background(), calls)
	require.NoError(t, err)
	assert.Equal(t, "Error parsing arguments for echo: invalid JSON format", result)
}

func TestDispatchToolFailureBecomesObservation(t *testing.T) {
	h := newDispatchHarness(t, 0)
	require.NoError(t, h.registry.Register(&agentcore.Tool{
		Name: "boom",
		Execute: func(context.Context, map[string]any) (*agentcore.ToolResult, error) {
			return nil, errors.New("disk on fire")
		},
	}))

	calls := []agentcore.ToolCall{toolCall("c1", "boom", `{}`)}
	h.seedCalls(t, calls)

	result, err := h.d.Execute(context.Background(), calls)
	require.NoError(t, err)
	assert.Equal(t, "Error: tool 'boom' encountered a problem: disk on fire", result)
}

func TestDispatchToolReportedError(t *testing.T) {
	h := newDispatchHarness(t, 0)
	require.NoError(t, h.registry.Register(&agentcore.Tool{
		Name: "grumpy",
		Execute: func(context.Context, map[string]any) (*agentcore.ToolResult, error) {
			return &agentcore.ToolResult{Error: "file not found"}, nil
		},
	}))

	calls := []agentcore.ToolCall{toolCall("c1", "grumpy", `{}`)}
	h.seedCalls(t, calls)

	result, err := h.d.Execute(context.Background(), calls)
	require.NoError(t, err)
	assert.Equal(t, "Error: file not found", result)
}

func TestDispatchEmptyToolOutput(t *testing.T) {
	h := newDispatchHarness(t, 0)
	require.NoError(t, h.registry.Register(&agentcore.Tool{
		Name: "noop",
		Execute: func(context.Context, map[string]any) (*agentcore.ToolResult, error) {
			return &agentcore.ToolResult{}, nil
		},
	}))

	calls := []agentcore.ToolCall{toolCall("c1", "noop", `{}`)}
	h.seedCalls(t, calls)

	result, err := h.d.Execute(context.Background(), calls)
	require.NoError(t, err)
	assert.Equal(t, "Cmd `noop` completed with no output", result)
}

func TestDispatchTerminatingToolContinuesBatch(t *testing.T) {
	h := newDispatchHarness(t, 0)
	require.NoError(t, h.registry.Register(agentcore.NewTerminateTool()))
	require.NoError(t, h.registry.Register(agentcore.NewEchoTool()))

	calls := []agentcore.ToolCall{
		terminateCall("c1"),
		toolCall("c2", "echo", `{"message":"still ran"}`),
	}
	h.seedCalls(t, calls)

	result, err := h.d.Execute(context.Background(), calls)
	require.NoError(t, err)

	assert.True(t, h.finished)
	assert.Contains(t, result, "still ran")
	require.Len(t, h.toolMessages(), 2)
}

func TestDispatchEmptyBatchAuto(t *testing.T) {
	h := newDispatchHarness(t, 0)

	// Nothing in memory: the sentinel comes back.
	result, err := h.d.Execute(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "No content or commands to execute", result)

	// With a latest message, its content is the result.
	require.NoError(t, h.memory.Add(agentcore.AssistantMessage("final answer")))
	result, err = h.d.Execute(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "final answer", result)
}

func TestDispatchEmptyBatchRequired(t *testing.T) {
	h := newDispatchHarness(t, 0)
	h.policy = agentcore.ToolChoiceRequired

	_, err := h.d.Execute(context.Background(), nil)
	require.Error(t, err)

	var de *agentcore.DispatchError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, "tool calls required but none provided", de.Reason)
}

func TestDispatchSnapshotIgnoresMidBatchDeregistration(t *testing.T) {
	h := newDispatchHarness(t, 0)
	require.NoError(t, h.registry.Register(&agentcore.Tool{
		Name: "first",
		Execute: func(context.Context, map[string]any) (*agentcore.ToolResult, error) {
			// Simulates a remote host disconnecting between calls.
			h.registry.Deregister("second")
			return &agentcore.ToolResult{Output: "ok"}, nil
		},
	}))
	require.NoError(t, h.registry.Register(&agentcore.Tool{
		Name: "second",
		Execute: func(context.Context, map[string]any) (*agentcore.ToolResult, error) {
			return &agentcore.ToolResult{Output: "survived"}, nil
		},
	}))

	calls := []agentcore.ToolCall{
		toolCall("c1", "first", `{}`),
		toolCall("c2", "second", `{}`),
	}
	h.seedCalls(t, calls)

	result, err := h.d.Execute(context.Background(), calls)
	require.NoError(t, err)
	assert.Contains(t, result, "survived")
}
