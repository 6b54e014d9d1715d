package agentcore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
)

// DefaultMaxObserve bounds the recorded length of one observation.
const DefaultMaxObserve = 10000

// noContentResult is returned when a no-call batch has nothing to report.
const noContentResult = "No content or commands to execute"

// DispatcherDeps are the explicit capabilities the dispatcher needs. The
// dispatcher never holds the whole agent; it receives the memory handle, the
// record/emit functions, and a finish callback.
type DispatcherDeps struct {
	Registry *ToolRegistry
	Memory   *Memory

	// Record appends a message through the agent's memory-added event path.
	Record func(Message) error

	// Emit publishes an event through the agent's bus.
	Emit func(EventName, map[string]any)

	// Finish flags the run as FINISHED. Checked at the next loop iteration,
	// not a hard abort of the current batch.
	Finish func()

	// Policy returns the active tool-choice policy at dispatch time.
	Policy func() ToolChoice

	MaxObserve int
	Logger     *slog.Logger
}

// ToolDispatcher turns a model's tool selection into ordered invocations
// against the registry, collecting one observation message per call.
type ToolDispatcher struct {
	deps DispatcherDeps
}

// NewToolDispatcher creates a dispatcher from its dependencies.
func NewToolDispatcher(deps DispatcherDeps) *ToolDispatcher {
	if deps.MaxObserve <= 0 {
		deps.MaxObserve = DefaultMaxObserve
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &ToolDispatcher{deps: deps}
}

// Execute runs every call in the order received from the model. Unknown
// tools, malformed arguments, and tool failures become error observations;
// the only returned error kinds are the required-policy DispatchError and
// internal memory corruption.
func (d *ToolDispatcher) Execute(ctx context.Context, calls []ToolCall) (string, error) {
	d.deps.Emit(EventToolStart, map[string]any{"tool_calls": summarizeCalls(calls)})

	if len(calls) == 0 {
		if d.deps.Policy() == ToolChoiceRequired {
			return "", &DispatchError{Reason: "tool calls required but none provided"}
		}
		if last, ok := d.deps.Memory.Last(); ok && last.Content != "" {
			return last.Content, nil
		}
		return noContentResult, nil
	}

	// One snapshot per batch: a concurrent registry mutation (remote host
	// connect/disconnect) never changes the tool set mid-batch.
	snap := d.deps.Registry.Snapshot()

	results := make([]string, 0, len(calls))
	for _, call := range calls {
		observation, image := d.executeCall(ctx, snap, call)
		observation = TruncateObservation(observation, d.deps.MaxObserve)

		if err := d.deps.Record(ToolMessage(observation, call.Name, call.ID, image)); err != nil {
			return "", err
		}
		results = append(results, observation)

		if tool, ok := snap.Lookup(call.Name); ok && tool.Terminating {
			d.deps.Logger.Info("terminating tool completed the task", "tool", call.Name)
			d.deps.Finish()
		}
	}

	d.deps.Emit(EventToolComplete, map[string]any{"results": results})
	return strings.Join(results, "\n\n"), nil
}

// executeCall resolves and invokes a single call, always producing an
// observation string.
func (d *ToolDispatcher) executeCall(ctx context.Context, snap *RegistrySnapshot, call ToolCall) (observation, image string) {
	d.deps.Emit(EventToolExecuteStart, map[string]any{
		"name": call.Name,
		"args": string(call.Arguments),
	})
	defer func() {
		d.deps.Emit(EventToolExecuteComplete, map[string]any{
			"name":   call.Name,
			"result": observation,
		})
	}()

	if call.Name == "" {
		return "Error: invalid tool call format", ""
	}
	tool, ok := snap.Lookup(call.Name)
	if !ok {
		return fmt.Sprintf("Error: Unknown tool '%s'", call.Name), ""
	}

	args := map[string]any{}
	if len(call.Arguments) > 0 {
		if err := json.Unmarshal(call.Arguments, &args); err != nil {
			d.deps.Logger.Error("malformed tool arguments",
				"tool", call.Name, "arguments", string(call.Arguments))
			return fmt.Sprintf("Error parsing arguments for %s: invalid JSON format", call.Name), ""
		}
	}

	result, err := tool.Execute(ctx, args)
	if err != nil {
		d.deps.Logger.Error("tool execution failed", "tool", call.Name, "error", err)
		return fmt.Sprintf("Error: tool '%s' encountered a problem: %v", call.Name, err), ""
	}
	if result == nil || (result.Output == "" && result.Error == "") {
		return fmt.Sprintf("Cmd `%s` completed with no output", call.Name), imageOf(result)
	}
	if result.Error != "" {
		return "Error: " + result.Error, result.Base64Image
	}
	return fmt.Sprintf("Observed output of cmd `%s` executed:\n%s", call.Name, result.Output), result.Base64Image
}

func imageOf(r *ToolResult) string {
	if r == nil {
		return ""
	}
	return r.Base64Image
}

// TruncateObservation caps an observation at max runes, keeping an exact
// prefix of the original text.
func TruncateObservation(s string, max int) string {
	if max <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}

// summarizeCalls renders the parsed call list for the pre-execution event.
func summarizeCalls(calls []ToolCall) []map[string]any {
	out := make([]map[string]any, 0, len(calls))
	for _, call := range calls {
		var args any
		if len(call.Arguments) > 0 {
			if err := json.Unmarshal(call.Arguments, &args); err != nil {
				args = string(call.Arguments)
			}
		}
		out = append(out, map[string]any{
			"id":        call.ID,
			"index":     call.Index,
			"name":      call.Name,
			"arguments": args,
		})
	}
	return out
}
