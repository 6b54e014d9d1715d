package agentcore

import (
	"context"
	"errors"
	"fmt"
)

// think runs one reasoning phase: present the conversation and tool schemas
// to the model, record its reply, and decide whether an Act phase follows.
func (a *Agent) think(ctx context.Context) (bool, error) {
	if a.nextStepPrompt != "" {
		if err := a.addMessage(UserMessage(a.nextStepPrompt)); err != nil {
			return false, err
		}
	}

	var system []Message
	if a.systemPrompt != "" {
		system = []Message{SystemMessage(a.systemPrompt)}
	}

	reply, err := a.model.AskWithTools(ctx, a.memory.Messages(), system, a.registry.Schemas(), a.toolChoice)
	if err != nil {
		if IsTokenLimit(err) {
			a.logger.Error("token limit reached, finishing run", "error", err)
			if recordErr := a.addMessage(AssistantMessage(
				fmt.Sprintf("Maximum token limit reached, cannot continue execution: %v", err))); recordErr != nil {
				return false, recordErr
			}
			a.setState(StateFinished)
			return false, nil
		}
		return false, fmt.Errorf("model invocation failed: %w", err)
	}

	a.logger.Info("model reply",
		"content_len", len(reply.Content), "tool_calls", len(reply.ToolCalls))
	a.Emit(EventToolSelected, map[string]any{"tool_calls": summarizeCalls(reply.ToolCalls)})

	switch a.toolChoice {
	case ToolChoiceNone:
		if len(reply.ToolCalls) > 0 {
			a.logger.Warn("model selected tools under the none policy, ignoring",
				"tool_calls", len(reply.ToolCalls))
		}
		a.pendingCalls = nil
		if reply.Content != "" {
			if err := a.addMessage(AssistantMessage(reply.Content)); err != nil {
				return false, err
			}
			return true, nil
		}
		return false, nil

	case ToolChoiceRequired:
		a.pendingCalls = reply.ToolCalls
		if err := a.addMessage(FromToolCalls(reply.Content, reply.ToolCalls)); err != nil {
			return false, err
		}
		// An empty batch still proceeds to Act, where the required policy
		// turns it into a dispatch error.
		return true, nil

	default: // auto
		a.pendingCalls = reply.ToolCalls
		var msg Message
		if len(reply.ToolCalls) > 0 {
			msg = FromToolCalls(reply.Content, reply.ToolCalls)
		} else {
			msg = AssistantMessage(reply.Content)
		}
		if err := a.addMessage(msg); err != nil {
			return false, err
		}
		return len(reply.ToolCalls) > 0 || reply.Content != "", nil
	}
}

// act runs one action phase: dispatch the pending calls and return the joined
// observations as the step result. Dispatch protocol violations become the
// step result rather than a run failure.
func (a *Agent) act(ctx context.Context) (string, error) {
	calls := a.pendingCalls
	a.pendingCalls = nil

	result, err := a.dispatcher.Execute(ctx, calls)
	if err != nil {
		var de *DispatchError
		if errors.As(err, &de) {
			a.Emit(EventToolError, map[string]any{"error": de.Reason})
			return "Error: " + de.Reason, nil
		}
		return "", err
	}
	return result, nil
}
