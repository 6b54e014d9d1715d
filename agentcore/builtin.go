package agentcore

import (
	"context"
	"fmt"
	"sort"
)

// NewTerminateTool returns the built-in terminating tool. The model calls it
// to end the run once the request is satisfied or cannot be advanced.
func NewTerminateTool() *Tool {
	return &Tool{
		Name: "terminate",
		Description: "Terminate the interaction when the request is met " +
			"or when the assistant cannot proceed further with the task.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"status": map[string]any{
					"type":        "string",
					"description": "The finish status of the interaction.",
					"enum":        []string{"success", "failure"},
				},
			},
			"required": []string{"status"},
		},
		Terminating: true,
		Execute: func(_ context.Context, args map[string]any) (*ToolResult, error) {
			status, _ := args["status"].(string)
			if status == "" {
				status = "success"
			}
			return &ToolResult{
				Output: fmt.Sprintf("The interaction has been completed with status: %s", status),
			}, nil
		},
	}
}

// NewEchoTool returns a diagnostic tool that reflects its message argument.
// Useful for wiring checks and tests.
func NewEchoTool() *Tool {
	return &Tool{
		Name:        "echo",
		Description: "Echo the provided message back as the observation.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"message": map[string]any{
					"type":        "string",
					"description": "The text to echo back.",
				},
			},
			"required": []string{"message"},
		},
		Execute: func(_ context.Context, args map[string]any) (*ToolResult, error) {
			msg, _ := args["message"].(string)
			return &ToolResult{Output: msg}, nil
		},
	}
}

var builtinTools = map[string]func() *Tool{
	"terminate": NewTerminateTool,
	"echo":      NewEchoTool,
}

// BuiltinTool constructs a built-in tool by name.
func BuiltinTool(name string) (*Tool, bool) {
	ctor, ok := builtinTools[name]
	if !ok {
		return nil, false
	}
	return ctor(), true
}

// BuiltinToolNames lists the built-in tool names in stable order.
func BuiltinToolNames() []string {
	names := make([]string, 0, len(builtinTools))
	for name := range builtinTools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
