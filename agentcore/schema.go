package agentcore

import (
	"context"
	"encoding/json"
)

// Role identifies who produced a message in the conversation log.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// AgentState represents the current lifecycle state of an Agent.
type AgentState string

const (
	StateIdle     AgentState = "IDLE"
	StateRunning  AgentState = "RUNNING"
	StateFinished AgentState = "FINISHED"
	StateError    AgentState = "ERROR"
)

// ToolChoice controls whether the model must, may, or must not select tools.
type ToolChoice string

const (
	ToolChoiceNone     ToolChoice = "none"
	ToolChoiceAuto     ToolChoice = "auto"
	ToolChoiceRequired ToolChoice = "required"
)

// ToolCall is a model-initiated tool invocation. Calls are produced only by
// the model client and consumed exactly once by the dispatcher.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
	Index     int             `json:"index"`
}

// Message is a single immutable entry in Memory. Content may be empty for
// pure tool-call messages; ToolCallID and Name are set only for tool-role
// messages.
type Message struct {
	Role        Role       `json:"role"`
	Content     string     `json:"content,omitempty"`
	Base64Image string     `json:"base64_image,omitempty"`
	ToolCalls   []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID  string     `json:"tool_call_id,omitempty"`
	Name        string     `json:"name,omitempty"`
}

// SystemMessage creates a system Message.
func SystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// UserMessage creates a user Message.
func UserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// AssistantMessage creates an assistant Message with text content only.
func AssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}

// FromToolCalls creates an assistant Message carrying the model's tool
// selection alongside any textual content.
func FromToolCalls(content string, calls []ToolCall) Message {
	return Message{Role: RoleAssistant, Content: content, ToolCalls: calls}
}

// ToolMessage creates a tool-role Message recording one observation. The
// toolCallID must reference a call emitted in an earlier assistant Message.
func ToolMessage(content, name, toolCallID, base64Image string) Message {
	return Message{
		Role:        RoleTool,
		Content:     content,
		Name:        name,
		ToolCallID:  toolCallID,
		Base64Image: base64Image,
	}
}

// ToolSchema is the name/description/parameter-schema triple exported to the
// model client on every Think call.
type ToolSchema struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// ToolResult is the raw outcome of one tool invocation before it is
// formatted and truncated into an observation.
type ToolResult struct {
	Output      string `json:"output,omitempty"`
	Error       string `json:"error,omitempty"`
	Base64Image string `json:"base64_image,omitempty"`
}

// ModelReply is the structured output of a tool-enabled model call.
type ModelReply struct {
	Content   string
	ToolCalls []ToolCall
}

// TokenUsage holds cumulative model token counters.
type TokenUsage struct {
	InputTokens      int64
	CompletionTokens int64
}

// Delta returns the usage consumed since prev.
func (u TokenUsage) Delta(prev TokenUsage) TokenUsage {
	return TokenUsage{
		InputTokens:      u.InputTokens - prev.InputTokens,
		CompletionTokens: u.CompletionTokens - prev.CompletionTokens,
	}
}

// ModelClient is the narrow interface the engine consumes for model
// inference. Implementations own prompt formatting, provider retry, and
// token accounting; a context-limit failure must be reported as a
// TokenLimitError so the engine can self-terminate gracefully.
type ModelClient interface {
	// Ask requests a plain-text completion over the conversation.
	Ask(ctx context.Context, messages, system []Message) (string, error)

	// AskWithTools requests a completion that may select tools from the
	// provided schemas, honoring the tool-choice policy.
	AskWithTools(ctx context.Context, messages, system []Message, tools []ToolSchema, choice ToolChoice) (*ModelReply, error)

	// TokenUsage returns cumulative input/completion token counters.
	TokenUsage() TokenUsage
}
