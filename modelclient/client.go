package modelclient

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/teilomillet/gollm"

	"github.com/windrose-ai/keel/agentcore"
)

// Client is a gollm-backed agentcore.ModelClient. It flattens the
// conversation into a gollm prompt, classifies provider failures, retries
// transient ones, and keeps cumulative token counters.
type Client struct {
	provider string
	model    string
	llm      gollm.LLM
	policy   RetryPolicy
	logger   *slog.Logger

	mu    sync.Mutex
	usage agentcore.TokenUsage
}

// Option configures a Client.
type Option func(*clientConfig)

type clientConfig struct {
	apiKey      string
	model       string
	maxTokens   int
	temperature float64
	policy      RetryPolicy
	logger      *slog.Logger
	llm         gollm.LLM
	extraOpts   []gollm.ConfigOption
}

// WithAPIKey sets the provider API key. When empty, gollm reads it from the
// environment.
func WithAPIKey(key string) Option {
	return func(c *clientConfig) { c.apiKey = key }
}

// WithModel sets the model identifier.
func WithModel(model string) Option {
	return func(c *clientConfig) { c.model = model }
}

// WithMaxTokens sets the completion token limit.
func WithMaxTokens(n int) Option {
	return func(c *clientConfig) { c.maxTokens = n }
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(c *clientConfig) { c.temperature = t }
}

// WithRetryPolicy overrides the default retry policy.
func WithRetryPolicy(policy RetryPolicy) Option {
	return func(c *clientConfig) { c.policy = policy }
}

// WithLogger sets the client logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *clientConfig) { c.logger = logger }
}

// WithLLM injects a prebuilt gollm instance, bypassing construction.
func WithLLM(llm gollm.LLM) Option {
	return func(c *clientConfig) { c.llm = llm }
}

// WithGollmOptions appends extra gollm configuration options.
func WithGollmOptions(opts ...gollm.ConfigOption) Option {
	return func(c *clientConfig) { c.extraOpts = append(c.extraOpts, opts...) }
}

// New creates a Client for the named provider ("openai", "anthropic", ...).
func New(provider string, opts ...Option) (*Client, error) {
	cfg := &clientConfig{
		maxTokens:   4096,
		temperature: 0.7,
		policy:      DefaultRetryPolicy(),
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}

	model := cfg.model
	if info := GetModelInfo(model); info != nil {
		// Canonicalize aliases like "sonnet" or "gpt5".
		model = info.ID
	}
	if model == "" {
		if info := DefaultModel(provider); info != nil {
			model = info.ID
		} else {
			model = "gpt-4o-mini"
		}
	}

	llm := cfg.llm
	if llm == nil {
		gollmOpts := []gollm.ConfigOption{
			gollm.SetProvider(provider),
			gollm.SetModel(model),
			gollm.SetMaxTokens(cfg.maxTokens),
			gollm.SetTemperature(cfg.temperature),
			gollm.SetMaxRetries(0), // retries are handled here
			gollm.SetLogLevel(gollm.LogLevelWarn),
		}
		if cfg.apiKey != "" {
			gollmOpts = append(gollmOpts, gollm.SetAPIKey(cfg.apiKey))
		}
		gollmOpts = append(gollmOpts, cfg.extraOpts...)

		var err error
		llm, err = gollm.NewLLM(gollmOpts...)
		if err != nil {
			return nil, fmt.Errorf("create llm for provider %s: %w", provider, err)
		}
	}

	return &Client{
		provider: provider,
		model:    model,
		llm:      llm,
		policy:   cfg.policy,
		logger:   cfg.logger,
	}, nil
}

// Provider returns the provider identifier.
func (c *Client) Provider() string { return c.provider }

// Model returns the configured model identifier.
func (c *Client) Model() string { return c.model }

// Ask requests a plain-text completion.
func (c *Client) Ask(ctx context.Context, messages, system []agentcore.Message) (string, error) {
	prompt := buildPrompt(messages, system, nil, "")
	text, err := c.generate(ctx, prompt, estimateTokens(messages, system))
	if err != nil {
		return "", err
	}
	return text, nil
}

// AskWithTools requests a completion that may select tools. The reply text
// is scanned for embedded tool-call JSON, which some providers return inline.
func (c *Client) AskWithTools(ctx context.Context, messages, system []agentcore.Message, tools []agentcore.ToolSchema, choice agentcore.ToolChoice) (*agentcore.ModelReply, error) {
	prompt := buildPrompt(messages, system, tools, choice)
	text, err := c.generate(ctx, prompt, estimateTokens(messages, system))
	if err != nil {
		return nil, err
	}

	calls := parseToolCalls(text)
	content := stripToolCallJSON(text, calls)
	return &agentcore.ModelReply{Content: content, ToolCalls: calls}, nil
}

// TokenUsage returns the cumulative token counters.
func (c *Client) TokenUsage() agentcore.TokenUsage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.usage
}

// generate runs one prompt under the retry policy and records usage. A
// context-length failure comes back as an agentcore.TokenLimitError.
func (c *Client) generate(ctx context.Context, prompt *gollm.Prompt, inTokens int64) (string, error) {
	text, err := Retry(ctx, c.policy, func(ctx context.Context) (string, error) {
		out, genErr := c.llm.Generate(ctx, prompt)
		if genErr != nil {
			return "", classifyError(c.provider, genErr)
		}
		return out, nil
	})
	if err != nil {
		if IsContextLength(err) {
			return "", &agentcore.TokenLimitError{Err: err}
		}
		return "", err
	}

	c.mu.Lock()
	c.usage.InputTokens += inTokens
	c.usage.CompletionTokens += int64(len(text)) / 4
	c.mu.Unlock()
	return text, nil
}

// estimateTokens approximates the prompt token count from text length. gollm
// does not expose provider usage counters.
func estimateTokens(messages, system []agentcore.Message) int64 {
	var chars int
	for _, msg := range system {
		chars += len(msg.Content)
	}
	for _, msg := range messages {
		chars += len(msg.Content)
		for _, call := range msg.ToolCalls {
			chars += len(call.Name) + len(call.Arguments)
		}
	}
	tokens := int64(chars) / 4
	if tokens == 0 {
		tokens = 10
	}
	return tokens
}

// buildPrompt flattens the conversation into one gollm prompt. Assistant and
// tool turns are folded into the input with role markers; the system messages
// become the gollm system prompt. Image attachments cannot survive the
// flattening, so only their presence is noted in the tool turn.
func buildPrompt(messages, system []agentcore.Message, tools []agentcore.ToolSchema, choice agentcore.ToolChoice) *gollm.Prompt {
	var systemPrompt strings.Builder
	for _, msg := range system {
		systemPrompt.WriteString(msg.Content)
		systemPrompt.WriteString("\n")
	}

	var parts []string
	for _, msg := range messages {
		switch msg.Role {
		case agentcore.RoleSystem:
			systemPrompt.WriteString(msg.Content)
			systemPrompt.WriteString("\n")
		case agentcore.RoleUser:
			parts = append(parts, msg.Content)
		case agentcore.RoleAssistant:
			if msg.Content != "" {
				parts = append(parts, "[Assistant]: "+msg.Content)
			}
			for _, call := range msg.ToolCalls {
				parts = append(parts, fmt.Sprintf("[Assistant called %s]: %s", call.Name, string(call.Arguments)))
			}
		case agentcore.RoleTool:
			prefix := "[Tool Result]"
			if strings.HasPrefix(msg.Content, "Error") {
				prefix = "[Tool Error]"
			}
			turn := fmt.Sprintf("%s %s: %s", prefix, msg.Name, msg.Content)
			if msg.Base64Image != "" {
				turn += " [image attached]"
			}
			parts = append(parts, turn)
		}
	}

	promptText := strings.Join(parts, "\n")
	if promptText == "" {
		promptText = "Hello"
	}

	promptOpts := []gollm.PromptOption{}
	if sys := strings.TrimSpace(systemPrompt.String()); sys != "" {
		promptOpts = append(promptOpts, gollm.WithSystemPrompt(sys, gollm.CacheTypeEphemeral))
	}

	if len(tools) > 0 {
		gollmTools := make([]gollm.Tool, 0, len(tools))
		for _, t := range tools {
			gollmTools = append(gollmTools, gollm.Tool{
				Type: "function",
				Function: gollm.Function{
					Name:        t.Name,
					Description: t.Description,
					Parameters:  t.Parameters,
				},
			})
		}
		promptOpts = append(promptOpts, gollm.WithTools(gollmTools))
	}
	if choice != "" {
		promptOpts = append(promptOpts, gollm.WithToolChoice(string(choice)))
	}

	return gollm.NewPrompt(promptText, promptOpts...)
}

// parseToolCalls extracts tool calls embedded in the reply text as JSON.
// Handles the `{"tool_calls": [...]}` wrapper and bare `[{"name": ...}]`
// arrays.
func parseToolCalls(text string) []agentcore.ToolCall {
	type rawCall struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}

	var raw []rawCall
	if start := strings.Index(text, `{"tool_calls"`); start != -1 {
		var wrapper struct {
			ToolCalls []rawCall `json:"tool_calls"`
		}
		if err := json.Unmarshal([]byte(text[start:]), &wrapper); err == nil {
			raw = wrapper.ToolCalls
		}
	} else if start := strings.Index(text, `[{"name"`); start != -1 {
		_ = json.Unmarshal([]byte(text[start:]), &raw)
	}

	calls := make([]agentcore.ToolCall, 0, len(raw))
	for i, rc := range raw {
		if rc.Name == "" {
			continue
		}
		calls = append(calls, agentcore.ToolCall{
			ID:        "call_" + uuid.NewString()[:8],
			Name:      rc.Name,
			Arguments: rc.Arguments,
			Index:     i,
		})
	}
	return calls
}

// stripToolCallJSON removes the parsed tool-call JSON, leaving the prose.
func stripToolCallJSON(text string, calls []agentcore.ToolCall) string {
	if len(calls) == 0 {
		return text
	}
	result := text
	for _, pattern := range []string{`{"tool_calls"`, `[{"name"`} {
		if idx := strings.Index(result, pattern); idx != -1 {
			result = strings.TrimSpace(result[:idx])
		}
	}
	return result
}
