// Package modelclient implements the model inference layer behind
// agentcore.ModelClient, wrapping the gollm library
// (github.com/teilomillet/gollm) to reach OpenAI, Anthropic, and the other
// providers gollm supports.
//
// # Responsibilities
//
//   - Prompt construction: the conversation log and tool schemas are
//     flattened into a single gollm prompt with role markers
//   - Error classification: raw provider failures are mapped onto a typed
//     hierarchy (AuthenticationError, RateLimitError, ContextLengthError, ...)
//   - Retry: transient failures are retried with exponential backoff and
//     jitter; context-length failures surface as agentcore.TokenLimitError
//   - Token accounting: cumulative input/completion estimates, since gollm
//     does not expose provider usage counters
//
// # Quick Start
//
//	client, err := modelclient.New("anthropic",
//	    modelclient.WithModel("claude-sonnet-4-5-20250514"),
//	    modelclient.WithMaxTokens(8192),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	agent, err := agentcore.New(agentcore.Options{Model: client})
package modelclient
