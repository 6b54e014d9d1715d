// Package agentcore implements an autonomous task-execution engine.
//
// Given a natural-language request, an Agent repeatedly decides which
// registered tool to invoke, executes it, records the observation, and
// iterates until a terminating tool fires or the step budget is exhausted.
// The engine is built for unattended operation: no human approves individual
// actions, so the package guarantees ordered dispatch, bounded observation
// growth, and clean state recovery on every exit path.
//
// The package is organized around these core concepts:
//
//   - Agent: The state machine owning the run loop, the step counter, and
//     the Think/Act split.
//   - Memory: The ordered, append-only conversation log shared by every
//     component.
//   - EventBus: An in-process publish/subscribe channel for lifecycle, step,
//     and tool events, consumed by a dedicated goroutine.
//   - ToolRegistry: Named, schema-described capabilities, either local
//     functions or proxies for remotely-hosted tools.
//   - RemoteToolGateway: One MCP session per external tool host, registering
//     each remote tool under a client-prefixed name.
//   - ToolDispatcher: Ordered execution of a model's tool selection, with
//     every failure converted into an observation the model can react to.
//
// # Quick Start
//
//	model, _ := modelclient.New("anthropic")
//	agent, _ := agentcore.New(agentcore.Options{Model: model})
//	defer agent.Close(context.Background())
//
//	agent.On("agent:tool:*", func(evt agentcore.EventItem) error {
//	    log.Printf("[%s] step=%d", evt.Name, evt.Step)
//	    return nil
//	})
//
//	result, err := agent.Run(ctx, "Summarize the README in this directory")
package agentcore
