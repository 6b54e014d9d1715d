package agentcore

import "context"

// SandboxCleaner is the teardown hook of the sandboxed-execution backend.
// The engine never depends on the backend's internals; it only guarantees
// Cleanup is invoked once after every run regardless of outcome.
type SandboxCleaner interface {
	Cleanup(ctx context.Context) error
}

// NoopSandbox satisfies SandboxCleaner for agents that run no sandboxed
// commands.
type NoopSandbox struct{}

func (NoopSandbox) Cleanup(context.Context) error { return nil }
