package agentcore

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultMaxSteps bounds a run when the model never terminates on its own.
const DefaultMaxSteps = 10

// stuckPrompt is prepended to the next-step prompt when a stuck loop is
// detected. Repeated detections stack the prefix.
const stuckPrompt = "Observed duplicate responses. Consider new strategies and avoid repeating ineffective paths already attempted."

// Options configure a new Agent. Model is required; everything else has a
// usable default.
type Options struct {
	Name        string
	Description string

	Model  ModelClient
	Memory *Memory

	// SystemPrompt is sent on every model call; NextStepPrompt is injected as
	// a user message at the start of every Think phase.
	SystemPrompt   string
	NextStepPrompt string

	MaxSteps           int
	MaxObserve         int
	DuplicateThreshold int
	ToolChoice         ToolChoice

	Sandbox SandboxCleaner
	Logger  *slog.Logger
}

// RemoteHostSpec describes one external tool host to connect during
// Initialize. Command selects the stdio transport; ServerURL selects SSE.
type RemoteHostSpec struct {
	ClientID  string
	Command   string
	Args      []string
	Env       []string
	ServerURL string
}

// ToolSpec is one capability to make available to the agent: either an
// in-process Tool or a remote host whose tools are proxied.
type ToolSpec struct {
	Local  *Tool
	Remote *RemoteHostSpec
}

// InitConfig parameterizes one task before Run. UserPrompt pre-seeds memory
// with an initial user message.
type InitConfig struct {
	TaskID     string
	Language   string
	Tools      []ToolSpec
	MaxSteps   int
	UserPrompt string
}

// Agent is the think/act execution engine. It owns its memory, tool
// registry, remote gateway, and event bus; one Run is active at a time.
type Agent struct {
	name        string
	description string

	model      ModelClient
	memory     *Memory
	registry   *ToolRegistry
	gateway    *RemoteToolGateway
	dispatcher *ToolDispatcher
	bus        *EventBus
	sandbox    SandboxCleaner
	logger     *slog.Logger

	systemPrompt       string
	baseNextStepPrompt string
	nextStepPrompt     string

	maxSteps           int
	duplicateThreshold int
	toolChoice         ToolChoice

	taskID       string
	pendingCalls []ToolCall

	mu          sync.Mutex
	state       AgentState
	currentStep int
	cancelRun   context.CancelFunc
}

// New creates an agent in the IDLE state with the terminate tool registered
// and the event bus consuming.
func New(opts Options) (*Agent, error) {
	if opts.Model == nil {
		return nil, fmt.Errorf("agent: model client is required")
	}
	if opts.Memory == nil {
		opts.Memory = NewMemory()
	}
	if opts.MaxSteps <= 0 {
		opts.MaxSteps = DefaultMaxSteps
	}
	if opts.DuplicateThreshold <= 0 {
		opts.DuplicateThreshold = DefaultDuplicateThreshold
	}
	if opts.ToolChoice == "" {
		opts.ToolChoice = ToolChoiceAuto
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	a := &Agent{
		name:               opts.Name,
		description:        opts.Description,
		model:              opts.Model,
		memory:             opts.Memory,
		registry:           NewToolRegistry(),
		sandbox:            opts.Sandbox,
		logger:             opts.Logger,
		systemPrompt:       opts.SystemPrompt,
		baseNextStepPrompt: opts.NextStepPrompt,
		nextStepPrompt:     opts.NextStepPrompt,
		maxSteps:           opts.MaxSteps,
		duplicateThreshold: opts.DuplicateThreshold,
		toolChoice:         opts.ToolChoice,
		taskID:             uuid.NewString(),
		state:              StateIdle,
	}
	a.bus = NewEventBus(opts.Logger)
	a.bus.Start()
	a.gateway = NewRemoteToolGateway(a.registry, opts.Logger)
	if err := a.registry.Register(NewTerminateTool()); err != nil {
		return nil, err
	}
	a.dispatcher = NewToolDispatcher(DispatcherDeps{
		Registry:   a.registry,
		Memory:     a.memory,
		Record:     a.addMessage,
		Emit:       a.Emit,
		Finish:     func() { a.setState(StateFinished) },
		Policy:     func() ToolChoice { return a.toolChoice },
		MaxObserve: opts.MaxObserve,
		Logger:     opts.Logger,
	})
	return a, nil
}

// Initialize prepares the agent for one task: assigns the task id, registers
// local tools, connects remote hosts, and applies per-task overrides. Remote
// connection failures are logged and skipped so one unreachable host never
// blocks the task.
func (a *Agent) Initialize(ctx context.Context, cfg InitConfig) error {
	if cfg.TaskID != "" {
		a.taskID = cfg.TaskID
	}
	if cfg.MaxSteps > 0 {
		a.maxSteps = cfg.MaxSteps
	}
	if cfg.Language != "" {
		a.systemPrompt = strings.TrimSpace(a.systemPrompt +
			"\nAlways respond in " + cfg.Language + ".")
	}

	for _, spec := range cfg.Tools {
		switch {
		case spec.Local != nil:
			if err := a.registry.Register(spec.Local); err != nil {
				return err
			}
		case spec.Remote != nil:
			if err := a.connectRemote(ctx, spec.Remote); err != nil {
				a.logger.Error("remote host connection failed",
					"client_id", spec.Remote.ClientID, "error", err)
			}
		}
	}

	if cfg.UserPrompt != "" {
		if err := a.addMessage(UserMessage(cfg.UserPrompt)); err != nil {
			return err
		}
	}
	return nil
}

func (a *Agent) connectRemote(ctx context.Context, spec *RemoteHostSpec) error {
	if spec.Command != "" {
		return a.gateway.ConnectStdio(ctx, spec.ClientID, spec.Command, spec.Args, spec.Env)
	}
	if spec.ServerURL != "" {
		return a.gateway.ConnectSSE(ctx, spec.ClientID, spec.ServerURL)
	}
	return fmt.Errorf("remote host %q has neither a command nor a server URL", spec.ClientID)
}

// Run executes the think/act loop for one request until the model
// terminates, the step limit is reached, or the run is cancelled. It returns
// the per-step results joined by newlines.
func (a *Agent) Run(ctx context.Context, request string) (string, error) {
	a.mu.Lock()
	if a.state != StateIdle {
		state := a.state
		a.mu.Unlock()
		return "", fmt.Errorf("cannot run agent from state: %s", state)
	}
	// Claim the run while still holding the lock so two concurrent callers
	// can never both pass the IDLE gate.
	prev := a.state
	a.state = StateRunning
	runCtx, cancel := context.WithCancel(ctx)
	a.cancelRun = cancel
	a.currentStep = 0
	a.mu.Unlock()
	defer cancel()
	defer a.cleanupSandbox(runCtx)
	a.Emit(EventStateChange, map[string]any{"from": string(prev), "to": string(StateRunning)})

	a.nextStepPrompt = a.baseNextStepPrompt
	a.pendingCalls = nil
	a.Emit(EventLifecycleStart, map[string]any{"task_id": a.taskID, "request": request})

	if request != "" {
		if err := a.addMessage(UserMessage(request)); err != nil {
			a.setState(prev)
			return "", err
		}
	}

	var results []string
	runErr := a.withState(prev, func() error {
		for a.CurrentStep() < a.maxSteps && a.State() != StateFinished {
			if runCtx.Err() != nil {
				a.logger.Info("run cancelled", "step", a.CurrentStep())
				break
			}
			step := a.advanceStep()
			a.logger.Info("executing step", "step", step, "max_steps", a.maxSteps)
			a.Emit(EventStepStart, map[string]any{"max_steps": a.maxSteps})

			result, err := a.step(runCtx)
			if err != nil {
				a.Emit(EventStepError, map[string]any{"error": err.Error()})
				return err
			}
			if IsStuck(a.memory.Messages(), a.duplicateThreshold) {
				a.handleStuck()
			}
			a.Emit(EventStepComplete, map[string]any{"result": result})
			results = append(results, fmt.Sprintf("Step %d: %s", step, result))
		}
		if a.CurrentStep() >= a.maxSteps {
			a.resetStep()
			a.setState(StateIdle)
			a.Emit(EventStepMaxReached, map[string]any{"max_steps": a.maxSteps})
			results = append(results, fmt.Sprintf("Terminated: Reached max steps (%d)", a.maxSteps))
		}
		return nil
	})

	summary := "No steps executed"
	if len(results) > 0 {
		summary = strings.Join(results, "\n")
	}
	payload := map[string]any{"task_id": a.taskID, "result": summary}
	if runErr != nil {
		payload["error"] = runErr.Error()
	}
	a.Emit(EventLifecycleComplete, payload)
	if runErr != nil {
		return "", runErr
	}
	return summary, nil
}

// step runs one Think phase and, when the model chose to act, one Act phase.
// Token usage consumed by each phase is published as a step event.
func (a *Agent) step(ctx context.Context) (string, error) {
	before := a.model.TokenUsage()
	shouldAct, err := instrument(a, ctx, EventThinkStart, EventThinkComplete, EventThinkError, a.think)
	a.emitTokens("think", before)
	if err != nil {
		return "", fmt.Errorf("think failed: %w", err)
	}
	if !shouldAct {
		return "Thinking complete - no action needed", nil
	}

	before = a.model.TokenUsage()
	result, err := instrument(a, ctx, EventActStart, EventActComplete, EventActError, a.act)
	a.emitTokens("act", before)
	if err != nil {
		return "", fmt.Errorf("act failed: %w", err)
	}
	return result, nil
}

// instrument brackets a phase with its start/complete/error events.
func instrument[T any](a *Agent, ctx context.Context, start, complete, fail EventName, fn func(context.Context) (T, error)) (T, error) {
	a.Emit(start, nil)
	out, err := fn(ctx)
	if err != nil {
		a.Emit(fail, map[string]any{"error": err.Error()})
		var zero T
		return zero, err
	}
	a.Emit(complete, map[string]any{"result": out})
	return out, nil
}

func (a *Agent) emitTokens(phase string, before TokenUsage) {
	delta := a.model.TokenUsage().Delta(before)
	if delta.InputTokens == 0 && delta.CompletionTokens == 0 {
		return
	}
	a.Emit(EventStepTokens, map[string]any{
		"phase":             phase,
		"input_tokens":      delta.InputTokens,
		"completion_tokens": delta.CompletionTokens,
	})
}

// handleStuck prepends the strategy-change nudge to the next-step prompt.
// Detections accumulate until the run ends.
func (a *Agent) handleStuck() {
	a.Emit(EventStuckDetected, map[string]any{"threshold": a.duplicateThreshold})
	a.nextStepPrompt = stuckPrompt + "\n" + a.nextStepPrompt
	a.logger.Warn("stuck loop detected, adjusting prompt")
	a.Emit(EventStuckHandled, map[string]any{"prompt": stuckPrompt})
}

// withState runs fn inside an already-claimed scoped state and restores prev
// on every exit path. On failure the agent passes through ERROR first; a
// panic from fn is rethrown after the restore, so callers never observe the
// agent left in RUNNING or ERROR.
func (a *Agent) withState(prev AgentState, fn func() error) (err error) {
	defer func() {
		r := recover()
		if r != nil || err != nil {
			a.setState(StateError)
		}
		a.setState(prev)
		if r != nil {
			panic(r)
		}
	}()
	return fn()
}

func (a *Agent) setState(next AgentState) {
	a.mu.Lock()
	prev := a.state
	a.state = next
	a.mu.Unlock()
	if prev == next {
		return
	}
	a.Emit(EventStateChange, map[string]any{"from": string(prev), "to": string(next)})
}

// addMessage appends to memory and publishes the memory event. Every memory
// write in the engine goes through here.
func (a *Agent) addMessage(msg Message) error {
	if err := a.memory.Add(msg); err != nil {
		return err
	}
	payload := map[string]any{"role": string(msg.Role)}
	if msg.Content != "" {
		payload["content"] = msg.Content
	}
	if len(msg.ToolCalls) > 0 {
		payload["tool_calls"] = len(msg.ToolCalls)
	}
	a.Emit(EventMemoryAdded, payload)
	return nil
}

func (a *Agent) cleanupSandbox(ctx context.Context) {
	if a.sandbox == nil {
		return
	}
	// Cleanup must run even when the run context was cancelled.
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	if err := a.sandbox.Cleanup(cleanupCtx); err != nil {
		a.logger.Error("sandbox cleanup failed", "error", err)
	}
}

// Emit publishes an event stamped with the current step.
func (a *Agent) Emit(name EventName, payload map[string]any) {
	a.bus.Emit(EventItem{
		Name:      name,
		Payload:   payload,
		Step:      a.CurrentStep(),
		Timestamp: time.Now(),
	})
}

// On subscribes a handler to events matching the colon-segmented pattern.
func (a *Agent) On(pattern string, handler EventHandler) {
	a.bus.Subscribe(pattern, handler)
}

// Terminate cancels the in-flight run, if any. The loop stops at the next
// step boundary; blocked model or tool calls observe the cancellation.
func (a *Agent) Terminate() {
	a.mu.Lock()
	cancel := a.cancelRun
	a.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Close releases everything the agent owns: remote sessions, tool resources,
// and the event bus. Close drains pending events before returning.
func (a *Agent) Close(ctx context.Context) {
	a.gateway.CloseAll()
	a.registry.CleanupAll(ctx, a.logger)
	a.bus.Close()
}

func (a *Agent) advanceStep() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.currentStep++
	return a.currentStep
}

func (a *Agent) resetStep() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.currentStep = 0
}

// State returns the current lifecycle state.
func (a *Agent) State() AgentState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// CurrentStep returns the 1-based number of the step in progress, or 0
// outside a run.
func (a *Agent) CurrentStep() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.currentStep
}

// Name returns the agent's name.
func (a *Agent) Name() string { return a.name }

// Description returns the agent's description.
func (a *Agent) Description() string { return a.description }

// TaskID returns the id of the current task.
func (a *Agent) TaskID() string { return a.taskID }

// Memory returns the agent's conversation log.
func (a *Agent) Memory() *Memory { return a.memory }

// Registry returns the agent's tool registry.
func (a *Agent) Registry() *ToolRegistry { return a.registry }

// Gateway returns the agent's remote tool gateway.
func (a *Agent) Gateway() *RemoteToolGateway { return a.gateway }
