package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/windrose-ai/keel/agentcore"
	"github.com/windrose-ai/keel/config"
	"github.com/windrose-ai/keel/modelclient"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run0())
}

func run0() int {
	prompt := flag.String("p", "", "run a single prompt and exit")
	showEvents := flag.Bool("events", false, "print agent events to stderr")
	flag.Parse()

	// Load .env file if present (non-fatal).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "load config:", err)
		return 1
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, logger, *prompt, *showEvents); err != nil {
		logger.Error("fatal error", "error", err)
		return 1
	}
	return 0
}

func newLogger(level string) *slog.Logger {
	lvl := slog.LevelInfo
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger, prompt string, showEvents bool) error {
	slog.Info("keel starting", "version", version, "provider", cfg.Provider)

	client, err := modelclient.New(cfg.Provider,
		modelclient.WithModel(cfg.Model),
		modelclient.WithAPIKey(cfg.APIKey),
		modelclient.WithMaxTokens(cfg.MaxTokens),
		modelclient.WithTemperature(cfg.Temperature),
		modelclient.WithLogger(logger),
	)
	if err != nil {
		return fmt.Errorf("model client: %w", err)
	}

	agent, err := agentcore.New(agentcore.Options{
		Name:               cfg.AgentName,
		Model:              client,
		SystemPrompt:       cfg.SystemPrompt,
		NextStepPrompt:     cfg.NextStepPrompt,
		MaxSteps:           cfg.MaxSteps,
		MaxObserve:         cfg.MaxObserve,
		DuplicateThreshold: cfg.DuplicateThreshold,
		ToolChoice:         agentcore.ToolChoice(cfg.ToolChoice),
		Logger:             logger,
	})
	if err != nil {
		return fmt.Errorf("agent: %w", err)
	}
	defer agent.Close(context.Background())

	if showEvents {
		agent.On("agent:*", func(evt agentcore.EventItem) error {
			fmt.Fprintf(os.Stderr, "[event] step=%d %s\n", evt.Step, evt.Name)
			return nil
		})
	}

	specs, err := toolSpecs(cfg)
	if err != nil {
		return err
	}
	if err := agent.Initialize(ctx, agentcore.InitConfig{Tools: specs}); err != nil {
		return fmt.Errorf("initialize: %w", err)
	}

	// Interrupt cancels the active run; the loop stops at the next step
	// boundary.
	go func() {
		<-ctx.Done()
		agent.Terminate()
	}()

	if prompt != "" {
		return runOnce(ctx, agent, prompt)
	}
	return runInteractive(ctx, agent)
}

func toolSpecs(cfg config.Config) ([]agentcore.ToolSpec, error) {
	specs := make([]agentcore.ToolSpec, 0, len(cfg.Tools)+len(cfg.RemoteHosts))
	for _, name := range cfg.Tools {
		if name == "terminate" {
			continue // always registered by the agent itself
		}
		tool, ok := agentcore.BuiltinTool(name)
		if !ok {
			return nil, fmt.Errorf("unknown tool %q in KEEL_TOOLS (built-ins: %s)",
				name, strings.Join(agentcore.BuiltinToolNames(), ", "))
		}
		specs = append(specs, agentcore.ToolSpec{Local: tool})
	}
	for _, h := range cfg.RemoteHosts {
		specs = append(specs, agentcore.ToolSpec{Remote: &agentcore.RemoteHostSpec{
			ClientID:  h.ClientID,
			Command:   h.Command,
			Args:      h.Args,
			ServerURL: h.URL,
		}})
	}
	return specs, nil
}

func runOnce(ctx context.Context, agent *agentcore.Agent, prompt string) error {
	result, err := agent.Run(ctx, prompt)
	if err != nil {
		return err
	}
	fmt.Println(result)
	return nil
}

func runInteractive(ctx context.Context, agent *agentcore.Agent) error {
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			return nil
		}
		if ctx.Err() != nil {
			return nil
		}

		result, err := agent.Run(ctx, line)
		if err != nil {
			slog.Error("run failed", "error", err)
			continue
		}
		fmt.Println(result)
	}
}
