// Package config loads and validates application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config holds all application configuration.
type Config struct {
	// Model provider settings.
	Provider    string // "openai", "anthropic", ...
	Model       string // provider-specific model id; empty selects the default
	APIKey      string
	MaxTokens   int
	Temperature float64

	// Agent settings.
	AgentName          string
	SystemPrompt       string
	NextStepPrompt     string
	MaxSteps           int
	MaxObserve         int // observation truncation limit in runes
	DuplicateThreshold int // identical replies before the stuck handler fires
	ToolChoice         string

	// Built-in tools to register, parsed from KEEL_TOOLS.
	Tools []string

	// Remote tool hosts, parsed from KEEL_MCP_SERVERS.
	RemoteHosts []RemoteHost

	// Operational settings.
	LogLevel string
}

// RemoteHost is one external tool host declaration. Exactly one of Command
// and URL is set.
type RemoteHost struct {
	ClientID string
	Command  string
	Args     []string
	URL      string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (Config, error) {
	cfg := Config{
		Provider:           envStr("KEEL_PROVIDER", "openai"),
		Model:              envStr("KEEL_MODEL", ""),
		APIKey:             envStr("KEEL_API_KEY", ""),
		MaxTokens:          envInt("KEEL_MAX_TOKENS", 4096),
		Temperature:        envFloat("KEEL_TEMPERATURE", 0.7),
		AgentName:          envStr("KEEL_AGENT_NAME", "keel"),
		SystemPrompt:       envStr("KEEL_SYSTEM_PROMPT", ""),
		NextStepPrompt:     envStr("KEEL_NEXT_STEP_PROMPT", ""),
		MaxSteps:           envInt("KEEL_MAX_STEPS", 10),
		MaxObserve:         envInt("KEEL_MAX_OBSERVE", 10000),
		DuplicateThreshold: envInt("KEEL_DUPLICATE_THRESHOLD", 2),
		ToolChoice:         envStr("KEEL_TOOL_CHOICE", "auto"),
		Tools:              envList("KEEL_TOOLS", []string{"echo"}),
		LogLevel:           envStr("KEEL_LOG_LEVEL", "info"),
	}

	hosts, err := parseRemoteHosts(os.Getenv("KEEL_MCP_SERVERS"))
	if err != nil {
		return Config{}, err
	}
	cfg.RemoteHosts = hosts

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that the configuration is internally consistent.
func (c Config) Validate() error {
	if c.Provider == "" {
		return fmt.Errorf("config: KEEL_PROVIDER is required")
	}
	if c.MaxSteps <= 0 {
		return fmt.Errorf("config: KEEL_MAX_STEPS must be positive")
	}
	if c.MaxObserve <= 0 {
		return fmt.Errorf("config: KEEL_MAX_OBSERVE must be positive")
	}
	switch c.ToolChoice {
	case "auto", "none", "required":
	default:
		return fmt.Errorf("config: KEEL_TOOL_CHOICE must be auto, none, or required")
	}
	return nil
}

// parseRemoteHosts parses a comma-separated list of host declarations. Each
// entry is "id=stdio:command arg1 arg2" or "id=sse:http://host/sse".
func parseRemoteHosts(raw string) ([]RemoteHost, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}

	var hosts []RemoteHost
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		id, rest, ok := strings.Cut(entry, "=")
		if !ok || id == "" {
			return nil, fmt.Errorf("config: malformed KEEL_MCP_SERVERS entry %q", entry)
		}
		kind, target, ok := strings.Cut(rest, ":")
		if !ok || target == "" {
			return nil, fmt.Errorf("config: malformed KEEL_MCP_SERVERS entry %q", entry)
		}
		switch kind {
		case "stdio":
			fields := strings.Fields(target)
			if len(fields) == 0 {
				return nil, fmt.Errorf("config: empty command in KEEL_MCP_SERVERS entry %q", entry)
			}
			hosts = append(hosts, RemoteHost{
				ClientID: id,
				Command:  fields[0],
				Args:     fields[1:],
			})
		case "sse":
			hosts = append(hosts, RemoteHost{ClientID: id, URL: target})
		default:
			return nil, fmt.Errorf("config: unknown transport %q in KEEL_MCP_SERVERS entry %q", kind, entry)
		}
	}
	return hosts, nil
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envList(key string, defaultVal []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func envInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func envFloat(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}
