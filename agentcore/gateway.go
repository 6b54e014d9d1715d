package agentcore

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
)

// RemoteToolInfo describes one tool exposed by a remote host.
type RemoteToolInfo struct {
	Name        string
	Description string
	Schema      map[string]any
}

// RemoteSession is a live connection to a remote tool host. The gateway
// exclusively owns the session; the concrete implementation speaks MCP over
// a subprocess pipe or an SSE stream.
type RemoteSession interface {
	ListTools(ctx context.Context) ([]RemoteToolInfo, error)
	CallTool(ctx context.Context, name string, args map[string]any) (*ToolResult, error)
	Close() error
}

type remoteHost struct {
	clientID  string
	session   RemoteSession
	toolNames []string
}

// RemoteToolGateway manages one connection per external tool host. Each
// remote tool is registered under a "<client-id>-<tool>" composite name so
// two hosts exposing the same tool never collide; invoking the proxy strips
// the prefix and forwards over the host's session. Transport failures are
// converted into error observations at the call site, never raised.
type RemoteToolGateway struct {
	mu       sync.Mutex
	registry *ToolRegistry
	logger   *slog.Logger
	hosts    map[string]*remoteHost
}

// NewRemoteToolGateway creates a gateway registering into registry.
func NewRemoteToolGateway(registry *ToolRegistry, logger *slog.Logger) *RemoteToolGateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &RemoteToolGateway{
		registry: registry,
		logger:   logger,
		hosts:    make(map[string]*remoteHost),
	}
}

// ConnectStdio spawns command as an MCP server over its stdin/stdout pipes,
// performs the handshake, and registers the host's tools.
func (g *RemoteToolGateway) ConnectStdio(ctx context.Context, clientID, command string, args, env []string) error {
	if strings.TrimSpace(command) == "" {
		return fmt.Errorf("gateway: stdio command is required")
	}
	c, err := mcpclient.NewStdioMCPClient(command, env, args...)
	if err != nil {
		return fmt.Errorf("gateway: spawn %q: %w", command, err)
	}
	return g.attach(ctx, clientID, c, false)
}

// ConnectSSE connects to an MCP server over an SSE network stream, performs
// the handshake, and registers the host's tools.
func (g *RemoteToolGateway) ConnectSSE(ctx context.Context, clientID, serverURL string) error {
	if strings.TrimSpace(serverURL) == "" {
		return fmt.Errorf("gateway: server URL is required")
	}
	c, err := mcpclient.NewSSEMCPClient(serverURL)
	if err != nil {
		return fmt.Errorf("gateway: connect %q: %w", serverURL, err)
	}
	return g.attach(ctx, clientID, c, true)
}

// attach completes the MCP handshake and hands the session to AddSession.
func (g *RemoteToolGateway) attach(ctx context.Context, clientID string, c *mcpclient.Client, needsStart bool) error {
	if needsStart {
		if err := c.Start(ctx); err != nil {
			_ = c.Close()
			return fmt.Errorf("gateway: start transport: %w", err)
		}
	}
	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{Name: "keel", Version: "0.1.0"}
	if _, err := c.Initialize(ctx, initReq); err != nil {
		_ = c.Close()
		return fmt.Errorf("gateway: handshake: %w", err)
	}
	if err := g.AddSession(ctx, clientID, &mcpSession{client: c}); err != nil {
		_ = c.Close()
		return err
	}
	return nil
}

// AddSession enumerates the session's tools and registers each one under the
// client-prefixed name. The session must already be handshaken.
func (g *RemoteToolGateway) AddSession(ctx context.Context, clientID string, session RemoteSession) error {
	if strings.TrimSpace(clientID) == "" {
		return fmt.Errorf("gateway: client id is required")
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, exists := g.hosts[clientID]; exists {
		return fmt.Errorf("gateway: client id %q already connected", clientID)
	}

	infos, err := session.ListTools(ctx)
	if err != nil {
		return fmt.Errorf("gateway: list tools for %q: %w", clientID, err)
	}

	host := &remoteHost{clientID: clientID, session: session}
	for _, info := range infos {
		registered := clientID + "-" + info.Name
		remoteName := info.Name
		tool := &Tool{
			Name:        registered,
			Description: info.Description,
			Parameters:  info.Schema,
			Execute: func(ctx context.Context, args map[string]any) (*ToolResult, error) {
				result, err := session.CallTool(ctx, remoteName, args)
				if err != nil {
					// Transport errors become observations the model can
					// react to on the next Think.
					return &ToolResult{Error: fmt.Sprintf("remote tool call failed: %v", err)}, nil
				}
				return result, nil
			},
		}
		if err := g.registry.Register(tool); err != nil {
			return fmt.Errorf("gateway: register %q: %w", registered, err)
		}
		host.toolNames = append(host.toolNames, registered)
	}
	g.hosts[clientID] = host
	g.logger.Info("remote tool host connected",
		"client_id", clientID, "tools", len(host.toolNames))
	return nil
}

// Disconnect removes exactly the named host's tools from the registry and
// closes its session. Idempotent: disconnecting an unknown or already-removed
// host is a no-op returning false.
func (g *RemoteToolGateway) Disconnect(clientID string) bool {
	g.mu.Lock()
	host, ok := g.hosts[clientID]
	if !ok {
		g.mu.Unlock()
		return false
	}
	delete(g.hosts, clientID)
	// Deregister before closing so no new dispatch snapshot can resolve a
	// tool whose connection is already gone.
	for _, name := range host.toolNames {
		g.registry.Deregister(name)
	}
	g.mu.Unlock()

	if err := host.session.Close(); err != nil {
		g.logger.Error("remote session close failed", "client_id", clientID, "error", err)
	}
	g.logger.Info("remote tool host disconnected", "client_id", clientID)
	return true
}

// Clients returns the ids of the currently connected hosts.
func (g *RemoteToolGateway) Clients() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]string, 0, len(g.hosts))
	for id := range g.hosts {
		out = append(out, id)
	}
	return out
}

// CloseAll disconnects every host. Invoked during agent teardown.
func (g *RemoteToolGateway) CloseAll() {
	g.mu.Lock()
	ids := make([]string, 0, len(g.hosts))
	for id := range g.hosts {
		ids = append(ids, id)
	}
	g.mu.Unlock()
	for _, id := range ids {
		g.Disconnect(id)
	}
}

// mcpSession adapts a mark3labs/mcp-go client to the RemoteSession contract.
type mcpSession struct {
	client *mcpclient.Client
}

func (s *mcpSession) ListTools(ctx context.Context) ([]RemoteToolInfo, error) {
	result, err := s.client.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, err
	}
	infos := make([]RemoteToolInfo, 0, len(result.Tools))
	for _, t := range result.Tools {
		infos = append(infos, RemoteToolInfo{
			Name:        t.Name,
			Description: t.Description,
			Schema:      inputSchemaToMap(t.InputSchema),
		})
	}
	return infos, nil
}

func (s *mcpSession) CallTool(ctx context.Context, name string, args map[string]any) (*ToolResult, error) {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	result, err := s.client.CallTool(ctx, req)
	if err != nil {
		return nil, err
	}

	var texts []string
	var image string
	for _, content := range result.Content {
		switch c := content.(type) {
		case mcp.TextContent:
			texts = append(texts, c.Text)
		case mcp.ImageContent:
			image = c.Data
		}
	}
	out := strings.Join(texts, "\n")
	if result.IsError {
		if out == "" {
			out = "remote tool reported an error"
		}
		return &ToolResult{Error: out, Base64Image: image}, nil
	}
	if out == "" && image == "" {
		out = "No output returned."
	}
	return &ToolResult{Output: out, Base64Image: image}, nil
}

func (s *mcpSession) Close() error {
	return s.client.Close()
}

// inputSchemaToMap converts the MCP input schema into the generic JSON-schema
// document the registry exports to the model.
func inputSchemaToMap(schema mcp.ToolInputSchema) map[string]any {
	out := map[string]any{"type": schema.Type}
	if schema.Type == "" {
		out["type"] = "object"
	}
	if len(schema.Properties) > 0 {
		out["properties"] = schema.Properties
	}
	if len(schema.Required) > 0 {
		out["required"] = schema.Required
	}
	return out
}
