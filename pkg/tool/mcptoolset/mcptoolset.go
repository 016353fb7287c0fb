// Package mcptoolset exposes tools from an MCP server subprocess.
//
// Each configured adapter spawns one child process per run, speaks MCP
// over its stdio, and surfaces the server's tools under names prefixed
// with "mcp_<id>_". The child is killed when the toolset is closed at
// run end.
package mcptoolset

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/autoagent/autoagent/pkg/tool"
	"github.com/autoagent/autoagent/pkg/version"
)

const (
	// requestTimeout bounds every request to the child process.
	requestTimeout = 15 * time.Second

	protocolVersion = "2024-11-05"
)

// Config configures one MCP adapter.
type Config struct {
	// ID names the adapter and prefixes its tool names.
	ID string

	// Command is the executable to spawn.
	Command string

	// Args are passed to the command.
	Args []string

	// Env is extra environment for the child, as KEY=VALUE pairs on
	// top of the parent environment.
	Env map[string]string

	// Filter, when non-empty, limits which server tools are exposed.
	Filter []string
}

// Toolset manages one MCP server subprocess and its tools.
type Toolset struct {
	cfg       Config
	filterSet map[string]bool

	mu        sync.Mutex
	client    *client.Client
	tools     []tool.CallableTool
	connected bool
}

// New creates an MCP toolset. The subprocess is spawned lazily on the
// first Tools call.
func New(cfg Config) (*Toolset, error) {
	if cfg.ID == "" {
		return nil, fmt.Errorf("adapter id is required")
	}
	if cfg.Command == "" {
		return nil, fmt.Errorf("adapter command is required")
	}

	var filterSet map[string]bool
	if len(cfg.Filter) > 0 {
		filterSet = make(map[string]bool, len(cfg.Filter))
		for _, name := range cfg.Filter {
			filterSet[name] = true
		}
	}

	return &Toolset{cfg: cfg, filterSet: filterSet}, nil
}

// ID returns the adapter id.
func (t *Toolset) ID() string {
	return t.cfg.ID
}

// Tools returns the adapter's tools, spawning and initializing the
// subprocess on first use.
func (t *Toolset) Tools(ctx context.Context) ([]tool.CallableTool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.connected {
		if err := t.connect(ctx); err != nil {
			return nil, fmt.Errorf("mcp adapter %s: %w", t.cfg.ID, err)
		}
	}
	return t.tools, nil
}

func (t *Toolset) connect(ctx context.Context) error {
	mcpClient, err := client.NewStdioMCPClient(t.cfg.Command, flattenEnv(t.cfg.Env), t.cfg.Args...)
	if err != nil {
		return fmt.Errorf("failed to spawn: %w", err)
	}

	initCtx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	if err := mcpClient.Start(initCtx); err != nil {
		mcpClient.Close()
		return fmt.Errorf("failed to start: %w", err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = protocolVersion
	initReq.Params.ClientInfo = mcp.Implementation{
		Name:    "autoagent",
		Version: version.Version,
	}
	if _, err := mcpClient.Initialize(initCtx, initReq); err != nil {
		mcpClient.Close()
		return fmt.Errorf("initialize failed: %w", err)
	}

	listResp, err := mcpClient.ListTools(initCtx, mcp.ListToolsRequest{})
	if err != nil {
		mcpClient.Close()
		return fmt.Errorf("tool listing failed: %w", err)
	}

	var tools []tool.CallableTool
	for _, serverTool := range listResp.Tools {
		if t.filterSet != nil && !t.filterSet[serverTool.Name] {
			continue
		}
		tools = append(tools, &mcpTool{
			toolset:    t,
			serverName: serverTool.Name,
			name:       ToolName(t.cfg.ID, serverTool.Name),
			desc:       serverTool.Description,
			schema:     convertSchema(serverTool.InputSchema),
		})
	}

	t.client = mcpClient
	t.tools = tools
	t.connected = true

	slog.Info("Connected to MCP server",
		"adapter", t.cfg.ID,
		"command", t.cfg.Command,
		"tools", len(tools))
	return nil
}

// Close kills the subprocess. Pending requests fail with the transport
// error from the closed pipes.
func (t *Toolset) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.client == nil {
		return nil
	}
	err := t.client.Close()
	t.client = nil
	t.tools = nil
	t.connected = false
	return err
}

// ToolName builds the exposed name for a server tool.
func ToolName(adapterID, serverTool string) string {
	return "mcp_" + adapterID + "_" + serverTool
}

// IsMCPTool reports whether a tool name routes to an MCP adapter.
func IsMCPTool(name string) bool {
	return strings.HasPrefix(name, "mcp_")
}

// mcpTool proxies one server tool.
type mcpTool struct {
	toolset    *Toolset
	serverName string
	name       string
	desc       string
	schema     map[string]any
}

func (m *mcpTool) Name() string        { return m.name }
func (m *mcpTool) Description() string { return m.desc }

func (m *mcpTool) Schema() map[string]any {
	if m.schema == nil {
		return map[string]any{"type": "object"}
	}
	return m.schema
}

func (m *mcpTool) Call(ctx context.Context, args map[string]any) (string, error) {
	m.toolset.mu.Lock()
	mcpClient := m.toolset.client
	m.toolset.mu.Unlock()

	if mcpClient == nil {
		return "", fmt.Errorf("mcp adapter %s is not connected", m.toolset.cfg.ID)
	}

	callCtx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	req := mcp.CallToolRequest{}
	req.Params.Name = m.serverName
	req.Params.Arguments = args

	resp, err := mcpClient.CallTool(callCtx, req)
	if err != nil {
		return "", fmt.Errorf("mcp call %s failed: %w", m.serverName, err)
	}

	text := collectText(resp.Content)
	if resp.IsError {
		if text == "" {
			text = "unknown error"
		}
		return "", fmt.Errorf("mcp tool %s: %s", m.serverName, text)
	}
	return text, nil
}

// collectText joins the text content blocks of an MCP result.
func collectText(content []mcp.Content) string {
	var texts []string
	for _, block := range content {
		if textBlock, ok := block.(mcp.TextContent); ok {
			texts = append(texts, textBlock.Text)
		}
	}
	return strings.Join(texts, "\n")
}

// convertSchema flattens the server-provided schema through a JSON
// roundtrip.
func convertSchema(schema mcp.ToolInputSchema) map[string]any {
	data, err := json.Marshal(schema)
	if err != nil {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil
	}
	return m
}

// flattenEnv renders an env map as KEY=VALUE pairs.
func flattenEnv(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	pairs := make([]string, 0, len(env))
	for k, v := range env {
		pairs = append(pairs, k+"="+v)
	}
	return pairs
}

var _ tool.CallableTool = (*mcpTool)(nil)
