package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/janhq/jan-core/internal/events"
	"github.com/janhq/jan-core/internal/logging"
)

const clientName = "jan-core"

// Manager maintains connections to the configured MCP servers and exposes
// their aggregated tool catalog. Catalog refreshes are announced on the
// event bus (events.TopicMCPUpdated).
type Manager struct {
	servers map[string]*ServerConfig
	clients map[string]*mcpclient.Client
	tools   []Tool
	bus     *events.Bus
	version string
	mu      sync.RWMutex
}

// NewManager creates a manager for the given server configurations. Only
// enabled servers are connected.
func NewManager(servers []*ServerConfig, bus *events.Bus, version string) *Manager {
	m := &Manager{
		servers: make(map[string]*ServerConfig),
		clients: make(map[string]*mcpclient.Client),
		bus:     bus,
		version: version,
	}
	for _, cfg := range servers {
		m.servers[cfg.Name] = cfg
	}
	return m
}

// ConnectAll connects every enabled server and refreshes the catalog.
// Individual connection failures are logged and skipped; the catalog is
// built from whichever servers came up.
func (m *Manager) ConnectAll(ctx context.Context) error {
	m.mu.RLock()
	var toConnect []*ServerConfig
	for _, cfg := range m.servers {
		if cfg.Enabled {
			toConnect = append(toConnect, cfg)
		}
	}
	m.mu.RUnlock()

	for _, cfg := range toConnect {
		if err := m.Connect(ctx, cfg.Name); err != nil {
			logging.Warn("mcp server connection failed", "server", cfg.Name, "error", err)
		}
	}
	return m.RefreshTools(ctx)
}

// Connect establishes a connection to the named server.
func (m *Manager) Connect(ctx context.Context, name string) error {
	m.mu.RLock()
	cfg, ok := m.servers[name]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("unknown mcp server: %s", name)
	}

	client, err := m.dial(ctx, cfg)
	if err != nil {
		return err
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{Name: clientName, Version: m.version}
	if _, err := client.Initialize(ctx, initReq); err != nil {
		client.Close()
		return fmt.Errorf("failed to initialize mcp server %s: %w", name, err)
	}

	m.mu.Lock()
	if old, ok := m.clients[name]; ok {
		old.Close()
	}
	m.clients[name] = client
	m.mu.Unlock()

	logging.Info("mcp server connected", "server", name, "transport", cfg.Transport)
	return nil
}

func (m *Manager) dial(ctx context.Context, cfg *ServerConfig) (*mcpclient.Client, error) {
	switch cfg.Transport {
	case TransportHTTP:
		client, err := mcpclient.NewStreamableHttpClient(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to create http client for %s: %w", cfg.Name, err)
		}
		if err := client.Start(ctx); err != nil {
			return nil, fmt.Errorf("failed to start http client for %s: %w", cfg.Name, err)
		}
		return client, nil
	case TransportStdio, "":
		env := make([]string, 0, len(cfg.Env))
		for k, v := range cfg.Env {
			env = append(env, k+"="+v)
		}
		client, err := mcpclient.NewStdioMCPClient(cfg.Command, env, cfg.Args...)
		if err != nil {
			return nil, fmt.Errorf("failed to spawn %s: %w", cfg.Name, err)
		}
		return client, nil
	default:
		return nil, fmt.Errorf("unsupported mcp transport: %s", cfg.Transport)
	}
}

// Reload replaces the server set with a new configuration, dropping every
// existing connection and reconnecting the enabled servers.
func (m *Manager) Reload(ctx context.Context, servers []*ServerConfig) error {
	m.Shutdown()

	m.mu.Lock()
	m.servers = make(map[string]*ServerConfig, len(servers))
	for _, cfg := range servers {
		m.servers[cfg.Name] = cfg
	}
	m.mu.Unlock()

	return m.ConnectAll(ctx)
}

// Disconnect closes the connection to the named server.
func (m *Manager) Disconnect(name string) error {
	m.mu.Lock()
	client, ok := m.clients[name]
	delete(m.clients, name)
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("mcp server not connected: %s", name)
	}
	return client.Close()
}

// Shutdown closes all connections and clears the catalog.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for name, client := range m.clients {
		if err := client.Close(); err != nil {
			logging.Warn("mcp server close failed", "server", name, "error", err)
		}
	}
	m.clients = make(map[string]*mcpclient.Client)
	m.tools = nil
}

// Tools returns the cached aggregated catalog.
func (m *Manager) Tools() []Tool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Tool(nil), m.tools...)
}

// RefreshTools rebuilds the catalog from all connected servers and publishes
// an update event.
func (m *Manager) RefreshTools(ctx context.Context) error {
	m.mu.RLock()
	clients := make(map[string]*mcpclient.Client, len(m.clients))
	for name, client := range m.clients {
		clients[name] = client
	}
	m.mu.RUnlock()

	var catalog []Tool
	for name, client := range clients {
		res, err := client.ListTools(ctx, mcp.ListToolsRequest{})
		if err != nil {
			logging.Warn("mcp tool listing failed", "server", name, "error", err)
			continue
		}
		for _, tool := range res.Tools {
			schema, err := schemaToMap(tool.InputSchema)
			if err != nil {
				logging.Warn("mcp tool schema unreadable", "server", name, "tool", tool.Name, "error", err)
				continue
			}
			catalog = append(catalog, Tool{
				Name:        tool.Name,
				Description: tool.Description,
				InputSchema: schema,
				Server:      name,
			})
		}
	}

	m.mu.Lock()
	m.tools = catalog
	m.mu.Unlock()

	if m.bus != nil {
		m.bus.Publish(events.TopicMCPUpdated, len(catalog))
	}
	logging.Debug("mcp catalog refreshed", "tools", len(catalog))
	return nil
}

// CallTool executes a named tool and returns its textual result. A result
// the server flags as an error is returned as a non-nil error carrying the
// result text.
func (m *Manager) CallTool(ctx context.Context, name string, args map[string]any) (string, error) {
	m.mu.RLock()
	var client *mcpclient.Client
	for _, tool := range m.tools {
		if tool.Name == name {
			client = m.clients[tool.Server]
			break
		}
	}
	m.mu.RUnlock()

	if client == nil {
		return "", fmt.Errorf("unknown tool: %s", name)
	}

	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args

	res, err := client.CallTool(ctx, req)
	if err != nil {
		return "", fmt.Errorf("tool %s failed: %w", name, err)
	}

	var sb strings.Builder
	for _, content := range res.Content {
		if text, ok := mcp.AsTextContent(content); ok {
			sb.WriteString(text.Text)
		}
	}
	if res.IsError {
		return "", fmt.Errorf("tool %s returned an error: %s", name, sb.String())
	}
	return sb.String(), nil
}

func schemaToMap(schema mcp.ToolInputSchema) (map[string]any, error) {
	data, err := json.Marshal(schema)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
