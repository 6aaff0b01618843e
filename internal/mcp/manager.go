package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/itak-ai/itak/internal/metrics"
	"github.com/itak-ai/itak/internal/secrets"
)

// toolSeparator joins a server name and tool name into a qualified name.
const toolSeparator = "::"

// Manager owns all MCP connections and routes tool calls to them.
// Different servers run their calls in parallel; calls to one server are
// serialized by its connection.
type Manager struct {
	logger  *slog.Logger
	secrets *secrets.Manager
	metrics *metrics.Metrics

	mu      sync.RWMutex
	conns   map[string]*Connection
	schemas map[string]*jsonschema.Schema
}

// NewManager creates an empty manager. secrets may be nil; server env
// values are then used verbatim.
func NewManager(sec *secrets.Manager, m *metrics.Metrics, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		logger:  logger.With("component", "mcp"),
		secrets: sec,
		metrics: m,
		conns:   make(map[string]*Connection),
		schemas: make(map[string]*jsonschema.Schema),
	}
}

// ConnectAll dials every configured server. A server that fails to
// connect is logged and skipped; the agent runs with the tools that did
// come up.
func (m *Manager) ConnectAll(ctx context.Context, configs []ServerConfig) {
	for _, config := range configs {
		if config.Name == "" || config.Command == "" {
			m.logger.Warn("skipping mcp server with empty name or command")
			continue
		}
		if m.secrets != nil {
			config.Env = m.secrets.SubstituteMap(config.Env)
		}
		conn, err := Dial(ctx, config, m.logger)
		if err != nil {
			m.logger.Error("mcp server failed to connect", "server", config.Name, "error", err)
			continue
		}
		m.mu.Lock()
		if old, ok := m.conns[config.Name]; ok {
			old.Close()
		}
		m.conns[config.Name] = conn
		m.mu.Unlock()
	}
}

// add registers an already-built connection. Used by tests.
func (m *Manager) add(conn *Connection) {
	m.mu.Lock()
	m.conns[conn.Name()] = conn
	m.mu.Unlock()
}

// Tools returns every tool discovered across all connected servers.
func (m *Manager) Tools() []Tool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Tool
	for _, conn := range m.conns {
		out = append(out, conn.Tools()...)
	}
	return out
}

// FindTool resolves a name to a server and tool. Qualified names use
// "server::tool"; a bare name matches the first server exposing it.
func (m *Manager) FindTool(name string) (server, tool string, ok bool) {
	if s, t, found := strings.Cut(name, toolSeparator); found {
		m.mu.RLock()
		conn, exists := m.conns[s]
		m.mu.RUnlock()
		if !exists {
			return "", "", false
		}
		for _, discovered := range conn.Tools() {
			if discovered.Name == t {
				return s, t, true
			}
		}
		return "", "", false
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	for serverName, conn := range m.conns {
		for _, discovered := range conn.Tools() {
			if discovered.Name == name {
				return serverName, name, true
			}
		}
	}
	return "", "", false
}

// CallTool validates args against the tool's input schema and invokes it.
// All failures are rendered as JSON error observations, never Go errors,
// so the monologue loop can continue.
func (m *Manager) CallTool(ctx context.Context, server, tool string, args map[string]any) string {
	m.mu.RLock()
	conn, ok := m.conns[server]
	m.mu.RUnlock()
	if !ok {
		return fmt.Sprintf(`{"error":"MCP server '%s' is not connected"}`, server)
	}

	if err := m.validateArgs(conn, tool, args); err != nil {
		m.countCall(server, "error")
		return marshalError(fmt.Sprintf("invalid arguments for %s%s%s: %s", server, toolSeparator, tool, err))
	}

	out := conn.CallTool(ctx, tool, args)
	switch {
	case strings.Contains(out, "timed out after"):
		m.countCall(server, "timeout")
	case strings.HasPrefix(out, `{"error"`):
		m.countCall(server, "error")
	default:
		m.countCall(server, "success")
	}
	return out
}

// validateArgs checks args against the discovered input schema. Schemas
// are compiled once per server::tool and cached. Tools without a schema
// accept anything.
func (m *Manager) validateArgs(conn *Connection, tool string, args map[string]any) error {
	var raw []byte
	for _, t := range conn.Tools() {
		if t.Name == tool {
			raw = t.InputSchema
			break
		}
	}
	if len(raw) == 0 {
		return nil
	}

	key := conn.Name() + toolSeparator + tool
	m.mu.Lock()
	schema, ok := m.schemas[key]
	m.mu.Unlock()
	if !ok {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(key, strings.NewReader(string(raw))); err != nil {
			return nil
		}
		compiled, err := compiler.Compile(key)
		if err != nil {
			// Treat an uncompilable schema as absent rather than
			// blocking the tool.
			m.logger.Warn("uncompilable tool schema", "tool", key, "error", err)
			return nil
		}
		schema = compiled
		m.mu.Lock()
		m.schemas[key] = schema
		m.mu.Unlock()
	}

	// Round-trip through JSON so numeric types match what the schema
	// library expects.
	data, err := json.Marshal(args)
	if err != nil {
		return nil
	}
	var normalized any
	if err := json.Unmarshal(data, &normalized); err != nil {
		return nil
	}
	return schema.Validate(normalized)
}

// Close tears down every connection.
func (m *Manager) Close() {
	m.mu.Lock()
	conns := make([]*Connection, 0, len(m.conns))
	for _, conn := range m.conns {
		conns = append(conns, conn)
	}
	m.conns = make(map[string]*Connection)
	m.mu.Unlock()

	for _, conn := range conns {
		conn.Close()
	}
}

func (m *Manager) countCall(server, status string) {
	if m.metrics != nil {
		m.metrics.MCPCalls.WithLabelValues(server, status).Inc()
	}
}
