// Package mcp manages stdio-framed JSON-RPC subprocesses that expose
// external tools via the Model Context Protocol.
package mcp

import "encoding/json"

// protocolVersion is the MCP revision sent during the init handshake.
const protocolVersion = "2024-11-05"

const (
	defaultInitTimeoutS = 30
	defaultToolTimeoutS = 120
)

// ServerConfig describes one MCP server subprocess.
type ServerConfig struct {
	Name         string            `yaml:"name" json:"name"`
	Command      string            `yaml:"command" json:"command"`
	Args         []string          `yaml:"args" json:"args"`
	Env          map[string]string `yaml:"env" json:"env"`
	InitTimeoutS int               `yaml:"init_timeout_s" json:"init_timeout_s"`
	ToolTimeoutS int               `yaml:"tool_timeout_s" json:"tool_timeout_s"`
}

func (c *ServerConfig) initTimeoutS() int {
	if c.InitTimeoutS > 0 {
		return c.InitTimeoutS
	}
	return defaultInitTimeoutS
}

func (c *ServerConfig) toolTimeoutS() int {
	if c.ToolTimeoutS > 0 {
		return c.ToolTimeoutS
	}
	return defaultToolTimeoutS
}

// Tool is one tool discovered from a server's tools/list response.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
	ServerName  string          `json:"server_name"`
}

// request is an outbound JSON-RPC 2.0 message. Notifications carry no ID.
type request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      *int64 `json:"id,omitempty"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// response is an inbound JSON-RPC 2.0 message.
type response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *int64          `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

type initializeParams struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    map[string]any `json:"capabilities"`
	ClientInfo      clientInfo     `json:"clientInfo"`
}

type clientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type toolsListResult struct {
	Tools []Tool `json:"tools"`
}

type toolCallParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// toolCallResult is the shape of a tools/call result; content entries of
// type "text" are concatenated into the observation string.
type toolCallResult struct {
	Content []contentBlock `json:"content"`
	IsError bool           `json:"isError"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}
