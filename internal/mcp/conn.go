package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"
)

// shutdownGrace is how long a child gets to exit after SIGTERM before it
// is killed.
const shutdownGrace = 5 * time.Second

// maxLineBytes bounds a single framed message from the child.
const maxLineBytes = 4 << 20

var errConnClosed = errors.New("mcp: connection closed")

// Connection is one MCP server subprocess with its discovered tools.
// Requests on a connection are serialized: at most one is in flight.
type Connection struct {
	name   string
	config ServerConfig
	logger *slog.Logger

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	waitCh chan error

	// callMu serializes request/response exchanges on this connection.
	callMu sync.Mutex

	mu          sync.Mutex
	nextID      int64
	pending     map[int64]chan *response
	initialized bool
	closed      bool
	tools       []Tool
}

// Dial spawns the configured server, runs the init handshake, and
// discovers its tools. The env map is merged over the parent environment;
// secret references must already be resolved by the caller. On any
// handshake failure the child is torn down and an error returned.
func Dial(ctx context.Context, config ServerConfig, logger *slog.Logger) (*Connection, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cmd := exec.Command(config.Command, config.Args...)
	cmd.Env = os.Environ()
	for k, v := range config.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("mcp %s: stdin pipe: %w", config.Name, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("mcp %s: stdout pipe: %w", config.Name, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("mcp %s: stderr pipe: %w", config.Name, err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("mcp %s: start %s: %w", config.Name, config.Command, err)
	}

	conn := newConnection(config, stdin, stdout, logger)
	conn.cmd = cmd
	conn.waitCh = make(chan error, 1)
	go func() { conn.waitCh <- cmd.Wait() }()
	go conn.drainStderr(stderr)

	if err := conn.handshake(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

// newConnection wires a connection over raw streams and starts the read
// loop. Dial uses it with subprocess pipes; tests use it with io.Pipe.
func newConnection(config ServerConfig, stdin io.WriteCloser, stdout io.Reader, logger *slog.Logger) *Connection {
	conn := &Connection{
		name:    config.Name,
		config:  config,
		logger:  logger.With("component", "mcp", "server", config.Name),
		stdin:   stdin,
		pending: make(map[int64]chan *response),
	}
	go conn.readLoop(stdout)
	return conn
}

// Name returns the configured server name.
func (c *Connection) Name() string { return c.name }

// Initialized reports whether the handshake and tool discovery completed.
func (c *Connection) Initialized() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.initialized
}

// Tools returns the tools discovered at init.
func (c *Connection) Tools() []Tool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Tool(nil), c.tools...)
}

// handshake performs initialize, the initialized notification, and
// tools/list, then marks the connection usable.
func (c *Connection) handshake(ctx context.Context) error {
	initCtx, cancel := context.WithTimeout(ctx, time.Duration(c.config.initTimeoutS())*time.Second)
	defer cancel()

	resp, err := c.call(initCtx, "initialize", initializeParams{
		ProtocolVersion: protocolVersion,
		Capabilities:    map[string]any{},
		ClientInfo:      clientInfo{Name: "itak", Version: "1.0.0"},
	})
	if err != nil {
		return fmt.Errorf("mcp %s: initialize: %w", c.name, err)
	}
	if resp.Error != nil {
		return fmt.Errorf("mcp %s: initialize: %s", c.name, resp.Error.Message)
	}

	if err := c.notify("notifications/initialized", nil); err != nil {
		return fmt.Errorf("mcp %s: initialized notification: %w", c.name, err)
	}

	resp, err = c.call(initCtx, "tools/list", nil)
	if err != nil {
		return fmt.Errorf("mcp %s: tools/list: %w", c.name, err)
	}
	if resp.Error != nil {
		return fmt.Errorf("mcp %s: tools/list: %s", c.name, resp.Error.Message)
	}
	var listed toolsListResult
	if err := json.Unmarshal(resp.Result, &listed); err != nil {
		return fmt.Errorf("mcp %s: parse tools/list: %w", c.name, err)
	}
	for i := range listed.Tools {
		listed.Tools[i].ServerName = c.name
	}

	c.mu.Lock()
	c.tools = listed.Tools
	c.initialized = true
	c.mu.Unlock()

	c.logger.Info("mcp server initialized", "tools", len(listed.Tools))
	return nil
}

// CallTool invokes a tool and renders the result as an observation
// string. Failures come back as a JSON error object rather than a Go
// error so the loop can feed them to the model as observations.
func (c *Connection) CallTool(ctx context.Context, name string, args map[string]any) string {
	if !c.Initialized() {
		return fmt.Sprintf(`{"error":"MCP server '%s' is not connected"}`, c.name)
	}

	timeoutS := c.config.toolTimeoutS()
	callCtx, cancel := context.WithTimeout(ctx, time.Duration(timeoutS)*time.Second)
	defer cancel()

	resp, err := c.call(callCtx, "tools/call", toolCallParams{Name: name, Arguments: args})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return fmt.Sprintf(`{"error":"Tool call timed out after %ds"}`, timeoutS)
		}
		return marshalError(err.Error())
	}
	if resp.Error != nil {
		return marshalError(resp.Error.Message)
	}

	var result toolCallResult
	if err := json.Unmarshal(resp.Result, &result); err != nil || len(result.Content) == 0 {
		return string(resp.Result)
	}
	var parts []string
	for _, block := range result.Content {
		if block.Type == "text" {
			parts = append(parts, block.Text)
		}
	}
	out := strings.Join(parts, "\n")
	if result.IsError {
		return marshalError(out)
	}
	return out
}

// call sends one request and waits for its response. callMu guarantees
// at most one outstanding request per connection.
func (c *Connection) call(ctx context.Context, method string, params any) (*response, error) {
	c.callMu.Lock()
	defer c.callMu.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, errConnClosed
	}
	c.nextID++
	id := c.nextID
	ch := make(chan *response, 1)
	c.pending[id] = ch
	c.mu.Unlock()

	if err := c.send(request{JSONRPC: "2.0", ID: &id, Method: method, Params: params}); err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, err
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, errConnClosed
		}
		return resp, nil
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, ctx.Err()
	}
}

// notify sends a request without an id; no response is expected.
func (c *Connection) notify(method string, params any) error {
	return c.send(request{JSONRPC: "2.0", Method: method, Params: params})
}

func (c *Connection) send(req request) error {
	data, err := json.Marshal(req)
	if err != nil {
		return err
	}
	_, err = c.stdin.Write(append(data, '\n'))
	return err
}

// readLoop delivers LF-framed responses to their waiting callers.
// Messages without an id are server notifications and are logged only.
func (c *Connection) readLoop(stdout io.Reader) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var resp response
		if err := json.Unmarshal(line, &resp); err != nil {
			c.logger.Warn("unparseable message from server", "error", err)
			continue
		}
		if resp.ID == nil {
			c.logger.Debug("server notification")
			continue
		}
		c.mu.Lock()
		ch, ok := c.pending[*resp.ID]
		if ok {
			delete(c.pending, *resp.ID)
		}
		c.mu.Unlock()
		if ok {
			ch <- &resp
		}
	}

	c.mu.Lock()
	c.closed = true
	c.initialized = false
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
	c.mu.Unlock()
}

func (c *Connection) drainStderr(stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		c.logger.Debug("server stderr", "line", scanner.Text())
	}
}

// Close tears the connection down: close stdin, send SIGTERM, wait up to
// the grace period, kill if the child is still alive.
func (c *Connection) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		if c.cmd != nil && c.waitCh != nil {
			select {
			case <-c.waitCh:
			default:
			}
		}
		return nil
	}
	c.initialized = false
	c.mu.Unlock()

	c.stdin.Close()
	if c.cmd == nil || c.cmd.Process == nil {
		return nil
	}

	c.cmd.Process.Signal(syscall.SIGTERM)
	select {
	case <-c.waitCh:
	case <-time.After(shutdownGrace):
		c.logger.Warn("server did not exit, killing")
		c.cmd.Process.Kill()
		<-c.waitCh
	}
	return nil
}

func marshalError(message string) string {
	data, err := json.Marshal(map[string]string{"error": message})
	if err != nil {
		return `{"error":"internal error"}`
	}
	return string(data)
}
