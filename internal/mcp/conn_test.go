package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type wireRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *int64          `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

// fakeServer speaks the line-framed protocol over in-process pipes. The
// handler returns nil to swallow a request (used to provoke timeouts).
func fakeServer(t *testing.T, config ServerConfig, handler func(req wireRequest) *response) *Connection {
	t.Helper()
	clientReads, serverWrites := io.Pipe()
	serverReads, clientWrites := io.Pipe()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	conn := newConnection(config, clientWrites, clientReads, logger)

	// Requests are handled concurrently so the test observes whatever
	// parallelism the client actually allows.
	var writeMu sync.Mutex
	go func() {
		scanner := bufio.NewScanner(serverReads)
		scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
		for scanner.Scan() {
			var req wireRequest
			if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
				continue
			}
			if req.ID == nil {
				continue
			}
			go func(req wireRequest) {
				resp := handler(req)
				if resp == nil {
					return
				}
				resp.JSONRPC = "2.0"
				resp.ID = req.ID
				data, _ := json.Marshal(resp)
				writeMu.Lock()
				serverWrites.Write(append(data, '\n'))
				writeMu.Unlock()
			}(req)
		}
	}()

	t.Cleanup(func() { clientWrites.Close() })
	return conn
}

func defaultHandler(tools []Tool) func(req wireRequest) *response {
	return func(req wireRequest) *response {
		switch req.Method {
		case "initialize":
			return &response{Result: json.RawMessage(`{"protocolVersion":"2024-11-05"}`)}
		case "tools/list":
			data, _ := json.Marshal(toolsListResult{Tools: tools})
			return &response{Result: data}
		default:
			return &response{Error: &rpcError{Code: -32601, Message: "method not found"}}
		}
	}
}

func TestHandshakeDiscoversTools(t *testing.T) {
	tools := []Tool{
		{Name: "fetch", Description: "fetch a URL", InputSchema: json.RawMessage(`{"type":"object"}`)},
		{Name: "search", Description: "search the web"},
	}
	conn := fakeServer(t, ServerConfig{Name: "web"}, defaultHandler(tools))

	if err := conn.handshake(context.Background()); err != nil {
		t.Fatalf("handshake: %v", err)
	}
	if !conn.Initialized() {
		t.Fatal("connection not initialized after handshake")
	}
	got := conn.Tools()
	if len(got) != 2 {
		t.Fatalf("tools = %d, want 2", len(got))
	}
	for _, tool := range got {
		if tool.ServerName != "web" {
			t.Errorf("tool %s server = %q, want web", tool.Name, tool.ServerName)
		}
	}
}

func TestHandshakeFailureLeavesConnUnusable(t *testing.T) {
	conn := fakeServer(t, ServerConfig{Name: "bad", InitTimeoutS: 1}, func(req wireRequest) *response {
		if req.Method == "initialize" {
			return &response{Error: &rpcError{Code: -32000, Message: "nope"}}
		}
		return nil
	})

	if err := conn.handshake(context.Background()); err == nil {
		t.Fatal("expected handshake error")
	}
	if conn.Initialized() {
		t.Fatal("failed handshake must not mark connection initialized")
	}
	out := conn.CallTool(context.Background(), "fetch", nil)
	if out != `{"error":"MCP server 'bad' is not connected"}` {
		t.Errorf("CallTool on dead conn = %q", out)
	}
}

func TestCallToolRendersTextContent(t *testing.T) {
	handler := func(req wireRequest) *response {
		if req.Method == "tools/call" {
			result, _ := json.Marshal(toolCallResult{Content: []contentBlock{
				{Type: "text", Text: "line one"},
				{Type: "text", Text: "line two"},
			}})
			return &response{Result: result}
		}
		return defaultHandler([]Tool{{Name: "fetch"}})(req)
	}
	conn := fakeServer(t, ServerConfig{Name: "web"}, handler)
	if err := conn.handshake(context.Background()); err != nil {
		t.Fatalf("handshake: %v", err)
	}

	out := conn.CallTool(context.Background(), "fetch", map[string]any{"url": "https://example.com"})
	if out != "line one\nline two" {
		t.Errorf("CallTool = %q", out)
	}
}

func TestCallToolTimeout(t *testing.T) {
	handler := func(req wireRequest) *response {
		if req.Method == "tools/call" {
			return nil
		}
		return defaultHandler([]Tool{{Name: "slow"}})(req)
	}
	conn := fakeServer(t, ServerConfig{Name: "web", ToolTimeoutS: 1}, handler)
	if err := conn.handshake(context.Background()); err != nil {
		t.Fatalf("handshake: %v", err)
	}

	start := time.Now()
	out := conn.CallTool(context.Background(), "slow", nil)
	elapsed := time.Since(start)

	if out != `{"error":"Tool call timed out after 1s"}` {
		t.Errorf("CallTool = %q", out)
	}
	if elapsed < 900*time.Millisecond || elapsed > 2*time.Second {
		t.Errorf("timeout took %v, want about 1s", elapsed)
	}
}

func TestAtMostOneInFlight(t *testing.T) {
	var inFlight, maxInFlight atomic.Int64
	handler := func(req wireRequest) *response {
		if req.Method == "tools/call" {
			n := inFlight.Add(1)
			if n > maxInFlight.Load() {
				maxInFlight.Store(n)
			}
			time.Sleep(20 * time.Millisecond)
			inFlight.Add(-1)
			result, _ := json.Marshal(toolCallResult{Content: []contentBlock{{Type: "text", Text: "ok"}}})
			return &response{Result: result}
		}
		return defaultHandler([]Tool{{Name: "t"}})(req)
	}
	conn := fakeServer(t, ServerConfig{Name: "web"}, handler)
	if err := conn.handshake(context.Background()); err != nil {
		t.Fatalf("handshake: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			conn.CallTool(context.Background(), "t", nil)
		}()
	}
	wg.Wait()

	if maxInFlight.Load() > 1 {
		t.Errorf("max in-flight = %d, want 1", maxInFlight.Load())
	}
}

func TestManagerFindTool(t *testing.T) {
	web := fakeServer(t, ServerConfig{Name: "web"}, defaultHandler([]Tool{{Name: "fetch"}}))
	files := fakeServer(t, ServerConfig{Name: "files"}, defaultHandler([]Tool{{Name: "read"}}))
	for _, conn := range []*Connection{web, files} {
		if err := conn.handshake(context.Background()); err != nil {
			t.Fatalf("handshake: %v", err)
		}
	}

	m := NewManager(nil, nil, nil)
	m.add(web)
	m.add(files)

	if server, tool, ok := m.FindTool("web::fetch"); !ok || server != "web" || tool != "fetch" {
		t.Errorf("FindTool(web::fetch) = %s, %s, %v", server, tool, ok)
	}
	if server, tool, ok := m.FindTool("read"); !ok || server != "files" || tool != "read" {
		t.Errorf("FindTool(read) = %s, %s, %v", server, tool, ok)
	}
	if _, _, ok := m.FindTool("web::read"); ok {
		t.Error("FindTool(web::read) should miss: read lives on files")
	}
	if _, _, ok := m.FindTool("absent"); ok {
		t.Error("FindTool(absent) should miss")
	}
}

func TestManagerValidatesArgs(t *testing.T) {
	schema := json.RawMessage(`{"type":"object","properties":{"url":{"type":"string"}},"required":["url"]}`)
	handler := func(req wireRequest) *response {
		if req.Method == "tools/call" {
			result, _ := json.Marshal(toolCallResult{Content: []contentBlock{{Type: "text", Text: "ok"}}})
			return &response{Result: result}
		}
		return defaultHandler([]Tool{{Name: "fetch", InputSchema: schema}})(req)
	}
	conn := fakeServer(t, ServerConfig{Name: "web"}, handler)
	if err := conn.handshake(context.Background()); err != nil {
		t.Fatalf("handshake: %v", err)
	}

	m := NewManager(nil, nil, nil)
	m.add(conn)

	out := m.CallTool(context.Background(), "web", "fetch", map[string]any{})
	if out == "ok" {
		t.Error("missing required arg should fail validation")
	}
	out = m.CallTool(context.Background(), "web", "fetch", map[string]any{"url": "https://example.com"})
	if out != "ok" {
		t.Errorf("valid args rejected: %q", out)
	}
}
