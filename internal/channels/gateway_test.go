package channels

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/itak-ai/itak/internal/agent"
	"github.com/itak-ai/itak/internal/guard"
	"github.com/itak-ai/itak/internal/tools"
	"github.com/itak-ai/itak/pkg/models"
)

type fakeAdapter struct {
	name  models.ChannelType
	limit int

	mu    sync.Mutex
	sends []string
}

func (f *fakeAdapter) Name() models.ChannelType { return f.name }
func (f *fakeAdapter) MaxMessageLength() int    { return f.limit }
func (f *fakeAdapter) Start(context.Context, Handler) error {
	return nil
}
func (f *fakeAdapter) Stop() error { return nil }
func (f *fakeAdapter) Send(_ context.Context, _, text string) error {
	f.mu.Lock()
	f.sends = append(f.sends, text)
	f.mu.Unlock()
	return nil
}

func (f *fakeAdapter) sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sends...)
}

// routerFunc scripts the model side of the engine.
type routerFunc func(ctx context.Context, messages []models.Message, stream agent.StreamCallback) (string, error)

func (f routerFunc) Chat(ctx context.Context, messages []models.Message, stream agent.StreamCallback) (string, error) {
	return f(ctx, messages, stream)
}

type replyTool struct{}

func (replyTool) Name() string        { return "response" }
func (replyTool) Description() string { return "Deliver the final answer." }
func (replyTool) Execute(_ context.Context, args map[string]any) *models.ToolResult {
	text, _ := args["text"].(string)
	return &models.ToolResult{Output: text, BreakLoop: true}
}

func newTestGateway(t *testing.T, router agent.ModelRouter) (*Gateway, *fakeAdapter) {
	t.Helper()
	registry := tools.NewRegistry(nil, nil, nil)
	registry.Register(replyTool{})
	engine := agent.NewEngine(agent.Config{MaxIterations: 5}, agent.Deps{
		Router:   router,
		Registry: registry,
	})
	gw := NewGateway(guard.New(nil, nil), engine, nil, nil, nil)
	adapter := &fakeAdapter{name: models.ChannelCLI}
	gw.Register(adapter)
	return gw, adapter
}

func inbound(content string) *models.InboundMessage {
	return &models.InboundMessage{
		ID:        "m1",
		Channel:   models.ChannelCLI,
		RoomID:    "room",
		UserID:    "user",
		Content:   content,
		CreatedAt: time.Now(),
	}
}

func TestHandleRunsAndDelivers(t *testing.T) {
	router := routerFunc(func(context.Context, []models.Message, agent.StreamCallback) (string, error) {
		return `{"tool_name": "response", "tool_args": {"text": "hi there"}}`, nil
	})
	gw, adapter := newTestGateway(t, router)

	gw.Handle(context.Background(), inbound("hello"))

	sends := adapter.sent()
	if len(sends) != 1 || sends[0] != "hi there" {
		t.Fatalf("sends = %v", sends)
	}
}

func TestHandleMidRunBecomesIntervention(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	var once sync.Once
	router := routerFunc(func(_ context.Context, messages []models.Message, _ agent.StreamCallback) (string, error) {
		once.Do(func() {
			close(started)
			<-release
		})
		for _, msg := range messages {
			if strings.HasPrefix(msg.Content, "[INTERVENTION] ") {
				return `{"tool_name": "response", "tool_args": {"text": "redirected"}}`, nil
			}
		}
		return `{"tool_name": "noop", "tool_args": {}}`, nil
	})
	gw, adapter := newTestGateway(t, router)

	done := make(chan struct{})
	go func() {
		gw.Handle(context.Background(), inbound("start a task"))
		close(done)
	}()

	<-started
	gw.Handle(context.Background(), inbound("actually do something else"))
	close(release)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("run did not finish")
	}

	sends := adapter.sent()
	if len(sends) != 1 || sends[0] != "redirected" {
		t.Fatalf("sends = %v", sends)
	}

	history := gw.Context(models.ChannelCLI, "room").History()
	found := false
	for _, msg := range history {
		if msg.Content == "[INTERVENTION] actually do something else" {
			found = true
		}
	}
	if !found {
		t.Error("intervention missing from history")
	}
}

func TestDeliverChunksToAdapterLimit(t *testing.T) {
	gw, adapter := newTestGateway(t, nil)
	adapter.limit = 40

	text := strings.Repeat("alpha beta gamma ", 10)
	if err := gw.Deliver(context.Background(), models.ChannelCLI, "room", text); err != nil {
		t.Fatal(err)
	}
	sends := adapter.sent()
	if len(sends) < 2 {
		t.Fatalf("sends = %d, want chunked", len(sends))
	}
	for i, chunk := range sends {
		if len(chunk) > 40 {
			t.Errorf("chunk %d is %d chars", i, len(chunk))
		}
	}
}

func TestDeliverRedactsSecrets(t *testing.T) {
	gw, adapter := newTestGateway(t, nil)

	text := "the key is sk-abcdefghijklmnopqrstuvwxyz123456"
	if err := gw.Deliver(context.Background(), models.ChannelCLI, "room", text); err != nil {
		t.Fatal(err)
	}
	sends := adapter.sent()
	if len(sends) != 1 {
		t.Fatalf("sends = %v", sends)
	}
	if strings.Contains(sends[0], "sk-abcdef") {
		t.Errorf("secret leaked: %q", sends[0])
	}
	if !strings.Contains(sends[0], "[OPENAI_KEY_REDACTED]") {
		t.Errorf("placeholder missing: %q", sends[0])
	}
}

func TestNotifyRoutesToRoomChannel(t *testing.T) {
	gw, adapter := newTestGateway(t, nil)
	gw.Context(models.ChannelCLI, "room")

	gw.Notify(context.Background(), "room", "Searching the web")
	sends := adapter.sent()
	if len(sends) != 1 || sends[0] != "Searching the web" {
		t.Fatalf("sends = %v", sends)
	}
}

func TestNotifyUnknownRoomDropped(t *testing.T) {
	gw, adapter := newTestGateway(t, nil)
	gw.Notify(context.Background(), "nowhere", "status")
	if sends := adapter.sent(); len(sends) != 0 {
		t.Fatalf("sends = %v", sends)
	}
}

func TestDeliverUnknownChannel(t *testing.T) {
	gw, _ := newTestGateway(t, nil)
	if err := gw.Deliver(context.Background(), models.ChannelSlack, "room", "hi"); err == nil {
		t.Fatal("expected error for unregistered channel")
	}
}
