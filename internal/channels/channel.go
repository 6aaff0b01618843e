// Package channels connects transport adapters to the agent engine:
// inbound sanitization, per-room conversation state, outbound redaction
// and chunking.
package channels

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/itak-ai/itak/internal/agent"
	"github.com/itak-ai/itak/internal/guard"
	"github.com/itak-ai/itak/internal/metrics"
	"github.com/itak-ai/itak/internal/observability"
	"github.com/itak-ai/itak/pkg/models"
)

// Adapter is one transport. Start must not block; the adapter invokes
// the handler for each normalized inbound message.
type Adapter interface {
	Name() models.ChannelType

	// MaxMessageLength is the transport's outbound size limit;
	// 0 means unlimited.
	MaxMessageLength() int

	Start(ctx context.Context, handler Handler) error
	Stop() error
	Send(ctx context.Context, roomID, text string) error
}

// Handler processes one inbound message end to end.
type Handler func(ctx context.Context, msg *models.InboundMessage)

// Gateway owns the adapters and runs every message through the guard
// and the engine. A message arriving while a monologue is running in
// the same room becomes an intervention instead of a new run.
type Gateway struct {
	logger  *slog.Logger
	guard   *guard.Guard
	engine  *agent.Engine
	events  *observability.EventLogger
	metrics *metrics.Metrics

	mu       sync.Mutex
	adapters map[models.ChannelType]Adapter
	contexts map[string]*agent.Context
}

// NewGateway creates a gateway. guard is required; events and metrics
// may be nil.
func NewGateway(g *guard.Guard, engine *agent.Engine, events *observability.EventLogger, m *metrics.Metrics, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		logger:   logger.With("component", "channels"),
		guard:    g,
		engine:   engine,
		events:   events,
		metrics:  m,
		adapters: make(map[models.ChannelType]Adapter),
		contexts: make(map[string]*agent.Context),
	}
}

// Register adds an adapter. Later registrations replace earlier ones of
// the same channel type.
func (g *Gateway) Register(adapter Adapter) {
	g.mu.Lock()
	g.adapters[adapter.Name()] = adapter
	g.mu.Unlock()
}

// StartAll starts every registered adapter.
func (g *Gateway) StartAll(ctx context.Context) error {
	g.mu.Lock()
	adapters := make([]Adapter, 0, len(g.adapters))
	for _, adapter := range g.adapters {
		adapters = append(adapters, adapter)
	}
	g.mu.Unlock()

	for _, adapter := range adapters {
		if err := adapter.Start(ctx, g.Handle); err != nil {
			return fmt.Errorf("start %s adapter: %w", adapter.Name(), err)
		}
		g.logger.Info("adapter started", "channel", adapter.Name())
	}
	return nil
}

// StopAll stops every adapter, logging failures rather than aborting.
func (g *Gateway) StopAll() {
	g.mu.Lock()
	adapters := make([]Adapter, 0, len(g.adapters))
	for _, adapter := range g.adapters {
		adapters = append(adapters, adapter)
	}
	g.mu.Unlock()

	for _, adapter := range adapters {
		if err := adapter.Stop(); err != nil {
			g.logger.Warn("adapter stop failed", "channel", adapter.Name(), "error", err)
		}
	}
}

// Handle runs one inbound message: sanitize, run or intervene, deliver.
func (g *Gateway) Handle(ctx context.Context, msg *models.InboundMessage) {
	if msg == nil || msg.Content == "" {
		return
	}
	g.countMessage(msg.Channel, "in")

	content := msg.Content
	if g.guard != nil {
		content = g.guard.SanitizeInbound(content).Sanitized
	}

	actx := g.contextFor(msg)
	if actx.Running() {
		g.logger.Info("mid-run message becomes intervention", "room_id", msg.RoomID)
		actx.Intervene(content)
		return
	}

	final := g.engine.Run(ctx, actx, content)
	if final == "" {
		return
	}
	if err := g.Deliver(ctx, msg.Channel, msg.RoomID, final); err != nil {
		g.logger.Error("delivery failed", "channel", msg.Channel, "room_id", msg.RoomID, "error", err)
	}
}

// Deliver sanitizes outbound text, chunks it to the adapter's limit, and
// sends the chunks in order.
func (g *Gateway) Deliver(ctx context.Context, channel models.ChannelType, roomID, text string) error {
	g.mu.Lock()
	adapter, ok := g.adapters[channel]
	g.mu.Unlock()
	if !ok {
		return fmt.Errorf("no adapter for channel %s", channel)
	}

	if g.guard != nil {
		text = g.guard.Sanitize(text).Sanitized
	}
	for _, chunk := range NewChunker(adapter.MaxMessageLength()).Chunk(text) {
		if err := adapter.Send(ctx, roomID, chunk); err != nil {
			return err
		}
	}
	g.countMessage(channel, "out")
	return nil
}

// Notify pushes a transient status line to the channel a room lives on.
// Rooms with no conversation yet are skipped; delivery failures are
// logged, never surfaced.
func (g *Gateway) Notify(ctx context.Context, roomID, text string) {
	if roomID == "" || text == "" {
		return
	}
	g.mu.Lock()
	var channel models.ChannelType
	found := false
	for _, actx := range g.contexts {
		if actx.RoomID == roomID {
			channel = actx.Adapter
			found = true
			break
		}
	}
	g.mu.Unlock()
	if !found {
		return
	}
	if err := g.Deliver(ctx, channel, roomID, text); err != nil {
		g.logger.Warn("status delivery failed", "room_id", roomID, "error", err)
	}
}

// Running returns the contexts with an active monologue, for emergency
// checkpointing.
func (g *Gateway) Running() []*agent.Context {
	g.mu.Lock()
	defer g.mu.Unlock()
	var running []*agent.Context
	for _, actx := range g.contexts {
		if actx.Running() {
			running = append(running, actx)
		}
	}
	return running
}

// Context returns the conversation context for a room, for intervention
// and cancellation from outside the message path.
func (g *Gateway) Context(channel models.ChannelType, roomID string) *agent.Context {
	return g.contextFor(&models.InboundMessage{Channel: channel, RoomID: roomID})
}

func (g *Gateway) contextFor(msg *models.InboundMessage) *agent.Context {
	key := string(msg.Channel) + "/" + msg.RoomID
	g.mu.Lock()
	defer g.mu.Unlock()
	if actx, ok := g.contexts[key]; ok {
		return actx
	}
	actx := agent.NewContext(msg.Channel, msg.RoomID, msg.UserID)
	g.contexts[key] = actx
	return actx
}

func (g *Gateway) countMessage(channel models.ChannelType, direction string) {
	if g.metrics != nil {
		g.metrics.MessageCounter.WithLabelValues(string(channel), direction).Inc()
	}
}
