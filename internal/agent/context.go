package agent

import (
	"sync"

	"github.com/google/uuid"

	"github.com/itak-ai/itak/pkg/models"
)

// maxHistory caps a conversation's message count; trimming drops the
// oldest non-system messages only.
const maxHistory = 200

// Context is the per-conversation state. The engine runs a single
// in-flight monologue per Context; Intervene and Cancel may be called
// from other goroutines.
type Context struct {
	ID      string
	Adapter models.ChannelType
	RoomID  string
	UserID  string

	mu              sync.Mutex
	history         []models.Message
	interventions   []string
	running         bool
	iterationCount  int
	totalIterations int
	criticalRetries int
	lastResponse    string
}

// NewContext creates conversation state for one room on one adapter.
func NewContext(adapter models.ChannelType, roomID, userID string) *Context {
	return &Context{
		ID:      uuid.NewString(),
		Adapter: adapter,
		RoomID:  roomID,
		UserID:  userID,
	}
}

// Append adds a message to the history, trimming the oldest non-system
// messages past the cap.
func (c *Context) Append(role models.Role, content string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.history = append(c.history, models.Message{Role: role, Content: content})
	if len(c.history) <= maxHistory {
		return
	}
	for i, msg := range c.history {
		if msg.Role != models.RoleSystem {
			c.history = append(c.history[:i], c.history[i+1:]...)
			return
		}
	}
}

// History returns a copy of the conversation history.
func (c *Context) History() []models.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]models.Message(nil), c.history...)
}

// Intervene queues a mid-run user message; the engine picks it up before
// its next model call.
func (c *Context) Intervene(message string) {
	c.mu.Lock()
	c.interventions = append(c.interventions, message)
	c.mu.Unlock()
}

func (c *Context) drainInterventions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	drained := c.interventions
	c.interventions = nil
	return drained
}

// Cancel stops the running monologue at its next boundary check.
func (c *Context) Cancel() {
	c.mu.Lock()
	c.running = false
	c.mu.Unlock()
}

// Running reports whether a monologue is in flight.
func (c *Context) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

func (c *Context) setRunning(running bool) {
	c.mu.Lock()
	c.running = running
	if running {
		c.iterationCount = 0
		c.criticalRetries = 0
	}
	c.mu.Unlock()
}

// nextIteration advances both iteration counters and returns the count
// for the current run.
func (c *Context) nextIteration() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.iterationCount++
	c.totalIterations++
	return c.iterationCount
}

// Iteration returns the current run's iteration count.
func (c *Context) Iteration() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.iterationCount
}

// TotalIterations returns iterations across all runs on this context.
func (c *Context) TotalIterations() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.totalIterations
}

func (c *Context) incCriticalRetries() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.criticalRetries++
	return c.criticalRetries
}

// LastResponse returns the previous assistant response.
func (c *Context) LastResponse() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastResponse
}

func (c *Context) setLastResponse(response string) {
	c.mu.Lock()
	c.lastResponse = response
	c.mu.Unlock()
}

// restore replaces conversation state from a checkpoint.
func (c *Context) restore(history []models.Message, iteration int, lastResponse, roomID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.history = append([]models.Message(nil), history...)
	c.iterationCount = iteration
	c.lastResponse = lastResponse
	if roomID != "" {
		c.RoomID = roomID
	}
}
