// Package models defines the shared data types passed between the agent
// kernel, tools, and channel adapters.
package models

import "time"

// Role identifies the author of a message in a conversation history.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// ChannelType identifies the transport a message arrived on.
type ChannelType string

const (
	ChannelDiscord  ChannelType = "discord"
	ChannelTelegram ChannelType = "telegram"
	ChannelSlack    ChannelType = "slack"
	ChannelCLI      ChannelType = "cli"
)

// Message is a single entry in a conversation history.
//
// The system message, when present, is always index 0 of the history and is
// never evicted by trimming.
type Message struct {
	Role     Role           `json:"role"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// InboundMessage is a transport event normalized by a channel adapter before
// it reaches the engine.
type InboundMessage struct {
	ID        string      `json:"id"`
	Channel   ChannelType `json:"channel"`
	RoomID    string      `json:"room_id"`
	UserID    string      `json:"user_id"`
	Content   string      `json:"content"`
	CreatedAt time.Time   `json:"created_at"`
}

// ToolCall is the parsed tool request extracted from an assistant message.
type ToolCall struct {
	ToolName string         `json:"tool_name"`
	ToolArgs map[string]any `json:"tool_args"`
	Thoughts []string       `json:"thoughts,omitempty"`
	Headline string         `json:"headline,omitempty"`
}

// ToolResult is what a tool invocation returns to the monologue loop.
// Only BreakLoop terminates the loop; everything else becomes an
// observation message.
type ToolResult struct {
	Output    string `json:"output"`
	BreakLoop bool   `json:"break_loop"`
	Error     bool   `json:"error"`
}
