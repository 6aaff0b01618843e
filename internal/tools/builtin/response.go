// Package builtin provides the tools every agent carries regardless of
// configuration.
package builtin

import (
	"context"
	"fmt"

	"github.com/itak-ai/itak/pkg/models"
)

// ResponseTool delivers the final answer and terminates the monologue.
type ResponseTool struct{}

func NewResponseTool() *ResponseTool { return &ResponseTool{} }

func (t *ResponseTool) Name() string { return "response" }

func (t *ResponseTool) Description() string {
	return "Send the final response to the user and end the current task."
}

func (t *ResponseTool) Execute(_ context.Context, args map[string]any) *models.ToolResult {
	text := stringArg(args, "text")
	if text == "" {
		text = stringArg(args, "message")
	}
	return &models.ToolResult{Output: text, BreakLoop: true}
}

func stringArg(args map[string]any, key string) string {
	switch v := args[key].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", v)
	}
}
