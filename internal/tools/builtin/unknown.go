package builtin

import (
	"context"
	"fmt"
	"strings"

	"github.com/itak-ai/itak/pkg/models"
)

// UnknownTool is the fallback invoked when a tool name resolves nowhere.
// It tells the model what it asked for and what actually exists so the
// next turn can self-correct.
type UnknownTool struct {
	available func() []string
}

// NewUnknownTool creates the fallback; available supplies the current
// tool names at call time.
func NewUnknownTool(available func() []string) *UnknownTool {
	return &UnknownTool{available: available}
}

func (t *UnknownTool) Name() string { return "unknown" }

func (t *UnknownTool) Description() string {
	return "Fallback for unrecognized tool names."
}

func (t *UnknownTool) Execute(_ context.Context, args map[string]any) *models.ToolResult {
	requested := stringArg(args, "tool_name")
	var names []string
	if t.available != nil {
		names = t.available()
	}
	return &models.ToolResult{
		Output: fmt.Sprintf("Unknown tool '%s'. Available tools: %s", requested, strings.Join(names, ", ")),
	}
}
