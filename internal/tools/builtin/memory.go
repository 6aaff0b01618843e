package builtin

import (
	"context"
	"fmt"
	"strings"

	"github.com/itak-ai/itak/internal/memory"
	"github.com/itak-ai/itak/pkg/models"
)

// MemorySaveTool stores a note in the agent's long-term memory.
type MemorySaveTool struct {
	store memory.Port
}

func NewMemorySaveTool(store memory.Port) *MemorySaveTool {
	return &MemorySaveTool{store: store}
}

func (t *MemorySaveTool) Name() string { return "memory_save" }

func (t *MemorySaveTool) Description() string {
	return "Save a note to long-term memory. Args: content (required), category."
}

func (t *MemorySaveTool) Execute(ctx context.Context, args map[string]any) *models.ToolResult {
	content := stringArg(args, "content")
	if content == "" {
		content = stringArg(args, "text")
	}
	if content == "" {
		return &models.ToolResult{Output: "Error: memory_save requires 'content'.", Error: true}
	}
	id, err := t.store.Save(ctx, stringArg(args, "category"), content)
	if err != nil {
		return &models.ToolResult{Output: fmt.Sprintf("Error: failed to save memory: %v", err), Error: true}
	}
	return &models.ToolResult{Output: fmt.Sprintf("Memory saved with id %s.", id)}
}

// MemorySearchTool queries long-term memory.
type MemorySearchTool struct {
	store memory.Port
}

func NewMemorySearchTool(store memory.Port) *MemorySearchTool {
	return &MemorySearchTool{store: store}
}

func (t *MemorySearchTool) Name() string { return "memory_search" }

func (t *MemorySearchTool) Description() string {
	return "Search long-term memory. Args: query (required), limit."
}

func (t *MemorySearchTool) Execute(ctx context.Context, args map[string]any) *models.ToolResult {
	query := stringArg(args, "query")
	if query == "" {
		return &models.ToolResult{Output: "Error: memory_search requires 'query'.", Error: true}
	}
	limit := 5
	if n, ok := args["limit"].(float64); ok && n > 0 {
		limit = int(n)
	}

	entries, err := t.store.Search(ctx, query, limit)
	if err != nil {
		return &models.ToolResult{Output: fmt.Sprintf("Error: memory search failed: %v", err), Error: true}
	}
	if len(entries) == 0 {
		return &models.ToolResult{Output: "No matching memories found."}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Found %d memories:\n", len(entries))
	for i, e := range entries {
		fmt.Fprintf(&b, "%d. [%s] %s\n", i+1, e.Category, e.Content)
	}
	return &models.ToolResult{Output: strings.TrimRight(b.String(), "\n")}
}
