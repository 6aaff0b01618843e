package builtin

import (
	"context"
	"testing"
)

func TestUnknownToolListsAvailable(t *testing.T) {
	tool := NewUnknownTool(func() []string { return []string{"response", "memory_save"} })

	result := tool.Execute(context.Background(), map[string]any{"tool_name": "serch"})
	want := "Unknown tool 'serch'. Available tools: response, memory_save"
	if result.Output != want {
		t.Errorf("output = %q, want %q", result.Output, want)
	}
	// Guidance, not a failure: an error flag would send a typo through
	// the self-heal pipeline.
	if result.Error {
		t.Error("unknown-tool guidance flagged as an error")
	}
}

func TestUnknownToolNoLister(t *testing.T) {
	tool := NewUnknownTool(nil)
	result := tool.Execute(context.Background(), map[string]any{"tool_name": "x"})
	if result.Error {
		t.Error("unexpected error flag")
	}
}
