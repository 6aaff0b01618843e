// Package extensions runs registered hook functions at named points in
// the monologue loop.
package extensions

import (
	"context"
	"log/slog"
	"sync"
)

// Hook points fired by the engine, in rough lifecycle order.
const (
	HookAgentInit                = "agent_init"
	HookSystemPrompt             = "system_prompt"
	HookMonologueStart           = "monologue_start"
	HookMessageLoopStart         = "message_loop_start"
	HookMessageLoopPromptsBefore = "message_loop_prompts_before"
	HookMessageLoopPromptsAfter  = "message_loop_prompts_after"
	HookBeforeMainLLMCall        = "before_main_llm_call"
	HookResponseStreamChunk      = "response_stream_chunk"
	HookToolExecuteBefore        = "tool_execute_before"
	HookToolExecuteAfter         = "tool_execute_after"
	HookHistAddToolResult        = "hist_add_tool_result"
	HookMessageLoopEnd           = "message_loop_end"
	HookProcessChainEnd          = "process_chain_end"
	HookMonologueEnd             = "monologue_end"
	HookErrorFormat              = "error_format"
)

// SecurityBlocked is the sentinel an extension returns at
// tool_execute_after to abort a tool's result.
const SecurityBlocked = "SECURITY_BLOCKED"

// Func is one extension function. agent is the engine handle; args is
// the hook-specific keyword map. The returned value is collected; most
// hooks ignore it.
type Func func(ctx context.Context, agent any, args map[string]any) (any, error)

type registration struct {
	name string
	fn   Func
}

// Pipeline maps hook names to ordered extension lists. Extensions fire
// sequentially in registration order; their errors and panics are logged
// and swallowed, never propagated into the loop.
type Pipeline struct {
	logger *slog.Logger

	mu    sync.RWMutex
	hooks map[string][]registration
}

// NewPipeline creates an empty pipeline.
func NewPipeline(logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		logger: logger.With("component", "extensions"),
		hooks:  make(map[string][]registration),
	}
}

// Register appends an extension to a hook. Registration order is the
// execution order.
func (p *Pipeline) Register(hook, name string, fn Func) {
	if fn == nil {
		return
	}
	p.mu.Lock()
	p.hooks[hook] = append(p.hooks[hook], registration{name: name, fn: fn})
	p.mu.Unlock()
}

// Count returns how many extensions a hook carries.
func (p *Pipeline) Count(hook string) int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.hooks[hook])
}

// Fire runs every extension on the hook and collects their non-nil
// return values in execution order.
func (p *Pipeline) Fire(ctx context.Context, hook string, agent any, args map[string]any) []any {
	p.mu.RLock()
	registered := p.hooks[hook]
	p.mu.RUnlock()
	if len(registered) == 0 {
		return nil
	}
	if args == nil {
		args = map[string]any{}
	}

	var results []any
	for _, reg := range registered {
		result, err := p.safeInvoke(ctx, hook, reg, agent, args)
		if err != nil {
			p.logger.Warn("extension failed", "hook", hook, "extension", reg.name, "error", err)
			continue
		}
		if result != nil {
			results = append(results, result)
		}
	}
	return results
}

// FireSystemPrompt runs the system_prompt hook with replace semantics:
// each extension returning a string replaces the accumulator.
func (p *Pipeline) FireSystemPrompt(ctx context.Context, agent any, prompt string) string {
	args := map[string]any{"prompt": prompt}
	for _, result := range p.Fire(ctx, HookSystemPrompt, agent, args) {
		if s, ok := result.(string); ok {
			prompt = s
			args["prompt"] = prompt
		}
	}
	return prompt
}

// Blocked reports whether any collected result is the security sentinel.
func Blocked(results []any) bool {
	for _, result := range results {
		if s, ok := result.(string); ok && s == SecurityBlocked {
			return true
		}
	}
	return false
}

func (p *Pipeline) safeInvoke(ctx context.Context, hook string, reg registration, agent any, args map[string]any) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("extension panic", "hook", hook, "extension", reg.name, "panic", r)
			result, err = nil, nil
		}
	}()
	return reg.fn(ctx, agent, args)
}
