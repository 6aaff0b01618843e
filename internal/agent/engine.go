package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/itak-ai/itak/internal/checkpoint"
	"github.com/itak-ai/itak/internal/extensions"
	"github.com/itak-ai/itak/internal/metrics"
	"github.com/itak-ai/itak/internal/observability"
	"github.com/itak-ai/itak/internal/progress"
	"github.com/itak-ai/itak/internal/ratelimit"
	"github.com/itak-ai/itak/internal/selfheal"
	"github.com/itak-ai/itak/internal/tools"
	"github.com/itak-ai/itak/pkg/models"
)

// User-visible strings produced by the loop. These are stable contract
// text; adapters and tests depend on them verbatim.
const (
	maxStepsMessage = "I've reached my maximum number of steps. Let me summarize what I've done so far."
	repeatWarning   = "WARNING: You repeated yourself. Please try a different approach."
	securityRefusal = "⚠️ Tool output withheld: blocked by security scan."
)

const (
	rateDenialSleep    = 5 * time.Second
	criticalRetryDelay = 2 * time.Second
	chatCategory       = "chat_model"
)

// Config tunes the monologue loop.
type Config struct {
	MaxIterations           int    `yaml:"max_iterations"`
	CheckpointIntervalSteps int    `yaml:"checkpoint_interval_steps"`
	SystemPrompt            string `yaml:"system_prompt"`
}

// DefaultConfig returns the default loop configuration.
func DefaultConfig() Config {
	return Config{
		MaxIterations:           25,
		CheckpointIntervalSteps: 5,
		SystemPrompt: "You are a personal AI agent. Respond with a single JSON object " +
			"containing tool_name, tool_args, thoughts, and headline. Use the " +
			"response tool to deliver your final answer.",
	}
}

// Deps are the engine's collaborators. Router and Registry are required;
// everything else degrades gracefully when nil.
type Deps struct {
	Router      ModelRouter
	Registry    *tools.Registry
	Pipeline    *extensions.Pipeline
	Limiter     *ratelimit.Limiter
	Healer      *selfheal.Engine
	Checkpoints *checkpoint.Manager
	Progress    *progress.Tracker
	Events      *observability.EventLogger
	Metrics     *metrics.Metrics
	Activity    func()
	Logger      *slog.Logger
}

// Engine runs the double loop: an outer pass that restarts on
// intervention and an inner iteration that calls the model, dispatches
// one tool, and appends the observation.
type Engine struct {
	config Config
	deps   Deps
	logger *slog.Logger

	// sleep is replaceable in tests.
	sleep func(ctx context.Context, d time.Duration)
}

// NewEngine wires an engine and fires agent_init.
func NewEngine(config Config, deps Deps) *Engine {
	if config.MaxIterations <= 0 {
		config.MaxIterations = DefaultConfig().MaxIterations
	}
	if config.SystemPrompt == "" {
		config.SystemPrompt = DefaultConfig().SystemPrompt
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Pipeline == nil {
		deps.Pipeline = extensions.NewPipeline(deps.Logger)
	}

	e := &Engine{
		config: config,
		deps:   deps,
		logger: deps.Logger.With("component", "agent"),
		sleep:  sleepCtx,
	}
	e.deps.Pipeline.Fire(context.Background(), extensions.HookAgentInit, e, nil)
	return e
}

func sleepCtx(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// Restore replaces conversation state from a fresh checkpoint. Returns
// false when no restorable checkpoint exists.
func (e *Engine) Restore(actx *Context) bool {
	if e.deps.Checkpoints == nil || !e.deps.Checkpoints.Restorable() {
		return false
	}
	snapshot, err := e.deps.Checkpoints.Load()
	if err != nil {
		e.logger.Warn("checkpoint restore failed", "error", err)
		return false
	}
	actx.restore(snapshot.History, snapshot.Iteration, snapshot.LastResponse, snapshot.RoomID)
	if e.deps.Progress != nil {
		e.deps.Progress.Restore(snapshot.Progress)
	}
	e.logger.Info("restored from checkpoint",
		"iteration", snapshot.Iteration, "history", len(snapshot.History))
	return true
}

// Run drives one user message to a final response or a controlled
// failure string. It never panics the process.
func (e *Engine) Run(ctx context.Context, actx *Context, userMessage string) (final string) {
	defer func() {
		if p := recover(); p != nil {
			e.logger.Error("monologue panic", "panic", p, "room_id", actx.RoomID)
			final = fmt.Sprintf("Error: %v", p)
		}
	}()

	actx.Append(models.RoleUser, userMessage)
	e.emit(observability.EventUserMessage, actx, userMessage)
	actx.setRunning(true)
	defer actx.setRunning(false)

	e.deps.Pipeline.Fire(ctx, extensions.HookMonologueStart, e, map[string]any{"room_id": actx.RoomID})
	final = e.loop(ctx, actx)
	e.deps.Pipeline.Fire(ctx, extensions.HookProcessChainEnd, e, map[string]any{"room_id": actx.RoomID})

	e.emit(observability.EventAgentResponse, actx, final)
	return final
}

func (e *Engine) loop(ctx context.Context, actx *Context) string {
	for {
		if ctx.Err() != nil || !actx.Running() {
			e.logger.Info("monologue cancelled", "room_id", actx.RoomID)
			return ""
		}

		iteration := actx.nextIteration()
		if e.deps.Activity != nil {
			e.deps.Activity()
		}
		if e.deps.Metrics != nil {
			e.deps.Metrics.MonologueIterations.WithLabelValues(string(actx.Adapter)).Inc()
		}

		if iteration > e.config.MaxIterations {
			e.logger.Warn("iteration cap reached",
				"room_id", actx.RoomID, "iterations", iteration)
			e.emit(observability.EventWarning, actx, "iteration cap reached")
			e.deps.Pipeline.Fire(ctx, extensions.HookMonologueEnd, e, nil)
			return maxStepsMessage
		}

		if e.deps.Limiter != nil {
			if decision := e.deps.Limiter.Check(chatCategory); !decision.Allowed {
				e.logger.Warn("chat model rate limited", "reason", decision.Reason)
				e.sleep(ctx, rateDenialSleep)
				continue
			}
		}

		// Interventions preempt the model call; the loop restarts with
		// the new messages already in history.
		if interventions := actx.drainInterventions(); len(interventions) > 0 {
			for _, message := range interventions {
				actx.Append(models.RoleUser, "[INTERVENTION] "+message)
				e.emit(observability.EventIntervention, actx, message)
			}
			continue
		}

		e.deps.Pipeline.Fire(ctx, extensions.HookMessageLoopStart, e, nil)
		e.deps.Pipeline.Fire(ctx, extensions.HookMessageLoopPromptsBefore, e, nil)
		prompt := e.deps.Pipeline.FireSystemPrompt(ctx, e, e.config.SystemPrompt)
		messages := append([]models.Message{{Role: models.RoleSystem, Content: prompt}}, actx.History()...)
		e.deps.Pipeline.Fire(ctx, extensions.HookMessageLoopPromptsAfter, e, nil)
		e.deps.Pipeline.Fire(ctx, extensions.HookBeforeMainLLMCall, e, nil)

		response, err := e.deps.Router.Chat(ctx, messages, func(chunk string) {
			e.deps.Pipeline.Fire(ctx, extensions.HookResponseStreamChunk, e, map[string]any{"chunk": chunk})
		})
		if e.deps.Limiter != nil {
			e.deps.Limiter.Record(chatCategory, 0)
		}
		if err != nil {
			// Transport errors consume the iteration and roll into the
			// next turn.
			e.logger.Error("model call failed", "error", err)
			e.emit(observability.EventError, actx, err.Error())
			actx.Append(models.RoleSystem, "Model call failed: "+err.Error()+". Trying again.")
			continue
		}

		if response != "" && response == actx.LastResponse() {
			actx.setLastResponse(response)
			actx.Append(models.RoleSystem, repeatWarning)
			e.logger.Warn("repeated response detected", "room_id", actx.RoomID)
			continue
		}
		actx.setLastResponse(response)
		actx.Append(models.RoleAssistant, response)

		observation, shouldBreak := e.processTools(ctx, actx, response)
		if shouldBreak {
			// The final answer goes to the user, not back into history.
			e.deps.Pipeline.Fire(ctx, extensions.HookMonologueEnd, e, nil)
			if e.deps.Progress != nil {
				e.deps.Progress.Complete(actx.RoomID, "")
			}
			if e.deps.Checkpoints != nil {
				e.deps.Checkpoints.Delete()
			}
			e.emit(observability.EventAgentComplete, actx, "")
			return observation
		}
		if observation != "" {
			actx.Append(models.RoleSystem, "Tool result:\n"+observation)
			e.deps.Pipeline.Fire(ctx, extensions.HookHistAddToolResult, e, map[string]any{"observation": observation})
		}

		if e.deps.Checkpoints != nil && e.config.CheckpointIntervalSteps > 0 &&
			iteration%e.config.CheckpointIntervalSteps == 0 {
			e.SaveCheckpoint(actx)
		}
		e.deps.Pipeline.Fire(ctx, extensions.HookMessageLoopEnd, e, nil)
	}
}

// processTools parses and runs at most one tool call from the response.
// Every failure becomes an observation string; shouldBreak is true only
// for the response tool or a second critical error.
func (e *Engine) processTools(ctx context.Context, actx *Context, response string) (string, bool) {
	call := tools.ParseToolCall(response)
	if call == nil {
		return "", false
	}

	if call.Headline != "" && e.deps.Progress != nil {
		e.deps.Progress.Update(actx.RoomID, call.Headline)
	}
	e.emit(observability.EventToolExecution, actx, call.ToolName)

	if e.deps.Limiter != nil {
		if decision := e.deps.Limiter.Check(call.ToolName); !decision.Allowed {
			e.logger.Warn("tool rate limited", "tool", call.ToolName, "reason", decision.Reason)
			return "Rate limited: " + decision.Reason, false
		}
	}

	e.deps.Pipeline.Fire(ctx, extensions.HookToolExecuteBefore, e, map[string]any{
		"tool_name": call.ToolName,
		"tool_args": call.ToolArgs,
	})

	result := e.deps.Registry.Invoke(ctx, call)
	if e.deps.Limiter != nil {
		e.deps.Limiter.Record(call.ToolName, 0)
	}

	after := e.deps.Pipeline.Fire(ctx, extensions.HookToolExecuteAfter, e, map[string]any{
		"tool_name": call.ToolName,
		"output":    result.Output,
	})
	if extensions.Blocked(after) {
		e.logger.Warn("tool output blocked by security scan", "tool", call.ToolName)
		e.emit(observability.EventWarning, actx, "tool output blocked: "+call.ToolName)
		return securityRefusal, false
	}

	if result.Error {
		return e.handleToolError(ctx, actx, call, result)
	}

	observation := result.Output
	if tools.IsUntrusted(call.ToolName) {
		observation = tools.WrapUntrusted(observation)
	}
	e.emit(observability.EventToolResult, actx, observation)
	return observation, result.BreakLoop
}

// handleToolError routes a failed tool through self-heal. Critical
// failures get one delayed retry turn; a second one ends the monologue
// with the critical message.
func (e *Engine) handleToolError(ctx context.Context, actx *Context, call *models.ToolCall, result *models.ToolResult) (string, bool) {
	if e.deps.Healer == nil {
		return result.Output, false
	}

	retry := func(ctx context.Context) error {
		retried := e.deps.Registry.Invoke(ctx, call)
		if retried.Error {
			return errors.New(retried.Output)
		}
		return nil
	}
	heal := e.deps.Healer.Heal(ctx, errors.New(result.Output), "", call.ToolName, call.ToolArgs, retry)

	if heal.Critical {
		e.emit(observability.EventCriticalError, actx, heal.Message)
		if actx.incCriticalRetries() > 1 {
			return heal.Message, true
		}
		// A plain note, not a tool observation.
		actx.Append(models.RoleSystem, "CRITICAL ERROR: "+heal.Message+" This is the last retry.")
		e.sleep(ctx, criticalRetryDelay)
		return "", false
	}

	if heal.Healed {
		e.logger.Info("tool error healed", "tool", call.ToolName)
		return heal.Message, false
	}

	e.emit(observability.EventError, actx, heal.Message)
	return heal.Message, false
}

// SaveCheckpoint snapshots the conversation for crash recovery.
func (e *Engine) SaveCheckpoint(actx *Context) {
	if e.deps.Checkpoints == nil {
		return
	}
	snapshot := &checkpoint.Snapshot{
		Iteration:    actx.Iteration(),
		RoomID:       actx.RoomID,
		Adapter:      string(actx.Adapter),
		History:      actx.History(),
		LastResponse: actx.LastResponse(),
	}
	if e.deps.Progress != nil {
		snapshot.Progress = e.deps.Progress.Snapshot()
	}
	if err := e.deps.Checkpoints.Save(snapshot); err != nil {
		e.logger.Warn("checkpoint save failed", "error", err)
	}
}

func (e *Engine) emit(eventType observability.EventType, actx *Context, data string) {
	if e.deps.Events != nil {
		e.deps.Events.Emit(eventType, actx.RoomID, string(actx.Adapter), data)
	}
}
