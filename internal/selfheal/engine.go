package selfheal

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/itak-ai/itak/internal/memory"
	"github.com/itak-ai/itak/internal/metrics"
	"github.com/itak-ai/itak/pkg/models"
)

// sessionRetryBudget caps heal attempts per process session.
const sessionRetryBudget = 10

// memoryProbeLimit bounds how many prior fixes a memory lookup returns.
const memoryProbeLimit = 3

// retryBackoff is indexed by min(attempt, 2); attempts past the third
// reuse the longest delay.
var retryBackoff = [3]time.Duration{1 * time.Second, 5 * time.Second, 15 * time.Second}

// ModelClient is the slice of the model router the engine needs.
type ModelClient interface {
	Chat(ctx context.Context, messages []models.Message) (string, error)
}

// RetryFunc re-runs the failed operation. A nil error means it succeeded.
type RetryFunc func(ctx context.Context) error

// HealAttempt records one recovery try.
type HealAttempt struct {
	FixDescription  string  `json:"fix_description"`
	Source          string  `json:"source"`
	Success         bool    `json:"success"`
	ErrorOnRetry    string  `json:"error_on_retry,omitempty"`
	DurationSeconds float64 `json:"duration_seconds"`
}

// Result is the outcome of a Heal call. Critical marks failures that must
// never be retried through the heal pipeline.
type Result struct {
	Healed   bool          `json:"healed"`
	Critical bool          `json:"critical,omitempty"`
	Message  string        `json:"message"`
	Attempts []HealAttempt `json:"attempts,omitempty"`
}

// Engine runs the recovery pipeline: classify, check budget, probe memory
// for a prior fix, ask the model for fixes, retry with backoff, learn.
// Heal calls are serialized; retries within one call are strictly
// sequential.
type Engine struct {
	memory  memory.Port
	model   ModelClient
	logger  *slog.Logger
	metrics *metrics.Metrics

	// sleep is replaceable in tests.
	sleep func(ctx context.Context, d time.Duration)

	mu             sync.Mutex
	sessionRetries int
	errorLog       []*ClassifiedError
}

// NewEngine creates a heal engine. memory and model may be nil; the
// corresponding pipeline steps are skipped.
func NewEngine(mem memory.Port, model ModelClient, m *metrics.Metrics, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		memory:  mem,
		model:   model,
		logger:  logger.With("component", "selfheal"),
		metrics: m,
		sleep:   sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// SessionRetries returns how many heal attempts this session has consumed.
func (e *Engine) SessionRetries() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sessionRetries
}

// ErrorLog returns a copy of the in-session classified error log.
func (e *Engine) ErrorLog() []*ClassifiedError {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*ClassifiedError(nil), e.errorLog...)
}

// Heal runs the recovery pipeline for the given failure. Critical errors
// short-circuit before any memory or model access. retry may be nil, in
// which case memory and model fixes are recorded but nothing is re-run.
func (e *Engine) Heal(ctx context.Context, failure error, traceback, toolName string, toolArgs map[string]any, retry RetryFunc) *Result {
	e.mu.Lock()
	classified := Classify(failure, traceback, toolName, toolArgs)
	e.errorLog = append(e.errorLog, classified)

	if classified.Severity == SeverityCritical {
		e.mu.Unlock()
		e.logger.Error("critical error, refusing to heal",
			"category", classified.Category, "tool", toolName, "error", classified.Message)
		return &Result{
			Healed:   false,
			Critical: true,
			Message:  fmt.Sprintf("🚫 Critical error: %s", classified.Message),
		}
	}

	if e.sessionRetries >= sessionRetryBudget {
		e.mu.Unlock()
		e.logger.Warn("heal budget exhausted", "session_retries", sessionRetryBudget)
		return &Result{Healed: false, Message: "session budget exhausted"}
	}
	e.sessionRetries++
	e.mu.Unlock()

	e.logger.Info("attempting heal",
		"category", classified.Category, "tool", toolName, "error", classified.Message)

	result := &Result{}

	if attempt, ok := e.tryMemory(ctx, classified, retry); ok {
		result.Attempts = append(result.Attempts, *attempt)
		if attempt.Success {
			e.countAttempt("memory", "healed")
			result.Healed = true
			result.Message = fmt.Sprintf("Recovered using a remembered fix: %s", attempt.FixDescription)
			return result
		}
		e.countAttempt("memory", "failed")
	}

	llmAttempts := e.tryModel(ctx, classified, retry)
	result.Attempts = append(result.Attempts, llmAttempts...)
	for _, attempt := range llmAttempts {
		if attempt.Success {
			e.countAttempt("llm", "healed")
			e.learn(ctx, classified, attempt.FixDescription)
			result.Healed = true
			result.Message = fmt.Sprintf("Recovered after retry: %s", attempt.FixDescription)
			return result
		}
		e.countAttempt("llm", "failed")
	}

	result.Message = e.failureMessage(result.Attempts)
	e.logger.Warn("heal failed", "category", classified.Category, "attempts", len(result.Attempts))
	return result
}

// tryMemory searches memory for a prior fix and, if one exists, re-runs
// the operation once. Returns ok=false when memory is empty or unset.
func (e *Engine) tryMemory(ctx context.Context, classified *ClassifiedError, retry RetryFunc) (*HealAttempt, bool) {
	if e.memory == nil {
		return nil, false
	}
	query := fmt.Sprintf("%s error: %s", classified.Category, classified.Message)
	entries, err := e.memory.Search(ctx, query, memoryProbeLimit)
	if err != nil {
		e.logger.Warn("memory probe failed", "error", err)
		return nil, false
	}
	if len(entries) == 0 {
		return nil, false
	}

	attempt := &HealAttempt{
		FixDescription: firstLine(entries[0].Content),
		Source:         "memory",
	}
	e.logger.Info("found remembered fix", "fix", attempt.FixDescription)

	if retry != nil {
		start := time.Now()
		retryErr := retry(ctx)
		attempt.DurationSeconds = time.Since(start).Seconds()
		if retryErr == nil {
			attempt.Success = true
		} else {
			attempt.ErrorOnRetry = retryErr.Error()
		}
	}
	return attempt, true
}

// tryModel asks the model for three ranked fixes and retries the operation
// once per fix, sleeping the backoff schedule between attempts.
func (e *Engine) tryModel(ctx context.Context, classified *ClassifiedError, retry RetryFunc) []HealAttempt {
	if e.model == nil || retry == nil {
		return nil
	}

	prompt := fmt.Sprintf(
		"A tool call failed and needs debugging.\n\n"+
			"Category: %s\nTool: %s\nError: %s\n\nTraceback:\n%s\n\n"+
			"Suggest exactly three ranked fixes, most likely first. "+
			"One sentence each, as a numbered list. No other text.",
		classified.Category, classified.ToolName, classified.Message, classified.Traceback)

	reply, err := e.model.Chat(ctx, []models.Message{
		{Role: models.RoleSystem, Content: "You are a terse debugging assistant."},
		{Role: models.RoleUser, Content: prompt},
	})
	if err != nil {
		e.logger.Warn("fix suggestion call failed", "error", err)
		return nil
	}

	fixes := parseFixes(reply)
	if len(fixes) == 0 {
		e.logger.Warn("no parseable fixes in model reply")
		return nil
	}

	attempts := make([]HealAttempt, 0, len(fixes))
	for i, fix := range fixes {
		if ctx.Err() != nil {
			break
		}
		e.sleep(ctx, retryBackoff[min(i, 2)])

		attempt := HealAttempt{FixDescription: fix, Source: "llm"}
		start := time.Now()
		retryErr := retry(ctx)
		attempt.DurationSeconds = time.Since(start).Seconds()
		if retryErr == nil {
			attempt.Success = true
			attempts = append(attempts, attempt)
			break
		}
		attempt.ErrorOnRetry = retryErr.Error()
		attempts = append(attempts, attempt)
	}
	return attempts
}

// learn persists a successful recovery so the next occurrence is fixed
// from memory without a model call.
func (e *Engine) learn(ctx context.Context, classified *ClassifiedError, fix string) {
	if e.memory == nil {
		return
	}
	content := fmt.Sprintf(
		"## Self-Healed Error (%s)\nTool: %s\nError: %s\nFix that worked: %s",
		classified.Category, classified.ToolName, classified.Message, fix)
	if _, err := e.memory.Save(ctx, "errors", content); err != nil {
		e.logger.Warn("failed to store learned fix", "error", err)
	}
}

func (e *Engine) failureMessage(attempts []HealAttempt) string {
	var b strings.Builder
	fmt.Fprintf(&b, "⚠️ Self-heal failed after %d attempts.", len(attempts))
	for _, a := range attempts {
		fmt.Fprintf(&b, "\n- [%s] %s", a.Source, a.FixDescription)
		if a.ErrorOnRetry != "" {
			fmt.Fprintf(&b, " (retry failed: %s)", a.ErrorOnRetry)
		}
	}
	return b.String()
}

func (e *Engine) countAttempt(source, outcome string) {
	if e.metrics != nil {
		e.metrics.SelfHealAttempts.WithLabelValues(source, outcome).Inc()
	}
}

var fixLine = regexp.MustCompile(`^\s*(?:\d+[.)]|[-*])\s+(.+)$`)

// parseFixes extracts the numbered (or bulleted) suggestions from a model
// reply, capped at three.
func parseFixes(reply string) []string {
	var fixes []string
	for _, line := range strings.Split(reply, "\n") {
		m := fixLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		fixes = append(fixes, strings.TrimSpace(m[1]))
		if len(fixes) == 3 {
			break
		}
	}
	return fixes
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
