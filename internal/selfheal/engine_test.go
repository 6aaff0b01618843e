package selfheal

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/itak-ai/itak/internal/memory"
	"github.com/itak-ai/itak/pkg/models"
)

type fakeMemory struct {
	entries  []memory.Entry
	searches int
	saved    []memory.Entry
}

func (f *fakeMemory) Save(_ context.Context, category, content string) (string, error) {
	f.saved = append(f.saved, memory.Entry{Category: category, Content: content})
	return "id-1", nil
}

func (f *fakeMemory) Search(_ context.Context, _ string, _ int) ([]memory.Entry, error) {
	f.searches++
	return f.entries, nil
}

func (f *fakeMemory) Delete(context.Context, string) error { return nil }

func (f *fakeMemory) Stats(context.Context) (memory.Stats, error) {
	return memory.Stats{Entries: int64(len(f.entries)), Connected: true}, nil
}

type fakeModel struct {
	reply string
	calls int
	err   error
}

func (f *fakeModel) Chat(context.Context, []models.Message) (string, error) {
	f.calls++
	return f.reply, f.err
}

func newTestEngine(mem memory.Port, model ModelClient) *Engine {
	e := NewEngine(mem, model, nil, nil)
	e.sleep = func(context.Context, time.Duration) {}
	return e
}

func TestClassifyCategories(t *testing.T) {
	cases := []struct {
		message  string
		category Category
		severity Severity
	}{
		{"SECURITY_BLOCKED: prompt injection detected", CategorySecurity, SeverityCritical},
		{"checksum mismatch in data file", CategoryData, SeverityCritical},
		{"bash: jq: command not found", CategoryDependency, SeverityRepairable},
		{"dial tcp 10.0.0.1:443: connection refused", CategoryNetwork, SeverityRepairable},
		{"invalid config: unknown field 'modle'", CategoryConfig, SeverityRepairable},
		{"write /tmp/out: no space left on device", CategoryResource, SeverityRepairable},
		{"cannot unmarshal string into field count", CategoryTool, SeverityRepairable},
		{"runtime error: index out of range [3]", CategoryRuntime, SeverityRepairable},
		{"something inexplicable happened", CategoryUnknown, SeverityRepairable},
	}
	for _, tc := range cases {
		got := Classify(errors.New(tc.message), "", "web_search", nil)
		if got.Category != tc.category {
			t.Errorf("Classify(%q) category = %s, want %s", tc.message, got.Category, tc.category)
		}
		if got.Severity != tc.severity {
			t.Errorf("Classify(%q) severity = %s, want %s", tc.message, got.Severity, tc.severity)
		}
	}
}

func TestCriticalShortCircuit(t *testing.T) {
	mem := &fakeMemory{}
	model := &fakeModel{reply: "1. restart"}
	e := newTestEngine(mem, model)

	retried := false
	result := e.Heal(context.Background(), errors.New("SECURITY_BLOCKED"), "", "browser", nil,
		func(context.Context) error { retried = true; return nil })

	if result.Healed {
		t.Fatal("critical error must not be healed")
	}
	if !strings.HasPrefix(result.Message, "🚫 Critical error: ") {
		t.Errorf("message = %q, want critical prefix", result.Message)
	}
	if mem.searches != 0 || len(mem.saved) != 0 {
		t.Error("critical path must not touch memory")
	}
	if model.calls != 0 {
		t.Error("critical path must not call the model")
	}
	if retried {
		t.Error("critical path must not retry")
	}
	if e.SessionRetries() != 0 {
		t.Errorf("session retries = %d, want 0", e.SessionRetries())
	}
}

func TestSessionBudgetGate(t *testing.T) {
	e := newTestEngine(&fakeMemory{}, &fakeModel{reply: "1. retry"})
	e.sessionRetries = sessionRetryBudget

	result := e.Heal(context.Background(), errors.New("connection refused"), "", "web_search", nil, nil)
	if result.Healed {
		t.Fatal("exhausted budget must not heal")
	}
	if result.Message != "session budget exhausted" {
		t.Errorf("message = %q", result.Message)
	}
}

func TestMemoryFixHealsWithoutModel(t *testing.T) {
	mem := &fakeMemory{entries: []memory.Entry{{Content: "Retry with exponential backoff\ndetails..."}}}
	model := &fakeModel{reply: "1. something"}
	e := newTestEngine(mem, model)

	result := e.Heal(context.Background(), errors.New("connection refused"), "", "web_search", nil,
		func(context.Context) error { return nil })

	if !result.Healed {
		t.Fatal("expected heal via memory")
	}
	if model.calls != 0 {
		t.Error("memory fix should not consult the model")
	}
	if len(result.Attempts) != 1 || result.Attempts[0].Source != "memory" {
		t.Fatalf("attempts = %+v", result.Attempts)
	}
	if result.Attempts[0].FixDescription != "Retry with exponential backoff" {
		t.Errorf("fix = %q", result.Attempts[0].FixDescription)
	}
}

func TestModelFixLearnsOnSuccess(t *testing.T) {
	mem := &fakeMemory{}
	model := &fakeModel{reply: "1. Check DNS resolution\n2. Retry the request\n3. Use a fallback host"}
	e := newTestEngine(mem, model)

	failures := 1
	result := e.Heal(context.Background(), errors.New("no such host"), "", "web_search", nil,
		func(context.Context) error {
			if failures > 0 {
				failures--
				return errors.New("no such host")
			}
			return nil
		})

	if !result.Healed {
		t.Fatalf("expected heal on second fix, attempts: %+v", result.Attempts)
	}
	if len(result.Attempts) != 2 {
		t.Fatalf("attempts = %d, want 2", len(result.Attempts))
	}
	if result.Attempts[1].FixDescription != "Retry the request" {
		t.Errorf("winning fix = %q", result.Attempts[1].FixDescription)
	}
	if len(mem.saved) != 1 {
		t.Fatal("expected one learned entry")
	}
	if mem.saved[0].Category != "errors" {
		t.Errorf("learned category = %q", mem.saved[0].Category)
	}
	if !strings.HasPrefix(mem.saved[0].Content, "## Self-Healed Error") {
		t.Errorf("learned content = %q", mem.saved[0].Content)
	}
}

func TestAllFixesFail(t *testing.T) {
	mem := &fakeMemory{}
	model := &fakeModel{reply: "1. Fix A\n2. Fix B\n3. Fix C"}
	e := newTestEngine(mem, model)

	result := e.Heal(context.Background(), errors.New("connection reset"), "", "web_search", nil,
		func(context.Context) error { return errors.New("still broken") })

	if result.Healed {
		t.Fatal("expected failure")
	}
	want := fmt.Sprintf("⚠️ Self-heal failed after %d attempts.", len(result.Attempts))
	if !strings.HasPrefix(result.Message, want) {
		t.Errorf("message = %q, want prefix %q", result.Message, want)
	}
	if len(mem.saved) != 0 {
		t.Error("failed heal must not learn")
	}
	if e.SessionRetries() != 1 {
		t.Errorf("session retries = %d, want 1", e.SessionRetries())
	}
}

func TestBackoffSchedule(t *testing.T) {
	var delays []time.Duration
	model := &fakeModel{reply: "1. A\n2. B\n3. C"}
	e := NewEngine(nil, model, nil, nil)
	e.sleep = func(_ context.Context, d time.Duration) { delays = append(delays, d) }

	e.Heal(context.Background(), errors.New("timed out"), "", "web_search", nil,
		func(context.Context) error { return errors.New("nope") })

	want := []time.Duration{1 * time.Second, 5 * time.Second, 15 * time.Second}
	if len(delays) != len(want) {
		t.Fatalf("delays = %v", delays)
	}
	for i := range want {
		if delays[i] != want[i] {
			t.Errorf("delay[%d] = %v, want %v", i, delays[i], want[i])
		}
	}
}

func TestParseFixes(t *testing.T) {
	reply := "Here are some ideas:\n1. First fix\n2) Second fix\n- Third fix\n4. Fourth fix"
	fixes := parseFixes(reply)
	if len(fixes) != 3 {
		t.Fatalf("fixes = %v", fixes)
	}
	if fixes[0] != "First fix" || fixes[1] != "Second fix" || fixes[2] != "Third fix" {
		t.Errorf("fixes = %v", fixes)
	}
}
