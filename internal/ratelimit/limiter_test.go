package ratelimit

import (
	"strings"
	"testing"
	"time"
)

func newTestLimiter(config Config) (*Limiter, *time.Time) {
	clock := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	l := NewLimiter(config, nil)
	l.now = func() time.Time { return clock }
	l.lastReset = clock
	return l, &clock
}

func TestCheckAllowsUnderLimit(t *testing.T) {
	l, _ := newTestLimiter(Config{
		Limits: map[string]CategoryLimit{"chat_model": {MaxPerMinute: 3}},
	})
	for i := 0; i < 3; i++ {
		if d := l.Check("chat_model"); !d.Allowed {
			t.Fatalf("call %d denied: %s", i, d.Reason)
		}
		l.Record("chat_model", 0)
	}
	if d := l.Check("chat_model"); d.Allowed {
		t.Fatal("fourth call allowed over a 3/min limit")
	}
}

func TestMinuteWindowSlides(t *testing.T) {
	l, clock := newTestLimiter(Config{
		Limits: map[string]CategoryLimit{"web_search": {MaxPerMinute: 1}},
	})
	l.Record("web_search", 0)
	if d := l.Check("web_search"); d.Allowed {
		t.Fatal("second call allowed inside the minute")
	}
	*clock = clock.Add(61 * time.Second)
	if d := l.Check("web_search"); !d.Allowed {
		t.Fatalf("denied after window slid: %s", d.Reason)
	}
}

func TestRetryAfterHint(t *testing.T) {
	l, clock := newTestLimiter(Config{
		Limits: map[string]CategoryLimit{"web_search": {MaxPerMinute: 1}},
	})
	l.Record("web_search", 0)
	*clock = clock.Add(20 * time.Second)
	d := l.Check("web_search")
	if d.Allowed {
		t.Fatal("allowed inside window")
	}
	if d.RetryAfter != 40*time.Second {
		t.Errorf("RetryAfter = %v, want 40s", d.RetryAfter)
	}
}

func TestHourlyCeiling(t *testing.T) {
	l, clock := newTestLimiter(Config{
		Limits: map[string]CategoryLimit{"code_execution": {MaxPerMinute: 100, MaxPerHour: 5}},
	})
	for i := 0; i < 5; i++ {
		l.Record("code_execution", 0)
		*clock = clock.Add(2 * time.Minute)
	}
	d := l.Check("code_execution")
	if d.Allowed {
		t.Fatal("allowed over the hourly ceiling")
	}
	if !strings.Contains(d.Reason, "5/hour") {
		t.Errorf("reason = %q", d.Reason)
	}
}

func TestUnknownCategoryOnlyGlobalBound(t *testing.T) {
	l, _ := newTestLimiter(Config{
		Limits: map[string]CategoryLimit{"global": {MaxPerMinute: 2}},
	})
	l.Record("novel_thing", 0)
	l.Record("novel_thing", 0)
	if d := l.Check("novel_thing"); d.Allowed {
		t.Fatal("global bucket did not bound an unknown category")
	}
}

func TestDailyBudget(t *testing.T) {
	l, clock := newTestLimiter(Config{
		DailyBudgetUSD: 1.0,
		Limits:         map[string]CategoryLimit{},
	})
	l.Record("chat_model", 0.6)
	if d := l.Check("chat_model"); !d.Allowed {
		t.Fatalf("denied under budget: %s", d.Reason)
	}
	l.Record("chat_model", 0.5)
	d := l.Check("chat_model")
	if d.Allowed {
		t.Fatal("allowed over budget")
	}
	if !strings.Contains(d.Reason, "budget") {
		t.Errorf("reason = %q", d.Reason)
	}
	if got := l.BudgetRemaining(); got != 0 {
		t.Errorf("BudgetRemaining = %v", got)
	}

	// The counter resets 24h after the last reset.
	*clock = clock.Add(25 * time.Hour)
	if d := l.Check("chat_model"); !d.Allowed {
		t.Fatalf("denied after daily reset: %s", d.Reason)
	}
}

func TestAuthLockout(t *testing.T) {
	l, clock := newTestLimiter(Config{Limits: map[string]CategoryLimit{}})
	for i := 0; i < lockoutThreshold; i++ {
		locked, _ := l.CheckAuthLockout("client-1")
		if locked {
			t.Fatalf("locked out after %d failures", i)
		}
		l.RecordAuthFailure("client-1")
	}
	locked, retry := l.CheckAuthLockout("client-1")
	if !locked {
		t.Fatal("not locked out at threshold")
	}
	if retry <= 0 || retry > lockoutWindow {
		t.Errorf("retry = %v", retry)
	}

	// Another client is unaffected.
	if locked, _ := l.CheckAuthLockout("client-2"); locked {
		t.Error("unrelated client locked out")
	}

	// Success clears the bucket.
	l.RecordAuthSuccess("client-1")
	if locked, _ := l.CheckAuthLockout("client-1"); locked {
		t.Error("still locked after success")
	}

	// Failures age out of the window.
	for i := 0; i < lockoutThreshold; i++ {
		l.RecordAuthFailure("client-1")
	}
	*clock = clock.Add(lockoutWindow + time.Minute)
	if locked, _ := l.CheckAuthLockout("client-1"); locked {
		t.Error("lockout outlived the window")
	}
}
