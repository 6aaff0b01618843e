// Package ratelimit enforces per-category request ceilings over rolling
// windows, a daily cost budget, and an auth-failure lockout.
package ratelimit

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

const (
	// retention is how long bucket entries are kept.
	retention = time.Hour
	// lockoutWindow is the auth-failure observation window.
	lockoutWindow = 15 * time.Minute
	// lockoutThreshold is the failure count that triggers a lockout.
	lockoutThreshold = 5
	// globalCategory is checked recursively for every other category.
	globalCategory = "global"
)

// CategoryLimit bounds one request category.
type CategoryLimit struct {
	MaxPerMinute int `yaml:"max_per_minute"`
	MaxPerHour   int `yaml:"max_per_hour"` // 0 = no hourly ceiling
}

// Config configures the limiter.
type Config struct {
	DailyBudgetUSD float64                  `yaml:"daily_budget_usd"`
	Limits         map[string]CategoryLimit `yaml:"limits"`
}

// DefaultConfig returns the default category limits.
func DefaultConfig() Config {
	return Config{
		DailyBudgetUSD: 10.0,
		Limits: map[string]CategoryLimit{
			globalCategory:   {MaxPerMinute: 60, MaxPerHour: 1000},
			"chat_model":     {MaxPerMinute: 20, MaxPerHour: 300},
			"utility_model":  {MaxPerMinute: 30, MaxPerHour: 500},
			"browser_model":  {MaxPerMinute: 10, MaxPerHour: 100},
			"code_execution": {MaxPerMinute: 10, MaxPerHour: 100},
			"web_search":     {MaxPerMinute: 10, MaxPerHour: 100},
			"browser_agent":  {MaxPerMinute: 5, MaxPerHour: 50},
		},
	}
}

// Decision is the outcome of a Check call.
type Decision struct {
	Allowed    bool
	Reason     string
	RetryAfter time.Duration
}

// Limiter holds per-category timestamp buckets and the daily cost counter.
// A single mutex serializes all bucket access; every operation is O(evicted)
// amortized since eviction only pops from the front of a slice-deque.
type Limiter struct {
	logger *slog.Logger

	mu        sync.Mutex
	config    Config
	buckets   map[string][]time.Time
	dailyCost float64
	lastReset time.Time

	authMu sync.Mutex
	auth   map[string][]time.Time

	now func() time.Time // injectable for tests
}

// NewLimiter creates a limiter from config. Categories without an explicit
// limit are unconstrained (beyond the global bucket and the budget).
func NewLimiter(config Config, logger *slog.Logger) *Limiter {
	if logger == nil {
		logger = slog.Default()
	}
	if config.Limits == nil {
		config.Limits = DefaultConfig().Limits
	}
	return &Limiter{
		logger:    logger.With("component", "ratelimit"),
		config:    config,
		buckets:   make(map[string][]time.Time),
		auth:      make(map[string][]time.Time),
		lastReset: time.Now(),
		now:       time.Now,
	}
}

// Check reports whether a request in the category may proceed right now.
// It does not consume anything; callers pair it with Record on success.
func (l *Limiter) Check(category string) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.checkLocked(category)
}

func (l *Limiter) checkLocked(category string) Decision {
	now := l.now()

	// Daily cost counter resets 24h after the last reset, not at midnight.
	if now.Sub(l.lastReset) > 24*time.Hour {
		l.dailyCost = 0
		l.lastReset = now
	}
	if l.config.DailyBudgetUSD > 0 && l.dailyCost >= l.config.DailyBudgetUSD {
		return Decision{
			Allowed: false,
			Reason:  fmt.Sprintf("daily budget of $%.2f exhausted", l.config.DailyBudgetUSD),
		}
	}

	bucket := l.evictLocked(category, now)
	limit, limited := l.config.Limits[category]

	if limited && limit.MaxPerMinute > 0 {
		cutoff := now.Add(-time.Minute)
		inMinute := 0
		var oldest time.Time
		for _, t := range bucket {
			if t.After(cutoff) {
				if inMinute == 0 {
					oldest = t
				}
				inMinute++
			}
		}
		if inMinute >= limit.MaxPerMinute {
			wait := time.Minute - now.Sub(oldest)
			if wait < 0 {
				wait = 0
			}
			return Decision{
				Allowed:    false,
				Reason:     fmt.Sprintf("%s exceeded %d/min", category, limit.MaxPerMinute),
				RetryAfter: wait,
			}
		}
	}

	if limited && limit.MaxPerHour > 0 && len(bucket) >= limit.MaxPerHour {
		return Decision{
			Allowed: false,
			Reason:  fmt.Sprintf("%s exceeded %d/hour", category, limit.MaxPerHour),
		}
	}

	if category != globalCategory {
		return l.checkLocked(globalCategory)
	}
	return Decision{Allowed: true}
}

// Record accounts one request in the category and the global bucket, and
// adds its cost to the daily counter.
func (l *Limiter) Record(category string, costUSD float64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.buckets[category] = append(l.evictLocked(category, now), now)
	if category != globalCategory {
		l.buckets[globalCategory] = append(l.evictLocked(globalCategory, now), now)
	}
	if costUSD > 0 {
		l.dailyCost += costUSD
	}
}

// DailyCost returns the accumulated cost since the last 24h reset.
func (l *Limiter) DailyCost() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dailyCost
}

// BudgetRemaining returns how much of the daily budget is left.
func (l *Limiter) BudgetRemaining() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	remaining := l.config.DailyBudgetUSD - l.dailyCost
	if remaining < 0 {
		remaining = 0
	}
	return remaining
}

// evictLocked drops entries older than the retention window. It pops from
// the front only, relying on the bucket being append-ordered.
func (l *Limiter) evictLocked(category string, now time.Time) []time.Time {
	bucket := l.buckets[category]
	cutoff := now.Add(-retention)
	i := 0
	for i < len(bucket) && !bucket[i].After(cutoff) {
		i++
	}
	if i > 0 {
		bucket = bucket[i:]
		l.buckets[category] = bucket
	}
	return bucket
}

// RecordAuthFailure notes a failed authentication for the client.
func (l *Limiter) RecordAuthFailure(clientID string) {
	l.authMu.Lock()
	defer l.authMu.Unlock()
	now := l.now()
	bucket := l.evictAuthLocked(clientID, now)
	l.auth[clientID] = append(bucket, now)
	if len(l.auth[clientID]) >= lockoutThreshold {
		l.logger.Warn("auth lockout engaged", "client_id", clientID, "failures", len(l.auth[clientID]))
	}
}

// CheckAuthLockout reports whether the client is locked out and, if so,
// how long until the oldest failure ages out of the window.
func (l *Limiter) CheckAuthLockout(clientID string) (bool, time.Duration) {
	l.authMu.Lock()
	defer l.authMu.Unlock()
	now := l.now()
	bucket := l.evictAuthLocked(clientID, now)
	if len(bucket) < lockoutThreshold {
		return false, 0
	}
	retry := lockoutWindow - now.Sub(bucket[0])
	if retry < 0 {
		retry = 0
	}
	return true, retry
}

// RecordAuthSuccess clears the client's failure bucket.
func (l *Limiter) RecordAuthSuccess(clientID string) {
	l.authMu.Lock()
	defer l.authMu.Unlock()
	delete(l.auth, clientID)
}

func (l *Limiter) evictAuthLocked(clientID string, now time.Time) []time.Time {
	bucket := l.auth[clientID]
	cutoff := now.Add(-lockoutWindow)
	i := 0
	for i < len(bucket) && !bucket[i].After(cutoff) {
		i++
	}
	if i > 0 {
		bucket = bucket[i:]
		if len(bucket) == 0 {
			delete(l.auth, clientID)
		} else {
			l.auth[clientID] = bucket
		}
	}
	return bucket
}
