// Package guard implements the layered output redactor applied to every
// string crossing the system boundary, in both directions.
package guard

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
)

// knownSecretMask replaces any value registered with the secret manager.
const knownSecretMask = "[KNOWN SECRET MASKED]"

// SecretSource supplies the known secret values to replace. It is satisfied
// by secrets.Manager.
type SecretSource interface {
	MaskValues() []string
}

// Pattern is one redaction rule: anything the expression matches is
// replaced with the category-specific placeholder.
type Pattern struct {
	Category    string
	Regexp      *regexp.Regexp
	Replacement string
}

// Redaction records a single substitution made during one sanitize pass.
type Redaction struct {
	Category    string `json:"category"`
	Replacement string `json:"replacement"`
}

// Result is the outcome of one sanitize pass.
type Result struct {
	Original    string      `json:"-"`
	Sanitized   string      `json:"sanitized"`
	Redactions  []Redaction `json:"redactions,omitempty"`
	WasModified bool        `json:"was_modified"`
}

// secretPatterns are the built-in secret rules, applied in order.
var secretPatterns = []Pattern{
	{"openai_key", regexp.MustCompile(`sk-[A-Za-z0-9]{20,}`), "[OPENAI_KEY_REDACTED]"},
	{"anthropic_key", regexp.MustCompile(`sk-ant-[A-Za-z0-9_-]{20,}`), "[ANTHROPIC_KEY_REDACTED]"},
	{"google_key", regexp.MustCompile(`AIza[0-9A-Za-z_-]{35}`), "[GOOGLE_KEY_REDACTED]"},
	{"github_token", regexp.MustCompile(`gh[ps]_[A-Za-z0-9]{36,}`), "[GITHUB_TOKEN_REDACTED]"},
	{"aws_access_key", regexp.MustCompile(`AKIA[0-9A-Z]{16}`), "[AWS_KEY_REDACTED]"},
	{"discord_token", regexp.MustCompile(`[MNO][A-Za-z\d_-]{23,25}\.[A-Za-z\d_-]{6}\.[A-Za-z\d_-]{27,}`), "[DISCORD_TOKEN_REDACTED]"},
	{"jwt", regexp.MustCompile(`eyJ[A-Za-z0-9_-]+\.eyJ[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+`), "[JWT_REDACTED]"},
	{"private_key", regexp.MustCompile(`-----BEGIN [A-Z ]*PRIVATE KEY-----[\s\S]*?-----END [A-Z ]*PRIVATE KEY-----`), "[PRIVATE_KEY_REDACTED]"},
	{"ethereum_key", regexp.MustCompile(`0x[0-9a-fA-F]{64}`), "[ETH_KEY_REDACTED]"},
	{"generic_secret", regexp.MustCompile(`(?i)\b(password|secret|token)\b\s*[=:]\s*["']?[^\s"']{6,}["']?`), "[SECRET_REDACTED]"},
	{"slack_token", regexp.MustCompile(`xox[bapsr]-[A-Za-z0-9-]{10,}`), "[SLACK_TOKEN_REDACTED]"},
	{"telegram_token", regexp.MustCompile(`\b\d{8,10}:[A-Za-z0-9_-]{35}\b`), "[TELEGRAM_TOKEN_REDACTED]"},
}

// piiPatterns are the built-in PII rules, applied after the secret rules.
var piiPatterns = []Pattern{
	{"ssn", regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`), "[SSN_REDACTED]"},
	{"credit_card", regexp.MustCompile(`\b(?:4\d{3}|5[1-5]\d{2}|3[47]\d{2}|6(?:011|5\d{2}))[ -]?\d{4}[ -]?\d{4}[ -]?\d{1,4}\b`), "[CARD_REDACTED]"},
	{"phone", regexp.MustCompile(`\b(?:\+1[ .-]?)?\(?\d{3}\)?[ .-]\d{3}[ .-]\d{4}\b`), "[PHONE_REDACTED]"},
	{"email", regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`), "[EMAIL_REDACTED]"},
	{"street_address", regexp.MustCompile(`\b\d{1,5} (?:[A-Z][a-z]+ )+(?:Street|St|Avenue|Ave|Road|Rd|Boulevard|Blvd|Lane|Ln|Drive|Dr|Court|Ct|Way)\b`), "[ADDRESS_REDACTED]"},
	{"ipv4", regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`), "[IP_REDACTED]"},
	{"dob", regexp.MustCompile(`\b(?:0?[1-9]|1[0-2])[/-](?:0?[1-9]|[12]\d|3[01])[/-](?:19|20)\d{2}\b`), "[DOB_REDACTED]"},
}

// Guard is the layered sanitizer. It is safe for concurrent use: the
// pattern sets are immutable after construction apart from AddPattern,
// which takes the write lock, and the counters are atomic.
type Guard struct {
	logger  *slog.Logger
	secrets SecretSource

	mu     sync.RWMutex
	custom []Pattern
	skip   map[string]bool

	scans      atomic.Int64
	redactions atomic.Int64
}

// New creates a guard. secrets may be nil when no known-secret replacement
// is wanted (tests, tooling).
func New(logger *slog.Logger, secrets SecretSource) *Guard {
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{
		logger:  logger.With("component", "guard"),
		secrets: secrets,
		skip:    make(map[string]bool),
	}
}

// AddPattern registers a custom redaction rule applied after the built-in
// layers.
func (g *Guard) AddPattern(category, expr, replacement string) error {
	re, err := regexp.Compile(expr)
	if err != nil {
		return fmt.Errorf("compile pattern %q: %w", category, err)
	}
	g.mu.Lock()
	g.custom = append(g.custom, Pattern{Category: category, Regexp: re, Replacement: replacement})
	g.mu.Unlock()
	return nil
}

// SkipCategory disables a category for all future passes.
func (g *Guard) SkipCategory(category string) {
	g.mu.Lock()
	g.skip[category] = true
	g.mu.Unlock()
}

// Sanitize runs the full redaction stack over an outbound string.
func (g *Guard) Sanitize(s string) Result {
	return g.run(s)
}

// SanitizeInbound runs the same stack over text received from a transport,
// so secrets pasted by users never enter the history in the clear.
func (g *Guard) SanitizeInbound(s string) Result {
	return g.run(s)
}

// Stats returns the total scan and redaction counters.
func (g *Guard) Stats() (scans, redactions int64) {
	return g.scans.Load(), g.redactions.Load()
}

func (g *Guard) run(s string) Result {
	g.scans.Add(1)
	result := Result{Original: s, Sanitized: s}

	// Layer 1: known secrets.
	if g.secrets != nil && !g.skipped("known_secret") {
		for _, secret := range g.secrets.MaskValues() {
			if secret == "" || !strings.Contains(result.Sanitized, secret) {
				continue
			}
			n := strings.Count(result.Sanitized, secret)
			result.Sanitized = strings.ReplaceAll(result.Sanitized, secret, knownSecretMask)
			for i := 0; i < n; i++ {
				result.Redactions = append(result.Redactions, Redaction{Category: "known_secret", Replacement: knownSecretMask})
			}
		}
	}

	// Layers 2-4: secret patterns, PII patterns, custom patterns.
	result.Sanitized = g.applyPatterns(result.Sanitized, secretPatterns, &result)
	result.Sanitized = g.applyPatterns(result.Sanitized, piiPatterns, &result)
	g.mu.RLock()
	custom := g.custom
	g.mu.RUnlock()
	result.Sanitized = g.applyPatterns(result.Sanitized, custom, &result)

	result.WasModified = result.Sanitized != result.Original
	if n := len(result.Redactions); n > 0 {
		g.redactions.Add(int64(n))
		g.logger.Debug("redacted outbound content", "redactions", n)
	}
	return result
}

// applyPatterns substitutes matches right-to-left so earlier match offsets
// stay valid while the string is rewritten in place.
func (g *Guard) applyPatterns(s string, patterns []Pattern, result *Result) string {
	for _, p := range patterns {
		if g.skipped(p.Category) {
			continue
		}
		matches := p.Regexp.FindAllStringIndex(s, -1)
		if len(matches) == 0 {
			continue
		}
		for i := len(matches) - 1; i >= 0; i-- {
			m := matches[i]
			s = s[:m[0]] + p.Replacement + s[m[1]:]
			result.Redactions = append(result.Redactions, Redaction{Category: p.Category, Replacement: p.Replacement})
		}
	}
	return s
}

func (g *Guard) skipped(category string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.skip[category]
}
