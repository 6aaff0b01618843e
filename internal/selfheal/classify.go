// Package selfheal classifies tool and runtime errors and attempts
// recovery through memory lookup, LLM reasoning, and bounded retries.
package selfheal

import (
	"regexp"
	"time"
)

// Category buckets an error by its likely origin.
type Category string

const (
	CategoryDependency Category = "dependency"
	CategoryNetwork    Category = "network"
	CategoryConfig     Category = "config"
	CategoryRuntime    Category = "runtime"
	CategoryTool       Category = "tool"
	CategoryResource   Category = "resource"
	CategorySecurity   Category = "security"
	CategoryData       Category = "data"
	CategoryUnknown    Category = "unknown"
)

// Severity decides whether the engine may attempt recovery.
type Severity string

const (
	SeverityRepairable Severity = "repairable"
	SeverityPartial    Severity = "partial"
	SeverityCritical   Severity = "critical"
)

// ClassifiedError is the classifier's verdict plus the failure context.
type ClassifiedError struct {
	Category  Category       `json:"category"`
	Severity  Severity       `json:"severity"`
	Message   string         `json:"message"`
	Traceback string         `json:"traceback_str,omitempty"`
	ToolName  string         `json:"tool_name,omitempty"`
	ToolArgs  map[string]any `json:"tool_args,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// categoryPatterns are matched in order against message + traceback; the
// first hit wins. Security and data sit first so nothing downgrades them.
var categoryPatterns = []struct {
	category Category
	patterns []*regexp.Regexp
}{
	{CategorySecurity, compileAll(
		`SECURITY_BLOCKED`,
		`(?i)unauthorized`,
		`(?i)credential (?:leak|exposed)`,
		`(?i)sandbox[ _-]?breach`,
		`(?i)access denied`,
	)},
	{CategoryData, compileAll(
		`(?i)corrupt(?:ed|ion)?`,
		`(?i)checksum mismatch`,
		`(?i)integrity (?:check|violation)`,
	)},
	{CategoryDependency, compileAll(
		`(?i)command not found`,
		`(?i)executable file not found`,
		`(?i)no module named`,
		`(?i)missing dependency`,
		`(?i)cannot find package`,
	)},
	{CategoryNetwork, compileAll(
		`(?i)connection (?:refused|reset|closed)`,
		`(?i)no such host`,
		`(?i)network is unreachable`,
		`(?i)dial tcp`,
		`(?i)tls handshake`,
		`(?i)timed? ?out`,
	)},
	{CategoryConfig, compileAll(
		`(?i)invalid config`,
		`(?i)missing (?:config|configuration)`,
		`(?i)unknown field`,
		`(?i)environment variable .* not set`,
	)},
	{CategoryResource, compileAll(
		`(?i)out of memory`,
		`(?i)no space left`,
		`(?i)disk full`,
		`(?i)too many open files`,
		`(?i)resource exhausted`,
	)},
	{CategoryTool, compileAll(
		`(?i)unknown tool`,
		`(?i)invalid argument`,
		`(?i)malformed json`,
		`(?i)cannot unmarshal`,
		`(?i)parse error`,
	)},
	{CategoryRuntime, compileAll(
		`(?i)panic:`,
		`(?i)nil pointer`,
		`(?i)index out of range`,
		`(?i)runtime error`,
	)},
}

func compileAll(exprs ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(exprs))
	for i, e := range exprs {
		out[i] = regexp.MustCompile(e)
	}
	return out
}

// Classify matches the error text against the ordered category patterns.
// Security and data failures are always critical and are never healed.
func Classify(err error, traceback, toolName string, toolArgs map[string]any) *ClassifiedError {
	message := ""
	if err != nil {
		message = err.Error()
	}
	haystack := message + "\n" + traceback

	category := CategoryUnknown
	for _, group := range categoryPatterns {
		for _, re := range group.patterns {
			if re.MatchString(haystack) {
				category = group.category
				break
			}
		}
		if category != CategoryUnknown {
			break
		}
	}

	severity := SeverityRepairable
	if category == CategorySecurity || category == CategoryData {
		severity = SeverityCritical
	}

	return &ClassifiedError{
		Category:  category,
		Severity:  severity,
		Message:   message,
		Traceback: traceback,
		ToolName:  toolName,
		ToolArgs:  toolArgs,
		Timestamp: time.Now(),
	}
}
