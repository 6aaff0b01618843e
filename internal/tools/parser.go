package tools

import (
	"strings"

	"github.com/yosuke-furukawa/json5/encoding/json5"

	"github.com/itak-ai/itak/pkg/models"
)

// wireCall is the subset of the model's JSON the engine acts on; any
// other fields are ignored.
type wireCall struct {
	ToolName string         `json:"tool_name"`
	ToolArgs map[string]any `json:"tool_args"`
	Thoughts []string       `json:"thoughts"`
	Headline string         `json:"headline"`
}

// ParseToolCall extracts a tool call from assistant text. Code fences are
// stripped, then each brace-balanced region is tried in order with a
// permissive parser (single quotes, trailing commas, unquoted keys).
// Returns nil when no region parses into an object with a tool_name.
func ParseToolCall(text string) *models.ToolCall {
	text = stripFences(text)

	for start := 0; ; {
		open := strings.IndexByte(text[start:], '{')
		if open < 0 {
			return nil
		}
		open += start
		end := matchBrace(text, open)
		if end < 0 {
			// No closing brace anywhere after this point.
			return nil
		}

		var wire wireCall
		region := normalizeQuotes(text[open : end+1])
		if err := json5.Unmarshal([]byte(region), &wire); err == nil && wire.ToolName != "" {
			args := wire.ToolArgs
			if args == nil {
				args = map[string]any{}
			}
			return &models.ToolCall{
				ToolName: wire.ToolName,
				ToolArgs: args,
				Thoughts: wire.Thoughts,
				Headline: wire.Headline,
			}
		}
		start = open + 1
	}
}

// stripFences removes markdown code fence lines so fenced JSON parses.
func stripFences(text string) string {
	if !strings.Contains(text, "```") {
		return text
	}
	var b strings.Builder
	for _, line := range strings.Split(text, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			continue
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return b.String()
}

// normalizeQuotes rewrites single-quoted strings as double-quoted ones
// so the JSON5 decoder accepts them. Double-quoted strings pass through
// untouched.
func normalizeQuotes(region string) string {
	if !strings.Contains(region, "'") {
		return region
	}
	var b strings.Builder
	b.Grow(len(region))
	for i := 0; i < len(region); {
		switch region[i] {
		case '"':
			i = copyDoubleQuoted(&b, region, i)
		case '\'':
			i = rewriteSingleQuoted(&b, region, i)
		default:
			b.WriteByte(region[i])
			i++
		}
	}
	return b.String()
}

// copyDoubleQuoted copies the double-quoted string starting at i verbatim
// and returns the index just past its closing quote.
func copyDoubleQuoted(b *strings.Builder, s string, i int) int {
	b.WriteByte(s[i])
	for i++; i < len(s); i++ {
		b.WriteByte(s[i])
		if s[i] == '\\' && i+1 < len(s) {
			i++
			b.WriteByte(s[i])
			continue
		}
		if s[i] == '"' {
			return i + 1
		}
	}
	return i
}

// rewriteSingleQuoted emits the single-quoted string starting at i as a
// double-quoted one: \' becomes a plain apostrophe and embedded double
// quotes gain a backslash.
func rewriteSingleQuoted(b *strings.Builder, s string, i int) int {
	b.WriteByte('"')
	for i++; i < len(s); i++ {
		switch s[i] {
		case '\\':
			if i+1 < len(s) && s[i+1] == '\'' {
				b.WriteByte('\'')
				i++
				continue
			}
			b.WriteByte('\\')
			if i+1 < len(s) {
				i++
				b.WriteByte(s[i])
			}
		case '\'':
			b.WriteByte('"')
			return i + 1
		case '"':
			b.WriteString(`\"`)
		default:
			b.WriteByte(s[i])
		}
	}
	return i
}

// matchBrace returns the index of the brace closing the one at open, or
// -1. String literals (both quote styles) and escapes are skipped.
func matchBrace(text string, open int) int {
	depth := 0
	var quote byte
	for i := open; i < len(text); i++ {
		c := text[i]
		if quote != 0 {
			switch c {
			case '\\':
				i++
			case quote:
				quote = 0
			}
			continue
		}
		switch c {
		case '"', '\'':
			quote = c
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}
