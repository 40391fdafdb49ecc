package tools

import (
	"encoding/json"
	"regexp"
	"strings"
)

const callPrefix = "[TOOL:"

// callName matches the tool name and opening parenthesis after the prefix.
var callName = regexp.MustCompile(`^([A-Za-z_][A-Za-z0-9_]*)\(`)

// ParsedCall is a tool request found in model output.
type ParsedCall struct {
	ToolID string
	Args   map[string]interface{}
	Raw    string
}

// callSpan locates one [TOOL:name(args)] directive in a text.
type callSpan struct {
	start, end int
	name, args string
}

// ParseCalls extracts every tool directive from text, in order. Directives
// whose arguments are not valid JSON get an "input" argument holding the raw text.
func ParseCalls(text string) []ParsedCall {
	spans := scanCalls(text)
	if len(spans) == 0 {
		return nil
	}

	calls := make([]ParsedCall, 0, len(spans))
	for _, sp := range spans {
		calls = append(calls, ParsedCall{
			ToolID: sp.name,
			Args:   parseArgs(sp.args),
			Raw:    text[sp.start:sp.end],
		})
	}
	return calls
}

// StripCalls removes tool directives from text.
func StripCalls(text string) string {
	spans := scanCalls(text)
	if len(spans) == 0 {
		return strings.TrimSpace(text)
	}

	var b strings.Builder
	last := 0
	for _, sp := range spans {
		b.WriteString(text[last:sp.start])
		last = sp.end
	}
	b.WriteString(text[last:])
	return strings.TrimSpace(b.String())
}

// scanCalls finds directives left to right. The argument list ends at the
// first ")]" outside JSON strings and outside nested brackets, so arguments
// may themselves contain ")]".
func scanCalls(text string) []callSpan {
	var spans []callSpan
	pos := 0
	for {
		i := strings.Index(text[pos:], callPrefix)
		if i < 0 {
			return spans
		}
		start := pos + i
		head := start + len(callPrefix)

		m := callName.FindStringSubmatch(text[head:])
		if m == nil {
			pos = head
			continue
		}
		argsStart := head + len(m[0])

		argsEnd := closeArgs(text[argsStart:])
		if argsEnd < 0 {
			pos = head
			continue
		}
		spans = append(spans, callSpan{
			start: start,
			end:   argsStart + argsEnd + len(")]"),
			name:  m[1],
			args:  text[argsStart : argsStart+argsEnd],
		})
		pos = argsStart + argsEnd + len(")]")
	}
}

// closeArgs returns the offset of the ")]" closing an argument list, or -1.
// Unbalanced arguments fall back to the first ")]".
func closeArgs(s string) int {
	depth := 0
	inString, escaped := false, false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '(', '[', '{':
			depth++
		case ']', '}':
			if depth > 0 {
				depth--
			}
		case ')':
			if depth == 0 && i+1 < len(s) && s[i+1] == ']' {
				return i
			}
			if depth > 0 {
				depth--
			}
		}
	}
	return strings.Index(s, ")]")
}

func parseArgs(raw string) map[string]interface{} {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return map[string]interface{}{}
	}

	body := raw
	if !strings.HasPrefix(body, "{") {
		body = "{" + body + "}"
	}

	var args map[string]interface{}
	if err := json.Unmarshal([]byte(body), &args); err == nil {
		return args
	}
	return map[string]interface{}{"input": strings.Trim(raw, `"`)}
}
