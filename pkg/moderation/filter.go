// Package moderation screens user input before it reaches an agent and
// redacts sensitive data from what goes in and out.
package moderation

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/harun/zombiecoder/pkg/errs"
)

// DefaultMaxInputLength bounds a single input, in characters.
const DefaultMaxInputLength = 32000

// Config configures a Filter.
type Config struct {
	Enabled         bool
	MaxInputLength  int
	BlockedKeywords []string
	// BlockedPatterns are regular expressions that reject the input outright.
	BlockedPatterns []string
	// RedactSensitive replaces secrets and personal data with placeholders.
	RedactSensitive bool
}

// DefaultConfig blocks script and shell injection payloads and redacts secrets.
func DefaultConfig() Config {
	return Config{
		Enabled:        true,
		MaxInputLength: DefaultMaxInputLength,
		BlockedPatterns: []string{
			`(?is)<script[^>]*>.*?</script>`,
			`(?i)\b(javascript|vbscript):`,
			`(?i)\bxp_cmdshell\b`,
			`(?i)\bexec\s+master\.\w+`,
			`(?i)\brm\s+-rf\s+/(\s|$)`,
			`[\x00-\x08\x0b\x0c\x0e-\x1f\x7f]`,
		},
		RedactSensitive: true,
	}
}

type sensitivePattern struct {
	name string
	re   *regexp.Regexp
}

var sensitivePatterns = []sensitivePattern{
	{"API_KEY", regexp.MustCompile(`\b(sk-[A-Za-z0-9_-]{20,}|sk-ant-[A-Za-z0-9_-]{20,}|AKIA[0-9A-Z]{16})\b`)},
	{"CREDIT_CARD", regexp.MustCompile(`\b(?:\d{4}[- ]?){3}\d{4}\b`)},
	{"SSN", regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)},
}

// Result is the outcome of screening an input.
type Result struct {
	Text   string
	Issues []string
}

// Filter checks content against configured keywords and patterns.
type Filter struct {
	enabled   bool
	maxLength int
	keywords  []string
	patterns  []*regexp.Regexp
	redact    bool
}

// New creates a filter.
func New(cfg Config) (*Filter, error) {
	patterns := make([]*regexp.Regexp, 0, len(cfg.BlockedPatterns))
	for _, p := range cfg.BlockedPatterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %s: %w", p, err)
		}
		patterns = append(patterns, re)
	}
	if cfg.MaxInputLength <= 0 {
		cfg.MaxInputLength = DefaultMaxInputLength
	}

	return &Filter{
		enabled:   cfg.Enabled,
		maxLength: cfg.MaxInputLength,
		keywords:  cfg.BlockedKeywords,
		patterns:  patterns,
		redact:    cfg.RedactSensitive,
	}, nil
}

// Screen validates input. Blocked input fails with InvalidRequest; accepted
// input comes back with sensitive data redacted.
func (f *Filter) Screen(input string) (Result, error) {
	const op = "moderation.Screen"

	if strings.TrimSpace(input) == "" {
		return Result{}, errs.New(errs.CodeInvalidRequest, op, "input is empty")
	}
	if !f.enabled {
		return Result{Text: input}, nil
	}
	if n := utf8.RuneCountInString(input); n > f.maxLength {
		return Result{}, errs.New(errs.CodeInvalidRequest, op, "input is %d characters, limit is %d", n, f.maxLength)
	}

	normalized := strings.ToLower(input)
	for _, kw := range f.keywords {
		if strings.Contains(normalized, strings.ToLower(kw)) {
			return Result{}, errs.New(errs.CodeInvalidRequest, op, "input contains blocked keyword: %s", kw)
		}
	}
	for i, re := range f.patterns {
		if re.MatchString(input) {
			return Result{}, errs.New(errs.CodeInvalidRequest, op, "input matches blocked pattern #%d", i+1).
				WithDetail("pattern", re.String())
		}
	}

	res := Result{Text: input}
	if f.redact {
		res.Text, res.Issues = redact(input)
	}
	return res, nil
}

// Sanitize redacts sensitive data from text, typically a model response.
func (f *Filter) Sanitize(text string) string {
	if !f.enabled || !f.redact {
		return text
	}
	out, _ := redact(text)
	return out
}

func redact(text string) (string, []string) {
	var issues []string
	for _, p := range sensitivePatterns {
		if p.re.MatchString(text) {
			issues = append(issues, "redacted "+strings.ToLower(p.name))
			text = p.re.ReplaceAllString(text, "["+p.name+"_REDACTED]")
		}
	}
	return text, issues
}
