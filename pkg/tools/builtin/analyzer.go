package builtin

import (
	"context"
	"regexp"
	"strings"

	"github.com/harun/zombiecoder/pkg/tools"
)

var (
	goFuncPattern     = regexp.MustCompile(`(?m)^func\s+(\([^)]*\)\s*)?\w+`)
	pythonFuncPattern = regexp.MustCompile(`(?m)^\s*def\s+\w+`)
	jsFuncPattern     = regexp.MustCompile(`(function\s+\w+|(const|let)\s+\w+\s*=\s*(\([^)]*\)|\w+)\s*=>)`)
)

// Analysis is the report produced by the code analyzer.
type Analysis struct {
	Language    string   `json:"language"`
	Lines       int      `json:"lines"`
	Characters  int      `json:"characters"`
	Functions   int      `json:"functions"`
	Complexity  string   `json:"complexity"`
	Suggestions []string `json:"suggestions"`
	Issues      []string `json:"issues"`
}

// NewCodeAnalyzer returns a tool that reports simple heuristics about a snippet.
func NewCodeAnalyzer() tools.Tool {
	return &tools.Func{
		Name: "code_analyzer",
		Desc: "Report size, function count and common issues for a code snippet.",
		Params: []tools.Parameter{
			{Name: "code", Type: "string", Description: "Source code to analyze", Required: true},
			{Name: "language", Type: "string", Description: "go, python, javascript or typescript", Default: "go"},
		},
		Caps: []tools.Capability{tools.CapabilityCompute},
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			language := stringArg(args, "language")
			if language == "" {
				language = "go"
			}
			return Analyze(stringArg(args, "code"), language), nil
		},
	}
}

// Analyze inspects code with per-language heuristics.
func Analyze(code, language string) Analysis {
	language = strings.ToLower(language)
	a := Analysis{
		Language:    language,
		Lines:       strings.Count(code, "\n") + 1,
		Characters:  len(code),
		Suggestions: []string{},
		Issues:      []string{},
	}

	switch language {
	case "go":
		a.Functions = len(goFuncPattern.FindAllString(code, -1))
		if strings.Contains(code, "panic(") {
			a.Issues = append(a.Issues, "Prefer returning an error over panic")
		}
		if strings.Contains(code, "_ = err") {
			a.Issues = append(a.Issues, "Error is discarded")
		}
		if strings.Count(code, "fmt.Println(") > 5 {
			a.Suggestions = append(a.Suggestions, "Consider a structured logger instead of fmt.Println")
		}
	case "python":
		a.Functions = len(pythonFuncPattern.FindAllString(code, -1))
		if strings.Contains(code, "import *") {
			a.Issues = append(a.Issues, "Avoid 'import *'; import specific names")
		}
		if strings.Count(code, "print(") > 5 {
			a.Suggestions = append(a.Suggestions, "Consider logging instead of multiple print statements")
		}
	case "javascript", "typescript":
		a.Functions = len(jsFuncPattern.FindAllString(code, -1))
		if strings.Contains(code, "var ") {
			a.Suggestions = append(a.Suggestions, "Use 'let' or 'const' instead of 'var'")
		}
		if strings.Contains(code, "==") && !strings.Contains(code, "===") {
			a.Suggestions = append(a.Suggestions, "Use '===' for strict equality")
		}
	}

	if a.Functions == 0 && len(code) > 100 {
		a.Suggestions = append(a.Suggestions, "Consider breaking this code into functions")
	}

	switch {
	case a.Lines > 200:
		a.Complexity = "high"
	case a.Lines > 50:
		a.Complexity = "medium"
	default:
		a.Complexity = "low"
	}
	return a
}
