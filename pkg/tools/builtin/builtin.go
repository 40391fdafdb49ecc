// Package builtin provides the tools shipped with the engine.
package builtin

import (
	"fmt"

	"github.com/harun/zombiecoder/pkg/sandbox"
	"github.com/harun/zombiecoder/pkg/tools"
)

// Options configures builtin tool registration. Tools whose dependency is
// missing (no sandbox, no retriever, no notes store) are skipped.
type Options struct {
	WorkspaceRoot     string
	WritableDirs      []string
	AllowedExtensions []string
	MaxFileBytes      int64
	Sandbox           sandbox.Sandbox
	Retriever         Retriever
	Notes             NoteStore
}

// DefaultExtensions lists the file types the file tools accept.
var DefaultExtensions = []string{".txt", ".md", ".go", ".py", ".js", ".ts", ".json", ".yaml", ".yml", ".html", ".css"}

const defaultMaxFileBytes = 1024 * 1024

// Register adds every builtin tool that can be built from opts.
func Register(reg *tools.Registry, opts Options) error {
	if reg == nil {
		return fmt.Errorf("tool registry is required")
	}

	list := []tools.Tool{
		NewCalculator(),
		NewCodeAnalyzer(),
	}
	if opts.WorkspaceRoot != "" {
		list = append(list, NewFileReader(opts))
	}
	if len(opts.WritableDirs) > 0 {
		list = append(list, NewFileWriter(opts))
	}
	if opts.Sandbox != nil {
		list = append(list, NewTerminal(opts.Sandbox, opts.WorkspaceRoot))
	}
	if opts.Retriever != nil {
		list = append(list, NewKnowledgeSearch(opts.Retriever))
	}
	if opts.Notes != nil {
		list = append(list, NewNotes(opts.Notes))
	}

	for _, t := range list {
		if err := reg.Register(t); err != nil {
			return fmt.Errorf("failed to register tool %s: %w", t.ID(), err)
		}
	}
	return nil
}

func stringArg(args map[string]interface{}, key string) string {
	s, _ := args[key].(string)
	return s
}
