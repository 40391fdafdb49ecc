package builtin

import (
	"context"
	"fmt"
	"strings"

	"github.com/harun/zombiecoder/pkg/sandbox"
	"github.com/harun/zombiecoder/pkg/tools"
)

// NewTerminal returns a tool that runs allowlisted commands through sb.
func NewTerminal(sb sandbox.Sandbox, workingDir string) tools.Tool {
	return &tools.Func{
		Name: "terminal",
		Desc: "Run an allowlisted shell command (ls, cat, grep, ...).",
		Params: []tools.Parameter{
			{Name: "command", Type: "string", Description: "Command line, e.g. \"ls -la\"", Required: true},
		},
		Caps: []tools.Capability{tools.CapabilityExec},
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			command := stringArg(args, "command")
			fields := strings.Fields(command)
			if len(fields) == 0 {
				return nil, fmt.Errorf("command is required")
			}

			res, err := sb.Execute(ctx, sandbox.ExecuteRequest{
				Command:    fields[0],
				Args:       fields[1:],
				WorkingDir: workingDir,
			})
			if err != nil {
				return nil, err
			}

			return map[string]interface{}{
				"command":   command,
				"stdout":    string(res.Stdout),
				"stderr":    string(res.Stderr),
				"exit_code": res.ExitCode,
				"truncated": res.Truncated,
			}, nil
		},
	}
}
