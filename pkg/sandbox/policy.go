package sandbox

import (
	"fmt"
	"strings"
)

// CommandPolicy narrows what an allowlisted command may do.
type CommandPolicy struct {
	// Subcommands, when set, lists the values the first argument may take.
	// Global options before the subcommand are rejected.
	Subcommands []string `json:"subcommands,omitempty"`

	// DeniedFlags are rejected anywhere in the arguments, alone or as "flag=value".
	DeniedFlags []string `json:"denied_flags,omitempty"`

	// CombinedShortFlags splits "-abc" into "-a", "-b" and "-c" before matching.
	CombinedShortFlags bool `json:"combined_short_flags,omitempty"`
}

// DefaultCommandPolicies restricts the allowlisted commands that can start
// other programs or change files outside their output.
func DefaultCommandPolicies() map[string]CommandPolicy {
	return map[string]CommandPolicy{
		"find": {
			DeniedFlags: []string{"-exec", "-execdir", "-ok", "-okdir", "-delete",
				"-fprint", "-fprint0", "-fprintf", "-fls"},
		},
		"go": {
			Subcommands: []string{"version", "list", "doc", "vet", "fmt"},
			DeniedFlags: []string{"-exec", "-toolexec", "-vettool", "-overlay", "-modfile"},
		},
		"git": {
			Subcommands: []string{"status", "log", "diff", "show", "branch",
				"rev-parse", "ls-files", "blame", "grep"},
			DeniedFlags: []string{"-c", "-C", "--exec-path", "--upload-pack", "--receive-pack",
				"--git-dir", "--work-tree", "--output", "--ext-diff", "--textconv", "--open-files-in-pager", "-O"},
		},
		"grep": {
			DeniedFlags:        []string{"-R", "--dereference-recursive"},
			CombinedShortFlags: true,
		},
	}
}

func (p CommandPolicy) check(command string, args []string) error {
	if len(p.Subcommands) > 0 {
		if len(args) == 0 || !contains(p.Subcommands, args[0]) {
			sub := ""
			if len(args) > 0 {
				sub = args[0]
			}
			return fmt.Errorf("%w: %s %s", ErrArgumentNotAllowed, command, sub)
		}
	}

	for _, arg := range args {
		for _, name := range p.flagNames(arg) {
			if contains(p.DeniedFlags, name) {
				return fmt.Errorf("%w: %s %s", ErrArgumentNotAllowed, command, arg)
			}
		}
	}
	return nil
}

func (p CommandPolicy) flagNames(arg string) []string {
	if !strings.HasPrefix(arg, "-") {
		return nil
	}
	if i := strings.IndexByte(arg, '='); i > 0 {
		arg = arg[:i]
	}
	if !p.CombinedShortFlags || strings.HasPrefix(arg, "--") || len(arg) <= 2 {
		return []string{arg}
	}
	names := make([]string, 0, len(arg)-1)
	for _, r := range arg[1:] {
		names = append(names, "-"+string(r))
	}
	return names
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
