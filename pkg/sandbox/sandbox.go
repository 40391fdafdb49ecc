package sandbox

import (
	"context"
	"time"
)

// Config defines the capability surface of a sandbox.
type Config struct {
	// AllowedCommands lists executable names that may run. Empty denies everything.
	AllowedCommands []string `json:"allowed_commands"`

	// CommandPolicies restricts the arguments of individual commands. Nil
	// selects DefaultCommandPolicies.
	CommandPolicies map[string]CommandPolicy `json:"command_policies"`

	// ResourceLimits defines resource constraints
	ResourceLimits ResourceLimits `json:"resource_limits"`

	// FilesystemAccess defines filesystem access rules
	FilesystemAccess FilesystemAccess `json:"filesystem_access"`
}

// ResourceLimits defines resource constraints for sandboxed execution
type ResourceLimits struct {
	// Timeout limits execution time
	Timeout time.Duration `json:"timeout"`

	// MaxOutputBytes caps captured stdout and stderr each. 0 means unlimited.
	MaxOutputBytes int `json:"max_output_bytes"`
}

// FilesystemAccess defines filesystem access rules
type FilesystemAccess struct {
	// AllowedPaths lists directories a command may use as working directory
	// or reach through its arguments
	AllowedPaths []string `json:"allowed_paths"`

	// DeniedPaths lists paths that cannot be accessed
	DeniedPaths []string `json:"denied_paths"`
}

// ExecuteRequest represents a sandbox execution request
type ExecuteRequest struct {
	Command    string            `json:"command"`
	Args       []string          `json:"args"`
	Env        map[string]string `json:"env"`
	WorkingDir string            `json:"working_dir"`
	Timeout    time.Duration     `json:"timeout"`
}

// ExecuteResult represents a sandbox execution result
type ExecuteResult struct {
	Stdout    []byte        `json:"stdout"`
	Stderr    []byte        `json:"stderr"`
	ExitCode  int           `json:"exit_code"`
	Duration  time.Duration `json:"duration"`
	Truncated bool          `json:"truncated"`
}

// Sandbox runs commands inside a restricted capability surface.
type Sandbox interface {
	Execute(ctx context.Context, req ExecuteRequest) (ExecuteResult, error)
}

// DefaultConfig returns a default sandbox configuration
func DefaultConfig() Config {
	return Config{
		AllowedCommands: []string{"ls", "pwd", "echo", "cat", "grep", "find", "wc", "head", "tail"},
		CommandPolicies: DefaultCommandPolicies(),
		ResourceLimits: ResourceLimits{
			Timeout:        30 * time.Second,
			MaxOutputBytes: 64 * 1024,
		},
		FilesystemAccess: FilesystemAccess{
			AllowedPaths: []string{"/tmp"},
			DeniedPaths:  []string{"/etc", "/sys", "/proc", "/root"},
		},
	}
}

// ValidateConfig validates a sandbox configuration
func ValidateConfig(cfg Config) error {
	if cfg.ResourceLimits.Timeout < 0 {
		return ErrInvalidTimeout
	}
	if cfg.ResourceLimits.MaxOutputBytes < 0 {
		return ErrInvalidOutputLimit
	}
	return nil
}
