package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// HostSandbox runs allowlisted commands on the host with a scrubbed environment.
type HostSandbox struct {
	config  Config
	allowed map[string]bool
	logger  zerolog.Logger
}

// NewHostSandbox creates a new host-based sandbox
func NewHostSandbox(config Config, logger zerolog.Logger) (*HostSandbox, error) {
	if err := ValidateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	allowed := make(map[string]bool, len(config.AllowedCommands))
	for _, c := range config.AllowedCommands {
		allowed[c] = true
	}
	if config.CommandPolicies == nil {
		config.CommandPolicies = DefaultCommandPolicies()
	}

	// compare against real locations so symlinked roots still match
	fs := &config.FilesystemAccess
	fs.AllowedPaths = resolveAll(fs.AllowedPaths)
	fs.DeniedPaths = resolveAll(fs.DeniedPaths)

	return &HostSandbox{config: config, allowed: allowed, logger: logger}, nil
}

// Config returns the sandbox configuration
func (h *HostSandbox) Config() Config {
	return h.config
}

// Execute runs a command in the sandbox
func (h *HostSandbox) Execute(ctx context.Context, req ExecuteRequest) (ExecuteResult, error) {
	if !h.allowed[req.Command] || strings.ContainsAny(req.Command, `/\`) {
		return ExecuteResult{}, fmt.Errorf("%w: %s", ErrCommandNotAllowed, req.Command)
	}

	if policy, ok := h.config.CommandPolicies[req.Command]; ok {
		if err := policy.check(req.Command, req.Args); err != nil {
			return ExecuteResult{}, err
		}
	}

	if err := h.checkFilesystemAccess(req.WorkingDir); err != nil {
		return ExecuteResult{}, err
	}
	if err := h.checkArgs(req.WorkingDir, req.Args); err != nil {
		return ExecuteResult{}, err
	}

	timeout := req.Timeout
	if timeout == 0 {
		timeout = h.config.ResourceLimits.Timeout
	}
	execCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(execCtx, req.Command, req.Args...)
	cmd.Dir = req.WorkingDir
	cmd.Env = h.buildEnvironment(req.Env)

	stdout := &limitedBuffer{limit: h.config.ResourceLimits.MaxOutputBytes}
	stderr := &limitedBuffer{limit: h.config.ResourceLimits.MaxOutputBytes}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	start := time.Now()
	err := cmd.Run()
	duration := time.Since(start)

	result := ExecuteResult{
		Stdout:    stdout.Bytes(),
		Stderr:    stderr.Bytes(),
		Duration:  duration,
		Truncated: stdout.truncated || stderr.truncated,
	}

	if ctxErr := execCtx.Err(); ctxErr != nil {
		result.ExitCode = -1
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		return result, ErrExecutionTimeout
	}

	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return result, fmt.Errorf("failed to run %s: %w", req.Command, err)
		}
		result.ExitCode = exitErr.ExitCode()
	}

	h.logger.Debug().
		Str("command", req.Command).
		Strs("args", req.Args).
		Int("exit_code", result.ExitCode).
		Dur("duration", duration).
		Msg("Command executed in sandbox")

	return result, nil
}

// checkArgs applies the filesystem rules to every argument that names a
// path, relative ones resolved against dir. Flag values ("--file=x") count.
func (h *HostSandbox) checkArgs(dir string, args []string) error {
	for _, arg := range args {
		value := arg
		if strings.HasPrefix(arg, "-") {
			i := strings.IndexByte(arg, '=')
			if i < 0 {
				continue
			}
			value = arg[i+1:]
		}
		if value == "" {
			continue
		}
		if strings.HasPrefix(value, "~") {
			return fmt.Errorf("%w: %s", ErrFilesystemAccessDenied, arg)
		}

		path := value
		if !filepath.IsAbs(path) {
			path = filepath.Join(dir, path)
		}
		if !looksLikePath(value) {
			// plain words only matter when they name an existing entry
			if _, err := os.Lstat(path); err != nil {
				continue
			}
		}
		if err := h.checkFilesystemAccess(path); err != nil {
			return fmt.Errorf("%w: %s", ErrFilesystemAccessDenied, arg)
		}
	}
	return nil
}

func looksLikePath(arg string) bool {
	return strings.ContainsAny(arg, `/\`) || arg == "." || arg == ".."
}

// checkFilesystemAccess checks if a path is allowed. Symlinks are followed
// before the check.
func (h *HostSandbox) checkFilesystemAccess(path string) error {
	if path == "" {
		return nil
	}

	cleanPath, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("%w: %s", ErrFilesystemAccessDenied, path)
	}
	cleanPath = resolveExisting(cleanPath)

	for _, denied := range h.config.FilesystemAccess.DeniedPaths {
		if withinDir(cleanPath, denied) {
			return fmt.Errorf("%w: %s", ErrFilesystemAccessDenied, path)
		}
	}

	if len(h.config.FilesystemAccess.AllowedPaths) == 0 {
		return nil
	}
	for _, allowed := range h.config.FilesystemAccess.AllowedPaths {
		if withinDir(cleanPath, allowed) {
			return nil
		}
	}

	return fmt.Errorf("%w: %s", ErrFilesystemAccessDenied, path)
}

// resolveExisting follows symlinks in the longest existing prefix of path.
func resolveExisting(path string) string {
	rest := ""
	for cur := path; ; {
		if resolved, err := filepath.EvalSymlinks(cur); err == nil {
			return filepath.Join(resolved, rest)
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return path
		}
		rest = filepath.Join(filepath.Base(cur), rest)
		cur = parent
	}
}

func resolveAll(paths []string) []string {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if abs, err := filepath.Abs(p); err == nil {
			p = resolveExisting(abs)
		}
		out = append(out, p)
	}
	return out
}

func withinDir(path, dir string) bool {
	dir = filepath.Clean(dir)
	return path == dir || strings.HasPrefix(path, dir+string(filepath.Separator))
}

// buildEnvironment starts from a minimal environment and adds the request's variables.
func (h *HostSandbox) buildEnvironment(env map[string]string) []string {
	result := []string{
		"PATH=/usr/local/bin:/usr/bin:/bin",
		"HOME=/tmp",
		"LANG=C.UTF-8",
	}
	for key, value := range env {
		result = append(result, fmt.Sprintf("%s=%s", key, value))
	}
	return result
}

type limitedBuffer struct {
	buf       bytes.Buffer
	limit     int
	truncated bool
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	if b.limit <= 0 {
		return b.buf.Write(p)
	}
	room := b.limit - b.buf.Len()
	if room <= 0 {
		b.truncated = true
		return len(p), nil
	}
	if len(p) > room {
		b.buf.Write(p[:room])
		b.truncated = true
		return len(p), nil
	}
	return b.buf.Write(p)
}

func (b *limitedBuffer) Bytes() []byte {
	return b.buf.Bytes()
}
