package builtin

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/harun/zombiecoder/pkg/tools"
)

// NewFileReader returns a tool that reads files under the workspace root.
func NewFileReader(opts Options) tools.Tool {
	opts = withFileDefaults(opts)
	return &tools.Func{
		Name: "file_reader",
		Desc: "Read a text file from the workspace.",
		Params: []tools.Parameter{
			{Name: "path", Type: "string", Description: "File path relative to the workspace", Required: true},
		},
		Caps: []tools.Capability{tools.CapabilityFilesystemRead},
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			pathValue := stringArg(args, "path")
			if err := checkExtension(pathValue, opts.AllowedExtensions); err != nil {
				return nil, err
			}
			target, err := resolvePathInWorkspace(opts.WorkspaceRoot, pathValue)
			if err != nil {
				return nil, err
			}

			info, err := os.Stat(target)
			if err != nil {
				if os.IsNotExist(err) {
					return nil, fmt.Errorf("file not found: %s", pathValue)
				}
				return nil, err
			}
			if info.Size() > opts.MaxFileBytes {
				return nil, fmt.Errorf("file too large: %d bytes (max %d)", info.Size(), opts.MaxFileBytes)
			}

			f, err := os.Open(target)
			if err != nil {
				return nil, err
			}
			defer f.Close()

			data, err := io.ReadAll(io.LimitReader(f, opts.MaxFileBytes))
			if err != nil {
				return nil, err
			}

			return map[string]interface{}{
				"path":    pathValue,
				"content": string(data),
				"bytes":   len(data),
			}, nil
		},
	}
}

// NewFileWriter returns a tool that writes files inside the writable directories.
func NewFileWriter(opts Options) tools.Tool {
	opts = withFileDefaults(opts)
	return &tools.Func{
		Name: "file_writer",
		Desc: "Write a text file inside an allowed directory.",
		Params: []tools.Parameter{
			{Name: "path", Type: "string", Description: "Destination file path", Required: true},
			{Name: "content", Type: "string", Description: "File content", Required: true},
		},
		Caps: []tools.Capability{tools.CapabilityFilesystemWrite},
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			pathValue := stringArg(args, "path")
			content := stringArg(args, "content")

			if err := checkExtension(pathValue, opts.AllowedExtensions); err != nil {
				return nil, err
			}
			if int64(len(content)) > opts.MaxFileBytes {
				return nil, fmt.Errorf("content too large: %d bytes (max %d)", len(content), opts.MaxFileBytes)
			}

			target, err := resolveWritablePath(opts, pathValue)
			if err != nil {
				return nil, err
			}

			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return nil, err
			}
			if err := os.WriteFile(target, []byte(content), 0644); err != nil {
				return nil, err
			}

			return map[string]interface{}{
				"path":  target,
				"bytes": len(content),
			}, nil
		},
	}
}

func withFileDefaults(opts Options) Options {
	if len(opts.AllowedExtensions) == 0 {
		opts.AllowedExtensions = DefaultExtensions
	}
	if opts.MaxFileBytes <= 0 {
		opts.MaxFileBytes = defaultMaxFileBytes
	}
	return opts
}

func checkExtension(pathValue string, allowed []string) error {
	ext := strings.ToLower(filepath.Ext(pathValue))
	for _, a := range allowed {
		if ext == a {
			return nil
		}
	}
	return fmt.Errorf("file type %q not allowed (allowed: %s)", ext, strings.Join(allowed, ", "))
}

func resolvePathInWorkspace(workspaceRoot, pathValue string) (string, error) {
	pathValue = strings.TrimSpace(pathValue)
	if pathValue == "" {
		return "", fmt.Errorf("path is required")
	}
	if strings.Contains(pathValue, "..") || strings.Contains(pathValue, "://") {
		return "", fmt.Errorf("path %q is not allowed", pathValue)
	}

	root, err := filepath.Abs(workspaceRoot)
	if err != nil {
		return "", err
	}
	root = resolveSymlinks(root)
	candidate := pathValue
	if !filepath.IsAbs(candidate) {
		candidate = filepath.Join(root, candidate)
	}
	candidate = resolveSymlinks(filepath.Clean(candidate))

	if !within(candidate, root) {
		return "", fmt.Errorf("path %q is outside workspace root", pathValue)
	}
	return candidate, nil
}

func resolveWritablePath(opts Options, pathValue string) (string, error) {
	pathValue = strings.TrimSpace(pathValue)
	if pathValue == "" {
		return "", fmt.Errorf("path is required")
	}
	if strings.Contains(pathValue, "..") {
		return "", fmt.Errorf("directory traversal not allowed")
	}

	candidate := pathValue
	if !filepath.IsAbs(candidate) && opts.WorkspaceRoot != "" {
		candidate = filepath.Join(opts.WorkspaceRoot, candidate)
	}
	candidate, err := filepath.Abs(filepath.Clean(candidate))
	if err != nil {
		return "", err
	}
	candidate = resolveSymlinks(candidate)

	for _, dir := range opts.WritableDirs {
		abs, err := filepath.Abs(dir)
		if err != nil {
			continue
		}
		abs = resolveSymlinks(abs)
		if within(candidate, abs) && candidate != abs {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("writing to %q not allowed (allowed: %s)", pathValue, strings.Join(opts.WritableDirs, ", "))
}

// resolveSymlinks follows symlinks in the longest existing prefix of an
// absolute path, so a link inside the workspace cannot lead out of it.
func resolveSymlinks(path string) string {
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

func within(path, dir string) bool {
	return path == dir || strings.HasPrefix(path, dir+string(filepath.Separator))
}
