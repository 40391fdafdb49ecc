package cli

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"
)

const testConfig = `data_dir: %s
providers:
  - id: mock
    kind: static
    responses: ["Hello from mock"]
agents:
  - id: coding_agent
    name: Coding Agent
    provider_preference: [mock]
    allowed_tools: [calculator]
  - id: virtual_sir
    name: Virtual Sir
    provider_preference: [mock]
    persona:
      greeting: Hello, student.
logging:
  level: error
  console: false
`

// writeTestConfig writes a config backed by a canned provider and returns its path.
func writeTestConfig(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "zombiecoder.yaml")
	data := strings.Replace(testConfig, "%s", filepath.Join(dir, "data"), 1)
	require.NoError(t, os.WriteFile(path, []byte(data), 0644))
	return path
}

// executeCommand runs the root command with args and returns its output.
func executeCommand(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()

	cmd := GetRootCmd()
	resetFlags(cmd)

	output := &bytes.Buffer{}
	cmd.SetOut(output)
	cmd.SetErr(io.Discard)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)

	err := cmd.Execute()
	return output.String(), err
}

// hasCommand reports whether the root command has a child named name.
func hasCommand(name string) bool {
	for _, c := range GetRootCmd().Commands() {
		if c.Name() == name {
			return true
		}
	}
	return false
}

// resetFlags restores every flag to its default, since cobra keeps parsed
// values between executions of the same command tree.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}
