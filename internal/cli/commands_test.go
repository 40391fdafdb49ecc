package cli

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigureCommand(t *testing.T) {
	t.Run("help text", func(t *testing.T) {
		output, err := executeCommand(t, "", "configure", "--help")
		require.NoError(t, err)
		assert.Contains(t, output, "interactive configuration wizard")
	})

	t.Run("saves the wizard answers", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "zombiecoder.yaml")
		// anthropic key, openai key, local url, local model, cache, workspace, log level
		answers := "\n\n\nqwen2.5\n\n\nwarn\n"

		output, err := executeCommand(t, answers, "configure", "--config", path)
		require.NoError(t, err)
		assert.Contains(t, output, "Configuration saved to: "+path)
		assert.FileExists(t, path)

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Contains(t, string(data), "qwen2.5")
		assert.Contains(t, string(data), "${ANTHROPIC_API_KEY}")
	})
}

func TestStartCommand(t *testing.T) {
	output, err := executeCommand(t, "", "start", "--help")
	require.NoError(t, err)
	assert.Contains(t, output, "Start the ZombieCoder daemon service")
}

func TestStopCommand(t *testing.T) {
	t.Run("help text", func(t *testing.T) {
		output, err := executeCommand(t, "", "stop", "--help")
		require.NoError(t, err)
		assert.Contains(t, output, "Stop the ZombieCoder daemon service")
		assert.Contains(t, output, "timeout")
	})

	t.Run("daemon not running", func(t *testing.T) {
		output, err := executeCommand(t, "", "stop", "--config", writeTestConfig(t))
		require.NoError(t, err)
		assert.Contains(t, output, "Daemon is not running")
	})
}

func TestStatusCommand(t *testing.T) {
	t.Run("text", func(t *testing.T) {
		output, err := executeCommand(t, "", "status", "--config", writeTestConfig(t), "--json=false")
		require.NoError(t, err)

		assert.Contains(t, output, "Status: stopped")
		assert.Contains(t, output, "mock")
		assert.Contains(t, output, "coding_agent")
		assert.Contains(t, output, "calculator")
	})

	t.Run("json", func(t *testing.T) {
		output, err := executeCommand(t, "", "status", "--config", writeTestConfig(t), "--json")
		require.NoError(t, err)

		assert.Contains(t, output, `"running": false`)
		assert.Contains(t, output, `"retrieval_enabled": true`)
	})
}

func TestAskCommand(t *testing.T) {
	t.Run("prints the reply", func(t *testing.T) {
		output, err := executeCommand(t, "", "ask", "--config", writeTestConfig(t),
			"--agent", "coding_agent", "--session", "", "--verbose=false", "what", "is", "a", "goroutine?")
		require.NoError(t, err)
		assert.Equal(t, "Hello from mock\n", output)
	})

	t.Run("verbose", func(t *testing.T) {
		output, err := executeCommand(t, "", "ask", "--config", writeTestConfig(t),
			"--agent", "virtual_sir", "--session", "s1", "--verbose", "hello")
		require.NoError(t, err)
		assert.Contains(t, output, "provider=mock")
		assert.Contains(t, output, "session=s1")
		assert.Contains(t, output, "fingerprint=")
	})

	t.Run("unknown agent", func(t *testing.T) {
		_, err := executeCommand(t, "", "ask", "--config", writeTestConfig(t),
			"--agent", "nobody", "--session", "", "--verbose=false", "hello")
		assert.Error(t, err)
	})

	t.Run("requires a question", func(t *testing.T) {
		_, err := executeCommand(t, "", "ask", "--config", writeTestConfig(t))
		assert.Error(t, err)
	})
}

func TestChatCommand(t *testing.T) {
	output, err := executeCommand(t, "hello\n\n/reset\nagain\n/exit\n", "chat", "--config", writeTestConfig(t), "--agent", "virtual_sir")
	require.NoError(t, err)

	assert.Contains(t, output, "Virtual Sir: Hello, student.")
	assert.Contains(t, output, "Virtual Sir: Hello from mock")
	assert.Contains(t, output, "Session reset.")
}

func TestIndexCommand(t *testing.T) {
	docs := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(docs, "channels.md"), []byte("Channels let goroutines communicate by passing values."), 0644))

	output, err := executeCommand(t, "", "index", "--config", writeTestConfig(t), docs)
	require.NoError(t, err)
	assert.Contains(t, output, "Indexed 1 files from "+docs)
}

func TestAgentsCommand(t *testing.T) {
	path := writeTestConfig(t)

	t.Run("list", func(t *testing.T) {
		output, err := executeCommand(t, "", "agents", "list", "--config", path)
		require.NoError(t, err)
		assert.Contains(t, output, "coding_agent")
		assert.Contains(t, output, "virtual_sir")
	})

	t.Run("export", func(t *testing.T) {
		output, err := executeCommand(t, "", "agents", "export", "--config", path)
		require.NoError(t, err)
		assert.Contains(t, output, "agents:")
		assert.Contains(t, output, "id: virtual_sir")
	})

	t.Run("deactivate and activate", func(t *testing.T) {
		output, err := executeCommand(t, "", "agents", "deactivate", "--config", path, "virtual_sir")
		require.NoError(t, err)
		assert.Equal(t, "Agent virtual_sir deactivated.\n", output)

		output, err = executeCommand(t, "", "agents", "list", "--config", path)
		require.NoError(t, err)
		assert.Regexp(t, `virtual_sir\s+Virtual Sir\s+inactive`, output)
		assert.Regexp(t, `coding_agent\s+Coding Agent\s+active`, output)

		_, err = executeCommand(t, "", "ask", "--config", path,
			"--agent", "virtual_sir", "--session", "", "--verbose=false", "hello")
		assert.Error(t, err)

		output, err = executeCommand(t, "", "agents", "activate", "--config", path, "virtual_sir")
		require.NoError(t, err)
		assert.Equal(t, "Agent virtual_sir activated.\n", output)

		_, err = executeCommand(t, "", "ask", "--config", path,
			"--agent", "virtual_sir", "--session", "", "--verbose=false", "hello")
		assert.NoError(t, err)
	})

	t.Run("unknown agent", func(t *testing.T) {
		_, err := executeCommand(t, "", "agents", "deactivate", "--config", path, "ghost")
		assert.Error(t, err)
	})
}

func TestMetricsCommand(t *testing.T) {
	t.Run("print", func(t *testing.T) {
		output, err := executeCommand(t, "", "metrics", "--config", writeTestConfig(t))
		require.NoError(t, err)
		assert.Contains(t, output, "zombiecoder_sessions_active")
	})

	t.Run("reset", func(t *testing.T) {
		output, err := executeCommand(t, "", "metrics", "--config", writeTestConfig(t), "--reset")
		require.NoError(t, err)
		assert.Equal(t, "Metrics reset.\n", output)
	})
}

func TestCacheCommand(t *testing.T) {
	t.Run("invalidate", func(t *testing.T) {
		output, err := executeCommand(t, "", "cache", "invalidate", "--config", writeTestConfig(t), "abc", "def")
		require.NoError(t, err)
		assert.Equal(t, "Invalidated abc\nInvalidated def\n", output)
	})

	t.Run("requires a fingerprint", func(t *testing.T) {
		_, err := executeCommand(t, "", "cache", "invalidate", "--config", writeTestConfig(t))
		assert.Error(t, err)
	})
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		name     string
		duration time.Duration
		expected string
	}{
		{"seconds only", 45 * time.Second, "45s"},
		{"minutes and seconds", 5*time.Minute + 30*time.Second, "5m30s"},
		{"hours, minutes, seconds", 2*time.Hour + 15*time.Minute + 45*time.Second, "2h15m45s"},
		{"zero", 0, "0s"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := formatDuration(tt.duration)
			assert.Equal(t, tt.expected, result)
		})
	}
}
