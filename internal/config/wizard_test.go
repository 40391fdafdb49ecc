package config

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWizardRun(t *testing.T) {
	input := strings.Join([]string{
		"bad-key",    // anthropic, rejected
		"sk-ant-xyz", // anthropic
		"",           // openai keeps the reference
		"",           // local base url
		"qwen2.5",    // local model
		"redis",      // cache backend
		"",           // default redis url
		"/srv/work",  // workspace
		"debug",      // log level
	}, "\n") + "\n"

	var out bytes.Buffer
	cfg, err := NewWizardWithIO(strings.NewReader(input), &out).Run()
	require.NoError(t, err)

	assert.Equal(t, "sk-ant-xyz", cfg.Providers[0].APIKey)
	assert.Equal(t, "${OPENAI_API_KEY}", cfg.Providers[1].APIKey)
	assert.Equal(t, "http://localhost:11434/v1", cfg.Providers[2].BaseURL)
	assert.Equal(t, "qwen2.5", cfg.Providers[2].Model)
	assert.Equal(t, "redis", cfg.Cache.Backend)
	assert.Equal(t, "redis://localhost:6379/0", cfg.Cache.RedisURL)
	assert.Equal(t, "/srv/work", cfg.Tools.WorkspaceDir)
	assert.Equal(t, "debug", cfg.Logging.Level)

	assert.Contains(t, out.String(), "invalid Anthropic API key format")
	assert.Contains(t, out.String(), "Configuration complete!")
}

func TestWizardRun_InputEnds(t *testing.T) {
	_, err := NewWizardWithIO(strings.NewReader(""), &bytes.Buffer{}).Run()
	assert.Error(t, err)
}
